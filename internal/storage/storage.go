package storage

import (
	"context"

	"github.com/averlane/parley/internal/message"
	"github.com/averlane/parley/internal/userstore"
)

type Store interface {
	Close(ctx context.Context) error
	Migrate(ctx context.Context) error
	Messages() message.Store
	UserRecords() userstore.Store
}
