package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/averlane/parley/internal/message"
	"github.com/averlane/parley/internal/userstore"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("db url is required")
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	_ = ctx
	return s.db.Close()
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return NewMigrator(s.db, migrationsFS).Up(ctx)
}

func (s *PostgresStore) Messages() message.Store {
	return &messageStore{db: s.db}
}

func (s *PostgresStore) UserRecords() userstore.Store {
	return &userRecordStore{db: s.db}
}
