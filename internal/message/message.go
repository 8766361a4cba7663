package message

import (
	"context"
	"time"

	"github.com/averlane/parley/internal/identity"
)

type ID string

type Type string

const (
	TypeIndividual Type = "individual"
	TypeGroup      Type = "group"
)

// Message is one chat message. The body is opaque ciphertext; the
// server never inspects it. Receiver is an email for individual
// messages and a group name for group messages. Immutable once routed.
type Message struct {
	ID         ID
	Sender     string
	Receiver   string
	Body       []byte
	SenderRole identity.Role
	Type       Type
	SentAt     time.Time
}

// Filter scopes a history read to what the caller may see: messages
// they sent, messages addressed to them, and group messages addressed
// to their role group.
type Filter struct {
	Email string
	Role  identity.Role
}

// Store is the durable message log. Persist must commit before the
// router broadcasts; a persisted message is never rolled back on
// broadcast failure.
type Store interface {
	Persist(ctx context.Context, msg Message) error
	Fetch(ctx context.Context, filter Filter) ([]Message, error)
}
