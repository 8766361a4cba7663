package userstore

import (
	"context"
	"errors"

	"github.com/averlane/parley/internal/identity"
)

var (
	ErrNotFound       = errors.New("user record not found")
	ErrConflict       = errors.New("revision conflict")
	ErrDuplicateEmail = errors.New("email already registered")
)

// UserRecord holds the profile fields of a registered user. The
// CredentialHash is an opaque reference for the identity verifier; it
// never leaves the auth layer.
type UserRecord struct {
	FullName       string
	Email          string
	CredentialHash string
	Role           identity.Role
	Approved       bool
	LoggedIn       bool
}

// Stored wraps a UserRecord with its storage envelope. Rev advances on
// every successful mutation; any mutation presenting a stale Rev fails
// with ErrConflict.
type Stored struct {
	ID  string
	Rev int64
	UserRecord
}

// Summary is the public projection of a record.
type Summary struct {
	FullName string
	Email    string
	Approved bool
}

// Store is the user record document store. It is the sole source of
// truth for approval state; callers re-read before every conditional
// mutation rather than caching records across calls.
type Store interface {
	Create(ctx context.Context, rec UserRecord) (string, error)
	FetchByID(ctx context.Context, id string) (Stored, error)
	FetchByEmail(ctx context.Context, email string) (Stored, error)
	FetchPending(ctx context.Context) ([]Stored, error)
	FetchAll(ctx context.Context) ([]Summary, error)

	// CASUpdate persists rec if the stored revision still equals
	// expectedRev, returning the record at its new revision.
	CASUpdate(ctx context.Context, rec Stored, expectedRev int64) (Stored, error)

	// Delete removes the record if the revision matches. Removal is
	// permanent; there is no soft delete.
	Delete(ctx context.Context, id string, expectedRev int64) error
}
