package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/averlane/parley/internal/identity"
	"github.com/averlane/parley/internal/userstore"
)

var ErrInvalidInput = errors.New("invalid input")

// Announcer publishes the admission notification after a successful
// approval. The router satisfies this.
type Announcer interface {
	AnnounceUserAdded(fullName, email string)
}

// Service drives a user record through its admission lifecycle:
// Pending to Approved, or Pending to Rejected with the record removed.
// Both transitions are guarded by the store's revision CAS, so of two
// racing calls on the same revision exactly one wins; the loser sees
// ErrConflict and mutates nothing. Conflicts are surfaced, never
// retried here: the operator re-fetches and decides again.
type Service struct {
	store     userstore.Store
	announcer Announcer
}

func NewService(store userstore.Store, announcer Announcer) *Service {
	return &Service{store: store, announcer: announcer}
}

func (s *Service) Pending(ctx context.Context) ([]userstore.Stored, error) {
	recs, err := s.store.FetchPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	return recs, nil
}

// Approve marks the record approved with the granted role. The record
// must still be pending at exactly expectedRev. An already-open
// connection keeps its original role; the new role applies from the
// next login.
func (s *Service) Approve(ctx context.Context, id string, expectedRev int64, newRole identity.Role) (userstore.Stored, error) {
	if id == "" || !newRole.Valid() {
		return userstore.Stored{}, ErrInvalidInput
	}

	rec, err := s.store.FetchByID(ctx, id)
	if err != nil {
		return userstore.Stored{}, err
	}
	if rec.Rev != expectedRev || rec.Approved {
		return userstore.Stored{}, userstore.ErrConflict
	}

	rec.Approved = true
	rec.Role = newRole

	updated, err := s.store.CASUpdate(ctx, rec, expectedRev)
	if err != nil {
		return userstore.Stored{}, err
	}

	if s.announcer != nil {
		s.announcer.AnnounceUserAdded(updated.FullName, updated.Email)
	}
	return updated, nil
}

// Reject deletes the record permanently. Rejecting an approved record
// is a conflict, a missing record is not found; neither silently
// succeeds.
func (s *Service) Reject(ctx context.Context, id string, expectedRev int64) error {
	if id == "" {
		return ErrInvalidInput
	}

	rec, err := s.store.FetchByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Rev != expectedRev || rec.Approved {
		return userstore.ErrConflict
	}

	return s.store.Delete(ctx, id, expectedRev)
}
