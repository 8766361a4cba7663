package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/averlane/parley/internal/identity"
	"github.com/averlane/parley/internal/userstore"
	"github.com/google/uuid"
)

type fakeUserStore struct {
	recs map[string]userstore.Stored
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{recs: make(map[string]userstore.Stored)}
}

func (s *fakeUserStore) Create(_ context.Context, rec userstore.UserRecord) (string, error) {
	for _, existing := range s.recs {
		if existing.Email == rec.Email {
			return "", userstore.ErrDuplicateEmail
		}
	}
	id := uuid.NewString()
	s.recs[id] = userstore.Stored{ID: id, Rev: 1, UserRecord: rec}
	return id, nil
}

func (s *fakeUserStore) FetchByID(_ context.Context, id string) (userstore.Stored, error) {
	rec, ok := s.recs[id]
	if !ok {
		return userstore.Stored{}, userstore.ErrNotFound
	}
	return rec, nil
}

func (s *fakeUserStore) FetchByEmail(_ context.Context, email string) (userstore.Stored, error) {
	for _, rec := range s.recs {
		if rec.Email == email {
			return rec, nil
		}
	}
	return userstore.Stored{}, userstore.ErrNotFound
}

func (s *fakeUserStore) FetchPending(_ context.Context) ([]userstore.Stored, error) {
	var pending []userstore.Stored
	for _, rec := range s.recs {
		if !rec.Approved {
			pending = append(pending, rec)
		}
	}
	return pending, nil
}

func (s *fakeUserStore) FetchAll(_ context.Context) ([]userstore.Summary, error) {
	var all []userstore.Summary
	for _, rec := range s.recs {
		all = append(all, userstore.Summary{FullName: rec.FullName, Email: rec.Email, Approved: rec.Approved})
	}
	return all, nil
}

func (s *fakeUserStore) CASUpdate(_ context.Context, rec userstore.Stored, expectedRev int64) (userstore.Stored, error) {
	current, ok := s.recs[rec.ID]
	if !ok {
		return userstore.Stored{}, userstore.ErrNotFound
	}
	if current.Rev != expectedRev {
		return userstore.Stored{}, userstore.ErrConflict
	}
	rec.Rev = current.Rev + 1
	s.recs[rec.ID] = rec
	return rec, nil
}

func (s *fakeUserStore) Delete(_ context.Context, id string, expectedRev int64) error {
	current, ok := s.recs[id]
	if !ok {
		return userstore.ErrNotFound
	}
	if current.Rev != expectedRev {
		return userstore.ErrConflict
	}
	delete(s.recs, id)
	return nil
}

const testPassword = "correct horse battery"

func registerUser(t *testing.T, svc *Service, store *fakeUserStore, email string, approved bool) userstore.Stored {
	t.Helper()
	id, err := svc.Register(context.Background(), "Test User", email, testPassword, identity.RoleUser)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	rec := store.recs[id]
	if approved {
		rec.Approved = true
		rec.Rev++
		store.recs[id] = rec
	}
	return store.recs[id]
}

func TestRegisterCreatesPendingRecord(t *testing.T) {
	store := newFakeUserStore()
	svc := NewService(store)

	id, err := svc.Register(context.Background(), "Alice", "A@X.com", testPassword, identity.RoleUser)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	rec := store.recs[id]
	if rec.Approved {
		t.Error("new registration is approved, want pending")
	}
	if rec.Email != "a@x.com" {
		t.Errorf("email = %q, want normalized a@x.com", rec.Email)
	}
	if rec.CredentialHash == testPassword || rec.CredentialHash == "" {
		t.Error("credential stored unhashed")
	}

	pending, err := store.FetchPending(context.Background())
	if err != nil {
		t.Fatalf("FetchPending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Email != "a@x.com" {
		t.Errorf("FetchPending() = %+v, want the new record", pending)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(newFakeUserStore())

	cases := []struct {
		name, fullName, email, password string
		role                            identity.Role
	}{
		{"empty name", "", "a@x.com", testPassword, identity.RoleUser},
		{"empty email", "Alice", "", testPassword, identity.RoleUser},
		{"short password", "Alice", "a@x.com", "short", identity.RoleUser},
		{"bad role", "Alice", "a@x.com", testPassword, "Root"},
	}
	for _, tc := range cases {
		if _, err := svc.Register(context.Background(), tc.fullName, tc.email, tc.password, tc.role); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: Register() error = %v, want ErrInvalidInput", tc.name, err)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	store := newFakeUserStore()
	svc := NewService(store)

	registerUser(t, svc, store, "a@x.com", false)
	if _, err := svc.Register(context.Background(), "Other", "a@x.com", testPassword, identity.RoleUser); !errors.Is(err, userstore.ErrDuplicateEmail) {
		t.Errorf("Register(duplicate) error = %v, want ErrDuplicateEmail", err)
	}
}

func TestLogin(t *testing.T) {
	store := newFakeUserStore()
	svc := NewService(store)

	rec := registerUser(t, svc, store, "a@x.com", true)

	session, err := svc.Login(context.Background(), "a@x.com", testPassword)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.Token == "" {
		t.Error("Login() returned empty token")
	}
	if session.Identity.Email != "a@x.com" || session.Identity.Role != identity.RoleUser {
		t.Errorf("session identity = %+v", session.Identity)
	}
	if !store.recs[rec.ID].LoggedIn {
		t.Error("LoggedIn flag not set after login")
	}

	id, err := svc.Verify(session.Token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.Email != "a@x.com" {
		t.Errorf("Verify() identity = %+v", id)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	store := newFakeUserStore()
	svc := NewService(store)
	registerUser(t, svc, store, "a@x.com", true)

	if _, err := svc.Login(context.Background(), "a@x.com", "wrong password!"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Login(wrong password) error = %v, want ErrUnauthenticated", err)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())

	if _, err := svc.Login(context.Background(), "nobody@x.com", testPassword); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Login(unknown) error = %v, want ErrUnauthenticated", err)
	}
}

func TestLoginUnapproved(t *testing.T) {
	store := newFakeUserStore()
	svc := NewService(store)
	registerUser(t, svc, store, "a@x.com", false)

	if _, err := svc.Login(context.Background(), "a@x.com", testPassword); !errors.Is(err, ErrNotApproved) {
		t.Errorf("Login(unapproved) error = %v, want ErrNotApproved", err)
	}
}

func TestLoginTwice(t *testing.T) {
	store := newFakeUserStore()
	svc := NewService(store)
	registerUser(t, svc, store, "a@x.com", true)

	if _, err := svc.Login(context.Background(), "a@x.com", testPassword); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := svc.Login(context.Background(), "a@x.com", testPassword); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Errorf("second Login() error = %v, want ErrAlreadyLoggedIn", err)
	}
}

// conflictOnceStore fails the next CASUpdate calls with ErrConflict.
type conflictOnceStore struct {
	*fakeUserStore
	conflicts int
}

func (s *conflictOnceStore) CASUpdate(ctx context.Context, rec userstore.Stored, expectedRev int64) (userstore.Stored, error) {
	if s.conflicts > 0 {
		s.conflicts--
		return userstore.Stored{}, userstore.ErrConflict
	}
	return s.fakeUserStore.CASUpdate(ctx, rec, expectedRev)
}

func TestLoginAfterRestart(t *testing.T) {
	store := newFakeUserStore()
	first := NewService(store)
	rec := registerUser(t, first, store, "a@x.com", true)

	if _, err := first.Login(context.Background(), "a@x.com", testPassword); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	// A fresh service over the same records has no sessions, as after
	// a process restart. The flag left behind by the old process must
	// not refuse the login.
	restarted := NewService(store)
	session, err := restarted.Login(context.Background(), "a@x.com", testPassword)
	if err != nil {
		t.Fatalf("Login() after restart error = %v", err)
	}
	if _, err := restarted.Verify(session.Token); err != nil {
		t.Fatalf("Verify() after restart error = %v", err)
	}

	// The double-login guard still holds for the live session.
	if _, err := restarted.Login(context.Background(), "a@x.com", testPassword); !errors.Is(err, ErrAlreadyLoggedIn) {
		t.Errorf("concurrent Login() error = %v, want ErrAlreadyLoggedIn", err)
	}

	if err := restarted.Logout(context.Background(), session.Token); err != nil {
		t.Fatalf("Logout() after restart error = %v", err)
	}
	if store.recs[rec.ID].LoggedIn {
		t.Error("LoggedIn flag still set after logout")
	}
}

func TestLoginSupersedesExpiredSession(t *testing.T) {
	store := newFakeUserStore()
	svc := NewService(store)
	registerUser(t, svc, store, "a@x.com", true)

	current := time.Now()
	svc.now = func() time.Time { return current }

	if _, err := svc.Login(context.Background(), "a@x.com", testPassword); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	current = current.Add(svc.tokenTTL + time.Minute)
	if _, err := svc.Login(context.Background(), "a@x.com", testPassword); err != nil {
		t.Errorf("Login() over expired session error = %v, want nil", err)
	}
}

func TestLogoutConflictKeepsToken(t *testing.T) {
	store := &conflictOnceStore{fakeUserStore: newFakeUserStore()}
	svc := NewService(store)
	rec := registerUser(t, svc, store.fakeUserStore, "a@x.com", true)

	session, err := svc.Login(context.Background(), "a@x.com", testPassword)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	store.conflicts = 1
	if err := svc.Logout(context.Background(), session.Token); !errors.Is(err, userstore.ErrConflict) {
		t.Fatalf("Logout() with losing CAS error = %v, want ErrConflict", err)
	}

	// The token survived the failed write, so the retry goes through.
	if _, err := svc.Verify(session.Token); err != nil {
		t.Fatalf("Verify() after failed logout error = %v", err)
	}
	if err := svc.Logout(context.Background(), session.Token); err != nil {
		t.Fatalf("Logout() retry error = %v", err)
	}
	if store.recs[rec.ID].LoggedIn {
		t.Error("LoggedIn flag still set after retried logout")
	}
}

func TestLogout(t *testing.T) {
	store := newFakeUserStore()
	svc := NewService(store)
	rec := registerUser(t, svc, store, "a@x.com", true)

	session, err := svc.Login(context.Background(), "a@x.com", testPassword)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := svc.Logout(context.Background(), session.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if store.recs[rec.ID].LoggedIn {
		t.Error("LoggedIn flag still set after logout")
	}
	if _, err := svc.Verify(session.Token); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Verify(revoked) error = %v, want ErrUnauthenticated", err)
	}

	// Login works again after logout.
	if _, err := svc.Login(context.Background(), "a@x.com", testPassword); err != nil {
		t.Errorf("Login() after logout error = %v", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	store := newFakeUserStore()
	svc := NewService(store)
	registerUser(t, svc, store, "a@x.com", true)

	current := time.Now()
	svc.now = func() time.Time { return current }

	session, err := svc.Login(context.Background(), "a@x.com", testPassword)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	current = current.Add(svc.tokenTTL + time.Minute)
	if _, err := svc.Verify(session.Token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify(expired) error = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	svc := NewService(newFakeUserStore())

	if _, err := svc.Verify(""); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Verify(empty) error = %v, want ErrUnauthenticated", err)
	}
	if _, err := svc.Verify("not-a-token"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Verify(garbage) error = %v, want ErrUnauthenticated", err)
	}
}
