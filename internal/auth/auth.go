package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/averlane/parley/internal/identity"
	"github.com/averlane/parley/internal/userstore"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrTokenExpired    = errors.New("token expired")
	ErrNotApproved     = errors.New("account not approved")
	ErrAlreadyLoggedIn = errors.New("already logged in")
)

type Session struct {
	Token     string
	Identity  identity.Identity
	ExpiresAt time.Time
}

// Service is the identity verifier: it owns registration drafts,
// credential checks, and the bearer tokens that bind a verified
// email/role pair to later requests and websocket connects.
type Service struct {
	users    userstore.Store
	tokens   *tokenStore
	now      func() time.Time
	tokenTTL time.Duration
}

func NewService(users userstore.Store) *Service {
	return &Service{
		users:    users,
		tokens:   newTokenStore(),
		now:      time.Now,
		tokenTTL: time.Hour,
	}
}

// Register files an admission request. The draft is stored unapproved;
// the requested role takes effect only if an admin grants it.
func (s *Service) Register(ctx context.Context, fullName, email, password string, role identity.Role) (string, error) {
	fullName = strings.TrimSpace(fullName)
	email = normalizeEmail(email)
	if fullName == "" || email == "" || !role.Valid() {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(password) == "" || len(password) < 8 {
		return "", ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}

	id, err := s.users.Create(ctx, userstore.UserRecord{
		FullName:       fullName,
		Email:          email,
		CredentialHash: string(hash),
		Role:           role,
		Approved:       false,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Login verifies the credential and issues a session token. Unapproved
// accounts are refused, as is a second concurrent login. The LoggedIn
// flag is written back under the record's current revision; losing
// that race surfaces as a conflict rather than a double admission.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidInput
	}

	rec, err := s.users.FetchByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return Session{}, ErrUnauthenticated
		}
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.CredentialHash), []byte(password)) != nil {
		return Session{}, ErrUnauthenticated
	}
	if !rec.Approved {
		return Session{}, ErrNotApproved
	}

	// Refuse a second login only while a live session exists. A set
	// LoggedIn flag with no session is leftover from a halted process
	// (tokens are in-memory and die with it); a verified credential
	// supersedes it instead of locking the account out.
	if rec.LoggedIn && s.tokens.activeFor(s.now(), rec.Email) {
		return Session{}, ErrAlreadyLoggedIn
	}

	if !rec.LoggedIn {
		rec.LoggedIn = true
		if _, err := s.users.CASUpdate(ctx, rec, rec.Rev); err != nil {
			return Session{}, err
		}
	}

	return s.issue(identity.Identity{Email: rec.Email, Role: rec.Role})
}

// Logout clears the LoggedIn flag and revokes the session. The token
// is revoked only after the flag write succeeds, so a CAS conflict
// leaves a still-valid token and the caller simply retries.
func (s *Service) Logout(ctx context.Context, token string) error {
	id, err := s.Verify(token)
	if err != nil {
		return err
	}

	rec, err := s.users.FetchByEmail(ctx, id.Email)
	if err != nil {
		return err
	}
	if rec.LoggedIn {
		rec.LoggedIn = false
		if _, err := s.users.CASUpdate(ctx, rec, rec.Rev); err != nil {
			return err
		}
	}
	s.tokens.revoke(token)
	return nil
}

// Verify resolves a credential to the identity it was issued for.
func (s *Service) Verify(credential string) (identity.Identity, error) {
	if strings.TrimSpace(credential) == "" {
		return identity.Identity{}, ErrUnauthenticated
	}
	session, err := s.tokens.validate(s.now(), credential)
	if err != nil {
		return identity.Identity{}, err
	}
	return session.Identity, nil
}

func (s *Service) issue(id identity.Identity) (Session, error) {
	value, err := randomToken()
	if err != nil {
		return Session{}, err
	}
	session := Session{
		Token:     value,
		Identity:  id,
		ExpiresAt: s.now().Add(s.tokenTTL),
	}
	s.tokens.store(session)
	return session, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type tokenStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newTokenStore() *tokenStore {
	return &tokenStore{sessions: make(map[string]Session)}
}

func (t *tokenStore) store(session Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[session.Token] = session
}

func (t *tokenStore) revoke(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, token)
}

// activeFor reports whether any unexpired session exists for the
// email, dropping expired ones as it scans.
func (t *tokenStore) activeFor(now time.Time, email string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for token, session := range t.sessions {
		if session.Identity.Email != email {
			continue
		}
		if !session.ExpiresAt.IsZero() && now.After(session.ExpiresAt) {
			delete(t.sessions, token)
			continue
		}
		return true
	}
	return false
}

func (t *tokenStore) validate(now time.Time, token string) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, ok := t.sessions[token]
	if !ok {
		return Session{}, ErrUnauthenticated
	}
	if !session.ExpiresAt.IsZero() && now.After(session.ExpiresAt) {
		delete(t.sessions, token)
		return Session{}, ErrTokenExpired
	}
	return session, nil
}
