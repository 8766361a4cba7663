package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/averlane/parley/internal/message"
	"github.com/averlane/parley/internal/userstore"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

type messageStore struct {
	db *sql.DB
}

func (s *messageStore) Persist(ctx context.Context, msg message.Message) error {
	if msg.ID == "" || msg.Sender == "" || msg.Receiver == "" {
		return fmt.Errorf("message id, sender, and receiver are required")
	}
	if len(msg.Body) == 0 || msg.SentAt.IsZero() {
		return fmt.Errorf("body and sent_at are required")
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO messages
		(id, sender, receiver, body, sender_role, message_type, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.Sender, msg.Receiver, msg.Body, msg.SenderRole, msg.Type, msg.SentAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *messageStore) Fetch(ctx context.Context, filter message.Filter) ([]message.Message, error) {
	if filter.Email == "" {
		return nil, fmt.Errorf("filter email is required")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, sender, receiver, body, sender_role, message_type, sent_at
		FROM messages
		WHERE sender = $1 OR receiver = $1 OR (message_type = 'group' AND receiver = $2)
		ORDER BY sent_at ASC`,
		filter.Email, string(filter.Role))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		var msg message.Message
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Body, &msg.SenderRole, &msg.Type, &msg.SentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

type userRecordStore struct {
	db *sql.DB
}

func (s *userRecordStore) Create(ctx context.Context, rec userstore.UserRecord) (string, error) {
	if rec.FullName == "" || rec.Email == "" || rec.CredentialHash == "" {
		return "", fmt.Errorf("full name, email, and credential are required")
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_records
		(id, rev, full_name, email, credential_hash, role, approved, logged_in, created_at)
		VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8)`,
		id, rec.FullName, rec.Email, rec.CredentialHash, rec.Role, rec.Approved, rec.LoggedIn, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return "", userstore.ErrDuplicateEmail
		}
		return "", fmt.Errorf("insert user record: %w", err)
	}
	return id, nil
}

func (s *userRecordStore) FetchByID(ctx context.Context, id string) (userstore.Stored, error) {
	return s.fetchOne(ctx, `SELECT id, rev, full_name, email, credential_hash, role, approved, logged_in
		FROM user_records WHERE id = $1`, id)
}

func (s *userRecordStore) FetchByEmail(ctx context.Context, email string) (userstore.Stored, error) {
	return s.fetchOne(ctx, `SELECT id, rev, full_name, email, credential_hash, role, approved, logged_in
		FROM user_records WHERE email = $1`, email)
}

func (s *userRecordStore) fetchOne(ctx context.Context, query string, arg any) (userstore.Stored, error) {
	row := s.db.QueryRowContext(ctx, query, arg)
	var rec userstore.Stored
	if err := row.Scan(&rec.ID, &rec.Rev, &rec.FullName, &rec.Email, &rec.CredentialHash, &rec.Role, &rec.Approved, &rec.LoggedIn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return userstore.Stored{}, userstore.ErrNotFound
		}
		return userstore.Stored{}, fmt.Errorf("select user record: %w", err)
	}
	return rec, nil
}

func (s *userRecordStore) FetchPending(ctx context.Context) ([]userstore.Stored, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, rev, full_name, email, credential_hash, role, approved, logged_in
		FROM user_records WHERE approved = FALSE ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending records: %w", err)
	}
	defer rows.Close()

	var recs []userstore.Stored
	for rows.Next() {
		var rec userstore.Stored
		if err := rows.Scan(&rec.ID, &rec.Rev, &rec.FullName, &rec.Email, &rec.CredentialHash, &rec.Role, &rec.Approved, &rec.LoggedIn); err != nil {
			return nil, fmt.Errorf("scan user record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user records: %w", err)
	}
	return recs, nil
}

func (s *userRecordStore) FetchAll(ctx context.Context) ([]userstore.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT full_name, email, approved
		FROM user_records ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list user records: %w", err)
	}
	defer rows.Close()

	var all []userstore.Summary
	for rows.Next() {
		var sum userstore.Summary
		if err := rows.Scan(&sum.FullName, &sum.Email, &sum.Approved); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		all = append(all, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return all, nil
}

// CASUpdate advances the revision only when the stored one still
// matches. The conditional UPDATE is the relational form of the
// document store's rev check: zero rows affected means the caller lost
// the race (or the record is gone).
func (s *userRecordStore) CASUpdate(ctx context.Context, rec userstore.Stored, expectedRev int64) (userstore.Stored, error) {
	if rec.ID == "" {
		return userstore.Stored{}, fmt.Errorf("record id is required")
	}

	res, err := s.db.ExecContext(ctx, `UPDATE user_records
		SET rev = rev + 1, full_name = $3, email = $4, credential_hash = $5, role = $6, approved = $7, logged_in = $8
		WHERE id = $1 AND rev = $2`,
		rec.ID, expectedRev, rec.FullName, rec.Email, rec.CredentialHash, rec.Role, rec.Approved, rec.LoggedIn)
	if err != nil {
		return userstore.Stored{}, fmt.Errorf("update user record: %w", err)
	}
	if err := s.casOutcome(ctx, res, rec.ID); err != nil {
		return userstore.Stored{}, err
	}
	return s.FetchByID(ctx, rec.ID)
}

func (s *userRecordStore) Delete(ctx context.Context, id string, expectedRev int64) error {
	if id == "" {
		return fmt.Errorf("record id is required")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM user_records WHERE id = $1 AND rev = $2`, id, expectedRev)
	if err != nil {
		return fmt.Errorf("delete user record: %w", err)
	}
	return s.casOutcome(ctx, res, id)
}

func (s *userRecordStore) casOutcome(ctx context.Context, res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	row := s.db.QueryRowContext(ctx, `SELECT TRUE FROM user_records WHERE id = $1`, id)
	if err := row.Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return userstore.ErrNotFound
		}
		return fmt.Errorf("check user record: %w", err)
	}
	return userstore.ErrConflict
}
