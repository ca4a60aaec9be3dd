package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRecord struct {
	Identity  string    `json:"identity"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Store) GetSession(ctx context.Context, identity string) (SessionRecord, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return SessionRecord{}, ErrInvalidInput
	}
	return scanSession(s.db.QueryRowContext(
		ctx,
		`SELECT identity, token, created_at_unix, updated_at_unix FROM sessions WHERE identity = ?`,
		identity,
	))
}

// EnsureSession returns the token bound to identity, binding newToken when the
// identity has none. created reports whether newToken was stored.
func (s *Store) EnsureSession(ctx context.Context, identity, newToken string) (SessionRecord, bool, error) {
	identity = strings.TrimSpace(identity)
	newToken = strings.TrimSpace(newToken)
	if identity == "" || newToken == "" {
		return SessionRecord{}, false, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SessionRecord{}, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanSession(tx.QueryRowContext(
		ctx,
		`SELECT identity, token, created_at_unix, updated_at_unix FROM sessions WHERE identity = ?`,
		identity,
	))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return SessionRecord{}, false, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO sessions (identity, token, created_at_unix, updated_at_unix) VALUES (?, ?, ?, ?)`,
		identity,
		newToken,
		now.Unix(),
		now.Unix(),
	); err != nil {
		return SessionRecord{}, false, fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return SessionRecord{}, false, fmt.Errorf("commit session: %w", err)
	}
	return SessionRecord{
		Identity:  identity,
		Token:     newToken,
		CreatedAt: time.Unix(now.Unix(), 0).UTC(),
		UpdatedAt: time.Unix(now.Unix(), 0).UTC(),
	}, true, nil
}

func (s *Store) SetSession(ctx context.Context, identity, token string) (SessionRecord, error) {
	identity = strings.TrimSpace(identity)
	token = strings.TrimSpace(token)
	if identity == "" || token == "" {
		return SessionRecord{}, ErrInvalidInput
	}
	now := time.Now().UTC().Unix()
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (identity, token, created_at_unix, updated_at_unix)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET token = excluded.token, updated_at_unix = excluded.updated_at_unix`,
		identity,
		token,
		now,
		now,
	); err != nil {
		return SessionRecord{}, fmt.Errorf("upsert session: %w", err)
	}
	return s.GetSession(ctx, identity)
}

// DeleteSession removes the record for identity. Deleting a missing record is
// not an error.
func (s *Store) DeleteSession(ctx context.Context, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ErrInvalidInput
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteSessionIfToken removes the record only while it still carries token,
// so an invalidation racing a rebind does not drop the newer binding.
func (s *Store) DeleteSessionIfToken(ctx context.Context, identity, token string) (bool, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false, ErrInvalidInput
	}
	result, err := s.db.ExecContext(
		ctx,
		`DELETE FROM sessions WHERE identity = ? AND token = ?`,
		identity,
		strings.TrimSpace(token),
	)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete session rows: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT identity, token, created_at_unix, updated_at_unix FROM sessions ORDER BY identity ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	results := []SessionRecord{}
	for rows.Next() {
		record, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var (
		record    SessionRecord
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&record.Identity, &record.Token, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, ErrSessionNotFound
		}
		return SessionRecord{}, fmt.Errorf("scan session: %w", err)
	}
	record.CreatedAt = time.Unix(createdAt, 0).UTC()
	record.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return record, nil
}
