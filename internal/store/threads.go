package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrThreadNotFound = errors.New("thread not found")

type ThreadRecord struct {
	Key       string    `json:"key"`
	Identity  string    `json:"identity"`
	CreatedAt time.Time `json:"created_at"`
}

func ThreadKey(channel, originTS string) string {
	return strings.TrimSpace(channel) + "-" + strings.TrimSpace(originTS)
}

// RegisterThread binds key to identity. A key that is already registered keeps
// its original owner; created reports whether this call inserted the row.
func (s *Store) RegisterThread(ctx context.Context, key, identity string) (ThreadRecord, bool, error) {
	key = strings.TrimSpace(key)
	identity = strings.TrimSpace(identity)
	if key == "" || identity == "" {
		return ThreadRecord{}, false, ErrInvalidInput
	}
	now := time.Now().UTC().Unix()
	result, err := s.db.ExecContext(
		ctx,
		`INSERT INTO threads (thread_key, identity, created_at_unix) VALUES (?, ?, ?)
		 ON CONFLICT(thread_key) DO NOTHING`,
		key,
		identity,
		now,
	)
	if err != nil {
		return ThreadRecord{}, false, fmt.Errorf("register thread: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ThreadRecord{}, false, fmt.Errorf("register thread rows: %w", err)
	}
	record, err := s.LookupThread(ctx, key)
	if err != nil {
		return ThreadRecord{}, false, err
	}
	return record, affected > 0, nil
}

func (s *Store) LookupThread(ctx context.Context, key string) (ThreadRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return ThreadRecord{}, ErrInvalidInput
	}
	var (
		record    ThreadRecord
		createdAt int64
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT thread_key, identity, created_at_unix FROM threads WHERE thread_key = ?`,
		key,
	).Scan(&record.Key, &record.Identity, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ThreadRecord{}, ErrThreadNotFound
		}
		return ThreadRecord{}, fmt.Errorf("lookup thread: %w", err)
	}
	record.CreatedAt = time.Unix(createdAt, 0).UTC()
	return record, nil
}

func (s *Store) IsActiveThread(ctx context.Context, key string) (bool, error) {
	_, err := s.LookupThread(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrThreadNotFound) || errors.Is(err, ErrInvalidInput) {
		return false, nil
	}
	return false, err
}
