package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type InboxEntry struct {
	ID              string    `json:"id"`
	Channel         string    `json:"channel"`
	Identity        string    `json:"identity"`
	Text            string    `json:"text"`
	OriginTS        string    `json:"origin_ts"`
	ThreadTS        string    `json:"thread_ts,omitempty"`
	AttachmentCount int       `json:"attachment_count"`
	ReceivedAt      time.Time `json:"received_at"`
}

type AppendInboxInput struct {
	Channel         string
	Identity        string
	Text            string
	OriginTS        string
	ThreadTS        string
	AttachmentCount int
}

func (s *Store) AppendInbox(ctx context.Context, input AppendInboxInput) (InboxEntry, error) {
	channel := strings.TrimSpace(input.Channel)
	identity := strings.TrimSpace(input.Identity)
	originTS := strings.TrimSpace(input.OriginTS)
	if channel == "" || identity == "" || originTS == "" {
		return InboxEntry{}, ErrInvalidInput
	}
	entry := InboxEntry{
		ID:              ThreadKey(channel, originTS),
		Channel:         channel,
		Identity:        identity,
		Text:            input.Text,
		OriginTS:        originTS,
		ThreadTS:        strings.TrimSpace(input.ThreadTS),
		AttachmentCount: input.AttachmentCount,
		ReceivedAt:      time.Unix(time.Now().UTC().Unix(), 0).UTC(),
	}
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO inbox (id, channel, identity, text, origin_ts, thread_ts, attachment_count, received_at_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Channel,
		entry.Identity,
		entry.Text,
		entry.OriginTS,
		nullIfEmpty(entry.ThreadTS),
		entry.AttachmentCount,
		entry.ReceivedAt.Unix(),
	); err != nil {
		return InboxEntry{}, fmt.Errorf("append inbox: %w", err)
	}
	return entry, nil
}

// ListInbox returns the newest entries first.
func (s *Store) ListInbox(ctx context.Context, limit int) ([]InboxEntry, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, channel, identity, text, origin_ts, thread_ts, attachment_count, received_at_unix
		 FROM inbox ORDER BY seq DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	defer rows.Close()

	results := []InboxEntry{}
	for rows.Next() {
		var (
			entry      InboxEntry
			threadTS   sql.NullString
			receivedAt int64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Channel,
			&entry.Identity,
			&entry.Text,
			&entry.OriginTS,
			&threadTS,
			&entry.AttachmentCount,
			&receivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan inbox entry: %w", err)
		}
		entry.ThreadTS = threadTS.String
		entry.ReceivedAt = time.Unix(receivedAt, 0).UTC()
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inbox: %w", err)
	}
	return results, nil
}

// ClearInbox drops every entry. It backs the operator endpoint only; the
// request pipeline never removes inbox rows.
func (s *Store) ClearInbox(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM inbox`)
	if err != nil {
		return 0, fmt.Errorf("clear inbox: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear inbox rows: %w", err)
	}
	return affected, nil
}
