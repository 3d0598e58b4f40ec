package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ziadkadry99/relaybot/internal/db"
	"github.com/ziadkadry99/relaybot/internal/event"
)

// SQLite implements Store on the shared service database. It does not own
// the handle; the caller that opened it closes it.
type SQLite struct {
	db *db.DB
}

// NewSQLite creates a Store backed by the given database.
func NewSQLite(database *db.DB) *SQLite {
	return &SQLite{db: database}
}

// GetConversation returns the current state for a conversation.
func (s *SQLite) GetConversation(ctx context.Context, conversationID string) (event.ConversationState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, version, data
		FROM conversations WHERE conversation_id = ?`, conversationID)

	var st event.ConversationState
	if err := row.Scan(&st.ConversationID, &st.Version, &st.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return event.ConversationState{}, ErrNotFound
		}
		return event.ConversationState{}, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	return st, nil
}

// Commit atomically persists a CommitSet.
func (s *SQLite) Commit(ctx context.Context, set CommitSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning commit: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.DateTime)

	// The version guard: insert for a brand-new conversation, otherwise
	// update only when the stored version is exactly one behind.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, version, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at
		WHERE conversations.version = excluded.version - 1`,
		set.State.ConversationID, set.State.Version, set.State.Data, now)
	if err != nil {
		return fmt.Errorf("writing conversation state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking state write: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, processed_at) VALUES (?, ?)`,
		set.Dedup.EventID, fmtTime(set.Dedup.ProcessedAt)); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("recording processed event: %w", err)
	}

	for _, e := range set.Outbox {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO outbox (
				id, conversation_id, payload, attempts,
				next_attempt_at, status, last_error, created_at, updated_at
			) VALUES (?, ?, ?, 0, ?, 'pending', '', ?, ?)`,
			e.ID, e.ConversationID, e.Payload, fmtTime(e.NextAttemptAt), now, now); err != nil {
			return fmt.Errorf("queueing outbox entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing dispatch: %w", err)
	}
	return nil
}

// HasDedup reports whether the event has already been processed.
func (s *SQLite) HasDedup(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_events WHERE event_id = ?`, eventID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking processed event: %w", err)
	}
	return true, nil
}

// SweepDedup deletes dedup records older than cutoff.
func (s *SQLite) SweepDedup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < ?`, fmtTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sweeping processed events: %w", err)
	}
	return res.RowsAffected()
}

const outboxColumns = `id, conversation_id, payload, attempts, next_attempt_at, status, last_error, created_at, updated_at`

// OutboxDue returns pending entries whose next attempt time has passed.
func (s *SQLite) OutboxDue(ctx context.Context, now time.Time, limit int) ([]event.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY created_at
		LIMIT ?`, fmtTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("querying due outbox entries: %w", err)
	}
	defer rows.Close()
	return collectOutbox(rows)
}

// OutboxClaim selects due entries and leases them in one transaction.
func (s *SQLite) OutboxClaim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]event.OutboxEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox
		WHERE status = 'pending' AND next_attempt_at <= ?
		ORDER BY created_at
		LIMIT ?`, fmtTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("selecting claimable entries: %w", err)
	}
	entries, err := collectOutbox(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, tx.Commit()
	}

	leaseUntil := now.Add(lease)
	for i := range entries {
		if _, err := tx.ExecContext(ctx, `
			UPDATE outbox
			SET attempts = attempts + 1, next_attempt_at = ?, updated_at = ?
			WHERE id = ?`,
			fmtTime(leaseUntil), fmtTime(now), entries[i].ID); err != nil {
			return nil, fmt.Errorf("claiming outbox entry %s: %w", entries[i].ID, err)
		}
		entries[i].Attempts++
		entries[i].NextAttemptAt = leaseUntil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return entries, nil
}

// OutboxMarkSent finalizes a delivered entry.
func (s *SQLite) OutboxMarkSent(ctx context.Context, id string) error {
	return s.outboxUpdate(ctx, `
		UPDATE outbox SET status = 'sent', last_error = '', updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		fmtTime(time.Now()), id)
}

// OutboxReschedule keeps an entry pending and sets when it is next due.
func (s *SQLite) OutboxReschedule(ctx context.Context, id string, next time.Time, lastError string) error {
	return s.outboxUpdate(ctx, `
		UPDATE outbox SET next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		fmtTime(next), lastError, fmtTime(time.Now()), id)
}

// OutboxMarkFailed parks an entry as failed.
func (s *SQLite) OutboxMarkFailed(ctx context.Context, id string, lastError string) error {
	return s.outboxUpdate(ctx, `
		UPDATE outbox SET status = 'failed', last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		lastError, fmtTime(time.Now()), id)
}

// OutboxRequeue resets a failed entry to pending, due immediately.
func (s *SQLite) OutboxRequeue(ctx context.Context, id string) error {
	now := time.Now()
	return s.outboxUpdate(ctx, `
		UPDATE outbox SET status = 'pending', attempts = 0, next_attempt_at = ?, last_error = '', updated_at = ?
		WHERE id = ? AND status = 'failed'`,
		fmtTime(now), fmtTime(now), id)
}

func (s *SQLite) outboxUpdate(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating outbox entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking outbox update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// OutboxList returns entries matching the filter, newest first.
func (s *SQLite) OutboxList(ctx context.Context, filter OutboxFilter) ([]event.OutboxEntry, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.ConversationID != "" {
		clauses = append(clauses, "conversation_id = ?")
		args = append(args, filter.ConversationID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT " + outboxColumns + " FROM outbox"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying outbox entries: %w", err)
	}
	defer rows.Close()
	return collectOutbox(rows)
}

// Ping verifies the backend is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOutbox(sc scanner) (event.OutboxEntry, error) {
	var (
		e                        event.OutboxEntry
		status                   string
		nextAt, createdAt, updAt string
	)
	err := sc.Scan(
		&e.ID, &e.ConversationID, &e.Payload, &e.Attempts,
		&nextAt, &status, &e.LastError, &createdAt, &updAt,
	)
	if err != nil {
		return event.OutboxEntry{}, err
	}
	e.Status = event.OutboxStatus(status)
	e.NextAttemptAt = parseTime(nextAt)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updAt)
	return e, nil
}

func collectOutbox(rows *sql.Rows) ([]event.OutboxEntry, error) {
	var entries []event.OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.DateTime)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.DateTime, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
