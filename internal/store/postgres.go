package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ziadkadry99/relaybot/internal/event"
)

// Postgres implements Store on a pgx connection pool. Unlike the SQLite
// store it owns its pool; call Close when done.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the given DSN and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return p, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) migrate(ctx context.Context) error {
	for _, stmt := range pgSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		version BIGINT NOT NULL DEFAULT 0,
		data BYTEA NOT NULL DEFAULT '\x',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		event_id TEXT PRIMARY KEY,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processed_events_at ON processed_events(processed_at)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		payload BYTEA NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','sent','failed')),
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox(status, next_attempt_at)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_conversation ON outbox(conversation_id, created_at)`,
}

// GetConversation returns the current state for a conversation.
func (p *Postgres) GetConversation(ctx context.Context, conversationID string) (event.ConversationState, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT conversation_id, version, data
		FROM conversations WHERE conversation_id = $1`, conversationID)

	var st event.ConversationState
	if err := row.Scan(&st.ConversationID, &st.Version, &st.Data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.ConversationState{}, ErrNotFound
		}
		return event.ConversationState{}, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	return st, nil
}

// Commit atomically persists a CommitSet.
func (p *Postgres) Commit(ctx context.Context, set CommitSet) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning commit: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	res, err := tx.Exec(ctx, `
		INSERT INTO conversations (conversation_id, version, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT(conversation_id) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = excluded.updated_at
		WHERE conversations.version = excluded.version - 1`,
		set.State.ConversationID, set.State.Version, set.State.Data, now)
	if err != nil {
		return fmt.Errorf("writing conversation state: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, processed_at) VALUES ($1, $2)`,
		set.Dedup.EventID, set.Dedup.ProcessedAt.UTC()); err != nil {
		if isPgUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("recording processed event: %w", err)
	}

	for _, e := range set.Outbox {
		if _, err := tx.Exec(ctx, `
			INSERT INTO outbox (
				id, conversation_id, payload, attempts,
				next_attempt_at, status, last_error, created_at, updated_at
			) VALUES ($1, $2, $3, 0, $4, 'pending', '', $5, $5)`,
			e.ID, e.ConversationID, e.Payload, e.NextAttemptAt.UTC(), now); err != nil {
			return fmt.Errorf("queueing outbox entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing dispatch: %w", err)
	}
	return nil
}

// HasDedup reports whether the event has already been processed.
func (p *Postgres) HasDedup(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := p.pool.QueryRow(ctx,
		`SELECT 1 FROM processed_events WHERE event_id = $1`, eventID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking processed event: %w", err)
	}
	return true, nil
}

// SweepDedup deletes dedup records older than cutoff.
func (p *Postgres) SweepDedup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.pool.Exec(ctx,
		`DELETE FROM processed_events WHERE processed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("sweeping processed events: %w", err)
	}
	return res.RowsAffected(), nil
}

const pgOutboxColumns = `id, conversation_id, payload, attempts, next_attempt_at, status, last_error, created_at, updated_at`

// OutboxDue returns pending entries whose next attempt time has passed.
func (p *Postgres) OutboxDue(ctx context.Context, now time.Time, limit int) ([]event.OutboxEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+pgOutboxColumns+`
		FROM outbox
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY created_at
		LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying due outbox entries: %w", err)
	}
	defer rows.Close()
	return collectPgOutbox(rows)
}

// OutboxClaim selects due entries and leases them in one transaction.
// SKIP LOCKED keeps concurrent relays off the same rows mid-claim.
func (p *Postgres) OutboxClaim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]event.OutboxEntry, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning claim: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT `+pgOutboxColumns+`
		FROM outbox
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("selecting claimable entries: %w", err)
	}
	entries, err := collectPgOutbox(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]string, len(entries))
	for i := range entries {
		ids[i] = entries[i].ID
	}

	leaseUntil := now.Add(lease).UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, next_attempt_at = $1, updated_at = $2
		WHERE id = ANY($3)`,
		leaseUntil, now.UTC(), ids); err != nil {
		return nil, fmt.Errorf("claiming outbox entries: %w", err)
	}
	for i := range entries {
		entries[i].Attempts++
		entries[i].NextAttemptAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return entries, nil
}

// OutboxMarkSent finalizes a delivered entry.
func (p *Postgres) OutboxMarkSent(ctx context.Context, id string) error {
	return p.outboxUpdate(ctx, `
		UPDATE outbox SET status = 'sent', last_error = '', updated_at = $1
		WHERE id = $2 AND status = 'pending'`,
		time.Now().UTC(), id)
}

// OutboxReschedule keeps an entry pending and sets when it is next due.
func (p *Postgres) OutboxReschedule(ctx context.Context, id string, next time.Time, lastError string) error {
	return p.outboxUpdate(ctx, `
		UPDATE outbox SET next_attempt_at = $1, last_error = $2, updated_at = $3
		WHERE id = $4 AND status = 'pending'`,
		next.UTC(), lastError, time.Now().UTC(), id)
}

// OutboxMarkFailed parks an entry as failed.
func (p *Postgres) OutboxMarkFailed(ctx context.Context, id string, lastError string) error {
	return p.outboxUpdate(ctx, `
		UPDATE outbox SET status = 'failed', last_error = $1, updated_at = $2
		WHERE id = $3 AND status = 'pending'`,
		lastError, time.Now().UTC(), id)
}

// OutboxRequeue resets a failed entry to pending, due immediately.
func (p *Postgres) OutboxRequeue(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return p.outboxUpdate(ctx, `
		UPDATE outbox SET status = 'pending', attempts = 0, next_attempt_at = $1, last_error = '', updated_at = $2
		WHERE id = $3 AND status = 'failed'`,
		now, now, id)
}

func (p *Postgres) outboxUpdate(ctx context.Context, query string, args ...any) error {
	res, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating outbox entry: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// OutboxList returns entries matching the filter, newest first.
func (p *Postgres) OutboxList(ctx context.Context, filter OutboxFilter) ([]event.OutboxEntry, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.ConversationID != "" {
		args = append(args, filter.ConversationID)
		clauses = append(clauses, fmt.Sprintf("conversation_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := "SELECT " + pgOutboxColumns + " FROM outbox"
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

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying outbox entries: %w", err)
	}
	defer rows.Close()
	return collectPgOutbox(rows)
}

// Ping verifies the backend is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func collectPgOutbox(rows pgx.Rows) ([]event.OutboxEntry, error) {
	var entries []event.OutboxEntry
	for rows.Next() {
		var (
			e      event.OutboxEntry
			status string
		)
		if err := rows.Scan(
			&e.ID, &e.ConversationID, &e.Payload, &e.Attempts,
			&e.NextAttemptAt, &status, &e.LastError, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning outbox entry: %w", err)
		}
		e.Status = event.OutboxStatus(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
