package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ziadkadry99/relaybot/internal/db"
	"github.com/ziadkadry99/relaybot/internal/dispatch"
	"github.com/ziadkadry99/relaybot/internal/event"
)

// maxEntries caps the journal; the oldest entries are dropped past it.
const maxEntries = 1000

// Store reads and writes journal entries.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Log inserts a journal entry. An empty ID gets a generated UUID and a
// zero timestamp becomes the current time.
func (s *Store) Log(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal_entries (
			id, timestamp, conversation_id, event_id,
			command, outcome, detail, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Timestamp.UTC().Format(time.DateTime),
		entry.ConversationID,
		entry.EventID,
		entry.Command,
		string(entry.Outcome),
		entry.Detail,
		entry.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return s.trim(ctx)
}

// trim drops the oldest entries once the journal exceeds its cap.
func (s *Store) trim(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM journal_entries WHERE rowid NOT IN (
			SELECT rowid FROM journal_entries
			ORDER BY timestamp DESC, rowid DESC LIMIT ?
		)`, maxEntries)
	if err != nil {
		return fmt.Errorf("trimming journal: %w", err)
	}
	return nil
}

// GetByID retrieves a single journal entry.
func (s *Store) GetByID(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, conversation_id, event_id,
			   command, outcome, detail, duration_ms
		FROM journal_entries WHERE id = ?`, id)

	return scanEntry(row)
}

// Filter controls which journal entries are returned by Query.
type Filter struct {
	ConversationID string
	EventID        string
	Command        string
	Outcome        Outcome
	Since          *time.Time
	Until          *time.Time
	Limit          int
	Offset         int
}

// Query returns journal entries matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.ConversationID != "" {
		clauses = append(clauses, "conversation_id = ?")
		args = append(args, filter.ConversationID)
	}
	if filter.EventID != "" {
		clauses = append(clauses, "event_id = ?")
		args = append(args, filter.EventID)
	}
	if filter.Command != "" {
		clauses = append(clauses, "command = ?")
		args = append(args, filter.Command)
	}
	if filter.Outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.DateTime))
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until.UTC().Format(time.DateTime))
	}

	query := "SELECT id, timestamp, conversation_id, event_id, command, outcome, detail, duration_ms FROM journal_entries"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanRows(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Recent returns display-ready lines about the latest commands run in a
// conversation, newest first. Plain chat traffic is left out.
func (s *Store) Recent(ctx context.Context, conversationID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, command, outcome FROM journal_entries
		WHERE conversation_id = ? AND command NOT IN ('', 'message')
		ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent activity: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var ts, command, outcome string
		if err := rows.Scan(&ts, &command, &outcome); err != nil {
			return nil, err
		}
		line := ts + " " + command
		if outcome != string(OutcomeProcessed) {
			line += " (" + outcome + ")"
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// Record adapts dispatch outcomes into journal entries. It satisfies
// dispatch.RecordFunc; write failures are logged, not returned, so the
// journal cannot stall event processing.
func (s *Store) Record(ctx context.Context, rec dispatch.Record) {
	err := s.Log(ctx, Entry{
		ConversationID: rec.ConversationID,
		EventID:        rec.EventID,
		Command:        rec.Command,
		Outcome:        Outcome(rec.Outcome),
		Detail:         rec.Detail,
		DurationMS:     rec.Took.Milliseconds(),
	})
	if err != nil {
		slog.Warn("writing journal entry", "event_id", rec.EventID, "error", err)
	}
}

// RecordPark writes a send_failed entry for a parked outbox entry. It
// matches the relay's OnPark hook.
func (s *Store) RecordPark(ctx context.Context, e event.OutboxEntry, lastErr string) {
	err := s.Log(ctx, Entry{
		ConversationID: e.ConversationID,
		Outcome:        OutcomeSendFailed,
		Detail:         lastErr,
	})
	if err != nil {
		slog.Warn("writing journal entry", "entry_id", e.ID, "error", err)
	}
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(sc scanner) (*Entry, error) {
	var (
		e       Entry
		ts      string
		outcome string
	)

	err := sc.Scan(
		&e.ID, &ts, &e.ConversationID, &e.EventID,
		&e.Command, &outcome, &e.Detail, &e.DurationMS,
	)
	if err != nil {
		return nil, err
	}

	e.Outcome = Outcome(outcome)
	if t, parseErr := time.Parse(time.DateTime, ts); parseErr == nil {
		e.Timestamp = t
	}

	return &e, nil
}

func scanEntry(row *sql.Row) (*Entry, error) {
	return scanInto(row)
}

func scanRows(rows *sql.Rows) (*Entry, error) {
	return scanInto(rows)
}
