// Package journal keeps a bounded activity log: what happened to each
// inbound event, which command it ran, and how delivery went. It backs
// the usage command and the ops API.
package journal

import "time"

// Outcome classifies what happened to an event.
type Outcome string

const (
	// OutcomeProcessed means the handler ran and its effects committed.
	OutcomeProcessed Outcome = "processed"

	// OutcomeDuplicate means the event had already been processed.
	OutcomeDuplicate Outcome = "duplicate"

	// OutcomeRejected means a gateway refused the event before dispatch.
	OutcomeRejected Outcome = "rejected"

	// OutcomeHandlerError means the handler failed; nothing committed.
	OutcomeHandlerError Outcome = "handler_error"

	// OutcomeStorageError means the commit failed; nothing committed.
	OutcomeStorageError Outcome = "storage_error"

	// OutcomeSendFailed means a reply ran out of delivery attempts.
	OutcomeSendFailed Outcome = "send_failed"

	// OutcomeImported marks records migrated from a legacy data directory.
	OutcomeImported Outcome = "imported"
)

// Entry is a single journal record.
type Entry struct {
	ID             string
	Timestamp      time.Time
	ConversationID string
	EventID        string
	Command        string
	Outcome        Outcome
	Detail         string
	DurationMS     int64
}
