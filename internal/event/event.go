package event

import "time"

// Event is a single inbound platform event. Identity is carried by ID:
// two events with the same ID are the same event, however many times the
// platform delivers it. Payload is opaque to the core pipeline.
type Event struct {
	ID             string
	ConversationID string
	Payload        []byte
	ReceivedAt     time.Time
}

// ConversationState is the durable per-conversation record. Version
// increments by exactly one on every successful commit and never moves
// otherwise.
type ConversationState struct {
	ConversationID string
	Version        int64
	Data           []byte
}

// DedupRecord marks an event as fully processed. Its presence is what
// makes redelivery of the same event a no-op.
type DedupRecord struct {
	EventID     string
	ProcessedAt time.Time
}

// OutboxStatus is the lifecycle state of an outbox entry.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxEntry is an outbound message recorded in the same transaction as
// the state change that produced it. The retry controller owns it from
// there: Attempts counts delivery tries, NextAttemptAt gates the next one.
type OutboxEntry struct {
	ID             string
	ConversationID string
	Payload        []byte
	Attempts       int
	NextAttemptAt  time.Time
	Status         OutboxStatus
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
