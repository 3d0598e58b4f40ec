// Package gateway connects messaging platforms to the dispatch pipeline.
// Sources normalize platform deliveries into events and hand them to the
// engine; the HTTP sender carries outbox payloads back out. The pipeline
// itself never sees platform details.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ziadkadry99/relaybot/internal/event"
)

// Intake accepts normalized events for processing. The dispatch engine
// satisfies it.
type Intake interface {
	Submit(ctx context.Context, ev event.Event) error
}

// Source feeds platform events into an intake until its context ends.
type Source interface {
	Run(ctx context.Context, intake Intake) error
}

// wireEvent is the neutral envelope both shipped sources speak: webhook
// bodies and socket frames carry the same JSON.
type wireEvent struct {
	Type           string            `json:"type"`
	Challenge      string            `json:"challenge,omitempty"`
	EventID        string            `json:"event_id"`
	ConversationID string            `json:"conversation_id"`
	Kind           string            `json:"kind"`
	Sender         string            `json:"sender"`
	SenderName     string            `json:"sender_name"`
	Text           string            `json:"text"`
	Bot            bool              `json:"bot"`
	TS             int64             `json:"ts"`
	Meta           map[string]string `json:"meta"`
}

func parseWireEvent(data []byte) (wireEvent, error) {
	var we wireEvent
	if err := json.Unmarshal(data, &we); err != nil {
		return wireEvent{}, fmt.Errorf("decoding event payload: %w", err)
	}
	return we, nil
}

// validate checks the fields the pipeline cannot work without.
func (we wireEvent) validate() error {
	if we.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if we.ConversationID == "" {
		return fmt.Errorf("conversation_id is required")
	}
	return nil
}

// toEvent converts the wire envelope into a pipeline event.
func (we wireEvent) toEvent(now time.Time) event.Event {
	kind := event.KindMessage
	if we.Kind == string(event.KindJoin) {
		kind = event.KindJoin
	}
	received := now
	if we.TS > 0 {
		received = time.Unix(we.TS, 0)
	}
	return event.Event{
		ID:             we.EventID,
		ConversationID: we.ConversationID,
		Payload: event.EncodeMessage(event.Message{
			Kind:       kind,
			Sender:     we.Sender,
			SenderName: we.SenderName,
			Text:       we.Text,
			Meta:       we.Meta,
		}),
		ReceivedAt: received,
	}
}
