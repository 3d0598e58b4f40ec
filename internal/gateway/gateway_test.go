package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ziadkadry99/relaybot/internal/dispatch"
	"github.com/ziadkadry99/relaybot/internal/event"
)

type stubIntake struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (s *stubIntake) Submit(ctx context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *stubIntake) all() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

type rejectRecorder struct {
	mu      sync.Mutex
	records []dispatch.Record
}

func (r *rejectRecorder) record(_ context.Context, rec dispatch.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *rejectRecorder) all() []dispatch.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatch.Record(nil), r.records...)
}

func TestParseWireEvent(t *testing.T) {
	payload := `{"type":"event","event_id":"ev-1","conversation_id":"room-1","kind":"message","sender":"u1","sender_name":"alice","text":"hello there","ts":1700000000,"meta":{"team":"qa"}}`

	we, err := parseWireEvent([]byte(payload))
	if err != nil {
		t.Fatalf("parsing event: %v", err)
	}
	if we.EventID != "ev-1" || we.ConversationID != "room-1" {
		t.Errorf("unexpected ids: %q %q", we.EventID, we.ConversationID)
	}
	if we.Sender != "u1" || we.SenderName != "alice" || we.Text != "hello there" {
		t.Errorf("unexpected message fields: %+v", we)
	}
	if we.Meta["team"] != "qa" {
		t.Errorf("meta not carried: %v", we.Meta)
	}
}

func TestParseWireEventRejectsGarbage(t *testing.T) {
	if _, err := parseWireEvent([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestWireEventValidate(t *testing.T) {
	cases := []struct {
		name    string
		we      wireEvent
		wantErr bool
	}{
		{"complete", wireEvent{EventID: "ev-1", ConversationID: "room-1"}, false},
		{"missing event id", wireEvent{ConversationID: "room-1"}, true},
		{"missing conversation id", wireEvent{EventID: "ev-1"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.we.validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestWireEventToEvent(t *testing.T) {
	now := time.Now()
	we := wireEvent{
		EventID:        "ev-1",
		ConversationID: "room-1",
		Kind:           "join",
		Sender:         "u1",
		SenderName:     "alice",
		TS:             1700000000,
	}

	ev := we.toEvent(now)
	if ev.ID != "ev-1" || ev.ConversationID != "room-1" {
		t.Errorf("unexpected ids: %q %q", ev.ID, ev.ConversationID)
	}
	if !ev.ReceivedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("expected wire timestamp, got %v", ev.ReceivedAt)
	}

	msg, err := event.DecodeMessage(ev.Payload)
	if err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if msg.Kind != event.KindJoin {
		t.Errorf("expected join kind, got %q", msg.Kind)
	}
	if msg.Sender != "u1" || msg.SenderName != "alice" {
		t.Errorf("unexpected sender: %+v", msg)
	}
}

func TestWireEventToEventDefaultsTimestamp(t *testing.T) {
	now := time.Now()
	ev := wireEvent{EventID: "ev-1", ConversationID: "room-1"}.toEvent(now)
	if !ev.ReceivedAt.Equal(now) {
		t.Errorf("expected receive time %v, got %v", now, ev.ReceivedAt)
	}

	msg, err := event.DecodeMessage(ev.Payload)
	if err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if msg.Kind != event.KindMessage {
		t.Errorf("expected message kind, got %q", msg.Kind)
	}
}
