package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func postEvent(t *testing.T, wh *Webhook, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	rec := httptest.NewRecorder()
	wh.HandleEvent(rec, req)
	return rec
}

func TestWebhookAcceptsEvent(t *testing.T) {
	intake := &stubIntake{}
	wh := NewWebhook(intake, WebhookOptions{})

	body := `{"type":"event","event_id":"ev-1","conversation_id":"room-1","kind":"message","sender":"u1","text":"?ping"}`
	rec := postEvent(t, wh, body, nil)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp["queued"] {
		t.Error("expected queued response")
	}

	events := intake.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 submitted event, got %d", len(events))
	}
	if events[0].ID != "ev-1" || events[0].ConversationID != "room-1" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestWebhookEchoesChallenge(t *testing.T) {
	wh := NewWebhook(&stubIntake{}, WebhookOptions{})

	rec := postEvent(t, wh, `{"type":"url_verification","challenge":"abc123"}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["challenge"] != "abc123" {
		t.Errorf("expected challenge echo, got %q", resp["challenge"])
	}
}

func TestWebhookVerifiesSignature(t *testing.T) {
	intake := &stubIntake{}
	rejects := &rejectRecorder{}
	wh := NewWebhook(intake, WebhookOptions{Secret: "s3cret", OnReject: rejects.record})

	body := `{"event_id":"ev-1","conversation_id":"room-1","sender":"u1","text":"hi"}`
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	header := http.Header{}
	header.Set("X-Relay-Timestamp", ts)
	header.Set("X-Relay-Signature", Sign("s3cret", ts, []byte(body)))
	if rec := postEvent(t, wh, body, header); rec.Code != http.StatusAccepted {
		t.Fatalf("expected signed request accepted, got %d: %s", rec.Code, rec.Body.String())
	}

	header.Set("X-Relay-Signature", Sign("wrong", ts, []byte(body)))
	if rec := postEvent(t, wh, body, header); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}

	if rec := postEvent(t, wh, body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing signature, got %d", rec.Code)
	}

	records := rejects.all()
	if len(records) != 2 {
		t.Fatalf("expected 2 reject records, got %d", len(records))
	}
	for _, r := range records {
		if r.Outcome != "rejected" {
			t.Errorf("expected rejected outcome, got %q", r.Outcome)
		}
	}
	if got := len(intake.all()); got != 1 {
		t.Errorf("expected only the signed event submitted, got %d", got)
	}
}

func TestWebhookRejectsStaleTimestamp(t *testing.T) {
	wh := NewWebhook(&stubIntake{}, WebhookOptions{Secret: "s3cret"})

	body := `{"event_id":"ev-1","conversation_id":"room-1"}`
	ts := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	header := http.Header{}
	header.Set("X-Relay-Timestamp", ts)
	header.Set("X-Relay-Signature", Sign("s3cret", ts, []byte(body)))

	if rec := postEvent(t, wh, body, header); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stale timestamp, got %d", rec.Code)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	rejects := &rejectRecorder{}
	wh := NewWebhook(&stubIntake{}, WebhookOptions{OnReject: rejects.record})

	if rec := postEvent(t, wh, "{not json", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	records := rejects.all()
	if len(records) != 1 || records[0].Detail != "malformed payload" {
		t.Fatalf("expected malformed reject record, got %+v", records)
	}
}

func TestWebhookRejectsMissingIDs(t *testing.T) {
	wh := NewWebhook(&stubIntake{}, WebhookOptions{})

	rec := postEvent(t, wh, `{"conversation_id":"room-1","text":"hi"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookSkipsBotEcho(t *testing.T) {
	intake := &stubIntake{}
	wh := NewWebhook(intake, WebhookOptions{})

	rec := postEvent(t, wh, `{"event_id":"ev-1","conversation_id":"room-1","bot":true,"text":"Pong!"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(intake.all()) != 0 {
		t.Error("bot events must not reach the intake")
	}
}

func TestWebhookFiltersConversations(t *testing.T) {
	intake := &stubIntake{}
	rejects := &rejectRecorder{}
	wh := NewWebhook(intake, WebhookOptions{
		Filter:   NewFilter(nil, []string{"spam-*"}),
		OnReject: rejects.record,
	})

	rec := postEvent(t, wh, `{"event_id":"ev-1","conversation_id":"spam-1","text":"hi"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for filtered conversation, got %d", rec.Code)
	}
	if len(intake.all()) != 0 {
		t.Error("filtered events must not reach the intake")
	}
	records := rejects.all()
	if len(records) != 1 || records[0].Detail != "conversation filtered" {
		t.Fatalf("expected filter reject record, got %+v", records)
	}
}

func TestWebhookReportsIntakeFailure(t *testing.T) {
	intake := &stubIntake{err: errors.New("queue full")}
	wh := NewWebhook(intake, WebhookOptions{})

	rec := postEvent(t, wh, `{"event_id":"ev-1","conversation_id":"room-1","text":"hi"}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestWebhookIgnoresUnknownTypes(t *testing.T) {
	intake := &stubIntake{}
	wh := NewWebhook(intake, WebhookOptions{})

	rec := postEvent(t, wh, `{"type":"app_rate_limited","event_id":"ev-1","conversation_id":"room-1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(intake.all()) != 0 {
		t.Error("non-event frames must not reach the intake")
	}
}

func TestRegisterRoutes(t *testing.T) {
	intake := &stubIntake{}
	r := chi.NewRouter()
	RegisterRoutes(r, NewWebhook(intake, WebhookOptions{}))

	req := httptest.NewRequest(http.MethodPost, "/api/events",
		strings.NewReader(`{"event_id":"ev-1","conversation_id":"room-1"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 via router, got %d", rec.Code)
	}
	if len(intake.all()) != 1 {
		t.Error("expected routed event to reach the intake")
	}
}
