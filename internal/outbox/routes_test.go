package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/relaybot/internal/event"
	"github.com/ziadkadry99/relaybot/internal/store"
)

func setupRouter(t *testing.T) (chi.Router, store.Store) {
	t.Helper()
	st := newTestStore(t)
	r := chi.NewRouter()
	RegisterRoutes(r, st)
	return r, st
}

func TestHTTPListOutbox(t *testing.T) {
	router, st := setupRouter(t)
	seedOutbox(t, st, "room-1", "hello", "world")

	req := httptest.NewRequest("GET", "/api/outbox", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var entries []event.OutboxEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
}

func TestHTTPListFilterByStatus(t *testing.T) {
	router, st := setupRouter(t)
	ids := seedOutbox(t, st, "room-1", "hello", "world")

	if err := st.OutboxMarkFailed(context.Background(), ids[0], "payload rejected"); err != nil {
		t.Fatalf("OutboxMarkFailed() error: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/outbox?status=failed", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var entries []event.OutboxEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 failed entry, got %d", len(entries))
	}
	if entries[0].ID != ids[0] {
		t.Errorf("expected entry %s, got %s", ids[0], entries[0].ID)
	}
	if entries[0].LastError != "payload rejected" {
		t.Errorf("expected last error to survive, got %q", entries[0].LastError)
	}
}

func TestHTTPRequeue(t *testing.T) {
	router, st := setupRouter(t)
	ids := seedOutbox(t, st, "room-1", "hello")

	if err := st.OutboxMarkFailed(context.Background(), ids[0], "gone wrong"); err != nil {
		t.Fatalf("OutboxMarkFailed() error: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/outbox/"+ids[0]+"/requeue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	e := getEntry(t, st, ids[0])
	if e.Status != event.OutboxPending {
		t.Errorf("expected entry back to pending, got %s", e.Status)
	}
	if e.Attempts != 0 {
		t.Errorf("expected attempts reset to 0, got %d", e.Attempts)
	}
}

func TestHTTPRequeueNotFound(t *testing.T) {
	router, _ := setupRouter(t)

	req := httptest.NewRequest("POST", "/api/outbox/no-such-entry/requeue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHTTPRequeueOnlyFailedEntries(t *testing.T) {
	router, st := setupRouter(t)
	ids := seedOutbox(t, st, "room-1", "hello")

	// The entry is still pending; requeue must not touch it.
	req := httptest.NewRequest("POST", "/api/outbox/"+ids[0]+"/requeue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for non-failed entry, got %d", w.Code)
	}
}
