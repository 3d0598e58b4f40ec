package command

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/relaybot/internal/db"
	"github.com/ziadkadry99/relaybot/internal/event"
	"github.com/ziadkadry99/relaybot/internal/store"
)

func setupConversationRouter(t *testing.T) (chi.Router, store.Store) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	st := store.NewSQLite(database)
	r := chi.NewRouter()
	RegisterRoutes(r, st)
	return r, st
}

func TestHTTPGetConversation(t *testing.T) {
	router, st := setupConversationRouter(t)

	seeded := &State{
		BlockedWords: []string{"spoilers"},
		MemberCount:  7,
	}
	set := store.CommitSet{
		State: event.ConversationState{
			ConversationID: "room-1",
			Version:        1,
			Data:           seeded.Encode(),
		},
		Dedup: event.DedupRecord{EventID: "ev-1", ProcessedAt: time.Now()},
	}
	if err := st.Commit(context.Background(), set); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/conversations/room-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		ConversationID string
		Version        int64
		State          *State
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ConversationID != "room-1" {
		t.Errorf("expected conversation room-1, got %q", resp.ConversationID)
	}
	if resp.Version != 1 {
		t.Errorf("expected version 1, got %d", resp.Version)
	}
	if resp.State == nil || resp.State.MemberCount != 7 {
		t.Errorf("expected decoded state with member count 7, got %+v", resp.State)
	}
	if len(resp.State.BlockedWords) != 1 || resp.State.BlockedWords[0] != "spoilers" {
		t.Errorf("expected blocked words to round-trip, got %v", resp.State.BlockedWords)
	}
}

func TestHTTPGetConversationNotFound(t *testing.T) {
	router, _ := setupConversationRouter(t)

	req := httptest.NewRequest("GET", "/api/conversations/never-seen", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
