package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ziadkadry99/relaybot/internal/command"
	"github.com/ziadkadry99/relaybot/internal/db"
	"github.com/ziadkadry99/relaybot/internal/event"
	"github.com/ziadkadry99/relaybot/internal/journal"
	"github.com/ziadkadry99/relaybot/internal/store"
)

func setupStores(t *testing.T) (store.Store, *journal.Store) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return store.NewSQLite(database), journal.NewStore(database)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestRunImportsSettingsAndAFK(t *testing.T) {
	st, _ := setupStores(t)
	dir := t.TempDir()
	writeFile(t, dir, "settings.json", `{
		"log_channel_id": 123,
		"welcome_channel_id": null,
		"welcome_message": "Welcome {mention} to {guild}! You are member #{count}.",
		"blocked_words": ["badword", "worse"]
	}`)
	writeFile(t, dir, "afk.json", `{
		"u-1": {"reason": "lunch", "since": 1700000000}
	}`)

	res, err := Run(context.Background(), Options{
		DataDir:        dir,
		ConversationID: "room-1",
		Store:          st,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.BlockedWords != 2 {
		t.Errorf("expected 2 blocked words, got %d", res.BlockedWords)
	}
	if res.AFKMembers != 1 {
		t.Errorf("expected 1 afk member, got %d", res.AFKMembers)
	}
	if !res.WelcomeSet {
		t.Error("expected welcome template to be imported")
	}

	conv, err := st.GetConversation(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("GetConversation() error: %v", err)
	}
	if conv.Version != 1 {
		t.Errorf("expected version 1, got %d", conv.Version)
	}

	state, err := command.DecodeState(conv.Data)
	if err != nil {
		t.Fatalf("DecodeState() error: %v", err)
	}
	if len(state.BlockedWords) != 2 || state.BlockedWords[0] != "badword" {
		t.Errorf("blocked words not imported: %v", state.BlockedWords)
	}
	want := "Welcome {mention} to the server! You are member #{count}."
	if state.WelcomeTemplate != want {
		t.Errorf("welcome template = %q, want %q", state.WelcomeTemplate, want)
	}
	afk, ok := state.AFK["u-1"]
	if !ok {
		t.Fatal("afk status for u-1 not imported")
	}
	if afk.Reason != "lunch" {
		t.Errorf("afk reason = %q, want %q", afk.Reason, "lunch")
	}
	if afk.Since.Unix() != 1700000000 {
		t.Errorf("afk since = %d, want 1700000000", afk.Since.Unix())
	}
}

func TestRunReplaysUsageLog(t *testing.T) {
	st, jn := setupStores(t)
	dir := t.TempDir()
	writeFile(t, dir, "logs.json", `[
		{"ts": "2024-03-01T10:00:00.123456", "user_id": 1, "user_name": "ana", "command": "ping", "extra": ""},
		{"ts": "2024-03-01T10:05:00", "user_name": "bo", "command": "8ball", "extra": "will it work"}
	]`)

	res, err := Run(context.Background(), Options{
		DataDir:        dir,
		ConversationID: "room-1",
		Store:          st,
		Journal:        jn,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.JournalEntries != 2 {
		t.Errorf("expected 2 journal entries, got %d", res.JournalEntries)
	}

	entries, err := jn.Query(context.Background(), journal.Filter{
		ConversationID: "room-1",
		Outcome:        journal.OutcomeImported,
	})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 imported entries, got %d", len(entries))
	}

	// Newest first.
	if entries[0].Command != "8ball" {
		t.Errorf("expected 8ball first, got %q", entries[0].Command)
	}
	if entries[0].Detail != "bo: will it work" {
		t.Errorf("detail = %q, want %q", entries[0].Detail, "bo: will it work")
	}
	if entries[1].Command != "ping" {
		t.Errorf("expected ping second, got %q", entries[1].Command)
	}
	if entries[1].Detail != "ana" {
		t.Errorf("detail = %q, want %q", entries[1].Detail, "ana")
	}
}

func TestRunPreservesExistingState(t *testing.T) {
	st, _ := setupStores(t)
	dir := t.TempDir()
	writeFile(t, dir, "settings.json", `{"blocked_words": ["badword"]}`)

	seeded := &command.State{MemberCount: 5}
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

	if _, err := Run(context.Background(), Options{
		DataDir:        dir,
		ConversationID: "room-1",
		Store:          st,
	}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	conv, err := st.GetConversation(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("GetConversation() error: %v", err)
	}
	if conv.Version != 2 {
		t.Errorf("expected version 2, got %d", conv.Version)
	}
	state, err := command.DecodeState(conv.Data)
	if err != nil {
		t.Fatalf("DecodeState() error: %v", err)
	}
	if state.MemberCount != 5 {
		t.Errorf("member count lost on import: got %d, want 5", state.MemberCount)
	}
	if len(state.BlockedWords) != 1 {
		t.Errorf("blocked words not imported: %v", state.BlockedWords)
	}
}

func TestRunErrorsWithoutData(t *testing.T) {
	st, _ := setupStores(t)

	_, err := Run(context.Background(), Options{
		DataDir:        t.TempDir(),
		ConversationID: "room-1",
		Store:          st,
	})
	if err == nil {
		t.Fatal("expected error for empty data dir")
	}
	if !strings.Contains(err.Error(), "no legacy data") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunRequiresConversation(t *testing.T) {
	st, _ := setupStores(t)

	_, err := Run(context.Background(), Options{DataDir: t.TempDir(), Store: st})
	if err == nil {
		t.Fatal("expected error for missing conversation id")
	}
}

func TestParseLegacyTime(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2024-03-01T10:00:00.123456", time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC)},
		{"2024-03-01T10:00:00", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"garbage", time.Time{}},
	}
	for _, tt := range tests {
		got := parseLegacyTime(tt.input)
		if !got.Equal(tt.want) {
			t.Errorf("parseLegacyTime(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
