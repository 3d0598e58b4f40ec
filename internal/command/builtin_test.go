package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ziadkadry99/relaybot/internal/event"
)

type stubJournal struct {
	lines []string
	err   error
}

func (s stubJournal) Recent(_ context.Context, _ string, _ int) ([]string, error) {
	return s.lines, s.err
}

func TestPingWithoutTimestamp(t *testing.T) {
	r := NewRegistry("?")
	RegisterBuiltins(r, BuiltinOptions{})

	ev := event.Event{
		ID:             "e1",
		ConversationID: "c1",
		Payload:        event.EncodeMessage(event.Message{Kind: event.KindMessage, Sender: "u1", Text: "?ping"}),
	}
	_, replies, _ := runEvent(t, r, ev, nil)
	if len(replies) != 1 || replies[0] != "Pong!" {
		t.Errorf("replies = %v, want plain Pong", replies)
	}
}

func TestEightBall(t *testing.T) {
	r := NewRegistry("?")
	RegisterBuiltins(r, BuiltinOptions{})

	answers := make(map[string]bool, len(eightBallAnswers))
	for _, a := range eightBallAnswers {
		answers[a] = true
	}

	_, replies, _ := runEvent(t, r, msgEvent("e1", "c1", "u1", "alice", "?8ball will it rain"), nil)
	if len(replies) != 1 || !answers[replies[0]] {
		t.Errorf("reply %v not in the answer set", replies)
	}

	_, replies, _ = runEvent(t, r, msgEvent("e2", "c1", "u1", "alice", "?8ball"), nil)
	if len(replies) != 1 || replies[0] != "Ask the 8ball a question." {
		t.Errorf("replies = %v, want question prompt", replies)
	}
}

func TestBase64(t *testing.T) {
	r := NewRegistry("?")
	RegisterBuiltins(r, BuiltinOptions{})

	_, replies, _ := runEvent(t, r, msgEvent("e1", "c1", "u1", "alice", "?base64 encode hello world"), nil)
	if len(replies) != 1 || replies[0] != "aGVsbG8gd29ybGQ=" {
		t.Errorf("encode replies = %v", replies)
	}

	_, replies, _ = runEvent(t, r, msgEvent("e2", "c1", "u1", "alice", "?base64 decode aGVsbG8gd29ybGQ="), nil)
	if len(replies) != 1 || replies[0] != "hello world" {
		t.Errorf("decode replies = %v", replies)
	}

	_, replies, _ = runEvent(t, r, msgEvent("e3", "c1", "u1", "alice", "?base64 decode !!!"), nil)
	if len(replies) != 1 || !strings.Contains(replies[0], "Failed to decode") {
		t.Errorf("invalid decode replies = %v", replies)
	}

	_, replies, _ = runEvent(t, r, msgEvent("e4", "c1", "u1", "alice", "?base64 rot13 hi"), nil)
	if len(replies) != 1 || !strings.Contains(replies[0], "Usage:") {
		t.Errorf("bad mode replies = %v", replies)
	}

	_, replies, _ = runEvent(t, r, msgEvent("e5", "c1", "u1", "alice", "?base64 encode"), nil)
	if len(replies) != 1 || !strings.Contains(replies[0], "Usage:") {
		t.Errorf("missing text replies = %v", replies)
	}
}

func TestBlockLifecycle(t *testing.T) {
	r := NewRegistry("?")
	RegisterBuiltins(r, BuiltinOptions{})

	_, replies, st := runEvent(t, r, msgEvent("e1", "c1", "u1", "alice", "?block add spam"), nil)
	if len(replies) != 1 || replies[0] != "Blocked word added: spam" {
		t.Fatalf("add replies = %v", replies)
	}

	_, replies, st = runEvent(t, r, msgEvent("e2", "c1", "u1", "alice", "?block add SPAM"), st.Encode())
	if len(replies) != 1 || replies[0] != "That word is already blocked." {
		t.Errorf("duplicate add replies = %v", replies)
	}

	_, replies, st = runEvent(t, r, msgEvent("e3", "c1", "u1", "alice", "?block list"), st.Encode())
	if len(replies) != 1 || !strings.Contains(replies[0], "spam") {
		t.Errorf("list replies = %v", replies)
	}

	_, replies, st = runEvent(t, r, msgEvent("e4", "c1", "u1", "alice", "?block remove spam"), st.Encode())
	if len(replies) != 1 || replies[0] != "Blocked word removed: spam" {
		t.Errorf("remove replies = %v", replies)
	}

	_, replies, st = runEvent(t, r, msgEvent("e5", "c1", "u1", "alice", "?block remove spam"), st.Encode())
	if len(replies) != 1 || replies[0] != "That word is not blocked." {
		t.Errorf("second remove replies = %v", replies)
	}

	_, replies, _ = runEvent(t, r, msgEvent("e6", "c1", "u1", "alice", "?block list"), st.Encode())
	if len(replies) != 1 || replies[0] != "No blocked words." {
		t.Errorf("empty list replies = %v", replies)
	}
}

func TestWelcomeCommand(t *testing.T) {
	r := NewRegistry("?")
	RegisterBuiltins(r, BuiltinOptions{})

	_, replies, _ := runEvent(t, r, msgEvent("e1", "c1", "u1", "alice", "?welcome"), nil)
	if len(replies) != 1 || !strings.Contains(replies[0], DefaultWelcome) {
		t.Errorf("bare welcome replies = %v", replies)
	}

	_, replies, st := runEvent(t, r, msgEvent("e2", "c1", "u1", "alice", "?welcome set Hi {mention}, you are #{count}"), nil)
	if len(replies) != 1 || replies[0] != "Welcome template updated." {
		t.Fatalf("set replies = %v", replies)
	}

	_, replies, _ = runEvent(t, r, joinEvent("e3", "c1", "u2", "bob"), st.Encode())
	if len(replies) != 1 || replies[0] != "Hi @bob, you are #1" {
		t.Errorf("join with custom template replies = %v", replies)
	}
}

func TestUsageCommand(t *testing.T) {
	r := NewRegistry("?")
	RegisterBuiltins(r, BuiltinOptions{
		Journal: stubJournal{lines: []string{"12:00 ping processed", "12:01 8ball processed"}},
	})

	_, replies, _ := runEvent(t, r, msgEvent("e1", "c1", "u1", "alice", "?usage"), nil)
	if len(replies) != 1 || !strings.Contains(replies[0], "ping processed") {
		t.Errorf("usage replies = %v", replies)
	}

	empty := NewRegistry("?")
	RegisterBuiltins(empty, BuiltinOptions{Journal: stubJournal{}})
	_, replies, _ = runEvent(t, empty, msgEvent("e2", "c1", "u1", "alice", "?usage"), nil)
	if len(replies) != 1 || replies[0] != "No recent activity." {
		t.Errorf("empty usage replies = %v", replies)
	}

	none := NewRegistry("?")
	RegisterBuiltins(none, BuiltinOptions{})
	_, replies, _ = runEvent(t, none, msgEvent("e3", "c1", "u1", "alice", "?usage"), nil)
	if len(replies) != 1 || replies[0] != "Usage history is not available." {
		t.Errorf("no-journal usage replies = %v", replies)
	}
}

func TestUsageCommandSurfacesErrors(t *testing.T) {
	r := NewRegistry("?")
	RegisterBuiltins(r, BuiltinOptions{Journal: stubJournal{err: errors.New("journal down")}})

	ev := msgEvent("e1", "c1", "u1", "alice", "?usage")
	h, _ := r.Resolve(ev)
	if _, err := h.Handle(context.Background(), ev, nil); err == nil {
		t.Fatal("Handle() returned nil error, want journal failure")
	}
}

func TestHelpListsCommands(t *testing.T) {
	r := NewRegistry("?")
	RegisterBuiltins(r, BuiltinOptions{})

	_, replies, _ := runEvent(t, r, msgEvent("e1", "c1", "u1", "alice", "?help"), nil)
	if len(replies) != 1 {
		t.Fatalf("replies = %v, want one", replies)
	}
	for _, want := range []string{"?ping", "?8ball <question>", "?ask <question>", "?block"} {
		if !strings.Contains(replies[0], want) {
			t.Errorf("help output missing %q:\n%s", want, replies[0])
		}
	}
}
