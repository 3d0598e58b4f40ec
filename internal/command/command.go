// Package command routes decoded conversation events to their handlers.
// A Registry maps prefixed command words ("?ping") to handler funcs and
// adapts them to the dispatch pipeline; plain messages and join events
// flow through the same pipeline so AFK notices and the blocked-word
// sweep apply everywhere.
package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ziadkadry99/relaybot/internal/dispatch"
	"github.com/ziadkadry99/relaybot/internal/event"
)

// DefaultPrefix marks command messages when no prefix is configured.
const DefaultPrefix = "?"

// Invocation is one decoded event applied to its conversation state.
// Handlers mutate State and queue replies; the registry commits both.
type Invocation struct {
	Event   event.Event
	Message event.Message
	Args    string
	State   *State

	replies []string
}

// Reply queues a text reply for delivery after the commit.
func (inv *Invocation) Reply(text string) {
	inv.replies = append(inv.replies, text)
}

// Replyf queues a formatted reply.
func (inv *Invocation) Replyf(format string, args ...any) {
	inv.replies = append(inv.replies, fmt.Sprintf(format, args...))
}

// Func handles one command invocation. Returning an error aborts the
// dispatch without committing anything.
type Func func(ctx context.Context, inv *Invocation) error

type entry struct {
	usage string
	fn    Func
}

// Registry resolves events to command handlers. It implements the
// dispatch resolver contract and never returns a nil handler.
type Registry struct {
	prefix string

	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// NewRegistry creates a registry for the given command prefix. An empty
// prefix falls back to DefaultPrefix.
func NewRegistry(prefix string) *Registry {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Registry{
		prefix:  prefix,
		entries: make(map[string]entry),
	}
}

// Prefix returns the configured command prefix.
func (r *Registry) Prefix() string { return r.prefix }

// Register adds a command handler under the given name. The usage line
// shows up in help output. Registering a name twice replaces the handler
// but keeps its original help position.
func (r *Registry) Register(name, usage string, fn Func) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = entry{usage: usage, fn: fn}
}

// Names lists the registered commands in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Resolve picks the handler for an event and names it for the journal.
// Unrecognized commands get a fallback that suggests help; events whose
// payload does not decode get a handler that fails the dispatch.
func (r *Registry) Resolve(ev event.Event) (dispatch.Handler, string) {
	msg, err := event.DecodeMessage(ev.Payload)
	if err != nil {
		return failingHandler{err: err}, "malformed"
	}

	if msg.Kind == event.KindJoin {
		return r.pipeline("join", msg, "", handleJoin), "join"
	}

	name, args := splitCommand(r.prefix, msg.Text)
	if name == "" {
		return r.pipeline("message", msg, msg.Text, handleMessage), "message"
	}

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return r.pipeline(name, msg, args, r.unknown(name)), name
	}
	return r.pipeline(name, msg, args, e.fn), name
}

// handlerFunc adapts a closure to the dispatch handler contract.
type handlerFunc func(ctx context.Context, ev event.Event, state []byte) (dispatch.HandlerResult, error)

func (f handlerFunc) Handle(ctx context.Context, ev event.Event, state []byte) (dispatch.HandlerResult, error) {
	return f(ctx, ev, state)
}

// failingHandler aborts the dispatch with the resolution error.
type failingHandler struct{ err error }

func (f failingHandler) Handle(context.Context, event.Event, []byte) (dispatch.HandlerResult, error) {
	return dispatch.HandlerResult{}, f.err
}

// pipeline wraps a handler func with the steps every message goes
// through: AFK mention notices, the blocked-word sweep, and clearing the
// sender's own AFK status on activity.
func (r *Registry) pipeline(name string, msg event.Message, args string, fn Func) dispatch.Handler {
	return handlerFunc(func(ctx context.Context, ev event.Event, state []byte) (dispatch.HandlerResult, error) {
		st, err := DecodeState(state)
		if err != nil {
			return dispatch.HandlerResult{}, err
		}
		inv := &Invocation{Event: ev, Message: msg, Args: args, State: st}

		if msg.Kind == event.KindMessage {
			for _, id := range st.afkMembers() {
				if id == msg.Sender {
					continue
				}
				status := st.AFK[id]
				if mentionsMember(msg.Text, id, status.Name) {
					who := status.Name
					if who == "" {
						who = id
					}
					inv.Replyf("%s is AFK: %s (since %s)", who, status.Reason, status.Since.Format(time.DateTime))
				}
			}

			if _, hit := st.blockedIn(msg.Text); hit {
				inv.Replyf("@%s that word is not allowed here.", displayName(msg))
				return inv.result(), nil
			}

			// Any activity other than the afk command itself ends AFK.
			if name != "afk" {
				if _, was := st.clearAFK(msg.Sender); was {
					inv.Replyf("Welcome back, %s. AFK status cleared.", displayName(msg))
				}
			}
		}

		if err := fn(ctx, inv); err != nil {
			return dispatch.HandlerResult{}, err
		}
		return inv.result(), nil
	})
}

func (inv *Invocation) result() dispatch.HandlerResult {
	replies := make([][]byte, 0, len(inv.replies))
	for _, text := range inv.replies {
		replies = append(replies, event.EncodeReply(text))
	}
	return dispatch.HandlerResult{State: inv.State.Encode(), Replies: replies}
}

func (r *Registry) unknown(name string) Func {
	return func(_ context.Context, inv *Invocation) error {
		inv.Replyf("Unknown command %q. Try %shelp.", name, r.prefix)
		return nil
	}
}

// handleMessage is the path for plain, non-command messages. The shared
// pipeline already handled AFK and the blocked-word sweep.
func handleMessage(context.Context, *Invocation) error { return nil }

// handleJoin greets a new member and bumps the member count.
func handleJoin(_ context.Context, inv *Invocation) error {
	inv.State.MemberCount++
	tpl := inv.State.WelcomeTemplate
	if tpl == "" {
		tpl = DefaultWelcome
	}
	mention := "@" + displayName(inv.Message)
	rendered := strings.NewReplacer(
		"{mention}", mention,
		"{count}", fmt.Sprintf("%d", inv.State.MemberCount),
	).Replace(tpl)
	inv.Reply(rendered)
	return nil
}

// splitCommand extracts the command word and its arguments from a
// message text. A text without the prefix is not a command.
func splitCommand(prefix, text string) (name, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, prefix) {
		return "", ""
	}
	rest := strings.TrimSpace(text[len(prefix):])
	if rest == "" {
		return "", ""
	}
	name = rest
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		name = rest[:i]
		args = strings.TrimSpace(rest[i:])
	}
	return strings.ToLower(name), args
}

// splitWord peels the first word off a command's arguments, for
// subcommands like "block add <word>".
func splitWord(s string) (head, rest string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return strings.ToLower(s[:i]), strings.TrimSpace(s[i:])
	}
	return strings.ToLower(s), ""
}

func displayName(msg event.Message) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.Sender
}
