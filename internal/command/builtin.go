package command

import (
	"context"
	"encoding/base64"
	"math/rand"
	"strings"
	"time"
)

var eightBallAnswers = []string{
	"Yes.",
	"No.",
	"Maybe.",
	"Ask again later.",
	"Definitely.",
	"I doubt it.",
}

// UsageSource reports recent activity lines for a conversation, newest
// first. The journal store implements it.
type UsageSource interface {
	Recent(ctx context.Context, conversationID string, limit int) ([]string, error)
}

// BuiltinOptions carries the optional dependencies of the built-in
// command set. Zero values disable the corresponding commands gracefully.
type BuiltinOptions struct {
	// Journal supplies the usage command. Nil makes it report that no
	// history is available.
	Journal UsageSource

	// Ask answers free-form questions. Nil falls back to canned replies.
	Ask Answerer
}

// RegisterBuiltins installs the standard command set on the registry.
func RegisterBuiltins(r *Registry, opts BuiltinOptions) {
	if opts.Ask == nil {
		opts.Ask = NewAsker("", "")
	}

	r.Register("ping", "ping", handlePing)
	r.Register("8ball", "8ball <question>", handleEightBall)
	r.Register("base64", "base64 encode|decode <text>", handleBase64(r.prefix))
	r.Register("afk", "afk [reason]", handleAFK)
	r.Register("block", "block add|remove <word> | block list", handleBlock(r.prefix))
	r.Register("welcome", "welcome [set <template>]", handleWelcome)
	r.Register("usage", "usage", handleUsage(opts.Journal))
	r.Register("ask", "ask <question>", handleAsk(opts.Ask))
	r.Register("help", "help", handleHelp(r))
}

func handlePing(_ context.Context, inv *Invocation) error {
	if inv.Event.ReceivedAt.IsZero() {
		inv.Reply("Pong!")
		return nil
	}
	inv.Replyf("Pong! %dms", time.Since(inv.Event.ReceivedAt).Milliseconds())
	return nil
}

func handleEightBall(_ context.Context, inv *Invocation) error {
	if strings.TrimSpace(inv.Args) == "" {
		inv.Reply("Ask the 8ball a question.")
		return nil
	}
	inv.Reply(eightBallAnswers[rand.Intn(len(eightBallAnswers))])
	return nil
}

func handleBase64(prefix string) Func {
	return func(_ context.Context, inv *Invocation) error {
		mode, text := splitWord(inv.Args)
		if text == "" || (mode != "encode" && mode != "decode") {
			inv.Replyf("Usage: %sbase64 encode|decode <text>", prefix)
			return nil
		}
		if mode == "encode" {
			inv.Reply(base64.StdEncoding.EncodeToString([]byte(text)))
			return nil
		}
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			inv.Reply("Failed to decode base64 (invalid input).")
			return nil
		}
		inv.Reply(string(decoded))
		return nil
	}
}

func handleAFK(_ context.Context, inv *Invocation) error {
	reason := strings.TrimSpace(inv.Args)
	if reason == "" {
		reason = "AFK"
	}
	since := inv.Event.ReceivedAt
	if since.IsZero() {
		since = time.Now()
	}
	inv.State.setAFK(inv.Message.Sender, AFKStatus{
		Name:   inv.Message.SenderName,
		Reason: reason,
		Since:  since,
	})
	inv.Replyf("Set AFK: %s", reason)
	return nil
}

func handleBlock(prefix string) Func {
	return func(_ context.Context, inv *Invocation) error {
		sub, word := splitWord(inv.Args)
		switch sub {
		case "add":
			if word == "" {
				inv.Replyf("Usage: %sblock add <word>", prefix)
				return nil
			}
			if !inv.State.blockWord(word) {
				inv.Reply("That word is already blocked.")
				return nil
			}
			inv.Replyf("Blocked word added: %s", word)
		case "remove":
			if word == "" {
				inv.Replyf("Usage: %sblock remove <word>", prefix)
				return nil
			}
			if !inv.State.unblockWord(word) {
				inv.Reply("That word is not blocked.")
				return nil
			}
			inv.Replyf("Blocked word removed: %s", word)
		case "list":
			if len(inv.State.BlockedWords) == 0 {
				inv.Reply("No blocked words.")
				return nil
			}
			inv.Replyf("Blocked words: %s", strings.Join(inv.State.BlockedWords, ", "))
		default:
			inv.Replyf("Usage: %sblock add|remove <word> | %sblock list", prefix, prefix)
		}
		return nil
	}
}

func handleWelcome(_ context.Context, inv *Invocation) error {
	sub, template := splitWord(inv.Args)
	switch sub {
	case "":
		current := inv.State.WelcomeTemplate
		if current == "" {
			current = DefaultWelcome
		}
		inv.Replyf("Welcome template: %s", current)
	case "set":
		if template == "" {
			inv.Reply("Provide a template. Placeholders: {mention}, {count}.")
			return nil
		}
		inv.State.WelcomeTemplate = template
		inv.Reply("Welcome template updated.")
	default:
		inv.Reply("Usage: welcome [set <template>]")
	}
	return nil
}

func handleUsage(journal UsageSource) Func {
	return func(ctx context.Context, inv *Invocation) error {
		if journal == nil {
			inv.Reply("Usage history is not available.")
			return nil
		}
		lines, err := journal.Recent(ctx, inv.Event.ConversationID, 10)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			inv.Reply("No recent activity.")
			return nil
		}
		var b strings.Builder
		b.WriteString("Recent activity:\n")
		for _, line := range lines {
			b.WriteString("  " + line + "\n")
		}
		inv.Reply(strings.TrimRight(b.String(), "\n"))
		return nil
	}
}

func handleAsk(answerer Answerer) Func {
	return func(ctx context.Context, inv *Invocation) error {
		question := strings.TrimSpace(inv.Args)
		if question == "" {
			inv.Reply("Ask me a question.")
			return nil
		}
		answer, err := answerer.Answer(ctx, question)
		if err != nil {
			return err
		}
		inv.Reply(answer)
		return nil
	}
}

func handleHelp(r *Registry) Func {
	return func(_ context.Context, inv *Invocation) error {
		var b strings.Builder
		b.WriteString("Available commands:\n")
		r.mu.RLock()
		for _, name := range r.order {
			b.WriteString("  " + r.prefix + r.entries[name].usage + "\n")
		}
		r.mu.RUnlock()
		inv.Reply(strings.TrimRight(b.String(), "\n"))
		return nil
	}
}
