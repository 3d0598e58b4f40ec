// Package importer migrates a legacy JSON data directory into the
// conversation store and journal. The old bot kept its settings, away
// statuses, and usage log as flat files next to the process; this maps
// them onto one conversation.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/relaybot/internal/command"
	"github.com/ziadkadry99/relaybot/internal/event"
	"github.com/ziadkadry99/relaybot/internal/journal"
	"github.com/ziadkadry99/relaybot/internal/progress"
	"github.com/ziadkadry99/relaybot/internal/store"
)

// Options configures one import run.
type Options struct {
	// DataDir is the legacy directory holding settings.json, afk.json,
	// and logs.json. Files that are missing are skipped.
	DataDir string

	// ConversationID is the conversation the imported state lands in.
	ConversationID string

	Store    store.Store
	Journal  *journal.Store
	Reporter progress.Reporter
}

// Result summarizes what an import wrote.
type Result struct {
	BlockedWords   int
	AFKMembers     int
	WelcomeSet     bool
	JournalEntries int
}

// Legacy file shapes. Fields the migration has no use for, like channel
// ids, are simply not decoded.

type legacySettings struct {
	WelcomeMessage string   `json:"welcome_message"`
	BlockedWords   []string `json:"blocked_words"`
}

type legacyAFK struct {
	Reason string  `json:"reason"`
	Since  float64 `json:"since"`
}

type legacyLog struct {
	TS       string `json:"ts"`
	UserName string `json:"user_name"`
	Command  string `json:"command"`
	Extra    string `json:"extra"`
}

// Run reads the legacy files, folds settings and away statuses into the
// conversation state, and replays the usage log into the journal. It is
// an error if none of the legacy files exist.
func Run(ctx context.Context, opts Options) (Result, error) {
	if opts.ConversationID == "" {
		return Result{}, errors.New("conversation id is required")
	}

	var (
		res      Result
		settings legacySettings
		afk      map[string]legacyAFK
		logs     []legacyLog
	)

	haveSettings, err := readJSON(filepath.Join(opts.DataDir, "settings.json"), &settings)
	if err != nil {
		return res, err
	}
	haveAFK, err := readJSON(filepath.Join(opts.DataDir, "afk.json"), &afk)
	if err != nil {
		return res, err
	}
	haveLogs, err := readJSON(filepath.Join(opts.DataDir, "logs.json"), &logs)
	if err != nil {
		return res, err
	}
	if !haveSettings && !haveAFK && !haveLogs {
		return res, fmt.Errorf("no legacy data files in %s", opts.DataDir)
	}

	if haveSettings || haveAFK {
		if err := importState(ctx, opts, settings, afk, &res); err != nil {
			return res, err
		}
	}
	if haveLogs && opts.Journal != nil {
		if err := importLogs(ctx, opts, logs, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// readJSON loads path into v. A missing file is not an error.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func importState(ctx context.Context, opts Options, settings legacySettings, afk map[string]legacyAFK, res *Result) error {
	var (
		version int64 = 1
		data    []byte
	)
	existing, err := opts.Store.GetConversation(ctx, opts.ConversationID)
	switch {
	case err == nil:
		version = existing.Version + 1
		data = existing.Data
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("loading conversation: %w", err)
	}

	state, err := command.DecodeState(data)
	if err != nil {
		return err
	}

	if len(settings.BlockedWords) > 0 {
		state.BlockedWords = settings.BlockedWords
		res.BlockedWords = len(settings.BlockedWords)
	}
	if settings.WelcomeMessage != "" {
		state.WelcomeTemplate = convertTemplate(settings.WelcomeMessage)
		res.WelcomeSet = true
	}
	if len(afk) > 0 {
		if state.AFK == nil {
			state.AFK = make(map[string]command.AFKStatus, len(afk))
		}
		for id, a := range afk {
			state.AFK[id] = command.AFKStatus{
				Reason: a.Reason,
				Since:  time.Unix(int64(a.Since), 0).UTC(),
			}
		}
		res.AFKMembers = len(afk)
	}

	set := store.CommitSet{
		State: event.ConversationState{
			ConversationID: opts.ConversationID,
			Version:        version,
			Data:           state.Encode(),
		},
		Dedup: event.DedupRecord{
			EventID:     "import-" + uuid.New().String(),
			ProcessedAt: time.Now(),
		},
	}
	if err := opts.Store.Commit(ctx, set); err != nil {
		return fmt.Errorf("committing imported state: %w", err)
	}
	return nil
}

func importLogs(ctx context.Context, opts Options, logs []legacyLog, res *Result) error {
	if opts.Reporter != nil {
		opts.Reporter.Start(len(logs))
		defer opts.Reporter.Finish()
	}
	for i, l := range logs {
		entry := journal.Entry{
			Timestamp:      parseLegacyTime(l.TS),
			ConversationID: opts.ConversationID,
			Command:        l.Command,
			Outcome:        journal.OutcomeImported,
			Detail:         legacyDetail(l),
		}
		if err := opts.Journal.Log(ctx, entry); err != nil {
			return fmt.Errorf("importing log entry %d: %w", i+1, err)
		}
		res.JournalEntries++
		if opts.Reporter != nil {
			opts.Reporter.Update(i+1, l.Command)
		}
	}
	return nil
}

// convertTemplate rewrites legacy greeting placeholders. Conversations
// here carry no display name, so {guild} becomes plain prose.
func convertTemplate(tpl string) string {
	return strings.ReplaceAll(tpl, "{guild}", "the server")
}

// parseLegacyTime handles naive UTC ISO strings, with or without
// fractional seconds. Unparseable values come back zero and the journal
// stamps them at insert time.
func parseLegacyTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func legacyDetail(l legacyLog) string {
	switch {
	case l.UserName != "" && l.Extra != "":
		return l.UserName + ": " + l.Extra
	case l.Extra != "":
		return l.Extra
	default:
		return l.UserName
	}
}
