package command

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultWelcome is the join greeting used until a conversation sets its
// own template with the welcome command.
const DefaultWelcome = "Welcome {mention}! You are member #{count}."

// State is the per-conversation data the built-in commands operate on.
// It round-trips through the conversation store as a JSON blob.
type State struct {
	AFK             map[string]AFKStatus `json:"afk,omitempty"`
	BlockedWords    []string             `json:"blocked_words,omitempty"`
	WelcomeTemplate string               `json:"welcome_template,omitempty"`
	MemberCount     int                  `json:"member_count,omitempty"`
}

// AFKStatus marks a member as away until their next activity.
type AFKStatus struct {
	Name   string    `json:"name,omitempty"`
	Reason string    `json:"reason"`
	Since  time.Time `json:"since"`
}

// DecodeState parses a stored conversation state. Nil or empty data is a
// fresh conversation and yields a zero state.
func DecodeState(data []byte) (*State, error) {
	st := &State{}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decoding conversation state: %w", err)
	}
	return st, nil
}

// Encode serializes the state for the conversation store.
func (s *State) Encode() []byte {
	b, _ := json.Marshal(s)
	return b
}

func (s *State) setAFK(id string, status AFKStatus) {
	if s.AFK == nil {
		s.AFK = make(map[string]AFKStatus)
	}
	s.AFK[id] = status
}

func (s *State) clearAFK(id string) (AFKStatus, bool) {
	status, ok := s.AFK[id]
	if ok {
		delete(s.AFK, id)
	}
	return status, ok
}

// afkMembers returns the away member ids in a stable order.
func (s *State) afkMembers() []string {
	ids := make([]string, 0, len(s.AFK))
	for id := range s.AFK {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *State) blockWord(word string) bool {
	for _, w := range s.BlockedWords {
		if strings.EqualFold(w, word) {
			return false
		}
	}
	s.BlockedWords = append(s.BlockedWords, word)
	return true
}

func (s *State) unblockWord(word string) bool {
	kept := s.BlockedWords[:0]
	removed := false
	for _, w := range s.BlockedWords {
		if strings.EqualFold(w, word) {
			removed = true
			continue
		}
		kept = append(kept, w)
	}
	s.BlockedWords = kept
	return removed
}

// blockedIn reports the first blocked word found in the text. Matching
// strips everything but ASCII letters and digits on both sides, so
// "b.a-d" still matches a blocked "bad".
func (s *State) blockedIn(text string) (string, bool) {
	if len(s.BlockedWords) == 0 {
		return "", false
	}
	flat := normalize(text)
	for _, w := range s.BlockedWords {
		wn := normalize(w)
		if wn != "" && strings.Contains(flat, wn) {
			return w, true
		}
	}
	return "", false
}

// normalize lowercases and drops everything outside ASCII letters and
// digits, collapsing punctuation tricks before blocked-word matching.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

// mentionsMember reports whether the text mentions the member by @name
// or @id.
func mentionsMember(text, id, name string) bool {
	lower := strings.ToLower(text)
	if name != "" && strings.Contains(lower, "@"+strings.ToLower(name)) {
		return true
	}
	return id != "" && strings.Contains(lower, "@"+strings.ToLower(id))
}
