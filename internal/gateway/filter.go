package gateway

import (
	"github.com/bmatcuk/doublestar/v4"
)

// Filter decides which conversations a source admits, by glob patterns
// over the conversation id. Deny patterns win over allow patterns; an
// empty allow list admits everything not denied.
type Filter struct {
	allow []string
	deny  []string
}

// NewFilter builds a filter from allow and deny patterns. Both may be
// empty.
func NewFilter(allow, deny []string) *Filter {
	return &Filter{allow: allow, deny: deny}
}

// Admit reports whether events for the conversation should be accepted.
// A nil filter admits everything.
func (f *Filter) Admit(conversationID string) bool {
	if f == nil {
		return true
	}
	if matchesAny(conversationID, f.deny) {
		return false
	}
	if len(f.allow) == 0 {
		return true
	}
	return matchesAny(conversationID, f.allow)
}

func matchesAny(id string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, id); err == nil && matched {
			return true
		}
	}
	return false
}
