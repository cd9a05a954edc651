package history

import (
	"slices"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Kind string

const (
	KindAudio      Kind = "audio"
	KindTranscript Kind = "transcript"
	KindSystem     Kind = "system"
)

// AudioPlaceholder stands in for audio-only turns with no transcript yet.
const AudioPlaceholder = "[audio]"

// Entry is one normalized, role-tagged transcript line.
type Entry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
	Kind      Kind      `json:"kind"`

	// Local entries are generated by the session itself rather than taken
	// from the remote history.
	Local bool `json:"local,omitempty"`

	// Provisional marks an optimistic echo of text the user sent that the
	// remote history has not confirmed yet.
	Provisional bool `json:"provisional,omitempty"`
}

// IsConversation reports whether the entry is a user or assistant turn.
func (e Entry) IsConversation() bool {
	return e.Role == RoleUser || e.Role == RoleAssistant
}

// Conversation returns the user/assistant subset of entries, in order.
func Conversation(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsConversation() {
			out = append(out, e)
		}
	}
	return out
}

// Merge concatenates the lists and stable-sorts by timestamp, so equal
// timestamps keep the order of the arguments.
func Merge(lists ...[]Entry) []Entry {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	merged := make([]Entry, 0, n)
	for _, l := range lists {
		merged = append(merged, l...)
	}
	slices.SortStableFunc(merged, func(a, b Entry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return merged
}
