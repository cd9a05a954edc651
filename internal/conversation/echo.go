package conversation

import (
	"strings"
	"time"

	"github.com/harunnryd/parley/internal/history"
)

// DefaultEchoWindow bounds how far apart an optimistic echo and the
// authoritative user turn may be and still match.
const DefaultEchoWindow = 30 * time.Second

// Echo builds the provisional user entry appended when text is sent.
func Echo(id, text string, at time.Time) history.Entry {
	return history.Entry{
		ID:          id,
		Role:        history.RoleUser,
		Content:     strings.TrimSpace(text),
		Timestamp:   at,
		Kind:        history.KindTranscript,
		Local:       true,
		Provisional: true,
	}
}

// EchoSkew is how far an authoritative user turn may be stamped before the
// echo it confirms. Server clocks and second-granular stamps drift a little.
const EchoSkew = 2 * time.Second

// Reconcile removes provisional echoes that an authoritative user entry
// confirms. Matching is one-to-one in order: same normalized text, stamped
// no earlier than the echo (within EchoSkew) and no more than window after
// it. Entries whose IDs are in confirmed already paired with an earlier echo
// and never match again. The IDs of entries paired in this call are
// returned as confirms.
func Reconcile(system, normalized []history.Entry, confirmed map[string]bool, window time.Duration) (kept []history.Entry, superseded, confirms []string) {
	if window <= 0 {
		window = DefaultEchoWindow
	}

	used := make([]bool, len(normalized))
	for j, n := range normalized {
		used[j] = n.ID != "" && confirmed[n.ID]
	}
	kept = make([]history.Entry, 0, len(system))

	for _, e := range system {
		if !e.Provisional {
			kept = append(kept, e)
			continue
		}

		want := foldText(e.Content)
		matched := -1
		for j, n := range normalized {
			if used[j] || n.Role != history.RoleUser {
				continue
			}
			if foldText(n.Content) != want {
				continue
			}
			if d := n.Timestamp.Sub(e.Timestamp); d < -EchoSkew || d > window {
				continue
			}
			matched = j
			break
		}

		if matched < 0 {
			kept = append(kept, e)
			continue
		}
		used[matched] = true
		superseded = append(superseded, e.ID)
		if id := normalized[matched].ID; id != "" {
			confirms = append(confirms, id)
		}
	}

	return kept, superseded, confirms
}

func foldText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
