package conversation

import (
	"time"

	"github.com/harunnryd/parley/internal/history"
	"github.com/harunnryd/parley/internal/transport"
)

// Metrics are recomputed from scratch on every reduction.
type Metrics struct {
	TotalMessages     int       `json:"total_messages"`
	UserMessages      int       `json:"user_messages"`
	AssistantMessages int       `json:"assistant_messages"`
	ToolCalls         int       `json:"tool_calls"`
	DurationSeconds   int64     `json:"duration_seconds"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Overrides force turn-taking flags for a single reduction. A nil field
// keeps the value derived from history.
type Overrides struct {
	IsSpeaking  *bool
	IsListening *bool
}

// Speaking is the override applied when the remote agent starts a response.
func Speaking() *Overrides { return turn(true, false) }

// Listening is the override applied when the agent yields the floor.
func Listening() *Overrides { return turn(false, true) }

// Idle is the override applied when the session fails.
func Idle() *Overrides { return turn(false, false) }

func turn(speaking, listening bool) *Overrides {
	return &Overrides{IsSpeaking: &speaking, IsListening: &listening}
}

type Input struct {
	Normalized []history.Entry
	Raw        []transport.RawHistoryItem
	System     []history.Entry
	StartedAt  time.Time
	Active     bool
	Now        time.Time
	Overrides  *Overrides
	EchoWindow time.Duration
	// Confirmed holds normalized entry IDs that already superseded an echo.
	Confirmed map[string]bool
}

type State struct {
	History       []history.Entry
	Metrics       Metrics
	ExchangeCount int
	IsSpeaking    bool
	IsListening   bool

	// Superseded holds the IDs of optimistic echoes that the normalized
	// history has confirmed. Callers drop them from their system entries.
	Superseded []string
	// Confirmed holds the normalized entry IDs that superseded them.
	Confirmed []string
}

// Reduce derives everything the presentation layer shows from the latest
// normalized snapshot, the raw items behind it and local system entries.
func Reduce(in Input) State {
	system, superseded, confirmed := Reconcile(in.System, in.Normalized, in.Confirmed, in.EchoWindow)
	conv := history.Conversation(in.Normalized)

	m := Metrics{
		TotalMessages: len(conv),
		ToolCalls:     CountToolCalls(in.Raw),
		UpdatedAt:     in.Now,
	}
	for _, e := range conv {
		switch e.Role {
		case history.RoleUser:
			m.UserMessages++
		case history.RoleAssistant:
			m.AssistantMessages++
		}
	}
	if !in.StartedAt.IsZero() {
		m.DurationSeconds = max(int64(in.Now.Sub(in.StartedAt)/time.Second), 0)
	}

	st := State{
		History:       history.Merge(system, in.Normalized),
		Metrics:       m,
		ExchangeCount: ExchangeCount(len(conv)),
		Superseded:    superseded,
		Confirmed:     confirmed,
	}

	switch {
	case len(conv) == 0:
		st.IsSpeaking, st.IsListening = false, in.Active
	case conv[len(conv)-1].Role == history.RoleAssistant:
		st.IsSpeaking, st.IsListening = true, false
	default:
		st.IsSpeaking, st.IsListening = false, true
	}

	if o := in.Overrides; o != nil {
		if o.IsSpeaking != nil {
			st.IsSpeaking = *o.IsSpeaking
		}
		if o.IsListening != nil {
			st.IsListening = *o.IsListening
		}
	}

	return st
}

// ExchangeCount pairs conversation entries into user/assistant exchanges.
func ExchangeCount(conversationEntries int) int {
	return max(conversationEntries/2, 0)
}
