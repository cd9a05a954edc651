package session

import (
	"time"

	"github.com/harunnryd/parley/internal/conversation"
	"github.com/harunnryd/parley/internal/history"
	"github.com/harunnryd/parley/internal/scenario"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Snapshot is the read-only view the presentation layer renders.
type Snapshot struct {
	SessionID              string
	Scenario               string
	State                  State
	IsConnected            bool
	IsConnecting           bool
	IsSpeaking             bool
	IsListening            bool
	History                []history.Entry
	Metrics                conversation.Metrics
	ExchangeCount          int
	SessionDurationSeconds int64
	StartedAt              time.Time
	LastError              error
}

// Summary describes a finished session for recording.
type Summary struct {
	SessionID       string                       `json:"session_id"`
	Scenario        string                       `json:"scenario"`
	Reason          string                       `json:"reason"`
	StartedAt       time.Time                    `json:"started_at"`
	EndedAt         time.Time                    `json:"ended_at"`
	DurationSeconds int64                        `json:"duration_seconds"`
	ExchangeCount   int                          `json:"exchange_count"`
	Metrics         conversation.Metrics         `json:"metrics"`
	Psychology      *scenario.PsychologicalState `json:"psychology,omitempty"`
	History         []history.Entry              `json:"history"`
	Error           string                       `json:"error,omitempty"`
}

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-facing message about something that happened to the
// session, such as a rejected send or an adapter error.
type Notice struct {
	Level   NoticeLevel
	Message string
	Err     error
}

// Notifier receives notices on the controller's loop goroutine. It must
// not block.
type Notifier func(Notice)
