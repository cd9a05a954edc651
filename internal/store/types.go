package store

import "time"

// --- Session Index (sessions/index.json) ---

type Status string

const (
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusDisconnected Status = "disconnected"
)

type SessionMeta struct {
	ID              string            `json:"id"`
	Scenario        string            `json:"scenario"`
	Status          Status            `json:"status"`
	Reason          string            `json:"reason,omitempty"`
	Error           string            `json:"error,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	EndedAt         time.Time         `json:"ended_at"`
	DurationSeconds int64             `json:"duration_seconds"`
	ExchangeCount   int               `json:"exchange_count"`
	Messages        int               `json:"messages"`
	ToolCalls       int               `json:"tool_calls"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Metadata        map[string]string `json:"metadata,omitempty"` // e.g. persona mood, hidden objection
}

type SessionIndex struct {
	Sessions map[string]SessionMeta `json:"sessions"`
}

// --- Transcript (sessions/<id>.jsonl) ---

type TranscriptEntry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"ts"`
	Role        string    `json:"role"`
	Kind        string    `json:"kind"`
	Content     string    `json:"content"`
	Local       bool      `json:"local,omitempty"`
	Provisional bool      `json:"provisional,omitempty"`
}

// Record is one finished session as handed to RecordSession.
type Record struct {
	Meta       SessionMeta
	Transcript []TranscriptEntry
}
