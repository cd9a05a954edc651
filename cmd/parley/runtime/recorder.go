package runtime

import (
	"context"
	"fmt"
	"strconv"

	"github.com/harunnryd/parley/internal/session"
	"github.com/harunnryd/parley/internal/store"
)

// StoreRecorder persists finished sessions into the workspace store.
type StoreRecorder struct {
	worker *store.Worker
}

func NewStoreRecorder(worker *store.Worker) *StoreRecorder {
	return &StoreRecorder{worker: worker}
}

func (r *StoreRecorder) RecordSession(ctx context.Context, s session.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.worker.RecordSession(RecordFromSummary(s)); err != nil {
		return fmt.Errorf("record session %s: %w", s.SessionID, err)
	}
	return nil
}

// RecordFromSummary converts a session summary into its stored form.
func RecordFromSummary(s session.Summary) store.Record {
	status := store.StatusCompleted
	switch {
	case s.Error != "":
		status = store.StatusFailed
	case s.Reason == "disconnected":
		status = store.StatusDisconnected
	}

	meta := store.SessionMeta{
		ID:              s.SessionID,
		Scenario:        s.Scenario,
		Status:          status,
		Reason:          s.Reason,
		Error:           s.Error,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		DurationSeconds: s.DurationSeconds,
		ExchangeCount:   s.ExchangeCount,
		Messages:        s.Metrics.TotalMessages,
		ToolCalls:       s.Metrics.ToolCalls,
	}
	if p := s.Psychology; p != nil {
		meta.Metadata = map[string]string{
			"mood":             p.Mood,
			"skepticism":       strconv.Itoa(p.Skepticism),
			"patience":         strconv.Itoa(p.Patience),
			"hidden_objection": p.HiddenObjection,
		}
	}

	transcript := make([]store.TranscriptEntry, 0, len(s.History))
	for _, e := range s.History {
		transcript = append(transcript, store.TranscriptEntry{
			ID:          e.ID,
			Timestamp:   e.Timestamp,
			Role:        string(e.Role),
			Kind:        string(e.Kind),
			Content:     e.Content,
			Local:       e.Local,
			Provisional: e.Provisional,
		})
	}

	return store.Record{Meta: meta, Transcript: transcript}
}
