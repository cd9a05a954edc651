package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/parley/internal/config"
	"github.com/harunnryd/parley/internal/conversation"
	"github.com/harunnryd/parley/internal/history"
	"github.com/harunnryd/parley/internal/scenario"
	"github.com/harunnryd/parley/internal/session"
	"github.com/harunnryd/parley/internal/store"
)

func testSummary() session.Summary {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return session.Summary{
		SessionID:       "01HX",
		Scenario:        "negotiation",
		Reason:          "stopped",
		StartedAt:       start,
		EndedAt:         start.Add(65 * time.Second),
		DurationSeconds: 65,
		ExchangeCount:   1,
		Metrics:         conversation.Metrics{TotalMessages: 2, UserMessages: 1, AssistantMessages: 1, ToolCalls: 1},
		Psychology:      &scenario.PsychologicalState{Mood: "guarded", Skepticism: 7, Patience: 3, HiddenObjection: "budget freeze"},
		History: []history.Entry{
			{ID: "u1", Role: history.RoleUser, Content: "Hi", Timestamp: start, Kind: history.KindAudio},
			{ID: "a1", Role: history.RoleAssistant, Content: "Hello", Timestamp: start.Add(time.Second), Kind: history.KindAudio},
			{ID: "local-1", Role: history.RoleSystem, Content: "Connected", Timestamp: start, Kind: history.KindSystem, Local: true},
		},
	}
}

func TestRecordFromSummary(t *testing.T) {
	rec := RecordFromSummary(testSummary())

	assert.Equal(t, "01HX", rec.Meta.ID)
	assert.Equal(t, store.StatusCompleted, rec.Meta.Status)
	assert.Equal(t, int64(65), rec.Meta.DurationSeconds)
	assert.Equal(t, 2, rec.Meta.Messages)
	assert.Equal(t, 1, rec.Meta.ToolCalls)
	assert.Equal(t, "guarded", rec.Meta.Metadata["mood"])
	assert.Equal(t, "7", rec.Meta.Metadata["skepticism"])
	assert.Equal(t, "budget freeze", rec.Meta.Metadata["hidden_objection"])

	require.Len(t, rec.Transcript, 3)
	assert.Equal(t, "assistant", rec.Transcript[1].Role)
	assert.Equal(t, "audio", rec.Transcript[1].Kind)
	assert.True(t, rec.Transcript[2].Local)
}

func TestRecordFromSummaryStatus(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		err    string
		want   store.Status
	}{
		{"stopped", "stopped", "", store.StatusCompleted},
		{"restarted", "restarted", "", store.StatusCompleted},
		{"remote hangup", "disconnected", "", store.StatusDisconnected},
		{"adapter error", "error", "adapter error", store.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSummary()
			s.Reason, s.Error = tt.reason, tt.err
			s.Psychology = nil

			rec := RecordFromSummary(s)
			assert.Equal(t, tt.want, rec.Meta.Status)
			assert.Nil(t, rec.Meta.Metadata)
		})
	}
}

func TestStoreRecorderPersists(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{WorkspacePath: t.TempDir()}}
	worker, err := OpenStore(cfg, "test-"+t.Name())
	require.NoError(t, err)
	defer worker.Stop()

	rec := NewStoreRecorder(worker)
	require.NoError(t, rec.RecordSession(context.Background(), testSummary()))

	meta, err := worker.GetSession("01HX")
	require.NoError(t, err)
	assert.Equal(t, "negotiation", meta.Scenario)

	transcript, err := worker.ReadTranscript("01HX", 0)
	require.NoError(t, err)
	assert.Len(t, transcript, 3)
}

func TestStoreRecorderHonoursContext(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{WorkspacePath: t.TempDir()}}
	worker, err := OpenStore(cfg, "test-"+t.Name())
	require.NoError(t, err)
	defer worker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewStoreRecorder(worker).RecordSession(ctx, testSummary()), context.Canceled)

	_, err = worker.GetSession("01HX")
	assert.Error(t, err)
}
