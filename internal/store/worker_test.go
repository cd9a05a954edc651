package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	parleyErrors "github.com/harunnryd/parley/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, root string, cfg RuntimeConfig) *Worker {
	t.Helper()
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 200 * time.Millisecond
		cfg.LockRetry = 10 * time.Millisecond
		cfg.LockMaxRetry = 20
	}
	w, err := NewWorker("test-ws", root, cfg)
	require.NoError(t, err)
	w.Start()
	t.Cleanup(w.Stop)
	return w
}

func testRecord(id string, started time.Time, lines ...string) Record {
	rec := Record{Meta: SessionMeta{
		ID:              id,
		Scenario:        "cold-call",
		Status:          StatusCompleted,
		StartedAt:       started,
		EndedAt:         started.Add(time.Minute),
		DurationSeconds: 60,
		ExchangeCount:   len(lines) / 2,
		Messages:        len(lines),
	}}
	for i, l := range lines {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		rec.Transcript = append(rec.Transcript, TranscriptEntry{
			ID:        fmt.Sprintf("%s-%d", id, i),
			Timestamp: started.Add(time.Duration(i) * time.Second),
			Role:      role,
			Kind:      "transcript",
			Content:   l,
		})
	}
	return rec
}

func TestWorker_RecordAndRead(t *testing.T) {
	w := newTestWorker(t, t.TempDir(), RuntimeConfig{})
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, w.RecordSession(testRecord("s1", t0, "hi", "hello", "bye", "see you")))
	require.NoError(t, w.RecordSession(testRecord("s2", t0.Add(time.Hour), "yo")))

	entries, err := w.ReadTranscript("s1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "hi", entries[0].Content)
	assert.Equal(t, "assistant", entries[1].Role)

	last, err := w.ReadTranscript("s1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "see you", last[1].Content)

	meta, err := w.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, 2, meta.ExchangeCount)
	assert.False(t, meta.CreatedAt.IsZero())

	list, err := w.ListSessions()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s2", list[0].ID)

	_, err = w.GetSession("missing")
	assert.ErrorIs(t, err, parleyErrors.ErrNotFound)
	_, err = w.ReadTranscript("missing", 0)
	assert.ErrorIs(t, err, parleyErrors.ErrNotFound)

	assert.ErrorIs(t, w.RecordSession(testRecord("../escape", t0)), parleyErrors.ErrInvalidInput)
}

func TestWorker_IndexSurvivesRestart(t *testing.T) {
	root := t.TempDir()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	w, err := NewWorker("test-ws", root, RuntimeConfig{})
	require.NoError(t, err)
	w.Start()
	require.NoError(t, w.RecordSession(testRecord("s1", t0, "hi")))
	w.Stop()

	assert.ErrorIs(t, w.RecordSession(testRecord("s2", t0)), parleyErrors.ErrClosed)

	w2 := newTestWorker(t, root, RuntimeConfig{})
	meta, err := w2.GetSession("s1")
	require.NoError(t, err)
	assert.Equal(t, "cold-call", meta.Scenario)
}

func TestWorker_SkipsMalformedTranscriptLines(t *testing.T) {
	w := newTestWorker(t, t.TempDir(), RuntimeConfig{})
	t0 := time.Now()
	require.NoError(t, w.RecordSession(testRecord("s1", t0, "hi")))

	f, err := os.OpenFile(w.transcriptPath("s1"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := w.ReadTranscript("s1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWorker_ResetSession(t *testing.T) {
	w := newTestWorker(t, t.TempDir(), RuntimeConfig{})
	require.NoError(t, w.RecordSession(testRecord("s1", time.Now(), "hi")))

	require.NoError(t, w.ResetSession("s1"))
	assert.NoFileExists(t, w.transcriptPath("s1"))

	_, err := w.GetSession("s1")
	assert.ErrorIs(t, err, parleyErrors.ErrNotFound)
	assert.ErrorIs(t, w.ResetSession("s1"), parleyErrors.ErrNotFound)
}

func TestWorker_TranscriptRotation(t *testing.T) {
	w := newTestWorker(t, t.TempDir(), RuntimeConfig{TranscriptRotateMaxBytes: 512})
	t0 := time.Now()
	long := strings.Repeat("x", 300)

	for i := 0; i < 4; i++ {
		require.NoError(t, w.RecordSession(testRecord("rot", t0, long)))
	}

	info, err := os.Stat(w.transcriptPath("rot"))
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(1024))

	backups, err := filepath.Glob(w.transcriptPath("rot") + ".*.bak")
	require.NoError(t, err)
	assert.NotEmpty(t, backups)

	require.NoError(t, w.ResetSession("rot"))
	backups, err = filepath.Glob(w.transcriptPath("rot") + ".*.bak")
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestWorker_SecondInstanceLockedOut(t *testing.T) {
	root := t.TempDir()
	w := newTestWorker(t, root, RuntimeConfig{})
	assert.True(t, w.IsRunning())

	_, err := NewWorker("test-ws", root, RuntimeConfig{
		LockTimeout:  50 * time.Millisecond,
		LockRetry:    10 * time.Millisecond,
		LockMaxRetry: 5,
	})
	assert.ErrorIs(t, err, ErrWorkspaceLocked)
}
