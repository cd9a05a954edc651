package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/parley/internal/config"
	"github.com/harunnryd/parley/internal/conversation"
	parleyErrors "github.com/harunnryd/parley/internal/errors"
	"github.com/harunnryd/parley/internal/history"
	"github.com/harunnryd/parley/internal/scenario"
	"github.com/harunnryd/parley/internal/transport"
	"github.com/harunnryd/parley/internal/transport/transporttest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type memRecorder struct {
	mu        sync.Mutex
	summaries []Summary
}

func (r *memRecorder) RecordSession(_ context.Context, s Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return nil
}

func (r *memRecorder) all() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Summary(nil), r.summaries...)
}

type fixture struct {
	t        *testing.T
	ctrl     *Controller
	adapter  *transporttest.Adapter
	clock    *fakeClock
	recorder *memRecorder

	mu      sync.Mutex
	notices []Notice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:        t,
		adapter:  transporttest.NewAdapter(),
		clock:    &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		recorder: &memRecorder{},
	}

	ctrl, err := NewController(Deps{
		Adapter:    f.adapter,
		Psychology: scenario.NewPsychologyGenerator(7),
		Recorder:   f.recorder,
		Notifier: func(n Notice) {
			f.mu.Lock()
			f.notices = append(f.notices, n)
			f.mu.Unlock()
		},
	}, RuntimeConfig{
		Timings: config.SessionTimings{
			Tick:              5 * time.Millisecond,
			EchoWindow:        30 * time.Second,
			Handshake:         time.Second,
			DisconnectTimeout: 50 * time.Millisecond,
		},
		Clock: f.clock.Now,
	})
	require.NoError(t, err)
	f.ctrl = ctrl
	t.Cleanup(func() { ctrl.Close() })
	return f
}

// barrier waits until everything already posted to the loop has run.
func (f *fixture) barrier() {
	require.NoError(f.t, f.ctrl.call(func() {}))
}

func (f *fixture) connect(opts Options) *transporttest.Conn {
	require.NoError(f.t, f.ctrl.Start(context.Background(), opts))
	conn := f.adapter.Last()
	require.NotNil(f.t, conn)
	return conn
}

func (f *fixture) activate() *transporttest.Conn {
	conn := f.connect(Options{Scenario: "discovery"})
	conn.Emit(transport.SessionCreated{SessionID: "remote-1"})
	f.barrier()
	require.True(f.t, f.ctrl.Snapshot().IsConnected)
	return conn
}

func (f *fixture) noticesWith(target error) []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Notice
	for _, n := range f.notices {
		if errors.Is(n.Err, target) {
			out = append(out, n)
		}
	}
	return out
}

func (f *fixture) ticking() bool {
	var on bool
	require.NoError(f.t, f.ctrl.call(func() { on = f.ctrl.stopTick != nil }))
	return on
}

func contents(entries []history.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

func TestController_HappyPath(t *testing.T) {
	f := newFixture(t)

	conn := f.connect(Options{Scenario: "cold-call"})
	snap := f.ctrl.Snapshot()
	assert.Equal(t, StateConnecting, snap.State)
	assert.True(t, snap.IsConnecting)
	assert.False(t, snap.IsConnected)
	assert.NotEmpty(t, snap.SessionID)
	assert.False(t, f.ticking())

	cfg := conn.Config()
	assert.Equal(t, snap.SessionID, cfg.SessionID)
	assert.Contains(t, cfg.Instructions, "Dana")
	assert.Equal(t, "alloy", cfg.Voice)

	conn.Emit(transport.SessionCreated{})
	conn.Emit(transport.SessionUpdated{})
	f.barrier()

	snap = f.ctrl.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.True(t, snap.IsConnected)
	assert.True(t, snap.IsListening)
	assert.False(t, snap.IsSpeaking)
	require.NotEmpty(t, snap.History)
	assert.Equal(t, "Connected", snap.History[0].Content)
	assert.True(t, f.ticking())

	updates := conn.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, cfg.Instructions, updates[0].Instructions)

	f.clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool {
		return f.ctrl.Snapshot().SessionDurationSeconds >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestController_TurnTaking(t *testing.T) {
	f := newFixture(t)
	conn := f.activate()

	conn.Emit(transport.ResponseCreated{ResponseID: "r1"})
	f.barrier()
	snap := f.ctrl.Snapshot()
	assert.True(t, snap.IsSpeaking)
	assert.False(t, snap.IsListening)

	conn.Emit(transport.ResponseCompleted{ResponseID: "r1"})
	f.barrier()
	snap = f.ctrl.Snapshot()
	assert.False(t, snap.IsSpeaking)
	assert.True(t, snap.IsListening)

	conn.Emit(transport.ResponseCreated{})
	conn.Emit(transport.SpeechStarted{})
	f.barrier()
	snap = f.ctrl.Snapshot()
	assert.False(t, snap.IsSpeaking)
	assert.True(t, snap.IsListening)

	conn.Emit(transport.AudioInterrupted{})
	f.barrier()
	snap = f.ctrl.Snapshot()
	assert.True(t, snap.IsListening)
	assert.Contains(t, contents(snap.History), "Playback interrupted")
}

func TestController_HistoryUpdates(t *testing.T) {
	f := newFixture(t)
	conn := f.activate()

	items := []transport.RawHistoryItem{
		{ID: "1", Role: "user", Content: "hi"},
		{ID: "2", Role: "tool", Type: transport.ItemTypeToolCall, Content: "lookup()"},
		{ID: "3", Role: "assistant", Content: []any{
			map[string]any{"type": "unknown_blob", "weird": make(chan int)},
			map[string]any{"type": "text", "text": "done"},
		}},
	}
	conn.EmitHistory(items)
	f.barrier()

	snap := f.ctrl.Snapshot()
	assert.Equal(t, 1, snap.Metrics.ToolCalls)
	assert.Equal(t, 2, snap.Metrics.TotalMessages)
	assert.Equal(t, 1, snap.ExchangeCount)
	assert.True(t, snap.IsSpeaking)
	assert.Contains(t, contents(snap.History), "done")

	more := append(transport.CloneItems(items), transport.RawHistoryItem{ID: "4", Role: "user", Content: "thanks"})
	conn.Emit(transport.HistoryUpdated{Data: &transport.HistoryPayload{History: more}})
	f.barrier()
	assert.Equal(t, 3, f.ctrl.Snapshot().Metrics.TotalMessages)

	more = append(more, transport.RawHistoryItem{ID: "5", Role: "assistant", Content: "bye"})
	conn.SetHistory(more)
	conn.Emit(transport.HistoryUpdated{})
	f.barrier()
	snap = f.ctrl.Snapshot()
	assert.Equal(t, 4, snap.Metrics.TotalMessages)
	assert.Equal(t, 2, snap.ExchangeCount)

	conn.EmitHistory(more)
	conn.EmitHistory(more)
	f.barrier()
	assert.Equal(t, snap.History, f.ctrl.Snapshot().History)
}

func TestController_ForcedTeardown(t *testing.T) {
	tests := []struct {
		name  string
		setup func(a *transporttest.Adapter)
	}{
		{"disconnect error", func(a *transporttest.Adapter) { a.DisconnectErr = errors.New("socket already closed") }},
		{"disconnect panic", func(a *transporttest.Adapter) { a.DisconnectPanic = "boom" }},
		{"disconnect hangs", func(a *transporttest.Adapter) { a.DisconnectGate = make(chan struct{}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			conn := f.activate()
			tt.setup(f.adapter)
			if f.adapter.DisconnectGate != nil {
				defer close(f.adapter.DisconnectGate)
			}

			start := time.Now()
			require.NoError(t, f.ctrl.Stop())
			assert.Less(t, time.Since(start), time.Second)

			snap := f.ctrl.Snapshot()
			assert.False(t, snap.IsConnected)
			assert.Equal(t, StateIdle, snap.State)
			require.NotEmpty(t, snap.History)
			last := snap.History[len(snap.History)-1].Content
			assert.True(t, strings.HasPrefix(last, "Session ended after"), last)
			assert.Contains(t, last, "0 exchanges")
			assert.Zero(t, conn.Listeners())
			assert.False(t, f.ticking())
		})
	}
}

func TestController_StopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Stop())
	assert.Equal(t, StateIdle, f.ctrl.Snapshot().State)

	conn := f.activate()
	assert.Equal(t, len(transport.EventNames), conn.Listeners())

	require.NoError(t, f.ctrl.Stop())
	require.NoError(t, f.ctrl.Stop())

	snap := f.ctrl.Snapshot()
	assert.False(t, snap.IsConnected)
	assert.False(t, snap.IsSpeaking)
	assert.False(t, snap.IsListening)
	assert.Zero(t, conn.Listeners())
	assert.False(t, f.ticking())
	assert.Equal(t, 1, f.adapter.Disconnects())
	assert.Len(t, f.recorder.all(), 1)
}

func TestController_LegacyHandleUnsubscribe(t *testing.T) {
	f := newFixture(t)
	f.adapter.Legacy = true

	conn := f.activate()
	require.NoError(t, f.ctrl.Stop())
	assert.Zero(t, conn.Listeners())
}

func TestController_AdapterError(t *testing.T) {
	f := newFixture(t)
	conn := f.activate()
	conn.Emit(transport.ResponseCreated{})

	conn.Emit(transport.ErrorEvent{Code: "rate_limit", Message: "too many requests"})
	f.barrier()

	snap := f.ctrl.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, snap.IsSpeaking)
	assert.False(t, snap.IsListening)
	assert.ErrorIs(t, snap.LastError, parleyErrors.ErrAdapter)
	assert.Zero(t, conn.Listeners())
	assert.False(t, f.ticking())
	assert.NotEmpty(t, f.noticesWith(parleyErrors.ErrAdapter))

	require.Eventually(t, func() bool { return f.adapter.Disconnects() == 1 }, time.Second, 5*time.Millisecond)

	// Events arriving after the failure change nothing.
	conn.Emit(transport.ResponseCreated{})
	f.barrier()
	assert.False(t, f.ctrl.Snapshot().IsSpeaking)
}

func TestController_RejectedRequestKeepsSession(t *testing.T) {
	f := newFixture(t)
	conn := f.activate()

	conn.Emit(transport.ErrorEvent{Code: "response_cancel_not_active", Message: "no active response", Action: "interrupt"})
	f.barrier()

	snap := f.ctrl.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.True(t, snap.IsConnected)
	assert.NoError(t, snap.LastError)
	assert.NotZero(t, conn.Listeners())
	assert.Zero(t, f.adapter.Disconnects())

	notices := f.noticesWith(parleyErrors.ErrLocalAction)
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeWarning, notices[0].Level)
	assert.ErrorIs(t, notices[0].Err, parleyErrors.ErrAdapter)
}

func TestController_ConnectFailure(t *testing.T) {
	f := newFixture(t)
	f.adapter.ConnectErr = errors.New("dial tcp: connection refused")

	err := f.ctrl.Start(context.Background(), Options{})
	require.ErrorIs(t, err, parleyErrors.ErrConnection)

	snap := f.ctrl.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.ErrorIs(t, snap.LastError, parleyErrors.ErrConnection)
	assert.Zero(t, f.adapter.Disconnects())
	assert.Empty(t, f.recorder.all())

	f.adapter.ConnectErr = nil
	f.activate()
	assert.NoError(t, f.ctrl.Snapshot().LastError)
}

func TestController_UnknownScenario(t *testing.T) {
	f := newFixture(t)

	err := f.ctrl.Start(context.Background(), Options{Scenario: "karaoke"})
	assert.ErrorIs(t, err, parleyErrors.ErrNotFound)
	assert.Empty(t, f.adapter.Connects())
	assert.Equal(t, StateIdle, f.ctrl.Snapshot().State)
}

func TestController_StaleGenerationIgnored(t *testing.T) {
	f := newFixture(t)
	f.activate()

	require.NoError(t, f.ctrl.call(func() {
		f.ctrl.handleEvent(f.ctrl.gen-1, transport.ResponseCreated{})
	}))
	assert.False(t, f.ctrl.Snapshot().IsSpeaking)
}

func TestController_RestartWhileActive(t *testing.T) {
	f := newFixture(t)
	first := f.activate()
	firstID := f.ctrl.Snapshot().SessionID

	second := f.connect(Options{Scenario: "negotiation"})
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, f.adapter.Disconnects())
	assert.True(t, first.Closed())
	assert.Zero(t, first.Listeners())

	snap := f.ctrl.Snapshot()
	assert.Equal(t, StateConnecting, snap.State)
	assert.NotEqual(t, firstID, snap.SessionID)
	assert.Equal(t, "negotiation", snap.Scenario)
	assert.Empty(t, snap.History)

	first.Emit(transport.SessionCreated{})
	f.barrier()
	assert.Equal(t, StateConnecting, f.ctrl.Snapshot().State)
}

func TestController_SendTextEcho(t *testing.T) {
	f := newFixture(t)
	conn := f.activate()

	require.NoError(t, f.ctrl.SendText("  Hello there "))

	snap := f.ctrl.Snapshot()
	var echo *history.Entry
	for i := range snap.History {
		if snap.History[i].Provisional {
			echo = &snap.History[i]
		}
	}
	require.NotNil(t, echo)
	assert.Equal(t, history.RoleUser, echo.Role)
	assert.Equal(t, "Hello there", echo.Content)
	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Hello there"}, conn.Sent())

	conn.EmitHistory([]transport.RawHistoryItem{{ID: "u1", Role: "user", Content: "hello there"}})
	f.barrier()

	snap = f.ctrl.Snapshot()
	users := 0
	for _, e := range snap.History {
		if e.Role == history.RoleUser {
			users++
			assert.False(t, e.Provisional)
		}
	}
	assert.Equal(t, 1, users)
}

func TestController_SendTextRepeated(t *testing.T) {
	f := newFixture(t)
	conn := f.activate()

	require.NoError(t, f.ctrl.SendText("yes"))
	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, time.Second, 5*time.Millisecond)
	conn.EmitHistory([]transport.RawHistoryItem{{ID: "u1", Role: "user", Content: "yes"}})
	f.barrier()

	f.clock.Advance(2 * time.Second)
	require.NoError(t, f.ctrl.SendText("yes"))
	require.Eventually(t, func() bool { return len(conn.Sent()) == 2 }, time.Second, 5*time.Millisecond)

	// A later snapshot that still holds only the first turn must not eat
	// the second echo.
	conn.EmitHistory([]transport.RawHistoryItem{
		{ID: "u1", Role: "user", Content: "yes"},
		{ID: "a1", Role: "assistant", Content: "Great."},
	})
	f.barrier()

	provisional := func() int {
		n := 0
		for _, e := range f.ctrl.Snapshot().History {
			if e.Provisional {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 1, provisional())

	f.clock.Advance(time.Second)
	conn.EmitHistory([]transport.RawHistoryItem{
		{ID: "u1", Role: "user", Content: "yes"},
		{ID: "a1", Role: "assistant", Content: "Great."},
		{ID: "u2", Role: "user", Content: "yes"},
	})
	f.barrier()
	assert.Zero(t, provisional())
}

func TestNewController_DefaultsDisconnectTimeout(t *testing.T) {
	ctrl, err := NewController(Deps{Adapter: transporttest.NewAdapter()}, RuntimeConfig{})
	require.NoError(t, err)
	defer ctrl.Close()

	assert.Equal(t, 3*time.Second, ctrl.timings.DisconnectTimeout)
	assert.Equal(t, conversation.DefaultEchoWindow, ctrl.timings.EchoWindow)
}

func TestController_SendTextFailure(t *testing.T) {
	f := newFixture(t)
	conn := f.activate()
	conn.SendErr = errors.New("buffer full")

	require.NoError(t, f.ctrl.SendText("hello"))
	require.Eventually(t, func() bool {
		return len(f.noticesWith(parleyErrors.ErrLocalAction)) == 1
	}, time.Second, 5*time.Millisecond)
	f.barrier()

	snap := f.ctrl.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.NotContains(t, contents(snap.History), "hello")
	assert.NoError(t, snap.LastError)

	assert.ErrorIs(t, f.ctrl.SendText("   "), parleyErrors.ErrInvalidInput)
}

func TestController_Interrupt(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.ctrl.Interrupt(), parleyErrors.ErrNotActive)
	assert.ErrorIs(t, f.ctrl.SendText("hi"), parleyErrors.ErrNotActive)

	conn := f.activate()
	conn.Emit(transport.ResponseCreated{})
	f.barrier()

	require.NoError(t, f.ctrl.Interrupt())
	require.Eventually(t, func() bool {
		snap := f.ctrl.Snapshot()
		return snap.IsListening && !snap.IsSpeaking && conn.Interrupts() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, contents(f.ctrl.Snapshot().History), "Interrupted the agent")

	conn.InterruptErr = errors.New("nothing to cancel")
	require.NoError(t, f.ctrl.Interrupt())
	require.Eventually(t, func() bool {
		return len(f.noticesWith(parleyErrors.ErrLocalAction)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateActive, f.ctrl.Snapshot().State)
}

func TestController_RemoteDisconnect(t *testing.T) {
	f := newFixture(t)
	conn := f.activate()

	conn.Emit(transport.SessionDisconnected{Reason: "server closed"})
	f.barrier()

	assert.Equal(t, StateIdle, f.ctrl.Snapshot().State)
	assert.Zero(t, conn.Listeners())
	require.Eventually(t, func() bool {
		return f.adapter.Disconnects() == 1 && len(f.recorder.all()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "disconnected", f.recorder.all()[0].Reason)
}

func TestController_RecordsSummary(t *testing.T) {
	f := newFixture(t)
	conn := f.activate()
	conn.EmitHistory([]transport.RawHistoryItem{
		{ID: "1", Role: "user", Content: "hi"},
		{ID: "2", Role: "assistant", Content: "hello"},
	})
	f.barrier()

	f.clock.Advance(65 * time.Second)
	require.NoError(t, f.ctrl.Stop())

	sums := f.recorder.all()
	require.Len(t, sums, 1)
	s := sums[0]
	assert.Equal(t, "stopped", s.Reason)
	assert.Equal(t, "discovery", s.Scenario)
	assert.Equal(t, int64(65), s.DurationSeconds)
	assert.Equal(t, 1, s.ExchangeCount)
	assert.Nil(t, s.Psychology)
	assert.Contains(t, contents(s.History), "Session ended after 1m5s with 1 exchanges")
}

func TestController_StopWhileConnecting(t *testing.T) {
	f := newFixture(t)
	f.adapter.ConnectGate = make(chan struct{})

	errCh := make(chan error, 1)
	go func() { errCh <- f.ctrl.Start(context.Background(), Options{}) }()

	require.Eventually(t, func() bool { return f.ctrl.Snapshot().IsConnecting }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.ctrl.Stop())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.Equal(t, StateIdle, f.ctrl.Snapshot().State)
	assert.Empty(t, f.adapter.Conns())
}

func TestController_Close(t *testing.T) {
	f := newFixture(t)
	conn := f.activate()
	ch, _ := f.ctrl.Subscribe()

	require.NoError(t, f.ctrl.Close())
	require.NoError(t, f.ctrl.Close())

	assert.Equal(t, StateIdle, f.ctrl.Snapshot().State)
	assert.Zero(t, conn.Listeners())
	assert.Equal(t, 1, f.adapter.Disconnects())
	assert.ErrorIs(t, f.ctrl.Start(context.Background(), Options{}), parleyErrors.ErrClosed)
	assert.NoError(t, f.ctrl.Stop())

	for range ch {
	}
}

func TestController_Subscribe(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.ctrl.Subscribe()

	first := <-ch
	assert.Equal(t, StateIdle, first.State)

	f.activate()
	require.Eventually(t, func() bool {
		select {
		case s := <-ch:
			return s.IsConnected
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	cancel()
	cancel()
	for range ch {
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "disconnecting", StateDisconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}
