package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/parley/internal/concurrency"
	"github.com/harunnryd/parley/internal/config"
	"github.com/harunnryd/parley/internal/conversation"
	parleyErrors "github.com/harunnryd/parley/internal/errors"
	"github.com/harunnryd/parley/internal/history"
	"github.com/harunnryd/parley/internal/logger"
	"github.com/harunnryd/parley/internal/scenario"
	"github.com/harunnryd/parley/internal/transport"

	"github.com/oklog/ulid/v2"
)

// Recorder persists finished sessions.
type Recorder interface {
	RecordSession(ctx context.Context, s Summary) error
}

type Deps struct {
	Adapter    transport.Adapter
	Catalog    *scenario.Catalog
	Builder    *scenario.Builder
	Psychology *scenario.PsychologyGenerator
	Recorder   Recorder
	Notifier   Notifier
}

type RuntimeConfig struct {
	Timings         config.SessionTimings
	InboxSize       int
	DefaultScenario string
	DefaultVoice    string
	Clock           func() time.Time
}

type Options struct {
	Scenario string
	Voice    string
	// Instructions replaces the rendered scenario instructions when set.
	Instructions string
	Metadata     map[string]string
}

// Controller drives one realtime session at a time. Every state change
// happens on a single loop goroutine; adapter callbacks, timer ticks and
// results of asynchronous calls are posted to it as messages.
type Controller struct {
	adapter    transport.Adapter
	catalog    *scenario.Catalog
	builder    *scenario.Builder
	psych      *scenario.PsychologyGenerator
	recorder   Recorder
	notifier   Notifier
	normalizer *history.Normalizer

	timings         config.SessionTimings
	defaultScenario string
	defaultVoice    string
	now             func() time.Time

	startMu   sync.Mutex
	inbox     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	bg        sync.WaitGroup

	// Loop-owned.
	state        State
	gen          uint64
	sessionID    string
	scenario     scenario.Scenario
	psychology   *scenario.PsychologicalState
	instructions string
	voice        string
	ctx          context.Context
	cancel       context.CancelFunc
	handle       transport.Handle
	cleanup      func()
	startedAt    time.Time
	duration     int64
	raw          []transport.RawHistoryItem
	normalized   []history.Entry
	system       []history.Entry
	confirmed    map[string]bool
	reduced      conversation.State
	stopTick     chan struct{}
	lastErr      error

	snapMu sync.RWMutex
	snap   Snapshot

	subsMu  sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

func NewController(deps Deps, runtimeCfg RuntimeConfig) (*Controller, error) {
	if deps.Adapter == nil {
		return nil, parleyErrors.InvalidInput("session: adapter is required")
	}
	if deps.Catalog == nil {
		deps.Catalog = scenario.NewCatalog()
	}
	if deps.Builder == nil {
		deps.Builder = scenario.NewBuilder(config.DefaultPromptsPreamble, config.DefaultPromptsClosing)
	}
	if deps.Psychology == nil {
		deps.Psychology = scenario.NewPsychologyGenerator(0)
	}

	t := runtimeCfg.Timings
	if t.Tick <= 0 {
		d, err := config.DurationOrDefault("", config.DefaultSessionTickInterval)
		if err != nil {
			return nil, err
		}
		t.Tick = d
	}
	if t.EchoWindow <= 0 {
		t.EchoWindow = conversation.DefaultEchoWindow
	}
	if t.DisconnectTimeout <= 0 {
		d, err := config.DurationOrDefault("", config.DefaultRealtimeDisconnectTimeout)
		if err != nil {
			return nil, err
		}
		t.DisconnectTimeout = d
	}
	if runtimeCfg.InboxSize <= 0 {
		runtimeCfg.InboxSize = config.DefaultSessionInboxSize
	}
	if runtimeCfg.DefaultScenario == "" {
		runtimeCfg.DefaultScenario = config.DefaultSessionScenario
	}
	if runtimeCfg.Clock == nil {
		runtimeCfg.Clock = time.Now
	}

	c := &Controller{
		adapter:    deps.Adapter,
		catalog:    deps.Catalog,
		builder:    deps.Builder,
		psych:      deps.Psychology,
		recorder:   deps.Recorder,
		notifier:   deps.Notifier,
		normalizer: history.NewNormalizer(runtimeCfg.Clock),

		timings:         t,
		defaultScenario: runtimeCfg.DefaultScenario,
		defaultVoice:    runtimeCfg.DefaultVoice,
		now:             runtimeCfg.Clock,

		inbox: make(chan func(), runtimeCfg.InboxSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		ctx:   context.Background(),
		subs:  make(map[int]chan Snapshot),
	}
	c.snap = Snapshot{State: StateIdle}

	go c.run()
	return c, nil
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.inbox:
			c.dispatch(fn)
		case <-c.quit:
			return
		}
	}
}

func (c *Controller) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic recovered in session loop", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// post queues fn for the loop. It reports false once the loop has exited.
func (c *Controller) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (c *Controller) call(fn func()) error {
	finished := make(chan struct{})
	if !c.post(func() {
		defer close(finished)
		fn()
	}) {
		return parleyErrors.ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return parleyErrors.ErrClosed
	}
}

func (c *Controller) closed() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// Start stops any running session and connects a new one. It returns once
// the adapter's Connect has returned; the session becomes active when the
// adapter reports the session as created.
func (c *Controller) Start(ctx context.Context, opts Options) error {
	if c.closed() {
		return parleyErrors.ErrClosed
	}

	c.startMu.Lock()

	id := opts.Scenario
	if id == "" {
		id = c.defaultScenario
	}
	sc, err := c.catalog.Get(id)
	if err != nil {
		c.startMu.Unlock()
		return err
	}

	psych := c.psych.Generate(sc)
	instructions := opts.Instructions
	if instructions == "" {
		instructions, err = c.builder.Build(sc.Kind, sc, psych)
		if err != nil {
			c.startMu.Unlock()
			return fmt.Errorf("build instructions: %w", err)
		}
	}
	voice := firstNonEmpty(opts.Voice, sc.Voice, c.defaultVoice)

	if err := c.stop("restarted"); err != nil {
		c.startMu.Unlock()
		return err
	}

	var (
		gen        uint64
		connectCtx context.Context
		cfg        transport.ConnectConfig
	)
	err = c.call(func() {
		c.reset()
		c.gen++
		gen = c.gen
		c.sessionID = ulid.Make().String()
		c.scenario = sc
		c.psychology = psych
		c.instructions = instructions
		c.voice = voice

		sctx := logger.WithScenario(logger.WithSessionID(context.WithoutCancel(ctx), c.sessionID), sc.ID)
		c.ctx, c.cancel = context.WithCancel(sctx)
		c.state = StateConnecting
		c.reduce(nil)

		connectCtx = c.ctx
		cfg = transport.ConnectConfig{
			SessionID:    c.sessionID,
			Instructions: instructions,
			Voice:        voice,
			Metadata:     opts.Metadata,
		}
		logger.From(c.ctx).Info("Session connecting", "voice", voice, "adversarial", sc.Adversarial)
	})
	c.startMu.Unlock()
	if err != nil {
		return err
	}

	hctx, cancel := context.WithCancel(connectCtx)
	defer cancel()
	if c.timings.Handshake > 0 {
		var cancelTimeout context.CancelFunc
		hctx, cancelTimeout = context.WithTimeout(hctx, c.timings.Handshake)
		defer cancelTimeout()
	}
	stopAfter := context.AfterFunc(ctx, cancel)
	defer stopAfter()

	h, connErr := c.adapter.Connect(hctx, cfg)

	var result error
	if err := c.call(func() { result = c.onConnected(gen, h, connErr) }); err != nil {
		if h != nil {
			c.finish(h, nil)
		}
		return err
	}
	return result
}

func (c *Controller) onConnected(gen uint64, h transport.Handle, err error) error {
	if gen != c.gen {
		if h != nil {
			c.releaseAsync(h, nil)
		}
		if err == nil {
			err = context.Canceled
		}
		return fmt.Errorf("session ended while connecting: %w", err)
	}

	if err != nil {
		err = parleyErrors.Connection(err)
		c.fail(err)
		return err
	}

	c.handle = h
	c.register(gen, h)
	if r, ok := h.(transport.Receiver); ok {
		r.StartReceiving()
	}
	c.publish()
	return nil
}

// register subscribes to every event name once and keeps a single cleanup
// that unregisters all of them.
func (c *Controller) register(gen uint64, h transport.Handle) {
	if c.cleanup != nil {
		c.cleanup()
		c.cleanup = nil
	}

	type registration struct {
		name transport.EventName
		id   transport.ListenerID
	}
	regs := make([]registration, 0, len(transport.EventNames))
	for _, name := range transport.EventNames {
		id := h.On(name, func(ev transport.Event) {
			c.post(func() { c.handleEvent(gen, ev) })
		})
		regs = append(regs, registration{name: name, id: id})
	}

	log := logger.From(c.ctx)
	var once sync.Once
	c.cleanup = func() {
		once.Do(func() {
			defer func() {
				if r := recover(); r != nil {
					log.Warn("Unregistering handlers panicked", "panic", r)
				}
			}()
			for _, r := range regs {
				if !transport.Unsubscribe(h, r.name, r.id) {
					log.Warn("Handle does not support unsubscribing; handlers left registered")
					return
				}
			}
		})
	}
}

// Stop ends the running session. Local state is reset before the adapter
// is released; the release is waited on for at most the disconnect
// timeout. Stopping an idle or closed controller is a no-op.
func (c *Controller) Stop() error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if err := c.stop("stopped"); err != nil && !errors.Is(err, parleyErrors.ErrClosed) {
		return err
	}
	return nil
}

func (c *Controller) stop(reason string) error {
	var (
		h   transport.Handle
		sum *Summary
	)
	if err := c.call(func() { h, sum = c.teardown(reason, nil) }); err != nil {
		return err
	}
	c.finish(h, sum)
	return nil
}

// Close ends any session and stops the loop. It is safe to call more than
// once and from any state.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		var (
			h   transport.Handle
			sum *Summary
		)
		_ = c.call(func() { h, sum = c.teardown("closed", nil) })
		close(c.quit)
		<-c.done

		c.finish(h, sum)
		c.bg.Wait()

		c.subsMu.Lock()
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.subsMu.Unlock()
	})
	return nil
}

// Interrupt asks the remote agent to stop speaking. The request is sent in
// the background; the result arrives as a system entry or a notice.
func (c *Controller) Interrupt() error {
	var err error
	if callErr := c.call(func() {
		if c.state != StateActive {
			err = fmt.Errorf("interrupt: %w", parleyErrors.ErrNotActive)
			return
		}
		h, gen, ctx := c.handle, c.gen, c.ctx
		c.bg.Add(1)
		concurrency.SafeGo(func() {
			defer c.bg.Done()
			ierr := h.Interrupt(ctx)
			c.post(func() { c.onInterrupted(gen, ierr) })
		}, nil)
	}); callErr != nil {
		return callErr
	}
	return err
}

func (c *Controller) onInterrupted(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	if err != nil {
		c.localFailure("interrupt", err)
		return
	}
	c.appendSystem("Interrupted the agent")
	c.reduce(conversation.Listening())
}

// SendText forwards a typed message and shows it immediately as a
// provisional user entry. The entry is removed again if the send fails.
func (c *Controller) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return parleyErrors.InvalidInput("message is empty")
	}

	var err error
	if callErr := c.call(func() {
		if c.state != StateActive {
			err = fmt.Errorf("send: %w", parleyErrors.ErrNotActive)
			return
		}

		echo := conversation.Echo("local-"+ulid.Make().String(), text, c.now())
		c.system = append(c.system, echo)
		c.reduce(nil)

		h, gen, ctx := c.handle, c.gen, c.ctx
		c.bg.Add(1)
		concurrency.SafeGo(func() {
			defer c.bg.Done()
			serr := h.SendMessage(ctx, text)
			c.post(func() { c.onSent(gen, echo.ID, serr) })
		}, nil)
	}); callErr != nil {
		return callErr
	}
	return err
}

func (c *Controller) onSent(gen uint64, echoID string, err error) {
	if gen != c.gen || err == nil {
		return
	}
	c.system = slices.DeleteFunc(c.system, func(e history.Entry) bool { return e.ID == echoID })
	c.reduce(nil)
	c.localFailure("send", err)
}

// teardown resets local state to Idle and hands back what still has to be
// released. It is a no-op when already idle.
func (c *Controller) teardown(reason string, cause error) (transport.Handle, *Summary) {
	if c.state == StateIdle {
		return nil, nil
	}

	log := logger.From(c.ctx)
	c.state = StateDisconnecting
	c.publish()

	c.stopTicker()
	if !c.startedAt.IsZero() {
		c.duration = max(int64(c.now().Sub(c.startedAt)/time.Second), 0)
	}

	if cause != nil {
		c.appendSystem("Session failed: " + cause.Error())
	} else {
		c.appendSystem(fmt.Sprintf("Session ended after %s with %d exchanges",
			time.Duration(c.duration)*time.Second, c.reduced.ExchangeCount))
	}

	if c.cleanup != nil {
		c.cleanup()
		c.cleanup = nil
	}
	h := c.handle
	c.handle = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	c.gen++
	c.state = StateIdle
	c.reduce(conversation.Idle())

	log.Info("Session ended", "reason", reason, "duration_seconds", c.duration, "exchanges", c.reduced.ExchangeCount)

	if c.startedAt.IsZero() {
		return h, nil
	}
	sum := &Summary{
		SessionID:       c.sessionID,
		Scenario:        c.scenario.ID,
		Reason:          reason,
		StartedAt:       c.startedAt,
		EndedAt:         c.now(),
		DurationSeconds: c.duration,
		ExchangeCount:   c.reduced.ExchangeCount,
		Metrics:         c.reduced.Metrics,
		Psychology:      c.psychology,
		History:         slices.Clone(c.reduced.History),
	}
	if cause != nil {
		sum.Error = cause.Error()
	}
	return h, sum
}

// fail surfaces err and forces the session back to Idle.
func (c *Controller) fail(err error) {
	c.lastErr = err
	logger.From(c.ctx).Error("Session error", "error", err, "category", parleyErrors.NewDefaultErrorMapper().Category(err))
	c.notify(Notice{Level: NoticeError, Message: err.Error(), Err: err})

	h, sum := c.teardown("error", err)
	c.releaseAsync(h, sum)
}

func (c *Controller) localFailure(action string, err error) {
	err = parleyErrors.LocalAction(action, err)
	logger.From(c.ctx).Warn("Local action failed", "action", action, "error", err)
	c.notify(Notice{Level: NoticeWarning, Message: err.Error(), Err: err})
}

func (c *Controller) releaseAsync(h transport.Handle, sum *Summary) {
	if h == nil && sum == nil {
		return
	}
	c.bg.Add(1)
	concurrency.SafeGo(func() {
		defer c.bg.Done()
		c.finish(h, sum)
	}, nil)
}

// finish releases the adapter and records the session. It runs off the
// loop and never returns an error: failures are logged.
func (c *Controller) finish(h transport.Handle, sum *Summary) {
	if h != nil {
		err := concurrency.RunDetached(c.timings.DisconnectTimeout, func() error {
			return c.adapter.Disconnect(h)
		})
		if err != nil {
			slog.Warn("Adapter release failed", "error", parleyErrors.Cleanup(err))
		}
	}

	if sum != nil && c.recorder != nil {
		ctx := logger.WithSessionID(context.Background(), sum.SessionID)
		if err := c.recorder.RecordSession(ctx, *sum); err != nil {
			logger.From(ctx).Warn("Failed to record session", "error", err)
		}
	}
}

func (c *Controller) notify(n Notice) {
	if c.notifier != nil {
		c.notifier(n)
	}
}

// reset clears everything a previous session left behind.
func (c *Controller) reset() {
	c.stopTicker()
	c.raw = nil
	c.normalized = nil
	c.system = nil
	c.confirmed = nil
	c.reduced = conversation.State{}
	c.startedAt = time.Time{}
	c.duration = 0
	c.lastErr = nil
	c.psychology = nil
	c.normalizer.Reset()
}

func (c *Controller) appendSystem(text string) {
	c.system = append(c.system, history.Entry{
		ID:        "local-" + ulid.Make().String(),
		Role:      history.RoleSystem,
		Content:   text,
		Timestamp: c.now(),
		Kind:      history.KindSystem,
		Local:     true,
	})
}

// reduce is the only place derived state is recomputed.
func (c *Controller) reduce(o *conversation.Overrides) {
	st := conversation.Reduce(conversation.Input{
		Normalized: c.normalized,
		Raw:        c.raw,
		System:     c.system,
		StartedAt:  c.startedAt,
		Active:     c.state == StateActive,
		Now:        c.now(),
		Overrides:  o,
		EchoWindow: c.timings.EchoWindow,
		Confirmed:  c.confirmed,
	})
	for _, id := range st.Confirmed {
		if c.confirmed == nil {
			c.confirmed = make(map[string]bool)
		}
		c.confirmed[id] = true
	}
	if len(st.Superseded) > 0 {
		c.system = slices.DeleteFunc(c.system, func(e history.Entry) bool {
			return slices.Contains(st.Superseded, e.ID)
		})
	}
	c.reduced = st
	c.publish()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
