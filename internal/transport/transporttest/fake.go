// Package transporttest provides a scripted in-memory transport for tests.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/parley/internal/transport"
)

// Adapter is a scripted transport.Adapter. Set the exported fields before
// use to make the next operations fail, panic or block.
type Adapter struct {
	mu sync.Mutex

	ConnectErr error
	// ConnectGate, when non-nil, holds Connect until it is closed or the
	// context ends.
	ConnectGate chan struct{}

	DisconnectErr   error
	DisconnectPanic any
	// DisconnectGate, when non-nil, holds Disconnect until it is closed.
	DisconnectGate chan struct{}

	// Legacy makes handles expose RemoveListener instead of Off.
	Legacy bool

	// OnConnect runs after a handle is created and before Connect returns.
	OnConnect func(c *Conn)

	connects    []transport.ConnectConfig
	conns       []*Conn
	disconnects int
	released    chan struct{}
}

func NewAdapter() *Adapter {
	return &Adapter{released: make(chan struct{}, 16)}
}

func (a *Adapter) Connect(ctx context.Context, cfg transport.ConnectConfig) (transport.Handle, error) {
	a.mu.Lock()
	a.connects = append(a.connects, cfg)
	gate, connectErr, legacy, onConnect := a.ConnectGate, a.ConnectErr, a.Legacy, a.OnConnect
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if connectErr != nil {
		return nil, connectErr
	}

	c := newConn(cfg)
	a.mu.Lock()
	a.conns = append(a.conns, c)
	a.mu.Unlock()

	if onConnect != nil {
		onConnect(c)
	}
	if legacy {
		return &LegacyHandle{Conn: c}, nil
	}
	return &Handle{Conn: c}, nil
}

func (a *Adapter) Disconnect(h transport.Handle) error {
	a.mu.Lock()
	a.disconnects++
	gate, err, p := a.DisconnectGate, a.DisconnectErr, a.DisconnectPanic
	a.mu.Unlock()

	if c := connOf(h); c != nil {
		c.markClosed()
	}
	defer func() {
		select {
		case a.released <- struct{}{}:
		default:
		}
	}()

	if gate != nil {
		<-gate
	}
	if p != nil {
		panic(p)
	}
	return err
}

// Last returns the most recently connected Conn, or nil.
func (a *Adapter) Last() *Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.conns) == 0 {
		return nil
	}
	return a.conns[len(a.conns)-1]
}

func (a *Adapter) Conns() []*Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Conn(nil), a.conns...)
}

func (a *Adapter) Connects() []transport.ConnectConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]transport.ConnectConfig(nil), a.connects...)
}

func (a *Adapter) Disconnects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disconnects
}

// Released is signalled every time a Disconnect call returns or panics.
func (a *Adapter) Released() <-chan struct{} {
	return a.released
}

// Conn is the scripted state behind one handle.
type Conn struct {
	emitter *transport.Emitter
	cfg     transport.ConnectConfig

	mu           sync.Mutex
	SendErr      error
	InterruptErr error
	UpdateErr    error
	sent         []string
	interrupts   int
	updates      []transport.SessionUpdate
	history      []transport.RawHistoryItem
	closed       bool
}

func newConn(cfg transport.ConnectConfig) *Conn {
	return &Conn{emitter: transport.NewEmitter(), cfg: cfg}
}

func (c *Conn) Config() transport.ConnectConfig { return c.cfg }

func (c *Conn) On(name transport.EventName, h transport.Handler) transport.ListenerID {
	return c.emitter.On(name, h)
}

func (c *Conn) SendMessage(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("transporttest: connection closed")
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *Conn) Interrupt(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InterruptErr != nil {
		return c.InterruptErr
	}
	c.interrupts++
	return nil
}

func (c *Conn) UpdateSession(update transport.SessionUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.UpdateErr != nil {
		return c.UpdateErr
	}
	c.updates = append(c.updates, update)
	return nil
}

func (c *Conn) History() []transport.RawHistoryItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return transport.CloneItems(c.history)
}

// SetHistory replaces what History returns for polling receivers.
func (c *Conn) SetHistory(items []transport.RawHistoryItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = transport.CloneItems(items)
}

// Emit delivers ev synchronously to the registered handlers.
func (c *Conn) Emit(ev transport.Event) {
	c.emitter.Emit(ev)
}

// EmitHistory sets the pollable history and emits it as a snapshot.
func (c *Conn) EmitHistory(items []transport.RawHistoryItem) {
	c.SetHistory(items)
	c.Emit(transport.HistoryUpdated{History: transport.CloneItems(items)})
}

func (c *Conn) Listeners() int { return c.emitter.ListenerCount() }

func (c *Conn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *Conn) Interrupts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupts
}

func (c *Conn) Updates() []transport.SessionUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.SessionUpdate(nil), c.updates...)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Handle supports Off.
type Handle struct {
	*Conn
}

func (h *Handle) Off(name transport.EventName, id transport.ListenerID) {
	h.emitter.Off(name, id)
}

// LegacyHandle only supports RemoveListener.
type LegacyHandle struct {
	*Conn
}

func (h *LegacyHandle) RemoveListener(name transport.EventName, id transport.ListenerID) {
	h.emitter.Off(name, id)
}

func connOf(h transport.Handle) *Conn {
	switch v := h.(type) {
	case *Handle:
		return v.Conn
	case *LegacyHandle:
		return v.Conn
	default:
		return nil
	}
}
