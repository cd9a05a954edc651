package transport

import "context"

// ListenerID identifies one registration made with Handle.On.
type ListenerID uint64

// Handler receives events. Handlers are invoked from the adapter's own
// goroutine and must not block.
type Handler func(Event)

// ConnectConfig is what a session hands the adapter when connecting.
type ConnectConfig struct {
	SessionID    string
	Instructions string
	Voice        string
	Metadata     map[string]string
}

// SessionUpdate is pushed after the handshake for two-phase adapters.
type SessionUpdate struct {
	Instructions string
	Voice        string
}

// Adapter opens and releases realtime connections.
type Adapter interface {
	// Connect establishes the realtime connection. It blocks for the
	// network handshake and respects ctx.
	Connect(ctx context.Context, cfg ConnectConfig) (Handle, error)

	// Disconnect releases a handle. Callers treat it as fire-and-forget.
	Disconnect(h Handle) error
}

// Handle is one live connection.
type Handle interface {
	On(name EventName, h Handler) ListenerID
	SendMessage(ctx context.Context, text string) error
	Interrupt(ctx context.Context) error
	UpdateSession(update SessionUpdate) error
}

// Unsubscriber is implemented by handles that support Off.
type Unsubscriber interface {
	Off(name EventName, id ListenerID)
}

// ListenerRemover is the fallback unsubscription interface.
type ListenerRemover interface {
	RemoveListener(name EventName, id ListenerID)
}

// HistoryProvider is implemented by handles that can be polled for their
// current full history.
type HistoryProvider interface {
	History() []RawHistoryItem
}

// Receiver is implemented by handles that hold back inbound events until
// StartReceiving is called, so no event is emitted before the caller has
// registered its handlers.
type Receiver interface {
	StartReceiving()
}

// Unsubscribe removes a registration using Off, falling back to
// RemoveListener. It reports false when the handle supports neither.
func Unsubscribe(h Handle, name EventName, id ListenerID) bool {
	switch u := h.(type) {
	case Unsubscriber:
		u.Off(name, id)
		return true
	case ListenerRemover:
		u.RemoveListener(name, id)
		return true
	default:
		return false
	}
}
