package transport

import (
	"slices"
	"sync"
)

// Emitter is a listener registry adapters embed to implement On and Off.
type Emitter struct {
	mu        sync.RWMutex
	next      ListenerID
	listeners map[EventName]map[ListenerID]Handler
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[EventName]map[ListenerID]Handler)}
}

func (e *Emitter) On(name EventName, h Handler) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = make(map[EventName]map[ListenerID]Handler)
	}
	e.next++
	id := e.next
	if e.listeners[name] == nil {
		e.listeners[name] = make(map[ListenerID]Handler)
	}
	e.listeners[name][id] = h
	return id
}

func (e *Emitter) Off(name EventName, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.listeners[name], id)
	if len(e.listeners[name]) == 0 {
		delete(e.listeners, name)
	}
}

// ListenerCount returns the number of live registrations across all names.
func (e *Emitter) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := 0
	for _, m := range e.listeners {
		n += len(m)
	}
	return n
}

// Emit calls the handlers registered for ev's name in registration order.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	regs := e.listeners[ev.EventName()]
	ids := make([]ListenerID, 0, len(regs))
	for id := range regs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, regs[id])
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
