package session

import "slices"

func (c *Controller) publish() {
	s := Snapshot{
		SessionID:              c.sessionID,
		Scenario:               c.scenario.ID,
		State:                  c.state,
		IsConnected:            c.state == StateActive,
		IsConnecting:           c.state == StateConnecting,
		IsSpeaking:             c.reduced.IsSpeaking,
		IsListening:            c.reduced.IsListening,
		History:                slices.Clone(c.reduced.History),
		Metrics:                c.reduced.Metrics,
		ExchangeCount:          c.reduced.ExchangeCount,
		SessionDurationSeconds: c.duration,
		StartedAt:              c.startedAt,
		LastError:              c.lastErr,
	}

	c.snapMu.Lock()
	c.snap = s
	c.snapMu.Unlock()

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		offer(ch, s)
	}
}

// offer replaces whatever ch holds with s.
func offer(ch chan Snapshot, s Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()

	s := c.snap
	s.History = slices.Clone(s.History)
	return s
}

// Subscribe returns a channel that always holds the most recent snapshot.
// Intermediate snapshots are dropped for slow readers. The channel is
// closed by the returned cancel function or by Close.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- c.Snapshot()

	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if c.closed() {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	return ch, func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}
