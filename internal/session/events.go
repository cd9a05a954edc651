package session

import (
	"time"

	"github.com/harunnryd/parley/internal/conversation"
	parleyErrors "github.com/harunnryd/parley/internal/errors"
	"github.com/harunnryd/parley/internal/logger"
	"github.com/harunnryd/parley/internal/transport"
)

// handleEvent is the single dispatch point for adapter events. Events from
// an earlier connection attempt are dropped.
func (c *Controller) handleEvent(gen uint64, ev transport.Event) {
	if gen != c.gen || c.handle == nil {
		return
	}
	log := logger.From(c.ctx)

	switch e := ev.(type) {
	case transport.SessionCreated:
		c.activate()
		if c.state == StateActive {
			update := transport.SessionUpdate{Instructions: c.instructions, Voice: c.voice}
			if err := c.handle.UpdateSession(update); err != nil {
				log.Warn("Session update rejected", "error", err)
				c.notify(Notice{Level: NoticeWarning, Message: "session update rejected: " + err.Error(), Err: err})
			}
		}
		if e.SessionID != "" {
			log.Debug("Remote session created", "remote_session", e.SessionID)
		}

	case transport.SessionConnected, transport.SessionUpdated:
		c.activate()

	case transport.SessionDisconnected:
		log.Info("Remote closed the session", "reason", e.Reason)
		h, sum := c.teardown("disconnected", nil)
		c.releaseAsync(h, sum)

	case transport.ErrorEvent:
		if e.Action != "" {
			c.localFailure(e.Action, parleyErrors.Adapter(e.Error()))
			return
		}
		c.fail(parleyErrors.Adapter(e.Error()))

	case transport.HistoryUpdated:
		if c.state != StateActive {
			return
		}
		items, ok := e.Snapshot()
		if !ok {
			p, polls := c.handle.(transport.HistoryProvider)
			if !polls {
				log.Debug("History update without payload from a handle that cannot be polled")
				return
			}
			items = p.History()
		}
		c.raw = items
		res := c.normalizer.Normalize(items)
		c.normalized = res.Entries
		if len(res.Warnings) > 0 {
			log.Debug("History normalized with skipped fragments", "skipped", len(res.Warnings))
		}
		c.reduce(nil)

	case transport.ResponseCreated:
		if c.state == StateActive {
			c.reduce(conversation.Speaking())
		}

	case transport.ResponseCompleted:
		if c.state == StateActive {
			c.reduce(conversation.Listening())
		}

	case transport.AudioInterrupted:
		if c.state == StateActive {
			c.appendSystem("Playback interrupted")
			c.reduce(conversation.Listening())
		}

	case transport.SpeechStarted:
		if c.state == StateActive {
			c.reduce(conversation.Listening())
		}

	case transport.SpeechStopped:
		if c.state == StateActive {
			c.reduce(nil)
		}
	}
}

func (c *Controller) activate() {
	if c.state != StateConnecting {
		return
	}
	c.state = StateActive
	c.startedAt = c.now()
	c.duration = 0
	c.startTicker(c.gen)
	c.appendSystem("Connected")
	c.reduce(conversation.Listening())
	logger.From(c.ctx).Info("Session active")
}

// startTicker runs the duration timer. It only runs while the session is
// active and is the only writer of the duration.
func (c *Controller) startTicker(gen uint64) {
	c.stopTicker()

	stop := make(chan struct{})
	c.stopTick = stop
	ticker := time.NewTicker(c.timings.Tick)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !c.post(func() { c.onTick(gen) }) {
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (c *Controller) stopTicker() {
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
}

func (c *Controller) onTick(gen uint64) {
	if gen != c.gen || c.state != StateActive {
		return
	}
	c.duration = max(int64(c.now().Sub(c.startedAt)/time.Second), 0)
	c.publish()
}
