// Package realtimews is a transport adapter for OpenAI-style realtime
// endpoints spoken over a websocket.
package realtimews

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/parley/internal/concurrency"
	parleyErrors "github.com/harunnryd/parley/internal/errors"
	"github.com/harunnryd/parley/internal/transport"
)

const defaultHandshakeTimeout = 15 * time.Second

type Config struct {
	URL                string
	Model              string
	APIKey             string
	TranscriptionModel string
	HandshakeTimeout   time.Duration
	Clock              func() time.Time
}

type Adapter struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, parleyErrors.InvalidInput("realtime url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, parleyErrors.InvalidInput(fmt.Sprintf("realtime url: %v", err))
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Adapter{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

func (a *Adapter) endpoint() string {
	u, _ := url.Parse(a.cfg.URL)
	if a.cfg.Model != "" {
		q := u.Query()
		q.Set("model", a.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (a *Adapter) Connect(ctx context.Context, cfg transport.ConnectConfig) (transport.Handle, error) {
	headers := http.Header{}
	if a.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
	headers.Set("OpenAI-Beta", "realtime=v1")

	ws, resp, err := a.dialer.DialContext(ctx, a.endpoint(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	slog.Debug("Realtime websocket connected", "session_id", cfg.SessionID, "model", a.cfg.Model)
	return newConn(ws, a.cfg, cfg), nil
}

func (a *Adapter) Disconnect(h transport.Handle) error {
	c, ok := h.(*Conn)
	if !ok {
		return parleyErrors.InvalidInput(fmt.Sprintf("realtimews: foreign handle %T", h))
	}
	return c.Close()
}

// Conn is one realtime websocket connection. Inbound events are held back
// until StartReceiving.
type Conn struct {
	*transport.Emitter

	ws        *websocket.Conn
	cfg       Config
	sessionID string
	store     *itemStore
	sent      *sentLog

	writeMu   sync.Mutex
	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, cfg Config, cc transport.ConnectConfig) *Conn {
	return &Conn{
		Emitter:   transport.NewEmitter(),
		ws:        ws,
		cfg:       cfg,
		sessionID: cc.SessionID,
		store:     newItemStore(cfg.Clock),
		sent:      newSentLog(),
		closed:    make(chan struct{}),
	}
}

func (c *Conn) StartReceiving() {
	c.startOnce.Do(func() {
		concurrency.SafeGo(c.readLoop, func(r interface{}) {
			slog.Error("Realtime read loop panicked", "session_id", c.sessionID, "panic", r)
			c.Emit(transport.ErrorEvent{Code: "internal", Message: fmt.Sprint(r)})
		})
	})
}

func (c *Conn) History() []transport.RawHistoryItem {
	return c.store.snapshot()
}

func (c *Conn) SendMessage(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	item := map[string]any{
		"type": "message",
		"role": "user",
		"content": []map[string]any{
			{"type": "input_text", "text": text},
		},
	}
	if err := c.send(map[string]any{"type": typeConversationCreate, "item": item}); err != nil {
		return err
	}
	return c.send(map[string]any{"type": typeResponseCreate})
}

func (c *Conn) Interrupt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.send(map[string]any{"type": typeResponseCancel})
}

func (c *Conn) UpdateSession(update transport.SessionUpdate) error {
	session := map[string]any{
		"modalities": []string{"text", "audio"},
	}
	if update.Instructions != "" {
		session["instructions"] = update.Instructions
	}
	if update.Voice != "" {
		session["voice"] = update.Voice
	}
	if c.cfg.TranscriptionModel != "" {
		session["input_audio_transcription"] = map[string]any{"model": c.cfg.TranscriptionModel}
	}
	return c.send(map[string]any{"type": typeSessionUpdate, "session": session})
}

// Close sends a close frame and closes the socket. Only the first call
// has any effect.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) send(event map[string]any) error {
	if c.isClosed() {
		return fmt.Errorf("realtime connection closed: %w", parleyErrors.ErrNotActive)
	}
	eventType, _ := event["type"].(string)
	event["event_id"] = c.sent.add(eventType)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	slog.Debug("Sending realtime event", "type", eventType, "event_id", event["event_id"], "session_id", c.sessionID)
	return c.ws.WriteJSON(event)
}

func (c *Conn) readLoop() {
	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			reason := err.Error()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "closed by server"
			}
			slog.Debug("Realtime read loop ended", "session_id", c.sessionID, "reason", reason)
			c.Emit(transport.SessionDisconnected{Reason: reason})
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			slog.Warn("Skipping malformed realtime event", "session_id", c.sessionID, "error", err)
			continue
		}
		c.dispatch(ev)
	}
}

func (c *Conn) dispatch(ev serverEvent) {
	switch ev.Type {
	case typeSessionCreated:
		c.Emit(transport.SessionCreated{SessionID: sessionRefID(ev.Session)})
	case typeSessionUpdated:
		c.Emit(transport.SessionUpdated{SessionID: sessionRefID(ev.Session)})

	case typeItemCreated, typeOutputItemAdded, typeOutputItemDone:
		if ev.Item == nil {
			return
		}
		c.store.upsert(*ev.Item, ev.PreviousItemID)
		c.emitHistory()
	case typeItemDeleted:
		if c.store.remove(ev.ItemID) {
			c.emitHistory()
		}
	case typeInputTranscriptDone:
		c.updatePart(ev, "input_audio", func(p *contentPart) { p.Transcript = ev.Transcript })
	case typeAudioTranscriptDelta:
		c.updatePart(ev, "audio", func(p *contentPart) { p.Transcript += ev.Delta })
	case typeAudioTranscriptDone:
		c.updatePart(ev, "audio", func(p *contentPart) { p.Transcript = ev.Transcript })
	case typeTextDelta:
		c.updatePart(ev, "text", func(p *contentPart) { p.Text += ev.Delta })
	case typeTextDone:
		c.updatePart(ev, "text", func(p *contentPart) { p.Text = ev.Text })
	case typeFunctionArgumentsDone:
		if c.store.setArguments(ev.ItemID, ev.Arguments) {
			c.emitHistory()
		}

	case typeItemTruncated, typeOutputAudioCleared:
		c.Emit(transport.AudioInterrupted{})
	case typeResponseCreated:
		c.Emit(transport.ResponseCreated{ResponseID: responseRefID(ev.Response)})
	case typeResponseDone:
		done := transport.ResponseCompleted{}
		if ev.Response != nil {
			done.ResponseID = ev.Response.ID
			done.Status = ev.Response.Status
		}
		c.Emit(done)
	case typeSpeechStarted:
		c.Emit(transport.SpeechStarted{})
	case typeSpeechStopped:
		c.Emit(transport.SpeechStopped{})
	case typeError:
		e := transport.ErrorEvent{Message: "unknown realtime error"}
		if ev.Error != nil {
			e.Code = ev.Error.Code
			if e.Code == "" {
				e.Code = ev.Error.Type
			}
			if ev.Error.Message != "" {
				e.Message = ev.Error.Message
			}
			e.Action = c.sent.rejection(ev.Error)
		}
		if e.Action != "" {
			slog.Warn("Realtime request rejected", "session_id", c.sessionID, "action", e.Action, "code", e.Code, "message", e.Message)
		}
		c.Emit(e)
	default:
		slog.Debug("Ignoring realtime event", "type", ev.Type, "session_id", c.sessionID)
	}
}

func (c *Conn) updatePart(ev serverEvent, partType string, fn func(*contentPart)) {
	if c.store.updatePart(ev.ItemID, ev.ContentIndex, partType, fn) {
		c.emitHistory()
	}
}

func (c *Conn) emitHistory() {
	c.Emit(transport.HistoryUpdated{History: c.store.snapshot()})
}

func sessionRefID(s *sessionRef) string {
	if s == nil {
		return ""
	}
	return s.ID
}

func responseRefID(r *responseRef) string {
	if r == nil {
		return ""
	}
	return r.ID
}
