// Package geminilive is a transport adapter for the Gemini Live API.
package geminilive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/harunnryd/parley/internal/concurrency"
	parleyErrors "github.com/harunnryd/parley/internal/errors"
	"github.com/harunnryd/parley/internal/transport"
)

// voices maps the persona voices scenarios use onto Gemini prebuilt voices.
var voices = map[string]string{
	"alloy":   "Puck",
	"echo":    "Charon",
	"shimmer": "Kore",
	"sage":    "Aoede",
	"verse":   "Fenrir",
}

type Config struct {
	APIKey string
	Model  string
	Clock  func() time.Time
}

// liveSession is the part of *genai.Session the adapter drives.
type liveSession interface {
	Receive() (*genai.LiveServerMessage, error)
	SendClientContent(input genai.LiveClientContentInput) error
	Close() error
}

type dialFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error)

type Adapter struct {
	cfg  Config
	dial dialFunc
}

func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.Model == "" {
		return nil, parleyErrors.InvalidInput("gemini live model is required")
	}
	if cfg.APIKey == "" {
		return nil, parleyErrors.InvalidInput("gemini api key is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	a := &Adapter{cfg: cfg}
	a.dial = a.dialGenAI
	return a, nil
}

func (a *Adapter) dialGenAI(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  a.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client.Live.Connect(ctx, model, cfg)
}

// VoiceName returns the Gemini voice for a persona voice id. Unknown ids
// pass through unchanged.
func VoiceName(voice string) string {
	if v, ok := voices[strings.ToLower(voice)]; ok {
		return v
	}
	return voice
}

func liveConfig(cc transport.ConnectConfig) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cc.Instructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(cc.Instructions, genai.RoleUser)
	}
	if cc.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: VoiceName(cc.Voice)},
			},
		}
	}
	return cfg
}

// Connect opens a Live session. Instructions and voice are fixed at setup;
// the server's setup acknowledgement is reported as SessionConnected.
func (a *Adapter) Connect(ctx context.Context, cc transport.ConnectConfig) (transport.Handle, error) {
	sess, err := a.dial(ctx, a.cfg.Model, liveConfig(cc))
	if err != nil {
		return nil, fmt.Errorf("gemini live connect: %w", err)
	}
	slog.Debug("Gemini live session opened", "session_id", cc.SessionID, "model", a.cfg.Model)
	return newConn(sess, cc.SessionID, a.cfg.Clock), nil
}

func (a *Adapter) Disconnect(h transport.Handle) error {
	c, ok := h.(*Conn)
	if !ok {
		return parleyErrors.InvalidInput(fmt.Sprintf("geminilive: foreign handle %T", h))
	}
	return c.Close()
}

type Conn struct {
	*transport.Emitter

	sess      liveSession
	sessionID string
	turns     *turnLog

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(sess liveSession, sessionID string, now func() time.Time) *Conn {
	return &Conn{
		Emitter:   transport.NewEmitter(),
		sess:      sess,
		sessionID: sessionID,
		turns:     newTurnLog(now),
		closed:    make(chan struct{}),
	}
}

func (c *Conn) StartReceiving() {
	c.startOnce.Do(func() {
		concurrency.SafeGo(c.receiveLoop, func(r interface{}) {
			slog.Error("Gemini receive loop panicked", "session_id", c.sessionID, "panic", r)
			c.Emit(transport.ErrorEvent{Code: "internal", Message: fmt.Sprint(r)})
		})
	})
}

func (c *Conn) History() []transport.RawHistoryItem {
	return c.turns.snapshot()
}

// SendMessage sends text as a complete user turn. Live does not echo client
// content back, so the turn is recorded locally.
func (c *Conn) SendMessage(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return fmt.Errorf("gemini live session closed: %w", parleyErrors.ErrNotActive)
	}
	err := c.sess.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
	})
	if err != nil {
		return err
	}
	c.turns.userText(text)
	c.emitHistory()
	return nil
}

// Interrupt stops local playback of the current reply. Live has no explicit
// cancel; the server interrupts on its own when the user speaks.
func (c *Conn) Interrupt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return fmt.Errorf("gemini live session closed: %w", parleyErrors.ErrNotActive)
	}
	c.turns.endTurn()
	c.Emit(transport.AudioInterrupted{})
	return nil
}

// UpdateSession is a no-op: Live takes its configuration at setup only.
func (c *Conn) UpdateSession(transport.SessionUpdate) error {
	return nil
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.sess.Close()
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

func (c *Conn) receiveLoop() {
	for {
		msg, err := c.sess.Receive()
		if err != nil {
			if c.isClosed() {
				return
			}
			slog.Debug("Gemini receive loop ended", "session_id", c.sessionID, "error", err)
			c.Emit(transport.SessionDisconnected{Reason: err.Error()})
			return
		}
		if msg == nil {
			continue
		}
		for _, ev := range c.translate(msg) {
			c.Emit(ev)
		}
	}
}

// translate turns one server message into events, updating the turn log.
func (c *Conn) translate(msg *genai.LiveServerMessage) []transport.Event {
	var events []transport.Event
	changed := false

	if msg.SetupComplete != nil {
		events = append(events, transport.SessionConnected{SessionID: c.sessionID})
	}

	if sc := msg.ServerContent; sc != nil {
		if t := sc.InputTranscription; t != nil && t.Text != "" {
			c.turns.userTranscript(t.Text)
			changed = true
		}
		if t := sc.OutputTranscription; t != nil && t.Text != "" {
			if id, started := c.turns.assistant("audio", "transcript", t.Text); started {
				events = append(events, transport.ResponseCreated{ResponseID: id})
			}
			changed = true
		}
		if mt := sc.ModelTurn; mt != nil {
			for _, part := range mt.Parts {
				if part == nil || part.Text == "" || part.Thought {
					continue
				}
				if id, started := c.turns.assistant("text", "text", part.Text); started {
					events = append(events, transport.ResponseCreated{ResponseID: id})
				}
				changed = true
			}
		}
		if changed {
			events = append(events, transport.HistoryUpdated{History: c.turns.snapshot()})
			changed = false
		}
		if sc.Interrupted {
			c.turns.endTurn()
			events = append(events, transport.AudioInterrupted{})
		}
		if sc.TurnComplete {
			id := c.turns.endTurn()
			events = append(events, transport.ResponseCompleted{ResponseID: id, Status: "completed"})
		}
	}

	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			c.turns.toolCall(fc.ID, fc.Name, fc.Args)
			changed = true
		}
	}

	if msg.GoAway != nil {
		slog.Warn("Gemini live server is going away", "session_id", c.sessionID)
	}

	if changed {
		events = append(events, transport.HistoryUpdated{History: c.turns.snapshot()})
	}
	return events
}

func (c *Conn) emitHistory() {
	c.Emit(transport.HistoryUpdated{History: c.turns.snapshot()})
}
