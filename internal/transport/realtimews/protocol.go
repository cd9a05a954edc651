package realtimews

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/harunnryd/parley/internal/transport"
)

// Client event types.
const (
	typeSessionUpdate      = "session.update"
	typeConversationCreate = "conversation.item.create"
	typeResponseCreate     = "response.create"
	typeResponseCancel     = "response.cancel"
)

// Server event types.
const (
	typeError                  = "error"
	typeSessionCreated         = "session.created"
	typeSessionUpdated         = "session.updated"
	typeItemCreated            = "conversation.item.created"
	typeItemDeleted            = "conversation.item.deleted"
	typeItemTruncated          = "conversation.item.truncated"
	typeInputTranscriptDone    = "conversation.item.input_audio_transcription.completed"
	typeSpeechStarted          = "input_audio_buffer.speech_started"
	typeSpeechStopped          = "input_audio_buffer.speech_stopped"
	typeOutputAudioCleared     = "output_audio_buffer.cleared"
	typeResponseCreated        = "response.created"
	typeResponseDone           = "response.done"
	typeOutputItemAdded        = "response.output_item.added"
	typeOutputItemDone         = "response.output_item.done"
	typeTextDelta              = "response.text.delta"
	typeTextDone               = "response.text.done"
	typeAudioTranscriptDelta   = "response.audio_transcript.delta"
	typeAudioTranscriptDone    = "response.audio_transcript.done"
	typeFunctionArgumentsDone  = "response.function_call_arguments.done"
	itemTypeFunctionCall       = "function_call"
	itemTypeFunctionCallOutput = "function_call_output"
)

type serverEvent struct {
	Type           string       `json:"type"`
	EventID        string       `json:"event_id,omitempty"`
	Session        *sessionRef  `json:"session,omitempty"`
	Item           *wireItem    `json:"item,omitempty"`
	PreviousItemID string       `json:"previous_item_id,omitempty"`
	ItemID         string       `json:"item_id,omitempty"`
	ContentIndex   int          `json:"content_index,omitempty"`
	Delta          string       `json:"delta,omitempty"`
	Text           string       `json:"text,omitempty"`
	Transcript     string       `json:"transcript,omitempty"`
	Arguments      string       `json:"arguments,omitempty"`
	Response       *responseRef `json:"response,omitempty"`
	Error          *wireError   `json:"error,omitempty"`
}

type sessionRef struct {
	ID string `json:"id,omitempty"`
}

type responseRef struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
}

type wireError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	// EventID names the client event that caused the error, if any.
	EventID string `json:"event_id,omitempty"`
}

const errTypeInvalidRequest = "invalid_request_error"

// actionOf maps a client event type to the controller action behind it.
func actionOf(eventType string) string {
	switch eventType {
	case typeResponseCancel:
		return "interrupt"
	case typeConversationCreate, typeResponseCreate:
		return "send"
	case typeSessionUpdate:
		return "update session"
	default:
		return "request"
	}
}

const sentLogSize = 32

// sentLog remembers the types of the most recent client events by id.
type sentLog struct {
	mu    sync.Mutex
	seq   uint64
	ids   []string
	types map[string]string
}

func newSentLog() *sentLog {
	return &sentLog{types: make(map[string]string)}
}

func (l *sentLog) add(eventType string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	id := fmt.Sprintf("evt_parley_%d", l.seq)
	l.ids = append(l.ids, id)
	l.types[id] = eventType
	if len(l.ids) > sentLogSize {
		delete(l.types, l.ids[0])
		l.ids = l.ids[1:]
	}
	return id
}

func (l *sentLog) lookup(id string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.types[id]
	return t, ok
}

// rejection reports which client action a server error refused. Errors
// that neither reference a client event nor are request validation
// errors are session-level and yield "".
func (l *sentLog) rejection(e *wireError) string {
	if e == nil {
		return ""
	}
	if e.EventID != "" {
		if t, ok := l.lookup(e.EventID); ok {
			return actionOf(t)
		}
	}
	if e.Type == errTypeInvalidRequest {
		return "request"
	}
	return ""
}

type wireItem struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type,omitempty"`
	Role      string        `json:"role,omitempty"`
	Status    string        `json:"status,omitempty"`
	Content   []contentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

type contentPart struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// itemStore keeps the conversation items of one connection in server order
// and renders them as full history snapshots.
type itemStore struct {
	mu      sync.Mutex
	now     func() time.Time
	items   []*storedItem
	created map[string]time.Time
}

type storedItem struct {
	wireItem
	createdAt time.Time
}

func newItemStore(now func() time.Time) *itemStore {
	return &itemStore{now: now, created: make(map[string]time.Time)}
}

func (s *itemStore) find(id string) int {
	return slices.IndexFunc(s.items, func(it *storedItem) bool { return it.ID == id })
}

// upsert records an item. A known item is replaced in place, keeping its
// first-seen time; a new one goes after previousID, or last.
func (s *itemStore) upsert(item wireItem, previousID string) {
	if item.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.find(item.ID); i >= 0 {
		old := s.items[i]
		if len(item.Content) == 0 {
			item.Content = old.Content
		}
		if item.Arguments == "" {
			item.Arguments = old.Arguments
		}
		s.items[i] = &storedItem{wireItem: item, createdAt: old.createdAt}
		return
	}

	created, ok := s.created[item.ID]
	if !ok {
		created = s.now()
		s.created[item.ID] = created
	}
	stored := &storedItem{wireItem: item, createdAt: created}

	if previousID != "" {
		if i := s.find(previousID); i >= 0 {
			s.items = slices.Insert(s.items, i+1, stored)
			return
		}
	}
	s.items = append(s.items, stored)
}

func (s *itemStore) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(id)
	if i < 0 {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	return true
}

// updatePart applies fn to content part index of item id, growing the part
// list as needed. It reports false for unknown items.
func (s *itemStore) updatePart(id string, index int, partType string, fn func(*contentPart)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(id)
	if i < 0 || index < 0 {
		return false
	}
	it := s.items[i]
	for len(it.Content) <= index {
		it.Content = append(it.Content, contentPart{Type: partType})
	}
	fn(&it.Content[index])
	return true
}

func (s *itemStore) setArguments(id, args string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(id)
	if i < 0 {
		return false
	}
	s.items[i].Arguments = args
	return true
}

func (s *itemStore) snapshot() []transport.RawHistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]transport.RawHistoryItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.raw())
	}
	return out
}

func (it *storedItem) raw() transport.RawHistoryItem {
	raw := transport.RawHistoryItem{
		ID:        it.ID,
		Type:      transport.ItemTypeMessage,
		Role:      it.Role,
		CreatedAt: transport.Stamp(it.createdAt),
	}

	switch it.Type {
	case itemTypeFunctionCall:
		raw.Type = transport.ItemTypeToolCall
		raw.Role = "tool"
		raw.Content = []any{transport.Fragment(transport.ItemTypeToolCall, "value", it.Name+"("+it.Arguments+")")}
	case itemTypeFunctionCallOutput:
		raw.Type = transport.ItemTypeToolResult
		raw.Role = "tool"
		raw.Content = []any{transport.Fragment(transport.ItemTypeToolResult, "value", it.Output)}
	default:
		frags := make([]any, 0, len(it.Content))
		for _, p := range it.Content {
			f := map[string]any{"type": p.Type}
			if p.Text != "" {
				f["text"] = p.Text
			}
			if p.Transcript != "" {
				f["transcript"] = p.Transcript
			}
			frags = append(frags, f)
		}
		raw.Content = frags
	}
	return raw
}
