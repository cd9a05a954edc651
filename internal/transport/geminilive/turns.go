package geminilive

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/harunnryd/parley/internal/transport"
)

// turnLog accumulates the Live stream into history items. Transcription
// chunks of the same turn extend one user and one assistant item.
type turnLog struct {
	mu        sync.Mutex
	now       func() time.Time
	seq       int
	items     []transport.RawHistoryItem
	user      int
	assistant int
}

func newTurnLog(now func() time.Time) *turnLog {
	return &turnLog{now: now, user: -1, assistant: -1}
}

func (l *turnLog) add(role, itemType string, content any) int {
	l.seq++
	l.items = append(l.items, transport.RawHistoryItem{
		ID:        fmt.Sprintf("%s-%d", role, l.seq),
		Type:      itemType,
		Role:      role,
		Content:   content,
		CreatedAt: transport.Stamp(l.now()),
	})
	return len(l.items) - 1
}

// appendTo extends the single fragment of item i.
func (l *turnLog) appendTo(i int, key, text string) {
	frags := l.items[i].Content.([]any)
	frag := frags[0].(map[string]any)
	prev, _ := frag[key].(string)
	frag[key] = prev + text
}

func (l *turnLog) userTranscript(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.user < 0 {
		l.user = l.add("user", transport.ItemTypeMessage, []any{transport.Fragment("input_audio", "transcript", "")})
	}
	l.appendTo(l.user, "transcript", text)
}

// userText records a typed user turn. It closes any open turn.
func (l *turnLog) userText(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.add("user", transport.ItemTypeMessage, []any{transport.Fragment("input_text", "text", text)})
	l.user, l.assistant = -1, -1
}

// assistant extends the current assistant item, starting one when needed.
// It returns the item id and whether the item is new.
func (l *turnLog) assistant(partType, key, text string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	started := false
	if l.assistant < 0 {
		l.assistant = l.add("assistant", transport.ItemTypeMessage, []any{transport.Fragment(partType, key, "")})
		started = true
	}
	l.appendTo(l.assistant, key, text)
	return l.items[l.assistant].ID, started
}

func (l *turnLog) toolCall(id, name string, args map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte("{}")
	}
	i := l.add("tool", transport.ItemTypeToolCall, []any{
		transport.Fragment(transport.ItemTypeToolCall, "value", name+"("+string(encoded)+")"),
	})
	if id != "" {
		l.items[i].ID = id
	}
}

// endTurn closes the open turn and returns the assistant item id, if any.
func (l *turnLog) endTurn() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := ""
	if l.assistant >= 0 {
		id = l.items[l.assistant].ID
	}
	l.user, l.assistant = -1, -1
	return id
}

func (l *turnLog) snapshot() []transport.RawHistoryItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return transport.CloneItems(l.items)
}
