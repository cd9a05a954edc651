package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	parleyErrors "github.com/harunnryd/parley/internal/errors"
	"github.com/harunnryd/parley/internal/transport"
)

// textKeys are the fragment fields that carry text, in extraction order.
var textKeys = []string{"text", "transcript", "delta", "value"}

// Result is the outcome of normalizing one snapshot.
type Result struct {
	Entries []Entry
	// Warnings lists fragments that were skipped. They are logged, never
	// surfaced to the session's caller.
	Warnings []error
}

// Normalize flattens a full history snapshot into entries. Items without a
// parseable creation time are stamped with now.
func Normalize(items []transport.RawHistoryItem, now time.Time) []Entry {
	return NormalizeDetailed(items, now).Entries
}

func NormalizeDetailed(items []transport.RawHistoryItem, now time.Time) Result {
	return normalize(items, func(int, transport.RawHistoryItem, Role) time.Time { return now })
}

// Normalizer normalizes successive snapshots of the same session. It pins
// the fallback timestamp of every item to the first time the item was seen,
// so re-normalizing an unchanged snapshot yields identical entries.
type Normalizer struct {
	mu     sync.Mutex
	now    func() time.Time
	pinned map[string]time.Time
}

func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now, pinned: make(map[string]time.Time)}
}

func (n *Normalizer) Normalize(items []transport.RawHistoryItem) Result {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	return normalize(items, func(i int, item transport.RawHistoryItem, role Role) time.Time {
		key := item.ID
		if key == "" {
			key = fmt.Sprintf("#%d/%s", i, role)
		}
		if ts, ok := n.pinned[key]; ok {
			return ts
		}
		n.pinned[key] = now
		return now
	})
}

// Reset forgets pinned timestamps. Called when a new session starts.
func (n *Normalizer) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pinned = make(map[string]time.Time)
}

type stampFunc func(i int, item transport.RawHistoryItem, role Role) time.Time

func normalize(items []transport.RawHistoryItem, fallback stampFunc) Result {
	res := Result{Entries: make([]Entry, 0, len(items))}

	for i, item := range items {
		role := RoleOf(item.Role)

		x := extractor{itemID: item.ID}
		x.content(item.Content)
		res.Warnings = append(res.Warnings, x.warnings...)

		text := strings.Join(x.texts, " ")

		kind := KindTranscript
		switch {
		case x.audio:
			kind = KindAudio
		case role == RoleSystem:
			kind = KindSystem
		}

		if text == "" {
			if kind != KindAudio {
				continue
			}
			text = AudioPlaceholder
		}

		ts, ok := ParseTimestamp(item.CreatedAt)
		if !ok {
			ts = fallback(i, item, role)
		}

		id := item.ID
		if id == "" {
			id = fmt.Sprintf("item-%d", i)
		}

		res.Entries = append(res.Entries, Entry{
			ID:        id,
			Role:      role,
			Content:   text,
			Timestamp: ts,
			Kind:      kind,
		})
	}

	return res
}

// RoleOf maps a raw role tag: user and assistant pass through, anything
// else is system.
func RoleOf(tag string) Role {
	switch Role(tag) {
	case RoleUser, RoleAssistant:
		return Role(tag)
	default:
		return RoleSystem
	}
}

type extractor struct {
	itemID   string
	texts    []string
	audio    bool
	warnings []error
}

func (x *extractor) add(s string) {
	if s = strings.TrimSpace(s); s != "" {
		x.texts = append(x.texts, s)
	}
}

func (x *extractor) content(v any) {
	switch c := v.(type) {
	case nil:
	case string:
		x.add(c)
	case []any:
		for _, f := range c {
			x.fragment(f)
		}
	case []map[string]any:
		for _, f := range c {
			x.fragmentObject(f)
		}
	case []string:
		for _, s := range c {
			x.add(s)
		}
	case map[string]any:
		x.object(c)
	default:
		if s, ok := scalarString(c); ok {
			x.add(s)
			return
		}
		x.serialize(c)
	}
}

// object handles content given as a single object rather than fragments.
func (x *extractor) object(m map[string]any) {
	text, hasText := textValue(m["text"])
	transcript, hasTranscript := textValue(m["transcript"])
	hasText = hasText && strings.TrimSpace(text) != ""
	hasTranscript = hasTranscript && strings.TrimSpace(transcript) != ""

	if hasText || hasTranscript {
		x.add(text)
		x.add(transcript)
		if hasTranscript && !hasText {
			x.audio = true
		}
		if isAudioType(m["type"]) {
			x.audio = true
		}
		return
	}

	if nested, ok := m["content"]; ok && nested != nil {
		if isAudioType(m["type"]) {
			x.audio = true
		}
		x.content(nested)
		return
	}

	x.fragmentObject(m)
}

func (x *extractor) fragment(f any) {
	switch t := f.(type) {
	case nil:
	case string:
		x.add(t)
	case map[string]any:
		x.fragmentObject(t)
	default:
		if s, ok := scalarString(t); ok {
			x.add(s)
			return
		}
		x.serialize(t)
	}
}

func (x *extractor) fragmentObject(m map[string]any) {
	audio := isAudioType(m["type"])
	if audio {
		x.audio = true
	}

	found := false
	for _, key := range textKeys {
		if s, ok := textValue(m[key]); ok {
			x.add(s)
			found = true
		}
	}
	if found || audio {
		return
	}

	x.serialize(m)
}

// serialize keeps an unrecognized fragment visible as JSON. Fragments that
// cannot be serialized are skipped with a warning.
func (x *extractor) serialize(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w := parleyErrors.Malformed(fmt.Sprintf("item %q: unserializable fragment: %v", x.itemID, err))
		slog.Warn("Skipping malformed history fragment", "item", x.itemID, "error", err)
		x.warnings = append(x.warnings, w)
		return
	}
	x.add(string(b))
}

func isAudioType(v any) bool {
	s, ok := v.(string)
	return ok && strings.Contains(strings.ToLower(s), "audio")
}

// textValue reduces a text-bearing field to a string. Nested objects are
// searched for their own text or transcript.
func textValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case map[string]any:
		for _, key := range textKeys {
			if s, ok := textValue(t[key]); ok {
				return s, true
			}
		}
		return "", false
	default:
		return scalarString(t)
	}
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t), true
	case float32, float64:
		return fmt.Sprint(t), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}
