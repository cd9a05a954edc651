package transport

import "time"

// Item types adapters use for tool activity. Any type containing "tool" is
// counted as a tool call.
const (
	ItemTypeMessage    = "message"
	ItemTypeToolCall   = "tool_call"
	ItemTypeToolResult = "tool_result"
)

// RawHistoryItem is one entry of an adapter's full history snapshot, in the
// loosely typed shape realtime protocols deliver.
//
// Content is decoded-JSON shaped: a string, a []any of fragments (strings or
// map[string]any with type/text/transcript/delta/value keys), a
// map[string]any, another scalar, or nil. CreatedAt is an RFC3339 string, a
// unix timestamp in seconds or milliseconds, a time.Time, or nil.
type RawHistoryItem struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type,omitempty"`
	Role      string `json:"role,omitempty"`
	Content   any    `json:"content,omitempty"`
	CreatedAt any    `json:"created_at,omitempty"`
}

// Fragment builds a content fragment map.
func Fragment(kind string, fields ...string) map[string]any {
	f := map[string]any{"type": kind}
	for i := 0; i+1 < len(fields); i += 2 {
		f[fields[i]] = fields[i+1]
	}
	return f
}

// CloneItems copies a snapshot so a receiver can hold it while the adapter
// keeps mutating its own store. Fragment maps are copied one level deep.
func CloneItems(items []RawHistoryItem) []RawHistoryItem {
	if items == nil {
		return nil
	}
	out := make([]RawHistoryItem, len(items))
	for i, it := range items {
		out[i] = it
		switch c := it.Content.(type) {
		case []any:
			frags := make([]any, len(c))
			for j, f := range c {
				if m, ok := f.(map[string]any); ok {
					frags[j] = cloneMap(m)
				} else {
					frags[j] = f
				}
			}
			out[i].Content = frags
		case map[string]any:
			out[i].Content = cloneMap(c)
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Stamp formats t the way adapters record item creation times.
func Stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
