package conversation

import (
	"strings"

	"github.com/harunnryd/parley/internal/transport"
)

// CountToolCalls scans raw items, since tool markers rarely survive text
// normalization. Each item counts at most once.
func CountToolCalls(items []transport.RawHistoryItem) int {
	n := 0
	for _, it := range items {
		if isToolItem(it) {
			n++
		}
	}
	return n
}

func isToolItem(it transport.RawHistoryItem) bool {
	if it.Role == "tool" || hasTool(it.Type) {
		return true
	}

	switch c := it.Content.(type) {
	case []any:
		for _, f := range c {
			if m, ok := f.(map[string]any); ok && fragmentIsTool(m) {
				return true
			}
		}
	case []map[string]any:
		for _, m := range c {
			if fragmentIsTool(m) {
				return true
			}
		}
	case map[string]any:
		return fragmentIsTool(c)
	}
	return false
}

func fragmentIsTool(m map[string]any) bool {
	s, _ := m["type"].(string)
	return hasTool(s)
}

func hasTool(tag string) bool {
	return strings.Contains(strings.ToLower(tag), "tool")
}
