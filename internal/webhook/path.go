// ABOUTME: Dot-path resolution over decoded JSON trees
// ABOUTME: Missing keys, out-of-range indices and nulls resolve to absent, never an error

package webhook

import (
	"strconv"
	"strings"
)

// Resolve follows a dot-separated path (e.g. "entry.0.changes.0.value.text")
// through a tree of map[string]any and []any values as produced by encoding/json.
// Numeric segments index into arrays. It reports false when any segment is
// missing or the final value is JSON null.
func Resolve(tree any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	cur := tree
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}

	if cur == nil {
		return nil, false
	}
	return cur, true
}
