// Package keys builds the Redis keys used for cached records and the H3 cell
// index.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const maxIDTextLen = 96

// RecordKey is the cache key for one dataset record. The readable part is
// sanitised and truncated; the hash suffix keeps distinct ids apart.
func RecordKey(id string) string {
	norm := strings.TrimSpace(id)
	safe := sanitizeForKey(norm)
	if len(safe) > maxIDTextLen {
		safe = safe[:maxIDTextLen]
	}
	return fmt.Sprintf("rec:%s:h=%016x", safe, xxhash.Sum64String(norm))
}

// CellKey is the key of the set of dataset ids indexed under an H3 cell.
func CellKey(res int, cell string) string {
	return fmt.Sprintf("cell:%d:%s", res, sanitizeForKey(strings.ToLower(strings.TrimSpace(cell))))
}

// CellKeys maps CellKey over cells.
func CellKeys(res int, cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = CellKey(res, c)
	}
	return out
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// Any other rune (including non-ASCII and ':') becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
