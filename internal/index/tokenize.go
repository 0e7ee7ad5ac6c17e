// Package index maintains the two read paths layered over the store: an
// inverted token index for exact/boolean text search, and a character
// n-gram index for Jaccard-similarity "did you mean" style search — per
// spec §3 and §4.2.
//
// Neither structure is guarded by its own lock. They are mutated only from
// inside the storage engine's write gate (spec §5: "Index structures are
// mutated only under the write gate"), so adding a second lock here would
// just be redundant bookkeeping.
package index

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize lowercases s, splits on runs of non-alphanumeric characters, and
// drops empty tokens. Applied identically to indexed values and to search
// queries so the two sides of a lookup always agree on vocabulary.
func Tokenize(s string) []string {
	lower := strings.ToLower(s)
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// ngramSize is fixed at 3 per spec §4.2 ("recommend n=3"); this
// specification makes the choice observable rather than leaving it
// implicit, as called out as an open question in spec §9.
const ngramSize = 3

// NGrams extracts character trigrams from the lowercased string with
// spaces preserved. A string shorter than n contributes its own single
// padded n-gram, per spec §4.2, so short values still participate in
// similarity search instead of silently indexing to nothing.
func NGrams(s string) []string {
	lower := strings.ToLower(s)
	runes := []rune(lower)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) < ngramSize {
		return []string{padRight(string(runes), ngramSize)}
	}
	grams := make([]string, 0, len(runes)-ngramSize+1)
	for i := 0; i+ngramSize <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+ngramSize]))
	}
	return grams
}

func padRight(s string, n int) string {
	for len([]rune(s)) < n {
		s += " "
	}
	return s
}

// ExtractText interprets a stored value for indexing purposes (spec §4.2
// "value interpretation"): if it decodes as JSON, every string leaf is
// concatenated depth-first with a NUL separator (so a bare JSON number,
// bool or null yields no text); otherwise the raw bytes are treated as a
// UTF-8 string. Values that are neither
// valid JSON nor valid UTF-8 text produce an empty string — indexed as
// present but matching nothing, per spec §4.2.
func ExtractText(value []byte) string {
	var v any
	if err := json.Unmarshal(value, &v); err == nil {
		var sb strings.Builder
		collectText(v, &sb)
		return sb.String()
	}
	if utf8.Valid(value) {
		return string(value)
	}
	return ""
}

func collectText(v any, sb *strings.Builder) {
	switch t := v.(type) {
	case string:
		if sb.Len() > 0 {
			sb.WriteByte(0)
		}
		sb.WriteString(t)
	case []any:
		for _, e := range t {
			collectText(e, sb)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectText(t[k], sb)
		}
	default:
		// numbers, bools, null: not textual, contribute nothing.
	}
}
