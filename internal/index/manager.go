package index

import "sort"

// Mode selects boolean combination semantics for SearchText.
type Mode int

const (
	ModeAND Mode = iota
	ModeOR
)

// Manager owns the inverted token index I and the n-gram index N described
// in spec §3/§4.2. It keeps no independent copy of the store's values; it
// only ever sees the (key, value) pairs the storage engine hands it at
// apply time, which is sufficient to derive and retire postings.
type Manager struct {
	inverted  map[string]map[string]struct{} // token -> set of keys
	ngrams    map[string]map[string]struct{} // key -> set of trigrams
	keyTokens map[string]map[string]struct{} // key -> set of tokens it contributed, for O(1) retirement
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{
		inverted:  make(map[string]map[string]struct{}),
		ngrams:    make(map[string]map[string]struct{}),
		keyTokens: make(map[string]map[string]struct{}),
	}
}

// Put indexes key under value, first removing any postings left over from
// a prior value at the same key (spec §4.2 "update on overwrite": stale
// tokens must never leak past an overwrite).
func (m *Manager) Put(key string, value []byte) {
	m.remove(key)
	m.insert(key, value)
}

// Delete retires every posting for key. Safe to call on a key that was
// never indexed.
func (m *Manager) Delete(key string) {
	m.remove(key)
}

func (m *Manager) insert(key string, value []byte) {
	text := ExtractText(value)

	tokens := Tokenize(text)
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
		postings, ok := m.inverted[t]
		if !ok {
			postings = make(map[string]struct{})
			m.inverted[t] = postings
		}
		postings[key] = struct{}{}
	}

	if len(tokenSet) > 0 {
		m.keyTokens[key] = tokenSet
	}

	grams := NGrams(text)
	gramSet := make(map[string]struct{}, len(grams))
	for _, g := range grams {
		gramSet[g] = struct{}{}
	}
	if len(gramSet) > 0 {
		m.ngrams[key] = gramSet
	}
}

// remove retires every posting key left in the inverted and n-gram
// indexes, using the recorded token set for key so no stale tokens can
// leak past an overwrite or delete (spec §4.2).
func (m *Manager) remove(key string) {
	delete(m.ngrams, key)
	for token := range m.keyTokens[key] {
		postings := m.inverted[token]
		delete(postings, key)
		if len(postings) == 0 {
			delete(m.inverted, token)
		}
	}
	delete(m.keyTokens, key)
}

// SearchText tokenizes query and returns keys matching under mode, sorted
// ascending by key for deterministic output (spec §4.2).
func (m *Manager) SearchText(query string, mode Mode) []string {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	var result map[string]struct{}
	switch mode {
	case ModeAND:
		for i, t := range tokens {
			postings := m.inverted[t]
			if i == 0 {
				result = cloneSet(postings)
				continue
			}
			result = intersect(result, postings)
		}
	case ModeOR:
		result = make(map[string]struct{})
		for _, t := range tokens {
			for k := range m.inverted[t] {
				result[k] = struct{}{}
			}
		}
	}

	return sortedKeys(result)
}

// ScoredKey is one semantic-search result.
type ScoredKey struct {
	Key   string
	Score float64
}

// SearchSemantic computes the Jaccard similarity of query's n-gram set
// against every indexed key's n-gram set, keeps those at or above
// threshold, and returns the top k ordered by descending score with
// ascending-key tiebreaks (spec §4.2).
func (m *Manager) SearchSemantic(query string, k int, threshold float64) []ScoredKey {
	queryGrams := make(map[string]struct{})
	for _, g := range NGrams(query) {
		queryGrams[g] = struct{}{}
	}
	if len(queryGrams) == 0 {
		return nil
	}

	var results []ScoredKey
	for key, grams := range m.ngrams {
		score := jaccard(queryGrams, grams)
		if score >= threshold {
			results = append(results, ScoredKey{Key: key, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Key < results[j].Key
	})

	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for g := range a {
		if _, ok := b[g]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func sortedKeys(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
