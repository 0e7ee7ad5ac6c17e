package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"the", "quick", "brown", "fox"}, Tokenize("The Quick, Brown-Fox!"))
	assert.Nil(t, Tokenize("   ---   "))
}

func TestNGramsShortString(t *testing.T) {
	grams := NGrams("hi")
	require.Len(t, grams, 1)
	assert.Equal(t, "hi ", grams[0])
}

func TestSearchTextAndOr(t *testing.T) {
	m := New()
	m.Put("doc1", []byte(`{"text":"the quick brown fox"}`))
	m.Put("doc2", []byte(`{"text":"quick brown dog"}`))

	assert.Equal(t, []string{"doc1", "doc2"}, m.SearchText("quick brown", ModeAND))
	assert.Equal(t, []string{}, orEmpty(m.SearchText("fox dog", ModeAND)))
	assert.Equal(t, []string{"doc1", "doc2"}, m.SearchText("fox dog", ModeOR))
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func TestOverwriteRetiresStaleTokens(t *testing.T) {
	m := New()
	m.Put("k", []byte(`{"text":"alpha beta"}`))
	require.Equal(t, []string{"k"}, m.SearchText("alpha", ModeOR))

	m.Put("k", []byte(`{"text":"gamma"}`))
	assert.Empty(t, m.SearchText("alpha", ModeOR))
	assert.Equal(t, []string{"k"}, m.SearchText("gamma", ModeOR))
}

func TestDeleteRetiresPostings(t *testing.T) {
	m := New()
	m.Put("k", []byte(`{"text":"alpha beta"}`))
	m.Delete("k")
	assert.Empty(t, m.SearchText("alpha", ModeOR))
	assert.Empty(t, m.SearchSemantic("alpha", 5, 0.0))
}

func TestSearchSemantic(t *testing.T) {
	m := New()
	m.Put("k1", []byte(`{"text":"hello world"}`))
	m.Put("k2", []byte(`{"text":"help word"}`))

	results := m.SearchSemantic("hello word", 2, 0.1)
	require.Len(t, results, 2)
	assert.Equal(t, "k1", results[0].Key)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestNonTextualValueIndexesEmpty(t *testing.T) {
	m := New()
	m.Put("bin", []byte{0xff, 0xfe, 0x00, 0xff})
	assert.Empty(t, m.SearchText("anything", ModeOR))
	assert.Empty(t, m.SearchSemantic("anything", 5, 0.0))
}
