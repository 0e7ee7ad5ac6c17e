package server

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvnode/internal/index"
	"kvnode/internal/storage"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	e, err := storage.New(t.TempDir(), zerolog.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return NewRouter(e, nil, zerolog.New(io.Discard))
}

func TestRouterSetGetDelete(t *testing.T) {
	r := newTestRouter(t)

	resp := r.Set(SetRequest{Key: "a", Value: []byte("1")})
	assert.Equal(t, encodeStatus(StatusOK), resp)

	got := r.Get(GetRequest{Key: "a"})
	assert.Equal(t, encodeValue(true, []byte("1")), got)

	del := r.Delete(DeleteRequest{Key: "a"})
	assert.Equal(t, encodeDeleteStatus(StatusOK, true), del)
}

func TestRouterBulkSetThenSearch(t *testing.T) {
	r := newTestRouter(t)

	resp := r.BulkSet(BulkSetRequest{Pairs: []SetRequest{
		{Key: "doc1", Value: []byte(`{"text":"the quick fox"}`)},
		{Key: "doc2", Value: []byte(`{"text":"a slow fox"}`)},
	}})
	assert.Equal(t, encodeStatus(StatusOK), resp)

	got := r.Search(SearchRequest{Mode: WireModeAND, Query: "fox"})
	assert.Equal(t, encodeKeyList([]string{"doc1", "doc2"}), got)

	_ = index.ModeAND // sanity the index package constant exists for parity
}

func TestRouterSemSearch(t *testing.T) {
	r := newTestRouter(t)
	r.Set(SetRequest{Key: "k1", Value: []byte(`{"text":"hello world"}`)})

	resp := r.SemSearch(SemSearchRequest{K: 1, Threshold: 0, Query: "hello world"})
	assert.NotEmpty(t, resp)
}
