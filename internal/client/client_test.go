package client_test

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvnode/internal/client"
	"kvnode/internal/index"
	"kvnode/internal/server"
	"kvnode/internal/storage"
)

func TestClientSetGetDeleteRoundTrip(t *testing.T) {
	engine, err := storage.New(t.TempDir(), zerolog.New(io.Discard))
	require.NoError(t, err)
	defer engine.Close()

	router := server.NewRouter(engine, nil, zerolog.New(io.Discard))
	srv := server.New("127.0.0.1:18181", router, zerolog.New(io.Discard))
	go srv.ListenAndServe()
	defer srv.Close()
	time.Sleep(50 * time.Millisecond)

	c, err := client.Dial("127.0.0.1:18181", time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set("a", []byte("1")))

	v, ok, err := c.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(v))

	existed, err := c.Delete("a")
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok, err = c.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientBulkSetAndSearch(t *testing.T) {
	engine, err := storage.New(t.TempDir(), zerolog.New(io.Discard))
	require.NoError(t, err)
	defer engine.Close()

	router := server.NewRouter(engine, nil, zerolog.New(io.Discard))
	srv := server.New("127.0.0.1:18182", router, zerolog.New(io.Discard))
	go srv.ListenAndServe()
	defer srv.Close()
	time.Sleep(50 * time.Millisecond)

	c, err := client.Dial("127.0.0.1:18182", time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.BulkSet([]client.KV{
		{Key: "doc1", Value: []byte(`{"text":"the quick fox"}`)},
		{Key: "doc2", Value: []byte(`{"text":"a slow fox"}`)},
	}))

	keys, err := c.Search("fox", index.ModeAND)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc1", "doc2"}, keys)
}
