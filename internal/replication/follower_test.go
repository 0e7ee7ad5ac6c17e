package replication

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvnode/internal/storage"
)

func newTestEngine(t *testing.T) *storage.Engine {
	t.Helper()
	e, err := storage.New(t.TempDir(), zerolog.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestFollowerAppliesInOrder(t *testing.T) {
	e := newTestEngine(t)
	f := NewFollower(e, zerolog.New(io.Discard))

	resp := f.HandleAppend(AppendRequest{Term: 1, Entry: storage.Entry{Seq: 1, Kind: storage.KindSet, Key: "a", Value: []byte("1")}})
	assert.True(t, resp.Success)

	v, ok := e.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", string(v))
}

func TestFollowerDetectsGapAndRequestsSnapshot(t *testing.T) {
	e := newTestEngine(t)
	f := NewFollower(e, zerolog.New(io.Discard))

	resp := f.HandleAppend(AppendRequest{Term: 1, Entry: storage.Entry{Seq: 5, Kind: storage.KindSet, Key: "a", Value: []byte("1")}})
	assert.False(t, resp.Success)
	assert.True(t, resp.NeedsSnapshot)
}

func TestFollowerAppliesSnapshot(t *testing.T) {
	e := newTestEngine(t)
	f := NewFollower(e, zerolog.New(io.Discard))

	err := f.HandleSnapshot(Snapshot{Seq: 10, Data: map[string][]byte{"a": []byte("1"), "b": []byte("2")}})
	require.NoError(t, err)

	v, ok := e.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", string(v))
	assert.Equal(t, uint64(10), e.LastAppliedSeq())
}

func TestFollowerAppliesSnapshotThenAcceptsNextAppend(t *testing.T) {
	e := newTestEngine(t)
	f := NewFollower(e, zerolog.New(io.Discard))

	require.NoError(t, f.HandleSnapshot(Snapshot{Seq: 10, Data: map[string][]byte{"a": []byte("1")}}))

	resp := f.HandleAppend(AppendRequest{Term: 1, Entry: storage.Entry{Seq: 11, Kind: storage.KindSet, Key: "b", Value: []byte("2")}})
	assert.True(t, resp.Success)
}

func TestBuildAndApplySnapshotRoundTrip(t *testing.T) {
	src := newTestEngine(t)
	require.NoError(t, src.Set("a", []byte("1")))
	require.NoError(t, src.Set("b", []byte("2")))

	snap := BuildSnapshot(src)
	assert.Equal(t, uint64(2), snap.Seq)
	assert.Len(t, snap.Data, 2)

	dst := newTestEngine(t)
	require.NoError(t, ApplySnapshot(dst, snap))
	v, ok := dst.Get("b")
	require.True(t, ok)
	assert.Equal(t, "2", string(v))
}
