package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestSetGetDelete(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, testLogger())
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Set("a", []byte("1")))
	v, ok := e.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	existed, err := e.Delete("a")
	require.NoError(t, err)
	require.True(t, existed)
	_, ok = e.Get("a")
	require.False(t, ok)
}

func TestDeleteMissingKeyStillWritesWAL(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, testLogger())
	require.NoError(t, err)
	defer e.Close()

	existed, err := e.Delete("never-existed")
	require.NoError(t, err)
	require.False(t, existed)
	require.Equal(t, uint64(1), e.LastAppliedSeq())
}

func TestBulkSetAtomicVisibility(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, testLogger())
	require.NoError(t, err)
	defer e.Close()

	pairs := []KV{{Key: "x", Value: []byte("10")}, {Key: "y", Value: []byte("20")}, {Key: "z", Value: []byte("30")}}
	require.NoError(t, e.BulkSet(pairs))

	for _, p := range pairs {
		v, ok := e.Get(p.Key)
		require.True(t, ok)
		require.Equal(t, p.Value, v)
	}
}

func TestOverwriteClearsStaleTokens(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, testLogger())
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Set("doc", []byte(`{"text":"alpha beta"}`)))
	require.Equal(t, []string{"doc"}, e.Index().SearchText("alpha", 1))

	require.NoError(t, e.Set("doc", []byte(`{"text":"gamma"}`)))
	require.Empty(t, e.Index().SearchText("alpha", 1))
}

func TestWALReplayAfterRestart(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, e.Set("a", []byte("1")))
	require.NoError(t, e.Set("b", []byte("2")))
	require.NoError(t, e.Close())

	e2, err := New(dir, testLogger())
	require.NoError(t, err)
	defer e2.Close()

	v, ok := e2.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", string(v))
	v, ok = e2.Get("b")
	require.True(t, ok)
	require.Equal(t, "2", string(v))
	require.Equal(t, uint64(2), e2.LastAppliedSeq())
}

func TestCheckpointTruncatesWAL(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, e.Set("a", []byte("1")))
	require.NoError(t, e.Checkpoint())
	require.NoError(t, e.Set("b", []byte("2")))
	require.NoError(t, e.Close())

	e2, err := New(dir, testLogger())
	require.NoError(t, err)
	defer e2.Close()

	v, ok := e2.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", string(v))
	v, ok = e2.Get("b")
	require.True(t, ok)
	require.Equal(t, "2", string(v))
}

func TestRecoveryTruncatesCorruptTail(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, e.Set("a", []byte("1")))
	require.NoError(t, e.Close())

	// Corrupt the tail by appending garbage bytes that won't parse as a
	// well-formed record.
	walPath := filepath.Join(dir, walFileName)
	f, err := os.OpenFile(walPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	e2, err := New(dir, testLogger())
	require.NoError(t, err)
	defer e2.Close()

	v, ok := e2.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", string(v))
	require.Equal(t, uint64(1), e2.LastAppliedSeq())

	// Further writes should succeed — the corrupt tail was discarded, not
	// left blocking the log.
	require.NoError(t, e2.Set("b", []byte("2")))
}

func TestApplyEntryRejectsSeqGap(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, testLogger())
	require.NoError(t, err)
	defer e.Close()

	err = e.ApplyEntry(Entry{Seq: 5, Kind: KindSet, Key: "a", Value: []byte("1")})
	require.Error(t, err)
}

func TestApplyEntryInOrder(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir, testLogger())
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.ApplyEntry(Entry{Seq: 1, Kind: KindSet, Key: "a", Value: []byte("1")}))
	require.NoError(t, e.ApplyEntry(Entry{Seq: 2, Kind: KindDelete, Key: "a"}))

	_, ok := e.Get("a")
	require.False(t, ok)
	require.Equal(t, uint64(2), e.LastAppliedSeq())
}
