package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWALAppendAssignsMonotonicSeq(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWAL(filepath.Join(dir, "wal.log"), 0)
	require.NoError(t, err)
	defer w.Close()

	seq1, err := w.Append(KindSet, encodeSet("a", []byte("1")))
	require.NoError(t, err)
	seq2, err := w.Append(KindSet, encodeSet("b", []byte("2")))
	require.NoError(t, err)

	require.Equal(t, uint64(1), seq1)
	require.Equal(t, uint64(2), seq2)
}

func TestWALReadAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := OpenWAL(path, 0)
	require.NoError(t, err)

	_, err = w.Append(KindSet, encodeSet("a", []byte("1")))
	require.NoError(t, err)
	_, err = w.Append(KindDelete, encodeDelete("a"))
	require.NoError(t, err)
	_, err = w.Append(KindBulkSet, encodeBulkSet([]KV{{Key: "x", Value: []byte("10")}}))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := OpenWAL(path, 0)
	require.NoError(t, err)
	defer w2.Close()

	entries, validLen, err := w2.ReadAll(1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, KindSet, entries[0].Kind)
	require.Equal(t, "a", entries[0].Key)
	require.Equal(t, KindDelete, entries[1].Kind)
	require.Equal(t, KindBulkSet, entries[2].Kind)
	require.Equal(t, "x", entries[2].Pairs[0].Key)
	require.Greater(t, validLen, int64(0))
}

func TestWALReadAllStopsAtTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := OpenWAL(path, 0)
	require.NoError(t, err)
	_, err = w.Append(KindSet, encodeSet("a", []byte("1")))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	fullSize := fi.Size()

	// Truncate mid-record to simulate a torn write.
	require.NoError(t, os.Truncate(path, fullSize-2))

	w2, err := OpenWAL(path, 0)
	require.NoError(t, err)
	defer w2.Close()

	entries, validLen, err := w2.ReadAll(1)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.Equal(t, int64(0), validLen)
}

func TestWALResetClearsLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	w, err := OpenWAL(path, 0)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(KindSet, encodeSet("a", []byte("1")))
	require.NoError(t, err)
	require.NoError(t, w.Reset(5))
	require.Equal(t, uint64(5), w.NextSeq())

	entries, _, err := w.ReadAll(5)
	require.NoError(t, err)
	require.Empty(t, entries)
}
