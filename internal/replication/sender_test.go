package replication

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvnode/internal/storage"
)

type recordingTransport struct {
	mu    sync.Mutex
	seqs  []uint64
	fail  bool
	snaps int
}

func (r *recordingTransport) SendAppend(peerID string, req AppendRequest) (AppendResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return AppendResponse{}, assert.AnError
	}
	r.seqs = append(r.seqs, req.Entry.Seq)
	return AppendResponse{Success: true, MatchedSeq: req.Entry.Seq}, nil
}

func (r *recordingTransport) SendSnapshot(peerID string, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps++
	return nil
}

func (r *recordingTransport) seen() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.seqs))
	copy(out, r.seqs)
	return out
}

func (r *recordingTransport) snapCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps
}

func TestSenderDeliversToFollowers(t *testing.T) {
	e, err := storage.New(t.TempDir(), zerolog.New(io.Discard))
	require.NoError(t, err)
	defer e.Close()

	rt := &recordingTransport{}
	s := NewSender(1, rt, e, zerolog.New(io.Discard))
	s.Start([]string{"n2"})
	defer s.Stop()

	s.Enqueue(storage.Entry{Seq: 1, Kind: storage.KindSet, Key: "a", Value: []byte("1")})
	s.Enqueue(storage.Entry{Seq: 2, Kind: storage.KindSet, Key: "b", Value: []byte("2")})

	require.Eventually(t, func() bool {
		return len(rt.seen()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestSenderFallsBackToSnapshotOnPersistentFailure(t *testing.T) {
	e, err := storage.New(t.TempDir(), zerolog.New(io.Discard))
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.Set("a", []byte("1")))

	rt := &recordingTransport{fail: true}
	s := NewSender(1, rt, e, zerolog.New(io.Discard))
	s.Start([]string{"n2"})
	defer s.Stop()

	s.Enqueue(storage.Entry{Seq: 1, Kind: storage.KindSet, Key: "a", Value: []byte("1")})

	require.Eventually(t, func() bool {
		return rt.snapCount() > 0
	}, 2*time.Second, 20*time.Millisecond)
}
