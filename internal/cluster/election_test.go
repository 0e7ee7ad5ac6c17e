package cluster

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLog struct{ seq uint64 }

func (f fakeLog) LastAppliedSeq() uint64 { return f.seq }

type fakeTransport struct{}

func (fakeTransport) SendVoteRequest(string, VoteRequest) (VoteResponse, error) {
	return VoteResponse{}, nil
}
func (fakeTransport) SendHeartbeat(string, Heartbeat) (HeartbeatAck, error) {
	return HeartbeatAck{}, nil
}

func newTestElection(t *testing.T, seq uint64) *Election {
	t.Helper()
	m := NewMembership("n1", map[string]string{"n1": ":1", "n2": ":2", "n3": ":3"})
	e, err := NewElection("n1", t.TempDir(), m, fakeLog{seq: seq}, fakeTransport{}, 50*time.Millisecond, 200*time.Millisecond, zerolog.New(io.Discard))
	require.NoError(t, err)
	return e
}

func TestVoteGrantedOnFreshLog(t *testing.T) {
	e := newTestElection(t, 10)
	resp := e.HandleVoteRequest(VoteRequest{Term: 1, CandidateID: "n2", LastLogSeq: 10})
	assert.True(t, resp.VoteGranted)
	assert.Equal(t, uint64(1), resp.Term)
}

func TestVoteDeniedOnStaleLog(t *testing.T) {
	e := newTestElection(t, 10)
	resp := e.HandleVoteRequest(VoteRequest{Term: 1, CandidateID: "n2", LastLogSeq: 3})
	assert.False(t, resp.VoteGranted)
}

func TestVoteOnlyGrantedOncePerTerm(t *testing.T) {
	e := newTestElection(t, 5)
	first := e.HandleVoteRequest(VoteRequest{Term: 1, CandidateID: "n2", LastLogSeq: 5})
	require.True(t, first.VoteGranted)

	second := e.HandleVoteRequest(VoteRequest{Term: 1, CandidateID: "n3", LastLogSeq: 5})
	assert.False(t, second.VoteGranted)
}

func TestVoteRequestWithHigherTermStepsDown(t *testing.T) {
	e := newTestElection(t, 5)
	e.mu.Lock()
	e.role = Primary
	e.currentTerm = 1
	e.mu.Unlock()

	resp := e.HandleVoteRequest(VoteRequest{Term: 2, CandidateID: "n2", LastLogSeq: 5})
	assert.True(t, resp.VoteGranted)
	assert.Equal(t, Follower, e.Role())
}

func TestHeartbeatResetsToFollowerAndSetsLeader(t *testing.T) {
	e := newTestElection(t, 1)
	e.mu.Lock()
	e.role = Candidate
	e.currentTerm = 1
	e.mu.Unlock()

	ack := e.HandleHeartbeat(Heartbeat{Term: 1, PrimaryID: "n2", LastLogSeq: 1})
	assert.Equal(t, uint64(1), ack.Term)
	assert.Equal(t, Follower, e.Role())
	assert.Equal(t, "n2", e.LeaderHint())
}

func TestHeartbeatFromStaleTermRejected(t *testing.T) {
	e := newTestElection(t, 1)
	e.mu.Lock()
	e.currentTerm = 5
	e.mu.Unlock()

	ack := e.HandleHeartbeat(Heartbeat{Term: 2, PrimaryID: "n2", LastLogSeq: 1})
	assert.Equal(t, uint64(5), ack.Term)
}
