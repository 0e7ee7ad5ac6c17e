package cluster

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Role is this node's position in the current term's election state machine
// (spec §4.4). PRIMARY accepts writes and ships replication traffic;
// FOLLOWER only accepts reads and replication; CANDIDATE is the transient
// state while soliciting votes.
type Role int

const (
	Follower Role = iota
	Candidate
	Primary
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "FOLLOWER"
	case Candidate:
		return "CANDIDATE"
	case Primary:
		return "PRIMARY"
	default:
		return "UNKNOWN"
	}
}

// VoteRequest is sent by a candidate soliciting votes for Term; LastLogSeq
// is the candidate's last applied seq, used for the log-freshness check.
type VoteRequest struct {
	Term         uint64
	CandidateID  string
	LastLogSeq   uint64
}

// VoteResponse is a peer's answer to a VoteRequest.
type VoteResponse struct {
	Term        uint64
	VoteGranted bool
}

// Heartbeat is the primary's periodic liveness signal to followers.
type Heartbeat struct {
	Term       uint64
	PrimaryID  string
	LastLogSeq uint64
}

// HeartbeatAck is a follower's reply to a Heartbeat.
type HeartbeatAck struct {
	Term uint64
}

// LogInspector exposes just enough of the storage engine for the
// log-freshness check in the vote-granting rule (spec §4.4: a candidate may
// only win votes from peers whose log is no more current than its own).
type LogInspector interface {
	LastAppliedSeq() uint64
}

// Transport sends election/heartbeat RPCs to a named peer. The concrete
// implementation is the node binary's wireTransport (cmd/kvnode) so this
// package stays free of any networking or wire-format concerns.
type Transport interface {
	SendVoteRequest(peerID string, req VoteRequest) (VoteResponse, error)
	SendHeartbeat(peerID string, hb Heartbeat) (HeartbeatAck, error)
}

// Election runs the term/role state machine described in spec §4.4: a
// primary sends heartbeats on a fixed interval; a follower that hears
// nothing within its (jittered) election timeout becomes a candidate,
// bumps the term, votes for itself, and solicits votes from every peer.
type Election struct {
	mu sync.Mutex

	nodeID     string
	dataDir    string
	membership *Membership
	log        LogInspector
	transport  Transport
	logger     zerolog.Logger

	heartbeatInterval time.Duration
	electionTimeout   time.Duration

	role        Role
	currentTerm uint64
	votedFor    string
	leaderID    string

	resetCh chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup

	onBecomePrimary func()
	onStepDown      func()
}

// NewElection constructs an Election, loading any persisted term/voted_for
// from dataDir/meta.json so a restart never re-votes in a term it already
// voted in (spec §4.4 open question: voted_for must survive restarts).
func NewElection(nodeID, dataDir string, membership *Membership, log LogInspector, transport Transport, heartbeatInterval, electionTimeout time.Duration, logger zerolog.Logger) (*Election, error) {
	meta, err := loadMeta(dataDir)
	if err != nil {
		return nil, err
	}
	return &Election{
		nodeID:            nodeID,
		dataDir:           dataDir,
		membership:        membership,
		log:               log,
		transport:         transport,
		logger:            logger,
		heartbeatInterval: heartbeatInterval,
		electionTimeout:   electionTimeout,
		role:              Follower,
		currentTerm:       meta.CurrentTerm,
		votedFor:          meta.VotedFor,
		resetCh:           make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
	}, nil
}

// OnBecomePrimary registers a callback invoked (outside the lock) whenever
// this node wins an election. Used to start the replication sender.
func (e *Election) OnBecomePrimary(fn func()) { e.onBecomePrimary = fn }

// OnStepDown registers a callback invoked whenever this node steps down
// from PRIMARY back to FOLLOWER. Used to stop the replication sender.
func (e *Election) OnStepDown(fn func()) { e.onStepDown = fn }

// Role reports the current role.
func (e *Election) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// Term reports the current term.
func (e *Election) Term() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTerm
}

// LeaderHint reports the last known primary's ID, for NOT_PRIMARY
// responses that point clients at the right node (spec §6).
func (e *Election) LeaderHint() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaderID
}

// Bootstrap forces this node directly into PRIMARY without running an
// election, for the single operator-designated node that starts a fresh
// cluster (spec §4.4: "configured-primary flag -> PRIMARY in term 1"). It
// must be called before Run, and only on the node started with --primary;
// every other node in the cluster starts as FOLLOWER and defers to the
// normal heartbeat/election timers.
func (e *Election) Bootstrap() {
	e.mu.Lock()
	if e.currentTerm == 0 {
		e.currentTerm = 1
	}
	e.role = Primary
	e.votedFor = e.nodeID
	e.leaderID = e.nodeID
	term := e.currentTerm
	if err := saveMeta(e.dataDir, persistentMeta{NodeID: e.nodeID, CurrentTerm: term, VotedFor: e.votedFor}); err != nil {
		e.logger.Error().Err(err).Msg("election: failed to persist bootstrap state")
	}
	e.mu.Unlock()

	e.logger.Info().Uint64("term", term).Msg("bootstrapped as PRIMARY")
	if e.onBecomePrimary != nil {
		go e.onBecomePrimary()
	}
	go e.runHeartbeats(term)
}

// Run starts the election timers and blocks until Stop is called. Callers
// run it in its own goroutine.
func (e *Election) Run() {
	e.wg.Add(1)
	defer e.wg.Done()

	timer := time.NewTimer(e.jitteredTimeout())
	defer timer.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-e.resetCh:
			drainTimer(timer)
			timer.Reset(e.jitteredTimeout())
		case <-timer.C:
			e.onElectionTimeout()
			drainTimer(timer)
			timer.Reset(e.jitteredTimeout())
		}
	}
}

// Stop halts the election loop and any running heartbeat goroutine.
func (e *Election) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// jitteredTimeout randomizes the election timeout within [t, 2t) so
// followers don't all time out simultaneously and split the vote forever.
func (e *Election) jitteredTimeout() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(e.electionTimeout)))
	return e.electionTimeout + jitter
}

func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

// onElectionTimeout fires when this node has heard no heartbeat (or cast no
// vote) within its timeout window: it becomes a candidate and starts an
// election (spec §4.4).
func (e *Election) onElectionTimeout() {
	e.mu.Lock()
	if e.role == Primary {
		e.mu.Unlock()
		return
	}
	e.currentTerm++
	e.role = Candidate
	e.votedFor = e.nodeID
	term := e.currentTerm
	lastSeq := e.log.LastAppliedSeq()
	if err := saveMeta(e.dataDir, persistentMeta{NodeID: e.nodeID, CurrentTerm: term, VotedFor: e.nodeID}); err != nil {
		e.logger.Error().Err(err).Msg("election: failed to persist candidacy state")
	}
	e.mu.Unlock()

	e.logger.Info().Uint64("term", term).Msg("election timeout: starting candidacy")
	e.runElection(term, lastSeq)
}

// runElection solicits votes from every peer in parallel and becomes
// primary if a majority (including its own vote) is granted before the
// term changes out from under it.
func (e *Election) runElection(term uint64, lastSeq uint64) {
	peers := e.membership.All()
	votes := 1 // vote for self

	type result struct {
		resp VoteResponse
		err  error
	}
	results := make(chan result, len(peers))
	for _, p := range peers {
		p := p
		go func() {
			resp, err := e.transport.SendVoteRequest(p.ID, VoteRequest{
				Term:        term,
				CandidateID: e.nodeID,
				LastLogSeq:  lastSeq,
			})
			results <- result{resp: resp, err: err}
		}()
	}

	for range peers {
		r := <-results
		if r.err != nil {
			continue
		}
		e.mu.Lock()
		if r.resp.Term > e.currentTerm {
			e.stepDown(r.resp.Term)
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()
		if r.resp.VoteGranted {
			votes++
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.role != Candidate || e.currentTerm != term {
		return // a higher term pre-empted this election while votes came in
	}
	if votes >= e.membership.Majority() {
		e.role = Primary
		e.leaderID = e.nodeID
		e.logger.Info().Uint64("term", term).Int("votes", votes).Msg("election won: becoming PRIMARY")
		if e.onBecomePrimary != nil {
			go e.onBecomePrimary()
		}
		go e.runHeartbeats(term)
	}
}

// runHeartbeats is started once per successful election and sends
// heartbeats to every peer on a fixed interval until this node steps down
// or a peer reports a higher term.
func (e *Election) runHeartbeats(term uint64) {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.role != Primary || e.currentTerm != term {
				e.mu.Unlock()
				return
			}
			lastSeq := e.log.LastAppliedSeq()
			e.mu.Unlock()

			for _, p := range e.membership.All() {
				p := p
				go func() {
					ack, err := e.transport.SendHeartbeat(p.ID, Heartbeat{Term: term, PrimaryID: e.nodeID, LastLogSeq: lastSeq})
					if err != nil {
						return
					}
					e.mu.Lock()
					if ack.Term > e.currentTerm {
						e.stepDown(ack.Term)
					}
					e.mu.Unlock()
				}()
			}
		}
	}
}

// HandleVoteRequest implements the vote-granting rule (spec §4.4): grant at
// most one vote per term, and only to a candidate whose log is at least as
// fresh as this node's.
func (e *Election) HandleVoteRequest(req VoteRequest) VoteResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Term > e.currentTerm {
		e.stepDownLocked(req.Term)
	}
	if req.Term < e.currentTerm {
		return VoteResponse{Term: e.currentTerm, VoteGranted: false}
	}

	alreadyVotedForOther := e.votedFor != "" && e.votedFor != req.CandidateID
	logIsFresh := req.LastLogSeq >= e.log.LastAppliedSeq()

	if alreadyVotedForOther || !logIsFresh {
		return VoteResponse{Term: e.currentTerm, VoteGranted: false}
	}

	e.votedFor = req.CandidateID
	if err := saveMeta(e.dataDir, persistentMeta{NodeID: e.nodeID, CurrentTerm: e.currentTerm, VotedFor: e.votedFor}); err != nil {
		e.logger.Error().Err(err).Msg("election: failed to persist vote before responding")
		return VoteResponse{Term: e.currentTerm, VoteGranted: false}
	}
	e.resetTimeout()
	return VoteResponse{Term: e.currentTerm, VoteGranted: true}
}

// HandleHeartbeat implements the follower side of the heartbeat protocol:
// any heartbeat from a term at least as high as this node's resets the
// election timer and recognizes the sender as primary.
func (e *Election) HandleHeartbeat(hb Heartbeat) HeartbeatAck {
	e.mu.Lock()
	defer e.mu.Unlock()

	if hb.Term < e.currentTerm {
		return HeartbeatAck{Term: e.currentTerm}
	}
	if hb.Term > e.currentTerm || e.role != Follower {
		e.stepDownLocked(hb.Term)
	}
	e.leaderID = hb.PrimaryID
	e.resetTimeout()
	return HeartbeatAck{Term: e.currentTerm}
}

// stepDown demotes this node to FOLLOWER under a newly observed higher
// term, invoking the step-down callback outside the lock.
func (e *Election) stepDown(newTerm uint64) {
	e.stepDownLocked(newTerm)
}

func (e *Election) stepDownLocked(newTerm uint64) {
	wasPrimary := e.role == Primary
	e.currentTerm = newTerm
	e.role = Follower
	e.votedFor = ""
	if err := saveMeta(e.dataDir, persistentMeta{NodeID: e.nodeID, CurrentTerm: e.currentTerm, VotedFor: ""}); err != nil {
		e.logger.Error().Err(err).Msg("election: failed to persist step-down state")
	}
	if wasPrimary && e.onStepDown != nil {
		go e.onStepDown()
	}
}

func (e *Election) resetTimeout() {
	select {
	case e.resetCh <- struct{}{}:
	default:
	}
}
