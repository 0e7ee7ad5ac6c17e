// Package replication ships WAL entries from the primary to every follower
// and applies them on the follower side in order, with snapshot-based
// resync when a follower falls behind (spec §4.3).
package replication

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kvnode/internal/storage"
)

// AppendRequest carries one WAL entry to a follower.
type AppendRequest struct {
	Term  uint64
	Entry storage.Entry
}

// AppendResponse is a follower's reply to an AppendRequest.
type AppendResponse struct {
	Success    bool
	MatchedSeq uint64
	// NeedsSnapshot is set when the follower detected a seq gap it cannot
	// close by replaying more entries and needs a full resync instead.
	NeedsSnapshot bool
}

// Transport delivers replication RPCs to a named peer over the wire.
type Transport interface {
	SendAppend(peerID string, req AppendRequest) (AppendResponse, error)
	SendSnapshot(peerID string, snap Snapshot) error
}

// maxQueueLen bounds how far a sender will let a slow follower's backlog
// grow before giving up on incremental catch-up and forcing a snapshot
// resync instead.
const maxQueueLen = 1024

// follower tracks one outbound replication stream.
type follower struct {
	id     string
	queue  chan storage.Entry
	cancel context.CancelFunc
}

// Sender fans WAL entries out to every follower as they're produced on the
// primary. Each follower gets its own bounded queue and goroutine so one
// slow peer never blocks delivery to the others.
type Sender struct {
	mu        sync.Mutex
	term      uint64
	transport Transport
	engine    *storage.Engine
	log       zerolog.Logger

	followers map[string]*follower
	group     *errgroup.Group
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewSender constructs a Sender for the given term. Start it via Start once
// this node has won the election for that term.
func NewSender(term uint64, transport Transport, engine *storage.Engine, log zerolog.Logger) *Sender {
	return &Sender{
		term:      term,
		transport: transport,
		engine:    engine,
		log:       log,
		followers: make(map[string]*follower),
	}
}

// Start spins up one delivery goroutine per peer ID.
func (s *Sender) Start(peerIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	s.group = g

	for _, id := range peerIDs {
		fctx, fcancel := context.WithCancel(gctx)
		f := &follower{id: id, queue: make(chan storage.Entry, maxQueueLen), cancel: fcancel}
		s.followers[id] = f
		g.Go(func() error {
			s.runFollower(fctx, f)
			return nil
		})
	}
}

// Stop halts every delivery goroutine — called when this node steps down
// from PRIMARY.
func (s *Sender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		s.group.Wait()
	}
}

// Enqueue offers entry to every follower's queue. For a follower whose queue
// is already full, entry is not queued and a snapshot resync is started
// instead of letting that follower block the primary's write path; the
// follower stays in incremental delivery for later entries.
func (s *Sender) Enqueue(entry storage.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, f := range s.followers {
		select {
		case f.queue <- entry:
		default:
			s.log.Warn().Str("follower", id).Msg("replication queue full, forcing snapshot resync")
			go s.resync(f)
		}
	}
}

func (s *Sender) runFollower(ctx context.Context, f *follower) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-f.queue:
			s.sendWithRetry(ctx, f, entry)
		}
	}
}

// sendWithRetry retries a single entry with exponential backoff before
// giving up and falling back to a snapshot resync, matching spec §4.3's
// requirement that transient follower unavailability not stall the queue
// indefinitely.
func (s *Sender) sendWithRetry(ctx context.Context, f *follower, entry storage.Entry) {
	const maxAttempts = 4
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))*100) * time.Millisecond
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		resp, err := s.transport.SendAppend(f.id, AppendRequest{Term: s.term, Entry: entry})
		if err != nil {
			continue
		}
		if resp.NeedsSnapshot {
			go s.resync(f)
			return
		}
		if resp.Success {
			return
		}
	}
	s.log.Warn().Str("follower", f.id).Uint64("seq", entry.Seq).Msg("append failed after retries, forcing snapshot resync")
	go s.resync(f)
}

// resync streams a full snapshot to a follower that has fallen too far
// behind to catch up incrementally (spec §4.3).
func (s *Sender) resync(f *follower) {
	snap := BuildSnapshot(s.engine)
	if err := s.transport.SendSnapshot(f.id, snap); err != nil {
		s.log.Error().Err(err).Str("follower", f.id).Msg("snapshot resync failed")
		return
	}
	s.log.Info().Str("follower", f.id).Uint64("seq", snap.Seq).Msg("snapshot resync complete")
}
