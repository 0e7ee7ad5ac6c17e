package server

import (
	"encoding/binary"
	"errors"

	"github.com/rs/zerolog"

	"kvnode/internal/cluster"
	"kvnode/internal/errs"
	"kvnode/internal/index"
	"kvnode/internal/replication"
	"kvnode/internal/storage"
)

// Sender is the subset of replication.Sender the router needs: enqueueing
// a freshly-committed entry for fan-out to followers. A nil Sender (on a
// node that has never been primary) means replication fan-out is skipped.
type Sender interface {
	Enqueue(entry storage.Entry)
}

// Router dispatches decoded requests to the storage engine, enforcing the
// primary-only write policy and tagging replicated entries for fan-out
// (spec §6: "router rejects write requests on FOLLOWER").
type Router struct {
	engine   *storage.Engine
	election *cluster.Election
	sender   Sender
	log      zerolog.Logger
}

// NewRouter wires the engine and election state together. sender may be
// nil; SetSender lets main.go swap it in once this node wins an election.
func NewRouter(engine *storage.Engine, election *cluster.Election, log zerolog.Logger) *Router {
	return &Router{engine: engine, election: election, log: log}
}

// SetSender installs (or clears, with nil) the replication fan-out target.
// Called when this node becomes or stops being PRIMARY.
func (r *Router) SetSender(s Sender) { r.sender = s }

// SetElection wires the election state machine in after construction, for
// the case where the election itself depends on the router (or vice versa)
// during cluster setup and so can't be passed to NewRouter directly.
func (r *Router) SetElection(e *cluster.Election) { r.election = e }

func (r *Router) requirePrimary() error {
	if r.election == nil {
		return nil // single-node mode: no election configured
	}
	if r.election.Role() == cluster.Primary {
		return nil
	}
	return &errs.NotPrimaryError{LeaderID: r.election.LeaderHint()}
}

// Set handles a SET request.
func (r *Router) Set(req SetRequest) []byte {
	if err := r.requirePrimary(); err != nil {
		return notPrimaryResponse(err)
	}
	if err := r.engine.Set(req.Key, req.Value); err != nil {
		return statusForError(err)
	}
	r.replicateLatest(storage.KindSet, req.Key, req.Value, nil)
	return encodeStatus(StatusOK)
}

// Get handles a GET request — served locally regardless of role.
func (r *Router) Get(req GetRequest) []byte {
	v, ok := r.engine.Get(req.Key)
	return encodeValue(ok, v)
}

// Delete handles a DELETE request.
func (r *Router) Delete(req DeleteRequest) []byte {
	if err := r.requirePrimary(); err != nil {
		return notPrimaryResponse(err)
	}
	existed, err := r.engine.Delete(req.Key)
	if err != nil {
		return statusForError(err)
	}
	r.replicateLatest(storage.KindDelete, req.Key, nil, nil)
	return encodeDeleteStatus(StatusOK, existed)
}

// BulkSet handles a BULKSET request.
func (r *Router) BulkSet(req BulkSetRequest) []byte {
	if err := r.requirePrimary(); err != nil {
		return notPrimaryResponse(err)
	}
	pairs := make([]storage.KV, len(req.Pairs))
	for i, p := range req.Pairs {
		pairs[i] = storage.KV{Key: p.Key, Value: p.Value}
	}
	if err := r.engine.BulkSet(pairs); err != nil {
		return statusForError(err)
	}
	r.replicateLatest(storage.KindBulkSet, "", nil, pairs)
	return encodeStatus(StatusOK)
}

// Search handles a SEARCH (exact token) request.
func (r *Router) Search(req SearchRequest) []byte {
	mode := index.ModeAND
	if req.Mode == WireModeOR {
		mode = index.ModeOR
	}
	keys := r.engine.Index().SearchText(req.Query, mode)
	return encodeKeyList(keys)
}

// SemSearch handles a SEMSEARCH (n-gram/Jaccard) request.
func (r *Router) SemSearch(req SemSearchRequest) []byte {
	results := r.engine.Index().SearchSemantic(req.Query, int(req.K), float64(req.Threshold))
	items := make([]scored, len(results))
	for i, res := range results {
		items[i] = scored{Key: res.Key, Score: float32(res.Score)}
	}
	return encodeScoredList(items)
}

// replicateLatest enqueues the entry just committed locally for delivery
// to followers. It re-derives the seq from the engine rather than having
// every call site thread it through, since Set/Delete/BulkSet already
// assigned and applied it under the write gate before returning.
func (r *Router) replicateLatest(kind storage.Kind, key string, value []byte, pairs []storage.KV) {
	if r.sender == nil {
		return
	}
	r.sender.Enqueue(storage.Entry{
		Seq:   r.engine.LastAppliedSeq(),
		Kind:  kind,
		Key:   key,
		Value: value,
		Pairs: pairs,
	})
}

// notPrimaryResponse builds a NOT_PRIMARY status followed by the leader
// hint string (spec §6: "1 NOT_PRIMARY (followed by leader hint frame)").
func notPrimaryResponse(err error) []byte {
	hint := ""
	if np, ok := errs.AsNotPrimary(err); ok {
		hint = np.LeaderID
	}
	out := make([]byte, 1+4+len(hint))
	out[0] = StatusNotPrimary
	binary.BigEndian.PutUint32(out[1:5], uint32(len(hint)))
	copy(out[5:], hint)
	return out
}

func statusForError(err error) []byte {
	switch {
	case errs.AsKind(err, errs.KindIO), errors.Is(err, errs.ErrDegraded):
		return encodeStatus(StatusIOError)
	default:
		return encodeStatus(StatusMalformed)
	}
}

// ensure replication.Sender satisfies the narrow Sender interface above.
var _ Sender = (*replication.Sender)(nil)
