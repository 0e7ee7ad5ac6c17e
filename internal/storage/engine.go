package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"kvnode/internal/errs"
	"kvnode/internal/index"
)

// Engine is the node's storage engine: an in-memory map kept durable via a
// write-ahead log and periodic checkpoints, with an index.Manager updated
// in lock-step under the same write gate (spec §2, §4.1, §5).
//
// mu is the "write gate" named throughout spec §5: every mutation — local
// or replicated — holds it across the WAL append, the in-memory apply, and
// the index update, so no reader ever observes a partial step. Reads take
// only the read side of the lock.
type Engine struct {
	mu   sync.RWMutex
	data map[string][]byte

	wal      *WAL
	idx      *index.Manager
	dataDir  string
	log      zerolog.Logger

	lastApplied   uint64
	checkpointSeq uint64
	degraded      bool
}

const checkpointFileName = "checkpoint.snap"
const walFileName = "wal.log"

// New opens or creates the engine's data directory, replays the WAL over
// the last checkpoint, and rebuilds the index before returning — spec
// §4.1's recovery algorithm runs unconditionally on every open, whether or
// not the prior shutdown was clean.
func New(dataDir string, log zerolog.Logger) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	e := &Engine{
		data: make(map[string][]byte),
		idx:  index.New(),
		dataDir: dataDir,
		log:     log,
	}

	if err := e.recover(); err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}
	return e, nil
}

// Index exposes the index manager for the search read paths (server
// handlers call SearchText/SearchSemantic directly under the engine's read
// lock via Snapshot helpers below).
func (e *Engine) Index() *index.Manager { return e.idx }

// Set appends a SET entry, fsyncs, and applies it to memory and the index
// atomically under the write gate (spec §4.1).
func (e *Engine) Set(key string, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.degraded {
		return errs.ErrDegraded
	}

	seq, err := e.wal.Append(KindSet, encodeSet(key, value))
	if err != nil {
		e.degraded = true
		e.log.Error().Err(err).Str("key", key).Msg("set: wal append failed, entering degraded mode")
		return errs.IO(err)
	}

	e.applySet(key, value)
	e.lastApplied = seq
	return nil
}

// Get is a pure in-memory lookup; it never touches the WAL (spec §4.1).
func (e *Engine) Get(key string) ([]byte, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.data[key]
	return v, ok
}

// Delete appends a DELETE entry unconditionally — even if key is absent —
// so followers observe delete intent uniformly (spec §4.1, §9 open
// question resolved: yes, always write the WAL entry).
func (e *Engine) Delete(key string) (existed bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.degraded {
		return false, errs.ErrDegraded
	}

	_, existed = e.data[key]

	seq, err := e.wal.Append(KindDelete, encodeDelete(key))
	if err != nil {
		e.degraded = true
		e.log.Error().Err(err).Str("key", key).Msg("delete: wal append failed, entering degraded mode")
		return existed, errs.IO(err)
	}

	e.applyDelete(key)
	e.lastApplied = seq
	return existed, nil
}

// BulkSet appends a single BULKSET entry covering every pair and applies
// them as one atomic batch: either all pairs become visible, or — on an IO
// failure before fsync returns — none do (spec §4.1 atomicity contract).
func (e *Engine) BulkSet(pairs []KV) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.degraded {
		return errs.ErrDegraded
	}

	seq, err := e.wal.Append(KindBulkSet, encodeBulkSet(pairs))
	if err != nil {
		e.degraded = true
		e.log.Error().Err(err).Int("pairs", len(pairs)).Msg("bulk_set: wal append failed, entering degraded mode")
		return errs.IO(err)
	}

	for _, p := range pairs {
		e.applySet(p.Key, p.Value)
	}
	e.lastApplied = seq
	return nil
}

// Checkpoint writes a full snapshot of the in-memory map to disk
// atomically, records the seq it incorporates, and truncates the WAL
// prefix now subsumed by the snapshot (spec §3, §4.1).
func (e *Engine) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.degraded {
		return errs.ErrDegraded
	}

	snapshot := make(map[string][]byte, len(e.data))
	for k, v := range e.data {
		snapshot[k] = append([]byte(nil), v...)
	}
	seq := e.lastApplied

	path := filepath.Join(e.dataDir, checkpointFileName)
	if err := writeCheckpoint(path, seq, snapshot); err != nil {
		return errs.IO(fmt.Errorf("checkpoint: %w", err))
	}

	if _, err := e.wal.Append(KindCheckpoint, encodeCheckpoint(seq)); err != nil {
		// The snapshot itself is durable, and the Reset below empties the
		// WAL (marker included) either way, so a failed marker append does
		// not change what recovery sees.
		e.log.Warn().Err(err).Msg("checkpoint: failed to append CHECKPOINT marker")
	}

	if err := e.wal.Reset(seq + 1); err != nil {
		return errs.IO(fmt.Errorf("truncate wal after checkpoint: %w", err))
	}
	e.checkpointSeq = seq
	return nil
}

// Snapshot returns the seq of the last applied mutation together with a
// full copy of the current key/value map, for replication resync (spec
// §4.3) and for writing a checkpoint from outside the package.
func (e *Engine) Snapshot() (uint64, map[string][]byte) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	data := make(map[string][]byte, len(e.data))
	for k, v := range e.data {
		data[k] = append([]byte(nil), v...)
	}
	return e.lastApplied, data
}

// LastAppliedSeq reports the seq of the most recently applied mutation,
// used by replication and election to judge log freshness (spec §4.4).
func (e *Engine) LastAppliedSeq() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastApplied
}

// Degraded reports whether the engine has entered the read-only degraded
// state after a failed fsync (spec §7).
func (e *Engine) Degraded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.degraded
}

// ApplyEntry applies an already-sequenced entry received from the primary
// (used by the replication follower path). It validates seq continuity
// itself via the WAL's own sequencing, so a gap surfaces as an error the
// caller should treat as a trigger for snapshot resync (spec §4.3).
func (e *Engine) ApplyEntry(entry Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.degraded {
		return errs.ErrDegraded
	}
	if entry.Seq != e.lastApplied+1 && !(e.lastApplied == 0 && entry.Seq == 1) {
		if entry.Seq <= e.lastApplied {
			return nil // already applied; replication retried a stale entry
		}
		return errs.New(errs.KindReplicationLag, fmt.Errorf("seq gap: want %d, got %d", e.lastApplied+1, entry.Seq))
	}

	var payload []byte
	switch entry.Kind {
	case KindSet:
		payload = encodeSet(entry.Key, entry.Value)
	case KindDelete:
		payload = encodeDelete(entry.Key)
	case KindBulkSet:
		payload = encodeBulkSet(entry.Pairs)
	default:
		return fmt.Errorf("apply entry: unsupported kind %d", entry.Kind)
	}

	gotSeq, err := e.wal.Append(entry.Kind, payload)
	if err != nil {
		e.degraded = true
		return errs.IO(err)
	}
	if gotSeq != entry.Seq {
		// The WAL assigns its own seq; for a follower this must always
		// match the primary's, since both start numbering from the same
		// checkpoint baseline. A mismatch means the follower's local log
		// has diverged and needs a snapshot resync, not a local retry.
		return errs.New(errs.KindReplicationLag, fmt.Errorf("local seq %d diverged from primary seq %d", gotSeq, entry.Seq))
	}

	switch entry.Kind {
	case KindSet:
		e.applySet(entry.Key, entry.Value)
	case KindDelete:
		e.applyDelete(entry.Key)
	case KindBulkSet:
		for _, p := range entry.Pairs {
			e.applySet(p.Key, p.Value)
		}
	}
	e.lastApplied = entry.Seq
	return nil
}

// ReplaceAll installs a full resync snapshot received from the primary
// (spec §4.3). It must make the snapshot durable and reset the WAL's
// sequence cursor the same way Checkpoint does, or the next replicated
// entry after seq+1 fails the ApplyEntry seq-continuity check and the
// follower loops requesting another snapshot forever.
func (e *Engine) ReplaceAll(seq uint64, snapshot map[string][]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	data := make(map[string][]byte, len(snapshot))
	idx := index.New()
	for k, v := range snapshot {
		data[k] = v
		idx.Put(k, v)
	}

	path := filepath.Join(e.dataDir, checkpointFileName)
	if err := writeCheckpoint(path, seq, data); err != nil {
		return errs.IO(fmt.Errorf("snapshot checkpoint: %w", err))
	}
	if err := e.wal.Reset(seq + 1); err != nil {
		return errs.IO(fmt.Errorf("reset wal after snapshot: %w", err))
	}

	e.data = data
	e.idx = idx
	e.lastApplied = seq
	e.checkpointSeq = seq
	return nil
}

func (e *Engine) applySet(key string, value []byte) {
	e.data[key] = value
	e.idx.Put(key, value)
}

func (e *Engine) applyDelete(key string) {
	delete(e.data, key)
	e.idx.Delete(key)
}

// Close releases the WAL file handle. Call during shutdown.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wal == nil {
		return nil
	}
	return e.wal.Close()
}
