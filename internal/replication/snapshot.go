package replication

import "kvnode/internal/storage"

// Snapshot is the full-state resync payload sent when a follower's log has
// diverged or fallen too far behind for incremental catch-up (spec §4.3).
// The node's wire transport sends a Snapshot whole, gob-encoded in a single
// replication frame; it is not split into begin/chunk/end messages.
type Snapshot struct {
	Seq  uint64
	Data map[string][]byte
}

// BuildSnapshot captures the primary's current state for resync. It does
// not go through the WAL — it's a point-in-time copy of the engine's
// in-memory map, tagged with the seq it reflects.
func BuildSnapshot(engine *storage.Engine) Snapshot {
	seq, data := engine.Snapshot()
	return Snapshot{Seq: seq, Data: data}
}

// ApplySnapshot installs a received snapshot into the engine, replacing all
// prior state and resetting the replication cursor to the snapshot's seq.
func ApplySnapshot(engine *storage.Engine, snap Snapshot) error {
	return engine.ReplaceAll(snap.Seq, snap.Data)
}

// Chunk describes one piece of a snapshot split into per-key messages. The
// wire transport does not use it; snapshots travel as one Snapshot value.
type Chunk struct {
	Seq    uint64 // snapshot seq, repeated on every chunk for validation
	IsLast bool
	Key    string
	Value  []byte
}
