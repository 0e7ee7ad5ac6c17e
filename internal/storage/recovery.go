package storage

import (
	"fmt"
	"path/filepath"
)

// recover implements spec §4.1's recovery algorithm: load the most recent
// checkpoint, replay WAL entries written after it, stop at the first sign
// of corruption (truncating the offending tail so future appends start
// clean), and rebuild the index before the engine is usable.
func (e *Engine) recover() error {
	checkpointPath := filepath.Join(e.dataDir, checkpointFileName)
	seq, snapshot, err := readCheckpoint(checkpointPath)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	e.checkpointSeq = seq
	e.lastApplied = seq

	wal, err := OpenWAL(filepath.Join(e.dataDir, walFileName), seq)
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	e.wal = wal

	entries, validLen, err := wal.ReadAll(seq + 1)
	if err != nil {
		return fmt.Errorf("scan wal: %w", err)
	}

	for _, entry := range entries {
		switch entry.Kind {
		case KindSet:
			snapshot[entry.Key] = entry.Value
		case KindDelete:
			delete(snapshot, entry.Key)
		case KindBulkSet:
			for _, p := range entry.Pairs {
				snapshot[p.Key] = p.Value
			}
		case KindCheckpoint:
			// Marker only; the snapshot file is authoritative for state.
		}
		e.lastApplied = entry.Seq
	}

	// Discard only the corrupt/torn tail past the last well-formed record;
	// every valid entry stays exactly where it is on disk.
	if err := wal.TruncateAfter(validLen); err != nil {
		return fmt.Errorf("truncate corrupt wal tail: %w", err)
	}
	wal.nextSeq = e.lastApplied + 1

	for k, v := range snapshot {
		e.data[k] = v
		e.idx.Put(k, v)
	}

	e.log.Info().
		Uint64("checkpoint_seq", seq).
		Int("wal_entries_replayed", len(entries)).
		Uint64("last_applied_seq", e.lastApplied).
		Msg("recovery complete")

	return nil
}
