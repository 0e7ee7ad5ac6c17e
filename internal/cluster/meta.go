package cluster

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// persistentMeta is the durable election state spec §4.4 requires survive a
// restart: the current term and who (if anyone) this node voted for during
// it. It must be fsynced to disk before a VoteResponse granting a vote is
// sent, or a crash could let the same node vote twice in one term after
// restart.
type persistentMeta struct {
	NodeID      string `json:"node_id"`
	CurrentTerm uint64 `json:"current_term"`
	VotedFor    string `json:"voted_for"`
}

const metaFileName = "meta.json"

func loadMeta(dataDir string) (persistentMeta, error) {
	path := filepath.Join(dataDir, metaFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return persistentMeta{}, nil
	}
	if err != nil {
		return persistentMeta{}, fmt.Errorf("read election meta: %w", err)
	}
	var m persistentMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return persistentMeta{}, fmt.Errorf("decode election meta: %w", err)
	}
	return m, nil
}

// saveMeta writes meta atomically (temp file + rename, the same idiom the
// engine uses for checkpoints) and fsyncs before returning, since the
// caller relies on this having landed durably before replying to a vote
// request.
func saveMeta(dataDir string, m persistentMeta) error {
	path := filepath.Join(dataDir, metaFileName)
	tmp := path + ".tmp"

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode election meta: %w", err)
	}

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create election meta tmp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write election meta: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync election meta: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
