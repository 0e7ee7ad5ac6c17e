package replication

import (
	"github.com/rs/zerolog"

	"kvnode/internal/errs"
	"kvnode/internal/storage"
)

// Follower applies AppendRequests received from the primary in order,
// surfacing a gap as a request for snapshot resync rather than trying to
// guess what's missing (spec §4.3).
type Follower struct {
	engine *storage.Engine
	log    zerolog.Logger
}

// NewFollower wraps engine for the replication apply path.
func NewFollower(engine *storage.Engine, log zerolog.Logger) *Follower {
	return &Follower{engine: engine, log: log}
}

// HandleAppend applies one replicated entry, translating the engine's
// seq-continuity check into the AppendResponse the primary expects.
func (f *Follower) HandleAppend(req AppendRequest) AppendResponse {
	err := f.engine.ApplyEntry(req.Entry)
	if err == nil {
		return AppendResponse{Success: true, MatchedSeq: req.Entry.Seq}
	}

	if errs.AsKind(err, errs.KindReplicationLag) {
		f.log.Warn().Uint64("seq", req.Entry.Seq).Msg("replication gap detected, requesting snapshot resync")
		return AppendResponse{Success: false, NeedsSnapshot: true}
	}

	f.log.Error().Err(err).Uint64("seq", req.Entry.Seq).Msg("failed to apply replicated entry")
	return AppendResponse{Success: false}
}

// HandleSnapshot installs a full resync snapshot sent by the primary.
func (f *Follower) HandleSnapshot(snap Snapshot) error {
	if err := ApplySnapshot(f.engine, snap); err != nil {
		f.log.Error().Err(err).Uint64("seq", snap.Seq).Msg("failed to apply snapshot resync")
		return err
	}
	f.log.Info().Uint64("seq", snap.Seq).Int("keys", len(snap.Data)).Msg("applied snapshot resync")
	return nil
}
