package syncer

import (
	"errors"
	"io/fs"

	"go.uber.org/zap"

	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/snapshot"
)

// LoadState serves snapshot.json when present, else seed.json, else an empty
// seed snapshot.
func (s *Service) LoadState() {
	snap, err := snapshot.Load(s.snapshotPath())
	if err == nil {
		s.current.Store(snap)
		s.logger.Info("loaded snapshot", zap.String("fingerprint", snap.Fingerprint), zap.Int("proposals", len(snap.Proposals)))
		return
	}
	if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("snapshot unreadable, trying seed", zap.Error(err))
	}

	seed, err := snapshot.Load(s.seedPath())
	if err == nil {
		seed.Mode = gov.ModeSeed
		s.current.Store(seed)
		s.logger.Info("loaded seed snapshot", zap.Int("proposals", len(seed.Proposals)))
		return
	}
	if !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("seed unreadable, serving empty snapshot", zap.Error(err))
	}

	empty := gov.NewSnapshot()
	empty.Mode = gov.ModeSeed
	empty.GeneratedAt = s.now().UTC()
	s.current.Store(empty)
}
