// Package syncer owns the served snapshot. It runs full or delta builds,
// passes each candidate through the promotion gate and persists what it
// publishes.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stake-plus/govsync/src/cache"
	"github.com/stake-plus/govsync/src/data"
	"github.com/stake-plus/govsync/src/gate"
	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/history"
	"github.com/stake-plus/govsync/src/metrics"
	"github.com/stake-plus/govsync/src/notify"
	"github.com/stake-plus/govsync/src/snapshot"
)

var (
	ErrNoPendingSnapshot = errors.New("no pending snapshot")
	ErrSyncInProgress    = errors.New("sync in progress")
)

// Builder produces candidate snapshots.
type Builder interface {
	CurrentEpoch(ctx context.Context) (int, error)
	BuildFull(ctx context.Context) (*gov.Snapshot, error)
	BuildDelta(ctx context.Context, base *gov.Snapshot) (*gov.Snapshot, error)
}

// HistoryWriter derives per-epoch cuts from a published snapshot.
type HistoryWriter interface {
	BuildAll(ctx context.Context, snap *gov.Snapshot, force bool) (history.Result, error)
}

// Locker serializes syncs across replicas.
type Locker interface {
	Acquire(ctx context.Context, token string) error
	Release(ctx context.Context, token string) error
}

// Recorder stores one audit row per sync attempt.
type Recorder interface {
	Record(ctx context.Context, run *data.SyncRun) error
}

// EventPublisher announces published snapshots to other consumers.
type EventPublisher func(ctx context.Context, payload map[string]interface{}) error

// Config configures the service.
type Config struct {
	DataDir     string
	MinCoverage float64
}

// Deps are the collaborators of the service. Only Builder is required.
type Deps struct {
	Builder  Builder
	History  HistoryWriter
	Caches   *cache.Caches
	Notifier notify.Notifier
	Lock     Locker
	Recorder Recorder
	Events   EventPublisher
}

// Status is a point-in-time view of the service.
type Status struct {
	Syncing            bool       `json:"syncing"`
	LastError          string     `json:"lastError,omitempty"`
	LastCompletedAt    *time.Time `json:"lastCompletedAt,omitempty"`
	LastMode           string     `json:"lastMode,omitempty"`
	LastDecision       string     `json:"lastDecision,omitempty"`
	LastRunID          string     `json:"lastRunId,omitempty"`
	PendingAvailable   bool       `json:"pendingAvailable"`
	CurrentFingerprint string     `json:"currentFingerprint,omitempty"`
	CurrentMode        string     `json:"currentMode,omitempty"`
}

// Service serves the latest published snapshot and runs syncs.
type Service struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	now    func() time.Time

	current atomic.Pointer[gov.Snapshot]
	pending atomic.Pointer[gov.Snapshot]
	syncing atomic.Bool

	mu     sync.RWMutex
	status Status
}

func New(cfg Config, deps Deps, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinCoverage == 0 {
		cfg.MinCoverage = gate.DefaultMinCoverage
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	return &Service{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("syncer"),
		now:    time.Now,
	}
}

// Snapshot returns the served snapshot. It is never nil after LoadState.
func (s *Service) Snapshot() *gov.Snapshot {
	return s.current.Load()
}

// Pending returns the held candidate, if any.
func (s *Service) Pending() *gov.Snapshot {
	return s.pending.Load()
}

func (s *Service) Status() Status {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()
	st.Syncing = s.syncing.Load()
	st.PendingAvailable = s.pending.Load() != nil
	if cur := s.current.Load(); cur != nil {
		st.CurrentFingerprint = cur.Fingerprint
		st.CurrentMode = cur.Mode
	}
	return st
}

func (s *Service) snapshotPath() string {
	return filepath.Join(s.cfg.DataDir, "snapshot.json")
}

func (s *Service) seedPath() string {
	return filepath.Join(s.cfg.DataDir, "seed.json")
}

// RunSync builds a candidate and gates it. It returns started=false without
// doing anything when another sync holds the service or the cross-replica
// lock.
func (s *Service) RunSync(ctx context.Context, forceFull bool) (bool, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		s.logger.Debug("sync already running")
		return false, nil
	}
	defer s.syncing.Store(false)

	runID := uuid.NewString()
	log := s.logger.With(zap.String("run", runID))

	if s.deps.Lock != nil {
		if err := s.deps.Lock.Acquire(ctx, runID); err != nil {
			if errors.Is(err, data.ErrLockHeld) {
				log.Info("sync lock held elsewhere")
				return false, nil
			}
			s.setError(runID, fmt.Errorf("acquire sync lock: %w", err))
			return false, err
		}
		defer func() {
			if err := s.deps.Lock.Release(context.Background(), runID); err != nil {
				log.Warn("release sync lock", zap.Error(err))
			}
		}()
	}

	started := s.now()
	snap, mode, err := s.build(ctx, forceFull, log)
	took := s.now().Sub(started)
	metrics.SyncDuration.WithLabelValues(mode).Observe(took.Seconds())

	audit := &data.SyncRun{ID: runID, Mode: mode, Forced: forceFull, StartedAt: started, FinishedAt: started.Add(took), DurationMs: took.Milliseconds()}
	if err != nil {
		metrics.SyncTotal.WithLabelValues(mode, "error").Inc()
		log.Error("sync failed", zap.String("mode", mode), zap.Error(err))
		s.setError(runID, err)
		audit.Error = err.Error()
		s.record(audit, log)
		s.notify(ctx, notify.Event{RunID: runID, Kind: notify.KindFailed, Mode: mode, Err: err.Error(), At: s.now()}, log)
		return true, err
	}

	decision := gate.Decide(snap, s.current.Load(), s.cfg.MinCoverage)
	metrics.GateDecisions.WithLabelValues(string(decision)).Inc()
	metrics.SyncTotal.WithLabelValues(mode, string(decision)).Inc()
	fillAudit(audit, snap, decision)

	var persistErr error
	kind := notify.KindPublished
	if decision == gate.Publish {
		persistErr = s.publish(ctx, snap, log)
	} else {
		kind = notify.KindHeld
		s.pending.Store(snap)
		log.Warn("candidate held for manual promotion",
			zap.Int("skipped", snap.SkippedProposals),
			zap.Int("voteErrors", snap.VoteFetchErrors),
			zap.Float64("coverage", gate.DetailCoverage(snap)))
	}

	s.mu.Lock()
	completed := s.now()
	s.status.LastCompletedAt = &completed
	s.status.LastMode = mode
	s.status.LastDecision = string(decision)
	s.status.LastRunID = runID
	s.status.LastError = ""
	if persistErr != nil {
		s.status.LastError = persistErr.Error()
		audit.Error = persistErr.Error()
	}
	s.mu.Unlock()

	s.record(audit, log)
	s.notify(ctx, eventFor(runID, kind, snap), log)
	log.Info("sync finished",
		zap.String("mode", mode),
		zap.String("decision", string(decision)),
		zap.String("fingerprint", snap.Fingerprint),
		zap.Duration("took", took))
	return true, persistErr
}

// build picks delta when the served snapshot is complete and the epoch has
// not moved, falling back to a full build when the delta refuses the base.
func (s *Service) build(ctx context.Context, forceFull bool, log *zap.Logger) (*gov.Snapshot, string, error) {
	base := s.current.Load()
	if !forceFull && gate.IsComplete(base, s.cfg.MinCoverage) {
		epoch, err := s.deps.Builder.CurrentEpoch(ctx)
		switch {
		case err != nil:
			log.Warn("current epoch unavailable, running full build", zap.Error(err))
		case epoch != base.LatestEpoch:
			log.Info("epoch changed, running full build", zap.Int("from", base.LatestEpoch), zap.Int("to", epoch))
		default:
			snap, err := s.deps.Builder.BuildDelta(ctx, base)
			if err == nil {
				return snap, gov.ModeDelta, nil
			}
			if !errors.Is(err, snapshot.ErrDeltaUnavailable) {
				return nil, gov.ModeDelta, err
			}
			log.Info("delta unavailable, running full build", zap.Error(err))
		}
	}
	snap, err := s.deps.Builder.BuildFull(ctx)
	return snap, gov.ModeFull, err
}

// publish swaps snap in and persists it. Persistence failures are returned
// but never unpublish.
func (s *Service) publish(ctx context.Context, snap *gov.Snapshot, log *zap.Logger) error {
	s.current.Store(snap)
	s.pending.Store(nil)
	metrics.SnapshotVotes.Set(float64(snap.VoteCount()))
	if snap.Partial {
		metrics.SnapshotPartial.Set(1)
	} else {
		metrics.SnapshotPartial.Set(0)
	}

	var errs []error
	if s.deps.Caches != nil {
		if err := s.deps.Caches.FlushAll(); err != nil {
			errs = append(errs, fmt.Errorf("flush caches: %w", err))
		}
		metrics.CacheEntries.WithLabelValues("tx-times").Set(float64(s.deps.Caches.TxTimes.Len()))
		metrics.CacheEntries.WithLabelValues("tx-rationales").Set(float64(s.deps.Caches.Rationales.Len()))
		metrics.CacheEntries.WithLabelValues("pool-profiles").Set(float64(s.deps.Caches.Pools.Store().Len()))
		metrics.CacheEntries.WithLabelValues("pool-refresh-queue").Set(float64(s.deps.Caches.Pools.QueueLen()))
	}
	if err := snapshot.Save(s.snapshotPath(), snap); err != nil {
		errs = append(errs, err)
	}
	if s.deps.History != nil {
		if res, err := s.deps.History.BuildAll(ctx, snap, false); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		} else if len(res.Failed) > 0 {
			log.Warn("history epochs failed", zap.Ints("epochs", res.Failed))
		}
	}
	if s.deps.Events != nil {
		payload := map[string]interface{}{
			"fingerprint": snap.Fingerprint,
			"mode":        snap.Mode,
			"epoch":       snap.LatestEpoch,
			"proposals":   len(snap.Proposals),
			"votes":       snap.VoteCount(),
			"partial":     snap.Partial,
		}
		if err := s.deps.Events(ctx, payload); err != nil {
			log.Warn("publish snapshot event", zap.Error(err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		log.Error("snapshot published but not fully persisted", zap.Error(err))
	}
	return err
}

// PromotePendingSnapshot publishes the held candidate.
func (s *Service) PromotePendingSnapshot(ctx context.Context) (*gov.Snapshot, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.syncing.Store(false)

	snap := s.pending.Swap(nil)
	if snap == nil {
		return nil, ErrNoPendingSnapshot
	}
	log := s.logger.With(zap.String("fingerprint", snap.Fingerprint))
	log.Info("promoting held snapshot")
	metrics.GateDecisions.WithLabelValues("promote").Inc()

	err := s.publish(ctx, snap, log)
	s.mu.Lock()
	s.status.LastDecision = "promote"
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
	runID := s.status.LastRunID
	s.mu.Unlock()

	s.notify(ctx, eventFor(runID, notify.KindPromoted, snap), log)
	return snap, err
}

func (s *Service) setError(runID string, err error) {
	s.mu.Lock()
	s.status.LastError = err.Error()
	s.status.LastRunID = runID
	s.mu.Unlock()
}

func (s *Service) record(run *data.SyncRun, log *zap.Logger) {
	if s.deps.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.deps.Recorder.Record(ctx, run); err != nil {
		log.Warn("record sync run", zap.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, ev notify.Event, log *zap.Logger) {
	if err := s.deps.Notifier.Notify(ctx, ev); err != nil {
		log.Warn("notify", zap.String("kind", ev.Kind), zap.Error(err))
	}
}

func fillAudit(run *data.SyncRun, snap *gov.Snapshot, decision gate.Decision) {
	run.Decision = string(decision)
	run.Proposals = len(snap.Proposals)
	run.Actors = snap.ActorCount()
	run.Votes = snap.VoteCount()
	run.Skipped = snap.SkippedProposals
	run.VoteErrors = snap.VoteFetchErrors
	run.ProfileErrors = snap.ProfileErrors
	run.Partial = snap.Partial
	run.Fingerprint = snap.Fingerprint
}

func eventFor(runID, kind string, snap *gov.Snapshot) notify.Event {
	return notify.Event{
		RunID:       runID,
		Kind:        kind,
		Mode:        snap.Mode,
		Fingerprint: snap.Fingerprint,
		Proposals:   len(snap.Proposals),
		Votes:       snap.VoteCount(),
		Skipped:     snap.SkippedProposals,
		VoteErrors:  snap.VoteFetchErrors,
		Partial:     snap.Partial,
		At:          time.Now(),
	}
}
