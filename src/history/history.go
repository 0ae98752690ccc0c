// Package history derives immutable per-epoch cuts of the served snapshot.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stake-plus/govsync/src/cache"
	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/indexer"
	"github.com/stake-plus/govsync/src/snapshot"
)

// ErrNotFound is returned by Load for an epoch without a cut.
var ErrNotFound = errors.New("history cut not found")

// Config configures the history builder.
type Config struct {
	Dir        string
	StartEpoch int
}

// Builder writes one cut per ended epoch.
type Builder struct {
	primary   indexer.Primary
	secondary indexer.Secondary
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	bounds map[int]indexer.EpochInfo
}

// Result summarizes one BuildAll pass.
type Result struct {
	Written []int
	Kept    int
	Deleted []int
	Failed  []int
}

func NewBuilder(primary indexer.Primary, secondary indexer.Secondary, cfg Config, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		logger:    logger.Named("history"),
		now:       time.Now,
		bounds:    make(map[int]indexer.EpochInfo),
	}
}

func (b *Builder) path(epoch int) string {
	return filepath.Join(b.cfg.Dir, strconv.Itoa(epoch)+".json")
}

// BuildAll writes cuts for every ended epoch from StartEpoch through the
// snapshot's latest epoch. Existing cuts are kept unless force is set; cuts
// of epochs that have not ended are removed. A failed epoch is reported and
// retried on the next pass.
func (b *Builder) BuildAll(ctx context.Context, snap *gov.Snapshot, force bool) (Result, error) {
	var res Result
	if snap == nil {
		return res, nil
	}
	if err := os.MkdirAll(b.cfg.Dir, 0o755); err != nil {
		return res, fmt.Errorf("history dir: %w", err)
	}
	now := b.now()
	for epoch := b.cfg.StartEpoch; epoch <= snap.LatestEpoch; epoch++ {
		path := b.path(epoch)
		_, statErr := os.Stat(path)
		exists := statErr == nil

		// Bounds of old epochs with a cut on disk are not rechecked.
		if exists && !force && epoch < snap.LatestEpoch-1 {
			res.Kept++
			continue
		}

		info, err := b.epoch(ctx, epoch)
		if err != nil {
			b.logger.Warn("epoch bounds unavailable", zap.Int("epoch", epoch), zap.Error(err))
			res.Failed = append(res.Failed, epoch)
			continue
		}
		if !time.Unix(info.EndTime, 0).Before(now) {
			if exists {
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return res, fmt.Errorf("remove premature cut %d: %w", epoch, err)
				}
				res.Deleted = append(res.Deleted, epoch)
				b.logger.Warn("removed cut of an epoch that has not ended", zap.Int("epoch", epoch))
			}
			continue
		}
		if exists && !force {
			res.Kept++
			continue
		}

		cut, err := b.Cut(ctx, snap, info)
		if err != nil {
			b.logger.Warn("history cut failed", zap.Int("epoch", epoch), zap.Error(err))
			res.Failed = append(res.Failed, epoch)
			continue
		}
		if err := write(path, cut, force); err != nil {
			if errors.Is(err, fs.ErrExist) {
				res.Kept++
				continue
			}
			return res, err
		}
		res.Written = append(res.Written, epoch)
	}
	if len(res.Written) > 0 || len(res.Deleted) > 0 {
		b.logger.Info("history updated", zap.Ints("written", res.Written), zap.Ints("deleted", res.Deleted), zap.Int("kept", res.Kept))
	}
	return res, nil
}

func (b *Builder) epoch(ctx context.Context, epoch int) (indexer.EpochInfo, error) {
	b.mu.Lock()
	info, ok := b.bounds[epoch]
	b.mu.Unlock()
	if ok {
		return info, nil
	}
	e, err := b.primary.Epoch(ctx, epoch)
	if err != nil {
		return indexer.EpochInfo{}, err
	}
	b.mu.Lock()
	b.bounds[epoch] = *e
	b.mu.Unlock()
	return *e, nil
}

// Cut builds the view of snap as of the end of epoch: proposals submitted
// up to it with outcomes known by then, votes cast before its end (or of
// unknown time), and voting power as of that epoch.
func (b *Builder) Cut(ctx context.Context, snap *gov.Snapshot, info indexer.EpochInfo) (*gov.Snapshot, error) {
	power := map[gov.Role]map[string]float64{}
	if b.secondary != nil {
		for _, role := range []gov.Role{gov.RoleDRep, gov.RoleSPO} {
			m, err := b.secondary.VotingPowerAt(ctx, info.Epoch, role)
			if err != nil {
				return nil, fmt.Errorf("%s voting power at %d: %w", role, info.Epoch, err)
			}
			power[role] = m
		}
	}

	src := snap.Clone()
	cut := gov.NewSnapshot()
	cut.LatestEpoch = info.Epoch
	cut.GeneratedAt = time.Unix(info.EndTime, 0).UTC()
	cut.Mode = gov.ModeHistory
	for id, p := range src.Proposals {
		if p.SubmittedEpoch <= info.Epoch {
			rollBack(p, info.Epoch)
			cut.Proposals[id] = p
		}
	}
	for _, role := range gov.Roles {
		var actors []*gov.Actor
		for _, a := range src.Actors(role) {
			votes := a.Votes[:0]
			for _, v := range a.Votes {
				if _, ok := cut.Proposals[v.ProposalID]; !ok {
					continue
				}
				if v.VotedAtUnix != 0 && v.VotedAtUnix > info.EndTime {
					continue
				}
				votes = append(votes, v)
			}
			if len(votes) == 0 {
				continue
			}
			a.Votes = votes
			a.VotingPowerAda = nil
			if m, ok := power[role]; ok {
				if v, ok := m[a.ID]; ok {
					a.VotingPowerAda = gov.Float(v)
				}
			}
			actors = append(actors, a)
		}
		if actors == nil {
			actors = []*gov.Actor{}
		}
		cut.SetActors(role, actors)
	}
	snapshot.Recompute(cut)
	return cut, nil
}

// rollBack clears lifecycle epochs after epoch and rederives the outcome, so
// a cut never reports a result that was only reached later.
func rollBack(p *gov.Proposal, epoch int) {
	for _, e := range []**int{&p.RatifiedEpoch, &p.EnactedEpoch, &p.DroppedEpoch, &p.ExpiredEpoch} {
		if *e != nil && **e > epoch {
			*e = nil
		}
	}
	p.Outcome = p.DeriveOutcome()
}

func write(path string, cut *gov.Snapshot, overwrite bool) error {
	data, err := json.Marshal(cut)
	if err != nil {
		return fmt.Errorf("encode cut: %w", err)
	}
	if overwrite {
		return cache.WriteFileAtomic(path, data)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write cut %s: %w", path, err)
	}
	return f.Close()
}

// Load reads the cut for epoch.
func (b *Builder) Load(epoch int) (*gov.Snapshot, error) {
	s, err := snapshot.Load(b.path(epoch))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: epoch %d", ErrNotFound, epoch)
	}
	return s, err
}

// Epochs lists the epochs that have a cut, ascending.
func (b *Builder) Epochs() ([]int, error) {
	entries, err := os.ReadDir(b.cfg.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []int
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok || e.IsDir() {
			continue
		}
		if n, err := strconv.Atoi(name); err == nil {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}
