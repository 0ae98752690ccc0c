// Package snapshot builds candidate governance snapshots from the upstream
// indexers, either from scratch (full) or on top of a complete base (delta).
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stake-plus/govsync/src/cache"
	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/indexer"
	"github.com/stake-plus/govsync/src/rationale"
)

var (
	// ErrMissingCredential aborts a build when the primary provider cannot
	// authenticate.
	ErrMissingCredential = errors.New("primary provider credential missing")
	// ErrDeltaUnavailable is returned when the base does not allow a delta.
	ErrDeltaUnavailable = errors.New("delta build unavailable")
)

// Config bounds the builder's worker pools.
type Config struct {
	ProposalWorkers int
	ActorWorkers    int
	TxWorkers       int
	MaxVotePages    int
	MinCoverage     float64
}

func (c *Config) applyDefaults() {
	if c.ProposalWorkers <= 0 {
		c.ProposalWorkers = 4
	}
	if c.ActorWorkers <= 0 {
		c.ActorWorkers = 4
	}
	if c.TxWorkers <= 0 {
		c.TxWorkers = 8
	}
}

// Builder produces candidate snapshots. It keeps no state between builds
// beyond the persistent caches and the resolver it is handed.
type Builder struct {
	primary   indexer.Primary
	secondary indexer.Secondary
	resolver  *rationale.Resolver
	caches    *cache.Caches
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewBuilder wires a builder. secondary and resolver may be nil.
func NewBuilder(primary indexer.Primary, secondary indexer.Secondary, resolver *rationale.Resolver, caches *cache.Caches, cfg Config, logger *zap.Logger) *Builder {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		primary:   primary,
		secondary: secondary,
		resolver:  resolver,
		caches:    caches,
		cfg:       cfg,
		logger:    logger.Named("snapshot"),
		now:       time.Now,
	}
}

// CurrentEpoch asks the primary for the current epoch number.
func (b *Builder) CurrentEpoch(ctx context.Context) (int, error) {
	if err := b.ready(); err != nil {
		return 0, err
	}
	e, err := b.primary.LatestEpoch(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest epoch: %w", err)
	}
	return e.Epoch, nil
}

// PoolFetcher adapts the primary pool endpoint for the pool-profile refresh
// queue.
func (b *Builder) PoolFetcher() cache.PoolFetcher {
	return func(ctx context.Context, poolID string) (cache.PoolProfile, error) {
		p, err := b.primary.PoolProfile(ctx, poolID)
		if err != nil {
			return cache.PoolProfile{}, err
		}
		return poolProfile(p, b.now()), nil
	}
}

// epochAt maps a vote time onto its epoch when the primary knows the
// chain's epoch schedule.
func (b *Builder) epochAt(t int64) int {
	if t <= 0 {
		return 0
	}
	if e, ok := b.primary.(interface{ EpochAt(int64) int }); ok {
		return e.EpochAt(t)
	}
	return 0
}

func (b *Builder) ready() error {
	if r, ok := b.primary.(interface{ Ready() error }); ok {
		if err := r.Ready(); err != nil {
			return fmt.Errorf("%w: %v", ErrMissingCredential, err)
		}
	}
	return nil
}

// run carries the counters of one build.
type run struct {
	cand       *candidate
	epoch      int
	thresholds map[string]gov.ThresholdInfo
	skipped    atomic.Int32
	voteErrs   atomic.Int32
	profErrs   atomic.Int32
}

func (b *Builder) startRun(ctx context.Context, base *gov.Snapshot) (*run, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	epoch, err := b.CurrentEpoch(ctx)
	if err != nil {
		return nil, err
	}
	thresholds, err := b.primary.Thresholds(ctx, epoch)
	if err != nil {
		b.logger.Warn("thresholds unavailable", zap.Int("epoch", epoch), zap.Error(err))
	}
	if b.resolver != nil {
		b.resolver.Reset()
	}
	snap := base
	if snap == nil {
		snap = gov.NewSnapshot()
	}
	snap.Partial = false
	snap.SkippedProposals = 0
	snap.VoteFetchErrors = 0
	snap.ProfileErrors = 0
	return &run{cand: newCandidate(snap), epoch: epoch, thresholds: thresholds}, nil
}

// finish derives aggregates, stamps the snapshot and releases the run.
func (b *Builder) finish(r *run, mode string) *gov.Snapshot {
	derive(r.cand)
	r.cand.finalize()
	s := r.cand.snap
	s.SchemaVersion = gov.SchemaVersion
	s.Mode = mode
	s.LatestEpoch = r.epoch
	s.GeneratedAt = b.now().UTC()
	s.SkippedProposals = int(r.skipped.Load())
	s.VoteFetchErrors = int(r.voteErrs.Load())
	s.ProfileErrors = int(r.profErrs.Load())
	s.Partial = s.SkippedProposals > 0 || s.VoteFetchErrors > 0
	s.Fingerprint = s.ComputeFingerprint()
	return s
}

// fetched is what the proposal pool gathered for one proposal.
type fetched struct {
	proposal *gov.Proposal
	records  []indexer.VoteRecord
}

// pendingVote is a record ready for rationale resolution and merge.
type pendingVote struct {
	proposal *gov.Proposal
	record   indexer.VoteRecord
}

// mergeRecords resolves timestamps and rationale for records and merges
// them into the candidate. It returns the number of votes that changed.
func (b *Builder) mergeRecords(ctx context.Context, r *run, pending []pendingVote) (int, error) {
	if len(pending) == 0 {
		return 0, nil
	}
	hashes := make([]string, 0, len(pending))
	for _, pv := range pending {
		if pv.record.BlockTime == 0 {
			hashes = append(hashes, pv.record.TxHash)
		}
	}
	times := b.resolveTxTimes(ctx, hashes)

	votes := make([]gov.Vote, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.ProposalWorkers)
	for i, pv := range pending {
		g.Go(func() error {
			votes[i] = b.buildVote(gctx, pv, times)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	changed := 0
	for _, v := range votes {
		ok, err := r.cand.mergeVote(v)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (b *Builder) buildVote(ctx context.Context, pv pendingVote, times map[string]int64) gov.Vote {
	rec := pv.record
	v := gov.Vote{
		ProposalID:  pv.proposal.ID,
		ActorID:     rec.VoterID,
		Role:        rec.Role,
		Value:       rec.Vote,
		TxHash:      rec.TxHash,
		CertIndex:   rec.CertIndex,
		VotedAtUnix: rec.BlockTime,
	}
	if v.VotedAtUnix == 0 {
		v.VotedAtUnix = times[rec.TxHash]
	}
	v.Epoch = b.epochAt(v.VotedAtUnix)
	if b.resolver == nil {
		return v
	}
	res := b.resolver.Resolve(ctx, rationale.Request{
		ProposalID:    pv.proposal.ID,
		ProposalTx:    pv.proposal.TxHash,
		ProposalIndex: pv.proposal.CertIndex,
		ActorID:       rec.VoterID,
		Role:          rec.Role,
		VoteTxHash:    rec.TxHash,
		InlineText:    rec.InlineRationale,
		URL:           rec.AnchorURL,
		Hash:          rec.AnchorHash,
	})
	v.HasRationale = res.HasRationale
	v.RationaleURL = res.URL
	v.RationaleText = res.Text
	v.RationaleVerified = res.Verified
	return v
}

// newestPerActor keeps the first record per actor from a newest-first page
// stream and drops records that carry no voter.
func newestPerActor(records []indexer.VoteRecord) []indexer.VoteRecord {
	seen := make(map[actorKey]bool, len(records))
	out := make([]indexer.VoteRecord, 0, len(records))
	for _, rec := range records {
		if rec.VoterID == "" || rec.Role == "" {
			continue
		}
		k := actorKey{role: rec.Role, id: rec.VoterID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, rec)
	}
	return out
}
