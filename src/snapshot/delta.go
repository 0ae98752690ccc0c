package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stake-plus/govsync/src/gate"
	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/indexer"
)

// BuildDelta extends a complete base snapshot with proposals and votes seen
// since it was built. The base is not modified. A delta never removes an
// actor or a vote.
func (b *Builder) BuildDelta(ctx context.Context, base *gov.Snapshot) (*gov.Snapshot, error) {
	start := time.Now()
	if base == nil || !gate.IsComplete(base, b.cfg.MinCoverage) {
		return nil, fmt.Errorf("%w: base snapshot is not complete", ErrDeltaUnavailable)
	}
	r, err := b.startRun(ctx, base.Clone())
	if err != nil {
		return nil, err
	}
	if base.LatestEpoch != r.epoch {
		return nil, fmt.Errorf("%w: epoch moved from %d to %d", ErrDeltaUnavailable, base.LatestEpoch, r.epoch)
	}

	refs, err := b.primary.ListProposals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	watermarks := r.cand.knownTxHashes()
	known := r.cand.snap.Proposals

	var fresh, open []indexer.ProposalRef
	for _, ref := range refs {
		p, ok := known[ref.ID()]
		switch {
		case !ok:
			fresh = append(fresh, ref)
		case !p.Finalized():
			open = append(open, ref)
		}
	}

	results := b.fetchAll(ctx, append(fresh, open...), func(gctx context.Context, ref indexer.ProposalRef) *fetched {
		if p, ok := known[ref.ID()]; ok {
			return b.refreshKnown(gctx, r, p, ref, watermarks[ref.ID()])
		}
		return b.fetchProposal(gctx, r, ref)
	})
	pending := r.addProposals(results)

	changed, err := b.mergeRecords(ctx, r, pending)
	if err != nil {
		return nil, err
	}
	b.enrich(ctx, r, r.cand.touchedActors())

	s := b.finish(r, gov.ModeDelta)
	b.logger.Info("delta build finished",
		zap.Int("newProposals", len(fresh)),
		zap.Int("openProposals", len(open)),
		zap.Int("newVotes", changed),
		zap.Int("skipped", s.SkippedProposals),
		zap.Int("voteErrors", s.VoteFetchErrors),
		zap.Duration("took", time.Since(start)))
	return s, nil
}
