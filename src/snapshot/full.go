package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/indexer"
)

// BuildFull scans every proposal, vote and actor from scratch.
func (b *Builder) BuildFull(ctx context.Context) (*gov.Snapshot, error) {
	start := time.Now()
	r, err := b.startRun(ctx, nil)
	if err != nil {
		return nil, err
	}
	refs, err := b.primary.ListProposals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}

	results := b.fetchAll(ctx, refs, func(gctx context.Context, ref indexer.ProposalRef) *fetched {
		return b.fetchProposal(gctx, r, ref)
	})
	pending := r.addProposals(results)

	if _, err := b.mergeRecords(ctx, r, pending); err != nil {
		return nil, err
	}
	b.enrich(ctx, r, r.cand.allActors())

	s := b.finish(r, gov.ModeFull)
	b.logger.Info("full build finished",
		zap.Int("proposals", len(s.Proposals)),
		zap.Int("actors", s.ActorCount()),
		zap.Int("votes", s.VoteCount()),
		zap.Int("skipped", s.SkippedProposals),
		zap.Int("voteErrors", s.VoteFetchErrors),
		zap.Int("profileErrors", s.ProfileErrors),
		zap.Duration("took", time.Since(start)))
	return s, nil
}

// fetchAll runs fn over refs in the proposal pool, preserving order.
func (b *Builder) fetchAll(ctx context.Context, refs []indexer.ProposalRef, fn func(context.Context, indexer.ProposalRef) *fetched) []*fetched {
	out := make([]*fetched, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.ProposalWorkers)
	for i, ref := range refs {
		g.Go(func() error {
			out[i] = fn(gctx, ref)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// addProposals stores the fetched proposals on the candidate and returns
// their records ready for merge.
func (r *run) addProposals(results []*fetched) []pendingVote {
	var pending []pendingVote
	for _, f := range results {
		if f == nil {
			continue
		}
		r.cand.snap.Proposals[f.proposal.ID] = f.proposal
		for _, rec := range f.records {
			pending = append(pending, pendingVote{proposal: f.proposal, record: rec})
		}
	}
	return pending
}
