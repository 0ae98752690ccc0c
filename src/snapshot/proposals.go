package snapshot

import (
	"context"

	"go.uber.org/zap"

	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/indexer"
)

// fetchProposal gathers detail, metadata, the originating tx and every vote
// page of a proposal. A detail failure skips the proposal; a vote page
// failure keeps the records collected so far.
func (b *Builder) fetchProposal(ctx context.Context, r *run, ref indexer.ProposalRef) *fetched {
	log := b.logger.With(zap.String("proposal", ref.ID()))
	p, ok := b.fetchDetail(ctx, r, ref, log)
	if !ok {
		return nil
	}

	if meta, err := b.primary.ProposalMetadata(ctx, ref); err != nil {
		log.Debug("proposal metadata unavailable", zap.Error(err))
	} else {
		p.Title = meta.Title
		p.Abstract = meta.Abstract
		p.AnchorURL = meta.AnchorURL
		p.AnchorHash = meta.AnchorHash
	}

	if tx, err := b.primary.Transaction(ctx, ref.TxHash); err != nil {
		log.Debug("proposal tx unavailable", zap.Error(err))
	} else {
		p.SubmittedAtUnix = tx.BlockTime
		p.SubmittedEpoch = tx.Epoch
	}

	records := b.pageVotes(ctx, r, ref, nil, log)
	return &fetched{proposal: p, records: newestPerActor(records)}
}

// fetchDetail returns the proposal built from its detail endpoint.
func (b *Builder) fetchDetail(ctx context.Context, r *run, ref indexer.ProposalRef, log *zap.Logger) (*gov.Proposal, bool) {
	d, err := b.primary.ProposalDetail(ctx, ref)
	if err != nil {
		r.skipped.Add(1)
		log.Warn("proposal detail failed, skipping", zap.Error(err))
		return nil, false
	}
	govType := d.GovernanceType
	if govType == "" {
		govType = ref.GovernanceType
	}
	p := &gov.Proposal{
		ID:              ref.ID(),
		TxHash:          ref.TxHash,
		CertIndex:       ref.CertIndex,
		GovernanceType:  govType,
		ExpirationEpoch: d.ExpirationEpoch,
		RatifiedEpoch:   d.RatifiedEpoch,
		EnactedEpoch:    d.EnactedEpoch,
		DroppedEpoch:    d.DroppedEpoch,
		ExpiredEpoch:    d.ExpiredEpoch,
		DetailFetched:   true,
	}
	if th, ok := r.thresholds[govType]; ok {
		p.Threshold = &th
	}
	p.Outcome = p.DeriveOutcome()
	return p, true
}

// pageVotes walks vote pages newest first. With a watermark it returns
// only unknown records and stops after the first page holding a known tx
// hash: votes are append-only and the base saw every vote up to that one.
// Without a watermark it reads to the end. Running out of pages before a
// short page counts as a vote fetch error.
func (b *Builder) pageVotes(ctx context.Context, r *run, ref indexer.ProposalRef, watermark map[string]bool, log *zap.Logger) []indexer.VoteRecord {
	pageSize := b.primary.PageSize()
	var out []indexer.VoteRecord
	for page := 1; b.cfg.MaxVotePages <= 0 || page <= b.cfg.MaxVotePages; page++ {
		rows, err := b.primary.ProposalVotes(ctx, ref, page)
		if err != nil {
			r.voteErrs.Add(1)
			log.Warn("vote page failed", zap.Int("page", page), zap.Error(err))
			return out
		}
		reachedKnown := false
		for _, row := range rows {
			if watermark != nil && row.TxHash != "" && watermark[row.TxHash] {
				reachedKnown = true
				break
			}
			out = append(out, row)
		}
		if reachedKnown || len(rows) < pageSize {
			return out
		}
	}
	r.voteErrs.Add(1)
	log.Warn("vote pages truncated", zap.Int("max_pages", b.cfg.MaxVotePages), zap.Int("votes", len(out)))
	return out
}

// refreshKnown re-reads detail of a known open proposal and the votes cast
// since the watermark.
func (b *Builder) refreshKnown(ctx context.Context, r *run, known *gov.Proposal, ref indexer.ProposalRef, watermark map[string]bool) *fetched {
	log := b.logger.With(zap.String("proposal", ref.ID()))
	fresh, ok := b.fetchDetail(ctx, r, ref, log)
	var p *gov.Proposal
	if ok {
		merged := gov.MergeProposal(*known, *fresh)
		p = &merged
	} else {
		c := *known
		p = &c
	}
	if watermark == nil {
		watermark = map[string]bool{}
	}
	records := b.pageVotes(ctx, r, ref, watermark, log)
	return &fetched{proposal: p, records: newestPerActor(records)}
}
