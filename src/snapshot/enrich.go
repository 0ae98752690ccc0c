package snapshot

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stake-plus/govsync/src/cache"
	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/indexer"
)

// enrich fills profile fields of actors in a bounded pool. A failed profile
// is counted and the actor keeps whatever it had.
func (b *Builder) enrich(ctx context.Context, r *run, actors []*gov.Actor) {
	if len(actors) == 0 {
		return
	}
	summaries := b.drepSummaries(ctx, actors)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.ActorWorkers)
	for _, a := range actors {
		g.Go(func() error {
			var ok bool
			switch a.Role {
			case gov.RoleDRep:
				ok = b.enrichDRep(gctx, a, summaries)
			case gov.RoleSPO:
				ok = b.enrichPool(gctx, a)
			default:
				a.DisplayName = a.ID
				ok = true
			}
			if !ok {
				r.profErrs.Add(1)
			}
			a.ProfileFetched = a.ProfileFetched || ok
			return nil
		})
	}
	_ = g.Wait()
}

// drepSummaries batches power and status for the DReps among actors through
// the secondary provider.
func (b *Builder) drepSummaries(ctx context.Context, actors []*gov.Actor) map[string]indexer.ActorProfile {
	if b.secondary == nil {
		return nil
	}
	var ids []string
	for _, a := range actors {
		if a.Role == gov.RoleDRep {
			ids = append(ids, a.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	out, err := b.secondary.DRepSummaries(ctx, ids)
	if err != nil {
		b.logger.Warn("drep summaries unavailable, falling back to primary", zap.Int("dreps", len(ids)), zap.Error(err))
	}
	return out
}

func (b *Builder) enrichDRep(ctx context.Context, a *gov.Actor, summaries map[string]indexer.ActorProfile) bool {
	sum, haveSummary := summaries[a.ID]
	if haveSummary {
		applyProfile(a, sum)
	}
	prof, err := b.primary.DRepProfile(ctx, a.ID)
	if err != nil {
		b.logger.Debug("drep profile failed", zap.String("drep", a.ID), zap.Error(err))
		return haveSummary
	}
	if prof.Name != "" {
		a.DisplayName = prof.Name
	}
	if !haveSummary {
		applyProfile(a, *prof)
	}
	return true
}

func (b *Builder) enrichPool(ctx context.Context, a *gov.Actor) bool {
	if b.caches != nil && b.caches.Pools != nil {
		if cached, _, ok := b.caches.Pools.Lookup(a.ID); ok {
			applyPool(a, cached)
			return true
		}
	}
	prof, err := b.primary.PoolProfile(ctx, a.ID)
	if err != nil {
		b.logger.Debug("pool profile failed", zap.String("pool", a.ID), zap.Error(err))
		return false
	}
	pp := poolProfile(prof, b.now())
	applyPool(a, pp)
	if b.caches != nil && b.caches.Pools != nil {
		if err := b.caches.Pools.Put(pp); err != nil {
			b.logger.Warn("pool cache write failed", zap.Error(err))
		}
	}
	return true
}

func applyProfile(a *gov.Actor, p indexer.ActorProfile) {
	if p.Name != "" {
		a.DisplayName = p.Name
	}
	if p.VotingPowerAda != nil {
		a.VotingPowerAda = gov.Float(*p.VotingPowerAda)
	}
	if p.Status != "" {
		a.Status = p.Status
	}
}

func applyPool(a *gov.Actor, p cache.PoolProfile) {
	a.DisplayName = p.Name
	if a.DisplayName == "" {
		a.DisplayName = p.ID
	}
	a.VotingPowerAda = gov.Float(p.VotingPowerAda)
	a.Status = p.Status
}

func poolProfile(p *indexer.ActorProfile, now time.Time) cache.PoolProfile {
	pp := cache.PoolProfile{ID: p.ID, Name: p.Name, Status: p.Status, FetchedAt: now.Unix()}
	if p.VotingPowerAda != nil {
		pp.VotingPowerAda = *p.VotingPowerAda
	}
	return pp
}
