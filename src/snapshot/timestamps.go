package snapshot

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// resolveTxTimes returns block times for hashes, reading the tx-time cache
// first and fetching the rest in a bounded pool. Fetched times are written
// back to the cache. Unresolvable hashes are absent from the result.
func (b *Builder) resolveTxTimes(ctx context.Context, hashes []string) map[string]int64 {
	out := make(map[string]int64, len(hashes))
	var missing []string
	seen := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		if b.caches != nil {
			if t, ok := b.caches.TxTimes.Get(h); ok {
				out[h] = t
				continue
			}
		}
		missing = append(missing, h)
	}
	if len(missing) == 0 {
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.TxWorkers)
	for _, h := range missing {
		g.Go(func() error {
			tx, err := b.primary.Transaction(gctx, h)
			if err != nil || tx.BlockTime <= 0 {
				b.logger.Debug("vote tx time unavailable", zap.String("tx", h), zap.Error(err))
				return nil
			}
			mu.Lock()
			out[h] = tx.BlockTime
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if b.caches != nil {
		for _, h := range missing {
			t, ok := out[h]
			if !ok {
				continue
			}
			if err := b.caches.TxTimes.Put(h, t); err != nil {
				b.logger.Warn("tx-time cache write failed", zap.Error(err))
			}
		}
	}
	b.logger.Debug("resolved vote tx times", zap.Int("cached", len(out)-len(missing)), zap.Int("fetched", len(missing)))
	return out
}
