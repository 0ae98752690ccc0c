package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PoolProfile is the cached enrichment for one stake pool.
type PoolProfile struct {
	ID             string  `json:"id"`
	Name           string  `json:"name,omitempty"`
	Ticker         string  `json:"ticker,omitempty"`
	VotingPowerAda float64 `json:"votingPowerAda"`
	Status         string  `json:"status,omitempty"`
	FetchedAt      int64   `json:"fetchedAt"`
}

// PoolFetcher loads a fresh pool profile from upstream.
type PoolFetcher func(ctx context.Context, poolID string) (PoolProfile, error)

// RefreshOptions bounds the background refresh of stale pool profiles.
type RefreshOptions struct {
	MaxAge        time.Duration
	QueueCapacity int
	PerTick       int
	Tick          time.Duration
	FetchTimeout  time.Duration
}

// PoolProfiles wraps a Store with per-entry freshness and a bounded refresh
// queue that drains PerTick entries each Tick until empty.
type PoolProfiles struct {
	store  *Store[PoolProfile]
	opts   RefreshOptions
	fetch  PoolFetcher
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	queue     []string
	queued    map[string]bool
	timer     *time.Timer
	scheduled bool
	stopped   bool
}

// NewPoolProfiles creates the pool cache. fetch may be nil until SetFetcher.
func NewPoolProfiles(store *Store[PoolProfile], opts RefreshOptions, fetch PoolFetcher, logger *zap.Logger) *PoolProfiles {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 256
	}
	if opts.PerTick <= 0 {
		opts.PerTick = 10
	}
	if opts.Tick <= 0 {
		opts.Tick = 30 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolProfiles{
		store:  store,
		opts:   opts,
		fetch:  fetch,
		logger: logger.Named("pool-refresh"),
		now:    time.Now,
		queued: map[string]bool{},
	}
}

// SetFetcher installs the upstream loader used by the refresh queue.
func (p *PoolProfiles) SetFetcher(fetch PoolFetcher) {
	p.mu.Lock()
	p.fetch = fetch
	p.mu.Unlock()
}

// Store exposes the backing store for flushing.
func (p *PoolProfiles) Store() *Store[PoolProfile] {
	return p.store
}

// Lookup returns the cached profile and whether it is still fresh. Stale
// entries are returned anyway and queued for background refresh.
func (p *PoolProfiles) Lookup(poolID string) (PoolProfile, bool, bool) {
	prof, ok := p.store.Get(poolID)
	if !ok {
		return PoolProfile{}, false, false
	}
	fresh := p.now().Sub(time.Unix(prof.FetchedAt, 0)) < p.opts.MaxAge
	if !fresh {
		p.Enqueue(poolID)
	}
	return prof, fresh, true
}

// Put records a freshly fetched profile.
func (p *PoolProfiles) Put(prof PoolProfile) error {
	if prof.FetchedAt == 0 {
		prof.FetchedAt = p.now().Unix()
	}
	return p.store.Put(prof.ID, prof)
}

// Enqueue adds poolID to the refresh queue. It returns false when the id is
// already queued or the queue is full.
func (p *PoolProfiles) Enqueue(poolID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.queued[poolID] || len(p.queue) >= p.opts.QueueCapacity {
		return false
	}
	p.queue = append(p.queue, poolID)
	p.queued[poolID] = true
	p.scheduleLocked()
	return true
}

// QueueLen returns the number of ids waiting for refresh.
func (p *PoolProfiles) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Drain refreshes up to PerTick queued profiles and returns how many were
// attempted. Failed ids are dropped; they are queued again on next lookup.
func (p *PoolProfiles) Drain(ctx context.Context) int {
	p.mu.Lock()
	n := min(p.opts.PerTick, len(p.queue))
	batch := append([]string(nil), p.queue[:n]...)
	p.queue = p.queue[n:]
	for _, id := range batch {
		delete(p.queued, id)
	}
	fetch := p.fetch
	p.mu.Unlock()

	if fetch == nil {
		return 0
	}
	for _, id := range batch {
		fctx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
		prof, err := fetch(fctx, id)
		cancel()
		if err != nil {
			p.logger.Warn("pool refresh failed", zap.String("pool", id), zap.Error(err))
			continue
		}
		prof.ID = id
		prof.FetchedAt = p.now().Unix()
		if err := p.Put(prof); err != nil {
			p.logger.Warn("pool cache write failed", zap.Error(err))
		}
	}
	return len(batch)
}

// Stop cancels any scheduled drain.
func (p *PoolProfiles) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.scheduled = false
}

func (p *PoolProfiles) scheduleLocked() {
	if p.scheduled || p.stopped {
		return
	}
	p.scheduled = true
	p.timer = time.AfterFunc(p.opts.Tick, p.tick)
}

func (p *PoolProfiles) tick() {
	p.Drain(context.Background())

	p.mu.Lock()
	defer p.mu.Unlock()
	p.scheduled = false
	if len(p.queue) > 0 {
		p.scheduleLocked()
	}
}
