package cache

import (
	"errors"
	"path/filepath"

	"go.uber.org/zap"
)

// Schema versions of the cache files.
const (
	TxTimesVersion      = 1
	RationalesVersion   = 1
	PoolProfilesVersion = 1
)

// RationaleEntry is a definitive rationale lookup result for a vote tx.
type RationaleEntry struct {
	HasRationale bool   `json:"hasRationale"`
	URL          string `json:"url,omitempty"`
	Text         string `json:"text,omitempty"`
	Verified     bool   `json:"verified,omitempty"`
	Source       string `json:"source,omitempty"`
}

// Options configures the cache set.
type Options struct {
	Dir        string
	FlushEvery int
	Refresh    RefreshOptions
}

// Caches groups the three persistent caches used by the builders.
type Caches struct {
	TxTimes    *Store[int64]
	Rationales *Store[RationaleEntry]
	Pools      *PoolProfiles
}

// Open wires the caches under opts.Dir. Files are read lazily.
func Open(opts Options, logger *zap.Logger) *Caches {
	return &Caches{
		TxTimes:    NewStore[int64]("tx-times", filepath.Join(opts.Dir, "tx-times.json"), TxTimesVersion, opts.FlushEvery, logger),
		Rationales: NewStore[RationaleEntry]("tx-rationales", filepath.Join(opts.Dir, "tx-rationales.json"), RationalesVersion, opts.FlushEvery, logger),
		Pools: NewPoolProfiles(
			NewStore[PoolProfile]("pool-profiles", filepath.Join(opts.Dir, "pool-profiles.json"), PoolProfilesVersion, opts.FlushEvery, logger),
			opts.Refresh, nil, logger),
	}
}

// FlushAll writes every cache with pending writes.
func (c *Caches) FlushAll() error {
	return errors.Join(c.TxTimes.Flush(), c.Rationales.Flush(), c.Pools.Store().Flush())
}

// Close stops background refresh and flushes.
func (c *Caches) Close() error {
	c.Pools.Stop()
	return c.FlushAll()
}
