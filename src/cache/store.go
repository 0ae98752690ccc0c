package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stake-plus/govsync/src/metrics"
	"go.uber.org/zap"
)

const defaultFlushEvery = 50

type fileFormat[V any] struct {
	Version int          `json:"version"`
	SavedAt time.Time    `json:"savedAt"`
	Entries map[string]V `json:"entries"`
}

// Store is a disk-backed flat key→value map. The file is read on first
// access; writes are batched and flushed as a full-file rewrite once
// FlushEvery keys have been added or changed.
type Store[V comparable] struct {
	name       string
	path       string
	version    int
	flushEvery int
	logger     *zap.Logger

	mu      sync.RWMutex
	entries map[string]V
	loaded  bool
	pending int

	// flushMu orders rewrites so an older copy never replaces a newer file.
	flushMu sync.Mutex
}

// NewStore creates a store backed by path. Nothing is read until first use.
func NewStore[V comparable](name, path string, version, flushEvery int, logger *zap.Logger) *Store[V] {
	if flushEvery <= 0 {
		flushEvery = defaultFlushEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store[V]{
		name:       name,
		path:       path,
		version:    version,
		flushEvery: flushEvery,
		logger:     logger.Named("cache").With(zap.String("cache", name)),
	}
}

// Name returns the cache name.
func (s *Store[V]) Name() string {
	return s.name
}

// Get returns the cached value for key.
func (s *Store[V]) Get(key string) (V, bool) {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	return v, ok
}

// Put stores value under key. It returns the flush error when this write
// completed a batch and the rewrite failed; the entry stays in memory.
func (s *Store[V]) Put(key string, value V) error {
	s.ensureLoaded()
	s.mu.Lock()
	if old, ok := s.entries[key]; ok && old == value {
		s.mu.Unlock()
		return nil
	}
	s.entries[key] = value
	s.pending++
	due := s.pending >= s.flushEvery
	s.mu.Unlock()

	if due {
		return s.Flush()
	}
	return nil
}

// Len returns the number of entries.
func (s *Store[V]) Len() int {
	s.ensureLoaded()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Pending returns the number of unflushed writes.
func (s *Store[V]) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

// Flush rewrites the backing file if there are unflushed writes.
func (s *Store[V]) Flush() error {
	s.ensureLoaded()
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.pending == 0 {
		s.mu.Unlock()
		return nil
	}
	record := fileFormat[V]{Version: s.version, SavedAt: time.Now().UTC(), Entries: make(map[string]V, len(s.entries))}
	for k, v := range s.entries {
		record.Entries[k] = v
	}
	flushed := s.pending
	s.mu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s cache: %w", s.name, err)
	}
	if err := WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write %s cache: %w", s.name, err)
	}

	s.mu.Lock()
	s.pending -= flushed
	if s.pending < 0 {
		s.pending = 0
	}
	s.mu.Unlock()

	metrics.CacheEntries.WithLabelValues(s.name).Set(float64(len(record.Entries)))
	s.logger.Debug("cache flushed", zap.Int("entries", len(record.Entries)))
	return nil
}

func (s *Store[V]) ensureLoaded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return
	}
	s.loaded = true
	s.entries = map[string]V{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("cache unreadable, starting empty", zap.Error(err))
		}
		return
	}

	var record fileFormat[V]
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Warn("cache corrupt, starting empty", zap.Error(err))
		return
	}
	if record.Version != s.version {
		s.logger.Warn("cache schema changed, starting empty", zap.Int("found", record.Version), zap.Int("want", s.version))
		return
	}
	if record.Entries != nil {
		s.entries = record.Entries
	}
	metrics.CacheEntries.WithLabelValues(s.name).Set(float64(len(s.entries)))
}

// WriteFileAtomic stages data in a temp file next to path and renames it
// into place so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".stage-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("activate file: %w", err)
	}
	keep = true
	return nil
}
