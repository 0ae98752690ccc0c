package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/stake-plus/govsync/src/cache"
	"github.com/stake-plus/govsync/src/gov"
)

// Save writes s to path atomically.
func Save(path string, s *gov.Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := cache.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// Load reads a snapshot written by Save. Files from another schema version
// are rejected.
func Load(path string) (*gov.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := gov.NewSnapshot()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	if s.SchemaVersion != gov.SchemaVersion {
		return nil, fmt.Errorf("snapshot %s has schema %d, want %d", path, s.SchemaVersion, gov.SchemaVersion)
	}
	if s.Proposals == nil {
		s.Proposals = map[string]*gov.Proposal{}
	}
	return s, nil
}
