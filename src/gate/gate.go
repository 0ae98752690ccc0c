// Package gate decides whether a candidate snapshot replaces the one being
// served.
package gate

import "github.com/stake-plus/govsync/src/gov"

// Decision is the outcome of Decide.
type Decision string

const (
	Publish Decision = "publish"
	Hold    Decision = "hold"
)

// DefaultMinCoverage is the detail coverage a complete snapshot must exceed.
const DefaultMinCoverage = 0.9

// DetailCoverage is the share of proposals whose detail endpoint answered.
func DetailCoverage(s *gov.Snapshot) float64 {
	if s == nil || len(s.Proposals) == 0 {
		return 0
	}
	n := 0
	for _, p := range s.Proposals {
		if p.DetailFetched {
			n++
		}
	}
	return float64(n) / float64(len(s.Proposals))
}

// IsComplete reports whether s is trustworthy enough to replace a complete
// snapshot.
func IsComplete(s *gov.Snapshot, minCoverage float64) bool {
	if s == nil {
		return false
	}
	if len(s.Proposals) == 0 || s.ActorCount() == 0 {
		return false
	}
	if s.DRepPowerAda() <= 0 {
		return false
	}
	if s.SkippedProposals > 0 || s.VoteFetchErrors > 0 {
		return false
	}
	return DetailCoverage(s) > minCoverage
}

// Decide publishes a complete candidate, or any candidate while the served
// snapshot is itself incomplete. Otherwise the candidate is held.
func Decide(candidate, served *gov.Snapshot, minCoverage float64) Decision {
	if IsComplete(candidate, minCoverage) || !IsComplete(served, minCoverage) {
		return Publish
	}
	return Hold
}
