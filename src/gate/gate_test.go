package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stake-plus/govsync/src/gov"
)

func completeSnapshot() *gov.Snapshot {
	s := gov.NewSnapshot()
	s.Proposals["aa#0"] = &gov.Proposal{ID: "aa#0", DetailFetched: true}
	s.DReps = []*gov.Actor{{ID: "drep1", Role: gov.RoleDRep, VotingPowerAda: gov.Float(100)}}
	return s
}

func TestIsComplete(t *testing.T) {
	assert.True(t, IsComplete(completeSnapshot(), DefaultMinCoverage))
	assert.False(t, IsComplete(nil, DefaultMinCoverage))
	assert.False(t, IsComplete(gov.NewSnapshot(), DefaultMinCoverage))

	noPower := completeSnapshot()
	noPower.DReps[0].VotingPowerAda = nil
	assert.False(t, IsComplete(noPower, DefaultMinCoverage))

	skipped := completeSnapshot()
	skipped.SkippedProposals = 1
	assert.False(t, IsComplete(skipped, DefaultMinCoverage))

	voteErr := completeSnapshot()
	voteErr.VoteFetchErrors = 2
	assert.False(t, IsComplete(voteErr, DefaultMinCoverage))

	lowCoverage := completeSnapshot()
	lowCoverage.Proposals["bb#0"] = &gov.Proposal{ID: "bb#0"}
	assert.InDelta(t, 0.5, DetailCoverage(lowCoverage), 1e-9)
	assert.False(t, IsComplete(lowCoverage, DefaultMinCoverage))
	assert.True(t, IsComplete(lowCoverage, 0.4))
}

func TestDecide(t *testing.T) {
	complete := completeSnapshot()
	partial := completeSnapshot()
	partial.SkippedProposals = 1

	assert.Equal(t, Publish, Decide(complete, complete, DefaultMinCoverage))
	assert.Equal(t, Publish, Decide(complete, nil, DefaultMinCoverage))
	assert.Equal(t, Publish, Decide(partial, nil, DefaultMinCoverage))
	assert.Equal(t, Publish, Decide(partial, partial, DefaultMinCoverage))
	assert.Equal(t, Hold, Decide(partial, complete, DefaultMinCoverage))
}
