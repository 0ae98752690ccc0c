package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/indexer/indexertest"
)

const epochLen = 432000

func epochStart(e int) int64 { return int64(e) * epochLen }

func fixture() *gov.Snapshot {
	s := gov.NewSnapshot()
	s.LatestEpoch = 500
	s.Proposals["p#0"] = &gov.Proposal{ID: "p#0", GovernanceType: gov.ActionInfo, SubmittedEpoch: 498, SubmittedAtUnix: epochStart(498) + 5, Outcome: gov.OutcomePending}
	s.Proposals["q#0"] = &gov.Proposal{ID: "q#0", GovernanceType: gov.ActionInfo, SubmittedEpoch: 500, SubmittedAtUnix: epochStart(500) + 5, Outcome: gov.OutcomePending}
	s.DReps = []*gov.Actor{
		{ID: "drepA", Role: gov.RoleDRep, VotingPowerAda: gov.Float(999), Votes: []gov.Vote{
			{ProposalID: "p#0", ActorID: "drepA", Role: gov.RoleDRep, Value: gov.VoteYes, TxHash: "h1", VotedAtUnix: epochStart(498) + 10},
			{ProposalID: "q#0", ActorID: "drepA", Role: gov.RoleDRep, Value: gov.VoteNo, TxHash: "h2", VotedAtUnix: epochStart(500) + 10},
		}},
		{ID: "drepB", Role: gov.RoleDRep, Votes: []gov.Vote{
			{ProposalID: "p#0", ActorID: "drepB", Role: gov.RoleDRep, Value: gov.VoteNo, TxHash: "h3", VotedAtUnix: epochStart(499) + 10},
		}},
		{ID: "drepC", Role: gov.RoleDRep, Votes: []gov.Vote{
			{ProposalID: "p#0", ActorID: "drepC", Role: gov.RoleDRep, Value: gov.VoteAbstain, TxHash: "h4"},
		}},
	}
	return s
}

func newHistory(t *testing.T, f *indexertest.Fake) *Builder {
	t.Helper()
	b := NewBuilder(f, f, Config{Dir: filepath.Join(t.TempDir(), "history"), StartEpoch: 498}, zaptest.NewLogger(t))
	b.now = func() time.Time { return time.Unix(epochStart(500)+5000, 0) }
	return b
}

func powerFake() *indexertest.Fake {
	f := indexertest.New()
	f.PowerHistory[498] = map[string]float64{"drepA": 10, "drepC": 1}
	f.PowerHistory[499] = map[string]float64{"drepA": 20, "drepB": 5, "drepC": 1}
	return f
}

func TestBuildAllWritesEndedEpochs(t *testing.T) {
	b := newHistory(t, powerFake())

	res, err := b.BuildAll(context.Background(), fixture(), false)
	require.NoError(t, err)
	assert.Equal(t, []int{498, 499}, res.Written)

	epochs, err := b.Epochs()
	require.NoError(t, err)
	assert.Equal(t, []int{498, 499}, epochs)

	cut, err := b.Load(498)
	require.NoError(t, err)
	assert.Equal(t, 498, cut.LatestEpoch)
	assert.Equal(t, gov.ModeHistory, cut.Mode)
	assert.Contains(t, cut.Proposals, "p#0")
	assert.NotContains(t, cut.Proposals, "q#0")
	ids := []string{}
	for _, a := range cut.DReps {
		ids = append(ids, a.ID)
	}
	// drepB voted after 498 ended; drepC's vote time is unknown and kept.
	assert.Equal(t, []string{"drepA", "drepC"}, ids)
	require.NotNil(t, cut.DReps[0].VotingPowerAda)
	assert.InDelta(t, 10, *cut.DReps[0].VotingPowerAda, 1e-9)
	assert.Len(t, cut.DReps[0].Votes, 1)
	assert.Equal(t, 2, cut.Proposals["p#0"].VoteStats[gov.RoleDRep].Total)

	cut499, err := b.Load(499)
	require.NoError(t, err)
	assert.Len(t, cut499.DReps, 3)

	_, err = b.Load(497)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuildAllKeepsExistingCuts(t *testing.T) {
	f := powerFake()
	b := newHistory(t, f)
	snap := fixture()
	_, err := b.BuildAll(context.Background(), snap, false)
	require.NoError(t, err)

	path := filepath.Join(b.cfg.Dir, "498.json")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	snap.DReps[1].Votes = append(snap.DReps[1].Votes, gov.Vote{ProposalID: "p#0", ActorID: "drepB", Role: gov.RoleDRep, Value: gov.VoteYes, TxHash: "h9", VotedAtUnix: epochStart(498) + 20})
	f.ResetCalls()
	res, err := b.BuildAll(context.Background(), snap, false)
	require.NoError(t, err)
	assert.Empty(t, res.Written)
	assert.Equal(t, 2, res.Kept)
	assert.Zero(t, f.CallsWithPrefix("power:"))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	res, err = b.BuildAll(context.Background(), snap, true)
	require.NoError(t, err)
	assert.Equal(t, []int{498, 499}, res.Written)
	forced, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, before, forced)
}

func TestBuildAllDeletesCutsOfOpenEpochs(t *testing.T) {
	b := newHistory(t, powerFake())
	require.NoError(t, os.MkdirAll(b.cfg.Dir, 0o755))
	premature := filepath.Join(b.cfg.Dir, "500.json")
	require.NoError(t, os.WriteFile(premature, []byte("{}"), 0o644))

	res, err := b.BuildAll(context.Background(), fixture(), false)
	require.NoError(t, err)
	assert.Equal(t, []int{500}, res.Deleted)
	_, err = os.Stat(premature)
	assert.True(t, os.IsNotExist(err))
}

func TestBuildAllRetriesWhenPowerUnavailable(t *testing.T) {
	f := powerFake()
	f.SecondaryDown = true
	b := newHistory(t, f)

	res, err := b.BuildAll(context.Background(), fixture(), false)
	require.NoError(t, err)
	assert.Equal(t, []int{498, 499}, res.Failed)
	epochs, err := b.Epochs()
	require.NoError(t, err)
	assert.Empty(t, epochs)

	f.SecondaryDown = false
	res, err = b.BuildAll(context.Background(), fixture(), false)
	require.NoError(t, err)
	assert.Equal(t, []int{498, 499}, res.Written)
}

func TestCutRollsBackLaterOutcomes(t *testing.T) {
	b := newHistory(t, powerFake())
	snap := fixture()
	p := snap.Proposals["p#0"]
	p.RatifiedEpoch = gov.Int(499)
	p.EnactedEpoch = gov.Int(500)
	p.Outcome = gov.OutcomeYes

	_, err := b.BuildAll(context.Background(), snap, false)
	require.NoError(t, err)

	cut, err := b.Load(498)
	require.NoError(t, err)
	early := cut.Proposals["p#0"]
	assert.Equal(t, gov.OutcomePending, early.Outcome)
	assert.Nil(t, early.RatifiedEpoch)
	assert.Nil(t, early.EnactedEpoch)
	require.NotEmpty(t, cut.DReps)
	assert.Equal(t, "drepA", cut.DReps[0].ID)
	assert.Zero(t, cut.DReps[0].ComparableVotes)
	assert.Equal(t, gov.OutcomePending, cut.DReps[0].Votes[0].Outcome)

	cut, err = b.Load(499)
	require.NoError(t, err)
	late := cut.Proposals["p#0"]
	assert.Equal(t, gov.OutcomeYes, late.Outcome)
	require.NotNil(t, late.RatifiedEpoch)
	assert.Nil(t, late.EnactedEpoch)

	// the live snapshot keeps its own outcome
	assert.Equal(t, gov.OutcomeYes, snap.Proposals["p#0"].Outcome)
	assert.NotNil(t, snap.Proposals["p#0"].EnactedEpoch)
}
