package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stake-plus/govsync/src/cache"
	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/indexer"
	"github.com/stake-plus/govsync/src/indexer/indexertest"
	"github.com/stake-plus/govsync/src/rationale"
)

// epoch 500 of the fake starts at 500*432000.
const submittedAt = int64(500*432000 + 1000)

func newBuilder(t *testing.T, f *indexertest.Fake) *Builder {
	t.Helper()
	return newBuilderWithPrimary(t, f, f)
}

func newBuilderWithPrimary(t *testing.T, primary indexer.Primary, f *indexertest.Fake) *Builder {
	t.Helper()
	logger := zaptest.NewLogger(t)
	caches := cache.Open(cache.Options{Dir: t.TempDir(), FlushEvery: 1000}, logger)
	t.Cleanup(func() { _ = caches.Close() })
	resolver := rationale.NewResolver(caches.Rationales, logger,
		rationale.Inline{},
		rationale.NewSecondary(f),
		rationale.NewMetadataService(f),
	)
	return NewBuilder(primary, f, resolver, caches, Config{ProposalWorkers: 2, ActorWorkers: 2, TxWorkers: 2, MinCoverage: 0.5}, logger)
}

func findActor(t *testing.T, s *gov.Snapshot, role gov.Role, id string) *gov.Actor {
	t.Helper()
	for _, a := range s.Actors(role) {
		if a.ID == id {
			return a
		}
	}
	require.Failf(t, "actor not found", "%s %s", role, id)
	return nil
}

func voteTxs(s *gov.Snapshot, proposalID string) []string {
	var out []string
	for _, role := range gov.Roles {
		for _, a := range s.Actors(role) {
			for _, v := range a.Votes {
				if v.ProposalID == proposalID {
					out = append(out, v.TxHash)
				}
			}
		}
	}
	return out
}

func TestFullBuildCollectsEverything(t *testing.T) {
	f := indexertest.New()
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	q := f.AddProposal("q1", 0, gov.ActionTreasuryWithdrawal, submittedAt+10, 500)
	f.AddVote(p, gov.RoleDRep, "drepA", gov.VoteYes, "h1", submittedAt+3600)
	f.AddVote(p, gov.RoleSPO, "pool1", gov.VoteNo, "h2", submittedAt+7200)
	f.AddVote(p, gov.RoleCommittee, "cc1", gov.VoteYes, "h3", submittedAt+100)
	f.AddVote(q, gov.RoleDRep, "drepA", gov.VoteNo, "h4", submittedAt+20)
	f.AddVote(q, gov.RoleDRep, "drepB", gov.VoteYes, "h5", submittedAt+30)
	f.AddVote(q, gov.RoleDRep, "drepC", gov.VoteAbstain, "h6", submittedAt+40)

	s, err := newBuilder(t, f).BuildFull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, gov.ModeFull, s.Mode)
	assert.Equal(t, 500, s.LatestEpoch)
	assert.False(t, s.Partial)
	assert.Len(t, s.Proposals, 2)
	assert.Equal(t, 6, s.VoteCount())
	assert.Len(t, s.DReps, 3)
	assert.Len(t, s.StakePools, 1)
	assert.Len(t, s.CommitteeMembers, 1)
	assert.NotEmpty(t, s.Fingerprint)

	drepA := findActor(t, s, gov.RoleDRep, "drepA")
	assert.Equal(t, "name-drepA", drepA.DisplayName)
	require.NotNil(t, drepA.VotingPowerAda)
	assert.InDelta(t, 1000, *drepA.VotingPowerAda, 1e-9)
	assert.Equal(t, 500, drepA.FirstVoteEpoch)
	assert.Equal(t, 2, drepA.EligibleProposals)
	assert.True(t, drepA.ProfileFetched)

	pool := findActor(t, s, gov.RoleSPO, "pool1")
	assert.Equal(t, "pool-pool1", pool.DisplayName)
	// SPOs cannot vote on treasury withdrawals.
	assert.Equal(t, 1, pool.EligibleProposals)

	cc := findActor(t, s, gov.RoleCommittee, "cc1")
	assert.Equal(t, "cc1", cc.DisplayName)

	stats := s.Proposals[q].VoteStats[gov.RoleDRep]
	assert.Equal(t, gov.VoteStats{Yes: 1, No: 1, Abstain: 1, Total: 3}, stats)
	require.NotNil(t, s.Proposals[q].Threshold)
	assert.InDelta(t, 0.67, *s.Proposals[q].Threshold.DRep, 1e-9)

	for _, v := range drepA.Votes {
		if v.ProposalID == p {
			require.NotNil(t, v.ResponseHours)
			assert.InDelta(t, 1.0, *v.ResponseHours, 1e-9)
			assert.Equal(t, 500, v.Epoch)
			require.NotNil(t, v.HasRationale)
			assert.False(t, *v.HasRationale)
		}
	}
}

func TestFullBuildIsIdempotent(t *testing.T) {
	f := indexertest.New()
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	f.AddVote(p, gov.RoleDRep, "drepA", gov.VoteYes, "h1", submittedAt+3600)
	f.AddVote(p, gov.RoleDRep, "drepB", gov.VoteNo, "h2", submittedAt+7200)
	f.AddVote(p, gov.RoleSPO, "pool1", gov.VoteYes, "h3", submittedAt+9000)
	b := newBuilder(t, f)

	first, err := b.BuildFull(context.Background())
	require.NoError(t, err)
	second, err := b.BuildFull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Proposals, second.Proposals)
	assert.Equal(t, first.DReps, second.DReps)
	assert.Equal(t, first.StakePools, second.StakePools)
}

func TestFullBuildSkipsFailedDetail(t *testing.T) {
	f := indexertest.New()
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	q := f.AddProposal("q1", 0, gov.ActionInfo, submittedAt, 500)
	f.AddVote(p, gov.RoleDRep, "drepA", gov.VoteYes, "h1", submittedAt+3600)
	f.AddVote(q, gov.RoleDRep, "drepA", gov.VoteYes, "h2", submittedAt+3600)
	f.FailDetail[q] = true

	s, err := newBuilder(t, f).BuildFull(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Partial)
	assert.Equal(t, 1, s.SkippedProposals)
	assert.NotContains(t, s.Proposals, q)
	assert.Equal(t, []string{"h1"}, voteTxs(s, p))
	assert.Empty(t, voteTxs(s, q))
}

func TestFullBuildCountsVotePageFailure(t *testing.T) {
	f := indexertest.New()
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	f.AddVote(p, gov.RoleDRep, "drepA", gov.VoteYes, "h1", submittedAt+3600)
	f.FailVotes[p] = true

	s, err := newBuilder(t, f).BuildFull(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Partial)
	assert.Equal(t, 1, s.VoteFetchErrors)
	assert.Contains(t, s.Proposals, p)
}

func TestProfileFailureKeepsVotes(t *testing.T) {
	f := indexertest.New()
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	f.AddVote(p, gov.RoleDRep, "drepA", gov.VoteYes, "h1", submittedAt+3600)
	f.FailProfiles = true
	f.SecondaryDown = true

	s, err := newBuilder(t, f).BuildFull(context.Background())
	require.NoError(t, err)
	assert.False(t, s.Partial)
	assert.Equal(t, 1, s.ProfileErrors)
	drepA := findActor(t, s, gov.RoleDRep, "drepA")
	require.Len(t, drepA.Votes, 1)
	assert.False(t, drepA.ProfileFetched)
	assert.Nil(t, drepA.Votes[0].HasRationale, "secondary was unreachable")
}

type lockedPrimary struct {
	*indexertest.Fake
}

func (lockedPrimary) Ready() error { return errors.New("project id missing") }

func TestFullBuildRequiresCredential(t *testing.T) {
	f := indexertest.New()
	f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)

	_, err := newBuilderWithPrimary(t, lockedPrimary{f}, f).BuildFull(context.Background())
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Zero(t, f.Calls("list"))
}

func TestScenarioDeltaFetchesOnlyNewVotes(t *testing.T) {
	f := indexertest.New()
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	f.AddVote(p, gov.RoleDRep, "drepA", gov.VoteYes, "h1", submittedAt+3600)
	b := newBuilder(t, f)

	base, err := b.BuildFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"h1"}, voteTxs(base, p))
	rh := findActor(t, base, gov.RoleDRep, "drepA").Votes[0].ResponseHours
	require.NotNil(t, rh)
	assert.InDelta(t, 1.0, *rh, 1e-9)

	f.AddVote(p, gov.RoleDRep, "drepB", gov.VoteYes, "h2", submittedAt+7200)
	f.ResetCalls()

	delta, err := b.BuildDelta(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, gov.ModeDelta, delta.Mode)
	assert.Equal(t, 1, f.Calls("votes:"+p))
	assert.ElementsMatch(t, []string{"h1", "h2"}, voteTxs(delta, p))
	assert.Equal(t, 1, f.Calls("tx:h2"))
	assert.Zero(t, f.Calls("tx:h1"))
	assert.Zero(t, f.Calls("drep:drepA"), "untouched actors are not re-enriched")
	assert.Equal(t, 1, f.Calls("drep:drepB"))

	drepB := findActor(t, delta, gov.RoleDRep, "drepB")
	require.NotNil(t, drepB.Votes[0].ResponseHours)
	assert.InDelta(t, 2.0, *drepB.Votes[0].ResponseHours, 1e-9)

	// The base snapshot is not mutated.
	assert.Equal(t, 1, base.VoteCount())
}

func TestScenarioEnactmentPropagatesToVotes(t *testing.T) {
	f := indexertest.New()
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	f.AddVote(p, gov.RoleDRep, "drepA", gov.VoteYes, "h1", submittedAt+3600)
	f.AddVote(p, gov.RoleDRep, "drepB", gov.VoteNo, "h2", submittedAt+7200)
	b := newBuilder(t, f)

	base, err := b.BuildFull(context.Background())
	require.NoError(t, err)
	first, err := b.BuildDelta(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, gov.OutcomePending, first.Proposals[p].Outcome)

	f.SetEnacted(p, 500)
	second, err := b.BuildDelta(context.Background(), first)
	require.NoError(t, err)

	assert.Equal(t, gov.OutcomeYes, second.Proposals[p].Outcome)
	assert.Equal(t, 2, second.VoteCount())
	for _, a := range second.DReps {
		require.Len(t, a.Votes, 1)
		assert.Equal(t, gov.OutcomeYes, a.Votes[0].Outcome)
	}
	drepA := findActor(t, second, gov.RoleDRep, "drepA")
	assert.Equal(t, 1, drepA.ComparableVotes)
	assert.Equal(t, 1, drepA.MatchingVotes)
	drepB := findActor(t, second, gov.RoleDRep, "drepB")
	assert.Equal(t, 0, drepB.MatchingVotes)
}

func TestDeltaWatermarkSinglePage(t *testing.T) {
	f := indexertest.New()
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	for i, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		f.AddVote(p, gov.RoleDRep, id, gov.VoteYes, "h-"+id, submittedAt+int64(i+1)*60)
	}
	b := newBuilder(t, f)
	base, err := b.BuildFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, f.Calls("votes:"+p))

	f.ResetCalls()
	delta, err := b.BuildDelta(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Calls("votes:"+p))
	assert.Equal(t, base.Fingerprint, delta.Fingerprint)
}

func TestDeltaMatchesFull(t *testing.T) {
	f := indexertest.New()
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	f.AddVote(p, gov.RoleDRep, "drepA", gov.VoteYes, "h1", submittedAt+3600)
	f.AddVote(p, gov.RoleSPO, "pool1", gov.VoteYes, "h2", submittedAt+3700)
	b := newBuilder(t, f)
	base, err := b.BuildFull(context.Background())
	require.NoError(t, err)

	q := f.AddProposal("q1", 0, gov.ActionTreasuryWithdrawal, submittedAt+5000, 500)
	f.AddVote(q, gov.RoleDRep, "drepA", gov.VoteNo, "h3", submittedAt+6000)
	f.AddVote(p, gov.RoleDRep, "drepB", gov.VoteNo, "h4", submittedAt+6100)
	f.AddVote(p, gov.RoleDRep, "drepA", gov.VoteNo, "h5", submittedAt+6200)

	delta, err := b.BuildDelta(context.Background(), base)
	require.NoError(t, err)
	full, err := b.BuildFull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, full.Fingerprint, delta.Fingerprint)
	assert.Equal(t, full.Proposals, delta.Proposals)
	assert.Equal(t, full.DReps, delta.DReps)
	assert.Equal(t, full.StakePools, delta.StakePools)

	// drepA changed its vote on p; the newer ballot wins.
	for _, v := range findActor(t, delta, gov.RoleDRep, "drepA").Votes {
		if v.ProposalID == p {
			assert.Equal(t, "h5", v.TxHash)
			assert.Equal(t, gov.VoteNo, v.Value)
		}
	}
}

func TestDeltaNeverRemoves(t *testing.T) {
	f := indexertest.New()
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	f.AddVote(p, gov.RoleDRep, "drepA", gov.VoteYes, "h1", submittedAt+3600)
	b := newBuilder(t, f)
	base, err := b.BuildFull(context.Background())
	require.NoError(t, err)

	f.Proposals = nil
	delta, err := b.BuildDelta(context.Background(), base)
	require.NoError(t, err)
	assert.Contains(t, delta.Proposals, p)
	assert.Equal(t, 1, delta.VoteCount())
	assert.Len(t, delta.DReps, 1)
}

func TestDeltaPreconditions(t *testing.T) {
	f := indexertest.New()
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	f.AddVote(p, gov.RoleDRep, "drepA", gov.VoteYes, "h1", submittedAt+3600)
	b := newBuilder(t, f)
	base, err := b.BuildFull(context.Background())
	require.NoError(t, err)

	_, err = b.BuildDelta(context.Background(), nil)
	assert.ErrorIs(t, err, ErrDeltaUnavailable)

	partial := base.Clone()
	partial.SkippedProposals = 1
	_, err = b.BuildDelta(context.Background(), partial)
	assert.ErrorIs(t, err, ErrDeltaUnavailable)

	f.Latest = 501
	_, err = b.BuildDelta(context.Background(), base)
	assert.ErrorIs(t, err, ErrDeltaUnavailable)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	f := indexertest.New()
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	f.AddVote(p, gov.RoleDRep, "drepA", gov.VoteYes, "h1", submittedAt+3600)
	s, err := newBuilder(t, f).BuildFull(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, Save(path, s))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.Fingerprint, loaded.ComputeFingerprint())
	assert.Equal(t, s.VoteCount(), loaded.VoteCount())

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestFirstVoteEpochFollowsBallotTime(t *testing.T) {
	s := gov.NewSnapshot()
	s.Proposals["a#0"] = &gov.Proposal{ID: "a#0", GovernanceType: gov.ActionInfo, SubmittedEpoch: 510, ExpirationEpoch: gov.Int(530), Outcome: gov.OutcomePending}
	s.Proposals["b#0"] = &gov.Proposal{ID: "b#0", GovernanceType: gov.ActionInfo, SubmittedEpoch: 512, ExpirationEpoch: gov.Int(518), Outcome: gov.OutcomePending}
	s.Proposals["c#0"] = &gov.Proposal{ID: "c#0", GovernanceType: gov.ActionInfo, SubmittedEpoch: 521, Outcome: gov.OutcomePending}
	s.DReps = []*gov.Actor{
		{ID: "late", Role: gov.RoleDRep, Votes: []gov.Vote{
			{ProposalID: "a#0", ActorID: "late", Role: gov.RoleDRep, Value: gov.VoteYes, VotedAtUnix: 520 * 432000, Epoch: 520},
		}},
		{ID: "untimed", Role: gov.RoleDRep, Votes: []gov.Vote{
			{ProposalID: "b#0", ActorID: "untimed", Role: gov.RoleDRep, Value: gov.VoteNo},
		}},
	}

	Recompute(s)

	late := findActor(t, s, gov.RoleDRep, "late")
	assert.Equal(t, 520, late.FirstVoteEpoch)
	// b#0 closed in 518, before the first ballot.
	assert.Equal(t, 2, late.EligibleProposals)

	untimed := findActor(t, s, gov.RoleDRep, "untimed")
	assert.Equal(t, 512, untimed.FirstVoteEpoch)
	assert.Equal(t, 3, untimed.EligibleProposals)
}

func TestFullBuildCountsVotePageCap(t *testing.T) {
	f := indexertest.New()
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	for i, id := range []string{"d1", "d2", "d3"} {
		f.AddVote(p, gov.RoleDRep, id, gov.VoteYes, "h-"+id, submittedAt+int64(i+1)*60)
	}
	b := newBuilder(t, f)
	b.cfg.MaxVotePages = 1

	s, err := b.BuildFull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.Calls("votes:"+p))
	assert.Equal(t, 1, s.VoteFetchErrors)
	assert.True(t, s.Partial)
	assert.ElementsMatch(t, []string{"h-d3", "h-d2"}, voteTxs(s, p))
}

func TestDeltaStopsAtFirstKnownVote(t *testing.T) {
	f := indexertest.New()
	f.PageSizeN = 3
	p := f.AddProposal("p1", 0, gov.ActionInfo, submittedAt, 500)
	f.AddVote(p, gov.RoleDRep, "drepA", gov.VoteYes, "h1", submittedAt+3600)
	b := newBuilder(t, f)
	base, err := b.BuildFull(context.Background())
	require.NoError(t, err)

	// An older record behind the watermark is taken as already seen.
	f.Votes[p] = append([]indexer.VoteRecord{{TxHash: "h0", Role: gov.RoleDRep, VoterID: "drepZ", Vote: gov.VoteNo}}, f.Votes[p]...)
	f.Txs["h0"] = indexer.TxInfo{Hash: "h0", BlockTime: submittedAt + 60}
	f.AddVote(p, gov.RoleDRep, "drepB", gov.VoteNo, "h2", submittedAt+7200)
	f.ResetCalls()

	delta, err := b.BuildDelta(context.Background(), base)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Calls("votes:"+p))
	assert.ElementsMatch(t, []string{"h1", "h2"}, voteTxs(delta, p))
	assert.Zero(t, f.Calls("tx:h0"))
}
