package snapshot

import (
	"github.com/stake-plus/govsync/src/gov"
)

// derive recomputes every aggregate from the merged votes: outcomes and
// response hours on votes, per-role stats on proposals, and consistency,
// eligibility and rationale rate on actors.
func derive(c *candidate) {
	proposals := c.snap.Proposals
	for _, p := range proposals {
		p.VoteStats = make(map[gov.Role]gov.VoteStats)
	}

	for _, a := range c.allActors() {
		a.MatchingVotes = 0
		a.ComparableVotes = 0
		a.FirstVoteEpoch = 0
		resolved, withRationale := 0, 0
		first := -1
		for i := range a.Votes {
			v := &a.Votes[i]
			p, ok := proposals[v.ProposalID]
			if !ok {
				continue
			}
			v.Outcome = p.Outcome
			v.ResponseHours = gov.ResponseHours(v.VotedAtUnix, p.SubmittedAtUnix)

			st := p.VoteStats[v.Role]
			switch v.Value {
			case gov.VoteYes:
				st.Yes++
			case gov.VoteNo:
				st.No++
			case gov.VoteAbstain:
				st.Abstain++
			case gov.VoteNoConfidence:
				st.NoConfidence++
			}
			st.Total++
			p.VoteStats[v.Role] = st

			if comparable(v.Value, p.Outcome) {
				a.ComparableVotes++
				if string(v.Value) == string(p.Outcome) {
					a.MatchingVotes++
				}
			}
			if v.HasRationale != nil {
				resolved++
				if *v.HasRationale {
					withRationale++
				}
			}
			if e := voteEpoch(v, p); e > 0 && (first < 0 || e < first) {
				first = e
			}
		}
		if first >= 0 {
			a.FirstVoteEpoch = first
		}
		a.EligibleProposals = eligible(a, proposals)
		a.RationaleRate = nil
		if resolved > 0 {
			a.RationaleRate = gov.Float(float64(withRationale) / float64(resolved))
		}
	}
}

// voteEpoch is the epoch the ballot was cast in, or the proposal's
// submission epoch when the vote time is unknown.
func voteEpoch(v *gov.Vote, p *gov.Proposal) int {
	if v.Epoch > 0 {
		return v.Epoch
	}
	return p.SubmittedEpoch
}

// comparable reports whether a ballot can be scored against a final outcome.
func comparable(v gov.VoteValue, o gov.Outcome) bool {
	return (v == gov.VoteYes || v == gov.VoteNo) && (o == gov.OutcomeYes || o == gov.OutcomeNo)
}

// eligible counts proposals the actor's role could vote on that were still
// open at or after the actor's first vote. Proposals the actor voted on
// always count.
func eligible(a *gov.Actor, proposals map[string]*gov.Proposal) int {
	if len(a.Votes) == 0 {
		return 0
	}
	voted := make(map[string]bool, len(a.Votes))
	for _, v := range a.Votes {
		voted[v.ProposalID] = true
	}
	n := 0
	for id, p := range proposals {
		if !voted[id] && closedBefore(p, a.FirstVoteEpoch) {
			continue
		}
		if gov.RoleCanVote(a.Role, p.GovernanceType) {
			n++
		}
	}
	return n
}

// closedBefore reports whether voting on p ended before epoch.
func closedBefore(p *gov.Proposal, epoch int) bool {
	if p.SubmittedEpoch >= epoch {
		return false
	}
	end := -1
	for _, e := range []*int{p.RatifiedEpoch, p.DroppedEpoch, p.ExpiredEpoch, p.ExpirationEpoch} {
		if e != nil && (end < 0 || *e < end) {
			end = *e
		}
	}
	return end >= 0 && end < epoch
}

// Recompute rederives every aggregate of s in place and puts actors and
// votes in canonical order. It is used on cuts taken from a snapshot.
func Recompute(s *gov.Snapshot) {
	c := newCandidate(s)
	derive(c)
	c.finalize()
	s.Fingerprint = s.ComputeFingerprint()
}
