package gov

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"time"

	"github.com/OneOfOne/xxhash"
)

// SchemaVersion is bumped whenever the persisted snapshot layout changes.
const SchemaVersion = 2

// Build modes recorded on a snapshot.
const (
	ModeFull    = "full"
	ModeDelta   = "delta"
	ModeSeed    = "seed"
	ModeHistory = "history"
)

// Snapshot is one internally consistent aggregation of proposals, votes and
// actors. A published snapshot is never mutated.
type Snapshot struct {
	SchemaVersion    int                  `json:"schemaVersion"`
	GeneratedAt      time.Time            `json:"generatedAt"`
	LatestEpoch      int                  `json:"latestEpoch"`
	Proposals        map[string]*Proposal `json:"proposalInfo"`
	DReps            []*Actor             `json:"dreps"`
	CommitteeMembers []*Actor             `json:"committeeMembers"`
	StakePools       []*Actor             `json:"stakePools"`
	Partial          bool                 `json:"partial"`
	SkippedProposals int                  `json:"skippedProposalCount"`
	VoteFetchErrors  int                  `json:"voteFetchErrorCount"`
	ProfileErrors    int                  `json:"profileErrorCount"`
	Mode             string               `json:"mode"`
	Fingerprint      string               `json:"fingerprint,omitempty"`
}

// NewSnapshot returns an empty snapshot with initialized collections.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		SchemaVersion:    SchemaVersion,
		Proposals:        map[string]*Proposal{},
		DReps:            []*Actor{},
		CommitteeMembers: []*Actor{},
		StakePools:       []*Actor{},
	}
}

// Actors returns the actor slice for role.
func (s *Snapshot) Actors(role Role) []*Actor {
	switch role {
	case RoleDRep:
		return s.DReps
	case RoleCommittee:
		return s.CommitteeMembers
	case RoleSPO:
		return s.StakePools
	}
	return nil
}

// SetActors replaces the actor slice for role.
func (s *Snapshot) SetActors(role Role, actors []*Actor) {
	switch role {
	case RoleDRep:
		s.DReps = actors
	case RoleCommittee:
		s.CommitteeMembers = actors
	case RoleSPO:
		s.StakePools = actors
	}
}

// ActorCount counts actors over every role.
func (s *Snapshot) ActorCount() int {
	return len(s.DReps) + len(s.CommitteeMembers) + len(s.StakePools)
}

// VoteCount counts votes over every actor.
func (s *Snapshot) VoteCount() int {
	n := 0
	for _, role := range Roles {
		for _, a := range s.Actors(role) {
			n += len(a.Votes)
		}
	}
	return n
}

// DRepPowerAda sums the known DRep voting power.
func (s *Snapshot) DRepPowerAda() float64 {
	total := 0.0
	for _, a := range s.DReps {
		if a.VotingPowerAda != nil {
			total += *a.VotingPowerAda
		}
	}
	return total
}

// Clone deep-copies the snapshot so a builder can mutate it freely.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Proposals = make(map[string]*Proposal, len(s.Proposals))
	for id, p := range s.Proposals {
		out.Proposals[id] = cloneProposal(p)
	}
	out.DReps = cloneActors(s.DReps)
	out.CommitteeMembers = cloneActors(s.CommitteeMembers)
	out.StakePools = cloneActors(s.StakePools)
	return &out
}

func cloneProposal(p *Proposal) *Proposal {
	c := *p
	c.ExpirationEpoch = cloneInt(p.ExpirationEpoch)
	c.RatifiedEpoch = cloneInt(p.RatifiedEpoch)
	c.EnactedEpoch = cloneInt(p.EnactedEpoch)
	c.DroppedEpoch = cloneInt(p.DroppedEpoch)
	c.ExpiredEpoch = cloneInt(p.ExpiredEpoch)
	if p.Threshold != nil {
		t := *p.Threshold
		c.Threshold = &t
	}
	if p.VoteStats != nil {
		c.VoteStats = make(map[Role]VoteStats, len(p.VoteStats))
		for k, v := range p.VoteStats {
			c.VoteStats[k] = v
		}
	}
	return &c
}

func cloneActors(in []*Actor) []*Actor {
	out := make([]*Actor, 0, len(in))
	for _, a := range in {
		c := *a
		c.Votes = append([]Vote(nil), a.Votes...)
		if a.VotingPowerAda != nil {
			c.VotingPowerAda = Float(*a.VotingPowerAda)
		}
		if a.RationaleRate != nil {
			c.RationaleRate = Float(*a.RationaleRate)
		}
		out = append(out, &c)
	}
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	return Int(*v)
}

// ComputeFingerprint hashes the proposal outcomes and the vote set in a
// canonical order. Timestamps of the build itself are excluded, so two
// builds over identical upstream data share a fingerprint.
func (s *Snapshot) ComputeFingerprint() string {
	h := xxhash.NewS64(0)
	write := func(v string) { h.Write([]byte(v)) }
	ids := make([]string, 0, len(s.Proposals))
	for id := range s.Proposals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := s.Proposals[id]
		write(id)
		write(string(p.Outcome))
	}

	var votes []Vote
	for _, role := range Roles {
		for _, a := range s.Actors(role) {
			votes = append(votes, a.Votes...)
		}
	}
	sort.Slice(votes, func(i, j int) bool {
		if votes[i].ProposalID != votes[j].ProposalID {
			return votes[i].ProposalID < votes[j].ProposalID
		}
		return votes[i].ActorID < votes[j].ActorID
	})
	var buf [8]byte
	for _, v := range votes {
		write(v.ProposalID)
		write(v.ActorID)
		write(string(v.Value))
		write(string(v.Outcome))
		write(v.TxHash)
		binary.LittleEndian.PutUint64(buf[:], uint64(v.VotedAtUnix))
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], h.Sum64())
	return hex.EncodeToString(buf[:])
}
