package snapshot

import (
	"fmt"
	"sort"

	"github.com/stake-plus/govsync/src/gov"
)

type actorKey struct {
	role gov.Role
	id   string
}

// candidate is the in-progress snapshot plus lookup indexes. It is owned by
// one build goroutine at a time.
type candidate struct {
	snap    *gov.Snapshot
	actors  map[actorKey]*gov.Actor
	votes   map[actorKey]map[string]int
	touched map[actorKey]bool
}

func newCandidate(s *gov.Snapshot) *candidate {
	c := &candidate{
		snap:    s,
		actors:  make(map[actorKey]*gov.Actor),
		votes:   make(map[actorKey]map[string]int),
		touched: make(map[actorKey]bool),
	}
	for _, role := range gov.Roles {
		for _, a := range s.Actors(role) {
			k := actorKey{role: role, id: a.ID}
			c.actors[k] = a
			idx := make(map[string]int, len(a.Votes))
			for i, v := range a.Votes {
				idx[v.ProposalID] = i
			}
			c.votes[k] = idx
		}
	}
	return c
}

// actor returns the actor for (role, id), creating it on first sight.
func (c *candidate) actor(role gov.Role, id string) *gov.Actor {
	k := actorKey{role: role, id: id}
	if a, ok := c.actors[k]; ok {
		return a
	}
	a := &gov.Actor{ID: id, Role: role, Votes: []gov.Vote{}}
	c.actors[k] = a
	c.votes[k] = make(map[string]int)
	c.snap.SetActors(role, append(c.snap.Actors(role), a))
	return a
}

// mergeVote folds v into its actor. It reports whether the stored vote
// changed; an actor whose vote changed is marked touched.
func (c *candidate) mergeVote(v gov.Vote) (bool, error) {
	p, ok := c.snap.Proposals[v.ProposalID]
	if !ok {
		return false, fmt.Errorf("%w: %s", gov.ErrUnknownVoteProposal, v.ProposalID)
	}
	v.Outcome = p.Outcome

	k := actorKey{role: v.Role, id: v.ActorID}
	a := c.actor(v.Role, v.ActorID)
	idx := c.votes[k]
	if i, ok := idx[v.ProposalID]; ok {
		merged := gov.MergeVote(a.Votes[i], v)
		if merged == a.Votes[i] {
			return false, nil
		}
		a.Votes[i] = merged
		c.touched[k] = true
		return true, nil
	}
	idx[v.ProposalID] = len(a.Votes)
	a.Votes = append(a.Votes, v)
	c.touched[k] = true
	return true, nil
}

// knownTxHashes returns the watermark of a proposal: every vote tx hash the
// candidate already holds for it.
func (c *candidate) knownTxHashes() map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for _, a := range c.actors {
		for _, v := range a.Votes {
			if v.TxHash == "" {
				continue
			}
			set, ok := out[v.ProposalID]
			if !ok {
				set = make(map[string]bool)
				out[v.ProposalID] = set
			}
			set[v.TxHash] = true
		}
	}
	return out
}

// touchedActors lists actors that received a new or changed vote.
func (c *candidate) touchedActors() []*gov.Actor {
	out := make([]*gov.Actor, 0, len(c.touched))
	for k := range c.touched {
		out = append(out, c.actors[k])
	}
	return out
}

func (c *candidate) allActors() []*gov.Actor {
	out := make([]*gov.Actor, 0, len(c.actors))
	for _, role := range gov.Roles {
		out = append(out, c.snap.Actors(role)...)
	}
	return out
}

// finalize puts actors and their votes in canonical order. Indexes are
// invalid afterwards.
func (c *candidate) finalize() {
	for _, role := range gov.Roles {
		actors := c.snap.Actors(role)
		sort.Slice(actors, func(i, j int) bool { return actors[i].ID < actors[j].ID })
		for _, a := range actors {
			sort.SliceStable(a.Votes, func(i, j int) bool {
				if a.Votes[i].VotedAtUnix != a.Votes[j].VotedAtUnix {
					return a.Votes[i].VotedAtUnix > a.Votes[j].VotedAtUnix
				}
				return a.Votes[i].ProposalID < a.Votes[j].ProposalID
			})
		}
	}
	c.votes = nil
}
