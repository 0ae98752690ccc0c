// Package indexertest provides an in-memory upstream for builder tests.
package indexertest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/indexer"
	"github.com/stake-plus/govsync/src/webclient"
)

// Fake implements indexer.Primary, indexer.Secondary and
// indexer.MetadataService over in-memory maps and counts every call.
type Fake struct {
	mu sync.Mutex

	PageSizeN    int
	Proposals    []indexer.ProposalRef
	Details      map[string]*indexer.ProposalDetail
	Metadata     map[string]*indexer.ProposalMetadata
	Txs          map[string]indexer.TxInfo
	Votes        map[string][]indexer.VoteRecord
	DReps        map[string]indexer.ActorProfile
	Pools        map[string]indexer.ActorProfile
	Epochs       map[int]indexer.EpochInfo
	Latest       int
	PowerHistory map[int]map[string]float64
	MetaVotes    map[string][]indexer.MetaVote

	FailDetail    map[string]bool
	FailVotes     map[string]bool
	FailProfiles  bool
	SecondaryDown bool
	MetaDown      bool

	calls map[string]int
}

// New returns an empty fake with a page size of 2 and epoch 500 current.
func New() *Fake {
	return &Fake{
		PageSizeN:    2,
		Details:      map[string]*indexer.ProposalDetail{},
		Metadata:     map[string]*indexer.ProposalMetadata{},
		Txs:          map[string]indexer.TxInfo{},
		Votes:        map[string][]indexer.VoteRecord{},
		DReps:        map[string]indexer.ActorProfile{},
		Pools:        map[string]indexer.ActorProfile{},
		Epochs:       map[int]indexer.EpochInfo{},
		Latest:       500,
		PowerHistory: map[int]map[string]float64{},
		MetaVotes:    map[string][]indexer.MetaVote{},
		FailDetail:   map[string]bool{},
		FailVotes:    map[string]bool{},
		calls:        map[string]int{},
	}
}

var errUnavailable = &webclient.HTTPError{StatusCode: http.StatusServiceUnavailable}
var errNotFound = &webclient.HTTPError{StatusCode: http.StatusNotFound}

// AddProposal registers a proposal submitted at submittedAt in epoch.
func (f *Fake) AddProposal(txHash string, certIndex int, govType string, submittedAt int64, epoch int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := indexer.ProposalRef{TxHash: txHash, CertIndex: certIndex, GovernanceType: govType}
	f.Proposals = append([]indexer.ProposalRef{ref}, f.Proposals...)
	f.Details[ref.ID()] = &indexer.ProposalDetail{TxHash: txHash, CertIndex: certIndex, GovernanceType: govType, ExpirationEpoch: gov.Int(epoch + 6)}
	f.Metadata[ref.ID()] = &indexer.ProposalMetadata{Title: "Proposal " + txHash}
	f.Txs[txHash] = indexer.TxInfo{Hash: txHash, BlockTime: submittedAt, Epoch: epoch}
	return ref.ID()
}

// AddVote appends a vote cast at votedAt; later calls are newer votes.
func (f *Fake) AddVote(proposalID string, role gov.Role, voterID string, value gov.VoteValue, txHash string, votedAt int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Votes[proposalID] = append(f.Votes[proposalID], indexer.VoteRecord{
		TxHash: txHash, Role: role, VoterID: voterID, Vote: value,
	})
	f.Txs[txHash] = indexer.TxInfo{Hash: txHash, BlockTime: votedAt}
	if role == gov.RoleDRep {
		if _, ok := f.DReps[voterID]; !ok {
			f.DReps[voterID] = indexer.ActorProfile{ID: voterID, Role: role, Name: "name-" + voterID, VotingPowerAda: gov.Float(1000), Status: "active"}
		}
	}
	if role == gov.RoleSPO {
		if _, ok := f.Pools[voterID]; !ok {
			f.Pools[voterID] = indexer.ActorProfile{ID: voterID, Role: role, Name: "pool-" + voterID, VotingPowerAda: gov.Float(500), Status: "active"}
		}
	}
}

// SetEnacted marks a proposal enacted in epoch.
func (f *Fake) SetEnacted(proposalID string, epoch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Details[proposalID].RatifiedEpoch = gov.Int(epoch - 1)
	f.Details[proposalID].EnactedEpoch = gov.Int(epoch)
}

// Calls returns how often the named operation ran; keys look like
// "votes:<proposalID>", "detail:<proposalID>", "tx:<hash>", "list".
func (f *Fake) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// CallsWithPrefix sums calls whose key starts with prefix.
func (f *Fake) CallsWithPrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k, v := range f.calls {
		if strings.HasPrefix(k, prefix) {
			n += v
		}
	}
	return n
}

// ResetCalls zeroes the call counters.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = map[string]int{}
}

func (f *Fake) count(key string) {
	f.calls[key]++
}

func (f *Fake) PageSize() int { return f.PageSizeN }

// EpochAt maps t onto the fake's fixed-length epochs.
func (f *Fake) EpochAt(t int64) int {
	if t <= 0 {
		return 0
	}
	return int(t / 432000)
}

func (f *Fake) ListProposals(ctx context.Context) ([]indexer.ProposalRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("list")
	return append([]indexer.ProposalRef(nil), f.Proposals...), nil
}

func (f *Fake) ProposalDetail(ctx context.Context, ref indexer.ProposalRef) (*indexer.ProposalDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("detail:" + ref.ID())
	if f.FailDetail[ref.ID()] {
		return nil, errUnavailable
	}
	d, ok := f.Details[ref.ID()]
	if !ok {
		return nil, errNotFound
	}
	c := *d
	return &c, nil
}

func (f *Fake) ProposalMetadata(ctx context.Context, ref indexer.ProposalRef) (*indexer.ProposalMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("metadata:" + ref.ID())
	m, ok := f.Metadata[ref.ID()]
	if !ok {
		return nil, errNotFound
	}
	c := *m
	return &c, nil
}

func (f *Fake) Transaction(ctx context.Context, hash string) (*indexer.TxInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("tx:" + hash)
	tx, ok := f.Txs[hash]
	if !ok {
		return nil, errNotFound
	}
	return &tx, nil
}

func (f *Fake) ProposalVotes(ctx context.Context, ref indexer.ProposalRef, page int) ([]indexer.VoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := ref.ID()
	f.count("votes:" + id)
	if f.FailVotes[id] {
		return nil, errUnavailable
	}
	all := f.Votes[id]
	newestFirst := make([]indexer.VoteRecord, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		newestFirst = append(newestFirst, all[i])
	}
	start := (page - 1) * f.PageSizeN
	if start >= len(newestFirst) {
		return []indexer.VoteRecord{}, nil
	}
	end := min(start+f.PageSizeN, len(newestFirst))
	return append([]indexer.VoteRecord(nil), newestFirst[start:end]...), nil
}

func (f *Fake) DRepProfile(ctx context.Context, id string) (*indexer.ActorProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("drep:" + id)
	if f.FailProfiles {
		return nil, errUnavailable
	}
	p, ok := f.DReps[id]
	if !ok {
		return nil, errNotFound
	}
	return &p, nil
}

func (f *Fake) PoolProfile(ctx context.Context, id string) (*indexer.ActorProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("pool:" + id)
	if f.FailProfiles {
		return nil, errUnavailable
	}
	p, ok := f.Pools[id]
	if !ok {
		return nil, errNotFound
	}
	return &p, nil
}

func (f *Fake) LatestEpoch(ctx context.Context) (*indexer.EpochInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("epoch:latest")
	return f.epochLocked(f.Latest), nil
}

func (f *Fake) Epoch(ctx context.Context, epoch int) (*indexer.EpochInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count(fmt.Sprintf("epoch:%d", epoch))
	if epoch > f.Latest {
		return nil, errNotFound
	}
	return f.epochLocked(epoch), nil
}

// epochLocked returns configured epoch bounds or five-day epochs anchored
// so that epoch 0 starts at unix 0.
func (f *Fake) epochLocked(epoch int) *indexer.EpochInfo {
	if e, ok := f.Epochs[epoch]; ok {
		return &e
	}
	start := int64(epoch) * 432000
	return &indexer.EpochInfo{Epoch: epoch, StartTime: start, EndTime: start + 432000}
}

func (f *Fake) Thresholds(ctx context.Context, epoch int) (map[string]gov.ThresholdInfo, error) {
	return map[string]gov.ThresholdInfo{
		gov.ActionInfo:               {},
		gov.ActionTreasuryWithdrawal: {DRep: gov.Float(0.67)},
	}, nil
}

func (f *Fake) DRepSummaries(ctx context.Context, ids []string) (map[string]indexer.ActorProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("summaries")
	if f.SecondaryDown {
		return nil, errUnavailable
	}
	out := map[string]indexer.ActorProfile{}
	for _, id := range ids {
		if p, ok := f.DReps[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *Fake) VotingPowerAt(ctx context.Context, epoch int, role gov.Role) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count(fmt.Sprintf("power:%d:%s", epoch, role))
	if f.SecondaryDown {
		return nil, errUnavailable
	}
	out := map[string]float64{}
	for id, v := range f.PowerHistory[epoch] {
		out[id] = v
	}
	return out, nil
}

func (f *Fake) VoteList(ctx context.Context, proposalID string, role gov.Role) ([]indexer.VoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("votelist:" + proposalID + ":" + string(role))
	if f.SecondaryDown {
		return nil, errUnavailable
	}
	var out []indexer.VoteRecord
	for _, v := range f.Votes[proposalID] {
		if v.Role == role {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *Fake) VoteRationales(ctx context.Context, txHash string, certIndex int) ([]indexer.MetaVote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := gov.ProposalID(txHash, certIndex)
	f.count("meta:" + id)
	if f.MetaDown {
		return nil, errUnavailable
	}
	return append([]indexer.MetaVote(nil), f.MetaVotes[id]...), nil
}

// VoteAnchors attaches an anchor URL to an existing vote record.
func (f *Fake) VoteAnchors(proposalID, txHash, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range f.Votes[proposalID] {
		if v.TxHash == txHash {
			f.Votes[proposalID][i].AnchorURL = url
		}
	}
}

// SortedProposalIDs lists proposal ids for stable assertions.
func (f *Fake) SortedProposalIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.Proposals))
	for _, p := range f.Proposals {
		ids = append(ids, p.ID())
	}
	sort.Strings(ids)
	return ids
}
