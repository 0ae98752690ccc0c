// Package indexer defines the upstream views the snapshot builders consume.
// Concrete providers live in blockfrost, koios and govmeta.
package indexer

import (
	"context"

	"github.com/stake-plus/govsync/src/gov"
)

// ProposalRef identifies a governance action in the proposal list.
type ProposalRef struct {
	TxHash         string
	CertIndex      int
	GovernanceType string
}

// ID returns the canonical proposal id.
func (r ProposalRef) ID() string {
	return gov.ProposalID(r.TxHash, r.CertIndex)
}

// ProposalDetail is the per-proposal lifecycle view.
type ProposalDetail struct {
	TxHash          string
	CertIndex       int
	GovernanceType  string
	ExpirationEpoch *int
	RatifiedEpoch   *int
	EnactedEpoch    *int
	DroppedEpoch    *int
	ExpiredEpoch    *int
}

// ProposalMetadata is the off-chain anchor content of a proposal.
type ProposalMetadata struct {
	Title      string
	Abstract   string
	AnchorURL  string
	AnchorHash string
}

// TxInfo is the subset of a transaction the builders need.
type TxInfo struct {
	Hash      string
	BlockTime int64
	Epoch     int
}

// VoteRecord is one ballot as reported by an upstream provider.
type VoteRecord struct {
	TxHash          string
	CertIndex       int
	Role            gov.Role
	VoterID         string
	Vote            gov.VoteValue
	BlockTime       int64
	AnchorURL       string
	AnchorHash      string
	InlineRationale string
}

// ActorProfile is upstream enrichment for one voter.
type ActorProfile struct {
	ID             string
	Role           gov.Role
	Name           string
	VotingPowerAda *float64
	Status         string
}

// EpochInfo carries epoch boundaries as unix seconds.
type EpochInfo struct {
	Epoch     int
	StartTime int64
	EndTime   int64
}

// MetaVote is a vote as reported by the third-party metadata service.
type MetaVote struct {
	VoterID       string
	Role          gov.Role
	TxHash        string
	RationaleURL  string
	RationaleText string
}

// Primary is the main indexer: proposal lists, votes, transactions and actor
// detail. Vote pages are ordered newest first.
type Primary interface {
	PageSize() int
	ListProposals(ctx context.Context) ([]ProposalRef, error)
	ProposalDetail(ctx context.Context, ref ProposalRef) (*ProposalDetail, error)
	ProposalMetadata(ctx context.Context, ref ProposalRef) (*ProposalMetadata, error)
	Transaction(ctx context.Context, hash string) (*TxInfo, error)
	ProposalVotes(ctx context.Context, ref ProposalRef, page int) ([]VoteRecord, error)
	DRepProfile(ctx context.Context, id string) (*ActorProfile, error)
	PoolProfile(ctx context.Context, id string) (*ActorProfile, error)
	LatestEpoch(ctx context.Context) (*EpochInfo, error)
	Epoch(ctx context.Context, epoch int) (*EpochInfo, error)
	Thresholds(ctx context.Context, epoch int) (map[string]gov.ThresholdInfo, error)
}

// Secondary is the batch-oriented indexer used for voting power and as a
// rationale fallback.
type Secondary interface {
	DRepSummaries(ctx context.Context, ids []string) (map[string]ActorProfile, error)
	VotingPowerAt(ctx context.Context, epoch int, role gov.Role) (map[string]float64, error)
	VoteList(ctx context.Context, proposalID string, role gov.Role) ([]VoteRecord, error)
}

// MetadataService returns the full vote and rationale list of a proposal.
type MetadataService interface {
	VoteRationales(ctx context.Context, txHash string, certIndex int) ([]MetaVote, error)
}
