package gov

import (
	"fmt"
	"strconv"
	"strings"
)

// Role identifies the kind of governance voter.
type Role string

const (
	RoleDRep      Role = "drep"
	RoleCommittee Role = "committee"
	RoleSPO       Role = "spo"
)

// Roles lists every voter role in snapshot order.
var Roles = []Role{RoleDRep, RoleCommittee, RoleSPO}

// ParseRole maps upstream voter-role spellings onto a Role.
func ParseRole(v string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "drep", "drep_key_hash", "drep_script_hash":
		return RoleDRep, true
	case "committee", "constitutional_committee", "constitutionalcommittee", "cc", "constitutional_committee_hot_key_hash", "constitutional_committee_hot_script_hash":
		return RoleCommittee, true
	case "spo", "stake_pool", "stakepool", "pool":
		return RoleSPO, true
	}
	return "", false
}

// VoteValue is the ballot choice.
type VoteValue string

const (
	VoteYes          VoteValue = "Yes"
	VoteNo           VoteValue = "No"
	VoteAbstain      VoteValue = "Abstain"
	VoteNoConfidence VoteValue = "NoConfidence"
)

// ParseVoteValue normalizes upstream ballot spellings.
func ParseVoteValue(v string) (VoteValue, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes":
		return VoteYes, true
	case "no":
		return VoteNo, true
	case "abstain":
		return VoteAbstain, true
	case "noconfidence", "no_confidence":
		return VoteNoConfidence, true
	}
	return "", false
}

// Outcome is the proposal result as far as it is known.
type Outcome string

const (
	OutcomePending Outcome = "Pending"
	OutcomeYes     Outcome = "Yes"
	OutcomeNo      Outcome = "No"
)

// Governance action types.
const (
	ActionParameterChange    = "ParameterChange"
	ActionHardForkInitiation = "HardForkInitiation"
	ActionTreasuryWithdrawal = "TreasuryWithdrawals"
	ActionNoConfidence       = "NoConfidence"
	ActionUpdateCommittee    = "UpdateCommittee"
	ActionNewConstitution    = "NewConstitution"
	ActionInfo               = "InfoAction"
)

// NormalizeActionType maps snake_case upstream spellings onto the constants above.
func NormalizeActionType(v string) string {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(v), "_", "")) {
	case "parameterchange":
		return ActionParameterChange
	case "hardforkinitiation":
		return ActionHardForkInitiation
	case "treasurywithdrawals", "treasurywithdrawal":
		return ActionTreasuryWithdrawal
	case "noconfidence":
		return ActionNoConfidence
	case "updatecommittee", "newcommittee":
		return ActionUpdateCommittee
	case "newconstitution":
		return ActionNewConstitution
	case "infoaction", "info":
		return ActionInfo
	}
	return v
}

// RoleCanVote reports whether role is entitled to vote on actionType.
func RoleCanVote(role Role, actionType string) bool {
	switch role {
	case RoleSPO:
		switch actionType {
		case ActionNoConfidence, ActionUpdateCommittee, ActionHardForkInitiation, ActionInfo, ActionParameterChange:
			return true
		}
		return false
	case RoleCommittee:
		return actionType != ActionNoConfidence && actionType != ActionUpdateCommittee
	default:
		return true
	}
}

// ThresholdInfo carries the ratification thresholds reported for a proposal.
type ThresholdInfo struct {
	DRep      *float64 `json:"drep,omitempty"`
	SPO       *float64 `json:"spo,omitempty"`
	Committee *float64 `json:"committee,omitempty"`
}

// VoteStats counts ballots per value for one role.
type VoteStats struct {
	Yes          int `json:"yes"`
	No           int `json:"no"`
	Abstain      int `json:"abstain"`
	NoConfidence int `json:"noConfidence,omitempty"`
	Total        int `json:"total"`
}

// Proposal is one governance action.
type Proposal struct {
	ID              string             `json:"id"`
	TxHash          string             `json:"txHash"`
	CertIndex       int                `json:"certIndex"`
	GovernanceType  string             `json:"governanceType"`
	Title           string             `json:"title,omitempty"`
	Abstract        string             `json:"abstract,omitempty"`
	AnchorURL       string             `json:"anchorUrl,omitempty"`
	AnchorHash      string             `json:"anchorHash,omitempty"`
	Outcome         Outcome            `json:"outcome"`
	SubmittedEpoch  int                `json:"submittedEpoch"`
	SubmittedAtUnix int64              `json:"submittedAt,omitempty"`
	ExpirationEpoch *int               `json:"expirationEpoch,omitempty"`
	RatifiedEpoch   *int               `json:"ratifiedEpoch,omitempty"`
	EnactedEpoch    *int               `json:"enactedEpoch,omitempty"`
	DroppedEpoch    *int               `json:"droppedEpoch,omitempty"`
	ExpiredEpoch    *int               `json:"expiredEpoch,omitempty"`
	Threshold       *ThresholdInfo     `json:"thresholdInfo,omitempty"`
	VoteStats       map[Role]VoteStats `json:"voteStatsByRole,omitempty"`
	DetailFetched   bool               `json:"detailFetched"`
}

// ProposalID formats the canonical id for a governance action.
func ProposalID(txHash string, certIndex int) string {
	return strings.ToLower(txHash) + "#" + strconv.Itoa(certIndex)
}

// SplitProposalID is the inverse of ProposalID.
func SplitProposalID(id string) (string, int, error) {
	hash, idx, ok := strings.Cut(id, "#")
	if !ok || hash == "" {
		return "", 0, fmt.Errorf("malformed proposal id %q", id)
	}
	n, err := strconv.Atoi(idx)
	if err != nil {
		return "", 0, fmt.Errorf("malformed proposal id %q: %w", id, err)
	}
	return hash, n, nil
}

// DeriveOutcome computes the outcome from the finalization epochs.
func (p *Proposal) DeriveOutcome() Outcome {
	switch {
	case p.EnactedEpoch != nil || p.RatifiedEpoch != nil:
		return OutcomeYes
	case p.DroppedEpoch != nil || p.ExpiredEpoch != nil:
		return OutcomeNo
	}
	return OutcomePending
}

// Finalized reports whether no further votes can change the proposal.
func (p *Proposal) Finalized() bool {
	return p.Outcome != OutcomePending
}

// Vote is one actor's ballot on one proposal.
type Vote struct {
	ProposalID        string    `json:"proposalId"`
	ActorID           string    `json:"actorId"`
	Role              Role      `json:"role"`
	Value             VoteValue `json:"vote"`
	Outcome           Outcome   `json:"outcome"`
	TxHash            string    `json:"voteTxHash,omitempty"`
	CertIndex         int       `json:"certIndex,omitempty"`
	VotedAtUnix       int64     `json:"votedAt,omitempty"`
	Epoch             int       `json:"epoch,omitempty"`
	ResponseHours     *float64  `json:"responseHours"`
	HasRationale      *bool     `json:"hasRationale"`
	RationaleURL      string    `json:"rationaleUrl,omitempty"`
	RationaleText     string    `json:"rationaleText,omitempty"`
	RationaleVerified bool      `json:"rationaleVerified,omitempty"`
}

// Key identifies the vote within a snapshot.
func (v Vote) Key() VoteKey {
	return VoteKey{ProposalID: v.ProposalID, ActorID: v.ActorID}
}

// VoteKey is the (proposal, actor) uniqueness key.
type VoteKey struct {
	ProposalID string
	ActorID    string
}

// Actor is a DRep, committee member or stake pool with its ballots.
type Actor struct {
	ID                string   `json:"id"`
	Role              Role     `json:"role"`
	DisplayName       string   `json:"displayName,omitempty"`
	VotingPowerAda    *float64 `json:"votingPowerAda,omitempty"`
	Status            string   `json:"status,omitempty"`
	Votes             []Vote   `json:"votes"`
	MatchingVotes     int      `json:"matchingVotes"`
	ComparableVotes   int      `json:"comparableVotes"`
	EligibleProposals int      `json:"eligibleProposals"`
	FirstVoteEpoch    int      `json:"firstVoteEpoch,omitempty"`
	RationaleRate     *float64 `json:"rationaleRate,omitempty"`
	ProfileFetched    bool     `json:"profileFetched"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
