package blockfrost

import (
	"bytes"
	"encoding/json"
	"strconv"
)

type proposalRow struct {
	ID             string `json:"id"`
	TxHash         string `json:"tx_hash"`
	CertIndex      int    `json:"cert_index"`
	GovernanceType string `json:"governance_type"`
}

type proposalDetail struct {
	TxHash         string `json:"tx_hash"`
	CertIndex      int    `json:"cert_index"`
	GovernanceType string `json:"governance_type"`
	Expiration     *int   `json:"expiration"`
	RatifiedEpoch  *int   `json:"ratified_epoch"`
	EnactedEpoch   *int   `json:"enacted_epoch"`
	DroppedEpoch   *int   `json:"dropped_epoch"`
	ExpiredEpoch   *int   `json:"expired_epoch"`
}

type anchorMetadata struct {
	URL          string `json:"url"`
	Hash         string `json:"hash"`
	JSONMetadata *struct {
		Body struct {
			Title     any `json:"title"`
			Abstract  any `json:"abstract"`
			GivenName any `json:"givenName"`
		} `json:"body"`
	} `json:"json_metadata"`
}

type voteRow struct {
	TxHash    string `json:"tx_hash"`
	CertIndex int    `json:"cert_index"`
	VoterRole string `json:"voter_role"`
	Voter     string `json:"voter"`
	Vote      string `json:"vote"`
}

type txRow struct {
	Hash      string `json:"hash"`
	Block     string `json:"block"`
	BlockTime int64  `json:"block_time"`
}

type drepRow struct {
	DRepID  string `json:"drep_id"`
	Amount  string `json:"amount"`
	Active  bool   `json:"active"`
	Retired bool   `json:"retired"`
	Expired bool   `json:"expired"`
}

type poolRow struct {
	PoolID     string `json:"pool_id"`
	LiveStake  string `json:"live_stake"`
	Retirement []any  `json:"retirement"`
}

type poolMetadataRow struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

type epochRow struct {
	Epoch     int   `json:"epoch"`
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`
}

type epochParameters struct {
	DvtMotionNoConfidence   flexFloat `json:"dvt_motion_no_confidence"`
	DvtCommitteeNormal      flexFloat `json:"dvt_committee_normal"`
	DvtUpdateToConstitution flexFloat `json:"dvt_update_to_constitution"`
	DvtHardForkInitiation   flexFloat `json:"dvt_hard_fork_initiation"`
	DvtPPGovGroup           flexFloat `json:"dvt_p_p_gov_group"`
	DvtTreasuryWithdrawal   flexFloat `json:"dvt_treasury_withdrawal"`
	PvtMotionNoConfidence   flexFloat `json:"pvt_motion_no_confidence"`
	PvtCommitteeNormal      flexFloat `json:"pvt_committee_normal"`
	PvtHardForkInitiation   flexFloat `json:"pvt_hard_fork_initiation"`
	PvtPPSecurityGroup      flexFloat `json:"pvt_p_p_security_group"`
}

// flexFloat accepts numbers, numeric strings and null.
type flexFloat struct {
	Value *float64
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f.Value = &v
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.Value = &v
	return nil
}

// text flattens CIP-100 style values that may be a string or {"@value": "..."}.
func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["@value"].(string); ok {
			return s
		}
	}
	return ""
}

func lovelaceToAda(amount string) *float64 {
	if amount == "" {
		return nil
	}
	v, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return nil
	}
	ada := v / 1_000_000
	return &ada
}
