// Package koios adapts the Koios REST API to indexer.Secondary.
package koios

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/indexer"
	"github.com/stake-plus/govsync/src/webclient"
)

// Koios caps POST body arrays; larger id sets are split.
const maxBatch = 50

// Config configures the client.
type Config struct {
	PageSize int
	MaxPages int
}

// Client is the secondary indexer adapter.
type Client struct {
	r   *webclient.Requester
	cfg Config
}

var _ indexer.Secondary = (*Client)(nil)

func New(r *webclient.Requester, cfg Config) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	return &Client{r: r, cfg: cfg}
}

// RequesterOptions returns webclient options for Koios. apiKey is optional.
func RequesterOptions(base webclient.Options, apiKey string) webclient.Options {
	base.Name = "koios"
	headers := map[string]string{}
	for k, v := range base.Headers {
		headers[k] = v
	}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	base.Headers = headers
	base.PageStyle = webclient.PageStyleLimitOffset
	return base
}

type drepInfoRow struct {
	DRepID     string `json:"drep_id"`
	Registered bool   `json:"registered"`
	Active     bool   `json:"active"`
	Amount     string `json:"amount"`
}

type powerRow struct {
	DRepID string `json:"drep_id"`
	PoolID string `json:"pool_id_bech32"`
	Epoch  int    `json:"epoch_no"`
	Amount string `json:"amount"`
}

type voteListRow struct {
	VoteTxHash string `json:"vote_tx_hash"`
	VoterRole  string `json:"voter_role"`
	VoterID    string `json:"voter_id"`
	Vote       string `json:"vote"`
	BlockTime  int64  `json:"block_time"`
	MetaURL    string `json:"meta_url"`
	MetaHash   string `json:"meta_hash"`
}

// DRepSummaries fetches profile data for ids in batches.
func (c *Client) DRepSummaries(ctx context.Context, ids []string) (map[string]indexer.ActorProfile, error) {
	out := make(map[string]indexer.ActorProfile, len(ids))
	for start := 0; start < len(ids); start += maxBatch {
		end := min(start+maxBatch, len(ids))
		var rows []drepInfoRow
		body := map[string]any{"_drep_ids": ids[start:end]}
		if err := c.r.Post(ctx, "/drep_info", body, &rows); err != nil {
			return out, fmt.Errorf("drep_info: %w", err)
		}
		for _, row := range rows {
			status := "inactive"
			switch {
			case !row.Registered:
				status = "retired"
			case row.Active:
				status = "active"
			}
			out[row.DRepID] = indexer.ActorProfile{
				ID:             row.DRepID,
				Role:           gov.RoleDRep,
				VotingPowerAda: lovelaceToAda(row.Amount),
				Status:         status,
			}
		}
	}
	return out, nil
}

// VotingPowerAt returns per-actor voting power in ADA at epoch.
func (c *Client) VotingPowerAt(ctx context.Context, epoch int, role gov.Role) (map[string]float64, error) {
	var endpoint string
	switch role {
	case gov.RoleDRep:
		endpoint = "/drep_voting_power_history"
	case gov.RoleSPO:
		endpoint = "/pool_voting_power_history"
	default:
		return nil, fmt.Errorf("voting power: role %s has no stake", role)
	}
	q := url.Values{"epoch_no": {"eq." + strconv.Itoa(epoch)}}
	rows, err := webclient.CollectAll[powerRow](ctx, c.r, endpoint, q, c.cfg.PageSize, c.cfg.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("%s epoch %d: %w", endpoint, epoch, err)
	}
	out := make(map[string]float64, len(rows))
	for _, row := range rows {
		id := row.DRepID
		if role == gov.RoleSPO {
			id = row.PoolID
		}
		if ada := lovelaceToAda(row.Amount); id != "" && ada != nil {
			out[id] = *ada
		}
	}
	return out, nil
}

// VoteList returns the votes cast by role on a proposal, with anchor data.
func (c *Client) VoteList(ctx context.Context, proposalID string, role gov.Role) ([]indexer.VoteRecord, error) {
	txHash, idx, err := gov.SplitProposalID(proposalID)
	if err != nil {
		return nil, err
	}
	q := url.Values{
		"proposal_tx_hash": {"eq." + txHash},
		"proposal_index":   {"eq." + strconv.Itoa(idx)},
		"voter_role":       {"eq." + voterRole(role)},
		"order":            {"block_time.desc"},
	}
	rows, err := webclient.CollectAll[voteListRow](ctx, c.r, "/vote_list", q, c.cfg.PageSize, c.cfg.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("vote_list %s: %w", proposalID, err)
	}
	out := make([]indexer.VoteRecord, 0, len(rows))
	for _, row := range rows {
		r, ok := gov.ParseRole(row.VoterRole)
		if !ok || r != role {
			continue
		}
		value, _ := gov.ParseVoteValue(row.Vote)
		out = append(out, indexer.VoteRecord{
			TxHash:     row.VoteTxHash,
			Role:       r,
			VoterID:    row.VoterID,
			Vote:       value,
			BlockTime:  row.BlockTime,
			AnchorURL:  row.MetaURL,
			AnchorHash: row.MetaHash,
		})
	}
	return out, nil
}

func voterRole(role gov.Role) string {
	switch role {
	case gov.RoleCommittee:
		return "ConstitutionalCommittee"
	case gov.RoleSPO:
		return "SPO"
	}
	return "DRep"
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
