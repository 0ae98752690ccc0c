// Package govmeta adapts the third-party governance metadata service, which
// lists every vote and rationale of a proposal in one response.
package govmeta

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/indexer"
	"github.com/stake-plus/govsync/src/webclient"
)

type voteRow struct {
	VoterID      string `json:"voter_id"`
	VoterRole    string `json:"voter_role"`
	VoteTxHash   string `json:"vote_tx_hash"`
	RationaleURL string `json:"rationale_url"`
	Rationale    any    `json:"rationale"`
}

// Client implements indexer.MetadataService.
type Client struct {
	r *webclient.Requester
}

var _ indexer.MetadataService = (*Client)(nil)

func New(r *webclient.Requester) *Client {
	return &Client{r: r}
}

func (c *Client) VoteRationales(ctx context.Context, txHash string, certIndex int) ([]indexer.MetaVote, error) {
	key := url.PathEscape(fmt.Sprintf("%s:%d", strings.ToLower(txHash), certIndex))
	var rows []voteRow
	if err := c.r.Get(ctx, "/proposals/"+key+"/votes", nil, &rows); err != nil {
		return nil, fmt.Errorf("metadata votes %s#%d: %w", txHash, certIndex, err)
	}
	out := make([]indexer.MetaVote, 0, len(rows))
	for _, row := range rows {
		role, _ := gov.ParseRole(row.VoterRole)
		out = append(out, indexer.MetaVote{
			VoterID:       row.VoterID,
			Role:          role,
			TxHash:        row.VoteTxHash,
			RationaleURL:  row.RationaleURL,
			RationaleText: rationaleText(row.Rationale),
		})
	}
	return out, nil
}

// rationaleText accepts either a plain string or a CIP-100 body object.
func rationaleText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, k := range []string{"rationale", "comment", "summary"} {
			if s, ok := t[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
