package blockfrost

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/indexer"
	"github.com/stake-plus/govsync/src/webclient"
)

// ErrMissingProjectID is returned by Ready when no API key is configured.
var ErrMissingProjectID = errors.New("blockfrost: project id is not configured")

// Genesis maps block times onto epochs for the configured network.
type Genesis struct {
	ShelleyStartEpoch int
	ShelleyStartTime  int64
	EpochLength       int64
}

// MainnetGenesis is the Cardano mainnet Shelley era anchor.
var MainnetGenesis = Genesis{ShelleyStartEpoch: 208, ShelleyStartTime: 1596059091, EpochLength: 432000}

// EpochAt returns the epoch containing unix time t.
func (g Genesis) EpochAt(t int64) int {
	if t < g.ShelleyStartTime || g.EpochLength <= 0 {
		return 0
	}
	return g.ShelleyStartEpoch + int((t-g.ShelleyStartTime)/g.EpochLength)
}

// Config configures the client.
type Config struct {
	ProjectID string
	PageSize  int
	MaxPages  int
	Genesis   Genesis
}

// Client is the primary indexer adapter.
type Client struct {
	r   *webclient.Requester
	cfg Config
}

var _ indexer.Primary = (*Client)(nil)

// New wraps a requester. The requester must already carry the project_id
// header (see RequesterOptions).
func New(r *webclient.Requester, cfg Config) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Genesis.EpochLength == 0 {
		cfg.Genesis = MainnetGenesis
	}
	return &Client{r: r, cfg: cfg}
}

// RequesterOptions returns webclient options with the auth header set.
func RequesterOptions(base webclient.Options, projectID string) webclient.Options {
	base.Name = "blockfrost"
	headers := map[string]string{}
	for k, v := range base.Headers {
		headers[k] = v
	}
	if projectID != "" {
		headers["project_id"] = projectID
	}
	base.Headers = headers
	base.PageStyle = webclient.PageStyleCountPage
	return base
}

// Ready reports whether the client can be used for a build.
func (c *Client) Ready() error {
	if strings.TrimSpace(c.cfg.ProjectID) == "" {
		return ErrMissingProjectID
	}
	return nil
}

func (c *Client) PageSize() int { return c.cfg.PageSize }

// EpochAt maps a block time onto its epoch.
func (c *Client) EpochAt(t int64) int { return c.cfg.Genesis.EpochAt(t) }

func (c *Client) ListProposals(ctx context.Context) ([]indexer.ProposalRef, error) {
	rows, err := webclient.CollectAll[proposalRow](ctx, c.r, "/governance/proposals", url.Values{"order": {"desc"}}, c.cfg.PageSize, c.cfg.MaxPages)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	refs := make([]indexer.ProposalRef, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, indexer.ProposalRef{
			TxHash:         row.TxHash,
			CertIndex:      row.CertIndex,
			GovernanceType: gov.NormalizeActionType(row.GovernanceType),
		})
	}
	return refs, nil
}

func (c *Client) ProposalDetail(ctx context.Context, ref indexer.ProposalRef) (*indexer.ProposalDetail, error) {
	var row proposalDetail
	if err := c.r.Get(ctx, proposalPath(ref), nil, &row); err != nil {
		return nil, fmt.Errorf("proposal %s: %w", ref.ID(), err)
	}
	return &indexer.ProposalDetail{
		TxHash:          row.TxHash,
		CertIndex:       row.CertIndex,
		GovernanceType:  gov.NormalizeActionType(row.GovernanceType),
		ExpirationEpoch: row.Expiration,
		RatifiedEpoch:   row.RatifiedEpoch,
		EnactedEpoch:    row.EnactedEpoch,
		DroppedEpoch:    row.DroppedEpoch,
		ExpiredEpoch:    row.ExpiredEpoch,
	}, nil
}

func (c *Client) ProposalMetadata(ctx context.Context, ref indexer.ProposalRef) (*indexer.ProposalMetadata, error) {
	var row anchorMetadata
	if err := c.r.Get(ctx, proposalPath(ref)+"/metadata", nil, &row); err != nil {
		return nil, fmt.Errorf("proposal %s metadata: %w", ref.ID(), err)
	}
	meta := &indexer.ProposalMetadata{AnchorURL: row.URL, AnchorHash: row.Hash}
	if row.JSONMetadata != nil {
		meta.Title = text(row.JSONMetadata.Body.Title)
		meta.Abstract = text(row.JSONMetadata.Body.Abstract)
	}
	return meta, nil
}

func (c *Client) Transaction(ctx context.Context, hash string) (*indexer.TxInfo, error) {
	var row txRow
	if err := c.r.Get(ctx, "/txs/"+url.PathEscape(hash), nil, &row); err != nil {
		return nil, fmt.Errorf("tx %s: %w", hash, err)
	}
	return &indexer.TxInfo{Hash: row.Hash, BlockTime: row.BlockTime, Epoch: c.cfg.Genesis.EpochAt(row.BlockTime)}, nil
}

func (c *Client) ProposalVotes(ctx context.Context, ref indexer.ProposalRef, page int) ([]indexer.VoteRecord, error) {
	var rows []voteRow
	q := c.r.PageQuery(url.Values{"order": {"desc"}}, c.cfg.PageSize, page)
	if err := c.r.Get(ctx, proposalPath(ref)+"/votes", q, &rows); err != nil {
		return nil, fmt.Errorf("proposal %s votes page %d: %w", ref.ID(), page, err)
	}
	out := make([]indexer.VoteRecord, 0, len(rows))
	// Unparseable rows are kept with an empty role so the page length the
	// builders see matches upstream; they skip such records.
	for _, row := range rows {
		role, _ := gov.ParseRole(row.VoterRole)
		value, ok := gov.ParseVoteValue(row.Vote)
		if !ok {
			role = ""
		}
		out = append(out, indexer.VoteRecord{
			TxHash:    row.TxHash,
			CertIndex: row.CertIndex,
			Role:      role,
			VoterID:   row.Voter,
			Vote:      value,
		})
	}
	return out, nil
}

func (c *Client) DRepProfile(ctx context.Context, id string) (*indexer.ActorProfile, error) {
	var row drepRow
	if err := c.r.Get(ctx, "/governance/dreps/"+url.PathEscape(id), nil, &row); err != nil {
		return nil, fmt.Errorf("drep %s: %w", id, err)
	}
	prof := &indexer.ActorProfile{ID: id, Role: gov.RoleDRep, VotingPowerAda: lovelaceToAda(row.Amount), Status: drepStatus(row)}

	var meta anchorMetadata
	if err := c.r.Get(ctx, "/governance/dreps/"+url.PathEscape(id)+"/metadata", nil, &meta); err == nil && meta.JSONMetadata != nil {
		prof.Name = text(meta.JSONMetadata.Body.GivenName)
	} else if err != nil && !webclient.IsNotFound(err) {
		return prof, fmt.Errorf("drep %s metadata: %w", id, err)
	}
	return prof, nil
}

func drepStatus(row drepRow) string {
	switch {
	case row.Retired:
		return "retired"
	case row.Expired:
		return "expired"
	case row.Active:
		return "active"
	}
	return "inactive"
}

func (c *Client) PoolProfile(ctx context.Context, id string) (*indexer.ActorProfile, error) {
	var row poolRow
	if err := c.r.Get(ctx, "/pools/"+url.PathEscape(id), nil, &row); err != nil {
		return nil, fmt.Errorf("pool %s: %w", id, err)
	}
	status := "active"
	if len(row.Retirement) > 0 {
		status = "retiring"
	}
	prof := &indexer.ActorProfile{ID: id, Role: gov.RoleSPO, VotingPowerAda: lovelaceToAda(row.LiveStake), Status: status}

	var meta poolMetadataRow
	if err := c.r.Get(ctx, "/pools/"+url.PathEscape(id)+"/metadata", nil, &meta); err == nil {
		prof.Name = meta.Name
		if meta.Ticker != "" {
			prof.Name = strings.TrimSpace(fmt.Sprintf("[%s] %s", meta.Ticker, meta.Name))
		}
	} else if !webclient.IsNotFound(err) {
		return prof, fmt.Errorf("pool %s metadata: %w", id, err)
	}
	return prof, nil
}

func (c *Client) LatestEpoch(ctx context.Context) (*indexer.EpochInfo, error) {
	return c.epoch(ctx, "/epochs/latest")
}

func (c *Client) Epoch(ctx context.Context, epoch int) (*indexer.EpochInfo, error) {
	return c.epoch(ctx, fmt.Sprintf("/epochs/%d", epoch))
}

func (c *Client) epoch(ctx context.Context, path string) (*indexer.EpochInfo, error) {
	var row epochRow
	if err := c.r.Get(ctx, path, nil, &row); err != nil {
		return nil, fmt.Errorf("epoch: %w", err)
	}
	return &indexer.EpochInfo{Epoch: row.Epoch, StartTime: row.StartTime, EndTime: row.EndTime}, nil
}

// Thresholds maps each governance action type onto the DRep and SPO
// ratification thresholds of the epoch's protocol parameters.
func (c *Client) Thresholds(ctx context.Context, epoch int) (map[string]gov.ThresholdInfo, error) {
	var p epochParameters
	if err := c.r.Get(ctx, fmt.Sprintf("/epochs/%d/parameters", epoch), nil, &p); err != nil {
		return nil, fmt.Errorf("epoch %d parameters: %w", epoch, err)
	}
	cc := gov.Float(2.0 / 3.0)
	return map[string]gov.ThresholdInfo{
		gov.ActionNoConfidence:       {DRep: p.DvtMotionNoConfidence.Value, SPO: p.PvtMotionNoConfidence.Value},
		gov.ActionUpdateCommittee:    {DRep: p.DvtCommitteeNormal.Value, SPO: p.PvtCommitteeNormal.Value},
		gov.ActionNewConstitution:    {DRep: p.DvtUpdateToConstitution.Value, Committee: cc},
		gov.ActionHardForkInitiation: {DRep: p.DvtHardForkInitiation.Value, SPO: p.PvtHardForkInitiation.Value, Committee: cc},
		gov.ActionParameterChange:    {DRep: p.DvtPPGovGroup.Value, SPO: p.PvtPPSecurityGroup.Value, Committee: cc},
		gov.ActionTreasuryWithdrawal: {DRep: p.DvtTreasuryWithdrawal.Value, Committee: cc},
		gov.ActionInfo:               {},
	}, nil
}

func proposalPath(ref indexer.ProposalRef) string {
	return fmt.Sprintf("/governance/proposals/%s/%d", url.PathEscape(ref.TxHash), ref.CertIndex)
}
