package blockfrost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/stake-plus/govsync/src/gov"
	"github.com/stake-plus/govsync/src/indexer"
	"github.com/stake-plus/govsync/src/webclient"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, projectID string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts := RequesterOptions(webclient.Options{BaseURL: srv.URL, Backoff: time.Millisecond}, projectID)
	r := webclient.NewRequester(opts, zaptest.NewLogger(t))
	return New(r, Config{ProjectID: projectID, PageSize: 2})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestReadyRequiresProjectID(t *testing.T) {
	c := New(webclient.NewRequester(webclient.Options{}, nil), Config{})
	assert.ErrorIs(t, c.Ready(), ErrMissingProjectID)

	c = New(webclient.NewRequester(webclient.Options{}, nil), Config{ProjectID: "mainnetX"})
	assert.NoError(t, c.Ready())
}

func TestGenesisEpochAt(t *testing.T) {
	assert.Equal(t, 208, MainnetGenesis.EpochAt(1596059091))
	assert.Equal(t, 209, MainnetGenesis.EpochAt(1596059091+432000))
	assert.Equal(t, 0, MainnetGenesis.EpochAt(100))
}

func TestListProposalsPaginatesNewestFirst(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("project_id"))
		assert.Equal(t, "/governance/proposals", r.URL.Path)
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		switch r.URL.Query().Get("page") {
		case "1":
			writeJSON(w, []map[string]any{
				{"tx_hash": "AA", "cert_index": 0, "governance_type": "treasury_withdrawals"},
				{"tx_hash": "bb", "cert_index": 1, "governance_type": "info_action"},
			})
		default:
			writeJSON(w, []map[string]any{
				{"tx_hash": "cc", "cert_index": 0, "governance_type": "hard_fork_initiation"},
			})
		}
	}, "key")

	refs, err := c.ListProposals(context.Background())
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "aa#0", refs[0].ID())
	assert.Equal(t, gov.ActionTreasuryWithdrawal, refs[0].GovernanceType)
	assert.Equal(t, gov.ActionInfo, refs[1].GovernanceType)
	assert.Equal(t, gov.ActionHardForkInitiation, refs[2].GovernanceType)
}

func TestProposalVotesKeepsPageLength(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/governance/proposals/aa/0/votes", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("count"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		writeJSON(w, []map[string]any{
			{"tx_hash": "v1", "cert_index": 0, "voter_role": "drep", "voter": "drep1x", "vote": "yes"},
			{"tx_hash": "v2", "cert_index": 0, "voter_role": "drep", "voter": "drep1y", "vote": "maybe"},
		})
	}, "key")

	votes, err := c.ProposalVotes(context.Background(), indexer.ProposalRef{TxHash: "aa"}, 1)
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, gov.RoleDRep, votes[0].Role)
	assert.Equal(t, gov.VoteYes, votes[0].Vote)
	assert.Equal(t, gov.Role(""), votes[1].Role)
}

func TestTransactionDerivesEpoch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"hash": "v1", "block": "b", "block_time": 1596059091 + 432000*2 + 10})
	}, "key")

	tx, err := c.Transaction(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 210, tx.Epoch)
}

func TestProposalMetadataFlattensValues(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"url":  "ipfs://abc",
			"hash": "ff",
			"json_metadata": map[string]any{"body": map[string]any{
				"title":    map[string]any{"@value": "Fund tooling"},
				"abstract": "short",
			}},
		})
	}, "key")

	meta, err := c.ProposalMetadata(context.Background(), indexer.ProposalRef{TxHash: "aa"})
	require.NoError(t, err)
	assert.Equal(t, "Fund tooling", meta.Title)
	assert.Equal(t, "short", meta.Abstract)
	assert.Equal(t, "ipfs://abc", meta.AnchorURL)
}

func TestDRepProfileToleratesMissingMetadata(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/governance/dreps/drep1x/metadata" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"drep_id": "drep1x", "amount": "2500000", "active": true})
	}, "key")

	prof, err := c.DRepProfile(context.Background(), "drep1x")
	require.NoError(t, err)
	require.NotNil(t, prof.VotingPowerAda)
	assert.InDelta(t, 2.5, *prof.VotingPowerAda, 1e-9)
	assert.Equal(t, "active", prof.Status)
	assert.Empty(t, prof.Name)
}

func TestPoolProfileUsesTicker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pools/pool1/metadata" {
			writeJSON(w, map[string]any{"ticker": "STKP", "name": "Stake Plus"})
			return
		}
		writeJSON(w, map[string]any{"pool_id": "pool1", "live_stake": "1000000", "retirement": []any{}})
	}, "key")

	prof, err := c.PoolProfile(context.Background(), "pool1")
	require.NoError(t, err)
	assert.Equal(t, "[STKP] Stake Plus", prof.Name)
	assert.Equal(t, "active", prof.Status)
}

func TestThresholdsAcceptStringNumbers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/epochs/500/parameters", r.URL.Path)
		writeJSON(w, map[string]any{
			"dvt_treasury_withdrawal":  "0.67",
			"dvt_hard_fork_initiation": 0.6,
			"pvt_hard_fork_initiation": nil,
		})
	}, "key")

	th, err := c.Thresholds(context.Background(), 500)
	require.NoError(t, err)
	tw := th[gov.ActionTreasuryWithdrawal]
	require.NotNil(t, tw.DRep)
	assert.InDelta(t, 0.67, *tw.DRep, 1e-9)
	assert.Nil(t, tw.SPO)
	hf := th[gov.ActionHardForkInitiation]
	require.NotNil(t, hf.DRep)
	assert.Nil(t, hf.SPO)
}
