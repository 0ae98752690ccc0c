package govmeta

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
	"github.com/stake-plus/govsync/src/webclient"
)

func TestVoteRationales(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/proposals/aa:2/votes", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"voter_id": "drep1", "voter_role": "drep", "vote_tx_hash": "v1", "rationale_url": "https://r/1.json", "rationale": "because"},
			{"voter_id": "pool1", "voter_role": "spo", "vote_tx_hash": "v2", "rationale": map[string]any{"comment": "ok"}},
			{"voter_id": "cc1", "voter_role": "constitutional_committee", "vote_tx_hash": "v3"},
		})
	}))
	defer srv.Close()

	c := New(webclient.NewRequester(webclient.Options{Name: "govmeta", BaseURL: srv.URL, Backoff: time.Millisecond}, zaptest.NewLogger(t)))
	votes, err := c.VoteRationales(context.Background(), "AA", 2)
	require.NoError(t, err)
	require.Len(t, votes, 3)
	assert.Equal(t, "because", votes[0].RationaleText)
	assert.Equal(t, gov.RoleSPO, votes[1].Role)
	assert.Equal(t, "ok", votes[1].RationaleText)
	assert.Equal(t, gov.RoleCommittee, votes[2].Role)
	assert.Empty(t, votes[2].RationaleText)
}

func TestVoteRationalesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(webclient.NewRequester(webclient.Options{BaseURL: srv.URL, Backoff: time.Millisecond}, zaptest.NewLogger(t)))
	_, err := c.VoteRationales(context.Background(), "aa", 0)
	require.Error(t, err)
	assert.True(t, webclient.IsNotFound(err))
}
