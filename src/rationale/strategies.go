package rationale

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/stake-plus/govsync/src/indexer"
	"github.com/stake-plus/govsync/src/webclient"
)

// classify maps a fetch error onto an outcome kind. Missing resources are
// NotFound; everything else means the source could not answer.
func classify(err error) Kind {
	var httpErr *webclient.HTTPError
	if errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusNotFound || httpErr.StatusCode == http.StatusGone) {
		return NotFound
	}
	return Unavailable
}

// Inline uses anchor fields carried on the vote record.
type Inline struct{}

func (Inline) Name() string { return "inline" }

func (Inline) Resolve(_ context.Context, req *Request) Outcome {
	if strings.TrimSpace(req.InlineText) != "" {
		return Outcome{Kind: Found, URL: req.URL, Hash: req.Hash, Text: req.InlineText}
	}
	return Outcome{Kind: NotFound, URL: req.URL, Hash: req.Hash}
}

type listResult[T any] struct {
	rows []T
	err  error
}

// memo is a per-run, single-flight cache of list lookups.
type memo[T any] struct {
	group singleflight.Group
	mu    sync.Mutex
	data  map[string]listResult[T]
}

func (m *memo[T]) get(key string, load func() ([]T, error)) ([]T, error) {
	m.mu.Lock()
	if r, ok := m.data[key]; ok {
		m.mu.Unlock()
		return r.rows, r.err
	}
	m.mu.Unlock()

	v, _, _ := m.group.Do(key, func() (any, error) {
		rows, err := load()
		r := listResult[T]{rows: rows, err: err}
		m.mu.Lock()
		if m.data == nil {
			m.data = make(map[string]listResult[T])
		}
		m.data[key] = r
		m.mu.Unlock()
		return r, nil
	})
	r := v.(listResult[T])
	return r.rows, r.err
}

func (m *memo[T]) reset() {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
}

// Secondary looks the vote up in the secondary provider's vote list for the
// proposal and role.
type Secondary struct {
	client indexer.Secondary
	lists  memo[indexer.VoteRecord]
}

func NewSecondary(client indexer.Secondary) *Secondary {
	return &Secondary{client: client}
}

func (s *Secondary) Name() string { return "secondary" }

func (s *Secondary) Reset() { s.lists.reset() }

func (s *Secondary) Resolve(ctx context.Context, req *Request) Outcome {
	if s.client == nil {
		return Outcome{Kind: NotFound}
	}
	rows, err := s.lists.get(req.ProposalID+"|"+string(req.Role), func() ([]indexer.VoteRecord, error) {
		return s.client.VoteList(ctx, req.ProposalID, req.Role)
	})
	if err != nil {
		return Outcome{Kind: classify(err)}
	}
	for _, row := range rows {
		if !matches(row.VoterID, row.TxHash, req) {
			continue
		}
		if strings.TrimSpace(row.InlineRationale) != "" {
			return Outcome{Kind: Found, URL: row.AnchorURL, Hash: row.AnchorHash, Text: row.InlineRationale}
		}
		return Outcome{Kind: NotFound, URL: row.AnchorURL, Hash: row.AnchorHash}
	}
	return Outcome{Kind: NotFound}
}

// MetadataService consults the third-party service keyed by the proposal.
type MetadataService struct {
	client indexer.MetadataService
	lists  memo[indexer.MetaVote]
}

func NewMetadataService(client indexer.MetadataService) *MetadataService {
	return &MetadataService{client: client}
}

func (m *MetadataService) Name() string { return "metadata-service" }

func (m *MetadataService) Reset() { m.lists.reset() }

func (m *MetadataService) Resolve(ctx context.Context, req *Request) Outcome {
	if m.client == nil {
		return Outcome{Kind: NotFound}
	}
	rows, err := m.lists.get(req.ProposalID, func() ([]indexer.MetaVote, error) {
		return m.client.VoteRationales(ctx, req.ProposalTx, req.ProposalIndex)
	})
	if err != nil {
		return Outcome{Kind: classify(err)}
	}
	for _, row := range rows {
		if !matches(row.VoterID, row.TxHash, req) {
			continue
		}
		if strings.TrimSpace(row.RationaleText) != "" {
			return Outcome{Kind: Found, URL: row.RationaleURL, Text: row.RationaleText}
		}
		return Outcome{Kind: NotFound, URL: row.RationaleURL}
	}
	return Outcome{Kind: NotFound}
}

func matches(voterID, txHash string, req *Request) bool {
	if voterID != "" && voterID == req.ActorID {
		return true
	}
	return txHash != "" && req.VoteTxHash != "" && strings.EqualFold(txHash, req.VoteTxHash)
}
