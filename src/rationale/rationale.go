// Package rationale answers whether a vote carried a rationale and what it
// says, by walking an ordered chain of sources.
package rationale

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/stake-plus/govsync/src/cache"
	"github.com/stake-plus/govsync/src/gov"
)

// Kind tags a strategy outcome.
type Kind int

const (
	NotFound Kind = iota
	Found
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Found:
		return "found"
	case Unavailable:
		return "unavailable"
	}
	return "not_found"
}

// Outcome is what one strategy learned. A NotFound outcome may still carry
// URL/Hash hints for later strategies.
type Outcome struct {
	Kind     Kind
	URL      string
	Hash     string
	Text     string
	Verified bool
}

// Request describes the vote being resolved. URL and Hash accumulate hints
// as the chain runs.
type Request struct {
	ProposalID    string
	ProposalTx    string
	ProposalIndex int
	ActorID       string
	Role          gov.Role
	VoteTxHash    string
	InlineText    string
	URL           string
	Hash          string
}

// Strategy is one source in the chain.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, req *Request) Outcome
}

// Result is the combined tri-state answer. HasRationale is nil when a source
// that might have answered could not be reached.
type Result struct {
	HasRationale *bool
	URL          string
	Text         string
	Verified     bool
	Source       string
}

// Definitive reports whether the result may be cached.
func (r Result) Definitive() bool {
	return r.HasRationale != nil
}

// Combine runs strategies left to right. The first Found wins. Otherwise the
// answer is false only if every strategy was reachable.
func Combine(ctx context.Context, req *Request, strategies []Strategy) Result {
	unavailable := false
	for _, s := range strategies {
		out := s.Resolve(ctx, req)
		if out.URL != "" && req.URL == "" {
			req.URL = out.URL
		}
		if out.Hash != "" && req.Hash == "" {
			req.Hash = out.Hash
		}
		switch out.Kind {
		case Found:
			url := out.URL
			if url == "" {
				url = req.URL
			}
			return Result{HasRationale: gov.Bool(true), URL: url, Text: out.Text, Verified: out.Verified, Source: s.Name()}
		case Unavailable:
			unavailable = true
		}
	}
	if unavailable {
		return Result{URL: req.URL}
	}
	return Result{HasRationale: gov.Bool(false), URL: req.URL}
}

type memoKey struct {
	proposal string
	actor    string
}

// Resolver memoizes combined results per (proposal, actor) for one run and
// persists definitive answers keyed by vote tx hash.
type Resolver struct {
	strategies []Strategy
	store      *cache.Store[cache.RationaleEntry]
	logger     *zap.Logger

	mu   sync.Mutex
	memo map[memoKey]Result
}

// NewResolver builds a resolver. store may be nil.
func NewResolver(store *cache.Store[cache.RationaleEntry], logger *zap.Logger, strategies ...Strategy) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		strategies: strategies,
		store:      store,
		logger:     logger.Named("rationale"),
		memo:       make(map[memoKey]Result),
	}
}

// Reset clears the per-run memo and the memos of resettable strategies.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.memo = make(map[memoKey]Result)
	r.mu.Unlock()
	for _, s := range r.strategies {
		if rs, ok := s.(interface{ Reset() }); ok {
			rs.Reset()
		}
	}
}

// Resolve answers for one vote.
func (r *Resolver) Resolve(ctx context.Context, req Request) Result {
	key := memoKey{proposal: req.ProposalID, actor: req.ActorID}
	r.mu.Lock()
	if res, ok := r.memo[key]; ok {
		r.mu.Unlock()
		return res
	}
	r.mu.Unlock()

	if r.store != nil && req.VoteTxHash != "" {
		if e, ok := r.store.Get(req.VoteTxHash); ok {
			res := Result{HasRationale: gov.Bool(e.HasRationale), URL: e.URL, Text: e.Text, Verified: e.Verified, Source: e.Source}
			r.remember(key, res)
			return res
		}
	}

	res := Combine(ctx, &req, r.strategies)
	if res.Definitive() && r.store != nil && req.VoteTxHash != "" {
		entry := cache.RationaleEntry{HasRationale: *res.HasRationale, URL: res.URL, Text: res.Text, Verified: res.Verified, Source: res.Source}
		if err := r.store.Put(req.VoteTxHash, entry); err != nil {
			r.logger.Warn("rationale cache write failed", zap.Error(err))
		}
	}
	r.remember(key, res)
	return res
}

func (r *Resolver) remember(key memoKey, res Result) {
	r.mu.Lock()
	r.memo[key] = res
	r.mu.Unlock()
}
