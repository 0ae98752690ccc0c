package rationale

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/crypto/blake2b"

	"github.com/stake-plus/govsync/src/webclient"
)

// DefaultGateways are tried in order for ipfs:// anchors.
var DefaultGateways = []string{
	"https://ipfs.io/ipfs/",
	"https://cloudflare-ipfs.com/ipfs/",
	"https://dweb.link/ipfs/",
}

const defaultMaxText = 4000

// Fetcher downloads raw anchor content.
type Fetcher interface {
	GetRaw(ctx context.Context, endpoint string) ([]byte, error)
}

// Anchor dereferences the anchor URL found on the vote or by earlier steps.
type Anchor struct {
	fetch    Fetcher
	gateways []string
	maxText  int
	policy   *bluemonday.Policy
}

// NewAnchor builds the anchor strategy. Empty gateways fall back to
// DefaultGateways; maxText <= 0 uses a built-in limit.
func NewAnchor(fetch Fetcher, gateways []string, maxText int) *Anchor {
	if len(gateways) == 0 {
		gateways = DefaultGateways
	}
	if maxText <= 0 {
		maxText = defaultMaxText
	}
	return &Anchor{fetch: fetch, gateways: gateways, maxText: maxText, policy: bluemonday.StrictPolicy()}
}

func (a *Anchor) Name() string { return "anchor" }

func (a *Anchor) Resolve(ctx context.Context, req *Request) Outcome {
	if req.URL == "" || a.fetch == nil {
		return Outcome{Kind: NotFound}
	}
	candidates := a.Candidates(req.URL)
	if len(candidates) == 0 {
		return Outcome{Kind: NotFound, URL: req.URL}
	}

	unavailable := false
	for _, target := range candidates {
		body, err := a.fetch.GetRaw(ctx, target)
		if err != nil {
			if classify(err) == Unavailable {
				unavailable = true
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		text, ok := ExtractText(body)
		if !ok {
			continue
		}
		text = a.clean(text)
		verified := req.Hash != "" && VerifyHash(body, req.Hash)
		if text == "" {
			return Outcome{Kind: NotFound, URL: req.URL, Verified: verified}
		}
		return Outcome{Kind: Found, URL: req.URL, Text: text, Verified: verified}
	}
	if unavailable {
		return Outcome{Kind: Unavailable, URL: req.URL}
	}
	return Outcome{Kind: NotFound, URL: req.URL}
}

// Candidates expands an anchor URL into fetchable URLs. ipfs:// URLs map
// onto every gateway in order; http(s) URLs are used as-is.
func (a *Anchor) Candidates(raw string) []string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "ipfs://"):
		path := strings.TrimPrefix(raw[len("ipfs://"):], "ipfs/")
		if path == "" {
			return nil
		}
		out := make([]string, 0, len(a.gateways))
		for _, gw := range a.gateways {
			out = append(out, strings.TrimRight(gw, "/")+"/"+path)
		}
		return out
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return []string{raw}
	}
	return nil
}

func (a *Anchor) clean(text string) string {
	text = strings.TrimSpace(a.policy.Sanitize(text))
	if utf8.RuneCountInString(text) <= a.maxText {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:a.maxText])) + "…"
}

// VerifyHash compares the blake2b-256 digest of body with the hex anchor hash.
func VerifyHash(body []byte, anchorHash string) bool {
	sum := blake2b.Sum256(body)
	return strings.EqualFold(hex.EncodeToString(sum[:]), strings.TrimSpace(anchorHash))
}

var textFields = []string{"title", "abstract", "summary", "motivation", "rationale", "comment"}

// ExtractText pulls the human-readable parts out of loosely structured
// rationale JSON. ok is false when body is not JSON.
func ExtractText(body []byte) (string, bool) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", false
	}
	var parts []string
	collect := func(m map[string]any) {
		for _, k := range textFields {
			if s := flatten(m[k]); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if b, ok := doc["body"].(map[string]any); ok {
		collect(b)
	}
	if len(parts) == 0 {
		collect(doc)
	}
	return strings.Join(parts, "\n\n"), true
}

func flatten(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return flatten(t["@value"])
	case []any:
		var out []string
		for _, item := range t {
			if s := flatten(item); s != "" {
				out = append(out, s)
			}
		}
		return strings.Join(out, "\n")
	}
	return ""
}

var _ Fetcher = (*webclient.Requester)(nil)
