package webclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stake-plus/govsync/src/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 32 << 20

// NewDefault returns an HTTP client with sane timeouts.
func NewDefault(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Options configures one upstream provider.
type Options struct {
	Name          string
	BaseURL       string
	Headers       map[string]string
	MinInterval   time.Duration
	Timeout       time.Duration
	Retries       int
	Backoff       time.Duration
	MaxConcurrent int64
	PageStyle     PageStyle
}

// Requester is a rate limited, retrying JSON client bound to one provider.
type Requester struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	logger  *zap.Logger
}

// NewRequester builds a Requester; zero-valued options fall back to defaults.
func NewRequester(opts Options, logger *zap.Logger) *Requester {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Name == "" {
		opts.Name = "upstream"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}

	return &Requester{
		opts:    opts,
		client:  NewDefault(opts.Timeout),
		limiter: rate.NewLimiter(limit, 1),
		sem:     semaphore.NewWeighted(opts.MaxConcurrent),
		logger:  logger.Named("webclient").With(zap.String("provider", opts.Name)),
	}
}

// Name returns the provider name used in logs and metrics.
func (r *Requester) Name() string {
	return r.opts.Name
}

// Get fetches endpoint and decodes the JSON response into out.
func (r *Requester) Get(ctx context.Context, endpoint string, query url.Values, out any) error {
	body, err := r.do(ctx, http.MethodGet, r.resolve(endpoint, query), nil)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// Post sends payload as JSON and decodes the JSON response into out.
func (r *Requester) Post(ctx context.Context, endpoint string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	body, err := r.do(ctx, http.MethodPost, r.resolve(endpoint, nil), data)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// GetRaw fetches endpoint and returns the raw response body.
func (r *Requester) GetRaw(ctx context.Context, endpoint string) ([]byte, error) {
	return r.do(ctx, http.MethodGet, r.resolve(endpoint, nil), nil)
}

func (r *Requester) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	status, body, err := DoWithRetry(ctx, r.opts.Retries+1, r.opts.Backoff, func() (int, []byte, error) {
		return r.attempt(ctx, method, target, payload)
	})
	if err != nil {
		if status != 0 {
			return nil, &HTTPError{StatusCode: status, Body: body, URL: target}
		}
		return nil, fmt.Errorf("%s %s: %w", r.opts.Name, method, err)
	}
	if status < 200 || status > 299 {
		return nil, &HTTPError{StatusCode: status, Body: body, URL: target}
	}
	return body, nil
}

func (r *Requester) attempt(ctx context.Context, method, target string, payload []byte) (int, []byte, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return 0, nil, err
	}
	defer r.sem.Release(1)

	if err := r.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(r.opts.Name, "error").Inc()
		r.logger.Debug("request failed", zap.String("url", target), zap.Error(err))
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.UpstreamRequests.WithLabelValues(r.opts.Name, metrics.StatusClass(resp.StatusCode)).Inc()
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		r.logger.Debug("transient upstream status", zap.String("url", target), zap.Int("status", resp.StatusCode))
	}
	return resp.StatusCode, body, nil
}

func (r *Requester) resolve(endpoint string, query url.Values) string {
	target := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		target = strings.TrimRight(r.opts.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	return target
}

func decode(body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
