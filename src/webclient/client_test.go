package webclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRequester(t *testing.T, srv *httptest.Server, opts Options) *Requester {
	t.Helper()
	opts.BaseURL = srv.URL
	if opts.Backoff == 0 {
		opts.Backoff = time.Millisecond
	}
	return NewRequester(opts, zaptest.NewLogger(t))
}

func TestGetRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if n == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"epoch": 500})
	}))
	defer srv.Close()

	r := newTestRequester(t, srv, Options{Name: "test", Retries: 3})
	var out struct {
		Epoch int `json:"epoch"`
	}
	require.NoError(t, r.Get(context.Background(), "/epochs/latest", nil, &out))
	assert.Equal(t, 500, out.Epoch)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetGivesUpAfterBoundedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := newTestRequester(t, srv, Options{Retries: 2})
	err := r.Get(context.Background(), "x", nil, nil)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.True(t, httpErr.Transient())
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetFailsFastOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := newTestRequester(t, srv, Options{Retries: 5})
	err := r.Get(context.Background(), "missing", nil, nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHeadersAreSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("project_id") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r := newTestRequester(t, srv, Options{Headers: map[string]string{"project_id": "secret"}})
	assert.NoError(t, r.Get(context.Background(), "/", nil, nil))
}

func TestPaginateStopsOnShortPage(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		count, _ := strconv.Atoi(r.URL.Query().Get("count"))
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		rows := count
		if page == 3 {
			rows = 1
		}
		out := make([]int, rows)
		for i := range out {
			out[i] = (page-1)*count + i
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	r := newTestRequester(t, srv, Options{})
	rows, err := CollectAll[int](context.Background(), r, "/governance/proposals", url.Values{"order": {"desc"}}, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, rows)
	assert.Equal(t, int32(3), requests.Load())
}

func TestPaginateRespectsMaxPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[1,2]`))
	}))
	defer srv.Close()

	r := newTestRequester(t, srv, Options{})
	rows, err := CollectAll[int](context.Background(), r, "/", nil, 2, 3)
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestPageQueryLimitOffset(t *testing.T) {
	r := NewRequester(Options{PageStyle: PageStyleLimitOffset}, nil)
	q := r.PageQuery(url.Values{"voter_role": {"eq.DRep"}}, 500, 3)
	assert.Equal(t, "500", q.Get("limit"))
	assert.Equal(t, "1000", q.Get("offset"))
	assert.Equal(t, "eq.DRep", q.Get("voter_role"))
}

func TestConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r := newTestRequester(t, srv, Options{MaxConcurrent: 2})
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			_ = r.Get(context.Background(), "/", nil, nil)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDoWithRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := DoWithRetry(ctx, 3, time.Hour, func() (int, []byte, error) {
		return http.StatusBadGateway, nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestDoWithRetryRetriesTimeouts(t *testing.T) {
	calls := 0
	status, _, err := DoWithRetry(context.Background(), 3, time.Millisecond, func() (int, []byte, error) {
		calls++
		if calls == 1 {
			return 0, nil, &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}
		}
		return http.StatusOK, nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, calls)
}

func TestDoWithRetryStopsOnPermanentTransportError(t *testing.T) {
	calls := 0
	refused := errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
	_, _, err := DoWithRetry(context.Background(), 3, time.Millisecond, func() (int, []byte, error) {
		calls++
		return 0, nil, refused
	})
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, 1, calls)
}
