package webclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stake-plus/govsync/src/logging"
)

type AttemptFunc func() (status int, body []byte, err error)

// HTTPError represents a non-2xx upstream response.
type HTTPError struct {
	StatusCode int
	Body       []byte
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Transient reports whether the status is worth retrying.
func (e *HTTPError) Transient() bool {
	return retryableStatus(e.StatusCode)
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

// DoWithRetry retries the attempt function on transient statuses (429/5xx)
// and on transport timeouts or throttling errors, sleeping attempt×backoff
// between tries. Any other status or error is returned immediately.
func DoWithRetry(ctx context.Context, attempts int, backoff time.Duration, fn AttemptFunc) (int, []byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	for i := 0; i < attempts; i++ {
		status, body, err := fn()
		if err == nil && !retryableStatus(status) {
			return status, body, nil
		}
		if err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil) {
			return status, body, err
		}
		if err != nil && !retryableErr(err) {
			return status, body, err
		}
		if i == attempts-1 {
			if err == nil {
				err = fmt.Errorf("giving up after %d attempts: HTTP %d", attempts, status)
			}
			return status, body, err
		}
		t := time.NewTimer(time.Duration(i+1) * backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return status, body, ctx.Err()
		case <-t.C:
		}
	}
	return 0, nil, context.DeadlineExceeded
}

func retryableErr(err error) bool {
	return logging.IsTimeout(err) || logging.IsRateLimit(err)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
