package logging

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRateLimit(t *testing.T) {
	assert.False(t, IsRateLimit(nil))
	assert.True(t, IsRateLimit(errors.New("HTTP 429")))
	assert.True(t, IsRateLimit(errors.New("upstream rate_limit exceeded")))
	assert.False(t, IsRateLimit(errors.New("HTTP 404")))
}

func TestIsTimeout(t *testing.T) {
	assert.False(t, IsTimeout(nil))
	assert.True(t, IsTimeout(fmt.Errorf("get: %w", context.DeadlineExceeded)))
	assert.False(t, IsTimeout(errors.New("connection refused")))
}

func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputPath = filepath.Join(t.TempDir(), "logs", "test.log")
	cfg.Console = false

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, logger.Sync())

	cfg.Level = "loud"
	_, err = NewLogger(cfg)
	assert.Error(t, err)
}
