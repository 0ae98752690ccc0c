package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockKey        = "govsync:sync-lock"
	streamSnapshot = "govsync.snapshots"
	streamMaxLen   = 1000
)

// ErrLockHeld is returned when another replica holds the sync lock.
var ErrLockHeld = errors.New("sync lock held by another replica")

// NewRedis parses url and returns a client.
func NewRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return redis.NewClient(opt), nil
}

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// SyncLock is a best-effort lock shared by replicas.
type SyncLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSyncLock(rdb *redis.Client, ttl time.Duration) *SyncLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SyncLock{rdb: rdb, ttl: ttl}
}

// Acquire takes the lock under token. It returns ErrLockHeld when taken.
func (l *SyncLock) Acquire(ctx context.Context, token string) error {
	ok, err := l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockHeld
	}
	return nil
}

// Release drops the lock if token still owns it.
func (l *SyncLock) Release(ctx context.Context, token string) error {
	return releaseScript.Run(ctx, l.rdb, []string{lockKey}, token).Err()
}

// PublishSnapshotEvent appends an event to the snapshot stream.
func PublishSnapshotEvent(ctx context.Context, rdb *redis.Client, payload map[string]interface{}) error {
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamSnapshot,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: payload,
	}).Result()
	return err
}
