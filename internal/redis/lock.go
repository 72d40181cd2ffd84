package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// lockTTL bounds how long a crashed reconciliation can keep a
	// document locked before the lease lapses on its own.
	lockTTL = 30 * time.Second

	// lockRetryDelay is the polling interval while waiting for a held
	// lock.
	lockRetryDelay = 50 * time.Millisecond
)

// releaseScript deletes the lock only if this holder still owns it, so
// a lapsed holder cannot release somebody else's lease.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// DocumentLock serializes per-document reconciliation across scheduler
// replicas using a Redis SET NX lease. Within a single process the
// in-process key mutex is enough; this is for multi-replica deployments
// sharing one store.
type DocumentLock struct {
	client *Client
	logger *zap.Logger
}

// NewDocumentLock creates a distributed per-document lock service.
func NewDocumentLock(client *Client, logger *zap.Logger) *DocumentLock {
	return &DocumentLock{
		client: client,
		logger: logger,
	}
}

func (l *DocumentLock) buildKey(key string) string {
	return fmt.Sprintf("reconcile:%s", key)
}

// Acquire blocks until the document's lock is free or ctx is done. The
// returned release function must be called exactly once; a release after
// the lease lapsed is a harmless no-op.
func (l *DocumentLock) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.buildKey(key)
	token := uuid.NewString()

	for {
		ok, err := l.client.rdb.SetNX(ctx, redisKey, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx failed: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}

	release := func() {
		// Release on a fresh context: the caller's may already be done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, l.client.rdb, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("failed to release document lock, lease will lapse",
				zap.String("key", redisKey),
				zap.Error(err),
			)
		}
	}

	return release, nil
}
