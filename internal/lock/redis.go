package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/learnhub/membership-service/internal/telemetry"
)

const retryInterval = 50 * time.Millisecond

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every replica, built on SET NX PX.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	wait   time.Duration
}

// NewRedis creates a Redis locker. ttl bounds how long a crashed holder can
// block others; wait bounds how long Acquire polls.
func NewRedis(client redis.UniversalClient, prefix string, ttl, wait time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl, wait: wait}
}

// Acquire implements Locker
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	fullKey := r.prefix + key
	deadline := time.Now().Add(r.wait)

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			return r.releaser(key, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// releaser logs keys masked; they are email addresses.
func (r *Redis) releaser(key, token string) Release {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		// The caller's context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, token).Err(); err != nil {
			slog.Warn("failed to release lock; it will expire on its own",
				"prefix", r.prefix, "key", telemetry.MaskEmail(key), "error", err)
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
