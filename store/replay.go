// Package store holds the redis-backed stores behind the payment gate: the
// replay cache of accepted payment fingerprints and the dynamic price
// overrides.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	x402 "github.com/becomeliminal/x402-gate"
)

// ReplayKeyPrefix namespaces replay records.
const ReplayKeyPrefix = "x402:payment_sig:"

// ReplayCache records accepted payments in redis. Expiry is left entirely to
// redis key TTLs, so an expired record and one never written look the same.
type ReplayCache struct {
	client redis.Cmdable
	prefix string
}

var _ x402.ReplayCache = (*ReplayCache)(nil)

// NewReplayCache creates a replay cache on client.
func NewReplayCache(client redis.Cmdable) *ReplayCache {
	return &ReplayCache{client: client, prefix: ReplayKeyPrefix}
}

// Contains reports whether fp was recorded and has not yet expired.
func (c *ReplayCache) Contains(ctx context.Context, fp x402.Fingerprint) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(fp)).Result()
	if err != nil {
		return false, unavailable("replay lookup failed", err)
	}
	return n > 0, nil
}

// Insert records fp for ttl.
func (c *ReplayCache) Insert(ctx context.Context, fp x402.Fingerprint, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("replay ttl must be positive, got %s", ttl)
	}
	if err := c.client.Set(ctx, c.key(fp), "used", ttl).Err(); err != nil {
		return unavailable("replay insert failed", err)
	}
	return nil
}

func (c *ReplayCache) key(fp x402.Fingerprint) string {
	return c.prefix + fp.String()
}

func unavailable(message string, cause error) error {
	return x402.NewGateError(x402.KindStoreUnavailable, message, cause)
}
