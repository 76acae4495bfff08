package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"example.com/backstage/services/provenance/config"
	"example.com/backstage/services/provenance/verifier"
)

// VerificationCache stores verifier results in Redis. A disabled cache
// misses on every read and ignores writes.
type VerificationCache struct {
	client  *redis.Client
	ttl     time.Duration
	enabled bool
}

// NewVerificationCache connects to Redis when enabled
func NewVerificationCache(cfg config.RedisConfig) (*VerificationCache, error) {
	if !cfg.Enabled {
		return &VerificationCache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return NewVerificationCacheWithClient(client, cfg.TTL), nil
}

// NewVerificationCacheWithClient wraps an existing client
func NewVerificationCacheWithClient(client *redis.Client, ttl time.Duration) *VerificationCache {
	return &VerificationCache{client: client, ttl: ttl, enabled: true}
}

// VerificationKey generates the cache key of a batch
func VerificationKey(batchID string) string {
	return fmt.Sprintf("provenance:verify:%s", batchID)
}

// Get returns the cached verification of a batch
func (c *VerificationCache) Get(ctx context.Context, batchID string) (*verifier.Verification, bool, error) {
	if !c.enabled {
		return nil, false, nil
	}

	data, err := c.client.Get(ctx, VerificationKey(batchID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to get verification from Redis")
	}

	var v verifier.Verification
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, errors.Wrap(err, "failed to unmarshal cached verification")
	}
	return &v, true, nil
}

// Set caches a verification until the TTL expires or the batch changes
func (c *VerificationCache) Set(ctx context.Context, v *verifier.Verification) error {
	if !c.enabled {
		return nil
	}

	cached := *v
	cached.Integrity = nil
	data, err := json.Marshal(cached)
	if err != nil {
		return errors.Wrap(err, "failed to marshal verification for caching")
	}

	if err := c.client.Set(ctx, VerificationKey(v.Batch.ID), data, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to set verification in Redis")
	}
	return nil
}

// Invalidate drops the cached verification of a batch
func (c *VerificationCache) Invalidate(ctx context.Context, batchID string) error {
	if !c.enabled {
		return nil
	}

	if err := c.client.Del(ctx, VerificationKey(batchID)).Err(); err != nil {
		return errors.Wrap(err, "failed to delete verification from Redis")
	}
	return nil
}

// Enabled reports whether Redis is in use
func (c *VerificationCache) Enabled() bool {
	return c.enabled
}

// Close closes the Redis connection
func (c *VerificationCache) Close() error {
	if !c.enabled || c.client == nil {
		return nil
	}
	return c.client.Close()
}
