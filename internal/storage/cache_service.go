package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheService provides JSON caching on top of Redis
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyVendorResponse is for decoded vendor responses
	CacheKeyVendorResponse CacheKeyType = "vendor:resp"
	// CacheKeyTranscript is for transcript text
	CacheKeyTranscript CacheKeyType = "vendor:transcript"
	// CacheKeyVideoMeta is for normalized video metadata
	CacheKeyVideoMeta CacheKeyType = "video:meta"
)

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := append([]string{string(keyType)}, params...)
	return strings.Join(parts, ":")
}

// TranscriptKey returns vendor:transcript:<id>:<mode>:<lang>
func TranscriptKey(videoID, mode, lang string) string {
	return GenerateCacheKey(CacheKeyTranscript, videoID, mode, lang)
}

// VideoMetaKey returns video:meta:<id>
func VideoMetaKey(videoID string) string {
	return GenerateCacheKey(CacheKeyVideoMeta, videoID)
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.redis.Set(ctx, key, data, ttl)
}

// Get retrieves a value from cache and deserializes it
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		// Key not found is not an error, just a cache miss
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// InvalidateType removes every key of the given type, e.g. all vendor responses
func (c *CacheService) InvalidateType(ctx context.Context, keyType CacheKeyType) (int, error) {
	return c.redis.DeleteByPrefix(ctx, string(keyType)+":")
}
