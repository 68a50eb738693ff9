package circuitbreaker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store holds breaker state. Implementations must be safe for concurrent use.
type Store interface {
	Failures(ctx context.Context) (int, error)
	IncrFailures(ctx context.Context) (int, error)
	OpenedAt(ctx context.Context) (time.Time, bool, error)
	SetOpenedAt(ctx context.Context, at time.Time, ttl time.Duration) error
	Reset(ctx context.Context) error
}

// MemoryStore keeps breaker state in process memory
type MemoryStore struct {
	mu       sync.Mutex
	failures int
	openedAt *time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Failures(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures, nil
}

func (s *MemoryStore) IncrFailures(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.failures, nil
}

func (s *MemoryStore) OpenedAt(ctx context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openedAt == nil {
		return time.Time{}, false, nil
	}
	return *s.openedAt, true, nil
}

func (s *MemoryStore) SetOpenedAt(ctx context.Context, at time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openedAt = &at
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
	s.openedAt = nil
	return nil
}

// RedisStore shares breaker state between processes.
// Keys: cb:<name>:failures (counter) and cb:<name>:opened_at (unix millis).
type RedisStore struct {
	client      redis.UniversalClient
	failuresKey string
	openedAtKey string
}

// NewRedisStore creates a Redis-backed store for the named breaker
func NewRedisStore(client redis.UniversalClient, name string) *RedisStore {
	return &RedisStore{
		client:      client,
		failuresKey: fmt.Sprintf("cb:%s:failures", name),
		openedAtKey: fmt.Sprintf("cb:%s:opened_at", name),
	}
}

func (s *RedisStore) Failures(ctx context.Context) (int, error) {
	n, err := s.client.Get(ctx, s.failuresKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) IncrFailures(ctx context.Context) (int, error) {
	n, err := s.client.Incr(ctx, s.failuresKey).Result()
	return int(n), err
}

func (s *RedisStore) OpenedAt(ctx context.Context) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.openedAtKey).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid opened_at value %q: %w", raw, err)
	}
	return time.UnixMilli(ms), true, nil
}

// SetOpenedAt stores the opening time. The key outlives the cooldown so that
// Allow can observe the expiry and reset the counter itself.
func (s *RedisStore) SetOpenedAt(ctx context.Context, at time.Time, ttl time.Duration) error {
	return s.client.Set(ctx, s.openedAtKey, at.UnixMilli(), 2*ttl).Err()
}

func (s *RedisStore) Reset(ctx context.Context) error {
	return s.client.Del(ctx, s.failuresKey, s.openedAtKey).Err()
}
