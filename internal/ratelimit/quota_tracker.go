package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default quota values in Data API units per day.
const (
	DefaultDailyQuota    = 10000
	DefaultReservedQuota = 6000
	DefaultKeyTTL        = 48 * time.Hour
)

// Redis key prefixes for quota tracking.
const (
	KeyPrefixTotal    = "ytquota:total:"
	KeyPrefixReserved = "ytquota:reserved:"
	KeyPrefixShared   = "ytquota:shared:"
	KeyPrefixResource = "ytquota:resource:"
)

// Priority selects the pool a call draws from.
type Priority int

const (
	// PriorityHigh is for queue processing and metadata refresh (reserved pool).
	PriorityHigh Priority = iota
	// PriorityLow is for channel imports (shared pool).
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// consumeScript checks both the total and the pool counter and increments
// them together.
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local units = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + units > totalBudget then
		return {0, totalUsed, poolUsed}
	end
	if poolUsed + units > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, units)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, units)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + units, poolUsed + units}
`)

// QuotaTracker coordinates Data API quota consumption through Redis so that
// every instance draws from the same daily budget. The day boundary follows
// the API's reset at midnight Pacific time.
type QuotaTracker struct {
	redis         redis.Cmdable
	dailyQuota    int
	reservedQuota int
	sharedQuota   int
	keyTTL        time.Duration
	location      *time.Location
	now           func() time.Time
}

// QuotaTrackerConfig holds configuration for the tracker.
type QuotaTrackerConfig struct {
	// Redis is required.
	Redis redis.Cmdable

	// DailyQuota is the total units per day. Default: 10000.
	DailyQuota int

	// ReservedQuota is kept for PriorityHigh callers. Default: 6000.
	ReservedQuota int

	// Location decides where the day starts. Default: America/Los_Angeles,
	// falling back to UTC when tzdata is missing.
	Location *time.Location
}

// QuotaUsage contains the consumption of the current day.
type QuotaUsage struct {
	Day           string    `json:"day"`
	TotalUsed     int       `json:"totalUsed"`
	ReservedUsed  int       `json:"reservedUsed"`
	SharedUsed    int       `json:"sharedUsed"`
	DailyQuota    int       `json:"dailyQuota"`
	ReservedQuota int       `json:"reservedQuota"`
	SharedQuota   int       `json:"sharedQuota"`
	ResetsAt      time.Time `json:"resetsAt"`
}

// Validate checks if the configuration is valid.
func (c *QuotaTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.DailyQuota < 0 {
		return errors.New("daily quota cannot be negative")
	}
	if c.ReservedQuota < 0 {
		return errors.New("reserved quota cannot be negative")
	}

	daily, reserved := c.withDefaults()
	if reserved > daily {
		return fmt.Errorf("reserved quota (%d) cannot exceed daily quota (%d)", reserved, daily)
	}
	return nil
}

func (c *QuotaTrackerConfig) withDefaults() (daily, reserved int) {
	daily = c.DailyQuota
	if daily == 0 {
		daily = DefaultDailyQuota
	}
	reserved = c.ReservedQuota
	if reserved == 0 {
		reserved = DefaultReservedQuota
	}
	return daily, reserved
}

// NewQuotaTracker creates a tracker with the given configuration.
func NewQuotaTracker(cfg *QuotaTrackerConfig) (*QuotaTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	daily, reserved := cfg.withDefaults()

	loc := cfg.Location
	if loc == nil {
		var err error
		if loc, err = time.LoadLocation("America/Los_Angeles"); err != nil {
			loc = time.UTC
		}
	}

	return &QuotaTracker{
		redis:         cfg.Redis,
		dailyQuota:    daily,
		reservedQuota: reserved,
		sharedQuota:   daily - reserved,
		keyTTL:        DefaultKeyTTL,
		location:      loc,
		now:           time.Now,
	}, nil
}

// day returns the current quota day and the moment it ends
func (t *QuotaTracker) day() (string, time.Time) {
	now := t.now().In(t.location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.location)
	return start.Format("2006-01-02"), start.AddDate(0, 0, 1)
}

func (t *QuotaTracker) keys(day string) (totalKey, reservedKey, sharedKey string) {
	return KeyPrefixTotal + day, KeyPrefixReserved + day, KeyPrefixShared + day
}

// TryConsume attempts to take units from the pool of the given priority.
// When denied it returns the time until the quota resets. Redis failures
// deny the call.
func (t *QuotaTracker) TryConsume(ctx context.Context, units int, priority Priority) (bool, time.Duration) {
	if units <= 0 {
		return true, 0
	}

	day, resetsAt := t.day()
	totalKey, reservedKey, sharedKey := t.keys(day)

	poolKey, poolBudget := reservedKey, t.reservedQuota
	if priority != PriorityHigh {
		poolKey, poolBudget = sharedKey, t.sharedQuota
	}

	result, err := consumeScript.Run(ctx, t.redis, []string{totalKey, poolKey},
		units, t.dailyQuota, poolBudget, int(t.keyTTL.Seconds())).Int64Slice()
	if err != nil || len(result) == 0 || result[0] != 1 {
		return false, t.untilReset(resetsAt)
	}
	return true, 0
}

func (t *QuotaTracker) untilReset(resetsAt time.Time) time.Duration {
	wait := resetsAt.Sub(t.now())
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Usage returns the consumption of the current day.
func (t *QuotaTracker) Usage(ctx context.Context) (*QuotaUsage, error) {
	day, resetsAt := t.day()
	totalKey, reservedKey, sharedKey := t.keys(day)

	pipe := t.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)

	// Missing keys surface as redis.Nil on the first failing command.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read quota usage: %w", err)
	}

	return &QuotaUsage{
		Day:           day,
		TotalUsed:     parseIntOrZero(totalCmd),
		ReservedUsed:  parseIntOrZero(reservedCmd),
		SharedUsed:    parseIntOrZero(sharedCmd),
		DailyQuota:    t.dailyQuota,
		ReservedQuota: t.reservedQuota,
		SharedQuota:   t.sharedQuota,
		ResetsAt:      resetsAt,
	}, nil
}

func parseIntOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}

// RecordResourceUsage adds units to the per-resource counter. It is for
// monitoring only and does not affect admission.
func (t *QuotaTracker) RecordResourceUsage(ctx context.Context, resource string, units int) error {
	if units <= 0 || resource == "" {
		return nil
	}

	day, _ := t.day()
	key := fmt.Sprintf("%s%s:%s", KeyPrefixResource, resource, day)

	pipe := t.redis.Pipeline()
	pipe.IncrBy(ctx, key, int64(units))
	pipe.Expire(ctx, key, t.keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// ResourceUsage returns today's units recorded for resource
func (t *QuotaTracker) ResourceUsage(ctx context.Context, resource string) (int, error) {
	day, _ := t.day()
	val, err := t.redis.Get(ctx, fmt.Sprintf("%s%s:%s", KeyPrefixResource, resource, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

// Available returns the units left today for the given priority.
func (t *QuotaTracker) Available(ctx context.Context, priority Priority) (int, error) {
	usage, err := t.Usage(ctx)
	if err != nil {
		return 0, err
	}

	var available int
	if priority == PriorityHigh {
		available = t.reservedQuota - usage.ReservedUsed
	} else {
		available = t.sharedQuota - usage.SharedUsed
	}
	if remaining := t.dailyQuota - usage.TotalUsed; remaining < available {
		available = remaining
	}
	if available < 0 {
		available = 0
	}
	return available, nil
}

// Utilization returns today's total utilization as a percentage (0-100).
func (t *QuotaTracker) Utilization(ctx context.Context) (float64, error) {
	usage, err := t.Usage(ctx)
	if err != nil {
		return 0, err
	}
	if t.dailyQuota == 0 {
		return 100, nil
	}
	return float64(usage.TotalUsed) * 100 / float64(t.dailyQuota), nil
}

// DailyQuota returns the configured daily quota.
func (t *QuotaTracker) DailyQuota() int { return t.dailyQuota }

// ReservedQuota returns the configured reserved quota.
func (t *QuotaTracker) ReservedQuota() int { return t.reservedQuota }

// SharedQuota returns the units left to low priority callers.
func (t *QuotaTracker) SharedQuota() int { return t.sharedQuota }
