// Package cache provides a Redis client wrapper for the optimizer. It stores
// per-organization budget limits and backs the fixed-window API rate limiter.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

// Cache wraps a Redis client with optimizer-specific operations.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new Redis cache client connected to the given address.
// The redisURL should be in "host:port" format.
func NewCache(ctx context.Context, redisURL, password string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         redisURL,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	// Verify connectivity
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: failed to connect to Redis at %s: %w", redisURL, err)
	}

	log.WithFields(log.Fields{"component": "cache", "addr": redisURL}).Info("connected to Redis")
	return &Cache{client: client}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Close gracefully shuts down the Redis client connection.
func (c *Cache) Close() error {
	if c.client != nil {
		log.WithField("component", "cache").Info("closing Redis connection")
		return c.client.Close()
	}
	return nil
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: ping: %w", err)
	}
	return nil
}

// budgetLimitsKey constructs the Redis key holding an organization's limits.
// Format: "budget:limits:{orgID}", a hash with daily and monthly fields.
func budgetLimitsKey(orgID string) string {
	return fmt.Sprintf("budget:limits:%s", orgID)
}

const (
	fieldDaily   = "daily_limit_usd"
	fieldMonthly = "monthly_limit_usd"
)

// GetBudgetLimits returns the stored limits of an organization. found is
// false when no limits were stored.
func (c *Cache) GetBudgetLimits(ctx context.Context, orgID string) (limits models.BudgetLimits, found bool, err error) {
	key := budgetLimitsKey(orgID)
	vals, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return models.BudgetLimits{}, false, fmt.Errorf("cache: get budget limits %q: %w", key, err)
	}
	if len(vals) == 0 {
		return models.BudgetLimits{}, false, nil
	}

	if limits.DailyLimitUSD, err = parseLimit(vals[fieldDaily]); err != nil {
		return models.BudgetLimits{}, false, fmt.Errorf("cache: parse %s of %q: %w", fieldDaily, key, err)
	}
	if limits.MonthlyLimitUSD, err = parseLimit(vals[fieldMonthly]); err != nil {
		return models.BudgetLimits{}, false, fmt.Errorf("cache: parse %s of %q: %w", fieldMonthly, key, err)
	}
	return limits, true, nil
}

// SetBudgetLimits stores the limits of an organization. They do not expire.
func (c *Cache) SetBudgetLimits(ctx context.Context, orgID string, limits models.BudgetLimits) error {
	key := budgetLimitsKey(orgID)
	err := c.client.HSet(ctx, key,
		fieldDaily, strconv.FormatFloat(limits.DailyLimitUSD, 'f', -1, 64),
		fieldMonthly, strconv.FormatFloat(limits.MonthlyLimitUSD, 'f', -1, 64),
	).Err()
	if err != nil {
		return fmt.Errorf("cache: set budget limits %q: %w", key, err)
	}
	return nil
}

// DeleteBudgetLimits removes the stored limits of an organization.
func (c *Cache) DeleteBudgetLimits(ctx context.Context, orgID string) error {
	if err := c.client.Del(ctx, budgetLimitsKey(orgID)).Err(); err != nil {
		return fmt.Errorf("cache: delete budget limits: %w", err)
	}
	return nil
}

func parseLimit(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("negative limit")
	}
	return v, nil
}

// rateLimitLua atomically increments the counter and sets TTL only on the first
// request in the window. This prevents the TTL from being extended by subsequent
// requests, which would cause callers to be blocked longer than the intended window.
var rateLimitLua = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// RateLimitCheck performs a fixed-window rate limit check for a given key.
// It returns true if the request is allowed (under limit), false if rate-limited.
func (c *Cache) RateLimitCheck(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)
	windowSeconds := int(window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}

	result, err := rateLimitLua.Run(ctx, c.client, []string{rateLimitKey}, windowSeconds).Int64()
	if err != nil {
		return false, fmt.Errorf("cache: rate limit check: %w", err)
	}

	return result <= maxRequests, nil
}
