// Package budget supplies per-organization spend limits.
//
// Limits are configuration, never inferred from usage. A StaticLimits table
// loaded from the config file is the baseline; RedisLimits layers runtime
// overrides managed through the API on top of it. A limit of zero or less
// means the window is unlimited.
package budget

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/cache"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

// ErrReadOnly is returned when limits cannot be changed at runtime.
var ErrReadOnly = errors.New("budget: limits store is read-only")

// LimitSource resolves an organization's budget limits.
type LimitSource interface {
	Limits(ctx context.Context, orgID string) (models.BudgetLimits, error)
}

// StaticLimits serves limits from configuration. Organizations without an
// entry get the default limits. It is safe for concurrent use and can be replaced
// wholesale on config reload.
type StaticLimits struct {
	mu     sync.RWMutex
	def    models.BudgetLimits
	perOrg map[string]models.BudgetLimits
}

// NewStaticLimits creates a StaticLimits.
func NewStaticLimits(def models.BudgetLimits, perOrg map[string]models.BudgetLimits) *StaticLimits {
	s := &StaticLimits{}
	s.Replace(def, perOrg)
	return s
}

// Limits implements LimitSource.
func (s *StaticLimits) Limits(_ context.Context, orgID string) (models.BudgetLimits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.perOrg[orgID]; ok {
		return l, nil
	}
	return s.def, nil
}

// Replace swaps the whole table.
func (s *StaticLimits) Replace(def models.BudgetLimits, perOrg map[string]models.BudgetLimits) {
	m := make(map[string]models.BudgetLimits, len(perOrg))
	for k, v := range perOrg {
		m[k] = v
	}
	s.mu.Lock()
	s.def, s.perOrg = def, m
	s.mu.Unlock()
}

// RedisLimits reads per-organization overrides from Redis and falls back to
// another source when an organization has none, when Redis is not configured
// or when it is unreachable.
type RedisLimits struct {
	cache    *cache.Cache
	fallback LimitSource
}

// NewRedisLimits creates a RedisLimits. c may be nil.
func NewRedisLimits(c *cache.Cache, fallback LimitSource) *RedisLimits {
	return &RedisLimits{cache: c, fallback: fallback}
}

// Limits implements LimitSource.
func (r *RedisLimits) Limits(ctx context.Context, orgID string) (models.BudgetLimits, error) {
	if r.cache != nil {
		limits, found, err := r.cache.GetBudgetLimits(ctx, orgID)
		switch {
		case err != nil:
			log.WithError(err).WithFields(log.Fields{
				"component": "budget",
				"org_id":    orgID,
			}).Warn("reading limits from Redis failed; using configured limits")
		case found:
			return limits, nil
		}
	}
	if r.fallback == nil {
		return models.BudgetLimits{}, nil
	}
	return r.fallback.Limits(ctx, orgID)
}

// SetLimits stores an override for orgID.
func (r *RedisLimits) SetLimits(ctx context.Context, orgID string, limits models.BudgetLimits) error {
	if r.cache == nil {
		return ErrReadOnly
	}
	return r.cache.SetBudgetLimits(ctx, orgID, limits)
}

// ResetLimits removes the override for orgID so the configured limits apply again.
func (r *RedisLimits) ResetLimits(ctx context.Context, orgID string) error {
	if r.cache == nil {
		return ErrReadOnly
	}
	return r.cache.DeleteBudgetLimits(ctx, orgID)
}

// Exceeded reports whether spend reached limit. Non-positive limits never trip.
func Exceeded(spend, limit float64) bool {
	return limit > 0 && spend >= limit
}

// Percentage is spend as a share of limit, or 0 for an unlimited window.
func Percentage(spend, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return spend / limit * 100
}
