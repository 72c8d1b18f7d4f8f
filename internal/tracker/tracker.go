// Package tracker persists one cost record per executed request and derives
// period statistics and budget consumption from those records.
//
// Aggregates are recomputed by scanning the period's records on every call;
// there are no shared counters to keep in sync.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

const (
	defaultQueryTimeout = 5 * time.Second
	writeTimeout        = 5 * time.Second
	excerptRunes        = 500
	defaultRecentLimit  = 50
	maxRecentLimit      = 500
)

// ErrInvalidPeriod is returned by GetStats for an unknown period.
var ErrInvalidPeriod = errors.New("tracker: invalid period")

// Store is the append-only record store. Both database.DB (Postgres) and
// database.SQLiteStore satisfy it.
type Store interface {
	Insert(ctx context.Context, rec *models.CostTrackingRecord) error
	ListRecords(ctx context.Context, orgID string, from, to time.Time) ([]models.CostTrackingRecord, error)
	RecentRecords(ctx context.Context, orgID string, limit int) ([]models.CostTrackingRecord, error)
}

// Options tune a Tracker. Zero values select the defaults.
type Options struct {
	// Location anchors period boundaries. Defaults to UTC.
	Location *time.Location
	// QueryTimeout bounds each read. Defaults to 5s.
	QueryTimeout time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Tracker records executed requests and reports spend.
type Tracker struct {
	store        Store
	limits       budget.LimitSource
	loc          *time.Location
	queryTimeout time.Duration
	now          func() time.Time
}

// New creates a Tracker over store. limits may be nil, in which case every
// organization is unlimited.
func New(store Store, limits budget.LimitSource, opts Options) *Tracker {
	t := &Tracker{
		store:        store,
		limits:       limits,
		loc:          opts.Location,
		queryTimeout: opts.QueryTimeout,
		now:          opts.Now,
	}
	if t.loc == nil {
		t.loc = time.UTC
	}
	if t.queryTimeout <= 0 {
		t.queryTimeout = defaultQueryTimeout
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// LogRequest persists a record for a served request. It never fails: storage
// errors are logged and dropped so the response path does not depend on them.
// The write is detached from ctx cancellation since the call was already
// billed by the time it gets here.
func (t *Tracker) LogRequest(ctx context.Context, req models.OptimizationRequest, resp *models.OptimizationResponse) {
	if resp == nil {
		return
	}
	rec := t.record(req, resp)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := t.store.Insert(wctx, rec); err != nil {
		log.WithFields(log.Fields{
			"component":  "tracker",
			"org_id":     rec.OrganizationID,
			"request_id": rec.RequestID,
		}).WithError(err).Error("Failed to persist cost record")
		return
	}
	log.WithFields(log.Fields{
		"component":  "tracker",
		"org_id":     rec.OrganizationID,
		"request_id": rec.RequestID,
		"cost_usd":   rec.CostUSD,
	}).Debug("Cost record persisted")
}

func (t *Tracker) record(req models.OptimizationRequest, resp *models.OptimizationResponse) *models.CostTrackingRecord {
	var userID *string
	if req.UserID != "" {
		u := req.UserID
		userID = &u
	}
	requestID := resp.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	created := resp.Timestamp
	if created.IsZero() {
		created = t.now()
	}

	metadata := map[string]any{
		"fallback":   resp.Fallback,
		"confidence": resp.Complexity.Confidence,
	}
	if resp.FinishReason != "" {
		metadata["finish_reason"] = resp.FinishReason
	}
	if len(resp.Complexity.DetectedKeywords) > 0 {
		metadata["keywords"] = resp.Complexity.DetectedKeywords
	}

	return &models.CostTrackingRecord{
		ID:               uuid.NewString(),
		OrganizationID:   req.OrganizationID,
		UserID:           userID,
		RequestID:        requestID,
		PromptExcerpt:    excerpt(req.Prompt),
		PromptTokens:     resp.Usage.Input,
		CompletionTokens: resp.Usage.Output,
		ModelUsed:        resp.Model,
		Provider:         resp.Provider,
		Tier:             resp.Tier,
		ComplexityScore:  resp.Complexity.Score,
		CostUSD:          resp.Cost.Total,
		LatencyMs:        resp.LatencyMs,
		Cached:           resp.Cached,
		SavingsUSD:       resp.Savings.AmountUSD,
		Metadata:         metadata,
		CreatedAt:        created,
	}
}

func excerpt(prompt string) string {
	r := []rune(prompt)
	if len(r) <= excerptRunes {
		return prompt
	}
	return string(r[:excerptRunes])
}

// GetStats aggregates an organization's records from the start of period up
// to now and attaches the organization's current budget snapshot. With no
// records it returns zero totals and empty, non-nil maps.
func (t *Tracker) GetStats(ctx context.Context, orgID string, period models.Period) (*models.CostStats, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	stats, err := t.periodStats(ctx, orgID, period)
	if err != nil {
		return nil, err
	}
	if stats.Budget, err = t.CheckBudget(ctx, orgID); err != nil {
		return nil, err
	}
	return stats, nil
}

func (t *Tracker) periodStats(ctx context.Context, orgID string, period models.Period) (*models.CostStats, error) {
	now := t.now().In(t.loc)
	from := periodStart(period, now)

	qctx, cancel := context.WithTimeout(ctx, t.queryTimeout)
	defer cancel()

	recs, err := t.store.ListRecords(qctx, orgID, from, now)
	if err != nil {
		return nil, fmt.Errorf("tracker: loading %s records: %w", period, err)
	}
	stats := aggregate(recs)
	stats.OrganizationID = orgID
	stats.Period = period
	stats.From, stats.To = from, now
	return stats, nil
}

// CheckBudget compares today's and this month's spend with the
// organization's limits. It is a soft limit: concurrent requests can all
// pass the check before any of them is recorded.
func (t *Tracker) CheckBudget(ctx context.Context, orgID string) (models.Budget, error) {
	var (
		daily, monthly *models.CostStats
		limits         models.BudgetLimits
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := t.periodStats(gctx, orgID, models.PeriodDaily)
		daily = s
		return err
	})
	g.Go(func() error {
		s, err := t.periodStats(gctx, orgID, models.PeriodMonthly)
		monthly = s
		return err
	})
	if t.limits != nil {
		g.Go(func() error {
			l, err := t.limits.Limits(gctx, orgID)
			if err != nil {
				return fmt.Errorf("tracker: loading budget limits: %w", err)
			}
			limits = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Budget{}, err
	}

	return models.Budget{
		DailyLimit:        limits.DailyLimitUSD,
		MonthlyLimit:      limits.MonthlyLimitUSD,
		DailySpend:        daily.TotalCost,
		MonthlySpend:      monthly.TotalCost,
		DailyPercentage:   budget.Percentage(daily.TotalCost, limits.DailyLimitUSD),
		MonthlyPercentage: budget.Percentage(monthly.TotalCost, limits.MonthlyLimitUSD),
		DailyExceeded:     budget.Exceeded(daily.TotalCost, limits.DailyLimitUSD),
		MonthlyExceeded:   budget.Exceeded(monthly.TotalCost, limits.MonthlyLimitUSD),
	}, nil
}

// Recent returns up to limit of the organization's newest records.
func (t *Tracker) Recent(ctx context.Context, orgID string, limit int) ([]models.CostTrackingRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	qctx, cancel := context.WithTimeout(ctx, t.queryTimeout)
	defer cancel()

	recs, err := t.store.RecentRecords(qctx, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("tracker: loading recent records: %w", err)
	}
	return recs, nil
}

// periodStart returns the inclusive lower bound of period containing now,
// in now's location.
func periodStart(period models.Period, now time.Time) time.Time {
	y, m, d := now.Date()
	loc := now.Location()
	switch period {
	case models.PeriodHourly:
		return time.Date(y, m, d, now.Hour(), 0, 0, 0, loc)
	case models.PeriodWeekly:
		wy, wm, wd := now.AddDate(0, 0, -7).Date()
		return time.Date(wy, wm, wd, 0, 0, 0, 0, loc)
	case models.PeriodMonthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}
