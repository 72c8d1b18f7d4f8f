// Package api implements the REST API of the optimizer service.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/analytics"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/optimizer"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/tracker"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

// statusClientClosed is reported when the caller went away mid-request.
const statusClientClosed = 499

// Version is reported by the health endpoint.
var Version = "0.1.0"

// LimitStore manages per-organization budget limits. budget.RedisLimits
// implements it.
type LimitStore interface {
	budget.LimitSource
	SetLimits(ctx context.Context, orgID string, limits models.BudgetLimits) error
	ResetLimits(ctx context.Context, orgID string) error
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers provides REST API endpoint handlers.
type Handlers struct {
	optimizer *optimizer.Optimizer
	tracker   *tracker.Tracker
	limits    LimitStore
	insights  *analytics.InsightsEngine
	store     Pinger
}

// NewHandlers creates a new Handlers instance. limits and store may be nil.
func NewHandlers(opt *optimizer.Optimizer, tr *tracker.Tracker, limits LimitStore, store Pinger) *Handlers {
	return &Handlers{
		optimizer: opt,
		tracker:   tr,
		limits:    limits,
		insights:  analytics.NewInsightsEngine(tr),
		store:     store,
	}
}

// HealthCheck returns the service health status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy := 0
	statuses := h.optimizer.Engine().Providers()
	for _, p := range statuses {
		if p.Healthy && p.Enabled {
			healthy++
		}
	}

	status, code := "healthy", http.StatusOK
	storage := "ok"
	if h.store != nil {
		if err := h.store.Ping(c.Request.Context()); err != nil {
			status, code, storage = "degraded", http.StatusServiceUnavailable, err.Error()
		}
	}

	c.JSON(code, gin.H{
		"status":            status,
		"service":           "optimizer",
		"version":           Version,
		"enabled":           h.optimizer.Enabled(),
		"storage":           storage,
		"providers":         len(statuses),
		"providers_healthy": healthy,
	})
}

// Optimize serves one request through the optimizer.
func (h *Handlers) Optimize(c *gin.Context) {
	var req models.OptimizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.optimizer.Optimize(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("X-Request-ID", resp.RequestID)
	c.Header("X-Cost-USD", strconv.FormatFloat(resp.Cost.Total, 'f', 6, 64))
	c.Header("X-Latency-Ms", strconv.FormatInt(resp.LatencyMs, 10))
	c.JSON(http.StatusOK, resp)
}

// Recommend returns the routing decision for a request without executing it.
func (h *Handlers) Recommend(c *gin.Context) {
	var req models.OptimizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.optimizer.Engine().GetRecommendation(req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetStats returns cost statistics for an organization.
// Query params: org_id (required), period (hourly|daily|weekly|monthly, default daily)
func (h *Handlers) GetStats(c *gin.Context) {
	orgID, ok := requireOrg(c)
	if !ok {
		return
	}
	period := models.Period(c.DefaultQuery("period", string(models.PeriodDaily)))

	stats, err := h.tracker.GetStats(c.Request.Context(), orgID, period)
	if err != nil {
		if errors.Is(err, tracker.ErrInvalidPeriod) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetBudget returns an organization's spend against its limits.
func (h *Handlers) GetBudget(c *gin.Context) {
	orgID, ok := requireOrg(c)
	if !ok {
		return
	}
	b, err := h.tracker.CheckBudget(c.Request.Context(), orgID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization_id": orgID, "budget": b})
}

// SetBudgetLimits stores an organization's limits.
func (h *Handlers) SetBudgetLimits(c *gin.Context) {
	if !h.requireLimits(c) {
		return
	}
	orgID := c.Param("org_id")

	var limits models.BudgetLimits
	if err := c.ShouldBindJSON(&limits); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if limits.DailyLimitUSD < 0 || limits.MonthlyLimitUSD < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limits must not be negative"})
		return
	}

	if err := h.limits.SetLimits(c.Request.Context(), orgID, limits); err != nil {
		h.writeError(c, err)
		return
	}
	log.WithFields(log.Fields{
		"component": "api",
		"org_id":    orgID,
		"daily":     limits.DailyLimitUSD,
		"monthly":   limits.MonthlyLimitUSD,
	}).Info("Budget limits updated")
	c.JSON(http.StatusOK, gin.H{"organization_id": orgID, "limits": limits})
}

// ResetBudgetLimits removes an organization's own limits so the defaults apply.
func (h *Handlers) ResetBudgetLimits(c *gin.Context) {
	if !h.requireLimits(c) {
		return
	}
	orgID := c.Param("org_id")
	if err := h.limits.ResetLimits(c.Request.Context(), orgID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRecentRequests returns an organization's most recent cost records.
func (h *Handlers) GetRecentRequests(c *gin.Context) {
	orgID, ok := requireOrg(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		limit = 50
	}

	records, err := h.tracker.Recent(c.Request.Context(), orgID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(records),
		"data":  records,
	})
}

// ListProviders returns every provider with its health and live metrics.
func (h *Handlers) ListProviders(c *gin.Context) {
	statuses := h.optimizer.Engine().Providers()
	c.JSON(http.StatusOK, gin.H{
		"count": len(statuses),
		"data":  statuses,
	})
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetProviderEnabled enables or disables a provider at runtime.
func (h *Handlers) SetProviderEnabled(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := models.Provider(c.Param("name"))
	if !h.optimizer.Engine().SetProviderEnabled(name, *req.Enabled) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown provider %q", name)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": name, "enabled": *req.Enabled})
}

type healthRequest struct {
	Healthy *bool `json:"healthy" binding:"required"`
}

// SetProviderHealth overrides a provider's health until the next check.
func (h *Handlers) SetProviderHealth(c *gin.Context) {
	var req healthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := models.Provider(c.Param("name"))
	if !h.optimizer.Engine().UpdateProviderHealth(name, *req.Healthy) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown provider %q", name)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": name, "healthy": *req.Healthy})
}

// GetInsights returns cost insights for an organization.
func (h *Handlers) GetInsights(c *gin.Context) {
	orgID, ok := requireOrg(c)
	if !ok {
		return
	}
	insights, err := h.insights.Insights(c.Request.Context(), orgID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(insights), "data": insights})
}

// GetReport returns a usage summary for an organization.
func (h *Handlers) GetReport(c *gin.Context) {
	orgID, ok := requireOrg(c)
	if !ok {
		return
	}
	period := models.Period(c.DefaultQuery("period", string(models.PeriodMonthly)))
	report, err := h.insights.GenerateReport(c.Request.Context(), orgID, period)
	if err != nil {
		if errors.Is(err, tracker.ErrInvalidPeriod) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func requireOrg(c *gin.Context) (string, bool) {
	orgID := c.Query("org_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org_id is required"})
		return "", false
	}
	return orgID, true
}

// requireLimits returns true if limits can be managed, or sends a 503 and returns false.
func (h *Handlers) requireLimits(c *gin.Context) bool {
	if h.limits == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "budget limit management unavailable"})
		return false
	}
	return true
}

// writeError maps domain errors to HTTP responses.
func (h *Handlers) writeError(c *gin.Context, err error) {
	var (
		budgetErr  *optimizer.BudgetExceededError
		routingErr *router.RoutingError
		optErr     *optimizer.OptimizerError
	)
	switch {
	case errors.As(err, &budgetErr):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":  "budget_exceeded",
			"window": budgetErr.Window,
			"spend":  budgetErr.Spend,
			"limit":  budgetErr.Limit,
		})
	case errors.Is(err, optimizer.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.As(err, &routingErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "routing_failed", "message": err.Error()})
	case errors.As(err, &optErr):
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_failed", "message": err.Error()})
	case errors.Is(err, budget.ErrReadOnly):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "budget limit management unavailable"})
	case errors.Is(err, context.Canceled):
		c.JSON(statusClientClosed, gin.H{"error": "request_cancelled"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timeout"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
