package api

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/middleware"
)

// RouterOptions configure NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	AdminAPIKey    string // management routes; empty disables them
	ClientAPIKey   string // optimize/recommend; empty leaves them open
	// RateLimiter throttles /optimize when non-nil.
	RateLimiter        middleware.RateLimiter
	RateLimitPerMinute int64
}

// NewRouter builds the HTTP router.
func NewRouter(h *Handlers, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.CORSMiddleware(opts.AllowedOrigins))

	r.GET("/health", h.HealthCheck)

	v1 := r.Group("/api/v1")

	// Client routes.
	client := v1.Group("")
	if opts.ClientAPIKey != "" {
		client.Use(middleware.AuthMiddleware(opts.ClientAPIKey))
	} else {
		log.WithField("component", "api").Warn("OPTIMIZER_API_KEY not set. Optimize endpoints are UNAUTHENTICATED.")
	}
	optimize := []gin.HandlerFunc{h.Optimize}
	if opts.RateLimiter != nil && opts.RateLimitPerMinute > 0 {
		optimize = append([]gin.HandlerFunc{middleware.RateLimitMiddleware(opts.RateLimiter, opts.RateLimitPerMinute, time.Minute)}, optimize...)
	}
	client.POST("/optimize", optimize...)
	client.POST("/recommend", h.Recommend)

	// Management routes (protected by admin API key).
	// Fail-secure: if no key is configured, every management request is rejected.
	admin := v1.Group("")
	if opts.AdminAPIKey == "" {
		log.WithField("component", "api").Warn("OPTIMIZER_ADMIN_API_KEY not set. Management API is disabled (fail-secure).")
	}
	admin.Use(middleware.AuthMiddleware(opts.AdminAPIKey))
	{
		// Cost data.
		admin.GET("/stats", h.GetStats)
		admin.GET("/costs/requests", h.GetRecentRequests)

		// Budgets.
		admin.GET("/budget", h.GetBudget)
		admin.PUT("/budget/:org_id", h.SetBudgetLimits)
		admin.DELETE("/budget/:org_id", h.ResetBudgetLimits)

		// Providers.
		admin.GET("/providers", h.ListProviders)
		admin.PUT("/providers/:name/enabled", h.SetProviderEnabled)
		admin.PUT("/providers/:name/health", h.SetProviderHealth)

		// Analytics.
		admin.GET("/insights", h.GetInsights)
		admin.GET("/report", h.GetReport)
	}
	return r
}
