// Package optimizer is the request entry point. Each call is sequenced as
// budget check, analysis, routing, execution and cost recording, with a
// single fallback attempt against the default provider when the routed
// provider fails.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/providers"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

// CostTracker is the part of tracker.Tracker the optimizer depends on.
type CostTracker interface {
	CheckBudget(ctx context.Context, orgID string) (models.Budget, error)
	LogRequest(ctx context.Context, req models.OptimizationRequest, resp *models.OptimizationResponse)
}

// Options configure an Optimizer.
type Options struct {
	// Enabled turns on budget checks, analysis and routing. When false every
	// request goes straight to DefaultProvider.
	Enabled bool
	// DefaultProvider serves fallback attempts and disabled-mode requests.
	DefaultProvider models.Provider
}

// Optimizer serves optimization requests. It is safe for concurrent use.
type Optimizer struct {
	engine          *router.Engine
	clients         map[models.Provider]providers.Client
	tracker         CostTracker
	enabled         bool
	defaultProvider models.Provider
}

// New wires an Optimizer. Every provider the engine can route to needs a
// client in clients, and DefaultProvider must be one of them.
func New(engine *router.Engine, clients map[models.Provider]providers.Client, tracker CostTracker, opts Options) (*Optimizer, error) {
	if opts.DefaultProvider == "" {
		return nil, errors.New("optimizer: default provider is required")
	}
	if _, ok := clients[opts.DefaultProvider]; !ok {
		return nil, fmt.Errorf("optimizer: no client for default provider %q", opts.DefaultProvider)
	}
	if _, ok := engine.Provider(opts.DefaultProvider); !ok {
		return nil, fmt.Errorf("optimizer: default provider %q is not configured", opts.DefaultProvider)
	}
	return &Optimizer{
		engine:          engine,
		clients:         clients,
		tracker:         tracker,
		enabled:         opts.Enabled,
		defaultProvider: opts.DefaultProvider,
	}, nil
}

// Engine returns the routing engine.
func (o *Optimizer) Engine() *router.Engine {
	return o.engine
}

// Enabled reports whether routing is active.
func (o *Optimizer) Enabled() bool {
	return o.enabled
}

// Optimize serves one request.
//
// It fails with *BudgetExceededError before any provider call when the
// organization is over its daily or monthly limit, with *router.RoutingError
// when a forced provider or tier cannot be honoured, and with
// *OptimizerError when both the routed and the fallback attempt fail. If ctx
// is cancelled while a provider call is in flight, ctx.Err() is returned and
// nothing is recorded.
//
// The budget is a soft limit: concurrent requests for one organization read
// the same spend and may all proceed.
func (o *Optimizer) Optimize(ctx context.Context, req models.OptimizationRequest) (*models.OptimizationResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	logger := log.WithFields(log.Fields{
		"component":  "optimizer",
		"request_id": requestID,
		"org_id":     req.OrganizationID,
	})
	logger.WithField("state", "start").Debug("Optimizing request")

	if !o.enabled {
		return o.direct(ctx, req, requestID, logger)
	}

	if err := o.checkBudget(ctx, req.OrganizationID, logger); err != nil {
		return nil, err
	}
	logger.WithField("state", "budget_checked").Debug("Budget check passed")

	route, err := o.engine.Route(req)
	if err != nil {
		logger.WithError(err).Warn("Routing failed")
		return nil, err
	}
	logger.WithFields(log.Fields{
		"state":    "analyzed",
		"score":    route.Complexity.Score,
		"tier":     route.Complexity.RecommendedTier,
		"keywords": route.Complexity.DetectedKeywords,
	}).Debug("Complexity analyzed")
	logger.WithFields(log.Fields{
		"state":    "routed",
		"provider": route.Provider.Name,
		"model":    route.Model,
		"rerouted": route.Rerouted,
		"degraded": route.Degraded,
	}).Debug(route.Reasoning)

	resp, primaryErr := o.execute(ctx, route.Provider.Name, req, route.Complexity)
	if primaryErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.WithField("state", "cancelled").Debug("Request cancelled during execution")
			return nil, ctxErr
		}
		logger.WithFields(log.Fields{
			"provider": route.Provider.Name,
			"fallback": o.defaultProvider,
		}).WithError(primaryErr).Warn("Primary provider failed, trying fallback")

		resp, err = o.fallback(ctx, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				logger.WithField("state", "cancelled").Debug("Request cancelled during fallback")
				return nil, ctxErr
			}
			logger.WithField("state", "failed").WithError(err).Error("Fallback provider failed")
			return nil, &OptimizerError{Kind: KindFailed, Primary: primaryErr, Fallback: err}
		}
		logger.WithField("state", "fallback_executed").Debug("Fallback provider succeeded")
	} else {
		logger.WithField("state", "executed").Debug("Provider call succeeded")
	}

	return o.finish(ctx, req, resp, requestID, logger), nil
}

// direct serves a request in disabled mode.
func (o *Optimizer) direct(ctx context.Context, req models.OptimizationRequest, requestID string, logger *log.Entry) (*models.OptimizationResponse, error) {
	cfg, _ := o.engine.Provider(o.defaultProvider)
	complexity := o.engine.Analyzer().Estimated(req, cfg.Tier, cfg.Name)

	resp, err := o.execute(ctx, cfg.Name, req, complexity)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.WithField("state", "failed").WithError(err).Error("Default provider failed")
		return nil, &OptimizerError{Kind: KindFailed, Primary: err}
	}
	logger.WithField("state", "executed").Debug("Default provider call succeeded (optimizer disabled)")
	return o.finish(ctx, req, resp, requestID, logger), nil
}

func (o *Optimizer) fallback(ctx context.Context, req models.OptimizationRequest) (*models.OptimizationResponse, error) {
	cfg, _ := o.engine.Provider(o.defaultProvider)
	complexity := o.engine.Analyzer().Estimated(req, cfg.Tier, cfg.Name)

	resp, err := o.execute(ctx, cfg.Name, req, complexity)
	if err != nil {
		return nil, err
	}
	resp.Fallback = true
	return resp, nil
}

func (o *Optimizer) finish(ctx context.Context, req models.OptimizationRequest, resp *models.OptimizationResponse, requestID string, logger *log.Entry) *models.OptimizationResponse {
	resp.RequestID = requestID
	if o.tracker != nil {
		o.tracker.LogRequest(ctx, req, resp)
	}
	logger.WithFields(log.Fields{
		"state":    "logged",
		"provider": resp.Provider,
		"cost_usd": resp.Cost.Total,
		"fallback": resp.Fallback,
	}).Debug("Request recorded")
	return resp
}

// checkBudget rejects the request when a window is exhausted. A failing
// budget lookup is logged and the request proceeds.
func (o *Optimizer) checkBudget(ctx context.Context, orgID string, logger *log.Entry) error {
	if o.tracker == nil {
		return nil
	}
	b, err := o.tracker.CheckBudget(ctx, orgID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.WithError(err).Warn("Budget check unavailable, continuing")
		return nil
	}
	switch {
	case b.DailyExceeded:
		logger.WithField("state", "rejected").Info("Daily budget exceeded")
		return &BudgetExceededError{Window: WindowDaily, Spend: b.DailySpend, Limit: b.DailyLimit}
	case b.MonthlyExceeded:
		logger.WithField("state", "rejected").Info("Monthly budget exceeded")
		return &BudgetExceededError{Window: WindowMonthly, Spend: b.MonthlySpend, Limit: b.MonthlyLimit}
	}
	return nil
}

// execute calls one provider and records the outcome on the engine. A panic
// inside the client is turned into an error.
func (o *Optimizer) execute(ctx context.Context, name models.Provider, req models.OptimizationRequest, complexity models.ComplexityScore) (resp *models.OptimizationResponse, err error) {
	client, ok := o.clients[name]
	if !ok {
		return nil, fmt.Errorf("optimizer: no client for provider %q", name)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("optimizer: provider %s panicked: %v", name, r)
		}
		if ctx.Err() == nil {
			o.engine.RecordOutcome(name, time.Since(start).Milliseconds(), err == nil)
		}
	}()

	resp, err = client.Complete(ctx, req, complexity)
	if err == nil && resp == nil {
		err = fmt.Errorf("optimizer: provider %s returned no response", name)
	}
	return resp, err
}

func validate(req models.OptimizationRequest) error {
	switch {
	case req.OrganizationID == "":
		return fmt.Errorf("%w: organization_id is required", ErrInvalidRequest)
	case req.Prompt == "":
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	case req.MaxTokens < 0:
		return fmt.Errorf("%w: max_tokens must not be negative", ErrInvalidRequest)
	case req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2):
		return fmt.Errorf("%w: temperature must be within [0, 2]", ErrInvalidRequest)
	}
	return nil
}
