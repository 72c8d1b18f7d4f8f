// Package health runs periodic provider health checks and feeds the results
// into the routing engine.
package health

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/providers"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

const (
	defaultInterval     = time.Minute
	defaultCheckTimeout = 10 * time.Second
	maxConcurrentChecks = 4
)

// Reporter receives health-check outcomes. router.Engine implements it.
type Reporter interface {
	UpdateProviderHealth(name models.Provider, healthy bool) bool
}

// Monitor probes every provider client on an interval.
type Monitor struct {
	clients  map[models.Provider]providers.Client
	reporter Reporter
	interval time.Duration
	timeout  time.Duration
}

// NewMonitor creates a Monitor. A non-positive interval selects one minute.
func NewMonitor(clients map[models.Provider]providers.Client, reporter Reporter, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	timeout := defaultCheckTimeout
	if interval < timeout {
		timeout = interval
	}
	return &Monitor{clients: clients, reporter: reporter, interval: interval, timeout: timeout}
}

// Run checks all providers immediately and then on every tick until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.WithFields(log.Fields{"component": "health", "interval": m.interval}).Info("Provider health monitor started")
	m.CheckOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.WithField("component", "health").Info("Provider health monitor stopped")
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce probes every provider concurrently and reports each result.
// Results from a cancelled ctx are discarded.
func (m *Monitor) CheckOnce(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(maxConcurrentChecks)

	for name, client := range m.clients {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()

			err := client.HealthCheck(cctx)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				log.WithFields(log.Fields{"component": "health", "provider": name}).WithError(err).Debug("Health check failed")
			}
			m.reporter.UpdateProviderHealth(name, err == nil)
			return nil
		})
	}
	_ = g.Wait()
}
