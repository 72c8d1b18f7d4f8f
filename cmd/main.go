package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/analyzer"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/api"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/health"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/logging"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/optimizer"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/providers"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/internal/tracker"
	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/cache"
)

// recordStore is what the tracker and health endpoint need from storage.
type recordStore interface {
	tracker.Store
	api.Pinger
	io.Closer
}

func main() {
	fmt.Println("==============================================")
	fmt.Println("  Open Cloud Ops - LLM Cost Optimizer")
	fmt.Println("==============================================")

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCloser, err := logging.Setup(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Provider catalog.
	catalog, err := config.LoadCatalog(cfg.ProvidersFile)
	if err != nil {
		log.Fatalf("Failed to load provider catalog: %v", err)
	}
	catalog.ApplyKeys(cfg.APIKeys())

	engine := router.NewEngine(
		analyzer.New(nil, analyzer.DefaultRoles(), router.BaseLatencies(catalog.Providers)),
		catalog.Providers,
	)
	clients, err := providers.NewAll(catalog.Providers, providers.Options{Timeout: cfg.ProviderTimeout})
	if err != nil {
		log.Fatalf("Failed to create provider clients: %v", err)
	}

	// Cost record storage.
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open cost store: %v", err)
	}
	defer store.Close()

	// Redis is optional: without it limits come from configuration only and
	// the optimize endpoint is not rate limited.
	var rdb *cache.Cache
	if addr := cfg.RedisAddr(); addr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err = cache.NewCache(pingCtx, addr, cfg.RedisPassword)
		cancel()
		if err != nil {
			log.WithError(err).Warn("Redis unavailable. Budget limits are read-only and rate limiting is off.")
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	staticLimits := budget.NewStaticLimits(catalog.DefaultLimits(cfg.DefaultLimits()), catalog.Budgets.Organizations)
	limits := budget.NewRedisLimits(rdb, staticLimits)
	costs := tracker.New(store, limits, tracker.Options{QueryTimeout: cfg.QueryTimeout})

	opt, err := optimizer.New(engine, clients, costs, optimizer.Options{
		Enabled:         cfg.Enabled,
		DefaultProvider: cfg.DefaultProvider,
	})
	if err != nil {
		log.Fatalf("Failed to create optimizer: %v", err)
	}

	go health.NewMonitor(clients, engine, cfg.HealthInterval).Run(ctx)

	if cfg.ProvidersFile != "" {
		go func() {
			err := config.WatchProviders(ctx, cfg.ProvidersFile, func(c *config.Catalog) {
				c.ApplyKeys(cfg.APIKeys())
				for _, p := range c.Providers {
					if !engine.SetProviderEnabled(p.Name, p.Enabled) {
						log.WithFields(log.Fields{"component": "config", "provider": p.Name}).Warn("New provider in catalog ignored until restart")
					}
				}
				staticLimits.Replace(c.DefaultLimits(cfg.DefaultLimits()), c.Budgets.Organizations)
				log.WithField("component", "config").Info("Provider catalog reloaded")
			})
			if err != nil {
				log.WithError(err).Error("Provider catalog watcher stopped")
			}
		}()
	}

	// HTTP server.
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	routerOpts := api.RouterOptions{
		AllowedOrigins:     cfg.AllowedOrigins,
		AdminAPIKey:        cfg.AdminAPIKey,
		ClientAPIKey:       cfg.ClientAPIKey,
		RateLimitPerMinute: int64(cfg.RateLimitPerMinute),
	}
	if rdb != nil {
		routerOpts.RateLimiter = rdb
	}
	var limitStore api.LimitStore
	if rdb != nil {
		limitStore = limits
	}
	r := api.NewRouter(api.NewHandlers(opt, costs, limitStore, store), routerOpts)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ProviderTimeout*2 + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{
			"port":             cfg.Port,
			"enabled":          cfg.Enabled,
			"default_provider": cfg.DefaultProvider,
			"storage":          cfg.StorageDriver,
		}).Info("Optimizer is ready")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	log.Info("Server exited.")
}

func openStore(ctx context.Context, cfg *config.Config) (recordStore, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		db, err := database.New(ctx, cfg.DSN())
		if err != nil {
			return nil, err
		}
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := db.Migrate(migrateCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		log.WithField("dsn", cfg.RedactedDSN()).Info("PostgreSQL connected and migrations applied")
		return db, nil
	default:
		s, err := database.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.WithField("path", cfg.SQLitePath).Info("SQLite cost store opened")
		return s, nil
	}
}
