package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/app"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/config"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/database"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/handler"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/middleware"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/router"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/observability"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/repository"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/risk"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/service"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(provideLogger)

var RuntimeInfraSet = wire.NewSet(
	provideOpenDB,
	provideRedisClient,
	provideRuntimeSnapshotStore,
	provideWriteLimiter,
	provideIdempotencyStore,
)

var RepositorySet = wire.NewSet(repository.NewFeatureFlagRepository)

var ServiceSet = wire.NewSet(
	provideRiskAssessor,
	service.ApproverPolicyFromConfig,
	service.NewFlagStateMachine,
	service.NewApprovalRouter,
	provideRuntimeSnapshotCache,
	service.NewFlagRegistry,
)

var HTTPSet = wire.NewSet(
	handler.NewFlagHandler,
	handler.NewApprovalHandler,
	handler.NewRuntimeHandler,
	provideHealthHandler,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(provideObservabilityRuntime, provideBackground, app.New)

func provideLogger(cfg *config.Config) *slog.Logger {
	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
	slog.SetDefault(logger)
	return logger
}

func provideObservabilityRuntime(cfg *config.Config, logger *slog.Logger) (*observability.Runtime, error) {
	return observability.InitRuntime(context.Background(), cfg, logger)
}

func provideBackground(snapshots *service.RuntimeSnapshotCache) []app.Background {
	return []app.Background{snapshots}
}

func provideOpenDB(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return db, cleanup, nil
}

// provideRedisClient returns nil when REDIS_ADDR is unset; every consumer
// then falls back to its single-node implementation.
func provideRedisClient(cfg *config.Config) (redis.UniversalClient, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	observability.InstrumentRedis(client)
	return client, func() { _ = client.Close() }
}

func provideRuntimeSnapshotStore(client redis.UniversalClient) service.RuntimeSnapshotStore {
	if client == nil {
		return service.NewInMemoryRuntimeSnapshotStore()
	}
	return service.NewRedisRuntimeSnapshotStore(client, "")
}

func provideWriteLimiter(cfg *config.Config, client redis.UniversalClient) *middleware.RateLimiter {
	if cfg.RateLimitWritesPerMinute <= 0 {
		return nil
	}
	mode := middleware.FailOpen
	if cfg.RateLimitFailClosed {
		mode = middleware.FailClosed
	}
	var limiter middleware.Limiter = middleware.NewLocalFixedWindowLimiter()
	if client != nil {
		limiter = middleware.NewRedisFixedWindowLimiter(client, "feature_flag_rl")
	}
	return middleware.NewDistributedRateLimiter(limiter, cfg.RateLimitWritesPerMinute, time.Minute, mode, "writes").
		WithBypass(middleware.NewRequestBypassEvaluator(middleware.RequestBypassConfig{
			EnableInternalProbeBypass: cfg.ProbeRateLimitBypass,
			TrustedCIDRs:              cfg.RateLimitTrustedCIDRs,
		}))
}

func provideIdempotencyStore(cfg *config.Config, client redis.UniversalClient) service.IdempotencyStore {
	if !cfg.IdempotencyEnabled {
		return nil
	}
	if client == nil {
		return service.NewInMemoryIdempotencyStore()
	}
	return service.NewRedisIdempotencyStore(client, "")
}

func provideRiskAssessor(cfg *config.Config, logger *slog.Logger) service.FlagAssessor {
	var inner risk.Assessor = risk.NewHeuristicAssessor()
	if cfg.RiskAssessor == config.RiskAssessorHTTP {
		inner = risk.NewHTTPAssessor(cfg.RiskAssessorURL, &http.Client{})
	}
	return risk.NewGuarded(inner, cfg.RiskAssessorTimeout, logger)
}

func provideRuntimeSnapshotCache(repo repository.FeatureFlagRepository, store service.RuntimeSnapshotStore, cfg *config.Config, logger *slog.Logger) *service.RuntimeSnapshotCache {
	return service.NewRuntimeSnapshotCacheForRepository(repo, store, cfg.RuntimeCacheTTL, logger)
}

func provideHealthHandler(cfg *config.Config, db *gorm.DB, client redis.UniversalClient) *handler.HealthHandler {
	checks := map[string]handler.Pinger{}
	if db != nil {
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if client != nil {
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return handler.NewHealthHandler(cfg.Env, checks)
}

func provideRouterDependencies(
	flagHandler *handler.FlagHandler,
	approvalHandler *handler.ApprovalHandler,
	runtimeHandler *handler.RuntimeHandler,
	healthHandler *handler.HealthHandler,
	limiter *middleware.RateLimiter,
	idempotency service.IdempotencyStore,
	logger *slog.Logger,
	cfg *config.Config,
) router.Dependencies {
	return router.Dependencies{
		FlagHandler:      flagHandler,
		ApprovalHandler:  approvalHandler,
		RuntimeHandler:   runtimeHandler,
		HealthHandler:    healthHandler,
		Logger:           logger,
		WriteLimiter:     limiter,
		IdempotencyStore: idempotency,
		IdempotencyTTL:   cfg.IdempotencyTTL,
		CORSOrigins:      cfg.CORSAllowedOrigins,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type MigrationRunner struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewMigrationRunner(db *gorm.DB, logger *slog.Logger) *MigrationRunner {
	return &MigrationRunner{db: db, logger: logger}
}

func (m *MigrationRunner) Run() error {
	if err := database.Migrate(m.db); err != nil {
		return err
	}
	m.logger.Info("migrations applied")
	return nil
}
