// Package bootstrap assembles the API from configuration: the durable store
// backend, caches, rule engine, publisher and HTTP router.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/umbrellafw/umbrella/internal/app/migrate"
	"github.com/umbrellafw/umbrella/internal/cache"
	"github.com/umbrellafw/umbrella/internal/domain"
	httpx "github.com/umbrellafw/umbrella/internal/http"
	"github.com/umbrellafw/umbrella/internal/publish"
	"github.com/umbrellafw/umbrella/internal/ratelimit"
	"github.com/umbrellafw/umbrella/internal/repository"
	"github.com/umbrellafw/umbrella/internal/repository/badger"
	"github.com/umbrellafw/umbrella/internal/repository/dynamo"
	"github.com/umbrellafw/umbrella/internal/repository/postgres"
	"github.com/umbrellafw/umbrella/internal/rules"
	"github.com/umbrellafw/umbrella/internal/service/health"
	"github.com/umbrellafw/umbrella/internal/service/ingest"
	"github.com/umbrellafw/umbrella/internal/service/organization"
	"github.com/umbrellafw/umbrella/internal/ws"
	"github.com/umbrellafw/umbrella/pkg/config"
	"github.com/umbrellafw/umbrella/pkg/opt"
)

// Store is a durable backend for organizations and node health.
type Store interface {
	repository.OrganizationRepository
	repository.HealthRepository
	Ping(ctx context.Context) error
}

// expirer is implemented by backends without native row expiry.
type expirer interface {
	PurgeExpiredNodeHealth(ctx context.Context, now time.Time) (int64, error)
}

// App is the assembled API.
type App struct {
	Router  *httpx.Router
	Store   Store
	log     *slog.Logger
	cfg     config.APIConfig
	closers []func() error
}

// OpenStore connects the backend selected by cfg.StoreBackend.
func OpenStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (Store, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StoreBackend)) {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.AutoMigrate {
			if err := applyMigrations(ctx, cfg, log); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return postgres.New(pool), func() error { pool.Close(); return nil }, nil
	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		})
		repo := dynamo.New(client, cfg.DynamoTable)
		if cfg.DynamoEndpoint != "" {
			if err := repo.EnsureTable(ctx); err != nil {
				return nil, nil, err
			}
		}
		return repo, func() error { return nil }, nil
	case config.BackendBadger:
		bcfg := badger.DefaultConfig(cfg.BadgerPath)
		if cfg.BadgerInMemory {
			bcfg = badger.InMemoryConfig()
		}
		bcfg.Logger = log
		repo, err := badger.Open(bcfg)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func applyMigrations(ctx context.Context, cfg config.APIConfig, log *slog.Logger) error {
	runner, err := migrate.New(cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		return fmt.Errorf("configure migrations: %w", err)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		return err
	}
	return runner.Ensure(ctx)
}

// New wires every component on top of the configured store.
func New(ctx context.Context, cfg config.APIConfig, log *slog.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*App, error) {
	store, closeStore, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	app := &App{Store: store, log: log, cfg: cfg, closers: []func() error{closeStore}}
	if err := app.wire(reg, gatherer); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(reg prometheus.Registerer, gatherer prometheus.Gatherer) error {
	cfg, log := a.cfg, a.log

	orgCache, err := cache.New[opt.Option[*domain.Organization]](cfg.CacheMaxEntries, cfg.OrgCacheTTL, cache.ExpireAfterWrite)
	if err != nil {
		return err
	}
	a.onClose(orgCache.Close)
	ruleCache, err := rules.NewRuleSetCache(rules.JQCompiler{}, cfg.CacheMaxEntries, cfg.RuleCacheTTL)
	if err != nil {
		return err
	}
	a.onClose(ruleCache.Close)
	mappers, err := ingest.NewMappers(rules.JQCompiler{}, cfg.CacheMaxEntries, cfg.RuleCacheTTL, log)
	if err != nil {
		return err
	}
	a.onClose(mappers.Close)

	limiter := a.limiter()
	a.onClose(limiter.Close)

	publishMetrics := publish.NewMetrics(reg)
	var downstream publish.Publisher = publish.NewLogPublisher(log)
	if len(cfg.KafkaBrokers) > 0 {
		downstream = publish.NewKafkaPublisher(publish.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, log, publishMetrics)
		log.Info("publishing to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	sink := publish.NewQuotaPublisher(downstream, limiter, cfg.PublishRateLimit, cfg.PublishRateWindow, publishMetrics)
	a.closers = append(a.closers, sink.Close)

	hub := ws.NewHub()
	a.onClose(hub.Close)

	orgs := organization.New(a.Store, orgCache, log, organization.Config{
		DefaultAwaitTimeoutMs: cfg.DefaultAwaitTimeoutMs,
		Purgers:               []organization.Purger{ruleCache},
	})
	healthSvc := health.New(a.Store, log, health.Config{Shards: cfg.HealthIndexShards, TTL: cfg.HealthTTL})
	engine := rules.NewEngine(ruleCache, log, rules.NewMetrics(reg))
	ingestSvc := ingest.New(orgs, healthSvc, engine, sink, log, ingest.Config{Mappers: mappers, Notifier: hub})

	a.Router = httpx.NewRouter(log, httpx.Dependencies{
		Organizations:   orgs,
		Health:          healthSvc,
		Ingest:          ingestSvc,
		Hub:             hub,
		Limiter:         limiter,
		Registerer:      reg,
		Gatherer:        gatherer,
		OperatorToken:   cfg.OperatorToken,
		AdminRateLimit:  cfg.AdminRateLimit,
		AdminRateWindow: cfg.AdminRateWindow,
		StoreHealth:     a.Store.Ping,
	})
	return nil
}

// limiter prefers redis so quotas hold across replicas, falling back to memory.
func (a *App) limiter() ratelimit.Limiter {
	if addr := strings.TrimSpace(a.cfg.RateLimitRedisAddr); addr != "" {
		limiter, err := ratelimit.NewRedis(addr, a.cfg.RateLimitRedisPass, a.cfg.RateLimitRedisDB, a.log)
		if err == nil {
			return limiter
		}
		a.log.Warn("redis rate limiter unavailable", "error", err)
	}
	return ratelimit.NewMemory()
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, func() error { fn(); return nil })
}

// RunMaintenance deletes expired node health rows on backends that do not
// expire them natively. It returns when ctx is done.
func (a *App) RunMaintenance(ctx context.Context) {
	purger, ok := a.Store.(expirer)
	if !ok || a.cfg.HealthPurgeEvery <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.HealthPurgeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purger.PurgeExpiredNodeHealth(ctx, time.Now())
			if err != nil {
				a.log.Warn("purge expired node health failed", "error", err)
				continue
			}
			if n > 0 {
				a.log.Info("purged expired node health", "rows", n)
			}
		}
	}
}

// Close releases everything in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
