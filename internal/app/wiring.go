package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"registry-service/internal/config"
	"registry-service/internal/core"
	"registry-service/internal/handler"
	"registry-service/internal/middleware"
	"registry-service/internal/platform/kafka"
	"registry-service/internal/platform/memory"
	"registry-service/internal/platform/metrics"
	"registry-service/internal/platform/postgres"
	"registry-service/internal/platform/redis"
	"registry-service/internal/registry"
	"registry-service/internal/service"
)

// components holds everything serve runs, built from one configuration.
type components struct {
	store    core.CacheStore
	producer core.EventProducer
	service  *service.CompanyService
	sweeper  *service.Sweeper
	router   http.Handler
	closers  []func() error
}

// Close releases resources in reverse order of acquisition.
func (c *components) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}

func buildComponents(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	c.store = store
	c.closers = append(c.closers, closeStore)

	providers, err := providerConfigs(cfg.Providers)
	if err != nil {
		return nil, err
	}
	factory, err := registry.NewFactory(providers)
	if err != nil {
		return nil, fmt.Errorf("failed to configure registry providers: %w", err)
	}

	if cfg.Kafka.Enabled {
		log.Info("publishing company events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
		c.producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	} else {
		c.producer = kafka.NoOpProducer{}
	}
	c.closers = append(c.closers, c.producer.Close)

	var (
		m           *metrics.Metrics
		metricsHTTP http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		metricsHTTP = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	c.service = service.NewCompanyService(store, factory, cfg.Cache.TTL(),
		service.WithEventProducer(c.producer),
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithTracer(otel.Tracer(service.TracerName)),
		service.WithNegativeTTL(cfg.Cache.NegativeTTL),
	)
	c.sweeper = service.NewSweeper(store, cfg.Cache.Retention, cfg.Cache.SweepInterval, log, m)

	routerCfg := handler.RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		Metrics:        metricsHTTP,
		RequestLogger:  middleware.RequestLogger(log),
	}
	if cfg.Auth.Enabled {
		routerCfg.RefreshAuth = middleware.JWTAuth(middleware.AuthConfig{
			Secret:   cfg.Auth.Secret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		})
	}
	c.router = handler.NewRouter(
		handler.NewHandler(c.service, log),
		handler.NewHealthHandler(map[string]handler.Pinger{"store": store}),
		routerCfg,
	)

	return c, nil
}

// openStore connects the configured store driver.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (core.CacheStore, func() error, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if cfg.Database.MigrateOnStart {
			log.Info("applying database migrations")
			if err := postgres.MigrateUp(cfg.Database.URL); err != nil {
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		db, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return postgres.NewStore(db), db.Close, nil

	case config.DriverRedis:
		client, err := redis.New(ctx, redis.Config{URL: cfg.Redis.URL, PoolSize: cfg.Redis.PoolSize})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redis.NewStore(client.Client), client.Close, nil

	case config.DriverMemory:
		log.Warn("using the in-memory store, cached companies are lost on restart")
		return memory.NewStore(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// providerConfigs keys the provider sections by country.
func providerConfigs(in map[string]config.ProviderConfig) (map[core.CountryCode]registry.ProviderConfig, error) {
	out := make(map[core.CountryCode]registry.ProviderConfig, len(in))
	for token, p := range in {
		country, err := core.ParseCountryCode(token)
		if err != nil {
			return nil, fmt.Errorf("providers.%s: %w", token, err)
		}
		out[country] = registry.ProviderConfig{
			Provider:    p.Provider,
			BaseURL:     p.BaseURL,
			Timeout:     p.Timeout,
			APIKey:      p.APIKey,
			Environment: p.Environment,
		}
	}
	return out, nil
}
