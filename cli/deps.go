package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/animagen/engine/executor"
	"github.com/compozy/animagen/engine/infra/monitoring"
	"github.com/compozy/animagen/engine/infra/objectstore"
	"github.com/compozy/animagen/engine/infra/postgres"
	"github.com/compozy/animagen/engine/infra/redis"
	"github.com/compozy/animagen/engine/llm"
	"github.com/compozy/animagen/engine/pipeline"
	"github.com/compozy/animagen/engine/reference"
	"github.com/compozy/animagen/engine/retry"
	"github.com/compozy/animagen/pkg/config"
	"github.com/compozy/animagen/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// app holds the engine and every resource opened to build it.
type app struct {
	engine     *executor.Engine
	memory     *executor.MemorySink
	monitoring *monitoring.Service
	checks     map[string]healthCheck
	cleanups   []func(ctx context.Context) error
}

// healthCheck reports whether one external dependency is reachable.
type healthCheck func(ctx context.Context) error

func (a *app) addCheck(name string, check healthCheck) {
	if a.checks == nil {
		a.checks = make(map[string]healthCheck)
	}
	a.checks[name] = check
}

func (a *app) addCleanup(fn func(ctx context.Context) error) {
	a.cleanups = append(a.cleanups, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		errs = append(errs, a.cleanups[i](ctx))
	}
	return errors.Join(errs...)
}

// Extra hooks let tests replace external providers.
type appOption func(*appOptions)

type appOptions struct {
	generators map[string]llm.ImageGenerator
	fetcher    reference.Fetcher
}

func withGenerator(provider string, g llm.ImageGenerator) appOption {
	return func(o *appOptions) {
		if o.generators == nil {
			o.generators = make(map[string]llm.ImageGenerator)
		}
		o.generators[provider] = g
	}
}

func withFetcher(f reference.Fetcher) appOption {
	return func(o *appOptions) {
		o.fetcher = f
	}
}

func retryOptions(cfg *config.Config) retry.Options {
	return retry.Options{
		MaxRetries: cfg.Pipeline.MaxRetries,
		BaseDelay:  cfg.Pipeline.BaseDelay,
		MaxDelay:   cfg.Pipeline.MaxDelay,
		Jitter:     cfg.Pipeline.Jitter,
	}
}

// buildApp wires the engine from the configuration carried by ctx.
func buildApp(ctx context.Context, opts ...appOption) (_ *app, err error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}
	cfg := config.FromContext(ctx)
	a := &app{memory: executor.NewMemorySink()}
	defer func() {
		if err != nil {
			_ = a.Close(ctx)
		}
	}()

	a.monitoring = monitoring.NewMonitoringServiceWithFallback(ctx, &monitoring.Config{
		Enabled: cfg.Monitoring.Enabled,
		Path:    cfg.Monitoring.Path,
	})
	a.addCleanup(a.monitoring.Shutdown)
	a.monitoring.SetAsGlobal()
	metrics := a.monitoring.Pipeline()

	fetcher, err := buildFetcher(ctx, cfg, o.fetcher, a)
	if err != nil {
		return nil, err
	}
	policy := retryOptions(cfg)
	resolver := reference.NewResolver(fetcher, reference.WithRetry(policy), reference.WithObserver(metrics))
	models := buildModels(cfg, fetcher, o.generators)

	sink, err := buildSinks(ctx, cfg, a)
	if err != nil {
		return nil, err
	}
	engineOpts := []executor.Option{
		executor.WithSink(sink),
		executor.WithObserver(metrics),
		executor.WithRetry(policy),
		executor.WithAITimeout(cfg.Pipeline.AITimeout),
	}
	if cfg.OpenAI.DefaultModel != "" {
		engineOpts = append(engineOpts, executor.WithDefaultModel(cfg.OpenAI.DefaultModel))
	}
	if cfg.Storage.Enabled {
		store, err := buildObjectStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, executor.WithDeliverer(store))
	}
	a.engine = executor.New(models, resolver, engineOpts...)
	return a, nil
}

func buildFetcher(ctx context.Context, cfg *config.Config, override reference.Fetcher, a *app) (reference.Fetcher, error) {
	if override != nil {
		return override, nil
	}
	var fetcher reference.Fetcher = reference.NewHTTPFetcher(reference.HTTPOptions{
		Timeout:      cfg.Pipeline.FetchTimeout,
		MaxBytes:     cfg.Fetch.MaxDownloadSizeBytes,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		UserAgent:    cfg.Fetch.UserAgent,
	})
	if cfg.Fetch.CacheMaxBytes <= 0 {
		return fetcher, nil
	}
	cached, err := reference.NewCachedFetcher(fetcher, cfg.Fetch.CacheMaxBytes, cfg.Fetch.CacheTTL)
	if err != nil {
		return nil, err
	}
	a.addCleanup(func(context.Context) error {
		cached.Close()
		return nil
	})
	logger.FromContext(ctx).Debug("Reference cache enabled", "max_bytes", cfg.Fetch.CacheMaxBytes, "ttl", cfg.Fetch.CacheTTL)
	return cached, nil
}

func buildModels(cfg *config.Config, fetcher reference.Fetcher, overrides map[string]llm.ImageGenerator) *llm.Registry {
	models := llm.NewRegistry(pipeline.DefaultCatalog())
	var openai llm.ImageGenerator = llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey.Value(),
		BaseURL: cfg.OpenAI.BaseURL,
		OrgID:   cfg.OpenAI.OrgID,
	}, fetcher)
	if g, ok := overrides[llm.ProviderOpenAI]; ok {
		openai = g
	}
	models.Register(llm.ProviderOpenAI, llm.NewLimiter(openai, llm.ProviderOpenAI, llm.LimiterConfig{
		Concurrency:       cfg.OpenAI.MaxConcurrency,
		RequestsPerMinute: cfg.OpenAI.RequestsPerMinute,
	}))
	for provider, g := range overrides {
		if provider != llm.ProviderOpenAI {
			models.Register(provider, g)
		}
	}
	return models
}

func buildSinks(ctx context.Context, cfg *config.Config, a *app) (executor.StatusSink, error) {
	sinks := executor.MultiSink{a.memory}
	if cfg.Database.Enabled {
		dsn := cfg.Database.ConnString.Value()
		if cfg.Database.AutoMigrate {
			if err := postgres.ApplyMigrationsWithLock(ctx, dsn); err != nil {
				return nil, fmt.Errorf("failed to apply migrations: %w", err)
			}
		}
		store, err := postgres.NewStore(ctx, &postgres.Config{ConnString: dsn})
		if err != nil {
			return nil, err
		}
		a.addCleanup(func(ctx context.Context) error {
			store.Close(ctx)
			return nil
		})
		a.addCheck("postgres", store.HealthCheck)
		sinks = append(sinks, postgres.NewStatusRepo(store.Pool()))
	}
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, &redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		a.addCleanup(func(context.Context) error {
			return client.Close()
		})
		a.addCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		sinks = append(sinks, redis.NewStatusPublisher(client,
			redis.WithChannel(cfg.Redis.Channel),
			redis.WithKeyPrefix(cfg.Redis.KeyPrefix),
			redis.WithTTL(cfg.Redis.StatusTTL),
		))
	}
	return sinks, nil
}

func buildObjectStore(ctx context.Context, cfg *config.Config) (*objectstore.Store, error) {
	sc := objectstore.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey.Value(),
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		UseSSL:    cfg.Storage.UseSSL,
		URLExpiry: cfg.Storage.URLExpiry,
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	store, err := objectstore.NewStore(sc)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
