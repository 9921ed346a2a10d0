// Package app assembles the query pipeline and its collaborators from the
// service configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"voicemart/internal/common/camunda"
	"voicemart/internal/common/config"
	"voicemart/internal/common/database"
	apperrors "voicemart/internal/common/errors"
	apphttp "voicemart/internal/common/http"
	"voicemart/internal/common/logger"
	"voicemart/internal/common/observability"
	"voicemart/internal/nlu/extract"
	"voicemart/internal/nlu/normalize"
	"voicemart/internal/nlu/vocab"
	"voicemart/internal/pipeline"
	"voicemart/internal/query"
	"voicemart/internal/ranking"
	"voicemart/internal/sources"
	"voicemart/internal/sources/cache"
	"voicemart/internal/sources/pool"
	parseshoppingquery "voicemart/internal/workers/voice/parse-shopping-query"
	understandutterance "voicemart/internal/workers/voice/understand-utterance"
	"voicemart/pkg/registry"
)

type App struct {
	Config   *config.Config
	Logger   logger.Logger
	Backends *database.Backends
	Pipeline *pipeline.Pipeline
	Pool     *pool.Pool
	Registry *registry.ActivityRegistry

	obs   *observability.Observability
	store cache.Store
}

type Option func(*App)

func WithObservability(o *observability.Observability) Option {
	return func(a *App) {
		a.obs = o
	}
}

// WithBackends replaces the storage clients New would otherwise open.
func WithBackends(b *database.Backends) Option {
	return func(a *App) {
		a.Backends = b
	}
}

// WithCacheStore replaces the cache store chosen by cache.backend.
func WithCacheStore(s cache.Store) Option {
	return func(a *App) {
		a.store = s
	}
}

func New(cfg *config.Config, log logger.Logger, opts ...Option) (*App, error) {
	a := &App{Config: cfg, Logger: log}
	for _, opt := range opts {
		opt(a)
	}

	reg, err := registry.Default()
	if err != nil {
		return nil, err
	}
	a.Registry = reg

	if a.Backends == nil {
		if a.Backends, err = database.Open(cfg); err != nil {
			return nil, fmt.Errorf("open backends: %w", err)
		}
	}

	lex := vocab.NewLexicon()
	deps := sources.Deps{
		HTTP:    apphttp.NewClient(config.GetDuration(cfg.HTTP.Timeout), cfg.HTTP.UserAgents...),
		Lexicon: lex,
	}
	if a.Backends.Inventory != nil {
		deps.DB = a.Backends.Inventory
	}
	if a.Backends.Catalog != nil {
		deps.Elasticsearch = a.Backends.Catalog
	}

	configured, err := sources.Build(cfg.Sources, deps)
	if err != nil {
		a.Backends.Close()
		return nil, err
	}

	store, err := a.cacheStore()
	if err != nil {
		a.Backends.Close()
		return nil, err
	}
	resultCache := cache.New(store,
		cache.WithKeyPrefix(cfg.Cache.KeyPrefix),
		cache.WithTTLs(
			config.GetDuration(cfg.Cache.ScrapeTTL),
			config.GetDuration(cfg.Cache.APITTL),
			config.GetDuration(cfg.Cache.NegativeTTL),
		),
		cache.WithLogger(log),
	)

	a.Pool = pool.New(pool.NewShared(resultCache, configured), configured,
		pool.WithMaxConcurrency(cfg.Pipeline.MaxConcurrency),
		pool.WithLogger(log),
	)

	pipelineOpts := []pipeline.Option{pipeline.WithLogger(log)}
	if a.obs != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithObservability(a.obs))
	}
	a.Pipeline = pipeline.New(pipeline.Components{
		Normalizer: normalize.New(),
		Extractor:  extract.New(extract.WithMinIntentConfidence(cfg.Pipeline.MinIntentConfidence), extract.WithLexicon(lex)),
		Builder:    query.New(query.WithConfidenceFloor(cfg.Pipeline.ConfidenceFloor)),
		Resolver:   a.Pool,
		Ranker:     ranking.NewAggregator(cfg.Ranking, ranking.WithLexicon(lex)),
	}, pipeline.ConfigFrom(cfg.Pipeline), pipelineOpts...)

	log.Info("Pipeline assembled", map[string]interface{}{
		"sources": a.Pool.Size(),
		"cache":   cfg.Cache.Backend,
	})
	return a, nil
}

func (a *App) cacheStore() (cache.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	switch a.Config.Cache.Backend {
	case "redis":
		if a.Backends.Cache == nil {
			return nil, fmt.Errorf("cache backend redis: no redis client")
		}
		return cache.NewRedisStore(a.Backends.Cache), nil
	case "", "memory":
		return cache.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", a.Config.Cache.Backend)
	}
}

// Ready pings every backend the pipeline depends on.
func (a *App) Ready(ctx context.Context) error {
	if err := a.Backends.Ping(ctx); err != nil {
		return apperrors.NewDatabaseConnectionFailedError(err)
	}
	return nil
}

// Registrations returns the enabled job workers. A task type without a
// workers entry is enabled with default limits.
func (a *App) Registrations() ([]camunda.Registration, error) {
	understandValidator, err := a.Registry.InputValidator(understandutterance.TaskType)
	if err != nil {
		return nil, err
	}
	parseValidator, err := a.Registry.InputValidator(parseshoppingquery.TaskType)
	if err != nil {
		return nil, err
	}

	var out []camunda.Registration
	if wc, ok := a.workerConfig(understandutterance.TaskType); ok {
		cfg := understandutterance.LoadConfig()
		cfg.Timeout = a.jobTimeout(understandutterance.TaskType, cfg.Timeout)
		out = append(out, camunda.Registration{
			TaskType:      understandutterance.TaskType,
			Handler:       understandutterance.NewHandler(cfg, a.Pipeline, understandValidator, a.Logger),
			MaxJobsActive: wc.MaxJobsActive,
			Timeout:       cfg.Timeout,
		})
	}
	if wc, ok := a.workerConfig(parseshoppingquery.TaskType); ok {
		cfg := parseshoppingquery.LoadConfig()
		cfg.Timeout = a.jobTimeout(parseshoppingquery.TaskType, cfg.Timeout)
		out = append(out, camunda.Registration{
			TaskType:      parseshoppingquery.TaskType,
			Handler:       parseshoppingquery.NewHandler(cfg, a.Pipeline, parseValidator, a.Logger),
			MaxJobsActive: wc.MaxJobsActive,
			Timeout:       cfg.Timeout,
		})
	}
	return out, nil
}

// jobTimeout prefers an explicit workers entry, then the registry activity,
// then def.
func (a *App) jobTimeout(taskType string, def time.Duration) time.Duration {
	if wc, ok := a.Config.Workers[taskType]; ok && wc.Timeout > 0 {
		return config.GetDuration(wc.Timeout)
	}
	if act, ok := a.Registry.Find(taskType); ok {
		if d, err := act.JobTimeout(); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func (a *App) workerConfig(taskType string) (config.WorkerConfig, bool) {
	return config.GetWorkerConfig(a.Config, taskType), config.IsWorkerEnabled(a.Config, taskType)
}

func (a *App) Close() {
	a.Backends.Close()
}
