// Package app wires the configured store, models, graph and service together.
package app

import (
	"context"
	"fmt"

	"eino_agent_router/internal/config"
	"eino_agent_router/internal/conversation"
	"eino_agent_router/internal/core"
	"eino_agent_router/internal/llm"
	"eino_agent_router/internal/metrics"
	"eino_agent_router/internal/nodes"
	"eino_agent_router/internal/services"
	"eino_agent_router/internal/storage"
	"eino_agent_router/internal/workflows"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// App is a fully wired router
type App struct {
	Config   *config.Config
	Service  *conversation.Service
	Store    storage.CheckpointStore
	Registry *prometheus.Registry
	logger   zerolog.Logger
}

// Option overrides a dependency built from the configuration
type Option func(*options)

type options struct {
	models      *llm.Models
	counter     llm.TokenCounter
	store       storage.CheckpointStore
	retriever   services.Retriever
	transcriber services.Transcriber
}

// WithModels uses models instead of building providers from config
func WithModels(m *llm.Models) Option {
	return func(o *options) { o.models = m }
}

// WithTokenCounter replaces the tiktoken counter
func WithTokenCounter(c llm.TokenCounter) Option {
	return func(o *options) { o.counter = c }
}

// WithStore uses store instead of the configured backend
func WithStore(s storage.CheckpointStore) Option {
	return func(o *options) { o.store = s }
}

// WithRetriever replaces the configured retriever
func WithRetriever(r services.Retriever) Option {
	return func(o *options) { o.retriever = r }
}

// WithTranscriber replaces the configured transcriber
func WithTranscriber(t services.Transcriber) Option {
	return func(o *options) { o.transcriber = t }
}

// New builds the router described by cfg
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	reg := metrics.NewRegistry()
	recorder := metrics.New(reg)

	store := o.store
	if store == nil {
		var err error
		store, err = NewStore(ctx, cfg.Checkpoint, logger)
		if err != nil {
			return nil, err
		}
	}

	a := &App{Config: cfg, Store: store, Registry: reg, logger: logger}
	if err := a.wire(ctx, o, recorder); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, o options, recorder *metrics.Recorder) error {
	cfg := a.Config

	models := o.models
	if models == nil {
		var err error
		models, err = llm.NewModels(ctx, providerConfig(cfg.LLM, cfg.LLM.FastModel), providerConfig(cfg.LLM, cfg.LLM.MainModel))
		if err != nil {
			return fmt.Errorf("error creating chat models: %w", err)
		}
	}

	counter := o.counter
	if counter == nil {
		counter = llm.NewTiktokenCounter(cfg.Budget.Encoding)
	}

	retriever := o.retriever
	if retriever == nil {
		var err error
		retriever, err = newRetriever(cfg.Retrieval)
		if err != nil {
			return err
		}
	}

	transcriber := o.transcriber
	if transcriber == nil {
		transcriber = services.UnavailableTranscriber{}
		if cfg.Transcription.SegmentFiles {
			transcriber = services.SegmentFileTranscriber{}
		}
	}

	set, err := nodes.NewSet(ctx, nodes.Deps{
		Models:      models,
		Counter:     counter,
		Retriever:   retriever,
		Transcriber: transcriber,
		Budget: nodes.BudgetConfig{
			MaxTokens:        cfg.Budget.MaxTokens,
			KeepRatio:        cfg.Budget.KeepRatio,
			SummaryMaxTokens: cfg.Budget.SummaryMaxTokens,
		},
		Metrics: recorder,
		Logger:  a.logger,
	})
	if err != nil {
		return fmt.Errorf("error creating nodes: %w", err)
	}

	graph, err := workflows.NewRouterGraph(set)
	if err != nil {
		return err
	}

	engine := core.NewEngine(a.Store,
		core.WithLogger(a.logger),
		core.WithMetrics(recorder),
		core.WithRecursionLimit(cfg.Engine.RecursionLimit),
	)

	svcOpts := []conversation.Option{conversation.WithLogger(a.logger)}
	if cfg.Checkpoint.DistributedLock {
		rs, ok := a.Store.(*storage.RedisStore)
		if !ok {
			return fmt.Errorf("distributed lock requires the redis checkpoint store")
		}
		svcOpts = append(svcOpts, conversation.WithLocker(
			storage.NewRedisLocker(rs.Client(), cfg.Checkpoint.Prefix),
			cfg.Checkpoint.LockTTL,
		))
	}

	a.Service, err = conversation.NewService(engine, graph, svcOpts...)
	if err != nil {
		return err
	}

	a.logger.Info().
		Str("provider", cfg.LLM.Provider).
		Str("fast_model", models.FastName).
		Str("main_model", models.MainName).
		Str("checkpoint_backend", cfg.Checkpoint.Backend).
		Int("max_tokens", cfg.Budget.MaxTokens).
		Msg("Router initialized")
	return nil
}

// ServeMetrics exposes the registry until ctx is done
func (a *App) ServeMetrics(ctx context.Context) error {
	a.logger.Info().Str("addr", a.Config.Metrics.Addr).Msg("Serving metrics")
	return metrics.Serve(ctx, a.Config.Metrics.Addr, a.Registry)
}

// Close releases the checkpoint store
func (a *App) Close() error {
	return a.Store.Close()
}

// NewStore opens the configured checkpoint backend
func NewStore(ctx context.Context, cfg config.CheckpointConfig, logger zerolog.Logger) (storage.CheckpointStore, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		s, err := storage.NewRedisStore(ctx, cfg.RedisURL,
			storage.WithRedisTTL(cfg.TTL),
			storage.WithRedisPrefix(cfg.Prefix),
			storage.WithRedisHistoryLimit(cfg.HistoryLimit),
		)
		if err != nil {
			return nil, fmt.Errorf("error opening redis checkpoint store: %w", err)
		}
		return s, nil
	case config.BackendSQLite:
		s, err := storage.NewSQLiteStore(cfg.SQLitePath,
			storage.WithSQLiteHistoryLimit(cfg.HistoryLimit),
			storage.WithSQLiteLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("error opening sqlite checkpoint store: %w", err)
		}
		return s, nil
	case config.BackendMemory, "":
		return storage.NewMemoryStore(
			storage.WithMemoryTTL(cfg.TTL),
			storage.WithMemoryHistoryLimit(cfg.HistoryLimit),
		), nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend: %s", cfg.Backend)
	}
}

func newRetriever(cfg config.RetrievalConfig) (services.Retriever, error) {
	if cfg.DocumentsPath == "" {
		return services.NoopRetriever{}, nil
	}
	docs, err := services.LoadDocuments(cfg.DocumentsPath)
	if err != nil {
		return nil, err
	}
	return services.NewKeywordRetriever(docs, cfg.Limit), nil
}

func providerConfig(cfg config.LLMConfig, model string) llm.ProviderConfig {
	return llm.ProviderConfig{
		Provider:    cfg.Provider,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	}
}
