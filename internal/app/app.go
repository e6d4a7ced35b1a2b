// Package app wires configuration into the running components shared by
// the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/smartrecall/internal/agent"
	"github.com/ashureev/smartrecall/internal/config"
	"github.com/ashureev/smartrecall/internal/embedding"
	"github.com/ashureev/smartrecall/internal/health"
	"github.com/ashureev/smartrecall/internal/llm"
	"github.com/ashureev/smartrecall/internal/observe"
	"github.com/ashureev/smartrecall/internal/policy"
	"github.com/ashureev/smartrecall/internal/search"
	"github.com/ashureev/smartrecall/internal/semcache"
	"github.com/ashureev/smartrecall/internal/shop"
	"github.com/ashureev/smartrecall/internal/store"
	"github.com/ashureev/smartrecall/internal/sweeper"
)

// ServiceName identifies the process in telemetry.
const ServiceName = "smartrecall"

// Version is set at build time.
var Version = "dev"

// App holds the wired components.
type App struct {
	Config   *config.Config
	Observer *observe.Observer
	Store    *store.SQLiteStore
	Embedder embedding.Embedder
	Cache    semcache.Cache
	Model    llm.Model
	Service  *agent.Service
	Cart     *shop.CartService
	Products *shop.ProductSearch
	Health   *health.Aggregator
	Sweeper  *sweeper.Worker
}

// Options adjust wiring for a particular entry point.
type Options struct {
	// Telemetry enables the configured OpenTelemetry exporters.
	Telemetry bool
	// ConversationLog enables the NDJSON conversation log when configured.
	ConversationLog bool
}

// New builds every component from cfg. Call Close to release them.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg, Observer: observe.Noop()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	if opts.Telemetry {
		obs, err := observe.New(ctx, observe.Config{
			ServiceName:     ServiceName,
			Version:         Version,
			TracesExporter:  cfg.Telemetry.TracesExporter,
			MetricsExporter: cfg.Telemetry.MetricsExporter,
			SampleRatio:     cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		a.Observer = obs
	}
	metrics, err := observe.NewMetrics(a.Observer.Meter())
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	a.Store, err = store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := a.Store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database health check: %w", err)
	}
	if cfg.CatalogSeedFile != "" {
		n, err := store.SeedCatalogFile(ctx, a.Store, cfg.CatalogSeedFile)
		if err != nil {
			return nil, err
		}
		slog.Info("Product catalog seeded", "path", cfg.CatalogSeedFile, "products", n)
	}

	a.Embedder, err = embedding.New(ctx, embedding.Options{
		Provider:     cfg.Embedding.Provider,
		Model:        cfg.Embedding.Model,
		OllamaURL:    cfg.Embedding.OllamaURL,
		GoogleAPIKey: cfg.LLM.GoogleAPIKey,
		CacheSize:    cfg.Embedding.CacheSize,
		Timeout:      cfg.Cache.LookupTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	if a.Cache, err = newCache(cfg, a.Store, a.Embedder); err != nil {
		return nil, err
	}

	a.Model, err = llm.New(ctx, llm.Options{
		Provider:     cfg.LLM.Provider,
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		GoogleAPIKey: cfg.LLM.GoogleAPIKey,
		Model:        cfg.LLM.Model,
		Timeout:      cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}

	generalTable := policy.General()
	if cfg.Cache.PolicyFile != "" {
		if generalTable, err = policy.LoadFile(cfg.Cache.PolicyFile); err != nil {
			return nil, err
		}
		slog.Info("Loaded cache policy table", "path", cfg.Cache.PolicyFile, "topics", len(generalTable.Policies()))
	}

	a.Cart = shop.NewCartService(a.Store)
	a.Products = shop.NewProductSearch(a.Store, a.Embedder)
	deps := agent.ToolDeps{
		Model: a.Model,
		Searcher: search.NewTavily(search.Config{
			BaseURL:    cfg.Search.BaseURL,
			APIKey:     cfg.Search.APIKey,
			MaxResults: cfg.Search.MaxResults,
			Timeout:    cfg.Agent.ToolTimeout,
		}),
		Products:    a.Products,
		Recipes:     shop.NewRecipeShopper(shop.NewRecipeExtractor(a.Model, cfg.LLM.ExtractionModel, cfg.Agent.ToolTimeout), a.Products),
		Cart:        a.Cart,
		ToolTimeout: cfg.Agent.ToolTimeout,
	}
	general, err := agent.NewGeneralProfile(deps, generalTable)
	if err != nil {
		return nil, err
	}
	grocery, err := agent.NewGroceryProfile(deps, nil)
	if err != nil {
		return nil, err
	}

	convLog := agent.NoopConversationLogger()
	if opts.ConversationLog {
		convLog, err = agent.NewConversationLogger(agent.ConversationLogConfig{
			Enabled:       cfg.ConversationLog.Enabled,
			Dir:           cfg.ConversationLog.Dir,
			GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
			GlobalPath:    cfg.ConversationLog.GlobalPath,
			QueueSize:     cfg.ConversationLog.QueueSize,
		}, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("init conversation logger: %w", err)
		}
	}

	a.Service, err = agent.NewService(agent.Deps{
		Store:    a.Store,
		Cache:    a.Cache,
		Profiles: []*agent.Profile{general, grocery},
		Metrics:  metrics,
		Tracer:   a.Observer.Tracer(),
		Log:      convLog,
	}, agent.Options{
		MaxIterations:  cfg.Agent.MaxIterations,
		ModelTimeout:   cfg.LLM.Timeout,
		CacheTimeout:   cfg.Cache.LookupTimeout,
		PersistTimeout: cfg.Agent.PersistTimeout,
	})
	if err != nil {
		_ = convLog.Close()
		return nil, err
	}

	a.Health = newHealth(cfg, a)
	a.Sweeper = sweeper.New(a.Store, a.Cache, sweeper.Config{
		Interval: cfg.SweepInterval,
		IdleTTL:  cfg.SessionIdleTTL,
	})

	ok = true
	return a, nil
}

func newCache(cfg *config.Config, st *store.SQLiteStore, emb embedding.Embedder) (semcache.Cache, error) {
	switch cfg.Cache.Backend {
	case "none":
		slog.Info("Semantic cache disabled")
		return semcache.Disabled{}, nil
	case "langcache":
		slog.Info("Using LangCache semantic cache", "url", cfg.Cache.LangCacheURL)
		return semcache.NewLangCacheClient(cfg.Cache.LangCacheURL, cfg.Cache.LangCacheID, cfg.Cache.LangCacheAPIKey, cfg.Cache.SimilarityThreshold), nil
	default:
		c, err := semcache.NewSQLite(st.DB(), emb, semcache.WithThreshold(cfg.Cache.SimilarityThreshold))
		if err != nil {
			return nil, fmt.Errorf("init semantic cache: %w", err)
		}
		return c, nil
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func newHealth(cfg *config.Config, a *App) *health.Aggregator {
	agg := health.NewAggregator(5 * time.Second)
	agg.Register(health.PingChecker("database", true, a.Store.Ping))
	if p, ok := a.Cache.(pinger); ok {
		// Cache outages degrade readiness, never fail it.
		agg.Register(health.PingChecker("semantic_cache", false, p.Ping))
	}
	if cfg.Embedding.Provider == "ollama" {
		ollama := embedding.NewOllamaClient(cfg.Embedding.OllamaURL, cfg.Embedding.Model)
		agg.Register(health.PingChecker("embeddings", false, ollama.Ping))
	}
	return agg
}

// Close releases every component in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Service != nil {
		if err := a.Service.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close conversation log: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if a.Observer != nil {
		if err := a.Observer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
