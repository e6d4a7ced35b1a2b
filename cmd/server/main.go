// SmartRecall - semantic-cache-augmented assistant server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/smartrecall/internal/agent"
	"github.com/ashureev/smartrecall/internal/api"
	"github.com/ashureev/smartrecall/internal/app"
	"github.com/ashureev/smartrecall/internal/config"
	"github.com/ashureev/smartrecall/internal/health"
	"github.com/ashureev/smartrecall/internal/identity"
	"github.com/ashureev/smartrecall/internal/middleware"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, level)
	stop()
	if err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

// run serves until ctx is canceled. Resources acquired here are released
// before it returns, including on startup failures.
func run(ctx context.Context, level *slog.LevelVar) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slog.Warn("Unknown LOG_LEVEL, using info", "level", cfg.LogLevel)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"container", config.IsContainer(),
		"llm_provider", cfg.LLM.Provider,
		"cache_backend", cfg.Cache.Backend,
		"embedding_provider", cfg.Embedding.Provider,
	)

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{Telemetry: true, ConversationLog: true})
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if closeErr := a.Close(shutdownCtx); closeErr != nil {
			slog.Error("Failed to release resources", "error", closeErr)
		}
	}()
	slog.Info("Database connected", "path", cfg.DBPath)

	var grpcLis net.Listener
	if cfg.GRPCHealthAddr != "" {
		if grpcLis, err = net.Listen("tcp", cfg.GRPCHealthAddr); err != nil {
			return fmt.Errorf("listen for gRPC health on %s: %w", cfg.GRPCHealthAddr, err)
		}
	}

	origins := []string{"*"}
	if cfg.FrontendURL != "" {
		origins = strings.Split(cfg.FrontendURL, ",")
	}

	agentHandler := agent.NewHandler(agent.HandlerDeps{
		Service:  a.Service,
		Cart:     a.Cart,
		Products: a.Products,
		Catalog:  a.Store,
	}, agent.HandlerConfig{
		MaxRequestBodySize: cfg.HTTP.MaxRequestBodyBytes,
		RateLimitRequests:  cfg.HTTP.RateLimitRequests,
		RateLimitWindow:    cfg.HTTP.RateLimitWindow,
		AllowedOrigins:     wsOriginPatterns(origins),
	})
	defer agentHandler.Close()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(origins))

	// Public routes.
	api.NewHandler(a.Health).RegisterRoutes(r)
	if cfg.Telemetry.MetricsExporter == "prometheus" {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Session-scoped routes, optionally behind bearer auth.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		r.Use(middleware.JWTAuth(middleware.JWTConfig{
			Secret:   []byte(cfg.HTTP.JWTSecret),
			Issuer:   cfg.HTTP.JWTIssuer,
			Audience: cfg.HTTP.JWTAudience,
		}))
		agentHandler.RegisterRoutes(r)
	})

	// Note: websocket chat keeps connections open, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	var workers sync.WaitGroup

	workers.Add(1)
	go func() {
		defer workers.Done()
		a.Sweeper.Run(ctx)
	}()

	if grpcLis != nil {
		grpcHealth := health.NewGRPCServer(a.Health, 10*time.Second)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := grpcHealth.Serve(ctx, grpcLis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	workers.Wait()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
	}
	slog.Info("Server stopped successfully")
	return nil
}

// wsOriginPatterns converts CORS origins into websocket host patterns.
func wsOriginPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		if o != "" {
			out = append(out, strings.TrimRight(o, "/"))
		}
	}
	return out
}
