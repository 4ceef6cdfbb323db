package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felipepmaragno/llmbridge/internal/api"
	"github.com/felipepmaragno/llmbridge/internal/cache"
	"github.com/felipepmaragno/llmbridge/internal/config"
	"github.com/felipepmaragno/llmbridge/internal/domain"
	"github.com/felipepmaragno/llmbridge/internal/monitor"
	"github.com/felipepmaragno/llmbridge/internal/provider"
	"github.com/felipepmaragno/llmbridge/internal/provider/ollama"
	"github.com/felipepmaragno/llmbridge/internal/registry"
	"github.com/felipepmaragno/llmbridge/internal/router"
	"github.com/felipepmaragno/llmbridge/internal/telemetry"
)

func main() {
	if err := config.LoadEnvFiles(".env"); err != nil {
		slog.Warn("failed to read .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting llmbridge", "addr", cfg.Addr, "version", api.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.Init(ctx, "llmbridge", api.Version, cfg.OTLPEndpoint)
		if err != nil {
			slog.Warn("failed to init tracing", "error", err)
		} else {
			defer shutdown(context.Background())
			slog.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint)
		}
	}

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		slog.Error("failed to load provider catalog", "error", err)
		os.Exit(1)
	}

	var (
		responseCache cache.Cache
		stats         api.CacheStats
		checkers      []api.HealthChecker
	)
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			slog.Warn("failed to connect to redis for cache, using in-memory", "error", err)
		} else {
			defer redisCache.Close()
			responseCache = redisCache
			checkers = append(checkers, api.NewRedisHealthChecker(redisCache.Client()))
			slog.Info("using redis cache")
		}
	}
	if responseCache == nil {
		memCache := cache.NewInMemoryCache(cfg.CacheMaxSize, cfg.CacheTTL)
		go memCache.RunJanitor(ctx, time.Minute)
		responseCache = memCache
		stats = memCache
		slog.Info("using in-memory cache", "max_size", cfg.CacheMaxSize, "ttl", cfg.CacheTTL)
	}

	mon := monitor.New()
	providers := make(map[string]provider.Provider)

	for _, id := range catalog.IDs() {
		p, err := registry.NewProvider(catalog, id, cfg.ProviderOptions(id))
		if err != nil {
			if domain.CodeOf(err) == domain.CodeAPIKeyMissing {
				slog.Info("skipping provider without api key", "provider", id)
				continue
			}
			slog.Error("failed to create provider", "provider", id, "error", err)
			os.Exit(1)
		}
		if op, ok := p.(*ollama.Provider); ok && id == cfg.DefaultProvider {
			checkers = append(checkers, api.NewModelListChecker(id, op.InstalledModels))
		}
		providers[id] = monitor.NewProvider(cache.NewProvider(p, responseCache, cfg.CacheTTL), mon)
		slog.Info("registered provider", "provider", id, "models", len(p.Models()))
	}

	if len(providers) == 0 {
		slog.Error("no providers configured")
		os.Exit(1)
	}

	handler := api.NewHandler(api.HandlerConfig{
		Router:  router.New(providers, cfg.DefaultProvider),
		Monitor: mon,
		Cache:   stats,
		Health:  api.HealthCheckConfig{Checkers: checkers},
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func loadCatalog(path string) (*registry.Catalog, error) {
	if path == "" {
		return registry.Default()
	}
	slog.Info("loading provider catalog", "path", path)
	return registry.Load(path)
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
