package main

import (
	"context"
	"log/slog"

	"github.com/miradorstack/mirador-changepoint/internal/cache"
	"github.com/miradorstack/mirador-changepoint/internal/config"
	"github.com/miradorstack/mirador-changepoint/internal/engine"
	"github.com/miradorstack/mirador-changepoint/internal/repo"
	"github.com/miradorstack/mirador-changepoint/internal/services"
)

// buildService wires the cache, the run store and the engine into a DetectionService.
// The returned cleanup releases every connection that was opened.
func buildService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services.DetectionService, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close dependency", slog.Any("error", err))
			}
		}
	}

	cacheProvider := newCacheProvider(cfg.Cache, logger)
	closers = append(closers, cacheProvider.Close)

	var store services.RunStore
	if cfg.Store.Enabled {
		db, err := repo.Connect(ctx, cfg.Store.DSN, repo.PoolConfig{
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			ConnectTimeout:  cfg.Store.ConnectTimeout,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		runStore := repo.NewPostgresRunStore(db, cfg.Store.QueryTimeout)
		closers = append(closers, runStore.Close)
		if cfg.Store.AutoMigrate {
			if err := runStore.EnsureSchema(ctx); err != nil {
				cleanup()
				return nil, nil, err
			}
		}
		store = runStore
		logger.Info("run store ready")
	}

	detector := engine.NewDetector(logger, cfg.Limits.MaxParallelChains)
	service := services.NewDetectionService(logger, detector, cacheProvider, store, services.Options{
		Defaults: cfg.Sampler,
		Limits:   cfg.Limits,
		CacheTTL: cfg.Cache.ResultTTL,

		OutlierThreshold: cfg.Preprocess.OutlierThreshold,
	})
	return service, cleanup, nil
}

// newCacheProvider falls back to the no-op provider when the configured backend is
// unreachable so detection keeps working without a cache.
func newCacheProvider(cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled {
		return cache.NoopProvider{}
	}
	switch cfg.Backend {
	case "memory":
		return cache.NewMemoryProvider(cfg.MemoryEntries)
	default:
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			MaxRetries:   cfg.MaxRetries,
			TLS:          cfg.TLS,
			Prefix:       cfg.Prefix,
		})
		if err != nil {
			logger.Warn("redis cache unavailable", slog.Any("error", err))
			return cache.NoopProvider{}
		}
		return provider
	}
}
