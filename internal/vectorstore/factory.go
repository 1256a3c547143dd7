package vectorstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/timmy/kbpipe/internal/config"
	"github.com/timmy/kbpipe/internal/logger"
)

// NewBackendFromConfig picks the vector engine in fixed priority:
// pgvector when a DSN is set, qdrant when a host is set, memory otherwise.
func NewBackendFromConfig(ctx context.Context, cfg *config.VectorConfig) (Backend, error) {
	switch {
	case cfg.PgDSN != "":
		return NewPgVectorBackend(ctx, cfg.PgDSN, cfg.PgTable, cfg.Dimensions)
	case cfg.Qdrant.Host != "":
		backend, err := NewQdrantBackend(&QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: cfg.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		if err := backend.EnsureCollection(ctx); err != nil {
			backend.Close()
			return nil, fmt.Errorf("failed to ensure qdrant collection: %w", err)
		}
		return backend, nil
	default:
		return NewMemoryBackend(), nil
	}
}

// NewCountCacheFromConfig returns a Redis cache when an address is set,
// otherwise a process-local one.
func NewCountCacheFromConfig(ctx context.Context, cfg *config.RedisConfig) (CountCache, error) {
	if cfg.Addr == "" {
		return NewMemoryCountCache(), nil
	}
	return NewRedisCountCache(ctx, &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
}

// NewFromConfig builds the Store once at startup; callers inject the result.
func NewFromConfig(ctx context.Context, vectorCfg *config.VectorConfig, redisCfg *config.RedisConfig) (*Store, error) {
	backend, err := NewBackendFromConfig(ctx, vectorCfg)
	if err != nil {
		return nil, err
	}
	cache, err := NewCountCacheFromConfig(ctx, redisCfg)
	if err != nil {
		backend.Close()
		return nil, err
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"backend":     backend.Name(),
		"redis_cache": redisCfg.Addr != "",
	}).Info("Vector store initialized")

	return New(backend,
		WithCountCache(cache, redisCfg.CountTTL),
		WithDebounceWindow(redisCfg.Debounce),
	), nil
}
