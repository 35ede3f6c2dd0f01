package signalstore

import (
	"context"

	"duocall/internal/core/ports"
	"duocall/internal/infrastructure/signalstore/memory"
	redisstore "duocall/internal/infrastructure/signalstore/redis"
	"duocall/pkg/config"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory creates the signaling store with fallback support
type Factory struct {
	useRedis    bool
	redisClient *goredis.Client
	logger      *zap.SugaredLogger
}

// NewFactory creates a new store factory
func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) (*Factory, error) {
	factory := &Factory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	// Try to connect to Redis if enabled
	if cfg.Redis.Enabled {
		client, err := redisstore.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory store",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis signaling store")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory signaling store")
	}

	return factory, nil
}

// CreateSignalingStore creates a signaling store (Redis or memory with fallback)
func (f *Factory) CreateSignalingStore() ports.SignalingStore {
	if f.useRedis && f.redisClient != nil {
		return redisstore.NewStore(f.redisClient, f.logger)
	}
	return memory.NewStore()
}

// Close closes Redis connection if used
func (f *Factory) Close() error {
	if f.redisClient != nil {
		return redisstore.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
