package server

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/cache"
	rediscache "github.com/srus/yith-library-server/cache/redis"
	"github.com/srus/yith-library-server/config"
	"github.com/srus/yith-library-server/memory"
	"github.com/srus/yith-library-server/mongodb"
	"github.com/srus/yith-library-server/postgres"
	"github.com/srus/yith-library-server/services"
)

// OpenRepositories connects the configured storage backend. The returned
// close function releases it.
func OpenRepositories(ctx context.Context, cfg *config.ServerConfig) (services.RepositoryProvider, func(context.Context), error) {
	switch cfg.StorageBackend {
	case config.BackendMongoDB:
		if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
			return nil, nil, err
		}
		mc, err := mongodb.GetClient()
		if err != nil {
			return nil, nil, err
		}
		db, err := mongodb.GetDB()
		if err != nil {
			return nil, nil, err
		}
		p, err := mongodb.NewMongoRepositoryProvider(ctx, mc, db)
		if err != nil {
			mongodb.CloseMongoDB(ctx)
			return nil, nil, err
		}
		return p, mongodb.CloseMongoDB, nil

	case config.BackendPostgres:
		s, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return services.NewStoreProvider(s), func(context.Context) { s.Close() }, nil

	case config.BackendMemory:
		log.Warn().Msg("Using the in-memory store, state is lost on restart")
		return services.NewStoreProvider(memory.NewStore()), func(context.Context) {}, nil
	}

	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// OpenTokenCache builds the configured bearer token cache. A nil store
// means no caching.
func OpenTokenCache(ctx context.Context, cfg *config.ServerConfig) (cache.TokenStore, func(), error) {
	maxTTL := cfg.AccessTokenTTL()

	switch cfg.TokenCache {
	case config.CacheNone:
		return nil, func() {}, nil

	case config.CacheMemory:
		s := cache.NewMemoryTokenStore(maxTTL)
		return s, func() { _ = s.Close() }, nil

	case config.CacheRedis:
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return rediscache.NewTokenStore(rc, cfg.RedisKeyPrefix, maxTTL), func() { _ = rc.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown token cache %q", cfg.TokenCache)
}
