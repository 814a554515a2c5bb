package cmd

import (
	"context"

	"dndj/cache"
	"dndj/config"
	"dndj/logger"
	"dndj/storage"

	"github.com/go-redis/redis/v8"
)

// cacheEnv is a content cache together with the optional shared tiers it
// was built with.
type cacheEnv struct {
	cache  *cache.ContentCache
	mirror *cache.RedisMirror
	redis  *redis.Client
}

// openCache builds the content cache. Remote fetches go through yt-dlp,
// behind the object store when MinIO is enabled and fetch is set; cache
// membership is mirrored to Redis when enabled.
func openCache(ctx context.Context, cfg *config.Config, fetch bool) (*cacheEnv, error) {
	env := &cacheEnv{}

	var fetcher cache.Fetcher = cache.NewYTDLPFetcher(cfg.YTDLPPath, cfg.FFmpegPath)
	if fetch && cfg.MinioEnabled {
		store, err := storage.NewMinio(ctx, cfg)
		if err != nil {
			return nil, err
		}
		fetcher = storage.NewMinioMirror(store, fetcher)
	}

	var opts []cache.Option
	if cfg.RedisEnabled {
		client, err := cache.ConnectRedis(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("redis connected", logger.String("host", cfg.RedisHost), logger.String("port", cfg.RedisPort))
		env.redis = client
		env.mirror = cache.NewRedisMirror(client)
		opts = append(opts, cache.WithListener(env.mirror))
	}

	c, err := cache.NewContentCache(cfg.DownloadDir, fetcher, opts...)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.cache = c

	if env.mirror != nil {
		if err := env.mirror.Sync(ctx, c.IDs()); err != nil {
			logger.Warn("initial redis sync failed", logger.ErrorField(err))
		}
	}
	return env, nil
}

func (e *cacheEnv) Close() {
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			logger.Warn("failed to close redis", logger.ErrorField(err))
		}
	}
}
