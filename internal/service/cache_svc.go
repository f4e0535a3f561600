package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/clipscope/clipscope-go/internal/metrics"
	"github.com/clipscope/clipscope-go/pkg/hash"
)

const (
	ResultPageCacheTTL = 2 * time.Minute
	ProxyImageCacheTTL = 6 * time.Hour
)

// CacheService provides a Redis cache-aside layer for result listings and
// proxied cover images.
type CacheService struct {
	rdb *redis.Client
}

// NewCacheService creates a new CacheService. If redisURL is empty or the
// connection fails, it returns a CacheService with a nil client (cache
// operations become no-ops).
func NewCacheService(redisURL string) *CacheService {
	if redisURL == "" {
		log.Info().Msg("redis: no URL configured, caching disabled")
		return &CacheService{}
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Str("url", redisURL).Msg("redis: invalid URL, caching disabled")
		return &CacheService{}
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis: connection failed, caching disabled")
		return &CacheService{}
	}

	log.Info().Msg("redis: connected, caching enabled")
	return &CacheService{rdb: rdb}
}

// Client returns the underlying Redis client (for health checks). May be nil.
func (c *CacheService) Client() *redis.Client {
	return c.rdb
}

// GetResultPage retrieves a cached result listing. Returns nil if not
// cached or cache is disabled.
func (c *CacheService) GetResultPage(ctx context.Context, key string) ([]byte, error) {
	if c.rdb == nil {
		return nil, nil
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.Inc()
		return nil, nil
	}
	if err == nil {
		metrics.CacheHits.Inc()
	}
	return data, err
}

// SetResultPage stores a result listing in cache.
func (c *CacheService) SetResultPage(ctx context.Context, key string, data interface{}) error {
	if c.rdb == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, ResultPageCacheTTL).Err()
}

// InvalidateResults drops every cached listing page for a project (called
// after a run commits or the user dismisses, saves, or clears results).
func (c *CacheService) InvalidateResults(ctx context.Context, projectID int64) error {
	if c.rdb == nil {
		return nil
	}

	pattern := fmt.Sprintf("svresults:%d:*", projectID)
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// GetImage retrieves a cached proxied image. Returns nil if not cached.
func (c *CacheService) GetImage(ctx context.Context, url string) ([]byte, error) {
	if c.rdb == nil {
		return nil, nil
	}
	data, err := c.rdb.Get(ctx, imageKey(url)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.Inc()
		return nil, nil
	}
	if err == nil {
		metrics.CacheHits.Inc()
	}
	return data, err
}

// SetImage stores a proxied image body in cache.
func (c *CacheService) SetImage(ctx context.Context, url string, body []byte) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Set(ctx, imageKey(url), body, ProxyImageCacheTTL).Err()
}

// Close shuts down the Redis connection.
func (c *CacheService) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// ResultPageKey builds the cache key for one listing page.
func ResultPageKey(projectID int64, page, perPage int, sortBy string, includeDismissed bool) string {
	return fmt.Sprintf("svresults:%d:%s", projectID,
		hash.CacheKey(fmt.Sprintf("%d:%d:%s:%t", page, perPage, sortBy, includeDismissed)))
}

func imageKey(url string) string {
	return fmt.Sprintf("svimg:%s", hash.CacheKey(url))
}
