package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/observability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPrefix = "geekmirror:"
	defaultTTL    = 5 * time.Minute
	pingTimeout   = 5 * time.Second
	scanCount     = 200
)

// Config wires a Cache.
type Config struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
	Logger *zap.Logger
}

// Cache is a read-through JSON cache in front of query results. A nil *Cache
// disables caching and always calls through.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// Connect opens a client for address and verifies it answers.
func Connect(ctx context.Context, address string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: address})
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// New returns a Cache, or nil when cfg has no client.
func New(cfg Config) *Cache {
	if cfg.Client == nil {
		return nil
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: cfg.Client, ttl: ttl, prefix: prefix, logger: logger}
}

// Key joins parts under the cache prefix.
func (c *Cache) Key(parts ...string) string {
	prefix := defaultPrefix
	if c != nil {
		prefix = c.prefix
	}
	return prefix + strings.Join(parts, ":")
}

// Aside loads key into dest, or on a miss calls fetch to fill dest and stores
// the result. Cache failures are logged and never fail the read.
func (c *Cache) Aside(ctx context.Context, key string, dest any, fetch func() error) error {
	if c == nil {
		return fetch()
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		decodeErr := json.Unmarshal(raw, dest)
		if decodeErr == nil {
			observability.CacheRequests.WithLabelValues(observability.ResultHit).Inc()
			return nil
		}
		c.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(decodeErr))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	observability.CacheRequests.WithLabelValues(observability.ResultMiss).Inc()

	if err := fetch(); err != nil {
		return err
	}
	encoded, err := json.Marshal(dest)
	if err != nil {
		c.logger.Warn("cache entry unencodable", zap.String("key", key), zap.Error(err))
		return nil
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Flush removes every key under the cache prefix.
func (c *Cache) Flush(ctx context.Context) error {
	if c == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, c.prefix+"*", scanCount).Iterator()
	keys := make([]string, 0, scanCount)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == scanCount {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
