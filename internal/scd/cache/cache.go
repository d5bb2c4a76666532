// Package cache memoizes read results in redis under namespaced keys.
//
// A key is "{prefix}:{namespace}:{key}". Every namespace carries its own TTL,
// which only bounds staleness: writers evict what they invalidate. A nil
// *Cache is a disabled cache that never hits.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Namespace groups keys sharing a TTL and an invalidation rule.
type Namespace struct {
	Name string
	TTL  time.Duration
}

// Eviction names the keys a write makes stale. All clears the whole
// namespace.
type Eviction struct {
	Namespace Namespace
	Key       string
	All       bool
}

// TTLs holds the lifetime of each namespace family.
type TTLs struct {
	Latest    time.Duration
	History   time.Duration
	Criteria  time.Duration
	Aggregate time.Duration
}

var DefaultTTLs = TTLs{
	Latest:    2 * time.Hour,
	History:   24 * time.Hour,
	Criteria:  30 * time.Minute,
	Aggregate: 15 * time.Minute,
}

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type Cache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func New(client *redis.Client, prefix string, logger *zap.Logger) *Cache {
	if prefix == "" {
		prefix = "scd"
	}
	return &Cache{client: client, prefix: prefix, logger: logger.Named("cache")}
}

// Key joins key parts with ":".
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

func (c *Cache) key(ns Namespace, key string) string {
	return c.prefix + ":" + ns.Name + ":" + key
}

// Get decodes the cached value into dest and reports whether it was found.
func (c *Cache) Get(ctx context.Context, ns Namespace, key string, dest any) (bool, error) {
	if c == nil {
		return false, nil
	}
	raw, err := c.client.Get(ctx, c.key(ns, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", ns.Name, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", ns.Name, err)
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, ns Namespace, key string, value any) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", ns.Name, err)
	}
	if err := c.client.Set(ctx, c.key(ns, key), raw, ns.TTL).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", ns.Name, err)
	}
	return nil
}

func (c *Cache) Evict(ctx context.Context, ns Namespace, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(ns, k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("cache evict %s: %w", ns.Name, err)
	}
	return nil
}

// EvictAll removes every key of the namespace.
func (c *Cache) EvictAll(ctx context.Context, ns Namespace) error {
	if c == nil {
		return nil
	}
	pattern := c.prefix + ":" + ns.Name + ":*"
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return fmt.Errorf("cache scan %s: %w", ns.Name, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache evict %s: %w", ns.Name, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Invalidate runs every eviction and returns the joined failures. A failing
// eviction does not stop the others.
func (c *Cache) Invalidate(ctx context.Context, evictions []Eviction) error {
	if c == nil {
		return nil
	}
	var errs []error
	for _, ev := range evictions {
		var err error
		if ev.All {
			err = c.EvictAll(ctx, ev.Namespace)
		} else {
			err = c.Evict(ctx, ev.Namespace, ev.Key)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
