/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for hot public reads.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultOpenSlotsTTL = 2 * time.Minute
	DefaultOfferingsTTL = 10 * time.Minute
)

// Key prefixes for Redis cache
const (
	keyRoot      = "timegate:cache:"
	KeyOpenSlots = keyRoot + "open_slots:" // + date
	KeyOfferings = keyRoot + "offerings:active"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	OpenSlotsTTL time.Duration
	OfferingsTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		OpenSlotsTTL:   DefaultOpenSlotsTTL,
		OfferingsTTL:   DefaultOfferingsTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. An unreachable Redis yields a disabled
// cache rather than an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.OpenSlotsTTL <= 0 {
		cfg.OpenSlotsTTL = DefaultOpenSlotsTTL
	}
	if cfg.OfferingsTTL <= 0 {
		cfg.OfferingsTTL = DefaultOfferingsTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return Disabled(logger), nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Disabled returns a cache that never hits.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "cache").Logger(),
		config:   DefaultConfig(),
		disabled: true,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// Open slot caching

// GetOpenSlots retrieves the cached open labels for a date.
func (c *Cache) GetOpenSlots(ctx context.Context, date string) ([]string, bool) {
	var labels []string
	found, err := c.get(ctx, KeyOpenSlots+date, &labels)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("date", date).Int("count", len(labels)).Msg("open slots cache hit")
	return labels, true
}

// SetOpenSlots caches the open labels for a date.
func (c *Cache) SetOpenSlots(ctx context.Context, date string, labels []string) error {
	return c.set(ctx, KeyOpenSlots+date, labels, c.config.OpenSlotsTTL)
}

// InvalidateOpenSlots drops the open labels for a date.
func (c *Cache) InvalidateOpenSlots(ctx context.Context, date string) error {
	c.logger.Debug().Str("date", date).Msg("invalidating open slots cache")
	return c.delete(ctx, KeyOpenSlots+date)
}

// Offering caching

// CachedOffering is the public view of an active service offering.
type CachedOffering struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	DurationLabel string `json:"duration_label"`
	PriceCents    int64  `json:"price_cents"`
	Description   string `json:"description,omitempty"`
	Version       int    `json:"version"`
}

// GetOfferings retrieves the cached active offerings.
func (c *Cache) GetOfferings(ctx context.Context) ([]CachedOffering, bool) {
	var list []CachedOffering
	found, err := c.get(ctx, KeyOfferings, &list)
	if err != nil || !found {
		return nil, false
	}
	return list, true
}

// SetOfferings caches the active offerings.
func (c *Cache) SetOfferings(ctx context.Context, list []CachedOffering) error {
	return c.set(ctx, KeyOfferings, list, c.config.OfferingsTTL)
}

// InvalidateOfferings drops the active offerings list.
func (c *Cache) InvalidateOfferings(ctx context.Context) error {
	return c.delete(ctx, KeyOfferings)
}
