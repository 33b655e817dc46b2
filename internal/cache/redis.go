// Package cache is the Redis-backed analysis cache. Entries are keyed
// by (wallet, graph version), so every accepted event implicitly
// invalidates all prior entries; superseded versions age out through
// the TTL instead of explicit deletes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/fundflow-engine/internal/config"
	"github.com/rawblock/fundflow-engine/internal/telemetry"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// RedisCache holds computed funding analyses between graph mutations.
// A cache failure is never surfaced to the caller: reads degrade to a
// miss and writes are dropped, so the engine keeps answering from the
// graph alone.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies it is reachable.
func New(ctx context.Context, cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	log.Info().Str("addr", cfg.Addr).Dur("ttl", ttl).Msg("connected to redis")
	return &RedisCache{client: client, ttl: ttl}, nil
}

// Close releases the client connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetAnalysis returns the cached analysis for the wallet at the given
// graph version, or false on a miss.
func (c *RedisCache) GetAnalysis(ctx context.Context, wallet string, version uint64) (*models.FundingAnalysis, bool) {
	data, err := c.client.Get(ctx, analysisKey(wallet, version)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			telemetry.CacheHits.WithLabelValues("error").Inc()
			log.Warn().Err(err).Str("wallet", wallet).Msg("cache read failed, treating as miss")
		}
		return nil, false
	}

	var analysis models.FundingAnalysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		telemetry.CacheHits.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("wallet", wallet).Msg("corrupt cache entry, treating as miss")
		return nil, false
	}
	return &analysis, true
}

// PutAnalysis stores a freshly computed analysis. Best effort.
func (c *RedisCache) PutAnalysis(ctx context.Context, analysis models.FundingAnalysis) {
	data, err := json.Marshal(analysis)
	if err != nil {
		log.Warn().Err(err).Str("wallet", analysis.Wallet).Msg("failed to encode analysis for cache")
		return
	}
	key := analysisKey(analysis.Wallet, analysis.GraphVersion)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		telemetry.CacheHits.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("wallet", analysis.Wallet).Msg("cache write failed")
	}
}

func analysisKey(wallet string, version uint64) string {
	return fmt.Sprintf("analysis:%s:%d", wallet, version)
}
