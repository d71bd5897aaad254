package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"argus/core"
	"argus/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// RedisKeyPrefix namespaces dedup claims in a shared Redis
const RedisKeyPrefix = "argus:dedup:"

// claimRetries bounds optimistic-transaction retries when another process races a claim
const claimRetries = 3

// RedisConfig holds the connection settings of the Redis dedup backend
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type redisClaim struct {
	AlertID   string    `msgpack:"alert_id"`
	ClaimedAt time.Time `msgpack:"claimed_at"`
}

// RedisDedupIndex shares dedup claims between processes. Keys expire with the window.
type RedisDedupIndex struct {
	client *redis.Client
	window time.Duration
	clock  core.Clock
	logger *zap.SugaredLogger
}

// NewRedisDedupIndex connects a Redis-backed index
func NewRedisDedupIndex(cfg RedisConfig, window time.Duration, clock core.Clock, logger *zap.SugaredLogger) *RedisDedupIndex {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return newRedisDedupIndex(client, window, clock, logger)
}

func newRedisDedupIndex(client *redis.Client, window time.Duration, clock core.Clock, logger *zap.SugaredLogger) *RedisDedupIndex {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &RedisDedupIndex{client: client, window: window, clock: clock, logger: logger}
}

// Ping tests the Redis connection
func (r *RedisDedupIndex) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisDedupIndex) Close() error {
	return r.client.Close()
}

// Claim implements DedupIndex with a WATCH/MULTI transaction on the key
func (r *RedisDedupIndex) Claim(ctx context.Context, key, alertID string, live LiveFunc) (string, bool, error) {
	redisKey := RedisKeyPrefix + key
	payload, err := msgpack.Marshal(redisClaim{AlertID: alertID, ClaimedAt: r.clock.Now()})
	if err != nil {
		return "", false, fmt.Errorf("failed to encode dedup claim: %w", err)
	}

	var holder string
	var claimed bool
	txf := func(tx *redis.Tx) error {
		holder, claimed = "", false
		raw, err := tx.Get(ctx, redisKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var existing redisClaim
			if err := msgpack.Unmarshal(raw, &existing); err != nil {
				r.logger.Warnw("Discarding undecodable dedup claim", "key", redisKey, "error", err)
			} else if r.clock.Now().Sub(existing.ClaimedAt) < r.window && (live == nil || live(existing.AlertID)) {
				holder = existing.AlertID
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, r.window)
			return nil
		})
		if err == nil {
			holder, claimed = alertID, true
		}
		return err
	}

	for i := 0; i < claimRetries; i++ {
		err = r.client.Watch(ctx, txf, redisKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		metrics.DedupErrors.WithLabelValues("claim").Inc()
		return "", false, fmt.Errorf("dedup claim %s: %w", key, err)
	}
	return holder, claimed, nil
}

// Record implements DedupIndex
func (r *RedisDedupIndex) Record(ctx context.Context, key, alertID string) error {
	payload, err := msgpack.Marshal(redisClaim{AlertID: alertID, ClaimedAt: r.clock.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode dedup claim: %w", err)
	}
	if err := r.client.Set(ctx, RedisKeyPrefix+key, payload, r.window).Err(); err != nil {
		metrics.DedupErrors.WithLabelValues("record").Inc()
		return fmt.Errorf("dedup record %s: %w", key, err)
	}
	return nil
}

// PruneExpired implements DedupIndex. Redis expires keys itself.
func (r *RedisDedupIndex) PruneExpired() int {
	return 0
}
