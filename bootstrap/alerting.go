package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"argus/config"
	"argus/core"
	"argus/notify"
	"argus/storage"

	"go.uber.org/zap"
)

// redisPingTimeout bounds the startup connectivity check
const redisPingTimeout = 5 * time.Second

// Alerting groups the alert stores and the dispatcher
type Alerting struct {
	Alerts     *storage.AlertStore
	Dispatcher *notify.Dispatcher
	// Redis is set when the dedup index lives in Redis
	Redis *notify.RedisDedupIndex
}

// Close releases the Redis connection, if any
func (a *Alerting) Close() error {
	if a.Redis == nil {
		return nil
	}
	return a.Redis.Close()
}

// InitSenders builds one sender per configured channel. overrides replaces the sender of a
// channel without changing its delivery policy.
func InitSenders(cfg *config.Config, overrides map[core.Channel]notify.Sender, sugar *zap.SugaredLogger) ([]notify.ChannelBinding, error) {
	bindings := make([]notify.ChannelBinding, 0, len(cfg.Alerting.Channels))
	for _, ch := range cfg.Alerting.Channels {
		sender, ok := overrides[ch.Channel]
		if !ok {
			var err error
			sender, err = notify.NewSender(ch, sugar)
			if err != nil {
				return nil, err
			}
		}
		bindings = append(bindings, notify.ChannelBinding{Config: ch.AlertDeliveryConfig, Sender: sender})
		sugar.Debugw("Alert channel configured",
			"channel", ch.Channel,
			"enabled", ch.Enabled,
			"min_severity", ch.MinSeverity,
			"max_alerts", ch.MaxAlerts,
			"window_seconds", ch.WindowSeconds)
	}
	return bindings, nil
}

// InitDedup returns the in-memory index, or a Redis index when enabled. A Redis server that
// does not answer at startup is an error.
func InitDedup(ctx context.Context, cfg *config.Config, clock core.Clock, sugar *zap.SugaredLogger) (notify.DedupIndex, *notify.RedisDedupIndex, error) {
	ac := cfg.Alerting
	if !ac.Redis.Enabled {
		return notify.NewMemoryDedupIndex(storage.DefaultShards, ac.DedupWindow, clock), nil, nil
	}

	idx := notify.NewRedisDedupIndex(ac.Redis, ac.DedupWindow, clock, sugar)
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := idx.Ping(pingCtx); err != nil {
		_ = idx.Close()
		sugar.Error(ClassifyRedisError(err, ac.Redis.Addr))
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", ac.Redis.Addr, err)
	}
	sugar.Infow("Redis dedup index connected", "addr", ac.Redis.Addr, "db", ac.Redis.DB)
	return idx, idx, nil
}

// InitAlerting builds the alert store and the dispatcher with its channels, templates,
// dedup index and throttle.
func InitAlerting(ctx context.Context, cfg *config.Config, overrides map[core.Channel]notify.Sender, clock core.Clock, sugar *zap.SugaredLogger) (*Alerting, error) {
	channels, err := InitSenders(cfg, overrides, sugar)
	if err != nil {
		return nil, err
	}
	templateOverrides, err := cfg.Alerting.TemplateOverrides()
	if err != nil {
		return nil, err
	}
	templates, err := notify.NewTemplateResolver(templateOverrides)
	if err != nil {
		return nil, fmt.Errorf("failed to build alert templates: %w", err)
	}
	dedup, redisIdx, err := InitDedup(ctx, cfg, clock, sugar)
	if err != nil {
		return nil, err
	}

	alerts := storage.NewAlertStore(storage.DefaultShards, clock)
	dispatcher, err := notify.NewDispatcher(notify.DispatcherDeps{
		Config:    cfg.Alerting.DispatcherConfig(),
		Channels:  channels,
		Templates: templates,
		Dedup:     dedup,
		Throttle:  notify.NewChannelThrottle(clock),
		Alerts:    alerts,
		Clock:     clock,
		Logger:    sugar,
	})
	if err != nil {
		if redisIdx != nil {
			err = errors.Join(err, redisIdx.Close())
		}
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	return &Alerting{Alerts: alerts, Dispatcher: dispatcher, Redis: redisIdx}, nil
}
