package storage

import (
	"context"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

// RetentionConfig holds retention ages and sweep intervals
type RetentionConfig struct {
	EventMaxAge    time.Duration `mapstructure:"event_max_age"`
	AlertMaxAge    time.Duration `mapstructure:"alert_max_age"`
	IncidentMaxAge time.Duration `mapstructure:"incident_max_age"`
	ThrottleIdle   time.Duration `mapstructure:"throttle_idle"`
	HourlyInterval time.Duration `mapstructure:"hourly_interval"`
	DailyInterval  time.Duration `mapstructure:"daily_interval"`
}

// DefaultRetentionConfig returns the stock retention policy
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		EventMaxAge:    24 * time.Hour,
		AlertMaxAge:    7 * 24 * time.Hour,
		IncidentMaxAge: 30 * 24 * time.Hour,
		ThrottleIdle:   time.Hour,
		HourlyInterval: time.Hour,
		DailyInterval:  24 * time.Hour,
	}
}

// EventPruner drops cached events older than an age
type EventPruner interface {
	Prune(maxAge time.Duration) int
}

// AlertPruner drops settled alerts older than an age
type AlertPruner interface {
	PruneOlderThan(maxAge time.Duration) int
}

// IncidentPruner drops closed incidents older than an age
type IncidentPruner interface {
	PruneClosed(maxAge time.Duration) int
}

// IdlePurger drops per-key state untouched for longer than idle
type IdlePurger interface {
	Purge(idle time.Duration) int
}

// ExpiryPruner drops entries whose own expiry has passed
type ExpiryPruner interface {
	PruneExpired() int
}

// RetentionTargets are the stores swept by the RetentionManager. Nil targets are skipped.
type RetentionTargets struct {
	Events    EventPruner
	Alerts    AlertPruner
	Incidents IncidentPruner
	Throttle  IdlePurger
	Dedup     ExpiryPruner
	Actions   ExpiryPruner
}

// SweepResult counts what one sweep removed, keyed by record kind
type SweepResult map[string]int

// RetentionManager runs the hourly and daily maintenance sweeps. Sweeps never
// propagate failures; a panicking target is logged and the sweep moves on.
type RetentionManager struct {
	cfg     RetentionConfig
	targets RetentionTargets
	clock   core.Clock
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRetentionManager creates a new retention manager
func NewRetentionManager(cfg RetentionConfig, targets RetentionTargets, clock core.Clock, logger *zap.SugaredLogger) *RetentionManager {
	if clock == nil {
		clock = core.SystemClock{}
	}
	defaults := DefaultRetentionConfig()
	if cfg.HourlyInterval <= 0 {
		cfg.HourlyInterval = defaults.HourlyInterval
	}
	if cfg.DailyInterval <= 0 {
		cfg.DailyInterval = defaults.DailyInterval
	}
	return &RetentionManager{cfg: cfg, targets: targets, clock: clock, logger: logger}
}

// Start launches the sweep loops. Tickers are created before Start returns.
func (rm *RetentionManager) Start(ctx context.Context) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.running {
		return
	}
	rm.running = true

	ctx, rm.cancel = context.WithCancel(ctx)
	hourly := rm.clock.NewTicker(rm.cfg.HourlyInterval)
	daily := rm.clock.NewTicker(rm.cfg.DailyInterval)

	rm.wg.Add(2)
	go rm.run(ctx, "retention-hourly", hourly, rm.SweepHourly)
	go rm.run(ctx, "retention-daily", daily, rm.SweepDaily)

	rm.logger.Infow("Retention manager started",
		"hourly_interval", rm.cfg.HourlyInterval,
		"daily_interval", rm.cfg.DailyInterval)
}

func (rm *RetentionManager) run(ctx context.Context, name string, ticker core.Ticker, sweep func() SweepResult) {
	defer rm.wg.Done()
	defer ticker.Stop()
	defer goroutine.Recover(name, rm.logger)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			sweep()
		}
	}
}

// Stop cancels the sweep loops and waits for them to exit
func (rm *RetentionManager) Stop() {
	rm.mu.Lock()
	if !rm.running {
		rm.mu.Unlock()
		return
	}
	rm.running = false
	rm.cancel()
	rm.mu.Unlock()

	rm.wg.Wait()
	rm.logger.Info("Retention manager stopped")
}

// SweepHourly drops events past the event age and expired dedup and containment entries
func (rm *RetentionManager) SweepHourly() SweepResult {
	result := SweepResult{}
	if rm.targets.Events != nil {
		rm.step(result, "events", func() int { return rm.targets.Events.Prune(rm.cfg.EventMaxAge) })
	}
	if rm.targets.Dedup != nil {
		rm.step(result, "dedup", rm.targets.Dedup.PruneExpired)
	}
	if rm.targets.Actions != nil {
		rm.step(result, "containment", rm.targets.Actions.PruneExpired)
	}
	rm.logger.Debugw("Hourly retention sweep completed", "removed", result)
	return result
}

// SweepDaily drops settled alerts, closed incidents and idle throttle windows
func (rm *RetentionManager) SweepDaily() SweepResult {
	rm.logger.Info("Starting data retention cleanup")
	result := SweepResult{}
	if rm.targets.Alerts != nil {
		rm.step(result, "alerts", func() int { return rm.targets.Alerts.PruneOlderThan(rm.cfg.AlertMaxAge) })
	}
	if rm.targets.Incidents != nil {
		rm.step(result, "incidents", func() int { return rm.targets.Incidents.PruneClosed(rm.cfg.IncidentMaxAge) })
	}
	if rm.targets.Throttle != nil {
		rm.step(result, "throttle", func() int { return rm.targets.Throttle.Purge(rm.cfg.ThrottleIdle) })
	}
	rm.logger.Infow("Data retention cleanup completed", "removed", result)
	return result
}

func (rm *RetentionManager) step(result SweepResult, kind string, prune func() int) {
	defer func() {
		if r := recover(); r != nil {
			rm.logger.Errorw("Retention step failed", "kind", kind, "panic", r)
		}
	}()
	n := prune()
	result[kind] = n
	if n > 0 {
		metrics.RetentionPruned.WithLabelValues(kind).Add(float64(n))
	}
}
