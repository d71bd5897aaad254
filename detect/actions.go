package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// ActionHandler performs the side effect of one response action
type ActionHandler func(ctx context.Context, event *core.SecurityEvent) error

// ActionOutcome records the result of one executed action
type ActionOutcome struct {
	Action core.ResponseAction
	Err    error
}

// ActionConfig controls how long containment actions last
type ActionConfig struct {
	BlockDuration     time.Duration `mapstructure:"block_duration"`
	MonitorDuration   time.Duration `mapstructure:"monitor_duration"`
	RateLimitDuration time.Duration `mapstructure:"rate_limit_duration"`
}

// DefaultActionConfig returns the stock containment durations
func DefaultActionConfig() ActionConfig {
	return ActionConfig{
		BlockDuration:     time.Hour,
		MonitorDuration:   24 * time.Hour,
		RateLimitDuration: 15 * time.Minute,
	}
}

// ActionExecutor dispatches response actions through a handler table.
// Every action in core.AllResponseActions has a default handler; Register replaces one.
type ActionExecutor struct {
	mu          sync.RWMutex
	handlers    map[core.ResponseAction]ActionHandler
	blocked     *expiringSet
	watched     *expiringSet
	rateLimited *expiringSet
	cfg         ActionConfig
	clock       core.Clock
	logger      *zap.SugaredLogger
}

// NewActionExecutor creates an executor with the default handlers registered
func NewActionExecutor(cfg ActionConfig, clock core.Clock, logger *zap.SugaredLogger) *ActionExecutor {
	if clock == nil {
		clock = core.SystemClock{}
	}
	ae := &ActionExecutor{
		handlers:    make(map[core.ResponseAction]ActionHandler),
		blocked:     newExpiringSet(),
		watched:     newExpiringSet(),
		rateLimited: newExpiringSet(),
		cfg:         cfg,
		clock:       clock,
		logger:      logger,
	}

	ae.handlers[core.ActionBlockIP] = ae.blockIP
	ae.handlers[core.ActionMonitorUser] = ae.monitorUser
	ae.handlers[core.ActionApplyRateLimit] = ae.applyRateLimit
	ae.handlers[core.ActionLockAccount] = ae.logAction("Account lock requested")
	ae.handlers[core.ActionRequireMFA] = ae.logAction("Step-up MFA requested")
	ae.handlers[core.ActionTerminateSession] = ae.logAction("Session termination requested")
	ae.handlers[core.ActionAlertSecurityTeam] = ae.alertSecurityTeam
	ae.handlers[core.ActionLogEvent] = ae.logEvent
	return ae
}

// Register installs or replaces the handler for an action
func (ae *ActionExecutor) Register(action core.ResponseAction, handler ActionHandler) error {
	if !action.IsValid() {
		return fmt.Errorf("cannot register handler for unknown action %q", action)
	}
	ae.mu.Lock()
	defer ae.mu.Unlock()
	ae.handlers[action] = handler
	return nil
}

// Execute runs every action in order. A failing or panicking handler is logged and
// counted; the remaining actions still run.
func (ae *ActionExecutor) Execute(ctx context.Context, event *core.SecurityEvent, actions []core.ResponseAction) []ActionOutcome {
	outcomes := make([]ActionOutcome, 0, len(actions))
	for _, action := range actions {
		err := ae.run(ctx, action, event)
		outcomes = append(outcomes, ActionOutcome{Action: action, Err: err})
		if err != nil {
			metrics.ResponseActions.WithLabelValues(string(action), "failure").Inc()
			ae.logger.Errorw("Response action failed",
				"action", action,
				"event_id", event.ID,
				"source_ip", event.SourceIP,
				"error", err)
			continue
		}
		metrics.ResponseActions.WithLabelValues(string(action), "success").Inc()
	}
	return outcomes
}

func (ae *ActionExecutor) run(ctx context.Context, action core.ResponseAction, event *core.SecurityEvent) (err error) {
	ae.mu.RLock()
	handler, ok := ae.handlers[action]
	ae.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for action %q", action)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", action, r)
		}
	}()
	return handler(ctx, event)
}

// Blocked reports whether ip is currently on the blocklist
func (ae *ActionExecutor) Blocked(ip string) bool {
	return ae.blocked.contains(ip, ae.clock.Now())
}

// Watched reports whether the subject is on the watch list
func (ae *ActionExecutor) Watched(subject string) bool {
	return ae.watched.contains(subject, ae.clock.Now())
}

// RateLimited reports whether the subject has a rate limit applied
func (ae *ActionExecutor) RateLimited(subject string) bool {
	return ae.rateLimited.contains(subject, ae.clock.Now())
}

// BlockedCount returns the number of live blocklist entries
func (ae *ActionExecutor) BlockedCount() int {
	return ae.blocked.live(ae.clock.Now())
}

// PruneExpired drops expired blocklist, watch list and rate limit entries
func (ae *ActionExecutor) PruneExpired() int {
	now := ae.clock.Now()
	return ae.blocked.prune(now) + ae.watched.prune(now) + ae.rateLimited.prune(now)
}

func (ae *ActionExecutor) blockIP(_ context.Context, event *core.SecurityEvent) error {
	if event.SourceIP == "" {
		return fmt.Errorf("event %s has no source ip to block", event.ID)
	}
	until := ae.clock.Now().Add(ae.cfg.BlockDuration)
	ae.blocked.add(event.SourceIP, until)
	ae.logger.Warnw("Source IP blocked", "source_ip", event.SourceIP, "until", until, "event_id", event.ID)
	return nil
}

func (ae *ActionExecutor) monitorUser(_ context.Context, event *core.SecurityEvent) error {
	until := ae.clock.Now().Add(ae.cfg.MonitorDuration)
	ae.watched.add(event.Subject(), until)
	ae.logger.Infow("Subject added to watch list", "subject", event.Subject(), "until", until)
	return nil
}

func (ae *ActionExecutor) applyRateLimit(_ context.Context, event *core.SecurityEvent) error {
	until := ae.clock.Now().Add(ae.cfg.RateLimitDuration)
	ae.rateLimited.add(event.Subject(), until)
	ae.logger.Infow("Rate limit applied", "subject", event.Subject(), "until", until)
	return nil
}

func (ae *ActionExecutor) alertSecurityTeam(_ context.Context, event *core.SecurityEvent) error {
	ae.logger.Warnw("Security team escalation",
		"event_id", event.ID,
		"type", event.Type,
		"source_ip", event.SourceIP,
		"risk_score", event.RiskScore,
		"correlation_id", event.CorrelationID)
	return nil
}

func (ae *ActionExecutor) logEvent(_ context.Context, event *core.SecurityEvent) error {
	ae.logger.Infow("Security event logged",
		"event_id", event.ID,
		"type", event.Type,
		"severity", event.Severity,
		"source_ip", event.SourceIP,
		"user_id", event.UserID)
	return nil
}

func (ae *ActionExecutor) logAction(msg string) ActionHandler {
	return func(_ context.Context, event *core.SecurityEvent) error {
		ae.logger.Warnw(msg, "subject", event.Subject(), "event_id", event.ID)
		return nil
	}
}

// expiringSet is a small key set with per-key expiry
type expiringSet struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newExpiringSet() *expiringSet {
	return &expiringSet{entries: make(map[string]time.Time)}
}

func (s *expiringSet) add(key string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[key]; !ok || until.After(cur) {
		s.entries[key] = until
	}
}

func (s *expiringSet) contains(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.entries[key]
	return ok && now.Before(until)
}

func (s *expiringSet) live(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, until := range s.entries {
		if now.Before(until) {
			n++
		}
	}
	return n
}

func (s *expiringSet) prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, until := range s.entries {
		if !now.Before(until) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
