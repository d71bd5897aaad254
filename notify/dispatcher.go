package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"argus/core"
	"argus/metrics"
	"argus/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSendTimeout bounds a single channel send
const DefaultSendTimeout = 10 * time.Second

// DispatcherConfig holds global alerting settings
type DispatcherConfig struct {
	Enabled     bool
	MinSeverity core.Severity
	DedupWindow time.Duration
	SendTimeout time.Duration
	Breaker     core.CircuitBreakerConfig
}

// DefaultDispatcherConfig returns alerting enabled for MEDIUM and above
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Enabled:     true,
		MinSeverity: core.SeverityMedium,
		DedupWindow: DefaultDedupWindow,
		SendTimeout: DefaultSendTimeout,
		Breaker:     core.DefaultCircuitBreakerConfig(),
	}
}

// ChannelBinding pairs a channel's delivery policy with its sender
type ChannelBinding struct {
	Config core.AlertDeliveryConfig
	Sender Sender
}

// AlertRepository is the alert storage the dispatcher writes to
type AlertRepository interface {
	Insert(alert *core.SecurityAlert) error
	Get(id string) (*core.SecurityAlert, error)
	Status(id string) (core.AlertStatus, bool)
	Update(id string, mutate func(a *core.SecurityAlert) error) (*core.SecurityAlert, error)
	List(filter storage.AlertFilter) []*core.SecurityAlert
	CountByStatus() map[core.AlertStatus]int
}

// DispatcherDeps are the collaborators of a Dispatcher. Dedup, Throttle, Templates
// and Clock get in-memory defaults when nil.
type DispatcherDeps struct {
	Config    DispatcherConfig
	Channels  []ChannelBinding
	Templates *TemplateResolver
	Dedup     DedupIndex
	Throttle  *ChannelThrottle
	Alerts    AlertRepository
	Clock     core.Clock
	Logger    *zap.SugaredLogger
}

type boundChannel struct {
	cfg     core.AlertDeliveryConfig
	sender  Sender
	breaker *core.CircuitBreaker
}

// DispatcherStats is a snapshot of alerting counters
type DispatcherStats struct {
	TotalAlerts      int              `json:"total_alerts"`
	ByChannel        map[string]int64 `json:"by_channel"`
	ByStatus         map[string]int   `json:"by_status"`
	Throttled        int64            `json:"throttled"`
	Acknowledged     int              `json:"acknowledged"`
	Suppressed       int64            `json:"suppressed"`
	FailedDeliveries int64            `json:"failed_deliveries"`
}

// Dispatcher turns processed events and incidents into alerts and delivers them
// over every eligible channel in parallel
type Dispatcher struct {
	cfg       DispatcherConfig
	channels  []*boundChannel
	templates *TemplateResolver
	dedup     DedupIndex
	throttle  *ChannelThrottle
	alerts    AlertRepository
	clock     core.Clock
	logger    *zap.SugaredLogger

	suppressed       int64
	throttled        int64
	failedDeliveries int64
	statsMu          sync.Mutex
	byChannel        map[core.Channel]int64
}

// NewDispatcher validates the channel set and builds a dispatcher
func NewDispatcher(deps DispatcherDeps) (*Dispatcher, error) {
	if deps.Alerts == nil {
		return nil, errors.New("dispatcher requires an alert repository")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Clock == nil {
		deps.Clock = core.SystemClock{}
	}
	cfg := deps.Config
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = core.SeverityLow
	}
	if !cfg.MinSeverity.IsValid() {
		return nil, fmt.Errorf("unknown minimum alert severity %q", cfg.MinSeverity)
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Breaker == (core.CircuitBreakerConfig{}) {
		cfg.Breaker = core.DefaultCircuitBreakerConfig()
	}

	d := &Dispatcher{
		cfg:       cfg,
		templates: deps.Templates,
		dedup:     deps.Dedup,
		throttle:  deps.Throttle,
		alerts:    deps.Alerts,
		clock:     deps.Clock,
		logger:    deps.Logger,
		byChannel: make(map[core.Channel]int64),
	}
	if d.templates == nil {
		t, err := NewTemplateResolver(nil)
		if err != nil {
			return nil, err
		}
		d.templates = t
	}
	if d.dedup == nil {
		d.dedup = NewMemoryDedupIndex(0, cfg.DedupWindow, d.clock)
	}
	if d.throttle == nil {
		d.throttle = NewChannelThrottle(d.clock)
	}

	seen := make(map[core.Channel]bool, len(deps.Channels))
	for _, b := range deps.Channels {
		if seen[b.Config.Channel] {
			return nil, fmt.Errorf("duplicate channel %s", b.Config.Channel)
		}
		seen[b.Config.Channel] = true
		if b.Sender == nil {
			return nil, fmt.Errorf("channel %s has no sender", b.Config.Channel)
		}
		breaker, err := core.NewCircuitBreaker(cfg.Breaker, d.clock)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", b.Config.Channel, err)
		}
		d.channels = append(d.channels, &boundChannel{cfg: b.Config, sender: b.Sender, breaker: breaker})
	}
	return d, nil
}

// OnProcessedEvent raises an alert for an event unless alerting is off, the event is
// below the minimum severity, no channel accepts it, or a live alert for the same
// (type, source) pair exists within the dedup window
func (d *Dispatcher) OnProcessedEvent(ctx context.Context, event core.SecurityEvent) {
	if !d.cfg.Enabled || event.Synthetic {
		return
	}
	if !event.Severity.AtLeast(d.cfg.MinSeverity) {
		return
	}
	targets := d.eligible(event.Severity)
	if len(targets) == 0 {
		d.logger.Debugw("No channel accepts event severity", "event_id", event.ID, "severity", event.Severity)
		return
	}

	alert := d.alertForEvent(event, targets)
	key := DedupKey(event.Type, event.SourceIP)
	holder, claimed, err := d.dedup.Claim(ctx, key, alert.ID, d.isLive)
	if err != nil {
		d.logger.Warnw("Dedup check failed, alerting anyway", "key", key, "error", err)
	} else if !claimed {
		atomic.AddInt64(&d.suppressed, 1)
		metrics.AlertsSuppressed.Inc()
		d.logger.Debugw("Duplicate alert suppressed", "event_id", event.ID, "key", key, "existing_alert", holder)
		return
	}
	d.dispatch(ctx, alert, targets)
}

// OnIncidentCreated raises an alert for an incident. Incidents skip the dedup check
// but record their claim so the triggering event's own alert is suppressed.
func (d *Dispatcher) OnIncidentCreated(ctx context.Context, incident core.SecurityIncident) {
	if !d.cfg.Enabled {
		return
	}
	targets := d.eligible(incident.Severity)
	if len(targets) == 0 {
		d.logger.Debugw("No channel accepts incident severity", "incident_id", incident.ID, "severity", incident.Severity)
		return
	}

	alert := d.alertForIncident(incident, targets)
	key := DedupKey(incident.EventType, incident.SourceIP)
	if err := d.dedup.Record(ctx, key, alert.ID); err != nil {
		d.logger.Warnw("Failed to record incident alert in dedup index", "key", key, "error", err)
	}
	d.dispatch(ctx, alert, targets)
}

// isLive keeps a claim alive unless its alert failed on every channel. An alert
// that is not stored yet is still being dispatched.
func (d *Dispatcher) isLive(alertID string) bool {
	status, ok := d.alerts.Status(alertID)
	if !ok {
		return true
	}
	return status != core.AlertStatusFailed
}

func (d *Dispatcher) eligible(sev core.Severity) []*boundChannel {
	var out []*boundChannel
	for _, ch := range d.channels {
		if ch.cfg.Accepts(sev) {
			out = append(out, ch)
		}
	}
	return out
}

func channelNames(targets []*boundChannel) []core.Channel {
	names := make([]core.Channel, len(targets))
	for i, ch := range targets {
		names[i] = ch.cfg.Channel
	}
	return names
}

func (d *Dispatcher) alertForEvent(event core.SecurityEvent, targets []*boundChannel) *core.SecurityAlert {
	now := d.clock.Now()
	title, description := d.templates.RenderEvent(event)

	metadata := make(map[string]interface{}, len(event.Metadata)+2)
	for k, v := range event.Metadata {
		metadata[k] = v
	}
	if event.CorrelationID != "" {
		metadata["correlation_id"] = event.CorrelationID
	}
	if len(event.ResponseActions) > 0 {
		metadata["response_actions"] = append([]core.ResponseAction(nil), event.ResponseActions...)
	}

	emergency := core.IsEmergency(event.Severity, event.RiskScore)
	tags := []string{strings.ToLower(string(event.Type)), strings.ToLower(string(event.Severity))}
	if emergency {
		tags = append(tags, "emergency")
	}
	return &core.SecurityAlert{
		ID:          uuid.New().String(),
		EventID:     event.ID,
		Source:      core.AlertSourceEvent,
		EventType:   event.Type,
		SourceIP:    event.SourceIP,
		Severity:    event.Severity,
		RiskScore:   event.RiskScore,
		Title:       title,
		Description: description,
		Channels:    channelNames(targets),
		Status:      core.AlertStatusPending,
		Emergency:   emergency,
		Tags:        tags,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (d *Dispatcher) alertForIncident(incident core.SecurityIncident, targets []*boundChannel) *core.SecurityAlert {
	now := d.clock.Now()
	title, description := d.templates.RenderIncident(incident)
	eventID := ""
	if len(incident.EventIDs) > 0 {
		eventID = incident.EventIDs[0]
	}
	emergency := core.IsEmergency(incident.Severity, incident.RiskScore)
	tags := append([]string{"incident"}, incident.Tags...)
	if emergency {
		tags = append(tags, "emergency")
	}
	return &core.SecurityAlert{
		ID:          uuid.New().String(),
		EventID:     eventID,
		IncidentID:  incident.ID,
		Source:      core.AlertSourceIncident,
		EventType:   incident.EventType,
		SourceIP:    incident.SourceIP,
		Severity:    incident.Severity,
		RiskScore:   incident.RiskScore,
		Title:       title,
		Description: description,
		Channels:    channelNames(targets),
		Status:      core.AlertStatusPending,
		Emergency:   emergency,
		Tags:        tags,
		Metadata: map[string]interface{}{
			"incident_id": incident.ID,
			"event_ids":   append([]string(nil), incident.EventIDs...),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func rendered(alert *core.SecurityAlert) RenderedAlert {
	fields := make(map[string]interface{}, len(alert.Metadata))
	for k, v := range alert.Metadata {
		fields[k] = v
	}
	return RenderedAlert{
		AlertID:     alert.ID,
		Source:      alert.Source,
		Title:       alert.Title,
		Description: alert.Description,
		Severity:    alert.Severity,
		EventType:   alert.EventType,
		SourceIP:    alert.SourceIP,
		RiskScore:   alert.RiskScore,
		Emergency:   alert.Emergency,
		Tags:        append([]string(nil), alert.Tags...),
		Fields:      fields,
		CreatedAt:   alert.CreatedAt,
	}
}

// dispatch stores the alert, attempts every target channel in parallel and folds the
// per-channel outcomes into the alert status
func (d *Dispatcher) dispatch(ctx context.Context, alert *core.SecurityAlert, targets []*boundChannel) {
	if err := d.alerts.Insert(alert); err != nil {
		d.logger.Errorw("Failed to store alert", "alert_id", alert.ID, "error", err)
		return
	}
	metrics.AlertsCreated.WithLabelValues(string(alert.Severity), string(alert.Source)).Inc()

	payload := rendered(alert)
	deliveries := make([]core.Delivery, len(targets))
	var wg sync.WaitGroup
	for i, ch := range targets {
		wg.Add(1)
		go func(i int, ch *boundChannel) {
			defer wg.Done()
			deliveries[i] = d.deliver(ctx, ch, payload)
		}(i, ch)
	}
	wg.Wait()

	now := d.clock.Now()
	updated, err := d.alerts.Update(alert.ID, func(a *core.SecurityAlert) error {
		a.Deliveries = deliveries
		a.AttemptCount++
		a.UpdatedAt = now
		if a.Status != core.AlertStatusAcknowledged {
			a.Status = core.AggregateStatus(deliveries)
		}
		return nil
	})
	if err != nil {
		d.logger.Errorw("Failed to record alert deliveries", "alert_id", alert.ID, "error", err)
		return
	}
	d.logger.Infow("Alert dispatched",
		"alert_id", updated.ID,
		"source", updated.Source,
		"severity", updated.Severity,
		"status", updated.Status,
		"channels", updated.Channels,
		"emergency", updated.Emergency)
}

// deliver attempts one channel. Throttling, an open breaker, a send error, a
// timeout and a sender panic all end up in the returned record.
func (d *Dispatcher) deliver(ctx context.Context, ch *boundChannel, payload RenderedAlert) core.Delivery {
	channel := ch.cfg.Channel
	rec := core.Delivery{Channel: channel, AttemptedAt: d.clock.Now()}
	d.countChannel(channel)

	release, ok := d.throttle.Reserve(ch.cfg)
	if !ok {
		rec.Outcome = core.DeliveryThrottled
		atomic.AddInt64(&d.throttled, 1)
		metrics.AlertDeliveries.WithLabelValues(string(channel), string(rec.Outcome)).Inc()
		d.logger.Debugw("Alert throttled", "alert_id", payload.AlertID, "channel", channel)
		return rec
	}

	// a send the breaker refuses does not spend throttle budget
	if err := ch.breaker.Allow(); err != nil {
		release()
		return d.failed(rec, payload.AlertID, err)
	}

	start := time.Now()
	err := d.send(ctx, ch, payload)
	rec.Duration = time.Since(start)
	metrics.AlertDeliveryDuration.WithLabelValues(string(channel)).Observe(rec.Duration.Seconds())

	if err != nil {
		if old, state := ch.breaker.RecordFailure(); old != state {
			d.logger.Warnw("Channel circuit breaker changed state", "channel", channel, "from", old, "to", state)
		}
		return d.failed(rec, payload.AlertID, err)
	}
	if old, state := ch.breaker.RecordSuccess(); old != state {
		d.logger.Infow("Channel circuit breaker changed state", "channel", channel, "from", old, "to", state)
	}
	rec.Outcome = core.DeliverySent
	metrics.AlertDeliveries.WithLabelValues(string(channel), string(rec.Outcome)).Inc()
	return rec
}

func (d *Dispatcher) failed(rec core.Delivery, alertID string, err error) core.Delivery {
	rec.Outcome = core.DeliveryFailed
	rec.Error = err.Error()
	atomic.AddInt64(&d.failedDeliveries, 1)
	metrics.AlertDeliveries.WithLabelValues(string(rec.Channel), string(rec.Outcome)).Inc()
	d.logger.Errorw("Alert delivery failed", "alert_id", alertID, "channel", rec.Channel, "error", err)
	return rec
}

// send runs the sender bounded by the send timeout. A sender that ignores its
// context is abandoned when the timeout fires.
func (d *Dispatcher) send(ctx context.Context, ch *boundChannel, payload RenderedAlert) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("sender panic: %v", r)
			}
		}()
		done <- ch.sender.Send(sendCtx, payload)
	}()

	select {
	case err := <-done:
		return err
	case <-sendCtx.Done():
		return fmt.Errorf("send to %s: %w", ch.cfg.Channel, sendCtx.Err())
	}
}

func (d *Dispatcher) countChannel(channel core.Channel) {
	d.statsMu.Lock()
	d.byChannel[channel]++
	d.statsMu.Unlock()
}

// Acknowledge marks an alert as handled by userID
func (d *Dispatcher) Acknowledge(alertID, userID string) (*core.SecurityAlert, error) {
	now := d.clock.Now()
	transitioned := false
	alert, err := d.alerts.Update(alertID, func(a *core.SecurityAlert) error {
		transitioned = a.Status != core.AlertStatusAcknowledged
		return a.Acknowledge(userID, now)
	})
	if err != nil {
		return nil, err
	}
	if transitioned {
		metrics.AlertsAcknowledged.Inc()
		d.logger.Infow("Alert acknowledged", "alert_id", alertID, "user_id", userID)
	}
	return alert, nil
}

// Get returns an alert by id
func (d *Dispatcher) Get(alertID string) (*core.SecurityAlert, error) {
	return d.alerts.Get(alertID)
}

// List returns alerts matching the filter, newest first
func (d *Dispatcher) List(filter storage.AlertFilter) []*core.SecurityAlert {
	return d.alerts.List(filter)
}

// Stats returns a snapshot of alerting counters
func (d *Dispatcher) Stats() DispatcherStats {
	byStatus := d.alerts.CountByStatus()
	stats := DispatcherStats{
		ByChannel:        make(map[string]int64),
		ByStatus:         make(map[string]int, len(byStatus)),
		Throttled:        atomic.LoadInt64(&d.throttled),
		Suppressed:       atomic.LoadInt64(&d.suppressed),
		FailedDeliveries: atomic.LoadInt64(&d.failedDeliveries),
		Acknowledged:     byStatus[core.AlertStatusAcknowledged],
	}
	for status, n := range byStatus {
		stats.ByStatus[string(status)] = n
		stats.TotalAlerts += n
	}
	d.statsMu.Lock()
	for ch, n := range d.byChannel {
		stats.ByChannel[string(ch)] = n
	}
	d.statsMu.Unlock()
	return stats
}

// Throttle exposes the channel throttle for retention sweeps
func (d *Dispatcher) Throttle() *ChannelThrottle {
	return d.throttle
}

// Dedup exposes the dedup index for retention sweeps
func (d *Dispatcher) Dedup() DedupIndex {
	return d.dedup
}
