package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SyntheticRiskScore is the risk assigned to the stand-in event returned when processing fails
const SyntheticRiskScore = 5

// IncidentRecorder persists incidents opened by the processor
type IncidentRecorder interface {
	Create(incident *core.SecurityIncident) error
	ActiveCount() int
}

// Publisher receives every fully processed event. incident is non-nil when the event
// opened one; publishers must deliver the incident before the event.
type Publisher interface {
	Publish(ctx context.Context, event core.SecurityEvent, incident *core.SecurityIncident)
}

// Subscriber is the downstream consumer of processed events and incidents
type Subscriber interface {
	OnIncidentCreated(ctx context.Context, incident core.SecurityIncident)
	OnProcessedEvent(ctx context.Context, event core.SecurityEvent)
}

// DirectPublisher delivers to a subscriber on the caller's goroutine
type DirectPublisher struct {
	Subscriber Subscriber
}

// Publish implements Publisher
func (d DirectPublisher) Publish(ctx context.Context, event core.SecurityEvent, incident *core.SecurityIncident) {
	if incident != nil {
		d.Subscriber.OnIncidentCreated(ctx, *incident)
	}
	d.Subscriber.OnProcessedEvent(ctx, event)
}

// ProcessorStats is a snapshot of processing counters
type ProcessorStats struct {
	Total           int64            `json:"total"`
	ByType          map[string]int64 `json:"by_type"`
	BySeverity      map[string]int64 `json:"by_severity"`
	ActiveIncidents int              `json:"active_incidents"`
	CachedSubjects  int              `json:"cached_subjects"`
	Fallbacks       int64            `json:"fallbacks"`
	Responses       int64            `json:"responses"`
	BlockedIPs      int              `json:"blocked_ips"`
}

// Processor is the single entry point for inbound security events
type Processor struct {
	cache      *EventCache
	rules      *ThreatRuleEngine
	anomaly    *AnomalyDetector
	reputation *ReputationTable
	actions    *ActionExecutor
	incidents  IncidentRecorder
	clock      core.Clock
	logger     *zap.SugaredLogger

	pubMu      sync.RWMutex
	publishers []Publisher

	statsMu    sync.Mutex
	total      int64
	byType     map[core.EventType]int64
	bySeverity map[core.Severity]int64
	fallbacks  int64
	responses  int64
}

// ProcessorDeps groups the collaborators of a Processor
type ProcessorDeps struct {
	Cache      *EventCache
	Rules      *ThreatRuleEngine
	Anomaly    *AnomalyDetector
	Reputation *ReputationTable
	Actions    *ActionExecutor
	Incidents  IncidentRecorder
	Clock      core.Clock
	Logger     *zap.SugaredLogger
}

// NewProcessor wires a processor from its collaborators
func NewProcessor(deps ProcessorDeps) (*Processor, error) {
	if deps.Cache == nil || deps.Rules == nil || deps.Anomaly == nil || deps.Actions == nil || deps.Incidents == nil {
		return nil, errors.New("processor requires cache, rules, anomaly detector, action executor and incident recorder")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Clock == nil {
		deps.Clock = core.SystemClock{}
	}
	return &Processor{
		cache:      deps.Cache,
		rules:      deps.Rules,
		anomaly:    deps.Anomaly,
		reputation: deps.Reputation,
		actions:    deps.Actions,
		incidents:  deps.Incidents,
		clock:      deps.Clock,
		logger:     deps.Logger,
		byType:     make(map[core.EventType]int64),
		bySeverity: make(map[core.Severity]int64),
	}, nil
}

// Subscribe adds a publisher for processed events
func (p *Processor) Subscribe(pub Publisher) {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	p.publishers = append(p.publishers, pub)
}

// Process enriches, correlates and scores one inbound event. It never fails: any internal
// error or panic is logged and answered with a synthetic low-risk event.
func (p *Processor) Process(ctx context.Context, in core.EventInput) (result core.SecurityEvent) {
	start := time.Now()
	defer func() {
		metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())
	}()
	defer func() {
		if r := recover(); r != nil {
			result = p.fallback(in, fmt.Errorf("panic during processing: %v", r))
		}
	}()

	event, incident, err := p.process(ctx, in)
	if err != nil {
		return p.fallback(in, err)
	}

	p.publish(ctx, event, incident)
	return event
}

func (p *Processor) process(ctx context.Context, in core.EventInput) (core.SecurityEvent, *core.SecurityIncident, error) {
	event, err := p.enrich(in)
	if err != nil {
		return core.SecurityEvent{}, nil, err
	}

	p.cache.Record(&event)

	threat, anomaly, err := p.detect(ctx, &event)
	if err != nil {
		return core.SecurityEvent{}, nil, err
	}

	event.RiskScore = core.ClampRisk(maxInt(event.RiskScore, threat.RiskScore, anomaly.RiskScore))
	event.CorrelationID = threat.CorrelationID
	event.ResponseTriggered = threat.Triggered || anomaly.Triggered
	if threat.Triggered {
		event.Severity = core.MaxSeverity(event.Severity, threat.Severity)
	}
	var actions []core.ResponseAction
	actions = core.UnionActions(actions, threat.Actions...)
	actions = core.UnionActions(actions, anomaly.Actions...)

	p.recordStats(&event)

	if event.ResponseTriggered && len(actions) > 0 {
		event.ResponseActions = actions
		p.actions.Execute(ctx, &event, actions)
	}

	var incident *core.SecurityIncident
	if event.Severity.AtLeast(core.SeverityHigh) {
		incident = core.NewIncidentFromEvent(uuid.NewString(), &event, p.clock.Now())
		if err := p.incidents.Create(incident); err != nil {
			// the event itself is still valid; only the incident is lost
			p.logger.Errorw("Failed to create incident", "event_id", event.ID, "error", err)
			incident = nil
		} else {
			metrics.IncidentsCreated.WithLabelValues(string(incident.Severity)).Inc()
			p.logger.Infow("Security incident opened",
				"incident_id", incident.ID,
				"event_id", event.ID,
				"severity", incident.Severity,
				"source_ip", event.SourceIP)
		}
	}

	return event, incident, nil
}

func (p *Processor) enrich(in core.EventInput) (core.SecurityEvent, error) {
	if !in.Type.IsValid() {
		return core.SecurityEvent{}, fmt.Errorf("unknown event type %q", in.Type)
	}
	severity := in.Severity
	if severity == "" {
		severity = core.SeverityLow
	} else if !severity.IsValid() {
		p.logger.Warnw("Unknown severity hint, defaulting to LOW", "severity", in.Severity, "type", in.Type)
		severity = core.SeverityLow
	}

	event := core.SecurityEvent{
		ID:        uuid.NewString(),
		Type:      in.Type,
		Severity:  severity,
		Timestamp: p.clock.Now(),
		SourceIP:  in.SourceIP,
		UserID:    in.UserID,
		Request:   in.Request,
	}
	if len(in.Metadata) > 0 {
		event.Metadata = make(map[string]interface{}, len(in.Metadata))
		for k, v := range in.Metadata {
			event.Metadata[k] = v
		}
	}
	event.RiskScore = EnrichmentRisk(p.reputation.Score(in.SourceIP), in.Type)
	return event, nil
}

// detect runs rule evaluation and the anomaly heuristic concurrently. Both only read the
// cache, which already holds the current event.
func (p *Processor) detect(ctx context.Context, event *core.SecurityEvent) (ThreatResult, AnomalyResult, error) {
	var (
		threat  ThreatResult
		anomaly AnomalyResult
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer recoverInto(&err, "threat rule evaluation")
		threat = p.rules.Evaluate(event)
		return nil
	})
	g.Go(func() (err error) {
		defer recoverInto(&err, "anomaly detection")
		anomaly = p.anomaly.Evaluate(event)
		return nil
	})
	if err := g.Wait(); err != nil {
		return ThreatResult{}, AnomalyResult{}, err
	}
	return threat, anomaly, nil
}

func recoverInto(err *error, stage string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s panicked: %v", stage, r)
	}
}

func (p *Processor) recordStats(event *core.SecurityEvent) {
	p.statsMu.Lock()
	p.total++
	p.byType[event.Type]++
	p.bySeverity[event.Severity]++
	if event.ResponseTriggered {
		p.responses++
	}
	p.statsMu.Unlock()

	metrics.EventsProcessed.WithLabelValues(string(event.Type), string(event.Severity)).Inc()
}

func (p *Processor) publish(ctx context.Context, event core.SecurityEvent, incident *core.SecurityIncident) {
	p.pubMu.RLock()
	pubs := append([]Publisher(nil), p.publishers...)
	p.pubMu.RUnlock()

	for _, pub := range pubs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Errorw("Publisher panicked", "event_id", event.ID, "panic", r)
				}
			}()
			var inc *core.SecurityIncident
			if incident != nil {
				inc = incident.Clone()
			}
			pub.Publish(ctx, *event.Clone(), inc)
		}()
	}
}

func (p *Processor) fallback(in core.EventInput, cause error) core.SecurityEvent {
	p.statsMu.Lock()
	p.fallbacks++
	p.statsMu.Unlock()
	metrics.ProcessingFallbacks.Inc()

	p.logger.Errorw("Event processing failed, returning synthetic event",
		"type", in.Type,
		"source_ip", in.SourceIP,
		"error", cause)

	t := in.Type
	if !t.IsValid() {
		t = core.EventAnomalousBehavior
	}
	return core.SecurityEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  core.SeverityLow,
		Timestamp: p.clock.Now(),
		SourceIP:  in.SourceIP,
		UserID:    in.UserID,
		Request:   in.Request,
		RiskScore: SyntheticRiskScore,
		Synthetic: true,
	}
}

// Stats returns a snapshot of the processing counters
func (p *Processor) Stats() ProcessorStats {
	p.statsMu.Lock()
	s := ProcessorStats{
		Total:      p.total,
		ByType:     make(map[string]int64, len(p.byType)),
		BySeverity: make(map[string]int64, len(p.bySeverity)),
		Fallbacks:  p.fallbacks,
		Responses:  p.responses,
	}
	for k, v := range p.byType {
		s.ByType[string(k)] = v
	}
	for k, v := range p.bySeverity {
		s.BySeverity[string(k)] = v
	}
	p.statsMu.Unlock()

	s.ActiveIncidents = p.incidents.ActiveCount()
	s.CachedSubjects = p.cache.Subjects()
	s.BlockedIPs = p.actions.BlockedCount()
	return s
}

// Blocked reports whether ip is on the response blocklist
func (p *Processor) Blocked(ip string) bool {
	return p.actions.Blocked(ip)
}

// Cache exposes the event cache for maintenance jobs
func (p *Processor) Cache() *EventCache {
	return p.cache
}

// Actions exposes the action executor for maintenance jobs
func (p *Processor) Actions() *ActionExecutor {
	return p.actions
}

func maxInt(first int, rest ...int) int {
	m := first
	for _, v := range rest {
		if v > m {
			m = v
		}
	}
	return m
}
