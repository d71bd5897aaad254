package detect

import (
	"context"
	"sync"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testStart = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeIncidents struct {
	mu      sync.Mutex
	items   []*core.SecurityIncident
	err     error
	panicOn bool
}

func (f *fakeIncidents) Create(incident *core.SecurityIncident) error {
	if f.panicOn {
		panic("incident store exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.items = append(f.items, incident.Clone())
	return nil
}

func (f *fakeIncidents) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, i := range f.items {
		if i.IsActive() {
			n++
		}
	}
	return n
}

func (f *fakeIncidents) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

type recordingSubscriber struct {
	mu        sync.Mutex
	calls     []string
	events    []core.SecurityEvent
	incidents []core.SecurityIncident
}

func (r *recordingSubscriber) OnIncidentCreated(_ context.Context, incident core.SecurityIncident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "incident")
	r.incidents = append(r.incidents, incident)
}

func (r *recordingSubscriber) OnProcessedEvent(_ context.Context, event core.SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "event")
	r.events = append(r.events, event)
}

type testPipeline struct {
	clock     *core.ManualClock
	cache     *EventCache
	incidents *fakeIncidents
	sub       *recordingSubscriber
	actions   *ActionExecutor
	processor *Processor
}

func newTestPipeline(t *testing.T, rules []core.ThreatDetectionRule, reputation map[string]int) *testPipeline {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	clock := core.NewManualClock(testStart)

	cache := NewEventCache(4, time.Hour, clock)
	patterns, err := NewPatternCache(16, 0)
	require.NoError(t, err)
	engine := NewThreatRuleEngine(rules, cache, NewConditionEvaluator(patterns, logger), clock, logger)
	rep, err := NewReputationTable(reputation, 0)
	require.NoError(t, err)
	actions := NewActionExecutor(DefaultActionConfig(), clock, logger)
	incidents := &fakeIncidents{}

	p, err := NewProcessor(ProcessorDeps{
		Cache:      cache,
		Rules:      engine,
		Anomaly:    NewAnomalyDetector(DefaultAnomalyConfig(), cache),
		Reputation: rep,
		Actions:    actions,
		Incidents:  incidents,
		Clock:      clock,
		Logger:     logger,
	})
	require.NoError(t, err)

	sub := &recordingSubscriber{}
	p.Subscribe(DirectPublisher{Subscriber: sub})

	return &testPipeline{
		clock:     clock,
		cache:     cache,
		incidents: incidents,
		sub:       sub,
		actions:   actions,
		processor: p,
	}
}

func bruteForceRule() core.ThreatDetectionRule {
	return core.ThreatDetectionRule{
		ID:                "brute_force",
		Name:              "Brute force",
		Enabled:           true,
		EventTypes:        []core.EventType{core.EventAuthFailure},
		TimeWindowMinutes: 15,
		Threshold:         5,
		Severity:          core.SeverityHigh,
		Actions:           []core.ResponseAction{core.ActionBlockIP, core.ActionAlertSecurityTeam},
	}
}

func authFailure(ip string) core.EventInput {
	return core.EventInput{
		Type:     core.EventAuthFailure,
		Severity: core.SeverityLow,
		SourceIP: ip,
		Request:  core.RequestInfo{URL: "/login", Method: "POST", UserAgent: "curl/8.0"},
	}
}

func eventAt(ip, user string, t core.EventType, ts time.Time) *core.SecurityEvent {
	return &core.SecurityEvent{
		ID:        ts.Format(time.RFC3339Nano),
		Type:      t,
		Severity:  core.SeverityLow,
		Timestamp: ts,
		SourceIP:  ip,
		UserID:    user,
	}
}
