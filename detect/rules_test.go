package detect

import (
	"strings"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestEngine(t *testing.T, rules ...core.ThreatDetectionRule) (*ThreatRuleEngine, *EventCache, *core.ManualClock) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	clock := core.NewManualClock(testStart)
	cache := NewEventCache(4, time.Hour, clock)
	return NewThreatRuleEngine(rules, cache, newTestEvaluator(t), clock, logger), cache, clock
}

func TestRuleFiresExactlyAtThreshold(t *testing.T) {
	for _, n := range []int{1, 3, 5, 10} {
		rule := bruteForceRule()
		rule.Threshold = n
		engine, cache, clock := newTestEngine(t, rule)

		var last ThreatResult
		for i := 1; i <= n; i++ {
			e := eventAt("10.0.0.1", "", core.EventAuthFailure, clock.Now())
			cache.Record(e)
			last = engine.Evaluate(e)
			if i < n {
				assert.False(t, last.Triggered, "threshold %d fired on event %d", n, i)
			}
			clock.Advance(10 * time.Second)
		}
		assert.True(t, last.Triggered, "threshold %d did not fire on event %d", n, n)
	}
}

func TestEventsOutsideWindowDoNotCount(t *testing.T) {
	rule := bruteForceRule()
	rule.TimeWindowMinutes = 5
	rule.Threshold = 3
	engine, cache, clock := newTestEngine(t, rule)

	for i := 0; i < 6; i++ {
		e := eventAt("10.0.0.1", "", core.EventAuthFailure, clock.Now())
		cache.Record(e)
		assert.False(t, engine.Evaluate(e).Triggered, "event %d spaced beyond the window fired", i)
		clock.Advance(6 * time.Minute)
	}
}

func TestFiredRuleResult(t *testing.T) {
	rule := bruteForceRule()
	rule.Threshold = 1
	engine, cache, clock := newTestEngine(t, rule)

	e := eventAt("10.0.0.1", "", core.EventAuthFailure, clock.Now())
	cache.Record(e)
	res := engine.Evaluate(e)

	require.True(t, res.Triggered)
	assert.Equal(t, 70, res.RiskScore)
	assert.Equal(t, core.SeverityHigh, res.Severity)
	assert.Equal(t, []string{"brute_force"}, res.FiredRules)
	assert.Equal(t, []core.ResponseAction{core.ActionBlockIP, core.ActionAlertSecurityTeam}, res.Actions)
	assert.True(t, strings.HasPrefix(res.CorrelationID, "threat_brute_force_"))
	assert.Contains(t, res.CorrelationID, "1704110400000")
}

func TestMultipleRulesUnionActionsAndMaxRisk(t *testing.T) {
	low := core.ThreatDetectionRule{
		ID: "low", Enabled: true, EventTypes: []core.EventType{core.EventAuthFailure},
		TimeWindowMinutes: 10, Threshold: 1, Severity: core.SeverityLow,
		Actions: []core.ResponseAction{core.ActionLogEvent, core.ActionMonitorUser},
	}
	critical := core.ThreatDetectionRule{
		ID: "critical", Enabled: true, EventTypes: []core.EventType{core.EventAuthFailure},
		TimeWindowMinutes: 10, Threshold: 1, Severity: core.SeverityCritical,
		Actions: []core.ResponseAction{core.ActionBlockIP, core.ActionLogEvent},
	}
	engine, cache, clock := newTestEngine(t, low, critical)

	e := eventAt("10.0.0.1", "", core.EventAuthFailure, clock.Now())
	cache.Record(e)
	res := engine.Evaluate(e)

	assert.Equal(t, 90, res.RiskScore)
	assert.Equal(t, core.SeverityCritical, res.Severity)
	assert.ElementsMatch(t, []core.ResponseAction{core.ActionLogEvent, core.ActionMonitorUser, core.ActionBlockIP}, res.Actions)
	assert.True(t, strings.HasPrefix(res.CorrelationID, "threat_critical_"), "highest-risk rule owns the correlation id")
}

func TestDisabledAndNonMatchingRulesAreSkipped(t *testing.T) {
	disabled := bruteForceRule()
	disabled.Threshold = 1
	disabled.Enabled = false

	conditional := bruteForceRule()
	conditional.ID = "admin_only"
	conditional.Threshold = 1
	conditional.Conditions = []core.MatchCondition{{Field: "url", Operator: core.OperatorContains, Value: "/admin"}}

	engine, cache, clock := newTestEngine(t, disabled, conditional)

	e := eventAt("10.0.0.1", "", core.EventAuthFailure, clock.Now())
	e.Request.URL = "/login"
	cache.Record(e)
	assert.False(t, engine.Evaluate(e).Triggered)

	e2 := eventAt("10.0.0.1", "", core.EventAuthFailure, clock.Now())
	e2.Request.URL = "/admin/login"
	cache.Record(e2)
	res := engine.Evaluate(e2)
	assert.True(t, res.Triggered)
	assert.Equal(t, []string{"admin_only"}, res.FiredRules)
}

func TestRuleCountsOnlyItsEventTypes(t *testing.T) {
	rule := bruteForceRule()
	rule.Threshold = 3
	engine, cache, clock := newTestEngine(t, rule)

	cache.Record(eventAt("10.0.0.1", "", core.EventXSS, clock.Now()))
	cache.Record(eventAt("10.0.0.1", "", core.EventXSS, clock.Now()))
	e := eventAt("10.0.0.1", "", core.EventAuthFailure, clock.Now())
	cache.Record(e)

	assert.False(t, engine.Evaluate(e).Triggered)
}
