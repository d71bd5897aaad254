package detect

import (
	"fmt"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// ThreatResult is the outcome of rule evaluation for one event
type ThreatResult struct {
	RiskScore     int
	CorrelationID string
	Triggered     bool
	Actions       []core.ResponseAction
	// Severity is the highest severity among fired rules; empty when nothing fired
	Severity   core.Severity
	FiredRules []string
}

// ThreatRuleEngine correlates an event with its subject's recent history.
// The rule set is fixed at construction; Evaluate only reads the cache.
type ThreatRuleEngine struct {
	rules      []core.ThreatDetectionRule
	cache      *EventCache
	conditions *ConditionEvaluator
	clock      core.Clock
	logger     *zap.SugaredLogger
}

// NewThreatRuleEngine creates an engine over a validated rule set
func NewThreatRuleEngine(rules []core.ThreatDetectionRule, cache *EventCache, conditions *ConditionEvaluator, clock core.Clock, logger *zap.SugaredLogger) *ThreatRuleEngine {
	if clock == nil {
		clock = core.SystemClock{}
	}
	owned := make([]core.ThreatDetectionRule, len(rules))
	copy(owned, rules)
	enabled := 0
	for i := range owned {
		if !owned[i].Enabled {
			continue
		}
		enabled++
		if owned[i].TimeWindow() > cache.WriteWindow() {
			logger.Warnf("Rule %s window %v exceeds event cache write window %v; older events will not be counted",
				owned[i].ID, owned[i].TimeWindow(), cache.WriteWindow())
		}
	}
	logger.Infof("Threat rule engine initialized with %d rules (%d enabled)", len(owned), enabled)
	return &ThreatRuleEngine{
		rules:      owned,
		cache:      cache,
		conditions: conditions,
		clock:      clock,
		logger:     logger,
	}
}

// Rules returns a copy of the rule set
func (e *ThreatRuleEngine) Rules() []core.ThreatDetectionRule {
	out := make([]core.ThreatDetectionRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs every enabled rule watching the event's type. The event must already be
// recorded in the cache, so it counts toward its own threshold.
func (e *ThreatRuleEngine) Evaluate(event *core.SecurityEvent) ThreatResult {
	var result ThreatResult
	subject := event.Subject()

	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Enabled || !rule.AppliesTo(event.Type) {
			continue
		}
		if !e.conditions.MatchAll(rule, event) {
			continue
		}

		count := e.cache.Count(subject, rule.TimeWindow(), rule.EventTypes)
		if count < rule.Threshold {
			continue
		}

		result.Triggered = true
		result.FiredRules = append(result.FiredRules, rule.ID)
		result.Actions = core.UnionActions(result.Actions, rule.Actions...)
		result.Severity = core.MaxSeverity(result.Severity, rule.Severity)
		metrics.RulesFired.WithLabelValues(rule.ID).Inc()

		// strictly greater keeps the first rule on ties
		if risk := rule.Severity.RiskScore(); risk > result.RiskScore {
			result.RiskScore = risk
			result.CorrelationID = fmt.Sprintf("threat_%s_%d", rule.ID, e.clock.Now().UnixMilli())
		}

		e.logger.Debugw("Threat rule fired",
			"rule_id", rule.ID,
			"subject", subject,
			"count", count,
			"threshold", rule.Threshold)
	}
	return result
}
