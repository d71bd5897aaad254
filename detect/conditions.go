package detect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// ConditionEvaluator checks rule match conditions against a single event
type ConditionEvaluator struct {
	patterns *PatternCache
	logger   *zap.SugaredLogger
}

// NewConditionEvaluator creates an evaluator backed by the given pattern cache
func NewConditionEvaluator(patterns *PatternCache, logger *zap.SugaredLogger) *ConditionEvaluator {
	return &ConditionEvaluator{patterns: patterns, logger: logger}
}

// MatchAll reports whether every condition of the rule holds for the event.
// A rule without conditions matches every event of its types.
func (ce *ConditionEvaluator) MatchAll(rule *core.ThreatDetectionRule, event *core.SecurityEvent) bool {
	for i := range rule.Conditions {
		if !ce.Match(rule.ID, rule.Conditions[i], event) {
			return false
		}
	}
	return true
}

// Match evaluates one condition. Missing fields never match.
func (ce *ConditionEvaluator) Match(ruleID string, cond core.MatchCondition, event *core.SecurityEvent) bool {
	actual, present := fieldValue(event, cond.Field)

	switch cond.Operator {
	case core.OperatorEquals:
		if cond.Value == nil {
			// subject identity: the window is already scoped to this event's subject
			return present && actual != nil && fmt.Sprint(actual) != ""
		}
		if !present {
			return false
		}
		return valuesEqual(actual, cond.Value)

	case core.OperatorContains:
		if !present {
			return false
		}
		return strings.Contains(fmt.Sprint(actual), fmt.Sprint(cond.Value))

	case core.OperatorRegex:
		if !present {
			return false
		}
		pattern, ok := cond.Value.(string)
		if !ok {
			return false
		}
		matched, err := ce.patterns.Match(pattern, fmt.Sprint(actual))
		if err != nil {
			if errors.Is(err, ErrRegexTimeout) {
				metrics.RegexTimeouts.WithLabelValues(ruleID).Inc()
			}
			ce.logger.Warnw("Regex condition failed", "rule_id", ruleID, "field", cond.Field, "error", err)
			return false
		}
		return matched

	case core.OperatorGreaterThan, core.OperatorLessThan:
		if !present {
			return false
		}
		a, okA := toFloat(actual)
		b, okB := toFloat(cond.Value)
		if !okA || !okB {
			return false
		}
		if cond.Operator == core.OperatorGreaterThan {
			return a > b
		}
		return a < b

	default:
		return false
	}
}

// fieldValue resolves a condition field. Top-level event fields are addressed by their
// JSON name; request fields by "request.<name>" or the bare name; anything else is looked
// up in metadata, with or without a "metadata." prefix.
func fieldValue(e *core.SecurityEvent, field string) (interface{}, bool) {
	switch field {
	case "type", "event_type":
		return string(e.Type), true
	case "severity":
		return string(e.Severity), true
	case "source_ip":
		return e.SourceIP, e.SourceIP != ""
	case "user_id":
		return e.UserID, e.UserID != ""
	case "risk_score":
		return e.RiskScore, true
	case "request.url", "url":
		return e.Request.URL, e.Request.URL != ""
	case "request.method", "method":
		return e.Request.Method, e.Request.Method != ""
	case "request.user_agent", "user_agent":
		return e.Request.UserAgent, e.Request.UserAgent != ""
	}
	key := strings.TrimPrefix(field, "metadata.")
	v, ok := e.Metadata[key]
	return v, ok
}

func valuesEqual(actual, expected interface{}) bool {
	if a, okA := toFloat(actual); okA {
		if b, okB := toFloat(expected); okB {
			return a == b
		}
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

// toFloat coerces numbers and numeric strings
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
