package core

import (
	"fmt"
	"strings"
	"time"
)

// ConditionOperator is the comparison a match condition applies
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorRegex       ConditionOperator = "regex"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
)

// IsValid checks if the operator is supported
func (o ConditionOperator) IsValid() bool {
	switch o {
	case OperatorEquals, OperatorContains, OperatorRegex, OperatorGreaterThan, OperatorLessThan:
		return true
	default:
		return false
	}
}

// MatchCondition is evaluated against the triggering event only, never against history.
// For OperatorEquals a nil Value matches subject identity: the field only has to be present,
// because the rule window is already scoped to the event's own subject.
type MatchCondition struct {
	Field    string            `json:"field" yaml:"field"`
	Operator ConditionOperator `json:"operator" yaml:"operator"`
	Value    interface{}       `json:"value" yaml:"value"`
}

// ThreatDetectionRule correlates repeated events of a subject within a time window.
// Rules are loaded once at startup and never modified afterwards.
type ThreatDetectionRule struct {
	ID                string           `json:"id" yaml:"id"`
	Name              string           `json:"name" yaml:"name"`
	Enabled           bool             `json:"enabled" yaml:"enabled"`
	EventTypes        []EventType      `json:"event_types" yaml:"event_types"`
	TimeWindowMinutes int              `json:"time_window_minutes" yaml:"time_window_minutes"` // bounds which cached events count toward Threshold
	Threshold         int              `json:"threshold" yaml:"threshold"`
	Severity          Severity         `json:"severity" yaml:"severity"`
	Actions           []ResponseAction `json:"actions" yaml:"actions"`
	Conditions        []MatchCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// TimeWindow returns the rule window as a duration
func (r *ThreatDetectionRule) TimeWindow() time.Duration {
	return time.Duration(r.TimeWindowMinutes) * time.Minute
}

// AppliesTo reports whether the rule watches the given event type
func (r *ThreatDetectionRule) AppliesTo(t EventType) bool {
	for _, et := range r.EventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// Validate checks the rule for structural correctness
func (r *ThreatDetectionRule) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidRule)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: rule missing id", ErrInvalidRule)
	}
	if len(r.EventTypes) == 0 {
		return fmt.Errorf("%w: rule %s has no event types", ErrInvalidRule, r.ID)
	}
	for _, et := range r.EventTypes {
		if !et.IsValid() {
			return fmt.Errorf("%w: rule %s has unknown event type %q", ErrInvalidRule, r.ID, et)
		}
	}
	if r.TimeWindowMinutes <= 0 {
		return fmt.Errorf("%w: rule %s time window must be positive", ErrInvalidRule, r.ID)
	}
	if r.Threshold <= 0 {
		return fmt.Errorf("%w: rule %s threshold must be positive", ErrInvalidRule, r.ID)
	}
	if !r.Severity.IsValid() {
		return fmt.Errorf("%w: rule %s has unknown severity %q", ErrInvalidRule, r.ID, r.Severity)
	}
	for _, a := range r.Actions {
		if !a.IsValid() {
			return fmt.Errorf("%w: rule %s has unknown action %q", ErrInvalidRule, r.ID, a)
		}
	}
	for i, c := range r.Conditions {
		if strings.TrimSpace(c.Field) == "" {
			return fmt.Errorf("%w: rule %s condition %d missing field", ErrInvalidRule, r.ID, i)
		}
		if !c.Operator.IsValid() {
			return fmt.Errorf("%w: rule %s condition %d has unknown operator %q", ErrInvalidRule, r.ID, i, c.Operator)
		}
		if c.Value == nil && c.Operator != OperatorEquals {
			return fmt.Errorf("%w: rule %s condition %d: only equals accepts a null value", ErrInvalidRule, r.ID, i)
		}
	}
	return nil
}

// ValidateRules validates every rule and rejects duplicate ids
func ValidateRules(rules []ThreatDetectionRule) error {
	seen := make(map[string]struct{}, len(rules))
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return err
		}
		if _, dup := seen[rules[i].ID]; dup {
			return fmt.Errorf("%w: duplicate rule id %s", ErrInvalidRule, rules[i].ID)
		}
		seen[rules[i].ID] = struct{}{}
	}
	return nil
}
