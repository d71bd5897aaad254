package core

import (
	"fmt"
	"strings"
	"time"
)

// EventType classifies an inbound security signal
type EventType string

const (
	EventAuthFailure        EventType = "AUTH_FAILURE"
	EventAuthzDenied        EventType = "AUTHZ_DENIED"
	EventRateLimitExceeded  EventType = "RATE_LIMIT_EXCEEDED"
	EventSuspiciousPattern  EventType = "SUSPICIOUS_PATTERN"
	EventBruteForce         EventType = "BRUTE_FORCE"
	EventSQLInjection       EventType = "SQL_INJECTION"
	EventXSS                EventType = "XSS"
	EventPrivilegeEscalate  EventType = "PRIVILEGE_ESCALATION"
	EventDataExfil          EventType = "DATA_EXFIL"
	EventAnomalousBehavior  EventType = "ANOMALOUS_BEHAVIOR"
	EventIntegrityViolation EventType = "INTEGRITY_VIOLATION"
	EventConfigChange       EventType = "CONFIG_CHANGE"
)

// AllEventTypes lists every known event type in declaration order
var AllEventTypes = []EventType{
	EventAuthFailure, EventAuthzDenied, EventRateLimitExceeded, EventSuspiciousPattern,
	EventBruteForce, EventSQLInjection, EventXSS, EventPrivilegeEscalate,
	EventDataExfil, EventAnomalousBehavior, EventIntegrityViolation, EventConfigChange,
}

// IsValid checks if the event type is known
func (t EventType) IsValid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEventType parses a case-insensitive event type name
func ParseEventType(s string) (EventType, error) {
	t := EventType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// AnonymousUser is the user component of a subject key when no user is known
const AnonymousUser = "anonymous"

// RequestInfo carries the HTTP request that produced a signal
type RequestInfo struct {
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
	Method    string `json:"method,omitempty" yaml:"method,omitempty"`
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// EventInput is the partial event accepted at ingestion
type EventInput struct {
	Type     EventType              `json:"type"`
	Severity Severity               `json:"severity,omitempty"`
	SourceIP string                 `json:"source_ip"`
	UserID   string                 `json:"user_id,omitempty"`
	Request  RequestInfo            `json:"request"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SecurityEvent is an enriched security signal. Once returned by the processor it is
// never mutated; consumers receive it by value or through read-only pointers.
type SecurityEvent struct {
	ID                string                 `json:"id"`
	Type              EventType              `json:"type"`
	Severity          Severity               `json:"severity"`
	Timestamp         time.Time              `json:"timestamp"`
	SourceIP          string                 `json:"source_ip"`
	UserID            string                 `json:"user_id,omitempty"`
	Request           RequestInfo            `json:"request"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	RiskScore         int                    `json:"risk_score"`
	CorrelationID     string                 `json:"correlation_id,omitempty"`
	ResponseTriggered bool                   `json:"response_triggered"`
	ResponseActions   []ResponseAction       `json:"response_actions,omitempty"`
	// Synthetic marks the low-risk stand-in returned when processing failed
	Synthetic bool `json:"synthetic,omitempty"`
}

// SubjectKey builds the correlation key for a source IP and optional user
func SubjectKey(sourceIP, userID string) string {
	if userID == "" {
		userID = AnonymousUser
	}
	return sourceIP + "|" + userID
}

// Subject returns the correlation key of the event
func (e *SecurityEvent) Subject() string {
	return SubjectKey(e.SourceIP, e.UserID)
}

// ClampRisk bounds a risk score to [0,100]
func ClampRisk(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Clone returns a deep copy of the event so callers can hold it without sharing maps or slices
func (e *SecurityEvent) Clone() *SecurityEvent {
	if e == nil {
		return nil
	}
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	if e.ResponseActions != nil {
		c.ResponseActions = append([]ResponseAction(nil), e.ResponseActions...)
	}
	return &c
}
