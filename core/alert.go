package core

import (
	"fmt"
	"strings"
	"time"
)

// AlertStatus is the delivery lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusPending      AlertStatus = "PENDING"
	AlertStatusSent         AlertStatus = "SENT"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusThrottled    AlertStatus = "THROTTLED"
	AlertStatusFailed       AlertStatus = "FAILED"
)

// AllAlertStatuses lists every alert status
var AllAlertStatuses = []AlertStatus{
	AlertStatusPending, AlertStatusSent, AlertStatusAcknowledged, AlertStatusThrottled, AlertStatusFailed,
}

// IsValid checks if the status is known
func (s AlertStatus) IsValid() bool {
	for _, known := range AllAlertStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseAlertStatus parses a case-insensitive status name
func ParseAlertStatus(s string) (AlertStatus, error) {
	st := AlertStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("unknown alert status %q", s)
	}
	return st, nil
}

// Channel identifies a notification channel
type Channel string

const (
	ChannelConsole Channel = "console"
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
	ChannelSlack   Channel = "slack"
)

// AlertSource tells whether an alert was raised for an event or an incident
type AlertSource string

const (
	AlertSourceEvent    AlertSource = "event"
	AlertSourceIncident AlertSource = "incident"
)

// AlertDeliveryConfig is the static per-channel delivery policy
type AlertDeliveryConfig struct {
	Channel       Channel  `mapstructure:"channel" json:"channel" yaml:"channel"`
	MinSeverity   Severity `mapstructure:"min_severity" json:"min_severity" yaml:"min_severity"`
	MaxAlerts     int      `mapstructure:"max_alerts" json:"max_alerts" yaml:"max_alerts"`
	WindowSeconds int      `mapstructure:"window_seconds" json:"window_seconds" yaml:"window_seconds"`
	Enabled       bool     `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
}

// Window returns the throttle window as a duration
func (c AlertDeliveryConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// Accepts reports whether the channel should receive an alert of the given severity
func (c AlertDeliveryConfig) Accepts(s Severity) bool {
	return c.Enabled && s.AtLeast(c.MinSeverity)
}

// Validate checks the config for structural correctness
func (c AlertDeliveryConfig) Validate() error {
	if strings.TrimSpace(string(c.Channel)) == "" {
		return fmt.Errorf("delivery config missing channel")
	}
	if !c.MinSeverity.IsValid() {
		return fmt.Errorf("channel %s: unknown min severity %q", c.Channel, c.MinSeverity)
	}
	if c.MaxAlerts <= 0 {
		return fmt.Errorf("channel %s: max_alerts must be positive", c.Channel)
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("channel %s: window_seconds must be positive", c.Channel)
	}
	return nil
}

// DeliveryOutcome is the per-channel result of one dispatch
type DeliveryOutcome string

const (
	DeliverySent      DeliveryOutcome = "sent"
	DeliveryThrottled DeliveryOutcome = "throttled"
	DeliveryFailed    DeliveryOutcome = "failed"
)

// Delivery records what happened on one channel
type Delivery struct {
	Channel     Channel         `json:"channel"`
	Outcome     DeliveryOutcome `json:"outcome"`
	Error       string          `json:"error,omitempty"`
	Duration    time.Duration   `json:"duration_ns"`
	AttemptedAt time.Time       `json:"attempted_at"`
}

// SecurityAlert is mutated only by the dispatcher and by acknowledgment
type SecurityAlert struct {
	ID             string                 `json:"id"`
	EventID        string                 `json:"event_id"`
	IncidentID     string                 `json:"incident_id,omitempty"`
	Source         AlertSource            `json:"source"`
	EventType      EventType              `json:"event_type"`
	SourceIP       string                 `json:"source_ip"`
	Severity       Severity               `json:"severity"`
	RiskScore      int                    `json:"risk_score"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	Channels       []Channel              `json:"channels"`
	Status         AlertStatus            `json:"status"`
	Deliveries     []Delivery             `json:"deliveries,omitempty"`
	AttemptCount   int                    `json:"attempt_count"`
	Emergency      bool                   `json:"emergency"`
	Tags           []string               `json:"tags,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	AcknowledgedBy string                 `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty"`
}

// IsEmergency applies the emergency rule: CRITICAL severity or risk of at least 80
func IsEmergency(s Severity, risk int) bool {
	return s == SeverityCritical || risk >= 80
}

// Acknowledge moves a PENDING or SENT alert to ACKNOWLEDGED. Acknowledging an already
// acknowledged alert succeeds and keeps the first acknowledger.
func (a *SecurityAlert) Acknowledge(userID string, now time.Time) error {
	switch a.Status {
	case AlertStatusAcknowledged:
		return nil
	case AlertStatusPending, AlertStatusSent:
		a.Status = AlertStatusAcknowledged
		a.AcknowledgedBy = userID
		ackAt := now
		a.AcknowledgedAt = &ackAt
		a.UpdatedAt = now
		return nil
	default:
		return fmt.Errorf("%w: alert %s is %s", ErrInvalidTransition, a.ID, a.Status)
	}
}

// AggregateStatus folds per-channel outcomes into the alert status.
// Any success means SENT; otherwise any failure means FAILED; an all-throttled dispatch is THROTTLED.
func AggregateStatus(deliveries []Delivery) AlertStatus {
	if len(deliveries) == 0 {
		return AlertStatusPending
	}
	failed := false
	for _, d := range deliveries {
		switch d.Outcome {
		case DeliverySent:
			return AlertStatusSent
		case DeliveryFailed:
			failed = true
		}
	}
	if failed {
		return AlertStatusFailed
	}
	return AlertStatusThrottled
}

// Clone returns a deep copy
func (a *SecurityAlert) Clone() *SecurityAlert {
	c := *a
	c.Channels = append([]Channel(nil), a.Channels...)
	c.Deliveries = append([]Delivery(nil), a.Deliveries...)
	c.Tags = append([]string(nil), a.Tags...)
	if a.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		c.AcknowledgedAt = &t
	}
	return &c
}
