package core

import (
	"fmt"
	"strings"
	"time"
)

// IncidentStatus is the lifecycle state of a security incident
type IncidentStatus string

const (
	IncidentStatusOpen          IncidentStatus = "OPEN"
	IncidentStatusInvestigating IncidentStatus = "INVESTIGATING"
	IncidentStatusResolved      IncidentStatus = "RESOLVED"
	IncidentStatusClosed        IncidentStatus = "CLOSED"
)

// incidentTransitions is linear with a shortcut to CLOSED from any open state
var incidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentStatusOpen:          {IncidentStatusInvestigating, IncidentStatusClosed},
	IncidentStatusInvestigating: {IncidentStatusResolved, IncidentStatusClosed},
	IncidentStatusResolved:      {IncidentStatusClosed},
	IncidentStatusClosed:        {},
}

// IsValid checks if the status is known
func (s IncidentStatus) IsValid() bool {
	_, ok := incidentTransitions[s]
	return ok
}

// ParseIncidentStatus parses a case-insensitive status name
func ParseIncidentStatus(s string) (IncidentStatus, error) {
	st := IncidentStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("unknown incident status %q", s)
	}
	return st, nil
}

// SecurityIncident is opened once per HIGH or CRITICAL event. Incidents are never merged.
type SecurityIncident struct {
	ID          string         `json:"id"`
	EventIDs    []string       `json:"event_ids"`
	Severity    Severity       `json:"severity"`
	Status      IncidentStatus `json:"status"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ClosedAt    *time.Time     `json:"closed_at,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	// SourceIP and EventType describe the originating event for alert rendering
	SourceIP  string    `json:"source_ip"`
	EventType EventType `json:"event_type"`
	RiskScore int       `json:"risk_score"`
}

// NewIncidentFromEvent builds an OPEN incident for a single processed event
func NewIncidentFromEvent(id string, event *SecurityEvent, now time.Time) *SecurityIncident {
	tags := []string{strings.ToLower(string(event.Type)), "auto-generated"}
	if event.CorrelationID != "" {
		tags = append(tags, "correlated")
	}
	return &SecurityIncident{
		ID:          id,
		EventIDs:    []string{event.ID},
		Severity:    event.Severity,
		Status:      IncidentStatusOpen,
		Title:       fmt.Sprintf("%s incident from %s", event.Type, event.SourceIP),
		Description: fmt.Sprintf("%s severity %s event from %s (risk %d)", event.Severity, event.Type, event.SourceIP, event.RiskScore),
		CreatedAt:   now,
		UpdatedAt:   now,
		Tags:        tags,
		SourceIP:    event.SourceIP,
		EventType:   event.Type,
		RiskScore:   event.RiskScore,
	}
}

// CanTransitionTo checks if a transition is allowed without executing it
func (i *SecurityIncident) CanTransitionTo(next IncidentStatus) bool {
	for _, s := range incidentTransitions[i.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// TransitionTo validates and executes a status change
func (i *SecurityIncident) TransitionTo(next IncidentStatus, now time.Time) error {
	if !next.IsValid() {
		return fmt.Errorf("%w: unknown incident status %q", ErrInvalidTransition, next)
	}
	if !i.CanTransitionTo(next) {
		return fmt.Errorf("%w: incident %s %s -> %s", ErrInvalidTransition, i.ID, i.Status, next)
	}
	i.Status = next
	i.UpdatedAt = now
	if next == IncidentStatusClosed {
		closed := now
		i.ClosedAt = &closed
	}
	return nil
}

// IsActive reports whether the incident still needs attention
func (i *SecurityIncident) IsActive() bool {
	return i.Status != IncidentStatusClosed && i.Status != IncidentStatusResolved
}

// Clone returns a deep copy
func (i *SecurityIncident) Clone() *SecurityIncident {
	c := *i
	c.EventIDs = append([]string(nil), i.EventIDs...)
	c.Tags = append([]string(nil), i.Tags...)
	if i.ClosedAt != nil {
		t := *i.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}
