package core

import (
	"fmt"
	"strings"
)

// Severity is the ordinal severity of events, incidents and alerts
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// severityRisk maps a rule severity onto the risk score a firing rule contributes
var severityRisk = map[Severity]int{
	SeverityLow:      20,
	SeverityMedium:   40,
	SeverityHigh:     70,
	SeverityCritical: 90,
}

// ParseSeverity parses a case-insensitive severity name
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// IsValid checks if the severity is one of the four known levels
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the ordinal of the severity (LOW=1 .. CRITICAL=4, unknown=0)
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is at or above min
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// RiskScore returns the risk a firing rule of this severity assigns
func (s Severity) RiskScore() int {
	return severityRisk[s]
}

// MaxSeverity returns the higher of two severities
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func (s Severity) String() string {
	return string(s)
}
