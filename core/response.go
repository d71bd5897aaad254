package core

import "fmt"

// ResponseAction is an automated response that rules and the anomaly detector can request
type ResponseAction string

const (
	ActionBlockIP           ResponseAction = "block_ip"
	ActionLockAccount       ResponseAction = "lock_account"
	ActionRequireMFA        ResponseAction = "require_mfa"
	ActionTerminateSession  ResponseAction = "terminate_session"
	ActionMonitorUser       ResponseAction = "monitor_user"
	ActionApplyRateLimit    ResponseAction = "apply_rate_limit"
	ActionAlertSecurityTeam ResponseAction = "alert_security_team"
	ActionLogEvent          ResponseAction = "log_event"
)

// AllResponseActions lists the closed set of response actions
var AllResponseActions = []ResponseAction{
	ActionBlockIP, ActionLockAccount, ActionRequireMFA, ActionTerminateSession,
	ActionMonitorUser, ActionApplyRateLimit, ActionAlertSecurityTeam, ActionLogEvent,
}

// IsValid checks if the action belongs to the closed set
func (a ResponseAction) IsValid() bool {
	for _, known := range AllResponseActions {
		if a == known {
			return true
		}
	}
	return false
}

// ParseResponseAction parses an action name
func ParseResponseAction(s string) (ResponseAction, error) {
	a := ResponseAction(s)
	if !a.IsValid() {
		return "", fmt.Errorf("unknown response action %q", s)
	}
	return a, nil
}

// UnionActions appends every action in add that is not already in base, preserving order
func UnionActions(base []ResponseAction, add ...ResponseAction) []ResponseAction {
	for _, a := range add {
		found := false
		for _, b := range base {
			if a == b {
				found = true
				break
			}
		}
		if !found {
			base = append(base, a)
		}
	}
	return base
}
