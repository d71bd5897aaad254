package detect

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"argus/core"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed schema/rules.schema.json
var rulesSchema []byte

// ruleFile is the on-disk layout; Enabled is a pointer so omitted means enabled
type ruleFile struct {
	Rules []ruleDoc `json:"rules" yaml:"rules"`
}

type ruleDoc struct {
	ID                string                `json:"id" yaml:"id"`
	Name              string                `json:"name" yaml:"name"`
	Enabled           *bool                 `json:"enabled" yaml:"enabled"`
	EventTypes        []core.EventType      `json:"event_types" yaml:"event_types"`
	TimeWindowMinutes int                   `json:"time_window_minutes" yaml:"time_window_minutes"`
	Threshold         int                   `json:"threshold" yaml:"threshold"`
	Severity          core.Severity         `json:"severity" yaml:"severity"`
	Actions           []core.ResponseAction `json:"actions" yaml:"actions"`
	Conditions        []core.MatchCondition `json:"conditions" yaml:"conditions"`
}

func (d ruleDoc) toRule() core.ThreatDetectionRule {
	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}
	name := d.Name
	if name == "" {
		name = d.ID
	}
	return core.ThreatDetectionRule{
		ID:                d.ID,
		Name:              name,
		Enabled:           enabled,
		EventTypes:        d.EventTypes,
		TimeWindowMinutes: d.TimeWindowMinutes,
		Threshold:         d.Threshold,
		Severity:          d.Severity,
		Actions:           d.Actions,
		Conditions:        d.Conditions,
	}
}

// RuleValidationReport collects every problem found in a rule document
type RuleValidationReport struct {
	Rules        []core.ThreatDetectionRule
	SchemaErrors []string
	RuleErrors   map[string]error
}

// Valid reports whether the document passed schema and semantic validation
func (r *RuleValidationReport) Valid() bool {
	return len(r.SchemaErrors) == 0 && len(r.RuleErrors) == 0
}

// Err folds the report into a single error
func (r *RuleValidationReport) Err() error {
	if r.Valid() {
		return nil
	}
	var parts []string
	parts = append(parts, r.SchemaErrors...)
	for id, err := range r.RuleErrors {
		parts = append(parts, fmt.Sprintf("%s: %v", id, err))
	}
	return fmt.Errorf("%w: %s", core.ErrInvalidRule, strings.Join(parts, "; "))
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

// LoadRules loads and validates threat rules from a YAML or JSON file
func LoadRules(filename string, patterns *PatternCache, logger *zap.SugaredLogger) ([]core.ThreatDetectionRule, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	report, err := ValidateRuleDocument(data, isYAML(filename), patterns)
	if err != nil {
		return nil, err
	}
	if err := report.Err(); err != nil {
		return nil, err
	}
	logger.Infof("Loaded %d threat rules from %s", len(report.Rules), filename)
	return report.Rules, nil
}

// ValidateRuleFile reads a file and returns its full validation report
func ValidateRuleFile(filename string, patterns *PatternCache) (*RuleValidationReport, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ValidateRuleDocument(data, isYAML(filename), patterns)
}

// ValidateRuleDocument checks a rule document against the embedded JSON schema, then
// validates each rule and compiles its regex conditions. The returned error is only set
// when the document cannot be parsed at all.
func ValidateRuleDocument(data []byte, yamlDoc bool, patterns *PatternCache) (*RuleValidationReport, error) {
	var generic interface{}
	var doc ruleFile
	if yamlDoc {
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to parse rules yaml: %w", err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to parse rules json: %w", err)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
		}
	}

	report := &RuleValidationReport{RuleErrors: make(map[string]error)}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(rulesSchema), gojsonschema.NewGoLoader(generic))
	if err != nil {
		return nil, fmt.Errorf("failed to validate rules against schema: %w", err)
	}
	for _, desc := range result.Errors() {
		report.SchemaErrors = append(report.SchemaErrors, desc.String())
	}

	seen := make(map[string]struct{}, len(doc.Rules))
	for i, d := range doc.Rules {
		rule := d.toRule()
		key := rule.ID
		if key == "" {
			key = fmt.Sprintf("rules[%d]", i)
		}
		if err := rule.Validate(); err != nil {
			report.RuleErrors[key] = err
			continue
		}
		if _, dup := seen[rule.ID]; dup {
			report.RuleErrors[key] = fmt.Errorf("%w: duplicate rule id", core.ErrInvalidRule)
			continue
		}
		seen[rule.ID] = struct{}{}
		if err := compileConditions(&rule, patterns); err != nil {
			report.RuleErrors[key] = err
			continue
		}
		report.Rules = append(report.Rules, rule)
	}
	return report, nil
}

// compileConditions warms the pattern cache and rejects rules with broken regexes
func compileConditions(rule *core.ThreatDetectionRule, patterns *PatternCache) error {
	if patterns == nil {
		return nil
	}
	for i, c := range rule.Conditions {
		if c.Operator != core.OperatorRegex {
			continue
		}
		pattern, ok := c.Value.(string)
		if !ok {
			return fmt.Errorf("%w: condition %d regex value must be a string", core.ErrInvalidRule, i)
		}
		if _, err := patterns.Compile(pattern); err != nil {
			return fmt.Errorf("%w: condition %d: %v", core.ErrInvalidRule, i, err)
		}
	}
	return nil
}

// DefaultRules is the built-in rule set used when no rules file is configured
func DefaultRules() []core.ThreatDetectionRule {
	return []core.ThreatDetectionRule{
		{
			ID: "auth_brute_force", Name: "Repeated authentication failures", Enabled: true,
			EventTypes: []core.EventType{core.EventAuthFailure}, TimeWindowMinutes: 15, Threshold: 5,
			Severity: core.SeverityHigh,
			Actions:  []core.ResponseAction{core.ActionBlockIP, core.ActionAlertSecurityTeam},
		},
		{
			ID: "credential_stuffing", Name: "Brute force signals", Enabled: true,
			EventTypes: []core.EventType{core.EventBruteForce}, TimeWindowMinutes: 10, Threshold: 3,
			Severity: core.SeverityCritical,
			Actions:  []core.ResponseAction{core.ActionBlockIP, core.ActionLockAccount, core.ActionAlertSecurityTeam},
		},
		{
			ID: "injection_campaign", Name: "Injection attempts", Enabled: true,
			EventTypes: []core.EventType{core.EventSQLInjection, core.EventXSS}, TimeWindowMinutes: 5, Threshold: 3,
			Severity: core.SeverityCritical,
			Actions:  []core.ResponseAction{core.ActionBlockIP, core.ActionAlertSecurityTeam},
		},
		{
			ID: "authorization_probing", Name: "Repeated authorization denials", Enabled: true,
			EventTypes: []core.EventType{core.EventAuthzDenied}, TimeWindowMinutes: 10, Threshold: 10,
			Severity: core.SeverityMedium,
			Actions:  []core.ResponseAction{core.ActionMonitorUser, core.ActionRequireMFA},
		},
		{
			ID: "rate_limit_abuse", Name: "Sustained rate limit breaches", Enabled: true,
			EventTypes: []core.EventType{core.EventRateLimitExceeded}, TimeWindowMinutes: 5, Threshold: 20,
			Severity: core.SeverityMedium,
			Actions:  []core.ResponseAction{core.ActionApplyRateLimit, core.ActionLogEvent},
		},
		{
			ID: "scanner_user_agent", Name: "Known scanner user agent", Enabled: true,
			EventTypes: []core.EventType{core.EventSuspiciousPattern}, TimeWindowMinutes: 60, Threshold: 1,
			Severity: core.SeverityHigh,
			Actions:  []core.ResponseAction{core.ActionBlockIP, core.ActionLogEvent},
			Conditions: []core.MatchCondition{
				{Field: "user_agent", Operator: core.OperatorRegex, Value: `(?i)(sqlmap|nikto|nmap|masscan|zgrab)`},
			},
		},
		{
			ID: "privilege_escalation", Name: "Privilege escalation attempt", Enabled: true,
			EventTypes: []core.EventType{core.EventPrivilegeEscalate}, TimeWindowMinutes: 60, Threshold: 1,
			Severity: core.SeverityCritical,
			Actions:  []core.ResponseAction{core.ActionTerminateSession, core.ActionLockAccount, core.ActionAlertSecurityTeam},
		},
		{
			ID: "data_exfiltration", Name: "Data exfiltration", Enabled: true,
			EventTypes: []core.EventType{core.EventDataExfil}, TimeWindowMinutes: 30, Threshold: 1,
			Severity: core.SeverityCritical,
			Actions:  []core.ResponseAction{core.ActionTerminateSession, core.ActionBlockIP, core.ActionAlertSecurityTeam},
		},
		{
			ID: "integrity_violation", Name: "Integrity violation", Enabled: true,
			EventTypes: []core.EventType{core.EventIntegrityViolation}, TimeWindowMinutes: 60, Threshold: 1,
			Severity: core.SeverityCritical,
			Actions:  []core.ResponseAction{core.ActionAlertSecurityTeam, core.ActionLogEvent},
		},
		{
			ID: "config_change_burst", Name: "Configuration change burst", Enabled: true,
			EventTypes: []core.EventType{core.EventConfigChange}, TimeWindowMinutes: 10, Threshold: 5,
			Severity: core.SeverityMedium,
			Actions:  []core.ResponseAction{core.ActionMonitorUser, core.ActionLogEvent},
			Conditions: []core.MatchCondition{
				{Field: "user_id", Operator: core.OperatorEquals, Value: nil},
			},
		},
	}
}
