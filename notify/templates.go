package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"argus/core"
)

// AlertTemplate is the title/description pair rendered for an event type
type AlertTemplate struct {
	Title       string `mapstructure:"title" yaml:"title" json:"title"`
	Description string `mapstructure:"description" yaml:"description" json:"description"`
}

// FallbackTemplate is used for event types without a template
var FallbackTemplate = AlertTemplate{
	Title:       "Security Event: {{.Type}}",
	Description: "{{.Severity}} {{.Type}} event from {{.SourceIP}} with risk score {{.RiskScore}}",
}

// DefaultTemplates are the stock templates, overridable per event type
func DefaultTemplates() map[core.EventType]AlertTemplate {
	return map[core.EventType]AlertTemplate{
		core.EventBruteForce: {
			Title:       "Brute Force Attack Detected",
			Description: "Repeated authentication failures from {{.SourceIP}}{{if .UserID}} against user {{.UserID}}{{end}} (risk {{.RiskScore}})",
		},
		core.EventAuthFailure: {
			Title:       "Authentication Failures from {{.SourceIP}}",
			Description: "Authentication failed{{if .UserID}} for user {{.UserID}}{{end}} from {{.SourceIP}} (risk {{.RiskScore}})",
		},
		core.EventSQLInjection: {
			Title:       "SQL Injection Attempt",
			Description: "SQL injection payload from {{.SourceIP}}{{if .URL}} on {{.Method}} {{.URL}}{{end}} (risk {{.RiskScore}})",
		},
		core.EventXSS: {
			Title:       "Cross-Site Scripting Attempt",
			Description: "Script injection payload from {{.SourceIP}}{{if .URL}} on {{.Method}} {{.URL}}{{end}} (risk {{.RiskScore}})",
		},
		core.EventPrivilegeEscalate: {
			Title:       "Privilege Escalation Attempt",
			Description: "User {{if .UserID}}{{.UserID}}{{else}}unknown{{end}} from {{.SourceIP}} attempted to gain elevated privileges (risk {{.RiskScore}})",
		},
		core.EventDataExfil: {
			Title:       "Possible Data Exfiltration",
			Description: "Unusual data transfer by {{if .UserID}}{{.UserID}}{{else}}an anonymous client{{end}} from {{.SourceIP}} (risk {{.RiskScore}})",
		},
		core.EventRateLimitExceeded: {
			Title:       "Rate Limit Exceeded",
			Description: "Client {{.SourceIP}} exceeded its request rate (risk {{.RiskScore}})",
		},
		core.EventIntegrityViolation: {
			Title:       "Integrity Violation",
			Description: "Integrity check failed for a request from {{.SourceIP}} (risk {{.RiskScore}})",
		},
		core.EventAnomalousBehavior: {
			Title:       "Anomalous Behavior Detected",
			Description: "Activity from {{.SourceIP}} deviates from its usual volume (risk {{.RiskScore}})",
		},
	}
}

// templateData is the view of an event exposed to templates
type templateData struct {
	Type          core.EventType
	Severity      core.Severity
	SourceIP      string
	UserID        string
	RiskScore     int
	URL           string
	Method        string
	UserAgent     string
	CorrelationID string
	Metadata      map[string]interface{}
}

type compiledTemplate struct {
	title       *template.Template
	description *template.Template
}

func compile(eventType core.EventType, t AlertTemplate) (*compiledTemplate, error) {
	title, err := template.New(string(eventType) + ".title").Option("missingkey=zero").Parse(t.Title)
	if err != nil {
		return nil, fmt.Errorf("template %s title: %w", eventType, err)
	}
	desc, err := template.New(string(eventType) + ".description").Option("missingkey=zero").Parse(t.Description)
	if err != nil {
		return nil, fmt.Errorf("template %s description: %w", eventType, err)
	}
	return &compiledTemplate{title: title, description: desc}, nil
}

func (c *compiledTemplate) render(data templateData) (string, string, error) {
	var title, desc bytes.Buffer
	if err := c.title.Execute(&title, data); err != nil {
		return "", "", err
	}
	if err := c.description.Execute(&desc, data); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(title.String()), strings.TrimSpace(desc.String()), nil
}

// TemplateResolver maps event types to alert titles and descriptions
type TemplateResolver struct {
	templates map[core.EventType]*compiledTemplate
	fallback  *compiledTemplate
}

// NewTemplateResolver compiles the default templates overlaid with overrides
func NewTemplateResolver(overrides map[core.EventType]AlertTemplate) (*TemplateResolver, error) {
	merged := DefaultTemplates()
	for eventType, t := range overrides {
		if !eventType.IsValid() {
			return nil, fmt.Errorf("template for unknown event type %q", eventType)
		}
		merged[eventType] = t
	}

	r := &TemplateResolver{templates: make(map[core.EventType]*compiledTemplate, len(merged))}
	for eventType, t := range merged {
		ct, err := compile(eventType, t)
		if err != nil {
			return nil, err
		}
		r.templates[eventType] = ct
	}
	fallback, err := compile("fallback", FallbackTemplate)
	if err != nil {
		return nil, err
	}
	r.fallback = fallback
	return r, nil
}

// Has reports whether a dedicated template exists for the event type
func (r *TemplateResolver) Has(eventType core.EventType) bool {
	_, ok := r.templates[eventType]
	return ok
}

// RenderEvent renders the title and description for an event, using the fallback
// template when the type has none or its template fails to execute
func (r *TemplateResolver) RenderEvent(event core.SecurityEvent) (string, string) {
	data := templateData{
		Type:          event.Type,
		Severity:      event.Severity,
		SourceIP:      event.SourceIP,
		UserID:        event.UserID,
		RiskScore:     event.RiskScore,
		URL:           event.Request.URL,
		Method:        event.Request.Method,
		UserAgent:     event.Request.UserAgent,
		CorrelationID: event.CorrelationID,
		Metadata:      event.Metadata,
	}
	if ct, ok := r.templates[event.Type]; ok {
		if title, desc, err := ct.render(data); err == nil {
			return title, desc
		}
	}
	title, desc, err := r.fallback.render(data)
	if err != nil {
		return fmt.Sprintf("Security Event: %s", event.Type), ""
	}
	return title, desc
}

// RenderIncident renders the title and description for an incident alert
func (r *TemplateResolver) RenderIncident(incident core.SecurityIncident) (string, string) {
	return "Security Incident: " + incident.Title, incident.Description
}
