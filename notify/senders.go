package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"argus/core"

	"go.uber.org/zap"
)

// DefaultHTTPTimeout bounds HTTP senders that were not given a client
const DefaultHTTPTimeout = 15 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: DefaultHTTPTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// ConsoleSender writes alerts to the structured log
type ConsoleSender struct {
	logger *zap.SugaredLogger
}

// NewConsoleSender creates a console sender
func NewConsoleSender(logger *zap.SugaredLogger) *ConsoleSender {
	return &ConsoleSender{logger: logger}
}

// Send implements Sender
func (s *ConsoleSender) Send(ctx context.Context, alert RenderedAlert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kv := []interface{}{
		"alert_id", alert.AlertID,
		"source", alert.Source,
		"severity", alert.Severity,
		"event_type", alert.EventType,
		"source_ip", alert.SourceIP,
		"risk_score", alert.RiskScore,
		"description", alert.Description,
	}
	if alert.Emergency {
		s.logger.Errorw("EMERGENCY security alert: "+alert.Title, kv...)
		return nil
	}
	s.logger.Warnw("Security alert: "+alert.Title, kv...)
	return nil
}

// WebhookSender POSTs the alert as JSON
type WebhookSender struct {
	url     string
	method  string
	headers map[string]string
	client  *http.Client
}

// NewWebhookSender creates a webhook sender; an empty method means POST
func NewWebhookSender(url, method string, headers map[string]string, client *http.Client) *WebhookSender {
	if method == "" {
		method = http.MethodPost
	}
	if client == nil {
		client = defaultHTTPClient()
	}
	return &WebhookSender{url: url, method: method, headers: headers, client: client}
}

// Send implements Sender
func (s *WebhookSender) Send(ctx context.Context, alert RenderedAlert) error {
	payload := map[string]interface{}{
		"type":      "security_alert",
		"alert":     alert,
		"timestamp": alert.CreatedAt.UTC().Format(time.RFC3339),
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.headers {
		req.Header.Set(key, value)
	}
	return doRequest(s.client, req, "webhook")
}

// SlackSender posts the alert to a chat incoming-webhook as an attachment
type SlackSender struct {
	url    string
	client *http.Client
}

// NewSlackSender creates a chat-webhook sender
func NewSlackSender(url string, client *http.Client) *SlackSender {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &SlackSender{url: url, client: client}
}

var severityColor = map[core.Severity]string{
	core.SeverityCritical: "#d32f2f",
	core.SeverityHigh:     "#f44336",
	core.SeverityMedium:   "#ff9800",
	core.SeverityLow:      "#2196f3",
}

// Send implements Sender
func (s *SlackSender) Send(ctx context.Context, alert RenderedAlert) error {
	color := severityColor[alert.Severity]
	if color == "" {
		color = "#757575"
	}
	text := alert.Title
	if alert.Emergency {
		text = ":rotating_light: " + text
	}

	fields := []map[string]interface{}{
		{"title": "Severity", "value": string(alert.Severity), "short": true},
		{"title": "Risk", "value": strconv.Itoa(alert.RiskScore), "short": true},
		{"title": "Type", "value": string(alert.EventType), "short": true},
		{"title": "Source IP", "value": alert.SourceIP, "short": true},
	}
	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": fmt.Sprint(alert.Fields[k]),
			"short": false,
		})
	}

	payload := map[string]interface{}{
		"text": text,
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"title":  alert.Title,
				"text":   alert.Description,
				"fields": fields,
				"footer": "argus",
				"ts":     alert.CreatedAt.Unix(),
			},
		},
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(s.client, req, "slack")
}

func doRequest(client *http.Client, req *http.Request, kind string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", kind, resp.StatusCode)
	}
	return nil
}

// EmailConfig holds SMTP settings
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailSender delivers alerts over SMTP. STARTTLS is used when offered and
// credentials are only sent over TLS or to a loopback server.
type EmailSender struct {
	cfg EmailConfig
}

// NewEmailSender creates an email sender; a zero port means 587
func NewEmailSender(cfg EmailConfig) *EmailSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailSender{cfg: cfg}
}

var emailBody = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body>
<h2>{{.Title}}</h2>
<p>{{.Description}}</p>
<table>
<tr><td><b>Severity</b></td><td>{{.Severity}}</td></tr>
<tr><td><b>Risk score</b></td><td>{{.RiskScore}}</td></tr>
<tr><td><b>Event type</b></td><td>{{.EventType}}</td></tr>
<tr><td><b>Source IP</b></td><td>{{.SourceIP}}</td></tr>
<tr><td><b>Alert ID</b></td><td>{{.AlertID}}</td></tr>
</table>
</body>
</html>
`))

var headerBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// headerValue folds line breaks so rendered text cannot start a new header
func headerValue(v string) string {
	return headerBreaks.Replace(v)
}

// Send implements Sender
func (s *EmailSender) Send(ctx context.Context, alert RenderedAlert) error {
	var body bytes.Buffer
	if err := emailBody.Execute(&body, alert); err != nil {
		return fmt.Errorf("failed to render email: %w", err)
	}
	subject := fmt.Sprintf("[%s] %s", alert.Severity, alert.Title)
	if alert.Emergency {
		subject = "[EMERGENCY] " + subject
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(s.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", headerValue(subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(body.String())

	return s.deliver(ctx, []byte(msg.String()))
}

func (s *EmailSender) deliver(ctx context.Context, message []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if s.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, to := range s.cfg.To {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("failed to add recipient %s: %w", to, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}
	return client.Quit()
}
