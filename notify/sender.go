package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"argus/core"

	"go.uber.org/zap"
)

// RenderedAlert is the channel-agnostic payload handed to a Sender
type RenderedAlert struct {
	AlertID     string                 `json:"alert_id"`
	Source      core.AlertSource       `json:"source"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Severity    core.Severity          `json:"severity"`
	EventType   core.EventType         `json:"event_type"`
	SourceIP    string                 `json:"source_ip"`
	RiskScore   int                    `json:"risk_score"`
	Emergency   bool                   `json:"emergency"`
	Tags        []string               `json:"tags,omitempty"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Sender delivers a rendered alert over one channel. Implementations must honor ctx.
type Sender interface {
	Send(ctx context.Context, alert RenderedAlert) error
}

// SenderFunc adapts a function to the Sender interface
type SenderFunc func(ctx context.Context, alert RenderedAlert) error

// Send implements Sender
func (f SenderFunc) Send(ctx context.Context, alert RenderedAlert) error {
	return f(ctx, alert)
}

// ChannelConfig is the delivery policy of a channel plus the settings its sender needs
type ChannelConfig struct {
	core.AlertDeliveryConfig `mapstructure:",squash"`

	// Webhook and slack
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`

	// Email
	SMTPHost     string   `mapstructure:"smtp_host"`
	SMTPPort     int      `mapstructure:"smtp_port"`
	SMTPUsername string   `mapstructure:"smtp_username"`
	SMTPPassword string   `mapstructure:"smtp_password"`
	FromAddress  string   `mapstructure:"from_address"`
	ToAddresses  []string `mapstructure:"to_addresses"`
}

// Validate checks the delivery policy and the sender settings of an enabled channel
func (c ChannelConfig) Validate() error {
	if err := c.AlertDeliveryConfig.Validate(); err != nil {
		return err
	}
	if !c.Enabled {
		return nil
	}
	switch c.Channel {
	case core.ChannelConsole:
	case core.ChannelWebhook, core.ChannelSlack:
		if strings.TrimSpace(c.URL) == "" {
			return fmt.Errorf("channel %s: url is required", c.Channel)
		}
	case core.ChannelEmail:
		if c.SMTPHost == "" || c.FromAddress == "" || len(c.ToAddresses) == 0 {
			return fmt.Errorf("channel %s: smtp_host, from_address and to_addresses are required", c.Channel)
		}
	default:
		return fmt.Errorf("channel %s: %w", c.Channel, core.ErrUnknownChannel)
	}
	return nil
}

// NewSender builds the sender for a channel config
func NewSender(cfg ChannelConfig, logger *zap.SugaredLogger) (Sender, error) {
	switch cfg.Channel {
	case core.ChannelConsole:
		return NewConsoleSender(logger), nil
	case core.ChannelWebhook:
		return NewWebhookSender(cfg.URL, cfg.Method, cfg.Headers, nil), nil
	case core.ChannelSlack:
		return NewSlackSender(cfg.URL, nil), nil
	case core.ChannelEmail:
		return NewEmailSender(EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.FromAddress,
			To:       cfg.ToAddresses,
		}), nil
	default:
		return nil, fmt.Errorf("channel %s: %w", cfg.Channel, core.ErrUnknownChannel)
	}
}
