package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"argus/core"
	"argus/detect"
	"argus/notify"
	"argus/storage"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ARGUS_API_PORT
const EnvPrefix = "ARGUS"

// ReputationEntry assigns a reputation score to an IP or CIDR
type ReputationEntry struct {
	CIDR  string `mapstructure:"cidr"`
	Score int    `mapstructure:"score"`
}

// DetectionConfig configures the detection engine
type DetectionConfig struct {
	RulesFile           string               `mapstructure:"rules_file"`
	CacheShards         int                  `mapstructure:"cache_shards"`
	CacheWriteWindow    time.Duration        `mapstructure:"cache_write_window"`
	RegexTimeout        time.Duration        `mapstructure:"regex_timeout"`
	PatternCacheSize    int                  `mapstructure:"pattern_cache_size"`
	ReputationCacheSize int                  `mapstructure:"reputation_cache_size"`
	Reputation          []ReputationEntry    `mapstructure:"reputation"`
	Anomaly             detect.AnomalyConfig `mapstructure:"anomaly"`
	Actions             detect.ActionConfig  `mapstructure:"actions"`
}

// ReputationTable returns the reputation entries keyed by CIDR
func (d DetectionConfig) ReputationTable() map[string]int {
	table := make(map[string]int, len(d.Reputation))
	for _, e := range d.Reputation {
		table[e.CIDR] = e.Score
	}
	return table
}

// AlertingConfig configures alert generation and delivery
type AlertingConfig struct {
	Enabled     bool                            `mapstructure:"enabled"`
	MinSeverity core.Severity                   `mapstructure:"min_severity"`
	DedupWindow time.Duration                   `mapstructure:"dedup_window"`
	SendTimeout time.Duration                   `mapstructure:"send_timeout"`
	Breaker     core.CircuitBreakerConfig       `mapstructure:"circuit_breaker"`
	Channels    []notify.ChannelConfig          `mapstructure:"channels"`
	Templates   map[string]notify.AlertTemplate `mapstructure:"templates"`
	Redis       notify.RedisConfig              `mapstructure:"redis"`
}

// DispatcherConfig returns the dispatcher settings
func (a AlertingConfig) DispatcherConfig() notify.DispatcherConfig {
	return notify.DispatcherConfig{
		Enabled:     a.Enabled,
		MinSeverity: a.MinSeverity,
		DedupWindow: a.DedupWindow,
		SendTimeout: a.SendTimeout,
		Breaker:     a.Breaker,
	}
}

// TemplateOverrides returns the configured templates keyed by event type
func (a AlertingConfig) TemplateOverrides() (map[core.EventType]notify.AlertTemplate, error) {
	out := make(map[core.EventType]notify.AlertTemplate, len(a.Templates))
	for name, t := range a.Templates {
		eventType, err := core.ParseEventType(name)
		if err != nil {
			return nil, fmt.Errorf("alerting.templates: %w", err)
		}
		out[eventType] = t
	}
	return out, nil
}

// Config holds all configuration for the argus service
type Config struct {
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	API struct {
		Host         string        `mapstructure:"host"`
		Port         int           `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
		RateLimit    struct {
			RequestsPerSecond float64 `mapstructure:"requests_per_second"`
			Burst             int     `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Detection DetectionConfig         `mapstructure:"detection"`
	Alerting  AlertingConfig          `mapstructure:"alerting"`
	Retention storage.RetentionConfig `mapstructure:"retention"`

	Bus struct {
		Workers   int `mapstructure:"workers"`
		QueueSize int `mapstructure:"queue_size"`
	} `mapstructure:"bus"`
}

// Addr returns the API listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.API.Host, fmt.Sprint(c.API.Port))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.read_timeout", 15*time.Second)
	v.SetDefault("api.write_timeout", 15*time.Second)
	v.SetDefault("api.max_body_bytes", 1<<20)
	v.SetDefault("api.rate_limit.requests_per_second", 100)
	v.SetDefault("api.rate_limit.burst", 200)

	anomaly := detect.DefaultAnomalyConfig()
	actions := detect.DefaultActionConfig()
	v.SetDefault("detection.rules_file", "")
	v.SetDefault("detection.cache_shards", 32)
	v.SetDefault("detection.cache_write_window", time.Hour)
	v.SetDefault("detection.regex_timeout", 100*time.Millisecond)
	v.SetDefault("detection.pattern_cache_size", 512)
	v.SetDefault("detection.reputation_cache_size", 4096)
	v.SetDefault("detection.anomaly.window", anomaly.Window)
	v.SetDefault("detection.anomaly.score_threshold", anomaly.ScoreThreshold)
	v.SetDefault("detection.anomaly.trigger_threshold", anomaly.TriggerThreshold)
	v.SetDefault("detection.anomaly.base_risk", anomaly.BaseRisk)
	v.SetDefault("detection.anomaly.max_risk", anomaly.MaxRisk)
	v.SetDefault("detection.actions.block_duration", actions.BlockDuration)
	v.SetDefault("detection.actions.monitor_duration", actions.MonitorDuration)
	v.SetDefault("detection.actions.rate_limit_duration", actions.RateLimitDuration)

	breaker := core.DefaultCircuitBreakerConfig()
	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.min_severity", string(core.SeverityMedium))
	v.SetDefault("alerting.dedup_window", notify.DefaultDedupWindow)
	v.SetDefault("alerting.send_timeout", notify.DefaultSendTimeout)
	v.SetDefault("alerting.circuit_breaker.max_failures", breaker.MaxFailures)
	v.SetDefault("alerting.circuit_breaker.timeout", breaker.Timeout)
	v.SetDefault("alerting.circuit_breaker.max_half_open_requests", breaker.MaxHalfOpenRequests)
	v.SetDefault("alerting.channels", []map[string]interface{}{
		{
			"channel":        string(core.ChannelConsole),
			"min_severity":   string(core.SeverityLow),
			"max_alerts":     100,
			"window_seconds": 60,
			"enabled":        true,
		},
	})
	v.SetDefault("alerting.redis.enabled", false)
	v.SetDefault("alerting.redis.addr", "localhost:6379")
	v.SetDefault("alerting.redis.password", "")
	v.SetDefault("alerting.redis.db", 0)
	v.SetDefault("alerting.redis.pool_size", 10)

	retention := storage.DefaultRetentionConfig()
	v.SetDefault("retention.event_max_age", retention.EventMaxAge)
	v.SetDefault("retention.alert_max_age", retention.AlertMaxAge)
	v.SetDefault("retention.incident_max_age", retention.IncidentMaxAge)
	v.SetDefault("retention.throttle_idle", retention.ThrottleIdle)
	v.SetDefault("retention.hourly_interval", retention.HourlyInterval)
	v.SetDefault("retention.daily_interval", retention.DailyInterval)

	v.SetDefault("bus.workers", 4)
	v.SetDefault("bus.queue_size", 1024)
}

// Load reads configuration from path, or from argus.yaml in . or ./config when path is
// empty, then applies ARGUS_* environment overrides and validates the result
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("argus")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.normalize()

	if err := LoadSecrets(&cfg, &EnvSecretManager{}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// normalize upper-cases severities so that "high" and "HIGH" are equivalent
func (c *Config) normalize() {
	c.Alerting.MinSeverity = core.Severity(strings.ToUpper(strings.TrimSpace(string(c.Alerting.MinSeverity))))
	for i := range c.Alerting.Channels {
		ch := &c.Alerting.Channels[i]
		ch.Channel = core.Channel(strings.ToLower(strings.TrimSpace(string(ch.Channel))))
		ch.MinSeverity = core.Severity(strings.ToUpper(strings.TrimSpace(string(ch.MinSeverity))))
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d (must be 1-65535)", c.API.Port)
	}
	if c.API.RateLimit.RequestsPerSecond <= 0 || c.API.RateLimit.Burst <= 0 {
		return fmt.Errorf("api.rate_limit requests_per_second and burst must be positive")
	}

	d := c.Detection
	if d.CacheWriteWindow <= 0 {
		return fmt.Errorf("detection.cache_write_window must be positive")
	}
	if d.RegexTimeout <= 0 {
		return fmt.Errorf("detection.regex_timeout must be positive")
	}
	if d.Anomaly.Window <= 0 || d.Anomaly.ScoreThreshold <= 0 || d.Anomaly.TriggerThreshold < d.Anomaly.ScoreThreshold {
		return fmt.Errorf("detection.anomaly: window and thresholds must be positive and trigger_threshold >= score_threshold")
	}
	for _, e := range d.Reputation {
		if !isValidIPOrCIDR(e.CIDR) {
			return fmt.Errorf("detection.reputation: invalid IP or CIDR %q", e.CIDR)
		}
	}

	a := c.Alerting
	if !a.MinSeverity.IsValid() {
		return fmt.Errorf("alerting.min_severity: unknown severity %q", a.MinSeverity)
	}
	if a.DedupWindow <= 0 || a.SendTimeout <= 0 {
		return fmt.Errorf("alerting dedup_window and send_timeout must be positive")
	}
	if err := a.Breaker.Validate(); err != nil {
		return fmt.Errorf("alerting.circuit_breaker: %w", err)
	}
	seen := make(map[core.Channel]bool, len(a.Channels))
	for _, ch := range a.Channels {
		if seen[ch.Channel] {
			return fmt.Errorf("alerting.channels: duplicate channel %s", ch.Channel)
		}
		seen[ch.Channel] = true
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("alerting.channels: %w", err)
		}
	}
	if _, err := a.TemplateOverrides(); err != nil {
		return err
	}
	if a.Redis.Enabled && a.Redis.Addr == "" {
		return fmt.Errorf("alerting.redis.addr is required when redis is enabled")
	}

	r := c.Retention
	if r.EventMaxAge <= 0 || r.AlertMaxAge <= 0 || r.IncidentMaxAge <= 0 || r.ThrottleIdle <= 0 {
		return fmt.Errorf("retention ages must be positive")
	}
	if r.HourlyInterval <= 0 || r.DailyInterval <= 0 {
		return fmt.Errorf("retention intervals must be positive")
	}

	if c.Bus.Workers <= 0 || c.Bus.QueueSize <= 0 {
		return fmt.Errorf("bus workers and queue_size must be positive")
	}
	return nil
}

func isValidIPOrCIDR(s string) bool {
	if net.ParseIP(s) != nil {
		return true
	}
	_, _, err := net.ParseCIDR(s)
	return err == nil
}
