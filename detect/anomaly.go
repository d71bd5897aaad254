package detect

import (
	"time"

	"argus/core"
	"argus/metrics"
)

// AnomalyConfig holds the request-rate heuristic parameters
type AnomalyConfig struct {
	Window           time.Duration `mapstructure:"window"`
	ScoreThreshold   int           `mapstructure:"score_threshold"`
	TriggerThreshold int           `mapstructure:"trigger_threshold"`
	BaseRisk         int           `mapstructure:"base_risk"`
	MaxRisk          int           `mapstructure:"max_risk"`
}

// DefaultAnomalyConfig returns the stock heuristic: over 100 events in 15 minutes scores,
// over 200 triggers a response.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		Window:           15 * time.Minute,
		ScoreThreshold:   100,
		TriggerThreshold: 200,
		BaseRisk:         30,
		MaxRisk:          80,
	}
}

// AnomalyResult is the outcome of the rate heuristic
type AnomalyResult struct {
	RiskScore int
	Triggered bool
	Actions   []core.ResponseAction
	Count     int
}

// AnomalyDetector scores subjects that produce an unusual number of events.
// It is a fixed linear heuristic over event volume, not a trained model.
type AnomalyDetector struct {
	cfg   AnomalyConfig
	cache *EventCache
}

// NewAnomalyDetector creates a detector reading from cache
func NewAnomalyDetector(cfg AnomalyConfig, cache *EventCache) *AnomalyDetector {
	return &AnomalyDetector{cfg: cfg, cache: cache}
}

// Evaluate counts the subject's events of any type inside the window
func (a *AnomalyDetector) Evaluate(event *core.SecurityEvent) AnomalyResult {
	count := a.cache.Count(event.Subject(), a.cfg.Window, nil)
	if count <= a.cfg.ScoreThreshold {
		return AnomalyResult{Count: count}
	}

	risk := a.cfg.BaseRisk + (count - a.cfg.ScoreThreshold)
	if risk > a.cfg.MaxRisk {
		risk = a.cfg.MaxRisk
	}
	result := AnomalyResult{
		RiskScore: core.ClampRisk(risk),
		Triggered: count > a.cfg.TriggerThreshold,
		Count:     count,
	}
	if result.Triggered {
		result.Actions = []core.ResponseAction{core.ActionMonitorUser, core.ActionApplyRateLimit}
		metrics.AnomaliesTriggered.Inc()
	}
	return result
}
