package bootstrap

import (
	"fmt"

	"argus/config"
	"argus/core"
	"argus/detect"

	"go.uber.org/zap"
)

// Detection groups the components of the detection pipeline
type Detection struct {
	Patterns  *detect.PatternCache
	Cache     *detect.EventCache
	Rules     []core.ThreatDetectionRule
	Actions   *detect.ActionExecutor
	Processor *detect.Processor
}

// LoadRules loads threat rules from the configured file, or the built-in set when none is configured.
func LoadRules(cfg *config.Config, patterns *detect.PatternCache, sugar *zap.SugaredLogger) ([]core.ThreatDetectionRule, error) {
	if cfg.Detection.RulesFile == "" {
		rules := detect.DefaultRules()
		sugar.Infof("No rules file configured, using %d built-in threat rules", len(rules))
		return rules, nil
	}
	rules, err := detect.LoadRules(cfg.Detection.RulesFile, patterns, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %s: %w", cfg.Detection.RulesFile, err)
	}
	return rules, nil
}

// InitDetection builds the event cache, rule engine, anomaly detector, reputation table,
// action executor and the processor that ties them together.
func InitDetection(cfg *config.Config, incidents detect.IncidentRecorder, clock core.Clock, sugar *zap.SugaredLogger) (*Detection, error) {
	dc := cfg.Detection

	patterns, err := detect.NewPatternCache(dc.PatternCacheSize, dc.RegexTimeout)
	if err != nil {
		return nil, err
	}
	rules, err := LoadRules(cfg, patterns, sugar)
	if err != nil {
		return nil, err
	}
	reputation, err := detect.NewReputationTable(dc.ReputationTable(), dc.ReputationCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build reputation table: %w", err)
	}

	cache := detect.NewEventCache(dc.CacheShards, dc.CacheWriteWindow, clock)
	engine := detect.NewThreatRuleEngine(rules, cache, detect.NewConditionEvaluator(patterns, sugar), clock, sugar)
	actions := detect.NewActionExecutor(dc.Actions, clock, sugar)

	processor, err := detect.NewProcessor(detect.ProcessorDeps{
		Cache:      cache,
		Rules:      engine,
		Anomaly:    detect.NewAnomalyDetector(dc.Anomaly, cache),
		Reputation: reputation,
		Actions:    actions,
		Incidents:  incidents,
		Clock:      clock,
		Logger:     sugar,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create processor: %w", err)
	}

	sugar.Infow("Detection pipeline initialized",
		"rules", len(rules),
		"reputation_entries", len(dc.Reputation),
		"cache_shards", dc.CacheShards)

	return &Detection{
		Patterns:  patterns,
		Cache:     cache,
		Rules:     rules,
		Actions:   actions,
		Processor: processor,
	}, nil
}
