package bootstrap

import (
	"fmt"
	"os"

	"argus/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output at the given level.
func InitLogger(level string) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		lvl,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration. An empty path searches the default locations.
func InitConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// logConfig reports the effective settings that shape runtime behavior
func logConfig(cfg *config.Config, sugar *zap.SugaredLogger) {
	channels := make([]string, 0, len(cfg.Alerting.Channels))
	for _, ch := range cfg.Alerting.Channels {
		if ch.Enabled {
			channels = append(channels, fmt.Sprintf("%s>=%s", ch.Channel, ch.MinSeverity))
		}
	}
	sugar.Infow("Config loaded",
		"api_addr", cfg.Addr(),
		"rules_file", cfg.Detection.RulesFile,
		"alerting_enabled", cfg.Alerting.Enabled,
		"min_alert_severity", cfg.Alerting.MinSeverity,
		"channels", channels,
		"redis_dedup", cfg.Alerting.Redis.Enabled,
		"bus_workers", cfg.Bus.Workers)
}
