// Package config provides Viper-based hierarchical configuration management.
// Precedence: defaults, then an optional config.yaml, then SUBSENTRY_-prefixed
// environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"subsentry/internal/enginerr"
)

// Config represents the complete application configuration.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"`
	} `mapstructure:"log" yaml:"log"`

	Data struct {
		Directory    string `mapstructure:"directory" yaml:"directory"`
		DatabaseFile string `mapstructure:"database_file" yaml:"database_file"`
	} `mapstructure:"data" yaml:"data"`

	Rules struct {
		AliasesFile string `mapstructure:"aliases_file" yaml:"aliases_file"`
	} `mapstructure:"rules" yaml:"rules"`

	Import struct {
		DefaultCurrency string `mapstructure:"default_currency" yaml:"default_currency"`
	} `mapstructure:"import" yaml:"import"`

	Engine Engine `mapstructure:"engine" yaml:"engine"`

	Export struct {
		Directory string `mapstructure:"directory" yaml:"directory"`
		Format    string `mapstructure:"format" yaml:"format"`
	} `mapstructure:"export" yaml:"export"`
}

// Engine holds the detection tolerances. The defaults are heuristic, documented
// values, not tuned optima; every one of them is overridable.
type Engine struct {
	AmountTolerancePct      float64 `mapstructure:"amount_tolerance_pct" yaml:"amount_tolerance_pct"`
	AmountToleranceFloor    string  `mapstructure:"amount_tolerance_floor" yaml:"amount_tolerance_floor"`
	PeriodDeviationPct      float64 `mapstructure:"period_deviation_pct" yaml:"period_deviation_pct"`
	CancelAfterPeriods      int     `mapstructure:"cancel_after_periods" yaml:"cancel_after_periods"`
	CandidateMinMembers     int     `mapstructure:"candidate_min_members" yaml:"candidate_min_members"`
	ConfirmMinMembers       int     `mapstructure:"confirm_min_members" yaml:"confirm_min_members"`
	DedupeWindowDays        int     `mapstructure:"dedupe_window_days" yaml:"dedupe_window_days"`
	AnomalyMinHistory       int     `mapstructure:"anomaly_min_history" yaml:"anomaly_min_history"`
	AnomalyZThreshold       float64 `mapstructure:"anomaly_z_threshold" yaml:"anomaly_z_threshold"`
	AnomalyLowConfidenceCap float64 `mapstructure:"anomaly_low_confidence_cap" yaml:"anomaly_low_confidence_cap"`
	PeriodBuckets           []int   `mapstructure:"period_buckets" yaml:"period_buckets"`
}

// AmountToleranceFloorDecimal parses the configured tolerance floor.
func (e Engine) AmountToleranceFloorDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(e.AmountToleranceFloor)
	if err != nil {
		return decimal.Zero, &enginerr.ConfigurationError{
			Param:  "engine.amount_tolerance_floor",
			Reason: fmt.Sprintf("not a decimal: %q", e.AmountToleranceFloor),
		}
	}
	return d, nil
}

// InitializeConfig initializes Viper configuration with hierarchical loading.
func InitializeConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.subsentry")
	v.AddConfigPath(".subsentry")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SUBSENTRY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Continue with defaults and env vars, but tell the user.
			fmt.Printf("Warning: error reading config file %s: %v\n", v.ConfigFileUsed(), err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("data.directory", "data")
	v.SetDefault("data.database_file", "subsentry.db")

	v.SetDefault("rules.aliases_file", "aliases.yaml")

	v.SetDefault("import.default_currency", "USD")

	v.SetDefault("engine.amount_tolerance_pct", 0.01)
	v.SetDefault("engine.amount_tolerance_floor", "0.50")
	v.SetDefault("engine.period_deviation_pct", 0.20)
	v.SetDefault("engine.cancel_after_periods", 2)
	v.SetDefault("engine.candidate_min_members", 2)
	v.SetDefault("engine.confirm_min_members", 3)
	v.SetDefault("engine.dedupe_window_days", 1)
	v.SetDefault("engine.anomaly_min_history", 5)
	v.SetDefault("engine.anomaly_z_threshold", 4.0)
	v.SetDefault("engine.anomaly_low_confidence_cap", 1.0)
	v.SetDefault("engine.period_buckets", []int{7, 14, 30, 91, 365})

	v.SetDefault("export.directory", "exports")
	v.SetDefault("export.format", "csv")
}

// Validate checks the configuration values. Engine parameters out of range are a
// ConfigurationError: they fail fast, before any processing.
func Validate(config *Config) error {
	if _, err := logrus.ParseLevel(config.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}
	if config.Log.Format != "text" && config.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", config.Log.Format)
	}
	if config.Export.Format != "csv" && config.Export.Format != "json" {
		return fmt.Errorf("invalid export format: %s (must be 'csv' or 'json')", config.Export.Format)
	}

	e := config.Engine
	if e.AmountTolerancePct < 0 || e.AmountTolerancePct > 1 {
		return &enginerr.ConfigurationError{Param: "engine.amount_tolerance_pct",
			Reason: fmt.Sprintf("must be in [0,1], got %v", e.AmountTolerancePct)}
	}
	if floor, err := e.AmountToleranceFloorDecimal(); err != nil {
		return err
	} else if floor.IsNegative() {
		return &enginerr.ConfigurationError{Param: "engine.amount_tolerance_floor",
			Reason: "must not be negative"}
	}
	if e.PeriodDeviationPct <= 0 || e.PeriodDeviationPct >= 1 {
		return &enginerr.ConfigurationError{Param: "engine.period_deviation_pct",
			Reason: fmt.Sprintf("must be in (0,1), got %v", e.PeriodDeviationPct)}
	}
	if e.CancelAfterPeriods < 1 {
		return &enginerr.ConfigurationError{Param: "engine.cancel_after_periods",
			Reason: fmt.Sprintf("must be >= 1, got %d", e.CancelAfterPeriods)}
	}
	if e.CandidateMinMembers < 2 {
		return &enginerr.ConfigurationError{Param: "engine.candidate_min_members",
			Reason: fmt.Sprintf("must be >= 2, got %d", e.CandidateMinMembers)}
	}
	if e.ConfirmMinMembers < e.CandidateMinMembers {
		return &enginerr.ConfigurationError{Param: "engine.confirm_min_members",
			Reason: fmt.Sprintf("must be >= candidate_min_members, got %d", e.ConfirmMinMembers)}
	}
	if e.DedupeWindowDays < 0 {
		return &enginerr.ConfigurationError{Param: "engine.dedupe_window_days",
			Reason: "must not be negative"}
	}
	if e.AnomalyMinHistory < 1 {
		return &enginerr.ConfigurationError{Param: "engine.anomaly_min_history",
			Reason: fmt.Sprintf("must be >= 1, got %d", e.AnomalyMinHistory)}
	}
	if e.AnomalyZThreshold <= 0 {
		return &enginerr.ConfigurationError{Param: "engine.anomaly_z_threshold",
			Reason: "must be positive"}
	}
	if e.AnomalyLowConfidenceCap < 0 {
		return &enginerr.ConfigurationError{Param: "engine.anomaly_low_confidence_cap",
			Reason: "must not be negative"}
	}
	for _, b := range e.PeriodBuckets {
		if b < 1 {
			return &enginerr.ConfigurationError{Param: "engine.period_buckets",
				Reason: fmt.Sprintf("bucket lengths must be positive, got %d", b)}
		}
	}

	return nil
}

// ConfigureLoggingFromConfig configures a logrus logger from the Config struct.
func ConfigureLoggingFromConfig(config *Config) *logrus.Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(strings.ToLower(config.Log.Level))
	if err != nil {
		logger.Warnf("Invalid log level '%s', using 'info'", config.Log.Level)
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if strings.ToLower(config.Log.Format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}
