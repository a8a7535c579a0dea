// Package container provides dependency injection for the subsentry
// application. It centralizes the creation and wiring of all application
// dependencies, making them explicit and testable.
package container

import (
	"fmt"
	"path/filepath"

	"subsentry/internal/anomaly"
	"subsentry/internal/config"
	"subsentry/internal/engine"
	"subsentry/internal/ingest"
	"subsentry/internal/logging"
	"subsentry/internal/normalize"
	"subsentry/internal/recurrence"
	"subsentry/internal/report"
	"subsentry/internal/storage"
	"subsentry/internal/store"
	"subsentry/internal/tracker"
)

// Container holds all application dependencies and provides methods to access
// them. It is immutable after creation: all fields are private and reachable
// only through getters.
type Container struct {
	logger     logging.Logger
	config     *config.Config
	ruleStore  *store.RuleStore
	normalizer *normalize.Normalizer
	storage    *storage.Store
	reader     *ingest.Reader
	engine     *engine.Engine
	reports    *report.Builder
}

// NewContainer creates and wires all application dependencies.
func NewContainer(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	logger := logging.NewLogrusAdapter(cfg.Log.Level, cfg.Log.Format)

	ruleStore := store.NewRuleStore(cfg.Rules.AliasesFile, logger)
	aliases, err := ruleStore.LoadAliases()
	if err != nil {
		return nil, fmt.Errorf("failed to load alias rules: %w", err)
	}
	normalizer := normalize.New(aliases)

	dbPath := filepath.Join(cfg.Data.Directory, cfg.Data.DatabaseFile)
	db, err := storage.Open(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	eng, err := engine.New(engineConfig(cfg), normalizer, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Container initialized successfully",
		logging.Field{Key: logging.FieldFile, Value: dbPath},
		logging.Field{Key: "alias_rules", Value: len(aliases)})

	return &Container{
		logger:     logger,
		config:     cfg,
		ruleStore:  ruleStore,
		normalizer: normalizer,
		storage:    db,
		reader:     ingest.NewReader(cfg.Import.DefaultCurrency, logger),
		engine:     eng,
		reports:    report.NewBuilder(logger),
	}, nil
}

// engineConfig maps the flat application configuration onto the engine's
// component configs. Unparseable tolerance floors were already rejected by
// config.Validate; the zero value falls through to engine.New's own check.
func engineConfig(cfg *config.Config) engine.Config {
	floor, _ := cfg.Engine.AmountToleranceFloorDecimal()
	e := cfg.Engine

	amounts := recurrence.Config{
		AmountTolerancePct:   e.AmountTolerancePct,
		AmountToleranceFloor: floor,
		PeriodDeviationPct:   e.PeriodDeviationPct,
		CandidateMinMembers:  e.CandidateMinMembers,
		ConfirmMinMembers:    e.ConfirmMinMembers,
		PeriodBuckets:        e.PeriodBuckets,
	}
	return engine.Config{
		Recurrence: amounts,
		Tracker: tracker.Config{
			PeriodDeviationPct: e.PeriodDeviationPct,
			CancelAfterPeriods: e.CancelAfterPeriods,
			Amounts:            amounts,
		},
		Anomaly: anomaly.Config{
			MinHistory:       e.AnomalyMinHistory,
			LowConfidenceCap: e.AnomalyLowConfidenceCap,
		},
		DedupeWindowDays:  e.DedupeWindowDays,
		AnomalyZThreshold: e.AnomalyZThreshold,
	}
}

// GetLogger returns the container's logger instance.
func (c *Container) GetLogger() logging.Logger {
	return c.logger
}

// GetConfig returns the container's configuration instance.
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetRuleStore returns the rule table store.
func (c *Container) GetRuleStore() *store.RuleStore {
	return c.ruleStore
}

// GetNormalizer returns the merchant normalizer.
func (c *Container) GetNormalizer() *normalize.Normalizer {
	return c.normalizer
}

// GetStorage returns the sqlite store.
func (c *Container) GetStorage() *storage.Store {
	return c.storage
}

// GetReader returns the statement CSV reader.
func (c *Container) GetReader() *ingest.Reader {
	return c.reader
}

// GetEngine returns the recompute engine.
func (c *Container) GetEngine() *engine.Engine {
	return c.engine
}

// GetReportBuilder returns the insights bundle builder.
func (c *Container) GetReportBuilder() *report.Builder {
	return c.reports
}

// Close releases container resources, closing the database.
func (c *Container) Close() error {
	err := c.storage.Close()
	c.logger.Info("Container closed")
	return err
}
