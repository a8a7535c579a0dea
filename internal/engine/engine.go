// Package engine orchestrates one recompute: normalize, cluster, track, alert,
// score. The engine is a pure function of (transactions, prior state) and
// performs no I/O; reading and committing state is the caller's job, and a
// recompute's outputs must be committed atomically.
package engine

import (
	"time"

	"subsentry/internal/alert"
	"subsentry/internal/anomaly"
	"subsentry/internal/dedupe"
	"subsentry/internal/enginerr"
	"subsentry/internal/logging"
	"subsentry/internal/models"
	"subsentry/internal/normalize"
	"subsentry/internal/recurrence"
	"subsentry/internal/tracker"
)

// Config aggregates the tunables of every engine component.
type Config struct {
	Recurrence recurrence.Config
	Tracker    tracker.Config
	Anomaly    anomaly.Config
	// DedupeWindowDays bounds near-duplicate detection.
	DedupeWindowDays int
	// AnomalyZThreshold is the score at which an anomaly becomes an alert.
	AnomalyZThreshold float64
}

// Validate fails fast on out-of-range parameters, before any processing.
func (c Config) Validate() error {
	switch {
	case c.Recurrence.AmountTolerancePct < 0:
		return &enginerr.ConfigurationError{Param: "amount_tolerance_pct", Reason: "must not be negative"}
	case c.Recurrence.AmountToleranceFloor.IsNegative():
		return &enginerr.ConfigurationError{Param: "amount_tolerance_floor", Reason: "must not be negative"}
	case c.Recurrence.PeriodDeviationPct <= 0 || c.Recurrence.PeriodDeviationPct >= 1:
		return &enginerr.ConfigurationError{Param: "period_deviation_pct", Reason: "must be between 0 and 1"}
	case c.Recurrence.CandidateMinMembers < 2:
		return &enginerr.ConfigurationError{Param: "candidate_min_members", Reason: "must be at least 2"}
	case c.Recurrence.ConfirmMinMembers < c.Recurrence.CandidateMinMembers:
		return &enginerr.ConfigurationError{Param: "confirm_min_members", Reason: "must not be below candidate_min_members"}
	case c.Tracker.CancelAfterPeriods < 1:
		return &enginerr.ConfigurationError{Param: "cancel_after_periods", Reason: "must be at least 1"}
	case c.DedupeWindowDays < 0:
		return &enginerr.ConfigurationError{Param: "dedupe_window_days", Reason: "must not be negative"}
	case c.Anomaly.MinHistory < 1:
		return &enginerr.ConfigurationError{Param: "anomaly_min_history", Reason: "must be at least 1"}
	case c.Anomaly.LowConfidenceCap < 0:
		return &enginerr.ConfigurationError{Param: "anomaly_low_confidence_cap", Reason: "must not be negative"}
	case c.AnomalyZThreshold <= 0:
		return &enginerr.ConfigurationError{Param: "anomaly_z_threshold", Reason: "must be positive"}
	}
	return nil
}

// PriorState is what the storage collaborator knows from earlier recomputes.
// Empty on first run.
type PriorState struct {
	Subscriptions []models.Subscription
	AlertKeys     map[models.AlertKey]bool
}

// Counts summarizes a recompute so data-quality problems surface without a
// log review.
type Counts struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Alerts    int `json:"alerts"`
}

// Result is the consistent output bundle of one recompute. The caller commits
// subscriptions, alerts and scores in a single storage transaction.
type Result struct {
	Subscriptions []models.Subscription
	Alerts        []models.Alert
	AnomalyScores []models.AnomalyScore
	Counts        Counts
	// ValidationErrors lists the records rejected this run; the rest of the
	// batch still processed.
	ValidationErrors []*enginerr.ValidationError
}

// Engine runs recomputes.
type Engine struct {
	cfg        Config
	normalizer *normalize.Normalizer
	dedup      *dedupe.Deduplicator
	clusterer  *recurrence.Clusterer
	tracker    *tracker.Tracker
	alerts     *alert.Generator
	scorer     *anomaly.Scorer
	logger     logging.Logger
}

// New validates the configuration and wires the engine components.
func New(cfg Config, normalizer *normalize.Normalizer, logger logging.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = &logging.MockLogger{}
	}
	if normalizer == nil {
		normalizer = normalize.New(nil)
	}
	return &Engine{
		cfg:        cfg,
		normalizer: normalizer,
		dedup:      dedupe.New(cfg.DedupeWindowDays, logger),
		clusterer:  recurrence.NewClusterer(cfg.Recurrence, logger),
		tracker:    tracker.New(cfg.Tracker, logger),
		alerts:     alert.New(logger),
		scorer:     anomaly.New(cfg.Anomaly, logger),
		logger:     logger,
	}, nil
}

// Recompute derives subscriptions, alerts and anomaly scores from the full
// transaction set. Malformed records are rejected individually and reported in
// the result; structural failures (inconsistent prior state) abort the whole
// run so the caller commits nothing. When asOf is zero the latest posting date
// stands in, keeping the run reproducible.
func (e *Engine) Recompute(txns []models.Transaction, prior PriorState, asOf time.Time) (Result, error) {
	valid, validationErrs := e.prepare(txns)

	if asOf.IsZero() {
		for _, t := range valid {
			if t.PostedAt.After(asOf) {
				asOf = t.PostedAt
			}
		}
	}

	series := e.clusterer.Cluster(valid)
	tracked, err := e.tracker.Track(prior.Subscriptions, series, valid, asOf)
	if err != nil {
		return Result{}, err
	}

	pairs := e.dedup.NearDuplicates(valid)
	alerts := e.alerts.Generate(tracked.Transitions, pairs, tracked.Subscriptions, prior.AlertKeys)

	scores := e.scorer.Score(valid)
	txnByID := make(map[string]models.Transaction, len(valid))
	for _, t := range valid {
		txnByID[t.ID] = t
	}
	existing := make(map[models.AlertKey]bool, len(prior.AlertKeys)+len(alerts))
	for k := range prior.AlertKeys {
		existing[k] = true
	}
	for _, a := range alerts {
		existing[a.Key()] = true
	}
	alerts = append(alerts, e.alerts.AnomalyAlerts(scores, txnByID, e.cfg.AnomalyZThreshold, existing)...)

	result := Result{
		Subscriptions: tracked.Subscriptions,
		Alerts:        alerts,
		AnomalyScores: scores,
		Counts: Counts{
			Processed: len(valid),
			Skipped:   len(validationErrs),
			Alerts:    len(alerts),
		},
		ValidationErrors: validationErrs,
	}

	e.logger.Info("Recompute finished",
		logging.Field{Key: logging.FieldCount, Value: result.Counts.Processed},
		logging.Field{Key: "skipped", Value: result.Counts.Skipped},
		logging.Field{Key: "alerts", Value: result.Counts.Alerts})
	return result, nil
}

// prepare validates each record and attaches the derived merchant key. Bad
// records are collected, not fatal: partial-failure semantics.
func (e *Engine) prepare(txns []models.Transaction) ([]models.Transaction, []*enginerr.ValidationError) {
	valid := make([]models.Transaction, 0, len(txns))
	var errs []*enginerr.ValidationError

	reject := func(t models.Transaction, field, reason string) {
		errs = append(errs, &enginerr.ValidationError{
			TransactionID: t.ID,
			Field:         field,
			Reason:        reason,
		})
		e.logger.Warn("Rejecting malformed transaction",
			logging.Field{Key: logging.FieldTransactionID, Value: t.ID},
			logging.Field{Key: logging.FieldReason, Value: reason})
	}

	for _, t := range txns {
		switch {
		case t.ID == "":
			reject(t, "id", "missing transaction id")
		case t.PostedAt.IsZero():
			reject(t, "posted_at", "missing posted date")
		case t.AccountID == "":
			reject(t, "account_id", "missing account")
		case t.MerchantKey == "" && t.RawDescription == "":
			reject(t, "raw_description", "no description to derive a merchant key from")
		default:
			if t.MerchantKey == "" {
				t.MerchantKey = e.normalizer.Normalize(t.RawDescription)
			}
			valid = append(valid, t)
		}
	}
	return valid, errs
}
