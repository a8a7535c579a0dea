// Package alert turns tracker transitions and near-duplicate pairs into typed
// alerts. Rules run in a fixed order and the first matching rule per
// triggering transaction wins. Every alert carries redacted evidence built
// here, at construction time: raw descriptions never enter an alert.
package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"subsentry/internal/currencyutils"
	"subsentry/internal/dateutils"
	"subsentry/internal/dedupe"
	"subsentry/internal/logging"
	"subsentry/internal/models"
	"subsentry/internal/tracker"
)

// Severity thresholds on relative deviation.
const (
	warnDeviation = 0.10
	highDeviation = 0.25

	freqWarnRatio = 0.25
	freqHighRatio = 0.50
)

// Generator builds alerts from one recompute's transitions.
type Generator struct {
	logger logging.Logger
	now    func() time.Time
}

// New creates a Generator.
func New(logger logging.Logger) *Generator {
	if logger == nil {
		logger = &logging.MockLogger{}
	}
	return &Generator{logger: logger, now: time.Now}
}

// Generate evaluates the alert rules over the transitions and near-duplicate
// pairs of one recompute. subs is the post-tracking subscription set, used to
// resolve currencies and duplicate membership. existing holds the alert keys
// already persisted; alerts whose key is present are skipped, which is what
// makes re-running a recompute emit nothing new.
func (g *Generator) Generate(transitions []tracker.Transition, duplicates []dedupe.Pair, subs []models.Subscription, existing map[models.AlertKey]bool) []models.Alert {
	subByID := make(map[string]models.Subscription, len(subs))
	memberOf := make(map[string]string)
	for _, s := range subs {
		subByID[s.ID] = s
		for _, id := range s.MemberTxnIDs {
			memberOf[id] = s.ID
		}
	}

	e := &emitter{
		generator: g,
		existing:  existing,
		emitted:   make(map[models.AlertKey]bool),
		usedTxn:   make(map[string]bool),
	}

	// Rule 1: confirmed recurrence is a new subscription.
	for _, t := range transitions {
		if t.Kind != tracker.TransitionActivated {
			continue
		}
		sub := subByID[t.SubscriptionID]
		e.emit(models.Alert{
			SubscriptionID:  t.SubscriptionID,
			Kind:            models.KindNewSubscription,
			Severity:        models.SeverityInfo,
			TriggeringTxnID: t.TriggerTxnID,
			Evidence: models.Evidence{
				MerchantKey:   t.MerchantKey,
				NewValue:      t.NewAmount.Abs().StringFixed(2),
				Unit:          sub.Currency,
				PeriodContext: periodContext(t.NewPeriod),
			},
		})
	}

	// Rule 2: amount shift on an existing subscription is a price change.
	for _, t := range transitions {
		if t.Kind != tracker.TransitionAmountChanged {
			continue
		}
		if t.PriorStatus != models.StatusActive && t.PriorStatus != models.StatusChanged {
			continue
		}
		kind := models.KindPriceIncrease
		if t.NewAmount.Abs().LessThan(t.PriorAmount.Abs()) {
			kind = models.KindPriceDecrease
		}
		sub := subByID[t.SubscriptionID]
		e.emit(models.Alert{
			SubscriptionID:  t.SubscriptionID,
			Kind:            kind,
			Severity:        deviationSeverity(currencyutils.PercentDeviation(t.PriorAmount, t.NewAmount)),
			TriggeringTxnID: t.TriggerTxnID,
			Evidence: models.Evidence{
				MerchantKey:   t.MerchantKey,
				PriorValue:    t.PriorAmount.Abs().StringFixed(2),
				NewValue:      t.NewAmount.Abs().StringFixed(2),
				Unit:          sub.Currency,
				PeriodContext: periodContext(t.PriorPeriod),
			},
		})
	}

	// Rule 3: cadence shift is a frequency change.
	for _, t := range transitions {
		if t.Kind != tracker.TransitionPeriodChanged {
			continue
		}
		e.emit(models.Alert{
			SubscriptionID:  t.SubscriptionID,
			Kind:            models.KindFrequencyChange,
			Severity:        frequencySeverity(t.PriorPeriod, t.NewPeriod),
			TriggeringTxnID: t.TriggerTxnID,
			Evidence: models.Evidence{
				MerchantKey:   t.MerchantKey,
				PriorValue:    fmt.Sprintf("%d", t.PriorPeriod),
				NewValue:      fmt.Sprintf("%d", t.NewPeriod),
				Unit:          "days",
				PeriodContext: periodContext(t.PriorPeriod),
			},
		})
	}

	// Rule 4: near-duplicate charges.
	for _, p := range duplicates {
		gap := dateutils.DaysBetween(p.Original.PostedAt, p.Duplicate.PostedAt)
		e.emit(models.Alert{
			SubscriptionID:  memberOf[p.Duplicate.ID],
			Kind:            models.KindDuplicateCharge,
			Severity:        models.SeverityWarn,
			TriggeringTxnID: p.Duplicate.ID,
			Evidence: models.Evidence{
				MerchantKey:   p.Duplicate.MerchantKey,
				PriorValue:    dateutils.ToISODate(p.Original.PostedAt),
				NewValue:      dateutils.ToISODate(p.Duplicate.PostedAt),
				Unit:          currencyutils.FormatAmount(p.Duplicate.Amount.Abs(), p.Duplicate.Currency),
				PeriodContext: fmt.Sprintf("charges %d days apart", gap),
			},
		})
	}

	// Rule 5: cancellations. Status-level, so a member-level alert on the same
	// transaction does not suppress it.
	for _, t := range transitions {
		if t.Kind != tracker.TransitionCancelled {
			continue
		}
		sub := subByID[t.SubscriptionID]
		e.emitStatus(models.Alert{
			SubscriptionID:  t.SubscriptionID,
			Kind:            models.KindCancellation,
			Severity:        models.SeverityInfo,
			TriggeringTxnID: t.TriggerTxnID,
			Evidence: models.Evidence{
				MerchantKey:   t.MerchantKey,
				PriorValue:    t.PriorAmount.Abs().StringFixed(2),
				Unit:          sub.Currency,
				PeriodContext: fmt.Sprintf("no charge since %s, past %s", dateutils.ToISODate(sub.LastSeen), periodContext(t.PriorPeriod)),
			},
		})
	}

	g.logger.Debug("Generated alerts",
		logging.Field{Key: logging.FieldCount, Value: len(e.alerts)})
	return e.alerts
}

// AnomalyAlerts raises an alert for every anomaly score at or above the
// threshold. Anomaly alerts carry no subscription id: scoring is independent
// of subscription membership and never touches lifecycle state.
func (g *Generator) AnomalyAlerts(scores []models.AnomalyScore, txnByID map[string]models.Transaction, threshold float64, existing map[models.AlertKey]bool) []models.Alert {
	e := &emitter{
		generator: g,
		existing:  existing,
		emitted:   make(map[models.AlertKey]bool),
		usedTxn:   make(map[string]bool),
	}

	for _, s := range scores {
		if s.Score < threshold {
			continue
		}
		t := txnByID[s.TransactionID]
		e.emitStatus(models.Alert{
			Kind:            models.KindAnomaly,
			Severity:        models.SeverityHigh,
			TriggeringTxnID: s.TransactionID,
			Evidence: models.Evidence{
				MerchantKey:   t.MerchantKey,
				NewValue:      fmt.Sprintf("%.2f", s.Score),
				Unit:          "robust z-score",
				PeriodContext: string(s.Basis),
			},
		})
	}
	return e.alerts
}

// emitter applies the idempotence key and first-rule-wins bookkeeping.
type emitter struct {
	generator *Generator
	existing  map[models.AlertKey]bool
	emitted   map[models.AlertKey]bool
	usedTxn   map[string]bool
	alerts    []models.Alert
}

func (e *emitter) emit(a models.Alert) {
	if a.TriggeringTxnID != "" && e.usedTxn[a.TriggeringTxnID] {
		return
	}
	if e.record(a) && a.TriggeringTxnID != "" {
		e.usedTxn[a.TriggeringTxnID] = true
	}
}

// emitStatus skips the one-alert-per-transaction rule for alerts that describe
// the subscription as a whole rather than a member charge.
func (e *emitter) emitStatus(a models.Alert) {
	e.record(a)
}

func (e *emitter) record(a models.Alert) bool {
	key := a.Key()
	if e.existing[key] || e.emitted[key] {
		return false
	}

	a.ID = uuid.New().String()
	a.CreatedAt = e.generator.now()
	e.emitted[key] = true
	e.alerts = append(e.alerts, a)

	e.generator.logger.Debug("Emitting alert",
		logging.Field{Key: logging.FieldAlertKind, Value: string(a.Kind)},
		logging.Field{Key: logging.FieldSubscriptionID, Value: a.SubscriptionID},
		logging.Field{Key: logging.FieldSeverity, Value: string(a.Severity)})
	return true
}

func deviationSeverity(pct float64) models.Severity {
	switch {
	case pct >= highDeviation:
		return models.SeverityHigh
	case pct >= warnDeviation:
		return models.SeverityWarn
	default:
		return models.SeverityInfo
	}
}

func frequencySeverity(prior, current int) models.Severity {
	if prior <= 0 {
		return models.SeverityInfo
	}
	diff := float64(current - prior)
	if diff < 0 {
		diff = -diff
	}
	ratio := diff / float64(prior)
	switch {
	case ratio >= freqHighRatio:
		return models.SeverityHigh
	case ratio >= freqWarnRatio:
		return models.SeverityWarn
	default:
		return models.SeverityInfo
	}
}

func periodContext(days int) string {
	switch days {
	case 7:
		return "weekly"
	case 14:
		return "biweekly"
	case 30:
		return "monthly"
	case 91:
		return "quarterly"
	case 365:
		return "annual"
	default:
		return fmt.Sprintf("every %d days", days)
	}
}
