package models

import "time"

// AlertKind identifies the detected change or anomaly an alert describes.
type AlertKind string

const (
	KindPriceIncrease   AlertKind = "price_increase"
	KindPriceDecrease   AlertKind = "price_decrease"
	KindFrequencyChange AlertKind = "frequency_change"
	KindDuplicateCharge AlertKind = "duplicate_charge"
	KindNewSubscription AlertKind = "new_subscription"
	KindCancellation    AlertKind = "cancellation"
	KindAnomaly         AlertKind = "anomaly"
)

// Severity grades an alert by the magnitude of the underlying deviation.
type Severity string

const (
	SeverityInfo Severity = "info"
	SeverityWarn Severity = "warn"
	SeverityHigh Severity = "high"
)

// Evidence is the redacted summary attached to an alert. It never carries the
// raw transaction description; redaction is enforced at construction time, not
// by downstream filtering. The field set is a stable contract consumed by the
// export and explanation collaborators.
type Evidence struct {
	MerchantKey   string `json:"merchant_key"`
	PriorValue    string `json:"prior_value"`
	NewValue      string `json:"new_value"`
	Unit          string `json:"unit"`
	PeriodContext string `json:"period_context"`
}

// Alert is an immutable, append-only record. A corrected understanding produces
// a new alert rather than editing an existing one.
type Alert struct {
	ID              string    `json:"id"`
	SubscriptionID  string    `json:"subscription_id,omitempty"`
	Kind            AlertKind `json:"kind"`
	Severity        Severity  `json:"severity"`
	TriggeringTxnID string    `json:"triggering_transaction_id,omitempty"`
	Evidence        Evidence  `json:"evidence"`
	CreatedAt       time.Time `json:"created_at"`
}

// AlertKey is the idempotence key for alert emission. A recompute skips any
// alert whose key already exists, so re-running over the same transaction set
// never duplicates alerts.
type AlertKey struct {
	SubscriptionID  string
	Kind            AlertKind
	TriggeringTxnID string
}

// Key returns the idempotence key of the alert.
func (a Alert) Key() AlertKey {
	return AlertKey{
		SubscriptionID:  a.SubscriptionID,
		Kind:            a.Kind,
		TriggeringTxnID: a.TriggeringTxnID,
	}
}
