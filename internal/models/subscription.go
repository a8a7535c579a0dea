package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus is the lifecycle state of a recurring-charge entity.
type SubscriptionStatus string

const (
	// StatusCandidate marks a tentative recurrence not yet confirmed.
	StatusCandidate SubscriptionStatus = "candidate"
	// StatusActive marks a confirmed recurring charge.
	StatusActive SubscriptionStatus = "active"
	// StatusChanged marks a subscription whose amount or period shifted in the
	// latest recompute. It returns to active once the new terms stabilize.
	StatusChanged SubscriptionStatus = "changed"
	// StatusCancelled is terminal. Subscriptions are never deleted.
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription is a recurring-charge identity derived from clustering.
// It is mutated only by the state tracker during a recompute.
type Subscription struct {
	ID              string             `json:"id"`
	MerchantKey     string             `json:"merchant_key"`
	Currency        string             `json:"currency"`
	ExpectedAmount  decimal.Decimal    `json:"expected_amount"`
	AmountTolerance decimal.Decimal    `json:"amount_tolerance"`
	PeriodDays      int                `json:"period_days"`
	Status          SubscriptionStatus `json:"status"`
	FirstSeen       time.Time          `json:"first_seen"`
	LastSeen        time.Time          `json:"last_seen"`
	// MemberTxnIDs is ordered by posted date.
	MemberTxnIDs []string `json:"member_transaction_ids"`
}

// NextExpected returns the date the next member transaction is expected.
func (s *Subscription) NextExpected() time.Time {
	return s.LastSeen.AddDate(0, 0, s.PeriodDays)
}

// WithinTolerance reports whether an amount is compatible with the expected
// amount of this subscription.
func (s *Subscription) WithinTolerance(amount decimal.Decimal) bool {
	return amount.Abs().Sub(s.ExpectedAmount.Abs()).Abs().LessThanOrEqual(s.AmountTolerance)
}
