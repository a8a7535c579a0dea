package models

import (
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSubscriptionWithinTolerance(t *testing.T) {
	sub := Subscription{
		ExpectedAmount:  decimal.NewFromFloat(-9.99),
		AmountTolerance: decimal.NewFromFloat(0.50),
	}

	tests := []struct {
		name   string
		amount decimal.Decimal
		want   bool
	}{
		{"exact match", decimal.NewFromFloat(-9.99), true},
		{"within tolerance", decimal.NewFromFloat(-10.49), true},
		{"just beyond tolerance", decimal.NewFromFloat(-10.50), true},
		{"beyond tolerance", decimal.NewFromFloat(-12.99), false},
		{"sign ignored", decimal.NewFromFloat(9.99), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sub.WithinTolerance(tt.amount))
		})
	}
}

func TestSubscriptionNextExpected(t *testing.T) {
	sub := Subscription{
		PeriodDays: 30,
		LastSeen:   day(2025, time.March, 15),
	}
	assert.Equal(t, day(2025, time.April, 14), sub.NextExpected())
}

func TestAlertKey(t *testing.T) {
	a := Alert{
		ID:              "a-1",
		SubscriptionID:  "sub-1",
		Kind:            KindPriceIncrease,
		TriggeringTxnID: "txn-9",
	}
	b := Alert{
		ID:              "a-2",
		SubscriptionID:  "sub-1",
		Kind:            KindPriceIncrease,
		TriggeringTxnID: "txn-9",
	}
	// Same key regardless of alert id: the key is what makes emission idempotent.
	assert.Equal(t, a.Key(), b.Key())

	c := b
	c.Kind = KindFrequencyChange
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestByPostedAtStableOrder(t *testing.T) {
	txns := []Transaction{
		{ID: "b", PostedAt: day(2025, time.January, 2)},
		{ID: "a", PostedAt: day(2025, time.January, 2)},
		{ID: "c", PostedAt: day(2025, time.January, 1)},
	}
	sort.Sort(ByPostedAt(txns))

	assert.Equal(t, "c", txns[0].ID)
	assert.Equal(t, "a", txns[1].ID)
	assert.Equal(t, "b", txns[2].ID)
}

func TestTransactionSameDay(t *testing.T) {
	a := Transaction{PostedAt: time.Date(2025, time.May, 4, 8, 30, 0, 0, time.UTC)}
	b := Transaction{PostedAt: time.Date(2025, time.May, 4, 23, 59, 0, 0, time.UTC)}
	c := Transaction{PostedAt: day(2025, time.May, 5)}

	assert.True(t, a.SameDay(b))
	assert.False(t, a.SameDay(c))
}
