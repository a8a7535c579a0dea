package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsentry/internal/models"
)

func sampleTxns() []models.Transaction {
	mk := func(id, amount string, date time.Time) models.Transaction {
		return models.Transaction{
			ID:             id,
			PostedAt:       date,
			RawDescription: "POS NETFLIX.COM 866-579-7172",
			MerchantKey:    "netflix",
			Amount:         decimal.RequireFromString(amount),
			Currency:       "USD",
			AccountID:      "acct-1",
		}
	}
	return []models.Transaction{
		mk("t-1", "-15.49", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)),
		mk("t-2", "-9.99", time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)),
		mk("t-3", "-15.49", time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)),
		// A credit does not count as spend.
		mk("t-4", "120.00", time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC)),
	}
}

func sampleSubs() []models.Subscription {
	return []models.Subscription{{
		ID:              "sub-1",
		MerchantKey:     "netflix",
		Currency:        "USD",
		ExpectedAmount:  decimal.RequireFromString("15.49"),
		AmountTolerance: decimal.RequireFromString("0.50"),
		PeriodDays:      30,
		Status:          models.StatusActive,
		FirstSeen:       time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		LastSeen:        time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	}}
}

func sampleAlerts() []models.Alert {
	return []models.Alert{{
		ID:        "alert-1",
		Kind:      models.KindNewSubscription,
		Severity:  models.SeverityInfo,
		Evidence:  models.Evidence{MerchantKey: "netflix", NewValue: "15.49", Unit: "USD"},
		CreatedAt: time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC),
	}, {
		ID:        "alert-2",
		Kind:      models.KindPriceIncrease,
		Severity:  models.SeverityHigh,
		Evidence:  models.Evidence{MerchantKey: "netflix", PriorValue: "15.49", NewValue: "19.99", Unit: "USD"},
		CreatedAt: time.Date(2026, 4, 16, 10, 0, 0, 0, time.UTC),
	}}
}

func TestBuild(t *testing.T) {
	b := NewBuilder(nil)
	bundle := b.Build(sampleTxns(), sampleSubs(), sampleAlerts(), time.Time{}, time.Time{})

	require.Len(t, bundle.MonthlyTotals, 2)
	assert.Equal(t, MonthTotal{Month: "2026-01", Currency: "USD", Total: "25.48"}, bundle.MonthlyTotals[0])
	assert.Equal(t, MonthTotal{Month: "2026-02", Currency: "USD", Total: "15.49"}, bundle.MonthlyTotals[1])

	require.Len(t, bundle.Subscriptions, 1)
	sub := bundle.Subscriptions[0]
	assert.Equal(t, "netflix", sub.MerchantKey)
	assert.Equal(t, "15.49", sub.ExpectedAmount)
	assert.Equal(t, "2026-03-17", sub.NextExpected)
	assert.Equal(t, "active", sub.Status)

	require.Len(t, bundle.Alerts, 2)
	assert.Equal(t, "new_subscription", bundle.Alerts[0].Kind)
	assert.Equal(t, "price_increase", bundle.Alerts[1].Kind)
}

func TestBuild_AlertPeriodFilter(t *testing.T) {
	b := NewBuilder(nil)
	from := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)

	bundle := b.Build(nil, nil, sampleAlerts(), from, to)
	require.Len(t, bundle.Alerts, 1)
	assert.Equal(t, "price_increase", bundle.Alerts[0].Kind)
}

func TestBundle_NeverCarriesRawDescriptions(t *testing.T) {
	b := NewBuilder(nil)
	bundle := b.Build(sampleTxns(), sampleSubs(), sampleAlerts(), time.Time{}, time.Time{})

	data, err := bundle.JSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "NETFLIX.COM")
	assert.NotContains(t, string(data), "866-579-7172")
	assert.Contains(t, string(data), "netflix")
}

func TestBundle_JSONRoundtrip(t *testing.T) {
	b := NewBuilder(nil)
	bundle := b.Build(sampleTxns(), sampleSubs(), sampleAlerts(), time.Time{}, time.Time{})

	data, err := bundle.JSON()
	require.NoError(t, err)

	var decoded Bundle
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, bundle.MonthlyTotals, decoded.MonthlyTotals)
	assert.Equal(t, bundle.Subscriptions, decoded.Subscriptions)
}

func TestBundle_WriteCSV(t *testing.T) {
	b := NewBuilder(nil)
	bundle := b.Build(sampleTxns(), sampleSubs(), sampleAlerts(), time.Time{}, time.Time{})

	dir := filepath.Join(t.TempDir(), "export")
	require.NoError(t, bundle.WriteCSV(dir))

	for _, name := range []string{"monthly_totals.csv", "subscriptions.csv", "alerts.csv"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.NotEmpty(t, data, name)
	}

	subs, err := os.ReadFile(filepath.Join(dir, "subscriptions.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(subs)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "merchant_key")
	assert.Contains(t, lines[1], "netflix")
}
