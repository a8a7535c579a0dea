package recurrence

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsentry/internal/models"
)

func testConfig() Config {
	return Config{
		AmountTolerancePct:   0.01,
		AmountToleranceFloor: decimal.RequireFromString("0.50"),
		PeriodDeviationPct:   0.20,
		CandidateMinMembers:  2,
		ConfirmMinMembers:    3,
	}
}

func txnOn(id, merchant, amount string, date time.Time) models.Transaction {
	return models.Transaction{
		ID:          id,
		PostedAt:    date,
		MerchantKey: merchant,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "USD",
		AccountID:   "acct-1",
	}
}

func monthly(id, merchant, amount string, monthsFromJan int) models.Transaction {
	return txnOn(id, merchant, amount, time.Date(2026, time.Month(1+monthsFromJan), 15, 0, 0, 0, 0, time.UTC))
}

func TestCluster_TwoMembersIsCandidateOnly(t *testing.T) {
	c := NewClusterer(testConfig(), nil)

	series := c.Cluster([]models.Transaction{
		monthly("t1", "netflix", "-15.49", 0),
		monthly("t2", "netflix", "-15.49", 1),
	})

	require.Len(t, series, 1)
	s := series[0]
	assert.Equal(t, "netflix", s.MerchantKey)
	assert.Equal(t, 30, s.PeriodDays)
	assert.True(t, s.BucketMatched)
	assert.False(t, s.Confirmed)
	assert.Equal(t, []string{"t1", "t2"}, s.MemberIDs())
}

func TestCluster_ThirdMemberConfirms(t *testing.T) {
	c := NewClusterer(testConfig(), nil)

	series := c.Cluster([]models.Transaction{
		monthly("t1", "netflix", "-15.49", 0),
		monthly("t2", "netflix", "-15.49", 1),
		monthly("t3", "netflix", "-15.49", 2),
	})

	require.Len(t, series, 1)
	assert.True(t, series[0].Confirmed)
	assert.Equal(t, 30, series[0].PeriodDays)
	assert.True(t, series[0].ExpectedAmount.Equal(decimal.RequireFromString("-15.49")))
}

func TestCluster_SingleTransactionProducesNoSeries(t *testing.T) {
	c := NewClusterer(testConfig(), nil)
	assert.Empty(t, c.Cluster([]models.Transaction{monthly("t1", "netflix", "-15.49", 0)}))
}

func TestCluster_PlanTiersSplitByAmount(t *testing.T) {
	c := NewClusterer(testConfig(), nil)

	var txns []models.Transaction
	for i := 0; i < 3; i++ {
		txns = append(txns, monthly("basic-"+string(rune('a'+i)), "spotify", "-9.99", i))
		txns = append(txns, txnOn("family-"+string(rune('a'+i)), "spotify", "-16.99",
			time.Date(2026, time.Month(1+i), 2, 0, 0, 0, 0, time.UTC)))
	}

	series := c.Cluster(txns)
	require.Len(t, series, 2)
	amounts := []string{series[0].ExpectedAmount.StringFixed(2), series[1].ExpectedAmount.StringFixed(2)}
	assert.Contains(t, amounts, "-9.99")
	assert.Contains(t, amounts, "-16.99")
}

func TestCluster_CurrencyMismatchSplits(t *testing.T) {
	c := NewClusterer(testConfig(), nil)

	var txns []models.Transaction
	for i := 0; i < 2; i++ {
		usd := monthly("usd-"+string(rune('a'+i)), "netflix", "-15.49", i)
		chf := monthly("chf-"+string(rune('a'+i)), "netflix", "-15.49", i)
		chf.Currency = "CHF"
		chf.ID = "chf-" + string(rune('a'+i))
		txns = append(txns, usd, chf)
	}

	series := c.Cluster(txns)
	require.Len(t, series, 2)
	assert.NotEqual(t, series[0].Currency, series[1].Currency)
}

func TestCluster_IrregularCadenceRejected(t *testing.T) {
	c := NewClusterer(testConfig(), nil)

	// Gaps of 3, 45 and 200 days share no cadence.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txns := []models.Transaction{
		txnOn("t1", "acme", "-20.00", base),
		txnOn("t2", "acme", "-20.00", base.AddDate(0, 0, 3)),
		txnOn("t3", "acme", "-20.00", base.AddDate(0, 0, 48)),
		txnOn("t4", "acme", "-20.00", base.AddDate(0, 0, 248)),
	}

	assert.Empty(t, c.Cluster(txns))
}

func TestCluster_OffBucketPeriodStaysUnconfirmed(t *testing.T) {
	c := NewClusterer(testConfig(), nil)

	// Every 50 days: regular, but no canonical bucket fits.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txns := []models.Transaction{
		txnOn("t1", "acme", "-20.00", base),
		txnOn("t2", "acme", "-20.00", base.AddDate(0, 0, 50)),
		txnOn("t3", "acme", "-20.00", base.AddDate(0, 0, 100)),
	}

	series := c.Cluster(txns)
	require.Len(t, series, 1)
	assert.False(t, series[0].BucketMatched)
	assert.False(t, series[0].Confirmed)
	assert.Equal(t, 50, series[0].PeriodDays)
}

func TestCluster_MonthLengthJitterTolerated(t *testing.T) {
	c := NewClusterer(testConfig(), nil)

	// Calendar months are 28-31 days; all land in the monthly bucket.
	txns := []models.Transaction{
		txnOn("t1", "hulu", "-7.99", time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)),
		txnOn("t2", "hulu", "-7.99", time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)),
		txnOn("t3", "hulu", "-7.99", time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)),
		txnOn("t4", "hulu", "-7.99", time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)),
	}

	series := c.Cluster(txns)
	require.Len(t, series, 1)
	assert.Equal(t, 30, series[0].PeriodDays)
	assert.True(t, series[0].Confirmed)
}

func TestCluster_SameDayDuplicateDoesNotDistortCadence(t *testing.T) {
	c := NewClusterer(testConfig(), nil)

	txns := []models.Transaction{
		monthly("t1", "netflix", "-15.49", 0),
		monthly("t1b", "netflix", "-15.49", 0),
		monthly("t2", "netflix", "-15.49", 1),
		monthly("t3", "netflix", "-15.49", 2),
	}

	series := c.Cluster(txns)
	require.Len(t, series, 1)
	assert.Equal(t, 30, series[0].PeriodDays)
	assert.True(t, series[0].Confirmed)
}

func TestCluster_Deterministic(t *testing.T) {
	c := NewClusterer(testConfig(), nil)

	txns := []models.Transaction{
		monthly("t3", "netflix", "-15.49", 2),
		monthly("t1", "netflix", "-15.49", 0),
		monthly("s2", "spotify", "-9.99", 1),
		monthly("t2", "netflix", "-15.49", 1),
		monthly("s1", "spotify", "-9.99", 0),
	}

	first := c.Cluster(txns)
	second := c.Cluster(txns)
	assert.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.Equal(t, "netflix", first[0].MerchantKey)
	assert.Equal(t, "spotify", first[1].MerchantKey)
}

func TestAmountTolerance(t *testing.T) {
	cfg := testConfig()
	// 1% of 100 = 1.00 beats the floor.
	assert.True(t, cfg.AmountTolerance(decimal.RequireFromString("-100")).Equal(decimal.RequireFromString("1.00")))
	// 1% of 9.99 is under the 0.50 floor.
	assert.True(t, cfg.AmountTolerance(decimal.RequireFromString("-9.99")).Equal(decimal.RequireFromString("0.50")))
}
