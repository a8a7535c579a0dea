// Package recurrence groups a merchant's transactions into candidate recurring
// series and infers each series's billing period. Clustering is deterministic:
// the same transaction set always yields the same series in the same order.
package recurrence

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"subsentry/internal/dateutils"
	"subsentry/internal/logging"
	"subsentry/internal/models"
	"subsentry/internal/stats"
)

// DefaultPeriodBuckets are the canonical billing periods in days: weekly,
// biweekly, monthly, quarterly, annual.
var DefaultPeriodBuckets = []int{7, 14, 30, 91, 365}

// minBucketTolerance keeps short buckets (weekly) from demanding day-exact
// cadence.
const minBucketTolerance = 3.0

// Config holds the clustering tolerances. All are tunable; the defaults are
// heuristic, not optimal.
type Config struct {
	// AmountTolerancePct is the relative amount tolerance (0.01 = 1%).
	AmountTolerancePct float64
	// AmountToleranceFloor is the absolute tolerance floor in currency units.
	AmountToleranceFloor decimal.Decimal
	// PeriodDeviationPct is how far a date delta may stray from the median
	// delta, and the median from a canonical bucket (0.20 = 20%).
	PeriodDeviationPct float64
	// CandidateMinMembers is the minimum distinct charge days for a series.
	CandidateMinMembers int
	// ConfirmMinMembers is the distinct charge days needed for confirmation.
	ConfirmMinMembers int
	// PeriodBuckets overrides DefaultPeriodBuckets when non-empty.
	PeriodBuckets []int
}

// AmountTolerance returns the absolute tolerance for an expected amount:
// max(pct * |expected|, floor).
func (c Config) AmountTolerance(expected decimal.Decimal) decimal.Decimal {
	pct := expected.Abs().Mul(decimal.NewFromFloat(c.AmountTolerancePct))
	if pct.LessThan(c.AmountToleranceFloor) {
		return c.AmountToleranceFloor
	}
	return pct
}

func (c Config) buckets() []int {
	if len(c.PeriodBuckets) > 0 {
		return c.PeriodBuckets
	}
	return DefaultPeriodBuckets
}

// Series is a candidate recurring-charge group for one merchant at one price
// point. Confirmed series qualify for active status; unconfirmed ones stay
// candidates.
type Series struct {
	MerchantKey    string
	Currency       string
	ExpectedAmount decimal.Decimal
	Tolerance      decimal.Decimal
	PeriodDays     int
	BucketMatched  bool
	Confirmed      bool
	Members        []models.Transaction
}

// FirstSeen returns the posting date of the earliest member.
func (s Series) FirstSeen() models.Transaction { return s.Members[0] }

// LastSeen returns the posting date of the latest member.
func (s Series) LastSeen() models.Transaction { return s.Members[len(s.Members)-1] }

// MemberIDs returns the member transaction ids in chronological order.
func (s Series) MemberIDs() []string {
	ids := make([]string, len(s.Members))
	for i, m := range s.Members {
		ids[i] = m.ID
	}
	return ids
}

// Clusterer builds recurring series from normalized transactions.
type Clusterer struct {
	cfg    Config
	logger logging.Logger
}

// NewClusterer creates a Clusterer with the given tolerances.
func NewClusterer(cfg Config, logger logging.Logger) *Clusterer {
	if logger == nil {
		logger = &logging.MockLogger{}
	}
	return &Clusterer{cfg: cfg, logger: logger}
}

// Cluster groups transactions into recurring series. Transactions without a
// merchant key are ignored; a merchant with a single charge day produces no
// series; currency mismatches within a merchant split into separate series.
func (c *Clusterer) Cluster(txns []models.Transaction) []Series {
	groups := make(map[string][]models.Transaction)
	keys := make([]string, 0)
	for _, t := range txns {
		if t.MerchantKey == "" {
			continue
		}
		k := t.MerchantKey + "\x00" + t.Currency
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], t)
	}
	sort.Strings(keys)

	var out []Series
	for _, k := range keys {
		group := groups[k]
		sort.Sort(models.ByPostedAt(group))

		for _, sub := range c.splitByAmount(group) {
			if series, ok := c.buildSeries(sub); ok {
				out = append(out, series)
			}
		}
	}

	c.logger.Debug("Clustered recurring series",
		logging.Field{Key: logging.FieldCount, Value: len(out)})
	return out
}

// splitByAmount partitions a merchant's chronological transactions into
// sub-groups of compatible amounts. A transaction joins the first sub-group
// whose median amount it sits within tolerance of; otherwise it starts a new
// one. This separates plan tiers billed by the same merchant.
func (c *Clusterer) splitByAmount(group []models.Transaction) [][]models.Transaction {
	var subs [][]models.Transaction
	for _, t := range group {
		placed := false
		for i, sub := range subs {
			expected := medianAmount(sub)
			if t.Amount.Sub(expected).Abs().LessThanOrEqual(c.cfg.AmountTolerance(expected)) {
				subs[i] = append(sub, t)
				placed = true
				break
			}
		}
		if !placed {
			subs = append(subs, []models.Transaction{t})
		}
	}
	return subs
}

// buildSeries infers the period of one amount sub-group and decides whether it
// qualifies as a candidate or confirmed series.
func (c *Clusterer) buildSeries(members []models.Transaction) (Series, bool) {
	deltas := chargeDayDeltas(members)
	occurrences := len(deltas) + 1
	if occurrences < c.cfg.CandidateMinMembers || len(deltas) == 0 {
		return Series{}, false
	}

	median := stats.MedianInt(deltas)
	if median <= 0 {
		return Series{}, false
	}

	consistent := 0
	for _, d := range deltas {
		if math.Abs(float64(d)-median) <= c.cfg.PeriodDeviationPct*median {
			consistent++
		}
	}
	// A lone delta is trivially consistent; with more history the cadence
	// itself has to repeat, rejecting one-off repeats.
	if len(deltas) >= 2 && consistent < 2 {
		return Series{}, false
	}

	bucket, matched := classifyPeriod(median, c.cfg.buckets(), c.cfg.PeriodDeviationPct)
	period := bucket
	if !matched {
		period = int(math.Round(median))
	}

	expected := medianAmount(members)
	return Series{
		MerchantKey:    members[0].MerchantKey,
		Currency:       members[0].Currency,
		ExpectedAmount: expected,
		Tolerance:      c.cfg.AmountTolerance(expected),
		PeriodDays:     period,
		BucketMatched:  matched,
		Confirmed:      matched && occurrences >= c.cfg.ConfirmMinMembers && consistent >= 2,
		Members:        members,
	}, true
}

// chargeDayDeltas returns the day gaps between consecutive distinct charge
// days. Same-day members count as one occurrence so a duplicate charge cannot
// distort the cadence.
func chargeDayDeltas(members []models.Transaction) []int {
	var deltas []int
	for i := 1; i < len(members); i++ {
		d := dateutils.DaysBetween(members[i-1].PostedAt, members[i].PostedAt)
		if d == 0 {
			continue
		}
		deltas = append(deltas, d)
	}
	return deltas
}

// classifyPeriod maps a median day delta onto the nearest canonical bucket.
// The match tolerance is pct of the bucket length, floored at three days.
func classifyPeriod(median float64, buckets []int, deviationPct float64) (int, bool) {
	best := buckets[0]
	bestDev := math.Abs(median - float64(best))
	for _, b := range buckets[1:] {
		if dev := math.Abs(median - float64(b)); dev < bestDev {
			best, bestDev = b, dev
		}
	}

	tol := deviationPct * float64(best)
	if tol < minBucketTolerance {
		tol = minBucketTolerance
	}
	return best, bestDev <= tol
}

func medianAmount(members []models.Transaction) decimal.Decimal {
	amounts := make([]decimal.Decimal, len(members))
	for i, m := range members {
		amounts[i] = m.Amount
	}
	return stats.Median(amounts)
}
