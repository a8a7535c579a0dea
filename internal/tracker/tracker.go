// Package tracker maintains subscription lifecycle across recompute runs:
// candidate, active, changed, cancelled. It diffs the clusterer's current view
// against prior state and returns the updated subscriptions plus the list of
// transitions that occurred, as a pure comparison with no in-place mutation of
// prior state.
//
// A price change puts the new charges in a different amount sub-group than the
// subscription's history, so the tracker cannot rely on the clusterer alone: a
// subscription may span several series (one per price point), and a single
// charge at a new price belongs to no series at all. Matching therefore works
// on member overlap across all series, and leftover charges that continue a
// subscription's cadence are absorbed as amount changes.
package tracker

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"subsentry/internal/dateutils"
	"subsentry/internal/enginerr"
	"subsentry/internal/logging"
	"subsentry/internal/models"
	"subsentry/internal/recurrence"
)

// TransitionKind identifies what happened to a subscription in one recompute.
type TransitionKind string

const (
	// TransitionCreated is a new candidate series.
	TransitionCreated TransitionKind = "created"
	// TransitionActivated is a series reaching confirmed recurrence.
	TransitionActivated TransitionKind = "activated"
	// TransitionAmountChanged is an expected-amount shift beyond tolerance.
	TransitionAmountChanged TransitionKind = "amount_changed"
	// TransitionPeriodChanged is a billing-cadence shift beyond tolerance.
	TransitionPeriodChanged TransitionKind = "period_changed"
	// TransitionCancelled is a subscription gone quiet past the horizon.
	TransitionCancelled TransitionKind = "cancelled"
	// TransitionStabilized is a changed subscription settling back to active.
	TransitionStabilized TransitionKind = "stabilized"
)

// Transition records one state change with the values needed to build an
// alert: what moved, from what to what, and which transaction triggered it.
type Transition struct {
	SubscriptionID string
	MerchantKey    string
	Kind           TransitionKind
	PriorStatus    models.SubscriptionStatus
	TriggerTxnID   string
	PriorAmount    decimal.Decimal
	NewAmount      decimal.Decimal
	PriorPeriod    int
	NewPeriod      int
}

// Config holds the tracker tolerances.
type Config struct {
	// PeriodDeviationPct bounds how far a charge's date delta may drift from
	// the inferred period before it counts as a frequency change (0.20 = 20%).
	PeriodDeviationPct float64
	// CancelAfterPeriods is the silence horizon in multiples of the period.
	CancelAfterPeriods int
	// Amounts supplies the amount tolerance function for absorbed charges.
	Amounts recurrence.Config
}

// Result is the outcome of one tracking pass.
type Result struct {
	Subscriptions []models.Subscription
	Transitions   []Transition
}

// Tracker applies the subscription state machine.
type Tracker struct {
	cfg       Config
	recluster *recurrence.Clusterer
	logger    logging.Logger
}

// New creates a Tracker.
func New(cfg Config, logger logging.Logger) *Tracker {
	if logger == nil {
		logger = &logging.MockLogger{}
	}
	return &Tracker{
		cfg:       cfg,
		recluster: recurrence.NewClusterer(cfg.Amounts, logger),
		logger:    logger,
	}
}

// Track diffs the current recurring series against prior subscriptions as of
// the given date. txns is the full normalized transaction set the series were
// clustered from. Cancelled subscriptions pass through untouched and are never
// matched: a resumed merchant becomes a new subscription, preserving the
// cancelled record's history.
func (tr *Tracker) Track(prior []models.Subscription, series []recurrence.Series, txns []models.Transaction, asOf time.Time) (Result, error) {
	txnByID := make(map[string]models.Transaction, len(txns))
	for _, t := range txns {
		txnByID[t.ID] = t
	}

	priorSorted := make([]models.Subscription, len(prior))
	copy(priorSorted, prior)
	sort.Slice(priorSorted, func(i, j int) bool { return priorSorted[i].ID < priorSorted[j].ID })

	seen := make(map[string]bool, len(prior))
	for _, p := range priorSorted {
		if seen[p.ID] {
			return Result{}, &enginerr.StateInconsistencyError{
				SubscriptionID: p.ID,
				Reason:         "duplicate subscription id in prior state",
			}
		}
		seen[p.ID] = true
	}

	matches := matchSeries(priorSorted, series, tr.cfg.CancelAfterPeriods)

	var result Result
	claimed := make(map[int]bool, len(series))

	for _, p := range priorSorted {
		matched := matches[p.ID]
		for _, idx := range matched {
			claimed[idx] = true
		}

		if p.Status == models.StatusCancelled {
			result.Subscriptions = append(result.Subscriptions, p)
			// Charges after the cancellation are a fresh start: the terminal
			// record is preserved and a resumed cadence becomes a new
			// subscription.
			for _, s := range tr.recluster.Cluster(chargesAfter(p.LastSeen, matched, series)) {
				result.append(tr.createSubscription(s))
			}
			continue
		}

		sub, transitions, err := tr.applySeries(p, matched, series, txnByID)
		if err != nil {
			return Result{}, err
		}
		result.append(sub, transitions)
	}

	for i, s := range series {
		if claimed[i] {
			continue
		}
		result.append(tr.createSubscription(s))
	}

	tr.absorbOrphans(&result, txns, series)
	tr.applyCancellations(&result, asOf)

	tr.logger.Debug("Tracked subscription state",
		logging.Field{Key: logging.FieldCount, Value: len(result.Subscriptions)})
	return result, nil
}

func (r *Result) append(sub models.Subscription, transitions []Transition) {
	r.Subscriptions = append(r.Subscriptions, sub)
	r.Transitions = append(r.Transitions, transitions...)
}

// chargesAfter collects members of the matched series posted strictly after
// the given date.
func chargesAfter(after time.Time, matched []int, series []recurrence.Series) []models.Transaction {
	var out []models.Transaction
	for _, idx := range matched {
		for _, m := range series[idx].Members {
			if m.PostedAt.After(after) {
				out = append(out, m)
			}
		}
	}
	return out
}

// matchSeries assigns series to prior subscriptions. Member overlap is the
// primary signal; a subscription may claim several series when its history
// spans price points. Absent any overlap, an unclaimed series for the same
// merchant and currency matches if it is within amount tolerance, or if it
// starts after the subscription's last charge inside the cancellation horizon
// (a price step imported as a batch). Cancelled subscriptions claim by overlap
// only, last, so a dormant merchant's series is not re-created every run.
// Iteration order is by subscription id so matching is deterministic.
func matchSeries(priorSorted []models.Subscription, series []recurrence.Series, cancelAfter int) map[string][]int {
	taken := make(map[int]bool, len(series))
	matches := make(map[string][]int, len(priorSorted))

	for _, p := range priorSorted {
		if p.Status == models.StatusCancelled {
			continue
		}
		members := make(map[string]bool, len(p.MemberTxnIDs))
		for _, id := range p.MemberTxnIDs {
			members[id] = true
		}

		var claimedIdx []int
		for i, s := range series {
			if taken[i] {
				continue
			}
			for _, id := range s.MemberIDs() {
				if members[id] {
					claimedIdx = append(claimedIdx, i)
					break
				}
			}
		}

		if len(claimedIdx) == 0 {
			for i, s := range series {
				if taken[i] || s.MerchantKey != p.MerchantKey || s.Currency != p.Currency {
					continue
				}
				withinAmount := s.ExpectedAmount.Sub(p.ExpectedAmount).Abs().LessThanOrEqual(p.AmountTolerance)
				continues := p.PeriodDays > 0 &&
					s.FirstSeen().PostedAt.After(p.LastSeen) &&
					dateutils.DaysBetween(p.LastSeen, s.FirstSeen().PostedAt) <= cancelAfter*p.PeriodDays
				if withinAmount || continues {
					claimedIdx = append(claimedIdx, i)
					break
				}
			}
		}

		for _, i := range claimedIdx {
			taken[i] = true
		}
		if len(claimedIdx) > 0 {
			matches[p.ID] = claimedIdx
		}
	}

	for _, p := range priorSorted {
		if p.Status != models.StatusCancelled {
			continue
		}
		members := make(map[string]bool, len(p.MemberTxnIDs))
		for _, id := range p.MemberTxnIDs {
			members[id] = true
		}

		var claimedIdx []int
		for i, s := range series {
			if taken[i] {
				continue
			}
			for _, id := range s.MemberIDs() {
				if members[id] {
					claimedIdx = append(claimedIdx, i)
					break
				}
			}
		}
		for _, i := range claimedIdx {
			taken[i] = true
		}
		if len(claimedIdx) > 0 {
			matches[p.ID] = claimedIdx
		}
	}
	return matches
}

// applySeries folds a subscription's matched series into it. The baseline
// (expected amount, tolerance, period) follows the series holding the newest
// charge. When the subscription itself is newer than every matched series,
// meaning a later charge was absorbed outside any series, the baseline is kept.
func (tr *Tracker) applySeries(p models.Subscription, matched []int, series []recurrence.Series, txnByID map[string]models.Transaction) (models.Subscription, []Transition, error) {
	updated := p

	if len(matched) == 0 {
		return updated, nil, nil
	}

	baseline := series[matched[0]]
	memberIDs := make(map[string]bool, len(p.MemberTxnIDs))
	for _, id := range p.MemberTxnIDs {
		memberIDs[id] = true
	}
	for _, idx := range matched {
		s := series[idx]
		if s.LastSeen().PostedAt.After(baseline.LastSeen().PostedAt) {
			baseline = s
		}
		for _, id := range s.MemberIDs() {
			memberIDs[id] = true
		}
	}

	members, err := sortMembers(p.ID, memberIDs, txnByID)
	if err != nil {
		return models.Subscription{}, nil, err
	}

	updated.MemberTxnIDs = make([]string, len(members))
	for i, m := range members {
		updated.MemberTxnIDs[i] = m.ID
	}
	updated.FirstSeen = members[0].PostedAt
	updated.LastSeen = members[len(members)-1].PostedAt

	var transitions []Transition

	lagging := p.LastSeen.After(baseline.LastSeen().PostedAt)
	amountChanged := false
	if !lagging {
		amountChanged = baseline.ExpectedAmount.Sub(p.ExpectedAmount).Abs().GreaterThan(p.AmountTolerance)
		if amountChanged {
			transitions = append(transitions, Transition{
				SubscriptionID: p.ID,
				MerchantKey:    p.MerchantKey,
				Kind:           TransitionAmountChanged,
				PriorStatus:    p.Status,
				TriggerTxnID:   tr.amountTrigger(p, baseline),
				PriorAmount:    p.ExpectedAmount,
				NewAmount:      baseline.ExpectedAmount,
				PriorPeriod:    p.PeriodDays,
				NewPeriod:      baseline.PeriodDays,
			})
		}
		updated.ExpectedAmount = baseline.ExpectedAmount
		updated.AmountTolerance = baseline.Tolerance
		updated.PeriodDays = baseline.PeriodDays
	}

	freq, periodChanged := tr.frequencyTransition(p, members)
	if periodChanged {
		transitions = append(transitions, freq)
	}

	switch {
	case amountChanged || periodChanged:
		updated.Status = models.StatusChanged
	case p.Status == models.StatusChanged:
		updated.Status = models.StatusActive
		transitions = append(transitions, Transition{
			SubscriptionID: p.ID,
			MerchantKey:    p.MerchantKey,
			Kind:           TransitionStabilized,
			PriorStatus:    p.Status,
			TriggerTxnID:   lastID(updated.MemberTxnIDs),
			PriorAmount:    p.ExpectedAmount,
			NewAmount:      updated.ExpectedAmount,
			PriorPeriod:    p.PeriodDays,
			NewPeriod:      updated.PeriodDays,
		})
	case p.Status == models.StatusCandidate && baseline.Confirmed:
		updated.Status = models.StatusActive
		transitions = append(transitions, Transition{
			SubscriptionID: p.ID,
			MerchantKey:    p.MerchantKey,
			Kind:           TransitionActivated,
			PriorStatus:    p.Status,
			TriggerTxnID:   lastID(updated.MemberTxnIDs),
			PriorAmount:    updated.ExpectedAmount,
			NewAmount:      updated.ExpectedAmount,
			PriorPeriod:    updated.PeriodDays,
			NewPeriod:      updated.PeriodDays,
		})
	}

	return updated, transitions, nil
}

// frequencyTransition scans the charges added this run for a date delta off
// the inferred period. Only the first deviation is reported; the baseline
// update covers the rest of the run.
func (tr *Tracker) frequencyTransition(p models.Subscription, members []models.Transaction) (Transition, bool) {
	if p.PeriodDays <= 0 {
		return Transition{}, false
	}

	known := make(map[string]bool, len(p.MemberTxnIDs))
	for _, id := range p.MemberTxnIDs {
		known[id] = true
	}

	for i := 1; i < len(members); i++ {
		if known[members[i].ID] {
			continue
		}
		delta := dateutils.DaysBetween(members[i-1].PostedAt, members[i].PostedAt)
		if delta == 0 {
			continue
		}
		if deviationExceeded(p.PeriodDays, delta, tr.cfg.PeriodDeviationPct) {
			return Transition{
				SubscriptionID: p.ID,
				MerchantKey:    p.MerchantKey,
				Kind:           TransitionPeriodChanged,
				PriorStatus:    p.Status,
				TriggerTxnID:   members[i].ID,
				PriorAmount:    p.ExpectedAmount,
				NewAmount:      p.ExpectedAmount,
				PriorPeriod:    p.PeriodDays,
				NewPeriod:      delta,
			}, true
		}
	}
	return Transition{}, false
}

// createSubscription materializes a brand-new series as a candidate or, when
// the series is already confirmed, an active subscription.
func (tr *Tracker) createSubscription(s recurrence.Series) (models.Subscription, []Transition) {
	sub := models.Subscription{
		ID:              uuid.New().String(),
		MerchantKey:     s.MerchantKey,
		Currency:        s.Currency,
		ExpectedAmount:  s.ExpectedAmount,
		AmountTolerance: s.Tolerance,
		PeriodDays:      s.PeriodDays,
		Status:          models.StatusCandidate,
		FirstSeen:       s.FirstSeen().PostedAt,
		LastSeen:        s.LastSeen().PostedAt,
		MemberTxnIDs:    s.MemberIDs(),
	}

	kind := TransitionCreated
	if s.Confirmed {
		sub.Status = models.StatusActive
		kind = TransitionActivated
	}

	return sub, []Transition{{
		SubscriptionID: sub.ID,
		MerchantKey:    sub.MerchantKey,
		Kind:           kind,
		PriorStatus:    models.StatusCandidate,
		TriggerTxnID:   lastID(sub.MemberTxnIDs),
		PriorAmount:    sub.ExpectedAmount,
		NewAmount:      sub.ExpectedAmount,
		PriorPeriod:    sub.PeriodDays,
		NewPeriod:      sub.PeriodDays,
	}}
}

// absorbOrphans folds charges that belong to no series into the subscription
// whose cadence they continue. A charge posting roughly one period after a
// subscription's last member, at a price outside every same-merchant
// subscription's tolerance, is that subscription's price change. This is the
// only way a single charge at a new price can be seen: it is too lonely to
// form a series of its own.
func (tr *Tracker) absorbOrphans(result *Result, txns []models.Transaction, series []recurrence.Series) {
	inSeries := make(map[string]bool)
	for _, s := range series {
		for _, id := range s.MemberIDs() {
			inSeries[id] = true
		}
	}
	inSub := make(map[string]bool)
	for _, sub := range result.Subscriptions {
		for _, id := range sub.MemberTxnIDs {
			inSub[id] = true
		}
	}

	orphans := make([]models.Transaction, 0)
	for _, t := range txns {
		if t.MerchantKey == "" || inSeries[t.ID] || inSub[t.ID] {
			continue
		}
		orphans = append(orphans, t)
	}
	sort.Sort(models.ByPostedAt(orphans))

	for _, t := range orphans {
		for i := range result.Subscriptions {
			sub := &result.Subscriptions[i]
			if sub.Status == models.StatusCancelled ||
				sub.MerchantKey != t.MerchantKey || sub.Currency != t.Currency {
				continue
			}
			if !t.PostedAt.After(sub.LastSeen) || sub.PeriodDays <= 0 {
				continue
			}
			delta := dateutils.DaysBetween(sub.LastSeen, t.PostedAt)
			if deviationExceeded(sub.PeriodDays, delta, tr.cfg.PeriodDeviationPct) {
				continue
			}
			if tr.belongsElsewhere(result.Subscriptions, i, t) {
				continue
			}

			sub.MemberTxnIDs = append(sub.MemberTxnIDs, t.ID)
			sub.LastSeen = t.PostedAt
			if t.Amount.Sub(sub.ExpectedAmount).Abs().GreaterThan(sub.AmountTolerance) {
				result.Transitions = append(result.Transitions, Transition{
					SubscriptionID: sub.ID,
					MerchantKey:    sub.MerchantKey,
					Kind:           TransitionAmountChanged,
					PriorStatus:    sub.Status,
					TriggerTxnID:   t.ID,
					PriorAmount:    sub.ExpectedAmount,
					NewAmount:      t.Amount,
					PriorPeriod:    sub.PeriodDays,
					NewPeriod:      sub.PeriodDays,
				})
				sub.ExpectedAmount = t.Amount
				sub.AmountTolerance = tr.cfg.Amounts.AmountTolerance(t.Amount)
				sub.Status = models.StatusChanged
			}
			break
		}
	}
}

// belongsElsewhere reports whether a charge fits another same-merchant
// subscription's amount tolerance, which marks it as that plan tier's charge
// rather than a price change here.
func (tr *Tracker) belongsElsewhere(subs []models.Subscription, selfIdx int, t models.Transaction) bool {
	for i := range subs {
		if i == selfIdx {
			continue
		}
		o := subs[i]
		if o.Status == models.StatusCancelled || o.MerchantKey != t.MerchantKey || o.Currency != t.Currency {
			continue
		}
		if t.Amount.Sub(o.ExpectedAmount).Abs().LessThanOrEqual(o.AmountTolerance) {
			return true
		}
	}
	return false
}

// applyCancellations marks every subscription silent past the horizon. A
// freshly imported historical series can be created and cancelled in the same
// run; both transitions are on record.
func (tr *Tracker) applyCancellations(result *Result, asOf time.Time) {
	for i := range result.Subscriptions {
		sub := &result.Subscriptions[i]
		if sub.Status == models.StatusCancelled || sub.PeriodDays <= 0 {
			continue
		}
		if dateutils.DaysBetween(sub.LastSeen, asOf) <= tr.cfg.CancelAfterPeriods*sub.PeriodDays {
			continue
		}

		prior := sub.Status
		sub.Status = models.StatusCancelled
		result.Transitions = append(result.Transitions, Transition{
			SubscriptionID: sub.ID,
			MerchantKey:    sub.MerchantKey,
			Kind:           TransitionCancelled,
			PriorStatus:    prior,
			TriggerTxnID:   lastID(sub.MemberTxnIDs),
			PriorAmount:    sub.ExpectedAmount,
			NewAmount:      sub.ExpectedAmount,
			PriorPeriod:    sub.PeriodDays,
			NewPeriod:      sub.PeriodDays,
		})
	}
}

func sortMembers(subID string, memberIDs map[string]bool, txnByID map[string]models.Transaction) ([]models.Transaction, error) {
	members := make([]models.Transaction, 0, len(memberIDs))
	for id := range memberIDs {
		t, ok := txnByID[id]
		if !ok {
			return nil, &enginerr.StateInconsistencyError{
				SubscriptionID: subID,
				Reason:         fmt.Sprintf("member transaction %s not present in transaction set", id),
			}
		}
		members = append(members, t)
	}
	sort.Sort(models.ByPostedAt(members))
	return members, nil
}

// amountTrigger picks the earliest charge new to the subscription whose amount
// sits outside the prior tolerance; the series's newest charge otherwise.
func (tr *Tracker) amountTrigger(p models.Subscription, s recurrence.Series) string {
	known := make(map[string]bool, len(p.MemberTxnIDs))
	for _, id := range p.MemberTxnIDs {
		known[id] = true
	}
	for _, m := range s.Members {
		if known[m.ID] {
			continue
		}
		if m.Amount.Sub(p.ExpectedAmount).Abs().GreaterThan(p.AmountTolerance) {
			return m.ID
		}
	}
	return lastID(s.MemberIDs())
}

func deviationExceeded(prior, current int, pct float64) bool {
	diff := float64(current - prior)
	if diff < 0 {
		diff = -diff
	}
	return diff > pct*float64(prior)
}

func lastID(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[len(ids)-1]
}
