// Package dedupe filters exact duplicate transactions on import and surfaces
// near-duplicate pairs as duplicate-charge candidates. Exact duplicates are
// dropped silently so re-importing the same file is idempotent; near duplicates
// are never dropped, only reported.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"subsentry/internal/dateutils"
	"subsentry/internal/logging"
	"subsentry/internal/models"
)

// Pair is a near-duplicate candidate: two distinct transactions for the same
// merchant and account with the same amount, posted within the dedupe window.
// Original always posts on or before Duplicate.
type Pair struct {
	Original  models.Transaction
	Duplicate models.Transaction
}

// Deduplicator detects exact and near duplicates among transactions.
type Deduplicator struct {
	windowDays int
	logger     logging.Logger
}

// New creates a Deduplicator. windowDays bounds how far apart two charges may
// post and still count as a near-duplicate pair.
func New(windowDays int, logger logging.Logger) *Deduplicator {
	if logger == nil {
		logger = &logging.MockLogger{}
	}
	return &Deduplicator{
		windowDays: windowDays,
		logger:     logger,
	}
}

// Fingerprint returns a stable content hash identifying a transaction for
// exact-duplicate detection: account, posting day, amount, currency and the
// collapsed raw description. The synthetic ID and import batch are excluded so
// the same row hashes identically across imports.
func Fingerprint(t models.Transaction) string {
	desc := strings.Join(strings.Fields(strings.ToLower(t.RawDescription)), " ")
	parts := strings.Join([]string{
		t.AccountID,
		dateutils.ToISODate(t.PostedAt),
		t.Amount.StringFixed(2),
		strings.ToUpper(t.Currency),
		desc,
	}, "|")
	sum := sha256.Sum256([]byte(parts))
	return hex.EncodeToString(sum[:])
}

// Dedupe filters incoming transactions whose fingerprint already exists among
// the stored set or earlier in the same batch. Returns the unique transactions
// in input order and the number skipped.
func (d *Deduplicator) Dedupe(existing, incoming []models.Transaction) ([]models.Transaction, int) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	for _, t := range existing {
		seen[Fingerprint(t)] = struct{}{}
	}

	unique := make([]models.Transaction, 0, len(incoming))
	skipped := 0
	for _, t := range incoming {
		fp := Fingerprint(t)
		if _, ok := seen[fp]; ok {
			skipped++
			d.logger.Debug("Skipping exact duplicate transaction",
				logging.Field{Key: logging.FieldTransactionID, Value: t.ID},
				logging.Field{Key: logging.FieldAccountID, Value: t.AccountID})
			continue
		}
		seen[fp] = struct{}{}
		unique = append(unique, t)
	}

	if skipped > 0 {
		d.logger.Info("Dropped exact duplicates on import",
			logging.Field{Key: logging.FieldCount, Value: skipped})
	}
	return unique, skipped
}

// NearDuplicates returns pairs of distinct transactions that share account,
// merchant key, amount and currency and posted within the window of each
// other. Output order is deterministic.
func (d *Deduplicator) NearDuplicates(txns []models.Transaction) []Pair {
	groups := make(map[string][]models.Transaction)
	for _, t := range txns {
		key := strings.Join([]string{
			t.AccountID,
			t.MerchantKey,
			t.Amount.StringFixed(2),
			strings.ToUpper(t.Currency),
		}, "|")
		groups[key] = append(groups[key], t)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []Pair
	for _, k := range keys {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		sort.Sort(models.ByPostedAt(group))

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				gap := dateutils.DaysBetween(group[i].PostedAt, group[j].PostedAt)
				if gap > d.windowDays {
					break
				}
				pairs = append(pairs, Pair{Original: group[i], Duplicate: group[j]})
			}
		}
	}

	if len(pairs) > 0 {
		d.logger.Debug("Found near-duplicate candidates",
			logging.Field{Key: logging.FieldCount, Value: len(pairs)})
	}
	return pairs
}
