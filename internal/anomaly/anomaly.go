// Package anomaly scores how unusual each transaction's amount is against its
// peer history. Scoring is recomputed in full every run, reads subscription
// state never, and writes it never: a high score cannot change a
// subscription's lifecycle by itself.
package anomaly

import (
	"github.com/shopspring/decimal"

	"subsentry/internal/logging"
	"subsentry/internal/models"
	"subsentry/internal/stats"
)

// maxScore bounds the reported z-score; beyond this the magnitude carries no
// extra information.
const maxScore = 10.0

// Config holds the scoring parameters.
type Config struct {
	// MinHistory is the peer-group size below which a baseline is not trusted.
	MinHistory int
	// LowConfidenceCap bounds the score of thin-history transactions so they
	// cannot rank above well-evidenced anomalies.
	LowConfidenceCap float64
}

// Scorer computes anomaly scores over a normalized transaction set.
type Scorer struct {
	cfg    Config
	logger logging.Logger
}

// New creates a Scorer.
func New(cfg Config, logger logging.Logger) *Scorer {
	if logger == nil {
		logger = &logging.MockLogger{}
	}
	return &Scorer{cfg: cfg, logger: logger}
}

// Score computes one AnomalyScore per transaction, in input order. The peer
// group is the merchant's other transactions; a merchant with thin history
// falls back to the account-level distribution, and a transaction with thin
// history everywhere gets a capped low-confidence score.
func (sc *Scorer) Score(txns []models.Transaction) []models.AnomalyScore {
	byMerchant := make(map[string][]int)
	byAccount := make(map[string][]int)
	for i, t := range txns {
		if t.MerchantKey != "" {
			byMerchant[t.MerchantKey] = append(byMerchant[t.MerchantKey], i)
		}
		byAccount[t.AccountID] = append(byAccount[t.AccountID], i)
	}

	scores := make([]models.AnomalyScore, len(txns))
	for i, t := range txns {
		scores[i] = sc.scoreOne(t, i, txns, byMerchant, byAccount)
	}

	sc.logger.Debug("Scored transactions for anomalies",
		logging.Field{Key: logging.FieldCount, Value: len(scores)})
	return scores
}

func (sc *Scorer) scoreOne(t models.Transaction, self int, txns []models.Transaction, byMerchant, byAccount map[string][]int) models.AnomalyScore {
	merchantHist := peerAmounts(txns, byMerchant[t.MerchantKey], self)
	if len(merchantHist) >= sc.cfg.MinHistory {
		return models.AnomalyScore{
			TransactionID: t.ID,
			Score:         clamp(stats.RobustZ(t.Amount, merchantHist), maxScore),
			Basis:         models.BasisMerchant,
		}
	}

	accountHist := peerAmounts(txns, byAccount[t.AccountID], self)
	if len(accountHist) >= sc.cfg.MinHistory {
		return models.AnomalyScore{
			TransactionID: t.ID,
			Score:         clamp(stats.RobustZ(t.Amount, accountHist), maxScore),
			Basis:         models.BasisAccount,
		}
	}

	// Too little history anywhere: a spuriously extreme z-score would just be
	// noise, so the score is capped low instead.
	hist := accountHist
	if len(merchantHist) > len(accountHist) {
		hist = merchantHist
	}
	return models.AnomalyScore{
		TransactionID: t.ID,
		Score:         clamp(stats.RobustZ(t.Amount, hist), sc.cfg.LowConfidenceCap),
		Basis:         models.BasisInsufficient,
	}
}

// peerAmounts collects the amounts of the peer group, excluding the scored
// transaction itself so one outlier cannot vouch for its own normality.
func peerAmounts(txns []models.Transaction, indices []int, self int) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(indices))
	for _, i := range indices {
		if i == self {
			continue
		}
		out = append(out, txns[i].Amount)
	}
	return out
}

func clamp(score, limit float64) float64 {
	if score > limit {
		return limit
	}
	return score
}
