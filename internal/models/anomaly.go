package models

// AnomalyBasis names the statistical baseline an anomaly score was computed
// against.
type AnomalyBasis string

const (
	// BasisMerchant means the peer group was the transaction's merchant history.
	BasisMerchant AnomalyBasis = "merchant"
	// BasisAccount means the merchant history was too thin and the account-level
	// distribution was used instead.
	BasisAccount AnomalyBasis = "account"
	// BasisInsufficient means no peer group had enough history; the score is
	// capped at a low-confidence value.
	BasisInsufficient AnomalyBasis = "insufficient_history"
)

// AnomalyScore measures how unusual a transaction's amount is relative to its
// peer history. Higher is more unusual. Scores are recomputed in full on each
// run since the baseline shifts with new data.
type AnomalyScore struct {
	TransactionID string       `json:"transaction_id"`
	Score         float64      `json:"score"`
	Basis         AnomalyBasis `json:"basis"`
}
