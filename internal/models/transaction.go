// Package models provides the data structures shared by the engine and its collaborators.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is an immutable fact once imported. The engine reads it and never
// mutates it, except to attach a derived merchant key on first processing.
// Amounts are signed decimals; debits are negative.
type Transaction struct {
	ID             string          `json:"id"`
	PostedAt       time.Time       `json:"posted_at"`
	RawDescription string          `json:"raw_description"`
	MerchantKey    string          `json:"merchant_key"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	AccountID      string          `json:"account_id"`
	ImportBatchID  string          `json:"import_batch_id"`
}

// SameDay reports whether two transactions posted on the same calendar day.
func (t Transaction) SameDay(o Transaction) bool {
	ty, tm, td := t.PostedAt.Date()
	oy, om, od := o.PostedAt.Date()
	return ty == oy && tm == om && td == od
}

// AbsAmount returns the magnitude of the transaction amount.
func (t Transaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// ByPostedAt orders transactions chronologically, breaking ties by id so the
// order is stable across recompute runs.
type ByPostedAt []Transaction

func (s ByPostedAt) Len() int      { return len(s) }
func (s ByPostedAt) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s ByPostedAt) Less(i, j int) bool {
	if s[i].PostedAt.Equal(s[j].PostedAt) {
		return s[i].ID < s[j].ID
	}
	return s[i].PostedAt.Before(s[j].PostedAt)
}
