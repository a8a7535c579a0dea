// Package report builds the exportable insights bundle: monthly spend totals,
// the subscription list and the alert log. The bundle is aggregate-only; raw
// transaction descriptions never enter it, so an export cannot leak what the
// engine redacts.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"subsentry/internal/dateutils"
	"subsentry/internal/logging"
	"subsentry/internal/models"
)

// MonthTotal is the spend in one calendar month and currency. Debits only;
// credits do not count as spend.
type MonthTotal struct {
	Month    string `json:"month" csv:"month"`
	Currency string `json:"currency" csv:"currency"`
	Total    string `json:"total" csv:"total"`
}

// SubscriptionSummary is the exported view of a subscription.
type SubscriptionSummary struct {
	MerchantKey    string `json:"merchant_key" csv:"merchant_key"`
	Currency       string `json:"currency" csv:"currency"`
	ExpectedAmount string `json:"expected_amount" csv:"expected_amount"`
	PeriodDays     int    `json:"period_days" csv:"period_days"`
	Status         string `json:"status" csv:"status"`
	LastSeen       string `json:"last_seen" csv:"last_seen"`
	NextExpected   string `json:"next_expected" csv:"next_expected"`
}

// AlertSummary is the exported view of an alert.
type AlertSummary struct {
	CreatedAt   string `json:"created_at" csv:"created_at"`
	Kind        string `json:"kind" csv:"kind"`
	Severity    string `json:"severity" csv:"severity"`
	MerchantKey string `json:"merchant_key" csv:"merchant_key"`
}

// Bundle is one complete insights export.
type Bundle struct {
	GeneratedAt   string                `json:"generated_at"`
	MonthlyTotals []MonthTotal          `json:"monthly_totals"`
	Subscriptions []SubscriptionSummary `json:"subscriptions"`
	Alerts        []AlertSummary        `json:"alerts"`
}

// Builder assembles insights bundles.
type Builder struct {
	logger logging.Logger
	now    func() time.Time
}

// NewBuilder creates a bundle builder.
func NewBuilder(logger logging.Logger) *Builder {
	if logger == nil {
		logger = &logging.MockLogger{}
	}
	return &Builder{logger: logger, now: time.Now}
}

// Build assembles a bundle from the stored data. When from or to is non-zero,
// alerts outside [from, to] are excluded; totals and subscriptions always cover
// the full history.
func (b *Builder) Build(txns []models.Transaction, subs []models.Subscription, alerts []models.Alert, from, to time.Time) Bundle {
	bundle := Bundle{
		GeneratedAt:   b.now().UTC().Format(time.RFC3339),
		MonthlyTotals: monthlyTotals(txns),
		Subscriptions: summarizeSubscriptions(subs),
		Alerts:        summarizeAlerts(alerts, from, to),
	}
	b.logger.Info("Built insights bundle",
		logging.Field{Key: logging.FieldCount, Value: len(bundle.Subscriptions)},
		logging.Field{Key: "alerts", Value: len(bundle.Alerts)},
		logging.Field{Key: "months", Value: len(bundle.MonthlyTotals)})
	return bundle
}

func monthlyTotals(txns []models.Transaction) []MonthTotal {
	type bucket struct {
		month    string
		currency string
	}
	sums := make(map[bucket]decimal.Decimal)
	for _, t := range txns {
		if !t.Amount.IsNegative() {
			continue
		}
		k := bucket{month: dateutils.MonthKey(t.PostedAt), currency: t.Currency}
		sums[k] = sums[k].Add(t.Amount.Abs())
	}

	keys := make([]bucket, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].month != keys[j].month {
			return keys[i].month < keys[j].month
		}
		return keys[i].currency < keys[j].currency
	})

	out := make([]MonthTotal, 0, len(keys))
	for _, k := range keys {
		out = append(out, MonthTotal{
			Month:    k.month,
			Currency: k.currency,
			Total:    sums[k].StringFixed(2),
		})
	}
	return out
}

func summarizeSubscriptions(subs []models.Subscription) []SubscriptionSummary {
	out := make([]SubscriptionSummary, 0, len(subs))
	for _, s := range subs {
		out = append(out, SubscriptionSummary{
			MerchantKey:    s.MerchantKey,
			Currency:       s.Currency,
			ExpectedAmount: s.ExpectedAmount.StringFixed(2),
			PeriodDays:     s.PeriodDays,
			Status:         string(s.Status),
			LastSeen:       dateutils.ToISODate(s.LastSeen),
			NextExpected:   dateutils.ToISODate(s.NextExpected()),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MerchantKey != out[j].MerchantKey {
			return out[i].MerchantKey < out[j].MerchantKey
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

func summarizeAlerts(alerts []models.Alert, from, to time.Time) []AlertSummary {
	out := make([]AlertSummary, 0, len(alerts))
	for _, a := range alerts {
		if !from.IsZero() && a.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && a.CreatedAt.After(to) {
			continue
		}
		out = append(out, AlertSummary{
			CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
			Kind:        string(a.Kind),
			Severity:    string(a.Severity),
			MerchantKey: a.Evidence.MerchantKey,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// JSON renders the bundle as indented JSON.
func (b Bundle) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("error marshaling insights bundle: %w", err)
	}
	return data, nil
}

// WriteCSV writes the bundle's sections as separate CSV files into dir:
// monthly_totals.csv, subscriptions.csv, alerts.csv.
func (b Bundle) WriteCSV(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("error creating export directory: %w", err)
	}
	if err := writeCSVFile(filepath.Join(dir, "monthly_totals.csv"), &b.MonthlyTotals); err != nil {
		return err
	}
	if err := writeCSVFile(filepath.Join(dir, "subscriptions.csv"), &b.Subscriptions); err != nil {
		return err
	}
	return writeCSVFile(filepath.Join(dir, "alerts.csv"), &b.Alerts)
}

func writeCSVFile(path string, rows any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating CSV file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if err := gocsv.MarshalFile(rows, file); err != nil {
		return fmt.Errorf("error writing CSV file: %w", err)
	}
	return nil
}
