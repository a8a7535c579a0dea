// Package currencyutils provides amount parsing and formatting helpers used by
// the ingest and reporting collaborators. All money values are decimals.
package currencyutils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a string representation of an amount into a decimal value.
// It handles formats like "1,234.56", "1.234,56", "1234.56", "(42.00)" and
// strings carrying currency symbols.
func ParseAmount(amountStr string) (decimal.Decimal, error) {
	if amountStr == "" {
		return decimal.Zero, nil
	}

	standardized := StandardizeAmount(amountStr)

	amount, err := decimal.NewFromString(standardized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}

	return amount, nil
}

// StandardizeAmount converts various currency string formats to a form that
// decimal.NewFromString accepts. Handles "CHF 1'234.56", "€1.234,56",
// "$1,234.56", "1 234,56", and accounting-style negatives "(42.00)".
func StandardizeAmount(amountStr string) string {
	amountStr = strings.TrimSpace(amountStr)

	// Accounting notation: parentheses mean negative.
	if strings.HasPrefix(amountStr, "(") && strings.HasSuffix(amountStr, ")") {
		amountStr = "-" + amountStr[1:len(amountStr)-1]
	}

	// Remove currency symbols, codes and whitespace.
	re := regexp.MustCompile(`[€$£¥₣CHF\s]|EUR|USD|GBP`)
	amountStr = re.ReplaceAllString(amountStr, "")

	// Handle European format (1.234,56) -> (1234.56)
	if strings.Contains(amountStr, ",") && strings.Contains(amountStr, ".") {
		if strings.LastIndex(amountStr, ".") < strings.LastIndex(amountStr, ",") {
			amountStr = strings.ReplaceAll(amountStr, ".", "")
			amountStr = strings.ReplaceAll(amountStr, ",", ".")
		} else {
			amountStr = strings.ReplaceAll(amountStr, ",", "")
		}
	} else if strings.Contains(amountStr, ",") {
		// A lone comma is either a decimal separator (1234,56) or a thousand
		// separator (1,234); decide by the length of the trailing group.
		parts := strings.Split(amountStr, ",")
		if len(parts) > 1 && len(parts[len(parts)-1]) <= 2 {
			amountStr = strings.ReplaceAll(amountStr, ",", ".")
		} else {
			amountStr = strings.ReplaceAll(amountStr, ",", "")
		}
	}

	// Remove apostrophes used as thousand separators (1'234.56)
	amountStr = strings.ReplaceAll(amountStr, "'", "")

	return amountStr
}

// FormatAmount formats a decimal amount with two decimal places and an optional
// currency code, e.g. "USD 1234.56".
func FormatAmount(amount decimal.Decimal, currency string) string {
	formatted := amount.StringFixed(2)
	if currency == "" {
		return formatted
	}
	return strings.ToUpper(currency) + " " + formatted
}

// PercentDeviation returns |current-baseline| / |baseline| as a float ratio.
// A zero baseline yields 0 to avoid a meaningless blow-up.
func PercentDeviation(baseline, current decimal.Decimal) float64 {
	if baseline.IsZero() {
		return 0
	}
	ratio := current.Sub(baseline).Abs().Div(baseline.Abs())
	f, _ := ratio.Float64()
	return f
}
