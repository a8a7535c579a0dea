// Package dateutils provides common date operations used by the ingest and
// reporting collaborators.
package dateutils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Common date format constants used throughout the application
const (
	DateLayoutISO      = "2006-01-02"
	DateLayoutEuropean = "02.01.2006"
	DateLayoutUS       = "01/02/2006"
	DateLayoutFull     = "2006-01-02 15:04:05"
	MonthLayout        = "2006-01"
)

// CommonFormats is a list of standard formats to try when parsing statement dates
var CommonFormats = []string{
	DateLayoutISO,
	DateLayoutFull,
	DateLayoutISO + "T15:04:05Z",
	DateLayoutEuropean,
	"02/01/2006",
	DateLayoutUS,
	"02-01-2006",
	"2.1.2006",
	"02 Jan 2006",
	"Jan 02, 2006",
}

// ParseDate attempts to parse a date string using multiple common formats.
// Returns the parsed time and the detected format.
func ParseDate(dateStr string) (time.Time, string, error) {
	dateStr = CleanDateString(dateStr)

	for _, format := range CommonFormats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, format, nil
		}
	}

	return time.Time{}, "", fmt.Errorf("unable to parse date: %s", dateStr)
}

// ToISODate formats a time.Time value as an ISO date (YYYY-MM-DD)
func ToISODate(date time.Time) string {
	return date.Format(DateLayoutISO)
}

// MonthKey returns the YYYY-MM bucket a date falls into, used for per-period
// aggregation in the insights export.
func MonthKey(date time.Time) string {
	return date.Format(MonthLayout)
}

// CleanDateString removes unwanted characters and normalizes a date string
func CleanDateString(dateStr string) string {
	dateStr = strings.TrimSpace(dateStr)

	re := regexp.MustCompile(`\s+`)
	dateStr = re.ReplaceAllString(dateStr, " ")

	return dateStr
}

// DaysBetween returns the whole number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// StartOfMonth returns the first day of the month for a given date
func StartOfMonth(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, date.Location())
}

// EndOfMonth returns the last day of the month for a given date
func EndOfMonth(date time.Time) time.Time {
	return StartOfMonth(date).AddDate(0, 1, -1)
}
