package dateutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name        string
		dateStr     string
		expectedOk  bool
		expectedY   int
		expectedM   time.Month
		expectedD   int
		expectedFmt string
	}{
		{"ISO format", "2023-01-15", true, 2023, time.January, 15, DateLayoutISO},
		{"European format", "15.01.2023", true, 2023, time.January, 15, DateLayoutEuropean},
		{"US format", "01/15/2023", true, 2023, time.January, 15, DateLayoutUS},
		{"Dash-separated EU", "15-01-2023", true, 2023, time.January, 15, "02-01-2006"},
		{"Full timestamp", "2023-01-15 10:30:45", true, 2023, time.January, 15, DateLayoutFull},
		{"Extra whitespace", "  2023-01-15 ", true, 2023, time.January, 15, DateLayoutISO},
		{"Empty string", "", false, 0, 0, 0, ""},
		{"Invalid format", "not a date", false, 0, 0, 0, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			date, format, err := ParseDate(tc.dateStr)

			if tc.expectedOk {
				assert.NoError(t, err)
				assert.Equal(t, tc.expectedY, date.Year())
				assert.Equal(t, tc.expectedM, date.Month())
				assert.Equal(t, tc.expectedD, date.Day())
				assert.Equal(t, tc.expectedFmt, format)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		name string
		a    time.Time
		b    time.Time
		want int
	}{
		{
			"one month apart",
			time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2025, time.February, 14, 0, 0, 0, 0, time.UTC),
			30,
		},
		{
			"same day different times",
			time.Date(2025, time.January, 15, 8, 0, 0, 0, time.UTC),
			time.Date(2025, time.January, 15, 23, 0, 0, 0, time.UTC),
			0,
		},
		{
			"reversed order is negative",
			time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2025, time.January, 14, 0, 0, 0, 0, time.UTC),
			-1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DaysBetween(tc.a, tc.b))
		})
	}
}

func TestMonthKey(t *testing.T) {
	assert.Equal(t, "2025-03", MonthKey(time.Date(2025, time.March, 31, 12, 0, 0, 0, time.UTC)))
}

func TestStartAndEndOfMonth(t *testing.T) {
	d := time.Date(2025, time.February, 12, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC), StartOfMonth(d))
	assert.Equal(t, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC), EndOfMonth(d))
}

func TestToISODate(t *testing.T) {
	d := time.Date(2023, time.December, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2023-12-05", ToISODate(d))
}
