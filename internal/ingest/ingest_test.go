package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStatement(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statement.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestReadStatement(t *testing.T) {
	csv := `date,description,amount,currency,account
2026-01-15,POS NETFLIX.COM 866-579-7172,-15.49,USD,acct-1
15.02.2026,SPOTIFY USA,"-9,99",,acct-1
`
	r := NewReader("chf", nil)

	result, err := r.ReadStatement(writeStatement(t, csv))
	require.NoError(t, err)
	require.Len(t, result.Transactions, 2)
	assert.Zero(t, result.Malformed)
	assert.NotEmpty(t, result.BatchID)

	first := result.Transactions[0]
	assert.Equal(t, "POS NETFLIX.COM 866-579-7172", first.RawDescription)
	assert.Equal(t, "2026-01-15", first.PostedAt.Format("2006-01-02"))
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("-15.49")))
	assert.Equal(t, "USD", first.Currency)
	assert.Equal(t, "acct-1", first.AccountID)
	assert.Equal(t, result.BatchID, first.ImportBatchID)
	assert.NotEmpty(t, first.ID)

	// European date and decimal comma parse; currency falls back to default.
	second := result.Transactions[1]
	assert.Equal(t, "2026-02-15", second.PostedAt.Format("2006-01-02"))
	assert.True(t, second.Amount.Equal(decimal.RequireFromString("-9.99")))
	assert.Equal(t, "CHF", second.Currency)
}

func TestReadStatement_SkipsMalformedRows(t *testing.T) {
	csv := `date,description,amount,currency,account
2026-01-15,NETFLIX.COM,-15.49,USD,acct-1
not-a-date,SPOTIFY,-9.99,USD,acct-1
2026-01-17,,-5.00,USD,acct-1
2026-01-18,HULU,abc,USD,acct-1
2026-01-19,HULU,-7.99,USD,
`
	r := NewReader("USD", nil)

	result, err := r.ReadStatement(writeStatement(t, csv))
	require.NoError(t, err)
	assert.Len(t, result.Transactions, 1)
	assert.Equal(t, 4, result.Malformed)
}

func TestReadStatement_MissingFile(t *testing.T) {
	r := NewReader("USD", nil)
	_, err := r.ReadStatement(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}
