// Package ingest reads statement CSV files into transaction records. The
// expected columns are fixed (date, description, amount, currency, account);
// column inference is out of scope. Dates and amounts go through the shared
// parsing helpers, so the usual statement formats all work.
package ingest

import (
	"fmt"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"

	"subsentry/internal/currencyutils"
	"subsentry/internal/dateutils"
	"subsentry/internal/logging"
	"subsentry/internal/models"
)

// statementRow maps the CSV columns of a statement export.
type statementRow struct {
	Date        string `csv:"date"`
	Description string `csv:"description"`
	Amount      string `csv:"amount"`
	Currency    string `csv:"currency"`
	Account     string `csv:"account"`
}

// Result is the outcome of reading one statement file. Malformed rows are
// skipped and counted, not fatal.
type Result struct {
	Transactions []models.Transaction
	BatchID      string
	Malformed    int
}

// Reader parses statement CSV files.
type Reader struct {
	logger          logging.Logger
	defaultCurrency string
}

// NewReader creates a statement reader. defaultCurrency fills rows whose
// currency column is empty.
func NewReader(defaultCurrency string, logger logging.Logger) *Reader {
	if logger == nil {
		logger = &logging.MockLogger{}
	}
	return &Reader{logger: logger, defaultCurrency: strings.ToUpper(defaultCurrency)}
}

// ReadStatement reads a statement CSV into transactions. Every row of the
// batch gets a fresh transaction id and the batch id; exact-duplicate
// filtering against already-stored transactions happens at the storage
// boundary, keyed on content, so the fresh ids do not defeat re-import
// idempotence.
func (r *Reader) ReadStatement(filePath string) (Result, error) {
	r.logger.Info("Reading statement CSV",
		logging.Field{Key: logging.FieldFile, Value: filePath})

	file, err := os.Open(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("error opening statement file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			r.logger.WithError(err).Warn("Failed to close statement file")
		}
	}()

	var rows []statementRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return Result{}, fmt.Errorf("error parsing statement file: %w", err)
	}

	result := Result{BatchID: uuid.New().String()}
	for i, row := range rows {
		txn, err := r.convertRow(row, result.BatchID)
		if err != nil {
			result.Malformed++
			r.logger.Warn("Skipping malformed statement row",
				logging.Field{Key: "row", Value: i + 1},
				logging.Field{Key: logging.FieldReason, Value: err.Error()},
				logging.Field{Key: logging.FieldFile, Value: filePath})
			continue
		}
		result.Transactions = append(result.Transactions, txn)
	}

	r.logger.Info("Read statement CSV",
		logging.Field{Key: logging.FieldCount, Value: len(result.Transactions)},
		logging.Field{Key: "malformed", Value: result.Malformed},
		logging.Field{Key: logging.FieldBatchID, Value: result.BatchID})
	return result, nil
}

func (r *Reader) convertRow(row statementRow, batchID string) (models.Transaction, error) {
	if strings.TrimSpace(row.Date) == "" {
		return models.Transaction{}, fmt.Errorf("missing date")
	}
	if strings.TrimSpace(row.Description) == "" {
		return models.Transaction{}, fmt.Errorf("missing description")
	}
	if strings.TrimSpace(row.Account) == "" {
		return models.Transaction{}, fmt.Errorf("missing account")
	}
	if strings.TrimSpace(row.Amount) == "" {
		return models.Transaction{}, fmt.Errorf("missing amount")
	}

	postedAt, _, err := dateutils.ParseDate(row.Date)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("invalid date %q: %w", row.Date, err)
	}
	amount, err := currencyutils.ParseAmount(row.Amount)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("invalid amount %q: %w", row.Amount, err)
	}

	currency := strings.ToUpper(strings.TrimSpace(row.Currency))
	if currency == "" {
		currency = r.defaultCurrency
	}

	return models.Transaction{
		ID:             uuid.New().String(),
		PostedAt:       postedAt,
		RawDescription: strings.TrimSpace(row.Description),
		Amount:         amount,
		Currency:       currency,
		AccountID:      strings.TrimSpace(row.Account),
		ImportBatchID:  batchID,
	}, nil
}
