// Package storage persists transactions, subscriptions, alerts and anomaly
// scores in a local sqlite database. Amounts are stored as decimal strings,
// never as floats. A recompute's outputs are committed in a single database
// transaction so a crash can never leave an updated subscription visible
// without the alert that explains it.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"subsentry/internal/dedupe"
	"subsentry/internal/engine"
	"subsentry/internal/enginerr"
	"subsentry/internal/logging"
	"subsentry/internal/models"
)

const dateLayout = "2006-01-02"

// Store wraps the sqlite database.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (creating if needed) the database at path and initializes the
// schema.
func Open(path string, logger logging.Logger) (*Store, error) {
	if logger == nil {
		logger = &logging.MockLogger{}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, &enginerr.StorageError{Operation: "open", Err: err}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=1", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &enginerr.StorageError{Operation: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		return nil, &enginerr.StorageError{Operation: "open", Err: err}
	}

	// sqlite allows one writer; a second connection would just block.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, &enginerr.StorageError{Operation: "init schema", Err: err}
	}

	logger.Debug("Opened sqlite store",
		logging.Field{Key: logging.FieldFile, Value: path})
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS import_batches (
		id TEXT PRIMARY KEY,
		file TEXT NOT NULL,
		imported_at TEXT NOT NULL,
		inserted INTEGER NOT NULL,
		skipped INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		posted_at TEXT NOT NULL,
		raw_description TEXT NOT NULL,
		merchant_key TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		account_id TEXT NOT NULL,
		import_batch_id TEXT NOT NULL,
		fingerprint TEXT UNIQUE NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_txn_posted_at ON transactions(posted_at);
	CREATE INDEX IF NOT EXISTS idx_txn_account ON transactions(account_id);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		merchant_key TEXT NOT NULL,
		currency TEXT NOT NULL,
		expected_amount TEXT NOT NULL,
		amount_tolerance TEXT NOT NULL,
		period_days INTEGER NOT NULL,
		status TEXT NOT NULL,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sub_merchant ON subscriptions(merchant_key);
	CREATE INDEX IF NOT EXISTS idx_sub_status ON subscriptions(status);

	CREATE TABLE IF NOT EXISTS subscription_members (
		subscription_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (subscription_id, transaction_id)
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		triggering_txn_id TEXT NOT NULL DEFAULT '',
		evidence TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (subscription_id, kind, triggering_txn_id)
	);
	CREATE INDEX IF NOT EXISTS idx_alert_severity ON alerts(severity);

	CREATE TABLE IF NOT EXISTS anomaly_scores (
		transaction_id TEXT PRIMARY KEY,
		score REAL NOT NULL,
		basis TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveImport inserts a batch of transactions and its batch record in one
// database transaction. The caller is expected to have deduplicated the batch;
// the fingerprint uniqueness constraint is the backstop.
func (s *Store) SaveImport(batchID, file string, txns []models.Transaction, skipped int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &enginerr.StorageError{Operation: "save import", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO import_batches (id, file, imported_at, inserted, skipped) VALUES (?, ?, ?, ?, ?)`,
		batchID, file, time.Now().UTC().Format(time.RFC3339), len(txns), skipped,
	); err != nil {
		return &enginerr.StorageError{Operation: "save import batch", Err: err}
	}

	for _, t := range txns {
		if _, err := tx.Exec(
			`INSERT INTO transactions
			 (id, posted_at, raw_description, merchant_key, amount, currency, account_id, import_batch_id, fingerprint)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.PostedAt.Format(dateLayout), t.RawDescription, t.MerchantKey,
			t.Amount.String(), t.Currency, t.AccountID, t.ImportBatchID, dedupe.Fingerprint(t),
		); err != nil {
			return &enginerr.StorageError{Operation: "save transaction", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &enginerr.StorageError{Operation: "save import", Err: err}
	}

	s.logger.Info("Saved import batch",
		logging.Field{Key: logging.FieldBatchID, Value: batchID},
		logging.Field{Key: logging.FieldCount, Value: len(txns)})
	return nil
}

// LoadTransactions returns all stored transactions in chronological order.
func (s *Store) LoadTransactions() ([]models.Transaction, error) {
	rows, err := s.db.Query(
		`SELECT id, posted_at, raw_description, merchant_key, amount, currency, account_id, import_batch_id
		 FROM transactions ORDER BY posted_at, id`)
	if err != nil {
		return nil, &enginerr.StorageError{Operation: "load transactions", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var postedAt, amount string
		if err := rows.Scan(&t.ID, &postedAt, &t.RawDescription, &t.MerchantKey,
			&amount, &t.Currency, &t.AccountID, &t.ImportBatchID); err != nil {
			return nil, &enginerr.StorageError{Operation: "load transactions", Err: err}
		}
		if t.PostedAt, err = time.Parse(dateLayout, postedAt); err != nil {
			return nil, &enginerr.StorageError{Operation: "load transactions", Err: err}
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, &enginerr.StorageError{Operation: "load transactions", Err: err}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LoadSubscriptions returns all subscriptions with their ordered members.
func (s *Store) LoadSubscriptions() ([]models.Subscription, error) {
	rows, err := s.db.Query(
		`SELECT id, merchant_key, currency, expected_amount, amount_tolerance, period_days, status, first_seen, last_seen
		 FROM subscriptions ORDER BY id`)
	if err != nil {
		return nil, &enginerr.StorageError{Operation: "load subscriptions", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		var expected, tolerance, firstSeen, lastSeen string
		if err := rows.Scan(&sub.ID, &sub.MerchantKey, &sub.Currency, &expected, &tolerance,
			&sub.PeriodDays, &sub.Status, &firstSeen, &lastSeen); err != nil {
			return nil, &enginerr.StorageError{Operation: "load subscriptions", Err: err}
		}
		if sub.ExpectedAmount, err = decimal.NewFromString(expected); err != nil {
			return nil, &enginerr.StorageError{Operation: "load subscriptions", Err: err}
		}
		if sub.AmountTolerance, err = decimal.NewFromString(tolerance); err != nil {
			return nil, &enginerr.StorageError{Operation: "load subscriptions", Err: err}
		}
		if sub.FirstSeen, err = time.Parse(dateLayout, firstSeen); err != nil {
			return nil, &enginerr.StorageError{Operation: "load subscriptions", Err: err}
		}
		if sub.LastSeen, err = time.Parse(dateLayout, lastSeen); err != nil {
			return nil, &enginerr.StorageError{Operation: "load subscriptions", Err: err}
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, &enginerr.StorageError{Operation: "load subscriptions", Err: err}
	}

	for i := range out {
		members, err := s.loadMembers(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].MemberTxnIDs = members
	}
	return out, nil
}

func (s *Store) loadMembers(subscriptionID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT transaction_id FROM subscription_members WHERE subscription_id = ? ORDER BY position`,
		subscriptionID)
	if err != nil {
		return nil, &enginerr.StorageError{Operation: "load members", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &enginerr.StorageError{Operation: "load members", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadAlertKeys returns the idempotence keys of every stored alert.
func (s *Store) LoadAlertKeys() (map[models.AlertKey]bool, error) {
	rows, err := s.db.Query(`SELECT subscription_id, kind, triggering_txn_id FROM alerts`)
	if err != nil {
		return nil, &enginerr.StorageError{Operation: "load alert keys", Err: err}
	}
	defer func() { _ = rows.Close() }()

	keys := make(map[models.AlertKey]bool)
	for rows.Next() {
		var k models.AlertKey
		if err := rows.Scan(&k.SubscriptionID, &k.Kind, &k.TriggeringTxnID); err != nil {
			return nil, &enginerr.StorageError{Operation: "load alert keys", Err: err}
		}
		keys[k] = true
	}
	return keys, rows.Err()
}

// LoadAlerts returns stored alerts, newest first, optionally filtered by
// severity.
func (s *Store) LoadAlerts(severity string) ([]models.Alert, error) {
	query := `SELECT id, subscription_id, kind, severity, triggering_txn_id, evidence, created_at
	          FROM alerts`
	args := []any{}
	if severity != "" {
		query += ` WHERE severity = ?`
		args = append(args, severity)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &enginerr.StorageError{Operation: "load alerts", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		var evidence, createdAt string
		if err := rows.Scan(&a.ID, &a.SubscriptionID, &a.Kind, &a.Severity,
			&a.TriggeringTxnID, &evidence, &createdAt); err != nil {
			return nil, &enginerr.StorageError{Operation: "load alerts", Err: err}
		}
		if err := json.Unmarshal([]byte(evidence), &a.Evidence); err != nil {
			return nil, &enginerr.StorageError{Operation: "load alerts", Err: err}
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, &enginerr.StorageError{Operation: "load alerts", Err: err}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveRecompute commits one recompute's outputs atomically: subscriptions are
// upserted with their members, alerts appended, anomaly scores fully replaced.
func (s *Store) SaveRecompute(result engine.Result) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &enginerr.StorageError{Operation: "save recompute", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	for _, sub := range result.Subscriptions {
		if _, err := tx.Exec(
			`INSERT INTO subscriptions
			 (id, merchant_key, currency, expected_amount, amount_tolerance, period_days, status, first_seen, last_seen)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   merchant_key = excluded.merchant_key,
			   currency = excluded.currency,
			   expected_amount = excluded.expected_amount,
			   amount_tolerance = excluded.amount_tolerance,
			   period_days = excluded.period_days,
			   status = excluded.status,
			   first_seen = excluded.first_seen,
			   last_seen = excluded.last_seen`,
			sub.ID, sub.MerchantKey, sub.Currency, sub.ExpectedAmount.String(),
			sub.AmountTolerance.String(), sub.PeriodDays, string(sub.Status),
			sub.FirstSeen.Format(dateLayout), sub.LastSeen.Format(dateLayout),
		); err != nil {
			return &enginerr.StorageError{Operation: "save subscription", Err: err}
		}

		if _, err := tx.Exec(`DELETE FROM subscription_members WHERE subscription_id = ?`, sub.ID); err != nil {
			return &enginerr.StorageError{Operation: "save members", Err: err}
		}
		for pos, txnID := range sub.MemberTxnIDs {
			if _, err := tx.Exec(
				`INSERT INTO subscription_members (subscription_id, transaction_id, position) VALUES (?, ?, ?)`,
				sub.ID, txnID, pos,
			); err != nil {
				return &enginerr.StorageError{Operation: "save members", Err: err}
			}
		}

		// Derived merchant keys are attached on first processing and kept.
		for _, txnID := range sub.MemberTxnIDs {
			if _, err := tx.Exec(
				`UPDATE transactions SET merchant_key = ? WHERE id = ? AND merchant_key = ''`,
				sub.MerchantKey, txnID,
			); err != nil {
				return &enginerr.StorageError{Operation: "save merchant keys", Err: err}
			}
		}
	}

	for _, a := range result.Alerts {
		evidence, err := json.Marshal(a.Evidence)
		if err != nil {
			return &enginerr.StorageError{Operation: "save alert", Err: err}
		}
		if _, err := tx.Exec(
			`INSERT INTO alerts (id, subscription_id, kind, severity, triggering_txn_id, evidence, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.SubscriptionID, string(a.Kind), string(a.Severity),
			a.TriggeringTxnID, string(evidence), a.CreatedAt.UTC().Format(time.RFC3339),
		); err != nil {
			return &enginerr.StorageError{Operation: "save alert", Err: err}
		}
	}

	if _, err := tx.Exec(`DELETE FROM anomaly_scores`); err != nil {
		return &enginerr.StorageError{Operation: "save anomaly scores", Err: err}
	}
	for _, sc := range result.AnomalyScores {
		if _, err := tx.Exec(
			`INSERT INTO anomaly_scores (transaction_id, score, basis) VALUES (?, ?, ?)`,
			sc.TransactionID, sc.Score, string(sc.Basis),
		); err != nil {
			return &enginerr.StorageError{Operation: "save anomaly scores", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &enginerr.StorageError{Operation: "save recompute", Err: err}
	}

	s.logger.Info("Committed recompute",
		logging.Field{Key: logging.FieldCount, Value: len(result.Subscriptions)},
		logging.Field{Key: "alerts", Value: len(result.Alerts)})
	return nil
}
