package logging

// Standardized field names for structured logging.
// These constants keep log output consistent across the engine and the
// storage/ingest collaborators, making logs easy to filter and analyze.
const (
	FieldMerchantKey    = "merchant_key"
	FieldTransactionID  = "transaction_id"
	FieldSubscriptionID = "subscription_id"
	FieldAlertKind      = "alert_kind"
	FieldSeverity       = "severity"
	FieldAccountID      = "account_id"
	FieldBatchID        = "import_batch_id"
	FieldPeriodDays     = "period_days"
	FieldStatus         = "status"
	FieldReason         = "reason"
	FieldOperation      = "operation"
	FieldCount          = "count"
	FieldFile           = "file_path"
	FieldError          = "error"
)
