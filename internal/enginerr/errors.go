// Package enginerr defines the error taxonomy of the recompute engine.
// Validation failures are per-record and recoverable; state inconsistency and
// configuration errors are structural and abort the recompute.
package enginerr

import "fmt"

// ValidationError reports a malformed transaction reaching the engine.
// The engine rejects the single record and continues with the rest of the batch.
type ValidationError struct {
	TransactionID string
	Field         string
	Reason        string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction %s: field %s: %s",
		e.TransactionID, e.Field, e.Reason)
}

// StateInconsistencyError reports prior state referencing an entity that is not
// present in storage. It indicates a storage-layer bug upstream and is surfaced
// rather than silently repaired.
type StateInconsistencyError struct {
	SubscriptionID string
	Reason         string
}

func (e *StateInconsistencyError) Error() string {
	return fmt.Sprintf("inconsistent prior state for subscription %s: %s",
		e.SubscriptionID, e.Reason)
}

// ConfigurationError reports engine parameters out of valid range.
// It fails fast before any processing.
type ConfigurationError struct {
	Param  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid engine configuration: %s: %s", e.Param, e.Reason)
}

// StorageError wraps a failure in the storage collaborator.
type StorageError struct {
	Operation string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
