/*
errors.go - Centralized error types for the reporting pipeline

PURPOSE:
  All error types in one place for consistency and discoverability.
  Packages wrap these with fmt.Errorf("...: %w", err) to add context.

ERROR CATEGORIES:
  1. Input errors - Bad dates, windows, formats (client errors)
  2. Row errors - A single source row could not be used (skipped, counted)
  3. Ingestion errors - Stream failures, reconciliation failures, locking
  4. Store errors - Missing records

USAGE:
    if errors.Is(err, sales.ErrIngestionLocked) {
        // another run holds the lock, try later
    }

SEE ALSO:
  - etl/ingestor.go: Produces RowError and ReconcileError
  - api/handlers.go: Maps errors to HTTP status codes
*/
package sales

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDate is returned when a date string cannot be parsed.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidWindow is returned when an explicit start is after the as-of date.
	ErrInvalidWindow = errors.New("invalid reporting window")

	// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX,
	// or whose header matches no known export.
	ErrUnsupportedFormat = errors.New("unsupported source format")

	// ErrStreamRead is returned when the source stream itself fails.
	// Nothing is reconciled when this happens.
	ErrStreamRead = errors.New("source stream read failed")

	// ErrReconcileFailed is returned when the delete+insert step fails.
	// The store is left exactly as it was before the run.
	ErrReconcileFailed = errors.New("reconciliation failed")

	// ErrIngestionLocked is returned when another ingestion holds the lock.
	ErrIngestionLocked = errors.New("ingestion already in progress")

	// ErrRunNotFound is returned when an ingestion run ID is unknown.
	ErrRunNotFound = errors.New("ingestion run not found")

	// ErrRowRejected is the sentinel behind every RowError.
	ErrRowRejected = errors.New("row rejected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RowError describes why one source row was skipped.
// Row errors are collected and counted; they never fail a batch.
type RowError struct {
	Line   int    // 1-based data row number (header excluded)
	Column string // Offending column, if known
	Reason string
}

func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d: %s: %s", e.Line, e.Column, e.Reason)
	}
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

func (e *RowError) Unwrap() error {
	return ErrRowRejected
}

// ReconcileError wraps a store failure during reconciliation.
type ReconcileError struct {
	Keys  int // Distinct invoices (or footfall/efficiency keys) in the batch
	Cause error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile %d keys: %v", e.Keys, e.Cause)
}

func (e *ReconcileError) Unwrap() []error {
	return []error{ErrReconcileFailed, e.Cause}
}

// RowErrors is the collected set of skipped rows of one file.
type RowErrors []*RowError

func (re RowErrors) Error() string {
	if len(re) == 0 {
		return "no row errors"
	}
	msgs := make([]string, 0, 3)
	for i, e := range re {
		if i == 3 {
			msgs = append(msgs, fmt.Sprintf("and %d more", len(re)-3))
			break
		}
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrIngestionLocked) ||
		errors.Is(err, ErrReconcileFailed)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrUnsupportedFormat)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}
