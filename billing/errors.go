/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All engine error types in one place. The calculators fail synchronously
  with these errors and never leave partial effects; the service layer maps
  them to user-visible {success:false, message} results.

ERROR CATEGORIES:
  1. Validation errors - bad input (dates, amounts, unknown types)
  2. Accounting errors - overdraft, allocation mismatch, insufficient stock
  3. State errors - ledger/record drift that must never be clamped over
  4. Infrastructure errors - persistence failures, rate limiting

USAGE:
  if errors.Is(err, billing.ErrOverdraft) { ... }

SEE ALSO:
  - impact.go: raises ErrOverdraft / ErrInconsistentState
  - allocator.go: raises ErrAllocationMismatch
*/
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")

	// ErrOverdraft is returned when a withdrawal asks for more bags than
	// the record currently stores.
	ErrOverdraft = errors.New("overdraft attempt")

	// ErrAllocationMismatch is returned when manual allocations do not sum
	// to the payment total. The allocator never silently redistributes.
	ErrAllocationMismatch = errors.New("allocation mismatch")

	// ErrInsufficientStock is returned when a bulk outflow asks for more
	// bags than the candidate records hold combined. Nothing is mutated.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInconsistentState signals ledger/record drift: an inverse
	// transition would drive a cumulative counter negative. It must
	// surface, never be clamped.
	ErrInconsistentState = errors.New("inconsistent record state")

	// ErrRateLimited is returned when a caller exceeds its request
	// allowance for the current window.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrPersistence wraps storage-level failures.
	ErrPersistence = errors.New("persistence error")

	// ErrNotFound is returned when a referenced record, payment or ledger
	// entry does not exist (or is soft-deleted).
	ErrNotFound = errors.New("not found")

	// ErrDuplicateExternalRef is returned when a payment with the same
	// external capture reference was already processed.
	ErrDuplicateExternalRef = errors.New("duplicate external payment reference")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OverdraftError details a withdrawal exceeding stored bags.
type OverdraftError struct {
	RecordID   RecordID
	BagsStored int
	Requested  int
}

func (e *OverdraftError) Error() string {
	return fmt.Sprintf("overdraft on record %s: %d bags stored, %d requested",
		e.RecordID, e.BagsStored, e.Requested)
}

func (e *OverdraftError) Unwrap() error { return ErrOverdraft }

// InsufficientStockError details a bulk outflow exceeding combined stock.
type InsufficientStockError struct {
	CustomerID CustomerID
	Commodity  string
	Available  int
	Requested  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s/%s: %d bags available, %d requested",
		e.CustomerID, e.Commodity, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// AllocationMismatchError details manual allocations not matching the total.
type AllocationMismatchError struct {
	Expected decimal.Decimal
	Got      decimal.Decimal
}

func (e *AllocationMismatchError) Error() string {
	return fmt.Sprintf("manual allocations sum to %s, payment total is %s",
		e.Got, e.Expected)
}

func (e *AllocationMismatchError) Unwrap() error { return ErrAllocationMismatch }

// InconsistentStateError details drift between a record and its ledger.
type InconsistentStateError struct {
	RecordID RecordID
	Detail   string
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("inconsistent state on record %s: %s", e.RecordID, e.Detail)
}

func (e *InconsistentStateError) Unwrap() error { return ErrInconsistentState }

// DateRangeError details an asOf date preceding the storage start.
type DateRangeError struct {
	StorageStart time.Time
	AsOf         time.Time
}

func (e *DateRangeError) Error() string {
	return fmt.Sprintf("invalid date range: asOf %s precedes storage start %s",
		e.AsOf.Format("2006-01-02"), e.StorageStart.Format("2006-01-02"))
}

func (e *DateRangeError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to invalid caller input
// rather than an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrOverdraft) ||
		errors.Is(err, ErrAllocationMismatch) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrDuplicateExternalRef)
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
