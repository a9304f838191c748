/*
Package billing contains the core accounting engine for warehouse storage.

PURPOSE:
  This package holds the pure domain types and calculators: storage records
  (one deposit batch of bags), the append-only withdrawal ledger, rent
  computation over duration-tiered crop rates, and payment allocation.
  Nothing in this package touches persistence or HTTP - everything is a
  deterministic function over explicit inputs.

KEY CONCEPTS IN THIS FILE (types.go):
  - StorageRecord: one deposit batch, open until all bags are withdrawn
  - Payment: money received against a record (rent, hamali, advance, ...)
  - WithdrawalEntry: an immutable ledger row recording an outflow
  - Allocation: ephemeral output of splitting a lump payment

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money; bags are integers
  2. Append-only ledger: withdrawals are corrected by reversal entries,
     never edited in place
  3. Soft deletes: records and payments carry DeletedAt, nothing is
     hard-deleted
  4. Invariants: bagsStored + bagsOut == bagsIn at all times, and a record
     is closed exactly when bagsStored == 0

SEE ALSO:
  - rent.go: Rent computation over tier tables
  - impact.go: Record state transitions (outflow, reversal, update)
  - allocator.go: FIFO / manual payment allocation
  - store.go: Persistence interfaces
*/
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RecordID string
type CustomerID string
type PaymentID string
type EntryID string

// =============================================================================
// MONEY HELPERS
// =============================================================================

// RoundMoney rounds to 2 decimal places, the fixed precision for all
// persisted amounts.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MustDecimal parses a decimal string, returning zero on failure.
// Intended for scanning values we wrote ourselves.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// CUSTOMER - minimal external collaborator view
// =============================================================================

// Customer is the slice of the customer entity this engine needs.
// Customer CRUD lives elsewhere in the product.
type Customer struct {
	ID      CustomerID
	Name    string
	Phone   string
	Village string
}

// =============================================================================
// STORAGE RECORD - one deposit batch
// =============================================================================

// StorageRecord tracks bag-level inventory for one deposit of a
// customer/commodity/lot. BagsIn never changes after inflow; BagsStored and
// BagsOut move in lockstep through the impact calculators.
type StorageRecord struct {
	ID           RecordID
	CustomerID   CustomerID
	Commodity    string
	LotID        string
	RecordNumber string

	BagsIn     int // total ever deposited
	BagsStored int // currently in the warehouse
	BagsOut    int // cumulative withdrawn

	TotalRentBilled decimal.Decimal // cumulative, moved only by impact calculators
	HamaliPayable   decimal.Decimal // per-bag handling charges accrued

	StorageStart time.Time
	StorageEnd   *time.Time // nil while the record is open
	BillingCycle string     // rate tier label last applied ("6m", "1y", ...)

	DeletedAt *time.Time
	CreatedAt time.Time
}

// IsOpen reports whether the record still holds bags.
func (r *StorageRecord) IsOpen() bool {
	return r.StorageEnd == nil
}

// IsDeleted reports whether the record has been soft-deleted.
func (r *StorageRecord) IsDeleted() bool {
	return r.DeletedAt != nil
}

// CheckInvariants verifies the two structural invariants every record must
// satisfy at all times. Returns an InconsistentStateError on violation.
func (r *StorageRecord) CheckInvariants() error {
	if r.BagsStored+r.BagsOut != r.BagsIn {
		return &InconsistentStateError{
			RecordID: r.ID,
			Detail: fmt.Sprintf("bagsStored(%d) + bagsOut(%d) != bagsIn(%d)",
				r.BagsStored, r.BagsOut, r.BagsIn),
		}
	}
	if (r.StorageEnd != nil) != (r.BagsStored == 0) {
		return &InconsistentStateError{
			RecordID: r.ID,
			Detail: fmt.Sprintf("closure mismatch: bagsStored=%d, storageEnd set=%v",
				r.BagsStored, r.StorageEnd != nil),
		}
	}
	return nil
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentType string

const (
	PaymentRent            PaymentType = "rent"
	PaymentHamali          PaymentType = "hamali"
	PaymentAdvance         PaymentType = "advance"
	PaymentSecurityDeposit PaymentType = "security_deposit"
	PaymentOther           PaymentType = "other"
)

// ValidPaymentType reports whether t is one of the known payment types.
func ValidPaymentType(t PaymentType) bool {
	switch t {
	case PaymentRent, PaymentHamali, PaymentAdvance, PaymentSecurityDeposit, PaymentOther:
		return true
	}
	return false
}

// Payment is money received against a record. Soft-deleted payments are
// excluded from due calculations.
type Payment struct {
	ID         PaymentID
	RecordID   RecordID
	CustomerID CustomerID
	Amount     decimal.Decimal // always > 0
	Date       time.Time
	Type       PaymentType
	Method     string
	Notes      string

	// ExternalRef deduplicates webhook-captured payments. Empty for
	// payments entered through the UI.
	ExternalRef string

	DeletedAt *time.Time
	CreatedAt time.Time
}

// IsDeleted reports whether the payment has been soft-deleted.
func (p *Payment) IsDeleted() bool {
	return p.DeletedAt != nil
}

// =============================================================================
// WITHDRAWAL LEDGER ENTRY - append-only
// =============================================================================

type EntryKind string

const (
	// EntryWithdrawal records bags leaving the warehouse with the rent
	// actually billed for them.
	EntryWithdrawal EntryKind = "withdrawal"

	// EntryReversal undoes a previous withdrawal entry. The original row
	// stays in the ledger; the reversal references it via ReversesID.
	EntryReversal EntryKind = "reversal"
)

// WithdrawalEntry is one row of the append-only withdrawal ledger. The
// impact calculators read rent from these rows rather than recomputing it,
// so reversals undo exactly what was billed.
type WithdrawalEntry struct {
	ID            EntryID
	RecordID      RecordID
	Kind          EntryKind
	Bags          int
	RentCollected decimal.Decimal
	HamaliCharged decimal.Decimal
	Date          time.Time
	InvoiceNumber string
	ReversesID    EntryID // set only on reversal entries
	CreatedAt     time.Time
}

// =============================================================================
// ALLOCATION - ephemeral allocator output
// =============================================================================

// Allocation is one slice of a lump payment assigned to a record. It is
// output only and never persisted as-is; the persistence layer turns it
// into Payment rows.
type Allocation struct {
	RecordID     RecordID        `json:"recordId"`
	RecordNumber string          `json:"recordNumber"`
	Amount       decimal.Decimal `json:"amount"`
	RemainingDue decimal.Decimal `json:"remainingDue"`
}

// RecordDue is the allocator's view of one outstanding balance.
type RecordDue struct {
	RecordID     RecordID
	RecordNumber string
	StorageStart time.Time
	TotalDue     decimal.Decimal
}
