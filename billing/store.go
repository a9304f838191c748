/*
store.go - Persistence interfaces for the billing engine

PURPOSE:
  Defines the contract between the accounting logic and the database. The
  engine never sees SQL; services compose these interfaces and the sqlite
  package (or the in-memory store in tests) implements them.

DELETE POLICY:
  Nothing financial is hard-deleted. Records and payments carry DeletedAt
  and the loaders exclude soft-deleted rows from due calculations. The
  withdrawal ledger has no delete at all - corrections append reversal
  entries.

ATOMICITY:
  WithTx gives the bulk outflow all-or-nothing semantics: every record
  update, payment and ledger row of a batch commits together or not at
  all. ProcessBulkPayment is the dedicated atomic procedure for
  multi-record payments.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - billing/store/memory.go: In-memory for tests

SEE ALSO:
  - service/outflow.go: Runs batches inside WithTx
  - service/payments.go: Delegates bulk payments to the executor
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECORDS
// =============================================================================

// RecordStore persists storage records. UpdateRecord is the only mutation
// and takes a full RecordUpdates set produced by an impact calculator -
// counters are never edited field by field.
type RecordStore interface {
	// GetRecord returns the record, or nil if it does not exist.
	// Soft-deleted records are returned with DeletedAt set.
	GetRecord(ctx context.Context, id RecordID) (*StorageRecord, error)

	// UpdateRecord writes the mutable fields computed by an impact
	// calculator.
	UpdateRecord(ctx context.Context, id RecordID, u RecordUpdates) error

	// OpenRecords returns all open, non-deleted records for a
	// customer+commodity, ordered by storage start ascending (FIFO).
	OpenRecords(ctx context.Context, customerID CustomerID, commodity string) ([]StorageRecord, error)
}

// CustomerStore resolves customers; customer CRUD lives outside this
// engine.
type CustomerStore interface {
	// GetCustomer returns the customer, or nil if unknown.
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentFields is the editable subset of a payment.
type PaymentFields struct {
	Amount decimal.Decimal
	Date   time.Time
	Type   PaymentType
	Method string
	Notes  string
}

// PaymentStore persists payments. Soft-deleted payments stay queryable
// but are excluded from dues.
type PaymentStore interface {
	InsertPayment(ctx context.Context, p Payment) error
	UpdatePayment(ctx context.Context, id PaymentID, f PaymentFields) error
	SoftDeletePayment(ctx context.Context, id PaymentID) error

	// GetPayment returns the payment, or nil if it does not exist.
	// This is the only read that surfaces soft-deleted payments; the
	// listing queries below exclude them.
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	PaymentsByRecord(ctx context.Context, recordID RecordID) ([]Payment, error)
	PaymentsByCustomer(ctx context.Context, customerID CustomerID) ([]Payment, error)

	// PendingDues returns, per open record of the customer, the balance
	// still owed: rent billed + hamali payable - non-deleted payments.
	// Records with nothing due are omitted. Ordered FIFO.
	PendingDues(ctx context.Context, customerID CustomerID) ([]RecordDue, error)

	// ExternalRefExists dedups webhook-captured payments before insert.
	ExternalRefExists(ctx context.Context, ref string) (bool, error)
}

// =============================================================================
// WITHDRAWAL LEDGER
// =============================================================================

// LedgerStore persists withdrawal entries. APPEND-ONLY: no update, no
// delete. An edit appends a reversal entry plus a replacement entry.
type LedgerStore interface {
	AppendEntry(ctx context.Context, e WithdrawalEntry) error

	// GetEntry returns the entry, or nil if it does not exist.
	GetEntry(ctx context.Context, id EntryID) (*WithdrawalEntry, error)

	// EntriesByRecord returns all entries for a record in append order.
	EntriesByRecord(ctx context.Context, recordID RecordID) ([]WithdrawalEntry, error)

	// IsEntryReversed reports whether a reversal referencing the entry
	// already exists.
	IsEntryReversed(ctx context.Context, id EntryID) (bool, error)
}

// InvoiceSequence allocates invoice numbers for first-time closures.
type InvoiceSequence interface {
	NextInvoiceNumber(ctx context.Context) (string, error)
}

// =============================================================================
// ATOMIC BULK PAYMENT
// =============================================================================

// BulkPaymentRequest is the input to the atomic multi-record payment
// procedure.
type BulkPaymentRequest struct {
	CustomerID  CustomerID
	Date        time.Time
	Allocations []Allocation
	Method      string
	Type        PaymentType
	Notes       string
}

// BulkPaymentResult reports the outcome of the atomic procedure.
type BulkPaymentResult struct {
	Success    bool
	Message    string
	PaymentIDs []PaymentID
}

// BulkPaymentExecutor runs the multi-row payment write as a single
// database transaction: all allocations land or none do.
type BulkPaymentExecutor interface {
	ProcessBulkPayment(ctx context.Context, req BulkPaymentRequest) (BulkPaymentResult, error)
}

// =============================================================================
// COMPOSED STORE
// =============================================================================

// Store is everything the services need from persistence.
type Store interface {
	RecordStore
	CustomerStore
	PaymentStore
	LedgerStore
	InvoiceSequence
}

// TxStore adds transactional execution. The bulk outflow runs its whole
// batch inside WithTx so a mid-batch failure rolls everything back.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. fn returning an error
	// rolls back; nil commits.
	WithTx(ctx context.Context, fn func(Store) error) error
}
