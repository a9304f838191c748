/*
payments.go - Payment facade: single-payment CRUD and bulk distribution

PURPOSE:
  PaymentService is the one entry point for money coming in:

    CreatePayment  - one payment against one record
    UpdatePayment  - edit amount/date/type/notes
    DeletePayment  - soft delete (excluded from dues, kept for audit)
    ProcessBulk    - one lump sum FIFO/manually allocated across all of a
                     customer's outstanding records

  ProcessBulk computes allocations with the pure allocator and then hands
  the multi-row write to the atomic BulkPaymentExecutor: either every
  allocation lands or none does.

RESULT SHAPE:
  Every operation returns Result{Success, Message, Data}. Failures carry a
  user-facing message only; internals go to the log, never to the caller.

SEE ALSO:
  - billing/allocator.go: FIFO / manual allocation
  - store/sqlite/sqlite.go: The atomic bulk procedure
*/
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/godown/billing-engine/billing"
)

// =============================================================================
// RESULT - uniform action-layer shape
// =============================================================================

// Result is the uniform outcome of every service operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func failure(msg string) Result {
	return Result{Success: false, Message: msg}
}

// ViewCache invalidates cached views after mutations. Implementations in
// the cache package.
type ViewCache interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// invalidate clears cached views, logging on failure. A cache miss is
// always safe, so errors never propagate.
func invalidate(ctx context.Context, c ViewCache, logger *zap.Logger, keys ...string) {
	if c == nil {
		return
	}
	if err := c.Invalidate(ctx, keys...); err != nil {
		logger.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func customerViewKey(id billing.CustomerID) string { return "views:customer:" + string(id) }
func recordViewKey(id billing.RecordID) string     { return "views:record:" + string(id) }

// =============================================================================
// PAYMENT SERVICE
// =============================================================================

// AllocationStrategy selects how ProcessBulk splits the lump sum.
type AllocationStrategy string

const (
	StrategyFIFO   AllocationStrategy = "fifo"
	StrategyManual AllocationStrategy = "manual"
)

type PaymentService struct {
	Store    billing.TxStore
	Executor billing.BulkPaymentExecutor
	Notifier Notifier
	Cache    ViewCache
	Logger   *zap.Logger
}

func NewPaymentService(store billing.TxStore, exec billing.BulkPaymentExecutor, n Notifier, c ViewCache, logger *zap.Logger) *PaymentService {
	return &PaymentService{Store: store, Executor: exec, Notifier: n, Cache: c, Logger: logger}
}

// CreatePaymentInput is the action-layer input for a single payment.
type CreatePaymentInput struct {
	RecordID    billing.RecordID
	Amount      decimal.Decimal
	Date        time.Time
	Type        billing.PaymentType
	Method      string
	Notes       string
	ExternalRef string // optional webhook capture reference
}

// CreatePayment validates the record, persists one payment and fires a
// best-effort notification. Returns the owning customer id on success.
func (s *PaymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) Result {
	if !in.Amount.IsPositive() {
		return failure("payment amount must be greater than zero")
	}
	if !billing.ValidPaymentType(in.Type) {
		return failure(fmt.Sprintf("unknown payment type %q", in.Type))
	}

	rec, err := s.Store.GetRecord(ctx, in.RecordID)
	if err != nil {
		s.Logger.Error("record lookup failed", zap.String("record", string(in.RecordID)), zap.Error(err))
		return failure("could not load storage record")
	}
	if rec == nil || rec.IsDeleted() {
		return failure("storage record not found")
	}

	// Webhook retries dedup on the external reference before insert.
	if in.ExternalRef != "" {
		exists, err := s.Store.ExternalRefExists(ctx, in.ExternalRef)
		if err != nil {
			s.Logger.Error("external ref check failed", zap.Error(err))
			return failure("could not record payment")
		}
		if exists {
			return failure("payment already processed")
		}
	}

	p := billing.Payment{
		ID:          billing.PaymentID(uuid.NewString()),
		RecordID:    rec.ID,
		CustomerID:  rec.CustomerID,
		Amount:      billing.RoundMoney(in.Amount),
		Date:        in.Date,
		Type:        in.Type,
		Method:      in.Method,
		Notes:       in.Notes,
		ExternalRef: in.ExternalRef,
	}
	if err := s.Store.InsertPayment(ctx, p); err != nil {
		s.Logger.Error("payment insert failed", zap.String("record", string(rec.ID)), zap.Error(err))
		return failure("could not record payment")
	}

	if customer, err := s.Store.GetCustomer(ctx, rec.CustomerID); err == nil && customer != nil {
		notify(s.Notifier, s.Logger, customer.Phone, paymentSummary(customer, p))
	}
	invalidate(ctx, s.Cache, s.Logger, customerViewKey(rec.CustomerID), recordViewKey(rec.ID))

	return Result{
		Success: true,
		Message: "payment recorded",
		Data: map[string]any{
			"paymentId":  p.ID,
			"customerId": rec.CustomerID,
		},
	}
}

// UpdatePayment edits an existing, non-deleted payment.
func (s *PaymentService) UpdatePayment(ctx context.Context, id billing.PaymentID, f billing.PaymentFields) Result {
	if !f.Amount.IsPositive() {
		return failure("payment amount must be greater than zero")
	}
	if !billing.ValidPaymentType(f.Type) {
		return failure(fmt.Sprintf("unknown payment type %q", f.Type))
	}

	existing, err := s.Store.GetPayment(ctx, id)
	if err != nil {
		s.Logger.Error("payment lookup failed", zap.String("payment", string(id)), zap.Error(err))
		return failure("could not load payment")
	}
	if existing == nil || existing.IsDeleted() {
		return failure("payment not found")
	}

	f.Amount = billing.RoundMoney(f.Amount)
	if err := s.Store.UpdatePayment(ctx, id, f); err != nil {
		s.Logger.Error("payment update failed", zap.String("payment", string(id)), zap.Error(err))
		return failure("could not update payment")
	}

	invalidate(ctx, s.Cache, s.Logger, customerViewKey(existing.CustomerID), recordViewKey(existing.RecordID))
	return Result{Success: true, Message: "payment updated"}
}

// DeletePayment soft-deletes a payment; the row stays for the audit trail
// but no longer counts against dues.
func (s *PaymentService) DeletePayment(ctx context.Context, id billing.PaymentID) Result {
	existing, err := s.Store.GetPayment(ctx, id)
	if err != nil {
		s.Logger.Error("payment lookup failed", zap.String("payment", string(id)), zap.Error(err))
		return failure("could not load payment")
	}
	if existing == nil || existing.IsDeleted() {
		return failure("payment not found")
	}

	if err := s.Store.SoftDeletePayment(ctx, id); err != nil {
		s.Logger.Error("payment delete failed", zap.String("payment", string(id)), zap.Error(err))
		return failure("could not delete payment")
	}

	invalidate(ctx, s.Cache, s.Logger, customerViewKey(existing.CustomerID), recordViewKey(existing.RecordID))
	return Result{Success: true, Message: "payment deleted"}
}

// =============================================================================
// BULK PAYMENT
// =============================================================================

// BulkPaymentInput is the action-layer input for distributing one lump
// payment across a customer's outstanding records.
type BulkPaymentInput struct {
	CustomerID billing.CustomerID
	Total      decimal.Decimal
	Date       time.Time
	Strategy   AllocationStrategy
	Manual     []billing.ManualAllocation // required for StrategyManual
	Method     string
	Type       billing.PaymentType
	Notes      string
}

// ProcessBulk allocates the lump sum across currently pending records and
// delegates the multi-row write to the atomic persistence procedure.
func (s *PaymentService) ProcessBulk(ctx context.Context, in BulkPaymentInput) Result {
	if in.Total.IsNegative() {
		return failure("payment amount must not be negative")
	}
	if in.Type == "" {
		in.Type = billing.PaymentRent
	}
	if !billing.ValidPaymentType(in.Type) {
		return failure(fmt.Sprintf("unknown payment type %q", in.Type))
	}

	customer, err := s.Store.GetCustomer(ctx, in.CustomerID)
	if err != nil {
		s.Logger.Error("customer lookup failed", zap.String("customer", string(in.CustomerID)), zap.Error(err))
		return failure("could not load customer")
	}
	if customer == nil {
		return failure("customer not found")
	}

	dues, err := s.Store.PendingDues(ctx, in.CustomerID)
	if err != nil {
		s.Logger.Error("pending dues query failed", zap.String("customer", string(in.CustomerID)), zap.Error(err))
		return failure("could not load outstanding balances")
	}

	var alloc billing.AllocationResult
	switch in.Strategy {
	case StrategyManual:
		alloc, err = billing.AllocateManual(dues, in.Total, in.Manual)
	case StrategyFIFO, "":
		alloc, err = billing.AllocateFIFO(dues, in.Total)
	default:
		return failure(fmt.Sprintf("unknown allocation strategy %q", in.Strategy))
	}
	if err != nil {
		if billing.IsClientError(err) {
			return failure(err.Error())
		}
		s.Logger.Error("allocation failed", zap.Error(err))
		return failure("could not allocate payment")
	}

	if len(alloc.Allocations) == 0 {
		return Result{
			Success: true,
			Message: "nothing to allocate",
			Data:    alloc,
		}
	}

	res, err := s.Executor.ProcessBulkPayment(ctx, billing.BulkPaymentRequest{
		CustomerID:  in.CustomerID,
		Date:        in.Date,
		Allocations: alloc.Allocations,
		Method:      in.Method,
		Type:        in.Type,
		Notes:       in.Notes,
	})
	if err != nil {
		s.Logger.Error("bulk payment procedure failed", zap.String("customer", string(in.CustomerID)), zap.Error(err))
		return failure("could not record bulk payment")
	}
	if !res.Success {
		return failure(res.Message)
	}

	total := decimal.Zero
	keys := []string{customerViewKey(in.CustomerID)}
	for _, a := range alloc.Allocations {
		total = total.Add(a.Amount)
		keys = append(keys, recordViewKey(a.RecordID))
	}
	invalidate(ctx, s.Cache, s.Logger, keys...)
	notify(s.Notifier, s.Logger, customer.Phone, fmt.Sprintf(
		"Dear %s, payment of %s received and settled against %d record(s). Thank you.",
		customer.Name, total.StringFixed(2), len(alloc.Allocations)))

	return Result{
		Success: true,
		Message: res.Message,
		Data:    alloc,
	}
}
