/*
outflow.go - Multi-record bulk withdrawal orchestration

PURPOSE:
  A customer withdraws N bags of one commodity spread over several storage
  records. The orchestrator:

    1. Selects candidate open records (explicit subset or all for
       customer+commodity), FIFO-ordered by storage start
    2. Rejects the request outright if combined stock is short - nothing
       is mutated on InsufficientStock
    3. Greedily allocates bags oldest-first
    4. Quotes per-record rent from the commodity's tier table
    5. Splits any upfront payment across records in proportion to rent,
       conserving every cent (residue to the last record; a zero-rent
       batch pays the first record only)
    6. Applies the outflow impact, payment and ledger entry per record,
       assigning an invoice number when a record closes for the first time
    7. Sends ONE aggregate notification and invalidates affected views

ATOMICITY:
  The whole batch runs inside Store.WithTx. A failure at any record rolls
  back every update, payment and ledger row already applied - the ledger
  can never be left partially applied.

SEE ALSO:
  - billing/rent.go: Per-record rent quotes
  - billing/impact.go: The per-record state transition
  - billing/allocator.go: SplitProportional
*/
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/godown/billing-engine/billing"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// RateProvider resolves the rate policy for a commodity. The factory
// package builds one from JSON crop configuration.
type RateProvider interface {
	TableFor(commodity string) (billing.TierTable, error)
	HamaliPerBag(commodity string) decimal.Decimal
}

// BulkOutflowOrchestrator composes the rent calculator, the outflow
// impact and the proportional payment split into one atomic batch.
type BulkOutflowOrchestrator struct {
	Store    billing.TxStore
	Rates    RateProvider
	Notifier Notifier
	Cache    ViewCache
	Logger   *zap.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewBulkOutflowOrchestrator(store billing.TxStore, rates RateProvider, n Notifier, c ViewCache, logger *zap.Logger) *BulkOutflowOrchestrator {
	return &BulkOutflowOrchestrator{
		Store:    store,
		Rates:    rates,
		Notifier: n,
		Cache:    c,
		Logger:   logger,
		Now:      time.Now,
	}
}

// =============================================================================
// INPUT / OUTPUT
// =============================================================================

// BulkOutflowInput is the action-layer input for a multi-record
// withdrawal.
type BulkOutflowInput struct {
	CustomerID billing.CustomerID
	Commodity  string
	TotalBags  int
	Date       time.Time

	// FinalRent optionally overrides the computed batch rent (a
	// negotiated figure). When positive, per-record rents are rescaled
	// proportionally so they sum to it exactly.
	FinalRent decimal.Decimal

	// AmountPaid is the payment handed over at the gate, if any.
	AmountPaid decimal.Decimal

	// RecordIDs optionally restricts the withdrawal to specific records.
	// The subset is still processed FIFO internally.
	RecordIDs []billing.RecordID
}

// OutflowLine reports what happened to one record in the batch.
type OutflowLine struct {
	RecordID      billing.RecordID `json:"recordId"`
	RecordNumber  string           `json:"recordNumber"`
	Bags          int              `json:"bags"`
	Rent          decimal.Decimal  `json:"rent"`
	Hamali        decimal.Decimal  `json:"hamali"`
	Paid          decimal.Decimal  `json:"paid"`
	Closed        bool             `json:"closed"`
	InvoiceNumber string           `json:"invoiceNumber,omitempty"`
}

// OutflowSummary is the batch-level result data.
type OutflowSummary struct {
	Lines     []OutflowLine   `json:"lines"`
	TotalBags int             `json:"totalBags"`
	TotalRent decimal.Decimal `json:"totalRent"`
	TotalPaid decimal.Decimal `json:"totalPaid"`
}

// bagPlan is one record's share of the batch, fixed before any write.
type bagPlan struct {
	record billing.StorageRecord
	bags   int
	quote  billing.RentQuote
	hamali decimal.Decimal
	paid   decimal.Decimal
}

// =============================================================================
// ORCHESTRATION
// =============================================================================

// ProcessBulkOutflow runs the full withdrawal batch atomically.
func (o *BulkOutflowOrchestrator) ProcessBulkOutflow(ctx context.Context, in BulkOutflowInput) Result {
	if in.TotalBags < 1 {
		return failure("withdrawal must remove at least one bag")
	}
	if in.Date.After(endOfDay(o.Now())) {
		return failure("withdrawal date cannot be in the future")
	}
	if in.AmountPaid.IsNegative() {
		return failure("amount paid must not be negative")
	}

	customer, err := o.Store.GetCustomer(ctx, in.CustomerID)
	if err != nil {
		o.Logger.Error("customer lookup failed", zap.String("customer", string(in.CustomerID)), zap.Error(err))
		return failure("could not load customer")
	}
	if customer == nil {
		return failure("customer not found")
	}

	table, err := o.Rates.TableFor(in.Commodity)
	if err != nil {
		return failure(fmt.Sprintf("no rate configuration for commodity %q", in.Commodity))
	}
	hamaliRate := o.Rates.HamaliPerBag(in.Commodity)

	var summary OutflowSummary
	txErr := o.Store.WithTx(ctx, func(store billing.Store) error {
		plans, err := o.plan(ctx, store, in, table, hamaliRate)
		if err != nil {
			return err
		}
		s, err := o.execute(ctx, store, in, plans)
		if err != nil {
			return err
		}
		summary = s
		return nil
	})
	if txErr != nil {
		if billing.IsClientError(txErr) {
			return failure(txErr.Error())
		}
		o.Logger.Error("bulk outflow failed, batch rolled back",
			zap.String("customer", string(in.CustomerID)),
			zap.String("commodity", in.Commodity),
			zap.Int("bags", in.TotalBags),
			zap.Error(txErr))
		return failure("withdrawal failed; no changes were applied")
	}

	keys := []string{customerViewKey(in.CustomerID)}
	for _, line := range summary.Lines {
		keys = append(keys, recordViewKey(line.RecordID))
	}
	invalidate(ctx, o.Cache, o.Logger, keys...)
	notify(o.Notifier, o.Logger, customer.Phone,
		outflowSummary(customer, in.Commodity, summary.TotalBags, summary.TotalRent, summary.TotalPaid, len(summary.Lines)))

	return Result{
		Success: true,
		Message: fmt.Sprintf("%d bags withdrawn across %d record(s)", summary.TotalBags, len(summary.Lines)),
		Data:    summary,
	}
}

// plan selects candidate records, checks stock and fixes every per-record
// figure (bags, rent, hamali, payment share) before anything is written.
func (o *BulkOutflowOrchestrator) plan(ctx context.Context, store billing.Store, in BulkOutflowInput, table billing.TierTable, hamaliRate decimal.Decimal) ([]bagPlan, error) {
	candidates, err := o.candidates(ctx, store, in)
	if err != nil {
		return nil, err
	}

	available := 0
	for _, rec := range candidates {
		available += rec.BagsStored
	}
	if available < in.TotalBags {
		return nil, &billing.InsufficientStockError{
			CustomerID: in.CustomerID,
			Commodity:  in.Commodity,
			Available:  available,
			Requested:  in.TotalBags,
		}
	}

	// Greedy oldest-first bag allocation.
	var plans []bagPlan
	remaining := in.TotalBags
	for _, rec := range candidates {
		if remaining == 0 {
			break
		}
		take := rec.BagsStored
		if take > remaining {
			take = remaining
		}
		quote, err := billing.ComputeRent(&rec, table, in.Date, take)
		if err != nil {
			return nil, err
		}
		plans = append(plans, bagPlan{
			record: rec,
			bags:   take,
			quote:  quote,
			hamali: billing.RoundMoney(hamaliRate.Mul(decimal.NewFromInt(int64(take)))),
		})
		remaining -= take
	}

	rents := make([]decimal.Decimal, len(plans))
	for i, p := range plans {
		rents[i] = p.quote.Rent
	}

	// A negotiated final rent replaces the computed batch total,
	// rescaled across records by their computed shares.
	if in.FinalRent.IsPositive() {
		rescaled := billing.SplitProportional(in.FinalRent, rents)
		for i := range plans {
			plans[i].quote.Rent = rescaled[i]
			rents[i] = rescaled[i]
		}
	}

	// Rent-proportional payment split; a zero-rent batch pays the first
	// record only (SplitProportional's zero-weight rule).
	if in.AmountPaid.IsPositive() {
		shares := billing.SplitProportional(in.AmountPaid, rents)
		for i := range plans {
			plans[i].paid = shares[i]
		}
	}

	return plans, nil
}

// candidates loads the records the batch may draw from, FIFO-ordered.
func (o *BulkOutflowOrchestrator) candidates(ctx context.Context, store billing.Store, in BulkOutflowInput) ([]billing.StorageRecord, error) {
	if len(in.RecordIDs) == 0 {
		return store.OpenRecords(ctx, in.CustomerID, in.Commodity)
	}

	var records []billing.StorageRecord
	for _, id := range in.RecordIDs {
		rec, err := store.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.IsDeleted() {
			return nil, fmt.Errorf("%w: record %s", billing.ErrNotFound, id)
		}
		if rec.CustomerID != in.CustomerID || rec.Commodity != in.Commodity {
			return nil, fmt.Errorf("%w: record %s does not belong to %s/%s",
				billing.ErrValidation, id, in.CustomerID, in.Commodity)
		}
		if !rec.IsOpen() {
			return nil, fmt.Errorf("%w: record %s is already closed", billing.ErrValidation, id)
		}
		records = append(records, *rec)
	}

	// Explicit subsets are still drained oldest-first.
	sort.Slice(records, func(i, j int) bool {
		return records[i].StorageStart.Before(records[j].StorageStart)
	})
	return records, nil
}

// execute applies the fixed plan: impact, payment and ledger entry per
// record. Runs inside the batch transaction.
func (o *BulkOutflowOrchestrator) execute(ctx context.Context, store billing.Store, in BulkOutflowInput, plans []bagPlan) (OutflowSummary, error) {
	summary := OutflowSummary{
		TotalRent: decimal.Zero,
		TotalPaid: decimal.Zero,
	}

	for _, p := range plans {
		impact, err := billing.ApplyOutflow(&p.record, p.bags, p.quote, p.hamali, in.Date)
		if err != nil {
			return OutflowSummary{}, err
		}
		if err := store.UpdateRecord(ctx, p.record.ID, impact.Updates); err != nil {
			return OutflowSummary{}, fmt.Errorf("record %s: %w", p.record.ID, err)
		}

		// Invoice number on first closure only; a record re-closed after
		// a reversal keeps its original invoice.
		invoiceNo := ""
		if impact.IsClosed {
			invoiced, err := recordHasInvoice(ctx, store, p.record.ID)
			if err != nil {
				return OutflowSummary{}, err
			}
			if !invoiced {
				invoiceNo, err = store.NextInvoiceNumber(ctx)
				if err != nil {
					return OutflowSummary{}, err
				}
			}
		}

		entry := billing.WithdrawalEntry{
			ID:            billing.EntryID(uuid.NewString()),
			RecordID:      p.record.ID,
			Kind:          billing.EntryWithdrawal,
			Bags:          p.bags,
			RentCollected: p.quote.Rent,
			HamaliCharged: p.hamali,
			Date:          in.Date,
			InvoiceNumber: invoiceNo,
		}
		if err := store.AppendEntry(ctx, entry); err != nil {
			return OutflowSummary{}, fmt.Errorf("ledger append for record %s: %w", p.record.ID, err)
		}

		if p.paid.IsPositive() {
			if err := store.InsertPayment(ctx, billing.Payment{
				ID:         billing.PaymentID(uuid.NewString()),
				RecordID:   p.record.ID,
				CustomerID: in.CustomerID,
				Amount:     p.paid,
				Date:       in.Date,
				Type:       billing.PaymentRent,
				Notes:      "bulk outflow payment",
			}); err != nil {
				return OutflowSummary{}, fmt.Errorf("payment for record %s: %w", p.record.ID, err)
			}
		}

		summary.Lines = append(summary.Lines, OutflowLine{
			RecordID:      p.record.ID,
			RecordNumber:  p.record.RecordNumber,
			Bags:          p.bags,
			Rent:          p.quote.Rent,
			Hamali:        p.hamali,
			Paid:          p.paid,
			Closed:        impact.IsClosed,
			InvoiceNumber: invoiceNo,
		})
		summary.TotalBags += p.bags
		summary.TotalRent = summary.TotalRent.Add(p.quote.Rent)
		summary.TotalPaid = summary.TotalPaid.Add(p.paid)
	}

	return summary, nil
}

// recordHasInvoice reports whether any ledger entry of the record already
// carries an invoice number.
func recordHasInvoice(ctx context.Context, store billing.Store, id billing.RecordID) (bool, error) {
	entries, err := store.EntriesByRecord(ctx, id)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.InvoiceNumber != "" {
			return true, nil
		}
	}
	return false, nil
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
