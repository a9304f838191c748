/*
withdrawals.go - Ledger reversal and correction

PURPOSE:
  Withdrawal entries are append-only: mistakes are fixed by appending, not
  by rewriting history.

    - ReverseWithdrawal appends a reversal row and restores the record's
      bags, rent and hamali to their pre-withdrawal values. A reversed
      entry cannot be reversed again.
    - UpdateWithdrawal corrects a withdrawal (wrong bag count, wrong
      negotiated rent, wrong date) by appending a reversal row plus a
      replacement row, while the record itself transitions exactly once
      through the combined delta.

  Both operations run inside a store transaction so the ledger rows and
  the record update land together or not at all.

SEE ALSO:
  - billing/impact.go: ApplyReversal and ApplyUpdate
  - service/outflow.go: Where withdrawal entries originate
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

// WithdrawalService corrects the withdrawal ledger.
type WithdrawalService struct {
	Store  billing.TxStore
	Cache  ViewCache
	Logger *zap.Logger
}

func NewWithdrawalService(store billing.TxStore, c ViewCache, logger *zap.Logger) *WithdrawalService {
	return &WithdrawalService{Store: store, Cache: c, Logger: logger}
}

// =============================================================================
// REVERSAL
// =============================================================================

// ReverseWithdrawal undoes a withdrawal entry in full: the bags return to
// storage, the billed rent and hamali come back off the record, and a
// closed record reopens. Fails if the entry was already reversed.
func (s *WithdrawalService) ReverseWithdrawal(ctx context.Context, entryID billing.EntryID) Result {
	var recordID billing.RecordID
	txErr := s.Store.WithTx(ctx, func(store billing.Store) error {
		entry, rec, err := loadEntryAndRecord(ctx, store, entryID)
		if err != nil {
			return err
		}
		recordID = rec.ID

		reversed, err := store.IsEntryReversed(ctx, entry.ID)
		if err != nil {
			return err
		}
		if reversed {
			return fmt.Errorf("%w: entry %s was already reversed", billing.ErrValidation, entry.ID)
		}

		impact, err := billing.ApplyReversal(rec, *entry)
		if err != nil {
			return err
		}
		if err := store.UpdateRecord(ctx, rec.ID, impact.Updates); err != nil {
			return err
		}
		return store.AppendEntry(ctx, billing.WithdrawalEntry{
			ID:            billing.EntryID(uuid.NewString()),
			RecordID:      rec.ID,
			Kind:          billing.EntryReversal,
			Bags:          entry.Bags,
			RentCollected: entry.RentCollected,
			HamaliCharged: entry.HamaliCharged,
			Date:          entry.Date,
			ReversesID:    entry.ID,
		})
	})
	if txErr != nil {
		if billing.IsClientError(txErr) {
			return failure(txErr.Error())
		}
		s.Logger.Error("withdrawal reversal failed", zap.String("entry", string(entryID)), zap.Error(txErr))
		return failure("could not reverse withdrawal")
	}

	invalidate(ctx, s.Cache, s.Logger, recordViewKey(recordID))
	return Result{Success: true, Message: "withdrawal reversed"}
}

// =============================================================================
// CORRECTION
// =============================================================================

// UpdateWithdrawalInput carries the corrected figures for an existing
// withdrawal entry. Zero-valued fields are not "keep as is": callers send
// the full corrected entry.
type UpdateWithdrawalInput struct {
	Bags          int
	RentCollected decimal.Decimal
	HamaliCharged decimal.Decimal
	Date          time.Time
}

// UpdateWithdrawal corrects a withdrawal entry by appending a reversal of
// the original plus a replacement entry. The record's counters move once,
// by the net difference between old and new figures, so intermediate
// states (bags momentarily back in storage) never exist.
func (s *WithdrawalService) UpdateWithdrawal(ctx context.Context, entryID billing.EntryID, in UpdateWithdrawalInput) Result {
	if in.Bags < 1 {
		return failure("corrected withdrawal must keep at least one bag")
	}
	if in.RentCollected.IsNegative() || in.HamaliCharged.IsNegative() {
		return failure("corrected rent and hamali must not be negative")
	}

	var recordID billing.RecordID
	txErr := s.Store.WithTx(ctx, func(store billing.Store) error {
		oldEntry, rec, err := loadEntryAndRecord(ctx, store, entryID)
		if err != nil {
			return err
		}
		recordID = rec.ID

		reversed, err := store.IsEntryReversed(ctx, oldEntry.ID)
		if err != nil {
			return err
		}
		if reversed {
			return fmt.Errorf("%w: entry %s was already reversed", billing.ErrValidation, oldEntry.ID)
		}

		newEntry := billing.WithdrawalEntry{
			ID:            billing.EntryID(uuid.NewString()),
			RecordID:      rec.ID,
			Kind:          billing.EntryWithdrawal,
			Bags:          in.Bags,
			RentCollected: billing.RoundMoney(in.RentCollected),
			HamaliCharged: billing.RoundMoney(in.HamaliCharged),
			Date:          in.Date,
			InvoiceNumber: oldEntry.InvoiceNumber,
		}

		impact, err := billing.ApplyUpdate(rec, *oldEntry, newEntry)
		if err != nil {
			return err
		}
		if err := store.UpdateRecord(ctx, rec.ID, impact.Updates); err != nil {
			return err
		}

		// Reversal first, then the replacement, so the ledger reads in
		// causal order.
		if err := store.AppendEntry(ctx, billing.WithdrawalEntry{
			ID:            billing.EntryID(uuid.NewString()),
			RecordID:      rec.ID,
			Kind:          billing.EntryReversal,
			Bags:          oldEntry.Bags,
			RentCollected: oldEntry.RentCollected,
			HamaliCharged: oldEntry.HamaliCharged,
			Date:          oldEntry.Date,
			ReversesID:    oldEntry.ID,
		}); err != nil {
			return err
		}
		return store.AppendEntry(ctx, newEntry)
	})
	if txErr != nil {
		if billing.IsClientError(txErr) {
			return failure(txErr.Error())
		}
		s.Logger.Error("withdrawal correction failed", zap.String("entry", string(entryID)), zap.Error(txErr))
		return failure("could not update withdrawal")
	}

	invalidate(ctx, s.Cache, s.Logger, recordViewKey(recordID))
	return Result{Success: true, Message: "withdrawal updated"}
}

// loadEntryAndRecord resolves an entry plus its record and rejects
// anything that is not a live withdrawal row.
func loadEntryAndRecord(ctx context.Context, store billing.Store, entryID billing.EntryID) (*billing.WithdrawalEntry, *billing.StorageRecord, error) {
	entry, err := store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}
	if entry == nil {
		return nil, nil, fmt.Errorf("%w: withdrawal entry %s", billing.ErrNotFound, entryID)
	}
	if entry.Kind != billing.EntryWithdrawal {
		return nil, nil, fmt.Errorf("%w: entry %s is a %s, not a withdrawal", billing.ErrValidation, entryID, entry.Kind)
	}
	rec, err := store.GetRecord(ctx, entry.RecordID)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil || rec.IsDeleted() {
		return nil, nil, fmt.Errorf("%w: record %s", billing.ErrNotFound, entry.RecordID)
	}
	return entry, rec, nil
}
