/*
impact.go - Record state transitions for the withdrawal lifecycle

PURPOSE:
  The three impact calculators are the ONLY way a record's bag counters and
  cumulative rent may change:

    ApplyOutflow   - a withdrawal leaves the warehouse
    ApplyReversal  - a previously applied withdrawal is undone
    ApplyUpdate    - an existing withdrawal is edited (old -> new)

  Each is a pure function: it reads the record, validates, and returns the
  new field values plus a closure flag. The caller persists the updates (or
  does not); no calculator mutates its input.

REVERSAL AND EDITS READ THE LEDGER:
  Reversal and update take the ledger entry being undone/edited and use the
  rent recorded there. Recomputing rent here could drift from what was
  actually billed, which would corrupt TotalRentBilled.

UPDATE IS ONE TRANSITION:
  ApplyUpdate is semantically Reversal(old) then Outflow(new), but computed
  as a single delta so no intermediate invalid state ever exists to be
  persisted.

SEE ALSO:
  - types.go: StorageRecord invariants
  - rent.go: Computes the rent an outflow carries
*/
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// UPDATE SET
// =============================================================================

// RecordUpdates is the full set of mutable record fields after a
// transition. The persistence layer writes these verbatim.
type RecordUpdates struct {
	BagsStored      int
	BagsOut         int
	TotalRentBilled decimal.Decimal
	HamaliPayable   decimal.Decimal
	StorageEnd      *time.Time
	BillingCycle    string
}

// ImpactResult pairs the updates with the resulting closure state.
type ImpactResult struct {
	Updates  RecordUpdates
	IsClosed bool
}

// =============================================================================
// OUTFLOW
// =============================================================================

// ApplyOutflow computes the record state after withdrawing bags.
// rent and hamali come precomputed (rent from ComputeRent); effectiveDate
// becomes the storage end if this withdrawal empties the record.
//
// The overdraft check is repeated here even though callers validate first:
// this calculator guarantees it can never produce negative BagsStored.
func ApplyOutflow(rec *StorageRecord, bags int, quote RentQuote, hamali decimal.Decimal, effectiveDate time.Time) (ImpactResult, error) {
	if bags < 1 {
		return ImpactResult{}, fmt.Errorf("%w: withdrawal must remove at least one bag, got %d", ErrValidation, bags)
	}
	if bags > rec.BagsStored {
		return ImpactResult{}, &OverdraftError{
			RecordID:   rec.ID,
			BagsStored: rec.BagsStored,
			Requested:  bags,
		}
	}

	u := RecordUpdates{
		BagsStored:      rec.BagsStored - bags,
		BagsOut:         rec.BagsOut + bags,
		TotalRentBilled: RoundMoney(rec.TotalRentBilled.Add(quote.Rent)),
		HamaliPayable:   RoundMoney(rec.HamaliPayable.Add(hamali)),
		StorageEnd:      rec.StorageEnd,
		BillingCycle:    quote.Tier,
	}
	if u.BillingCycle == "" {
		u.BillingCycle = rec.BillingCycle
	}

	closed := u.BagsStored == 0
	if closed {
		end := effectiveDate
		u.StorageEnd = &end
	}

	return ImpactResult{Updates: u, IsClosed: closed}, nil
}

// =============================================================================
// REVERSAL
// =============================================================================

// ApplyReversal computes the inverse of a previously applied withdrawal.
// Bags return to storage, cumulative counters roll back, and a record the
// entry had closed reopens. The billing cycle label is preserved.
//
// Fails with InconsistentState if the inverse would drive BagsOut or
// TotalRentBilled negative - that means the record and ledger have
// drifted, and clamping would hide corruption.
func ApplyReversal(rec *StorageRecord, entry WithdrawalEntry) (ImpactResult, error) {
	if entry.RecordID != rec.ID {
		return ImpactResult{}, fmt.Errorf("%w: entry %s belongs to record %s, not %s",
			ErrValidation, entry.ID, entry.RecordID, rec.ID)
	}
	if entry.Kind != EntryWithdrawal {
		return ImpactResult{}, fmt.Errorf("%w: only withdrawal entries can be reversed, got %s",
			ErrValidation, entry.Kind)
	}

	newOut := rec.BagsOut - entry.Bags
	newRent := rec.TotalRentBilled.Sub(entry.RentCollected)
	if newOut < 0 {
		return ImpactResult{}, &InconsistentStateError{
			RecordID: rec.ID,
			Detail:   fmt.Sprintf("reversal of %d bags would drive bagsOut to %d", entry.Bags, newOut),
		}
	}
	if newRent.IsNegative() {
		return ImpactResult{}, &InconsistentStateError{
			RecordID: rec.ID,
			Detail:   fmt.Sprintf("reversal would drive totalRentBilled to %s", newRent),
		}
	}
	newHamali := rec.HamaliPayable.Sub(entry.HamaliCharged)
	if newHamali.IsNegative() {
		return ImpactResult{}, &InconsistentStateError{
			RecordID: rec.ID,
			Detail:   fmt.Sprintf("reversal would drive hamaliPayable to %s", newHamali),
		}
	}

	u := RecordUpdates{
		BagsStored:      rec.BagsStored + entry.Bags,
		BagsOut:         newOut,
		TotalRentBilled: RoundMoney(newRent),
		HamaliPayable:   RoundMoney(newHamali),
		StorageEnd:      rec.StorageEnd,
		BillingCycle:    rec.BillingCycle, // preserved across reversal
	}

	// Reopen if this entry had closed the record.
	if rec.StorageEnd != nil && u.BagsStored > 0 {
		u.StorageEnd = nil
	}

	return ImpactResult{Updates: u, IsClosed: u.BagsStored == 0}, nil
}

// =============================================================================
// UPDATE (edit) - single-delta transition
// =============================================================================

// ApplyUpdate computes the record state after editing a withdrawal from
// oldEntry to newEntry (bags, rent, hamali, date). Closure is re-evaluated
// in both directions: shrinking the withdrawal can reopen a closed record,
// growing it can close an open one.
func ApplyUpdate(rec *StorageRecord, oldEntry, newEntry WithdrawalEntry) (ImpactResult, error) {
	if oldEntry.RecordID != rec.ID {
		return ImpactResult{}, fmt.Errorf("%w: entry %s belongs to record %s, not %s",
			ErrValidation, oldEntry.ID, oldEntry.RecordID, rec.ID)
	}
	if newEntry.Bags < 1 {
		return ImpactResult{}, fmt.Errorf("%w: edited withdrawal must keep at least one bag, got %d",
			ErrValidation, newEntry.Bags)
	}

	deltaBags := newEntry.Bags - oldEntry.Bags
	newStored := rec.BagsStored - deltaBags
	newOut := rec.BagsOut + deltaBags

	if newStored < 0 {
		return ImpactResult{}, &OverdraftError{
			RecordID:   rec.ID,
			BagsStored: rec.BagsStored + oldEntry.Bags,
			Requested:  newEntry.Bags,
		}
	}
	if newOut < 0 {
		return ImpactResult{}, &InconsistentStateError{
			RecordID: rec.ID,
			Detail:   fmt.Sprintf("edit would drive bagsOut to %d", newOut),
		}
	}

	newRent := rec.TotalRentBilled.Add(newEntry.RentCollected).Sub(oldEntry.RentCollected)
	if newRent.IsNegative() {
		return ImpactResult{}, &InconsistentStateError{
			RecordID: rec.ID,
			Detail:   fmt.Sprintf("edit would drive totalRentBilled to %s", newRent),
		}
	}
	newHamali := rec.HamaliPayable.Add(newEntry.HamaliCharged).Sub(oldEntry.HamaliCharged)
	if newHamali.IsNegative() {
		return ImpactResult{}, &InconsistentStateError{
			RecordID: rec.ID,
			Detail:   fmt.Sprintf("edit would drive hamaliPayable to %s", newHamali),
		}
	}

	u := RecordUpdates{
		BagsStored:      newStored,
		BagsOut:         newOut,
		TotalRentBilled: RoundMoney(newRent),
		HamaliPayable:   RoundMoney(newHamali),
		StorageEnd:      rec.StorageEnd,
		BillingCycle:    rec.BillingCycle,
	}

	switch {
	case newStored == 0 && rec.StorageEnd == nil:
		// edit closes the record
		end := newEntry.Date
		u.StorageEnd = &end
	case newStored > 0 && rec.StorageEnd != nil:
		// edit reopens the record; the cycle label no longer applies
		u.StorageEnd = nil
		u.BillingCycle = ""
	}

	return ImpactResult{Updates: u, IsClosed: u.BagsStored == 0}, nil
}
