/*
allocator.go - Distributing one lump payment across many balances

PURPOSE:
  A customer hands over one amount; the engine splits it across the
  customer's outstanding records. Two modes:

    FIFO:   oldest storage-start first, each record absorbs
            min(due, remaining) until the money runs out
    Manual: the caller dictates the split; it must sum to the total
            within 0.01 or the whole allocation is rejected

  Plus SplitProportional, used by the bulk outflow to divide a payment by
  rent share with exact conservation of cents.

ZERO-AMOUNT POLICY:
  A zero total yields an empty allocation list and zero unallocated. No
  zero-amount rows are emitted and nothing should be persisted for it.

CONSERVATION:
  In every mode, sum(allocations) + unallocated == total, exactly.

SEE ALSO:
  - service/payments.go: Feeds pending dues into these functions
  - service/outflow.go: Uses SplitProportional for batch payments
*/
package billing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// AllocationResult is the outcome of distributing a payment.
// Unallocated is nonzero only when the payment exceeds every due combined.
type AllocationResult struct {
	Allocations []Allocation    `json:"allocations"`
	Unallocated decimal.Decimal `json:"unallocated"`
}

// ManualAllocation is one caller-directed slice of a manual split.
type ManualAllocation struct {
	RecordID RecordID
	Amount   decimal.Decimal
}

// manualTolerance is how far the manual split may drift from the total
// before the allocation is rejected.
var manualTolerance = decimal.NewFromFloat(0.01)

// =============================================================================
// FIFO MODE
// =============================================================================

// AllocateFIFO walks dues oldest-first and lets each record absorb
// min(due, remaining). Records with nothing due are skipped. The walk
// stops once the payment is exhausted.
func AllocateFIFO(dues []RecordDue, total decimal.Decimal) (AllocationResult, error) {
	if total.IsNegative() {
		return AllocationResult{}, fmt.Errorf("%w: payment amount must not be negative, got %s",
			ErrValidation, total)
	}

	result := AllocationResult{
		Allocations: []Allocation{},
		Unallocated: decimal.Zero,
	}
	if total.IsZero() {
		return result, nil
	}

	sorted := make([]RecordDue, len(dues))
	copy(sorted, dues)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StorageStart.Before(sorted[j].StorageStart)
	})

	remaining := total
	for _, due := range sorted {
		if remaining.IsZero() {
			break
		}
		if !due.TotalDue.IsPositive() {
			continue
		}

		amount := decimal.Min(remaining, due.TotalDue)
		result.Allocations = append(result.Allocations, Allocation{
			RecordID:     due.RecordID,
			RecordNumber: due.RecordNumber,
			Amount:       amount,
			RemainingDue: due.TotalDue.Sub(amount),
		})
		remaining = remaining.Sub(amount)
	}

	result.Unallocated = remaining
	return result, nil
}

// =============================================================================
// MANUAL MODE
// =============================================================================

// AllocateManual applies a caller-supplied split. The split must cover
// known records and sum to the total within 0.01; otherwise the whole
// allocation fails with AllocationMismatch - amounts are never truncated
// or redistributed to make it fit.
func AllocateManual(dues []RecordDue, total decimal.Decimal, parts []ManualAllocation) (AllocationResult, error) {
	if total.IsNegative() {
		return AllocationResult{}, fmt.Errorf("%w: payment amount must not be negative, got %s",
			ErrValidation, total)
	}

	result := AllocationResult{
		Allocations: []Allocation{},
		Unallocated: decimal.Zero,
	}
	if total.IsZero() && len(parts) == 0 {
		return result, nil
	}

	byRecord := make(map[RecordID]RecordDue, len(dues))
	for _, d := range dues {
		byRecord[d.RecordID] = d
	}

	sum := decimal.Zero
	for _, p := range parts {
		if p.Amount.IsNegative() {
			return AllocationResult{}, fmt.Errorf("%w: negative allocation for record %s",
				ErrValidation, p.RecordID)
		}
		sum = sum.Add(p.Amount)
	}
	if sum.Sub(total).Abs().GreaterThan(manualTolerance) {
		return AllocationResult{}, &AllocationMismatchError{Expected: total, Got: sum}
	}

	for _, p := range parts {
		due, ok := byRecord[p.RecordID]
		if !ok {
			return AllocationResult{}, fmt.Errorf("%w: record %s has no outstanding due",
				ErrValidation, p.RecordID)
		}
		if p.Amount.IsZero() {
			continue
		}
		result.Allocations = append(result.Allocations, Allocation{
			RecordID:     due.RecordID,
			RecordNumber: due.RecordNumber,
			Amount:       p.Amount,
			RemainingDue: due.TotalDue.Sub(p.Amount),
		})
	}

	return result, nil
}

// =============================================================================
// PROPORTIONAL SPLIT - rent-weighted with exact conservation
// =============================================================================

// SplitProportional divides total across weights in proportion, rounding
// each share to 2 decimals. Rounding residue goes to the last nonzero
// weight so the shares always sum to total exactly. If every weight is
// zero, the entire total lands on the first share.
func SplitProportional(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 || total.IsZero() {
		for i := range shares {
			shares[i] = decimal.Zero
		}
		return shares
	}

	weightSum := decimal.Zero
	lastNonzero := -1
	for i, w := range weights {
		weightSum = weightSum.Add(w)
		if w.IsPositive() {
			lastNonzero = i
		}
	}

	if lastNonzero == -1 {
		// zero-weight batch: everything to the first share
		shares[0] = total
		for i := 1; i < len(shares); i++ {
			shares[i] = decimal.Zero
		}
		return shares
	}

	assigned := decimal.Zero
	for i, w := range weights {
		if i == lastNonzero {
			continue
		}
		shares[i] = RoundMoney(total.Mul(w).Div(weightSum))
		assigned = assigned.Add(shares[i])
	}
	shares[lastNonzero] = total.Sub(assigned)

	return shares
}
