package billing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/godown/billing-engine/billing"
)

func due(id string, start time.Time, amount string) billing.RecordDue {
	return billing.RecordDue{
		RecordID:     billing.RecordID(id),
		RecordNumber: "R-" + id,
		StorageStart: start,
		TotalDue:     money(amount),
	}
}

func threeDues() []billing.RecordDue {
	return []billing.RecordDue{
		due("b", day(2026, time.February, 1), "3000.00"),
		due("a", day(2026, time.January, 1), "5000.00"),
		due("c", day(2026, time.March, 1), "2000.00"),
	}
}

func sumAllocations(allocs []billing.Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount)
	}
	return total
}

// =============================================================================
// FIFO
// =============================================================================

func TestAllocateFIFOOldestFirst(t *testing.T) {
	// GIVEN dues in arbitrary order and money for two and a half of them
	result, err := billing.AllocateFIFO(threeDues(), money("9000.00"))
	if err != nil {
		t.Fatalf("AllocateFIFO: %v", err)
	}

	// THEN the oldest record absorbs first
	if len(result.Allocations) != 3 {
		t.Fatalf("expected 3 allocations, got %d", len(result.Allocations))
	}
	if result.Allocations[0].RecordID != "a" || !result.Allocations[0].Amount.Equal(money("5000.00")) {
		t.Errorf("first allocation wrong: %+v", result.Allocations[0])
	}
	if result.Allocations[1].RecordID != "b" || !result.Allocations[1].Amount.Equal(money("3000.00")) {
		t.Errorf("second allocation wrong: %+v", result.Allocations[1])
	}
	if result.Allocations[2].RecordID != "c" || !result.Allocations[2].Amount.Equal(money("1000.00")) {
		t.Errorf("third allocation wrong: %+v", result.Allocations[2])
	}
	if !result.Allocations[2].RemainingDue.Equal(money("1000.00")) {
		t.Errorf("remaining due on partial record = %s, want 1000.00", result.Allocations[2].RemainingDue)
	}
	if !result.Unallocated.IsZero() {
		t.Errorf("unallocated = %s, want 0", result.Unallocated)
	}
}

func TestAllocateFIFOOverpayment(t *testing.T) {
	result, err := billing.AllocateFIFO(threeDues(), money("12000.00"))
	if err != nil {
		t.Fatalf("AllocateFIFO: %v", err)
	}
	if !result.Unallocated.Equal(money("2000.00")) {
		t.Errorf("unallocated = %s, want 2000.00", result.Unallocated)
	}
	// Conservation: allocations + unallocated == total.
	if !sumAllocations(result.Allocations).Add(result.Unallocated).Equal(money("12000.00")) {
		t.Error("conservation violated")
	}
}

func TestAllocateFIFOZeroAmount(t *testing.T) {
	result, err := billing.AllocateFIFO(threeDues(), decimal.Zero)
	if err != nil {
		t.Fatalf("zero amount should not error: %v", err)
	}
	if len(result.Allocations) != 0 {
		t.Errorf("zero payment must emit no allocations, got %d", len(result.Allocations))
	}
	if !result.Unallocated.IsZero() {
		t.Errorf("unallocated = %s, want 0", result.Unallocated)
	}
}

func TestAllocateFIFONegativeAmount(t *testing.T) {
	if _, err := billing.AllocateFIFO(threeDues(), money("-1.00")); !errors.Is(err, billing.ErrValidation) {
		t.Fatalf("negative amount should be a validation error, got %v", err)
	}
}

func TestAllocateFIFOSkipsSettledRecords(t *testing.T) {
	dues := []billing.RecordDue{
		due("a", day(2026, time.January, 1), "0.00"),
		due("b", day(2026, time.February, 1), "500.00"),
	}
	result, err := billing.AllocateFIFO(dues, money("300.00"))
	if err != nil {
		t.Fatalf("AllocateFIFO: %v", err)
	}
	if len(result.Allocations) != 1 || result.Allocations[0].RecordID != "b" {
		t.Fatalf("settled record must be skipped: %+v", result.Allocations)
	}
}

// =============================================================================
// MANUAL
// =============================================================================

func TestAllocateManualExactSplit(t *testing.T) {
	parts := []billing.ManualAllocation{
		{RecordID: "c", Amount: money("2000.00")},
		{RecordID: "a", Amount: money("1000.00")},
	}
	result, err := billing.AllocateManual(threeDues(), money("3000.00"), parts)
	if err != nil {
		t.Fatalf("AllocateManual: %v", err)
	}
	if len(result.Allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(result.Allocations))
	}
	// Manual mode honors the caller's order, not FIFO.
	if result.Allocations[0].RecordID != "c" {
		t.Errorf("manual order not preserved: %+v", result.Allocations)
	}
	if !result.Allocations[1].RemainingDue.Equal(money("4000.00")) {
		t.Errorf("remaining due = %s, want 4000.00", result.Allocations[1].RemainingDue)
	}
}

func TestAllocateManualSumMismatch(t *testing.T) {
	parts := []billing.ManualAllocation{
		{RecordID: "a", Amount: money("1000.00")},
		{RecordID: "b", Amount: money("1000.00")},
	}
	_, err := billing.AllocateManual(threeDues(), money("3000.00"), parts)
	var mm *billing.AllocationMismatchError
	if !errors.As(err, &mm) {
		t.Fatalf("expected AllocationMismatchError, got %v", err)
	}
	if !mm.Expected.Equal(money("3000.00")) || !mm.Got.Equal(money("2000.00")) {
		t.Errorf("mismatch detail wrong: %+v", mm)
	}
}

func TestAllocateManualWithinTolerance(t *testing.T) {
	// A one-paisa drift is accepted.
	parts := []billing.ManualAllocation{
		{RecordID: "a", Amount: money("2999.99")},
	}
	if _, err := billing.AllocateManual(threeDues(), money("3000.00"), parts); err != nil {
		t.Fatalf("0.01 drift should be tolerated: %v", err)
	}
}

func TestAllocateManualUnknownRecord(t *testing.T) {
	parts := []billing.ManualAllocation{
		{RecordID: "nope", Amount: money("3000.00")},
	}
	if _, err := billing.AllocateManual(threeDues(), money("3000.00"), parts); !errors.Is(err, billing.ErrValidation) {
		t.Fatalf("unknown record should be a validation error, got %v", err)
	}
}

func TestAllocateManualNegativePart(t *testing.T) {
	parts := []billing.ManualAllocation{
		{RecordID: "a", Amount: money("4000.00")},
		{RecordID: "b", Amount: money("-1000.00")},
	}
	if _, err := billing.AllocateManual(threeDues(), money("3000.00"), parts); !errors.Is(err, billing.ErrValidation) {
		t.Fatalf("negative part should be a validation error, got %v", err)
	}
}

// =============================================================================
// PROPORTIONAL SPLIT
// =============================================================================

func TestSplitProportionalConservesTotal(t *testing.T) {
	// Weights chosen so naive rounding would lose a cent.
	weights := []decimal.Decimal{money("1.00"), money("1.00"), money("1.00")}
	shares := billing.SplitProportional(money("100.00"), weights)

	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s)
	}
	if !total.Equal(money("100.00")) {
		t.Fatalf("shares sum to %s, want 100.00", total)
	}
	if !shares[0].Equal(money("33.33")) || !shares[1].Equal(money("33.33")) {
		t.Errorf("early shares should be rounded down: %v", shares)
	}
	if !shares[2].Equal(money("33.34")) {
		t.Errorf("residue should land on the last nonzero weight, got %s", shares[2])
	}
}

func TestSplitProportionalZeroWeights(t *testing.T) {
	shares := billing.SplitProportional(money("500.00"), []decimal.Decimal{decimal.Zero, decimal.Zero})
	if !shares[0].Equal(money("500.00")) || !shares[1].IsZero() {
		t.Fatalf("zero-weight batch should pay the first share only: %v", shares)
	}
}

func TestSplitProportionalRentWeighted(t *testing.T) {
	weights := []decimal.Decimal{money("6000.00"), money("2000.00")}
	shares := billing.SplitProportional(money("4000.00"), weights)
	if !shares[0].Equal(money("3000.00")) || !shares[1].Equal(money("1000.00")) {
		t.Fatalf("shares = %v, want 3000/1000", shares)
	}
}
