package billing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/godown/billing-engine/billing"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// potatoTable mirrors a typical seasonal config: 6 months, 9 months,
// then an open-ended yearly tier.
func potatoTable() billing.TierTable {
	return billing.TierTable{
		Commodity: "potato",
		Tiers: []billing.RateTier{
			{Label: "6m", UpToDays: 182, RatePerBag: money("50.00")},
			{Label: "9m", UpToDays: 273, RatePerBag: money("75.00")},
			{Label: "1y", UpToDays: 0, RatePerBag: money("100.00")},
		},
	}
}

func openRecord(bags int) *billing.StorageRecord {
	return &billing.StorageRecord{
		ID:           "rec-1",
		CustomerID:   "cust-1",
		Commodity:    "potato",
		RecordNumber: "R-001",
		BagsIn:       bags,
		BagsStored:   bags,
		StorageStart: day(2026, time.January, 1),
	}
}

// =============================================================================
// TIER SELECTION
// =============================================================================

func TestTierSelectBoundaryInclusive(t *testing.T) {
	table := potatoTable()

	// GIVEN elapsed duration exactly at the first tier bound
	tier, err := table.Select(182)
	if err != nil {
		t.Fatalf("Select(182): %v", err)
	}
	// THEN the lower tier still applies
	if tier.Label != "6m" {
		t.Errorf("day 182 should stay in 6m tier, got %s", tier.Label)
	}

	// WHEN one day past the bound
	tier, err = table.Select(183)
	if err != nil {
		t.Fatalf("Select(183): %v", err)
	}
	if tier.Label != "9m" {
		t.Errorf("day 183 should move to 9m tier, got %s", tier.Label)
	}
}

func TestTierSelectOpenEnded(t *testing.T) {
	table := potatoTable()

	tier, err := table.Select(4000)
	if err != nil {
		t.Fatalf("Select(4000): %v", err)
	}
	if tier.Label != "1y" {
		t.Errorf("very long storage should land in the open-ended tier, got %s", tier.Label)
	}
}

func TestElapsedStorageDays(t *testing.T) {
	start := day(2026, time.January, 1)

	if got := billing.ElapsedStorageDays(start, day(2026, time.January, 1)); got != 0 {
		t.Errorf("same-day withdrawal should be 0 elapsed days, got %d", got)
	}
	if got := billing.ElapsedStorageDays(start, day(2026, time.July, 2)); got != 182 {
		t.Errorf("expected 182 elapsed days, got %d", got)
	}
	// Time of day does not matter, only the calendar date.
	lateStart := time.Date(2026, time.January, 1, 23, 0, 0, 0, time.UTC)
	earlyEnd := time.Date(2026, time.January, 2, 1, 0, 0, 0, time.UTC)
	if got := billing.ElapsedStorageDays(lateStart, earlyEnd); got != 1 {
		t.Errorf("day-granularity elapsed should be 1, got %d", got)
	}
}

// =============================================================================
// RENT COMPUTATION
// =============================================================================

func TestComputeRentPerTier(t *testing.T) {
	rec := openRecord(100)
	table := potatoTable()

	tests := []struct {
		name     string
		asOf     time.Time
		bags     int
		wantRent string
		wantTier string
	}{
		{"same day first tier", day(2026, time.January, 1), 10, "500.00", "6m"},
		{"within six months", day(2026, time.June, 1), 40, "2000.00", "6m"},
		{"second tier", day(2026, time.September, 1), 40, "3000.00", "9m"},
		{"open-ended tier", day(2027, time.March, 1), 100, "10000.00", "1y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quote, err := billing.ComputeRent(rec, table, tt.asOf, tt.bags)
			if err != nil {
				t.Fatalf("ComputeRent: %v", err)
			}
			if !quote.Rent.Equal(money(tt.wantRent)) {
				t.Errorf("rent = %s, want %s", quote.Rent, tt.wantRent)
			}
			if quote.Tier != tt.wantTier {
				t.Errorf("tier = %s, want %s", quote.Tier, tt.wantTier)
			}
		})
	}
}

func TestComputeRentZeroBags(t *testing.T) {
	quote, err := billing.ComputeRent(openRecord(100), potatoTable(), day(2026, time.March, 1), 0)
	if err != nil {
		t.Fatalf("zero bags should not error: %v", err)
	}
	if !quote.Rent.IsZero() {
		t.Errorf("zero bags should quote zero rent, got %s", quote.Rent)
	}
	if quote.Tier != "6m" {
		t.Errorf("zero-bag quote should still carry the applicable tier, got %s", quote.Tier)
	}
}

func TestComputeRentOverdraft(t *testing.T) {
	rec := openRecord(30)

	_, err := billing.ComputeRent(rec, potatoTable(), day(2026, time.March, 1), 31)
	var od *billing.OverdraftError
	if !errors.As(err, &od) {
		t.Fatalf("expected OverdraftError, got %v", err)
	}
	if od.BagsStored != 30 || od.Requested != 31 {
		t.Errorf("overdraft detail wrong: %+v", od)
	}
}

func TestComputeRentBeforeStorageStart(t *testing.T) {
	rec := openRecord(30)

	_, err := billing.ComputeRent(rec, potatoTable(), day(2025, time.December, 31), 5)
	var dr *billing.DateRangeError
	if !errors.As(err, &dr) {
		t.Fatalf("expected DateRangeError, got %v", err)
	}
	if !errors.Is(err, billing.ErrValidation) {
		t.Error("DateRangeError should unwrap to ErrValidation")
	}
}

func TestComputeRentNegativeBags(t *testing.T) {
	_, err := billing.ComputeRent(openRecord(30), potatoTable(), day(2026, time.March, 1), -1)
	if !errors.Is(err, billing.ErrValidation) {
		t.Fatalf("negative bags should be a validation error, got %v", err)
	}
}
