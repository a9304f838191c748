/*
rent.go - Time-tiered rent computation

PURPOSE:
  Computes rent owed for withdrawing bags from a storage record. Rent is
  bags x per-bag rate, where the rate comes from a duration tier: the longer
  the bags sat in the warehouse, the higher the tier. Tier thresholds come
  from crop configuration, never from code.

TIER SELECTION POLICY:
  Tiers carry an inclusive upper bound in days. Elapsed duration of exactly
  UpToDays still selects that tier, so with a 182-day first tier a
  withdrawal on day 182 pays the 6-month rate. The last tier is open-ended
  (UpToDays == 0) and catches everything beyond the previous bound.

PURITY:
  ComputeRent has no side effects and is deterministic for identical
  inputs. It never touches the record it is given.

SEE ALSO:
  - factory/ratetable.go: Builds TierTable values from JSON crop config
  - impact.go: Applies the computed rent to the record
*/
package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE TIERS
// =============================================================================

// RateTier is one duration band of a crop's rate table.
type RateTier struct {
	Label      string          // billing cycle label, e.g. "6m", "1y"
	UpToDays   int             // inclusive upper bound; 0 marks the open-ended last tier
	RatePerBag decimal.Decimal // rent per bag while in this tier
}

// TierTable is the full duration->rate policy for one commodity.
// Tiers must be sorted ascending by UpToDays with exactly one open-ended
// tier at the end; factory.ParseRateBook enforces this.
type TierTable struct {
	Commodity string
	Tiers     []RateTier
}

// Select returns the tier covering the given elapsed duration.
// The upper bound is inclusive: elapsedDays == UpToDays selects that tier.
func (t TierTable) Select(elapsedDays int) (RateTier, error) {
	for _, tier := range t.Tiers {
		if tier.UpToDays == 0 || elapsedDays <= tier.UpToDays {
			return tier, nil
		}
	}
	return RateTier{}, fmt.Errorf("%w: no tier covers %d days for %s",
		ErrValidation, elapsedDays, t.Commodity)
}

// =============================================================================
// RENT CALCULATOR
// =============================================================================

// RentQuote is the output of a rent computation.
type RentQuote struct {
	Rent decimal.Decimal // total rent for the quoted bags, rounded to 2 decimals
	Rate decimal.Decimal // per-bag rate applied
	Tier string          // tier label, becomes the record's billing cycle
}

// ElapsedStorageDays returns whole days between the storage start and asOf.
// A same-day withdrawal is 0 elapsed days and lands in the first tier.
func ElapsedStorageDays(start, asOf time.Time) int {
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	asOfDay := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	return int(asOfDay.Sub(startDay) / (24 * time.Hour))
}

// ComputeRent quotes rent for withdrawing bags from the record as of the
// given date.
//
// Errors:
//   - asOf before the storage start: DateRangeError (validation)
//   - bags exceeding BagsStored: OverdraftError
//
// Zero bags is not an error; the quote carries zero rent with the tier
// that would have applied.
func ComputeRent(rec *StorageRecord, table TierTable, asOf time.Time, bags int) (RentQuote, error) {
	if bags < 0 {
		return RentQuote{}, fmt.Errorf("%w: negative bag quantity %d", ErrValidation, bags)
	}
	if asOf.Before(rec.StorageStart) && ElapsedStorageDays(rec.StorageStart, asOf) < 0 {
		return RentQuote{}, &DateRangeError{StorageStart: rec.StorageStart, AsOf: asOf}
	}
	if bags > rec.BagsStored {
		return RentQuote{}, &OverdraftError{
			RecordID:   rec.ID,
			BagsStored: rec.BagsStored,
			Requested:  bags,
		}
	}

	tier, err := table.Select(ElapsedStorageDays(rec.StorageStart, asOf))
	if err != nil {
		return RentQuote{}, err
	}

	rent := RoundMoney(tier.RatePerBag.Mul(decimal.NewFromInt(int64(bags))))
	return RentQuote{
		Rent: rent,
		Rate: tier.RatePerBag,
		Tier: tier.Label,
	}, nil
}
