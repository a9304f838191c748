/*
Package factory provides JSON to Go rate configuration conversion.

PURPOSE:
  Converts JSON crop rate definitions into billing.TierTable objects plus
  per-bag hamali rates. This enables rate configuration without code
  changes - the warehouse operator can adjust seasonal rates in JSON, and
  the factory creates the proper Go structs.

WHY JSON?
  - Operators can modify rates without a deploy
  - Easy integration with an admin UI
  - Version control for seasonal rate revisions

JSON SCHEMA:
  {
    "crops": [
      {
        "commodity": "potato",
        "hamali_per_bag": "5.00",
        "tiers": [
          {"label": "6m", "up_to_days": 180, "rate_per_bag": "50.00"},
          {"label": "9m", "up_to_days": 270, "rate_per_bag": "75.00"},
          {"label": "1y", "up_to_days": 0,   "rate_per_bag": "100.00"}
        ]
      }
    ]
  }

KEY FEATURES:
  - Validates tier ordering (strictly ascending day bounds)
  - Requires exactly one open-ended final tier (up_to_days = 0)
  - Rejects non-positive rates and duplicate commodities

USAGE:
  book, err := factory.LoadRateBook("rates.json")
  table, err := book.TableFor("potato")
  hamali := book.HamaliPerBag("potato")

SEE ALSO:
  - billing/rent.go: TierTable and rent computation
  - service/outflow.go: Where the rate book is consumed
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/godown/billing-engine/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RateBookJSON is the JSON representation of the full rate configuration.
type RateBookJSON struct {
	Crops []CropJSON `json:"crops"`
}

// CropJSON configures one commodity's rates.
type CropJSON struct {
	Commodity    string     `json:"commodity"`
	HamaliPerBag string     `json:"hamali_per_bag,omitempty"`
	Tiers        []TierJSON `json:"tiers"`
}

// TierJSON is one time band. UpToDays of 0 marks the open-ended last
// tier.
type TierJSON struct {
	Label      string `json:"label"`
	UpToDays   int    `json:"up_to_days"`
	RatePerBag string `json:"rate_per_bag"`
}

// =============================================================================
// RATE BOOK
// =============================================================================

// RateBook resolves rate tables and hamali rates per commodity. It is
// immutable after construction and safe for concurrent use.
type RateBook struct {
	tables map[string]billing.TierTable
	hamali map[string]decimal.Decimal
}

// TableFor returns the tier table for a commodity. Commodity matching is
// case-insensitive.
func (b *RateBook) TableFor(commodity string) (billing.TierTable, error) {
	table, ok := b.tables[normalizeCommodity(commodity)]
	if !ok {
		return billing.TierTable{}, fmt.Errorf("no rate table configured for commodity %q", commodity)
	}
	return table, nil
}

// HamaliPerBag returns the handling charge per bag for a commodity, or
// zero when none is configured.
func (b *RateBook) HamaliPerBag(commodity string) decimal.Decimal {
	return b.hamali[normalizeCommodity(commodity)]
}

// Commodities lists the configured commodities, for diagnostics.
func (b *RateBook) Commodities() []string {
	out := make([]string, 0, len(b.tables))
	for c := range b.tables {
		out = append(out, c)
	}
	return out
}

func normalizeCommodity(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// =============================================================================
// PARSING
// =============================================================================

// LoadRateBook reads and parses a rate configuration file.
func LoadRateBook(path string) (*RateBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate config: %w", err)
	}
	return ParseRateBook(data)
}

// ParseRateBook builds a RateBook from JSON, validating every crop.
func ParseRateBook(data []byte) (*RateBook, error) {
	var raw RateBookJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse rate config: %w", err)
	}
	if len(raw.Crops) == 0 {
		return nil, fmt.Errorf("rate config defines no crops")
	}

	book := &RateBook{
		tables: make(map[string]billing.TierTable, len(raw.Crops)),
		hamali: make(map[string]decimal.Decimal, len(raw.Crops)),
	}
	for _, crop := range raw.Crops {
		key := normalizeCommodity(crop.Commodity)
		if key == "" {
			return nil, fmt.Errorf("crop with empty commodity name")
		}
		if _, dup := book.tables[key]; dup {
			return nil, fmt.Errorf("commodity %q configured twice", key)
		}

		table, err := buildTierTable(key, crop.Tiers)
		if err != nil {
			return nil, err
		}
		book.tables[key] = table

		hamali := decimal.Zero
		if crop.HamaliPerBag != "" {
			hamali, err = decimal.NewFromString(crop.HamaliPerBag)
			if err != nil {
				return nil, fmt.Errorf("commodity %q: bad hamali_per_bag %q", key, crop.HamaliPerBag)
			}
			if hamali.IsNegative() {
				return nil, fmt.Errorf("commodity %q: hamali_per_bag must not be negative", key)
			}
		}
		book.hamali[key] = hamali
	}
	return book, nil
}

// buildTierTable validates and converts one crop's tier list.
func buildTierTable(commodity string, tiers []TierJSON) (billing.TierTable, error) {
	if len(tiers) == 0 {
		return billing.TierTable{}, fmt.Errorf("commodity %q: no tiers defined", commodity)
	}

	out := billing.TierTable{
		Commodity: commodity,
		Tiers:     make([]billing.RateTier, 0, len(tiers)),
	}
	prevBound := 0
	for i, t := range tiers {
		rate, err := decimal.NewFromString(t.RatePerBag)
		if err != nil {
			return billing.TierTable{}, fmt.Errorf("commodity %q tier %d: bad rate_per_bag %q", commodity, i, t.RatePerBag)
		}
		if !rate.IsPositive() {
			return billing.TierTable{}, fmt.Errorf("commodity %q tier %d: rate_per_bag must be positive", commodity, i)
		}

		last := i == len(tiers)-1
		switch {
		case last && t.UpToDays != 0:
			return billing.TierTable{}, fmt.Errorf("commodity %q: last tier must be open-ended (up_to_days = 0)", commodity)
		case !last && t.UpToDays <= prevBound:
			return billing.TierTable{}, fmt.Errorf("commodity %q tier %d: up_to_days must be strictly ascending", commodity, i)
		}
		if !last {
			prevBound = t.UpToDays
		}

		out.Tiers = append(out.Tiers, billing.RateTier{
			Label:      t.Label,
			UpToDays:   t.UpToDays,
			RatePerBag: rate,
		})
	}
	return out, nil
}
