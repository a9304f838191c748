package factory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const potatoOnionJSON = `{
  "crops": [
    {
      "commodity": "Potato",
      "hamali_per_bag": "5.00",
      "tiers": [
        {"label": "6m", "up_to_days": 180, "rate_per_bag": "50.00"},
        {"label": "9m", "up_to_days": 270, "rate_per_bag": "75.00"},
        {"label": "1y", "up_to_days": 0, "rate_per_bag": "100.00"}
      ]
    },
    {
      "commodity": "onion",
      "tiers": [
        {"label": "season", "up_to_days": 0, "rate_per_bag": "40.00"}
      ]
    }
  ]
}`

func TestParseRateBook(t *testing.T) {
	// GIVEN a two-crop configuration
	book, err := ParseRateBook([]byte(potatoOnionJSON))
	require.NoError(t, err)

	// WHEN looking up potato with mixed case
	table, err := book.TableFor("POTATO")
	require.NoError(t, err)

	// THEN the three tiers come back in order
	require.Len(t, table.Tiers, 3)
	assert.Equal(t, "6m", table.Tiers[0].Label)
	assert.Equal(t, 180, table.Tiers[0].UpToDays)
	assert.True(t, table.Tiers[2].RatePerBag.Equal(decimal.RequireFromString("100.00")))

	// AND hamali is per-crop with a zero default
	assert.True(t, book.HamaliPerBag("potato").Equal(decimal.RequireFromString("5.00")))
	assert.True(t, book.HamaliPerBag("onion").IsZero())
}

func TestParseRateBookUnknownCommodity(t *testing.T) {
	book, err := ParseRateBook([]byte(potatoOnionJSON))
	require.NoError(t, err)

	_, err = book.TableFor("wheat")
	assert.Error(t, err)
}

func TestParseRateBookValidation(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{
			name: "no crops",
			json: `{"crops": []}`,
		},
		{
			name: "last tier not open-ended",
			json: `{"crops": [{"commodity": "potato", "tiers": [
				{"label": "6m", "up_to_days": 180, "rate_per_bag": "50.00"}
			]}]}`,
		},
		{
			name: "tiers not ascending",
			json: `{"crops": [{"commodity": "potato", "tiers": [
				{"label": "9m", "up_to_days": 270, "rate_per_bag": "75.00"},
				{"label": "6m", "up_to_days": 180, "rate_per_bag": "50.00"},
				{"label": "1y", "up_to_days": 0, "rate_per_bag": "100.00"}
			]}]}`,
		},
		{
			name: "zero rate",
			json: `{"crops": [{"commodity": "potato", "tiers": [
				{"label": "free", "up_to_days": 0, "rate_per_bag": "0"}
			]}]}`,
		},
		{
			name: "duplicate commodity",
			json: `{"crops": [
				{"commodity": "potato", "tiers": [{"label": "1y", "up_to_days": 0, "rate_per_bag": "10"}]},
				{"commodity": "Potato", "tiers": [{"label": "1y", "up_to_days": 0, "rate_per_bag": "20"}]}
			]}`,
		},
		{
			name: "negative hamali",
			json: `{"crops": [{"commodity": "potato", "hamali_per_bag": "-1",
				"tiers": [{"label": "1y", "up_to_days": 0, "rate_per_bag": "10"}]}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRateBook([]byte(tt.json))
			assert.Error(t, err)
		})
	}
}
