package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDistanceSuggestion(t *testing.T) {
	cases := map[string]float64{
		"Every 5,000 km":      5000,
		"15,000 - 20,000 km":  15000,
		"40000km":             40000,
		"":                    0,
		"60,000 - 100,000 km": 60000,
	}
	for in, want := range cases {
		got, err := ParseDistanceSuggestion(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	miles, err := ParseDistanceSuggestion("Every 3,000 miles")
	require.NoError(t, err)
	assert.InDelta(t, 4828.03, miles, 0.01)

	_, err = ParseDistanceSuggestion("whenever it feels right")
	assert.Error(t, err)
}

func TestParseTimeSuggestion(t *testing.T) {
	months, err := ParseTimeSuggestion("6 months")
	require.NoError(t, err)
	assert.Equal(t, 6, months)

	months, err = ParseTimeSuggestion("2 years")
	require.NoError(t, err)
	assert.Equal(t, 24, months)

	months, err = ParseTimeSuggestion("")
	require.NoError(t, err)
	assert.Equal(t, 0, months)
}

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	oil, ok := c.Get("oil")
	require.True(t, ok)
	assert.Equal(t, 5000.0, oil.SuggestedDistanceIntervalKm)
	assert.Equal(t, 6, oil.SuggestedTimeIntervalMonths)

	items := c.Items()
	require.NotEmpty(t, items)
	assert.Equal(t, "oil", items[0].ID)
	assert.Len(t, c.IDs(), len(items))
}

func TestParse_RejectsDuplicates(t *testing.T) {
	_, err := Parse([]byte(`
items:
  - id: oil
    name: Oil
    distance: "5000 km"
  - id: oil
    name: Oil again
    distance: "6000 km"
`))
	assert.Error(t, err)
}
