package incidence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgeGroup(t *testing.T) {
	tests := []struct {
		label    string
		lower    int
		midpoint float64
		hasError bool
	}{
		{"00-04", 0, 2.5, false},
		{"0-4", 0, 2.5, false},
		{"15–19", 15, 17.5, false},
		{" 45 - 49 ", 45, 47.5, false},
		{"85+", 85, 87.5, false},
		{"80+", 0, 0, true},
		{"15-20", 0, 0, true},
		{"12-16", 0, 0, true},
		{"abc", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, test := range tests {
		t.Run(test.label, func(t *testing.T) {
			g, err := ParseAgeGroup(test.label)
			if test.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.lower, g.Lower)
			assert.Equal(t, test.midpoint, g.Midpoint())
		})
	}
}

func TestAgeCodeRoundTrip(t *testing.T) {
	for code := 1; code <= 18; code++ {
		g, err := ParseAgeCode(code)
		require.NoError(t, err)
		assert.Equal(t, code, g.Code())

		parsed, err := ParseAgeGroup(g.String())
		require.NoError(t, err)
		assert.Equal(t, g, parsed)
	}
	_, err := ParseAgeCode(19)
	assert.Error(t, err)
	assert.Len(t, StandardAgeGroups(), 18)
}

func band(t *testing.T, lower int) AgeGroup {
	t.Helper()
	g, err := NewAgeGroup(lower)
	require.NoError(t, err)
	return g
}

func TestTableLevelsAndScope(t *testing.T) {
	table := Table{
		{Region: "Eastern Europe", Sex: SexMale, AgeGroup: band(t, 20), Cases: 3, PersonYears: 1000},
		{Region: "Eastern Asia", Sex: SexFemale, AgeGroup: band(t, 25), Cases: 1, PersonYears: 0},
		{Region: "Australia and New Zealand", Sex: SexFemale, AgeGroup: band(t, 30), Cases: 2, PersonYears: math.NaN()},
		{Region: "Eastern Asia", Sex: SexMale, AgeGroup: band(t, 35), Cases: 4, PersonYears: 2000},
	}

	regions, err := table.Levels(VarRegion)
	require.NoError(t, err)
	assert.Equal(t, []string{"Australia and New Zealand", "Eastern Asia", "Eastern Europe"}, regions)

	_, err = table.Levels("period")
	assert.Error(t, err)

	kept, excluded := table.InScope()
	assert.Len(t, kept, 2)
	assert.Equal(t, 2, excluded)
	assert.True(t, math.IsNaN(table[1].CrudeRate()))
	assert.InDelta(t, 0.002, table[3].CrudeRate(), 1e-12)
}

func TestFilterAges(t *testing.T) {
	var table Table
	for _, g := range StandardAgeGroups() {
		table = append(table, Observation{Region: "R", Sex: SexMale, AgeGroup: g, Cases: 1, PersonYears: 1})
	}

	early := table.FilterAges(20, 50)
	require.Len(t, early, 6)
	assert.Equal(t, 20, early[0].AgeGroup.Lower)
	assert.Equal(t, 45, early[len(early)-1].AgeGroup.Lower)

	all := table.FilterAges(0, 0)
	assert.Len(t, all, len(table))

	lo, hi := early.AgeRange()
	assert.Equal(t, 22.5, lo)
	assert.Equal(t, 47.5, hi)
}

func TestAggregateSumsRegistries(t *testing.T) {
	g := band(t, 40)
	table := Table{
		{Registry: "a", Region: "R1", Sex: SexMale, AgeGroup: g, Period: 2010, Cases: 2, PersonYears: 100},
		{Registry: "b", Region: "R1", Sex: SexMale, AgeGroup: g, Period: 2010, Cases: 3, PersonYears: 300},
		{Registry: "c", Region: "R2", Sex: SexMale, AgeGroup: g, Period: 2010, Cases: 1, PersonYears: 50},
	}

	agg := table.Aggregate()
	require.Len(t, agg, 2)
	assert.Equal(t, 5.0, agg[0].Cases)
	assert.Equal(t, 400.0, agg[0].PersonYears)
	assert.Empty(t, agg[0].Registry)

	cases, py := table.Totals()
	assert.Equal(t, 6.0, cases)
	assert.Equal(t, 450.0, py)
}
