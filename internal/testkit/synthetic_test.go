package testkit

import (
	"testing"

	"colonrate/domain/incidence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShape(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	table, err := Generate(cfg)
	require.NoError(t, err)

	assert.Len(t, table, cfg.Replicates*3*2*5)

	regions, err := table.Levels(incidence.VarRegion)
	require.NoError(t, err)
	assert.Equal(t, cfg.Regions(), regions)

	for _, o := range table {
		assert.Equal(t, 1000.0, o.PersonYears)
		assert.GreaterOrEqual(t, o.Cases, 0.0)
	}
}

func TestGenerateIsSeeded(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	a := MustGenerate(cfg)
	b := MustGenerate(cfg)
	assert.Equal(t, a, b)

	cfg.Seed = 7
	c := MustGenerate(cfg)
	assert.NotEqual(t, a, c)
}

func TestGenerateTracksTrueRates(t *testing.T) {
	cfg := DefaultSyntheticConfig()
	cfg.Replicates = 50
	table := MustGenerate(cfg)

	var male, female float64
	for _, o := range table {
		if o.Sex == incidence.SexMale {
			male += o.Cases
		} else {
			female += o.Cases
		}
	}
	assert.InDelta(t, cfg.MaleIRR, male/female, 0.05)
}

func TestGenerateRejectsEmptyConfig(t *testing.T) {
	_, err := Generate(SyntheticConfig{})
	assert.Error(t, err)
}
