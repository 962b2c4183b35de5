package config

import (
	"os"
	"path/filepath"
	"testing"

	"colonrate/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("COLONRATE_METHOD", "BAYES")
	t.Setenv("COLONRATE_SPLINE_DF", "5")
	t.Setenv("COLONRATE_SEED", "7")
	t.Setenv("COLONRATE_HIERARCHICAL", "true")
	t.Setenv("COLONRATE_MAX_AGE", "40")
	t.Setenv("COLONRATE_TOLERANCE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, MethodBayes, cfg.Fit.Method)
	assert.Equal(t, 5, cfg.Design.SplineDF)
	assert.Equal(t, uint64(7), cfg.Sampler.Seed)
	assert.True(t, cfg.Sampler.Hierarchical)
	assert.Equal(t, 40, cfg.Data.MaxAge)
	// unparseable values fall back to the default
	assert.Equal(t, 1e-8, cfg.Fit.Tolerance)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown method", func(c *Config) { c.Fit.Method = "newton" }},
		{"df below degree", func(c *Config) { c.Design.SplineDF = 2 }},
		{"zero degree", func(c *Config) { c.Design.SplineDegree = 0 }},
		{"empty age filter", func(c *Config) { c.Data.MinAge, c.Data.MaxAge = 50, 40 }},
		{"level out of range", func(c *Config) { c.Fit.Level = 1 }},
		{"single chain", func(c *Config) { c.Fit.Method = MethodBayes; c.Sampler.Chains = 1 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("COLONRATE_CHAINS=3\n"), 0o644))
	t.Setenv("COLONRATE_CHAINS", "")
	os.Unsetenv("COLONRATE_CHAINS")

	LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env"))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Sampler.Chains)
}
