package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"colonrate/internal/errors"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Method names accepted by COLONRATE_METHOD
const (
	MethodIRLS  = "irls"
	MethodBayes = "bayes"
)

// Config represents the complete application configuration
type Config struct {
	Data    DataConfig
	Design  DesignConfig
	Fit     FitConfig
	Sampler SamplerConfig
	Log     LogConfig
}

// DataConfig holds input file locations and row filters
type DataConfig struct {
	DataFile     string
	RegistryFile string
	CancerFile   string
	Cancer       string
	MinAge       int
	MaxAge       int
	// Aggregate sums registries into region cells before fitting
	Aggregate bool
}

// DesignConfig holds spline basis settings
type DesignConfig struct {
	SplineDF     int
	SplineDegree int
}

// FitConfig holds estimation settings shared by both methods
type FitConfig struct {
	Method    string
	MaxIter   int
	Tolerance float64
	Level     float64
}

// SamplerConfig holds Bayesian sampler settings
type SamplerConfig struct {
	Seed         uint64
	Chains       int
	Draws        int
	Warmup       int
	PriorSD      float64
	Hierarchical bool
	MaxRHat      float64
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string
}

// LoadDotEnv loads the given env files, or .env when none is given. Missing
// files are ignored so production environments need not ship one.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Data:    loadDataConfig(),
		Design:  loadDesignConfig(),
		Fit:     loadFitConfig(),
		Sampler: loadSamplerConfig(),
		Log:     LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "info")},
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// Default returns the configuration with every key at its default
func Default() *Config {
	return &Config{
		Data:    DataConfig{MaxAge: 50},
		Design:  DesignConfig{SplineDF: 4, SplineDegree: 3},
		Fit:     FitConfig{Method: MethodIRLS, MaxIter: 100, Tolerance: 1e-8, Level: 0.95},
		Sampler: SamplerConfig{Seed: 42, Chains: 4, Draws: 2000, Warmup: 1000, PriorSD: 10, MaxRHat: 1.1},
		Log:     LogConfig{Level: "info"},
	}
}

func loadDataConfig() DataConfig {
	return DataConfig{
		DataFile:     getEnvOrDefault("COLONRATE_DATA_FILE", ""),
		RegistryFile: getEnvOrDefault("COLONRATE_REGISTRY_FILE", ""),
		CancerFile:   getEnvOrDefault("COLONRATE_CANCER_FILE", ""),
		Cancer:       getEnvOrDefault("COLONRATE_CANCER", ""),
		MinAge:       getEnvIntOrDefault("COLONRATE_MIN_AGE", 0),
		MaxAge:       getEnvIntOrDefault("COLONRATE_MAX_AGE", 50),
		Aggregate:    getEnvBoolOrDefault("COLONRATE_AGGREGATE", false),
	}
}

func loadDesignConfig() DesignConfig {
	return DesignConfig{
		SplineDF:     getEnvIntOrDefault("COLONRATE_SPLINE_DF", 4),
		SplineDegree: getEnvIntOrDefault("COLONRATE_SPLINE_DEGREE", 3),
	}
}

func loadFitConfig() FitConfig {
	return FitConfig{
		Method:    strings.ToLower(getEnvOrDefault("COLONRATE_METHOD", MethodIRLS)),
		MaxIter:   getEnvIntOrDefault("COLONRATE_MAX_ITER", 100),
		Tolerance: getEnvFloatOrDefault("COLONRATE_TOLERANCE", 1e-8),
		Level:     getEnvFloatOrDefault("COLONRATE_LEVEL", 0.95),
	}
}

func loadSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Seed:         uint64(getEnvIntOrDefault("COLONRATE_SEED", 42)),
		Chains:       getEnvIntOrDefault("COLONRATE_CHAINS", 4),
		Draws:        getEnvIntOrDefault("COLONRATE_DRAWS", 2000),
		Warmup:       getEnvIntOrDefault("COLONRATE_WARMUP", 1000),
		PriorSD:      getEnvFloatOrDefault("COLONRATE_PRIOR_SD", 10),
		Hierarchical: getEnvBoolOrDefault("COLONRATE_HIERARCHICAL", false),
		MaxRHat:      getEnvFloatOrDefault("COLONRATE_MAX_RHAT", 1.1),
	}
}

// Validate checks value ranges; it does not check that files exist
func (c *Config) Validate() error {
	switch c.Fit.Method {
	case MethodIRLS, MethodBayes:
	default:
		return errors.ConfigInvalid(fmt.Sprintf("unknown fit method %q (want irls or bayes)", c.Fit.Method))
	}
	if c.Design.SplineDegree < 1 {
		return errors.ConfigInvalid("spline degree must be at least 1")
	}
	if c.Design.SplineDF < c.Design.SplineDegree {
		return errors.ConfigInvalid(fmt.Sprintf("spline df %d is below degree %d", c.Design.SplineDF, c.Design.SplineDegree))
	}
	if c.Fit.MaxIter < 1 {
		return errors.ConfigInvalid("max iterations must be positive")
	}
	if !(c.Fit.Tolerance > 0) {
		return errors.ConfigInvalid("tolerance must be positive")
	}
	if !(c.Fit.Level > 0 && c.Fit.Level < 1) {
		return errors.ConfigInvalid(fmt.Sprintf("interval level %g outside (0, 1)", c.Fit.Level))
	}
	if c.Data.MinAge < 0 || (c.Data.MaxAge > 0 && c.Data.MaxAge <= c.Data.MinAge) {
		return errors.ConfigInvalid(fmt.Sprintf("age filter [%d, %d) is empty", c.Data.MinAge, c.Data.MaxAge))
	}
	if c.Fit.Method == MethodBayes {
		if c.Sampler.Chains < 2 {
			return errors.ConfigInvalid("split R-hat needs at least 2 chains")
		}
		if c.Sampler.Draws < 4 || c.Sampler.Warmup < 0 {
			return errors.ConfigInvalid("sampler needs at least 4 draws and a non-negative warmup")
		}
		if !(c.Sampler.PriorSD > 0) {
			return errors.ConfigInvalid("prior sd must be positive")
		}
		if !(c.Sampler.MaxRHat > 1) {
			return errors.ConfigInvalid("R-hat ceiling must exceed 1")
		}
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.ConfigInvalid(fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
