package glm

import (
	"encoding/json"
	"math"

	"colonrate/domain/core"
	"colonrate/domain/design"
	apperrors "colonrate/internal/errors"

	"gonum.org/v1/gonum/mat"
)

// Diagnostics summarises goodness of fit of a Poisson rate model
type Diagnostics struct {
	N             int     `json:"n"`
	P             int     `json:"p"`
	LogLikelihood float64 `json:"log_likelihood"`
	Deviance      float64 `json:"deviance"`
	PearsonChi2   float64 `json:"pearson_chi2"`
	AIC           float64 `json:"aic"`
	BIC           float64 `json:"bic"`
	ResidualDF    int     `json:"residual_df"`
	// Dispersion is Pearson chi2 over residual df; values well above 1 signal overdispersion
	Dispersion float64 `json:"dispersion"`
}

// TauSummary describes the posterior of a hierarchical standard deviation
type TauSummary struct {
	Variable string  `json:"variable"`
	Mean     float64 `json:"mean"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	RHat     float64 `json:"rhat"`
}

// PosteriorSummary records how a sampled fit was produced
type PosteriorSummary struct {
	Chains         int          `json:"chains"`
	Draws          int          `json:"draws"`
	Warmup         int          `json:"warmup"`
	Seed           uint64       `json:"seed"`
	AcceptanceRate float64      `json:"acceptance_rate"`
	RHat           []float64    `json:"rhat"`
	Tau            []TauSummary `json:"tau,omitempty"`
}

// Fitted is an immutable fitted rate model. It owns one coefficient per
// design column, the log link and the schema that fixes the reference levels.
type Fitted struct {
	runID           core.RunID
	method          string
	schema          *design.Schema
	coef            []float64
	stdErr          []float64
	lower           []float64
	upper           []float64
	level           float64
	cov             *mat.SymDense
	converged       bool
	iterations      int
	meanLogExposure float64
	diagnostics     Diagnostics
	posterior       *PosteriorSummary
	draws           [][]float64
	dataHash        core.Hash
}

func (f *Fitted) RunID() core.RunID        { return f.runID }
func (f *Fitted) Method() string           { return f.method }
func (f *Fitted) Schema() *design.Schema   { return f.schema }
func (f *Fitted) Converged() bool          { return f.converged }
func (f *Fitted) Iterations() int          { return f.iterations }
func (f *Fitted) Level() float64           { return f.level }
func (f *Fitted) Diagnostics() Diagnostics { return f.diagnostics }
func (f *Fitted) MeanLogExposure() float64 { return f.meanLogExposure }
func (f *Fitted) Coefficients() []float64  { return cloneFloats(f.coef) }
func (f *Fitted) StdErrors() []float64     { return cloneFloats(f.stdErr) }
func (f *Fitted) Link() string             { return "log" }
func (f *Fitted) Family() string           { return "poisson" }
func (f *Fitted) Intercept() float64       { return f.coef[0] }

// DataHash fingerprints the design the model was fitted to
func (f *Fitted) DataHash() core.Hash { return f.dataHash }

// Interval returns the confidence or credible bounds of coefficient j
func (f *Fitted) Interval(j int) (lo, hi float64) { return f.lower[j], f.upper[j] }

// Covariance returns a copy of the coefficient covariance matrix
func (f *Fitted) Covariance() *mat.SymDense {
	return mat.NewSymDense(f.cov.SymmetricDim(), symData(f.cov))
}

// Posterior is nil for maximum-likelihood fits
func (f *Fitted) Posterior() *PosteriorSummary {
	if f.posterior == nil {
		return nil
	}
	cp := *f.posterior
	cp.RHat = cloneFloats(f.posterior.RHat)
	cp.Tau = append([]TauSummary(nil), f.posterior.Tau...)
	return &cp
}

// Draws returns the pooled post-warmup coefficient draws of a sampled fit.
// Draws are not serialized.
func (f *Fitted) Draws() [][]float64 {
	out := make([][]float64, len(f.draws))
	for i, d := range f.draws {
		out[i] = cloneFloats(d)
	}
	return out
}

// Coefficient looks up a coefficient by design column name
func (f *Fitted) Coefficient(name string) (float64, bool) {
	j, ok := f.schema.Index(name)
	if !ok {
		return 0, false
	}
	return f.coef[j], true
}

// LinearPredictor returns x.beta for a row encoded by the fitted schema
func (f *Fitted) LinearPredictor(row []float64) (float64, error) {
	if len(row) != len(f.coef) {
		return 0, apperrors.SchemaMismatch("columns", "row has %d values, model has %d coefficients", len(row), len(f.coef))
	}
	return mat.Dot(mat.NewVecDense(len(row), cloneFloats(row)), mat.NewVecDense(len(f.coef), cloneFloats(f.coef))), nil
}

// LinearPredictorVariance returns x' Cov x for a row encoded by the fitted schema
func (f *Fitted) LinearPredictorVariance(row []float64) (float64, error) {
	if len(row) != len(f.coef) {
		return 0, apperrors.SchemaMismatch("columns", "row has %d values, model has %d coefficients", len(row), len(f.coef))
	}
	x := mat.NewVecDense(len(row), cloneFloats(row))
	return mat.Inner(x, f.cov, x), nil
}

// symData returns the full row-major entries of a symmetric matrix
func symData(s mat.Symmetric) []float64 {
	n := s.SymmetricDim()
	data := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			data = append(data, s.At(i, j))
		}
	}
	return data
}

func cloneFloats(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

type fittedJSON struct {
	RunID           core.RunID        `json:"run_id"`
	Method          string            `json:"method"`
	Family          string            `json:"family"`
	Link            string            `json:"link"`
	Schema          *design.Schema    `json:"schema"`
	Coefficients    []float64         `json:"coefficients"`
	StdErrors       []float64         `json:"std_errors"`
	Lower           []float64         `json:"lower"`
	Upper           []float64         `json:"upper"`
	Level           float64           `json:"level"`
	Covariance      []float64         `json:"covariance"`
	Converged       bool              `json:"converged"`
	Iterations      int               `json:"iterations"`
	MeanLogExposure float64           `json:"mean_log_exposure"`
	Diagnostics     Diagnostics       `json:"diagnostics"`
	Posterior       *PosteriorSummary `json:"posterior,omitempty"`
	DataHash        core.Hash         `json:"data_hash"`
	SchemaHash      core.Hash         `json:"schema_hash"`
}

// MarshalJSON serializes the model for hand-off between pipeline steps
func (f *Fitted) MarshalJSON() ([]byte, error) {
	schemaHash, err := f.schema.Fingerprint()
	if err != nil {
		return nil, err
	}
	return json.Marshal(fittedJSON{
		RunID:           f.runID,
		Method:          f.method,
		Family:          f.Family(),
		Link:            f.Link(),
		Schema:          f.schema,
		Coefficients:    f.coef,
		StdErrors:       f.stdErr,
		Lower:           f.lower,
		Upper:           f.upper,
		Level:           f.level,
		Covariance:      symData(f.cov),
		Converged:       f.converged,
		Iterations:      f.iterations,
		MeanLogExposure: f.meanLogExposure,
		Diagnostics:     f.diagnostics,
		Posterior:       f.posterior,
		DataHash:        f.dataHash,
		SchemaHash:      schemaHash,
	})
}

// UnmarshalJSON restores a model written by MarshalJSON
func (f *Fitted) UnmarshalJSON(data []byte) error {
	var raw fittedJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Schema == nil {
		return apperrors.InvalidInput("fitted model has no schema")
	}
	if !raw.SchemaHash.IsEmpty() {
		got, err := raw.Schema.Fingerprint()
		if err != nil {
			return err
		}
		if !got.Equals(raw.SchemaHash) {
			return apperrors.SchemaMismatch("schema", "schema fingerprint %s does not match stored %s", got.Short(), raw.SchemaHash.Short())
		}
	}
	p := raw.Schema.Width()
	if len(raw.Coefficients) != p || len(raw.StdErrors) != p || len(raw.Lower) != p || len(raw.Upper) != p {
		return apperrors.SchemaMismatch("coefficients", "fitted model vectors do not match %d schema columns", p)
	}
	if len(raw.Covariance) != p*p {
		return apperrors.SchemaMismatch("covariance", "expected %d covariance entries, got %d", p*p, len(raw.Covariance))
	}
	for _, b := range raw.Coefficients {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return apperrors.InvalidInput("fitted model has non-finite coefficients")
		}
	}
	*f = Fitted{
		runID:           raw.RunID,
		method:          raw.Method,
		schema:          raw.Schema,
		coef:            raw.Coefficients,
		stdErr:          raw.StdErrors,
		lower:           raw.Lower,
		upper:           raw.Upper,
		level:           raw.Level,
		cov:             mat.NewSymDense(p, raw.Covariance),
		converged:       raw.Converged,
		iterations:      raw.Iterations,
		meanLogExposure: raw.MeanLogExposure,
		diagnostics:     raw.Diagnostics,
		posterior:       raw.Posterior,
		dataHash:        raw.DataHash,
	}
	return nil
}
