// Package glm fits the log-linear Poisson rate model
//
//	log E[cases_i] = (X beta)_i + log(person_years_i)
//
// either by maximum likelihood (IRLS) or by posterior sampling. Both
// strategies satisfy Fitter and produce the same immutable Fitted model.
package glm

import (
	"context"
	"math"

	"colonrate/domain/design"
	apperrors "colonrate/internal/errors"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultLevel is the coverage of reported intervals
const DefaultLevel = 0.95

// maxEta bounds the linear predictor before exponentiation
const maxEta = 700

// Fitter is a rate model fitting strategy
type Fitter interface {
	Name() string
	Fit(ctx context.Context, m *design.Matrix) (*Fitted, error)
}

func loggerOrDefault(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger == nil {
		return logrus.StandardLogger()
	}
	return logger
}

// validateMatrix checks dimensions and values before any iteration starts
func validateMatrix(m *design.Matrix) error {
	if m == nil || m.X == nil || m.Schema == nil {
		return apperrors.Configuration("design", "design matrix is empty")
	}
	n, p := m.X.Dims()
	if p != m.Schema.Width() {
		return apperrors.Configuration("columns", "matrix has %d columns, schema has %d", p, m.Schema.Width())
	}
	if n < p {
		return apperrors.Configuration("observations", "%d observations cannot identify %d coefficients", n, p)
	}
	if len(m.Y) != n || len(m.Offset) != n {
		return apperrors.Configuration("observations", "outcome (%d) and offset (%d) must both have %d rows", len(m.Y), len(m.Offset), n)
	}
	for i := 0; i < n; i++ {
		if y := m.Y[i]; y < 0 || math.IsNaN(y) || math.IsInf(y, 0) {
			return apperrors.Configuration("cases", "row %d has invalid case count %g", i, y)
		}
		if o := m.Offset[i]; math.IsNaN(o) || math.IsInf(o, 0) {
			return apperrors.Configuration("person_years", "row %d has non-finite log person-years offset", i)
		}
	}
	return nil
}

// linearPredictor returns eta = X beta + offset, clamped to keep exp finite
func linearPredictor(x mat.Matrix, beta []float64, offset []float64) []float64 {
	n, p := x.Dims()
	var xb mat.VecDense
	xb.MulVec(x, mat.NewVecDense(p, beta))
	eta := make([]float64, n)
	for i := range eta {
		eta[i] = math.Min(xb.AtVec(i)+offset[i], maxEta)
	}
	return eta
}

// logLikelihoodKernel is sum(y*eta - exp(eta)), the Poisson log-likelihood without log(y!)
func logLikelihoodKernel(y, eta []float64) float64 {
	var ll float64
	for i := range y {
		ll += y[i]*eta[i] - math.Exp(eta[i])
	}
	return ll
}

// deviance is 2 * sum(y log(y/mu) - (y - mu))
func deviance(y, mu []float64) float64 {
	var d float64
	for i := range y {
		if y[i] > 0 {
			d += y[i]*math.Log(y[i]/mu[i]) - (y[i] - mu[i])
		} else {
			d += mu[i]
		}
	}
	return 2 * d
}

func diagnose(m *design.Matrix, beta []float64) Diagnostics {
	n, p := m.X.Dims()
	eta := linearPredictor(m.X, beta, m.Offset)

	d := Diagnostics{N: n, P: p, ResidualDF: n - p}
	mu := make([]float64, n)
	for i := range eta {
		mu[i] = math.Exp(eta[i])
		d.LogLikelihood += distuv.Poisson{Lambda: mu[i]}.LogProb(m.Y[i])
		r := m.Y[i] - mu[i]
		d.PearsonChi2 += r * r / mu[i]
	}
	d.Deviance = deviance(m.Y, mu)
	d.AIC = -2*d.LogLikelihood + 2*float64(p)
	d.BIC = -2*d.LogLikelihood + math.Log(float64(n))*float64(p)
	if d.ResidualDF > 0 {
		d.Dispersion = d.PearsonChi2 / float64(d.ResidualDF)
	}
	return d
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// zCritical is the two-sided normal quantile for coverage level
func zCritical(level float64) float64 {
	return distuv.UnitNormal.Quantile(1 - (1-level)/2)
}
