package glm

import (
	"context"
	"math"

	"colonrate/domain/core"
	"colonrate/domain/design"
	apperrors "colonrate/internal/errors"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// IRLSConfig bounds the maximum-likelihood iterations
type IRLSConfig struct {
	MaxIter   int
	Tolerance float64
	Level     float64
	// MaxCondition is the largest acceptable condition number of X'WX.
	// Collinear designs, such as a duplicated intercept, exceed it.
	MaxCondition float64
}

// DefaultIRLSConfig returns the iteration budget used by the CLI
func DefaultIRLSConfig() IRLSConfig {
	return IRLSConfig{
		MaxIter:      100,
		Tolerance:    1e-8,
		Level:        DefaultLevel,
		MaxCondition: 1e12,
	}
}

// IRLS fits the rate model by iteratively reweighted least squares
type IRLS struct {
	cfg    IRLSConfig
	logger logrus.FieldLogger
}

// NewIRLS creates a maximum-likelihood fitter. Zero config fields take defaults.
func NewIRLS(cfg IRLSConfig, logger logrus.FieldLogger) *IRLS {
	def := DefaultIRLSConfig()
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = def.MaxIter
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.Level <= 0 || cfg.Level >= 1 {
		cfg.Level = def.Level
	}
	if cfg.MaxCondition <= 0 {
		cfg.MaxCondition = def.MaxCondition
	}
	return &IRLS{cfg: cfg, logger: loggerOrDefault(logger)}
}

// Name returns the strategy name
func (f *IRLS) Name() string {
	return "irls"
}

// Fit runs Fisher scoring until the relative change in deviance drops below the tolerance
func (f *IRLS) Fit(ctx context.Context, m *design.Matrix) (*Fitted, error) {
	if err := validateMatrix(m); err != nil {
		return nil, err
	}
	n, p := m.X.Dims()
	log := f.logger.WithFields(logrus.Fields{"method": f.Name(), "n": n, "p": p})

	var ybar float64
	for _, y := range m.Y {
		ybar += y
	}
	ybar /= float64(n)

	// start from mu = (y + ybar)/2, the usual GLM initialisation
	mu := make([]float64, n)
	eta := make([]float64, n)
	for i, y := range m.Y {
		mu[i] = math.Max((y+ybar)/2, 0.1)
		eta[i] = math.Log(mu[i])
	}

	beta := make([]float64, p)
	dev := deviance(m.Y, mu)
	converged := false
	iter := 0
	for iter = 1; iter <= f.cfg.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(err, "irls fit cancelled")
		}

		// working response without the offset, weights mu
		z := make([]float64, n)
		for i := range z {
			z[i] = eta[i] - m.Offset[i] + (m.Y[i]-mu[i])/mu[i]
		}
		next, _, err := f.weightedSolve(m.X, mu, z)
		if err != nil {
			return nil, apperrors.Wrapf(err, "irls iteration %d", iter)
		}
		if !allFinite(next) {
			return nil, apperrors.Convergence("non-finite coefficients at iteration %d", iter)
		}
		beta = next

		eta = linearPredictor(m.X, beta, m.Offset)
		for i := range mu {
			mu[i] = math.Exp(eta[i])
		}
		nextDev := deviance(m.Y, mu)
		if math.IsNaN(nextDev) || math.IsInf(nextDev, 0) {
			return nil, apperrors.Convergence("non-finite deviance at iteration %d", iter)
		}

		change := math.Abs(nextDev-dev) / (math.Abs(nextDev) + 0.1)
		log.WithFields(logrus.Fields{"iteration": iter, "deviance": nextDev, "change": change}).Debug("irls step")
		dev = nextDev
		if change < f.cfg.Tolerance {
			converged = true
			break
		}
	}
	if !converged {
		return nil, apperrors.Convergence("irls did not converge within %d iterations (deviance %g)", f.cfg.MaxIter, dev)
	}

	_, cov, err := f.weightedSolve(m.X, mu, make([]float64, n))
	if err != nil {
		return nil, apperrors.Wrap(err, "computing coefficient covariance")
	}

	fitted := newWaldFit(f.Name(), m, beta, cov, f.cfg.Level)
	fitted.converged = true
	fitted.iterations = iter

	log.WithFields(logrus.Fields{
		"iterations": iter,
		"deviance":   fitted.diagnostics.Deviance,
		"aic":        fitted.diagnostics.AIC,
		"dispersion": fitted.diagnostics.Dispersion,
	}).Info("rate model fitted")
	return fitted, nil
}

// weightedSolve solves (X'WX) b = X'Wz and returns b and (X'WX)^-1
func (f *IRLS) weightedSolve(x *mat.Dense, w, z []float64) ([]float64, *mat.SymDense, error) {
	n, p := x.Dims()

	sx := mat.DenseCopyOf(x)
	sz := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(w[i])
		row := sx.RawRowView(i)
		for j := range row {
			row[j] *= sw
		}
		sz.SetVec(i, sw*z[i])
	}

	var xtwx mat.SymDense
	xtwx.SymOuterK(1, sx.T())

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtwx); !ok {
		return nil, nil, apperrors.Convergence("X'WX is not positive definite; design columns are collinear")
	}
	if cond := chol.Cond(); cond > f.cfg.MaxCondition || math.IsNaN(cond) {
		return nil, nil, apperrors.Convergence("X'WX is ill-conditioned (condition number %.3g); design columns are collinear", cond)
	}

	var rhs mat.VecDense
	rhs.MulVec(sx.T(), sz)

	var b mat.VecDense
	if err := chol.SolveVecTo(&b, &rhs); err != nil {
		return nil, nil, apperrors.Convergence("solving weighted normal equations: %v", err)
	}

	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, nil, apperrors.Convergence("inverting X'WX: %v", err)
	}

	out := make([]float64, p)
	for j := range out {
		out[j] = b.AtVec(j)
	}
	return out, &inv, nil
}

// newWaldFit assembles a Fitted with normal-approximation intervals
func newWaldFit(method string, m *design.Matrix, beta []float64, cov *mat.SymDense, level float64) *Fitted {
	p := len(beta)
	z := zCritical(level)
	se := make([]float64, p)
	lo := make([]float64, p)
	hi := make([]float64, p)
	for j := 0; j < p; j++ {
		se[j] = math.Sqrt(cov.At(j, j))
		lo[j] = beta[j] - z*se[j]
		hi[j] = beta[j] + z*se[j]
	}
	return &Fitted{
		runID:           core.NewRunID(),
		method:          method,
		schema:          m.Schema,
		coef:            beta,
		stdErr:          se,
		lower:           lo,
		upper:           hi,
		level:           level,
		cov:             cov,
		meanLogExposure: m.MeanOffset(),
		diagnostics:     diagnose(m, beta),
		dataHash:        m.Fingerprint(),
	}
}
