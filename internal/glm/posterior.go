package glm

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"

	"colonrate/domain/design"
	apperrors "colonrate/internal/errors"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
)

// PosteriorConfig controls the Metropolis sampler
type PosteriorConfig struct {
	Chains int
	Draws  int
	Warmup int
	Seed   uint64
	// PriorSD is the scale of the N(0, PriorSD^2) prior on non-intercept coefficients
	PriorSD float64
	// InterceptPriorSD is the scale of the intercept prior
	InterceptPriorSD float64
	// Hierarchical lists categorical variables whose contrasts share a
	// N(0, tau^2) prior, with a half-normal(TauScale) prior on tau.
	Hierarchical []string
	TauScale     float64
	MaxRHat      float64
	Level        float64
}

// DefaultPosteriorConfig returns four chains of 2000 draws after 1000 warmup steps
func DefaultPosteriorConfig() PosteriorConfig {
	return PosteriorConfig{
		Chains:           4,
		Draws:            2000,
		Warmup:           1000,
		Seed:             42,
		PriorSD:          10,
		InterceptPriorSD: 100,
		TauScale:         1,
		MaxRHat:          1.1,
		Level:            DefaultLevel,
	}
}

// Posterior samples the coefficient posterior with random-walk Metropolis.
// Proposals are multivariate normal, shaped by the maximum-likelihood covariance.
type Posterior struct {
	cfg    PosteriorConfig
	mle    *IRLS
	logger logrus.FieldLogger
}

// NewPosterior creates a sampling fitter. The IRLS config seeds the starting
// point and the proposal covariance.
func NewPosterior(cfg PosteriorConfig, irls IRLSConfig, logger logrus.FieldLogger) *Posterior {
	def := DefaultPosteriorConfig()
	if cfg.Chains <= 0 {
		cfg.Chains = def.Chains
	}
	if cfg.Draws <= 0 {
		cfg.Draws = def.Draws
	}
	if cfg.Warmup < 0 {
		cfg.Warmup = 0
	}
	if cfg.PriorSD <= 0 {
		cfg.PriorSD = def.PriorSD
	}
	if cfg.InterceptPriorSD <= 0 {
		cfg.InterceptPriorSD = def.InterceptPriorSD
	}
	if cfg.TauScale <= 0 {
		cfg.TauScale = def.TauScale
	}
	if cfg.MaxRHat <= 1 {
		cfg.MaxRHat = def.MaxRHat
	}
	if cfg.Level <= 0 || cfg.Level >= 1 {
		cfg.Level = def.Level
	}
	logger = loggerOrDefault(logger)
	return &Posterior{cfg: cfg, mle: NewIRLS(irls, logger), logger: logger}
}

// Name returns the strategy name
func (f *Posterior) Name() string {
	if len(f.cfg.Hierarchical) > 0 {
		return "bayes-hierarchical"
	}
	return "bayes"
}

// target is the log posterior over beta followed by one log tau per hierarchical group
type target struct {
	m         *design.Matrix
	p         int
	priorSD   []float64
	groups    [][]int
	tauScale  float64
	groupVars []string
}

func (t *target) logDensity(theta []float64) float64 {
	beta := theta[:t.p]
	eta := linearPredictor(t.m.X, beta, t.m.Offset)
	lp := logLikelihoodKernel(t.m.Y, eta)

	inGroup := make(map[int]bool)
	for g, cols := range t.groups {
		u := theta[t.p+g]
		tau := math.Exp(u)
		// half-normal prior on tau plus the log-Jacobian of u = log tau
		lp += -tau*tau/(2*t.tauScale*t.tauScale) + u
		for _, j := range cols {
			inGroup[j] = true
			lp += -u - beta[j]*beta[j]/(2*tau*tau)
		}
	}
	for j, b := range beta {
		if inGroup[j] {
			continue
		}
		lp += -b * b / (2 * t.priorSD[j] * t.priorSD[j])
	}
	return lp
}

func (f *Posterior) newTarget(m *design.Matrix) (*target, error) {
	_, p := m.X.Dims()
	t := &target{m: m, p: p, priorSD: make([]float64, p), tauScale: f.cfg.TauScale}
	t.priorSD[0] = f.cfg.InterceptPriorSD
	for j := 1; j < p; j++ {
		t.priorSD[j] = f.cfg.PriorSD
	}

	cols := m.Schema.Columns()
	for _, variable := range f.cfg.Hierarchical {
		if _, ok := m.Schema.Categorical(variable); !ok {
			return nil, apperrors.Configuration(variable, "hierarchical prior requested for a variable that is not a categorical term")
		}
		var group []int
		for j, c := range cols {
			if c.Kind == design.KindCategorical && c.Variable == variable {
				group = append(group, j)
			}
		}
		t.groups = append(t.groups, group)
		t.groupVars = append(t.groupVars, variable)
	}
	return t, nil
}

// Fit draws Chains independent chains seeded from Seed, so identical inputs
// give identical posteriors.
func (f *Posterior) Fit(ctx context.Context, m *design.Matrix) (*Fitted, error) {
	mode, err := f.mle.Fit(ctx, m)
	if err != nil {
		return nil, apperrors.Wrap(err, "locating posterior mode")
	}
	tgt, err := f.newTarget(m)
	if err != nil {
		return nil, err
	}

	p := tgt.p
	d := p + len(tgt.groups)
	log := f.logger.WithFields(logrus.Fields{"method": f.Name(), "chains": f.cfg.Chains, "draws": f.cfg.Draws, "dim": d})

	start := make([]float64, d)
	copy(start, mode.coef)
	for g, cols := range tgt.groups {
		var ss float64
		for _, j := range cols {
			ss += mode.coef[j] * mode.coef[j]
		}
		start[p+g] = math.Log(math.Max(math.Sqrt(ss/float64(len(cols))), 0.1))
	}

	// proposal covariance: MLE covariance for beta, fixed variance for log tau
	scale := 2.38 * 2.38 / float64(d)
	base := mat.NewSymDense(d, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			base.SetSym(i, j, scale*mode.cov.At(i, j))
		}
	}
	for g := range tgt.groups {
		base.SetSym(p+g, p+g, scale*0.25)
	}

	chains := make([][][]float64, f.cfg.Chains)
	var accepted, proposed int
	for c := 0; c < f.cfg.Chains; c++ {
		src := rand.NewPCG(f.cfg.Seed, uint64(c)+1)
		draws, acc, err := f.runChain(ctx, tgt, start, base, src)
		if err != nil {
			return nil, err
		}
		chains[c] = draws
		accepted += acc
		proposed += f.cfg.Draws
		log.WithFields(logrus.Fields{"chain": c, "acceptance": float64(acc) / float64(f.cfg.Draws)}).Debug("chain finished")
	}
	if accepted == 0 {
		return nil, apperrors.Convergence("posterior sampler accepted no proposals")
	}

	rhat := make([]float64, d)
	for k := 0; k < d; k++ {
		rhat[k] = splitRHat(chains, k)
		if math.IsNaN(rhat[k]) || rhat[k] > f.cfg.MaxRHat {
			return nil, apperrors.Convergence("parameter %d has split R-hat %.3f above %.3f", k, rhat[k], f.cfg.MaxRHat).WithField(paramName(m.Schema, tgt, k))
		}
	}

	fitted, err := f.summarise(m, tgt, chains)
	if err != nil {
		return nil, err
	}
	fitted.converged = true
	fitted.iterations = f.cfg.Chains * (f.cfg.Warmup + f.cfg.Draws)
	fitted.posterior = &PosteriorSummary{
		Chains:         f.cfg.Chains,
		Draws:          f.cfg.Draws,
		Warmup:         f.cfg.Warmup,
		Seed:           f.cfg.Seed,
		AcceptanceRate: float64(accepted) / float64(proposed),
		RHat:           rhat[:p],
		Tau:            f.summariseTau(tgt, chains, rhat),
	}

	log.WithFields(logrus.Fields{
		"acceptance": fitted.posterior.AcceptanceRate,
		"max_rhat":   maxFloat(rhat),
	}).Info("posterior sampled")
	return fitted, nil
}

// runChain runs warmup with proposal scale adaptation, then records Draws states
func (f *Posterior) runChain(ctx context.Context, tgt *target, start []float64, base *mat.SymDense, src rand.Source) ([][]float64, int, error) {
	d := len(start)
	proposal, ok := distmv.NewNormal(make([]float64, d), base, src)
	if !ok {
		return nil, 0, apperrors.Convergence("proposal covariance is not positive definite")
	}
	uniform := rand.New(src)

	current := make([]float64, d)
	copy(current, start)
	currentLP := tgt.logDensity(current)
	if math.IsNaN(currentLP) || math.IsInf(currentLP, 0) {
		return nil, 0, apperrors.Convergence("log posterior is not finite at the starting point")
	}

	lambda := 1.0
	step := make([]float64, d)
	next := make([]float64, d)
	draws := make([][]float64, 0, f.cfg.Draws)
	var accepted, windowAccepted int

	total := f.cfg.Warmup + f.cfg.Draws
	for it := 0; it < total; it++ {
		if it%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, apperrors.Wrap(err, "posterior sampling cancelled")
			}
		}

		proposal.Rand(step)
		sl := math.Sqrt(lambda)
		for k := range next {
			next[k] = current[k] + sl*step[k]
		}
		nextLP := tgt.logDensity(next)
		ok := !math.IsNaN(nextLP) && math.Log(uniform.Float64()) < nextLP-currentLP
		if ok {
			copy(current, next)
			currentLP = nextLP
		}

		if it < f.cfg.Warmup {
			if ok {
				windowAccepted++
			}
			if (it+1)%100 == 0 {
				rate := float64(windowAccepted) / 100
				switch {
				case rate < 0.15:
					lambda *= 0.7
				case rate > 0.40:
					lambda *= 1.3
				}
				windowAccepted = 0
			}
			continue
		}
		if ok {
			accepted++
		}
		draw := make([]float64, d)
		copy(draw, current)
		draws = append(draws, draw)
	}
	return draws, accepted, nil
}

func (f *Posterior) summarise(m *design.Matrix, tgt *target, chains [][][]float64) (*Fitted, error) {
	p := tgt.p
	var pooled [][]float64
	for _, c := range chains {
		for _, draw := range c {
			pooled = append(pooled, draw[:p:p])
		}
	}

	flat := mat.NewDense(len(pooled), p, nil)
	for i, draw := range pooled {
		flat.SetRow(i, draw)
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, flat, nil)

	alpha := (1 - f.cfg.Level) / 2
	mean := make([]float64, p)
	sd := make([]float64, p)
	lo := make([]float64, p)
	hi := make([]float64, p)
	col := make([]float64, len(pooled))
	for j := 0; j < p; j++ {
		mat.Col(col, j, flat)
		mean[j], sd[j] = stat.MeanStdDev(col, nil)
		sort.Float64s(col)
		lo[j] = stat.Quantile(alpha, stat.Empirical, col, nil)
		hi[j] = stat.Quantile(1-alpha, stat.Empirical, col, nil)
	}
	if !allFinite(mean) {
		return nil, apperrors.Convergence("posterior mean has non-finite coefficients")
	}

	fitted := newWaldFit(f.Name(), m, mean, &cov, f.cfg.Level)
	fitted.stdErr = sd
	fitted.lower = lo
	fitted.upper = hi
	fitted.draws = pooled
	return fitted, nil
}

func (f *Posterior) summariseTau(tgt *target, chains [][][]float64, rhat []float64) []TauSummary {
	if len(tgt.groups) == 0 {
		return nil
	}
	alpha := (1 - f.cfg.Level) / 2
	out := make([]TauSummary, len(tgt.groups))
	for g, variable := range tgt.groupVars {
		var tau []float64
		for _, c := range chains {
			for _, draw := range c {
				tau = append(tau, math.Exp(draw[tgt.p+g]))
			}
		}
		sort.Float64s(tau)
		out[g] = TauSummary{
			Variable: variable,
			Mean:     stat.Mean(tau, nil),
			Lower:    stat.Quantile(alpha, stat.Empirical, tau, nil),
			Upper:    stat.Quantile(1-alpha, stat.Empirical, tau, nil),
			RHat:     rhat[tgt.p+g],
		}
	}
	return out
}

// splitRHat is the Gelman-Rubin statistic over chains split in half
func splitRHat(chains [][][]float64, k int) float64 {
	var halves [][]float64
	for _, c := range chains {
		h := len(c) / 2
		if h < 2 {
			return math.NaN()
		}
		first := make([]float64, h)
		second := make([]float64, h)
		for i := 0; i < h; i++ {
			first[i] = c[i][k]
			second[i] = c[h+i][k]
		}
		halves = append(halves, first, second)
	}

	n := float64(len(halves[0]))
	means := make([]float64, len(halves))
	var w float64
	for i, h := range halves {
		means[i] = stat.Mean(h, nil)
		w += stat.Variance(h, nil)
	}
	w /= float64(len(halves))
	if w == 0 {
		return math.NaN()
	}
	b := n * stat.Variance(means, nil)
	varHat := (n-1)/n*w + b/n
	return math.Sqrt(varHat / w)
}

func paramName(schema *design.Schema, tgt *target, k int) string {
	if k < tgt.p {
		return schema.ColumnNames()[k]
	}
	return "tau(" + tgt.groupVars[k-tgt.p] + ")"
}

func maxFloat(v []float64) float64 {
	out := math.Inf(-1)
	for _, x := range v {
		out = math.Max(out, x)
	}
	return out
}
