package design

import (
	"fmt"
	"math"
	"sort"

	apperrors "colonrate/internal/errors"

	"gonum.org/v1/gonum/stat"
)

// Spline defaults: cubic B-splines with four basis columns once the
// spline-stage intercept is dropped.
const (
	DefaultSplineDF     = 4
	DefaultSplineDegree = 3
)

// SplineBasis is the fixed parameter set of a B-spline age basis. It is
// computed once from the training ages and evaluated verbatim afterwards.
// The first B-spline is dropped: together with the others it sums to one on
// [Lower, Upper], so keeping it would duplicate the intercept.
type SplineBasis struct {
	Variable      string    `json:"variable"`
	Degree        int       `json:"degree"`
	InteriorKnots []float64 `json:"interior_knots"`
	Lower         float64   `json:"lower"`
	Upper         float64   `json:"upper"`
}

// NewSplineBasis places df-degree interior knots at evenly spaced empirical
// quantiles of x and boundary knots at min(x) and max(x).
func NewSplineBasis(variable string, x []float64, df, degree int) (SplineBasis, error) {
	if degree < 1 {
		return SplineBasis{}, apperrors.Configuration(variable, "spline degree must be at least 1, got %d", degree)
	}
	if df < degree {
		return SplineBasis{}, apperrors.Configuration(variable, "spline df %d must be at least the degree %d", df, degree)
	}
	if len(x) == 0 {
		return SplineBasis{}, apperrors.Configuration(variable, "no values to place spline knots")
	}

	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)
	for i, v := range sorted {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return SplineBasis{}, apperrors.Configuration(variable, "non-finite value at sorted position %d", i)
		}
	}

	distinct := 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			distinct++
		}
	}
	// df basis columns plus the intercept need df+1 distinct support points
	if distinct < df+1 {
		return SplineBasis{}, apperrors.Configuration(variable, "%d distinct values cannot support %d spline columns", distinct, df)
	}

	b := SplineBasis{
		Variable: variable,
		Degree:   degree,
		Lower:    sorted[0],
		Upper:    sorted[len(sorted)-1],
	}
	nInner := df - degree
	for j := 1; j <= nInner; j++ {
		p := float64(j) / float64(nInner+1)
		k := stat.Quantile(p, stat.LinInterp, sorted, nil)
		if !(k > b.Lower && k < b.Upper) {
			return SplineBasis{}, apperrors.Configuration(variable, "interior knot %g collapses onto the boundary [%g, %g]", k, b.Lower, b.Upper)
		}
		b.InteriorKnots = append(b.InteriorKnots, k)
	}
	return b, nil
}

// DF is the number of design columns the basis contributes
func (b SplineBasis) DF() int {
	return len(b.InteriorKnots) + b.Degree
}

// Columns returns the design column names, e.g. bs(age)[0]
func (b SplineBasis) Columns() []string {
	names := make([]string, b.DF())
	for i := range names {
		names[i] = fmt.Sprintf("bs(%s)[%d]", b.Variable, i)
	}
	return names
}

func (b SplineBasis) knotVector() []float64 {
	t := make([]float64, 0, 2*(b.Degree+1)+len(b.InteriorKnots))
	for i := 0; i <= b.Degree; i++ {
		t = append(t, b.Lower)
	}
	t = append(t, b.InteriorKnots...)
	for i := 0; i <= b.Degree; i++ {
		t = append(t, b.Upper)
	}
	return t
}

// Contains reports whether x lies within the training range
func (b SplineBasis) Contains(x float64) bool {
	return x >= b.Lower && x <= b.Upper
}

// Evaluate returns the basis values at x with the first B-spline dropped.
// Values outside [Lower, Upper] are refused rather than extrapolated.
func (b SplineBasis) Evaluate(x float64) ([]float64, error) {
	if math.IsNaN(x) || !b.Contains(x) {
		return nil, apperrors.SchemaMismatch(b.Variable, "value %g outside training range [%g, %g]", x, b.Lower, b.Upper)
	}

	t := b.knotVector()
	n := len(t) - b.Degree - 1

	// Cox-de Boor recursion, updated in place from degree 0 upwards
	basis := make([]float64, len(t)-1)
	for i := 0; i < len(t)-1; i++ {
		if t[i] <= x && x < t[i+1] {
			basis[i] = 1
		}
	}
	if x == b.Upper {
		for i := len(t) - 2; i >= 0; i-- {
			if t[i] < t[i+1] {
				basis[i] = 1
				break
			}
		}
	}
	for d := 1; d <= b.Degree; d++ {
		for i := 0; i < len(t)-d-1; i++ {
			var left, right float64
			if den := t[i+d] - t[i]; den > 0 {
				left = (x - t[i]) / den * basis[i]
			}
			if den := t[i+d+1] - t[i+1]; den > 0 {
				right = (t[i+d+1] - x) / den * basis[i+1]
			}
			basis[i] = left + right
		}
	}

	out := make([]float64, n-1)
	copy(out, basis[1:n])
	return out, nil
}
