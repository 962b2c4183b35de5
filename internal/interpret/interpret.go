// Package interpret turns fitted coefficients into labelled incidence rate
// ratios and a baseline rate against the documented reference categories.
package interpret

import (
	"fmt"
	"math"
	"strings"

	"colonrate/domain/core"
	"colonrate/domain/design"
	"colonrate/internal/glm"

	"gonum.org/v1/gonum/stat/distuv"
)

// PerHundredThousand converts per person-year rates to the registry reporting unit
const PerHundredThousand = 1e5

// Direction of a contrast relative to its reference level
type Direction string

const (
	Higher       Direction = "higher"
	Lower        Direction = "lower"
	NoDifference Direction = "no different"
)

// DirectionOf derives the direction from the sign of a log rate ratio
func DirectionOf(beta float64) Direction {
	switch {
	case beta > 0:
		return Higher
	case beta < 0:
		return Lower
	}
	return NoDifference
}

// Reference is a dropped categorical level
type Reference struct {
	Variable string `json:"variable"`
	Level    string `json:"level"`
}

// Baseline is the rate of the reference cell: every categorical at its
// reference and age at the lower spline boundary
type Baseline struct {
	LogRate     float64     `json:"log_rate"`
	Rate        float64     `json:"rate"`
	RatePer100k float64     `json:"rate_per_100k"`
	Lower       float64     `json:"lower_per_100k"`
	Upper       float64     `json:"upper_per_100k"`
	Age         float64     `json:"age"`
	References  []Reference `json:"references"`
}

// Describe names the cell the baseline refers to
func (b Baseline) Describe() string {
	parts := make([]string, 0, len(b.References)+1)
	for _, r := range b.References {
		parts = append(parts, fmt.Sprintf("%s=%s", r.Variable, r.Level))
	}
	parts = append(parts, fmt.Sprintf("age=%g (lower spline boundary)", b.Age))
	return strings.Join(parts, ", ")
}

// Term is one reported coefficient
type Term struct {
	Column      string          `json:"column"`
	Label       string          `json:"label"`
	Kind        design.TermKind `json:"kind"`
	Variable    string          `json:"variable,omitempty"`
	Level       string          `json:"level,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Coefficient float64         `json:"coefficient"`
	StdErr      float64         `json:"std_err"`
	Z           float64         `json:"z"`
	PValue      float64         `json:"p_value"`
	IRR         float64         `json:"irr"`
	IRRLower    float64         `json:"irr_lower"`
	IRRUpper    float64         `json:"irr_upper"`
	// PercentChange is (IRR - 1) * 100
	PercentChange float64   `json:"percent_change"`
	Direction     Direction `json:"direction"`
	// Interpretable is false for spline basis coefficients, which only
	// describe the age curve jointly
	Interpretable bool `json:"interpretable"`
}

// Sentence renders a contrast in epidemiological wording
func (t Term) Sentence() string {
	if !t.Interpretable {
		return fmt.Sprintf("%s: not directly interpretable; jointly describes the age curve", t.Label)
	}
	if t.Direction == NoDifference {
		return fmt.Sprintf("%s=%s has the same incidence rate as %s", t.Variable, t.Level, t.Reference)
	}
	return fmt.Sprintf("%s=%s has %.2fx the incidence rate of %s (%.1f%% %s)",
		t.Variable, t.Level, t.IRR, t.Reference, math.Abs(t.PercentChange), t.Direction)
}

// Report is the interpreted view of a fitted model
type Report struct {
	RunID       core.RunID      `json:"run_id"`
	DataHash    core.Hash       `json:"data_hash"`
	Method      string          `json:"method"`
	Level       float64         `json:"level"`
	Baseline    Baseline        `json:"baseline"`
	Intercept   Term            `json:"intercept"`
	Terms       []Term          `json:"terms"`
	Diagnostics glm.Diagnostics `json:"diagnostics"`
}

// Interpret reads the fitted model without modifying it
func Interpret(f *glm.Fitted) Report {
	schema := f.Schema()
	coef := f.Coefficients()
	se := f.StdErrors()

	r := Report{
		RunID:       f.RunID(),
		DataHash:    f.DataHash(),
		Method:      f.Method(),
		Level:       f.Level(),
		Diagnostics: f.Diagnostics(),
	}

	for j, col := range schema.Columns() {
		lo, hi := f.Interval(j)
		t := Term{
			Column:      col.Name,
			Kind:        col.Kind,
			Variable:    col.Variable,
			Level:       col.Level,
			Reference:   col.Reference,
			Coefficient: coef[j],
			StdErr:      se[j],
			IRR:         math.Exp(coef[j]),
			IRRLower:    math.Exp(lo),
			IRRUpper:    math.Exp(hi),
			Direction:   DirectionOf(coef[j]),
		}
		t.PercentChange = (t.IRR - 1) * 100
		if se[j] > 0 {
			t.Z = coef[j] / se[j]
			t.PValue = 2 * distuv.UnitNormal.Survival(math.Abs(t.Z))
		} else {
			t.PValue = math.NaN()
		}

		switch col.Kind {
		case design.KindIntercept:
			t.Label = "baseline log rate"
			r.Intercept = t
			r.Baseline = Baseline{
				LogRate:     coef[j],
				Rate:        t.IRR,
				RatePer100k: t.IRR * PerHundredThousand,
				Lower:       t.IRRLower * PerHundredThousand,
				Upper:       t.IRRUpper * PerHundredThousand,
				Age:         schema.Spline.Lower,
			}
			continue
		case design.KindSpline:
			t.Label = fmt.Sprintf("%s spline basis %d", col.Variable, col.Basis+1)
		case design.KindCategorical:
			t.Label = fmt.Sprintf("%s: %s vs %s", col.Variable, col.Level, col.Reference)
			t.Interpretable = true
		}
		r.Terms = append(r.Terms, t)
	}

	for _, c := range schema.Categoricals {
		r.Baseline.References = append(r.Baseline.References, Reference{Variable: c.Variable, Level: c.Reference})
	}
	return r
}

// Term looks up a reported coefficient by design column name
func (r Report) Term(column string) (Term, bool) {
	for _, t := range r.Terms {
		if t.Column == column {
			return t, true
		}
	}
	return Term{}, false
}

// Contrasts returns only the interpretable categorical terms
func (r Report) Contrasts() []Term {
	var out []Term
	for _, t := range r.Terms {
		if t.Interpretable {
			out = append(out, t)
		}
	}
	return out
}
