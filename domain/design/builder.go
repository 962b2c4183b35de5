package design

import (
	"math"

	"colonrate/domain/core"
	"colonrate/domain/incidence"
	apperrors "colonrate/internal/errors"

	"gonum.org/v1/gonum/mat"
)

// Config fixes the shape of the design. It is chosen once, not re-derived per call.
type Config struct {
	SplineDF     int
	SplineDegree int
	// Categoricals lists the treatment-coded variables in column order
	Categoricals []string
}

// DefaultConfig is a cubic spline with four columns, then sex and region
func DefaultConfig() Config {
	return Config{
		SplineDF:     DefaultSplineDF,
		SplineDegree: DefaultSplineDegree,
		Categoricals: []string{incidence.VarSex, incidence.VarRegion},
	}
}

// Matrix is the training design: X with the schema's columns, the case
// counts and the log person-years offset.
type Matrix struct {
	Schema *Schema
	X      *mat.Dense
	Y      []float64
	Offset []float64
}

// Dims returns the number of observations and columns
func (m *Matrix) Dims() (n, p int) {
	return m.X.Dims()
}

// MeanOffset is the mean log person-years of the training rows
func (m *Matrix) MeanOffset() float64 {
	if len(m.Offset) == 0 {
		return 0
	}
	var sum float64
	for _, o := range m.Offset {
		sum += o
	}
	return sum / float64(len(m.Offset))
}

// Fingerprint identifies the training data: X row by row, then Y and Offset
func (m *Matrix) Fingerprint() core.Hash {
	n, _ := m.Dims()
	vectors := make([][]float64, 0, n+2)
	for i := 0; i < n; i++ {
		vectors = append(vectors, m.X.RawRowView(i))
	}
	vectors = append(vectors, m.Y, m.Offset)
	return core.HashFloats(vectors...)
}

// FitSchema derives the spline knots and categorical levels from the table
func FitSchema(table incidence.Table, cfg Config) (*Schema, error) {
	ages := make([]float64, len(table))
	for i, o := range table {
		ages[i] = o.Age()
	}
	spline, err := NewSplineBasis(incidence.VarAge, ages, cfg.SplineDF, cfg.SplineDegree)
	if err != nil {
		return nil, err
	}

	terms := make([]CategoricalTerm, 0, len(cfg.Categoricals))
	for _, variable := range cfg.Categoricals {
		levels, err := table.Levels(variable)
		if err != nil {
			return nil, apperrors.Configuration(variable, "%v", err)
		}
		term, err := NewCategoricalTerm(variable, levels)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return NewSchema(spline, terms...)
}

// Build validates the table, fits the schema and encodes every row
func Build(table incidence.Table, cfg Config) (*Matrix, error) {
	if len(table) == 0 {
		return nil, apperrors.Configuration("observations", "no observations in scope")
	}
	if err := validateRows(table); err != nil {
		return nil, err
	}

	schema, err := FitSchema(table, cfg)
	if err != nil {
		return nil, apperrors.Wrap(err, "fixing design schema")
	}
	return Encode(schema, table)
}

// Encode applies an existing schema to a validated table
func Encode(schema *Schema, table incidence.Table) (*Matrix, error) {
	if err := validateRows(table); err != nil {
		return nil, err
	}

	n, p := len(table), schema.Width()
	x := mat.NewDense(n, p, nil)
	y := make([]float64, n)
	offset := make([]float64, n)

	for i, o := range table {
		levels := make(map[string]string, len(schema.Categoricals))
		for _, c := range schema.Categoricals {
			lvl, err := o.Level(c.Variable)
			if err != nil {
				return nil, apperrors.Configuration(c.Variable, "row %d: %v", i, err)
			}
			levels[c.Variable] = lvl
		}
		row, err := schema.Row(o.Age(), levels)
		if err != nil {
			return nil, apperrors.Wrapf(err, "encoding row %d", i)
		}
		x.SetRow(i, row)
		y[i] = o.Cases
		offset[i] = math.Log(o.PersonYears)
	}

	m := &Matrix{Schema: schema, X: x, Y: y, Offset: offset}
	if err := checkSingleIntercept(m); err != nil {
		return nil, err
	}
	return m, nil
}

func validateRows(table incidence.Table) error {
	for i, o := range table {
		if !o.HasExposure() {
			return apperrors.Configuration("person_years", "row %d (%s, %s, %s) has non-positive person-years %g", i, o.Region, o.Sex, o.AgeGroup, o.PersonYears)
		}
		if o.Cases < 0 || math.IsNaN(o.Cases) || math.IsInf(o.Cases, 0) || o.Cases != math.Trunc(o.Cases) {
			return apperrors.Configuration("cases", "row %d (%s, %s, %s) has invalid case count %g", i, o.Region, o.Sex, o.AgeGroup, o.Cases)
		}
	}
	return nil
}

// ConstantColumns returns the indices of columns whose value never changes
func ConstantColumns(x mat.Matrix) []int {
	n, p := x.Dims()
	var constant []int
	for j := 0; j < p; j++ {
		first := x.At(0, j)
		same := true
		for i := 1; i < n; i++ {
			if x.At(i, j) != first {
				same = false
				break
			}
		}
		if same {
			constant = append(constant, j)
		}
	}
	return constant
}

func checkSingleIntercept(m *Matrix) error {
	constant := ConstantColumns(m.X)
	if len(constant) != 1 || constant[0] != 0 {
		names := m.Schema.ColumnNames()
		found := make([]string, len(constant))
		for i, j := range constant {
			found[i] = names[j]
		}
		return apperrors.Configuration("columns", "design must have exactly one constant column (%s), found %v", InterceptColumn, found)
	}
	return nil
}
