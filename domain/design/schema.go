// Package design turns incidence observations into the numeric design matrix
// of the log-linear rate model and fixes the column schema reused at prediction time.
package design

import (
	"encoding/json"
	"fmt"
	"sort"

	"colonrate/domain/core"
	apperrors "colonrate/internal/errors"
)

// InterceptColumn is the name of the single explicit constant column
const InterceptColumn = "const"

// TermKind distinguishes the blocks of the design matrix
type TermKind string

const (
	KindIntercept   TermKind = "intercept"
	KindSpline      TermKind = "spline"
	KindCategorical TermKind = "categorical"
)

// CategoricalTerm is a treatment-coded factor. Levels are sorted and the
// first one is the reference, which gets no column.
type CategoricalTerm struct {
	Variable  string   `json:"variable"`
	Levels    []string `json:"levels"`
	Reference string   `json:"reference"`
}

// NewCategoricalTerm fixes levels and the reference for variable
func NewCategoricalTerm(variable string, levels []string) (CategoricalTerm, error) {
	uniq := make(map[string]bool, len(levels))
	for _, l := range levels {
		uniq[l] = true
	}
	sorted := make([]string, 0, len(uniq))
	for l := range uniq {
		sorted = append(sorted, l)
	}
	sort.Strings(sorted)

	if len(sorted) < 2 {
		return CategoricalTerm{}, apperrors.Configuration(variable,
			"categorical variable has %d distinct level(s) %v, at least 2 are needed for a reference contrast", len(sorted), sorted)
	}
	return CategoricalTerm{Variable: variable, Levels: sorted, Reference: sorted[0]}, nil
}

// Contrasts returns the non-reference levels in column order
func (c CategoricalTerm) Contrasts() []string {
	return c.Levels[1:]
}

// ColumnName is the design column name for a non-reference level
func (c CategoricalTerm) ColumnName(level string) string {
	return fmt.Sprintf("%s[T.%s]", c.Variable, level)
}

// Has reports whether level was seen at training time
func (c CategoricalTerm) Has(level string) bool {
	i := sort.SearchStrings(c.Levels, level)
	return i < len(c.Levels) && c.Levels[i] == level
}

// Column describes one design column so labels never depend on position
type Column struct {
	Name     string   `json:"name"`
	Kind     TermKind `json:"kind"`
	Variable string   `json:"variable,omitempty"`
	// Level is the contrast level of a categorical column
	Level string `json:"level,omitempty"`
	// Reference is the dropped level the contrast is measured against
	Reference string `json:"reference,omitempty"`
	// Basis is the index of a spline column within its basis
	Basis int `json:"basis,omitempty"`
}

// Schema is the ordered column set fixed by the training data:
// intercept, age spline basis, then one block per categorical variable.
type Schema struct {
	Spline       SplineBasis       `json:"spline"`
	Categoricals []CategoricalTerm `json:"categoricals"`

	columns []Column
}

// NewSchema assembles a schema and freezes its column order
func NewSchema(spline SplineBasis, categoricals ...CategoricalTerm) (*Schema, error) {
	seen := map[string]bool{spline.Variable: true}
	for _, c := range categoricals {
		if seen[c.Variable] {
			return nil, apperrors.Configuration(c.Variable, "variable appears in more than one term")
		}
		seen[c.Variable] = true
		if len(c.Levels) < 2 || c.Reference != c.Levels[0] || !sort.StringsAreSorted(c.Levels) {
			return nil, apperrors.Configuration(c.Variable, "categorical term must list at least 2 sorted levels with the first as reference")
		}
	}
	s := &Schema{Spline: spline, Categoricals: categoricals}
	s.columns = s.buildColumns()
	return s, nil
}

func (s *Schema) buildColumns() []Column {
	cols := []Column{{Name: InterceptColumn, Kind: KindIntercept}}
	for i, name := range s.Spline.Columns() {
		cols = append(cols, Column{Name: name, Kind: KindSpline, Variable: s.Spline.Variable, Basis: i})
	}
	for _, c := range s.Categoricals {
		for _, lvl := range c.Contrasts() {
			cols = append(cols, Column{
				Name:      c.ColumnName(lvl),
				Kind:      KindCategorical,
				Variable:  c.Variable,
				Level:     lvl,
				Reference: c.Reference,
			})
		}
	}
	return cols
}

// Columns returns a copy of the column descriptors in design order
func (s *Schema) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// ColumnNames returns the design column names in order
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

// Width is the number of design columns
func (s *Schema) Width() int {
	return len(s.columns)
}

// Index returns the position of a named column
func (s *Schema) Index(name string) (int, bool) {
	for i, c := range s.columns {
		if c.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Categorical looks up the term for variable
func (s *Schema) Categorical(variable string) (CategoricalTerm, bool) {
	for _, c := range s.Categoricals {
		if c.Variable == variable {
			return c, true
		}
	}
	return CategoricalTerm{}, false
}

// References maps each categorical variable to its dropped reference level
func (s *Schema) References() map[string]string {
	refs := make(map[string]string, len(s.Categoricals))
	for _, c := range s.Categoricals {
		refs[c.Variable] = c.Reference
	}
	return refs
}

// Row encodes one covariate assignment with the training column order.
// Categorical variables missing from levels take the reference encoding;
// unknown variables, unknown levels and ages outside the spline range fail
// with a schema mismatch.
func (s *Schema) Row(age float64, levels map[string]string) ([]float64, error) {
	for variable := range levels {
		if _, ok := s.Categorical(variable); !ok {
			return nil, apperrors.SchemaMismatch(variable, "variable is not a categorical term of the training schema")
		}
	}

	row := make([]float64, 0, s.Width())
	row = append(row, 1)

	basis, err := s.Spline.Evaluate(age)
	if err != nil {
		return nil, err
	}
	row = append(row, basis...)

	for _, c := range s.Categoricals {
		level, ok := levels[c.Variable]
		if !ok || level == "" {
			level = c.Reference
		}
		if !c.Has(level) {
			return nil, apperrors.SchemaMismatch(c.Variable, "level %q absent from training levels %v", level, c.Levels)
		}
		for _, contrast := range c.Contrasts() {
			if contrast == level {
				row = append(row, 1)
			} else {
				row = append(row, 0)
			}
		}
	}
	return row, nil
}

type schemaJSON struct {
	Spline       SplineBasis       `json:"spline"`
	Categoricals []CategoricalTerm `json:"categoricals"`
	Columns      []string          `json:"columns"`
}

// MarshalJSON writes the basis parameters, the categorical terms and the
// resolved column names
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(schemaJSON{Spline: s.Spline, Categoricals: s.Categoricals, Columns: s.ColumnNames()})
}

// Fingerprint hashes the serialized schema; equal fingerprints encode rows identically
func (s *Schema) Fingerprint() (core.Hash, error) {
	return core.HashJSON(s)
}

// UnmarshalJSON rebuilds the schema and checks the stored column order still matches
func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw schemaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rebuilt, err := NewSchema(raw.Spline, raw.Categoricals...)
	if err != nil {
		return err
	}
	if raw.Columns != nil {
		names := rebuilt.ColumnNames()
		if len(names) != len(raw.Columns) {
			return apperrors.SchemaMismatch("columns", "stored schema lists %d columns, terms produce %d", len(raw.Columns), len(names))
		}
		for i := range names {
			if names[i] != raw.Columns[i] {
				return apperrors.SchemaMismatch("columns", "stored column %d is %q, terms produce %q", i, raw.Columns[i], names[i])
			}
		}
	}
	*s = *rebuilt
	return nil
}
