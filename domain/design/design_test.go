package design

import (
	"encoding/json"
	"testing"

	"colonrate/domain/incidence"
	apperrors "colonrate/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRegions = []string{"Eastern Europe", "Australia and New Zealand", "Eastern Asia"}

func fixtureTable(t *testing.T) incidence.Table {
	t.Helper()
	var table incidence.Table
	for _, region := range testRegions {
		for _, sex := range []string{incidence.SexMale, incidence.SexFemale} {
			for lower := 20; lower < 45; lower += 5 {
				g, err := incidence.NewAgeGroup(lower)
				require.NoError(t, err)
				table = append(table, incidence.Observation{
					Region:      region,
					Sex:         sex,
					AgeGroup:    g,
					Cases:       float64(lower / 5),
					PersonYears: 1000,
				})
			}
		}
	}
	return table
}

func TestBuildSingleIntercept(t *testing.T) {
	m, err := Build(fixtureTable(t), DefaultConfig())
	require.NoError(t, err)

	constant := ConstantColumns(m.X)
	assert.Equal(t, []int{0}, constant, "only the explicit intercept may be constant")

	names := m.Schema.ColumnNames()
	assert.Equal(t, []string{
		"const",
		"bs(age)[0]", "bs(age)[1]", "bs(age)[2]", "bs(age)[3]",
		"sex[T.Male]",
		"region[T.Eastern Asia]", "region[T.Eastern Europe]",
	}, names)

	n, p := m.Dims()
	assert.Equal(t, 30, n)
	assert.Equal(t, 8, p)
}

func TestBuildDropsOneReferencePerCategorical(t *testing.T) {
	m, err := Build(fixtureTable(t), DefaultConfig())
	require.NoError(t, err)

	refs := m.Schema.References()
	assert.Equal(t, incidence.SexFemale, refs[incidence.VarSex])
	assert.Equal(t, "Australia and New Zealand", refs[incidence.VarRegion])

	counts := map[string]int{}
	for _, c := range m.Schema.Columns() {
		if c.Kind == KindCategorical {
			counts[c.Variable]++
			assert.NotEqual(t, c.Reference, c.Level)
		}
	}
	assert.Equal(t, 1, counts[incidence.VarSex])
	assert.Equal(t, len(testRegions)-1, counts[incidence.VarRegion])
}

func TestBuildOffsetsAndOutcome(t *testing.T) {
	table := fixtureTable(t)
	m, err := Build(table, DefaultConfig())
	require.NoError(t, err)

	for i, o := range table {
		assert.Equal(t, o.Cases, m.Y[i])
		assert.InDelta(t, 6.907755278982137, m.Offset[i], 1e-12)
	}
	assert.InDelta(t, 6.907755278982137, m.MeanOffset(), 1e-12)
}

func TestBuildRejectsDegenerateCategorical(t *testing.T) {
	var table incidence.Table
	for _, o := range fixtureTable(t) {
		if o.Region == "Eastern Asia" {
			table = append(table, o)
		}
	}

	_, err := Build(table, DefaultConfig())
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
	assert.Contains(t, err.Error(), `"region"`)
}

func TestBuildRejectsNonPositiveExposure(t *testing.T) {
	for _, py := range []float64{0, -10} {
		table := fixtureTable(t)
		table[7].PersonYears = py

		_, err := Build(table, DefaultConfig())
		require.Error(t, err)
		assert.True(t, apperrors.IsConfiguration(err))
		assert.Contains(t, err.Error(), "row 7")
		assert.Contains(t, err.Error(), "person_years")
	}
}

func TestBuildRejectsInvalidCases(t *testing.T) {
	table := fixtureTable(t)
	table[3].Cases = 2.5

	_, err := Build(table, DefaultConfig())
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "cases")
}

func TestSplineBasisKnotsAndShape(t *testing.T) {
	ages := []float64{22.5, 27.5, 32.5, 37.5, 42.5}
	b, err := NewSplineBasis("age", ages, 4, 3)
	require.NoError(t, err)

	assert.Equal(t, 4, b.DF())
	require.Len(t, b.InteriorKnots, 1)
	assert.Greater(t, b.InteriorKnots[0], 27.5)
	assert.Less(t, b.InteriorKnots[0], 37.5)
	assert.Equal(t, 22.5, b.Lower)
	assert.Equal(t, 42.5, b.Upper)

	lower, err := b.Evaluate(b.Lower)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0}, lower, "the dropped first B-spline carries the lower boundary")

	upper, err := b.Evaluate(b.Upper)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, upper[3], 1e-12)

	for x := 22.5; x <= 42.5; x += 0.5 {
		v, err := b.Evaluate(x)
		require.NoError(t, err)
		var sum float64
		for _, bi := range v {
			assert.GreaterOrEqual(t, bi, -1e-12)
			sum += bi
		}
		assert.LessOrEqual(t, sum, 1+1e-12)
	}
}

func TestSplineBasisRejectsDegenerateInput(t *testing.T) {
	_, err := NewSplineBasis("age", []float64{20, 20, 25, 25}, 4, 3)
	assert.True(t, apperrors.IsConfiguration(err))

	_, err = NewSplineBasis("age", []float64{20, 25, 30, 35, 40}, 2, 3)
	assert.True(t, apperrors.IsConfiguration(err))

	_, err = NewSplineBasis("age", nil, 4, 3)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestSplineEvaluateOutsideRange(t *testing.T) {
	b, err := NewSplineBasis("age", []float64{20, 25, 30, 35, 40}, 4, 3)
	require.NoError(t, err)

	_, err = b.Evaluate(60)
	require.Error(t, err)
	assert.True(t, apperrors.IsSchemaMismatch(err))
	assert.Contains(t, err.Error(), `"age"`)
}

func TestSchemaRow(t *testing.T) {
	m, err := Build(fixtureTable(t), DefaultConfig())
	require.NoError(t, err)
	s := m.Schema

	ref, err := s.Row(s.Spline.Lower, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0, 0, 0, 0, 0}, ref)

	row, err := s.Row(32.5, map[string]string{incidence.VarSex: incidence.SexMale, incidence.VarRegion: "Eastern Europe"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, row[5])
	assert.Equal(t, 0.0, row[6])
	assert.Equal(t, 1.0, row[7])

	_, err = s.Row(32.5, map[string]string{incidence.VarRegion: "Northern Africa"})
	assert.True(t, apperrors.IsSchemaMismatch(err))

	_, err = s.Row(32.5, map[string]string{"period": "2010"})
	assert.True(t, apperrors.IsSchemaMismatch(err))
}

func TestSchemaJSONPreservesEncoding(t *testing.T) {
	m, err := Build(fixtureTable(t), DefaultConfig())
	require.NoError(t, err)

	data, err := json.Marshal(m.Schema)
	require.NoError(t, err)

	var restored Schema
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, m.Schema.ColumnNames(), restored.ColumnNames())

	before, err := m.Schema.Fingerprint()
	require.NoError(t, err)
	after, err := restored.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	levels := map[string]string{incidence.VarSex: incidence.SexMale, incidence.VarRegion: "Eastern Asia"}
	for _, age := range []float64{22.5, 30, 37.5, 42.5} {
		want, err := m.Schema.Row(age, levels)
		require.NoError(t, err)
		got, err := restored.Row(age, levels)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestSchemaJSONRejectsReorderedColumns(t *testing.T) {
	m, err := Build(fixtureTable(t), DefaultConfig())
	require.NoError(t, err)

	raw := schemaJSON{Spline: m.Schema.Spline, Categoricals: m.Schema.Categoricals, Columns: m.Schema.ColumnNames()}
	raw.Columns[5], raw.Columns[6] = raw.Columns[6], raw.Columns[5]
	data, err := json.Marshal(raw)
	require.NoError(t, err)

	var restored Schema
	err = json.Unmarshal(data, &restored)
	assert.True(t, apperrors.IsSchemaMismatch(err))
}

func TestMatrixFingerprint(t *testing.T) {
	table := fixtureTable(t)
	a, err := Build(table, DefaultConfig())
	require.NoError(t, err)
	b, err := Build(table, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	table[3].Cases++
	c, err := Build(table, DefaultConfig())
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
