package predict

import (
	"context"
	"io"
	"math"
	"testing"

	"colonrate/domain/design"
	"colonrate/domain/incidence"
	apperrors "colonrate/internal/errors"
	"colonrate/internal/glm"
	"colonrate/internal/testkit"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fitSynthetic(t *testing.T) *glm.Fitted {
	t.Helper()
	table := testkit.MustGenerate(testkit.DefaultSyntheticConfig())
	m, err := design.Build(table, design.DefaultConfig())
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	fitted, err := glm.NewIRLS(glm.DefaultIRLSConfig(), logger).Fit(context.Background(), m)
	require.NoError(t, err)
	return fitted
}

func TestReferencePredictionIsBaseline(t *testing.T) {
	fitted := fitSynthetic(t)
	p := New(fitted)

	pred, err := p.Predict(Request{})
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(fitted.Intercept()), pred.Rate, 1e-12)
	assert.Equal(t, fitted.MeanLogExposure(), pred.Offset)

	explicit, err := p.Predict(Request{Sex: "Female", Region: "Australia and New Zealand"})
	require.NoError(t, err)
	assert.InDelta(t, pred.Rate, explicit.Rate, 1e-15)
}

func TestPredictionRatioMatchesIRR(t *testing.T) {
	fitted := fitSynthetic(t)
	p := New(fitted)
	g, err := incidence.NewAgeGroup(30)
	require.NoError(t, err)

	female, err := p.Predict(Request{AgeGroup: &g, Region: "Eastern Europe"})
	require.NoError(t, err)
	male, err := p.Predict(Request{AgeGroup: &g, Sex: "Male", Region: "Eastern Europe"})
	require.NoError(t, err)

	beta, _ := fitted.Coefficient("sex[T.Male]")
	assert.InDelta(t, math.Exp(beta), male.Rate/female.Rate, 1e-9)
	assert.Equal(t, 32.5, male.Age)
	assert.Less(t, male.Lower, male.RatePer100k)
	assert.Greater(t, male.Upper, male.RatePer100k)
}

func TestExposureScalesExpectedCasesOnly(t *testing.T) {
	p := New(fitSynthetic(t))
	py := 5000.0

	pred, err := p.Predict(Request{Sex: "Male", PersonYears: &py})
	require.NoError(t, err)
	assert.InDelta(t, math.Log(py), pred.Offset, 1e-12)
	assert.InDelta(t, pred.Rate*py, pred.ExpectedCases, 1e-9)

	zero := 0.0
	_, err = p.Predict(Request{PersonYears: &zero})
	assert.True(t, apperrors.IsSchemaMismatch(err))
}

func TestUnknownRegionIsSchemaMismatch(t *testing.T) {
	p := New(fitSynthetic(t))

	_, err := p.Predict(Request{Region: "Northern Africa"})
	require.Error(t, err)
	assert.True(t, apperrors.IsSchemaMismatch(err))
	assert.Contains(t, err.Error(), `"region"`)
}

func TestAgeOutsideTrainingRange(t *testing.T) {
	p := New(fitSynthetic(t))

	old, err := incidence.NewAgeGroup(70)
	require.NoError(t, err)
	_, err = p.Predict(Request{AgeGroup: &old})
	assert.True(t, apperrors.IsSchemaMismatch(err))

	young := 5.0
	_, err = p.Predict(Request{Age: &young})
	assert.True(t, apperrors.IsSchemaMismatch(err))

	g, _ := incidence.NewAgeGroup(30)
	other := 40.0
	_, err = p.Predict(Request{AgeGroup: &g, Age: &other})
	assert.True(t, apperrors.IsSchemaMismatch(err))
}

func TestAgeCurve(t *testing.T) {
	p := New(fitSynthetic(t))
	grid := p.AgeGrid(11)
	require.Len(t, grid, 11)
	assert.Equal(t, 22.5, grid[0])
	assert.Equal(t, 42.5, grid[10])

	curve, err := p.AgeCurve("Male", "Eastern Asia", grid)
	require.NoError(t, err)
	require.Len(t, curve, 11)
	// synthetic rates rise with age
	assert.Greater(t, curve[10].Rate, curve[0].Rate)

	again, err := AgeCurve(p.model, "Male", "Eastern Asia", grid)
	require.NoError(t, err)
	assert.Equal(t, curve, again)

	_, err = p.AgeCurve("Male", "Atlantis", grid)
	assert.True(t, apperrors.IsSchemaMismatch(err))
}
