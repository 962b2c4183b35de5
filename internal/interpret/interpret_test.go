package interpret

import (
	"context"
	"io"
	"math"
	"testing"

	"colonrate/domain/design"
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

func TestInterpretLabelsByColumnName(t *testing.T) {
	fitted := fitSynthetic(t)
	report := Interpret(fitted)

	male, ok := report.Term("sex[T.Male]")
	require.True(t, ok)
	assert.Equal(t, "sex: Male vs Female", male.Label)
	assert.Equal(t, "Female", male.Reference)
	assert.True(t, male.Interpretable)
	assert.InDelta(t, 1.2, male.IRR, 0.1)
	assert.Equal(t, Higher, male.Direction)
	assert.Less(t, male.PValue, 0.001)

	asia, ok := report.Term("region[T.Eastern Asia]")
	require.True(t, ok)
	assert.Equal(t, "region: Eastern Asia vs Australia and New Zealand", asia.Label)
	assert.Equal(t, Lower, asia.Direction)
	assert.Less(t, asia.PercentChange, 0.0)

	spline, ok := report.Term("bs(age)[0]")
	require.True(t, ok)
	assert.False(t, spline.Interpretable)
	assert.Equal(t, "age spline basis 1", spline.Label)

	assert.Len(t, report.Terms, fitted.Schema().Width()-1)
	assert.Len(t, report.Contrasts(), 3)
}

func TestInterpretBaseline(t *testing.T) {
	fitted := fitSynthetic(t)
	report := Interpret(fitted)

	assert.InDelta(t, math.Exp(fitted.Intercept()), report.Baseline.Rate, 1e-15)
	assert.InDelta(t, report.Baseline.Rate*1e5, report.Baseline.RatePer100k, 1e-9)
	assert.Less(t, report.Baseline.Lower, report.Baseline.RatePer100k)
	assert.Greater(t, report.Baseline.Upper, report.Baseline.RatePer100k)
	assert.Equal(t, []Reference{
		{Variable: "sex", Level: "Female"},
		{Variable: "region", Level: "Australia and New Zealand"},
	}, report.Baseline.References)
	assert.Equal(t, "sex=Female, region=Australia and New Zealand, age=22.5 (lower spline boundary)", report.Baseline.Describe())
	assert.Equal(t, "baseline log rate", report.Intercept.Label)
}

func TestSignMatchesRateRatioAndDirection(t *testing.T) {
	report := Interpret(fitSynthetic(t))
	for _, term := range report.Terms {
		switch {
		case term.Coefficient > 0:
			assert.Greater(t, term.IRR, 1.0, term.Label)
			assert.Equal(t, Higher, term.Direction, term.Label)
		case term.Coefficient < 0:
			assert.Less(t, term.IRR, 1.0, term.Label)
			assert.Equal(t, Lower, term.Direction, term.Label)
		}
		assert.LessOrEqual(t, term.IRRLower, term.IRR)
		assert.GreaterOrEqual(t, term.IRRUpper, term.IRR)
	}
}

func TestInterpretDoesNotMutateModel(t *testing.T) {
	fitted := fitSynthetic(t)
	before := fitted.Coefficients()
	_ = Interpret(fitted)
	assert.Equal(t, before, fitted.Coefficients())
}

func TestDirectionOf(t *testing.T) {
	assert.Equal(t, Higher, DirectionOf(0.3))
	assert.Equal(t, Lower, DirectionOf(-1e-9))
	assert.Equal(t, NoDifference, DirectionOf(0))
}

func TestSentence(t *testing.T) {
	term := Term{Variable: "sex", Level: "Male", Reference: "Female", IRR: 1.2, PercentChange: 20, Direction: Higher, Interpretable: true}
	assert.Equal(t, "sex=Male has 1.20x the incidence rate of Female (20.0% higher)", term.Sentence())

	spline := Term{Label: "age spline basis 2"}
	assert.Contains(t, spline.Sentence(), "not directly interpretable")
}
