// Package predict evaluates a fitted rate model on new covariate combinations
// using the training schema verbatim.
package predict

import (
	"math"

	"colonrate/domain/incidence"
	apperrors "colonrate/internal/errors"
	"colonrate/internal/glm"

	"gonum.org/v1/gonum/stat/distuv"
)

// Request is a partial covariate assignment. Omitted categoricals take the
// reference level; omitted age takes the lower spline boundary; omitted
// exposure takes the training mean log person-years.
type Request struct {
	AgeGroup    *incidence.AgeGroup `json:"age_group,omitempty"`
	Age         *float64            `json:"age,omitempty"`
	Sex         string              `json:"sex,omitempty"`
	Region      string              `json:"region,omitempty"`
	PersonYears *float64            `json:"person_years,omitempty"`
}

// Prediction is the model rate for one covariate combination
type Prediction struct {
	Request     Request `json:"request"`
	Age         float64 `json:"age"`
	LogRate     float64 `json:"log_rate"`
	Rate        float64 `json:"rate"`
	RatePer100k float64 `json:"rate_per_100k"`
	// Lower and Upper bound the rate per 100,000 at the model's interval level
	Lower float64 `json:"lower_per_100k"`
	Upper float64 `json:"upper_per_100k"`
	// Offset is the log exposure used for ExpectedCases
	Offset        float64 `json:"offset"`
	ExpectedCases float64 `json:"expected_cases"`
}

// Predictor evaluates requests against one fitted model
type Predictor struct {
	model *glm.Fitted
}

// New wraps a fitted model
func New(model *glm.Fitted) *Predictor {
	return &Predictor{model: model}
}

func (p *Predictor) age(req Request) (float64, error) {
	switch {
	case req.Age != nil && req.AgeGroup != nil:
		if *req.Age != req.AgeGroup.Midpoint() {
			return 0, apperrors.SchemaMismatch(incidence.VarAge, "age %g disagrees with age group %s", *req.Age, req.AgeGroup)
		}
		return *req.Age, nil
	case req.Age != nil:
		return *req.Age, nil
	case req.AgeGroup != nil:
		return req.AgeGroup.Midpoint(), nil
	}
	return p.model.Schema().Spline.Lower, nil
}

// Predict encodes the request with the training column set and returns the
// rate exp(x.beta) together with the expected count at the requested exposure.
func (p *Predictor) Predict(req Request) (Prediction, error) {
	age, err := p.age(req)
	if err != nil {
		return Prediction{}, err
	}

	levels := map[string]string{}
	if req.Sex != "" {
		levels[incidence.VarSex] = req.Sex
	}
	if req.Region != "" {
		levels[incidence.VarRegion] = req.Region
	}
	row, err := p.model.Schema().Row(age, levels)
	if err != nil {
		return Prediction{}, err
	}

	offset := p.model.MeanLogExposure()
	if req.PersonYears != nil {
		py := *req.PersonYears
		if !(py > 0) || math.IsInf(py, 0) {
			return Prediction{}, apperrors.SchemaMismatch("person_years", "exposure must be positive, got %g", py)
		}
		offset = math.Log(py)
	}

	eta, err := p.model.LinearPredictor(row)
	if err != nil {
		return Prediction{}, err
	}
	variance, err := p.model.LinearPredictorVariance(row)
	if err != nil {
		return Prediction{}, err
	}
	z := distuv.UnitNormal.Quantile(1 - (1-p.model.Level())/2)
	half := z * math.Sqrt(math.Max(variance, 0))

	return Prediction{
		Request:       req,
		Age:           age,
		LogRate:       eta,
		Rate:          math.Exp(eta),
		RatePer100k:   math.Exp(eta) * 1e5,
		Lower:         math.Exp(eta-half) * 1e5,
		Upper:         math.Exp(eta+half) * 1e5,
		Offset:        offset,
		ExpectedCases: math.Exp(eta + offset),
	}, nil
}

// PredictAll evaluates requests in order and stops at the first failure
func (p *Predictor) PredictAll(reqs []Request) ([]Prediction, error) {
	out := make([]Prediction, 0, len(reqs))
	for i, req := range reqs {
		pred, err := p.Predict(req)
		if err != nil {
			return nil, apperrors.Wrapf(err, "prediction request %d", i)
		}
		out = append(out, pred)
	}
	return out, nil
}

// AgeCurve evaluates the model along a grid of ages for one sex and region
func (p *Predictor) AgeCurve(sex, region string, ages []float64) ([]Prediction, error) {
	reqs := make([]Request, len(ages))
	for i := range ages {
		age := ages[i]
		reqs[i] = Request{Age: &age, Sex: sex, Region: region}
	}
	return p.PredictAll(reqs)
}

// AgeGrid spans the training age range with n evenly spaced points
func (p *Predictor) AgeGrid(n int) []float64 {
	spline := p.model.Schema().Spline
	if n < 2 {
		return []float64{spline.Lower}
	}
	grid := make([]float64, n)
	step := (spline.Upper - spline.Lower) / float64(n-1)
	for i := range grid {
		grid[i] = spline.Lower + float64(i)*step
	}
	grid[n-1] = spline.Upper
	return grid
}

// AgeCurve is shorthand for New(model).AgeCurve(sex, region, ages)
func AgeCurve(model *glm.Fitted, sex, region string, ages []float64) ([]Prediction, error) {
	return New(model).AgeCurve(sex, region, ages)
}
