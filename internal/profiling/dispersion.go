package profiling

import (
	"colonrate/internal/glm"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultOverdispersion is the Pearson chi2 / df ratio above which a Poisson
// fit is flagged
const DefaultOverdispersion = 1.5

// DispersionCheck is a goodness-of-fit summary of a Poisson fit
type DispersionCheck struct {
	PearsonChi2 float64 `json:"pearson_chi2"`
	Deviance    float64 `json:"deviance"`
	ResidualDF  int     `json:"residual_df"`
	Ratio       float64 `json:"ratio"`
	// PearsonP and DevianceP are upper-tail chi2 probabilities on ResidualDF
	PearsonP      float64 `json:"pearson_p"`
	DevianceP     float64 `json:"deviance_p"`
	Overdispersed bool    `json:"overdispersed"`
}

// CheckDispersion flags overdispersion when the Pearson ratio exceeds threshold.
// A non-positive threshold uses DefaultOverdispersion.
func CheckDispersion(d glm.Diagnostics, threshold float64) DispersionCheck {
	if threshold <= 0 {
		threshold = DefaultOverdispersion
	}
	c := DispersionCheck{
		PearsonChi2: d.PearsonChi2,
		Deviance:    d.Deviance,
		ResidualDF:  d.ResidualDF,
		PearsonP:    1,
		DevianceP:   1,
	}
	if d.ResidualDF <= 0 {
		return c
	}
	chi := distuv.ChiSquared{K: float64(d.ResidualDF)}
	c.Ratio = d.PearsonChi2 / float64(d.ResidualDF)
	c.PearsonP = chi.Survival(d.PearsonChi2)
	c.DevianceP = chi.Survival(d.Deviance)
	c.Overdispersed = c.Ratio > threshold
	return c
}
