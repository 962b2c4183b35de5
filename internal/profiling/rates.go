// Package profiling summarises incidence tables before fitting and checks
// fitted models for overdispersion.
package profiling

import (
	"colonrate/domain/incidence"
	"colonrate/internal/errors"
)

// PerHundredThousand scales a per-person-year rate
const PerHundredThousand = 1e5

// LevelRate is the pooled crude rate of one level of a variable
type LevelRate struct {
	Variable    string  `json:"variable"`
	Level       string  `json:"level"`
	Cells       int     `json:"cells"`
	Cases       float64 `json:"cases"`
	PersonYears float64 `json:"person_years"`
	// RatePer100k pools cases and exposure across cells
	RatePer100k float64 `json:"rate_per_100k"`
	// Cell summarises the unpooled per-cell rates
	Cell Summary `json:"cell"`
}

// Profile is the exploratory view of a table
type Profile struct {
	Rows        int                    `json:"rows"`
	Excluded    int                    `json:"excluded"`
	Cases       float64                `json:"cases"`
	PersonYears float64                `json:"person_years"`
	RatePer100k float64                `json:"rate_per_100k"`
	AgeMin      float64                `json:"age_min"`
	AgeMax      float64                `json:"age_max"`
	Cell        Summary                `json:"cell"`
	ByVariable  map[string][]LevelRate `json:"by_variable"`
}

// Variables profiled by ProfileTable, in report order
var Variables = []string{incidence.VarSex, incidence.VarRegion, incidence.VarAge}

// CrudeRates pools cases and person-years per level of variable. Rows without
// positive exposure are ignored.
func CrudeRates(table incidence.Table, variable string) ([]LevelRate, error) {
	table, _ = table.InScope()
	levels, err := table.Levels(variable)
	if err != nil {
		return nil, err
	}

	out := make([]LevelRate, 0, len(levels))
	for _, level := range levels {
		lr := LevelRate{Variable: variable, Level: level}
		var cellRates []float64
		for _, obs := range table {
			got, err := obs.Level(variable)
			if err != nil {
				return nil, err
			}
			if got != level {
				continue
			}
			lr.Cells++
			lr.Cases += obs.Cases
			lr.PersonYears += obs.PersonYears
			cellRates = append(cellRates, obs.CrudeRate()*PerHundredThousand)
		}
		lr.RatePer100k = lr.Cases / lr.PersonYears * PerHundredThousand
		if lr.Cell, err = Summarize(cellRates); err != nil {
			return nil, errors.Wrapf(err, "summarising %s=%s", variable, level)
		}
		out = append(out, lr)
	}
	return out, nil
}

// ProfileTable computes totals and crude rates by sex, region and age group
func ProfileTable(table incidence.Table) (*Profile, error) {
	inScope, excluded := table.InScope()
	if len(inScope) == 0 {
		return nil, errors.InvalidInput("table has no rows with positive person-years")
	}

	p := &Profile{Rows: len(inScope), Excluded: excluded, ByVariable: map[string][]LevelRate{}}
	p.Cases, p.PersonYears = inScope.Totals()
	p.RatePer100k = p.Cases / p.PersonYears * PerHundredThousand
	p.AgeMin, p.AgeMax = inScope.AgeRange()

	rates := make([]float64, len(inScope))
	for i, obs := range inScope {
		rates[i] = obs.CrudeRate() * PerHundredThousand
	}
	var err error
	if p.Cell, err = Summarize(rates); err != nil {
		return nil, errors.Wrap(err, "summarising cell rates")
	}

	for _, v := range Variables {
		levels, err := CrudeRates(inScope, v)
		if err != nil {
			return nil, err
		}
		p.ByVariable[v] = levels
	}
	return p, nil
}
