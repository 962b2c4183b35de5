// Package incidence holds the registry observation records the rate model is fit to.
package incidence

import (
	"fmt"
	"math"
	"sort"
)

// Variable names shared by the design schema and prediction requests
const (
	VarAge    = "age"
	VarSex    = "sex"
	VarRegion = "region"
)

// Sex labels used after decoding CI5plus sex codes
const (
	SexMale   = "Male"
	SexFemale = "Female"
)

// Observation is one (registry, sex, age group, period) cell of a CI5plus table
type Observation struct {
	Registry    string   `json:"registry,omitempty"`
	Region      string   `json:"region"`
	Sex         string   `json:"sex"`
	AgeGroup    AgeGroup `json:"age_group"`
	Period      int      `json:"period,omitempty"`
	Cases       float64  `json:"cases"`
	PersonYears float64  `json:"person_years"`
}

// Age is the continuous age the spline basis is evaluated at
func (o Observation) Age() float64 {
	return o.AgeGroup.Midpoint()
}

// CrudeRate is cases per person-year, NaN when exposure is missing
func (o Observation) CrudeRate() float64 {
	if !(o.PersonYears > 0) {
		return math.NaN()
	}
	return o.Cases / o.PersonYears
}

// HasExposure reports whether the row can carry a log person-years offset
func (o Observation) HasExposure() bool {
	return o.PersonYears > 0 && !math.IsInf(o.PersonYears, 0)
}

// Level returns the categorical level of the named variable
func (o Observation) Level(variable string) (string, error) {
	switch variable {
	case VarSex:
		return o.Sex, nil
	case VarRegion:
		return o.Region, nil
	case VarAge:
		return o.AgeGroup.String(), nil
	}
	return "", fmt.Errorf("unknown variable %q", variable)
}

// Table is an ordered set of observations
type Table []Observation

// Levels returns the sorted distinct levels of a categorical variable
func (t Table) Levels(variable string) ([]string, error) {
	seen := make(map[string]bool)
	for _, o := range t {
		lvl, err := o.Level(variable)
		if err != nil {
			return nil, err
		}
		seen[lvl] = true
	}
	levels := make([]string, 0, len(seen))
	for lvl := range seen {
		levels = append(levels, lvl)
	}
	sort.Strings(levels)
	return levels, nil
}

// InScope drops rows without positive exposure and returns how many were excluded
func (t Table) InScope() (Table, int) {
	kept := make(Table, 0, len(t))
	for _, o := range t {
		if o.HasExposure() {
			kept = append(kept, o)
		}
	}
	return kept, len(t) - len(kept)
}

// FilterAges keeps rows whose band lies within [minAge, maxAge). A zero maxAge means no upper bound.
func (t Table) FilterAges(minAge, maxAge int) Table {
	kept := make(Table, 0, len(t))
	for _, o := range t {
		if o.AgeGroup.Lower < minAge {
			continue
		}
		if maxAge > 0 && (o.AgeGroup.IsOpen() || o.AgeGroup.Upper >= maxAge) {
			continue
		}
		kept = append(kept, o)
	}
	return kept
}

type cellKey struct {
	region string
	sex    string
	age    AgeGroup
	period int
}

// Aggregate sums cases and person-years across registries within each
// region/sex/age/period cell. Output preserves first-seen cell order.
func (t Table) Aggregate() Table {
	index := make(map[cellKey]int)
	out := make(Table, 0, len(t))
	for _, o := range t {
		k := cellKey{region: o.Region, sex: o.Sex, age: o.AgeGroup, period: o.Period}
		if i, ok := index[k]; ok {
			out[i].Cases += o.Cases
			out[i].PersonYears += o.PersonYears
			continue
		}
		index[k] = len(out)
		agg := o
		agg.Registry = ""
		out = append(out, agg)
	}
	return out
}

// Totals returns summed cases and person-years
func (t Table) Totals() (cases, personYears float64) {
	for _, o := range t {
		cases += o.Cases
		personYears += o.PersonYears
	}
	return cases, personYears
}

// AgeRange returns the minimum and maximum continuous age in the table
func (t Table) AgeRange() (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, o := range t {
		a := o.Age()
		lo = math.Min(lo, a)
		hi = math.Max(hi, a)
	}
	return lo, hi
}
