package registry

import (
	"math"
	"strconv"
	"strings"

	"colonrate/domain/incidence"

	"github.com/sirupsen/logrus"
)

// CI5plus sex codes
const (
	SexCodeMale   = "1"
	SexCodeFemale = "2"
)

// Filter selects rows while loading. Zero values disable a filter.
type Filter struct {
	Cancer string
	MinAge int
	MaxAge int
}

// Loader reads incidence tables and joins registries to regions
type Loader struct {
	registries Registries
	logger     logrus.FieldLogger
}

// NewLoader creates a loader that resolves registry codes through registries
func NewLoader(registries Registries, logger logrus.FieldLogger) *Loader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loader{registries: registries, logger: logger}
}

// Load reads an incidence file with columns registry, sex, age, cases, py and
// optional cancer and year.
func (l *Loader) Load(path string, filter Filter) (incidence.Table, error) {
	raw, err := readRaw(path, l.logger)
	if err != nil {
		return nil, err
	}
	if err := raw.require("registry", "sex", "age", "cases", "py"); err != nil {
		return nil, err
	}
	if filter.Cancer != "" {
		if err := raw.require("cancer"); err != nil {
			return nil, err
		}
	}

	var table incidence.Table
	skipped := 0
	for i, row := range raw.rows {
		if filter.Cancer != "" && row["cancer"] != filter.Cancer {
			skipped++
			continue
		}
		obs, err := l.parseRow(raw, i, row)
		if err != nil {
			return nil, err
		}
		table = append(table, obs)
	}
	if filter.MinAge > 0 || filter.MaxAge > 0 {
		before := len(table)
		table = table.FilterAges(filter.MinAge, filter.MaxAge)
		skipped += before - len(table)
	}

	l.logger.WithFields(logrus.Fields{
		"path":    path,
		"rows":    len(table),
		"skipped": skipped,
		"cancer":  filter.Cancer,
	}).Info("incidence table loaded")
	return table, nil
}

func (l *Loader) parseRow(raw *rawTable, i int, row map[string]string) (incidence.Observation, error) {
	code := row["registry"]
	reg, ok := l.registries[code]
	if !ok {
		return incidence.Observation{}, raw.cellError(i, "registry", "unknown registry code %q", code)
	}

	sex, err := parseSex(row["sex"])
	if err != nil {
		return incidence.Observation{}, raw.cellError(i, "sex", "%v", err)
	}
	age, err := parseAge(row["age"])
	if err != nil {
		return incidence.Observation{}, raw.cellError(i, "age", "%v", err)
	}
	cases, err := parseNumber(row["cases"])
	if err != nil {
		return incidence.Observation{}, raw.cellError(i, "cases", "%v", err)
	}
	py, err := parseNumber(row["py"])
	if err != nil {
		return incidence.Observation{}, raw.cellError(i, "py", "%v", err)
	}

	period, err := parsePeriod(row["year"])
	if err != nil {
		return incidence.Observation{}, raw.cellError(i, "year", "%v", err)
	}

	return incidence.Observation{
		Registry:    code,
		Region:      reg.Region,
		Sex:         sex,
		AgeGroup:    age,
		Period:      period,
		Cases:       cases,
		PersonYears: py,
	}, nil
}

func parseSex(v string) (string, error) {
	switch {
	case v == SexCodeMale || equalFold(v, incidence.SexMale):
		return incidence.SexMale, nil
	case v == SexCodeFemale || equalFold(v, incidence.SexFemale):
		return incidence.SexFemale, nil
	}
	return "", strconvError("sex", v)
}

// parseAge accepts CI5plus age codes or band labels
func parseAge(v string) (incidence.AgeGroup, error) {
	if code, err := strconv.Atoi(v); err == nil {
		return incidence.ParseAgeCode(code)
	}
	return incidence.ParseAgeGroup(v)
}

// parsePeriod takes the first year of a "1998-2002" style period
func parsePeriod(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	first, _, _ := strings.Cut(v, "-")
	year, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, strconvError("year", v)
	}
	return year, nil
}

// parseNumber accepts plain or thousands-separated numbers; NaN is rejected
// here so exposure problems surface with a file location
func parseNumber(v string) (float64, error) {
	x, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	if err != nil {
		return 0, strconvError("number", v)
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, strconvError("finite number", v)
	}
	return x, nil
}

type parseError struct {
	want, got string
}

func (e parseError) Error() string {
	return "cannot parse " + strconv.Quote(e.got) + " as " + e.want
}

func strconvError(want, got string) error {
	return parseError{want: want, got: got}
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
