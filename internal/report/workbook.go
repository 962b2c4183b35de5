package report

import (
	"io"
	"math"

	"colonrate/internal/errors"
	"colonrate/internal/profiling"

	"github.com/xuri/excelize/v2"
)

// Sheet names of the exported workbook
const (
	SheetCoefficients = "Coefficients"
	SheetPredictions  = "Predictions"
	SheetCrudeRates   = "CrudeRates"
)

// Workbook builds an XLSX workbook with one sheet per table
func (d Document) Workbook() (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetCoefficients); err != nil {
		f.Close()
		return nil, err
	}

	m := d.Model
	rows := [][]interface{}{
		{"column", "label", "coefficient", "std_err", "z", "p_value", "irr", "irr_lower", "irr_upper", "direction"},
		{m.Intercept.Column, m.Intercept.Label, m.Intercept.Coefficient, m.Intercept.StdErr,
			m.Intercept.Z, cellFloat(m.Intercept.PValue), m.Intercept.IRR, m.Intercept.IRRLower, m.Intercept.IRRUpper, ""},
	}
	for _, t := range m.Terms {
		direction := string(t.Direction)
		if !t.Interpretable {
			direction = ""
		}
		rows = append(rows, []interface{}{t.Column, t.Label, t.Coefficient, t.StdErr,
			t.Z, cellFloat(t.PValue), t.IRR, t.IRRLower, t.IRRUpper, direction})
	}
	if err := writeRows(f, SheetCoefficients, rows); err != nil {
		f.Close()
		return nil, err
	}

	if len(d.Predictions) > 0 {
		rows = [][]interface{}{{"age", "sex", "region", "rate_per_100k", "lower_per_100k", "upper_per_100k", "offset", "expected_cases"}}
		for _, p := range d.Predictions {
			rows = append(rows, []interface{}{p.Age, orReference(p.Request.Sex), orReference(p.Request.Region),
				p.RatePer100k, p.Lower, p.Upper, p.Offset, p.ExpectedCases})
		}
		if err := writeSheet(f, SheetPredictions, rows); err != nil {
			f.Close()
			return nil, err
		}
	}

	if d.Profile != nil {
		rows = [][]interface{}{{"variable", "level", "cells", "cases", "person_years", "rate_per_100k", "median_cell_rate"}}
		for _, v := range profiling.Variables {
			for _, l := range d.Profile.ByVariable[v] {
				rows = append(rows, []interface{}{l.Variable, l.Level, l.Cells, l.Cases, l.PersonYears, l.RatePer100k, l.Cell.Median})
			}
		}
		if err := writeSheet(f, SheetCrudeRates, rows); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// WriteXLSX streams the workbook to w
func (d Document) WriteXLSX(w io.Writer) error {
	f, err := d.Workbook()
	if err != nil {
		return errors.Wrap(err, "failed to build workbook")
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, "failed to write workbook")
	}
	return nil
}

// SaveXLSX writes the workbook to path
func (d Document) SaveXLSX(path string) error {
	f, err := d.Workbook()
	if err != nil {
		return errors.Wrap(err, "failed to build workbook")
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return errors.Wrapf(err, "failed to save %s", path)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]interface{}) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	return writeRows(f, sheet, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	return nil
}

// cellFloat leaves undefined statistics blank
func cellFloat(x float64) interface{} {
	if math.IsNaN(x) {
		return ""
	}
	return x
}
