// Package registry loads CI5plus-style incidence tables and their
// registry and cancer dictionaries from CSV or XLSX files.
package registry

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"colonrate/internal/errors"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// Sheet is the XLSX sheet read when present; otherwise the first sheet is used
const Sheet = "Sheet1"

// rawTable is a header row plus data rows keyed by lower-cased header
type rawTable struct {
	path    string
	headers []string
	rows    []map[string]string
}

// readRaw reads a CSV or XLSX file into a rawTable
func readRaw(path string, logger logrus.FieldLogger) (*rawTable, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("input file not found: %s", path)).WithField("path")
	}

	start := time.Now()
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSX(path)
	case ".csv":
		rows, err = readCSV(path, ',')
	case ".tsv", ".txt":
		rows, err = readCSV(path, '\t')
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unsupported file type: %s", path)).WithField("path")
	}
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"path":    path,
		"rows":    len(rows),
		"elapsed": time.Since(start).String(),
	}).Debug("table read")

	if len(rows) < 2 {
		return nil, errors.InvalidInput(fmt.Sprintf("%s must have a header row and at least one data row", path))
	}
	return processRows(path, rows), nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	sheet := Sheet
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.InvalidInput(fmt.Sprintf("%s has no sheets", path))
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sheet %s of %s", sheet, path)
	}
	return rows, nil
}

func readCSV(path string, comma rune) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return rows, nil
}

func processRows(path string, rows [][]string) *rawTable {
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	out := &rawTable{path: path, headers: headers}
	for _, row := range rows[1:] {
		blank := true
		data := make(map[string]string, len(headers))
		for j, cell := range row {
			if j < len(headers) {
				data[headers[j]] = strings.TrimSpace(cell)
				if data[headers[j]] != "" {
					blank = false
				}
			}
		}
		if !blank {
			out.rows = append(out.rows, data)
		}
	}
	return out
}

// require checks that every named column is present
func (t *rawTable) require(columns ...string) error {
	have := make(map[string]bool, len(t.headers))
	for _, h := range t.headers {
		have[h] = true
	}
	for _, c := range columns {
		if !have[c] {
			return errors.InvalidInput(fmt.Sprintf("%s: missing column %q (have %v)", t.path, c, t.headers)).WithField(c)
		}
	}
	return nil
}

// cellError names the file, the 1-based line (header is line 1) and the column
func (t *rawTable) cellError(row int, column, format string, args ...interface{}) error {
	msg := fmt.Sprintf("%s line %d: %s", t.path, row+2, fmt.Sprintf(format, args...))
	return errors.InvalidInput(msg).WithField(column)
}
