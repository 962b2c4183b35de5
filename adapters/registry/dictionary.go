package registry

import (
	"fmt"
	"sort"

	"colonrate/internal/errors"

	"github.com/sirupsen/logrus"
)

// Registry describes one cancer registry and the region it reports for
type Registry struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// Registries maps registry code to its description
type Registries map[string]Registry

// Regions returns the sorted distinct regions
func (r Registries) Regions() []string {
	seen := map[string]bool{}
	var out []string
	for _, reg := range r {
		if !seen[reg.Region] {
			seen[reg.Region] = true
			out = append(out, reg.Region)
		}
	}
	sort.Strings(out)
	return out
}

// Cancers maps cancer code to its label
type Cancers map[string]string

// LoadRegistries reads a registry dictionary with columns registry, name and region
func LoadRegistries(path string, logger logrus.FieldLogger) (Registries, error) {
	raw, err := readRaw(path, logger)
	if err != nil {
		return nil, err
	}
	if err := raw.require("registry", "region"); err != nil {
		return nil, err
	}

	out := make(Registries, len(raw.rows))
	for i, row := range raw.rows {
		code := row["registry"]
		if code == "" {
			return nil, raw.cellError(i, "registry", "empty registry code")
		}
		if row["region"] == "" {
			return nil, raw.cellError(i, "region", "registry %s has no region", code)
		}
		if _, dup := out[code]; dup {
			return nil, raw.cellError(i, "registry", "duplicate registry code %s", code)
		}
		out[code] = Registry{Code: code, Name: row["name"], Region: row["region"]}
	}
	logger.WithFields(logrus.Fields{"registries": len(out), "regions": len(out.Regions())}).Info("registry dictionary loaded")
	return out, nil
}

// LoadCancers reads a cancer dictionary with columns cancer and label
func LoadCancers(path string, logger logrus.FieldLogger) (Cancers, error) {
	raw, err := readRaw(path, logger)
	if err != nil {
		return nil, err
	}
	if err := raw.require("cancer", "label"); err != nil {
		return nil, err
	}

	out := make(Cancers, len(raw.rows))
	for i, row := range raw.rows {
		if row["cancer"] == "" {
			return nil, raw.cellError(i, "cancer", "empty cancer code")
		}
		out[row["cancer"]] = row["label"]
	}
	return out, nil
}

// Resolve accepts either a cancer code or a case-insensitive label
func (c Cancers) Resolve(codeOrLabel string) (string, error) {
	if _, ok := c[codeOrLabel]; ok {
		return codeOrLabel, nil
	}
	for code, label := range c {
		if equalFold(label, codeOrLabel) {
			return code, nil
		}
	}
	return "", errors.InvalidInput(fmt.Sprintf("unknown cancer %q", codeOrLabel)).WithField("cancer")
}
