package report

import (
	"encoding/json"
	"os"

	"colonrate/internal/errors"
	"colonrate/internal/glm"
)

// SaveModel writes the fitted model as indented JSON
func SaveModel(path string, fitted *glm.Fitted) error {
	data, err := json.MarshalIndent(fitted, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode fitted model")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// LoadModel reads a fitted model written by SaveModel
func LoadModel(path string) (*glm.Fitted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.InvalidInput(err.Error()).WithField("path")
	}
	var fitted glm.Fitted
	if err := json.Unmarshal(data, &fitted); err != nil {
		return nil, errors.Wrapf(err, "failed to decode model %s", path)
	}
	return &fitted, nil
}
