package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/DeskPipe/internal/responses"
)

// ResponsesFile is the on-disk phrase list. JSON is a subset of YAML, so the
// same decoder reads both responses.json and responses.yaml.
type ResponsesFile struct {
	Openings []string `yaml:"inicio"`
	Closings []string `yaml:"resposta_fim"`
}

// LoadResponses builds a phrase pool from path. When the file cannot be read
// or parsed the default pool is returned together with the error; a list
// missing from the file keeps its defaults.
func LoadResponses(path string) (*responses.Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return responses.Default(), fmt.Errorf("reading responses file: %w", err)
	}

	var f ResponsesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return responses.Default(), fmt.Errorf("parsing responses file: %w", err)
	}

	openings, closings := f.Openings, f.Closings
	if len(openings) == 0 {
		slog.Warn("config.LoadResponses: no openings in file, using defaults", "path", path)
		openings = responses.DefaultOpenings
	}
	if len(closings) == 0 {
		slog.Warn("config.LoadResponses: no closings in file, using defaults", "path", path)
		closings = responses.DefaultClosings
	}
	slog.Info("config.LoadResponses: responses loaded", "path", path, "openings", len(openings), "closings", len(closings))
	return responses.NewPool(openings, closings), nil
}
