// Package config loads and validates the pipeline configuration.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/modelpipe/internal/dataprep"
	"github.com/banshee-data/modelpipe/internal/dataset"
	"github.com/banshee-data/modelpipe/internal/model"
	"github.com/banshee-data/modelpipe/internal/pipeline"
	"github.com/banshee-data/modelpipe/internal/tracker"
)

// DefaultConfigPath is the checked-in defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// FamilyConfig enables one model family. A nil Space keeps the family's
// built-in search space.
type FamilyConfig struct {
	Name  string           `json:"name" yaml:"name"`
	Space map[string][]any `json:"space,omitempty" yaml:"space,omitempty"`
}

// DataConfig locates the training data. With Raw set the file is a raw
// extract prepared by Recipe; otherwise it is an engineered numeric CSV
// whose Label column holds 0/1.
type DataConfig struct {
	Path   string          `json:"path" yaml:"path"`
	Label  string          `json:"label" yaml:"label"`
	Raw    bool            `json:"raw" yaml:"raw"`
	Recipe dataprep.Recipe `json:"recipe" yaml:"recipe"`
}

// PipelineConfig is the root configuration of one pipeline execution.
type PipelineConfig struct {
	// TrackingURI is an http(s) MLflow server or a local SQLite path.
	TrackingURI   string `json:"tracking_uri" yaml:"tracking_uri"`
	TrackingToken string `json:"tracking_token,omitempty" yaml:"tracking_token,omitempty"`
	ArtifactRoot  string `json:"artifact_root" yaml:"artifact_root"`

	ExperimentName  string `json:"experiment_name" yaml:"experiment_name"`
	ModelName       string `json:"model_name" yaml:"model_name"`
	Stage           string `json:"stage" yaml:"stage"`
	ArchiveExisting bool   `json:"archive_existing" yaml:"archive_existing"`

	Families []FamilyConfig `json:"families" yaml:"families"`

	TestSize            float64 `json:"test_size" yaml:"test_size"`
	Seed                uint64  `json:"seed" yaml:"seed"`
	CVFolds             int     `json:"cv_folds" yaml:"cv_folds"`
	Scoring             string  `json:"scoring" yaml:"scoring"`
	Workers             int     `json:"workers" yaml:"workers"` // 0 = one per CPU
	EarlyStoppingRounds int     `json:"early_stopping_rounds" yaml:"early_stopping_rounds"`
	ValidationFraction  float64 `json:"validation_fraction" yaml:"validation_fraction"`

	Data       DataConfig `json:"data" yaml:"data"`
	ReportPath string     `json:"report_path,omitempty" yaml:"report_path,omitempty"`
}

// DefaultFamilies enables every built-in family with its own search space.
func DefaultFamilies() []FamilyConfig {
	return []FamilyConfig{{Name: model.FamilyLogistic}, {Name: model.FamilyGBDT}}
}

// Default returns the census prediction setup.
func Default() PipelineConfig {
	recipe := dataprep.CensusRecipe()
	return PipelineConfig{
		TrackingURI:         "modelpipe.db",
		ArtifactRoot:        "artifacts",
		ExperimentName:      "census_prediction",
		ModelName:           pipeline.DefaultModelName,
		Stage:               tracker.StageStaging,
		Families:            DefaultFamilies(),
		TestSize:            0.2,
		Seed:                55,
		CVFolds:             5,
		Scoring:             pipeline.ScoringAccuracy,
		EarlyStoppingRounds: 5,
		ValidationFraction:  0.1,
		Data: DataConfig{
			Path:   "data/adult.csv",
			Label:  recipe.Label.Name,
			Raw:    true,
			Recipe: recipe,
		},
	}
}

// Load reads a .json, .yaml or .yml file over Default. Families and the
// data recipe are replaced wholesale when present in the file.
func Load(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, ext == ".json")
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes JSON (isJSON) or YAML over Default without validating.
func Parse(data []byte, isJSON bool) (*PipelineConfig, error) {
	cfg := Default()
	// Decoding into a populated slice reuses its elements, so the
	// collection fields start empty and fall back after decoding.
	cfg.Families = nil
	cfg.Data.Recipe = dataprep.Recipe{}

	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if cfg.Families == nil {
		cfg.Families = DefaultFamilies()
	}
	if cfg.Data.Recipe.Label.Source == "" {
		cfg.Data.Recipe = dataprep.CensusRecipe()
	}
	for i := range cfg.Families {
		space, err := normalizeSpace(cfg.Families[i].Space)
		if err != nil {
			return nil, fmt.Errorf("family %q: %w", cfg.Families[i].Name, err)
		}
		cfg.Families[i].Space = space
	}
	return &cfg, nil
}

// normalizeSpace turns decoder number types into int or float64.
func normalizeSpace(space map[string][]any) (map[string][]any, error) {
	if space == nil {
		return nil, nil
	}
	out := make(map[string][]any, len(space))
	for name, values := range space {
		vs := make([]any, len(values))
		for i, v := range values {
			switch n := v.(type) {
			case json.Number:
				if iv, err := n.Int64(); err == nil && !strings.ContainsAny(n.String(), ".eE") {
					vs[i] = int(iv)
					continue
				}
				f, err := n.Float64()
				if err != nil {
					return nil, fmt.Errorf("param %q: %w", name, err)
				}
				vs[i] = f
			case int64:
				vs[i] = int(n)
			case uint64:
				vs[i] = int(n)
			default:
				vs[i] = v
			}
		}
		out[name] = vs
	}
	return out, nil
}

// Validate checks that the configuration values are valid.
func (c *PipelineConfig) Validate() error {
	if c.TrackingURI == "" {
		return fmt.Errorf("tracking_uri is required")
	}
	if c.ExperimentName == "" {
		return fmt.Errorf("experiment_name is required")
	}
	if c.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	if !tracker.ValidStage(c.Stage) {
		return fmt.Errorf("stage must be one of None, Staging, Production, Archived, got %q", c.Stage)
	}
	if c.TestSize <= 0 || c.TestSize >= 1 {
		return fmt.Errorf("test_size must be between 0 and 1, got %v", c.TestSize)
	}
	if c.ValidationFraction < 0 || c.ValidationFraction >= 1 {
		return fmt.Errorf("validation_fraction must be in [0, 1), got %v", c.ValidationFraction)
	}
	if c.CVFolds < 2 {
		return fmt.Errorf("cv_folds must be at least 2, got %d", c.CVFolds)
	}
	switch c.Scoring {
	case pipeline.ScoringAccuracy, pipeline.ScoringROCAUC:
	default:
		return fmt.Errorf("scoring must be %q or %q, got %q", pipeline.ScoringAccuracy, pipeline.ScoringROCAUC, c.Scoring)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}
	if c.EarlyStoppingRounds < 0 {
		return fmt.Errorf("early_stopping_rounds must be non-negative, got %d", c.EarlyStoppingRounds)
	}
	if c.Data.Path == "" {
		return fmt.Errorf("data.path is required")
	}
	if c.Data.Raw {
		if err := c.Data.Recipe.Validate(); err != nil {
			return fmt.Errorf("data.recipe: %w", err)
		}
	} else if c.Data.Label == "" {
		return fmt.Errorf("data.label is required")
	}
	if _, err := c.Specs(model.DefaultRegistry()); err != nil {
		return err
	}
	return nil
}

// Specs resolves the configured families against reg, applying space
// overrides.
func (c *PipelineConfig) Specs(reg *model.Registry) ([]model.Spec, error) {
	if len(c.Families) == 0 {
		return nil, fmt.Errorf("at least one family is required")
	}
	seen := make(map[string]bool, len(c.Families))
	specs := make([]model.Spec, 0, len(c.Families))
	for _, f := range c.Families {
		if seen[f.Name] {
			return nil, fmt.Errorf("family %q listed twice", f.Name)
		}
		seen[f.Name] = true
		spec, err := reg.Lookup(f.Name)
		if err != nil {
			return nil, err
		}
		if f.Space != nil {
			spec = spec.WithSpace(model.SearchSpace(f.Space))
		}
		if err := spec.Space.Validate(); err != nil {
			return nil, fmt.Errorf("family %q: %w", f.Name, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// TrainerConfig maps the search settings onto the trainer.
func (c *PipelineConfig) TrainerConfig() pipeline.TrainerConfig {
	workers := c.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	return pipeline.TrainerConfig{
		TestSize:            c.TestSize,
		Seed:                c.Seed,
		Folds:               c.CVFolds,
		Scoring:             c.Scoring,
		Workers:             workers,
		EarlyStoppingRounds: c.EarlyStoppingRounds,
		ValidationFraction:  c.ValidationFraction,
	}
}

// Source returns the data source described by Data.
func (c *PipelineConfig) Source() dataset.Source {
	if c.Data.Raw {
		return dataprep.Source{Path: c.Data.Path, Recipe: c.Data.Recipe}
	}
	return dataset.CSVSource{Path: c.Data.Path, Label: c.Data.Label}
}
