package scoring

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/onnwee/genetarget/internal/errkind"
)

// weightTolerance is how far the weight sum may drift from 1.0.
const weightTolerance = 1e-6

// Weights are the per-component weights of the composite score.
type Weights struct {
	Literature        float64 `json:"literature"`
	CRISPRDependency  float64 `json:"crispr_dependency"`
	MutationFrequency float64 `json:"mutation_frequency"`
}

// DefaultWeights returns the default weighting.
//
// composite = (literature*0.3 + |crispr|*0.4 + mutation*0.3) / (sum of weights present)
//   - CRISPR dependency carries the most weight: it is direct functional evidence
//   - Literature and mutation frequency split the rest evenly
func DefaultWeights() Weights {
	return Weights{
		Literature:        0.3,
		CRISPRDependency:  0.4,
		MutationFrequency: 0.3,
	}
}

// Validate checks that weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"literature":         w.Literature,
		"crispr_dependency":  w.CRISPRDependency,
		"mutation_frequency": w.MutationFrequency,
	} {
		if v < 0 || math.IsNaN(v) {
			return errkind.New(errkind.ConfigError, "validate weights", fmt.Sprintf("weight %s must be non-negative, got %v", name, v))
		}
	}
	sum := w.Literature + w.CRISPRDependency + w.MutationFrequency
	if math.Abs(sum-1) > weightTolerance {
		return errkind.New(errkind.ConfigError, "validate weights", fmt.Sprintf("weights must sum to 1.0, got %v", sum))
	}
	return nil
}

// Caps are the evidence levels at which an evidence-derived component
// saturates at 1.0.
type Caps struct {
	LiteratureTotal float64 `json:"literature_total"`
	MutationCount   float64 `json:"mutation_count"`
	CancerCount     float64 `json:"cancer_count"`
}

// DefaultCaps returns the default saturation points.
func DefaultCaps() Caps {
	return Caps{LiteratureTotal: 10, MutationCount: 5, CancerCount: 3}
}

// Validate rejects non-positive caps.
func (c Caps) Validate() error {
	for name, v := range map[string]float64{
		"literature_total": c.LiteratureTotal,
		"mutation_count":   c.MutationCount,
		"cancer_count":     c.CancerCount,
	} {
		if !(v > 0) {
			return errkind.New(errkind.ConfigError, "validate caps", fmt.Sprintf("cap %s must be positive, got %v", name, v))
		}
	}
	return nil
}

// CalibrationConfig is the JSON layout of a calibration file. Absent fields
// keep their defaults; a present zero is an explicit zero.
type CalibrationConfig struct {
	Version string `json:"version"`
	Weights struct {
		Literature        *float64 `json:"literature"`
		CRISPRDependency  *float64 `json:"crispr_dependency"`
		MutationFrequency *float64 `json:"mutation_frequency"`
	} `json:"weights"`
	Caps struct {
		LiteratureTotal *float64 `json:"literature_total"`
		MutationCount   *float64 `json:"mutation_count"`
		CancerCount     *float64 `json:"cancer_count"`
	} `json:"caps"`
}

// Calibration is a resolved weight and cap configuration.
type Calibration struct {
	Version string
	Weights Weights
	Caps    Caps
}

// DefaultCalibration returns default weights and caps.
func DefaultCalibration() Calibration {
	return Calibration{Version: "default", Weights: DefaultWeights(), Caps: DefaultCaps()}
}

// Validate checks both weights and caps.
func (c Calibration) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	return c.Caps.Validate()
}

// LoadCalibration reads a calibration file and merges it over the defaults.
// An empty path returns the defaults. Unreadable, malformed or invalid files
// are ConfigErrors.
func LoadCalibration(path string, logger *slog.Logger) (Calibration, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultCalibration()
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return defaults, errkind.Wrap(errkind.ConfigError, "read calibration", err)
	}

	var cfg CalibrationConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return defaults, errkind.Wrap(errkind.ConfigError, "parse calibration", err)
	}

	merged := MergeCalibration(defaults, cfg)
	if err := merged.Validate(); err != nil {
		return defaults, err
	}
	logCalibrationOverrides(logger, path, defaults, merged)
	return merged, nil
}

// MergeCalibration applies every field present in override to base.
func MergeCalibration(base Calibration, override CalibrationConfig) Calibration {
	result := base
	if override.Version != "" {
		result.Version = override.Version
	}

	apply := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&result.Weights.Literature, override.Weights.Literature)
	apply(&result.Weights.CRISPRDependency, override.Weights.CRISPRDependency)
	apply(&result.Weights.MutationFrequency, override.Weights.MutationFrequency)
	apply(&result.Caps.LiteratureTotal, override.Caps.LiteratureTotal)
	apply(&result.Caps.MutationCount, override.Caps.MutationCount)
	apply(&result.Caps.CancerCount, override.Caps.CancerCount)
	return result
}

func logCalibrationOverrides(logger *slog.Logger, path string, defaults, loaded Calibration) {
	var overrides []string
	check := func(name string, was, now float64) {
		if was != now {
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f", name, was, now))
		}
	}
	check("weights.literature", defaults.Weights.Literature, loaded.Weights.Literature)
	check("weights.crispr_dependency", defaults.Weights.CRISPRDependency, loaded.Weights.CRISPRDependency)
	check("weights.mutation_frequency", defaults.Weights.MutationFrequency, loaded.Weights.MutationFrequency)
	check("caps.literature_total", defaults.Caps.LiteratureTotal, loaded.Caps.LiteratureTotal)
	check("caps.mutation_count", defaults.Caps.MutationCount, loaded.Caps.MutationCount)
	check("caps.cancer_count", defaults.Caps.CancerCount, loaded.Caps.CancerCount)

	if len(overrides) > 0 {
		logger.Info("loaded scoring calibration with overrides",
			slog.String("path", path),
			slog.String("version", loaded.Version),
			slog.Any("overrides", overrides))
	} else {
		logger.Info("loaded scoring calibration (using all defaults)",
			slog.String("path", path))
	}
}
