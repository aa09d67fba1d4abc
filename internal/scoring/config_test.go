package scoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/onnwee/genetarget/internal/errkind"
)

func TestWeights_Validate(t *testing.T) {
	tests := []struct {
		name    string
		w       Weights
		wantErr bool
	}{
		{"defaults", DefaultWeights(), false},
		{"within tolerance", Weights{Literature: 0.3000001, CRISPRDependency: 0.4, MutationFrequency: 0.3}, false},
		{"one component only", Weights{CRISPRDependency: 1}, false},
		{"sum too small", Weights{Literature: 0.3, CRISPRDependency: 0.3, MutationFrequency: 0.3}, true},
		{"negative", Weights{Literature: -0.2, CRISPRDependency: 0.9, MutationFrequency: 0.3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.w.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errkind.Is(err, errkind.ConfigError) {
				t.Errorf("error kind = %v, want ConfigError", errkind.Of(err))
			}
		})
	}
}

func TestCaps_Validate(t *testing.T) {
	if err := DefaultCaps().Validate(); err != nil {
		t.Fatalf("DefaultCaps().Validate() error = %v", err)
	}
	for _, caps := range []Caps{
		{LiteratureTotal: 0, MutationCount: 5, CancerCount: 3},
		{LiteratureTotal: 10, MutationCount: -1, CancerCount: 3},
		{LiteratureTotal: 10, MutationCount: 5, CancerCount: 0},
	} {
		if err := caps.Validate(); !errkind.Is(err, errkind.ConfigError) {
			t.Errorf("Validate(%+v) error = %v, want ConfigError", caps, err)
		}
	}
}

func writeCalibration(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calibration.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCalibration(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		got, err := LoadCalibration("", newTestLogger())
		if err != nil {
			t.Fatalf("LoadCalibration() error = %v", err)
		}
		if got != DefaultCalibration() {
			t.Errorf("LoadCalibration() = %+v, want defaults", got)
		}
	})

	t.Run("partial override keeps defaults and explicit zero", func(t *testing.T) {
		path := writeCalibration(t, `{
			"version": "2026-q3",
			"weights": {"literature": 0, "crispr_dependency": 0.7},
			"caps": {"literature_total": 20}
		}`)
		got, err := LoadCalibration(path, newTestLogger())
		if err != nil {
			t.Fatalf("LoadCalibration() error = %v", err)
		}
		want := Calibration{
			Version: "2026-q3",
			Weights: Weights{Literature: 0, CRISPRDependency: 0.7, MutationFrequency: 0.3},
			Caps:    Caps{LiteratureTotal: 20, MutationCount: 5, CancerCount: 3},
		}
		if got != want {
			t.Errorf("LoadCalibration() = %+v, want %+v", got, want)
		}
	})

	errorCases := map[string]string{
		"malformed":      `{"weights": `,
		"bad weight sum": `{"weights": {"literature": 0.9}}`,
		"zero cap":       `{"caps": {"cancer_count": 0}}`,
	}
	for name, body := range errorCases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCalibration(writeCalibration(t, body), newTestLogger())
			if !errkind.Is(err, errkind.ConfigError) {
				t.Errorf("LoadCalibration() error = %v, want ConfigError", err)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCalibration(filepath.Join(t.TempDir(), "nope.json"), newTestLogger())
		if !errkind.Is(err, errkind.ConfigError) {
			t.Errorf("LoadCalibration() error = %v, want ConfigError", err)
		}
	})
}

func TestLoadCalibration_ShippedFile(t *testing.T) {
	got, err := LoadCalibration(filepath.Join("..", "..", "configs", "scoring_calibration.json"), newTestLogger())
	if err != nil {
		t.Fatalf("LoadCalibration() error = %v", err)
	}
	if got.Weights != DefaultWeights() || got.Caps != DefaultCaps() {
		t.Errorf("shipped calibration = %+v, want default weights and caps", got)
	}
}
