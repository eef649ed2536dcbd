package config

import (
	"fmt"
	"os"

	"github.com/denisbrodbeck/machineid"
	"gopkg.in/yaml.v3"

	"crossing/internal/display"
	"crossing/internal/measure"
)

// Tuning is the layout of TUNING_FILE.
type Tuning struct {
	Measure measure.Tuning `yaml:"measure"`
	Display display.Tuning `yaml:"display"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Measure: measure.DefaultTuning(),
		Display: display.DefaultTuning(),
	}
}

// LoadTuning reads a YAML tuning file over the defaults. An empty path
// returns the defaults; fields missing from the file keep them.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read TUNING_FILE %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tuning{}, fmt.Errorf("parse TUNING_FILE %q: %w", path, err)
	}
	if err := t.validate(); err != nil {
		return Tuning{}, fmt.Errorf("TUNING_FILE %q: %w", path, err)
	}
	return t, nil
}

func (t Tuning) validate() error {
	if t.Measure.DistanceMeters <= 0 {
		return fmt.Errorf("measure.distance_meters must be positive, got %v", t.Measure.DistanceMeters)
	}
	if t.Measure.Debounce < 0 || t.Display.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative")
	}
	if t.Display.StaleAfter <= 0 {
		return fmt.Errorf("display.stale_after must be positive, got %v", t.Display.StaleAfter)
	}
	if t.Display.EnergyQuantum <= 0 {
		return fmt.Errorf("display.energy_quantum must be positive, got %v", t.Display.EnergyQuantum)
	}
	return nil
}

// DefaultNodeID derives a stable per-host identity for the given role.
func DefaultNodeID(role string) string {
	id, err := machineid.ProtectedID("crossing-" + role)
	if err != nil || len(id) < 12 {
		host, _ := os.Hostname()
		if host == "" {
			host = "local"
		}
		return role + "-" + host
	}
	return role + "-" + id[:12]
}
