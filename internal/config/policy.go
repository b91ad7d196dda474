package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"train-simulator/internal/schedule"
)

type Window struct {
	Start string `yaml:"start" validate:"required"`
	End   string `yaml:"end" validate:"required"`
}

// Policy holds the simulation tunables that may come from SIM_POLICY_FILE.
type Policy struct {
	Window                Window  `yaml:"window"`
	StepSeconds           int     `yaml:"step_seconds" validate:"gt=0"`
	HorizonHours          float64 `yaml:"horizon_hours" validate:"gt=0"`
	NominalJourneyMinutes int     `yaml:"nominal_journey_minutes" validate:"gt=0"`
	MaxSnapDistanceM      float64 `yaml:"max_snap_distance_m" validate:"gt=0"`
	BodyLengthM           float64 `yaml:"body_length_m" validate:"gt=0"`
}

func DefaultPolicy() Policy {
	return Policy{
		Window:                Window{Start: "09:00:00", End: "18:00:00"},
		StepSeconds:           30,
		HorizonHours:          8,
		NominalJourneyMinutes: 60,
		MaxSnapDistanceM:      1000,
		BodyLengthM:           150,
	}
}

// LoadPolicy reads a YAML policy. Keys absent from the file keep their defaults.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy file %s: %w", path, err)
	}
	return p, nil
}

func (p Policy) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return err
	}
	start, err := schedule.ParseClock(p.Window.Start)
	if err != nil {
		return fmt.Errorf("window.start: %w", err)
	}
	end, err := schedule.ParseClock(p.Window.End)
	if err != nil {
		return fmt.Errorf("window.end: %w", err)
	}
	if end <= start {
		return fmt.Errorf("window.end %s must be after window.start %s", p.Window.End, p.Window.Start)
	}
	return nil
}

func (p Policy) Step() time.Duration { return time.Duration(p.StepSeconds) * time.Second }

func (p Policy) Horizon() time.Duration { return time.Duration(p.HorizonHours * float64(time.Hour)) }

func (p Policy) NominalJourney() time.Duration {
	return time.Duration(p.NominalJourneyMinutes) * time.Minute
}
