package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/i5heu/GoSlotQueue/internal/testbench"
)

// Config is an alias for testbench.Config. This allows other programs to import
// the run configuration without pulling in the entire testbench package.
type Config = testbench.Config

// Scenario is one named run configuration of a benchmark plan.
type Scenario struct {
	Name           string  `yaml:"name"`
	Mode           string  `yaml:"mode"`
	OverwriteRatio float64 `yaml:"overwrite_ratio,omitempty"`
}

// Config converts the scenario into a run configuration.
func (s Scenario) Config() (Config, error) {
	mode, err := testbench.ParseMode(s.Mode)
	if err != nil {
		return Config{}, fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	return Config{Mode: mode, OverwriteRatio: s.OverwriteRatio}, nil
}

// Plan describes a full benchmark session.
type Plan struct {
	Duration   time.Duration `yaml:"duration"`
	Iterations int           `yaml:"iterations"`
	// CPUs lists the GOMAXPROCS values to sweep. Empty means the common
	// CPU counts up to runtime.NumCPU().
	CPUs      []int      `yaml:"cpus,omitempty"`
	Scenarios []Scenario `yaml:"scenarios"`
}

var (
	ErrNoScenarios     = errors.New("plan has no scenarios")
	ErrInvalidDuration = errors.New("duration must be positive")
)

// Default returns the plan used when no plan file is given.
func Default() *Plan {
	return &Plan{
		Duration:   2 * time.Second,
		Iterations: 3,
		Scenarios: []Scenario{
			{Name: "enqueue", Mode: string(testbench.ModeEnqueue)},
			{Name: "overwrite", Mode: string(testbench.ModeOverwrite)},
			{Name: "mixed", Mode: string(testbench.ModeMixed), OverwriteRatio: 0.5},
		},
	}
}

// Load reads a YAML plan. Fields missing from the file keep their Default
// values.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the plan for values the benchmark cannot run with.
func (p *Plan) Validate() error {
	if p.Duration <= 0 {
		return ErrInvalidDuration
	}
	if p.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", p.Iterations)
	}
	for _, c := range p.CPUs {
		if c < 1 {
			return fmt.Errorf("cpu count must be at least 1, got %d", c)
		}
	}
	if len(p.Scenarios) == 0 {
		return ErrNoScenarios
	}
	seen := make(map[string]bool, len(p.Scenarios))
	for _, s := range p.Scenarios {
		if s.Name == "" {
			return errors.New("scenario without a name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate scenario %q", s.Name)
		}
		seen[s.Name] = true
		if _, err := s.Config(); err != nil {
			return err
		}
		if s.OverwriteRatio < 0 || s.OverwriteRatio > 1 {
			return fmt.Errorf("scenario %q: overwrite_ratio %v out of [0, 1]", s.Name, s.OverwriteRatio)
		}
	}
	return nil
}
