// Package executor turns a staged concurrency profile into a running VU pool.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = config.ExecutorRampingVUs

	// TypeConstantVUs runs a fixed number of VUs for a duration. It is
	// executed as a two-stage ramping profile.
	TypeConstantVUs Type = config.ExecutorConstantVUs
)

// Executor drives the VUs of one scenario.
type Executor interface {
	// Name returns the scenario name.
	Name() string

	// Run blocks until the profile completes or ctx is cancelled, then
	// drains the pool within the graceful stop period.
	Run(ctx context.Context) error

	// Progress returns current progress (0.0 to 1.0).
	Progress() float64

	// Stats returns executor statistics.
	Stats() Stats
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the scenario name
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// Profile is the staged concurrency profile
	Profile Profile `json:"profile" yaml:"profile"`

	// GracefulStop is how long in-flight iterations may run once the
	// profile ends
	GracefulStop time.Duration `json:"gracefulStop" yaml:"gracefulStop"`

	// TickInterval is how often the pool is resized
	TickInterval time.Duration `json:"tickInterval" yaml:"tickInterval"`

	// ReportPhases makes the executor publish test phases to the metrics
	// engine. Only one executor of a run should do so.
	ReportPhases bool `json:"-" yaml:"-"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	switch c.Type {
	case TypeRampingVUs, TypeConstantVUs:
	case "":
		return &ValidationError{Field: "type", Message: "executor type is required"}
	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "must be >= 0"}
	}
	if c.TickInterval <= 0 {
		return &ValidationError{Field: "tickInterval", Message: "must be > 0"}
	}

	return c.Profile.Validate()
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs   int `json:"activeVUs"`
	TargetVUs   int `json:"targetVUs"`
	LiveVUs     int `json:"liveVUs"`
	HardStopped int `json:"hardStopped"`

	// Iteration stats
	Iterations       int64 `json:"iterations"`
	FailedIterations int64 `json:"failedIterations"`

	// Stage info
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// Unwrap makes every ValidationError match config.ErrInvalidConfig.
func (e *ValidationError) Unwrap() error {
	return config.ErrInvalidConfig
}

// New creates the executor for cfg.
func New(cfg *Config, env *performance.Environment) (Executor, error) {
	switch cfg.Type {
	case TypeRampingVUs, TypeConstantVUs:
		return NewRampingVUs(cfg, env)
	default:
		return nil, &ValidationError{Field: "type", Message: "unknown executor type: " + string(cfg.Type)}
	}
}

// FromScenarioConfig converts a scenario from the configuration file into an
// executor config. opts may be nil. Errors wrap config.ErrInvalidConfig.
func FromScenarioConfig(name string, sc *config.ScenarioConfig, opts *config.ExecutionOptions) (*Config, error) {
	cfg := &Config{
		Name:         name,
		Type:         Type(sc.Executor),
		GracefulStop: config.DefaultGracefulStop,
		TickInterval: config.DefaultTickInterval,
		Profile:      Profile{StartVUs: sc.StartVUs},
	}
	if cfg.Type == "" {
		cfg.Type = TypeRampingVUs
		if len(sc.Stages) == 0 && sc.VUs > 0 {
			cfg.Type = TypeConstantVUs
		}
	}

	if sc.GracefulStop != "" {
		d, err := config.ParseDurationString(sc.GracefulStop)
		if err != nil {
			return nil, &ValidationError{Field: "gracefulStop", Message: err.Error()}
		}
		cfg.GracefulStop = d
	}

	if opts != nil && opts.TickInterval != "" {
		d, err := config.ParseDurationString(opts.TickInterval)
		if err != nil {
			return nil, &ValidationError{Field: "options.tickInterval", Message: err.Error()}
		}
		cfg.TickInterval = d
	}

	stages := sc.Stages
	if cfg.Type == TypeConstantVUs && len(stages) == 0 {
		stages = []config.StageConfig{
			{Duration: "0s", Target: sc.VUs},
			{Duration: sc.Duration, Target: sc.VUs},
		}
	}

	for i, st := range stages {
		d, err := config.ParseDurationString(st.Duration)
		if err != nil {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("stages[%d].duration", i),
				Message: err.Error(),
			}
		}
		cfg.Profile.Stages = append(cfg.Profile.Stages, Stage{
			Duration: d,
			Target:   st.Target,
			Name:     st.Name,
		})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// phaseFor derives the test phase from the stage containing elapsed.
func phaseFor(p *Profile, elapsed time.Duration) metrics.Phase {
	_, from, to, ok := p.stageAt(elapsed)
	if !ok {
		return metrics.PhaseDone
	}

	switch {
	case to > from:
		return metrics.PhaseRampUp
	case to < from:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}
