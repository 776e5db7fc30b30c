package engine

import (
	"context"
	"errors"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/executor"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

// Process exit codes.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
	ExitInvalidConfig    = 104
	ExitInterrupted      = 105
)

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name     string         `json:"name"`
	Executor string         `json:"executor"`
	Duration time.Duration  `json:"duration"`
	Stats    executor.Stats `json:"stats"`
	Error    string         `json:"error,omitempty"`
}

// TestResult contains the complete test results.
type TestResult struct {
	// Test metadata
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	// Scenario results
	Scenarios map[string]*ScenarioResult `json:"scenarios"`

	// Aggregated metrics across all scenarios
	Metrics    *metrics.Snapshot      `json:"metrics"`
	Summaries  []metrics.Summary      `json:"summaries"`
	Checks     []metrics.CheckSummary `json:"checks,omitempty"`
	TimeSeries []*metrics.TimeBucket  `json:"timeSeries,omitempty"`

	// Threshold evaluation
	Thresholds []threshold.Result `json:"thresholds,omitempty"`
	Policy     threshold.Policy   `json:"insufficientData"`
	Passed     bool               `json:"passed"`

	// Aborted is set when an abortOnFail threshold stopped the run
	Aborted     bool   `json:"aborted,omitempty"`
	AbortReason string `json:"abortReason,omitempty"`

	// Interrupted is set when the caller cancelled the run
	Interrupted bool `json:"interrupted,omitempty"`

	// Error if a scenario failed catastrophically
	Error string `json:"error,omitempty"`
}

// Summary returns the aggregate of one metric key, if present.
func (r *TestResult) Summary(key string) (metrics.Summary, bool) {
	for _, s := range r.Summaries {
		if s.Name == key {
			return s, true
		}
	}
	return metrics.Summary{}, false
}

// FailedThresholds returns the results that count against the verdict.
func (r *TestResult) FailedThresholds() []threshold.Result {
	var failed []threshold.Result
	for _, tr := range r.Thresholds {
		if !tr.Passed(r.Policy) {
			failed = append(failed, tr)
		}
	}
	return failed
}

// ExitCode maps the outcome of NewEngine or Run to a process exit code.
func ExitCode(result *TestResult, err error) int {
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		return ExitInvalidConfig
	case result != nil && result.Interrupted:
		return ExitInterrupted
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case err != nil || result == nil:
		return ExitError
	case !result.Passed:
		return ExitThresholdsFailed
	default:
		return ExitOK
	}
}
