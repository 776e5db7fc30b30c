package output

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

// trendPercentiles are reported for every trend.
var trendPercentiles = []struct {
	key string
	p   float64
}{
	{"med", 50},
	{"p(90)", 90},
	{"p(95)", 95},
	{"p(99)", 99},
}

// MetricReport is the serialisable aggregate of one metric.
type MetricReport struct {
	Type   metrics.MetricType `json:"type"`
	Values map[string]float64 `json:"values"`
}

// ThresholdReport is the serialisable outcome of one threshold.
type ThresholdReport struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Status     string  `json:"status"`
	Passed     bool    `json:"passed"`
	Value      float64 `json:"value"`
	Message    string  `json:"message,omitempty"`
}

// Report is the JSON summary of a run.
type Report struct {
	RunID       string    `json:"runId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	DurationMs  float64   `json:"durationMs"`

	Passed      bool   `json:"passed"`
	Aborted     bool   `json:"aborted,omitempty"`
	AbortReason string `json:"abortReason,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
	Error       string `json:"error,omitempty"`
	ExitCode    int    `json:"exitCode"`

	Metrics    map[string]MetricReport           `json:"metrics"`
	Checks     []metrics.CheckSummary            `json:"checks,omitempty"`
	Thresholds []ThresholdReport                 `json:"thresholds,omitempty"`
	Scenarios  map[string]*engine.ScenarioResult `json:"scenarios"`
	TimeSeries []*metrics.TimeBucket             `json:"timeSeries,omitempty"`
}

// MetricValues returns every aggregation that applies to the type of s.
func MetricValues(s metrics.Summary) map[string]float64 {
	values := make(map[string]float64)
	switch s.Type {
	case metrics.Counter:
		values["count"] = s.Sum
		values["rate"] = s.Rate()
	case metrics.Gauge:
		values["value"] = s.Value
		values["min"] = s.Min
		values["max"] = s.Max
	case metrics.Rate:
		values["rate"] = s.Rate()
		values["passes"] = float64(s.Passes)
		values["fails"] = float64(s.Fails())
	case metrics.Trend:
		values["count"] = float64(s.Count)
		values["avg"] = s.Avg
		values["min"] = s.Min
		values["max"] = s.Max
		for _, tp := range trendPercentiles {
			values[tp.key] = s.Percentile(tp.p)
		}
	}
	return values
}

// NewReport flattens a result into its JSON summary.
func NewReport(result *engine.TestResult) *Report {
	r := &Report{
		RunID:       result.RunID,
		Name:        result.Name,
		Description: result.Description,
		StartTime:   result.StartTime,
		EndTime:     result.EndTime,
		DurationMs:  float64(result.Duration) / float64(time.Millisecond),
		Passed:      result.Passed,
		Aborted:     result.Aborted,
		AbortReason: result.AbortReason,
		Interrupted: result.Interrupted,
		Error:       result.Error,
		ExitCode:    engine.ExitCode(result, nil),
		Metrics:     make(map[string]MetricReport, len(result.Summaries)),
		Checks:      result.Checks,
		Scenarios:   result.Scenarios,
		TimeSeries:  result.TimeSeries,
	}

	for _, s := range result.Summaries {
		r.Metrics[s.Name] = MetricReport{Type: s.Type, Values: MetricValues(s)}
	}

	for _, tr := range result.Thresholds {
		r.Thresholds = append(r.Thresholds, ThresholdReport{
			Metric:     tr.Expression.Metric,
			Expression: tr.Expression.Source,
			Status:     tr.Status.String(),
			Passed:     tr.Passed(result.Policy),
			Value:      tr.Value,
			Message:    tr.Message,
		})
	}

	return r
}

// MetricNames returns the metric names of the report, sorted.
func (r *Report) MetricNames() []string {
	names := make([]string, 0, len(r.Metrics))
	for name := range r.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteJSON writes the JSON summary of result to w.
func WriteJSON(w io.Writer, result *engine.TestResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewReport(result))
}

// thresholdIcon picks the marker of a threshold line.
func thresholdIcon(status threshold.Status, passed bool) string {
	switch {
	case status == threshold.StatusInsufficientData:
		return "?"
	case passed:
		return "✓"
	default:
		return "✗"
	}
}
