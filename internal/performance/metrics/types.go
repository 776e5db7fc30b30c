package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MetricType determines how samples of a metric are aggregated.
type MetricType int

const (
	// Counter sums its values (http_reqs, data_received).
	Counter MetricType = iota
	// Gauge keeps the last value plus min and max (vus).
	Gauge
	// Rate tracks the fraction of non-zero values (http_req_failed, checks).
	Rate
	// Trend keeps a distribution of values (http_req_duration).
	Trend
)

// String returns the lowercase name of the type.
func (t MetricType) String() string {
	switch t {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Rate:
		return "rate"
	case Trend:
		return "trend"
	default:
		return fmt.Sprintf("MetricType(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t MetricType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *MetricType) UnmarshalText(b []byte) error {
	typ, err := ParseMetricType(string(b))
	if err != nil {
		return err
	}
	*t = typ
	return nil
}

// ParseMetricType parses "counter", "gauge", "rate" or "trend".
func ParseMetricType(s string) (MetricType, error) {
	switch s {
	case "counter":
		return Counter, nil
	case "gauge":
		return Gauge, nil
	case "rate":
		return Rate, nil
	case "trend":
		return Trend, nil
	default:
		return 0, fmt.Errorf("unknown metric type %q", s)
	}
}

// Built-in metric names.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	DataReceived      = "data_received"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	Checks            = "checks"
	VUs               = "vus"
	VUsMax            = "vus_max"
)

// BuiltinMetrics maps each built-in metric to its type.
var BuiltinMetrics = map[string]MetricType{
	HTTPReqs:          Counter,
	HTTPReqDuration:   Trend,
	HTTPReqFailed:     Rate,
	DataReceived:      Counter,
	Iterations:        Counter,
	IterationDuration: Trend,
	Checks:            Rate,
	VUs:               Gauge,
	VUsMax:            Gauge,
}

// Tags are key/value labels attached to a sample.
type Tags map[string]string

// Contains reports whether every entry in filter is present in t.
func (t Tags) Contains(filter Tags) bool {
	for k, v := range filter {
		if got, ok := t[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// With returns a copy of t with the given key set.
func (t Tags) With(key, value string) Tags {
	out := make(Tags, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	out[key] = value
	return out
}

// Sample is a single observation of a metric.
type Sample struct {
	Metric string
	Value  float64
	Tags   Tags
	Time   time.Time
}

// CheckResult is the outcome of one check against one response.
type CheckResult struct {
	Name      string    `json:"name"`
	Passed    bool      `json:"passed"`
	Timestamp time.Time `json:"timestamp"`
	VUID      int       `json:"vuId"`
	Iteration int64     `json:"iteration"`
	Tags      Tags      `json:"tags,omitempty"`
}

// ParseMetricKey splits "name{k:v,k2:v2}" into the metric name and its tag
// filter. A key without braces has a nil filter.
func ParseMetricKey(key string) (string, Tags, error) {
	key = strings.TrimSpace(key)
	open := strings.IndexByte(key, '{')
	if open < 0 {
		if strings.ContainsRune(key, '}') {
			return "", nil, fmt.Errorf("unbalanced braces in metric %q", key)
		}
		if key == "" {
			return "", nil, fmt.Errorf("empty metric name")
		}
		return key, nil, nil
	}

	if !strings.HasSuffix(key, "}") || strings.Count(key, "{") != 1 || strings.Count(key, "}") != 1 {
		return "", nil, fmt.Errorf("malformed tag filter in metric %q", key)
	}

	name := strings.TrimSpace(key[:open])
	if name == "" {
		return "", nil, fmt.Errorf("empty metric name in %q", key)
	}

	body := key[open+1 : len(key)-1]
	filter := Tags{}
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			return "", nil, fmt.Errorf("tag %q in metric %q must be key:value", part, key)
		}
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		if k == "" {
			return "", nil, fmt.Errorf("empty tag key in metric %q", key)
		}
		filter[k] = v
	}
	if len(filter) == 0 {
		return "", nil, fmt.Errorf("empty tag filter in metric %q", key)
	}

	return name, filter, nil
}

// MetricKey formats a metric name and filter in canonical form, with tag
// keys sorted.
func MetricKey(name string, filter Tags) string {
	if len(filter) == 0 {
		return name
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteString(filter[k])
	}
	sb.WriteByte('}')
	return sb.String()
}

// Phase represents a phase of the load test.
type Phase string

const (
	// PhaseInit is the initialization phase before the test starts
	PhaseInit Phase = "init"

	// PhaseRampUp is the ramp-up phase when load is increasing
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is the steady-state phase at target load
	PhaseSteady Phase = "steady"

	// PhaseRampDown is the ramp-down phase when load is decreasing
	PhaseRampDown Phase = "ramp-down"

	// PhaseDone indicates the test has completed
	PhaseDone Phase = "done"
)

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// LatencyPercentiles holds latency percentile values.
type LatencyPercentiles struct {
	Min time.Duration
	Max time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// TimeBucket represents metrics for one emitter interval.
//
// Each bucket captures a snapshot of the system state at a point in time,
// including both cumulative totals and interval-specific deltas.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	// Cumulative counters (total since test start)
	TotalRequests  int64 `json:"totalRequests"`
	TotalSuccesses int64 `json:"totalSuccesses"`
	TotalFailures  int64 `json:"totalFailures"`
	TotalBytes     int64 `json:"totalBytes"`

	// Interval metrics (for this bucket only)
	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalRPS       float64 `json:"intervalRPS"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	// Latency percentiles at this point in time
	LatencyMin time.Duration `json:"latencyMin"`
	LatencyMax time.Duration `json:"latencyMax"`
	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP90 time.Duration `json:"latencyP90"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}

// Snapshot contains a point-in-time view of the request metrics.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	TotalBytes      int64         `json:"totalBytes"`
	TotalIterations int64         `json:"totalIterations"`
	RPS             float64       `json:"rps"`
	SteadyStateRPS  float64       `json:"steadyStateRps"`
	ErrorRate       float64       `json:"errorRate"`
	ActiveVUs       int           `json:"activeVUs"`
	MaxVUs          int           `json:"maxVUs"`
	CurrentPhase    Phase         `json:"currentPhase"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       time.Time     `json:"startTime"`
	Timestamp       time.Time     `json:"timestamp"`
}

// CheckSummary aggregates all results of one named check.
type CheckSummary struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`

	// FirstFailure is the earliest failing result, if any.
	FirstFailure *CheckResult `json:"firstFailure,omitempty"`
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the maximum number of buckets to retain (default: 3600)
	MaxBuckets int

	// HistogramMax is the largest recordable trend value in thousandths
	// (default: 3600000000, one hour when values are milliseconds)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}
