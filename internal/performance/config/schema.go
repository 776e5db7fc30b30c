// Package config provides configuration parsing and validation for the load engine.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "hello-resty"
//	settings:
//	  baseUrl: "http://localhost:8080"
//	  timeout: 30s
//	scenarios:
//	  default:
//	    executor: ramping-vus
//	    stages:
//	      - {duration: 10s, target: 20}
//	      - {duration: 20s, target: 100}
//	      - {duration: 10s, target: 0}
//	    requests:
//	      - name: hello
//	        method: GET
//	        url: "{{baseUrl}}/hello-resty"
//	        checks:
//	          - {name: "status is 200", type: status, condition: eq, value: "200"}
//	thresholds:
//	  http_req_duration: ["p(99)<1500"]
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains global settings for all scenarios
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Variables are global variables available to all scenarios
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Scenarios defines the load profiles to run.
	// Each scenario runs concurrently with its own VU pool.
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds maps a metric (optionally with a tag filter, e.g.
	// "http_req_duration{status:200}") to its pass/fail expressions.
	Thresholds map[string]ThresholdList `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Options for test execution
	Options *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings contains global HTTP and execution settings.
type GlobalSettings struct {
	// BaseURL is the default base URL for all requests
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Transport selects the HTTP transport: "nethttp" (default) or "fasthttp"
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"`

	// MaxConnectionsPerHost limits connections per host
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ScenarioConfig defines a single load scenario.
type ScenarioConfig struct {
	// Executor specifies the load profile: "ramping-vus" or "constant-vus"
	Executor string `json:"executor" yaml:"executor"`

	// StartVUs is the VU count the first ramping stage starts from
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// VUs is the number of virtual users (constant-vus)
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is how long to run (constant-vus), e.g. "30s", "2m"
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Stages defines ramping stages (ramping-vus)
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Requests defines the HTTP requests executed by every iteration
	Requests []RequestConfig `json:"requests" yaml:"requests"`

	// GracefulStop is how long in-flight iterations may run after the profile ends
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// ThinkTime controls the pause between iterations
	ThinkTime *ThinkTimeConfig `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// Tags are added to every sample recorded by this scenario
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// StageConfig defines a single stage of a ramping profile.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used as the "name" tag)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string `json:"method" yaml:"method"`

	// URL is the request URL (supports variable substitution)
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body (supports variable substitution)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout is request-specific timeout (overrides global)
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ThinkTime is wait time after this request, inside the iteration
	ThinkTime string `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// Checks are named assertions evaluated against the response
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// ThinkTimeConfig controls the pause between iterations.
type ThinkTimeConfig struct {
	// Type is the strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	// Duration is the wait time for constant think time
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min is the minimum wait time for random think time
	Min string `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum wait time for random think time
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// CheckConfig defines a named response assertion.
type CheckConfig struct {
	// Name identifies the check in results; generated when empty
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is what is checked: "status", "body", "header", "duration", "jsonpath", "schema"
	Type string `json:"type" yaml:"type"`

	// Condition is the comparison: "eq", "ne", "gt", "gte", "lt", "lte", "contains", "matches", "exists"
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Value is the expected value (a JSON Schema document for "schema")
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Path is the header name or JSON path
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ThresholdConfig is one pass/fail expression for a metric.
//
// In YAML/JSON it may be written as a bare string ("p(99)<1500") or as an
// object with abort settings.
type ThresholdConfig struct {
	// Threshold is the expression, e.g. "p(99)<1500" or "rate < 0.01"
	Threshold string `json:"threshold" yaml:"threshold"`

	// AbortOnFail stops the run as soon as the expression fails
	AbortOnFail bool `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`

	// DelayAbortEval postpones abort evaluation, e.g. "10s"
	DelayAbortEval string `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

// UnmarshalYAML accepts either a scalar expression or a mapping.
func (t *ThresholdConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Threshold = node.Value
		return nil
	}

	type plain ThresholdConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = ThresholdConfig(p)
	return nil
}

// UnmarshalJSON accepts either a string expression or an object.
func (t *ThresholdConfig) UnmarshalJSON(b []byte) error {
	if s := strings.TrimSpace(string(b)); strings.HasPrefix(s, `"`) {
		return json.Unmarshal(b, &t.Threshold)
	}

	type plain ThresholdConfig
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = ThresholdConfig(p)
	return nil
}

// ThresholdList is the list of expressions declared for one metric.
type ThresholdList []ThresholdConfig

// ExecutionOptions controls test execution behavior.
type ExecutionOptions struct {
	// InsufficientData decides how a threshold over a metric with no samples
	// counts toward the verdict: "pass" (default) or "fail"
	InsufficientData string `json:"insufficientData,omitempty" yaml:"insufficientData,omitempty"`

	// ThresholdInterval is how often abortOnFail thresholds are evaluated
	ThresholdInterval string `json:"thresholdInterval,omitempty" yaml:"thresholdInterval,omitempty"`

	// TickInterval is how often the VU pool is resized to the profile
	TickInterval string `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Value == "" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
