package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Executor types understood by the engine.
const (
	ExecutorRampingVUs  = "ramping-vus"
	ExecutorConstantVUs = "constant-vus"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultGracefulStop      = 30 * time.Second
	DefaultTickInterval      = 100 * time.Millisecond
	DefaultThresholdInterval = time.Second
	DefaultUserAgent         = "stampede/1.0"
	DefaultInsufficientData  = "pass"
)

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Returns the parsed TestConfig or an error if parsing fails.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension. Syntax errors wrap
// ErrInvalidConfig.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON config: %v", ErrInvalidConfig, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse YAML config: %v", ErrInvalidConfig, err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config (unknown format %s): %v", ErrInvalidConfig, ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &seconds, &rest); n == 1 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ResolveVariables replaces {{name}} placeholders in input.
//
// Placeholders are resolved from vars first, then {{baseUrl}} from settings.
// Unresolved variables are left as-is.
func ResolveVariables(input string, vars map[string]string, settings *GlobalSettings) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	result := input
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}

	if settings != nil && settings.BaseURL != "" {
		result = strings.ReplaceAll(result, "{{baseUrl}}", settings.BaseURL)
		result = strings.ReplaceAll(result, "{{baseURL}}", settings.BaseURL)
	}

	return result
}

// MergeVariables merges multiple variable maps in order.
// Later maps override earlier ones.
func MergeVariables(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// ApplyDefaults applies default values to a TestConfig.
//
// constant-vus scenarios are rewritten into an equivalent two-stage ramping
// profile so a single executor drives every scenario.
func ApplyDefaults(config *TestConfig) {
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(DefaultTimeout)
	}
	if config.Settings.MaxConnectionsPerHost == 0 {
		config.Settings.MaxConnectionsPerHost = 100
	}
	if config.Settings.MaxIdleConnsPerHost == 0 {
		config.Settings.MaxIdleConnsPerHost = 100
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = DefaultUserAgent
	}
	if config.Settings.Transport == "" {
		config.Settings.Transport = "nethttp"
	}

	if config.Options == nil {
		config.Options = &ExecutionOptions{}
	}
	if config.Options.InsufficientData == "" {
		config.Options.InsufficientData = DefaultInsufficientData
	}
	if config.Options.TickInterval == "" {
		config.Options.TickInterval = DefaultTickInterval.String()
	}
	if config.Options.ThresholdInterval == "" {
		config.Options.ThresholdInterval = DefaultThresholdInterval.String()
	}

	for name, sc := range config.Scenarios {
		if sc != nil {
			applyScenarioDefaults(name, sc)
		}
	}
}

// Clone returns a deep copy of the configuration, so defaults can be
// applied without touching the caller's value.
func (c *TestConfig) Clone() *TestConfig {
	if c == nil {
		return nil
	}

	out := *c
	out.Variables = maps.Clone(c.Variables)
	out.Settings.Headers = maps.Clone(c.Settings.Headers)
	if c.Options != nil {
		opts := *c.Options
		out.Options = &opts
	}

	if c.Thresholds != nil {
		out.Thresholds = make(map[string]ThresholdList, len(c.Thresholds))
		for k, list := range c.Thresholds {
			out.Thresholds[k] = slices.Clone(list)
		}
	}

	if c.Scenarios != nil {
		out.Scenarios = make(map[string]*ScenarioConfig, len(c.Scenarios))
		for name, sc := range c.Scenarios {
			out.Scenarios[name] = sc.clone()
		}
	}
	return &out
}

func (sc *ScenarioConfig) clone() *ScenarioConfig {
	if sc == nil {
		return nil
	}

	out := *sc
	out.Stages = slices.Clone(sc.Stages)
	out.Tags = maps.Clone(sc.Tags)
	if sc.ThinkTime != nil {
		tt := *sc.ThinkTime
		out.ThinkTime = &tt
	}
	if sc.Requests != nil {
		out.Requests = make([]RequestConfig, len(sc.Requests))
		for i, req := range sc.Requests {
			req.Headers = maps.Clone(req.Headers)
			req.Checks = slices.Clone(req.Checks)
			out.Requests[i] = req
		}
	}
	return &out
}

// applyScenarioDefaults applies default values to a scenario.
func applyScenarioDefaults(name string, sc *ScenarioConfig) {
	if sc.Executor == "" {
		if len(sc.Stages) > 0 {
			sc.Executor = ExecutorRampingVUs
		} else {
			sc.Executor = ExecutorConstantVUs
		}
	}

	if sc.Executor == ExecutorConstantVUs {
		if sc.VUs == 0 {
			sc.VUs = 1
		}
		if len(sc.Stages) == 0 && sc.Duration != "" {
			sc.Stages = []StageConfig{
				{Duration: "0s", Target: sc.VUs, Name: "start"},
				{Duration: sc.Duration, Target: sc.VUs, Name: "steady"},
			}
		}
	}

	if sc.GracefulStop == "" {
		sc.GracefulStop = DefaultGracefulStop.String()
	}

	for i, req := range sc.Requests {
		if req.Name == "" {
			sc.Requests[i].Name = fmt.Sprintf("%s_request_%d", name, i+1)
		}
		if req.Method == "" {
			sc.Requests[i].Method = "GET"
		}
		sc.Requests[i].Method = strings.ToUpper(sc.Requests[i].Method)
		for j := range req.Checks {
			check := &sc.Requests[i].Checks[j]
			if check.Condition == "" {
				check.Condition = defaultCondition(check.Type)
			}
			if check.Name == "" {
				check.Name = defaultCheckName(*check)
			}
		}
	}
}

func defaultCheckName(c CheckConfig) string {
	switch c.Type {
	case "header", "jsonpath":
		return fmt.Sprintf("%s %s %s %s", c.Type, c.Path, c.Condition, c.Value)
	case "schema":
		return "body matches schema"
	default:
		return strings.TrimSpace(fmt.Sprintf("%s %s %s", c.Type, c.Condition, c.Value))
	}
}

func defaultCondition(checkType string) string {
	switch checkType {
	case "schema":
		return ""
	case "duration":
		return "lt"
	default:
		return "eq"
	}
}
