package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidConfig is wrapped by every configuration error, so callers can
// tell a bad test definition from a runtime failure with errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap returns ErrInvalidConfig.
func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap returns ErrInvalidConfig.
func (e *ValidationErrors) Unwrap() error { return ErrInvalidConfig }

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing all validation errors.
// Threshold expressions are only checked for shape here; the threshold
// package parses them fully.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	for name, scenario := range c.Scenarios {
		if scenario == nil {
			errs.Add("scenarios."+name, "scenario is empty")
			continue
		}
		validateScenario(name, scenario, errs)
	}

	validateThresholds(c.Thresholds, errs)
	validateSettings(&c.Settings, errs)
	if c.Options != nil {
		validateOptions(c.Options, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateScenario validates a single scenario configuration.
func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)

	switch sc.Executor {
	case "":
		errs.Add(prefix+".executor", "executor type is required")
	case ExecutorConstantVUs:
		validateConstantVUs(prefix, sc, errs)
	case ExecutorRampingVUs:
		validateRampingVUs(prefix, sc, errs)
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	if sc.StartVUs < 0 {
		errs.Add(prefix+".startVUs", "startVUs cannot be negative")
	}

	if sc.GracefulStop != "" {
		if d, err := ParseDurationString(sc.GracefulStop); err != nil {
			errs.Add(prefix+".gracefulStop", fmt.Sprintf("invalid gracefulStop: %v", err))
		} else if d < 0 {
			errs.Add(prefix+".gracefulStop", "gracefulStop cannot be negative")
		}
	}

	for i := range sc.Requests {
		validateRequest(fmt.Sprintf("%s.requests[%d]", prefix, i), &sc.Requests[i], errs)
	}

	if sc.ThinkTime != nil {
		validateThinkTime(prefix+".thinkTime", sc.ThinkTime, errs)
	}

	for i := range sc.Stages {
		validateStage(fmt.Sprintf("%s.stages[%d]", prefix, i), &sc.Stages[i], errs)
	}
}

// validateConstantVUs validates constant-vus executor config.
func validateConstantVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}

	if sc.Duration == "" {
		errs.Add(prefix+".duration", "duration is required for constant-vus executor")
	} else if d, err := ParseDurationString(sc.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}
}

// validateRampingVUs validates ramping-vus executor config.
func validateRampingVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
	}
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

var placeholderRe = regexp.MustCompile(`\{\{[^}]*\}\}`)

// validateRequest validates a single request configuration.
func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		errs.Add(prefix+".method", "method is required")
	} else if !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}

	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else {
		// Placeholders are resolved per iteration; check what is left.
		urlToCheck := strings.ReplaceAll(req.URL, "{{baseUrl}}", "http://example.com")
		urlToCheck = strings.ReplaceAll(urlToCheck, "{{baseURL}}", "http://example.com")
		urlToCheck = placeholderRe.ReplaceAllString(urlToCheck, "placeholder")

		if _, err := url.Parse(urlToCheck); err != nil {
			errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		}
	}

	if req.Timeout != "" {
		if _, err := ParseDurationString(req.Timeout); err != nil {
			errs.Add(prefix+".timeout", fmt.Sprintf("invalid timeout: %v", err))
		}
	}

	if req.ThinkTime != "" {
		if _, err := ParseDurationString(req.ThinkTime); err != nil {
			errs.Add(prefix+".thinkTime", fmt.Sprintf("invalid thinkTime: %v", err))
		}
	}

	for i := range req.Checks {
		validateCheck(fmt.Sprintf("%s.checks[%d]", prefix, i), &req.Checks[i], errs)
	}
}

// validateThinkTime validates think time configuration.
func validateThinkTime(prefix string, tt *ThinkTimeConfig, errs *ValidationErrors) {
	switch tt.Type {
	case "", "none":
	case "constant":
		if tt.Duration == "" {
			errs.Add(prefix+".duration", "duration is required for constant think time")
		} else if _, err := ParseDurationString(tt.Duration); err != nil {
			errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
		}

	case "random":
		minDur, minErr := ParseDurationString(tt.Min)
		maxDur, maxErr := ParseDurationString(tt.Max)

		if tt.Min == "" {
			errs.Add(prefix+".min", "min is required for random think time")
		} else if minErr != nil {
			errs.Add(prefix+".min", fmt.Sprintf("invalid min: %v", minErr))
		}

		if tt.Max == "" {
			errs.Add(prefix+".max", "max is required for random think time")
		} else if maxErr != nil {
			errs.Add(prefix+".max", fmt.Sprintf("invalid max: %v", maxErr))
		}

		if minErr == nil && maxErr == nil && minDur > maxDur {
			errs.Add(prefix, "min must be less than or equal to max")
		}

	default:
		errs.Add(prefix+".type", fmt.Sprintf("invalid think time type: %s", tt.Type))
	}
}

// validateStage validates a single stage configuration.
func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration == "" {
		errs.Add(prefix+".duration", "duration is required")
	} else if d, err := ParseDurationString(stage.Duration); err != nil {
		errs.Add(prefix+".duration", fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		errs.Add(prefix+".duration", "duration cannot be negative")
	}

	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

var validCheckTypes = map[string]bool{
	"status": true, "body": true, "header": true,
	"duration": true, "jsonpath": true, "schema": true,
}

var validConditions = map[string]bool{
	"eq": true, "ne": true, "gt": true, "lt": true,
	"gte": true, "lte": true, "contains": true, "matches": true,
	"exists": true,
}

// validateCheck validates a check configuration.
func validateCheck(prefix string, check *CheckConfig, errs *ValidationErrors) {
	if check.Type == "" {
		errs.Add(prefix+".type", "type is required")
	} else if !validCheckTypes[check.Type] {
		errs.Add(prefix+".type", fmt.Sprintf("invalid check type: %s", check.Type))
	}

	if (check.Type == "header" || check.Type == "jsonpath") && check.Path == "" {
		errs.Add(prefix+".path", fmt.Sprintf("path is required for %s checks", check.Type))
	}

	if check.Type == "schema" {
		if check.Value == "" {
			errs.Add(prefix+".value", "value must contain a JSON schema")
		}
		return
	}

	if check.Condition != "" && !validConditions[check.Condition] {
		errs.Add(prefix+".condition", fmt.Sprintf("invalid condition: %s", check.Condition))
	}

	if check.Condition == "matches" {
		if _, err := regexp.Compile(check.Value); err != nil {
			errs.Add(prefix+".value", fmt.Sprintf("invalid pattern: %v", err))
		}
	}
}

// validateThresholds validates threshold configuration.
func validateThresholds(thresholds map[string]ThresholdList, errs *ValidationErrors) {
	for metric, list := range thresholds {
		prefix := fmt.Sprintf("thresholds.%s", metric)
		if strings.TrimSpace(metric) == "" {
			errs.Add("thresholds", "metric name cannot be empty")
		}
		if open, closed := strings.Count(metric, "{"), strings.Count(metric, "}"); open != closed || open > 1 {
			errs.Add(prefix, "malformed tag filter")
		}
		for i, t := range list {
			field := fmt.Sprintf("%s[%d]", prefix, i)
			if strings.TrimSpace(t.Threshold) == "" {
				errs.Add(field, "threshold expression cannot be empty")
			}
			if t.DelayAbortEval != "" {
				if _, err := ParseDurationString(t.DelayAbortEval); err != nil {
					errs.Add(field+".delayAbortEval", fmt.Sprintf("invalid delayAbortEval: %v", err))
				}
			}
		}
	}
}

// validateSettings validates global settings.
func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		if u, err := url.Parse(s.BaseURL); err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add("settings.baseUrl", "scheme must be http or https")
		}
	}

	switch s.Transport {
	case "", "nethttp", "fasthttp":
	default:
		errs.Add("settings.transport", fmt.Sprintf("unknown transport: %s", s.Transport))
	}

	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
}

// validateOptions validates execution options.
func validateOptions(o *ExecutionOptions, errs *ValidationErrors) {
	switch o.InsufficientData {
	case "", "pass", "fail":
	default:
		errs.Add("options.insufficientData", fmt.Sprintf("must be pass or fail, got %q", o.InsufficientData))
	}

	for field, value := range map[string]string{
		"options.tickInterval":      o.TickInterval,
		"options.thresholdInterval": o.ThresholdInterval,
	} {
		if value == "" {
			continue
		}
		if d, err := ParseDurationString(value); err != nil {
			errs.Add(field, fmt.Sprintf("invalid duration: %v", err))
		} else if d <= 0 {
			errs.Add(field, "must be greater than 0")
		}
	}
}
