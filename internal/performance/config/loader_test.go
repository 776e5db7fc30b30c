package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
		{name: "trailing garbage", input: "30x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDurationString(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationString(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

const helloRestyYAML = `
name: hello-resty
settings:
  baseUrl: http://localhost:8080
  timeout: 5s
scenarios:
  default:
    executor: ramping-vus
    stages:
      - duration: 10s
        target: 20
      - duration: 20s
        target: 100
      - duration: 10s
        target: 0
    requests:
      - method: get
        url: "{{baseUrl}}/hello-resty"
        checks:
          - name: status is 200
            type: status
            value: "200"
thresholds:
  http_req_duration: ["p(99)<1500"]
  http_req_failed:
    - threshold: rate<0.01
      abortOnFail: true
      delayAbortEval: 5s
`

func TestParseConfig_YAML(t *testing.T) {
	config, err := ParseConfig([]byte(helloRestyYAML), "test.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error: %v", err)
	}

	if config.Name != "hello-resty" {
		t.Errorf("Name = %q", config.Name)
	}
	if config.Settings.Timeout.GetDuration(0) != 5*time.Second {
		t.Errorf("Timeout = %v", config.Settings.Timeout)
	}

	sc := config.Scenarios["default"]
	if sc == nil {
		t.Fatal("default scenario missing")
	}
	if len(sc.Stages) != 3 || sc.Stages[1].Target != 100 {
		t.Errorf("unexpected stages: %+v", sc.Stages)
	}

	durations := config.Thresholds["http_req_duration"]
	if len(durations) != 1 || durations[0].Threshold != "p(99)<1500" || durations[0].AbortOnFail {
		t.Errorf("unexpected http_req_duration thresholds: %+v", durations)
	}

	failed := config.Thresholds["http_req_failed"]
	if len(failed) != 1 || !failed[0].AbortOnFail || failed[0].DelayAbortEval != "5s" {
		t.Errorf("unexpected http_req_failed thresholds: %+v", failed)
	}

	ApplyDefaults(config)
	if err := config.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	req := sc.Requests[0]
	if req.Method != "GET" {
		t.Errorf("Method = %q, want GET", req.Method)
	}
	if req.Checks[0].Condition != "eq" {
		t.Errorf("check condition = %q, want eq", req.Checks[0].Condition)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	data := []byte(`{
		"name": "json",
		"scenarios": {
			"s": {
				"executor": "constant-vus",
				"vus": 3,
				"duration": "5s",
				"requests": [{"method": "GET", "url": "http://localhost/"}]
			}
		},
		"thresholds": {
			"checks": ["rate>0.99", {"threshold": "rate>0.5", "abortOnFail": true}]
		}
	}`)

	config, err := ParseConfig(data, "test.json")
	if err != nil {
		t.Fatalf("ParseConfig() error: %v", err)
	}

	checks := config.Thresholds["checks"]
	if len(checks) != 2 {
		t.Fatalf("expected 2 thresholds, got %d", len(checks))
	}
	if checks[0].Threshold != "rate>0.99" || checks[0].AbortOnFail {
		t.Errorf("unexpected first threshold: %+v", checks[0])
	}
	if checks[1].Threshold != "rate>0.5" || !checks[1].AbortOnFail {
		t.Errorf("unexpected second threshold: %+v", checks[1])
	}
}

func TestParseConfig_InvalidSyntax(t *testing.T) {
	_, err := ParseConfig([]byte("scenarios: [unclosed"), "bad.yaml")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("syntax error should wrap ErrInvalidConfig: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.yml")
	if err := os.WriteFile(path, []byte(helloRestyYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if config.Settings.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", config.Settings.BaseURL)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults_ConstantVUs(t *testing.T) {
	config := &TestConfig{
		Scenarios: map[string]*ScenarioConfig{
			"steady": {
				Executor: ExecutorConstantVUs,
				VUs:      5,
				Duration: "1m",
				Requests: []RequestConfig{{URL: "/"}},
			},
		},
	}

	ApplyDefaults(config)

	sc := config.Scenarios["steady"]
	if len(sc.Stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(sc.Stages))
	}
	if sc.Stages[0].Duration != "0s" || sc.Stages[0].Target != 5 {
		t.Errorf("unexpected first stage: %+v", sc.Stages[0])
	}
	if sc.Stages[1].Duration != "1m" || sc.Stages[1].Target != 5 {
		t.Errorf("unexpected second stage: %+v", sc.Stages[1])
	}
	if sc.GracefulStop != "30s" {
		t.Errorf("GracefulStop = %q", sc.GracefulStop)
	}
	if sc.Requests[0].Name != "steady_request_1" || sc.Requests[0].Method != "GET" {
		t.Errorf("unexpected request defaults: %+v", sc.Requests[0])
	}
	if config.Options.InsufficientData != "pass" || config.Options.TickInterval != "100ms" {
		t.Errorf("unexpected options: %+v", config.Options)
	}
	if config.Settings.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent = %q", config.Settings.UserAgent)
	}
}

func TestClone_DefaultsDoNotLeak(t *testing.T) {
	orig := &TestConfig{
		Name:      "clone",
		Variables: map[string]string{"host": "a"},
		Scenarios: map[string]*ScenarioConfig{
			"default": {
				VUs:      2,
				Duration: "10s",
				Requests: []RequestConfig{{URL: "http://localhost/", Checks: []CheckConfig{{Type: "status", Value: "200"}}}},
			},
		},
		Thresholds: map[string]ThresholdList{"http_req_failed": {{Threshold: "rate<0.01"}}},
	}

	cp := orig.Clone()
	ApplyDefaults(cp)
	cp.Variables["host"] = "b"
	cp.Thresholds["http_req_failed"][0].AbortOnFail = true

	sc := orig.Scenarios["default"]
	if sc == cp.Scenarios["default"] {
		t.Fatal("scenario pointer shared with clone")
	}
	if sc.Executor != "" || sc.GracefulStop != "" || len(sc.Stages) != 0 {
		t.Errorf("scenario defaults leaked: %+v", sc)
	}
	if req := sc.Requests[0]; req.Method != "" || req.Name != "" || req.Checks[0].Condition != "" {
		t.Errorf("request defaults leaked: %+v", req)
	}
	if orig.Options != nil || orig.Settings.Transport != "" {
		t.Errorf("global defaults leaked: %+v %+v", orig.Options, orig.Settings)
	}
	if orig.Variables["host"] != "a" || orig.Thresholds["http_req_failed"][0].AbortOnFail {
		t.Error("maps shared with clone")
	}
}

func TestResolveVariables(t *testing.T) {
	settings := &GlobalSettings{BaseURL: "http://api.local"}
	vars := map[string]string{"path": "/users", "id": "42"}

	got := ResolveVariables("{{baseUrl}}{{path}}/{{id}}?q={{missing}}", vars, settings)
	want := "http://api.local/users/42?q={{missing}}"
	if got != want {
		t.Errorf("ResolveVariables() = %q, want %q", got, want)
	}
}

func TestMergeVariables(t *testing.T) {
	got := MergeVariables(map[string]string{"a": "1", "b": "2"}, map[string]string{"b": "3"})
	if got["a"] != "1" || got["b"] != "3" {
		t.Errorf("MergeVariables() = %v", got)
	}
}
