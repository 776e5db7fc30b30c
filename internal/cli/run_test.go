package cli

import (
	"errors"
	"testing"

	"github.com/spf13/viper"

	"github.com/wesleyorama2/stampede/internal/performance/config"
)

func TestParseStages(t *testing.T) {
	tests := []struct {
		name       string
		stagesStr  string
		wantStages int
		wantErr    bool
	}{
		{
			name:       "Single stage",
			stagesStr:  "30s:10",
			wantStages: 1,
		},
		{
			name:       "Multiple stages",
			stagesStr:  "10s:20,20s:100,10s:0",
			wantStages: 3,
		},
		{
			name:       "Stage with spaces",
			stagesStr:  " 30s:10 , 2m:50 , 30s:0 ",
			wantStages: 3,
		},
		{
			name:      "Invalid format - no colon",
			stagesStr: "30s10",
			wantErr:   true,
		},
		{
			name:      "Invalid duration",
			stagesStr: "invalid:10",
			wantErr:   true,
		},
		{
			name:      "Invalid target",
			stagesStr: "30s:abc",
			wantErr:   true,
		},
		{
			name:      "Negative target",
			stagesStr: "30s:-5",
			wantErr:   true,
		},
		{
			name:      "Empty string",
			stagesStr: "",
			wantErr:   true,
		},
		{
			name:      "Whitespace only",
			stagesStr: "   ",
			wantErr:   true,
		},
		{
			name:       "Complex durations",
			stagesStr:  "1h30m:100,45m:200,15m30s:0",
			wantStages: 3,
		},
		{
			name:       "Seconds and milliseconds",
			stagesStr:  "500ms:5,10s:10",
			wantStages: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages, err := parseStages(tt.stagesStr)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseStages() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(stages) != tt.wantStages {
				t.Errorf("parseStages() returned %d stages, want %d", len(stages), tt.wantStages)
			}
		})
	}
}

func TestParseStages_Values(t *testing.T) {
	stages, err := parseStages("10s:20,20s:100,10s:0")
	if err != nil {
		t.Fatalf("parseStages() unexpected error = %v", err)
	}

	want := []config.StageConfig{
		{Duration: "10s", Target: 20, Name: "stage-1"},
		{Duration: "20s", Target: 100, Name: "stage-2"},
		{Duration: "10s", Target: 0, Name: "stage-3"},
	}
	if len(stages) != len(want) {
		t.Fatalf("parseStages() returned %d stages, want %d", len(stages), len(want))
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stages[%d] = %+v, want %+v", i, stages[i], want[i])
		}
	}
}

func TestParseThresholds(t *testing.T) {
	thresholds, err := parseThresholds([]string{
		"http_req_duration=p(99)<1500",
		"http_req_duration=p(95) < 500",
		"checks=rate==1",
		"http_req_duration{status:200}=avg<100",
	})
	if err != nil {
		t.Fatalf("parseThresholds() error = %v", err)
	}

	if got := thresholds["http_req_duration"]; len(got) != 2 || got[1].Threshold != "p(95) < 500" {
		t.Errorf("http_req_duration thresholds = %+v", got)
	}
	if got := thresholds["checks"]; len(got) != 1 || got[0].Threshold != "rate==1" {
		t.Errorf("checks thresholds = %+v", got)
	}
	if _, ok := thresholds["http_req_duration{status:200}"]; !ok {
		t.Error("tagged threshold key missing")
	}

	for _, bad := range []string{"p(99)<1500", "=rate<1", "http_reqs="} {
		if _, err := parseThresholds([]string{bad}); !errors.Is(err, config.ErrInvalidConfig) {
			t.Errorf("parseThresholds(%q) error = %v, want ErrInvalidConfig", bad, err)
		}
	}
}

func TestBuildConfigFromCLI(t *testing.T) {
	tests := []struct {
		name         string
		duration     string
		vus          int
		stages       string
		wantExecutor string
		wantVUs      int
		wantDuration string
		wantStages   int
		wantErr      bool
	}{
		{
			name:         "Defaults",
			wantExecutor: config.ExecutorConstantVUs,
			wantVUs:      10,
			wantDuration: "30s",
		},
		{
			name:         "Constant VUs",
			duration:     "5m",
			vus:          50,
			wantExecutor: config.ExecutorConstantVUs,
			wantVUs:      50,
			wantDuration: "5m",
		},
		{
			name:         "Stages select ramping VUs",
			stages:       "10s:20,20s:100,10s:0",
			wantExecutor: config.ExecutorRampingVUs,
			wantStages:   3,
		},
		{
			name:    "Invalid stages",
			stages:  "10s",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := buildConfigFromCLI("http://localhost:8080/hello", tt.duration, tt.vus, tt.stages)
			if tt.wantErr {
				if !errors.Is(err, config.ErrInvalidConfig) {
					t.Errorf("error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildConfigFromCLI() error = %v", err)
			}

			sc := cfg.Scenarios["default"]
			if sc == nil {
				t.Fatal("scenario default missing")
			}
			if sc.Executor != tt.wantExecutor {
				t.Errorf("Executor = %q, want %q", sc.Executor, tt.wantExecutor)
			}
			if sc.VUs != tt.wantVUs {
				t.Errorf("VUs = %d, want %d", sc.VUs, tt.wantVUs)
			}
			if sc.Duration != tt.wantDuration {
				t.Errorf("Duration = %q, want %q", sc.Duration, tt.wantDuration)
			}
			if len(sc.Stages) != tt.wantStages {
				t.Errorf("len(Stages) = %d, want %d", len(sc.Stages), tt.wantStages)
			}
			if len(sc.Requests) != 1 || sc.Requests[0].URL != "http://localhost:8080/hello" {
				t.Errorf("Requests = %+v", sc.Requests)
			}

			config.ApplyDefaults(cfg)
			if err := cfg.Validate(); err != nil {
				t.Errorf("built config does not validate: %v", err)
			}
		})
	}
}

func TestLoadTestConfig_Overrides(t *testing.T) {
	v := viper.New()
	v.Set("url", "http://localhost:8080/hello")
	v.Set("transport", "fasthttp")
	v.Set("insufficient-data", "fail")

	cfg, err := loadTestConfig("", []string{"http_req_failed=rate<0.01"}, v)
	if err != nil {
		t.Fatalf("loadTestConfig() error = %v", err)
	}
	if cfg.Settings.Transport != "fasthttp" {
		t.Errorf("Transport = %q", cfg.Settings.Transport)
	}
	if cfg.Options == nil || cfg.Options.InsufficientData != "fail" {
		t.Errorf("Options = %+v", cfg.Options)
	}
	if got := cfg.Thresholds["http_req_failed"]; len(got) != 1 || got[0].Threshold != "rate<0.01" {
		t.Errorf("Thresholds = %+v", cfg.Thresholds)
	}
}

func TestLoadTestConfig_Missing(t *testing.T) {
	_, err := loadTestConfig("", nil, viper.New())
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadTestConfig_Example(t *testing.T) {
	cfg, err := loadTestConfig("../../examples/hello-resty.yaml", nil, viper.New())
	if err != nil {
		t.Fatalf("loadTestConfig() error = %v", err)
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("example does not validate: %v", err)
	}
	if len(cfg.Scenarios) != 2 || len(cfg.Scenarios["default"].Stages) != 3 {
		t.Errorf("scenarios = %+v", cfg.Scenarios)
	}
	if got := cfg.Thresholds["http_req_failed"]; len(got) != 1 || !got[0].AbortOnFail {
		t.Errorf("http_req_failed thresholds = %+v", got)
	}
}
