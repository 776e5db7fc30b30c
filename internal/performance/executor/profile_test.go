package executor_test

import (
	"errors"
	"testing"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/executor"
)

func helloRestyProfile() executor.Profile {
	return executor.Profile{
		Stages: []executor.Stage{
			{Duration: 10 * time.Second, Target: 20},
			{Duration: 20 * time.Second, Target: 100},
			{Duration: 10 * time.Second, Target: 0},
		},
	}
}

func TestProfile_TargetAt(t *testing.T) {
	p := helloRestyProfile()

	tests := []struct {
		elapsed  time.Duration
		want     int
		complete bool
	}{
		{0, 0, false},
		{5 * time.Second, 10, false},
		{10 * time.Second, 20, false},
		{15 * time.Second, 40, false},
		{30 * time.Second, 100, false},
		{35 * time.Second, 50, false},
		{39 * time.Second, 10, false},
		{40 * time.Second, 0, true},
		{time.Minute, 0, true},
	}

	for _, tt := range tests {
		got, complete := p.TargetAt(tt.elapsed)
		if got != tt.want || complete != tt.complete {
			t.Errorf("TargetAt(%v) = (%d, %v), want (%d, %v)", tt.elapsed, got, complete, tt.want, tt.complete)
		}
	}
}

func TestProfile_TargetAtRounding(t *testing.T) {
	p := executor.Profile{Stages: []executor.Stage{{Duration: 4 * time.Second, Target: 3}}}

	// 0.75, 1.5, 2.25
	want := map[time.Duration]int{
		time.Second:     1,
		2 * time.Second: 2,
		3 * time.Second: 2,
	}
	for elapsed, w := range want {
		if got, _ := p.TargetAt(elapsed); got != w {
			t.Errorf("TargetAt(%v) = %d, want %d", elapsed, got, w)
		}
	}
}

func TestProfile_ZeroDurationStageJumps(t *testing.T) {
	p := executor.Profile{
		Stages: []executor.Stage{
			{Duration: 0, Target: 50},
			{Duration: 10 * time.Second, Target: 50},
			{Duration: 0, Target: 5},
			{Duration: 10 * time.Second, Target: 5},
		},
	}

	tests := map[time.Duration]int{
		0:                        50,
		5 * time.Second:          50,
		10 * time.Second:         5,
		19999 * time.Millisecond: 5,
	}
	for elapsed, want := range tests {
		if got, complete := p.TargetAt(elapsed); got != want || complete {
			t.Errorf("TargetAt(%v) = (%d, %v), want (%d, false)", elapsed, got, complete, want)
		}
	}

	if _, complete := p.TargetAt(20 * time.Second); !complete {
		t.Error("profile not complete after its last stage")
	}
}

func TestProfile_StartVUs(t *testing.T) {
	p := executor.Profile{
		StartVUs: 10,
		Stages:   []executor.Stage{{Duration: 10 * time.Second, Target: 20}},
	}

	if got, _ := p.TargetAt(0); got != 10 {
		t.Errorf("TargetAt(0) = %d, want 10", got)
	}
	if got, _ := p.TargetAt(5 * time.Second); got != 15 {
		t.Errorf("TargetAt(5s) = %d, want 15", got)
	}
	if p.MaxTarget() != 20 {
		t.Errorf("MaxTarget = %d, want 20", p.MaxTarget())
	}
}

func TestProfile_StageAt(t *testing.T) {
	p := helloRestyProfile()

	if got := p.StageAt(9 * time.Second); got != 0 {
		t.Errorf("StageAt(9s) = %d, want 0", got)
	}
	if got := p.StageAt(10 * time.Second); got != 1 {
		t.Errorf("StageAt(10s) = %d, want 1", got)
	}
	if got := p.StageAt(40 * time.Second); got != -1 {
		t.Errorf("StageAt(40s) = %d, want -1", got)
	}
	if p.TotalDuration() != 40*time.Second {
		t.Errorf("TotalDuration = %v, want 40s", p.TotalDuration())
	}
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		profile executor.Profile
		wantErr bool
	}{
		{"valid", helloRestyProfile(), false},
		{"zero duration stage", executor.Profile{Stages: []executor.Stage{{Duration: 0, Target: 1}}}, false},
		{"no stages", executor.Profile{}, true},
		{"negative duration", executor.Profile{Stages: []executor.Stage{{Duration: -time.Second, Target: 1}}}, true},
		{"negative target", executor.Profile{Stages: []executor.Stage{{Duration: time.Second, Target: -1}}}, true},
		{"negative start", executor.Profile{StartVUs: -1, Stages: []executor.Stage{{Duration: time.Second}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, config.ErrInvalidConfig) {
				t.Errorf("error %v does not wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestFromScenarioConfig(t *testing.T) {
	sc := &config.ScenarioConfig{
		Executor: "ramping-vus",
		Stages: []config.StageConfig{
			{Duration: "10s", Target: 20},
			{Duration: "20", Target: 100, Name: "peak"},
			{Duration: "10s", Target: 0},
		},
		GracefulStop: "5s",
	}

	cfg, err := executor.FromScenarioConfig("default", sc, &config.ExecutionOptions{TickInterval: "50ms"})
	if err != nil {
		t.Fatalf("FromScenarioConfig: %v", err)
	}

	if cfg.Type != executor.TypeRampingVUs {
		t.Errorf("Type = %s", cfg.Type)
	}
	if cfg.GracefulStop != 5*time.Second {
		t.Errorf("GracefulStop = %v, want 5s", cfg.GracefulStop)
	}
	if cfg.TickInterval != 50*time.Millisecond {
		t.Errorf("TickInterval = %v, want 50ms", cfg.TickInterval)
	}
	if len(cfg.Profile.Stages) != 3 || cfg.Profile.Stages[1].Duration != 20*time.Second || cfg.Profile.Stages[1].Name != "peak" {
		t.Errorf("stages = %+v", cfg.Profile.Stages)
	}
}

func TestFromScenarioConfig_ConstantVUs(t *testing.T) {
	cfg, err := executor.FromScenarioConfig("steady", &config.ScenarioConfig{
		Executor: "constant-vus",
		VUs:      5,
		Duration: "30s",
	}, nil)
	if err != nil {
		t.Fatalf("FromScenarioConfig: %v", err)
	}

	if cfg.GracefulStop != config.DefaultGracefulStop {
		t.Errorf("GracefulStop = %v, want default", cfg.GracefulStop)
	}
	for _, elapsed := range []time.Duration{0, 15 * time.Second, 29 * time.Second} {
		if got, _ := cfg.Profile.TargetAt(elapsed); got != 5 {
			t.Errorf("TargetAt(%v) = %d, want 5", elapsed, got)
		}
	}
}

func TestFromScenarioConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		sc   *config.ScenarioConfig
	}{
		{"unknown executor", &config.ScenarioConfig{Executor: "per-vu-iterations", Stages: []config.StageConfig{{Duration: "1s", Target: 1}}}},
		{"no stages", &config.ScenarioConfig{Executor: "ramping-vus"}},
		{"bad stage duration", &config.ScenarioConfig{Stages: []config.StageConfig{{Duration: "soon", Target: 1}}}},
		{"negative target", &config.ScenarioConfig{Stages: []config.StageConfig{{Duration: "1s", Target: -5}}}},
		{"bad graceful stop", &config.ScenarioConfig{GracefulStop: "later", Stages: []config.StageConfig{{Duration: "1s", Target: 1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executor.FromScenarioConfig("s", tt.sc, nil)
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
