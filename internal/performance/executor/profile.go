package executor

import (
	"fmt"
	"time"
)

// Stage defines a stage of a ramping profile.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Profile is an ordered list of stages. The target concurrency moves
// linearly from the previous stage's target (StartVUs for the first stage)
// to the stage's own target across the stage's duration.
//
// Example:
//
//	stages:
//	  - duration: 10s
//	    target: 20     # 0 -> 20 VUs over 10s
//	  - duration: 20s
//	    target: 100    # 20 -> 100 VUs over 20s
//	  - duration: 10s
//	    target: 0      # 100 -> 0 VUs over 10s
type Profile struct {
	StartVUs int     `json:"startVUs" yaml:"startVUs"`
	Stages   []Stage `json:"stages" yaml:"stages"`
}

// Validate rejects profiles without stages and negative durations or targets.
func (p *Profile) Validate() error {
	if len(p.Stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	if p.StartVUs < 0 {
		return &ValidationError{Field: "startVUs", Message: "must be >= 0"}
	}

	for i, stage := range p.Stages {
		if stage.Duration < 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("stages[%d].duration", i),
				Message: "must be >= 0",
			}
		}
		if stage.Target < 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("stages[%d].target", i),
				Message: "must be >= 0",
			}
		}
	}

	return nil
}

// TotalDuration returns the sum of all stage durations.
func (p *Profile) TotalDuration() time.Duration {
	var total time.Duration
	for _, stage := range p.Stages {
		total += stage.Duration
	}
	return total
}

// MaxTarget returns the highest concurrency the profile asks for.
func (p *Profile) MaxTarget() int {
	highest := p.StartVUs
	for _, stage := range p.Stages {
		if stage.Target > highest {
			highest = stage.Target
		}
	}
	return highest
}

// TargetAt returns the target VU count at elapsed time since the start of
// the run. Once every stage has elapsed the target is 0 and complete is true.
func (p *Profile) TargetAt(elapsed time.Duration) (target int, complete bool) {
	idx, from, to, ok := p.stageAt(elapsed)
	if !ok {
		return 0, true
	}

	stage := p.Stages[idx]
	var stageStart time.Duration
	for _, s := range p.Stages[:idx] {
		stageStart += s.Duration
	}

	progress := float64(elapsed-stageStart) / float64(stage.Duration)
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	// Linear interpolation, rounded to nearest
	value := float64(from) + float64(to-from)*progress
	return int(value + 0.5), false
}

// StageAt returns the index of the stage containing elapsed, or -1 once the
// profile is complete.
func (p *Profile) StageAt(elapsed time.Duration) int {
	idx, _, _, ok := p.stageAt(elapsed)
	if !ok {
		return -1
	}
	return idx
}

// stageAt finds the stage window [start, start+duration) holding elapsed
// together with the targets it ramps between. Zero-length stages hold no
// instant; their target becomes the starting point of the next stage.
func (p *Profile) stageAt(elapsed time.Duration) (idx, from, to int, ok bool) {
	if elapsed < 0 {
		elapsed = 0
	}

	var stageStart time.Duration
	prevTarget := p.StartVUs

	for i, stage := range p.Stages {
		stageEnd := stageStart + stage.Duration
		if elapsed < stageEnd {
			return i, prevTarget, stage.Target, true
		}
		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return -1, 0, 0, false
}
