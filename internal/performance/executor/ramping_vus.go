package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("executor already running")

// RampingVUs resizes a VU pool to follow a staged profile.
//
// Every tick interval the target is recomputed from the elapsed time and the
// pool is scaled to match, so concurrency changes smoothly instead of in
// per-stage steps. When the profile completes (or the run context is
// cancelled) the pool is drained: retired VUs finish their current
// iteration, bounded by the graceful stop period.
type RampingVUs struct {
	config  *Config
	pool    *performance.VUPool
	metrics *metrics.Engine
	logger  *zap.Logger

	mu        sync.RWMutex
	startTime time.Time
	endTime   time.Time

	targetVUs    atomic.Int32
	currentStage atomic.Int32
	hardStopped  atomic.Int32
	running      atomic.Bool
}

// NewRampingVUs creates a ramping executor that owns a new pool for env.
func NewRampingVUs(cfg *Config, env *performance.Environment) (*RampingVUs, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}

	return &RampingVUs{
		config:  cfg,
		pool:    performance.NewVUPool(env),
		metrics: env.Metrics,
		logger:  env.Logger,
	}, nil
}

// Name returns the scenario name.
func (e *RampingVUs) Name() string {
	return e.config.Name
}

// Pool returns the VU pool driven by the executor.
func (e *RampingVUs) Pool() *performance.VUPool {
	return e.pool
}

// Run executes the profile and blocks until every VU has stopped.
func (e *RampingVUs) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	start := time.Now()
	e.mu.Lock()
	e.startTime = start
	e.mu.Unlock()

	total := e.config.Profile.TotalDuration()
	runCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	e.logger.Info("scenario started",
		zap.String("scenario", e.config.Name),
		zap.Duration("duration", total),
		zap.Int("stages", len(e.config.Profile.Stages)),
		zap.Int("maxVUs", e.config.Profile.MaxTarget()),
	)

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for complete := e.tick(runCtx, 0); !complete; {
		select {
		case <-runCtx.Done():
			complete = true
		case <-ticker.C:
			complete = e.tick(runCtx, time.Since(start))
		}
	}

	if e.config.ReportPhases {
		e.metrics.SetPhase(metrics.PhaseRampDown)
	}

	hard := e.pool.Shutdown(e.config.GracefulStop)
	e.hardStopped.Store(int32(hard))
	e.targetVUs.Store(0)

	e.mu.Lock()
	e.endTime = time.Now()
	e.mu.Unlock()

	stats := e.pool.Stats()
	e.logger.Info("scenario finished",
		zap.String("scenario", e.config.Name),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("iterations", stats.Iterations),
		zap.Int64("failedIterations", stats.FailedIterations),
		zap.Int("hardStopped", hard),
		zap.Bool("interrupted", ctx.Err() != nil),
	)

	if e.config.ReportPhases {
		e.metrics.SetPhase(metrics.PhaseDone)
	}
	return nil
}

// tick scales the pool to the profile target at elapsed. It reports whether
// the profile is complete.
func (e *RampingVUs) tick(ctx context.Context, elapsed time.Duration) bool {
	target, complete := e.config.Profile.TargetAt(elapsed)
	if complete {
		return true
	}

	e.targetVUs.Store(int32(target))
	e.currentStage.Store(int32(e.config.Profile.StageAt(elapsed)))
	e.pool.Scale(ctx, target)

	if e.config.ReportPhases {
		e.metrics.SetPhase(phaseFor(&e.config.Profile, elapsed))
	}
	return false
}

// Progress returns current progress (0.0 to 1.0).
func (e *RampingVUs) Progress() float64 {
	e.mu.RLock()
	start, end := e.startTime, e.endTime
	e.mu.RUnlock()

	switch {
	case start.IsZero():
		return 0
	case !end.IsZero():
		return 1
	}

	total := e.config.Profile.TotalDuration()
	if total == 0 {
		return 1
	}

	progress := float64(time.Since(start)) / float64(total)
	if progress > 1 {
		progress = 1
	}
	return progress
}

// Stats returns executor statistics.
func (e *RampingVUs) Stats() Stats {
	e.mu.RLock()
	start, end := e.startTime, e.endTime
	e.mu.RUnlock()

	var elapsed time.Duration
	switch {
	case !end.IsZero():
		elapsed = end.Sub(start)
	case !start.IsZero():
		elapsed = time.Since(start)
	}

	stageIdx := int(e.currentStage.Load())
	stageName := ""
	if stageIdx >= 0 && stageIdx < len(e.config.Profile.Stages) {
		stageName = e.config.Profile.Stages[stageIdx].Name
	}

	pool := e.pool.Stats()
	return Stats{
		StartTime:        start,
		Elapsed:          elapsed,
		TotalDuration:    e.config.Profile.TotalDuration(),
		ActiveVUs:        pool.Active,
		TargetVUs:        int(e.targetVUs.Load()),
		LiveVUs:          pool.Active + pool.Retiring,
		HardStopped:      int(e.hardStopped.Load()),
		Iterations:       pool.Iterations,
		FailedIterations: pool.FailedIterations,
		CurrentStage:     stageIdx,
		CurrentStageName: stageName,
		TotalStages:      len(e.config.Profile.Stages),
	}
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
