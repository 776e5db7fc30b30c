// Package engine provides the orchestrator that runs a load test end to end.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/executor"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

// ErrAlreadyRun is returned by Run on an engine that has been run before.
var ErrAlreadyRun = errors.New("engine has already run")

// Engine is the orchestrator of one load test.
//
// It coordinates:
//   - Configuration defaults and validation
//   - One executor (stage scheduler + VU pool) per scenario
//   - The shared metrics sink
//   - Threshold evaluation, continuous (abortOnFail) and final
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("test.yaml")
//	eng, _ := engine.NewEngine(cfg)
//	result, _ := eng.Run(context.Background())
//	os.Exit(engine.ExitCode(result, nil))
type Engine struct {
	config *config.TestConfig
	runID  string
	logger *zap.Logger

	transport performance.Transport
	metrics   *metrics.Engine
	overrides map[string]performance.Scenario

	scenarios  []*scenarioRunner
	longest    *scenarioRunner
	thresholds *threshold.Evaluator

	thresholdInterval time.Duration

	mu  sync.Mutex
	ran bool
}

// scenarioRunner pairs a scenario with its executor.
type scenarioRunner struct {
	name     string
	executor executor.Executor
	duration time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTransport replaces the transport built from settings.
func WithTransport(t performance.Transport) Option {
	return func(e *Engine) { e.transport = t }
}

// WithScenario runs s for the named scenario instead of its configured
// requests.
func WithScenario(name string, s performance.Scenario) Option {
	return func(e *Engine) { e.overrides[name] = s }
}

// WithMetrics uses an existing sink, e.g. one already exported to
// Prometheus. The engine stops it when the run ends.
func WithMetrics(m *metrics.Engine) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// NewEngine prepares a test. Any configuration problem is reported here,
// before a single VU starts, and wraps config.ErrInvalidConfig.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is nil", config.ErrInvalidConfig)
	}
	cfg = cfg.Clone()

	e := &Engine{
		config:    cfg,
		logger:    zap.NewNop(),
		overrides: make(map[string]performance.Scenario),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}

	// Defaults first: executor inference happens there.
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for name := range e.overrides {
		if _, ok := cfg.Scenarios[name]; !ok {
			return nil, fmt.Errorf("%w: no scenario named %q to attach code to", config.ErrInvalidConfig, name)
		}
	}

	interval, err := config.ParseDurationString(cfg.Options.ThresholdInterval)
	if err != nil || interval <= 0 {
		return nil, fmt.Errorf("%w: invalid thresholdInterval %q", config.ErrInvalidConfig, cfg.Options.ThresholdInterval)
	}
	e.thresholdInterval = interval

	policy, err := threshold.ParsePolicy(cfg.Options.InsufficientData)
	if err != nil {
		return nil, err
	}
	exprs, err := threshold.ParseAll(cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	if e.transport == nil {
		e.transport = newTransport(&cfg.Settings)
	}
	if e.metrics == nil {
		e.metrics = metrics.NewEngine()
	}

	if err := threshold.Register(e.metrics, exprs); err != nil {
		e.close()
		return nil, err
	}
	e.thresholds = threshold.NewEvaluator(exprs, e.metrics, policy)
	if err := e.thresholds.Validate(); err != nil {
		e.close()
		return nil, err
	}

	if err := e.initializeScenarios(); err != nil {
		e.close()
		return nil, err
	}

	return e, nil
}

// RunID returns the id of the run.
func (e *Engine) RunID() string { return e.runID }

// Metrics returns the shared metrics sink.
func (e *Engine) Metrics() *metrics.Engine { return e.metrics }

// Progress returns how far the longest scenario is through its profile,
// from 0 to 1.
func (e *Engine) Progress() float64 {
	if e.longest == nil {
		return 0
	}
	return e.longest.executor.Progress()
}

// Duration is the planned length of the run, excluding graceful stops.
func (e *Engine) Duration() time.Duration {
	if e.longest == nil {
		return 0
	}
	return e.longest.duration
}

// newTransport builds the transport selected by settings.
func newTransport(s *config.GlobalSettings) performance.Transport {
	httpConfig := performance.DefaultHTTPClientConfig()
	httpConfig.Timeout = s.Timeout.GetDuration(config.DefaultTimeout)
	httpConfig.MaxIdleConnsPerHost = s.MaxIdleConnsPerHost
	httpConfig.MaxConnsPerHost = s.MaxConnectionsPerHost
	httpConfig.InsecureSkipVerify = s.InsecureSkipVerify

	if s.Transport == "fasthttp" {
		return performance.NewFastHTTPTransport(httpConfig)
	}
	return performance.NewHTTPTransport(httpConfig)
}

// initializeScenarios creates the executor of every scenario, in name order.
// The longest scenario reports phases to the sink.
func (e *Engine) initializeScenarios() error {
	names := make([]string, 0, len(e.config.Scenarios))
	for name := range e.config.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]*executor.Config, len(names))
	longest := 0
	for i, name := range names {
		execConfig, err := executor.FromScenarioConfig(name, e.config.Scenarios[name], e.config.Options)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}
		configs[i] = execConfig
		if execConfig.Profile.TotalDuration() > configs[longest].Profile.TotalDuration() {
			longest = i
		}
	}

	for i, name := range names {
		env, err := e.environment(name, e.config.Scenarios[name])
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}

		configs[i].ReportPhases = i == longest
		exec, err := executor.New(configs[i], env)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}

		runner := &scenarioRunner{name: name, executor: exec, duration: configs[i].Profile.TotalDuration()}
		e.scenarios = append(e.scenarios, runner)
		if i == longest {
			e.longest = runner
		}
	}

	return nil
}

// environment builds what the VUs of one scenario share.
func (e *Engine) environment(name string, sc *config.ScenarioConfig) (*performance.Environment, error) {
	scenario, ok := e.overrides[name]
	if !ok {
		rs, err := performance.NewRequestScenario(sc)
		if err != nil {
			return nil, err
		}
		scenario = rs
	}

	thinkTime, err := performance.ParseThinkTime(sc.ThinkTime)
	if err != nil {
		return nil, err
	}

	tags := make(metrics.Tags, len(sc.Tags))
	for k, v := range sc.Tags {
		tags[k] = v
	}

	return &performance.Environment{
		Name:      name,
		Scenario:  scenario,
		Transport: e.transport,
		Metrics:   e.metrics,
		Logger:    e.logger.With(zap.String("scenario", name)),
		ThinkTime: thinkTime,
		BaseURL:   e.config.Settings.BaseURL,
		Variables: config.MergeVariables(e.config.Variables),
		Headers:   e.config.Settings.Headers,
		UserAgent: e.config.Settings.UserAgent,
		Tags:      tags,
	}, nil
}

// Run executes every scenario concurrently and evaluates the thresholds.
//
// Cancelling ctx stops the run the same way the end of the profile does:
// in-flight iterations get their gracefulStop. The result is then marked
// Interrupted. An engine can be run once.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.ran {
		e.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	e.ran = true
	e.mu.Unlock()

	defer e.close()

	startTime := time.Now()
	e.logger.Info("run started",
		zap.String("run_id", e.runID),
		zap.String("name", e.config.Name),
		zap.Int("scenarios", len(e.scenarios)),
		zap.Int("thresholds", len(e.thresholds.Expressions())),
	)
	e.metrics.SetPhase(metrics.PhaseInit)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		abortMu     sync.Mutex
		abortReason string
	)
	watchCtx, stopWatch := context.WithCancel(runCtx)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		e.thresholds.Watch(watchCtx, e.thresholdInterval, startTime, func(res threshold.Result) {
			abortMu.Lock()
			abortReason = fmt.Sprintf("threshold %s failed: %s", res.Expression, res.Message)
			abortMu.Unlock()

			e.logger.Warn("aborting run", zap.String("run_id", e.runID), zap.String("reason", abortReason))
			cancel()
		})
	}()

	results, err := e.runScenarios(runCtx)

	stopWatch()
	<-watchDone

	thresholdResults := e.thresholds.EvaluateAll()
	result := &TestResult{
		RunID:       e.runID,
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   startTime,
		EndTime:     time.Now(),
		Scenarios:   results,
		Metrics:     e.metrics.Snapshot(),
		Summaries:   e.metrics.Summaries(),
		Checks:      e.metrics.CheckSummaries(),
		TimeSeries:  e.metrics.TimeSeries(),
		Thresholds:  thresholdResults,
		Policy:      e.thresholds.Policy(),
		Passed:      e.thresholds.Verdict(thresholdResults) && abortReason == "",
		AbortReason: abortReason,
		Aborted:     abortReason != "",
		Interrupted: abortReason == "" && ctx.Err() != nil,
	}
	result.Duration = result.EndTime.Sub(result.StartTime)
	if err != nil {
		result.Error = err.Error()
	}

	e.logger.Info("run finished",
		zap.String("run_id", e.runID),
		zap.Duration("duration", result.Duration),
		zap.Int64("requests", result.Metrics.TotalRequests),
		zap.Int64("iterations", result.Metrics.TotalIterations),
		zap.Bool("passed", result.Passed),
		zap.Bool("aborted", result.Aborted),
		zap.Bool("interrupted", result.Interrupted),
	)

	return result, err
}

// runScenarios runs all scenarios in parallel and collects their results.
func (e *Engine) runScenarios(ctx context.Context) (map[string]*ScenarioResult, error) {
	results := make(map[string]*ScenarioResult, len(e.scenarios))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, runner := range e.scenarios {
		g.Go(func() error {
			start := time.Now()
			err := runner.executor.Run(gctx)
			stats := runner.executor.Stats()

			result := &ScenarioResult{
				Name:     runner.name,
				Executor: e.config.Scenarios[runner.name].Executor,
				Duration: time.Since(start),
				Stats:    stats,
			}
			if stats.HardStopped > 0 {
				e.logger.Warn("iterations interrupted after graceful stop",
					zap.String("scenario", runner.name),
					zap.Int("hard_stopped", stats.HardStopped),
				)
			}
			if err != nil {
				result.Error = err.Error()
			}

			resultsMu.Lock()
			results[runner.name] = result
			resultsMu.Unlock()

			if err != nil {
				return fmt.Errorf("scenario %s failed: %w", runner.name, err)
			}
			return nil
		})
	}

	err := g.Wait()
	e.metrics.SetPhase(metrics.PhaseDone)
	return results, err
}

// close releases the transport connections and stops the sink emitter.
func (e *Engine) close() {
	if c, ok := e.transport.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	e.metrics.Stop()
}
