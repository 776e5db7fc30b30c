// Package metrics is the thread-safe metrics sink of the load engine.
//
// Samples are aggregated per series: counters sum, gauges keep the last
// value, rates track the share of non-zero values and trends keep an HDR
// histogram for percentiles. Submetrics ("http_req_duration{status:200}")
// are series restricted to samples whose tags match a filter.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Engine collects and aggregates samples.
//
// # Thread Safety
//
// Engine is safe for concurrent use. The series map is guarded by a
// read-mostly RWMutex, each series has its own lock, and plain counters use
// atomics. Nothing is removed while a run is in progress.
type Engine struct {
	config    EngineConfig
	startTime time.Time
	stopTime  atomic.Int64

	mu     sync.RWMutex
	series map[string]*Series
	subs   map[string][]*Series

	checksMu   sync.Mutex
	checks     map[string]*checkCounter
	checkOrder []string

	totalRequests   atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64
	totalIterations atomic.Int64
	activeVUs       atomic.Int64
	maxVUs          atomic.Int64

	// vusMu keeps the vus gauge in step with activeVUs.
	vusMu sync.Mutex

	bucketStore *TimeBucketStore

	phaseMu      sync.RWMutex
	currentPhase Phase
	phaseHistory []PhaseChange

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once
}

type checkCounter struct {
	passes       atomic.Int64
	fails        atomic.Int64
	firstFailure atomic.Pointer[CheckResult]
}

// RequestMetrics describes one completed HTTP request.
type RequestMetrics struct {
	Time     time.Time
	Duration time.Duration
	Failed   bool
	Bytes    int64
	Tags     Tags
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine and starts its
// background bucket emitter. Call Stop when the run is over.
func NewEngineWithConfig(config EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = def.BucketInterval
	}
	if config.HistogramMax <= 0 {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		config:        config,
		startTime:     time.Now(),
		series:        make(map[string]*Series),
		subs:          make(map[string][]*Series),
		checks:        make(map[string]*checkCounter),
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		currentPhase:  PhaseInit,
		emitterCancel: cancel,
	}

	for name, typ := range BuiltinMetrics {
		e.series[name] = newSeries(name, typ, nil, config)
	}

	e.emitterWg.Add(1)
	go e.runEmitter(ctx)

	return e
}

// Register declares a metric with the given type. Registering an existing
// metric with the same type is a no-op.
func (e *Engine) Register(name string, typ MetricType) error {
	if name == "" {
		return fmt.Errorf("metric name cannot be empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.series[name]; ok {
		if s.typ != typ {
			return fmt.Errorf("metric %s already registered as %s", name, s.typ)
		}
		return nil
	}
	e.series[name] = newSeries(name, typ, nil, e.config)
	return nil
}

// RegisterSubmetric registers the submetric described by key, e.g.
// "http_req_duration{status:200}". An unknown parent is registered as a
// trend. It returns the canonical key.
func (e *Engine) RegisterSubmetric(key string) (string, error) {
	name, filter, err := ParseMetricKey(key)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	parent, ok := e.series[name]
	if !ok {
		parent = newSeries(name, Trend, nil, e.config)
		e.series[name] = parent
	}

	canonical := MetricKey(name, filter)
	if filter == nil {
		return canonical, nil
	}
	if _, exists := e.series[canonical]; exists {
		return canonical, nil
	}

	sub := newSeries(name, parent.typ, filter, e.config)
	e.series[canonical] = sub
	e.subs[name] = append(e.subs[name], sub)
	return canonical, nil
}

// Record adds a sample. Samples for unknown metrics register a trend.
func (e *Engine) Record(s Sample) {
	e.mu.RLock()
	series := e.series[s.Metric]
	subs := e.subs[s.Metric]
	e.mu.RUnlock()

	if series == nil {
		series = e.getOrCreate(s.Metric)
	}

	series.add(s.Value)
	for _, sub := range subs {
		if s.Tags.Contains(sub.filter) {
			sub.add(s.Value)
		}
	}
}

func (e *Engine) getOrCreate(name string) *Series {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.series[name]; ok {
		return s
	}
	s := newSeries(name, Trend, nil, e.config)
	e.series[name] = s
	return s
}

// RecordRequest records the built-in samples of one HTTP request:
// http_reqs, http_req_duration (ms), http_req_failed and data_received.
func (e *Engine) RecordRequest(r RequestMetrics) {
	failed := 0.0
	if r.Failed {
		failed = 1
	}

	e.Record(Sample{Metric: HTTPReqs, Value: 1, Tags: r.Tags, Time: r.Time})
	e.Record(Sample{Metric: HTTPReqDuration, Value: durationMillis(r.Duration), Tags: r.Tags, Time: r.Time})
	e.Record(Sample{Metric: HTTPReqFailed, Value: failed, Tags: r.Tags, Time: r.Time})
	e.Record(Sample{Metric: DataReceived, Value: float64(r.Bytes), Tags: r.Tags, Time: r.Time})

	e.totalRequests.Add(1)
	e.totalBytes.Add(r.Bytes)
	if r.Failed {
		e.failedRequests.Add(1)
	}
	e.bucketStore.RecordRequest(r.Failed)
}

// RecordIteration records one completed iteration.
func (e *Engine) RecordIteration(t time.Time, duration time.Duration, tags Tags) {
	e.Record(Sample{Metric: Iterations, Value: 1, Tags: tags, Time: t})
	e.Record(Sample{Metric: IterationDuration, Value: durationMillis(duration), Tags: tags, Time: t})
	e.totalIterations.Add(1)
}

// RecordCheck records a check result into the checks rate and the per-check
// pass/fail counters.
func (e *Engine) RecordCheck(r CheckResult) {
	value := 0.0
	if r.Passed {
		value = 1
	}
	e.Record(Sample{Metric: Checks, Value: value, Tags: r.Tags.With("check", r.Name), Time: r.Timestamp})

	c := e.checkCounter(r.Name)
	if r.Passed {
		c.passes.Add(1)
		return
	}
	c.fails.Add(1)
	res := r
	c.firstFailure.CompareAndSwap(nil, &res)
}

func (e *Engine) checkCounter(name string) *checkCounter {
	e.checksMu.Lock()
	defer e.checksMu.Unlock()

	c, ok := e.checks[name]
	if !ok {
		c = &checkCounter{}
		e.checks[name] = c
		e.checkOrder = append(e.checkOrder, name)
	}
	return c
}

// AddActiveVUs adjusts the active VU count and records the vus and vus_max
// gauges.
func (e *Engine) AddActiveVUs(delta int) {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	n := e.activeVUs.Add(int64(delta))
	now := time.Now()
	e.Record(Sample{Metric: VUs, Value: float64(n), Time: now})

	if n > e.maxVUs.Load() {
		e.maxVUs.Store(n)
		e.Record(Sample{Metric: VUsMax, Value: float64(n), Time: now})
	}
}

// ActiveVUs returns the current active VU count.
func (e *Engine) ActiveVUs() int {
	return int(e.activeVUs.Load())
}

// Summarize returns a snapshot of the series named by key, which may carry
// a tag filter. The second result is false for unknown series.
func (e *Engine) Summarize(key string) (Summary, bool) {
	name, filter, err := ParseMetricKey(key)
	if err != nil {
		return Summary{}, false
	}

	e.mu.RLock()
	s, ok := e.series[MetricKey(name, filter)]
	e.mu.RUnlock()
	if !ok {
		return Summary{}, false
	}
	return s.summary(e.Elapsed()), true
}

// Summaries returns snapshots of every series, sorted by key.
func (e *Engine) Summaries() []Summary {
	e.mu.RLock()
	all := make([]*Series, 0, len(e.series))
	for _, s := range e.series {
		all = append(all, s)
	}
	e.mu.RUnlock()

	elapsed := e.Elapsed()
	result := make([]Summary, len(all))
	for i, s := range all {
		result[i] = s.summary(elapsed)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// CheckSummaries returns per-check totals in first-seen order.
func (e *Engine) CheckSummaries() []CheckSummary {
	e.checksMu.Lock()
	defer e.checksMu.Unlock()

	result := make([]CheckSummary, 0, len(e.checkOrder))
	for _, name := range e.checkOrder {
		c := e.checks[name]
		result = append(result, CheckSummary{
			Name:         name,
			Passes:       c.passes.Load(),
			Fails:        c.fails.Load(),
			FirstFailure: c.firstFailure.Load(),
		})
	}
	return result
}

// SetPhase updates the current test phase.
//
// Called by executors on phase transitions; the phase is stamped onto
// time buckets.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// Phase returns the current test phase.
func (e *Engine) Phase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// PhaseHistory returns the history of phase changes.
func (e *Engine) PhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// StartTime returns when the engine was created.
func (e *Engine) StartTime() time.Time { return e.startTime }

// Elapsed returns the time since start, frozen once Stop is called.
func (e *Engine) Elapsed() time.Duration {
	if stop := e.stopTime.Load(); stop != 0 {
		return time.Unix(0, stop).Sub(e.startTime)
	}
	return time.Since(e.startTime)
}

// LatencyPercentiles returns the current http_req_duration percentiles.
func (e *Engine) LatencyPercentiles() LatencyPercentiles {
	s, _ := e.Summarize(HTTPReqDuration)
	return LatencyPercentiles{
		Min: millisDuration(s.Min),
		Max: millisDuration(s.Max),
		P50: millisDuration(s.Percentile(50)),
		P90: millisDuration(s.Percentile(90)),
		P95: millisDuration(s.Percentile(95)),
		P99: millisDuration(s.Percentile(99)),
	}
}

// Snapshot returns a point-in-time view of the request counters.
func (e *Engine) Snapshot() *Snapshot {
	elapsed := e.Elapsed()
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()

	rps := 0.0
	if elapsed > 0 {
		rps = float64(total) / elapsed.Seconds()
	}
	steadyRPS, _ := e.bucketStore.SteadyStateRPS()

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return &Snapshot{
		TotalRequests:   total,
		SuccessRequests: total - failed,
		FailedRequests:  failed,
		TotalBytes:      e.totalBytes.Load(),
		TotalIterations: e.totalIterations.Load(),
		RPS:             rps,
		SteadyStateRPS:  steadyRPS,
		ErrorRate:       errorRate,
		ActiveVUs:       e.ActiveVUs(),
		MaxVUs:          int(e.maxVUs.Load()),
		CurrentPhase:    e.Phase(),
		Elapsed:         elapsed,
		StartTime:       e.startTime,
		Timestamp:       time.Now(),
	}
}

// TimeSeries returns all time buckets.
func (e *Engine) TimeSeries() []*TimeBucket {
	return e.bucketStore.Buckets()
}

// runEmitter cuts a time bucket every BucketInterval.
func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()

	e.bucketStore.cut(
		bucketTotals{
			requests:  total,
			successes: total - failed,
			failures:  failed,
			bytes:     e.totalBytes.Load(),
		},
		e.LatencyPercentiles(),
		e.ActiveVUs(),
		e.Phase(),
	)
}

// Stop stops the emitter, emits a final bucket and freezes Elapsed.
// It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
		e.stopTime.Store(time.Now().UnixNano())
	})
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func millisDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
