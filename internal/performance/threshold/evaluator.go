package threshold

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// Status is the outcome of one threshold.
type Status int

const (
	StatusPass Status = iota
	StatusFail
	// StatusInsufficientData means the metric has no samples yet.
	StatusInsufficientData
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	case StatusInsufficientData:
		return "insufficient-data"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Policy decides how InsufficientData counts toward the verdict.
type Policy string

const (
	PolicyPass Policy = "pass"
	PolicyFail Policy = "fail"
)

// ParsePolicy parses "pass" or "fail"; empty means pass.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyPass:
		return PolicyPass, nil
	case PolicyFail:
		return PolicyFail, nil
	default:
		return "", fmt.Errorf("%w: insufficientData must be pass or fail, got %q", config.ErrInvalidConfig, s)
	}
}

// Result is the evaluation of one expression.
type Result struct {
	Expression *Expression `json:"expression"`
	Status     Status      `json:"status"`
	Value      float64     `json:"value"`
	Message    string      `json:"message,omitempty"`
}

// Passed resolves the result under policy.
func (r Result) Passed(policy Policy) bool {
	switch r.Status {
	case StatusPass:
		return true
	case StatusInsufficientData:
		return policy != PolicyFail
	default:
		return false
	}
}

// Source provides metric summaries. *metrics.Engine implements it.
type Source interface {
	Summarize(key string) (metrics.Summary, bool)
}

// Evaluator evaluates a fixed set of expressions against a Source.
type Evaluator struct {
	exprs  []*Expression
	source Source
	policy Policy
}

// NewEvaluator creates an evaluator.
func NewEvaluator(exprs []*Expression, source Source, policy Policy) *Evaluator {
	if policy == "" {
		policy = PolicyPass
	}
	return &Evaluator{exprs: exprs, source: source, policy: policy}
}

// Expressions returns the evaluated expressions.
func (ev *Evaluator) Expressions() []*Expression {
	return ev.exprs
}

// Policy returns the insufficient-data policy.
func (ev *Evaluator) Policy() Policy {
	return ev.policy
}

// Register declares the submetric of every expression with a tag filter so
// matching samples are aggregated from the start of the run.
func Register(engine *metrics.Engine, exprs []*Expression) error {
	for _, expr := range exprs {
		if _, err := engine.RegisterSubmetric(expr.Metric); err != nil {
			return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
	}
	return nil
}

// Validate checks that every aggregation suits the type of its metric and
// that time units only bound trends. Metrics unknown to the source are
// skipped.
func (ev *Evaluator) Validate() error {
	for _, expr := range ev.exprs {
		sum, ok := ev.source.Summarize(expr.Metric)
		if !ok {
			continue
		}
		if expr.Unit != "" && sum.Type != metrics.Trend {
			return fmt.Errorf("%w: threshold %q: time unit %q on %s metric %s", config.ErrInvalidConfig, expr.Source, expr.Unit, sum.Type, expr.Metric)
		}
		if _, err := sum.Aggregate(expr.Aggregation); err != nil {
			return fmt.Errorf("%w: threshold %q: %v", config.ErrInvalidConfig, expr.Source, err)
		}
	}
	return nil
}

// Evaluate evaluates one expression against the current summaries.
func (ev *Evaluator) Evaluate(expr *Expression) Result {
	res := Result{Expression: expr}

	sum, ok := ev.source.Summarize(expr.Metric)
	if !ok || sum.Empty() {
		res.Status = StatusInsufficientData
		res.Message = fmt.Sprintf("%s has no samples", expr.Metric)
		return res
	}

	value, err := sum.Aggregate(expr.Aggregation)
	if err != nil {
		res.Status = StatusFail
		res.Message = err.Error()
		return res
	}
	res.Value = value

	if expr.Comparator.Compare(value, expr.Bound) {
		res.Status = StatusPass
		return res
	}

	res.Status = StatusFail
	res.Message = fmt.Sprintf("%s is %s, threshold: %s %s",
		expr.Aggregation, formatFloat(value), expr.Comparator, formatFloat(expr.Bound))
	return res
}

// EvaluateAll evaluates every expression.
func (ev *Evaluator) EvaluateAll() []Result {
	results := make([]Result, 0, len(ev.exprs))
	for _, expr := range ev.exprs {
		results = append(results, ev.Evaluate(expr))
	}
	return results
}

// Verdict reports whether every result passes under the policy.
func (ev *Evaluator) Verdict(results []Result) bool {
	for _, r := range results {
		if !r.Passed(ev.policy) {
			return false
		}
	}
	return true
}

// HasAbortOnFail reports whether any expression can abort the run.
func (ev *Evaluator) HasAbortOnFail() bool {
	for _, expr := range ev.exprs {
		if expr.AbortOnFail {
			return true
		}
	}
	return false
}

// Watch evaluates abortOnFail expressions every interval until ctx is done.
// The first expression that fails after its delayAbortEval (measured from
// start) is passed to abort and Watch returns. InsufficientData never aborts.
func (ev *Evaluator) Watch(ctx context.Context, interval time.Duration, start time.Time, abort func(Result)) {
	var watched []*Expression
	for _, expr := range ev.exprs {
		if expr.AbortOnFail {
			watched = append(watched, expr)
		}
	}
	if len(watched) == 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(start)
			for _, expr := range watched {
				if elapsed < expr.DelayAbortEval {
					continue
				}
				if res := ev.Evaluate(expr); res.Status == StatusFail {
					abort(res)
					return
				}
			}
		}
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
