// Package threshold parses pass/fail expressions over aggregated metrics and
// evaluates them against the metrics engine.
package threshold

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// Comparator is a threshold comparison operator.
type Comparator string

const (
	Less           Comparator = "<"
	LessOrEqual    Comparator = "<="
	Greater        Comparator = ">"
	GreaterOrEqual Comparator = ">="
	Equal          Comparator = "=="
	NotEqual       Comparator = "!="
)

// Compare applies the operator.
func (c Comparator) Compare(actual, bound float64) bool {
	switch c {
	case Less:
		return actual < bound
	case LessOrEqual:
		return actual <= bound
	case Greater:
		return actual > bound
	case GreaterOrEqual:
		return actual >= bound
	case Equal:
		return actual == bound
	case NotEqual:
		return actual != bound
	default:
		return false
	}
}

// Expression is one parsed threshold, e.g. "p(99)<1500" on
// http_req_duration.
type Expression struct {
	// Source is the expression as written
	Source string `json:"source"`

	// Metric is the canonical metric key, possibly with a tag filter
	Metric string `json:"metric"`

	// Aggregation is "avg", "p(99)", "rate", ...
	Aggregation string `json:"aggregation"`

	// Percentile is set when Aggregation is a percentile
	Percentile float64 `json:"percentile,omitempty"`

	Comparator Comparator `json:"comparator"`

	// Bound is the right-hand side; time units are converted to milliseconds
	Bound float64 `json:"bound"`

	// Unit is the time unit written after the bound, if any
	Unit string `json:"unit,omitempty"`

	AbortOnFail    bool          `json:"abortOnFail,omitempty"`
	DelayAbortEval time.Duration `json:"delayAbortEval,omitempty"`
}

func (e *Expression) String() string {
	return e.Metric + ": " + e.Source
}

// expressionRe matches "aggregation comparator bound[unit]".
var expressionRe = regexp.MustCompile(`^(p\(\s*[\d.]+\s*\)|[A-Za-z_][\w.]*)\s*(<=|>=|==|!=|<|>)\s*(-?[\d.]+(?:[eE][-+]?\d+)?)\s*([a-zµ]*)$`)

var aggregations = map[string]bool{
	"count": true,
	"rate":  true,
	"value": true,
	"min":   true,
	"max":   true,
	"avg":   true,
	"med":   true,
}

// toMillis converts a bound in unit into milliseconds.
func toMillis(bound float64, unit string) (float64, bool) {
	switch unit {
	case "us", "µs":
		return bound / 1000, true
	case "ms":
		return bound, true
	case "s":
		return bound * 1000, true
	case "m":
		return bound * 60000, true
	default:
		return 0, false
	}
}

// Parse parses one threshold declared for metricKey. Errors wrap
// config.ErrInvalidConfig.
func Parse(metricKey string, cfg config.ThresholdConfig) (*Expression, error) {
	name, filter, err := metrics.ParseMetricKey(metricKey)
	if err != nil {
		return nil, fmt.Errorf("%w: threshold metric: %v", config.ErrInvalidConfig, err)
	}

	source := strings.TrimSpace(cfg.Threshold)
	m := expressionRe.FindStringSubmatch(source)
	if m == nil {
		return nil, fmt.Errorf("%w: invalid threshold expression %q on %s", config.ErrInvalidConfig, cfg.Threshold, metricKey)
	}

	expr := &Expression{
		Source:      source,
		Metric:      metrics.MetricKey(name, filter),
		Aggregation: strings.ReplaceAll(m[1], " ", ""),
		Comparator:  Comparator(m[2]),
		AbortOnFail: cfg.AbortOnFail,
	}

	if p, ok := metrics.ParsePercentile(expr.Aggregation); ok {
		expr.Percentile = p
	} else if !aggregations[expr.Aggregation] {
		return nil, fmt.Errorf("%w: unknown aggregation %q in threshold %q", config.ErrInvalidConfig, m[1], source)
	}

	bound, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid bound %q in threshold %q", config.ErrInvalidConfig, m[3], source)
	}
	if unit := m[4]; unit != "" {
		var ok bool
		if bound, ok = toMillis(bound, unit); !ok {
			return nil, fmt.Errorf("%w: unknown unit %q in threshold %q", config.ErrInvalidConfig, unit, source)
		}
		expr.Unit = unit
	}
	expr.Bound = bound

	if cfg.DelayAbortEval != "" {
		d, err := config.ParseDurationString(cfg.DelayAbortEval)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: invalid delayAbortEval %q in threshold %q", config.ErrInvalidConfig, cfg.DelayAbortEval, source)
		}
		expr.DelayAbortEval = d
	}

	return expr, nil
}

// ParseAll parses every threshold of a configuration, ordered by metric key
// and then declaration order.
func ParseAll(thresholds map[string]config.ThresholdList) ([]*Expression, error) {
	keys := make([]string, 0, len(thresholds))
	for k := range thresholds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var exprs []*Expression
	for _, key := range keys {
		for _, tc := range thresholds[key] {
			expr, err := Parse(key, tc)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, expr)
		}
	}
	return exprs, nil
}
