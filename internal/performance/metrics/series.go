package metrics

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// trendScale converts trend values to histogram integers; three decimal
// places are kept (microseconds when the value is in milliseconds).
const trendScale = 1000

// Series accumulates the samples of one metric or submetric.
//
// Every series has its own lock so writers to different metrics never
// contend. HDR histogram RecordValue is not thread-safe, so the histogram
// is only touched under mu.
type Series struct {
	name   string
	typ    MetricType
	filter Tags

	mu     sync.Mutex
	count  int64
	sum    float64
	min    float64
	max    float64
	last   float64
	passes int64
	hist   *hdrhistogram.Histogram
	maxVal int64
}

func newSeries(name string, typ MetricType, filter Tags, cfg EngineConfig) *Series {
	s := &Series{
		name:   name,
		typ:    typ,
		filter: filter,
		min:    math.Inf(1),
		max:    math.Inf(-1),
		maxVal: cfg.HistogramMax,
	}
	if typ == Trend {
		s.hist = hdrhistogram.New(1, cfg.HistogramMax, cfg.HistogramSigFigs)
	}
	return s
}

// Name returns the canonical key of the series.
func (s *Series) Name() string { return MetricKey(s.name, s.filter) }

// Type returns the metric type.
func (s *Series) Type() MetricType { return s.typ }

func (s *Series) add(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += value
	s.last = value
	if value < s.min {
		s.min = value
	}
	if value > s.max {
		s.max = value
	}

	switch s.typ {
	case Rate:
		if value != 0 {
			s.passes++
		}
	case Trend:
		v := int64(math.Round(value * trendScale))
		if v < 0 {
			v = 0
		}
		if v > s.maxVal {
			v = s.maxVal
		}
		_ = s.hist.RecordValue(v)
	}
}

// summary returns a consistent copy of the series. The histogram is copied
// under the lock so percentile queries never race with writers.
func (s *Series) summary(elapsed time.Duration) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		Name:    s.Name(),
		Type:    s.typ,
		Count:   s.count,
		Sum:     s.sum,
		Value:   s.last,
		Passes:  s.passes,
		Elapsed: elapsed,
	}
	if s.count > 0 {
		sum.Min = s.min
		sum.Max = s.max
		sum.Avg = s.sum / float64(s.count)
	}
	if s.hist != nil {
		sum.hist = hdrhistogram.Import(s.hist.Export())
	}
	return sum
}

// Summary is a point-in-time aggregate of one series.
type Summary struct {
	Name    string        `json:"name"`
	Type    MetricType    `json:"type"`
	Count   int64         `json:"count"`
	Sum     float64       `json:"sum"`
	Min     float64       `json:"min"`
	Max     float64       `json:"max"`
	Avg     float64       `json:"avg"`
	Value   float64       `json:"value"`
	Passes  int64         `json:"passes"`
	Elapsed time.Duration `json:"-"`

	hist *hdrhistogram.Histogram
}

// Empty reports whether the series has no samples.
func (s Summary) Empty() bool { return s.Count == 0 }

// Fails returns the number of zero samples of a rate.
func (s Summary) Fails() int64 { return s.Count - s.Passes }

// Rate returns the pass fraction for rates, or the per-second rate of the
// total for counters.
func (s Summary) Rate() float64 {
	switch s.Type {
	case Rate:
		if s.Count == 0 {
			return 0
		}
		return float64(s.Passes) / float64(s.Count)
	case Counter:
		if s.Elapsed <= 0 {
			return 0
		}
		return s.Sum / s.Elapsed.Seconds()
	default:
		return 0
	}
}

// Percentile returns the p-th percentile (0-100) of a trend.
func (s Summary) Percentile(p float64) float64 {
	if s.hist == nil || s.Count == 0 {
		return 0
	}
	return float64(s.hist.ValueAtQuantile(p)) / trendScale
}

// Aggregate computes the named aggregation.
//
// Supported aggregations by type:
//   - counter: count, rate
//   - gauge: value, min, max
//   - rate: rate
//   - trend: avg, min, max, med, count, p(N), pN
func (s Summary) Aggregate(agg string) (float64, error) {
	agg = strings.TrimSpace(agg)

	switch s.Type {
	case Counter:
		switch agg {
		case "count":
			return s.Sum, nil
		case "rate":
			return s.Rate(), nil
		}
	case Gauge:
		switch agg {
		case "value":
			return s.Value, nil
		case "min":
			return s.Min, nil
		case "max":
			return s.Max, nil
		}
	case Rate:
		if agg == "rate" {
			return s.Rate(), nil
		}
	case Trend:
		switch agg {
		case "avg":
			return s.Avg, nil
		case "min":
			return s.Min, nil
		case "max":
			return s.Max, nil
		case "med":
			return s.Percentile(50), nil
		case "count":
			return float64(s.Count), nil
		}
		if p, ok := ParsePercentile(agg); ok {
			return s.Percentile(p), nil
		}
	}

	return 0, fmt.Errorf("aggregation %q is not supported for %s metric %s", agg, s.Type, s.Name)
}

// ParsePercentile parses "p(99)", "p(99.9)" or "p95" into a percentile.
func ParsePercentile(agg string) (float64, bool) {
	if !strings.HasPrefix(agg, "p") {
		return 0, false
	}
	raw := agg[1:]
	if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") {
		raw = raw[1 : len(raw)-1]
	}
	p, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || p < 0 || p > 100 {
		return 0, false
	}
	return p, true
}
