package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const promNamespace = "stampede"

var summaryQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Collector exports the live aggregates of an Engine to Prometheus.
//
// Metric sets change as custom metrics are registered, so the collector is
// unchecked: Describe sends nothing and Collect builds const metrics from
// the current summaries. Submetrics are not exported. When two metric names
// map onto the same Prometheus name, the first one in summary order wins.
type Collector struct {
	engine *Engine

	rpsDesc   *prometheus.Desc
	phaseDesc *prometheus.Desc
}

// NewCollector returns a Collector reading from engine.
func NewCollector(engine *Engine) *Collector {
	return &Collector{
		engine: engine,
		rpsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "interval_rps"),
			"Requests per second over the last time bucket",
			nil, nil,
		),
		phaseDesc: prometheus.NewDesc(
			prometheus.BuildFQName(promNamespace, "", "phase"),
			"Current test phase",
			[]string{"phase"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	seen := map[string]bool{
		prometheus.BuildFQName(promNamespace, "", "interval_rps"): true,
		prometheus.BuildFQName(promNamespace, "", "phase"):        true,
	}
	for _, s := range c.engine.Summaries() {
		if strings.ContainsRune(s.Name, '{') {
			continue
		}
		fq, m := summaryMetric(s)
		if m == nil || seen[fq] {
			continue
		}
		seen[fq] = true
		ch <- m
	}

	if b := c.engine.bucketStore.Latest(); b != nil {
		ch <- prometheus.MustNewConstMetric(c.rpsDesc, prometheus.GaugeValue, b.IntervalRPS)
	}
	ch <- prometheus.MustNewConstMetric(c.phaseDesc, prometheus.GaugeValue, 1, string(c.engine.Phase()))
}

// summaryMetric returns the exported name and const metric of a summary.
func summaryMetric(s Summary) (string, prometheus.Metric) {
	fq := prometheus.BuildFQName(promNamespace, "", promName(s.Name))

	switch s.Type {
	case Counter:
		fq += "_total"
		desc := prometheus.NewDesc(fq, s.Name+" counter", nil, nil)
		return fq, prometheus.MustNewConstMetric(desc, prometheus.CounterValue, s.Sum)
	case Gauge:
		desc := prometheus.NewDesc(fq, s.Name+" gauge", nil, nil)
		return fq, prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, s.Value)
	case Rate:
		fq += "_ratio"
		desc := prometheus.NewDesc(fq, s.Name+" rate of non-zero samples", nil, nil)
		return fq, prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, s.Rate())
	case Trend:
		quantiles := make(map[float64]float64, len(summaryQuantiles))
		for _, q := range summaryQuantiles {
			quantiles[q] = s.Percentile(q * 100)
		}
		desc := prometheus.NewDesc(fq, s.Name+" trend", nil, nil)
		return fq, prometheus.MustNewConstSummary(desc, uint64(s.Count), s.Sum, quantiles)
	}
	return fq, nil
}

// promName maps a metric name onto the Prometheus name charset.
func promName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
