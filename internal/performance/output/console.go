// Package output renders load test results for people and machines.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title     *color.Color
	Rule      *color.Color
	Value     *color.Color
	Success   *color.Color
	Warn      *color.Color
	Error     *color.Color
	Dim       *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.Bold),
		Rule:      color.New(color.FgCyan),
		Value:     color.New(color.FgCyan),
		Success:   color.New(color.FgGreen),
		Warn:      color.New(color.FgYellow),
		Error:     color.New(color.FgRed),
		Dim:       color.New(color.Faint),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

// SetEnabled turns every color of the scheme on or off, regardless of the
// global color.NoColor.
func (s *ColorScheme) SetEnabled(enabled bool) {
	for _, c := range []*color.Color{s.Title, s.Rule, s.Value, s.Success, s.Warn, s.Error, s.Dim, s.Highlight} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
}

// Console prints progress lines and the end-of-test summary.
type Console struct {
	writer io.Writer
	colors *ColorScheme
	quiet  bool
	isTTY  bool
}

// NewConsole creates a console printer. Colors are used only on a terminal
// unless forced.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := isTerminal(config.Writer)
	colors := DefaultColorScheme()
	colors.SetEnabled(config.ForceColors || (isTTY && !config.NoColor && os.Getenv("NO_COLOR") == ""))

	return &Console{
		writer: config.Writer,
		colors: colors,
		quiet:  config.Quiet,
		isTTY:  isTTY,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test header.
func (c *Console) PrintHeader(name, runID string, duration time.Duration) {
	if c.quiet {
		return
	}
	c.writeln("")
	c.writeln(c.colors.Highlight.Sprint("stampede") + " " + c.colors.Title.Sprint(name))
	c.writeln(c.colors.Dim.Sprintf("run %s, up to %s", runID, formatDuration(duration)))
	c.writeln("")
}

// PrintProgress prints a one-line status update.
func (c *Console) PrintProgress(s *metrics.Snapshot, progress float64) {
	if c.quiet || s == nil {
		return
	}
	c.writeln(fmt.Sprintf("[%s] %3.0f%% | %-9s | VUs: %d | Reqs: %s | RPS: %.1f | Errors: %.1f%%",
		formatDuration(s.Elapsed),
		progress*100,
		s.CurrentPhase,
		s.ActiveVUs,
		formatNumber(s.TotalRequests),
		s.RPS,
		s.ErrorRate*100,
	))
}

// PrintSummary prints the final test summary.
func (c *Console) PrintSummary(result *engine.TestResult) {
	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.Success.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Error.Sprint("FAILED"))
		}
		return
	}

	report := NewReport(result)

	line := strings.Repeat("━", 56)
	status := c.colors.Success.Sprint("Completed ✓")
	switch {
	case result.Aborted:
		status = c.colors.Error.Sprint("Aborted ✗")
	case result.Interrupted:
		status = c.colors.Warn.Sprint("Interrupted")
	case !result.Passed:
		status = c.colors.Error.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), status))
	c.writeln(c.colors.Rule.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(result.Duration))))
	if result.Metrics != nil {
		c.writeln(fmt.Sprintf("Total Reqs:    %s", c.colors.Value.Sprint(formatNumber(result.Metrics.TotalRequests))))

		successRate := 1.0 - result.Metrics.ErrorRate
		successColor := c.colors.Success
		if successRate < 0.99 {
			successColor = c.colors.Warn
		}
		if successRate < 0.95 {
			successColor = c.colors.Error
		}
		c.writeln(fmt.Sprintf("Success Rate:  %s", successColor.Sprintf("%.1f%%", successRate*100)))
		c.writeln(fmt.Sprintf("Max VUs:       %s", c.colors.Value.Sprint(result.Metrics.MaxVUs)))
	}
	if result.AbortReason != "" {
		c.writeln(fmt.Sprintf("Abort Reason:  %s", c.colors.Error.Sprint(result.AbortReason)))
	}
	if result.Error != "" {
		c.writeln(fmt.Sprintf("Error:         %s", c.colors.Error.Sprint(result.Error)))
	}
	c.writeln("")

	if len(result.Checks) > 0 {
		c.writeln(c.colors.Title.Sprint("Checks:"))
		for _, check := range result.Checks {
			total := check.Passes + check.Fails
			icon := c.colors.Success.Sprint("✓")
			if check.Fails > 0 {
				icon = c.colors.Error.Sprint("✗")
			}
			pct := 0.0
			if total > 0 {
				pct = float64(check.Passes) / float64(total) * 100
			}
			c.writeln(fmt.Sprintf("  %s %s %s", icon, check.Name,
				c.colors.Dim.Sprintf("(%.1f%%, %d/%d)", pct, check.Passes, total)))
		}
		c.writeln("")
	}

	if len(report.Metrics) > 0 {
		c.writeln(c.colors.Title.Sprint("Metrics:"))
		for _, name := range report.MetricNames() {
			m := report.Metrics[name]
			if len(m.Values) == 0 || isEmpty(m) {
				continue
			}
			c.writeln(fmt.Sprintf("  %-38s %s", name, formatValues(name, m)))
		}
		c.writeln("")
	}

	if len(report.Thresholds) > 0 {
		c.writeln(c.colors.Title.Sprint("Thresholds:"))
		for i, t := range report.Thresholds {
			icon := thresholdIcon(result.Thresholds[i].Status, t.Passed)
			switch icon {
			case "✓":
				icon = c.colors.Success.Sprint(icon)
			case "?":
				icon = c.colors.Warn.Sprint(icon)
			default:
				icon = c.colors.Error.Sprint(icon)
			}
			detail := fmt.Sprintf("(actual: %s)", formatFloat(t.Value))
			if t.Status != "pass" && t.Status != "fail" {
				detail = fmt.Sprintf("(%s, counted as %s)", t.Status, result.Policy)
			}
			c.writeln(fmt.Sprintf("  %s %s %s %s", icon, t.Metric, t.Expression, c.colors.Dim.Sprint(detail)))
		}
		c.writeln("")
	}
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// isEmpty reports whether a metric saw no samples at all.
func isEmpty(m MetricReport) bool {
	switch m.Type {
	case metrics.Trend:
		return m.Values["count"] == 0
	case metrics.Rate:
		return m.Values["passes"]+m.Values["fails"] == 0
	case metrics.Counter:
		return m.Values["count"] == 0
	default:
		return false
	}
}

// formatValues renders the values of one metric on a single line.
func formatValues(name string, m MetricReport) string {
	v := m.Values
	switch m.Type {
	case metrics.Trend:
		f := formatMillis
		if !isTimeMetric(name) {
			f = formatFloat
		}
		return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s p(99)=%s",
			f(v["avg"]), f(v["min"]), f(v["med"]), f(v["max"]), f(v["p(90)"]), f(v["p(95)"]), f(v["p(99)"]))
	case metrics.Counter:
		return fmt.Sprintf("%s %s/s", formatFloat(v["count"]), formatFloat(v["rate"]))
	case metrics.Rate:
		return fmt.Sprintf("%.2f%% %s ✓ %s ✗", v["rate"]*100, formatFloat(v["passes"]), formatFloat(v["fails"]))
	case metrics.Gauge:
		return fmt.Sprintf("%s min=%s max=%s", formatFloat(v["value"]), formatFloat(v["min"]), formatFloat(v["max"]))
	default:
		return ""
	}
}

// isTimeMetric reports whether the base metric holds milliseconds.
func isTimeMetric(key string) bool {
	name := key
	if i := strings.IndexByte(key, '{'); i >= 0 {
		name = key[:i]
	}
	return name == metrics.HTTPReqDuration || name == metrics.IterationDuration
}

// formatMillis renders a millisecond value as a duration.
func formatMillis(ms float64) string {
	return formatDurationShort(time.Duration(ms * float64(time.Millisecond)))
}

func formatFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
