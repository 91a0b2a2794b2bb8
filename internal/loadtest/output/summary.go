package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wesleyorama2/k7/internal/loadtest/engine"
	"github.com/wesleyorama2/k7/internal/loadtest/threshold"
)

const metricNameWidth = 44

// PrintSummary prints the end-of-test summary. In quiet mode only the
// verdict and the failed thresholds and checks are printed.
func (c *Console) PrintSummary(result *engine.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.palette
	if c.quiet {
		c.writeln(verdict(result, p))
		c.printFailures(result)
		return
	}
	if c.isTTY {
		c.clearLive()
	}

	rule := p.Rule.Sprint(strings.Repeat(ruleChar, 56))
	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", p.Title.Sprint(result.Name), verdict(result, p)))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("  duration: %s", p.Value.Sprint(formatDuration(result.Duration))))
	if result.Aborted {
		c.writeln(fmt.Sprintf("  aborted:  %s", p.Fail.Sprint(result.AbortCause)))
	}
	if result.ErrorMessage != "" && !result.Aborted {
		c.writeln(fmt.Sprintf("  error:    %s", p.Fail.Sprint(result.ErrorMessage)))
	}

	if len(result.Thresholds) > 0 {
		c.writeln("")
		c.writeln(p.Section.Sprint("  THRESHOLDS"))
		c.printThresholds(result)
	}

	if len(result.Checks) > 0 {
		c.writeln("")
		c.writeln(p.Section.Sprint("  CHECKS"))
		for _, ch := range result.Checks {
			mark := p.Pass.Sprint("✓")
			if ch.Fails > 0 {
				mark = p.Fail.Sprint("✗")
			}
			total := ch.Passes + ch.Fails
			pct := 0.0
			if total > 0 {
				pct = float64(ch.Passes) / float64(total) * 100
			}
			c.writeln(fmt.Sprintf("    %s %s %s", mark, ch.Name,
				p.Dim.Sprintf("%.2f%% (%d passed, %d failed)", pct, ch.Passes, ch.Fails)))
		}
	}

	if len(result.Metrics) > 0 {
		c.writeln("")
		c.writeln(p.Section.Sprint("  METRICS"))
		for _, name := range result.MetricNames() {
			m := result.Metrics[name]
			c.writeln(fmt.Sprintf("    %s %s", dotted(name), formatMetric(m, result.TrendStats, p)))
		}
	}

	if len(result.Scenarios) > 0 {
		c.writeln("")
		c.writeln(p.Section.Sprint("  SCENARIOS"))
		for _, name := range sortedKeys(result.Scenarios) {
			s := result.Scenarios[name]
			line := fmt.Sprintf("    %-20s %-22s iterations=%d requests=%d",
				name, p.Dim.Sprint(s.Executor), s.Iterations, s.Requests)
			if s.DroppedIterations > 0 {
				line += p.Warn.Sprintf(" dropped=%d", s.DroppedIterations)
			}
			c.writeln(line)
		}
	}
	c.writeln("")
}

func (c *Console) printThresholds(result *engine.TestResult) {
	p := c.palette
	last := ""
	for _, t := range result.Thresholds {
		if t.Key != last {
			c.writeln("    " + t.Key)
			last = t.Key
		}
		var mark string
		switch t.State {
		case threshold.StateFailing, threshold.StateAborted:
			mark = p.Fail.Sprint("✗")
		case threshold.StatePassing:
			mark = p.Pass.Sprint("✓")
		default:
			mark = p.Warn.Sprint("-")
		}
		actual := "no data"
		if t.HasValue {
			actual = formatValue(t.Key, t.Value)
		}
		line := fmt.Sprintf("    %s '%s' %s", mark, t.Expression, p.Dim.Sprint(actual))
		if t.AbortOnFail {
			line += p.Dim.Sprint(" (abortOnFail)")
		}
		c.writeln(line)
	}
}

// printFailures lists every failed threshold and check by name.
func (c *Console) printFailures(result *engine.TestResult) {
	p := c.palette
	mark := p.Fail.Sprint("✗")
	for _, t := range result.Thresholds {
		if t.Passed() {
			continue
		}
		actual := "no data"
		if t.HasValue {
			actual = formatValue(t.Key, t.Value)
		}
		c.writeln(fmt.Sprintf("  %s threshold %s '%s' %s", mark, t.Key, t.Expression, p.Dim.Sprint(actual)))
	}
	for _, ch := range result.Checks {
		if ch.Fails > 0 {
			c.writeln(fmt.Sprintf("  %s check %s %s", mark, ch.Name,
				p.Dim.Sprintf("(%d passed, %d failed)", ch.Passes, ch.Fails)))
		}
	}
}

func verdict(result *engine.TestResult, p *Palette) string {
	switch {
	case result.Aborted:
		return p.Fail.Sprint("ABORTED ✗")
	case result.Passed:
		return p.Pass.Sprint("PASSED ✓")
	default:
		return p.Fail.Sprint("FAILED ✗")
	}
}

func formatMetric(m engine.MetricSummary, trendStats []string, p *Palette) string {
	switch m.Kind {
	case "trend":
		parts := make([]string, 0, len(trendStats))
		for _, stat := range trendStats {
			v, ok := m.Values[stat]
			if !ok {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%s", stat, p.Value.Sprint(formatValue(m.Name, v))))
		}
		return strings.Join(parts, " ")
	case "rate":
		return fmt.Sprintf("%s %s", p.Value.Sprintf("%.2f%%", m.Values["rate"]*100),
			p.Dim.Sprintf("%.0f out of %d", m.Values["passes"], m.Count))
	case "counter":
		return fmt.Sprintf("%s %s", p.Value.Sprint(formatNumber(int64(m.Values["count"]))),
			p.Dim.Sprintf("%.2f/s", m.Values["rate"]))
	case "gauge":
		return fmt.Sprintf("%s %s", p.Value.Sprintf("%g", m.Values["value"]),
			p.Dim.Sprintf("min=%g max=%g", m.Values["min"], m.Values["max"]))
	default:
		return ""
	}
}

// formatValue renders duration metrics in time units and everything
// else as a plain number.
func formatValue(metric string, v float64) string {
	if strings.Contains(metric, "duration") {
		return formatMillis(v)
	}
	return fmt.Sprintf("%g", v)
}

func dotted(name string) string {
	if len(name) >= metricNameWidth {
		return name + ":"
	}
	return name + strings.Repeat(".", metricNameWidth-len(name)) + ":"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
