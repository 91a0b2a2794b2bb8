// Package output renders the live progress display, the end-of-test
// summary and the JSON summary export.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/k7/internal/loadtest/engine"
	"github.com/wesleyorama2/k7/internal/loadtest/scheduler"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	ruleChar       = "━"
	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Iterations    int64
	Errors        int64
	ErrorRate     float64

	// Latencies in milliseconds
	LatencyP95 float64
	LatencyAvg float64

	// Phase lists the running scenarios, with their stage when ramping
	Phase string
}

// Palette holds the colors used by the console.
type Palette struct {
	Title   *color.Color
	Rule    *color.Color
	Label   *color.Color
	Value   *color.Color
	Pass    *color.Color
	Fail    *color.Color
	Warn    *color.Color
	Dim     *color.Color
	Section *color.Color
}

// DefaultPalette returns the default colors.
func DefaultPalette() *Palette {
	return &Palette{
		Title:   color.New(color.Bold),
		Rule:    color.New(color.FgCyan),
		Label:   color.New(color.FgMagenta),
		Value:   color.New(color.FgCyan),
		Pass:    color.New(color.FgGreen),
		Fail:    color.New(color.FgRed),
		Warn:    color.New(color.FgYellow),
		Dim:     color.New(color.Faint),
		Section: color.New(color.Bold, color.FgWhite),
	}
}

func (p *Palette) disable() {
	for _, c := range []*color.Color{p.Title, p.Rule, p.Label, p.Value, p.Pass, p.Fail, p.Warn, p.Dim, p.Section} {
		c.DisableColor()
	}
}

func (p *Palette) enable() {
	for _, c := range []*color.Color{p.Title, p.Rule, p.Label, p.Value, p.Pass, p.Fail, p.Warn, p.Dim, p.Section} {
		c.EnableColor()
	}
}

// Config contains configuration for Console.
type Config struct {
	Writer         io.Writer
	UpdateInterval time.Duration
	Quiet          bool
	NoColor        bool
	ForceColors    bool
	ForceTTY       bool
}

// Console manages console output during and after a test.
type Console struct {
	writer         io.Writer
	updateInterval time.Duration
	isTTY          bool
	quiet          bool
	palette        *Palette

	mu          sync.Mutex
	linesOutput int
}

// NewConsole creates a console writer.
func NewConsole(cfg Config) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = time.Second
	}
	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)

	palette := DefaultPalette()
	switch {
	case cfg.NoColor:
		palette.disable()
	case cfg.ForceColors || (isTTY && supportsColors()):
		palette.enable()
	default:
		palette.disable()
	}

	return &Console{
		writer:         cfg.Writer,
		updateInterval: cfg.UpdateInterval,
		isTTY:          isTTY,
		quiet:          cfg.Quiet,
		palette:        palette,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test name and its plan outline.
func (c *Console) PrintHeader(name string, plan *scheduler.Plan) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.palette
	rule := p.Rule.Sprint(strings.Repeat(ruleChar, 56))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", p.Title.Sprint(name), "Running"))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("  peak VUs: %s   duration: %s",
		p.Value.Sprint(plan.MaxVUs()), p.Value.Sprint(formatDuration(plan.TotalDuration()))))
	c.writeln("")
}

// PrintPlan prints every tag window of the plan.
func (c *Console) PrintPlan(name string, plan *scheduler.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.palette
	c.writeln(p.Title.Sprint(name))
	c.writeln(fmt.Sprintf("  peak VUs:       %s", p.Value.Sprint(plan.MaxVUs())))
	c.writeln(fmt.Sprintf("  total duration: %s", p.Value.Sprint(formatDuration(plan.TotalDuration()))))
	c.writeln("")
	c.writeln(p.Section.Sprint("  windows"))
	for _, w := range plan.Windows(nil) {
		c.writeln(fmt.Sprintf("    %-8s %-8s %-16s %4d -> %-4d %s",
			formatDuration(w.Start), formatDuration(w.End), w.Scenario, w.FromVUs, w.ToVUs,
			p.Dim.Sprint(w.Tags.Key())))
	}
	c.writeln("")
	c.writeln(p.Section.Sprint("  steps"))
	for _, s := range plan.Steps() {
		name := s.Scenario
		if name == "" {
			name = "-"
		}
		c.writeln(fmt.Sprintf("    %-8s %-16s %4d VUs", formatDuration(s.Offset), name, s.PlannedVUs))
	}
}

// Watch refreshes the live display every update interval until ctx is
// done. On a terminal the display is redrawn in place; otherwise one line
// is printed per interval.
func (c *Console) Watch(ctx context.Context, stats func() *LiveStats) {
	if c.quiet {
		return
	}
	ticker := time.NewTicker(c.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := stats()
			if s == nil {
				continue
			}
			if c.isTTY {
				c.Update(s)
			} else {
				c.PrintNonInteractiveUpdate(s)
			}
		}
	}
}

// Update redraws the live display in place.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLive(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *Console) renderLive(s *LiveStats) []string {
	p := c.palette
	errColor := p.Pass
	if s.ErrorRate > 0.01 {
		errColor = p.Warn
	}
	if s.ErrorRate > 0.05 {
		errColor = p.Fail
	}
	return []string{
		fmt.Sprintf("progress %s %s | %s",
			p.Pass.Sprint(renderProgressBar(s.Progress, 40)),
			p.Title.Sprintf("%.0f%%", s.Progress*100),
			p.Dim.Sprintf("%s / %s", formatDuration(s.Elapsed), formatDuration(s.Elapsed+s.Remaining))),
		fmt.Sprintf("running  %s", p.Label.Sprint(s.Phase)),
		fmt.Sprintf("vus      %s / %d   reqs %s   iters %s",
			p.Value.Sprint(s.ActiveVUs), s.TargetVUs,
			p.Value.Sprint(formatNumber(s.TotalRequests)),
			p.Value.Sprint(formatNumber(s.Iterations))),
		fmt.Sprintf("rps      %s   errors %s (%s)   p95 %s   avg %s",
			p.Pass.Sprintf("%.1f", s.CurrentRPS),
			errColor.Sprint(s.Errors), errColor.Sprintf("%.1f%%", s.ErrorRate*100),
			formatMillis(s.LatencyP95), formatMillis(s.LatencyAvg)),
	}
}

// PrintNonInteractiveUpdate prints a single status line. Used when output
// is not a terminal, e.g. in CI logs.
func (c *Console) PrintNonInteractiveUpdate(s *LiveStats) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %.0f%% | %s | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(s.Elapsed), s.Progress*100, s.Phase,
		s.ActiveVUs, s.TargetVUs, s.TotalRequests, s.CurrentRPS,
		s.Errors, s.ErrorRate*100, formatMillis(s.LatencyP95)))
}

func (c *Console) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromEngine builds LiveStats from a running engine.
func StatsFromEngine(eng *engine.Engine) *LiveStats {
	snap := eng.Snapshot()
	if snap == nil {
		return nil
	}
	progress := eng.Progress()
	total := eng.Plan().TotalDuration()
	remaining := total - snap.Elapsed
	if remaining < 0 {
		remaining = 0
	}

	s := &LiveStats{
		Progress:      progress,
		Elapsed:       snap.Elapsed,
		Remaining:     remaining,
		ActiveVUs:     snap.ActiveVUs,
		CurrentRPS:    snap.RPS,
		TotalRequests: snap.TotalRequests,
		Iterations:    snap.Iterations,
		Errors:        snap.FailedRequests,
		ErrorRate:     snap.ErrorRate,
		LatencyP95:    snap.P95Latency,
		LatencyAvg:    snap.AvgLatency,
	}

	stats := eng.Stats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	var phases []string
	for _, name := range names {
		st := stats[name]
		if st == nil || st.StartTime.IsZero() || (st.TotalDuration > 0 && st.Elapsed >= st.TotalDuration) {
			continue
		}
		s.TargetVUs += st.TargetVUs
		phase := name
		if st.TotalStages > 1 {
			phase = fmt.Sprintf("%s (%d/%d)", name, st.CurrentStage+1, st.TotalStages)
		}
		if st.RampUp {
			phase += " ramping"
		}
		phases = append(phases, phase)
	}
	s.Phase = strings.Join(phases, ", ")
	if s.Phase == "" {
		s.Phase = "waiting"
	}
	return s
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
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
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm%02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatMillis formats a latency given in milliseconds.
func formatMillis(ms float64) string {
	switch {
	case ms <= 0:
		return "0ms"
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.2fms", ms)
	case ms < 60000:
		return fmt.Sprintf("%.2fs", ms/1000)
	default:
		return fmt.Sprintf("%.1fm", ms/60000)
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if n < 0 || len(str) <= 3 {
		return str
	}
	var b strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		b.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}
