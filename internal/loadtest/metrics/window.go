package metrics

import "time"

// Window is the span during which a scenario ran with a given tag set.
// A ramping scenario opens a new window whenever its rampUp tag flips.
type Window struct {
	Scenario string    `json:"scenario"`
	Tags     Tags      `json:"tags"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`
	PeakVUs  int       `json:"peakVUs"`
}

// Duration returns the window length, or zero while it is still open.
func (w Window) Duration() time.Duration {
	if w.End.IsZero() {
		return 0
	}
	return w.End.Sub(w.Start)
}

// OpenWindow starts a window for scenario, closing any window it already
// has open at the same instant.
func (e *Engine) OpenWindow(scenario string, tags Tags, at time.Time) {
	e.winMu.Lock()
	defer e.winMu.Unlock()

	if w, ok := e.open[scenario]; ok {
		if w.Tags.Key() == tags.Key() {
			return
		}
		w.End = at
	}
	w := &Window{Scenario: scenario, Tags: tags.Clone(), Start: at}
	e.windows = append(e.windows, w)
	e.open[scenario] = w
}

// CloseWindow ends the open window of scenario, if any.
func (e *Engine) CloseWindow(scenario string, at time.Time) {
	e.winMu.Lock()
	defer e.winMu.Unlock()

	if w, ok := e.open[scenario]; ok {
		w.End = at
		delete(e.open, scenario)
	}
}

// CloseAllWindows ends every open window.
func (e *Engine) CloseAllWindows(at time.Time) {
	e.winMu.Lock()
	defer e.winMu.Unlock()

	for name, w := range e.open {
		w.End = at
		delete(e.open, name)
	}
}

// Windows returns copies of the recorded windows whose tags include
// selector, in the order they were opened.
func (e *Engine) Windows(selector Tags) []Window {
	e.winMu.Lock()
	defer e.winMu.Unlock()

	out := make([]Window, 0, len(e.windows))
	for _, w := range e.windows {
		if w.Tags.Matches(selector) {
			c := *w
			c.Tags = w.Tags.Clone()
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) rampingUp() bool {
	e.winMu.Lock()
	defer e.winMu.Unlock()

	for _, w := range e.open {
		if w.Tags[TagRampUp] == "true" {
			return true
		}
	}
	return false
}
