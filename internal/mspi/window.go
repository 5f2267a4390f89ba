package mspi

import (
	"log/slog"

	"github.com/micro-nova/mspi-tuning/internal/profile"
)

// Reason explains why a tuning pass fell back to the default candidate.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonWindowTooShort
	ReasonWindowTooWide
	ReasonReferenceUnstable
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonWindowTooShort:
		return "window too short"
	case ReasonWindowTooWide:
		return "window too wide"
	case ReasonReferenceUnstable:
		return "reference unstable"
	default:
		return "unknown"
	}
}

// Window is a run of consecutive passing candidates. End is the index of the
// last candidate in the run; a zero Length means nothing passed.
type Window struct {
	Length int
	End    int
}

// Start returns the index of the first candidate in the run.
func (w Window) Start() int { return w.End - w.Length + 1 }

// LongestRun finds the longest run of true values. On a tie the earliest run
// wins.
func LongestRun(results []bool) Window {
	var best Window
	run := 0
	for i, ok := range results {
		if !ok {
			run = 0
			continue
		}
		run++
		if run > best.Length {
			best = Window{Length: run, End: i}
		}
	}
	return best
}

// Selection is the outcome of window analysis.
type Selection struct {
	Index    int
	Window   Window
	Fallback bool
	Reason   Reason
}

// SelectBest picks the candidate to run at from a sweep's pass/fail results.
// It never fails: when the longest passing run is too short, or so wide that
// the test itself is suspect, it returns the table's default index and logs a
// warning.
func SelectBest(results []bool, table profile.Table, rule profile.Rule) Selection {
	w := LongestRun(results)
	sel := Selection{Window: w}

	switch {
	case w.Length < rule.MinLen:
		sel.Reason = ReasonWindowTooShort
	case w.Length > rule.MaxLen || w.Length >= len(results):
		sel.Reason = ReasonWindowTooWide
	default:
		sel.Index = w.End - rule.Offset(w.Length)
		return sel
	}

	sel.Fallback = true
	sel.Index = table.DefaultID
	slog.Warn("mspi: tuning fail, fell back to default",
		"reason", sel.Reason.String(), "run", w.Length, "run_end", w.End, "index", sel.Index)
	return sel
}
