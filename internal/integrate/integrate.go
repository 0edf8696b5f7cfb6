// Package integrate computes trapezoidal peak areas over a retention
// time window, in either the time-based convention or the legacy
// unit-spacing convention.
package integrate

import (
	"fmt"
	"sort"
)

// Mode selects the integration convention. The two conventions must
// never be mixed within one report.
type Mode int

const (
	// TimeBased uses the actual elapsed time between samples.
	TimeBased Mode = iota
	// LegacyUnitSpacing substitutes unit spacing for dt, matching a
	// legacy tool. Values come out roughly 60-100x larger than
	// time-based depending on sampling rate.
	LegacyUnitSpacing
)

func (m Mode) String() string {
	switch m {
	case TimeBased:
		return "time"
	case LegacyUnitSpacing:
		return "legacy"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode maps the config-file spelling to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "time", "time-based", "":
		return TimeBased, nil
	case "legacy", "legacy-unit-spacing":
		return LegacyUnitSpacing, nil
	}
	return TimeBased, fmt.Errorf("unknown integration mode %q", s)
}

// Window is a retention time window [Center-LOffset, Center+ROffset].
type Window struct {
	Center  float64
	LOffset float64
	ROffset float64
}

// Bounds returns the window edges.
func (w Window) Bounds() (lo, hi float64) {
	return w.Center - w.LOffset, w.Center + w.ROffset
}

// Width returns the window width; non-positive widths are degenerate.
func (w Window) Width() float64 { return w.LOffset + w.ROffset }

// DegenerateWindowError describes a window that cannot be integrated:
// zero or negative width, or fewer than two interior points. It is a
// flag carried on the Result, not a failure.
type DegenerateWindowError struct {
	Window Window
	Points int
}

func (e *DegenerateWindowError) Error() string {
	lo, hi := e.Window.Bounds()
	return fmt.Sprintf("degenerate integration window [%g, %g]: width %g, %d interior points",
		lo, hi, e.Window.Width(), e.Points)
}

// Result is the integrated isotopologue vector for one (sample,
// compound, series) triple.
type Result struct {
	// Areas has one scalar per isotopologue.
	Areas []float64
	Mode  Mode
	// BaselineApplied reports whether the linear baseline was actually
	// subtracted (requested and at least 6 interior points).
	BaselineApplied bool
	// Clamped counts negative areas clamped to zero.
	Clamped int
	// Degenerate is non-nil when the window was unusable; Areas are
	// then all zero.
	Degenerate *DegenerateWindowError
}

// Series integrates every isotopologue trace over the window. Points
// must be ordered by time; a point exactly on a window edge belongs to
// neither adjacent window.
func Series(times []float64, intensity [][]float64, w Window, mode Mode, baseline bool) *Result {
	res := &Result{
		Areas: make([]float64, len(intensity)),
		Mode:  mode,
	}

	if w.Width() <= 0 {
		res.Degenerate = &DegenerateWindowError{Window: w}
		return res
	}

	lo, hi := w.Bounds()
	i1 := sort.Search(len(times), func(i int) bool { return times[i] > lo })
	i2 := sort.Search(len(times), func(i int) bool { return times[i] >= hi })
	ts := times[i1:i2]
	if len(ts) < 2 {
		res.Degenerate = &DegenerateWindowError{Window: w, Points: len(ts)}
		return res
	}

	applyBaseline := baseline && len(ts) >= 6
	for i, trace := range intensity {
		vals := trace[i1:i2]
		a := trapezoid(ts, vals, mode)
		if applyBaseline {
			a -= trapezoid(ts, baselineLine(ts, vals), mode)
		}
		if a < 0 {
			a = 0
			res.Clamped++
		}
		res.Areas[i] = a
	}
	res.BaselineApplied = applyBaseline
	return res
}

// Peak integrates a single pre-windowed trace. Fewer than two points
// integrate to zero.
func Peak(times, vals []float64, mode Mode) float64 {
	return trapezoid(times, vals, mode)
}

func trapezoid(times, vals []float64, mode Mode) float64 {
	if len(vals) < 2 {
		return 0
	}
	var area float64
	for i := 0; i+1 < len(vals); i++ {
		dt := 1.0
		if mode == TimeBased {
			dt = times[i+1] - times[i]
		}
		area += (vals[i] + vals[i+1]) / 2 * dt
	}
	return area
}

// baselineLine evaluates, at each sample time, the straight line
// through the mean of the first three and the mean of the last three
// in-window points. Callers guarantee at least six points.
func baselineLine(ts, vals []float64) []float64 {
	n := len(vals)
	left := (vals[0] + vals[1] + vals[2]) / 3
	right := (vals[n-3] + vals[n-2] + vals[n-1]) / 3
	x0 := (ts[0] + ts[1] + ts[2]) / 3
	x1 := (ts[n-3] + ts[n-2] + ts[n-1]) / 3

	slope := 0.0
	if x1 != x0 {
		slope = (right - left) / (x1 - x0)
	}
	line := make([]float64, n)
	for i, t := range ts {
		line[i] = left + slope*(t-x0)
	}
	return line
}
