// Package binner assigns detected masses to integer isotopologue bins
// and accumulates extracted-ion chromatograms from raw scans.
package binner

import (
	"math"
	"sort"
)

// Default mass tolerance offset (Da) and its permitted domain.
const (
	DefaultTolerance = 0.2
	MinTolerance     = 0.01
	MaxTolerance     = 1.0
)

// Scan is one instrument scan: detected (mass, intensity) pairs at a
// single time. Masses and Intensities are parallel slices.
type Scan struct {
	Time        float64
	Masses      []float64
	Intensities []float64
}

// Series is a per-isotopologue time series for one (sample, compound)
// pair: Intensity[i][t] is bin M+i at Time[t].
type Series struct {
	Time      []float64
	Intensity [][]float64
}

// NumIsotopologues returns the isotopologue vector length.
func (s Series) NumIsotopologues() int { return len(s.Intensity) }

// Bin assigns a detected mass to an integer bin: half-up rounding
// after subtracting the tolerance offset. The subtraction makes the
// acceptance window asymmetric, wider on the low-mass side, to absorb
// the upward drift instruments show for larger fragments.
func Bin(mass, tol float64) int {
	return int(math.Floor(mass - tol + 0.5))
}

// TargetBin assigns a nominal target mass to its bin with the same
// half-up rule (no offset), so half-integer targets resolve
// deterministically.
func TargetBin(mass float64) int {
	return int(math.Floor(mass + 0.5))
}

// Matches reports whether a detected mass falls in the target's bin.
func Matches(mass, tol float64, target int) bool {
	return Bin(mass, tol) == target
}

// WindowScans returns the scans with time in [lo, hi]. Scans must be
// ordered by time.
func WindowScans(scans []Scan, lo, hi float64) []Scan {
	i1 := sort.Search(len(scans), func(i int) bool { return scans[i].Time >= lo })
	i2 := sort.Search(len(scans), func(i int) bool { return scans[i].Time > hi })
	return scans[i1:i2]
}

// Extract builds the isotopologue series for a target base mass over
// the given scans. Bins M+0..M+labelAtoms are tracked; peaks binning
// to the same target within one scan have their intensities summed, so
// the result does not depend on peak order in the source data.
func Extract(scans []Scan, mass0 float64, labelAtoms int, tol float64) Series {
	nIso := labelAtoms + 1
	base := TargetBin(mass0)

	s := Series{
		Time:      make([]float64, len(scans)),
		Intensity: make([][]float64, nIso),
	}
	for i := range s.Intensity {
		s.Intensity[i] = make([]float64, len(scans))
	}

	for t, scan := range scans {
		s.Time[t] = scan.Time
		for k, m := range scan.Masses {
			idx := Bin(m, tol) - base
			if idx >= 0 && idx < nIso {
				s.Intensity[idx][t] += scan.Intensities[k]
			}
		}
	}
	return s
}
