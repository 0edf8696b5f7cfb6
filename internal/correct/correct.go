// Package correct recovers true isotopologue abundance from measured
// signal by solving the natural-abundance deconvolution per timepoint
// (or once per integrated total, in the approximate mode).
package correct

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"isoquant/internal/isotope"
)

// Timepoints whose total intensity is at or below this are left at
// zero instead of being normalized.
const epsTotal = 1e-10

// ConfigurationMismatchError reports an isotopologue vector whose
// length disagrees with labelAtoms+1. Fatal for the compound.
type ConfigurationMismatchError struct {
	Want int
	Got  int
}

func (e *ConfigurationMismatchError) Error() string {
	return fmt.Sprintf("isotopologue vector length %d does not match labelAtoms+1 = %d", e.Got, e.Want)
}

// Result carries a corrected intensity block plus diagnostics.
type Result struct {
	// Intensity is [nIsotopologues][nTimepoints]; a fresh allocation,
	// the input series is never mutated.
	Intensity [][]float64
	// Clamped counts negative solution entries clamped to zero.
	Clamped int
	// Cond is the correction matrix condition number, diagnostic only.
	Cond float64
}

// Series applies the correction to a whole time series sharing one
// matrix. The solve is a single batched linear solve across all
// timepoints; results are identical to correcting one timepoint at a
// time.
//
// Sequence per timepoint: normalize by the total, direct solve
// A·x = b_norm, rescale by the total, divide each isotopologue by the
// matrix's own diagonal entry, clamp negatives to zero. There is
// exactly one solver, used for well- and ill-conditioned matrices
// alike.
func Series(m *isotope.Matrix, raw [][]float64) (*Result, error) {
	n := m.Size()
	if len(raw) != n {
		return nil, &ConfigurationMismatchError{Want: n, Got: len(raw)}
	}
	if n == 0 {
		return nil, &ConfigurationMismatchError{Want: 1, Got: 0}
	}
	nT := len(raw[0])
	for i := range raw {
		if len(raw[i]) != nT {
			return nil, fmt.Errorf("ragged intensity block: row %d has %d points, want %d", i, len(raw[i]), nT)
		}
	}

	res := &Result{Cond: m.Cond}
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, nT)
	}
	res.Intensity = out
	if nT == 0 {
		return res, nil
	}

	totals := make([]float64, nT)
	for i := 0; i < n; i++ {
		floats.Add(totals, raw[i])
	}

	// Single-bin special case: the system degenerates to a scalar
	// division by the lone diagonal entry, with no solve. A naive 1x1
	// solve followed by the diagonal divide would divide twice.
	if n == 1 {
		diag := m.A.At(0, 0)
		for t := 0; t < nT; t++ {
			v := totals[t]
			if diag > 0 {
				v /= diag
			}
			if v < 0 {
				v = 0
				res.Clamped++
			}
			out[0][t] = v
		}
		return res, nil
	}

	b := mat.NewDense(n, nT, nil)
	for t := 0; t < nT; t++ {
		if totals[t] <= epsTotal {
			continue
		}
		for i := 0; i < n; i++ {
			b.Set(i, t, raw[i][t]/totals[t])
		}
	}

	var x mat.Dense
	if err := x.Solve(m.A, b); err != nil {
		return nil, fmt.Errorf("correction solve failed: %w", err)
	}

	diag := m.Diagonal()
	for t := 0; t < nT; t++ {
		for i := 0; i < n; i++ {
			v := x.At(i, t) * totals[t]
			if diag[i] > 0 {
				v /= diag[i]
			}
			if v < 0 {
				v = 0
				res.Clamped++
			}
			out[i][t] = v
		}
	}
	return res, nil
}

// Vector corrects a single isotopologue vector, e.g. an integrated
// total in the approximate whole-series mode.
func Vector(m *isotope.Matrix, v []float64) ([]float64, int, error) {
	block := make([][]float64, len(v))
	for i, val := range v {
		block[i] = []float64{val}
	}
	res, err := Series(m, block)
	if err != nil {
		return nil, 0, err
	}
	out := make([]float64, len(v))
	for i := range out {
		out[i] = res.Intensity[i][0]
	}
	return out, res.Clamped, nil
}
