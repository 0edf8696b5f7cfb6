package isotope

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"isoquant/internal/formula"
)

// Matrix is a square natural-abundance correction matrix together with
// its condition number. Column j holds the theoretical relative
// intensity across bins M+0..M+N produced by a population with exactly
// j labeled atoms. The condition number is a diagnostic only; it never
// selects a solve path.
type Matrix struct {
	A    *mat.Dense
	Cond float64
}

// Size returns the isotopologue vector length (labelAtoms+1).
func (m *Matrix) Size() int {
	r, _ := m.A.Dims()
	return r
}

// Diagonal returns a copy of the matrix diagonal.
func (m *Matrix) Diagonal() []float64 {
	n := m.Size()
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = m.A.At(i, i)
	}
	return d
}

// Build constructs the correction matrix for an effective formula,
// labeled element and label position count.
//
// purity is the tracer enrichment per labeled position: 1 means each
// labeled position sits exactly at its nominal shift (a delta), while
// e.g. 0.99 spreads each labeled position over [0.01, 0.99] the way
// the legacy tool modeled imperfect tracers.
//
// Mass shifts beyond bin labelAtoms are dropped, since only bins
// 0..labelAtoms are tracked. The truncation is what makes diagonal
// entries fall below one, which in turn is what the diagonal-divide
// step of the corrector compensates for.
func Build(eff formula.Formula, labelElement string, labelAtoms int, purity float64) (*Matrix, error) {
	if labelAtoms < 0 {
		return nil, fmt.Errorf("labelAtoms must be >= 0, got %d", labelAtoms)
	}
	if purity <= 0 || purity > 1 {
		return nil, fmt.Errorf("label purity must be in (0, 1], got %g", purity)
	}
	labelDist, ok := Abundance(labelElement)
	if !ok {
		return nil, fmt.Errorf("no isotope distribution for labeled element %q", labelElement)
	}

	n := labelAtoms + 1

	// Natural background over all unlabeled atoms. For the labeled
	// element only the positions beyond the labelable ones count here;
	// the labelable positions are handled per column below.
	nat := []float64{1}
	for _, elem := range canonicalElements(eff) {
		count := eff[elem]
		if elem == labelElement {
			count -= labelAtoms
		}
		if count <= 0 {
			continue
		}
		dist, ok := Abundance(elem)
		if !ok {
			return nil, fmt.Errorf("no isotope distribution for element %q", elem)
		}
		for k := 0; k < count; k++ {
			nat = convolve(nat, dist)
		}
	}

	purityDist := []float64{1 - purity, purity}

	a := mat.NewDense(n, n, nil)
	for j := 0; j < n; j++ {
		col := nat
		// Labelable positions not carrying experimental label follow
		// the element's natural distribution.
		for k := 0; k < labelAtoms-j; k++ {
			col = convolve(col, labelDist)
		}
		// The j labeled positions: a delta at shift j for a perfect
		// tracer, or j purity convolutions otherwise.
		if purity == 1 {
			col = shift(col, j)
		} else {
			for k := 0; k < j; k++ {
				col = convolve(col, purityDist)
			}
		}
		for i, v := range col {
			if i >= n {
				break
			}
			a.Set(i, j, v)
		}
	}

	return &Matrix{A: a, Cond: Condition(a)}, nil
}

// Condition computes the 2-norm condition number of a matrix. Pure
// diagnostic; callable independently of any solve.
func Condition(a *mat.Dense) float64 {
	return mat.Cond(a, 2)
}

func shift(v []float64, by int) []float64 {
	if by == 0 {
		return v
	}
	out := make([]float64, len(v)+by)
	copy(out[by:], v)
	return out
}

// canonicalElements returns the formula's elements in the fixed
// canonical order, so matrix construction is deterministic.
func canonicalElements(f formula.Formula) []string {
	ordered := []string{"C", "H", "N", "O", "S", "Si", "P"}
	out := make([]string, 0, len(f))
	seen := make(map[string]bool, len(f))
	for _, e := range ordered {
		if f[e] > 0 {
			out = append(out, e)
			seen[e] = true
		}
	}
	for e, n := range f {
		if !seen[e] && n > 0 {
			out = append(out, e)
		}
	}
	return out
}
