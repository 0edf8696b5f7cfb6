package correct

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"isoquant/internal/formula"
	"isoquant/internal/isotope"
)

func glucoseMatrix(t *testing.T, labelAtoms int) *isotope.Matrix {
	t.Helper()
	eff := formula.Formula{"C": 6, "H": 12, "O": 6}
	m, err := isotope.Build(eff, "C", labelAtoms, 1)
	require.NoError(t, err)
	return m
}

func TestScalarPathUnlabeled(t *testing.T) {
	m := glucoseMatrix(t, 0)
	res, err := Series(m, [][]float64{{1000, 2000, 0}})
	require.NoError(t, err)

	diag := m.A.At(0, 0)
	require.InDelta(t, 1000/diag, res.Intensity[0][0], 1e-9)
	require.InDelta(t, 2000/diag, res.Intensity[0][1], 1e-9)
	require.Zero(t, res.Intensity[0][2])

	// Natural heavy-isotope loss is nonzero for carbon, so the
	// corrected value exceeds the raw one.
	require.Greater(t, res.Intensity[0][0], 1000.0)
}

func TestRoundTripFromMatrixColumns(t *testing.T) {
	// A measurement generated from the matrix's own columns must be
	// recovered by the corrector, up to the documented diagonal-divide
	// convention: feeding column j scaled by s yields x = e_j * s, and
	// after dividing by diag[j] the corrected entry is s/diag[j].
	m := glucoseMatrix(t, 6)
	n := m.Size()
	diag := m.Diagonal()

	for j := 0; j < n; j++ {
		scale := 5000.0
		raw := make([][]float64, n)
		colSum := 0.0
		for i := 0; i < n; i++ {
			raw[i] = []float64{m.A.At(i, j) * scale}
			colSum += m.A.At(i, j) * scale
		}

		res, err := Series(m, raw)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			// Tolerances are relative to the recovered magnitude: the
			// solve's rounding error scales with the data.
			if i == j {
				require.InEpsilon(t, colSum/diag[j], res.Intensity[i][0], 1e-6,
					"column %d entry %d", j, i)
			} else {
				require.InDelta(t, 0, res.Intensity[i][0], 1e-6*colSum,
					"column %d entry %d", j, i)
			}
		}
	}
}

func TestBatchMatchesPerTimepoint(t *testing.T) {
	m := glucoseMatrix(t, 6)
	n := m.Size()

	series := make([][]float64, n)
	vals := [][]float64{
		{100, 50, 10, 2, 0, 0, 0},
		{80, 60, 30, 10, 5, 1, 0},
		{0, 0, 0, 0, 0, 0, 0},
		{1e6, 1e5, 1e4, 1e3, 1e2, 10, 1},
	}
	for i := 0; i < n; i++ {
		series[i] = make([]float64, len(vals))
		for t2, v := range vals {
			series[i][t2] = v[i]
		}
	}

	batch, err := Series(m, series)
	require.NoError(t, err)

	for t2, v := range vals {
		single := make([][]float64, n)
		for i := 0; i < n; i++ {
			single[i] = []float64{v[i]}
		}
		one, err := Series(m, single)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			require.InDelta(t, one.Intensity[i][0], batch.Intensity[i][t2], 1e-9,
				"timepoint %d isotopologue %d", t2, i)
		}
	}
}

func TestEndToEndGlucoseVector(t *testing.T) {
	// Formula C6H12O6, labelAtoms 6, tbdms 5, meox 1: the documented
	// normalize -> solve -> rescale -> diagonal-divide -> clamp chain.
	base, err := formula.Parse("C6H12O6")
	require.NoError(t, err)
	eff := base.Derivatize(formula.Derivatization{TBDMS: 5, MeOX: 1}, formula.TBDMSFragment)
	m, err := isotope.Build(eff, "C", 6, 1)
	require.NoError(t, err)

	rawVec := []float64{100, 50, 10, 2, 0, 0, 0}
	out, _, err := Vector(m, rawVec)
	require.NoError(t, err)

	rawSum := 0.0
	outSum := 0.0
	for i, v := range out {
		require.GreaterOrEqual(t, v, 0.0, "entry %d", i)
		require.False(t, math.IsNaN(v))
		require.False(t, math.IsInf(v, 0))
		outSum += v
		rawSum += rawVec[i]
	}
	require.Greater(t, outSum, 0.0)
	require.Less(t, outSum, 10*rawSum)
}

func TestClampCounting(t *testing.T) {
	m := glucoseMatrix(t, 2)

	// A vector concentrated on M+0 with a hole at M+1 drives the
	// deconvolved M+1 negative; the clamp must fire and be counted.
	raw := [][]float64{{1000}, {0}, {30}}
	res, err := Series(m, raw)
	require.NoError(t, err)
	require.Greater(t, res.Clamped, 0)
	for i := range res.Intensity {
		require.GreaterOrEqual(t, res.Intensity[i][0], 0.0)
	}
}

func TestConfigurationMismatch(t *testing.T) {
	m := glucoseMatrix(t, 6)
	_, err := Series(m, [][]float64{{1}, {2}})
	require.Error(t, err)
	var cm *ConfigurationMismatchError
	require.True(t, errors.As(err, &cm))
	require.Equal(t, 7, cm.Want)
	require.Equal(t, 2, cm.Got)
}

func TestInputNotMutated(t *testing.T) {
	m := glucoseMatrix(t, 2)
	raw := [][]float64{{100, 10}, {50, 5}, {10, 1}}
	want := [][]float64{{100, 10}, {50, 5}, {10, 1}}

	_, err := Series(m, raw)
	require.NoError(t, err)
	require.Equal(t, want, raw)
}

func TestZeroTotalTimepointStaysZero(t *testing.T) {
	m := glucoseMatrix(t, 2)
	res, err := Series(m, [][]float64{{0}, {0}, {0}})
	require.NoError(t, err)
	for i := range res.Intensity {
		require.Zero(t, res.Intensity[i][0])
	}
}

func TestCondReported(t *testing.T) {
	m := glucoseMatrix(t, 6)
	res, err := Series(m, [][]float64{{1}, {0}, {0}, {0}, {0}, {0}, {0}})
	require.NoError(t, err)
	require.Equal(t, m.Cond, res.Cond)
	require.GreaterOrEqual(t, res.Cond, 1.0)
}
