package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"isoquant/internal/binner"
	"isoquant/internal/calibrate"
	"isoquant/internal/compound"
	"isoquant/internal/config"
	"isoquant/internal/isotope"
	"isoquant/internal/msdata"
)

func fptr(v float64) *float64 { return &v }

// flatSample builds a sample with constant isotopologue intensities
// around two targets at m/z 100 (Met) and 200 (IS), scanned every
// 0.1 time units across the compounds' windows.
func flatSample(name string, metM0, metM1, isM0, isM1 float64) *msdata.Sample {
	var scans []binner.Scan
	for i := 0; i <= 30; i++ {
		t := 3.5 + float64(i)*0.1
		scans = append(scans, binner.Scan{
			Time:        t,
			Masses:      []float64{100.0, 101.0, 200.0, 201.0},
			Intensities: []float64{metM0, metM1, isM0, isM1},
		})
	}
	return &msdata.Sample{Name: name, Scans: scans}
}

func testDefs() []compound.Config {
	return []compound.Config{
		{
			Name: "Met", RetentionTime: 5.0, Mass0: 100, LOffset: 0.55, ROffset: 0.55,
			LabelAtoms: 1, Formula: "C2H6O", LabelElement: "C",
			AmountInStdMix: fptr(10), MMPatterns: []string{"MM*"},
		},
		{
			Name: "IS", RetentionTime: 5.0, Mass0: 200, LOffset: 0.55, ROffset: 0.55,
			LabelAtoms: 1, Formula: "C5H11NO2", LabelElement: "C",
			AmountInStdMix: fptr(10), IntStdAmount: fptr(25), MMPatterns: []string{"MM*"},
		},
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.InternalStandard = "IS"
	cfg.Workers = 4
	cfg.RTWindow = 1.0
	return cfg
}

func testSamples() []*msdata.Sample {
	return []*msdata.Sample{
		flatSample("MM_1", 1000, 50, 2000, 40),
		flatSample("MM_2", 1100, 60, 2000, 40),
		flatSample("sample_A", 800, 300, 1900, 35),
	}
}

func TestRunEndToEnd(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())
	p := New(cfg, compound.NewSession(testDefs()), nil, nil)

	out, err := p.Run(context.Background(), testSamples())
	require.NoError(t, err)
	require.NoError(t, out.CalibrationErr)
	require.Empty(t, out.CompoundErrors)
	require.Empty(t, out.CellErrors)
	require.Len(t, out.Cells, 6)

	for _, c := range out.Cells {
		require.False(t, c.Degenerate, "%s/%s", c.Sample, c.Compound)
		require.Len(t, c.RawAreas, 2)
		require.Len(t, c.CorrectedAreas, 2)
		require.Greater(t, c.RawAreas[0], 0.0)

		// Deconvolution returns signal lost to natural heavy isotopes.
		require.Greater(t, c.CorrectedAreas[0], c.RawAreas[0])

		sum := c.Ratios[0] + c.Ratios[1]
		require.InDelta(t, 1.0, sum, 1e-9)
		require.GreaterOrEqual(t, c.Cond, 1.0)
		require.True(t, c.Metrics.Valid)
	}

	// Cells arrive sample-major in input order.
	require.Equal(t, "MM_1", out.Cells[0].Sample)
	require.Equal(t, "Met", out.Cells[0].Compound)
	require.Equal(t, "IS", out.Cells[1].Compound)
	require.Equal(t, "sample_A", out.Cells[4].Sample)

	require.NotNil(t, out.Calibration)
	require.Greater(t, out.Calibration.MRRF["Met"], 0.0)

	metA := out.Calibration.Cells[calibrate.CellKey{Sample: "sample_A", Compound: "Met"}]
	require.Greater(t, metA.Abundance, 0.0)
}

func TestRunCorrectionModesAgreeOnFlatSignal(t *testing.T) {
	// For a constant series the correction is scale-invariant, so
	// correcting per timepoint and correcting the integrated totals
	// must agree.
	defs := testDefs()
	samples := testSamples()

	cfgT := testConfig()
	outT, err := New(cfgT, compound.NewSession(defs), nil, nil).Run(context.Background(), samples)
	require.NoError(t, err)

	cfgI := testConfig()
	cfgI.CorrectionMode = "integrated"
	outI, err := New(cfgI, compound.NewSession(defs), nil, nil).Run(context.Background(), samples)
	require.NoError(t, err)

	require.Len(t, outI.Cells, len(outT.Cells))
	for i := range outT.Cells {
		ct, ci := outT.Cells[i], outI.Cells[i]
		require.Equal(t, ct.Compound, ci.Compound)
		for k := range ct.CorrectedAreas {
			require.InDelta(t, ct.CorrectedAreas[k], ci.CorrectedAreas[k],
				1e-6*(1+ct.CorrectedAreas[k]), "%s/%s M+%d", ct.Sample, ct.Compound, k)
		}
	}
}

func TestRunIsolatesBadCompound(t *testing.T) {
	defs := testDefs()
	defs = append(defs, compound.Config{
		Name: "Broken", RetentionTime: 5.0, Mass0: 300,
		LabelAtoms: 1, Formula: "Xx9", LabelElement: "C",
	})

	out, err := New(testConfig(), compound.NewSession(defs), nil, nil).Run(context.Background(), testSamples())
	require.NoError(t, err)
	require.Contains(t, out.CompoundErrors, "Broken")
	require.Len(t, out.Cells, 6)
	for _, c := range out.Cells {
		require.NotEqual(t, "Broken", c.Compound)
	}
}

func TestRunDegenerateWindowFlagged(t *testing.T) {
	defs := testDefs()
	defs[0].RetentionTime = 50.0 // far outside the scanned range

	out, err := New(testConfig(), compound.NewSession(defs), nil, nil).Run(context.Background(), testSamples())
	require.NoError(t, err)

	for _, c := range out.Cells {
		if c.Compound != "Met" {
			continue
		}
		require.True(t, c.Degenerate)
		require.Equal(t, []float64{0, 0}, c.RawAreas)
		require.Equal(t, []float64{0, 0}, c.CorrectedAreas)
	}
}

func TestRunSharedCacheReused(t *testing.T) {
	cache := isotope.NewCache()
	p := New(testConfig(), compound.NewSession(testDefs()), cache, nil)

	_, err := p.Run(context.Background(), testSamples())
	require.NoError(t, err)
	_, misses, entries := cache.Stats()
	require.Equal(t, int64(2), misses)
	require.Equal(t, 2, entries)

	// A second batch over the same compounds rebuilds nothing.
	_, err = p.Run(context.Background(), testSamples())
	require.NoError(t, err)
	hits, misses, _ := cache.Stats()
	require.Equal(t, int64(2), misses)
	require.GreaterOrEqual(t, hits, int64(2))
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testConfig(), compound.NewSession(testDefs()), nil, nil).Run(ctx, testSamples())
	require.ErrorIs(t, err, context.Canceled)
}

func TestSessionOffsetsNarrowWindow(t *testing.T) {
	session := compound.NewSession(testDefs())
	// Shrink Met's window for one sample below the scan spacing.
	session.SetOffsets("sample_A", "Met", compound.Offsets{LOffset: 0.01, ROffset: 0.01})

	out, err := New(testConfig(), session, nil, nil).Run(context.Background(), testSamples())
	require.NoError(t, err)

	for _, c := range out.Cells {
		if c.Compound == "Met" && c.Sample == "sample_A" {
			require.True(t, c.Degenerate)
		}
		if c.Compound == "Met" && c.Sample == "MM_1" {
			require.False(t, c.Degenerate)
		}
	}
}
