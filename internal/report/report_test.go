package report

import (
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"isoquant/internal/calibrate"
	"isoquant/internal/pipeline"
)

func testOutcome() *pipeline.Outcome {
	return &pipeline.Outcome{
		Cells: []pipeline.Cell{
			{
				Sample: "sample_A", Compound: "Glucose",
				RawAreas:       []float64{100, 50},
				CorrectedAreas: []float64{120, 48},
				Ratios:         []float64{120.0 / 168, 48.0 / 168},
				Metrics: calibrate.CellMetrics{
					PercentLabel:   30,
					PercentCarbons: 12.5,
					Abundance:      27.27,
					Provenance:     calibrate.Calibrated,
					Valid:          true,
				},
				Cond: 1.25,
			},
		},
	}
}

func TestWriteCells(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, WriteCells(&buf, testOutcome()))

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "sample", rows[0][0])

	row := rows[1]
	require.Equal(t, "sample_A", row[0])
	require.Equal(t, "Glucose", row[1])
	require.Equal(t, "30", row[2])
	require.Equal(t, "27.27", row[4])
	require.Equal(t, "calibrated", row[5])
	require.Equal(t, "true", row[6])
	require.Equal(t, "false", row[7])
}

func TestWriteAreas(t *testing.T) {
	var buf strings.Builder
	require.NoError(t, WriteAreas(&buf, testOutcome()))

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, []string{"sample", "compound", "isotopologue", "raw_area", "corrected_area", "ratio"}, rows[0])
	require.Equal(t, "M+0", rows[1][2])
	require.Equal(t, "100", rows[1][3])
	require.Equal(t, "M+1", rows[2][2])
	require.Equal(t, "48", rows[2][4])
}
