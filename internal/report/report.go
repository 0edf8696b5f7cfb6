// Package report exports batch results as CSV, one metrics row per
// (sample, compound) cell and a long-form area table with one row per
// isotopologue.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"isoquant/internal/pipeline"
)

// WriteCells writes the per-cell metrics table.
func WriteCells(w io.Writer, out *pipeline.Outcome) error {
	cw := csv.NewWriter(w)
	header := []string{
		"sample", "compound",
		"percent_label", "percent_carbons",
		"abundance", "provenance",
		"valid", "degenerate", "clamped", "condition_number",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, c := range out.Cells {
		rec := []string{
			c.Sample, c.Compound,
			ftoa(c.Metrics.PercentLabel), ftoa(c.Metrics.PercentCarbons),
			ftoa(c.Metrics.Abundance), c.Metrics.Provenance.String(),
			strconv.FormatBool(c.Metrics.Valid),
			strconv.FormatBool(c.Degenerate),
			strconv.Itoa(c.Clamped),
			ftoa(c.Cond),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAreas writes the long-form isotopologue table: one row per
// (sample, compound, isotopologue) with raw area, corrected area and
// isotope ratio.
func WriteAreas(w io.Writer, out *pipeline.Outcome) error {
	cw := csv.NewWriter(w)
	header := []string{"sample", "compound", "isotopologue", "raw_area", "corrected_area", "ratio"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, c := range out.Cells {
		for i := range c.RawAreas {
			rec := []string{
				c.Sample, c.Compound,
				fmt.Sprintf("M+%d", i),
				ftoa(c.RawAreas[i]),
				ftoa(c.CorrectedAreas[i]),
				ftoa(c.Ratios[i]),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
