package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"isoquant/internal/compound"
	"isoquant/internal/config"
	"isoquant/internal/msdata"
	"isoquant/internal/pipeline"
	"isoquant/internal/report"
	"isoquant/internal/store"
)

var (
	configFile   string
	compoundFile string
	cellsOut     string
	areasOut     string
	dbOut        string
)

var processCmd = &cobra.Command{
	Use:   "process [sample CSV files...]",
	Short: "Process a batch of sample chromatograms",
	Long: `Process runs the full pipeline over one or more sample files:
extraction of isotopologue chromatograms, natural-abundance
correction, peak integration and the calibration stage (background
ratios, label incorporation, MRRF, abundance).

Each input file is one sample; the sample name is the file name
without its extension. Standard-mixture samples are identified by the
MM patterns in the compound definition table.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML configuration file (defaults apply if omitted)")
	processCmd.Flags().StringVarP(&compoundFile, "compounds", "m", "", "Compound definition table CSV (required)")
	processCmd.Flags().StringVar(&cellsOut, "cells", "", "Write per-cell metrics CSV to this path")
	processCmd.Flags().StringVar(&areasOut, "areas", "", "Write long-form isotopologue areas CSV to this path")
	processCmd.Flags().StringVar(&dbOut, "db", "", "Persist series and cells to this SQLite database")
	processCmd.MarkFlagRequired("compounds")
}

func runProcess(c *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			return err
		}
	}

	defs, err := compound.LoadCSV(compoundFile)
	if err != nil {
		return err
	}
	session := compound.NewSession(defs)

	samples := make([]*msdata.Sample, 0, len(args))
	for _, path := range args {
		s, err := msdata.LoadCSV(path)
		if err != nil {
			return err
		}
		slog.Info("sample loaded", "sample", s.Name, "scans", len(s.Scans))
		samples = append(samples, s)
	}

	p := pipeline.New(cfg, session, nil, slog.Default())
	out, err := p.Run(c.Context(), samples)
	if err != nil {
		return err
	}

	for name, cerr := range out.CompoundErrors {
		slog.Warn("compound skipped", "compound", name, "err", cerr)
	}
	for key, cerr := range out.CellErrors {
		slog.Warn("cell failed", "sample", key.Sample, "compound", key.Compound, "err", cerr)
	}
	if out.CalibrationErr != nil {
		slog.Error("abundance stage aborted; areas and ratios are still exported",
			"err", out.CalibrationErr)
	}

	if cellsOut != "" {
		if err := writeReport(cellsOut, out, report.WriteCells); err != nil {
			return err
		}
	}
	if areasOut != "" {
		if err := writeReport(areasOut, out, report.WriteAreas); err != nil {
			return err
		}
	}
	if dbOut != "" {
		if err := persist(dbOut, out); err != nil {
			return err
		}
	}

	if out.CalibrationErr != nil {
		return out.CalibrationErr
	}
	fmt.Fprintf(c.OutOrStdout(), "processed %d samples x %d compounds: %d cells, %d clamp events\n",
		len(samples), len(session.Compounds()), len(out.Cells), out.ClampEvents)
	return nil
}

func writeReport(path string, out *pipeline.Outcome, write func(w io.Writer, out *pipeline.Outcome) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f, out); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func persist(path string, out *pipeline.Outcome) error {
	st, err := store.Open(path, slog.Default())
	if err != nil {
		return err
	}
	defer st.Close()

	batch, err := st.BeginBatch(fmt.Sprintf("%d cells", len(out.Cells)))
	if err != nil {
		return err
	}
	return st.SaveOutcome(batch, out)
}
