// Package cmd provides the CLI command implementations.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "isoquant",
	Short: "isoquant - isotope-labeled chromatogram quantification",
	Long: `isoquant processes isotope-labeled mass-spectrometry chromatograms:
mass-to-bin assignment, natural-abundance deconvolution, peak
integration and response-factor calibration, turning raw instrument
signal into isotope ratios, % label incorporation and absolute
metabolite abundance.`,
	Version: "1.0.0",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(processCmd)
}
