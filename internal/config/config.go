// Package config is the YAML configuration surface of the processing
// pipeline.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"isoquant/internal/binner"
	"isoquant/internal/formula"
	"isoquant/internal/integrate"
)

// CorrectionMode selects between the two documented operating modes of
// the abundance correction. Their outputs legitimately diverge on the
// same input; they must never be mixed within one report.
type CorrectionMode int

const (
	// CorrectionPerTimepoint corrects every timepoint of the series,
	// then integrates the corrected series.
	CorrectionPerTimepoint CorrectionMode = iota
	// CorrectionIntegratedTotal integrates the raw series first and
	// corrects the integrated totals once (the approximate mode).
	CorrectionIntegratedTotal
)

func (m CorrectionMode) String() string {
	switch m {
	case CorrectionPerTimepoint:
		return "timepoint"
	case CorrectionIntegratedTotal:
		return "integrated"
	}
	return fmt.Sprintf("CorrectionMode(%d)", int(m))
}

// ParseCorrectionMode maps the config-file spelling to a mode.
func ParseCorrectionMode(s string) (CorrectionMode, error) {
	switch s {
	case "timepoint", "per-timepoint", "":
		return CorrectionPerTimepoint, nil
	case "integrated", "integrated-total":
		return CorrectionIntegratedTotal, nil
	}
	return CorrectionPerTimepoint, fmt.Errorf("unknown correction mode %q", s)
}

// Config holds every tunable the pipeline consumes.
type Config struct {
	// MassTolerance is the binning offset tau in Da.
	MassTolerance float64 `yaml:"mass_tolerance"`

	// IntegrationMode is "time" or "legacy".
	IntegrationMode string `yaml:"integration_mode"`

	// BaselineCorrection enables linear baseline subtraction during
	// integration.
	BaselineCorrection bool `yaml:"baseline_correction"`

	// MinPeakRatio is the peak-validity threshold against the internal
	// standard.
	MinPeakRatio float64 `yaml:"min_peak_ratio"`

	// InternalStandard names the internal-standard compound; empty
	// disables absolute calibration.
	InternalStandard string `yaml:"internal_standard"`

	// ISReferenceIndex is the internal-standard reference isotopologue.
	ISReferenceIndex int `yaml:"is_reference_index"`

	// CorrectionMode is "timepoint" or "integrated".
	CorrectionMode string `yaml:"correction_mode"`

	// TBDMSConvention is "fragment" or "uniform".
	TBDMSConvention string `yaml:"tbdms_convention"`

	// LabelPurity is the tracer enrichment per labeled position; 1
	// means fully enriched.
	LabelPurity float64 `yaml:"label_purity"`

	// RTWindow is the half-width in time units of the scan window
	// collected around each compound's retention time. Integration
	// offsets wider than this still get their full window.
	RTWindow float64 `yaml:"rt_window"`

	// Workers is the worker-pool size; 0 means one per CPU.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		MassTolerance:      binner.DefaultTolerance,
		IntegrationMode:    "time",
		BaselineCorrection: false,
		MinPeakRatio:       0.05,
		ISReferenceIndex:   0,
		CorrectionMode:     "timepoint",
		TBDMSConvention:    "fragment",
		LabelPurity:        1.0,
		RTWindow:           0.2,
		Workers:            0,
	}
}

// LoadFromFile reads a YAML config, layering the file's values over
// the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value domains and enum spellings.
func (c *Config) Validate() error {
	if c.MassTolerance < binner.MinTolerance || c.MassTolerance > binner.MaxTolerance {
		return fmt.Errorf("mass_tolerance %g outside [%g, %g]",
			c.MassTolerance, binner.MinTolerance, binner.MaxTolerance)
	}
	if _, err := integrate.ParseMode(c.IntegrationMode); err != nil {
		return err
	}
	if c.MinPeakRatio < 0 {
		return fmt.Errorf("min_peak_ratio %g must be >= 0", c.MinPeakRatio)
	}
	if c.ISReferenceIndex < 0 {
		return fmt.Errorf("is_reference_index %d must be >= 0", c.ISReferenceIndex)
	}
	if _, err := ParseCorrectionMode(c.CorrectionMode); err != nil {
		return err
	}
	if _, err := formula.ParseTBDMSStrategy(c.TBDMSConvention); err != nil {
		return err
	}
	if c.LabelPurity <= 0 || c.LabelPurity > 1 {
		return fmt.Errorf("label_purity %g outside (0, 1]", c.LabelPurity)
	}
	if c.RTWindow <= 0 {
		return fmt.Errorf("rt_window %g must be > 0", c.RTWindow)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers %d must be >= 0", c.Workers)
	}
	return nil
}

// Mode returns the parsed integration mode. Call Validate first.
func (c *Config) Mode() integrate.Mode {
	m, _ := integrate.ParseMode(c.IntegrationMode)
	return m
}

// TBDMS returns the parsed derivatization strategy. Call Validate
// first.
func (c *Config) TBDMS() formula.TBDMSStrategy {
	s, _ := formula.ParseTBDMSStrategy(c.TBDMSConvention)
	return s
}

// Correction returns the parsed correction mode. Call Validate first.
func (c *Config) Correction() CorrectionMode {
	m, _ := ParseCorrectionMode(c.CorrectionMode)
	return m
}
