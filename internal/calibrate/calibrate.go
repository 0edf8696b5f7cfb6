// Package calibrate derives per-compound background ratios, label
// incorporation, carbon enrichment, MRRF response factors and absolute
// abundance from corrected integrated isotopologue vectors.
//
// Everything here runs after the integration phase has completed for
// every standard-mixture sample; the caller provides the barrier.
package calibrate

import (
	"fmt"
	"log/slog"
	"strings"

	"isoquant/internal/compound"
)

// Provenance records which abundance path produced a value.
type Provenance int

const (
	// Calibrated: internal standard selected and the compound has a
	// standard-mixture concentration; value passes through the MRRF.
	Calibrated Provenance = iota
	// ISNormalized: internal standard selected but no concentration
	// for the compound; the MRRF is bypassed rather than invented.
	ISNormalized
	// RawArea: no internal standard; the reported value is the plain
	// summed peak area, not a physical quantity.
	RawArea
)

func (p Provenance) String() string {
	switch p {
	case Calibrated:
		return "calibrated"
	case ISNormalized:
		return "is-normalized"
	case RawArea:
		return "raw-area"
	}
	return fmt.Sprintf("Provenance(%d)", int(p))
}

// MissingCalibrationDataError aborts the whole abundance stage when
// the selected internal standard lacks required fields. Partial
// quantitative output would be worse than refusal.
type MissingCalibrationDataError struct {
	Standard string
	Fields   []string
}

func (e *MissingCalibrationDataError) Error() string {
	return fmt.Sprintf("internal standard %q is missing %s",
		e.Standard, strings.Join(e.Fields, ", "))
}

// Corrected holds corrected integrated isotopologue vectors keyed by
// sample then compound name.
type Corrected map[string]map[string][]float64

func (c Corrected) vector(sample, compoundName string) []float64 {
	if m, ok := c[sample]; ok {
		return m[compoundName]
	}
	return nil
}

// CellKey addresses one (sample, compound) pair.
type CellKey struct {
	Sample   string
	Compound string
}

// CellMetrics are the calibration outputs for one cell.
type CellMetrics struct {
	PercentLabel   float64
	PercentCarbons float64
	Abundance      float64
	Provenance     Provenance
	Valid          bool
}

// Results is the full calibration output for a batch.
type Results struct {
	// Background ratio per compound, 0 when no MM sample matched.
	Background map[string]float64
	// MRRF per compound; 1 for the internal standard itself.
	MRRF map[string]float64
	// CarbonBaseline is the MM-sample mean carbon enrichment per
	// compound, already subtracted from each cell's PercentCarbons.
	CarbonBaseline map[string]float64
	Cells          map[CellKey]CellMetrics
}

// Engine evaluates the calibration stage.
type Engine struct {
	// InternalStandard is a compound name; empty selects no internal
	// standard (abundance falls back to raw areas).
	InternalStandard string
	// RefIndex is the internal-standard reference isotopologue.
	RefIndex int
	// MinPeakRatio is the validity threshold against the internal
	// standard's summed signal.
	MinPeakRatio float64

	Logger *slog.Logger
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Evaluate runs the calibration stage over all samples and compounds.
// Background, label incorporation, carbon enrichment and validity are
// always computed; when the abundance stage fails its error is
// returned alongside the partial Results, whose Abundance fields are
// then zero with RawArea provenance. The caller keeps the intact
// metrics and surfaces the error.
func (e *Engine) Evaluate(defs []compound.Config, samples []string, data Corrected) (*Results, error) {
	res := &Results{
		Background:     BackgroundRatios(defs, samples, data, e.logger()),
		MRRF:           make(map[string]float64, len(defs)),
		CarbonBaseline: make(map[string]float64, len(defs)),
		Cells:          make(map[CellKey]CellMetrics),
	}

	for _, def := range defs {
		res.CarbonBaseline[def.Name] = carbonBaseline(def, samples, data)
	}

	for _, sample := range samples {
		for _, def := range defs {
			vec := data.vector(sample, def.Name)
			m := CellMetrics{
				PercentLabel:   PercentLabel(vec, res.Background[def.Name]),
				PercentCarbons: max0(PercentCarbons(vec, def.LabelAtoms) - res.CarbonBaseline[def.Name]),
				Provenance:     RawArea,
				Valid:          e.valid(sample, def.Name, data),
			}
			res.Cells[CellKey{sample, def.Name}] = m
		}
	}

	if err := e.abundances(defs, samples, data, res); err != nil {
		return res, err
	}
	return res, nil
}

// BackgroundRatios computes, per compound, the mean over matching MM
// samples of (sum of labeled isotopologues) / M+0. Mean of per-sample
// ratios, not ratio of means; compounds with no matching MM sample get
// 0.
func BackgroundRatios(defs []compound.Config, samples []string, data Corrected, log *slog.Logger) map[string]float64 {
	out := make(map[string]float64, len(defs))
	for _, def := range defs {
		mm := matchSamples(def, samples)
		if len(mm) == 0 {
			log.Warn("no standard-mixture samples for compound", "compound", def.Name)
			out[def.Name] = 0
			continue
		}
		var ratios []float64
		for _, s := range mm {
			vec := data.vector(s, def.Name)
			if len(vec) < 2 {
				continue
			}
			m0 := vec[0]
			if m0 <= 0 {
				continue
			}
			ratios = append(ratios, sum(vec[1:])/m0)
		}
		out[def.Name] = mean(ratios)
	}
	return out
}

// PercentLabel computes % label incorporation with background
// subtraction. The background-corrected labeled sum clamps at zero
// before the percentage is formed.
func PercentLabel(vec []float64, background float64) float64 {
	if len(vec) < 2 {
		return 0
	}
	m0 := vec[0]
	labeled := sum(vec[1:]) - background*m0
	if labeled < 0 {
		labeled = 0
	}
	denom := m0 + labeled
	if denom <= 0 {
		return 0
	}
	return labeled / denom * 100
}

// PercentCarbons is the weighted mean isotopologue index,
// sum(i*A_i) / (N*sum(A_i)) * 100.
func PercentCarbons(vec []float64, labelAtoms int) float64 {
	if labelAtoms <= 0 || len(vec) == 0 {
		return 0
	}
	total := sum(vec)
	if total <= 0 {
		return 0
	}
	var weighted float64
	for i, v := range vec {
		weighted += float64(i) * v
	}
	return weighted / (float64(labelAtoms) * total) * 100
}

// MRRFs computes the response factor of every compound relative to the
// internal standard: mean(signal/conc) over the compound's MM samples
// divided by mean(refSignal/conc) over the standard's MM samples.
// Compounds that cannot be calibrated (no patterns, no matching MM
// samples, zero signals) get a neutral factor of 1.
func MRRFs(defs []compound.Config, isDef compound.Config, refIndex int, samples []string, data Corrected, log *slog.Logger) map[string]float64 {
	out := make(map[string]float64, len(defs))

	isConc := 1.0
	if isDef.AmountInStdMix != nil {
		isConc = *isDef.AmountInStdMix
	}
	isMM := matchSamples(isDef, samples)
	var isSignals []float64
	for _, s := range isMM {
		vec := data.vector(s, isDef.Name)
		ref := 0.0
		if refIndex >= 0 && refIndex < len(vec) {
			ref = vec[refIndex]
		}
		isSignals = append(isSignals, ref)
	}
	meanIS := mean(isSignals)

	for _, def := range defs {
		if def.Name == isDef.Name {
			out[def.Name] = 1
			continue
		}
		mm := matchSamples(def, samples)
		if len(mm) == 0 {
			log.Warn("no standard-mixture samples for MRRF", "compound", def.Name)
			out[def.Name] = 1
			continue
		}
		var signals []float64
		for _, s := range mm {
			signals = append(signals, sum(data.vector(s, def.Name)))
		}
		meanMet := mean(signals)

		conc := 1.0
		if def.AmountInStdMix != nil {
			conc = *def.AmountInStdMix
		}
		if meanMet <= 0 || conc <= 0 || meanIS <= 0 || isConc <= 0 {
			out[def.Name] = 1
			continue
		}
		out[def.Name] = (meanMet / conc) / (meanIS / isConc)
	}
	return out
}

func (e *Engine) abundances(defs []compound.Config, samples []string, data Corrected, res *Results) error {
	if e.InternalStandard == "" {
		// Path c: no internal standard, raw summed areas.
		for _, sample := range samples {
			for _, def := range defs {
				key := CellKey{sample, def.Name}
				m := res.Cells[key]
				m.Abundance = sum(data.vector(sample, def.Name))
				m.Provenance = RawArea
				res.Cells[key] = m
			}
		}
		return nil
	}

	var isDef compound.Config
	found := false
	for _, def := range defs {
		if def.Name == e.InternalStandard {
			isDef = def
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("internal standard %q is not in the compound set", e.InternalStandard)
	}

	var missing []string
	if isDef.IntStdAmount == nil {
		missing = append(missing, "intstdamount")
	}
	if isDef.AmountInStdMix == nil {
		missing = append(missing, "amountinstdmix")
	}
	if len(missing) > 0 {
		return &MissingCalibrationDataError{Standard: isDef.Name, Fields: missing}
	}

	mrrf := MRRFs(defs, isDef, e.RefIndex, samples, data, e.logger())
	res.MRRF = mrrf
	isMM := matchSamples(isDef, samples)
	isMMSet := make(map[string]bool, len(isMM))
	for _, s := range isMM {
		isMMSet[s] = true
	}

	for _, sample := range samples {
		isVec := data.vector(sample, isDef.Name)
		isSignal := 0.0
		if e.RefIndex >= 0 && e.RefIndex < len(isVec) {
			isSignal = isVec[e.RefIndex]
		}
		// MM samples carry the standard-mix concentration of the IS,
		// every other sample carries the dosed amount.
		isAmount := *isDef.IntStdAmount
		if isMMSet[sample] {
			isAmount = *isDef.AmountInStdMix
		}

		for _, def := range defs {
			key := CellKey{sample, def.Name}
			m := res.Cells[key]
			total := sum(data.vector(sample, def.Name))

			switch {
			case def.AmountInStdMix != nil:
				m.Provenance = Calibrated
				f := mrrf[def.Name]
				if isSignal > 0 && f > 0 {
					m.Abundance = total * isAmount / (isSignal * f)
				}
			default:
				m.Provenance = ISNormalized
				if isSignal > 0 {
					m.Abundance = total * isAmount / isSignal
				}
			}
			res.Cells[key] = m
		}
	}
	return nil
}

// valid applies the peak-quality threshold: the compound's summed
// signal must reach MinPeakRatio of the internal standard's summed
// signal in the same sample. Without an internal standard every cell
// is valid.
func (e *Engine) valid(sample, compoundName string, data Corrected) bool {
	if e.InternalStandard == "" || compoundName == e.InternalStandard {
		return true
	}
	isTotal := sum(data.vector(sample, e.InternalStandard))
	return Valid(sum(data.vector(sample, compoundName)), isTotal, e.MinPeakRatio)
}

// Valid reports whether a compound's total signal passes the minimum
// peak-area ratio against the internal standard total.
func Valid(compoundTotal, internalStandardTotal, minRatio float64) bool {
	return compoundTotal >= internalStandardTotal*minRatio
}

func carbonBaseline(def compound.Config, samples []string, data Corrected) float64 {
	var vals []float64
	for _, s := range matchSamples(def, samples) {
		vals = append(vals, PercentCarbons(data.vector(s, def.Name), def.LabelAtoms))
	}
	return mean(vals)
}

func matchSamples(def compound.Config, samples []string) []string {
	var out []string
	for _, s := range samples {
		if def.IsStandardMixture(s) {
			out = append(out, s)
		}
	}
	return out
}

func sum(v []float64) float64 {
	var t float64
	for _, x := range v {
		t += x
	}
	return t
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return sum(v) / float64(len(v))
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
