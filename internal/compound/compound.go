// Package compound models target-analyte definitions and loads them
// from a definition table.
package compound

import (
	"strings"

	"isoquant/internal/formula"
	"isoquant/internal/integrate"
)

// Config identifies one target analyte. Immutable once loaded;
// integration offsets may be overridden per sample through a Session
// without touching the base definition.
type Config struct {
	Name          string
	RetentionTime float64
	Mass0         float64
	LOffset       float64
	ROffset       float64

	// LabelAtoms is the count of positions able to carry the
	// experimental label; 0 marks an unlabeled reference compound.
	LabelAtoms int

	Formula        string
	LabelElement   string
	Derivatization formula.Derivatization

	// AmountInStdMix enables absolute calibration when present.
	AmountInStdMix *float64
	// IntStdAmount is the per-sample dose, required only for the
	// designated internal standard.
	IntStdAmount *float64

	// MMPatterns name the standard-mixture samples for this compound.
	MMPatterns []string
}

// NumIsotopologues is the length every isotopologue vector for this
// compound must have.
func (c Config) NumIsotopologues() int { return c.LabelAtoms + 1 }

// Window is the compound's base integration window.
func (c Config) Window() integrate.Window {
	return integrate.Window{Center: c.RetentionTime, LOffset: c.LOffset, ROffset: c.ROffset}
}

// EffectiveFormula parses the base formula and applies derivatization.
// Recomputed on every call; the result depends only on the definition
// and the chosen TBDMS strategy.
func (c Config) EffectiveFormula(strat formula.TBDMSStrategy) (formula.Formula, error) {
	base, err := formula.Parse(c.Formula)
	if err != nil {
		return nil, err
	}
	return base.Derivatize(c.Derivatization, strat), nil
}

// IsStandardMixture reports whether the sample name matches one of the
// compound's MM patterns. Matching is case-insensitive; a '*' in a
// pattern matches any run of characters, a pattern without wildcards
// matches as a substring.
func (c Config) IsStandardMixture(sample string) bool {
	return MatchMM(sample, c.MMPatterns)
}

// MatchMM implements the standard-mixture pattern test used by
// Config.IsStandardMixture.
func MatchMM(sample string, patterns []string) bool {
	low := strings.ToLower(sample)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if matchSegments(low, strings.Split(p, "*")) {
			return true
		}
	}
	return false
}

// matchSegments checks that the wildcard-separated segments occur in
// order within s. A lone empty segment list never arises: Split always
// yields at least one segment, and a pattern of only '*' yields empty
// segments that match everywhere.
func matchSegments(s string, segs []string) bool {
	pos := 0
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		i := strings.Index(s[pos:], seg)
		if i < 0 {
			return false
		}
		pos += i + len(seg)
	}
	return true
}

// Offsets is a per-sample integration-offset override.
type Offsets struct {
	LOffset float64
	ROffset float64
}

type overrideKey struct {
	sample   string
	compound string
}

// Session layers per-(sample, compound) offset overrides over an
// immutable set of base definitions.
type Session struct {
	compounds []Config
	byName    map[string]int
	overrides map[overrideKey]Offsets
}

// NewSession copies the definitions; later mutation of the caller's
// slice does not affect the session.
func NewSession(defs []Config) *Session {
	s := &Session{
		compounds: make([]Config, len(defs)),
		byName:    make(map[string]int, len(defs)),
		overrides: make(map[overrideKey]Offsets),
	}
	copy(s.compounds, defs)
	for i, c := range s.compounds {
		s.byName[c.Name] = i
	}
	return s
}

// Compounds returns the base definitions in load order.
func (s *Session) Compounds() []Config { return s.compounds }

// Lookup returns the base definition by name.
func (s *Session) Lookup(name string) (Config, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Config{}, false
	}
	return s.compounds[i], true
}

// SetOffsets records an offset override for one (sample, compound)
// pair. The base definition is untouched.
func (s *Session) SetOffsets(sample, compoundName string, off Offsets) {
	s.overrides[overrideKey{sample, compoundName}] = off
}

// ClearOffsets removes a previously set override.
func (s *Session) ClearOffsets(sample, compoundName string) {
	delete(s.overrides, overrideKey{sample, compoundName})
}

// Window returns the integration window effective for the pair,
// base offsets unless overridden.
func (s *Session) Window(sample string, c Config) integrate.Window {
	w := c.Window()
	if off, ok := s.overrides[overrideKey{sample, c.Name}]; ok {
		w.LOffset = off.LOffset
		w.ROffset = off.ROffset
	}
	return w
}
