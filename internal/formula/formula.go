// Package formula parses elemental formulas and applies GC-MS
// derivatization stoichiometry, producing the effective formula used
// for isotope statistics.
package formula

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Formula maps an element symbol to its atom count.
type Formula map[string]int

// ParseError reports a malformed elemental formula. It is fatal for
// the compound it belongs to but never aborts a whole batch.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid formula %q: %s", e.Input, e.Reason)
}

// Elements we have natural isotope distributions for. Anything else in
// a formula is rejected at parse time rather than silently dropped
// during matrix construction.
var knownElements = map[string]bool{
	"C": true, "H": true, "N": true, "O": true,
	"P": true, "S": true, "Si": true,
}

var tokenRe = regexp.MustCompile(`([A-Z][a-z]?)(\d*)`)

// Parse converts a formula string into element counts. Both the
// compact form (C6H12O6) and the space-separated form
// (C6 O3 N1 H12 Si1 S0 P0) are accepted; zero-count tokens drop out.
func Parse(s string) (Formula, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if clean == "" {
		return nil, &ParseError{Input: s, Reason: "empty formula"}
	}

	f := make(Formula)
	consumed := 0
	for _, m := range tokenRe.FindAllStringSubmatchIndex(clean, -1) {
		// Zero-width matches mean a character no token could start at.
		if m[1] == m[0] {
			continue
		}
		if m[0] != consumed {
			return nil, &ParseError{
				Input:  s,
				Reason: fmt.Sprintf("unexpected character %q", clean[consumed]),
			}
		}
		consumed = m[1]

		elem := clean[m[2]:m[3]]
		if !knownElements[elem] {
			return nil, &ParseError{
				Input:  s,
				Reason: fmt.Sprintf("unknown element %q", elem),
			}
		}
		count := 1
		if m[4] != m[5] {
			var err error
			count, err = strconv.Atoi(clean[m[4]:m[5]])
			if err != nil {
				return nil, &ParseError{Input: s, Reason: "unreadable atom count"}
			}
		}
		if count > 0 {
			f[elem] += count
		}
	}
	if consumed != len(clean) {
		return nil, &ParseError{
			Input:  s,
			Reason: fmt.Sprintf("unexpected character %q", clean[consumed]),
		}
	}
	if len(f) == 0 {
		return nil, &ParseError{Input: s, Reason: "no elements with nonzero count"}
	}
	return f, nil
}

// Clone returns an independent copy.
func (f Formula) Clone() Formula {
	out := make(Formula, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Standard element ordering used for canonical strings, matching the
// legacy derivative-formula layout (C H N O S Si, P appended).
var canonicalOrder = []string{"C", "H", "N", "O", "S", "Si", "P"}

// Canonical renders the formula as a deterministic string, suitable as
// a cache key component. Every element present appears with an
// explicit count.
func (f Formula) Canonical() string {
	var b strings.Builder
	seen := make(map[string]bool, len(f))
	for _, elem := range canonicalOrder {
		if n, ok := f[elem]; ok && n > 0 {
			fmt.Fprintf(&b, "%s%d", elem, n)
			seen[elem] = true
		}
	}
	var rest []string
	for elem, n := range f {
		if !seen[elem] && n > 0 {
			rest = append(rest, elem)
		}
	}
	sort.Strings(rest)
	for _, elem := range rest {
		fmt.Fprintf(&b, "%s%d", elem, f[elem])
	}
	return b.String()
}

func (f Formula) String() string { return f.Canonical() }

// TBDMSStrategy selects which of the two documented TBDMS conventions
// to apply. Both exist in the legacy tool's history; callers must pick
// one explicitly.
type TBDMSStrategy int

const (
	// TBDMSFragment is the first-group-special [M-57]+ fragment
	// convention: the first group survives only as C2H6Si after loss
	// of the tert-butyl, subsequent groups contribute fully. This is
	// the convention of the legacy reference tool.
	TBDMSFragment TBDMSStrategy = iota
	// TBDMSUniform treats every group alike, each adding C6H14Si
	// (full TBDMS minus the hydrogen it replaces).
	TBDMSUniform
)

func (s TBDMSStrategy) String() string {
	switch s {
	case TBDMSFragment:
		return "fragment"
	case TBDMSUniform:
		return "uniform"
	}
	return "unknown"
}

// ParseTBDMSStrategy maps a config token to a strategy.
func ParseTBDMSStrategy(s string) (TBDMSStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fragment", "m-57", "first-special":
		return TBDMSFragment, nil
	case "uniform":
		return TBDMSUniform, nil
	}
	return 0, fmt.Errorf("unknown TBDMS convention %q", s)
}

// Derivatization holds the three independent group counts.
type Derivatization struct {
	TBDMS int
	MeOX  int
	Me    int
}

// Derivatize returns the effective formula after applying the group
// adjustments. The receiver is never mutated; the result is a pure
// function of its inputs.
//
// Fragment-convention deltas (fixed to match the reference tool):
//
//	TBDMS t: C += (t-1)*6 + 2, H += (t-1)*15 + 6 - t, Si += t
//	MeOX  m: N += m, C += m, H += 3m
//	Me    e: C += e, H += 2e
func (f Formula) Derivatize(d Derivatization, strat TBDMSStrategy) Formula {
	out := f.Clone()

	if t := d.TBDMS; t > 0 {
		switch strat {
		case TBDMSUniform:
			out["C"] += t * 6
			out["H"] += t * 14
			out["Si"] += t
		default: // TBDMSFragment
			out["C"] += (t-1)*6 + 2
			out["H"] += (t-1)*15 + 6 - t
			out["Si"] += t
		}
	}
	if m := d.MeOX; m > 0 {
		out["N"] += m
		out["C"] += m
		out["H"] += 3 * m
	}
	if e := d.Me; e > 0 {
		out["C"] += e
		out["H"] += 2 * e
	}
	return out
}
