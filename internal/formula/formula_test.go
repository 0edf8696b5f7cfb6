package formula

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Formula
	}{
		{"C6H12O6", Formula{"C": 6, "H": 12, "O": 6}},
		{"CH4", Formula{"C": 1, "H": 4}},
		{"C6 O3 N1 H12 Si1 S0 P0", Formula{"C": 6, "O": 3, "N": 1, "H": 12, "Si": 1}},
		{"SiO2", Formula{"Si": 1, "O": 2}},
		{"C3H4O3C1", Formula{"C": 4, "H": 4, "O": 3}}, // repeated element accumulates
	}
	for _, tc := range tests {
		got, err := Parse(tc.in)
		require.NoError(t, err, tc.in)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "C6H12O6X", "Xx2", "C6-H12", "c6h12", "S0P0"} {
		_, err := Parse(in)
		require.Error(t, err, "Parse(%q)", in)
		var perr *ParseError
		require.True(t, errors.As(err, &perr), "Parse(%q) should return *ParseError", in)
	}
}

func TestCanonicalDeterministic(t *testing.T) {
	a, err := Parse("O6C6H12")
	require.NoError(t, err)
	b, err := Parse("C6 H12 O6")
	require.NoError(t, err)
	require.Equal(t, "C6H12O6", a.Canonical())
	require.Equal(t, a.Canonical(), b.Canonical())
}

func TestDerivatizeFragment(t *testing.T) {
	base := Formula{"C": 6, "H": 12, "O": 6}

	// Glucose with 5 TBDMS + 1 MeOX, the standard GC-MS derivative.
	got := base.Derivatize(Derivatization{TBDMS: 5, MeOX: 1}, TBDMSFragment)
	want := Formula{
		"C":  6 + (5-1)*6 + 2 + 1,
		"H":  12 + (5-1)*15 + 6 - 5 + 3,
		"O":  6,
		"N":  1,
		"Si": 5,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Derivatize mismatch (-want +got):\n%s", diff)
	}

	// Input must not be mutated.
	require.Equal(t, Formula{"C": 6, "H": 12, "O": 6}, base)
}

func TestDerivatizeUniform(t *testing.T) {
	base := Formula{"C": 3, "H": 4, "O": 3}
	got := base.Derivatize(Derivatization{TBDMS: 2, Me: 1}, TBDMSUniform)
	want := Formula{"C": 3 + 12 + 1, "H": 4 + 28 + 2, "O": 3, "Si": 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Derivatize mismatch (-want +got):\n%s", diff)
	}
}

func TestDerivatizeSingleTBDMSAgrees(t *testing.T) {
	// With one group the fragment rule reduces to C+2 H+5 Si+1.
	base := Formula{"C": 2, "H": 6, "O": 1}
	got := base.Derivatize(Derivatization{TBDMS: 1}, TBDMSFragment)
	require.Equal(t, Formula{"C": 4, "H": 11, "O": 1, "Si": 1}, got)
}

func TestDerivatizeDeterministic(t *testing.T) {
	base := Formula{"C": 6, "H": 12, "O": 6}
	d := Derivatization{TBDMS: 3, MeOX: 2, Me: 1}
	first := base.Derivatize(d, TBDMSFragment)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, base.Derivatize(d, TBDMSFragment))
	}
}

func TestParseTBDMSStrategy(t *testing.T) {
	s, err := ParseTBDMSStrategy("fragment")
	require.NoError(t, err)
	require.Equal(t, TBDMSFragment, s)

	s, err = ParseTBDMSStrategy("Uniform")
	require.NoError(t, err)
	require.Equal(t, TBDMSUniform, s)

	_, err = ParseTBDMSStrategy("bogus")
	require.Error(t, err)
}
