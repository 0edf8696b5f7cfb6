// Package isotope builds natural-abundance correction matrices for
// isotopologue analysis and caches them per compound configuration.
package isotope

// Natural isotope abundances, indexed by mass shift from the lightest
// stable isotope. Values as used by the reference tool.
var naturalAbundance = map[string][]float64{
	"C":  {0.9893, 0.0107},                  // 12C, 13C
	"H":  {0.99985, 0.00015},                // 1H, 2H
	"N":  {0.99632, 0.00368},                // 14N, 15N
	"O":  {0.99757, 0.00038, 0.00205},       // 16O, 17O, 18O
	"Si": {0.922297, 0.046832, 0.030872},    // 28Si, 29Si, 30Si
	"S":  {0.9493, 0.0076, 0.0429, 0, 0.0002}, // 32S..36S
	"P":  {1.0},                             // 31P, monoisotopic
}

// Abundance returns the natural isotope distribution for an element.
func Abundance(element string) ([]float64, bool) {
	d, ok := naturalAbundance[element]
	return d, ok
}

// convolve returns the discrete convolution of a and b.
func convolve(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i, av := range a {
		if av == 0 {
			continue
		}
		for j, bv := range b {
			out[i+j] += av * bv
		}
	}
	return out
}
