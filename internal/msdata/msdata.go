// Package msdata reads chromatogram scans from CSV files, one file
// per sample. It stands in for an instrument-format reader: the rest
// of the pipeline only ever sees scans of (mass, intensity) pairs plus
// a scan time.
package msdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"isoquant/internal/binner"
)

// Sample is one sample's scan sequence, ordered by time.
type Sample struct {
	Name  string
	Scans []binner.Scan
}

// SampleName derives the sample name from a data file path.
func SampleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadCSV reads one sample from a CSV file with columns
// time, mass, intensity (header case-insensitive, any order). Rows
// sharing a time value form one scan; scans come back sorted by time.
func LoadCSV(path string) (*Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scans, err := ReadScans(f, path)
	if err != nil {
		return nil, err
	}
	return &Sample{Name: SampleName(path), Scans: scans}, nil
}

// ReadScans parses scan rows from r.
func ReadScans(r io.Reader, name string) ([]binner.Scan, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", name, err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	ti, ok1 := idx["time"]
	mi, ok2 := idx["mass"]
	ii, ok3 := idx["intensity"]
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("%s: need columns time, mass, intensity; got %v", name, header)
	}

	byTime := map[float64]*binner.Scan{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", name, line, err)
		}
		t, err := strconv.ParseFloat(strings.TrimSpace(rec[ti]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: bad time %q", name, line, rec[ti])
		}
		m, err := strconv.ParseFloat(strings.TrimSpace(rec[mi]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: bad mass %q", name, line, rec[mi])
		}
		in, err := strconv.ParseFloat(strings.TrimSpace(rec[ii]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: bad intensity %q", name, line, rec[ii])
		}

		s, ok := byTime[t]
		if !ok {
			s = &binner.Scan{Time: t}
			byTime[t] = s
		}
		s.Masses = append(s.Masses, m)
		s.Intensities = append(s.Intensities, in)
	}

	scans := make([]binner.Scan, 0, len(byTime))
	for _, s := range byTime {
		scans = append(scans, *s)
	}
	sort.Slice(scans, func(i, j int) bool { return scans[i].Time < scans[j].Time })
	return scans, nil
}
