package compound

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Required definition-table columns, by normalized header name.
var requiredColumns = []string{
	"name", "tr", "mass0", "loffset", "roffset",
	"labelatoms", "formula", "labeltype",
	"tbdms", "meox", "me",
	"amountinstdmix", "intstdamount", "mmfiles",
}

// MissingColumnsError reports every absent required column at once, so
// a bad table fails the import in one pass rather than column by
// column.
type MissingColumnsError struct {
	File    string
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s: missing required column(s): %s",
		e.File, strings.Join(e.Columns, ", "))
}

// normalizeHeader makes header matching case, space and underscore
// insensitive: "MM Files", "mm_files" and "MMFiles" all map to
// "mmfiles".
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "")
	return strings.ReplaceAll(h, "_", "")
}

// LoadCSV reads a compound definition table from a CSV file.
func LoadCSV(path string) ([]Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	defs, err := ReadDefinitions(f, path)
	if err != nil {
		return nil, err
	}
	slog.Debug("compound definitions loaded", "file", path, "count", len(defs))
	return defs, nil
}

// ReadDefinitions parses a definition table. Header variants are
// normalized; all missing required columns are reported together; row
// errors are aggregated and returned after the whole table is read, so
// one bad row does not hide the next.
func ReadDefinitions(r io.Reader, name string) ([]Config, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", name, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[normalizeHeader(h)] = i
	}

	var missing []string
	for _, want := range requiredColumns {
		if _, ok := col[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingColumnsError{File: name, Columns: missing}
	}

	var (
		defs    []Config
		rowErrs []error
	)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: line %d: %w", name, line, err)
		}
		c, err := parseRow(rec, col)
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("%s: line %d: %w", name, line, err))
			continue
		}
		defs = append(defs, c)
	}
	if len(rowErrs) > 0 {
		return nil, errors.Join(rowErrs...)
	}
	return defs, nil
}

func parseRow(rec []string, col map[string]int) (Config, error) {
	field := func(key string) string {
		i := col[key]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var c Config

	c.Name = field("name")
	if c.Name == "" {
		return c, errors.New("compound name is blank")
	}

	// Retention time gets a dedicated message: a blank tR surfaces much
	// later as an empty integration window otherwise.
	trs := field("tr")
	if trs == "" {
		return c, fmt.Errorf("compound %q: missing retention time (tR)", c.Name)
	}

	var err error
	if c.RetentionTime, err = strconv.ParseFloat(trs, 64); err != nil {
		return c, fmt.Errorf("compound %q: bad tR %q", c.Name, trs)
	}
	if c.Mass0, err = parseFloatField(field("mass0"), "mass0", c.Name); err != nil {
		return c, err
	}
	if c.LOffset, err = parseFloatField(field("loffset"), "loffset", c.Name); err != nil {
		return c, err
	}
	if c.ROffset, err = parseFloatField(field("roffset"), "roffset", c.Name); err != nil {
		return c, err
	}
	if c.LabelAtoms, err = parseIntField(field("labelatoms"), "labelatoms", c.Name); err != nil {
		return c, err
	}
	if c.LabelAtoms < 0 {
		return c, fmt.Errorf("compound %q: labelAtoms must be >= 0, got %d", c.Name, c.LabelAtoms)
	}

	c.Formula = field("formula")
	c.LabelElement = field("labeltype")
	if c.LabelElement == "" {
		c.LabelElement = "C"
	}

	if c.Derivatization.TBDMS, err = parseIntField(field("tbdms"), "tbdms", c.Name); err != nil {
		return c, err
	}
	if c.Derivatization.MeOX, err = parseIntField(field("meox"), "meox", c.Name); err != nil {
		return c, err
	}
	if c.Derivatization.Me, err = parseIntField(field("me"), "me", c.Name); err != nil {
		return c, err
	}

	if c.AmountInStdMix, err = parseOptFloat(field("amountinstdmix"), "amountinstdmix", c.Name); err != nil {
		return c, err
	}
	if c.IntStdAmount, err = parseOptFloat(field("intstdamount"), "intstdamount", c.Name); err != nil {
		return c, err
	}

	c.MMPatterns = splitPatterns(field("mmfiles"))
	return c, nil
}

// splitPatterns tokenizes an MM pattern field on commas, semicolons
// and newlines.
func splitPatterns(s string) []string {
	var out []string
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\t'
	}) {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func parseFloatField(s, key, compoundName string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("compound %q: bad %s %q", compoundName, key, s)
	}
	return v, nil
}

func parseIntField(s, key, compoundName string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		// Spreadsheets export integer columns as "5.0" often enough
		// that a float that is a whole number is accepted.
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, fmt.Errorf("compound %q: bad %s %q", compoundName, key, s)
		}
		return int(f), nil
	}
	return v, nil
}

func parseOptFloat(s, key, compoundName string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("compound %q: bad %s %q", compoundName, key, s)
	}
	return &v, nil
}
