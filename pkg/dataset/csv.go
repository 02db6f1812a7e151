package dataset

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SchemaVersion identifies the tabular exchange layout written by WriteCSV:
// a header of location, time_period and the sorted feature names, one row per
// location and period, floats in shortest form, empty cells for missing values.
const SchemaVersion = "chap-table/v1"

const (
	LocationColumn = "location"
	PeriodColumn   = "time_period"
)

var columnAliases = map[string]string{
	"org_unit": LocationColumn,
	"orgUnit":  LocationColumn,
	"period":   PeriodColumn,
}

// CSVOptions holds options for reading tables.
type CSVOptions struct {
	Features    []string // Restrict to these features; empty means every non-key column
	FillMissing bool     // Densify gaps with Missing instead of failing
	Delimiter   rune     // Field delimiter (default: ',')
}

// LoadCSV reads a dataset from a file.
func LoadCSV(filename string, opts *CSVOptions) (*DataSet, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadCSV(file, opts)
}

// ReadCSV reads a dataset from r.
func ReadCSV(r io.Reader, opts *CSVOptions) (*DataSet, error) {
	rows, features, err := ReadRows(r, opts)
	if err != nil {
		return nil, err
	}
	fill := false
	if opts != nil {
		fill = opts.FillMissing
	}
	return FromTable(rows, features, fill)
}

// ReadRows parses a table into rows without pivoting. It returns the feature
// columns in header order.
func ReadRows(r io.Reader, opts *CSVOptions) ([]Row, []string, error) {
	if opts == nil {
		opts = &CSVOptions{}
	}
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%w: empty input", ErrMalformedTable)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedTable, err)
	}

	locIdx, periodIdx := -1, -1
	featureIdx := map[string]int{}
	var features []string
	wanted := map[string]bool{}
	for _, f := range opts.Features {
		wanted[f] = true
	}

	for i, h := range header {
		h = strings.TrimSpace(strings.Trim(h, "\""))
		if alias, ok := columnAliases[h]; ok {
			h = alias
		}
		switch {
		case h == LocationColumn:
			locIdx = i
		case h == PeriodColumn:
			periodIdx = i
		case h == "" || strings.HasPrefix(h, "Unnamed"):
			// index columns written by other tools
		case len(wanted) == 0 || wanted[h]:
			featureIdx[h] = i
			features = append(features, h)
		}
	}
	if locIdx == -1 || periodIdx == -1 {
		return nil, nil, fmt.Errorf("%w: header must contain %q and %q columns", ErrMalformedTable, LocationColumn, PeriodColumn)
	}
	for f := range wanted {
		if _, ok := featureIdx[f]; !ok {
			return nil, nil, &KeyNotFoundError{Kind: "feature", Key: f}
		}
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: %v", ErrMalformedTable, line, err)
		}

		row := Row{
			Location:   strings.TrimSpace(record[locIdx]),
			TimePeriod: strings.TrimSpace(record[periodIdx]),
			Values:     make(map[string]float64, len(features)),
		}
		for _, name := range features {
			v, err := parseValue(record[featureIdx[name]])
			if err != nil {
				return nil, nil, fmt.Errorf("%w: line %d column %q: %v", ErrMalformedTable, line, name, err)
			}
			row.Values[name] = v
		}
		rows = append(rows, row)
	}
	return rows, features, nil
}

// SaveCSV writes a dataset to a file. The file is written to a temp file in
// the same directory and renamed, so readers never see a partial table.
func SaveCSV(ds *DataSet, filename string) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), ".table-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := WriteCSV(tmp, ds); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filename)
}

// WriteCSV writes a dataset in the exchange schema. Locations and periods are in sorted order.
func WriteCSV(w io.Writer, ds *DataSet) error {
	buf := bufio.NewWriter(w)
	writer := csv.NewWriter(buf)

	features := ds.FeatureNames()
	if err := writer.Write(append([]string{LocationColumn, PeriodColumn}, features...)); err != nil {
		return err
	}

	record := make([]string, 2+len(features))
	for _, loc := range ds.Locations() {
		ts := ds.series[loc]
		for i, p := range ts.Range().Periods() {
			record[0] = loc
			record[1] = p.String()
			for k, name := range features {
				values, ok := ts.features[name]
				if !ok {
					record[2+k] = ""
					continue
				}
				record[2+k] = formatValue(values[i])
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return buf.Flush()
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(strings.Trim(s, "\""))
	switch s {
	case "", "NA", "NaN", "nan", "null":
		return Missing, nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
