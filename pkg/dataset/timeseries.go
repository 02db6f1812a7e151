package dataset

import (
	"fmt"
	"math"
	"sort"

	"github.com/climate-health/chap/pkg/period"
)

// Well-known feature names.
const (
	DiseaseCases = "disease_cases"
	Population   = "population"

	QuantileLow  = "quantile_low"
	Median       = "median"
	QuantileHigh = "quantile_high"
)

// Missing is the sentinel for a missing observation.
var Missing = math.NaN()

// IsMissing reports whether v is the missing-value sentinel.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// TimeSeries holds one location's feature arrays aligned 1:1 with a period range.
// A TimeSeries is immutable: accessors return copies.
type TimeSeries struct {
	periods  period.Range
	features map[string][]float64
}

// NewTimeSeries validates that every feature has exactly one value per period.
func NewTimeSeries(periods period.Range, features map[string][]float64) (*TimeSeries, error) {
	if periods.IsZero() {
		return nil, &AlignmentError{Reason: "time series needs a non-empty period range"}
	}
	copied := make(map[string][]float64, len(features))
	for name, values := range features {
		if len(values) != periods.Len() {
			return nil, &AlignmentError{Reason: fmt.Sprintf("feature %q has %d values for %d periods", name, len(values), periods.Len())}
		}
		copied[name] = append([]float64(nil), values...)
	}
	return &TimeSeries{periods: periods, features: copied}, nil
}

// Range returns the period range indexing the series.
func (ts *TimeSeries) Range() period.Range { return ts.periods }

// Len returns the number of periods.
func (ts *TimeSeries) Len() int { return ts.periods.Len() }

// FeatureNames returns the feature names in sorted order.
func (ts *TimeSeries) FeatureNames() []string {
	names := make([]string, 0, len(ts.features))
	for name := range ts.features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasFeature reports whether the series carries the named feature.
func (ts *TimeSeries) HasFeature(name string) bool {
	_, ok := ts.features[name]
	return ok
}

// Feature returns a copy of the named feature's values.
func (ts *TimeSeries) Feature(name string) ([]float64, error) {
	values, ok := ts.features[name]
	if !ok {
		return nil, &KeyNotFoundError{Kind: "feature", Key: name}
	}
	return append([]float64(nil), values...), nil
}

// Value returns the value of a feature at period p.
func (ts *TimeSeries) Value(name string, p period.Period) (float64, error) {
	values, ok := ts.features[name]
	if !ok {
		return 0, &KeyNotFoundError{Kind: "feature", Key: name}
	}
	i, err := ts.periods.IndexOf(p)
	if err != nil {
		return 0, err
	}
	return values[i], nil
}

// Slice returns the part of the series covering r, which must lie inside the series range.
func (ts *TimeSeries) Slice(r period.Range) (*TimeSeries, error) {
	i, err := ts.periods.IndexOf(r.Start())
	if err != nil {
		return nil, err
	}
	j, err := ts.periods.IndexOf(r.End())
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float64, len(ts.features))
	for name, values := range ts.features {
		out[name] = values[i : j+1]
	}
	return NewTimeSeries(r, out)
}

// FillToRange re-indexes the series onto r; periods outside the original range hold Missing.
func (ts *TimeSeries) FillToRange(r period.Range) (*TimeSeries, error) {
	if r.Granularity() != ts.periods.Granularity() {
		return nil, &period.GranularityMismatchError{Left: ts.periods.Granularity(), Right: r.Granularity()}
	}
	out := make(map[string][]float64, len(ts.features))
	for name, values := range ts.features {
		filled := make([]float64, r.Len())
		for k, p := range r.Periods() {
			if i, err := ts.periods.IndexOf(p); err == nil {
				filled[k] = values[i]
			} else {
				filled[k] = Missing
			}
		}
		out[name] = filled
	}
	return NewTimeSeries(r, out)
}

// Select keeps only the named features.
func (ts *TimeSeries) Select(names ...string) (*TimeSeries, error) {
	out := make(map[string][]float64, len(names))
	for _, name := range names {
		values, ok := ts.features[name]
		if !ok {
			return nil, &KeyNotFoundError{Kind: "feature", Key: name}
		}
		out[name] = values
	}
	return NewTimeSeries(ts.periods, out)
}

// Without drops the named features. Names that are absent are ignored.
func (ts *TimeSeries) Without(names ...string) *TimeSeries {
	drop := make(map[string]bool, len(names))
	for _, name := range names {
		drop[name] = true
	}
	out := make(map[string][]float64, len(ts.features))
	for name, values := range ts.features {
		if !drop[name] {
			out[name] = values
		}
	}
	return &TimeSeries{periods: ts.periods, features: copyFeatures(out)}
}

// Merge returns the union of both feature sets. Ranges must be identical.
func (ts *TimeSeries) Merge(other *TimeSeries) (*TimeSeries, error) {
	if !ts.periods.Equal(other.periods) {
		return nil, &AlignmentError{Reason: fmt.Sprintf("ranges differ: %s vs %s", ts.periods, other.periods)}
	}
	out := make(map[string][]float64, len(ts.features)+len(other.features))
	for name, values := range ts.features {
		out[name] = values
	}
	for name, values := range other.features {
		if _, ok := out[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFeature, name)
		}
		out[name] = values
	}
	return NewTimeSeries(ts.periods, out)
}

// LastObserved returns the last non-missing value of a feature.
func (ts *TimeSeries) LastObserved(name string) (float64, bool) {
	values := ts.features[name]
	for i := len(values) - 1; i >= 0; i-- {
		if !IsMissing(values[i]) {
			return values[i], true
		}
	}
	return 0, false
}

func copyFeatures(in map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64, len(in))
	for name, values := range in {
		out[name] = append([]float64(nil), values...)
	}
	return out
}
