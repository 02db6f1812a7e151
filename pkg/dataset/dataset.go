// Package dataset holds spatio-temporal data: per-location time series that
// share a calendar granularity, and the tabular exchange format used to build
// them and to hand them to external programs.
package dataset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/climate-health/chap/pkg/period"
)

// DataSet maps location keys to time series. It is read-only once built;
// every operation returns a new DataSet.
type DataSet struct {
	series map[string]*TimeSeries
	gran   period.Granularity
}

// New builds a dataset from per-location series, which must share one granularity.
func New(series map[string]*TimeSeries) (*DataSet, error) {
	ds := &DataSet{series: make(map[string]*TimeSeries, len(series))}
	for loc, ts := range series {
		if ts == nil {
			return nil, fmt.Errorf("location %q: nil time series", loc)
		}
		g := ts.Range().Granularity()
		if ds.gran != 0 && g != ds.gran {
			return nil, &period.GranularityMismatchError{Left: ds.gran, Right: g}
		}
		ds.gran = g
		ds.series[loc] = ts
	}
	return ds, nil
}

// Row is one (location, period) record of a raw table.
// Features absent from Values are treated as missing.
type Row struct {
	Location   string
	TimePeriod string
	Values     map[string]float64
}

// FromTable pivots rows into per-location series. When features is empty, the
// union of all row keys is used. Gaps inside a location's observed span fail
// with IncompleteRangeError unless fillMissing is set, in which case they hold Missing.
func FromTable(rows []Row, features []string, fillMissing bool) (*DataSet, error) {
	if len(features) == 0 {
		seen := map[string]bool{}
		for _, row := range rows {
			for name := range row.Values {
				if !seen[name] {
					seen[name] = true
					features = append(features, name)
				}
			}
		}
		sort.Strings(features)
	}

	type observation struct {
		p      period.Period
		values map[string]float64
	}
	byLocation := make(map[string]map[int]observation)
	var gran period.Granularity

	for i, row := range rows {
		p, err := period.Parse(row.TimePeriod)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if gran == 0 {
			gran = p.Granularity()
		} else if p.Granularity() != gran {
			return nil, fmt.Errorf("row %d: %w", i, &period.GranularityMismatchError{Left: gran, Right: p.Granularity()})
		}
		obs, ok := byLocation[row.Location]
		if !ok {
			obs = make(map[int]observation)
			byLocation[row.Location] = obs
		}
		if _, dup := obs[p.Ordinal()]; dup {
			return nil, fmt.Errorf("%w: location %q period %s", ErrDuplicateObservation, row.Location, p)
		}
		obs[p.Ordinal()] = observation{p: p, values: row.Values}
	}

	series := make(map[string]*TimeSeries, len(byLocation))
	for loc, obs := range byLocation {
		lo, hi := 0, 0
		first := true
		for ord := range obs {
			if first || ord < lo {
				lo = ord
			}
			if first || ord > hi {
				hi = ord
			}
			first = false
		}
		r, err := period.FromBounds(period.FromOrdinal(gran, lo), period.FromOrdinal(gran, hi))
		if err != nil {
			return nil, err
		}

		if len(obs) != r.Len() && !fillMissing {
			var missing []string
			for _, p := range r.Periods() {
				if _, ok := obs[p.Ordinal()]; !ok {
					missing = append(missing, p.String())
				}
			}
			return nil, &IncompleteRangeError{Location: loc, Missing: missing}
		}

		columns := make(map[string][]float64, len(features))
		for _, name := range features {
			columns[name] = make([]float64, r.Len())
		}
		for k, p := range r.Periods() {
			o, ok := obs[p.Ordinal()]
			for _, name := range features {
				v, has := o.values[name]
				if !ok || !has {
					v = Missing
				}
				columns[name][k] = v
			}
		}
		ts, err := NewTimeSeries(r, columns)
		if err != nil {
			return nil, fmt.Errorf("location %q: %w", loc, err)
		}
		series[loc] = ts
	}
	return New(series)
}

// Granularity returns the calendar unit of every series. Zero for an empty dataset.
func (ds *DataSet) Granularity() period.Granularity { return ds.gran }

// Len returns the number of locations.
func (ds *DataSet) Len() int { return len(ds.series) }

// Locations returns the location keys in sorted order.
func (ds *DataSet) Locations() []string {
	keys := make([]string, 0, len(ds.series))
	for k := range ds.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether the dataset holds the location.
func (ds *DataSet) Has(location string) bool {
	_, ok := ds.series[location]
	return ok
}

// Location returns the series for a location.
func (ds *DataSet) Location(location string) (*TimeSeries, error) {
	ts, ok := ds.series[location]
	if !ok {
		return nil, &KeyNotFoundError{Kind: "location", Key: location}
	}
	return ts, nil
}

// FeatureNames returns the union of feature names across locations, sorted.
func (ds *DataSet) FeatureNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, ts := range ds.series {
		for _, name := range ts.FeatureNames() {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// Bounds returns the smallest range covering every location's range.
func (ds *DataSet) Bounds() (period.Range, error) {
	var bounds period.Range
	for _, loc := range ds.Locations() {
		r := ds.series[loc].Range()
		if bounds.IsZero() {
			bounds = r
			continue
		}
		var err error
		if bounds, err = bounds.Union(r); err != nil {
			return period.Range{}, err
		}
	}
	if bounds.IsZero() {
		return period.Range{}, ErrEmptyDataSet
	}
	return bounds, nil
}

// StartPeriod returns the earliest period of any location.
func (ds *DataSet) StartPeriod() (period.Period, error) {
	b, err := ds.Bounds()
	if err != nil {
		return period.Period{}, err
	}
	return b.Start(), nil
}

// EndPeriod returns the latest period of any location.
func (ds *DataSet) EndPeriod() (period.Period, error) {
	b, err := ds.Bounds()
	if err != nil {
		return period.Period{}, err
	}
	return b.End(), nil
}

// IsAligned reports whether every location shares an identical range.
func (ds *DataSet) IsAligned() bool {
	_, err := ds.PeriodRange()
	return err == nil
}

// PeriodRange returns the range shared by all locations. It fails with
// AlignmentError when locations differ.
func (ds *DataSet) PeriodRange() (period.Range, error) {
	var shared period.Range
	for _, loc := range ds.Locations() {
		r := ds.series[loc].Range()
		if shared.IsZero() {
			shared = r
			continue
		}
		if !r.Equal(shared) {
			return period.Range{}, &AlignmentError{Location: loc, Reason: fmt.Sprintf("range %s differs from %s", r, shared)}
		}
	}
	if shared.IsZero() {
		return period.Range{}, ErrEmptyDataSet
	}
	return shared, nil
}

// RestrictToRange slices every location to r. A location lacking full coverage
// fails with OutOfRangeError unless fill is set, in which case uncovered periods hold Missing.
func (ds *DataSet) RestrictToRange(r period.Range, fill bool) (*DataSet, error) {
	out := make(map[string]*TimeSeries, len(ds.series))
	for loc, ts := range ds.series {
		var (
			sliced *TimeSeries
			err    error
		)
		if fill {
			sliced, err = ts.FillToRange(r)
		} else {
			sliced, err = ts.Slice(r)
		}
		if err != nil {
			return nil, fmt.Errorf("location %q: %w", loc, err)
		}
		out[loc] = sliced
	}
	return New(out)
}

// FillToRange extends every location to r, filling uncovered periods with Missing.
func (ds *DataSet) FillToRange(r period.Range) (*DataSet, error) {
	return ds.RestrictToRange(r, true)
}

// Select keeps only the named features in every location.
func (ds *DataSet) Select(features ...string) (*DataSet, error) {
	return ds.mapSeries(func(ts *TimeSeries) (*TimeSeries, error) { return ts.Select(features...) })
}

// Without drops the named features from every location.
func (ds *DataSet) Without(features ...string) *DataSet {
	out, _ := ds.mapSeries(func(ts *TimeSeries) (*TimeSeries, error) { return ts.Without(features...), nil })
	return out
}

// Combine returns the per-location union of feature sets. Locations shared by
// several datasets must have identical ranges.
func Combine(datasets ...*DataSet) (*DataSet, error) {
	out := make(map[string]*TimeSeries)
	for _, ds := range datasets {
		for loc, ts := range ds.series {
			existing, ok := out[loc]
			if !ok {
				out[loc] = ts
				continue
			}
			merged, err := existing.Merge(ts)
			if err != nil {
				var ae *AlignmentError
				if errors.As(err, &ae) {
					ae.Location = loc
					return nil, ae
				}
				return nil, fmt.Errorf("location %q: %w", loc, err)
			}
			out[loc] = merged
		}
	}
	return New(out)
}

func (ds *DataSet) mapSeries(fn func(*TimeSeries) (*TimeSeries, error)) (*DataSet, error) {
	out := make(map[string]*TimeSeries, len(ds.series))
	for loc, ts := range ds.series {
		mapped, err := fn(ts)
		if err != nil {
			return nil, fmt.Errorf("location %q: %w", loc, err)
		}
		out[loc] = mapped
	}
	return &DataSet{series: out, gran: ds.gran}, nil
}
