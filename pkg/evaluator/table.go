package evaluator

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"sync"
)

// Observation is one prediction compared against the truth.
type Observation struct {
	Model       string  `json:"model"`
	Location    string  `json:"location"`
	SplitPoint  string  `json:"split_point"`
	TimePeriod  string  `json:"time_period"`
	LagAhead    int     `json:"lag_ahead"` // 1-based offset past the split point
	Predicted   float64 `json:"predicted"`
	Actual      float64 `json:"actual"`
	HasInterval bool    `json:"has_interval,omitempty"`
	Low         float64 `json:"low,omitempty"`
	High        float64 `json:"high,omitempty"`
}

// Row is one aggregated cell of the result table.
type Row struct {
	Model      string  `json:"model"`
	Location   string  `json:"location"`
	LagAhead   int     `json:"lag_ahead"`
	ErrorValue float64 `json:"error_value"`
}

// ResultTable accumulates observations. Cells are aggregated on read, so
// later split points only ever add observations.
type ResultTable struct {
	mu           sync.RWMutex
	observations []Observation
}

// NewResultTable creates an empty table.
func NewResultTable() *ResultTable {
	return &ResultTable{}
}

// Add appends observations.
func (t *ResultTable) Add(obs ...Observation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observations = append(t.observations, obs...)
}

// Merge appends every observation of other.
func (t *ResultTable) Merge(other *ResultTable) {
	t.Add(other.Observations()...)
}

// Len returns the number of observations.
func (t *ResultTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.observations)
}

// Observations returns a sorted copy of the observations.
func (t *ResultTable) Observations() []Observation {
	t.mu.RLock()
	out := append([]Observation(nil), t.observations...)
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		if a.SplitPoint != b.SplitPoint {
			return a.SplitPoint < b.SplitPoint
		}
		return a.LagAhead < b.LagAhead
	})
	return out
}

// Models returns the models with at least one observation, sorted.
func (t *ResultTable) Models() []string {
	seen := map[string]bool{}
	var names []string
	for _, o := range t.Observations() {
		if !seen[o.Model] {
			seen[o.Model] = true
			names = append(names, o.Model)
		}
	}
	return names
}

type cellKey struct {
	model    string
	location string
	lag      int
}

// Rows aggregates observations per (model, location, lag) with metric,
// sorted by model, location and lag.
func (t *ResultTable) Rows(metric Metric) []Row {
	type cell struct {
		predicted, actual []float64
	}
	cells := map[cellKey]*cell{}
	var keys []cellKey
	for _, o := range t.Observations() {
		k := cellKey{o.Model, o.Location, o.LagAhead}
		c, ok := cells[k]
		if !ok {
			c = &cell{}
			cells[k] = c
			keys = append(keys, k)
		}
		c.predicted = append(c.predicted, o.Predicted)
		c.actual = append(c.actual, o.Actual)
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.model != b.model {
			return a.model < b.model
		}
		if a.location != b.location {
			return a.location < b.location
		}
		return a.lag < b.lag
	})

	rows := make([]Row, len(keys))
	for i, k := range keys {
		c := cells[k]
		rows[i] = Row{Model: k.model, Location: k.location, LagAhead: k.lag, ErrorValue: metric.Compute(c.predicted, c.actual)}
	}
	return rows
}

// WriteCSV writes the aggregated rows with the header model,location,lag_ahead,error_value.
func (t *ResultTable) WriteCSV(w io.Writer, metric Metric) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"model", "location", "lag_ahead", "error_value"}); err != nil {
		return err
	}
	for _, r := range t.Rows(metric) {
		record := []string{r.Model, r.Location, strconv.Itoa(r.LagAhead), strconv.FormatFloat(r.ErrorValue, 'f', -1, 64)}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
