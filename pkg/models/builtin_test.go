package models

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climate-health/chap/pkg/dataset"
	"github.com/climate-health/chap/pkg/period"
)

// monthly builds a dataset of disease cases and rainfall starting at start.
func monthly(t *testing.T, cases map[string][]float64, start string) *dataset.DataSet {
	t.Helper()
	series := make(map[string]*dataset.TimeSeries, len(cases))
	for loc, values := range cases {
		r, err := period.FromStart(period.MustParse(start), len(values))
		require.NoError(t, err)
		rain := make([]float64, len(values))
		for i := range rain {
			rain[i] = float64(i)
		}
		ts, err := dataset.NewTimeSeries(r, map[string][]float64{dataset.DiseaseCases: values, "rainfall": rain})
		require.NoError(t, err)
		series[loc] = ts
	}
	ds, err := dataset.New(series)
	require.NoError(t, err)
	return ds
}

// covariates builds n future periods of rainfall per location.
func covariates(t *testing.T, locations []string, start string, n int) *dataset.DataSet {
	t.Helper()
	r, err := period.FromStart(period.MustParse(start), n)
	require.NoError(t, err)
	series := make(map[string]*dataset.TimeSeries, len(locations))
	for _, loc := range locations {
		ts, err := dataset.NewTimeSeries(r, map[string][]float64{"rainfall": make([]float64, n)})
		require.NoError(t, err)
		series[loc] = ts
	}
	ds, err := dataset.New(series)
	require.NoError(t, err)
	return ds
}

func predictFeature(t *testing.T, est Estimator, history, future *dataset.DataSet, mode Mode, loc, feature string) []float64 {
	t.Helper()
	trained, err := NewInProcess("test", "", est).Train(context.Background(), history)
	require.NoError(t, err)
	defer trained.Close()

	out, err := trained.Predict(context.Background(), future, mode)
	require.NoError(t, err)
	ts, err := out.Location(loc)
	require.NoError(t, err)
	values, err := ts.Feature(feature)
	require.NoError(t, err)
	return values
}

func TestNaiveLast(t *testing.T) {
	history := monthly(t, map[string][]float64{"A": {1, 2, math.NaN()}, "B": {7, 8, 9}}, "2020-01")
	future := covariates(t, []string{"A", "B"}, "2020-04", 3)

	assert.Equal(t, []float64{2, 2, 2}, predictFeature(t, NaiveLast{}, history, future, ModePredict, "A", dataset.DiseaseCases))
	assert.Equal(t, []float64{9, 9, 9}, predictFeature(t, NaiveLast{}, history, future, ModePredict, "B", dataset.DiseaseCases))
}

func TestNaiveMean(t *testing.T) {
	history := monthly(t, map[string][]float64{"A": {1, 2, 6}}, "2020-01")
	future := covariates(t, []string{"A"}, "2020-04", 2)

	assert.Equal(t, []float64{3, 3}, predictFeature(t, NaiveMean{}, history, future, ModePredict, "A", dataset.DiseaseCases))
}

func TestNaivePoisson(t *testing.T) {
	history := monthly(t, map[string][]float64{"A": {8, 10, 12}, "Z": {0, 0, 0}}, "2020-01")
	future := covariates(t, []string{"A", "Z"}, "2020-04", 1)

	assert.Equal(t, []float64{10}, predictFeature(t, NaivePoisson{}, history, future, ModePredict, "A", dataset.DiseaseCases))

	low := predictFeature(t, NaivePoisson{}, history, future, ModeForecast, "A", dataset.QuantileLow)
	median := predictFeature(t, NaivePoisson{}, history, future, ModeForecast, "A", dataset.Median)
	high := predictFeature(t, NaivePoisson{}, history, future, ModeForecast, "A", dataset.QuantileHigh)
	// Poisson(10): P(X<=5)=0.067, P(X<=6)=0.130, P(X<=10)=0.583, P(X<=13)=0.864, P(X<=14)=0.917
	assert.Equal(t, []float64{6}, low)
	assert.Equal(t, []float64{10}, median)
	assert.Equal(t, []float64{14}, high)

	zero := predictFeature(t, NaivePoisson{}, history, future, ModeForecast, "Z", dataset.QuantileHigh)
	assert.Equal(t, []float64{0}, zero)
}

func TestExpSmoothing(t *testing.T) {
	history := monthly(t, map[string][]float64{"A": {10, 20}}, "2020-01")
	future := covariates(t, []string{"A"}, "2020-03", 1)

	// level = 0.5*20 + 0.5*10
	got := predictFeature(t, ExpSmoothing{Alpha: 0.5}, history, future, ModePredict, "A", dataset.DiseaseCases)
	assert.InDelta(t, 15.0, got[0], 1e-9)
}

func TestSeasonal(t *testing.T) {
	// two years with a January peak
	values := []float64{100, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 120, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10}
	history := monthly(t, map[string][]float64{"A": values}, "2020-01")
	future := covariates(t, []string{"A"}, "2022-01", 2)

	got := predictFeature(t, Seasonal{Alpha: 0.5, Weight: 1}, history, future, ModePredict, "A", dataset.DiseaseCases)
	assert.InDelta(t, 110.0, got[0], 1e-9)
	assert.InDelta(t, 10.0, got[1], 1e-9)

	low := predictFeature(t, Seasonal{}, history, future, ModeForecast, "A", dataset.QuantileLow)
	high := predictFeature(t, Seasonal{}, history, future, ModeForecast, "A", dataset.QuantileHigh)
	assert.Less(t, low[0], high[0])
	assert.GreaterOrEqual(t, low[1], 0.0)
}

func TestBuiltins_UnknownLocationPredictsMissing(t *testing.T) {
	history := monthly(t, map[string][]float64{"A": {1, 2, 3}}, "2020-01")
	future := covariates(t, []string{"A", "B"}, "2020-04", 1)

	got := predictFeature(t, NaiveLast{}, history, future, ModePredict, "B", dataset.DiseaseCases)
	assert.True(t, math.IsNaN(got[0]))
}

func TestBuiltins_EmptyHistory(t *testing.T) {
	history := monthly(t, map[string][]float64{"A": {math.NaN(), math.NaN()}}, "2020-01")

	_, err := NewInProcess("empty", "", NaiveMean{}).Train(context.Background(), history)
	assert.True(t, errors.Is(err, ErrEmptyHistory))
}

type pointOnlyEstimator struct{}

func (pointOnlyEstimator) Train(ctx context.Context, history *dataset.DataSet) (Predictor, error) {
	return pointOnlyPredictor{}, nil
}

type pointOnlyPredictor struct{}

func (pointOnlyPredictor) Predict(ctx context.Context, future *dataset.DataSet) (*dataset.DataSet, error) {
	return future, nil
}

func TestInProcess_ModeAndCompleteness(t *testing.T) {
	history := monthly(t, map[string][]float64{"A": {1, 2, 3}}, "2020-01")
	future := covariates(t, []string{"A"}, "2020-04", 1)

	trained, err := NewInProcess("echo", "", pointOnlyEstimator{}).Train(context.Background(), history)
	require.NoError(t, err)

	_, err = trained.Predict(context.Background(), future, ModeForecast)
	var merr *UnsupportedModeError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, ModeForecast, merr.Mode)

	// echoing the covariates lacks the target column
	_, err = trained.Predict(context.Background(), future, ModePredict)
	var ierr *IncompletePredictionError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "A", ierr.Location)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModePredict, m)

	m, err = ParseMode("forecast")
	require.NoError(t, err)
	assert.Equal(t, ModeForecast, m)

	_, err = ParseMode("sample")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{ExpSmoothingName, NaiveLastName, NaiveMeanName, NaivePoissonName, SeasonalName}, r.Names())

	a, err := r.Adapter(NaiveMeanName, "")
	require.NoError(t, err)
	assert.Equal(t, NaiveMeanName, a.Name())

	_, err = r.Adapter("prophet", "")
	assert.True(t, errors.Is(err, ErrUnknownModel))

	require.NoError(t, r.Register("zero", func(target string) Estimator { return NaiveMean{Target: target} }))
	assert.Error(t, r.Register("zero", nil))
}
