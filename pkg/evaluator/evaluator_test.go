package evaluator

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climate-health/chap/pkg/dataset"
	"github.com/climate-health/chap/pkg/hermes"
	"github.com/climate-health/chap/pkg/models"
	"github.com/climate-health/chap/pkg/period"
	"github.com/climate-health/chap/pkg/splitter"
)

func buildDataSet(t *testing.T, start string, cases map[string][]float64) *dataset.DataSet {
	t.Helper()
	series := make(map[string]*dataset.TimeSeries, len(cases))
	for loc, values := range cases {
		r, err := period.FromStart(period.MustParse(start), len(values))
		require.NoError(t, err)
		rain := make([]float64, len(values))
		for i := range rain {
			rain[i] = float64(i) * 1.5
		}
		ts, err := dataset.NewTimeSeries(r, map[string][]float64{dataset.DiseaseCases: values, "rainfall": rain})
		require.NoError(t, err)
		series[loc] = ts
	}
	ds, err := dataset.New(series)
	require.NoError(t, err)
	return ds
}

func builtin(t *testing.T, name string) models.Adapter {
	t.Helper()
	a, err := models.NewRegistry().Adapter(name, "")
	require.NoError(t, err)
	return a
}

func failingExternal(t *testing.T) models.Adapter {
	t.Helper()
	dir := t.TempDir()
	train := filepath.Join(dir, "train.sh")
	predict := filepath.Join(dir, "predict.sh")
	require.NoError(t, os.WriteFile(train, []byte("cp \"$1\" \"$2\"\n"), 0o755))
	require.NoError(t, os.WriteFile(predict, []byte("echo 'model crashed' >&2\nexit 1\n"), 0o755))

	ext, err := models.NewExternal(models.ExternalConfig{
		Name:           "broken",
		TrainCommand:   "sh " + train + " {train_data} {model}",
		PredictCommand: "sh " + predict + " {future_data} {model} {out_file}",
		ScratchDir:     t.TempDir(),
	})
	require.NoError(t, err)
	return ext
}

func TestRun_ConstantPredictorRMSE(t *testing.T) {
	ds := buildDataSet(t, "2020-01", map[string][]float64{"A": {2, 4, 6, 20}})

	ev, err := New(Config{Splitter: splitter.Config{MaxSplits: 1, StartOffset: 2, Horizon: 1}}, builtin(t, models.NaiveMeanName))
	require.NoError(t, err)

	result, err := ev.Run(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, result.SplitPoints, 1)
	assert.Equal(t, "2020-03", result.SplitPoints[0].String())

	rows := result.Table.Rows(MetricRMSE)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0].Location)
	assert.Equal(t, 1, rows[0].LagAhead)
	// mean of 2, 4, 6 against a truth of 20
	assert.InDelta(t, 16.0, rows[0].ErrorValue, 1e-9)
}

func TestRun_ConstantSeriesNaiveLast(t *testing.T) {
	ds := buildDataSet(t, "2020-01", map[string][]float64{"A": {10, 10, 10, 10}, "B": {10, 10, 10, 10}})

	ev, err := New(Config{Splitter: splitter.Config{MaxSplits: 5, StartOffset: 0}}, builtin(t, models.NaiveLastName))
	require.NoError(t, err)

	result, err := ev.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Len(t, result.SplitPoints, 3)
	assert.Empty(t, result.Failures)

	rows := result.Table.Rows(MetricRMSE)
	require.NotEmpty(t, rows)
	for _, r := range rows {
		assert.Equal(t, 0.0, r.ErrorValue, "%s lag %d", r.Location, r.LagAhead)
	}
	// lags 1..3 for each of two locations
	assert.Len(t, rows, 6)
}

func TestRun_ExternalFailureStrict(t *testing.T) {
	ds := buildDataSet(t, "2020-01", map[string][]float64{"A": {1, 2, 3, 4, 5}})

	ev, err := New(Config{Splitter: splitter.Config{MaxSplits: 2, StartOffset: 2}}, failingExternal(t))
	require.NoError(t, err)

	result, err := ev.Run(context.Background(), ds)
	var perr *models.ExternalProcessError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.ExitCode)
	assert.Contains(t, perr.Stderr, "model crashed")
	assert.Nil(t, result)
}

func TestRun_ExternalFailureResilient(t *testing.T) {
	ds := buildDataSet(t, "2020-01", map[string][]float64{"A": {1, 2, 3, 4, 5}})

	ev, err := New(Config{
		Splitter:      splitter.Config{MaxSplits: 2, StartOffset: 2},
		FailurePolicy: FailResilient,
		Baseline:      builtin(t, models.NaivePoissonName),
	}, failingExternal(t))
	require.NoError(t, err)

	result, err := ev.Run(context.Background(), ds)
	require.NoError(t, err)

	require.Len(t, result.Failures, 2)
	for _, f := range result.Failures {
		assert.Equal(t, "broken", f.Model)
		var perr *models.ExternalProcessError
		assert.ErrorAs(t, f.Err, &perr)
	}
	assert.Equal(t, []string{models.NaivePoissonName}, result.Table.Models())
}

func TestRun_FailuresInSplitOrder(t *testing.T) {
	ds := buildDataSet(t, "2020-01", map[string][]float64{"A": {1, 2, 3, 4, 5, 6, 7, 8, 9, 10}})

	ev, err := New(Config{
		Splitter:      splitter.Config{MaxSplits: 6, StartOffset: 2},
		FailurePolicy: FailResilient,
		Workers:       4,
	}, failingExternal(t))
	require.NoError(t, err)

	result, err := ev.Run(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, result.Failures, len(result.SplitPoints))
	for i, f := range result.Failures {
		assert.Equal(t, result.SplitPoints[i].String(), f.SplitPoint)
	}
}

func TestRun_BaselineSharesSplits(t *testing.T) {
	ds := buildDataSet(t, "2020", map[string][]float64{"A": {1, 2, 3, 4, 5, 6}, "B": {6, 5, 4, 3, 2, 1}})

	ev, err := New(Config{
		Splitter: splitter.Config{MaxSplits: 3, StartOffset: 2},
		Baseline: builtin(t, models.NaivePoissonName),
	}, builtin(t, models.NaiveLastName))
	require.NoError(t, err)

	result, err := ev.Run(context.Background(), ds)
	require.NoError(t, err)

	bySplit := map[string]map[string]int{}
	for _, o := range result.Table.Observations() {
		if bySplit[o.Model] == nil {
			bySplit[o.Model] = map[string]int{}
		}
		bySplit[o.Model][o.SplitPoint]++
	}
	assert.Equal(t, bySplit[models.NaiveLastName], bySplit[models.NaivePoissonName])
	assert.Len(t, bySplit[models.NaiveLastName], 3)
}

func TestRun_Idempotent(t *testing.T) {
	ds := buildDataSet(t, "2020-01", map[string][]float64{
		"A": {3, 5, 8, 2, 9, 4, 7, 1},
		"B": {1, 1, 2, 3, 5, 8, 13, 21},
	})
	cfg := Config{Splitter: splitter.Config{MaxSplits: 4, StartOffset: 2, Horizon: 2}}

	run := func(workers int) []Observation {
		cfg.Workers = workers
		ev, err := New(cfg, builtin(t, models.ExpSmoothingName), builtin(t, models.SeasonalName))
		require.NoError(t, err)
		result, err := ev.Run(context.Background(), ds)
		require.NoError(t, err)
		return result.Table.Observations()
	}

	first := run(1)
	assert.Equal(t, first, run(1))
	assert.Equal(t, first, run(4))
}

func TestRun_SkipsMissingTruth(t *testing.T) {
	ds := buildDataSet(t, "2020-01", map[string][]float64{"A": {1, 1, math.NaN(), 1}})

	ev, err := New(Config{Splitter: splitter.Config{MaxSplits: 2, StartOffset: 1}}, builtin(t, models.NaiveLastName))
	require.NoError(t, err)

	result, err := ev.Run(context.Background(), ds)
	require.NoError(t, err)

	type cell struct {
		split string
		lag   int
	}
	var got []cell
	for _, o := range result.Table.Observations() {
		got = append(got, cell{o.SplitPoint, o.LagAhead})
		assert.Equal(t, 1.0, o.Predicted)
		assert.Equal(t, 1.0, o.Actual)
	}
	// 2020-03 is missing, so the split at 2020-02 only scores lag 2
	assert.Equal(t, []cell{{"2020-02", 2}, {"2020-03", 1}}, got)
}

func TestRun_ForecastModeIntervals(t *testing.T) {
	ds := buildDataSet(t, "2020-01", map[string][]float64{"A": {10, 12, 8, 10, 11, 9}})

	metrics := hermes.NewPrometheusMetrics()
	ev, err := New(Config{
		Splitter: splitter.Config{MaxSplits: 2, StartOffset: 3},
		Mode:     models.ModeForecast,
		Metrics:  metrics,
	}, builtin(t, models.NaivePoissonName))
	require.NoError(t, err)

	result, err := ev.Run(context.Background(), ds)
	require.NoError(t, err)
	require.NotZero(t, result.Table.Len())
	for _, o := range result.Table.Observations() {
		assert.True(t, o.HasInterval)
		assert.LessOrEqual(t, o.Low, o.High)
	}

	report := NewEvaluationReport(result)
	mr, ok := report.Models[models.NaivePoissonName]
	require.True(t, ok)
	assert.Greater(t, mr.Overall.Coverage, 0.0)
	assert.Contains(t, mr.ByLag, 1)

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names[hermes.MetricModelRunsTotal])
	assert.True(t, names[hermes.MetricResultRows])
}

func TestRun_UnsupportedMode(t *testing.T) {
	ds := buildDataSet(t, "2020-01", map[string][]float64{"A": {1, 2, 3, 4}})

	ev, err := New(Config{Splitter: splitter.Config{MaxSplits: 1, StartOffset: 1}, Mode: models.ModeForecast}, failingExternal(t))
	require.NoError(t, err)

	_, err = ev.Run(context.Background(), ds)
	var merr *models.UnsupportedModeError
	require.ErrorAs(t, err, &merr)
}

func TestRun_InsufficientHistory(t *testing.T) {
	ds := buildDataSet(t, "2020-01", map[string][]float64{"A": {1, 2, 3}})

	ev, err := New(Config{Splitter: splitter.DefaultConfig()}, builtin(t, models.NaiveLastName))
	require.NoError(t, err)

	_, err = ev.Run(context.Background(), ds)
	var he *splitter.InsufficientHistoryError
	require.ErrorAs(t, err, &he)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Splitter: splitter.DefaultConfig()})
	assert.ErrorIs(t, err, ErrNoModels)

	a := builtin(t, models.NaiveLastName)
	_, err = New(Config{Splitter: splitter.DefaultConfig()}, a, a)
	assert.Error(t, err)

	_, err = New(Config{Splitter: splitter.DefaultConfig(), FailurePolicy: "retry"}, a)
	assert.Error(t, err)

	_, err = New(Config{}, a)
	assert.ErrorIs(t, err, splitter.ErrInvalidConfig)
}
