package models

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/climate-health/chap/pkg/dataset"
	"github.com/climate-health/chap/pkg/period"
)

// Quantile levels written in forecast mode.
const (
	LowerQuantile = 0.1
	UpperQuantile = 0.9
)

// estimate is one location's prediction for one future period.
type estimate struct {
	point, low, median, high float64
}

// locationModel predicts a single location.
type locationModel interface {
	estimate(p period.Period, step int) estimate
}

// fitted holds per-location models and renders them onto future covariates.
type fitted struct {
	target string
	models map[string]locationModel
}

func (f *fitted) Predict(ctx context.Context, future *dataset.DataSet) (*dataset.DataSet, error) {
	return f.render(ctx, future, false)
}

func (f *fitted) Forecast(ctx context.Context, future *dataset.DataSet) (*dataset.DataSet, error) {
	return f.render(ctx, future, true)
}

func (f *fitted) render(ctx context.Context, future *dataset.DataSet, summary bool) (*dataset.DataSet, error) {
	series := make(map[string]*dataset.TimeSeries, future.Len())
	for _, loc := range future.Locations() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ts, _ := future.Location(loc)
		r := ts.Range()
		point := make([]float64, r.Len())
		low := make([]float64, r.Len())
		median := make([]float64, r.Len())
		high := make([]float64, r.Len())

		m, ok := f.models[loc]
		for i, p := range r.Periods() {
			if !ok {
				point[i], low[i], median[i], high[i] = dataset.Missing, dataset.Missing, dataset.Missing, dataset.Missing
				continue
			}
			e := m.estimate(p, i+1)
			point[i], low[i], median[i], high[i] = e.point, e.low, e.median, e.high
		}

		columns := map[string][]float64{f.target: point}
		if summary {
			columns[f.target] = median
			columns[dataset.QuantileLow] = low
			columns[dataset.Median] = median
			columns[dataset.QuantileHigh] = high
		}
		out, err := dataset.NewTimeSeries(r, columns)
		if err != nil {
			return nil, fmt.Errorf("location %q: %w", loc, err)
		}
		series[loc] = out
	}
	return dataset.New(series)
}

// fitEach trains one locationModel per location from its observed target values.
// Locations without any observation get no model and predict Missing.
func fitEach(ctx context.Context, history *dataset.DataSet, target string, fit func(ts *dataset.TimeSeries, observed []float64) locationModel) (Predictor, error) {
	f := &fitted{target: target, models: make(map[string]locationModel, history.Len())}
	for _, loc := range history.Locations() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ts, _ := history.Location(loc)
		values, err := ts.Feature(target)
		if err != nil {
			return nil, fmt.Errorf("location %q: %w", loc, err)
		}
		observed := observedValues(values)
		if len(observed) == 0 {
			continue
		}
		f.models[loc] = fit(ts, observed)
	}
	if len(f.models) == 0 && history.Len() > 0 {
		return nil, ErrEmptyHistory
	}
	return f, nil
}

func observedValues(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !dataset.IsMissing(v) {
			out = append(out, v)
		}
	}
	return out
}

// constantModel predicts one value with a fixed interval.
type constantModel struct {
	value estimate
}

func (m constantModel) estimate(period.Period, int) estimate { return m.value }

func pointOnly(v float64) constantModel {
	return constantModel{estimate{point: v, low: v, median: v, high: v}}
}

// NaiveLast predicts the last observed target value.
type NaiveLast struct {
	Target string
}

func (e NaiveLast) Train(ctx context.Context, history *dataset.DataSet) (Predictor, error) {
	return fitEach(ctx, history, targetOrDefault(e.Target), func(_ *dataset.TimeSeries, observed []float64) locationModel {
		return pointOnly(observed[len(observed)-1])
	})
}

// NaiveMean predicts the mean of the observed target values.
type NaiveMean struct {
	Target string
}

func (e NaiveMean) Train(ctx context.Context, history *dataset.DataSet) (Predictor, error) {
	return fitEach(ctx, history, targetOrDefault(e.Target), func(_ *dataset.TimeSeries, observed []float64) locationModel {
		return pointOnly(stat.Mean(observed, nil))
	})
}

// NaivePoisson models each location as a Poisson process whose rate is the
// training mean. Forecasts report the Poisson quantiles.
type NaivePoisson struct {
	Target string
}

func (e NaivePoisson) Train(ctx context.Context, history *dataset.DataSet) (Predictor, error) {
	return fitEach(ctx, history, targetOrDefault(e.Target), func(_ *dataset.TimeSeries, observed []float64) locationModel {
		rate := math.Max(stat.Mean(observed, nil), 0)
		if rate == 0 {
			return pointOnly(0)
		}
		dist := distuv.Poisson{Lambda: rate}
		return constantModel{estimate{
			point:  rate,
			low:    poissonQuantile(dist, LowerQuantile),
			median: poissonQuantile(dist, 0.5),
			high:   poissonQuantile(dist, UpperQuantile),
		}}
	})
}

// poissonQuantile returns the smallest k with CDF(k) >= q.
func poissonQuantile(dist distuv.Poisson, q float64) float64 {
	k := math.Max(0, math.Floor(dist.Lambda-6*math.Sqrt(dist.Lambda)))
	for dist.CDF(k) < q {
		k++
	}
	return k
}

// ExpSmoothing forecasts the exponentially smoothed level of each location.
type ExpSmoothing struct {
	Target string
	Alpha  float64 // Smoothing factor in (0, 1) (default: 0.3)
}

func (e ExpSmoothing) Train(ctx context.Context, history *dataset.DataSet) (Predictor, error) {
	alpha := e.Alpha
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.3
	}
	return fitEach(ctx, history, targetOrDefault(e.Target), func(_ *dataset.TimeSeries, observed []float64) locationModel {
		level, residuals := smooth(observed, alpha)
		return constantModel{interval(level, residuals)}
	})
}

// smooth returns the final smoothed level and the one-step-ahead residuals.
func smooth(observed []float64, alpha float64) (float64, []float64) {
	level := observed[0]
	residuals := make([]float64, 0, len(observed)-1)
	for _, v := range observed[1:] {
		residuals = append(residuals, v-level)
		level = alpha*v + (1-alpha)*level
	}
	return level, residuals
}

// interval derives a normal prediction interval from residual spread. Counts
// cannot go negative, so the bounds are clamped at zero.
func interval(prediction float64, residuals []float64) estimate {
	e := estimate{point: prediction, median: prediction}
	if len(residuals) < 2 {
		e.low, e.high = prediction*0.5, prediction*1.5
		return e
	}
	sigma := stat.StdDev(residuals, nil)
	if sigma == 0 {
		e.low, e.high = prediction, prediction
		return e
	}
	dist := distuv.Normal{Mu: prediction, Sigma: sigma}
	e.low = math.Max(0, dist.Quantile(LowerQuantile))
	e.high = math.Max(0, dist.Quantile(UpperQuantile))
	return e
}

// Seasonal blends the mean of each season of the year with the smoothed level.
type Seasonal struct {
	Target string
	Alpha  float64 // Smoothing factor for the level (default: 0.3)
	Weight float64 // Share of the seasonal mean in the blend (default: 0.6)
}

type seasonalModel struct {
	seasonal  map[int]float64
	level     float64
	weight    float64
	residuals []float64
}

func (m *seasonalModel) estimate(p period.Period, _ int) estimate {
	season, _ := p.Season()
	s, ok := m.seasonal[season]
	if !ok {
		s = m.level
	}
	return interval(m.weight*s+(1-m.weight)*m.level, m.residuals)
}

func (e Seasonal) Train(ctx context.Context, history *dataset.DataSet) (Predictor, error) {
	alpha := e.Alpha
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.3
	}
	weight := e.Weight
	if weight <= 0 || weight > 1 {
		weight = 0.6
	}
	target := targetOrDefault(e.Target)

	return fitEach(ctx, history, target, func(ts *dataset.TimeSeries, observed []float64) locationModel {
		values, _ := ts.Feature(target)
		sums := map[int]float64{}
		counts := map[int]int{}
		for i, p := range ts.Range().Periods() {
			if dataset.IsMissing(values[i]) {
				continue
			}
			season, _ := p.Season()
			sums[season] += values[i]
			counts[season]++
		}
		m := &seasonalModel{seasonal: make(map[int]float64, len(sums)), weight: weight}
		for season, sum := range sums {
			m.seasonal[season] = sum / float64(counts[season])
		}
		m.level, _ = smooth(observed, alpha)

		for i, p := range ts.Range().Periods() {
			if dataset.IsMissing(values[i]) {
				continue
			}
			season, _ := p.Season()
			m.residuals = append(m.residuals, values[i]-m.seasonal[season])
		}
		return m
	})
}

func targetOrDefault(target string) string {
	if target == "" {
		return dataset.DiseaseCases
	}
	return target
}
