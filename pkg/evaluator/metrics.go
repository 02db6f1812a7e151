package evaluator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Metric names an error measure aggregated into the result table.
type Metric string

const (
	MetricRMSE Metric = "rmse"
	MetricMAE  Metric = "mae"
	MetricMAPE Metric = "mape"
)

// ParseMetric validates a metric name. Empty means RMSE.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", MetricRMSE:
		return MetricRMSE, nil
	case MetricMAE:
		return MetricMAE, nil
	case MetricMAPE:
		return MetricMAPE, nil
	}
	return "", fmt.Errorf("unknown metric %q (want rmse, mae or mape)", s)
}

// Compute applies the metric to aligned predictions and actuals.
func (m Metric) Compute(predictions, actuals []float64) float64 {
	r := CalculateMetrics(predictions, actuals, nil, nil)
	switch m {
	case MetricMAE:
		return r.MAE
	case MetricMAPE:
		return r.MAPE
	default:
		return r.RMSE
	}
}

// MetricResult holds the calculated error metrics
type MetricResult struct {
	N        int     `json:"n"`
	MAE      float64 `json:"mae"`      // Mean Absolute Error
	RMSE     float64 `json:"rmse"`     // Root Mean Square Error
	MAPE     float64 `json:"mape"`     // Mean Absolute Percentage Error over non-zero actuals
	Coverage float64 `json:"coverage"` // Percentage of actuals within prediction intervals
}

// CalculateMetrics computes accuracy metrics for predictions vs actuals.
// Slices must be aligned; bounds may be nil when no intervals were predicted.
func CalculateMetrics(predictions, actuals, lowerBounds, upperBounds []float64) MetricResult {
	if len(predictions) != len(actuals) || len(predictions) == 0 {
		return MetricResult{}
	}

	n := float64(len(predictions))
	diff := make([]float64, len(predictions))
	floats.SubTo(diff, actuals, predictions)

	var sumPctError float64
	var nonZero int
	for i, act := range actuals {
		if act != 0 {
			sumPctError += math.Abs(diff[i] / act)
			nonZero++
		}
	}

	result := MetricResult{
		N:    len(predictions),
		MAE:  floats.Norm(diff, 1) / n,
		RMSE: floats.Norm(diff, 2) / math.Sqrt(n),
	}
	if nonZero > 0 {
		result.MAPE = sumPctError / float64(nonZero) * 100.0
	}

	if len(lowerBounds) == len(actuals) && len(upperBounds) == len(actuals) {
		var covered int
		for i, act := range actuals {
			if act >= lowerBounds[i] && act <= upperBounds[i] {
				covered++
			}
		}
		result.Coverage = (float64(covered) / n) * 100.0
	}

	return result
}
