package evaluator

import (
	"time"
)

// ModelReport summarises one model's accuracy.
type ModelReport struct {
	Overall MetricResult         `json:"overall"`
	ByLag   map[int]MetricResult `json:"by_lag"`
}

// EvaluationReport contains the summary of an evaluation run
type EvaluationReport struct {
	RunID       string                 `json:"run_id"`
	GeneratedAt time.Time              `json:"generated_at"`
	SplitPoints []string               `json:"split_points"`
	Models      map[string]ModelReport `json:"models"`
	Failures    int                    `json:"failures"`
}

// NewEvaluationReport computes overall and per-lag metrics for every model.
// Coverage is only reported for models whose observations all carry intervals.
func NewEvaluationReport(result *Result) *EvaluationReport {
	report := &EvaluationReport{
		RunID:       result.RunID,
		GeneratedAt: time.Now(),
		Models:      make(map[string]ModelReport),
		Failures:    len(result.Failures),
	}
	for _, p := range result.SplitPoints {
		report.SplitPoints = append(report.SplitPoints, p.String())
	}

	type series struct {
		pred, act, low, high []float64
		intervals            bool
	}
	overall := map[string]*series{}
	byLag := map[string]map[int]*series{}

	add := func(s *series, o Observation) {
		s.pred = append(s.pred, o.Predicted)
		s.act = append(s.act, o.Actual)
		s.low = append(s.low, o.Low)
		s.high = append(s.high, o.High)
		s.intervals = s.intervals && o.HasInterval
	}

	for _, o := range result.Table.Observations() {
		s, ok := overall[o.Model]
		if !ok {
			s = &series{intervals: true}
			overall[o.Model] = s
			byLag[o.Model] = map[int]*series{}
		}
		add(s, o)

		l, ok := byLag[o.Model][o.LagAhead]
		if !ok {
			l = &series{intervals: true}
			byLag[o.Model][o.LagAhead] = l
		}
		add(l, o)
	}

	metrics := func(s *series) MetricResult {
		if s.intervals {
			return CalculateMetrics(s.pred, s.act, s.low, s.high)
		}
		return CalculateMetrics(s.pred, s.act, nil, nil)
	}

	for model, s := range overall {
		mr := ModelReport{Overall: metrics(s), ByLag: make(map[int]MetricResult)}
		for lag, l := range byLag[model] {
			mr.ByLag[lag] = metrics(l)
		}
		report.Models[model] = mr
	}
	return report
}
