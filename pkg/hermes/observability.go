// Package hermes carries the observability plumbing shared by every component:
// logger construction, a field-map Logger interface and a Metrics sink.
package hermes

import "context"

type Label struct {
	Key   string
	Value string
}

type Metrics interface {
	IncCounter(name string, value float64, labels ...Label)
	ObserveHistogram(name string, value float64, labels ...Label)
	SetGauge(name string, value float64, labels ...Label)
}

type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
	Error(ctx context.Context, msg string, fields map[string]any)
}

// Metric names emitted by the evaluation pipeline.
const (
	MetricSplitsTotal          = "chap_splits_total"
	MetricModelRunsTotal       = "chap_model_runs_total"
	MetricModelRunSeconds      = "chap_model_run_seconds"
	MetricExternalProcessTotal = "chap_external_process_total"
	MetricExternalSeconds      = "chap_external_process_seconds"
	MetricResultRows           = "chap_result_rows"
)
