// Package evaluator backtests forecasting models over rolling forecast origins
// and accumulates per (model, location, lag) errors into a result table.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/climate-health/chap/pkg/dataset"
	"github.com/climate-health/chap/pkg/hermes"
	"github.com/climate-health/chap/pkg/models"
	"github.com/climate-health/chap/pkg/period"
	"github.com/climate-health/chap/pkg/splitter"
)

// FailurePolicy decides what a failing model run does to the evaluation.
type FailurePolicy string

const (
	// FailStrict aborts the run on the first failure.
	FailStrict FailurePolicy = "strict"
	// FailResilient drops the failing (model, split) contribution and records the failure.
	FailResilient FailurePolicy = "resilient"
)

// ErrNoModels indicates an evaluator configured without any model.
var ErrNoModels = errors.New("no models to evaluate")

// Config controls an evaluation run.
type Config struct {
	Splitter      splitter.Config
	Target        string         // Outcome feature compared against predictions (default: disease_cases)
	Mode          models.Mode    // Prediction mode (default: predict)
	FailurePolicy FailurePolicy  // Default: strict
	Workers       int            // Split points evaluated concurrently (default: 1)
	Baseline      models.Adapter // Optional reference model run on the same splits
	Logger        *slog.Logger
	Metrics       hermes.Metrics
}

// Failure records a (model, split) contribution dropped under FailResilient.
type Failure struct {
	Model      string `json:"model"`
	SplitPoint string `json:"split_point"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

// Result is the outcome of one evaluation run.
type Result struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	SplitPoints []period.Period
	Table       *ResultTable
	Failures    []Failure
}

// Evaluator runs train and predict for every model on every split.
type Evaluator struct {
	cfg      Config
	adapters []models.Adapter
	logger   *slog.Logger
	metrics  hermes.Metrics
}

// New creates an evaluator for the given models. The baseline, if any, runs after them.
func New(cfg Config, adapters ...models.Adapter) (*Evaluator, error) {
	if cfg.Baseline != nil {
		adapters = append(append([]models.Adapter(nil), adapters...), cfg.Baseline)
	}
	if len(adapters) == 0 {
		return nil, ErrNoModels
	}
	seen := map[string]bool{}
	for _, a := range adapters {
		if seen[a.Name()] {
			return nil, fmt.Errorf("duplicate model name %q", a.Name())
		}
		seen[a.Name()] = true
	}

	if cfg.Target == "" {
		cfg.Target = dataset.DiseaseCases
	}
	if len(cfg.Splitter.TargetFeatures) == 0 {
		cfg.Splitter.TargetFeatures = []string{cfg.Target}
	}
	if cfg.Mode == "" {
		cfg.Mode = models.ModePredict
	}
	switch cfg.FailurePolicy {
	case "":
		cfg.FailurePolicy = FailStrict
	case FailStrict, FailResilient:
	default:
		return nil, fmt.Errorf("unknown failure policy %q", cfg.FailurePolicy)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if err := cfg.Splitter.Validate(); err != nil {
		return nil, err
	}

	e := &Evaluator{cfg: cfg, adapters: adapters, logger: cfg.Logger, metrics: cfg.Metrics}
	if e.logger == nil {
		e.logger = hermes.DiscardLogger()
	}
	if e.metrics == nil {
		e.metrics = hermes.NewNoopMetrics()
	}
	return e, nil
}

// Run evaluates every model over the split points of ds. The dataset is only read.
func (e *Evaluator) Run(ctx context.Context, ds *dataset.DataSet) (*Result, error) {
	result := &Result{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Table:     NewResultTable(),
	}
	logger := e.logger.With("run_id", result.RunID)

	splits, err := splitter.Generate(ds, e.cfg.Splitter)
	if err != nil {
		return nil, fmt.Errorf("generate splits: %w", err)
	}
	for _, s := range splits {
		result.SplitPoints = append(result.SplitPoints, s.SplitPoint)
	}
	logger.Info("evaluation started",
		"models", len(e.adapters),
		"locations", ds.Len(),
		"split_points", len(splits),
		"mode", string(e.cfg.Mode),
		"failure_policy", string(e.cfg.FailurePolicy),
	)

	// Filled per split index so the merged result is independent of worker scheduling.
	fragments := make([]*ResultTable, len(splits))
	failed := make([][]Failure, len(splits))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, s := range splits {
		g.Go(func() error {
			fragment, failures, err := e.runSplit(gctx, logger, s)
			if err != nil {
				return err
			}
			fragments[i] = fragment
			failed[i] = failures
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("evaluation aborted", "error", err)
		return nil, err
	}

	for i, f := range fragments {
		result.Table.Merge(f)
		result.Failures = append(result.Failures, failed[i]...)
	}
	result.FinishedAt = time.Now().UTC()

	e.metrics.SetGauge(hermes.MetricResultRows, float64(result.Table.Len()))
	logger.Info("evaluation finished",
		"observations", result.Table.Len(),
		"failures", len(result.Failures),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	)
	return result, nil
}

// runSplit evaluates every model on one split. A model contributes its
// observations only when both train and predict succeed.
func (e *Evaluator) runSplit(ctx context.Context, logger *slog.Logger, s splitter.Split) (*ResultTable, []Failure, error) {
	fragment := NewResultTable()
	var failures []Failure
	split := s.SplitPoint.String()

	for _, adapter := range e.adapters {
		labels := []hermes.Label{{Key: "model", Value: adapter.Name()}}
		start := time.Now()
		obs, err := e.runModel(ctx, adapter, s)
		e.metrics.ObserveHistogram(hermes.MetricModelRunSeconds, time.Since(start).Seconds(), labels...)

		if err != nil {
			e.metrics.IncCounter(hermes.MetricModelRunsTotal, 1, append(labels, hermes.Label{Key: "status", Value: "error"})...)
			err = fmt.Errorf("model %q at split %s: %w", adapter.Name(), split, err)
			if e.cfg.FailurePolicy == FailStrict || ctx.Err() != nil {
				return nil, nil, err
			}
			logger.Warn("model run failed, split skipped", "model", adapter.Name(), "split_point", split, "error", err)
			failures = append(failures, Failure{Model: adapter.Name(), SplitPoint: split, Message: err.Error(), Err: err})
			continue
		}

		e.metrics.IncCounter(hermes.MetricModelRunsTotal, 1, append(labels, hermes.Label{Key: "status", Value: "ok"})...)
		logger.Debug("model run finished", "model", adapter.Name(), "split_point", split, "observations", len(obs))
		fragment.Add(obs...)
	}
	e.metrics.IncCounter(hermes.MetricSplitsTotal, 1)
	return fragment, failures, nil
}

func (e *Evaluator) runModel(ctx context.Context, adapter models.Adapter, s splitter.Split) ([]Observation, error) {
	trained, err := adapter.Train(ctx, s.Train)
	if err != nil {
		return nil, err
	}
	defer trained.Close()

	predictions, err := trained.Predict(ctx, s.FutureCovariates, e.cfg.Mode)
	if err != nil {
		return nil, err
	}
	return compare(adapter.Name(), e.cfg.Target, s, predictions), nil
}

// compare pairs predictions with the truth. Cells missing on either side are
// skipped rather than filled.
func compare(model, target string, s splitter.Split, predictions *dataset.DataSet) []Observation {
	var out []Observation
	split := s.SplitPoint.String()
	for _, loc := range s.FutureTruth.Locations() {
		truth, _ := s.FutureTruth.Location(loc)
		pred, err := predictions.Location(loc)
		if err != nil {
			continue
		}
		for i, p := range truth.Range().Periods() {
			actual, err := truth.Value(target, p)
			if err != nil || dataset.IsMissing(actual) {
				continue
			}
			predicted, err := pred.Value(target, p)
			if err != nil || dataset.IsMissing(predicted) {
				continue
			}
			o := Observation{
				Model:      model,
				Location:   loc,
				SplitPoint: split,
				TimePeriod: p.String(),
				LagAhead:   i + 1,
				Predicted:  predicted,
				Actual:     actual,
			}
			low, errLow := pred.Value(dataset.QuantileLow, p)
			high, errHigh := pred.Value(dataset.QuantileHigh, p)
			if errLow == nil && errHigh == nil && !dataset.IsMissing(low) && !dataset.IsMissing(high) {
				o.HasInterval, o.Low, o.High = true, low, high
			}
			out = append(out, o)
		}
	}
	return out
}
