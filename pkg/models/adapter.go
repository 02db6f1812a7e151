// Package models drives forecasting models through one contract.
//
// An Adapter is trained on history and yields a Trained model that predicts
// over future covariates. Two variants exist: InProcess wraps a Go Estimator,
// External drives a command-line program through CSV files and templated
// commands. Descriptors select between them.
package models

import (
	"context"
	"fmt"

	"github.com/climate-health/chap/pkg/dataset"
)

// Mode selects the kind of output requested from a trained model.
type Mode string

const (
	// ModePredict yields point predictions in the target column.
	ModePredict Mode = "predict"
	// ModeForecast yields quantile_low, median and quantile_high columns;
	// the target column carries the median.
	ModeForecast Mode = "forecast"
)

// ParseMode validates a mode name. Empty means predict.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModePredict:
		return ModePredict, nil
	case ModeForecast:
		return ModeForecast, nil
	}
	return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModePredict, ModeForecast)
}

// Adapter is the uniform model contract used by the evaluator.
type Adapter interface {
	Name() string
	Train(ctx context.Context, history *dataset.DataSet) (Trained, error)
}

// Trained is a fitted model. Close releases resources held since training.
type Trained interface {
	Predict(ctx context.Context, future *dataset.DataSet, mode Mode) (*dataset.DataSet, error)
	Close() error
}

// Estimator is an in-process trainable model.
type Estimator interface {
	Train(ctx context.Context, history *dataset.DataSet) (Predictor, error)
}

// Predictor produces point predictions for the locations and periods of future.
type Predictor interface {
	Predict(ctx context.Context, future *dataset.DataSet) (*dataset.DataSet, error)
}

// Forecaster is implemented by predictors that can summarise a predictive distribution.
type Forecaster interface {
	Forecast(ctx context.Context, future *dataset.DataSet) (*dataset.DataSet, error)
}

// InProcess adapts an Estimator to the Adapter contract.
type InProcess struct {
	name      string
	target    string
	estimator Estimator
}

// NewInProcess wraps estimator. Predictions are checked for the target column.
func NewInProcess(name, target string, estimator Estimator) *InProcess {
	if target == "" {
		target = dataset.DiseaseCases
	}
	return &InProcess{name: name, target: target, estimator: estimator}
}

func (a *InProcess) Name() string { return a.name }

func (a *InProcess) Train(ctx context.Context, history *dataset.DataSet) (Trained, error) {
	predictor, err := a.estimator.Train(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", a.name, err)
	}
	return &inProcessTrained{adapter: a, predictor: predictor}, nil
}

type inProcessTrained struct {
	adapter   *InProcess
	predictor Predictor
}

func (t *inProcessTrained) Predict(ctx context.Context, future *dataset.DataSet, mode Mode) (*dataset.DataSet, error) {
	var (
		out *dataset.DataSet
		err error
	)
	switch mode {
	case ModePredict:
		out, err = t.predictor.Predict(ctx, future)
	case ModeForecast:
		f, ok := t.predictor.(Forecaster)
		if !ok {
			return nil, &UnsupportedModeError{Model: t.adapter.name, Mode: mode}
		}
		out, err = f.Forecast(ctx, future)
	default:
		return nil, &UnsupportedModeError{Model: t.adapter.name, Mode: mode}
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", mode, t.adapter.name, err)
	}
	if err := CheckComplete(t.adapter.name, t.adapter.target, future, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *inProcessTrained) Close() error { return nil }

// CheckComplete verifies that predictions hold the target column for every
// location and period of future.
func CheckComplete(model, target string, future, predictions *dataset.DataSet) error {
	if predictions == nil {
		return &IncompletePredictionError{Model: model, Reason: "no predictions returned"}
	}
	for _, loc := range future.Locations() {
		want, _ := future.Location(loc)
		got, err := predictions.Location(loc)
		if err != nil {
			return &IncompletePredictionError{Model: model, Location: loc, Reason: "location missing"}
		}
		if !got.HasFeature(target) {
			return &IncompletePredictionError{Model: model, Location: loc, Reason: fmt.Sprintf("column %q missing", target)}
		}
		if !got.Range().Covers(want.Range()) {
			return &IncompletePredictionError{
				Model:    model,
				Location: loc,
				Reason:   fmt.Sprintf("periods %s do not cover %s", got.Range(), want.Range()),
			}
		}
	}
	return nil
}
