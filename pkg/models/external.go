package models

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/shlex"

	"github.com/climate-health/chap/pkg/dataset"
	"github.com/climate-health/chap/pkg/hermes"
)

// Template placeholders. Each canonical name has a short alias.
const (
	PlaceholderTrainData    = "train_data_path"
	PlaceholderModelState   = "model_state_path"
	PlaceholderFutureData   = "future_data_path"
	PlaceholderOutput       = "output_path"
	PlaceholderHistoricData = "historic_data_path"
)

var placeholderAliases = map[string]string{
	"train_data":    PlaceholderTrainData,
	"model":         PlaceholderModelState,
	"future_data":   PlaceholderFutureData,
	"out_file":      PlaceholderOutput,
	"historic_data": PlaceholderHistoricData,
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_]+)\}`)

// SchemaEnv carries the exchange schema version to external programs.
const SchemaEnv = "CHAP_SCHEMA_VERSION"

const maxStderr = 4096

// ExternalConfig configures a command-line model.
type ExternalConfig struct {
	Name            string
	TrainCommand    string            // Required; must reference the training data
	PredictCommand  string            // Required; must reference the output path
	ForecastCommand string            // Optional; forecast mode is unsupported when empty
	WorkDir         string            // Working directory of the commands
	ScratchDir      string            // Parent of per-model temp directories (default: os.TempDir())
	Timeout         time.Duration     // Wall-clock limit per command; 0 disables
	Env             map[string]string // Extra environment variables
	Target          string            // Column checked in predictions (default: disease_cases)
	KeepFiles       bool              // Leave exchange files on disk for debugging
	Logger          hermes.Logger
	Metrics         hermes.Metrics
}

// External drives a model program through CSV files and templated commands.
//
// Training writes the history to a scratch directory and runs the train
// command, which is expected to write its state to the model path. Each
// prediction writes the future covariates next to it, runs the predict (or
// forecast) command and reads the output file back.
type External struct {
	cfg ExternalConfig
}

// NewExternal validates the command templates.
func NewExternal(cfg ExternalConfig) (*External, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: external model needs a name", ErrInvalidDescriptor)
	}
	if err := checkTemplate(cfg.Name, "train", cfg.TrainCommand, PlaceholderTrainData); err != nil {
		return nil, err
	}
	if err := checkTemplate(cfg.Name, "predict", cfg.PredictCommand, PlaceholderOutput); err != nil {
		return nil, err
	}
	if cfg.ForecastCommand != "" {
		if err := checkTemplate(cfg.Name, "forecast", cfg.ForecastCommand, PlaceholderOutput); err != nil {
			return nil, err
		}
	}
	cfg.Target = targetOrDefault(cfg.Target)
	if cfg.Logger == nil {
		cfg.Logger = hermes.NewSlogAdapter(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = hermes.NewNoopMetrics()
	}
	return &External{cfg: cfg}, nil
}

func checkTemplate(model, stage, template, required string) error {
	words, err := shlex.Split(template)
	if err != nil {
		return fmt.Errorf("%w: model %q %s command: %v", ErrInvalidDescriptor, model, stage, err)
	}
	if len(words) == 0 {
		return fmt.Errorf("%w: model %q has no %s command", ErrInvalidDescriptor, model, stage)
	}
	found := false
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		name := canonicalPlaceholder(m[1])
		switch name {
		case PlaceholderTrainData, PlaceholderModelState, PlaceholderFutureData, PlaceholderOutput, PlaceholderHistoricData:
		default:
			return fmt.Errorf("%w: model %q %s command has unknown placeholder {%s}", ErrInvalidDescriptor, model, stage, m[1])
		}
		if name == required {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: model %q %s command must reference {%s}", ErrInvalidDescriptor, model, stage, required)
	}
	return nil
}

func canonicalPlaceholder(name string) string {
	if canonical, ok := placeholderAliases[name]; ok {
		return canonical
	}
	return name
}

// render splits template into argv with shell quoting rules and substitutes
// placeholders per argument, so substituted paths never split into several
// arguments.
func render(template string, vars map[string]string) ([]string, error) {
	fields, err := shlex.Split(template)
	if err != nil {
		return nil, fmt.Errorf("split command: %w", err)
	}
	if len(fields) == 0 {
		return nil, errors.New("empty command")
	}
	argv := make([]string, len(fields))
	for i, f := range fields {
		argv[i] = placeholderPattern.ReplaceAllStringFunc(f, func(token string) string {
			name := canonicalPlaceholder(token[1 : len(token)-1])
			if v, ok := vars[name]; ok {
				return v
			}
			return token
		})
	}
	return argv, nil
}

func (e *External) Name() string { return e.cfg.Name }

func (e *External) Train(ctx context.Context, history *dataset.DataSet) (Trained, error) {
	dir, err := os.MkdirTemp(e.cfg.ScratchDir, "chap-"+sanitize(e.cfg.Name)+"-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	t := &externalTrained{
		model:     e,
		dir:       dir,
		trainPath: filepath.Join(dir, "training_data.csv"),
		statePath: filepath.Join(dir, "model"),
	}

	if err := dataset.SaveCSV(history, t.trainPath); err != nil {
		t.Close()
		return nil, fmt.Errorf("write training data: %w", err)
	}
	vars := map[string]string{
		PlaceholderTrainData:    t.trainPath,
		PlaceholderModelState:   t.statePath,
		PlaceholderHistoricData: t.trainPath,
	}
	if err := e.run(ctx, "train", e.cfg.TrainCommand, vars); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

type externalTrained struct {
	model     *External
	dir       string
	trainPath string
	statePath string
	calls     atomic.Int64
	closeOnce sync.Once
}

func (t *externalTrained) Predict(ctx context.Context, future *dataset.DataSet, mode Mode) (*dataset.DataSet, error) {
	e := t.model
	var template string
	switch mode {
	case ModePredict:
		template = e.cfg.PredictCommand
	case ModeForecast:
		template = e.cfg.ForecastCommand
	}
	if template == "" {
		return nil, &UnsupportedModeError{Model: e.cfg.Name, Mode: mode}
	}

	n := t.calls.Add(1)
	futurePath := filepath.Join(t.dir, fmt.Sprintf("future_data_%d.csv", n))
	outPath := filepath.Join(t.dir, fmt.Sprintf("predictions_%d.csv", n))
	if !e.cfg.KeepFiles {
		defer os.Remove(futurePath)
		defer os.Remove(outPath)
	}

	if err := dataset.SaveCSV(future, futurePath); err != nil {
		return nil, fmt.Errorf("write future data: %w", err)
	}
	vars := map[string]string{
		PlaceholderFutureData:   futurePath,
		PlaceholderModelState:   t.statePath,
		PlaceholderOutput:       outPath,
		PlaceholderHistoricData: t.trainPath,
	}
	if err := e.run(ctx, string(mode), template, vars); err != nil {
		return nil, err
	}

	predictions, err := dataset.LoadCSV(outPath, &dataset.CSVOptions{FillMissing: true})
	if err != nil {
		return nil, &OutputParseError{Model: e.cfg.Name, Path: outPath, Err: err}
	}
	if mode == ModeForecast {
		if predictions, err = medianAsTarget(predictions, e.cfg.Target); err != nil {
			return nil, &OutputParseError{Model: e.cfg.Name, Path: outPath, Err: err}
		}
	}
	if err := CheckComplete(e.cfg.Name, e.cfg.Target, future, predictions); err != nil {
		return nil, err
	}
	return predictions, nil
}

// Close removes the scratch directory unless files are kept.
func (t *externalTrained) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if !t.model.cfg.KeepFiles {
			err = os.RemoveAll(t.dir)
		}
	})
	return err
}

// medianAsTarget fills the target column from the median when a forecast omits it.
func medianAsTarget(ds *dataset.DataSet, target string) (*dataset.DataSet, error) {
	series := make(map[string]*dataset.TimeSeries, ds.Len())
	for _, loc := range ds.Locations() {
		ts, _ := ds.Location(loc)
		if ts.HasFeature(target) || !ts.HasFeature(dataset.Median) {
			series[loc] = ts
			continue
		}
		median, _ := ts.Feature(dataset.Median)
		extra, err := dataset.NewTimeSeries(ts.Range(), map[string][]float64{target: median})
		if err != nil {
			return nil, err
		}
		merged, err := ts.Merge(extra)
		if err != nil {
			return nil, err
		}
		series[loc] = merged
	}
	return dataset.New(series)
}

func (e *External) run(ctx context.Context, stage, template string, vars map[string]string) error {
	argv, err := render(template, vars)
	if err != nil {
		return &ExternalProcessError{Model: e.cfg.Name, Stage: stage, ExitCode: -1, Err: err}
	}
	labels := []hermes.Label{{Key: "model", Value: e.cfg.Name}, {Key: "stage", Value: stage}}

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = e.cfg.WorkDir
	cmd.Env = e.environ()
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)
	e.cfg.Metrics.ObserveHistogram(hermes.MetricExternalSeconds, elapsed.Seconds(), labels...)

	if err == nil {
		e.cfg.Metrics.IncCounter(hermes.MetricExternalProcessTotal, 1, append(labels, hermes.Label{Key: "status", Value: "ok"})...)
		e.cfg.Logger.Info(ctx, "external command finished", map[string]any{
			"model":        e.cfg.Name,
			"stage":        stage,
			"duration_ms":  elapsed.Milliseconds(),
			"stdout_bytes": stdout.Len(),
		})
		return nil
	}

	perr := &ExternalProcessError{
		Model:    e.cfg.Name,
		Stage:    stage,
		Command:  argv,
		ExitCode: -1,
		Stderr:   tail(stderr.String(), maxStderr),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		perr.ExitCode = exitErr.ExitCode()
	}
	switch {
	case ctx.Err() != nil:
		perr.Err = ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		perr.TimedOut = true
		perr.Err = context.DeadlineExceeded
	}

	e.cfg.Metrics.IncCounter(hermes.MetricExternalProcessTotal, 1, append(labels, hermes.Label{Key: "status", Value: "error"})...)
	e.cfg.Logger.Error(ctx, "external command failed", map[string]any{
		"model":     e.cfg.Name,
		"stage":     stage,
		"command":   strings.Join(argv, " "),
		"exit_code": perr.ExitCode,
		"timed_out": perr.TimedOut,
		"stderr":    perr.Stderr,
	})
	return perr
}

func (e *External) environ() []string {
	env := append(os.Environ(), SchemaEnv+"="+dataset.SchemaVersion)
	keys := make([]string, 0, len(e.cfg.Env))
	for k := range e.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+e.cfg.Env[k])
	}
	return env
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
