package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"slices"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/climate-health/chap/pkg/dataset"
	"github.com/climate-health/chap/pkg/erebus"
	"github.com/climate-health/chap/pkg/evaluator"
	"github.com/climate-health/chap/pkg/hermes"
	"github.com/climate-health/chap/pkg/models"
	"github.com/climate-health/chap/pkg/splitter"
)

type evaluateOptions struct {
	data   string
	models []string
	output string
	report string
}

func newEvaluateCmd(a *app) *cobra.Command {
	opts := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Backtest models on a dataset",
		Long: `Evaluate one or more models over rolling forecast origins and write the
per (model, location, lag) error table as CSV.

A model is either a built-in name (see "chap models") or the path to a
ChapModel descriptor file.`,
		Example: `  chap evaluate --data cases.csv --model naive-last --model ./ewars/model.yaml
  chap evaluate --data cases.csv --model seasonal --mode forecast --report report.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEvaluate(cmd, opts)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&opts.data, "data", "d", "", "Dataset CSV (location,time_period,<features...>)")
	fs.StringArrayVarP(&opts.models, "model", "m", nil, "Model name or descriptor path (repeatable)")
	fs.StringVarP(&opts.output, "output", "o", "", "Result table CSV (default stdout)")
	fs.StringVar(&opts.report, "report", "", "Write the evaluation report as JSON to this file")
	addEvaluationFlags(fs)
	fs.String("mode", "", "Prediction mode (predict, forecast)")
	fs.String("failure-policy", "", "Failure policy (strict, resilient)")
	fs.Int("workers", 0, "Split points evaluated concurrently (default 1)")
	fs.String("metric", "", "Error metric for the result table (rmse, mae, mape)")
	fs.String("baseline", "", "Baseline model run on the same splits (default naive-poisson; \"none\" disables)")
	fs.Duration("timeout", 0, "Wall-clock limit per external model command (default 30m)")
	fs.Bool("keep-files", false, "Keep exchange files of external models")
	_ = cmd.MarkFlagRequired("data")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func (a *app) runEvaluate(cmd *cobra.Command, opts *evaluateOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ev := a.cfg.Evaluation
	mode, err := models.ParseMode(ev.Mode)
	if err != nil {
		return err
	}
	metric, err := evaluator.ParseMetric(ev.Metric)
	if err != nil {
		return err
	}

	ds, err := dataset.LoadCSV(opts.data, &dataset.CSVOptions{FillMissing: ev.FillMissing})
	if err != nil {
		return fmt.Errorf("load dataset %s: %w", opts.data, err)
	}

	metrics, shutdown, err := a.startMetrics()
	if err != nil {
		return err
	}
	defer shutdown()

	adapters, err := a.buildModels(opts.models, metrics)
	if err != nil {
		return err
	}
	baseline, err := a.buildBaseline(adapters, metrics)
	if err != nil {
		return err
	}

	e, err := evaluator.New(evaluator.Config{
		Splitter:      a.splitterConfig(),
		Target:        ev.TargetFeature,
		Mode:          mode,
		FailurePolicy: evaluator.FailurePolicy(ev.FailurePolicy),
		Workers:       ev.Workers,
		Baseline:      baseline,
		Logger:        a.logger,
		Metrics:       metrics,
	}, adapters...)
	if err != nil {
		return err
	}

	result, err := e.Run(ctx, ds)
	if err != nil {
		return err
	}
	report := evaluator.NewEvaluationReport(result)

	if err := writeTable(cmd.OutOrStdout(), opts.output, result.Table, metric); err != nil {
		return err
	}
	if opts.report != "" {
		if err := writeReport(opts.report, report); err != nil {
			return err
		}
	}
	if err := a.saveResult(ctx, result); err != nil {
		return err
	}
	if err := a.exportResult(ctx, result, report, metric); err != nil {
		return err
	}

	if opts.output != "" {
		printSummary(cmd.OutOrStdout(), report)
	}
	return nil
}

func (a *app) splitterConfig() splitter.Config {
	ev := a.cfg.Evaluation
	return splitter.Config{
		MaxSplits:      ev.MaxSplits,
		StartOffset:    ev.StartOffset,
		Horizon:        ev.Horizon,
		TargetFeatures: []string{ev.TargetFeature},
		Selection:      splitter.Selection(ev.Selection),
	}
}

func (a *app) buildOptions(registry *models.Registry, metrics hermes.Metrics) models.BuildOptions {
	return models.BuildOptions{
		Registry:   registry,
		Timeout:    a.cfg.External.Timeout,
		ScratchDir: a.cfg.External.WorkDir,
		KeepFiles:  a.cfg.External.KeepFiles,
		Logger:     hermes.NewSlogAdapter(a.logger),
		Metrics:    metrics,
	}
}

// buildModels resolves each reference as a built-in name first, then as a descriptor path.
func (a *app) buildModels(refs []string, metrics hermes.Metrics) ([]models.Adapter, error) {
	registry := models.NewRegistry()
	builtins := map[string]bool{}
	for _, name := range registry.Names() {
		builtins[name] = true
	}

	var adapters []models.Adapter
	for _, ref := range refs {
		if builtins[ref] {
			adapter, err := registry.Adapter(ref, a.cfg.Evaluation.TargetFeature)
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, adapter)
			continue
		}

		desc, err := models.LoadDescriptor(ref)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", ref, err)
		}
		adapter, err := models.Build(desc, a.buildOptions(registry, metrics))
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", ref, err)
		}
		a.logger.Info("model loaded", "name", adapter.Name(), "descriptor", ref, "type", desc.Spec.Type)
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

// buildBaseline returns nil when the baseline is disabled or already evaluated as a model.
func (a *app) buildBaseline(adapters []models.Adapter, metrics hermes.Metrics) (models.Adapter, error) {
	name := a.cfg.Evaluation.Baseline
	if name == "" || name == "none" {
		return nil, nil
	}
	for _, adapter := range adapters {
		if adapter.Name() == name {
			a.logger.Debug("baseline already evaluated as a model", "baseline", name)
			return nil, nil
		}
	}
	adapter, err := models.NewRegistry().Adapter(name, a.cfg.Evaluation.TargetFeature)
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	return adapter, nil
}

// startMetrics serves /metrics for the duration of the run when enabled.
func (a *app) startMetrics() (hermes.Metrics, func(), error) {
	if !a.cfg.Metrics.Enabled {
		return hermes.NewNoopMetrics(), func() {}, nil
	}

	pm := hermes.NewPrometheusMetrics()
	ln, err := net.Listen("tcp", a.cfg.Metrics.ListenAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", pm.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("metrics endpoint listening", "addr", ln.Addr().String())

	return pm, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}

func (a *app) openStore() (evaluator.ResultStore, error) {
	s := a.cfg.Store
	switch s.Backend {
	case "local":
		return evaluator.NewLocalResultStore(s.Path)
	case "redis":
		return evaluator.NewRedisResultStore(s.RedisAddr, s.RedisDB, s.RedisPassword)
	}
	return nil, nil
}

func (a *app) saveResult(ctx context.Context, result *evaluator.Result) error {
	store, err := a.openStore()
	if err != nil || store == nil {
		return err
	}
	defer store.Close()

	if err := store.Save(ctx, result); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	a.logger.Info("result saved", "run_id", result.RunID, "backend", a.cfg.Store.Backend)
	return nil
}

func (a *app) openExporter(ctx context.Context) (*erebus.Exporter, error) {
	x := a.cfg.Export
	var store erebus.Store
	switch x.Backend {
	case "local":
		local, err := erebus.NewLocalStore(x.Path)
		if err != nil {
			return nil, err
		}
		store = local
	case "s3":
		s3, err := erebus.NewS3Store(ctx, erebus.S3Config{
			Endpoint:  x.Endpoint,
			Region:    x.Region,
			Bucket:    x.Bucket,
			Prefix:    x.Path,
			AccessKey: x.AccessKey,
			SecretKey: x.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		store = s3
	default:
		return nil, nil
	}
	return erebus.NewExporter(store, x.Compress, a.logger), nil
}

// exportResult writes <run-id>/results.csv and <run-id>/report.json. An
// existing export of the run is never overwritten.
func (a *app) exportResult(ctx context.Context, result *evaluator.Result, report *evaluator.EvaluationReport, metric evaluator.Metric) error {
	exporter, err := a.openExporter(ctx)
	if err != nil || exporter == nil {
		return err
	}

	keys, err := exporter.ExportAll(ctx,
		erebus.Artifact{Key: resultsKey(result.RunID), Write: func(w io.Writer) error {
			return result.Table.WriteCSV(w, metric)
		}},
		erebus.Artifact{Key: path.Join(result.RunID, "report.json"), Write: func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}},
	)
	if err != nil {
		return err
	}
	a.logger.Info("result exported", "run_id", result.RunID, "keys", keys)
	return nil
}

func resultsKey(runID string) string {
	return path.Join(runID, "results.csv")
}

func writeTable(stdout io.Writer, output string, table *evaluator.ResultTable, metric evaluator.Metric) error {
	if output == "" {
		return table.WriteCSV(stdout, metric)
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := table.WriteCSV(f, metric); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeReport(filename string, report *evaluator.EvaluationReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, append(data, '\n'), 0644)
}

func printSummary(out io.Writer, report *evaluator.EvaluationReport) {
	fmt.Fprintf(out, "Run %s: %d split points, %d failures\n", report.RunID, len(report.SplitPoints), report.Failures)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "MODEL\tN\tMAE\tRMSE\tMAPE\tCOVERAGE")
	for _, name := range slices.Sorted(maps.Keys(report.Models)) {
		m := report.Models[name].Overall
		coverage := "-"
		if m.Coverage > 0 {
			coverage = fmt.Sprintf("%.1f%%", m.Coverage)
		}
		fmt.Fprintf(w, "%s\t%d\t%.3f\t%.3f\t%.1f%%\t%s\n", name, m.N, m.MAE, m.RMSE, m.MAPE, coverage)
	}
	w.Flush()
}
