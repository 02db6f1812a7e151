package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/climate-health/chap/pkg/evaluator"
)

func newResultsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Browse stored evaluation results",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.requireStore()
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSTARTED\tSPLITS\tOBSERVATIONS\tFAILURES")
			for _, id := range ids {
				result, err := store.Load(cmd.Context(), id)
				if err != nil {
					a.logger.Warn("skipping unreadable result", "run_id", id, "error", err)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", id, result.StartedAt.Format(time.RFC3339),
					len(result.SplitPoints), result.Table.Len(), len(result.Failures))
			}
			return w.Flush()
		},
	}

	var (
		metricName string
		fromExport bool
	)
	showCmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Print the result table of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromExport {
				return a.showExported(cmd, args[0])
			}
			metric, err := evaluator.ParseMetric(metricName)
			if err != nil {
				return err
			}
			store, err := a.requireStore()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return result.Table.WriteCSV(cmd.OutOrStdout(), metric)
		},
	}
	showCmd.Flags().StringVar(&metricName, "metric", "rmse", "Error metric (rmse, mae, mape)")
	showCmd.Flags().BoolVar(&fromExport, "from-export", false, "Read the exported results.csv instead of the result store")

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

func (a *app) requireStore() (evaluator.ResultStore, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("no result store configured (set store.backend to local or redis)")
	}
	return store, nil
}

// showExported copies the exported table of a run, written with the metric
// chosen at evaluation time.
func (a *app) showExported(cmd *cobra.Command, runID string) error {
	if err := evaluator.ValidateRunID(runID); err != nil {
		return err
	}
	exporter, err := a.openExporter(cmd.Context())
	if err != nil {
		return err
	}
	if exporter == nil {
		return errors.New("no export backend configured (set export.backend to local or s3)")
	}
	rc, err := exporter.Open(cmd.Context(), resultsKey(runID))
	if err != nil {
		return fmt.Errorf("open export of %s: %w", runID, err)
	}
	defer rc.Close()
	_, err = io.Copy(cmd.OutOrStdout(), rc)
	return err
}
