package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/climate-health/chap/pkg/dataset"
	"github.com/climate-health/chap/pkg/splitter"
)

func newSplitsCmd(a *app) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "splits",
		Short: "Show the split points an evaluation would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := dataset.LoadCSV(data, &dataset.CSVOptions{FillMissing: a.cfg.Evaluation.FillMissing})
			if err != nil {
				return fmt.Errorf("load dataset %s: %w", data, err)
			}
			r, err := ds.PeriodRange()
			if err != nil {
				return err
			}

			cfg := a.splitterConfig()
			points, err := splitter.SplitPoints(r, cfg)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SPLIT POINT\tTRAIN\tFUTURE")
			for _, p := range points {
				future := r.End()
				if cfg.Horizon > 0 && p.Add(cfg.Horizon).Ordinal() < future.Ordinal() {
					future = p.Add(cfg.Horizon)
				}
				fmt.Fprintf(w, "%s\t%s..%s\t%s..%s\n", p, r.Start(), p, p.Add(1), future)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "Dataset CSV")
	addEvaluationFlags(cmd.Flags())
	_ = cmd.MarkFlagRequired("data")
	return cmd
}
