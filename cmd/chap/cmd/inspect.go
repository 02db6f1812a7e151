package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/climate-health/chap/pkg/dataset"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		fill      bool
		locations bool
	)
	cmd := &cobra.Command{
		Use:   "inspect [dataset.csv]",
		Short: "Describe a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := dataset.LoadCSV(args[0], &dataset.CSVOptions{FillMissing: fill})
			if err != nil {
				return fmt.Errorf("load dataset %s: %w", args[0], err)
			}
			bounds, err := ds.Bounds()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintf(w, "Locations:\t%d\n", ds.Len())
			fmt.Fprintf(w, "Granularity:\t%s\n", ds.Granularity())
			fmt.Fprintf(w, "Range:\t%s..%s (%d periods)\n", bounds.Start(), bounds.End(), bounds.Len())
			fmt.Fprintf(w, "Aligned:\t%t\n", ds.IsAligned())
			fmt.Fprintf(w, "Features:\t%s\n", strings.Join(ds.FeatureNames(), ", "))
			if locations {
				fmt.Fprintln(w, "Per location:")
				for _, loc := range ds.Locations() {
					ts, _ := ds.Location(loc)
					r := ts.Range()
					fmt.Fprintf(w, "  %s:\t%s..%s\n", loc, r.Start(), r.End())
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&fill, "fill-missing", false, "Fill gaps instead of failing")
	cmd.Flags().BoolVar(&locations, "locations", false, "List the period range of every location")
	return cmd
}
