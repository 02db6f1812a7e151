package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/climate-health/chap/pkg/models"
)

func newModelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List built-in models and check descriptors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range models.NewRegistry().Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate [descriptor.yaml...]",
		Short: "Validate model descriptor files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := models.NewRegistry()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "DESCRIPTOR\tNAME\tTYPE\tFORECAST")
			for _, path := range args {
				desc, err := models.LoadDescriptor(path)
				if err != nil {
					w.Flush()
					return fmt.Errorf("%s: %w", path, err)
				}
				if _, err := models.Build(desc, a.buildOptions(registry, nil)); err != nil {
					w.Flush()
					return fmt.Errorf("%s: %w", path, err)
				}
				forecast := desc.Spec.Type == models.ModelTypeBuiltin || desc.Spec.Forecast != ""
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", path, desc.Metadata.Name, desc.Spec.Type, forecast)
			}
			return w.Flush()
		},
	}
	cmd.AddCommand(validateCmd)
	return cmd
}
