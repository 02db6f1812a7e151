package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	viewCmd := &cobra.Command{
		Use:   "view",
		Short: "View current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			view := *a.cfg
			view.Store.RedisPassword = redact(view.Store.RedisPassword)
			view.Export.AccessKey = redact(view.Export.AccessKey)
			view.Export.SecretKey = redact(view.Export.SecretKey)
			if err := enc.Encode(&view); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	getCmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.viper.IsSet(args[0]) {
				return fmt.Errorf("unknown config key %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.viper.Get(args[0]))
			return nil
		},
	}

	cmd.AddCommand(viewCmd, getCmd)
	return cmd
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}
