package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/climate-health/chap/pkg/config"
	"github.com/climate-health/chap/pkg/hermes"
)

// flagKeys maps command line flags to the config keys they override.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-format":     "log.format",
	"max-splits":     "evaluation.max_splits",
	"start-offset":   "evaluation.start_offset",
	"horizon":        "evaluation.horizon",
	"mode":           "evaluation.mode",
	"selection":      "evaluation.selection",
	"failure-policy": "evaluation.failure_policy",
	"workers":        "evaluation.workers",
	"metric":         "evaluation.metric",
	"target":         "evaluation.target_feature",
	"fill-missing":   "evaluation.fill_missing",
	"baseline":       "evaluation.baseline",
	"timeout":        "external.timeout",
	"keep-files":     "external.keep_files",
}

// app carries the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	viper      *viper.Viper
	cfg        *config.Config
	logger     *slog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "chap",
		Short: "CHAP model evaluation",
		Long: `Backtest climate health forecasting models on spatio-temporal
disease case data using rolling forecast origins.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (YAML)")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (json, text)")

	root.AddCommand(
		newEvaluateCmd(a),
		newSplitsCmd(a),
		newInspectCmd(a),
		newModelsCmd(a),
		newResultsCmd(a),
		newConfigCmd(a),
	)
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// load resolves configuration with precedence flags > env > file > defaults.
func (a *app) load(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	v := config.NewViper()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	if a.configPath != "" {
		v.SetConfigFile(a.configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", a.configPath, err)
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	logger, err := hermes.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a.viper, a.cfg, a.logger = v, cfg, logger
	return nil
}

// addEvaluationFlags registers the split and evaluation overrides.
func addEvaluationFlags(fs *pflag.FlagSet) {
	fs.Int("max-splits", 0, "Upper bound on split points (default 5)")
	fs.Int("start-offset", 0, "Periods reserved as minimum training history (default 20)")
	fs.Int("horizon", 0, "Periods predicted after each split point; 0 means all remaining")
	fs.String("selection", "", "Split selection when candidates exceed max-splits (even, latest)")
	fs.String("target", "", "Outcome feature (default disease_cases)")
	fs.Bool("fill-missing", false, "Fill gaps in the input table with missing values instead of failing")
}
