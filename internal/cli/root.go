package cli

import (
	"os"

	"github.com/spf13/cobra"
	"go.viam.com/rdk/logging"
)

var (
	configPath string
	logger     = logging.NewLogger("blinkbench")
)

var rootCmd = &cobra.Command{
	Use:   "blinkbench",
	Short: "Bench utilities for the blink-test harness",
	Long: `blinkbench covers the bench chores that do not need a robot: sending a
pattern to the TX emulator, linting a candidate file before a run, and
summarising the results log.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a bench YAML file")
}
