package cli

import (
	"fmt"
	"io"

	"blinkbench"

	"github.com/spf13/cobra"
)

var (
	reportResults string
	reportDuckDB  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise the trial results log",
	Long: `Read the CSV results log back in write order and print totals and the
passing patterns. With --duckdb the records are also appended to a DuckDB
database for further querying.`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVarP(&reportResults, "results", "r", "", "Results CSV (overrides results_file)")
	reportCmd.Flags().StringVar(&reportDuckDB, "duckdb", "", "Append the records to this DuckDB file (overrides results_db)")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if reportResults != "" {
		cfg.ResultsFile = reportResults
	}
	if reportDuckDB != "" {
		cfg.ResultsDB = reportDuckDB
	}

	results, err := blinkbench.ReadResultsFile(cfg.ResultsFile)
	if err != nil {
		return err
	}
	writeReport(cmd.OutOrStdout(), cfg.ResultsFile, results)

	if cfg.ResultsDB == "" || len(results) == 0 {
		return nil
	}
	db, err := blinkbench.OpenDuckResultLog(cfg.ResultsDB)
	if err != nil {
		return err
	}
	defer db.Close()
	for _, r := range results {
		if err := db.Append(cmd.Context(), r); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records into %s\n", len(results), cfg.ResultsDB)
	return nil
}

func writeReport(w io.Writer, path string, results []blinkbench.TrialResult) {
	passes := 0
	for _, r := range results {
		if r.Outcome == blinkbench.OutcomePass {
			passes++
		}
	}
	fmt.Fprintf(w, "Results: %s\n", path)
	fmt.Fprintf(w, "  Trials: %d  Passed: %d  Failed: %d\n", len(results), passes, len(results)-passes)
	if passes == 0 {
		return
	}
	fmt.Fprintln(w, "  Passing patterns:")
	for _, r := range results {
		if r.Outcome != blinkbench.OutcomePass {
			continue
		}
		artifact := r.Artifact
		if artifact == "" {
			artifact = "-"
		}
		fmt.Fprintf(w, "    %s  %s  %.2f%%  %s\n", r.Timestamp.Format(blinkbench.TimestampLayout), r.Pattern, r.Percentage, artifact)
	}
}
