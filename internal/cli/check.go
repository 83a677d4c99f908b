package cli

import (
	"fmt"

	"blinkbench"

	"github.com/spf13/cobra"
)

var checkBitstreams string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Lint a candidate bitstream file before a run",
	Long: `Walk the candidate file the way a run would. Lines of three characters
or fewer end a run, so any candidates after such a line are never tested;
lines with characters other than 0 and 1 are reported too.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().StringVarP(&checkBitstreams, "bitstreams", "f", "", "Candidate file (overrides bitstream_file)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if checkBitstreams != "" {
		cfg.BitstreamFile = checkBitstreams
	}

	src, err := blinkbench.OpenBitstreamFile(cfg.BitstreamFile)
	if err != nil {
		return err
	}
	defer src.Close()

	report, err := blinkbench.CheckCandidates(cmd.Context(), src)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d lines, %d candidates will be tested\n", cfg.BitstreamFile, report.Lines, report.Runnable)
	for _, issue := range report.Issues {
		fmt.Fprintf(out, "  line %d %q: %s\n", issue.Line, issue.Pattern, issue.Problem)
	}
	if report.Runnable == 0 {
		return fmt.Errorf("no candidates would be tested")
	}
	return nil
}
