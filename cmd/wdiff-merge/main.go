// Command wdiff-merge combines an ordered chain of wdiff files into one.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/walb-linux/walb-go/internal/logger"
	"github.com/walb-linux/walb-go/pkg/metrics"
	_ "github.com/walb-linux/walb-go/pkg/metrics/prometheus"
	"github.com/walb-linux/walb-go/pkg/walb/merge"
)

var (
	outPath     string
	maxIoBlocks uint16
	checkUUID   bool
)

var rootCmd = &cobra.Command{
	Use:   "wdiff-merge IN0 IN1 ...",
	Short: "Merge an ordered chain of wdiff files into one",
	Long: `wdiff-merge streams an ordered chain of wdiff files, oldest first, into a
single address-ordered, non-overlapping wdiff file. Where inputs overlap,
the later (newer) file wins.

Example:

  wdiff-merge -o merged.wdiff day1.wdiff day2.wdiff day3.wdiff
  wdiff-merge -o merged.wdiff --check-uuid day1.wdiff day2.wdiff`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&outPath, "output", "o", "", "output wdiff path (required)")
	rootCmd.Flags().Uint16VarP(&maxIoBlocks, "max-io-blocks", "x", 0, "cap the size (in logical blocks) of any merged record; 0 means the max of the inputs")
	rootCmd.Flags().BoolVar(&checkUUID, "check-uuid", false, "reject input files whose device UUID differs from the first")
	_ = rootCmd.MarkFlagRequired("output")
}

func run(cmd *cobra.Command, args []string) error {
	lc := logger.NewLogContext(outPath).WithOperation("merge")
	ctx := logger.WithContext(cmd.Context(), lc)

	m := merge.NewMerger(0)
	m.SetMaxIoBlocks(maxIoBlocks)
	m.SetValidateUUID(checkUUID)
	m.SetMetrics(metrics.NewPipelineMetrics())

	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("wdiff-merge: open %s: %w", path, err)
		}
		defer f.Close()
		if err := m.AddWdiff(f); err != nil {
			return fmt.Errorf("wdiff-merge: add %s: %w", path, err)
		}
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("wdiff-merge: create %s: %w", outPath, err)
	}
	defer out.Close()

	if err := m.MergeToWriter(out); err != nil {
		return fmt.Errorf("wdiff-merge: %w", err)
	}

	logger.InfoCtx(ctx, "merge complete",
		"records_in", m.NumRecordsIn,
		"records_out", m.NumRecordsOut,
		"inputs", len(args),
		logger.DurationMs(lc.DurationMs()))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
