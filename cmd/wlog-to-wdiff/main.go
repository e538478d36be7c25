// Command wlog-to-wdiff reads a wlog stream from standard input and writes
// the equivalent wdiff stream to standard output.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/walb-linux/walb-go/internal/logger"
	"github.com/walb-linux/walb-go/pkg/metrics"
	_ "github.com/walb-linux/walb-go/pkg/metrics/prometheus"
	"github.com/walb-linux/walb-go/pkg/walb/convert"
)

var maxIoBlocks uint16

var rootCmd = &cobra.Command{
	Use:   "wlog-to-wdiff",
	Short: "Convert a wlog stream on stdin to a wdiff stream on stdout",
	Long: `wlog-to-wdiff reads a walb log stream from standard input, detects
all-zero and discard regions, and writes the equivalent sparse wdiff stream
to standard output.

Example:

  wlog-to-wdiff < device.wlog > device.wdiff
  wlog-to-wdiff -x 256 < device.wlog > device.wdiff`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().Uint16VarP(&maxIoBlocks, "max-io-blocks", "x", 0, "cap the size (in logical blocks) of any emitted diff record; 0 means unlimited")
}

func run(cmd *cobra.Command, args []string) error {
	lc := logger.NewLogContext("-").WithOperation("convert")
	ctx := logger.WithContext(cmd.Context(), lc)

	c := convert.NewConverter(maxIoBlocks)
	c.SetMetrics(metrics.NewPipelineMetrics())

	if err := c.AddWlog(os.Stdin); err != nil {
		return fmt.Errorf("wlog-to-wdiff: %w", err)
	}
	if err := c.WriteTo(os.Stdout); err != nil {
		return fmt.Errorf("wlog-to-wdiff: %w", err)
	}

	logger.InfoCtx(ctx, "conversion complete",
		logger.NRecords(c.NumRecordsIn),
		"all_zero", c.NumAllZero,
		"discard", c.NumDiscard,
		"normal", c.NumNormal,
		logger.DurationMs(lc.DurationMs()))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
