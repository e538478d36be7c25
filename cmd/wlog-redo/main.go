// Command wlog-redo replays a wlog stream onto a target block device.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/walb-linux/walb-go/internal/logger"
	"github.com/walb-linux/walb-go/pkg/metrics"
	_ "github.com/walb-linux/walb-go/pkg/metrics/prometheus"
	"github.com/walb-linux/walb-go/pkg/walb/block"
	"github.com/walb-linux/walb-go/pkg/walb/redo"
	"github.com/walb-linux/walb-go/pkg/walb/walberr"
)

const defaultBufferSize = 4 << 20 // 4 MiB

var (
	inPath        string
	issueDiscard  bool
	zeroDiscard   bool
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "wlog-redo DEVICE_PATH",
	Short: "Replay a wlog stream onto a target block device",
	Long: `wlog-redo applies a walb log stream to a target block device, coalescing
adjacent IOs and eliding writes that are fully overwritten before they would
ever reach the device.

Example:

  wlog-redo -i device.wlog /dev/sdb
  cat device.wlog | wlog-redo -i - /dev/sdb
  wlog-redo -i device.wlog -z /dev/sdb   # replay discards as zero-writes`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&inPath, "input", "i", "-", `wlog input path, or "-" for standard input`)
	rootCmd.Flags().BoolVarP(&issueDiscard, "discard", "d", false, "issue real BLKDISCARD for DISCARD records (default: off)")
	rootCmd.Flags().BoolVarP(&zeroDiscard, "zero-discard", "z", false, "replay DISCARD records as zero-writes instead of discards")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

func run(cmd *cobra.Command, args []string) error {
	if issueDiscard && zeroDiscard {
		return fmt.Errorf("wlog-redo: %w: -d and -z are mutually exclusive", walberr.ErrArgError)
	}
	devicePath := args[0]

	if verbose {
		logger.SetLevel("DEBUG")
	}
	lc := logger.NewLogContext(devicePath).WithOperation("redo")
	ctx := logger.WithContext(cmd.Context(), lc)

	in := os.Stdin
	if inPath != "-" {
		f, err := os.Open(inPath)
		if err != nil {
			return fmt.Errorf("wlog-redo: open %s: %w", inPath, err)
		}
		defer f.Close()
		in = f
	}

	target, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("wlog-redo: open %s: %w", devicePath, err)
	}
	defer target.Close()

	size, err := target.Seek(0, os.SEEK_END)
	if err != nil {
		return fmt.Errorf("wlog-redo: stat %s: %w", devicePath, err)
	}
	if _, err := target.Seek(0, os.SEEK_SET); err != nil {
		return fmt.Errorf("wlog-redo: stat %s: %w", devicePath, err)
	}

	mode := redo.IssueDiscard
	switch {
	case zeroDiscard:
		mode = redo.ZeroDiscard
	case !issueDiscard:
		mode = redo.IgnoreDiscard
	}

	rd, err := redo.NewRedoer(target, size, block.DefaultPhysicalBlockSize, block.DefaultPhysicalBlockSize, defaultBufferSize, mode)
	if err != nil {
		return fmt.Errorf("wlog-redo: %w", err)
	}
	rd.SetMetrics(metrics.NewPipelineMetrics())

	stats, err := rd.Apply(in)
	if err != nil {
		return fmt.Errorf("wlog-redo: %w", err)
	}

	logger.InfoCtx(ctx, "redo complete",
		"n_written", stats.NWritten,
		"n_overwritten", stats.NOverwritten,
		"n_clipped", stats.NClipped,
		"n_discard", stats.NDiscard,
		"n_padding", stats.NPadding,
		"begin_lsid", stats.BeginLsid,
		"end_lsid", stats.EndLsid,
		logger.DurationMs(lc.DurationMs()))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
