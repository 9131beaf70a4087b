package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"fortio.org/safecast"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vblock/internal/harness"
	"vblock/internal/logging"
	"vblock/internal/sched"
)

var (
	runSettle       int
	runSleeperDelay int
	runPriority     int
	runTraceCSV     string
)

var (
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

// errFailed marks a run whose diagnostics were already printed.
var errFailed = errors.New("fail")

func init() {
	runCmd.Flags().IntVar(&runSettle, "settle", int(harness.DefaultSettle), "ticks the tester waits before each check")
	runCmd.Flags().IntVar(&runSleeperDelay, "sleeper-delay", int(harness.DefaultSleeperDelay), "ticks the sleeper task delays for")
	runCmd.Flags().IntVar(&runPriority, "priority", 1, "priority of the tester and worker tasks")
	runCmd.Flags().StringVar(&runTraceCSV, "trace-csv", "", "write every task transition to this CSV file")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the blocker classification scenarios",
	RunE: func(cmd *cobra.Command, args []string) error {
		settle, err := safecast.Conv[sched.Tick](runSettle)
		if err != nil {
			return fmt.Errorf("--settle: %w", err)
		}
		sleeperDelay, err := safecast.Conv[sched.Tick](runSleeperDelay)
		if err != nil {
			return fmt.Errorf("--sleeper-delay: %w", err)
		}

		log, err := newLogger(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		k := sched.New(cfg, log.Named("kernel"))
		if runTraceCSV != "" {
			if err := k.EnableTraceCSV(runTraceCSV); err != nil {
				return err
			}
		}

		h, err := harness.New(k, log.Named("harness"), harness.Options{
			Settle:       settle,
			SleeperDelay: sleeperDelay,
			Priority:     runPriority,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Starting...")

		var results []harness.Result
		g, gctx := errgroup.WithContext(ctx)
		kctx, stopKernel := context.WithCancel(gctx)
		defer stopKernel()
		g.Go(func() error { return k.Run(kctx) })
		g.Go(func() error {
			defer stopKernel()
			var err error
			results, err = h.Run(gctx)
			return err
		})
		err = g.Wait()

		report(out, results)
		if err != nil {
			if harness.IsAssertion(err) {
				fmt.Fprintf(out, "ASSERT! %v\n", err)
			} else {
				log.Error("harness aborted", zap.Error(err))
			}
			failColor.Fprintln(out, "Fail.")
			return errFailed
		}
		passColor.Fprintln(out, "Pass.")
		return nil
	},
}

func report(out io.Writer, results []harness.Result) {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(out, "  %s %s\n", failColor.Sprint("FAIL"), r.Scenario)
			continue
		}
		fmt.Fprintf(out, "  %s %s\n", passColor.Sprint("PASS"), r.Scenario)
	}
}

func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	file, _ := cmd.Flags().GetString("log-file")
	return logging.New(logging.Options{Level: level, File: file, MaxBackups: 3})
}

func loadConfig(cmd *cobra.Command) (sched.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := sched.Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); statErr != nil && path != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "config %s not found, using defaults\n", path)
	}
	return cfg, nil
}
