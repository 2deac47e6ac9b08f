package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vrpbench/internal/experiment"
	"vrpbench/internal/store"
)

func newRunCmd(logger *log.Logger) *cobra.Command {
	var flags planFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sweep and write every result to the results file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			plan, err := cfg.Plan()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			st, err := store.Open(ctx, cfg.Server.DatabaseURL, cfg.Server.SQLitePath)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer st.Close()
			return runSweep(ctx, cmd.OutOrStdout(), logger, plan, cfg.Output, st, cfg.Notifier(logger))
		},
	}
	flags.register(cmd)
	return cmd
}

type notifier interface {
	Notify(ctx context.Context, eventType string, data any) error
}

// runSweep writes every result to output and records the experiment in st.
func runSweep(ctx context.Context, out io.Writer, logger *log.Logger, plan experiment.Plan, output string,
	st store.Store, notify notifier) error {
	sink, err := experiment.StartExperiment(ctx, st, "", plan)
	if err != nil {
		return err
	}
	text, err := experiment.CreateTextFile(output)
	if err != nil {
		_, _ = sink.Finish(ctx, err)
		return fmt.Errorf("results file: %w", err)
	}
	tally, runErr := experiment.New(logger).Run(ctx, plan, text, sink, experiment.MetricsSink)
	final, err := sink.Finish(ctx, runErr)
	if err != nil {
		logger.Printf("[RUN] experiment %s: finish: %v", final.ID, err)
	}
	if notify != nil {
		if err := notify.Notify(context.WithoutCancel(ctx), "experiment.finished", final); err != nil {
			logger.Printf("[RUN] webhook: %v", err)
		}
	}
	if err := text.Close(); err != nil {
		return fmt.Errorf("results file: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("sweep stopped after %d of %d runs: %w", tally.Total, plan.Size(), runErr)
	}
	fmt.Fprintf(out, "Experiments completed and results saved to %s\n", output)
	return nil
}
