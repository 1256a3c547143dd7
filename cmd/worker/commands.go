package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timmy/kbpipe/internal/app"
	"github.com/timmy/kbpipe/internal/config"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/worker"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "worker",
	Short:         "Process dataset training tasks",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process training tasks until interrupted",
	Long: `Start training.workers runners for each mode (parse, chunk, indexEnhance)
and keep polling the task ledger until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stack, cfg, err := setup(ctx)
		if err != nil {
			return err
		}
		defer stack.Close()

		pool, err := worker.NewPool(stack.Repos.Training, cfg.Training, stack.Handlers()...)
		if err != nil {
			return err
		}
		if err := pool.Start(ctx); err != nil {
			pool.Stop()
			return err
		}

		<-ctx.Done()
		logger.FromContext(ctx).Info("Stopping training workers")
		pool.Stop()
		return nil
	},
}

// --- once ---

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Drain claimable tasks once and exit",
	Long: `Drain the claimable tasks of one mode, or of every mode in pipeline order,
then print a summary and exit.

Examples:
  worker once
  worker once --mode chunk`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		ctx := cmd.Context()

		stack, cfg, err := setup(ctx)
		if err != nil {
			return err
		}
		defer stack.Close()

		handlers, err := selectHandlers(stack.Handlers(), mode)
		if err != nil {
			return err
		}
		cfg.Training.Workers = 1
		pool, err := worker.NewPool(stack.Repos.Training, cfg.Training, handlers...)
		if err != nil {
			return err
		}
		defer pool.Stop()

		stats, err := pool.RunOnce(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "processed=%d failed=%d deleted=%d frozen=%d\n",
			stats.Processed, stats.Failed, stats.Deleted, stats.Frozen)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path to config file")
	onceCmd.Flags().String("mode", "", "Training mode to drain: parse, chunk or indexEnhance (default all)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
}

func setup(ctx context.Context) (*app.App, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	stack, err := app.New(logger.SetComponent(ctx, "worker"), cfg)
	if err != nil {
		return nil, nil, err
	}
	return stack, cfg, nil
}

func selectHandlers(all []worker.Handler, mode string) ([]worker.Handler, error) {
	if mode == "" {
		return all, nil
	}
	for _, h := range all {
		if h.Mode() == domain.TrainingMode(mode) {
			return []worker.Handler{h}, nil
		}
	}
	return nil, fmt.Errorf("unknown training mode %q", mode)
}
