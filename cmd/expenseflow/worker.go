package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/expense-flow/internal/catalog"
	"github.com/Veraticus/expense-flow/internal/cli"
	"github.com/Veraticus/expense-flow/internal/config"
	"github.com/Veraticus/expense-flow/internal/llm"
	"github.com/Veraticus/expense-flow/internal/worker"
	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the categorization worker",
		Long: `Poll the work queue and categorize pending expenses with the configured
language model. Each received batch runs under the worker timeout; messages
whose batch overruns it are redelivered after the visibility timeout and
move to the dead-letter queue after the maximum receive count.`,
		RunE: runWorker,
	}
	cmd.Flags().Bool("once", false, "Receive and process a single batch, then exit")
	return cmd
}

// newProcessor wires the catalog and classifier for a store.
func newProcessor(cfg config.Config, b *backend, logger *slog.Logger) (*worker.Processor, error) {
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}
	categorizer, err := llm.NewCategorizer(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	return worker.NewProcessor(b.store, catalog.New(b.store), categorizer, worker.Options{
		UserConcurrency:       cfg.Worker.UserConcurrency,
		ConditionalTransition: cfg.Worker.ConditionalTransition,
	}, logger), nil
}

func runWorker(cmd *cobra.Command, _ []string) error {
	once, _ := cmd.Flags().GetBool("once")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	logger := slog.Default()
	processor, err := newProcessor(cfg, b, logger)
	if err != nil {
		return err
	}

	pool := worker.NewPool(b.queue, processor, worker.PoolOptions{
		Concurrency:  cfg.Worker.Concurrency,
		BatchSize:    cfg.Queue.BatchSize,
		Visibility:   cfg.Queue.VisibilityTimeout,
		Timeout:      cfg.Worker.Timeout,
		PollInterval: cfg.Worker.PollInterval,
	}, logger)

	if once {
		summary, received, err := pool.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("worker batch failed: %w", err)
		}
		if received == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Queue is empty"))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBatchSummary(summary))
		return nil
	}

	logger.Info("Categorization worker started",
		"concurrency", cfg.Worker.Concurrency,
		"queue", cfg.Queue.Backend,
		"store", cfg.Store.Backend)
	return pool.Run(ctx)
}
