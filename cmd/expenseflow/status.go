package main

import (
	"fmt"

	"github.com/Veraticus/expense-flow/internal/cli"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a user's AI categorization progress and queue depth",
		RunE:  runStatus,
	}
	cmd.Flags().String("user", "", "User to report on (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetString("user")

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

	counts, err := b.store.CountByStatus(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to count expenses: %w", err)
	}
	depth, err := b.queueDepth(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue depth: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderStatusCounts(userID, counts, depth))
	return nil
}
