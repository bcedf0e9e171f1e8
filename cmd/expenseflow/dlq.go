package main

import (
	"fmt"

	"github.com/Veraticus/expense-flow/internal/cli"
	"github.com/Veraticus/expense-flow/internal/model"
	"github.com/Veraticus/expense-flow/internal/storage"
	"github.com/spf13/cobra"
)

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and redrive dead-lettered work items",
		Long: `Work items that were delivered the maximum number of times without being
acknowledged land in the dead-letter queue. These commands apply to the SQLite
queue; SQS dead-letter queues are managed with the SQS redrive tooling.`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered work items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withSQLiteQueue(cmd, func(q *storage.SQLiteQueue) error {
				letters, err := q.DeadLetters(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(letters) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Dead-letter queue is empty"))
					return nil
				}
				for _, d := range letters {
					line := fmt.Sprintf("%s  receives=%d  dead=%s", d.ID, d.ReceiveCount, d.DeadAt.Format("2006-01-02 15:04:05"))
					if item, err := model.ParseWorkItem(d.Body); err == nil {
						line += fmt.Sprintf("  user=%s  expense=%s", item.UserID, item.ExpenseID)
					} else {
						line += "  " + cli.WarningStyle.Render("malformed body")
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
	list.Flags().Int("limit", 100, "Maximum number of items to list")

	redrive := &cobra.Command{
		Use:   "redrive",
		Short: "Move every dead-lettered item back to the work queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSQLiteQueue(cmd, func(q *storage.SQLiteQueue) error {
				moved, err := q.Redrive(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Redrove %d work items", moved)))
				return nil
			})
		},
	}

	cmd.AddCommand(list, redrive)
	return cmd
}

func withSQLiteQueue(cmd *cobra.Command, fn func(*storage.SQLiteQueue) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := openBackend(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	if b.sqliteQueue == nil {
		return fmt.Errorf("dlq commands need the sqlite queue (configured: %s)", cfg.Queue.Backend)
	}
	return fn(b.sqliteQueue)
}
