package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Veraticus/expense-flow/internal/cli"
	"github.com/Veraticus/expense-flow/internal/ingest"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file.csv>",
		Short: "Store an expense upload and queue AI categorization",
		Long: `Read normalized expenses from a CSV file (summary, amount, timestamp and
optional category and ai_enabled columns), store them for the user and enqueue
every uncategorized row that opted into AI categorization.

Re-ingesting the same file is safe: rows are keyed by user, summary and
timestamp, so duplicates overwrite rather than multiply.`,
		Args: cobra.ExactArgs(1),
		RunE: runIngest,
	}
	cmd.Flags().String("user", "", "Owner of the uploaded expenses (required)")
	cmd.Flags().Bool("ai", true, "Enroll rows without an ai_enabled column in AI categorization")
	cmd.Flags().Bool("quiet", false, "Hide the progress bar")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	defaultAI, _ := cmd.Flags().GetBool("ai")
	quiet, _ := cmd.Flags().GetBool("quiet")
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("--user is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer func() { _ = file.Close() }()

	rows, err := ingest.ReadCSV(file, defaultAI)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("No rows to ingest"))
		return nil
	}

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr(), "Ingest")
	ctx, stop := interrupts.HandleInterrupts(cmd.Context(),
		"Rows written so far are kept. Re-running the same file is safe.")
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	fanOut := ingest.NewFanOut(b.store, b.queue, slog.Default())
	if !quiet {
		bar := progressbar.NewOptions(len(rows),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("[cyan][bold]Ingesting expenses...[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}))
		fanOut.OnRow = func() { _ = bar.Add(1) }
		defer func() { _ = bar.Finish() }()
	}

	result, err := fanOut.Ingest(ctx, userID, rows)
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderIngestResult(result))
	if err != nil {
		return fmt.Errorf("ingest stopped: %w", err)
	}
	if result.StoreFailed > 0 || result.EnqueueFailed > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("Some rows failed; re-run the upload to retry them"))
	}
	return nil
}
