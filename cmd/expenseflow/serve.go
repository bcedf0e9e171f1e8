package main

import (
	"log/slog"

	"github.com/Veraticus/expense-flow/internal/httpapi"
	"github.com/Veraticus/expense-flow/internal/validation"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the expense validation API",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default from server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	ctx := cmd.Context()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	if cfg.Server.DevBypass {
		slog.Warn("Development auth bypass is enabled; the x-user-sub header is trusted")
	}

	server := httpapi.NewServer(validation.NewService(b.store, slog.Default()), cfg.Server.DevBypass, slog.Default())
	return server.ListenAndServe(ctx, cfg.Server.Addr)
}
