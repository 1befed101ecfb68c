// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/netSkope/phantom-qa-tool/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func NewServeCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pl, err := newPipeline(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pl.Close()

			opts := []server.Option{server.WithMetrics(pl.metrics)}
			if pl.journal != nil {
				opts = append(opts, server.WithHistory(pl.journal))
			}
			srv := server.New(cfg, pl.publisher, logger, opts...)

			logger.Info("Starting control API", zap.String("addr", cfg.ListenAddr))
			cmd.Printf("control API listening on http://%s\n", cfg.ListenAddr)
			return srv.ListenAndServe(ctx, cfg.ListenAddr)
		},
	}

	cmd.Flags().StringVar(&g.flags.ListenAddr, "listen", "", "Listen address (default 127.0.0.1:8765)")
	return cmd
}
