package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nstogner/autoassist/pkg/config"
	"github.com/nstogner/autoassist/pkg/metrics"
	"github.com/nstogner/autoassist/pkg/server"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, websocket feed and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			cfg.SetupLogging(os.Stderr)
			metrics.Init()

			ctx := cmd.Context()
			a, err := loadApp(ctx, flags, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			r := a.newRunner()
			go func() {
				if err := r.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("Runner stopped", "error", err)
				}
			}()

			srv := server.New(a.store, r, a.lister)
			srv.AllowOrigins(cfg.AllowedOrigins)
			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(ctx, cfg.Addr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			slog.Info("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, env: AUTOASSIST_ADDR)")
	return cmd
}
