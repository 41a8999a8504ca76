package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/portal_export/internal/api"
	"github.com/dgnsrekt/portal_export/internal/netutil"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the export control API until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.BindFallback, len(cfg.BindFallback) > 0)
		if err != nil {
			slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
			return err
		}

		a, err := newApp(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(a.svc)}

		g, gctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			slog.Info("exporter listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs", "strategy", cfg.Strategy)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				slog.Error("exporter shutdown failed", "error", err)
				return err
			}
			slog.Info("exporter stopped")
			return nil
		})
		return g.Wait()
	},
}
