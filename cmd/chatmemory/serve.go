package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaher/chatmemory/internal/mcp"
	"github.com/szaher/chatmemory/internal/server"
	"github.com/szaher/chatmemory/internal/summary"
)

func newServeCmd() *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP tool server on stdio",
		Long: `Serve the memory tools over MCP on stdin/stdout. With --http-addr (or
server.http_addr) an HTTP API with /metrics is started alongside, and with
warm.schedule a background job pre-generates brief summaries.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if httpAddr == "" {
				httpAddr = a.cfg.Server.HTTPAddr
			}
			return runServe(ctx, a, httpAddr)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "Also serve the HTTP API on this address (e.g. :8080)")

	return cmd
}

func runServe(ctx context.Context, a *app, httpAddr string) error {
	if a.cfg.Warm.Schedule != "" {
		warmer := summary.NewWarmer(a.summarizer, a.cfg.Warm.Limit)
		if err := warmer.Start(ctx, a.cfg.Warm.Schedule); err != nil {
			return err
		}
		defer warmer.Stop()
		a.logger.Info("summary warm-up scheduled", "schedule", a.cfg.Warm.Schedule, "limit", a.cfg.Warm.Limit)
	}

	if httpAddr != "" {
		api := server.New(a.store, a.summarizer, a.injector,
			server.WithAPIKey(a.cfg.Server.APIKey),
			server.WithRateLimit(a.cfg.Server.RateLimit, a.cfg.Server.RateBurst),
			server.WithTrustProxy(a.cfg.Server.TrustProxy),
			server.WithLogger(a.logger),
			server.WithMetrics(a.metrics),
			server.WithVersion(version),
		)
		go func() {
			if err := api.ListenAndServe(httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = api.Shutdown(shutdownCtx)
		}()
	}

	srv := mcp.NewServer(a.store, a.summarizer, a.injector,
		mcp.WithLogger(a.logger),
		mcp.WithMetrics(a.metrics),
		mcp.WithVersion(version),
	)
	err := srv.Run(ctx)
	a.logger.Info("shutting down")
	return err
}
