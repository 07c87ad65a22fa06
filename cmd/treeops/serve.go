package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rflorenc/treeops/internal/api"
	"github.com/rflorenc/treeops/internal/models"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job server",
		Long: "Serves delete-tree and move as asynchronous jobs over HTTP, streams job logs\n" +
			"over WebSocket and exposes Prometheus metrics at /metrics.",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			if err := a.setup(reg); err != nil {
				return err
			}
			srv := &api.Server{
				Profile:  a.profile,
				Client:   a.client,
				Executor: a.exec,
				Waiter:   a.waiter,
				Metrics:  a.metrics,
				Jobs:     models.NewJobStore(),
				Logger:   a.logger,
				PageSize: a.cfg.PageSize,
			}
			return a.serve(cmd.Context(), api.NewRouter(srv, reg))
		},
	}
	cmd.Flags().StringVar(&a.cfg.Listen, "listen", a.cfg.Listen, "Address to listen on")
	return cmd
}

// serve runs handler until ctx is cancelled, then drains in-flight requests.
func (a *app) serve(ctx context.Context, handler http.Handler) error {
	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Listen, err)
	}
	hs := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("job server listening", "addr", ln.Addr().String(), "base_url", a.client.BaseURL())
		errCh <- hs.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
