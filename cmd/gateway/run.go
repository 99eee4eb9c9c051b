package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	transporthttp "github.com/nlsql/gateway/internal/transport/http"
)

// newRunCommand starts the HTTP server and blocks until SIGINT/SIGTERM,
// grounded on the teacher's cmd/server bootstrap-then-serve-then-drain shape.
func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the query gateway's HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfgPath)
			if err != nil {
				return withCode(exitConfigError, err)
			}

			srv := transporthttp.NewServer(a.orc, a.registry, a.schemaCache, a.manager, a.historyLog, a.logger)
			httpSrv := &http.Server{
				Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler: srv.NewRouter(),
			}

			serveErr := make(chan error, 1)
			go func() {
				a.logger.Info("gateway listening", "addr", httpSrv.Addr)
				serveErr <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return withCode(exitTransientError, err)
				}
			case <-ctx.Done():
				a.logger.Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Deadline())
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
			a.shutdown(shutdownCtx, a.cfg.Shutdown.Deadline())

			return nil
		},
	}
}
