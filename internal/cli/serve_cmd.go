package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpserver "saasloader/internal/mcp"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var drain time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled and file-watch tasks until interrupted",
		Long: `Starts the cron scheduler and the file watchers declared in the config and,
when metrics_addr is set, serves Prometheus metrics on /metrics.

On SIGINT or SIGTERM no new runs start; runs in flight get --drain to finish
before they are cancelled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Runs outlive the signal so they can drain.
			runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(cmd.Context()))
			defer cancelRuns()

			if err := a.tasks.Start(runCtx); err != nil {
				return err
			}
			defer a.tasks.Stop()

			var srv *http.Server
			if a.cfg.MetricsAddr != "" {
				ln, err := net.Listen("tcp", a.cfg.MetricsAddr)
				if err != nil {
					return fmt.Errorf("metrics listener: %w", err)
				}
				mux := http.NewServeMux()
				mux.Handle("/metrics", a.metrics.Handler())
				mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte("ok\n"))
				})
				srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server", "error", err)
						stop()
					}
				}()
				a.logger.Info("metrics listening", "addr", ln.Addr().String())
			}

			a.logger.Info("saasloader serving", "tasks", len(a.cfg.Tasks))
			<-sigCtx.Done()

			a.logger.Info("shutting down", "running", a.tasks.Running())
			a.tasks.Stop()

			drainCtx, cancelDrain := context.WithTimeout(context.Background(), drain)
			a.tasks.WaitRunning(drainCtx)
			cancelDrain()
			if running := a.tasks.Running(); len(running) > 0 {
				a.logger.Warn("cancelling runs still in flight", "tasks", running)
				cancelRuns()
				waitCtx, cancelWait := context.WithTimeout(context.Background(), 10*time.Second)
				a.tasks.WaitRunning(waitCtx)
				cancelWait()
			}

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Warn("metrics shutdown", "error", err)
				}
			}
			a.logger.Info("stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&drain, "drain", time.Minute, "How long running tasks may finish after a shutdown signal")
	return cmd
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve tasks as MCP tools on stdin/stdout",
		Long:  "Runs a Model Context Protocol server over stdio so AI agents can list tasks, run them and read their history. Logs go to stderr.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcpserver.New(mcpserver.Deps{Tasks: a.tasks, Logger: a.logger, Version: version})
			return srv.ServeStdio()
		},
	}
}
