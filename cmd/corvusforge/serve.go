package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/nikodemus-eth/corvusforge/internal/metrics"
)

func newServeCommand() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the health/metrics server and the periodic anchor export scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wireOrchestrator()
			if err != nil {
				return err
			}
			defer w.close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			sched := cron.New()
			if w.cfg.AnchorExportCron != "" {
				if _, err := sched.AddFunc(w.cfg.AnchorExportCron, func() {
					exportAllAnchors(context.Background(), w)
				}); err != nil {
					return fmt.Errorf("schedule anchor export %q: %w", w.cfg.AnchorExportCron, err)
				}
			}
			sched.Start()
			defer sched.Stop()

			mux := http.NewServeMux()
			mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
				rw.WriteHeader(http.StatusOK)
				fmt.Fprintln(rw, "ok")
			})
			mux.HandleFunc("GET /version", func(rw http.ResponseWriter, r *http.Request) {
				rw.Header().Set("Content-Type", "application/json")
				json.NewEncoder(rw).Encode(map[string]string{"version": version, "commit": commit, "date": date})
			})
			mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

			srv := &http.Server{
				Addr:         listenAddr,
				Handler:      mux,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "address to serve /healthz, /version, /metrics on")
	return cmd
}

// exportAllAnchors exports a fresh anchor for every run currently in the
// ledger. A failed export for one run is discarded and the loop moves on,
// so one failing run never blocks anchor export for the rest. Nothing is
// logged, and a failure to list the runs skips the export entirely.
func exportAllAnchors(ctx context.Context, w *wired) {
	runIDs, err := w.ledger.ListRunIDs(ctx)
	if err != nil {
		return
	}
	for _, runID := range runIDs {
		_, _ = w.orch.ExportAnchor(ctx, runID)
	}
}
