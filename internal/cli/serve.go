package cli

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/evanofslack/cf-edge-sync/internal/config"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Reconcile on an interval and whenever the config changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			server := newServer(cfg.Metrics, a)
			if server != nil {
				go func() {
					slog.Info("Starting metrics server", "address", server.Addr)
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						slog.Error("Metrics server failed", "error", err)
					}
				}()
			}

			watch := []string{configPath}
			if cfg.Gateway.PolicyDir != "" {
				dir := cfg.Gateway.PolicyDir
				if !filepath.IsAbs(dir) {
					dir = filepath.Join(filepath.Dir(configPath), dir)
				}
				watch = append(watch, dir)
			}

			slog.Info("Starting cf-edge-sync service", "interval", cfg.SyncInterval)
			err = a.runner.Serve(ctx, func() (*config.Config, error) { return config.Load(configPath) }, cfg, watch)

			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Metrics server shutdown error", "error", err)
				}
			}
			slog.Info("Service shutdown complete")
			return err
		},
	}
}

func newServer(cfg config.Metrics, a *app) *http.Server {
	if !cfg.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
