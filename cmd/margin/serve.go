package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/margin-intel/internal/analysis"
	"github.com/Veraticus/margin-intel/internal/certs"
	"github.com/Veraticus/margin-intel/internal/metrics"
	"github.com/Veraticus/margin-intel/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis HTTP server",
		Long: `Serve the runs API: submit order and return CSVs, poll progress and
download finished reports.

Examples:
  # Listen on the configured address (default :8080)
  margin serve

  # Keep runs in an in-memory SQLite database
  margin serve --addr :9090 --backend sqlite`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "listen address (default from server.addr)")
	cmd.Flags().String("backend", "", "run store backend: memory or sqlite (default from runs.backend)")
	cmd.Flags().Bool("tls", false, "serve HTTPS with a self-signed certificate from server.cert_dir")

	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("runs.backend", cmd.Flags().Lookup("backend"))
	_ = viper.BindPFlag("server.tls", cmd.Flags().Lookup("tls"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	store, closeStore, err := openRunStore(ctx, settings.RunsBackend)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	executor := analysis.NewGoExecutor()

	engine, err := newEngine(settings, store, executor, m, m.LLMFallback)
	if err != nil {
		return err
	}

	srv := server.New(engine,
		server.WithMetricsHandler(m.Handler()),
		server.WithLogger(slog.Default().With("component", "http")),
		server.WithVersion(version),
		server.WithMaxUploadBytes(settings.Server.MaxUploadMB<<20),
	)

	httpServer := &http.Server{
		Addr:              settings.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if settings.Server.TLS {
		tlsConfig, tlsErr := certs.NewFileManager(settings.Server.CertDir).TLSConfig()
		if tlsErr != nil {
			return fmt.Errorf("failed to prepare TLS certificate: %w", tlsErr)
		}
		httpServer.TLSConfig = tlsConfig
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening",
			"addr", settings.Server.Addr,
			"backend", settings.RunsBackend,
			"tls", settings.Server.TLS,
			"llm_available", engine.LLMAvailable())
		if settings.Server.TLS {
			errCh <- httpServer.ListenAndServeTLS("", "")
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down server", "timeout", settings.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown did not complete", "error", err)
	}
	if err := executor.Wait(shutdownCtx); err != nil {
		slog.Warn("Runs still processing at shutdown", "error", err)
		return nil
	}
	slog.Info("All runs finished")
	return nil
}
