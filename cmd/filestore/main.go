// Package main is the entry point for the filestore server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stjepano/filestore/internal/config"
	"github.com/stjepano/filestore/internal/journal"
	"github.com/stjepano/filestore/internal/logging"
	"github.com/stjepano/filestore/internal/metrics"
	"github.com/stjepano/filestore/internal/pathguard"
	"github.com/stjepano/filestore/internal/server"
	"github.com/stjepano/filestore/internal/storage"
)

func main() {
	configPath := flag.String("config", "filestore.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8080)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	maxUploadSize := flag.Int64("max-upload-size", 0, "maximum upload size in bytes (default: from config or 1073741824)")
	contentRoot := flag.String("content-root", "", "directory holding the buckets (default: from config or ./data/content)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if *maxUploadSize != 0 {
		cfg.Server.MaxUploadSize = *maxUploadSize
	}
	if *contentRoot != "" {
		cfg.Storage.ContentRoot = *contentRoot
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	if cfg.Observability.Metrics {
		metrics.Register()
	}

	// The content root is a startup precondition. It is only created when
	// the config explicitly allows it.
	if cfg.Storage.CreateRoot {
		if err := os.MkdirAll(cfg.Storage.ContentRoot, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create content root: %v\n", err)
			os.Exit(1)
		}
	}
	guard, err := pathguard.New(cfg.Storage.ContentRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid content root: %v\n", err)
		os.Exit(1)
	}
	local, err := storage.NewLocalStore(guard)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage: %v\n", err)
		os.Exit(1)
	}
	// Crash-only recovery: clean staged writes left by a previous run.
	if err := local.CleanTempFiles(); err != nil {
		slog.Warn("Failed to clean temp files", "error", err)
	}
	slog.Info("Storage initialized", "root", local.Root())

	var (
		store storage.Store = local
		opts  []server.Option
	)
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open journal: %v\n", err)
			os.Exit(1)
		}
		defer j.Close()
		store = journal.NewRecorder(local, j)
		opts = append(opts, server.WithJournal(j))
		slog.Info("Journal enabled", "path", cfg.Journal.Path)
	}

	srv, err := server.New(cfg, store, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("filestore listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// SIGTERM/SIGINT: stop accepting connections and give in-flight
	// requests the shutdown timeout to finish.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}
}
