package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/a3tai/taxdoc-client/internal/config"
	"github.com/a3tai/taxdoc-client/internal/mcp"
	"github.com/a3tai/taxdoc-client/internal/server"
	"github.com/a3tai/taxdoc-client/internal/taxapi"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// newLogger builds the process logger. Output always goes to stderr so the
// stdio transport keeps stdout to itself.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.IsDebug()}
	if cfg.IsStdioMode() {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := taxapi.NewClient(taxapi.Options{
		BaseURL:  cfg.APIBaseURL,
		Timeout:  cfg.RequestTimeout,
		Username: cfg.APIUsername,
		Password: cfg.APIPassword,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create API client: %w", err)
	}

	if cfg.IsStdioMode() {
		srv, err := mcp.NewServer(cfg, client, logger)
		if err != nil {
			return fmt.Errorf("create MCP server: %w", err)
		}
		return srv.Run(ctx)
	}

	srv, err := server.New(cfg, client, logger)
	if err != nil {
		return fmt.Errorf("create web server: %w", err)
	}
	return srv.Run(ctx)
}

func main() {
	cfg, err := config.LoadFromFlags()
	if errors.Is(err, config.ErrVersionRequested) {
		printVersion(os.Stdout)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	if version != "dev" {
		cfg.Version = version
	}

	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)
	logger.Debug("Starting with configuration", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server error", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "Tax Document Client\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", gitCommit)
	fmt.Fprintf(w, "Built with: %s\n", runtime.Version())
}
