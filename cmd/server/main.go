package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/blackmichael/webmentions/internal/config"
	"github.com/blackmichael/webmentions/internal/domain"
	"github.com/blackmichael/webmentions/internal/httpserver"
	"github.com/blackmichael/webmentions/internal/scrape"
	"github.com/blackmichael/webmentions/internal/site"
	"github.com/blackmichael/webmentions/internal/sqlite"
	"github.com/blackmichael/webmentions/internal/stream"
	"github.com/blackmichael/webmentions/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repo, err := sqlite.NewRepository(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()
	logger.Info("database ready", "path", cfg.DatabasePath)

	hub := stream.NewHub(logger)
	defer hub.Close()

	resolver := site.NewResolver(cfg.Hostname, repo)
	mentions, err := domain.NewService(domain.Collaborators{
		Repository: repo,
		Router:     resolver,
		Resources:  resolver,
		Metadata:   scrape.NewFetcher(cfg.FetchTimeout),
		Transport:  transport.New(cfg.FetchTimeout),
		Notifier:   hub,
	}, logger)
	if err != nil {
		return fmt.Errorf("create mention service: %w", err)
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start background tombstone purging
	go mentions.StartPurgeJob(ctx, repo, cfg.PurgeInterval, cfg.PurgeMaxAge)

	// Start the HTTP server
	server := httpserver.NewServer(cfg, mentions, hub.HandleSubscribe, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "hostname", cfg.Hostname)

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}
