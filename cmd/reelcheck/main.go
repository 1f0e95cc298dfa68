package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jo-hoe/reelcheck/internal/common"
	appcfg "github.com/jo-hoe/reelcheck/internal/config"
	"github.com/jo-hoe/reelcheck/internal/jobs"
	"github.com/jo-hoe/reelcheck/internal/observability"
	"github.com/jo-hoe/reelcheck/internal/processor"
	"github.com/jo-hoe/reelcheck/internal/providers"
	"github.com/jo-hoe/reelcheck/internal/providers/gemini"
	"github.com/jo-hoe/reelcheck/internal/providers/mock"
	"github.com/jo-hoe/reelcheck/internal/providers/openai"
	"github.com/jo-hoe/reelcheck/internal/providers/ytdlp"
	"github.com/jo-hoe/reelcheck/internal/server"
	"github.com/jo-hoe/reelcheck/internal/storage"
)

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("load .env", "err", err)
	}

	// Load config
	cfg, err := appcfg.Load("")
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	// Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	// Documents backend
	var docs storage.Documents
	switch cfg.Storage.Backend {
	case common.BackendSQLite:
		docs, err = storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	default:
		docs, err = storage.NewFileStore(cfg.Storage.DataDir)
	}
	if err != nil {
		logger.Error("open storage", "backend", cfg.Storage.Backend, "err", err)
		os.Exit(1)
	}

	// Job store
	store, err := jobs.NewStore(logger, docs)
	if err != nil {
		logger.Error("open job store", "err", err)
		_ = docs.Close()
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close store", "err", err)
		}
	}()
	if n, err := store.RecoverInterrupted(); err != nil {
		logger.Warn("recover interrupted jobs", "err", err)
	} else if n > 0 {
		logger.Info("marked interrupted jobs failed", "count", n)
	}

	// Providers
	mockClient := mock.New(cfg.Providers.Mock)
	reg := providers.NewRegistry()
	reg.Add(gemini.New(cfg.Providers.Gemini).Strategy())
	reg.Add(openai.New(providers.OpenAI, cfg.Providers.OpenAI).Strategy())
	reg.Add(openai.New(providers.DeepSeek, cfg.Providers.DeepSeek).Strategy())
	reg.Add(mockClient.Strategy())
	fallback := make([]providers.Name, 0, len(cfg.Providers.TranscriptionFallback))
	for _, n := range cfg.Providers.TranscriptionFallback {
		fallback = append(fallback, providers.Name(n))
	}
	reg.SetTranscriptionFallback(fallback...)

	// Downloader
	var downloader providers.Downloader
	switch cfg.Downloader.Type {
	case "mock":
		downloader = mockClient
	default:
		downloader = ytdlp.New(cfg.Downloader.YtDlp)
	}

	// Telemetry
	tel, shutdownTelemetry, err := observability.Setup(cfg.Observability)
	if err != nil {
		logger.Error("setup telemetry", "err", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()

	// Worker and queue
	worker := processor.New(logger, store, docs, storage.NewWorkspace(cfg.Storage.DataDir), downloader, reg, tel, cfg.Storage.KeepMedia)
	queue := jobs.NewQueue(logger, cfg.Server.QueueCapacity, cfg.Server.WorkerCount)
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := queue.Start(rootCtx, worker); err != nil {
		logger.Error("start queue", "err", err)
		os.Exit(1)
	}

	// HTTP server
	svc := &server.Service{
		Log:       logger,
		Cfg:       cfg,
		Store:     store,
		Queue:     queue,
		Providers: reg,
	}
	httpSrv := server.NewHTTPServer(svc)

	// Run server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr, "backend", cfg.Storage.Backend, "providers", reg.Names())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	// Stop workers
	queue.Shutdown(cfg.Server.ShutdownGrace)
	logger.Info("server stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
