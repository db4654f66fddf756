package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"warga/internal/amqp"
	"warga/internal/backend"
	"warga/internal/backup"
	"warga/internal/cli"
	apphttp "warga/internal/http"
	"warga/internal/services"
	"warga/internal/snapshot"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	res, err := backend.Open(cfg, logger.Logger)
	if err != nil {
		logger.Error("Failed to open data backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if res.Cleanup != nil {
			if err := res.Cleanup(); err != nil {
				logger.Error("Backend cleanup error", "error", err)
			}
		}
	}()

	snaps, err := snapshot.NewStore(cfg.SnapshotDir)
	if err != nil {
		logger.Error("Failed to open snapshot store", "error", err, "dir", cfg.SnapshotDir)
		os.Exit(1)
	}

	// The mirror publisher is optional: with no AMQP URL writes simply
	// skip the spreadsheet notification.
	var publisher services.MirrorPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, spreadsheet mirror disabled", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
		}
	}

	orch := backup.NewOrchestrator(res.Store, snaps)
	ledger := services.NewLedgerService(res.Store, publisher, cfg.MonthlyDuesAmount)
	backupSvc := services.NewBackupService(orch, snaps, publisher)

	srv := apphttp.NewServer(":"+cfg.Port, ledger, backupSvc, apphttp.Options{
		AdminToken: cfg.AdminToken,
		CacheSize:  cfg.CacheSize,
		CacheTTL:   cfg.CacheTTL,
	})

	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("Starting warga server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	slog.Info("Server stopped gracefully")
}
