package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warga/internal/amqp"
	"warga/internal/backend"
	"warga/internal/cli"
	"warga/internal/sheets"
	gsheet "warga/internal/sheets/google"
	memsheet "warga/internal/sheets/memory"
	"warga/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting warga-worker")

	res, err := backend.Open(cfg, logger.Logger)
	if err != nil {
		logger.Error("Failed to open data backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if res.Cleanup != nil {
			_ = res.Cleanup()
		}
	}()

	// Mirror target: Google Sheets when configured, otherwise an
	// in-memory sink so the queue still drains during development.
	var mirror sheets.MirrorWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		mirror = client
		logger.Info("Google Sheets mirror initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		mirror = memsheet.New()
		logger.Info("Google Sheets disabled - mirroring to in-memory sink")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	mirrorWorker := worker.NewMirrorWorker(res.Store, mirror, cfg.MirrorBatchSize, cfg.MirrorInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		err := amqpClient.ConsumeMirror(ctx, func(msg *amqp.MirrorMessage) error {
			return mirrorWorker.HandleMirrorMessage(ctx, msg)
		})
		if err != nil && err != context.Canceled {
			logger.Error("Message consumption failed", "error", err)
		}
		cancel()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Consumer stopped")
	}

	cancel()

	// Give the in-flight handler a moment before the deferred closes.
	time.Sleep(2 * time.Second)
	logger.Info("Worker shutdown complete")
}
