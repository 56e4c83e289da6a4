// Package main runs the background worker: recording migration, transcription jobs and maintenance cron.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/bpoc/video-calls/config"
	"github.com/bpoc/video-calls/internal/app"
)

func main() {
	logger := app.NewLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer a.Close()
	if a.S3 == nil {
		logger.Warn("owned storage unavailable; recordings stay on the vendor and retention is off")
	}

	processor := a.Processor()
	cleaner := a.Cleaner()
	if err := cleaner.Start(); err != nil {
		logger.Fatal("maintenance schedule", zap.Error(err))
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(workerCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), app.ShutdownGrace)
	defer stop()
	select {
	case <-cleaner.Stop().Done():
	case <-shutdownCtx.Done():
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}
