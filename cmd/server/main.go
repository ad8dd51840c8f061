package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/movalsociety/ledger/internal/api"
	"github.com/movalsociety/ledger/internal/config"
	"github.com/movalsociety/ledger/internal/ledger"
	"github.com/movalsociety/ledger/internal/logx"
	"github.com/movalsociety/ledger/internal/sealer"
	"github.com/movalsociety/ledger/internal/storage"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logx.Init(logx.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Debug:      cfg.Log.Debug,
	})
	defer logx.Close()

	logx.Info("MAIN", "Starting Moval ledger server...")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		logx.Error("MAIN", "Failed to open store: ", err)
		os.Exit(1)
	}

	service := ledger.NewService(store, ledger.Options{
		AllowEmptyBlocks: cfg.Ledger.AllowEmptyBlocks,
		MaxAttempts:      cfg.Ledger.MaxAttempts,
		RetryBackoff:     time.Duration(cfg.Ledger.RetryBackoffMs) * time.Millisecond,
	})

	// Repair cross-references left behind by interrupted block creations
	if cfg.Ledger.ReconcileOnStart {
		if result, err := service.Reconciler.Reconcile(ctx); err != nil {
			logx.Warn("MAIN", "Startup reconciliation failed: ", err)
		} else {
			logx.Info("MAIN", fmt.Sprintf("Startup reconciliation: %d block(s), %d stamped, %d failed",
				result.Blocks, result.Stamped, len(result.Failures)))
		}
	}

	// Background sealing and verification
	bg := sealer.New(service, sealer.Options{
		SealEvery:   time.Duration(cfg.Ledger.SealIntervalSec) * time.Second,
		VerifyEvery: time.Duration(cfg.Ledger.VerifyIntervalSec) * time.Second,
		BatchSize:   cfg.Ledger.SealBatchSize,
	})
	bg.Start(ctx)

	// Initialize API router
	router := api.NewRouter(service, cfg.Ledger.SealBatchSize)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Engine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start HTTP server in goroutine
	go func() {
		logx.Info("MAIN", "HTTP server listening on ", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Error("MAIN", "HTTP server error: ", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logx.Info("MAIN", "Shutting down...")

	cancel()
	bg.Stop()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error("MAIN", "HTTP server shutdown error: ", err)
	}

	// Close the store after in-flight requests are done
	if err := store.Close(); err != nil {
		logx.Error("MAIN", "Error closing store: ", err)
	}

	logx.Info("MAIN", "Server stopped")
}
