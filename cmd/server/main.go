package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klimeurt/secret-hunter/internal/config"
	"github.com/klimeurt/secret-hunter/internal/gateway"
	"github.com/klimeurt/secret-hunter/internal/logging"
	"github.com/klimeurt/secret-hunter/internal/scanner"
	"github.com/klimeurt/secret-hunter/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logger
	logger := logging.NewLogger(logging.DefaultConfig("secret-hunter"))

	// Each scan gets its own gateway client so a caller-supplied token, when
	// present, replaces the service token for that scan only
	factory := func(token string) server.ScanService {
		if token == "" {
			token = cfg.GitHubToken
		}
		gw := gateway.New(cfg, token, logger)
		return scanner.New(cfg, gw, logger)
	}

	srv := server.New(cfg, factory, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	// Let in-flight scans drain before exiting
	drainTimeout := cfg.ScanTimeout + 5*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}
