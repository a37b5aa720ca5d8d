package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mixaill76/openai-sim/internal/config"
	"github.com/mixaill76/openai-sim/internal/logger"
	"github.com/mixaill76/openai-sim/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults apply when empty)")
	flag.Parse()

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("Failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	var log *slog.Logger
	if cfg.Server.LogFormat == "json" {
		log = logger.NewJSON(cfg.Server.LoggingLevel)
	} else {
		log = logger.New(cfg.Server.LoggingLevel)
	}

	log.Info("Starting openai-sim",
		"logging_level", cfg.Server.LoggingLevel,
		"log_format", cfg.Server.LogFormat,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"rate_limit", cfg.RateLimit.Enabled,
		"kv_cache", cfg.KVCache.Enabled,
		"prompt_cache", cfg.Cache.Enabled,
		"error_injection", cfg.Errors.Enabled,
	)
	if cfg.RateLimit.Enabled {
		log.Info("Rate limiting enabled", "tier", cfg.RateLimit.Tier, "rpm", cfg.RateLimit.RPM, "tpm", cfg.RateLimit.TPM)
	}
	if cfg.Auth.RequireAPIKey {
		log.Info("API key auth enabled", "keys", len(cfg.Auth.APIKeys))
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Error("Failed to build server", "error", err)
		os.Exit(1)
	}

	// Background WebSocket broadcaster (0.5 s tick).
	go srv.Streamer().Run()
	defer srv.Streamer().Close()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}

	go func() {
		log.Info("Server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Server shutdown complete")
}
