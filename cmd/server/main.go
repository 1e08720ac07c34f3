// Command server runs the file server from a JSON or TOML configuration file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"example.com/rangehttp/internal/config"
	"example.com/rangehttp/internal/handlers"
	"example.com/rangehttp/internal/logger"
	"example.com/rangehttp/internal/router"
	"example.com/rangehttp/internal/server"
)

var configFilePath string

func main() {
	flag.StringVar(&configFilePath, "config", "", "Path to the configuration file (JSON or TOML)")
	flag.Parse()

	if configFilePath == "" {
		fmt.Fprintln(os.Stderr, "Error: Configuration file path must be provided via -config flag.")
		flag.Usage()
		os.Exit(1)
	}

	absConfigPath, err := filepath.Abs(configFilePath)
	if err != nil {
		log.Fatalf("Error getting absolute path for config file %s: %v", configFilePath, err)
	}

	cfg, err := config.LoadConfig(absConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	code := 0
	if err := serve(context.Background(), cfg, appLogger); err != nil {
		appLogger.Error("Server exited with an error", logger.LogFields{"error": err.Error()})
		code = 1
	} else {
		appLogger.Info("Server has shut down gracefully", nil)
	}

	if err := appLogger.CloseLogFiles(); err != nil {
		// The file logger is gone at this point.
		log.Printf("Error closing log files during shutdown: %v", err)
	}
	os.Exit(code)
}

func serve(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) error {
	registry, err := handlers.NewRegistry()
	if err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}
	appLogger.Info("Handler registry initialized", logger.LogFields{"handler_types": registry.Types()})

	appRouter, err := router.NewRouter(cfg.Routing.Routes, registry, appLogger, cfg.OriginalFilePath())
	if err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}
	appLogger.Info("Router initialized", logger.LogFields{"routes": len(cfg.Routing.Routes)})

	srv, err := server.NewServer(cfg, appLogger, appRouter)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	appLogger.Info("Starting server", logger.LogFields{
		"address":     *cfg.Server.Address,
		"config_file": cfg.OriginalFilePath(),
	})
	return srv.Run(ctx)
}
