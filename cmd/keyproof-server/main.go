// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keyproof.
//
// go-keyproof is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jeremyhahn/go-keyproof/internal/config"
	"github.com/jeremyhahn/go-keyproof/internal/server"
	"github.com/jeremyhahn/go-keyproof/pkg/adapters/logger"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults plus KEYPROOF_* overrides when empty)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		if version == "dev" {
			version = server.Version()
		}
		fmt.Printf("keyproof verifier\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		os.Exit(0)
	}

	if envConfig := os.Getenv("KEYPROOF_CONFIG"); envConfig != "" && *configPath == "" {
		*configPath = envConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	log, err := server.NewLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to configure logging", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("Starting keyproof verifier",
		logger.String("config", *configPath),
		logger.String("version", version))

	srv, err := server.NewWithLogger(cfg, log)
	if err != nil {
		log.Error("Failed to create server", logger.Error(err))
		os.Exit(1)
	}

	shutdownCtx := server.SetupSignalHandler()

	if err := srv.Start(); err != nil {
		log.Error("Failed to start server", logger.Error(err))
		_ = srv.Shutdown()
		os.Exit(1)
	}

	exitCode := 0
	select {
	case <-shutdownCtx.Done():
		log.Info("Shutdown signal received")
	case err := <-srv.Errors():
		log.Error("Server error", logger.Error(err))
		exitCode = 1
	}

	if err := srv.Shutdown(); err != nil {
		log.Error("Error during shutdown", logger.Error(err))
		exitCode = 1
	}
	os.Exit(exitCode)
}
