// The server command runs the Nexus relay: a line-protocol chat server with a
// WebSocket gateway, graceful shutdown on SIGINT/SIGTERM, and TOML/env
// configuration.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/nexus-relay/internal/observability"
	"github.com/Tyrowin/nexus-relay/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	listenAddr := flag.String("listen", "", "TCP listen address, e.g. :8888 (overrides config)")
	maxConns := flag.Int("max-connections", 0, "maximum concurrent sessions (overrides config)")
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		bootLogger := observability.InitLogger("relay-server", "info")
		bootLogger.Fatal().Err(err).Msg("Configuration error")
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *maxConns > 0 {
		cfg.MaxConnections = *maxConns
	}

	logger := observability.InitLogger("relay-server", cfg.LogLevel)

	srv := server.NewServer(cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}

	// Block until a shutdown signal arrives, then drain within the grace
	// period. A clean signal exits 0.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.Info().Stringer("signal", received).Msg("Shutdown signal received")

	if err := srv.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("Shutdown did not complete cleanly")
		os.Exit(1)
	}
}
