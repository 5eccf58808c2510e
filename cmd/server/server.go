// Package server implements the long-running orchestrator process: queue
// consumer, saga execution and the management HTTP surface.
package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/artbay/market-bridge/internal/api"
	"github.com/artbay/market-bridge/internal/api/handlers"
	"github.com/artbay/market-bridge/internal/config"
)

// New creates the server subcommand.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Starts the orchestrator",
		Long: `Starts the transaction orchestrator:
consumes the command queues, runs the sagas and serves the management API.`,
		Run: func(_ *cobra.Command, _ []string) {
			runServer()
		},
	}
}

func runServer() {
	config.InitLogger()
	cfg := config.DefaultServiceConfigFromEnv()

	s := api.NewServer(cfg)

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := s.Init(initCtx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}
	cancel()

	s.InitRouter()
	s.AttachRoutes(handlers.Routes())

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	if err := s.Start(runCtx); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
