package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/artbay/market-bridge/internal/blockchain"
	"github.com/artbay/market-bridge/internal/config"
	"github.com/artbay/market-bridge/internal/notifier"
	"github.com/artbay/market-bridge/internal/queue"
	"github.com/artbay/market-bridge/internal/saga"
	"github.com/artbay/market-bridge/internal/signer"
	"github.com/artbay/market-bridge/internal/store"
)

// Router groups the route tree so handlers can attach themselves to the
// right section.
type Router struct {
	Routes     []*echo.Route
	Root       *echo.Group
	Management *echo.Group
	APIV1      *echo.Group
}

// Server wires the orchestrator's components together and exposes the
// management HTTP surface.
type Server struct {
	Config config.ServiceConfig

	Echo   *echo.Echo
	Router *Router

	Store    *store.Store
	Hub      *notifier.Hub
	RabbitMQ *queue.RabbitMQClient
	Drainer  *queue.Drainer
	Consumer *queue.Consumer
}

// NewServer creates an unwired server; call Init before Start.
func NewServer(cfg config.ServiceConfig) *Server {
	return &Server{Config: cfg}
}

// Ready reports whether every component is wired.
func (s *Server) Ready() bool {
	return s.Store != nil &&
		s.Hub != nil &&
		s.RabbitMQ != nil &&
		s.Drainer != nil &&
		s.Consumer != nil &&
		s.Echo != nil &&
		s.Router != nil
}

// Init wires the store, queue client, notifier hub, sagas and consumer.
func (s *Server) Init(ctx context.Context) error {
	if err := s.InitStore(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := s.InitHub(); err != nil {
		return fmt.Errorf("failed to initialize notification hub: %w", err)
	}

	if err := s.InitQueue(); err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	if err := s.InitConsumer(); err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}

	return nil
}

// InitStore opens the ledger database connection.
func (s *Server) InitStore(ctx context.Context) error {
	st, err := store.Open(ctx, s.Config.Database.ConnectionString())
	if err != nil {
		return err
	}

	s.Store = st
	log.Info().Str("host", s.Config.Database.Host).Msg("Ledger store initialized")
	return nil
}

// InitHub creates the websocket notification hub.
func (s *Server) InitHub() error {
	s.Hub = notifier.NewHub()
	return nil
}

// InitQueue connects to RabbitMQ and declares the command queue topology.
func (s *Server) InitQueue() error {
	client, err := queue.NewRabbitMQClient(s.Config.RabbitMQ)
	if err != nil {
		return err
	}

	for _, command := range queue.AllCommands() {
		if _, err := client.DeclareCommandQueue(command); err != nil {
			client.Close()
			return err
		}
	}

	s.RabbitMQ = client
	s.Drainer = queue.NewDrainer(client, s.Config.RabbitMQ)
	return nil
}

// InitConsumer builds the saga orchestrator and the command consumer on top
// of the already initialized store, hub and queue client.
func (s *Server) InitConsumer() error {
	if err := s.Config.Blockchain.Validate(); err != nil {
		return fmt.Errorf("invalid blockchain configuration: %w", err)
	}

	dialer := blockchain.NewDialer(s.Config.Blockchain)
	sessions := saga.NewSessionFactory(dialer, signer.NewEnvResolver())
	orchestrator := saga.New(s.Store, sessions, s.Hub, s.Config.Blockchain)

	s.Consumer = queue.NewConsumer(s.RabbitMQ, orchestrator, s.Hub)
	return nil
}

// Start begins consuming commands and serving HTTP. Blocks until the HTTP
// listener stops.
func (s *Server) Start(ctx context.Context) error {
	if !s.Ready() {
		return fmt.Errorf("server is not fully initialized")
	}

	if err := s.Consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	log.Info().Str("address", s.Config.HTTP.ListenAddress).Msg("Starting HTTP server")

	if err := s.Echo.Start(s.Config.HTTP.ListenAddress); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the consumer, the HTTP listener and the broker and database
// connections, in that order.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Warn().Msg("Shutting down server")

	if s.Consumer != nil {
		s.Consumer.Stop()
	}

	if s.Echo != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.Echo.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	}

	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Error().Err(err).Msg("RabbitMQ client close failed")
		}
	}

	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			log.Error().Err(err).Msg("Store close failed")
		}
	}

	return nil
}
