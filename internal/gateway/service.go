package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service bundles the websocket fan-out pieces: the connection
// manager, the JetStream feed consumer, and the HTTP handler set.
type Service struct {
	connectionManager *ConnectionManager
	eventConsumer     *EventConsumer
	api               *API
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConsumerConfig
	JoinBaseURL      string
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
		JoinBaseURL:      "http://localhost:8080",
	}
}

func NewService(config Config, game GameService, provider StateProvider) (*Service, error) {
	cm := NewConnectionManager(config.ConnectionConfig)

	eventConsumer, err := NewEventConsumer(cm, config.JetStreamConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	return &Service{
		connectionManager: cm,
		eventConsumer:     eventConsumer,
		api:               NewAPI(game, provider, cm, config.JoinBaseURL),
	}, nil
}

// Start runs the broadcast loop and feed consumer until ctx ends.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")

	go s.connectionManager.Start(ctx)
	go func() {
		if err := s.eventConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("room gateway service shutting down")
	return s.Stop()
}

// Stop tears down the feed consumer.
func (s *Service) Stop() error {
	if err := s.eventConsumer.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop event consumer")
	}
	return nil
}

// RegisterRoutes attaches the gateway's HTTP routes to mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.api.RegisterRoutes(mux)
	log.Info().Msg("room gateway routes registered")
}

// Stats summarizes active connections.
func (s *Service) Stats() map[string]any {
	stats := s.connectionManager.Stats()
	stats["service"] = "room_gateway"
	return stats
}
