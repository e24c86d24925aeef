package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"

	"github.com/doodledash/doodledash/internal/answer"
	"github.com/doodledash/doodledash/internal/clients"
	"github.com/doodledash/doodledash/internal/content"
	"github.com/doodledash/doodledash/internal/dbconfig"
	"github.com/doodledash/doodledash/internal/gateway"
	"github.com/doodledash/doodledash/internal/orchestrator"
	"github.com/doodledash/doodledash/internal/outbox"
	"github.com/doodledash/doodledash/internal/player"
	"github.com/doodledash/doodledash/internal/room"
)

// Services holds the wired application graph.
type Services struct {
	Store        *room.Store
	Content      *content.App
	Orchestrator *orchestrator.Orchestrator
	Publisher    *outbox.JetStreamPublisher
	Relay        *outbox.Listener
	Gateway      *gateway.Service
}

// setupServices wires repositories, apps, the orchestrator, the outbox
// relay, and the websocket gateway.
func setupServices(db *sql.DB, dbCfg dbconfig.Config, cfg *Config) (*Services, error) {
	roomRepo := room.NewRepository(db)
	playerRepo := player.NewRepository(db)
	contentRepo := content.NewRepository(db)
	answerRepo := answer.NewRepository(db)
	outboxRepo := outbox.NewRepository(db)
	outboxApp := outbox.NewApp(outboxRepo)

	apiKey := os.Getenv("GENERATION_API_KEY")
	renderClient := clients.NewRenderClient(cfg.Generation.RenderURL, apiKey)
	decoyClient := clients.NewDecoyClient(cfg.Generation.DecoyURL, apiKey)

	contentApp := content.NewApp(contentRepo, renderClient, outboxApp)
	store := room.NewStore(db, roomRepo, playerRepo, contentRepo, answerRepo, outboxApp)
	orch := orchestrator.New(store, contentApp, decoyClient, clockwork.NewRealClock())

	publisherCfg := outbox.DefaultJetStreamConfig()
	publisherCfg.URL = cfg.NATS.URL
	publisher, err := outbox.NewJetStreamPublisher(publisherCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed publisher: %w", err)
	}

	relayCfg := outbox.DefaultListenerConfig()
	relayCfg.DatabaseURL = dbCfg.DSN()
	relay, err := outbox.NewListener(outboxRepo, publisher, relayCfg)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create outbox relay: %w", err)
	}

	gatewayCfg := gateway.DefaultConfig()
	gatewayCfg.JetStreamConfig.URL = cfg.NATS.URL
	gatewayCfg.JoinBaseURL = cfg.Server.JoinBaseURL
	stateProvider := gateway.NewStoreStateProvider(store, contentApp, outboxRepo)
	gatewayService, err := gateway.NewService(gatewayCfg, orch, stateProvider)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create gateway service: %w", err)
	}

	return &Services{
		Store:        store,
		Content:      contentApp,
		Orchestrator: orch,
		Publisher:    publisher,
		Relay:        relay,
		Gateway:      gatewayService,
	}, nil
}
