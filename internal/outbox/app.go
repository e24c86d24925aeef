package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// OutboxRepository defines what the app layer needs from the repository.
type OutboxRepository interface {
	InsertEvent(ctx context.Context, roomCode, eventType string, payload []byte) error
	FetchUnsent(ctx context.Context, limit int32) ([]Event, error)
	FetchByID(ctx context.Context, id uuid.UUID) (*Event, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	WithTx(tx *sql.Tx) *Repository
}

// App handles outbox business logic.
type App struct {
	repo OutboxRepository
}

// NewApp creates a new outbox App.
func NewApp(repo OutboxRepository) *App {
	return &App{repo: repo}
}

// InsertEvent validates and appends a feed event for a room.
func (a *App) InsertEvent(ctx context.Context, roomCode, eventType string, payload []byte) error {
	if err := validateEventPayload(payload); err != nil {
		return fmt.Errorf("invalid %s payload: %w", eventType, err)
	}

	if err := a.repo.InsertEvent(ctx, roomCode, eventType, payload); err != nil {
		return fmt.Errorf("failed to insert %s event: %w", eventType, err)
	}

	log.Debug().
		Str("room_code", roomCode).
		Str("event_type", eventType).
		Msg("outbox event inserted")

	return nil
}

// WithTx returns an App whose inserts join tx.
func (a *App) WithTx(tx *sql.Tx) *App {
	return &App{repo: a.repo.WithTx(tx)}
}

func validateEventPayload(payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload is empty")
	}
	if !json.Valid(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	return nil
}
