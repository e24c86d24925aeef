package content

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/doodledash/doodledash/internal/events"
	"github.com/doodledash/doodledash/internal/models"
)

// MinCaptionLen is the minimum caption length in runes.
const MinCaptionLen = 3

// ContentRepository defines what the pool needs from the content
// repository.
type ContentRepository interface {
	CreateContent(ctx context.Context, req CreateContentRequest) (*models.ContentItem, error)
	GetContent(ctx context.Context, id uuid.UUID) (*models.ContentItem, error)
	AttachImage(ctx context.Context, id uuid.UUID, imageURL string) error
	SelectUnused(ctx context.Context, roomID uuid.UUID) (*models.ContentItem, error)
	ResetUsed(ctx context.Context, roomID uuid.UUID) error
	ListContent(ctx context.Context, roomID uuid.UUID) ([]models.ContentItem, error)
	CountRendered(ctx context.Context, roomID uuid.UUID) (int, error)
}

// RenderService renders a caption into an image. Calls may take tens of
// seconds; the pool bounds them with a timeout.
type RenderService interface {
	Render(ctx context.Context, caption string) (string, error)
}

// Outbox defines what the pool needs from the outbox app.
type Outbox interface {
	InsertEvent(ctx context.Context, roomCode, eventType string, payload []byte) error
}

// App is the content pool: it stores submitted captions, attaches
// rendered images asynchronously, and hands unused items to the
// orchestrator.
type App struct {
	repo          ContentRepository
	render        RenderService
	outbox        Outbox
	renderTimeout time.Duration
}

func NewApp(repo ContentRepository, render RenderService, outbox Outbox) *App {
	return &App{
		repo:          repo,
		render:        render,
		outbox:        outbox,
		renderTimeout: 2 * time.Minute,
	}
}

// Submit validates and stores a caption, then kicks off the image
// render in the background. The submitting flow never blocks on the
// render; the item stays unselectable until the image is attached.
func (a *App) Submit(ctx context.Context, room *models.Room, playerID uuid.UUID, caption string) (*models.ContentItem, error) {
	if utf8.RuneCountInString(caption) < MinCaptionLen {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrCaptionTooShort, MinCaptionLen)
	}

	item, err := a.repo.CreateContent(ctx, CreateContentRequest{
		ID:       uuid.New(),
		RoomID:   room.ID,
		PlayerID: playerID,
		Caption:  caption,
	})
	if err != nil {
		return nil, err
	}

	a.emitEvent(ctx, room.Code, events.TypeContentSubmitted, events.ContentSubmittedPayload{
		ContentID: item.ID.String(),
		PlayerID:  playerID.String(),
		Caption:   item.Caption,
		CreatedAt: item.CreatedAt,
	})

	go a.renderAsync(room.Code, item.ID, item.Caption)

	return item, nil
}

// RetryRender re-runs the render for an item whose first attempt
// failed. No-op if the image is already attached.
func (a *App) RetryRender(ctx context.Context, roomCode string, contentID uuid.UUID) error {
	item, err := a.repo.GetContent(ctx, contentID)
	if err != nil {
		return err
	}
	if item.Rendered() {
		return nil
	}
	go a.renderAsync(roomCode, item.ID, item.Caption)
	return nil
}

// renderAsync runs detached from the submitting request: render
// failures are logged and retried once, never surfaced to the
// submitter.
func (a *App) renderAsync(roomCode string, contentID uuid.UUID, caption string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.renderTimeout)
	defer cancel()

	var (
		imageURL string
		err      error
	)
	for attempt := 0; attempt < 2; attempt++ {
		imageURL, err = a.render.Render(ctx, caption)
		if err == nil {
			break
		}
		log.Warn().
			Err(err).
			Str("content_id", contentID.String()).
			Int("attempt", attempt+1).
			Msg("image render failed")
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("content_id", contentID.String()).
			Msg("image render failed after retry; item stays unrendered")
		return
	}

	if err := a.repo.AttachImage(ctx, contentID, imageURL); err != nil {
		log.Error().Err(err).Str("content_id", contentID.String()).Msg("failed to attach rendered image")
		return
	}

	a.emitEvent(ctx, roomCode, events.TypeContentRendered, events.ContentRenderedPayload{
		ContentID: contentID.String(),
		ImageURL:  imageURL,
	})

	log.Info().
		Str("content_id", contentID.String()).
		Str("room_code", roomCode).
		Msg("image rendered and attached")
}

// SelectUnused picks a random rendered, unconsumed item.
func (a *App) GetContent(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	return a.repo.GetContent(ctx, id)
}

func (a *App) SelectUnused(ctx context.Context, roomID uuid.UUID) (*models.ContentItem, error) {
	return a.repo.SelectUnused(ctx, roomID)
}

// ResetUsed clears the used markers so play can continue after the pool
// runs dry.
func (a *App) ResetUsed(ctx context.Context, roomID uuid.UUID) error {
	log.Info().Str("room_id", roomID.String()).Msg("resetting content pool used markers")
	return a.repo.ResetUsed(ctx, roomID)
}

// ListContent returns all items for a room.
func (a *App) ListContent(ctx context.Context, roomID uuid.UUID) ([]models.ContentItem, error) {
	return a.repo.ListContent(ctx, roomID)
}

// CountRendered returns how many items in the room have images.
func (a *App) CountRendered(ctx context.Context, roomID uuid.UUID) (int, error) {
	return a.repo.CountRendered(ctx, roomID)
}

func (a *App) emitEvent(ctx context.Context, roomCode, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		return
	}
	if err := a.outbox.InsertEvent(ctx, roomCode, eventType, data); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to insert outbox event")
	}
}
