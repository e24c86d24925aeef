package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/doodledash/doodledash/internal/clients"
	"github.com/doodledash/doodledash/internal/content"
	"github.com/doodledash/doodledash/internal/models"
	"github.com/doodledash/doodledash/internal/orchestrator"
	"github.com/doodledash/doodledash/internal/player"
	"github.com/doodledash/doodledash/internal/room"
	"github.com/doodledash/doodledash/internal/roomcode"
)

// GameService defines what the HTTP surface needs from the
// orchestrator.
type GameService interface {
	CreateRoom(ctx context.Context, username string) (*models.Room, *models.Player, error)
	JoinRoom(ctx context.Context, code, username string) (*models.Room, *models.Player, error)
	OpenSubmissions(ctx context.Context, code string, playerID uuid.UUID) (*models.Room, error)
	SubmitCaption(ctx context.Context, code string, playerID uuid.UUID, caption string) (*models.ContentItem, error)
	StartGame(ctx context.Context, code string, playerID uuid.UUID) (*models.Room, error)
	AdvanceRound(ctx context.Context, code string, playerID uuid.UUID) (*models.Room, error)
	SubmitGuess(ctx context.Context, code string, playerID uuid.UUID, selected string) (*orchestrator.GuessResult, error)
	RetryRender(ctx context.Context, code string, contentID uuid.UUID) error
}

// API is the HTTP handler set for the game.
type API struct {
	game        GameService
	provider    StateProvider
	connections *ConnectionManager
	joinBaseURL string
}

func NewAPI(game GameService, provider StateProvider, cm *ConnectionManager, joinBaseURL string) *API {
	return &API{
		game:        game,
		provider:    provider,
		connections: cm,
		joinBaseURL: joinBaseURL,
	}
}

// RegisterRoutes attaches all game routes to mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", a.handleCreateRoom)
	mux.HandleFunc("POST /api/rooms/{code}/join", a.handleJoinRoom)
	mux.HandleFunc("POST /api/rooms/{code}/open", a.handleOpenSubmissions)
	mux.HandleFunc("POST /api/rooms/{code}/prompts", a.handleSubmitCaption)
	mux.HandleFunc("POST /api/rooms/{code}/content/{id}/render", a.handleRetryRender)
	mux.HandleFunc("POST /api/rooms/{code}/start", a.handleStartGame)
	mux.HandleFunc("POST /api/rooms/{code}/advance", a.handleAdvanceRound)
	mux.HandleFunc("POST /api/rooms/{code}/guess", a.handleSubmitGuess)
	mux.HandleFunc("GET /api/rooms/{code}/state", a.handleRoomState)
	mux.HandleFunc("GET /api/rooms/{code}/qr", a.handleJoinQR)
	mux.HandleFunc("GET /ws/rooms/{code}", a.handleRoomSocket)
	mux.HandleFunc("GET /ws/stats", a.handleConnectionStats)
}

type createRoomRequest struct {
	Username string `json:"username"`
}

type joinRoomRequest struct {
	Username string `json:"username"`
}

type playerActionRequest struct {
	PlayerID uuid.UUID `json:"player_id"`
}

type submitCaptionRequest struct {
	PlayerID uuid.UUID `json:"player_id"`
	Caption  string    `json:"caption"`
}

type submitGuessRequest struct {
	PlayerID uuid.UUID `json:"player_id"`
	Option   string    `json:"option"`
}

type roomResponse struct {
	Room   *models.Room   `json:"room"`
	Player *models.Player `json:"player,omitempty"`
}

func (a *API) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rm, pl, err := a.game.CreateRoom(r.Context(), req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomResponse{Room: rm, Player: pl})
}

func (a *API) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rm, pl, err := a.game.JoinRoom(r.Context(), r.PathValue("code"), req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Room: rm, Player: pl})
}

func (a *API) handleOpenSubmissions(w http.ResponseWriter, r *http.Request) {
	var req playerActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rm, err := a.game.OpenSubmissions(r.Context(), r.PathValue("code"), req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Room: rm})
}

func (a *API) handleSubmitCaption(w http.ResponseWriter, r *http.Request) {
	var req submitCaptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	item, err := a.game.SubmitCaption(r.Context(), r.PathValue("code"), req.PlayerID, req.Caption)
	if err != nil {
		writeError(w, err)
		return
	}
	// The image render runs in the background; 202 tells the client to
	// watch the feed for ContentRendered.
	writeJSON(w, http.StatusAccepted, map[string]any{"content": item})
}

// handleRetryRender re-runs the image render for an item whose
// attempts failed, so a submission is never permanently stuck
// unrendered.
func (a *API) handleRetryRender(w http.ResponseWriter, r *http.Request) {
	contentID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid content id"})
		return
	}
	if err := a.game.RetryRender(r.Context(), r.PathValue("code"), contentID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleStartGame(w http.ResponseWriter, r *http.Request) {
	var req playerActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rm, err := a.game.StartGame(r.Context(), r.PathValue("code"), req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Room: rm})
}

func (a *API) handleAdvanceRound(w http.ResponseWriter, r *http.Request) {
	var req playerActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rm, err := a.game.AdvanceRound(r.Context(), r.PathValue("code"), req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Room: rm})
}

func (a *API) handleSubmitGuess(w http.ResponseWriter, r *http.Request) {
	var req submitGuessRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := a.game.SubmitGuess(r.Context(), r.PathValue("code"), req.PlayerID, req.Option)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRoomState(w http.ResponseWriter, r *http.Request) {
	state, err := a.provider.FetchState(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleRoomSocket upgrades the request to a websocket that receives
// the room's feed events.
func (a *API) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if _, err := a.provider.FetchState(r.Context(), code); err != nil {
		writeError(w, err)
		return
	}
	playerID := r.URL.Query().Get("player_id")
	if playerID == "" {
		playerID = "spectator"
	}
	if err := a.connections.UpgradeConnection(w, r, playerID, roomcode.Normalize(code)); err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to upgrade room socket")
	}
}

func (a *API) handleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.connections.Stats())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var genErr *clients.GenerationError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, room.ErrRoomNotFound),
		errors.Is(err, player.ErrPlayerNotFound),
		errors.Is(err, content.ErrContentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNotHost):
		status = http.StatusForbidden
	case errors.Is(err, player.ErrUsernameTaken),
		errors.Is(err, room.ErrAlreadyStarted),
		errors.Is(err, room.ErrRoomNotJoinable),
		errors.Is(err, room.ErrConcurrentAdvance),
		errors.Is(err, orchestrator.ErrSubmissionsNotOpen),
		errors.Is(err, orchestrator.ErrNotPlaying):
		status = http.StatusConflict
	case errors.Is(err, content.ErrCaptionTooShort),
		errors.Is(err, orchestrator.ErrInvalidOption),
		errors.Is(err, orchestrator.ErrNotEnoughPlayers),
		errors.Is(err, orchestrator.ErrNoRenderedContent):
		status = http.StatusBadRequest
	case errors.As(err, &genErr):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
