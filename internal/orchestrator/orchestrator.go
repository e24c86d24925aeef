package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/doodledash/doodledash/internal/answer"
	"github.com/doodledash/doodledash/internal/clients"
	"github.com/doodledash/doodledash/internal/content"
	"github.com/doodledash/doodledash/internal/events"
	"github.com/doodledash/doodledash/internal/models"
	"github.com/doodledash/doodledash/internal/room"
	"github.com/doodledash/doodledash/internal/roomcode"
)

const (
	// PointsPerCorrect is the score awarded for a correct guess.
	PointsPerCorrect = 100

	// MinPlayers is the smallest player count a game can start with.
	MinPlayers = 2

	// RoundsPerPlayer sets the game length: total rounds are fixed at
	// game start as RoundsPerPlayer times the player count.
	RoundsPerPlayer = 2

	defaultGracePeriod = 5 * time.Minute
	advanceTimeout     = 30 * time.Second
)

// Store is what the orchestrator needs from the authoritative store.
// Implemented by room.Store; faked in tests.
type Store interface {
	CreateRoomWithHost(ctx context.Context, code, username string) (*models.Room, *models.Player, error)
	AddPlayer(ctx context.Context, rm *models.Room, username string) (*models.Player, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	GetRoomByID(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error)
	GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error)
	UpdateStatus(ctx context.Context, rm *models.Room, status models.RoomStatus) (*models.Room, error)
	StartPlaying(ctx context.Context, roomID uuid.UUID, totalRounds int, payload events.GameStartedPayload) (*models.Room, error)
	CommitRound(ctx context.Context, req room.CommitRoundRequest) (*models.Room, error)
	CompleteRoom(ctx context.Context, roomID uuid.UUID, fromRound int, payload events.GameCompletedPayload) (*models.Room, error)
	RecordAnswer(ctx context.Context, rm *models.Room, ans *models.Answer) (bool, error)
	AddScore(ctx context.Context, rm *models.Room, playerID uuid.UUID, delta int) (*models.Player, error)
	GetRound(ctx context.Context, roomID uuid.UUID, number int) (*models.Round, error)
	ListAnswers(ctx context.Context, roomID uuid.UUID, round int) ([]models.Answer, error)
}

// ContentPool is what the orchestrator needs from the content pool.
type ContentPool interface {
	Submit(ctx context.Context, rm *models.Room, playerID uuid.UUID, caption string) (*models.ContentItem, error)
	GetContent(ctx context.Context, id uuid.UUID) (*models.ContentItem, error)
	SelectUnused(ctx context.Context, roomID uuid.UUID) (*models.ContentItem, error)
	ResetUsed(ctx context.Context, roomID uuid.UUID) error
	CountRendered(ctx context.Context, roomID uuid.UUID) (int, error)
	RetryRender(ctx context.Context, roomCode string, contentID uuid.UUID) error
}

// DecoyService generates plausible wrong answers for a caption.
type DecoyService interface {
	GenerateDecoys(ctx context.Context, correct string, count int) ([]string, error)
}

// GuessResult is the outcome of a guess submission.
type GuessResult struct {
	Counted         bool `json:"counted"`
	AlreadyAnswered bool `json:"already_answered"`
	Correct         bool `json:"correct"`
}

// Orchestrator drives the game's round lifecycle. It is the only
// component that advances rounds; the compare-and-commit in the store
// guarantees at most one increment per round even if several calls
// race.
type Orchestrator struct {
	store  Store
	pool   ContentPool
	decoys DecoyService
	clock  clockwork.Clock
	grace  time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	closed   bool
}

func New(store Store, pool ContentPool, decoys DecoyService, clock clockwork.Clock) *Orchestrator {
	return &Orchestrator{
		store:    store,
		pool:     pool,
		decoys:   decoys,
		clock:    clock,
		grace:    defaultGracePeriod,
		sessions: make(map[uuid.UUID]*session),
	}
}

// CreateRoom creates a room with the caller as host.
func (o *Orchestrator) CreateRoom(ctx context.Context, username string) (*models.Room, *models.Player, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil, fmt.Errorf("username is required")
	}
	rm, pl, err := o.store.CreateRoomWithHost(ctx, roomcode.Generate(), username)
	if err != nil {
		return nil, nil, err
	}
	log.Info().
		Str("room_code", rm.Code).
		Str("host", pl.Username).
		Msg("room created")
	o.touch(ctx, rm)
	return rm, pl, nil
}

// JoinRoom adds a player to a joinable room.
func (o *Orchestrator) JoinRoom(ctx context.Context, code, username string) (*models.Room, *models.Player, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil, fmt.Errorf("username is required")
	}
	rm, err := o.store.GetRoomByCode(ctx, roomcode.Normalize(code))
	if err != nil {
		return nil, nil, err
	}
	pl, err := o.store.AddPlayer(ctx, rm, username)
	if err != nil {
		return nil, nil, err
	}
	o.touch(ctx, rm)
	return rm, pl, nil
}

// OpenSubmissions moves a lobby room into the caption-collecting phase.
// Host only.
func (o *Orchestrator) OpenSubmissions(ctx context.Context, code string, playerID uuid.UUID) (*models.Room, error) {
	rm, err := o.store.GetRoomByCode(ctx, roomcode.Normalize(code))
	if err != nil {
		return nil, err
	}
	if rm.HostID != playerID {
		return nil, ErrNotHost
	}
	if rm.Status != models.RoomStatusLobby {
		return nil, room.ErrAlreadyStarted
	}
	updated, err := o.store.UpdateStatus(ctx, rm, models.RoomStatusCollecting)
	if err != nil {
		return nil, err
	}
	o.touch(ctx, updated)
	return updated, nil
}

// SubmitCaption accepts a caption while the room is collecting.
func (o *Orchestrator) SubmitCaption(ctx context.Context, code string, playerID uuid.UUID, caption string) (*models.ContentItem, error) {
	rm, err := o.store.GetRoomByCode(ctx, roomcode.Normalize(code))
	if err != nil {
		return nil, err
	}
	if rm.Status != models.RoomStatusCollecting {
		if rm.Status == models.RoomStatusLobby {
			return nil, ErrSubmissionsNotOpen
		}
		return nil, room.ErrAlreadyStarted
	}
	pl, err := o.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if pl.RoomID != rm.ID {
		return nil, fmt.Errorf("player %s is not in room %s", playerID, rm.Code)
	}
	item, err := o.pool.Submit(ctx, rm, playerID, caption)
	if err != nil {
		return nil, err
	}
	o.touch(ctx, rm)
	return item, nil
}

// RetryRender re-runs the image render for a submitted item whose
// attempts failed. Open to any player in the room; a no-op for items
// that already rendered.
func (o *Orchestrator) RetryRender(ctx context.Context, code string, contentID uuid.UUID) error {
	rm, err := o.store.GetRoomByCode(ctx, roomcode.Normalize(code))
	if err != nil {
		return err
	}
	if rm.Status == models.RoomStatusCompleted {
		return room.ErrAlreadyStarted
	}
	item, err := o.pool.GetContent(ctx, contentID)
	if err != nil {
		return err
	}
	if item.RoomID != rm.ID {
		return content.ErrContentNotFound
	}
	o.touch(ctx, rm)
	return o.pool.RetryRender(ctx, rm.Code, contentID)
}

// StartGame fixes the round count at RoundsPerPlayer times the player
// count, flips the room to playing, and commits the first round. Host
// only. A generation failure after the flip leaves the room playing at
// round zero; the host retries via AdvanceRound.
func (o *Orchestrator) StartGame(ctx context.Context, code string, playerID uuid.UUID) (*models.Room, error) {
	rm, err := o.store.GetRoomByCode(ctx, roomcode.Normalize(code))
	if err != nil {
		return nil, err
	}
	if rm.HostID != playerID {
		return nil, ErrNotHost
	}
	if rm.Status == models.RoomStatusLobby {
		return nil, ErrSubmissionsNotOpen
	}

	players, err := o.store.ListPlayers(ctx, rm.ID)
	if err != nil {
		return nil, err
	}
	if len(players) < MinPlayers {
		return nil, ErrNotEnoughPlayers
	}
	rendered, err := o.pool.CountRendered(ctx, rm.ID)
	if err != nil {
		return nil, err
	}
	if rendered == 0 {
		return nil, ErrNoRenderedContent
	}

	totalRounds := RoundsPerPlayer * len(players)
	started, err := o.store.StartPlaying(ctx, rm.ID, totalRounds, events.GameStartedPayload{
		TotalRounds: totalRounds,
		PlayerCount: len(players),
		StartedAt:   o.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("room_code", started.Code).
		Int("total_rounds", totalRounds).
		Int("players", len(players)).
		Msg("game started")
	o.touch(ctx, started)

	committed, err := o.advance(ctx, started)
	if err != nil {
		log.Error().Err(err).Str("room_code", started.Code).Msg("first round failed to commit")
		return started, err
	}
	return committed, nil
}

// AdvanceRound commits the next round on behalf of the host. It is the
// manual advancement path: a retry after a generation failure, or a
// skip when a round stalls.
func (o *Orchestrator) AdvanceRound(ctx context.Context, code string, playerID uuid.UUID) (*models.Room, error) {
	rm, err := o.store.GetRoomByCode(ctx, roomcode.Normalize(code))
	if err != nil {
		return nil, err
	}
	if rm.HostID != playerID {
		return nil, ErrNotHost
	}
	if rm.Status != models.RoomStatusPlaying {
		return nil, ErrNotPlaying
	}
	o.touch(ctx, rm)
	return o.advance(ctx, rm)
}

// SubmitGuess records a player's guess for the current round. Guesses
// from the host, the round's author, or a player who already answered
// are no-ops. When the last required player answers, the next round is
// committed by the room's session task.
func (o *Orchestrator) SubmitGuess(ctx context.Context, code string, playerID uuid.UUID, selected string) (*GuessResult, error) {
	rm, err := o.store.GetRoomByCode(ctx, roomcode.Normalize(code))
	if err != nil {
		return nil, err
	}
	if rm.Status != models.RoomStatusPlaying || rm.CurrentRound == 0 {
		return nil, ErrNotPlaying
	}
	pl, err := o.store.GetPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if pl.RoomID != rm.ID {
		return nil, fmt.Errorf("player %s is not in room %s", playerID, rm.Code)
	}
	if !optionIn(rm.Options, selected) {
		return nil, ErrInvalidOption
	}

	s := o.getSession(ctx, rm)
	o.touchSession(s)

	switch s.tracker.Status(rm.CurrentRound, playerID) {
	case answer.NotRequired:
		return &GuessResult{}, nil
	case answer.AlreadyAnswered:
		return &GuessResult{AlreadyAnswered: true}, nil
	}

	correct := rm.CorrectPrompt != nil && selected == *rm.CorrectPrompt
	counted, err := o.store.RecordAnswer(ctx, rm, &models.Answer{
		ID:             uuid.New(),
		RoomID:         rm.ID,
		RoundNumber:    rm.CurrentRound,
		PlayerID:       playerID,
		SelectedOption: selected,
		Correct:        correct,
	})
	if err != nil {
		// The tracker was not touched: the player's retry starts over.
		return nil, err
	}
	if counted && correct {
		if _, err := o.store.AddScore(ctx, rm, playerID, PointsPerCorrect); err != nil {
			return nil, err
		}
	}
	// The answer row is durable; only now does the tracker learn of it.
	if s.tracker.Record(rm.CurrentRound, playerID) == answer.AllAnswered {
		s.requestAdvance()
	}
	return &GuessResult{Counted: counted, AlreadyAnswered: !counted, Correct: correct}, nil
}

// advance commits the next round for rm, or the terminal transition
// when every round has been played. On any error before the commit no
// state changes; a lost commit race surfaces as ErrConcurrentAdvance.
func (o *Orchestrator) advance(ctx context.Context, rm *models.Room) (*models.Room, error) {
	if rm.CurrentRound >= rm.TotalRounds {
		return o.complete(ctx, rm)
	}

	item, err := o.selectItem(ctx, rm.ID)
	if err != nil {
		return nil, err
	}
	if item.ImageURL == nil {
		return nil, fmt.Errorf("content item %s has no rendered image", item.ID)
	}

	decoys, err := o.generateDecoys(ctx, item.Caption)
	if err != nil {
		return nil, err
	}
	options := append([]string{item.Caption}, decoys...)
	rand.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	committed, err := o.store.CommitRound(ctx, room.CommitRoundRequest{
		RoomID:        rm.ID,
		FromRound:     rm.CurrentRound,
		ContentItemID: item.ID,
		ImageURL:      *item.ImageURL,
		Options:       options,
		CorrectPrompt: item.Caption,
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("room_code", committed.Code).
		Int("round", committed.CurrentRound).
		Int("total_rounds", committed.TotalRounds).
		Msg("round committed")

	o.armTracker(ctx, committed, item.PlayerID)
	return committed, nil
}

func (o *Orchestrator) complete(ctx context.Context, rm *models.Room) (*models.Room, error) {
	completed, err := o.store.CompleteRoom(ctx, rm.ID, rm.CurrentRound, events.GameCompletedPayload{
		TotalRounds: rm.TotalRounds,
		CompletedAt: o.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("room_code", completed.Code).Msg("game completed")
	o.dropSession(completed.ID)
	return completed, nil
}

// selectItem picks an unused rendered item. On exhaustion the used
// markers are cleared once and selection retried, so a game whose round
// count exceeds the pool size keeps going with repeats.
func (o *Orchestrator) selectItem(ctx context.Context, roomID uuid.UUID) (*models.ContentItem, error) {
	item, err := o.pool.SelectUnused(ctx, roomID)
	if errors.Is(err, content.ErrPoolExhausted) {
		log.Info().Str("room_id", roomID.String()).Msg("content pool exhausted, resetting used markers")
		if resetErr := o.pool.ResetUsed(ctx, roomID); resetErr != nil {
			return nil, resetErr
		}
		item, err = o.pool.SelectUnused(ctx, roomID)
		if errors.Is(err, content.ErrPoolExhausted) {
			return nil, fmt.Errorf("content pool still empty after reset: %w", err)
		}
	}
	return item, err
}

// generateDecoys calls the decoy service with a single retry. Failures
// surface as *clients.GenerationError and leave the round uncommitted.
func (o *Orchestrator) generateDecoys(ctx context.Context, correct string) ([]string, error) {
	decoys, err := o.decoys.GenerateDecoys(ctx, correct, clients.DefaultDecoyCount)
	if err == nil {
		return decoys, nil
	}
	log.Warn().Err(err).Msg("decoy generation failed, retrying once")
	return o.decoys.GenerateDecoys(ctx, correct, clients.DefaultDecoyCount)
}

// armTracker resets the answer tracker for a freshly committed round.
// Required answerers are every player except the host and the round's
// author. If that set is empty the round cannot be completed by
// guesses, so the advance is requested immediately.
func (o *Orchestrator) armTracker(ctx context.Context, rm *models.Room, authorID uuid.UUID) {
	players, err := o.store.ListPlayers(ctx, rm.ID)
	if err != nil {
		log.Error().Err(err).Str("room_code", rm.Code).Msg("failed to list players for answer tracking")
		return
	}
	required := requiredAnswerers(players, rm.HostID, authorID)

	s := o.getSession(ctx, rm)
	s.tracker.Reset(rm.CurrentRound, required)
	if len(required) == 0 {
		s.requestAdvance()
	}
}

func requiredAnswerers(players []models.Player, hostID, authorID uuid.UUID) []uuid.UUID {
	var required []uuid.UUID
	for _, pl := range players {
		if pl.ID == hostID || pl.ID == authorID {
			continue
		}
		required = append(required, pl.ID)
	}
	return required
}

func optionIn(options []string, selected string) bool {
	for _, opt := range options {
		if opt == selected {
			return true
		}
	}
	return false
}
