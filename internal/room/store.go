package room

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/doodledash/doodledash/internal/answer"
	"github.com/doodledash/doodledash/internal/content"
	"github.com/doodledash/doodledash/internal/events"
	"github.com/doodledash/doodledash/internal/models"
	"github.com/doodledash/doodledash/internal/outbox"
	"github.com/doodledash/doodledash/internal/player"
	"github.com/doodledash/doodledash/internal/sqlutil"
)

// Store is the authoritative-store facade the orchestrator commits
// through. Every mutation that must be observable lands its feed event
// in the same transaction as the domain rows, so commits are
// all-or-nothing per operation.
type Store struct {
	db      *sql.DB
	rooms   *Repository
	players *player.Repository
	items   *content.Repository
	answers *answer.Repository
	outbox  *outbox.App
}

func NewStore(db *sql.DB, rooms *Repository, players *player.Repository, items *content.Repository, answers *answer.Repository, outboxApp *outbox.App) *Store {
	return &Store{
		db:      db,
		rooms:   rooms,
		players: players,
		items:   items,
		answers: answers,
		outbox:  outboxApp,
	}
}

// CreateRoomWithHost creates a room and its host player atomically.
func (s *Store) CreateRoomWithHost(ctx context.Context, code, username string) (*models.Room, *models.Player, error) {
	var (
		rm *models.Room
		pl *models.Player
	)
	err := sqlutil.Run(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		rm, err = s.rooms.WithTx(tx).CreateRoom(ctx, CreateRoomRequest{ID: uuid.New(), Code: code})
		if err != nil {
			return err
		}
		pl, err = s.players.WithTx(tx).CreatePlayer(ctx, player.CreatePlayerRequest{
			ID:       uuid.New(),
			RoomID:   rm.ID,
			Username: username,
			Role:     models.PlayerRoleHost,
		})
		if err != nil {
			return err
		}
		if err := s.rooms.WithTx(tx).SetHost(ctx, rm.ID, pl.ID); err != nil {
			return err
		}
		rm.HostID = pl.ID
		return s.insertEvent(ctx, tx, rm.Code, events.TypePlayerJoined, events.PlayerJoinedPayload{
			PlayerID: pl.ID.String(),
			Username: pl.Username,
			Role:     string(pl.Role),
			JoinedAt: pl.JoinedAt,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return rm, pl, nil
}

// AddPlayer adds a guesser to a joinable room.
func (s *Store) AddPlayer(ctx context.Context, rm *models.Room, username string) (*models.Player, error) {
	if rm.Status != models.RoomStatusLobby && rm.Status != models.RoomStatusCollecting {
		return nil, ErrRoomNotJoinable
	}

	var pl *models.Player
	err := sqlutil.Run(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		pl, err = s.players.WithTx(tx).CreatePlayer(ctx, player.CreatePlayerRequest{
			ID:       uuid.New(),
			RoomID:   rm.ID,
			Username: username,
			Role:     models.PlayerRoleGuesser,
		})
		if err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, rm.Code, events.TypePlayerJoined, events.PlayerJoinedPayload{
			PlayerID: pl.ID.String(),
			Username: pl.Username,
			Role:     string(pl.Role),
			JoinedAt: pl.JoinedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return pl, nil
}

func (s *Store) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	return s.rooms.GetRoomByCode(ctx, code)
}

func (s *Store) GetRoomByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return s.rooms.GetRoomByID(ctx, id)
}

func (s *Store) ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error) {
	return s.players.ListPlayers(ctx, roomID)
}

func (s *Store) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	return s.players.GetPlayer(ctx, id)
}

func (s *Store) GetRound(ctx context.Context, roomID uuid.UUID, number int) (*models.Round, error) {
	return s.rooms.GetRound(ctx, roomID, number)
}

// UpdateStatus moves a room between pre-game phases and emits the
// change on the feed.
func (s *Store) UpdateStatus(ctx context.Context, rm *models.Room, status models.RoomStatus) (*models.Room, error) {
	var updated *models.Room
	err := sqlutil.Run(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		updated, err = s.rooms.WithTx(tx).UpdateStatus(ctx, rm.ID, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// StartPlaying fixes the round count and flips the room to playing,
// with the GameStarted event in the same transaction.
func (s *Store) StartPlaying(ctx context.Context, roomID uuid.UUID, totalRounds int, payload events.GameStartedPayload) (*models.Room, error) {
	var rm *models.Room
	err := sqlutil.Run(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		rm, err = s.rooms.WithTx(tx).StartPlaying(ctx, roomID, totalRounds)
		if err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, rm.Code, events.TypeGameStarted, payload)
	})
	if err != nil {
		return nil, err
	}
	return rm, nil
}

// CommitRound performs the all-or-nothing round advance: the
// compare-and-commit on the room row, the round record, the pool's
// used marker, the answered-flag reset, and the RoundStarted event all
// land in one transaction. A losing concurrent caller gets
// ErrConcurrentAdvance and nothing is written.
func (s *Store) CommitRound(ctx context.Context, req CommitRoundRequest) (*models.Room, error) {
	var rm *models.Room
	err := sqlutil.Run(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		rm, err = s.rooms.WithTx(tx).CommitRound(ctx, req)
		if err != nil {
			return err
		}
		if err := s.items.WithTx(tx).MarkUsed(ctx, req.ContentItemID, rm.CurrentRound); err != nil {
			return err
		}
		round := &models.Round{
			ID:            uuid.New(),
			RoomID:        rm.ID,
			Number:        rm.CurrentRound,
			ContentItemID: req.ContentItemID,
			ImageURL:      req.ImageURL,
			Options:       req.Options,
			CorrectPrompt: req.CorrectPrompt,
		}
		if err := s.rooms.WithTx(tx).InsertRound(ctx, round); err != nil {
			return err
		}
		if err := s.players.WithTx(tx).ResetAnswered(ctx, rm.ID); err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, rm.Code, events.TypeRoundStarted, events.RoundStartedPayload{
			Round:         rm.CurrentRound,
			TotalRounds:   rm.TotalRounds,
			ImageURL:      req.ImageURL,
			Options:       req.Options,
			CorrectPrompt: req.CorrectPrompt,
			CommittedAt:   rm.UpdatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return rm, nil
}

// CompleteRoom commits the terminal transition, guarded on the final
// round number.
func (s *Store) CompleteRoom(ctx context.Context, roomID uuid.UUID, fromRound int, payload events.GameCompletedPayload) (*models.Room, error) {
	var rm *models.Room
	err := sqlutil.Run(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		rm, err = s.rooms.WithTx(tx).CompleteRoom(ctx, roomID, fromRound)
		if err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, rm.Code, events.TypeGameCompleted, payload)
	})
	if err != nil {
		return nil, err
	}
	return rm, nil
}

// RecordAnswer stores a guess idempotently. The returned bool is false
// when the player had already answered this round; duplicates write
// nothing.
func (s *Store) RecordAnswer(ctx context.Context, rm *models.Room, ans *models.Answer) (bool, error) {
	var counted bool
	err := sqlutil.Run(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		counted, err = s.answers.WithTx(tx).RecordAnswer(ctx, ans)
		if err != nil || !counted {
			return err
		}
		if err := s.players.WithTx(tx).SetAnswered(ctx, ans.PlayerID, true); err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, rm.Code, events.TypeAnswerRecorded, events.AnswerRecordedPayload{
			Round:    ans.RoundNumber,
			PlayerID: ans.PlayerID.String(),
			Correct:  ans.Correct,
		})
	})
	if err != nil {
		return false, err
	}
	return counted, nil
}

// AddScore bumps a player's score and publishes the new total.
func (s *Store) AddScore(ctx context.Context, rm *models.Room, playerID uuid.UUID, delta int) (*models.Player, error) {
	var pl *models.Player
	err := sqlutil.Run(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		pl, err = s.players.WithTx(tx).AddScore(ctx, playerID, delta)
		if err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, rm.Code, events.TypeScoreUpdated, events.ScoreUpdatedPayload{
			PlayerID: pl.ID.String(),
			Score:    pl.Score,
		})
	})
	if err != nil {
		return nil, err
	}
	return pl, nil
}

// ListAnswers returns the recorded answers for one round.
func (s *Store) ListAnswers(ctx context.Context, roomID uuid.UUID, round int) ([]models.Answer, error) {
	return s.answers.ListForRound(ctx, roomID, round)
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, roomCode, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return s.outbox.WithTx(tx).InsertEvent(ctx, roomCode, eventType, data)
}
