package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/doodledash/doodledash/internal/models"
	"github.com/doodledash/doodledash/internal/roomcode"
	"github.com/doodledash/doodledash/internal/statesync"
)

// StateProvider assembles an authoritative room snapshot. It backs the
// state endpoint that clients hit on connect and after missing feed
// events.
type StateProvider interface {
	FetchState(ctx context.Context, code string) (*statesync.RoomState, error)
}

// StateStore defines what the provider needs from the authoritative
// store.
type StateStore interface {
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	ListPlayers(ctx context.Context, roomID uuid.UUID) ([]models.Player, error)
	ListAnswers(ctx context.Context, roomID uuid.UUID, round int) ([]models.Answer, error)
}

// ContentLister defines what the provider needs from the content pool.
type ContentLister interface {
	ListContent(ctx context.Context, roomID uuid.UUID) ([]models.ContentItem, error)
}

// SeqSource reports the latest feed sequence number per room.
type SeqSource interface {
	LatestSeq(ctx context.Context, roomCode string) (int64, error)
}

// StoreStateProvider builds snapshots straight from the database.
type StoreStateProvider struct {
	store StateStore
	pool  ContentLister
	seqs  SeqSource
}

func NewStoreStateProvider(store StateStore, pool ContentLister, seqs SeqSource) *StoreStateProvider {
	return &StoreStateProvider{store: store, pool: pool, seqs: seqs}
}

// FetchState reads the room, its players, its content pool, and the
// current round's answers into one snapshot. The feed sequence number
// is read first: a snapshot may then be slightly newer than its
// LastSeq claims, which only causes harmless re-application of events
// the stale-round guard already drops.
func (p *StoreStateProvider) FetchState(ctx context.Context, code string) (*statesync.RoomState, error) {
	code = roomcode.Normalize(code)

	seq, err := p.seqs.LatestSeq(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed sequence: %w", err)
	}
	rm, err := p.store.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	players, err := p.store.ListPlayers(ctx, rm.ID)
	if err != nil {
		return nil, err
	}
	items, err := p.pool.ListContent(ctx, rm.ID)
	if err != nil {
		return nil, err
	}

	state := statesync.NewRoomState(rm.Code)
	state.Status = rm.Status
	state.CurrentRound = rm.CurrentRound
	state.TotalRounds = rm.TotalRounds
	state.Options = append([]string(nil), rm.Options...)
	state.LastSeq = seq
	if rm.CurrentImage != nil {
		state.ImageURL = *rm.CurrentImage
	}
	if rm.CorrectPrompt != nil {
		state.CorrectPrompt = *rm.CorrectPrompt
	}

	for _, pl := range players {
		state.Players[pl.ID.String()] = &statesync.PlayerState{
			ID:       pl.ID.String(),
			Username: pl.Username,
			Role:     string(pl.Role),
			Score:    pl.Score,
		}
	}

	state.Submitted = len(items)
	for _, item := range items {
		if item.Rendered() {
			state.Rendered++
		}
	}

	if rm.Status == models.RoomStatusPlaying && rm.CurrentRound > 0 {
		answers, err := p.store.ListAnswers(ctx, rm.ID, rm.CurrentRound)
		if err != nil {
			return nil, err
		}
		state.Answered = len(answers)
	}
	return state, nil
}
