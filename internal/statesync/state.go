package statesync

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/doodledash/doodledash/internal/events"
	"github.com/doodledash/doodledash/internal/models"
)

// ErrSequenceGap means an envelope arrived whose sequence number is not
// the successor of the last applied one. The projection is stale and
// must be replaced by a full snapshot before applying further events.
var ErrSequenceGap = errors.New("gap in room event sequence")

// PlayerState is one player's slice of the room projection.
type PlayerState struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Score    int    `json:"score"`
}

// RoomState is a client-side projection of a room, built by folding
// feed events on top of an authoritative snapshot. LastSeq is the
// sequence number of the last event reflected in the state.
type RoomState struct {
	Code          string                  `json:"code"`
	Status        models.RoomStatus       `json:"status"`
	CurrentRound  int                     `json:"current_round"`
	TotalRounds   int                     `json:"total_rounds"`
	ImageURL      string                  `json:"image_url,omitempty"`
	Options       []string                `json:"options,omitempty"`
	CorrectPrompt string                  `json:"correct_prompt,omitempty"`
	Players       map[string]*PlayerState `json:"players"`
	Submitted     int                     `json:"submitted"`
	Rendered      int                     `json:"rendered"`
	Answered      int                     `json:"answered"`
	LastSeq       int64                   `json:"last_seq"`
}

func NewRoomState(code string) *RoomState {
	return &RoomState{
		Code:    code,
		Status:  models.RoomStatusLobby,
		Players: make(map[string]*PlayerState),
	}
}

func (s *RoomState) clone() *RoomState {
	cp := *s
	cp.Options = append([]string(nil), s.Options...)
	cp.Players = make(map[string]*PlayerState, len(s.Players))
	for id, pl := range s.Players {
		p := *pl
		cp.Players[id] = &p
	}
	return &cp
}

// Reconciler folds feed envelopes into a RoomState. It drops events it
// has already seen, ignores round data older than what it holds, and
// reports a sequence gap instead of applying events out of order.
type Reconciler struct {
	mu    sync.RWMutex
	state *RoomState
}

func NewReconciler(roomCode string) *Reconciler {
	return &Reconciler{state: NewRoomState(roomCode)}
}

// Load replaces the projection with an authoritative snapshot.
func (r *Reconciler) Load(state *RoomState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state.clone()
	if r.state.Players == nil {
		r.state.Players = make(map[string]*PlayerState)
	}
}

// State returns a copy of the current projection.
func (r *Reconciler) State() *RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.clone()
}

// Apply folds one envelope into the projection. Envelopes at or below
// LastSeq are dropped silently; an envelope further ahead than
// LastSeq+1 returns ErrSequenceGap without touching the state.
func (r *Reconciler) Apply(env events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.state
	if env.RoomCode != s.Code {
		return nil
	}
	if env.Seq <= s.LastSeq {
		return nil
	}
	if env.Seq != s.LastSeq+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrSequenceGap, s.LastSeq, env.Seq)
	}

	if err := r.apply(env); err != nil {
		return err
	}
	s.LastSeq = env.Seq
	return nil
}

func (r *Reconciler) apply(env events.Envelope) error {
	s := r.state
	switch env.EventType {
	case events.TypePlayerJoined:
		var p events.PlayerJoinedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", env.EventType, err)
		}
		s.Players[p.PlayerID] = &PlayerState{
			ID:       p.PlayerID,
			Username: p.Username,
			Role:     p.Role,
		}

	case events.TypeContentSubmitted:
		s.Submitted++
		if s.Status == models.RoomStatusLobby {
			s.Status = models.RoomStatusCollecting
		}

	case events.TypeContentRendered:
		s.Rendered++

	case events.TypeGameStarted:
		var p events.GameStartedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", env.EventType, err)
		}
		s.Status = models.RoomStatusPlaying
		s.TotalRounds = p.TotalRounds

	case events.TypeRoundStarted:
		var p events.RoundStartedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", env.EventType, err)
		}
		// Round numbers only move forward; a replayed older round
		// never overwrites the one on display.
		if p.Round <= s.CurrentRound {
			log.Debug().
				Str("room_code", s.Code).
				Int("round", p.Round).
				Int("current", s.CurrentRound).
				Msg("dropping stale round event")
			return nil
		}
		s.Status = models.RoomStatusPlaying
		s.CurrentRound = p.Round
		s.TotalRounds = p.TotalRounds
		s.ImageURL = p.ImageURL
		s.Options = append([]string(nil), p.Options...)
		s.CorrectPrompt = p.CorrectPrompt
		s.Answered = 0

	case events.TypeAnswerRecorded:
		var p events.AnswerRecordedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", env.EventType, err)
		}
		if p.Round == s.CurrentRound {
			s.Answered++
		}

	case events.TypeScoreUpdated:
		var p events.ScoreUpdatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", env.EventType, err)
		}
		if pl, ok := s.Players[p.PlayerID]; ok {
			pl.Score = p.Score
		}

	case events.TypeGameCompleted:
		s.Status = models.RoomStatusCompleted
		s.ImageURL = ""
		s.Options = nil
		s.CorrectPrompt = ""

	default:
		log.Debug().
			Str("room_code", s.Code).
			Str("event_type", env.EventType).
			Msg("ignoring unknown event type")
	}
	return nil
}
