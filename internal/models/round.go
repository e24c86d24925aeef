package models

import (
	"time"

	"github.com/google/uuid"
)

// Round is one committed display-and-guess cycle. Number is 1-based and
// never reused within a room. Options holds the correct caption exactly
// once plus the generated decoys, shuffled.
type Round struct {
	ID            uuid.UUID `json:"id"`
	RoomID        uuid.UUID `json:"room_id"`
	Number        int       `json:"number"`
	ContentItemID uuid.UUID `json:"content_item_id"`
	ImageURL      string    `json:"image_url"`
	Options       []string  `json:"options"`
	CorrectPrompt string    `json:"correct_prompt"`
	CommittedAt   time.Time `json:"committed_at"`
}

// Answer records one player's guess for a round. At most one row exists
// per (room, round, player).
type Answer struct {
	ID             uuid.UUID `json:"id"`
	RoomID         uuid.UUID `json:"room_id"`
	RoundNumber    int       `json:"round_number"`
	PlayerID       uuid.UUID `json:"player_id"`
	SelectedOption string    `json:"selected_option"`
	Correct        bool      `json:"correct"`
	AnsweredAt     time.Time `json:"answered_at"`
}
