package room

import (
	"github.com/google/uuid"
)

// CreateRoomRequest represents a request to create a new room.
type CreateRoomRequest struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
}

// CommitRoundRequest carries one round's record for the
// compare-and-commit advance. FromRound must equal the room's
// current_round for the commit to succeed.
type CommitRoundRequest struct {
	RoomID        uuid.UUID `json:"room_id"`
	FromRound     int       `json:"from_round"`
	ContentItemID uuid.UUID `json:"content_item_id"`
	ImageURL      string    `json:"image_url"`
	Options       []string  `json:"options"`
	CorrectPrompt string    `json:"correct_prompt"`
}
