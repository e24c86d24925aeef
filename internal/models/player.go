package models

import (
	"time"

	"github.com/google/uuid"
)

// PlayerRole defines what a player does during rounds.
type PlayerRole string

const (
	PlayerRoleHost    PlayerRole = "HOST"
	PlayerRoleGuesser PlayerRole = "GUESSER"
)

// Valid reports whether r is a known player role.
func (r PlayerRole) Valid() bool {
	return r == PlayerRoleHost || r == PlayerRoleGuesser
}

// Player represents one participant in a room. Username is unique
// within the room; score is monotonically non-decreasing.
type Player struct {
	ID          uuid.UUID  `json:"id"`
	RoomID      uuid.UUID  `json:"room_id"`
	Username    string     `json:"username"`
	Role        PlayerRole `json:"role"`
	Score       int        `json:"score"`
	HasAnswered bool       `json:"has_answered"`
	JoinedAt    time.Time  `json:"joined_at"`
}
