package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus defines the lifecycle state of a game room.
type RoomStatus string

const (
	RoomStatusLobby      RoomStatus = "LOBBY"
	RoomStatusCollecting RoomStatus = "COLLECTING"
	RoomStatusPlaying    RoomStatus = "PLAYING"
	RoomStatusCompleted  RoomStatus = "COMPLETED"
)

// Valid reports whether s is a known room status.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusLobby, RoomStatusCollecting, RoomStatusPlaying, RoomStatusCompleted:
		return true
	}
	return false
}

// Room is the authoritative record for one game session. It is mutated
// only through orchestrator commits; current_round carries the
// compare-and-commit guard for round advancement.
type Room struct {
	ID            uuid.UUID  `json:"id"`
	Code          string     `json:"code"`
	HostID        uuid.UUID  `json:"host_id"`
	Status        RoomStatus `json:"status"`
	CurrentRound  int        `json:"current_round"`
	TotalRounds   int        `json:"total_rounds"` // fixed at game start: 2 x player count
	CurrentImage  *string    `json:"current_image,omitempty"`
	Options       []string   `json:"options,omitempty"`
	CorrectPrompt *string    `json:"correct_prompt,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
