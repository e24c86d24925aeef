package events

import (
	"encoding/json"
	"time"
)

// Event types published on the room change feed.
const (
	TypePlayerJoined     = "PlayerJoined"
	TypeContentSubmitted = "ContentSubmitted"
	TypeContentRendered  = "ContentRendered"
	TypeGameStarted      = "GameStarted"
	TypeRoundStarted     = "RoundStarted"
	TypeAnswerRecorded   = "AnswerRecorded"
	TypeScoreUpdated     = "ScoreUpdated"
	TypeGameCompleted    = "GameCompleted"
)

// Envelope wraps every event on the feed. Seq is a per-room
// monotonically increasing sequence number; consumers use it to detect
// missed events and fall back to a full state re-fetch.
type Envelope struct {
	EventID   string          `json:"event_id"`
	RoomCode  string          `json:"room_code"`
	EventType string          `json:"event_type"`
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// PlayerJoinedPayload is the payload for a PlayerJoined event.
type PlayerJoinedPayload struct {
	PlayerID string    `json:"player_id"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// ContentSubmittedPayload is the payload for a ContentSubmitted event.
type ContentSubmittedPayload struct {
	ContentID string    `json:"content_id"`
	PlayerID  string    `json:"player_id"`
	Caption   string    `json:"caption"`
	CreatedAt time.Time `json:"created_at"`
}

// ContentRenderedPayload is the payload for a ContentRendered event,
// emitted once the external image render completes.
type ContentRenderedPayload struct {
	ContentID string `json:"content_id"`
	ImageURL  string `json:"image_url"`
}

// GameStartedPayload is the payload for a GameStarted event.
type GameStartedPayload struct {
	TotalRounds int       `json:"total_rounds"`
	PlayerCount int       `json:"player_count"`
	StartedAt   time.Time `json:"started_at"`
}

// RoundStartedPayload is the payload for a RoundStarted event. It
// carries the full committed round record so observers never have to
// re-fetch on the happy path.
type RoundStartedPayload struct {
	Round         int       `json:"round"`
	TotalRounds   int       `json:"total_rounds"`
	ImageURL      string    `json:"image_url"`
	Options       []string  `json:"options"`
	CorrectPrompt string    `json:"correct_prompt"`
	CommittedAt   time.Time `json:"committed_at"`
}

// AnswerRecordedPayload is the payload for an AnswerRecorded event.
type AnswerRecordedPayload struct {
	Round    int    `json:"round"`
	PlayerID string `json:"player_id"`
	Correct  bool   `json:"correct"`
}

// ScoreUpdatedPayload is the payload for a ScoreUpdated event.
type ScoreUpdatedPayload struct {
	PlayerID string `json:"player_id"`
	Score    int    `json:"score"`
}

// GameCompletedPayload is the payload for a GameCompleted event.
type GameCompletedPayload struct {
	TotalRounds int       `json:"total_rounds"`
	CompletedAt time.Time `json:"completed_at"`
}
