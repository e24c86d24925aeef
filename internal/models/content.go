package models

import (
	"time"

	"github.com/google/uuid"
)

// ContentItem is one (caption, image) pair submitted by a player.
// ImageURL is nil until the external render completes; the orchestrator
// never selects an unrendered item. UsedInRound is nil until the item
// is consumed by a round, and an item is consumed by at most one round
// between pool resets.
type ContentItem struct {
	ID          uuid.UUID `json:"id"`
	RoomID      uuid.UUID `json:"room_id"`
	PlayerID    uuid.UUID `json:"player_id"`
	Caption     string    `json:"caption"`
	ImageURL    *string   `json:"image_url,omitempty"`
	UsedInRound *int      `json:"used_in_round,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Rendered reports whether the image render has completed.
func (c *ContentItem) Rendered() bool {
	return c.ImageURL != nil && *c.ImageURL != ""
}
