package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Event is one row of the room outbox, published to the change feed by
// the relay.
type Event struct {
	ID        uuid.UUID
	RoomCode  string
	EventType string
	Seq       int64
	Payload   []byte
	CreatedAt time.Time
}
