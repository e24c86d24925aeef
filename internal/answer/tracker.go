package answer

import (
	"sync"

	"github.com/google/uuid"
)

// Result is the outcome of recording an answer.
type Result int

const (
	// Pending means the answer was counted but required players remain.
	// It is also returned for repeat completion checks after AllAnswered
	// has already fired.
	Pending Result = iota
	// AllAnswered means this answer was the last required one. Fires
	// exactly once per round.
	AllAnswered
	// AlreadyAnswered means this player already answered this round.
	AlreadyAnswered
	// NotRequired means the player is outside the round's required set
	// (the item's author, the host, or a stale-round record).
	NotRequired
)

func (r Result) String() string {
	switch r {
	case Pending:
		return "pending"
	case AllAnswered:
		return "all_answered"
	case AlreadyAnswered:
		return "already_answered"
	case NotRequired:
		return "not_required"
	}
	return "unknown"
}

// Tracker tracks which required players have answered the current
// round. Record is idempotent per (round, player) and the AllAnswered
// signal latches so duplicate or racing completion checks cannot
// trigger a second round advance.
type Tracker struct {
	mu       sync.Mutex
	round    int
	required map[uuid.UUID]bool
	answered map[uuid.UUID]bool
	closed   bool
}

func NewTracker() *Tracker {
	return &Tracker{
		required: make(map[uuid.UUID]bool),
		answered: make(map[uuid.UUID]bool),
	}
}

// Reset arms the tracker for a new round with its required player set.
func (t *Tracker) Reset(round int, required []uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.round = round
	t.closed = false
	t.required = make(map[uuid.UUID]bool, len(required))
	t.answered = make(map[uuid.UUID]bool, len(required))
	for _, id := range required {
		t.required[id] = true
	}
}

// Record marks playerID as having answered round. Records for a round
// other than the current one return NotRequired.
func (t *Tracker) Record(round int, playerID uuid.UUID) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	if round != t.round || !t.required[playerID] {
		return NotRequired
	}
	if t.answered[playerID] {
		return AlreadyAnswered
	}
	t.answered[playerID] = true

	if t.closed || len(t.answered) < len(t.required) {
		return Pending
	}
	t.closed = true
	return AllAnswered
}

// Status reports how Record would treat (round, playerID) without
// mutating the tracker. Callers use it to reject a guess before the
// durable write; only a successful write should reach Record.
func (t *Tracker) Status(round int, playerID uuid.UUID) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	if round != t.round || !t.required[playerID] {
		return NotRequired
	}
	if t.answered[playerID] {
		return AlreadyAnswered
	}
	return Pending
}

// Complete reports whether every required player has answered the
// current round. True for an empty required set.
func (t *Tracker) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.answered) >= len(t.required)
}

// Round returns the round the tracker is currently armed for.
func (t *Tracker) Round() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.round
}

// Answered returns how many required players have answered the current
// round.
func (t *Tracker) Answered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.answered)
}
