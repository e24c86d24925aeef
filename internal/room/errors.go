package room

import "errors"

// ErrRoomNotFound is returned when no room exists for the given code or ID.
var ErrRoomNotFound = errors.New("room not found")

// ErrConcurrentAdvance is returned when a compare-and-commit round
// advance loses the race: the room's current round was no longer the
// expected one. Losing callers treat this as a silent no-op.
var ErrConcurrentAdvance = errors.New("round already advanced by another caller")

// ErrRoomNotJoinable is returned when a player tries to join a room
// that is already playing or completed.
var ErrRoomNotJoinable = errors.New("room is not accepting players")

// ErrAlreadyStarted is returned when StartGame is called on a room that
// has already left the collecting phase.
var ErrAlreadyStarted = errors.New("game already started")
