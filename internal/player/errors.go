package player

import "errors"

// ErrPlayerNotFound is returned when no player exists for the given ID
// or username.
var ErrPlayerNotFound = errors.New("player not found")

// ErrUsernameTaken is returned when the username is already in use
// within the room.
var ErrUsernameTaken = errors.New("username already taken in this room")
