package orchestrator

import "errors"

var (
	// ErrNotHost is returned when a host-only operation is attempted by
	// another player.
	ErrNotHost = errors.New("only the host can perform this action")

	// ErrNotEnoughPlayers is returned when the host tries to start a
	// game below the minimum player count.
	ErrNotEnoughPlayers = errors.New("not enough players to start the game")

	// ErrNoRenderedContent is returned when the host tries to start a
	// game before any submitted caption has a rendered image.
	ErrNoRenderedContent = errors.New("no rendered content available")

	// ErrSubmissionsNotOpen is returned when a caption or game start
	// arrives while the room is still in the lobby.
	ErrSubmissionsNotOpen = errors.New("caption submissions are not open")

	// ErrNotPlaying is returned when a guess or advance arrives for a
	// room that is not in the playing phase.
	ErrNotPlaying = errors.New("room is not in the playing phase")

	// ErrInvalidOption is returned when a guess names an option that is
	// not part of the current round.
	ErrInvalidOption = errors.New("selected option is not part of the current round")
)
