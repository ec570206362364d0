package model

import "errors"

// Error kinds. Every domain error wraps exactly one of these so callers can
// branch on the kind with errors.Is without knowing the concrete error.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrPreconditionFailed = errors.New("precondition failed")
)

// kindError is a domain error tagged with its kind
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

func newError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Common errors used across the application
var (
	// Player errors
	ErrPlayerNotFound = newError(ErrNotFound, "player not found")
	ErrInvalidName    = newError(ErrInvalidArgument, "player name must not be empty")

	// Lobby errors
	ErrLobbyNotFound = newError(ErrNotFound, "lobby not found")

	// Game errors
	ErrGameNotFound          = newError(ErrNotFound, "game not found")
	ErrGameAlreadyStarted    = newError(ErrConflict, "game already created or started with different players")
	ErrSamePlayers           = newError(ErrInvalidArgument, "cannot start a game with the same player as both participants")
	ErrSecondPlayerNotJoined = newError(ErrPreconditionFailed, "second player has not joined")
	ErrInvalidMoveOrder      = newError(ErrPreconditionFailed, "invalid move order")
	ErrGameOver              = newError(ErrPreconditionFailed, "game is already over")
	ErrNotInGame             = newError(ErrInvalidArgument, "player is not in this game")
	ErrInvalidMove           = newError(ErrInvalidArgument, "move must be one of ROCK, PAPER, SCISSORS")
	ErrInvalidEventSequence  = errors.New("invalid game event sequence")

	// Leaderboard errors
	ErrLeaderboardEntryNotFound = newError(ErrNotFound, "leaderboard entry not found")
	ErrInvalidLimit             = newError(ErrInvalidArgument, "limit must be greater than zero")

	// Generic input errors
	ErrInvalidID = newError(ErrInvalidArgument, "id must not be empty")
)

// ErrorKind returns the kind sentinel wrapped by err, or nil if err carries none
func ErrorKind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrInvalidArgument, ErrPreconditionFailed} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
