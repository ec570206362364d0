package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/rpsleague/internal/model"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeInvalidID             = "INVALID_ID"
	CodeInvalidName           = "INVALID_NAME"
	CodeInvalidMove           = "INVALID_MOVE"
	CodeInvalidLimit          = "INVALID_LIMIT"
	CodeSamePlayers           = "SAME_PLAYERS"
	CodeNotInGame             = "NOT_IN_GAME"
	CodePlayerNotFound        = "PLAYER_NOT_FOUND"
	CodeLobbyNotFound         = "LOBBY_NOT_FOUND"
	CodeGameNotFound          = "GAME_NOT_FOUND"
	CodeLeaderboardNotFound   = "LEADERBOARD_ENTRY_NOT_FOUND"
	CodeGameAlreadyStarted    = "GAME_ALREADY_STARTED"
	CodeSecondPlayerNotJoined = "SECOND_PLAYER_NOT_JOINED"
	CodeInvalidMoveOrder      = "INVALID_MOVE_ORDER"
	CodeGameOver              = "GAME_OVER"
	CodeNotFound              = "NOT_FOUND"
	CodeConflict              = "CONFLICT"
	CodePreconditionFailed    = "PRECONDITION_FAILED"
	CodeInternalError         = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Status returns the HTTP status an error maps to
func Status(err error) int {
	return toHTTPError(err).status
}

// codes maps concrete domain errors to stable codes
var codes = []struct {
	err  error
	code string
}{
	{model.ErrPlayerNotFound, CodePlayerNotFound},
	{model.ErrLobbyNotFound, CodeLobbyNotFound},
	{model.ErrGameNotFound, CodeGameNotFound},
	{model.ErrLeaderboardEntryNotFound, CodeLeaderboardNotFound},
	{model.ErrGameAlreadyStarted, CodeGameAlreadyStarted},
	{model.ErrSamePlayers, CodeSamePlayers},
	{model.ErrSecondPlayerNotJoined, CodeSecondPlayerNotJoined},
	{model.ErrInvalidMoveOrder, CodeInvalidMoveOrder},
	{model.ErrGameOver, CodeGameOver},
	{model.ErrNotInGame, CodeNotInGame},
	{model.ErrInvalidMove, CodeInvalidMove},
	{model.ErrInvalidName, CodeInvalidName},
	{model.ErrInvalidLimit, CodeInvalidLimit},
	{model.ErrInvalidID, CodeInvalidID},
}

// toHTTPError converts an error to an httpError. The status follows the
// error's kind; the code names the concrete error when it is known.
func toHTTPError(err error) *httpError {
	// Check for specific error types
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	var status int
	var fallback string
	switch model.ErrorKind(err) {
	case model.ErrNotFound:
		status, fallback = http.StatusNotFound, CodeNotFound
	case model.ErrConflict:
		status, fallback = http.StatusConflict, CodeConflict
	case model.ErrInvalidArgument:
		status, fallback = http.StatusBadRequest, CodeInvalidRequest
	case model.ErrPreconditionFailed:
		status, fallback = http.StatusPreconditionFailed, CodePreconditionFailed
	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}

	for _, c := range codes {
		if errors.Is(err, c.err) {
			return &httpError{status, APIError{c.code, c.err.Error()}}
		}
	}
	return &httpError{status, APIError{fallback, err.Error()}}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
