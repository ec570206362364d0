package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/rpsleague/internal/model"
	"github.com/mcoot/rpsleague/internal/storage"
)

func TestWriteErrorMapsKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"game not found", model.ErrGameNotFound, http.StatusNotFound, CodeGameNotFound},
		{"wrapped player not found", fmt.Errorf("load: %w", model.ErrPlayerNotFound), http.StatusNotFound, CodePlayerNotFound},
		{"conflict", model.ErrGameAlreadyStarted, http.StatusConflict, CodeGameAlreadyStarted},
		{"same players", model.ErrSamePlayers, http.StatusBadRequest, CodeSamePlayers},
		{"move order", model.ErrInvalidMoveOrder, http.StatusPreconditionFailed, CodeInvalidMoveOrder},
		{"game over", model.ErrGameOver, http.StatusPreconditionFailed, CodeGameOver},
		{"bare kind", model.ErrConflict, http.StatusConflict, CodeConflict},
		{"version conflict exhausted", storage.ErrVersionConflict, http.StatusInternalServerError, CodeInternalError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternalError},
		{"invalid request", NewInvalidRequestError("bad"), http.StatusBadRequest, CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			WriteError(rr, tt.err)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestInternalErrorsDoNotLeakDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errors.New("dial tcp 10.0.0.1:6379: connection refused"))

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "Internal server error", resp.Error.Message)
}
