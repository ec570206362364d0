package handler

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mcoot/rpsleague/internal/api/response"
	"github.com/mcoot/rpsleague/internal/model"
	"github.com/mcoot/rpsleague/internal/services/leaderboard"
)

// LeaderboardHandler handles leaderboard queries
type LeaderboardHandler struct {
	projection *leaderboard.Projection
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(projection *leaderboard.Projection) *LeaderboardHandler {
	return &LeaderboardHandler{projection: projection}
}

// Top handles GET /api/v1/leaderboard?limit=N
func (h *LeaderboardHandler) Top(w http.ResponseWriter, r *http.Request) {
	limit := leaderboard.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			WriteError(w, NewInvalidRequestError("limit must be an integer"))
			return
		}
		limit = n
	}

	entries, err := h.projection.TopPlayers(r.Context(), limit)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.LeaderboardFromModel(entries))
}

// Player handles GET /api/v1/leaderboard/players/{player_id}
func (h *LeaderboardHandler) Player(w http.ResponseWriter, r *http.Request) {
	id := model.PlayerID(mux.Vars(r)["player_id"])

	entry, err := h.projection.PlayerStats(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.LeaderboardEntryFromModel(entry))
}
