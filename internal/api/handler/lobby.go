package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/rpsleague/internal/api/request"
	"github.com/mcoot/rpsleague/internal/api/response"
	"github.com/mcoot/rpsleague/internal/model"
	"github.com/mcoot/rpsleague/internal/services/lobby"
)

// LobbyHandler handles lobby-related endpoints
type LobbyHandler struct {
	lobbyController *lobby.Controller
}

// NewLobbyHandler creates a new lobby handler
func NewLobbyHandler(lobbyController *lobby.Controller) *LobbyHandler {
	return &LobbyHandler{lobbyController: lobbyController}
}

// Get handles GET /api/v1/lobbies/{lobby_id}
func (h *LobbyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := model.LobbyID(mux.Vars(r)["lobby_id"])

	l, err := h.lobbyController.GetLobby(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.LobbyFromModel(l))
}

// Join handles POST /api/v1/lobbies/{lobby_id}/join
func (h *LobbyHandler) Join(w http.ResponseWriter, r *http.Request) {
	id := model.LobbyID(mux.Vars(r)["lobby_id"])

	var req request.JoinLobbyRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	l, err := h.lobbyController.JoinLobby(r.Context(), id, model.PlayerID(req.PlayerID))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.LobbyFromModel(l))
}
