package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/rpsleague/internal/api/request"
	"github.com/mcoot/rpsleague/internal/api/response"
	"github.com/mcoot/rpsleague/internal/model"
	"github.com/mcoot/rpsleague/internal/services/game"
	"github.com/mcoot/rpsleague/internal/sse"
)

// GameHandler handles game-related endpoints
type GameHandler struct {
	gameController *game.Controller
	hubs           *sse.HubManager
}

// NewGameHandler creates a new game handler
func NewGameHandler(gameController *game.Controller, hubs *sse.HubManager) *GameHandler {
	return &GameHandler{gameController: gameController, hubs: hubs}
}

// Get handles GET /api/v1/games/{game_id}
func (h *GameHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := model.GameID(mux.Vars(r)["game_id"])

	g, err := h.gameController.GetGame(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.GameFromModel(g))
}

// Events handles GET /api/v1/games/{game_id}/events
func (h *GameHandler) Events(w http.ResponseWriter, r *http.Request) {
	id := model.GameID(mux.Vars(r)["game_id"])

	records, err := h.gameController.GetEvents(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.GameEventsFromModel(records))
}

// Move handles POST /api/v1/games/{game_id}/moves
func (h *GameHandler) Move(w http.ResponseWriter, r *http.Request) {
	id := model.GameID(mux.Vars(r)["game_id"])

	var req request.MakeMoveRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	move, err := model.ParseMove(req.Move)
	if err != nil {
		WriteError(w, err)
		return
	}

	g, err := h.gameController.MakeMove(r.Context(), id, model.PlayerID(req.PlayerID), move)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.GameFromModel(g))
}

// Stream handles GET /api/v1/games/{game_id}/stream. It replays the event
// log, then follows live events until the game is over.
func (h *GameHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := model.GameID(mux.Vars(r)["game_id"])

	if _, err := h.gameController.GetGame(r.Context(), id); err != nil {
		WriteError(w, err)
		return
	}

	hub := h.hubs.GetOrCreateHub(id)
	sse.ServeSSE(w, r, h.hubs, hub, func(ctx context.Context) ([][]byte, bool, error) {
		records, err := h.gameController.GetEvents(ctx, id)
		if err != nil {
			return nil, false, err
		}
		frames := make([][]byte, 0, len(records))
		done := false
		for _, rec := range records {
			frame, err := sse.FormatEvent(rec)
			if err != nil {
				return nil, false, err
			}
			frames = append(frames, frame)
			done = done || rec.Event.Type() == model.EventGameOver
		}
		return frames, done, nil
	})
}
