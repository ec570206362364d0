package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/rpsleague/internal/api/handler"
	"github.com/mcoot/rpsleague/internal/api/middleware"
	"github.com/mcoot/rpsleague/internal/api/response"
	"github.com/mcoot/rpsleague/internal/metrics"
	"github.com/mcoot/rpsleague/internal/services/game"
	"github.com/mcoot/rpsleague/internal/services/leaderboard"
	"github.com/mcoot/rpsleague/internal/services/lobby"
	"github.com/mcoot/rpsleague/internal/services/player"
	"github.com/mcoot/rpsleague/internal/sse"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	PlayerService   *player.Service
	LobbyController *lobby.Controller
	GameController  *game.Controller
	Leaderboard     *leaderboard.Projection
	// Streams serves live game event streams (optional)
	Streams *sse.HubManager
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	playerHandler := handler.NewPlayerHandler(cfg.PlayerService)
	lobbyHandler := handler.NewLobbyHandler(cfg.LobbyController)
	gameHandler := handler.NewGameHandler(cfg.GameController, cfg.Streams)
	leaderboardHandler := handler.NewLeaderboardHandler(cfg.Leaderboard)

	// Create middleware
	loggingMiddleware := middleware.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)
	if cfg.Metrics != nil {
		api.Use(middleware.Metrics(cfg.Metrics))
	}

	// Player routes
	api.HandleFunc("/players", playerHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/players/{player_id}", playerHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/players/{player_id}", playerHandler.Update).Methods(http.MethodPatch)

	// Lobby routes
	api.HandleFunc("/lobbies/{lobby_id}", lobbyHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/lobbies/{lobby_id}/join", lobbyHandler.Join).Methods(http.MethodPost)

	// Game routes
	api.HandleFunc("/games/{game_id}", gameHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/games/{game_id}/events", gameHandler.Events).Methods(http.MethodGet)
	api.HandleFunc("/games/{game_id}/moves", gameHandler.Move).Methods(http.MethodPost)
	if cfg.Streams != nil {
		api.HandleFunc("/games/{game_id}/stream", gameHandler.Stream).Methods(http.MethodGet)
	}

	// Leaderboard routes
	api.HandleFunc("/leaderboard", leaderboardHandler.Top).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard/players/{player_id}", leaderboardHandler.Player).Methods(http.MethodGet)

	// Health check endpoint
	api.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	// Prometheus scrape endpoint
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, response.Health{Status: "ok"})
}
