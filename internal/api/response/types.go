package response

import (
	"time"

	"github.com/mcoot/rpsleague/internal/model"
)

// Player represents a player in API responses
type Player struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	GamesWon    int       `json:"games_won"`
	GamesLost   int       `json:"games_lost"`
	RecentGames []string  `json:"recent_games"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PlayerFromModel converts a model.Player to a response Player
func PlayerFromModel(p *model.Player) Player {
	recent := make([]string, len(p.RecentGameIDs))
	for i, id := range p.RecentGameIDs {
		recent[i] = string(id)
	}
	return Player{
		ID:          string(p.ID),
		Name:        p.Name,
		GamesWon:    p.GamesWon,
		GamesLost:   p.GamesLost,
		RecentGames: recent,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// Lobby represents a lobby in API responses
type Lobby struct {
	ID        string    `json:"id"`
	Slot1     string    `json:"slot1,omitempty"`
	Slot2     string    `json:"slot2,omitempty"`
	GameID    string    `json:"game_id"`
	Full      bool      `json:"full"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LobbyFromModel converts a model.Lobby to a response Lobby
func LobbyFromModel(l *model.Lobby) Lobby {
	return Lobby{
		ID:        string(l.ID),
		Slot1:     string(l.Slot1),
		Slot2:     string(l.Slot2),
		GameID:    string(l.GameID),
		Full:      l.IsFull(),
		UpdatedAt: l.UpdatedAt,
	}
}

// GameSide is one participant's view within a game
type GameSide struct {
	PlayerID string   `json:"player_id,omitempty"`
	Moves    []string `json:"moves"`
	Score    int      `json:"score"`
	// MoveCount includes a move made ahead of the opponent, which Moves hides
	MoveCount int `json:"move_count"`
}

// Game represents a game in API responses. Moves are only shown for
// completed rounds so a pending throw is never revealed to the opponent.
type Game struct {
	ID              string   `json:"id"`
	Started         bool     `json:"started"`
	FirstPlayer     GameSide `json:"first_player"`
	SecondPlayer    GameSide `json:"second_player"`
	CompletedRounds int      `json:"completed_rounds"`
	Outcome         string   `json:"outcome"`
	WinnerID        string   `json:"winner_id,omitempty"`
}

// GameFromModel converts a model.Game to a response Game
func GameFromModel(g *model.Game) Game {
	rounds := g.CompletedRounds()
	first, second := g.Scores()
	result := g.Evaluate()
	return Game{
		ID:      string(g.ID),
		Started: g.Started(),
		FirstPlayer: GameSide{
			PlayerID:  string(g.FirstPlayerID),
			Moves:     movesUpTo(g.FirstPlayerMoves, rounds),
			Score:     first,
			MoveCount: len(g.FirstPlayerMoves),
		},
		SecondPlayer: GameSide{
			PlayerID:  string(g.SecondPlayerID),
			Moves:     movesUpTo(g.SecondPlayerMoves, rounds),
			Score:     second,
			MoveCount: len(g.SecondPlayerMoves),
		},
		CompletedRounds: rounds,
		Outcome:         string(result.Outcome),
		WinnerID:        string(result.WinnerID),
	}
}

func movesUpTo(moves []model.Move, n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = string(moves[i])
	}
	return out
}

// GameEvent represents one entry of a game's event log
type GameEvent struct {
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	Data       model.GameEvent `json:"data"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// GameEventsFromModel converts a game's event log
func GameEventsFromModel(records []model.EventRecord) []GameEvent {
	out := make([]GameEvent, len(records))
	for i, rec := range records {
		out[i] = GameEvent{
			Seq:        rec.Seq,
			Type:       string(rec.Event.Type()),
			Data:       rec.Event,
			OccurredAt: rec.OccurredAt,
		}
	}
	return out
}

// LeaderboardEntry represents one leaderboard row
type LeaderboardEntry struct {
	Rank       int     `json:"rank,omitempty"`
	PlayerID   string  `json:"player_id"`
	PlayerName string  `json:"player_name"`
	GamesWon   int     `json:"games_won"`
	GamesLost  int     `json:"games_lost"`
	Score      float64 `json:"score"`
}

// LeaderboardEntryFromModel converts a model.LeaderboardEntry
func LeaderboardEntryFromModel(e *model.LeaderboardEntry) LeaderboardEntry {
	return LeaderboardEntry{
		PlayerID:   string(e.PlayerID),
		PlayerName: e.PlayerName,
		GamesWon:   e.GamesWon,
		GamesLost:  e.GamesLost,
		Score:      e.Score,
	}
}

// Leaderboard is the ranked list returned by the top players endpoint
type Leaderboard struct {
	Entries []LeaderboardEntry `json:"entries"`
}

// LeaderboardFromModel ranks entries in the order given, starting at 1
func LeaderboardFromModel(entries []model.LeaderboardEntry) Leaderboard {
	out := make([]LeaderboardEntry, len(entries))
	for i := range entries {
		out[i] = LeaderboardEntryFromModel(&entries[i])
		out[i].Rank = i + 1
	}
	return Leaderboard{Entries: out}
}

// Health is the health check response
type Health struct {
	Status string `json:"status"`
}
