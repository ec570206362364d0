package model

import (
	"slices"
	"time"
)

// PlayerID uniquely identifies a player across the system
type PlayerID string

// RecentGamesCapacity bounds Player.RecentGameIDs
const RecentGamesCapacity = 10

// Player holds a participant's name and win/loss tally
type Player struct {
	ID        PlayerID `json:"id"`
	Name      string   `json:"name"`
	GamesWon  int      `json:"games_won"`
	GamesLost int      `json:"games_lost"`

	// RecentGameIDs is the FIFO history of recorded games, oldest first.
	// Membership is the idempotence key for RecordWin/RecordLoss.
	RecentGameIDs []GameID `json:"recent_game_ids"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GamesPlayed returns the number of recorded games
func (p *Player) GamesPlayed() int {
	return p.GamesWon + p.GamesLost
}

// HasRecordedGame returns true if the game already counted toward the tally
func (p *Player) HasRecordedGame(gameID GameID) bool {
	return slices.Contains(p.RecentGameIDs, gameID)
}

// RecordWin returns a copy of the player with the win counted
func (p *Player) RecordWin(gameID GameID) *Player {
	c := p.withGame(gameID)
	c.GamesWon++
	return c
}

// RecordLoss returns a copy of the player with the loss counted
func (p *Player) RecordLoss(gameID GameID) *Player {
	c := p.withGame(gameID)
	c.GamesLost++
	return c
}

// Renamed returns a copy of the player with a new name
func (p *Player) Renamed(name string) *Player {
	c := *p
	c.RecentGameIDs = slices.Clone(p.RecentGameIDs)
	c.Name = name
	return &c
}

func (p *Player) withGame(gameID GameID) *Player {
	c := *p
	history := append(slices.Clone(p.RecentGameIDs), gameID)
	if over := len(history) - RecentGamesCapacity; over > 0 {
		history = history[over:]
	}
	c.RecentGameIDs = history
	return &c
}
