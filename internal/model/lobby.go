package model

import "time"

// LobbyID identifies a lobby where players queue for a match
type LobbyID string

// Lobby pairs waiting players into the game identified by GameID
type Lobby struct {
	ID        LobbyID   `json:"id"`
	Slot1     PlayerID  `json:"slot1,omitempty"` // empty when unoccupied
	Slot2     PlayerID  `json:"slot2,omitempty"`
	GameID    GameID    `json:"game_id"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLobby returns an empty lobby bound to a freshly minted game id
func NewLobby(id LobbyID, gameID GameID) *Lobby {
	return &Lobby{ID: id, GameID: gameID}
}

// IsEmpty returns true if neither slot is occupied
func (l *Lobby) IsEmpty() bool {
	return l.Slot1 == "" && l.Slot2 == ""
}

// IsFull returns true if both slots are occupied
func (l *Lobby) IsFull() bool {
	return l.Slot1 != "" && l.Slot2 != ""
}

// HasDuplicatePlayers reports the invalid state of one player in both slots
func (l *Lobby) HasDuplicatePlayers() bool {
	return l.IsFull() && l.Slot1 == l.Slot2
}

// Join returns the lobby state after playerID joins. The receiver is not
// modified. A join into a full lobby recycles it: the previous game id is
// dropped and newGameID supplies the next one.
func (l *Lobby) Join(playerID PlayerID, newGameID func() GameID) *Lobby {
	next := *l
	switch {
	case l.Slot1 == "":
		next.Slot1 = playerID
	case l.Slot2 == "":
		if l.Slot1 == playerID {
			return &next
		}
		next.Slot2 = playerID
	default:
		next = Lobby{ID: l.ID, Slot1: playerID, GameID: newGameID(), Version: l.Version}
	}
	return &next
}
