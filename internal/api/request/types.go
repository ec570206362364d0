package request

// CreatePlayerRequest is the request body for registering a player
type CreatePlayerRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UpdatePlayerRequest is the request body for renaming a player
type UpdatePlayerRequest struct {
	Name string `json:"name"`
}

// JoinLobbyRequest is the request body for joining a lobby
type JoinLobbyRequest struct {
	PlayerID string `json:"player_id"`
}

// MakeMoveRequest is the request body for making a move
type MakeMoveRequest struct {
	PlayerID string `json:"player_id"`
	Move     string `json:"move"`
}
