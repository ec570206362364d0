package bus

import (
	"encoding/json"
	"fmt"

	"github.com/mcoot/rpsleague/internal/model"
)

// LobbyMessage builds the lobby.state notification for a persisted lobby
func LobbyMessage(lobby *model.Lobby) (Message, error) {
	data, err := json.Marshal(lobby)
	if err != nil {
		return Message{}, fmt.Errorf("encode lobby %s: %w", lobby.ID, err)
	}
	return Message{Topic: TopicLobbyState, Key: string(lobby.ID), Payload: data}, nil
}

// DecodeLobby reads the lobby carried by a lobby.state message
func DecodeLobby(msg Message) (*model.Lobby, error) {
	var lobby model.Lobby
	if err := json.Unmarshal(msg.Payload, &lobby); err != nil {
		return nil, fmt.Errorf("decode lobby %s: %w", msg.Key, err)
	}
	return &lobby, nil
}

// PlayerMessage builds the player.state notification for a persisted player
func PlayerMessage(player *model.Player) (Message, error) {
	data, err := json.Marshal(player)
	if err != nil {
		return Message{}, fmt.Errorf("encode player %s: %w", player.ID, err)
	}
	return Message{Topic: TopicPlayerState, Key: string(player.ID), Payload: data}, nil
}

// DecodePlayer reads the player carried by a player.state message
func DecodePlayer(msg Message) (*model.Player, error) {
	var player model.Player
	if err := json.Unmarshal(msg.Payload, &player); err != nil {
		return nil, fmt.Errorf("decode player %s: %w", msg.Key, err)
	}
	return &player, nil
}

// GameEventMessage builds the game.events notification for a persisted event
func GameEventMessage(rec model.EventRecord) (Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return Message{}, fmt.Errorf("encode event %d of game %s: %w", rec.Seq, rec.GameID, err)
	}
	return Message{Topic: TopicGameEvents, Key: string(rec.GameID), Payload: data}, nil
}

// DecodeGameEvent reads the event record carried by a game.events message
func DecodeGameEvent(msg Message) (model.EventRecord, error) {
	var rec model.EventRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		return model.EventRecord{}, fmt.Errorf("decode game event %s: %w", msg.Key, err)
	}
	return rec, nil
}
