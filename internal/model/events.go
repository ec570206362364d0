package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the type of a game event on the wire and in storage
type EventType string

const (
	EventGameCreated EventType = "game-created"
	EventGameStarted EventType = "game-started"
	EventMoveMade    EventType = "move-made"
	EventGameOver    EventType = "game-over"
)

// GameEvent is one of GameCreated, GameStarted, MoveMade or GameOver
type GameEvent interface {
	Type() EventType
	isGameEvent()
}

// GameCreated records a game waiting for its second player
type GameCreated struct {
	Player1ID PlayerID `json:"player1_id"`
}

// GameStarted records both players; it may upgrade a created game
type GameStarted struct {
	Player1ID PlayerID `json:"player1_id"`
	Player2ID PlayerID `json:"player2_id"`
}

// MoveMade records one throw by one player
type MoveMade struct {
	PlayerID PlayerID `json:"player_id"`
	Move     Move     `json:"move"`
}

// GameOver annotates the decided result. It carries no state change.
type GameOver struct {
	WinnerID PlayerID `json:"winner_id"`
	LoserID  PlayerID `json:"loser_id"`
}

func (GameCreated) Type() EventType { return EventGameCreated }
func (GameStarted) Type() EventType { return EventGameStarted }
func (MoveMade) Type() EventType    { return EventMoveMade }
func (GameOver) Type() EventType    { return EventGameOver }

func (GameCreated) isGameEvent() {}
func (GameStarted) isGameEvent() {}
func (MoveMade) isGameEvent()    {}
func (GameOver) isGameEvent()    {}

// ApplyGameEvent folds one event into the state. g may be nil for a game
// that does not exist yet. The input state is never modified.
func ApplyGameEvent(id GameID, g *Game, evt GameEvent) (*Game, error) {
	var next *Game

	switch e := evt.(type) {
	case GameCreated:
		if g != nil {
			return nil, fmt.Errorf("%w: %s on existing game", ErrInvalidEventSequence, e.Type())
		}
		next = &Game{ID: id, FirstPlayerID: e.Player1ID}
	case GameStarted:
		if g != nil && g.Started() {
			return nil, fmt.Errorf("%w: %s on started game", ErrInvalidEventSequence, e.Type())
		}
		next = &Game{ID: id, FirstPlayerID: e.Player1ID, SecondPlayerID: e.Player2ID}
	case MoveMade:
		if g == nil || !g.Started() || !g.HasPlayer(e.PlayerID) {
			return nil, fmt.Errorf("%w: %s before start or by unknown player", ErrInvalidEventSequence, e.Type())
		}
		next = g.withMove(e.PlayerID, e.Move)
	case GameOver:
		if g == nil {
			return nil, fmt.Errorf("%w: %s on missing game", ErrInvalidEventSequence, e.Type())
		}
		next = g.clone()
	default:
		return nil, fmt.Errorf("%w: unknown event %T", ErrInvalidEventSequence, evt)
	}

	if g != nil {
		next.Version = g.Version
	}
	next.Version++
	return next, nil
}

// ReplayGame rebuilds a game by folding events left to right from the empty state.
// It returns nil for an empty log.
func ReplayGame(id GameID, events []GameEvent) (*Game, error) {
	var g *Game
	for _, evt := range events {
		var err error
		if g, err = ApplyGameEvent(id, g, evt); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// EventRecord is a persisted game event with its position in the game's log
type EventRecord struct {
	GameID     GameID
	Seq        int // 1-based
	Event      GameEvent
	OccurredAt time.Time
}

// eventEnvelope is the tagged JSON form of a GameEvent
type eventEnvelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalGameEvent encodes an event as {"type": ..., "data": ...}
func MarshalGameEvent(evt GameEvent) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{Type: evt.Type(), Data: data})
}

// UnmarshalGameEvent decodes an event produced by MarshalGameEvent
func UnmarshalGameEvent(b []byte) (GameEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	return decodeEventData(env.Type, env.Data)
}

func decodeEventData(t EventType, data []byte) (GameEvent, error) {
	var (
		evt GameEvent
		err error
	)
	switch t {
	case EventGameCreated:
		var e GameCreated
		err = json.Unmarshal(data, &e)
		evt = e
	case EventGameStarted:
		var e GameStarted
		err = json.Unmarshal(data, &e)
		evt = e
	case EventMoveMade:
		var e MoveMade
		err = json.Unmarshal(data, &e)
		evt = e
	case EventGameOver:
		var e GameOver
		err = json.Unmarshal(data, &e)
		evt = e
	default:
		return nil, fmt.Errorf("unknown game event type %q", t)
	}
	if err != nil {
		return nil, err
	}
	return evt, nil
}

// recordJSON is the wire form of an EventRecord
type recordJSON struct {
	GameID     GameID          `json:"game_id"`
	Seq        int             `json:"seq"`
	Type       EventType       `json:"type"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// MarshalJSON implements json.Marshaler
func (r EventRecord) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(r.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(recordJSON{
		GameID:     r.GameID,
		Seq:        r.Seq,
		Type:       r.Event.Type(),
		Data:       data,
		OccurredAt: r.OccurredAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (r *EventRecord) UnmarshalJSON(b []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	evt, err := decodeEventData(raw.Type, raw.Data)
	if err != nil {
		return err
	}
	*r = EventRecord{GameID: raw.GameID, Seq: raw.Seq, Event: evt, OccurredAt: raw.OccurredAt}
	return nil
}
