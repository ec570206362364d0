// Package bus carries aggregate state changes and game events between the
// services and the sagas that react to them. Delivery is at-least-once and
// in order per message key. There is no ordering across keys.
package bus

import (
	"context"
	"errors"
)

// Topic names a stream of notifications
type Topic string

const (
	// TopicLobbyState carries the full lobby after every persisted change, keyed by lobby id
	TopicLobbyState Topic = "lobby.state"
	// TopicPlayerState carries the full player after every persisted change, keyed by player id
	TopicPlayerState Topic = "player.state"
	// TopicGameEvents carries each persisted game event record, keyed by game id
	TopicGameEvents Topic = "game.events"
)

// ErrClosed is returned when publishing to or subscribing on a closed bus
var ErrClosed = errors.New("bus closed")

// ErrStarted is returned when subscribing after Start
var ErrStarted = errors.New("bus already started")

// Message is one notification on a topic
type Message struct {
	Topic   Topic  `json:"topic"`
	Key     string `json:"key"`
	Payload []byte `json:"payload"`
}

// Handler processes one message. A non-nil error means the message was not
// acknowledged and will be redelivered.
type Handler func(ctx context.Context, msg Message) error

// Publisher is the write side of the bus, used by the aggregate services
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Bus delivers published messages to every subscribed consumer group.
// Subscriptions must be registered before Start.
type Bus interface {
	Publisher
	Subscribe(topic Topic, consumer string, handler Handler) error
	Start(ctx context.Context) error
	Close() error
}
