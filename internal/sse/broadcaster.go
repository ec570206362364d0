package sse

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/mcoot/rpsleague/internal/bus"
	"github.com/mcoot/rpsleague/internal/model"
)

// Consumer is the bus consumer group name of the game stream broadcaster.
// Every server instance needs its own group so each sees every event.
const Consumer = "game-stream"

// Broadcaster forwards game events from the bus to the hubs of watched games
type Broadcaster struct {
	hubs   *HubManager
	logger *slog.Logger
}

// NewBroadcaster creates a new Broadcaster
func NewBroadcaster(hubs *HubManager, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		hubs:   hubs,
		logger: logger.With(slog.String("component", "sse-broadcaster")),
	}
}

// Handle is the bus handler for TopicGameEvents. It never fails: a
// spectator stream is best effort and must not hold up the topic.
func (b *Broadcaster) Handle(ctx context.Context, msg bus.Message) error {
	rec, err := bus.DecodeGameEvent(msg)
	if err != nil {
		b.logger.Warn("dropping undecodable game event", slog.String("key", msg.Key), slog.String("error", err.Error()))
		return nil
	}

	hub := b.hubs.GetHub(rec.GameID)
	if hub == nil {
		return nil
	}

	frame, err := FormatEvent(rec)
	if err != nil {
		b.logger.Error("sse failed to encode game event",
			slog.String("game_id", string(rec.GameID)),
			slog.Int("seq", rec.Seq),
			slog.String("error", err.Error()))
		return nil
	}
	hub.Broadcast(frame)

	if rec.Event.Type() == model.EventGameOver {
		b.hubs.RemoveHub(rec.GameID)
	}
	return nil
}

// FormatEvent renders a game event record as an SSE frame. The id is the
// event's sequence number and the event name is its type.
func FormatEvent(rec model.EventRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return formatSSEMessage(strconv.Itoa(rec.Seq), string(rec.Event.Type()), string(data)), nil
}
