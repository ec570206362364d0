package redis

import (
	"fmt"

	"github.com/mcoot/rpsleague/internal/model"
)

// Key prefix for all league data
const keyPrefix = "rps"

// Outbox stream entry fields
const (
	outboxFieldTopic   = "topic"
	outboxFieldKey     = "key"
	outboxFieldPayload = "payload"
)

// gameEventsKey returns the Redis key for a game's event LIST
func gameEventsKey(id model.GameID) string {
	return fmt.Sprintf("%s:game:%s:events", keyPrefix, id)
}

// lobbyKey returns the Redis key for a Lobby snapshot
func lobbyKey(id model.LobbyID) string {
	return fmt.Sprintf("%s:lobby:%s", keyPrefix, id)
}

// playerKey returns the Redis key for a Player snapshot
func playerKey(id model.PlayerID) string {
	return fmt.Sprintf("%s:player:%s", keyPrefix, id)
}

// leaderboardEntriesKey returns the Redis key for the HASH of player id -> entry
func leaderboardEntriesKey() string {
	return fmt.Sprintf("%s:leaderboard:entries", keyPrefix)
}

// leaderboardRankKey returns the Redis key for the ZSET ranking players.
// Members are scored with the negated leaderboard score so that an
// ascending range yields score descending with ties in player id order.
func leaderboardRankKey() string {
	return fmt.Sprintf("%s:leaderboard:rank", keyPrefix)
}

// outboxKey returns the Redis key for the STREAM of unpublished notifications
func outboxKey() string {
	return fmt.Sprintf("%s:outbox", keyPrefix)
}
