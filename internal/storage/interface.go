package storage

import (
	"context"
	"errors"

	"github.com/mcoot/rpsleague/internal/model"
)

// ErrVersionConflict is returned when a write's expected version does not
// match the stored version. Callers reload and retry.
var ErrVersionConflict = errors.New("storage version conflict")

// Notification is a bus message written in the same atomic step as the
// state change that produced it. IDs are assigned by the store and order
// notifications by write.
type Notification struct {
	ID      string
	Topic   string
	Key     string
	Payload []byte
}

// OutboxStore holds notifications until they have been published
type OutboxStore interface {
	// PendingNotifications returns up to limit unacknowledged notifications in write order
	PendingNotifications(ctx context.Context, limit int) ([]Notification, error)
	// AckNotifications removes published notifications. Unknown ids are ignored.
	AckNotifications(ctx context.Context, ids []string) error
}

// EventStore is the append-only per-game event log
type EventStore interface {
	// AppendGameEvents appends all events and outbox notifications or none.
	// expectedVersion is the number of events already in the log.
	AppendGameEvents(ctx context.Context, id model.GameID, expectedVersion int, events []model.EventRecord, outbox ...Notification) error
	// LoadGameEvents returns the game's events in append order. An unknown
	// game has an empty log.
	LoadGameEvents(ctx context.Context, id model.GameID) ([]model.EventRecord, error)
}

// SnapshotStore holds current-state lobbies and players. Saves are
// compare-and-set on Version: expectedVersion 0 means the key must be absent.
// A save's outbox notifications are written only if the save is.
type SnapshotStore interface {
	GetLobby(ctx context.Context, id model.LobbyID) (*model.Lobby, error)
	SaveLobby(ctx context.Context, lobby *model.Lobby, expectedVersion int, outbox ...Notification) error

	GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error)
	SavePlayer(ctx context.Context, player *model.Player, expectedVersion int, outbox ...Notification) error
}

// LeaderboardStore is the queryable table behind the leaderboard projection
type LeaderboardStore interface {
	UpsertLeaderboardEntry(ctx context.Context, entry model.LeaderboardEntry) error
	GetLeaderboardEntry(ctx context.Context, id model.PlayerID) (*model.LeaderboardEntry, error)
	// TopLeaderboardEntries orders by score descending, then player id ascending
	TopLeaderboardEntries(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
}

// Storage defines the interface for data persistence
type Storage interface {
	EventStore
	SnapshotStore
	LeaderboardStore
	OutboxStore
	Close() error
}
