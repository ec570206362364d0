package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mcoot/rpsleague/internal/model"
	"github.com/mcoot/rpsleague/internal/storage"
)

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu sync.RWMutex

	events      map[model.GameID][]model.EventRecord
	lobbies     map[model.LobbyID]*model.Lobby
	players     map[model.PlayerID]*model.Player
	leaderboard map[model.PlayerID]model.LeaderboardEntry

	outbox        []storage.Notification
	nextOutboxSeq uint64
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		events:      make(map[model.GameID][]model.EventRecord),
		lobbies:     make(map[model.LobbyID]*model.Lobby),
		players:     make(map[model.PlayerID]*model.Player),
		leaderboard: make(map[model.PlayerID]model.LeaderboardEntry),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Event operations

func (s *Storage) AppendGameEvents(ctx context.Context, id model.GameID, expectedVersion int, events []model.EventRecord, outbox ...storage.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events[id]) != expectedVersion {
		return storage.ErrVersionConflict
	}
	s.events[id] = append(s.events[id], events...)
	s.enqueue(outbox)
	return nil
}

func (s *Storage) LoadGameEvents(ctx context.Context, id model.GameID) ([]model.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events[id]), nil
}

// Lobby operations

func (s *Storage) GetLobby(ctx context.Context, id model.LobbyID) (*model.Lobby, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lobby, ok := s.lobbies[id]
	if !ok {
		return nil, model.ErrLobbyNotFound
	}
	c := *lobby
	return &c, nil
}

func (s *Storage) SaveLobby(ctx context.Context, lobby *model.Lobby, expectedVersion int, outbox ...storage.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current int
	if existing, ok := s.lobbies[lobby.ID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return storage.ErrVersionConflict
	}
	c := *lobby
	s.lobbies[lobby.ID] = &c
	s.enqueue(outbox)
	return nil
}

// Player operations

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[id]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	c := *player
	c.RecentGameIDs = slices.Clone(player.RecentGameIDs)
	return &c, nil
}

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player, expectedVersion int, outbox ...storage.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current int
	if existing, ok := s.players[player.ID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return storage.ErrVersionConflict
	}
	c := *player
	c.RecentGameIDs = slices.Clone(player.RecentGameIDs)
	s.players[player.ID] = &c
	s.enqueue(outbox)
	return nil
}

// Outbox operations

// enqueue assigns ids and appends notifications. Callers hold s.mu.
func (s *Storage) enqueue(outbox []storage.Notification) {
	for _, n := range outbox {
		s.nextOutboxSeq++
		n.ID = fmt.Sprintf("%020d", s.nextOutboxSeq)
		n.Payload = slices.Clone(n.Payload)
		s.outbox = append(s.outbox, n)
	}
}

func (s *Storage) PendingNotifications(ctx context.Context, limit int) ([]storage.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || len(s.outbox) == 0 {
		return []storage.Notification{}, nil
	}
	return slices.Clone(s.outbox[:min(limit, len(s.outbox))]), nil
}

func (s *Storage) AckNotifications(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = slices.DeleteFunc(s.outbox, func(n storage.Notification) bool {
		return slices.Contains(ids, n.ID)
	})
	return nil
}

// Leaderboard operations

func (s *Storage) UpsertLeaderboardEntry(ctx context.Context, entry model.LeaderboardEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderboard[entry.PlayerID] = entry
	return nil
}

func (s *Storage) GetLeaderboardEntry(ctx context.Context, id model.PlayerID) (*model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.leaderboard[id]
	if !ok {
		return nil, model.ErrLeaderboardEntryNotFound
	}
	return &entry, nil
}

func (s *Storage) TopLeaderboardEntries(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		return []model.LeaderboardEntry{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]model.LeaderboardEntry, 0, len(s.leaderboard))
	for _, e := range s.leaderboard {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b model.LeaderboardEntry) int {
		switch {
		case a.RanksBefore(b):
			return -1
		case b.RanksBefore(a):
			return 1
		}
		return 0
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
