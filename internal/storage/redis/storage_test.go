package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/rpsleague/internal/model"
	"github.com/mcoot/rpsleague/internal/storage"
)

type StorageSuite struct {
	suite.Suite
	mini    *miniredis.Miniredis
	storage *Storage
	ctx     context.Context
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())

	client := redis.NewClient(&redis.Options{
		Addr: s.mini.Addr(),
	})

	s.storage = NewWithClient(client, DefaultConfig())
	s.ctx = context.Background()
}

func (s *StorageSuite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
	if s.mini != nil {
		s.mini.Close()
	}
}

// Event tests

func (s *StorageSuite) TestAppendAndLoadGameEvents() {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []model.EventRecord{
		{GameID: "game-1", Seq: 1, Event: model.GameStarted{Player1ID: "p1", Player2ID: "p2"}, OccurredAt: at},
		{GameID: "game-1", Seq: 2, Event: model.MoveMade{PlayerID: "p1", Move: model.MoveRock}, OccurredAt: at},
	}

	err := s.storage.AppendGameEvents(s.ctx, "game-1", 0, records)
	s.Require().NoError(err)

	more := []model.EventRecord{
		{GameID: "game-1", Seq: 3, Event: model.MoveMade{PlayerID: "p2", Move: model.MoveScissors}, OccurredAt: at},
	}
	s.Require().NoError(s.storage.AppendGameEvents(s.ctx, "game-1", 2, more))

	loaded, err := s.storage.LoadGameEvents(s.ctx, "game-1")
	s.Require().NoError(err)
	s.Equal(append(records, more...), loaded)
}

func (s *StorageSuite) TestLoadGameEventsUnknownGame() {
	loaded, err := s.storage.LoadGameEvents(s.ctx, "nonexistent")
	s.Require().NoError(err)
	s.Empty(loaded)
}

func (s *StorageSuite) TestAppendGameEventsVersionConflict() {
	rec := model.EventRecord{GameID: "game-1", Seq: 1, Event: model.GameCreated{Player1ID: "p1"}}
	s.Require().NoError(s.storage.AppendGameEvents(s.ctx, "game-1", 0, []model.EventRecord{rec}))

	err := s.storage.AppendGameEvents(s.ctx, "game-1", 0, []model.EventRecord{rec})
	s.ErrorIs(err, storage.ErrVersionConflict)

	n, err := s.mini.List(gameEventsKey("game-1"))
	s.Require().NoError(err)
	s.Len(n, 1)
}

// Lobby tests

func (s *StorageSuite) TestSaveAndGetLobby() {
	lobby := &model.Lobby{
		ID:        "lobby-1",
		Slot1:     "p1",
		GameID:    "game-1",
		Version:   1,
		UpdatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	err := s.storage.SaveLobby(s.ctx, lobby, 0)
	s.Require().NoError(err)

	retrieved, err := s.storage.GetLobby(s.ctx, "lobby-1")
	s.Require().NoError(err)
	s.Equal(lobby, retrieved)
}

func (s *StorageSuite) TestGetLobbyNotFound() {
	_, err := s.storage.GetLobby(s.ctx, "nonexistent")
	s.ErrorIs(err, model.ErrLobbyNotFound)
}

func (s *StorageSuite) TestSaveLobbyVersionConflict() {
	s.Require().NoError(s.storage.SaveLobby(s.ctx, &model.Lobby{ID: "lobby-1", GameID: "g", Version: 1}, 0))

	err := s.storage.SaveLobby(s.ctx, &model.Lobby{ID: "lobby-1", GameID: "g", Version: 1}, 0)
	s.ErrorIs(err, storage.ErrVersionConflict)

	err = s.storage.SaveLobby(s.ctx, &model.Lobby{ID: "lobby-1", Slot1: "p1", GameID: "g", Version: 2}, 1)
	s.Require().NoError(err)
}

// Player tests

func (s *StorageSuite) TestSaveAndGetPlayer() {
	player := &model.Player{
		ID:            "p1",
		Name:          "Alice",
		GamesWon:      3,
		RecentGameIDs: []model.GameID{"g1", "g2", "g3"},
		Version:       4,
	}

	err := s.storage.SavePlayer(s.ctx, player, 0)
	s.Require().NoError(err)

	retrieved, err := s.storage.GetPlayer(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(player.Name, retrieved.Name)
	s.Equal(player.RecentGameIDs, retrieved.RecentGameIDs)
	s.Equal(4, retrieved.Version)
}

func (s *StorageSuite) TestGetPlayerNotFound() {
	_, err := s.storage.GetPlayer(s.ctx, "nonexistent")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *StorageSuite) TestSavePlayerVersionConflict() {
	s.Require().NoError(s.storage.SavePlayer(s.ctx, &model.Player{ID: "p1", Version: 1}, 0))

	err := s.storage.SavePlayer(s.ctx, &model.Player{ID: "p1", Version: 3}, 2)
	s.ErrorIs(err, storage.ErrVersionConflict)
}

// Leaderboard tests

func (s *StorageSuite) TestUpsertAndGetLeaderboardEntry() {
	entry := model.LeaderboardEntry{PlayerID: "p1", PlayerName: "Alice", GamesWon: 1, GamesLost: 1, Score: 10}
	s.Require().NoError(s.storage.UpsertLeaderboardEntry(s.ctx, entry))

	retrieved, err := s.storage.GetLeaderboardEntry(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(entry, *retrieved)
}

func (s *StorageSuite) TestGetLeaderboardEntryNotFound() {
	_, err := s.storage.GetLeaderboardEntry(s.ctx, "nonexistent")
	s.ErrorIs(err, model.ErrLeaderboardEntryNotFound)
}

func (s *StorageSuite) TestTopLeaderboardEntriesOrdering() {
	for _, e := range []model.LeaderboardEntry{
		{PlayerID: "c", Score: 50},
		{PlayerID: "a", Score: 10},
		{PlayerID: "b", Score: 50},
		{PlayerID: "d", Score: 0},
	} {
		s.Require().NoError(s.storage.UpsertLeaderboardEntry(s.ctx, e))
	}

	top, err := s.storage.TopLeaderboardEntries(s.ctx, 3)
	s.Require().NoError(err)
	s.Require().Len(top, 3)
	s.Equal(model.PlayerID("b"), top[0].PlayerID)
	s.Equal(model.PlayerID("c"), top[1].PlayerID)
	s.Equal(model.PlayerID("a"), top[2].PlayerID)
}

func (s *StorageSuite) TestUpsertLeaderboardEntryReplacesRank() {
	for i := range 3 {
		id := model.PlayerID(fmt.Sprintf("p%d", i))
		s.Require().NoError(s.storage.UpsertLeaderboardEntry(s.ctx, model.LeaderboardEntry{PlayerID: id, Score: float64(i)}))
	}
	s.Require().NoError(s.storage.UpsertLeaderboardEntry(s.ctx, model.LeaderboardEntry{PlayerID: "p0", Score: 100}))

	top, err := s.storage.TopLeaderboardEntries(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(top, 3)
	s.Equal(model.PlayerID("p0"), top[0].PlayerID)
}

// Outbox tests

func (s *StorageSuite) note(key string) storage.Notification {
	return storage.Notification{Topic: "player.state", Key: key, Payload: []byte(`{"id":"` + key + `"}`)}
}

func (s *StorageSuite) TestOutboxWrittenWithSave() {
	s.Require().NoError(s.storage.SavePlayer(s.ctx, &model.Player{ID: "p1", Name: "Alice", Version: 1}, 0, s.note("p1")))
	s.Require().NoError(s.storage.SaveLobby(s.ctx, &model.Lobby{ID: "L", GameID: "g1", Version: 1}, 0,
		storage.Notification{Topic: "lobby.state", Key: "L", Payload: []byte(`{}`)}))

	pending, err := s.storage.PendingNotifications(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.NotEmpty(pending[0].ID)
	s.Equal("player.state", pending[0].Topic)
	s.Equal("p1", pending[0].Key)
	s.JSONEq(`{"id":"p1"}`, string(pending[0].Payload))
	s.Equal("lobby.state", pending[1].Topic)
	s.Equal("L", pending[1].Key)
}

func (s *StorageSuite) TestOutboxSkippedOnVersionConflict() {
	s.Require().NoError(s.storage.SavePlayer(s.ctx, &model.Player{ID: "p1", Name: "Alice", Version: 1}, 0))

	err := s.storage.SavePlayer(s.ctx, &model.Player{ID: "p1", Name: "Bob", Version: 2}, 5, s.note("p1"))
	s.ErrorIs(err, storage.ErrVersionConflict)
	err = s.storage.AppendGameEvents(s.ctx, "g1", 3, []model.EventRecord{
		{GameID: "g1", Seq: 4, Event: model.MoveMade{PlayerID: "p1", Move: model.MoveRock}, OccurredAt: time.Now()},
	}, s.note("g1"))
	s.ErrorIs(err, storage.ErrVersionConflict)

	pending, err := s.storage.PendingNotifications(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *StorageSuite) TestOutboxOrderLimitAndAck() {
	records := []model.EventRecord{
		{GameID: "g1", Seq: 1, Event: model.GameStarted{Player1ID: "p1", Player2ID: "p2"}, OccurredAt: time.Now()},
	}
	s.Require().NoError(s.storage.AppendGameEvents(s.ctx, "g1", 0, records, s.note("a"), s.note("b"), s.note("c")))

	first, err := s.storage.PendingNotifications(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(first, 2)
	s.Equal("a", first[0].Key)
	s.Equal("b", first[1].Key)

	s.Require().NoError(s.storage.AckNotifications(s.ctx, []string{first[0].ID, first[1].ID}))

	rest, err := s.storage.PendingNotifications(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(rest, 1)
	s.Equal("c", rest[0].Key)

	s.Require().NoError(s.storage.AckNotifications(s.ctx, []string{rest[0].ID, rest[0].ID}))
	rest, err = s.storage.PendingNotifications(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(rest)
}
