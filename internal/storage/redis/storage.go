package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/rpsleague/internal/model"
	"github.com/mcoot/rpsleague/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Client exposes the underlying client so the redis bus can share the connection pool
func (s *Storage) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Event operations

func (s *Storage) AppendGameEvents(ctx context.Context, id model.GameID, expectedVersion int, events []model.EventRecord, outbox ...storage.Notification) error {
	values := make([]any, 0, len(events))
	for _, rec := range events {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		values = append(values, data)
	}

	key := gameEventsKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		if int(n) != expectedVersion {
			return storage.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, values...)
			enqueue(ctx, pipe, outbox)
			return nil
		})
		return err
	}, key)
	return mapTxErr(err)
}

func (s *Storage) LoadGameEvents(ctx context.Context, id model.GameID) ([]model.EventRecord, error) {
	raw, err := s.client.LRange(ctx, gameEventsKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]model.EventRecord, 0, len(raw))
	for _, r := range raw {
		var rec model.EventRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			return nil, fmt.Errorf("decode event for game %s: %w", id, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Lobby operations

func (s *Storage) GetLobby(ctx context.Context, id model.LobbyID) (*model.Lobby, error) {
	var lobby model.Lobby
	if err := s.getJSON(ctx, lobbyKey(id), &lobby); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrLobbyNotFound
		}
		return nil, err
	}
	return &lobby, nil
}

func (s *Storage) SaveLobby(ctx context.Context, lobby *model.Lobby, expectedVersion int, outbox ...storage.Notification) error {
	return s.compareAndSet(ctx, lobbyKey(lobby.ID), lobby, expectedVersion, outbox)
}

// Player operations

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	var player model.Player
	if err := s.getJSON(ctx, playerKey(id), &player); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}
	return &player, nil
}

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player, expectedVersion int, outbox ...storage.Notification) error {
	return s.compareAndSet(ctx, playerKey(player.ID), player, expectedVersion, outbox)
}

// Outbox operations

// enqueue adds notifications to the outbox stream inside a transaction.
// The stream entry id becomes the notification id.
func enqueue(ctx context.Context, pipe redis.Pipeliner, outbox []storage.Notification) {
	for _, n := range outbox {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: outboxKey(),
			Values: map[string]any{
				outboxFieldTopic:   n.Topic,
				outboxFieldKey:     n.Key,
				outboxFieldPayload: string(n.Payload),
			},
		})
	}
}

func (s *Storage) PendingNotifications(ctx context.Context, limit int) ([]storage.Notification, error) {
	if limit <= 0 {
		return []storage.Notification{}, nil
	}
	entries, err := s.client.XRangeN(ctx, outboxKey(), "-", "+", int64(limit)).Result()
	if err != nil {
		return nil, err
	}

	pending := make([]storage.Notification, 0, len(entries))
	for _, e := range entries {
		n := storage.Notification{ID: e.ID}
		n.Topic, _ = e.Values[outboxFieldTopic].(string)
		n.Key, _ = e.Values[outboxFieldKey].(string)
		if payload, ok := e.Values[outboxFieldPayload].(string); ok {
			n.Payload = []byte(payload)
		}
		pending = append(pending, n)
	}
	return pending, nil
}

func (s *Storage) AckNotifications(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.client.XDel(ctx, outboxKey(), ids...).Err()
}

// Leaderboard operations

func (s *Storage) UpsertLeaderboardEntry(ctx context.Context, entry model.LeaderboardEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// Use pipeline for atomic row + rank update
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, leaderboardEntriesKey(), string(entry.PlayerID), data)
	pipe.ZAdd(ctx, leaderboardRankKey(), redis.Z{Score: -entry.Score, Member: string(entry.PlayerID)})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Storage) GetLeaderboardEntry(ctx context.Context, id model.PlayerID) (*model.LeaderboardEntry, error) {
	data, err := s.client.HGet(ctx, leaderboardEntriesKey(), string(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrLeaderboardEntryNotFound
		}
		return nil, err
	}

	var entry model.LeaderboardEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Storage) TopLeaderboardEntries(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		return []model.LeaderboardEntry{}, nil
	}

	ids, err := s.client.ZRange(ctx, leaderboardRankKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.LeaderboardEntry{}, nil
	}

	values, err := s.client.HMGet(ctx, leaderboardEntriesKey(), ids...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, 0, len(values))
	for _, val := range values {
		str, ok := val.(string)
		if !ok {
			continue
		}
		var entry model.LeaderboardEntry
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// getJSON loads and decodes a string key, returning redis.Nil when absent
func (s *Storage) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// versioned is the part of a snapshot read back for the CAS check
type versioned struct {
	Version int `json:"version"`
}

// compareAndSet writes v to key, along with its outbox notifications, if the
// stored version equals expectedVersion. An absent key has version 0.
func (s *Storage) compareAndSet(ctx context.Context, key string, v any, expectedVersion int, outbox []storage.Notification) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		var current versioned
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &current); err != nil {
				return err
			}
		}
		if current.Version != expectedVersion {
			return storage.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			enqueue(ctx, pipe, outbox)
			return nil
		})
		return err
	}, key)
	return mapTxErr(err)
}

// mapTxErr reports a transaction aborted by a concurrent write as a version conflict
func mapTxErr(err error) error {
	if errors.Is(err, redis.TxFailedErr) {
		return storage.ErrVersionConflict
	}
	return err
}
