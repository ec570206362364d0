// Package sqlite provides a SQLite-backed implementation of the storage interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/mcoot/rpsleague/internal/model"
	"github.com/mcoot/rpsleague/internal/storage"
	"github.com/mcoot/rpsleague/internal/storage/sqlite/migrations"
)

// Store persists league state in SQLite
type Store struct {
	db *sql.DB
}

// Ensure Store implements the interface
var _ storage.Storage = (*Store)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies embedded migrations
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?" + strings.Join([]string{
		"_pragma=journal_mode(WAL)",
		"_pragma=busy_timeout(5000)",
		"_pragma=foreign_keys(1)",
		"_pragma=synchronous(NORMAL)",
	}, "&")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// single writer; transactions queue on the pool instead of failing with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Event operations

func (s *Store) AppendGameEvents(ctx context.Context, id model.GameID, expectedVersion int, events []model.EventRecord, outbox ...storage.Notification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM game_events WHERE game_id = ?`, string(id),
	).Scan(&current); err != nil {
		return fmt.Errorf("count game events: %w", err)
	}
	if current != expectedVersion {
		return storage.ErrVersionConflict
	}

	for _, rec := range events {
		payload, err := model.MarshalGameEvent(rec.Event)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO game_events (game_id, seq, event_type, payload, occurred_at) VALUES (?, ?, ?, ?, ?)`,
			string(id), rec.Seq, string(rec.Event.Type()), string(payload), toMillis(rec.OccurredAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrVersionConflict
			}
			return fmt.Errorf("insert game event: %w", err)
		}
	}
	if err := enqueue(ctx, tx, outbox); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) LoadGameEvents(ctx context.Context, id model.GameID) ([]model.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, payload, occurred_at FROM game_events WHERE game_id = ? ORDER BY seq ASC`, string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("query game events: %w", err)
	}
	defer rows.Close()

	records := []model.EventRecord{}
	for rows.Next() {
		var (
			seq        int
			payload    string
			occurredAt int64
		)
		if err := rows.Scan(&seq, &payload, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan game event: %w", err)
		}
		evt, err := model.UnmarshalGameEvent([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode event for game %s: %w", id, err)
		}
		records = append(records, model.EventRecord{
			GameID:     id,
			Seq:        seq,
			Event:      evt,
			OccurredAt: fromMillis(occurredAt),
		})
	}
	return records, rows.Err()
}

// Lobby operations

func (s *Store) GetLobby(ctx context.Context, id model.LobbyID) (*model.Lobby, error) {
	var (
		lobby     model.Lobby
		slot1     string
		slot2     string
		gameID    string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT slot1, slot2, game_id, version, updated_at FROM lobbies WHERE id = ?`, string(id),
	).Scan(&slot1, &slot2, &gameID, &lobby.Version, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrLobbyNotFound
		}
		return nil, fmt.Errorf("get lobby: %w", err)
	}
	lobby.ID = id
	lobby.Slot1 = model.PlayerID(slot1)
	lobby.Slot2 = model.PlayerID(slot2)
	lobby.GameID = model.GameID(gameID)
	lobby.UpdatedAt = fromMillis(updatedAt)
	return &lobby, nil
}

func (s *Store) SaveLobby(ctx context.Context, lobby *model.Lobby, expectedVersion int, outbox ...storage.Notification) error {
	return s.inTx(ctx, "save lobby", func(tx *sql.Tx) error {
		if expectedVersion == 0 {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO lobbies (id, slot1, slot2, game_id, version, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
				string(lobby.ID), string(lobby.Slot1), string(lobby.Slot2), string(lobby.GameID), lobby.Version, toMillis(lobby.UpdatedAt),
			)
			if err := mapInsertErr(err, "insert lobby"); err != nil {
				return err
			}
		} else {
			res, err := tx.ExecContext(ctx,
				`UPDATE lobbies SET slot1 = ?, slot2 = ?, game_id = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?`,
				string(lobby.Slot1), string(lobby.Slot2), string(lobby.GameID), lobby.Version, toMillis(lobby.UpdatedAt),
				string(lobby.ID), expectedVersion,
			)
			if err := checkUpdated(res, err, "update lobby"); err != nil {
				return err
			}
		}
		return enqueue(ctx, tx, outbox)
	})
}

// Player operations

func (s *Store) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	var (
		player    model.Player
		recent    string
		createdAt int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, games_won, games_lost, recent_game_ids, version, created_at, updated_at FROM players WHERE id = ?`,
		string(id),
	).Scan(&player.Name, &player.GamesWon, &player.GamesLost, &recent, &player.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("get player: %w", err)
	}
	if err := json.Unmarshal([]byte(recent), &player.RecentGameIDs); err != nil {
		return nil, fmt.Errorf("decode recent games for player %s: %w", id, err)
	}
	player.ID = id
	player.CreatedAt = fromMillis(createdAt)
	player.UpdatedAt = fromMillis(updatedAt)
	return &player, nil
}

func (s *Store) SavePlayer(ctx context.Context, player *model.Player, expectedVersion int, outbox ...storage.Notification) error {
	recent := player.RecentGameIDs
	if recent == nil {
		recent = []model.GameID{}
	}
	recentJSON, err := json.Marshal(recent)
	if err != nil {
		return err
	}

	return s.inTx(ctx, "save player", func(tx *sql.Tx) error {
		if expectedVersion == 0 {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO players (id, name, games_won, games_lost, recent_game_ids, version, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				string(player.ID), player.Name, player.GamesWon, player.GamesLost, string(recentJSON),
				player.Version, toMillis(player.CreatedAt), toMillis(player.UpdatedAt),
			)
			if err := mapInsertErr(err, "insert player"); err != nil {
				return err
			}
		} else {
			res, err := tx.ExecContext(ctx,
				`UPDATE players SET name = ?, games_won = ?, games_lost = ?, recent_game_ids = ?, version = ?, updated_at = ?
				 WHERE id = ? AND version = ?`,
				player.Name, player.GamesWon, player.GamesLost, string(recentJSON), player.Version, toMillis(player.UpdatedAt),
				string(player.ID), expectedVersion,
			)
			if err := checkUpdated(res, err, "update player"); err != nil {
				return err
			}
		}
		return enqueue(ctx, tx, outbox)
	})
}

// Outbox operations

func enqueue(ctx context.Context, tx *sql.Tx, outbox []storage.Notification) error {
	now := toMillis(time.Now())
	for _, n := range outbox {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO outbox (topic, msg_key, payload, created_at) VALUES (?, ?, ?, ?)`,
			n.Topic, n.Key, n.Payload, now,
		)
		if err != nil {
			return fmt.Errorf("enqueue notification: %w", err)
		}
	}
	return nil
}

func (s *Store) PendingNotifications(ctx context.Context, limit int) ([]storage.Notification, error) {
	if limit <= 0 {
		return []storage.Notification{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, msg_key, payload FROM outbox ORDER BY id ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	pending := []storage.Notification{}
	for rows.Next() {
		var (
			id int64
			n  storage.Notification
		)
		if err := rows.Scan(&id, &n.Topic, &n.Key, &n.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		n.ID = strconv.FormatInt(id, 10)
		pending = append(pending, n)
	}
	return pending, rows.Err()
}

func (s *Store) AckNotifications(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		args = append(args, n)
	}
	if len(args) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("ack outbox: %w", err)
	}
	return nil
}

// Leaderboard operations

func (s *Store) UpsertLeaderboardEntry(ctx context.Context, entry model.LeaderboardEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leaderboard_entries (player_id, player_name, games_won, games_lost, score)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(player_id) DO UPDATE SET
		   player_name = excluded.player_name,
		   games_won = excluded.games_won,
		   games_lost = excluded.games_lost,
		   score = excluded.score`,
		string(entry.PlayerID), entry.PlayerName, entry.GamesWon, entry.GamesLost, entry.Score,
	)
	if err != nil {
		return fmt.Errorf("upsert leaderboard entry: %w", err)
	}
	return nil
}

func (s *Store) GetLeaderboardEntry(ctx context.Context, id model.PlayerID) (*model.LeaderboardEntry, error) {
	entry := model.LeaderboardEntry{PlayerID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT player_name, games_won, games_lost, score FROM leaderboard_entries WHERE player_id = ?`, string(id),
	).Scan(&entry.PlayerName, &entry.GamesWon, &entry.GamesLost, &entry.Score)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrLeaderboardEntryNotFound
		}
		return nil, fmt.Errorf("get leaderboard entry: %w", err)
	}
	return &entry, nil
}

func (s *Store) TopLeaderboardEntries(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT player_id, player_name, games_won, games_lost, score FROM leaderboard_entries
		 ORDER BY score DESC, player_id ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := []model.LeaderboardEntry{}
	for rows.Next() {
		var (
			e        model.LeaderboardEntry
			playerID string
		)
		if err := rows.Scan(&playerID, &e.PlayerName, &e.GamesWon, &e.GamesLost, &e.Score); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		e.PlayerID = model.PlayerID(playerID)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// inTx runs fn in a transaction and commits if it returns nil
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}

func mapInsertErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return storage.ErrVersionConflict
	}
	return fmt.Errorf("%s: %w", op, err)
}

func checkUpdated(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return storage.ErrVersionConflict
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
