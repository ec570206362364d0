package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcoot/rpsleague/internal/bus"
	"github.com/mcoot/rpsleague/internal/dependencies/clock"
	"github.com/mcoot/rpsleague/internal/metrics"
	"github.com/mcoot/rpsleague/internal/model"
	"github.com/mcoot/rpsleague/internal/outbox"
	"github.com/mcoot/rpsleague/internal/services/retry"
	"github.com/mcoot/rpsleague/internal/storage"
)

const aggregate = "player"

// Service handles player registration and the win/loss tally. Every
// persisted change is written to the outbox for the player.state topic in
// the same save.
type Service struct {
	store   storage.SnapshotStore
	relay   outbox.Flusher
	clock   clock.Clock
	metrics *metrics.Metrics
	tracer  trace.Tracer
	retry   retry.Config
	logger  *slog.Logger
}

// New creates a new player Service
func New(
	store storage.SnapshotStore,
	relay outbox.Flusher,
	clock clock.Clock,
	metrics *metrics.Metrics,
	tracer trace.Tracer,
	retryCfg retry.Config,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:   store,
		relay:   relay,
		clock:   clock,
		metrics: metrics,
		tracer:  tracer,
		retry:   retryCfg,
		logger:  logger,
	}
}

// CreatePlayer registers a player with a zeroed tally. Creating an existing
// player succeeds and returns the stored player unchanged.
func (s *Service) CreatePlayer(ctx context.Context, id model.PlayerID, name string) (*model.Player, error) {
	if name == "" {
		return nil, model.ErrInvalidName
	}
	return s.execute(ctx, "create_player", id, func(current *model.Player) (*model.Player, error) {
		if current != nil {
			return nil, nil
		}
		now := s.clock.Now()
		return &model.Player{ID: id, Name: name, RecentGameIDs: []model.GameID{}, CreatedAt: now}, nil
	})
}

// UpdatePlayerName renames an existing player
func (s *Service) UpdatePlayerName(ctx context.Context, id model.PlayerID, name string) (*model.Player, error) {
	if name == "" {
		return nil, model.ErrInvalidName
	}
	return s.execute(ctx, "update_player_name", id, func(current *model.Player) (*model.Player, error) {
		if current == nil {
			return nil, model.ErrPlayerNotFound
		}
		if current.Name == name {
			return nil, nil
		}
		return current.Renamed(name), nil
	})
}

// GameWon counts a win for the game. A game already in the player's
// history is not counted again.
func (s *Service) GameWon(ctx context.Context, id model.PlayerID, gameID model.GameID) (*model.Player, error) {
	return s.recordGame(ctx, "game_won", id, gameID, (*model.Player).RecordWin)
}

// GameLost counts a loss for the game. A game already in the player's
// history is not counted again.
func (s *Service) GameLost(ctx context.Context, id model.PlayerID, gameID model.GameID) (*model.Player, error) {
	return s.recordGame(ctx, "game_lost", id, gameID, (*model.Player).RecordLoss)
}

// GetPlayer returns the player's current state
func (s *Service) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	if id == "" {
		return nil, model.ErrInvalidID
	}
	return s.store.GetPlayer(ctx, id)
}

func (s *Service) recordGame(
	ctx context.Context,
	command string,
	id model.PlayerID,
	gameID model.GameID,
	record func(*model.Player, model.GameID) *model.Player,
) (*model.Player, error) {
	if gameID == "" {
		return nil, model.ErrInvalidID
	}
	return s.execute(ctx, command, id, func(current *model.Player) (*model.Player, error) {
		if current == nil {
			return nil, model.ErrPlayerNotFound
		}
		if current.HasRecordedGame(gameID) {
			return nil, nil
		}
		return record(current, gameID), nil
	})
}

// updateFunc returns the next player state, or nil to leave it unchanged.
// current is nil for a player that does not exist.
type updateFunc func(current *model.Player) (*model.Player, error)

func (s *Service) execute(ctx context.Context, command string, id model.PlayerID, update updateFunc) (*model.Player, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "player."+command,
		trace.WithAttributes(attribute.String("player_id", string(id))))
	defer span.End()

	var (
		player  *model.Player
		changed bool
	)
	err := retry.OnConflict(ctx, s.retry, func() { s.metrics.IncVersionConflict(aggregate) }, func() error {
		current, err := s.load(ctx, id)
		if err != nil {
			return err
		}

		next, err := update(current)
		if err != nil {
			return err
		}
		if next == nil {
			player, changed = current, false
			return nil
		}

		var version int
		if current != nil {
			version = current.Version
		}
		next.Version = version + 1
		next.UpdatedAt = s.clock.Now()
		msg, err := bus.PlayerMessage(next)
		if err != nil {
			return err
		}
		if err := s.store.SavePlayer(ctx, next, version, outbox.Notification(msg)); err != nil {
			return err
		}
		player, changed = next, true
		return nil
	})
	s.metrics.ObserveCommand(aggregate, command, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("player command rejected",
			slog.String("command", command),
			slog.String("player_id", string(id)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if changed {
		if err := s.relay.Flush(ctx); err != nil {
			span.RecordError(err)
			s.logger.Warn("player stored but not yet published",
				slog.String("player_id", string(player.ID)),
				slog.Int("version", player.Version),
				slog.String("error", err.Error()),
			)
		}
		s.logger.Info("player updated",
			slog.String("command", command),
			slog.String("player_id", string(player.ID)),
			slog.Int("games_won", player.GamesWon),
			slog.Int("games_lost", player.GamesLost),
			slog.Int("version", player.Version),
		)
	}
	return player, nil
}

func (s *Service) load(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	if id == "" {
		return nil, model.ErrInvalidID
	}
	player, err := s.store.GetPlayer(ctx, id)
	if errors.Is(err, model.ErrPlayerNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load player %s: %w", id, err)
	}
	return player, nil
}
