package lobby

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
	"github.com/mcoot/rpsleague/internal/dependencies/ids"
	"github.com/mcoot/rpsleague/internal/metrics"
	"github.com/mcoot/rpsleague/internal/model"
	"github.com/mcoot/rpsleague/internal/outbox"
	"github.com/mcoot/rpsleague/internal/services/retry"
	"github.com/mcoot/rpsleague/internal/storage"
)

const aggregate = "lobby"

// Controller manages the lobby pairing state machine. Every persisted
// change is written to the outbox for the lobby.state topic in the same save.
type Controller struct {
	store   storage.SnapshotStore
	relay   outbox.Flusher
	clock   clock.Clock
	ids     ids.Generator
	metrics *metrics.Metrics
	tracer  trace.Tracer
	retry   retry.Config
	logger  *slog.Logger
}

// NewController creates a new lobby Controller
func NewController(
	store storage.SnapshotStore,
	relay outbox.Flusher,
	clock clock.Clock,
	ids ids.Generator,
	metrics *metrics.Metrics,
	tracer trace.Tracer,
	retryCfg retry.Config,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		store:   store,
		relay:   relay,
		clock:   clock,
		ids:     ids,
		metrics: metrics,
		tracer:  tracer,
		retry:   retryCfg,
		logger:  logger,
	}
}

// GetLobby returns the lobby's current state. A lobby that has never been
// accessed is initialized empty, persisted and returned.
func (c *Controller) GetLobby(ctx context.Context, lobbyID model.LobbyID) (*model.Lobby, error) {
	return c.execute(ctx, "get_lobby", lobbyID, func(current *model.Lobby, exists bool) *model.Lobby {
		if exists {
			return nil
		}
		return current
	})
}

// JoinLobby seats a player. The first join fills slot1, a second distinct
// player fills slot2, and a join into a full lobby recycles it around the
// joiner with a new game id.
func (c *Controller) JoinLobby(ctx context.Context, lobbyID model.LobbyID, playerID model.PlayerID) (*model.Lobby, error) {
	if playerID == "" {
		return nil, model.ErrInvalidID
	}
	if _, err := c.store.GetPlayer(ctx, playerID); err != nil {
		return nil, err
	}

	return c.execute(ctx, "join_lobby", lobbyID, func(current *model.Lobby, exists bool) *model.Lobby {
		next := current.Join(playerID, c.ids.NewGameID)
		if exists && next.Slot1 == current.Slot1 && next.Slot2 == current.Slot2 && next.GameID == current.GameID {
			return nil
		}
		return next
	})
}

// transitionFunc returns the next lobby state, or nil to leave it unchanged
type transitionFunc func(current *model.Lobby, exists bool) *model.Lobby

func (c *Controller) execute(ctx context.Context, command string, lobbyID model.LobbyID, transition transitionFunc) (*model.Lobby, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "lobby."+command,
		trace.WithAttributes(attribute.String("lobby_id", string(lobbyID))))
	defer span.End()

	var (
		lobby   *model.Lobby
		changed bool
	)
	err := retry.OnConflict(ctx, c.retry, func() { c.metrics.IncVersionConflict(aggregate) }, func() error {
		current, exists, err := c.load(ctx, lobbyID)
		if err != nil {
			return err
		}

		next := transition(current, exists)
		if next == nil {
			lobby, changed = current, false
			return nil
		}

		version := current.Version
		next.Version = version + 1
		next.UpdatedAt = c.clock.Now()
		msg, err := bus.LobbyMessage(next)
		if err != nil {
			return err
		}
		if err := c.store.SaveLobby(ctx, next, version, outbox.Notification(msg)); err != nil {
			return err
		}
		lobby, changed = next, true
		return nil
	})
	c.metrics.ObserveCommand(aggregate, command, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if changed {
		if err := c.relay.Flush(ctx); err != nil {
			span.RecordError(err)
			c.logger.Warn("lobby stored but not yet published",
				slog.String("lobby_id", string(lobby.ID)),
				slog.Int("version", lobby.Version),
				slog.String("error", err.Error()),
			)
		}
		c.logger.Info("lobby updated",
			slog.String("command", command),
			slog.String("lobby_id", string(lobby.ID)),
			slog.String("slot1", string(lobby.Slot1)),
			slog.String("slot2", string(lobby.Slot2)),
			slog.String("game_id", string(lobby.GameID)),
			slog.Int("version", lobby.Version),
		)
	}
	return lobby, nil
}

// load returns the stored lobby, or a fresh empty one with exists false
func (c *Controller) load(ctx context.Context, lobbyID model.LobbyID) (*model.Lobby, bool, error) {
	if lobbyID == "" {
		return nil, false, model.ErrInvalidID
	}
	lobby, err := c.store.GetLobby(ctx, lobbyID)
	if errors.Is(err, model.ErrLobbyNotFound) {
		return model.NewLobby(lobbyID, c.ids.NewGameID()), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load lobby %s: %w", lobbyID, err)
	}
	return lobby, true, nil
}
