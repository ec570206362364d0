package game

import (
	"context"
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

const aggregate = "game"

// Controller handles game commands against the event log. Each command
// replays the log, decides new events and appends them with an expected
// version, retrying the whole cycle on a concurrent append. Every appended
// event is also written to the outbox in the same append.
type Controller struct {
	events  storage.EventStore
	relay   outbox.Flusher
	clock   clock.Clock
	metrics *metrics.Metrics
	tracer  trace.Tracer
	retry   retry.Config
	logger  *slog.Logger
}

// NewController creates a new game Controller
func NewController(
	events storage.EventStore,
	relay outbox.Flusher,
	clock clock.Clock,
	metrics *metrics.Metrics,
	tracer trace.Tracer,
	retryCfg retry.Config,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		events:  events,
		relay:   relay,
		clock:   clock,
		metrics: metrics,
		tracer:  tracer,
		retry:   retryCfg,
		logger:  logger,
	}
}

// CreateGame registers a game with only its first player known
func (c *Controller) CreateGame(ctx context.Context, gameID model.GameID, player1 model.PlayerID) (*model.Game, error) {
	return c.execute(ctx, "create_game", gameID, func(g *model.Game) ([]model.GameEvent, error) {
		return model.DecideCreateGame(g, player1)
	})
}

// StartGame registers both players, upgrading a created game
func (c *Controller) StartGame(ctx context.Context, gameID model.GameID, player1, player2 model.PlayerID) (*model.Game, error) {
	return c.execute(ctx, "start_game", gameID, func(g *model.Game) ([]model.GameEvent, error) {
		return model.DecideStartGame(g, player1, player2)
	})
}

// MakeMove records a throw. The move that decides the game is persisted
// together with the GameOver event.
func (c *Controller) MakeMove(ctx context.Context, gameID model.GameID, playerID model.PlayerID, move model.Move) (*model.Game, error) {
	return c.execute(ctx, "make_move", gameID, func(g *model.Game) ([]model.GameEvent, error) {
		return model.DecideMakeMove(g, playerID, move)
	})
}

// GetGame replays the game's log
func (c *Controller) GetGame(ctx context.Context, gameID model.GameID) (*model.Game, error) {
	g, _, err := c.load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, model.ErrGameNotFound
	}
	return g, nil
}

// GetEvents returns the game's persisted event log
func (c *Controller) GetEvents(ctx context.Context, gameID model.GameID) ([]model.EventRecord, error) {
	records, err := c.events.LoadGameEvents(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("load events for game %s: %w", gameID, err)
	}
	if len(records) == 0 {
		return nil, model.ErrGameNotFound
	}
	return records, nil
}

func (c *Controller) load(ctx context.Context, gameID model.GameID) (*model.Game, int, error) {
	if gameID == "" {
		return nil, 0, model.ErrInvalidID
	}
	records, err := c.events.LoadGameEvents(ctx, gameID)
	if err != nil {
		return nil, 0, fmt.Errorf("load events for game %s: %w", gameID, err)
	}

	events := make([]model.GameEvent, len(records))
	for i, rec := range records {
		events[i] = rec.Event
	}
	g, err := model.ReplayGame(gameID, events)
	if err != nil {
		return nil, 0, fmt.Errorf("replay game %s: %w", gameID, err)
	}
	return g, len(records), nil
}

type decideFunc func(g *model.Game) ([]model.GameEvent, error)

func (c *Controller) execute(ctx context.Context, command string, gameID model.GameID, decide decideFunc) (*model.Game, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "game."+command,
		trace.WithAttributes(attribute.String("game_id", string(gameID))))
	defer span.End()

	var (
		game     *model.Game
		appended []model.EventRecord
	)
	err := retry.OnConflict(ctx, c.retry, func() { c.metrics.IncVersionConflict(aggregate) }, func() error {
		current, version, err := c.load(ctx, gameID)
		if err != nil {
			return err
		}

		events, err := decide(current)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			game, appended = current, nil
			return nil
		}

		now := c.clock.Now()
		next := current
		records := make([]model.EventRecord, len(events))
		notifications := make([]storage.Notification, len(events))
		for i, evt := range events {
			if next, err = model.ApplyGameEvent(gameID, next, evt); err != nil {
				return err
			}
			records[i] = model.EventRecord{GameID: gameID, Seq: version + i + 1, Event: evt, OccurredAt: now}
			msg, err := bus.GameEventMessage(records[i])
			if err != nil {
				return err
			}
			notifications[i] = outbox.Notification(msg)
		}

		if err := c.events.AppendGameEvents(ctx, gameID, version, records, notifications...); err != nil {
			return err
		}
		game, appended = next, records
		return nil
	})
	c.metrics.ObserveCommand(aggregate, command, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("game command rejected",
			slog.String("command", command),
			slog.String("game_id", string(gameID)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if len(appended) > 0 {
		c.flush(ctx, span, gameID)
	}
	for _, rec := range appended {
		if over, ok := rec.Event.(model.GameOver); ok {
			c.metrics.GamesCompleted.Inc()
			c.logger.Info("game over",
				slog.String("game_id", string(gameID)),
				slog.String("winner_id", string(over.WinnerID)),
				slog.String("loser_id", string(over.LoserID)),
			)
		}
	}

	if len(appended) > 0 {
		c.logger.Info("game events appended",
			slog.String("command", command),
			slog.String("game_id", string(gameID)),
			slog.Int("count", len(appended)),
			slog.Int("version", game.Version),
		)
	}
	return game, nil
}

// flush publishes the outbox. The events are already stored, so a failure
// only delays delivery until the relay's next flush.
func (c *Controller) flush(ctx context.Context, span trace.Span, gameID model.GameID) {
	if err := c.relay.Flush(ctx); err != nil {
		span.RecordError(err)
		c.logger.Warn("game events stored but not yet published",
			slog.String("game_id", string(gameID)),
			slog.String("error", err.Error()),
		)
	}
}
