package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mcoot/rpsleague/internal/bus"
	"github.com/mcoot/rpsleague/internal/metrics"
	"github.com/mcoot/rpsleague/internal/model"
)

// GameConsumer is the consumer group the game orchestrator subscribes under
const GameConsumer = "game-orchestrator"

// PlayerCommands is the part of the player aggregate the game orchestrator drives
type PlayerCommands interface {
	GameWon(ctx context.Context, id model.PlayerID, gameID model.GameID) (*model.Player, error)
	GameLost(ctx context.Context, id model.PlayerID, gameID model.GameID) (*model.Player, error)
}

// GameOrchestrator records finished games on both players' tallies
type GameOrchestrator struct {
	players PlayerCommands
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewGameOrchestrator creates a new GameOrchestrator
func NewGameOrchestrator(players PlayerCommands, metrics *metrics.Metrics, tracer trace.Tracer, logger *slog.Logger) *GameOrchestrator {
	return &GameOrchestrator{
		players: players,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger.With(slog.String("component", GameConsumer)),
	}
}

// Handle acknowledges every event except GameOver. On GameOver it records
// the win and the loss concurrently and returns once both have completed.
func (o *GameOrchestrator) Handle(ctx context.Context, msg bus.Message) error {
	rec, err := bus.DecodeGameEvent(msg)
	if err != nil {
		o.logger.Error("dropping undecodable game event",
			slog.String("game_id", msg.Key),
			slog.String("error", err.Error()),
		)
		o.metrics.IncSagaStep(GameConsumer, metrics.OutcomeIgnored)
		return nil
	}

	over, ok := rec.Event.(model.GameOver)
	if !ok {
		o.metrics.IncSagaStep(GameConsumer, metrics.OutcomeIgnored)
		return nil
	}

	ctx, span := o.tracer.Start(ctx, "saga.game_over",
		trace.WithAttributes(
			attribute.String("game_id", string(rec.GameID)),
			attribute.String("winner_id", string(over.WinnerID)),
			attribute.String("loser_id", string(over.LoserID)),
		))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreConflict(o.players.GameWon(gctx, over.WinnerID, rec.GameID))
	})
	g.Go(func() error {
		return ignoreConflict(o.players.GameLost(gctx, over.LoserID, rec.GameID))
	})

	logger := o.logger.With(
		slog.String("game_id", string(rec.GameID)),
		slog.String("winner_id", string(over.WinnerID)),
		slog.String("loser_id", string(over.LoserID)),
	)
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("recording game result failed", slog.String("error", err.Error()))
		o.metrics.IncSagaStep(GameConsumer, metrics.OutcomeFailed)
		return fmt.Errorf("record result of game %s: %w", rec.GameID, err)
	}

	logger.Info("game result recorded")
	o.metrics.IncSagaStep(GameConsumer, metrics.OutcomeApplied)
	return nil
}

func ignoreConflict(_ *model.Player, err error) error {
	if errors.Is(err, model.ErrConflict) {
		return nil
	}
	return err
}
