// Package saga holds the choreography sagas that keep the aggregates
// consistent. Each saga reacts to one notification topic and issues
// idempotent commands to another aggregate. A handler that returns an error
// leaves the notification unacknowledged so the bus redelivers it.
package saga

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcoot/rpsleague/internal/bus"
	"github.com/mcoot/rpsleague/internal/metrics"
	"github.com/mcoot/rpsleague/internal/model"
)

// LobbyConsumer is the consumer group the lobby orchestrator subscribes under
const LobbyConsumer = "lobby-orchestrator"

// GameCommands is the part of the game aggregate the lobby orchestrator drives
type GameCommands interface {
	CreateGame(ctx context.Context, gameID model.GameID, player1 model.PlayerID) (*model.Game, error)
	StartGame(ctx context.Context, gameID model.GameID, player1, player2 model.PlayerID) (*model.Game, error)
}

// LobbyOrchestrator turns lobby state changes into game lifecycle commands
type LobbyOrchestrator struct {
	games   GameCommands
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewLobbyOrchestrator creates a new LobbyOrchestrator
func NewLobbyOrchestrator(games GameCommands, metrics *metrics.Metrics, tracer trace.Tracer, logger *slog.Logger) *LobbyOrchestrator {
	return &LobbyOrchestrator{
		games:   games,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger.With(slog.String("component", LobbyConsumer)),
	}
}

// Handle evaluates the lobby decision table against the full lobby state:
// duplicate slots are ignored, a single occupant creates the game, two
// occupants start it, and an empty lobby needs nothing.
func (o *LobbyOrchestrator) Handle(ctx context.Context, msg bus.Message) error {
	ctx, span := o.tracer.Start(ctx, "saga.lobby",
		trace.WithAttributes(attribute.String("lobby_id", msg.Key)))
	defer span.End()

	lobby, err := bus.DecodeLobby(msg)
	if err != nil {
		o.logger.Error("dropping undecodable lobby notification",
			slog.String("lobby_id", msg.Key),
			slog.String("error", err.Error()),
		)
		o.metrics.IncSagaStep(LobbyConsumer, metrics.OutcomeIgnored)
		return nil
	}
	span.SetAttributes(attribute.String("game_id", string(lobby.GameID)))

	logger := o.logger.With(
		slog.String("lobby_id", string(lobby.ID)),
		slog.String("game_id", string(lobby.GameID)),
		slog.Int("version", lobby.Version),
	)

	switch {
	case lobby.HasDuplicatePlayers():
		logger.Warn("ignoring lobby with the same player in both slots",
			slog.String("player_id", string(lobby.Slot1)))
		o.metrics.IncSagaStep(LobbyConsumer, metrics.OutcomeIgnored)
		return nil
	case lobby.Slot1 != "" && lobby.Slot2 == "":
		_, err = o.games.CreateGame(ctx, lobby.GameID, lobby.Slot1)
	case lobby.IsFull():
		_, err = o.games.StartGame(ctx, lobby.GameID, lobby.Slot1, lobby.Slot2)
	default:
		o.metrics.IncSagaStep(LobbyConsumer, metrics.OutcomeIgnored)
		return nil
	}

	return o.settle(span, logger, err)
}

// settle acknowledges success and downstream conflicts, and fails the
// step on anything else so it is redelivered
func (o *LobbyOrchestrator) settle(span trace.Span, logger *slog.Logger, err error) error {
	switch {
	case err == nil:
		o.metrics.IncSagaStep(LobbyConsumer, metrics.OutcomeApplied)
		return nil
	case errors.Is(err, model.ErrConflict):
		logger.Info("game command conflicted, treating as applied", slog.String("error", err.Error()))
		o.metrics.IncSagaStep(LobbyConsumer, metrics.OutcomeApplied)
		return nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("game command failed", slog.String("error", err.Error()))
		o.metrics.IncSagaStep(LobbyConsumer, metrics.OutcomeFailed)
		return err
	}
}
