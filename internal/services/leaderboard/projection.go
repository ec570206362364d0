// Package leaderboard materializes the ranked leaderboard from player
// state notifications and answers leaderboard queries.
package leaderboard

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcoot/rpsleague/internal/bus"
	"github.com/mcoot/rpsleague/internal/metrics"
	"github.com/mcoot/rpsleague/internal/model"
	"github.com/mcoot/rpsleague/internal/storage"
)

// Consumer is the consumer group name the projection subscribes under
const Consumer = "leaderboard-projection"

// DefaultLimit is the number of rows returned when a caller gives no limit
const DefaultLimit = 10

// Projection keeps one leaderboard row per player, recomputed in full from
// each player snapshot it observes
type Projection struct {
	store   storage.LeaderboardStore
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// New creates a new leaderboard Projection
func New(store storage.LeaderboardStore, metrics *metrics.Metrics, tracer trace.Tracer, logger *slog.Logger) *Projection {
	return &Projection{
		store:   store,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger.With(slog.String("component", "leaderboard")),
	}
}

// Handle upserts the row for the player carried by a player.state message
func (p *Projection) Handle(ctx context.Context, msg bus.Message) error {
	ctx, span := p.tracer.Start(ctx, "leaderboard.project",
		trace.WithAttributes(attribute.String("player_id", msg.Key)))
	defer span.End()

	player, err := bus.DecodePlayer(msg)
	if err != nil {
		// a payload that cannot be decoded will never succeed
		p.logger.Error("dropping undecodable player notification",
			slog.String("player_id", msg.Key),
			slog.String("error", err.Error()),
		)
		p.metrics.IncSagaStep(Consumer, metrics.OutcomeIgnored)
		return nil
	}

	entry := model.LeaderboardEntryFromPlayer(player)
	if err := p.store.UpsertLeaderboardEntry(ctx, entry); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.IncSagaStep(Consumer, metrics.OutcomeFailed)
		return fmt.Errorf("upsert leaderboard entry %s: %w", entry.PlayerID, err)
	}

	p.metrics.LeaderboardUpserts.Inc()
	p.metrics.IncSagaStep(Consumer, metrics.OutcomeApplied)
	p.logger.Debug("leaderboard entry updated",
		slog.String("player_id", string(entry.PlayerID)),
		slog.Float64("score", entry.Score),
	)
	return nil
}

// TopPlayers returns up to n rows by score descending, ties by player id
func (p *Projection) TopPlayers(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	if n <= 0 {
		return nil, model.ErrInvalidLimit
	}
	entries, err := p.store.TopLeaderboardEntries(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("query top %d: %w", n, err)
	}
	return entries, nil
}

// PlayerStats returns the player's leaderboard row
func (p *Projection) PlayerStats(ctx context.Context, id model.PlayerID) (*model.LeaderboardEntry, error) {
	if id == "" {
		return nil, model.ErrInvalidID
	}
	return p.store.GetLeaderboardEntry(ctx, id)
}
