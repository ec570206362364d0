package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/rpsleague/internal/bus"
	"github.com/mcoot/rpsleague/internal/dependencies/mocks"
	"github.com/mcoot/rpsleague/internal/metrics"
	"github.com/mcoot/rpsleague/internal/model"
	"github.com/mcoot/rpsleague/internal/outbox"
	"github.com/mcoot/rpsleague/internal/services/retry"
	"github.com/mcoot/rpsleague/internal/storage"
	"github.com/mcoot/rpsleague/internal/storage/memory"
	"github.com/mcoot/rpsleague/internal/telemetry"
	rpstestutil "github.com/mcoot/rpsleague/internal/testutil"
)

// flakyStore fails the next N appends with a version conflict
type flakyStore struct {
	*memory.Storage
	conflicts int
}

func (f *flakyStore) AppendGameEvents(ctx context.Context, id model.GameID, expectedVersion int, events []model.EventRecord, notifications ...storage.Notification) error {
	if f.conflicts > 0 {
		f.conflicts--
		return storage.ErrVersionConflict
	}
	return f.Storage.AppendGameEvents(ctx, id, expectedVersion, events, notifications...)
}

type ControllerSuite struct {
	suite.Suite
	storage    *flakyStore
	publisher  *mocks.MockPublisher
	relay      *outbox.Relay
	clock      *mocks.MockClock
	metrics    *metrics.Metrics
	controller *Controller
	ctx        context.Context
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.storage = &flakyStore{Storage: memory.New()}
	s.publisher = mocks.NewMockPublisher()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.metrics = metrics.New()
	retryCfg := retry.Config{InitialInterval: time.Microsecond, MaxInterval: time.Millisecond, MaxTries: 5}
	s.relay = outbox.New(s.storage, s.publisher, outbox.DefaultConfig(), s.metrics, rpstestutil.NopLogger())
	s.controller = NewController(s.storage, s.relay, s.clock, s.metrics, telemetry.NoopTracer(), retryCfg, rpstestutil.NopLogger())
	s.ctx = context.Background()
}

func (s *ControllerSuite) startGame(id model.GameID) {
	_, err := s.controller.StartGame(s.ctx, id, "p1", "p2")
	s.Require().NoError(err)
}

func (s *ControllerSuite) move(id model.GameID, player model.PlayerID, m model.Move) (*model.Game, error) {
	return s.controller.MakeMove(s.ctx, id, player, m)
}

func (s *ControllerSuite) eventCount(id model.GameID) int {
	records, err := s.storage.LoadGameEvents(s.ctx, id)
	s.Require().NoError(err)
	return len(records)
}

// CreateGame tests

func (s *ControllerSuite) TestCreateGameSucceeds() {
	game, err := s.controller.CreateGame(s.ctx, "g1", "p1")
	s.Require().NoError(err)

	s.Equal(model.GameID("g1"), game.ID)
	s.Equal(model.PlayerID("p1"), game.FirstPlayerID)
	s.False(game.Started())
	s.Equal(1, game.Version)

	msgs := s.publisher.Messages(bus.TopicGameEvents)
	s.Require().Len(msgs, 1)
	rec, err := bus.DecodeGameEvent(msgs[0])
	s.Require().NoError(err)
	s.Equal(model.GameCreated{Player1ID: "p1"}, rec.Event)
	s.Equal(1, rec.Seq)
	s.Equal(s.clock.Now(), rec.OccurredAt)
}

func (s *ControllerSuite) TestCreateGameIsIdempotent() {
	first, err := s.controller.CreateGame(s.ctx, "g1", "p1")
	s.Require().NoError(err)

	second, err := s.controller.CreateGame(s.ctx, "g1", "p1")
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Equal(1, s.eventCount("g1"))
	s.Len(s.publisher.Messages(bus.TopicGameEvents), 1)
}

func (s *ControllerSuite) TestCreateGameConflictsWithDifferentFirstPlayer() {
	_, err := s.controller.CreateGame(s.ctx, "g1", "p1")
	s.Require().NoError(err)

	_, err = s.controller.CreateGame(s.ctx, "g1", "p9")
	s.ErrorIs(err, model.ErrGameAlreadyStarted)
	s.ErrorIs(err, model.ErrConflict)
}

// StartGame tests

func (s *ControllerSuite) TestStartGameFromAbsent() {
	game, err := s.controller.StartGame(s.ctx, "g1", "p1", "p2")
	s.Require().NoError(err)
	s.True(game.Started())
	s.Equal(model.PlayerID("p2"), game.SecondPlayerID)
}

func (s *ControllerSuite) TestStartGameUpgradesCreatedGame() {
	_, err := s.controller.CreateGame(s.ctx, "g1", "p1")
	s.Require().NoError(err)

	game, err := s.controller.StartGame(s.ctx, "g1", "p1", "p2")
	s.Require().NoError(err)
	s.True(game.Started())
	s.Equal(2, game.Version)
}

func (s *ControllerSuite) TestStartGameIsIdempotent() {
	s.startGame("g1")
	game, err := s.controller.StartGame(s.ctx, "g1", "p1", "p2")
	s.Require().NoError(err)
	s.Equal(1, game.Version)
	s.Equal(1, s.eventCount("g1"))
}

func (s *ControllerSuite) TestStartGameSamePlayersIsInvalid() {
	_, err := s.controller.StartGame(s.ctx, "g1", "x", "x")
	s.ErrorIs(err, model.ErrInvalidArgument)
	s.Equal(0, s.eventCount("g1"))
}

func (s *ControllerSuite) TestStartGameConflictsWithDifferentPair() {
	s.startGame("g1")
	_, err := s.controller.StartGame(s.ctx, "g1", "p1", "p3")
	s.ErrorIs(err, model.ErrConflict)
}

// MakeMove tests

func (s *ControllerSuite) TestMakeMoveOnMissingGame() {
	_, err := s.move("nope", "p1", model.MoveRock)
	s.ErrorIs(err, model.ErrNotFound)
}

func (s *ControllerSuite) TestMakeMoveBeforeSecondPlayerJoins() {
	_, err := s.controller.CreateGame(s.ctx, "g1", "p1")
	s.Require().NoError(err)

	_, err = s.move("g1", "p1", model.MoveRock)
	s.ErrorIs(err, model.ErrSecondPlayerNotJoined)
	s.ErrorIs(err, model.ErrPreconditionFailed)
}

func (s *ControllerSuite) TestMakeMoveTwiceInARowFails() {
	s.startGame("g1")
	_, err := s.move("g1", "p1", model.MoveRock)
	s.Require().NoError(err)

	_, err = s.move("g1", "p1", model.MovePaper)
	s.ErrorIs(err, model.ErrInvalidMoveOrder)
	s.ErrorIs(err, model.ErrPreconditionFailed)
}

func (s *ControllerSuite) TestMakeMoveByOutsider() {
	s.startGame("g1")
	_, err := s.move("g1", "p3", model.MoveRock)
	s.ErrorIs(err, model.ErrNotInGame)
}

func (s *ControllerSuite) TestWinningMoveAppendsGameOver() {
	s.startGame("g1")
	for _, m := range []struct {
		player model.PlayerID
		move   model.Move
	}{
		{"p1", model.MoveRock}, {"p2", model.MoveScissors},
		{"p1", model.MoveRock},
	} {
		_, err := s.move("g1", m.player, m.move)
		s.Require().NoError(err)
	}
	s.publisher.Reset()

	game, err := s.move("g1", "p2", model.MoveScissors)
	s.Require().NoError(err)

	result := game.Evaluate()
	s.Equal(model.PlayerID("p1"), result.WinnerID)

	msgs := s.publisher.Messages(bus.TopicGameEvents)
	s.Require().Len(msgs, 2)
	last, err := bus.DecodeGameEvent(msgs[1])
	s.Require().NoError(err)
	s.Equal(model.GameOver{WinnerID: "p1", LoserID: "p2"}, last.Event)
	s.Equal(6, last.Seq)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.GamesCompleted))

	_, err = s.move("g1", "p1", model.MoveRock)
	s.ErrorIs(err, model.ErrGameOver)
}

func (s *ControllerSuite) TestReplayMatchesCommandResult() {
	s.startGame("g1")
	var last *model.Game
	for _, m := range []struct {
		player model.PlayerID
		move   model.Move
	}{
		{"p1", model.MovePaper}, {"p2", model.MoveRock},
		{"p2", model.MoveRock}, {"p1", model.MoveRock},
		{"p1", model.MoveScissors},
	} {
		var err error
		last, err = s.move("g1", m.player, m.move)
		s.Require().NoError(err)
	}

	replayed, err := s.controller.GetGame(s.ctx, "g1")
	s.Require().NoError(err)
	s.Equal(last, replayed)
}

// Concurrency tests

func (s *ControllerSuite) TestVersionConflictIsRetried() {
	s.startGame("g1")
	s.storage.conflicts = 2

	game, err := s.move("g1", "p1", model.MoveRock)
	s.Require().NoError(err)
	s.Equal([]model.Move{model.MoveRock}, game.FirstPlayerMoves)
	s.Equal(2.0, testutil.ToFloat64(s.metrics.VersionConflicts.WithLabelValues("game")))
}

func (s *ControllerSuite) TestVersionConflictGivesUp() {
	s.startGame("g1")
	s.storage.conflicts = 100

	_, err := s.move("g1", "p1", model.MoveRock)
	s.ErrorIs(err, storage.ErrVersionConflict)
}

func (s *ControllerSuite) TestConcurrentMovesBySamePlayerApplyOnce() {
	const games, movers = 20, 8
	for g := range games {
		id := model.GameID(fmt.Sprintf("g%d", g))
		s.startGame(id)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			failures  []error
		)
		for range movers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.move(id, "p1", model.MoveRock)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					succeeded++
				} else {
					failures = append(failures, err)
				}
			}()
		}
		wg.Wait()

		s.Equal(1, succeeded, "game %s", id)
		for _, err := range failures {
			s.ErrorIs(err, model.ErrInvalidMoveOrder)
		}
		game, err := s.controller.GetGame(s.ctx, id)
		s.Require().NoError(err)
		s.Len(game.FirstPlayerMoves, 1)
		s.Equal(2, s.eventCount(id))
	}
}

// Delivery tests

func (s *ControllerSuite) TestPublishFailureDoesNotFailCommand() {
	s.publisher.Err = errors.New("bus down")
	game, err := s.controller.CreateGame(s.ctx, "g1", "p1")
	s.Require().NoError(err)
	s.Equal(model.PlayerID("p1"), game.FirstPlayerID)

	pending, err := s.storage.PendingNotifications(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(pending, 1)
	s.Empty(s.publisher.Messages(bus.TopicGameEvents))
}

func (s *ControllerSuite) TestDecidingMoveDeliveredAfterPublishFailure() {
	s.startGame("g1")
	for _, m := range []struct {
		player model.PlayerID
		move   model.Move
	}{
		{"p1", model.MoveRock}, {"p2", model.MoveScissors},
		{"p1", model.MoveRock},
	} {
		_, err := s.move("g1", m.player, m.move)
		s.Require().NoError(err)
	}
	s.publisher.Reset()

	s.publisher.Err = errors.New("bus down")
	game, err := s.move("g1", "p2", model.MoveScissors)
	s.Require().NoError(err)
	s.Equal(model.PlayerID("p1"), game.Evaluate().WinnerID)
	s.Empty(s.publisher.Messages(bus.TopicGameEvents))

	// the game is over either way; the stored GameOver still has to go out
	_, err = s.move("g1", "p2", model.MovePaper)
	s.ErrorIs(err, model.ErrGameOver)

	s.publisher.Err = nil
	s.Require().NoError(s.relay.Flush(s.ctx))

	msgs := s.publisher.Messages(bus.TopicGameEvents)
	s.Require().Len(msgs, 2)
	made, err := bus.DecodeGameEvent(msgs[0])
	s.Require().NoError(err)
	s.Equal(5, made.Seq)
	over, err := bus.DecodeGameEvent(msgs[1])
	s.Require().NoError(err)
	s.Equal(model.GameOver{WinnerID: "p1", LoserID: "p2"}, over.Event)
	s.Equal(6, over.Seq)

	pending, err := s.storage.PendingNotifications(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

// Query tests

func (s *ControllerSuite) TestGetGameNotFound() {
	_, err := s.controller.GetGame(s.ctx, "nope")
	s.ErrorIs(err, model.ErrGameNotFound)
}

func (s *ControllerSuite) TestGetEvents() {
	s.startGame("g1")
	_, err := s.move("g1", "p1", model.MoveRock)
	s.Require().NoError(err)

	records, err := s.controller.GetEvents(s.ctx, "g1")
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal(model.EventMoveMade, records[1].Event.Type())

	_, err = s.controller.GetEvents(s.ctx, "nope")
	s.ErrorIs(err, model.ErrGameNotFound)
}
