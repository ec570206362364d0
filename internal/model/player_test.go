package model_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/rpsleague/internal/model"
)

type PlayerSuite struct {
	suite.Suite
}

func TestPlayerSuite(t *testing.T) {
	suite.Run(t, new(PlayerSuite))
}

func (s *PlayerSuite) TestRecordWinAndLoss() {
	p := &model.Player{ID: "p1", Name: "Alice"}

	won := p.RecordWin("g1")
	s.Equal(1, won.GamesWon)
	s.True(won.HasRecordedGame("g1"))
	s.Zero(p.GamesWon, "receiver must not change")
	s.Empty(p.RecentGameIDs)

	lost := won.RecordLoss("g2")
	s.Equal(1, lost.GamesLost)
	s.Equal(2, lost.GamesPlayed())
	s.Equal([]model.GameID{"g1", "g2"}, lost.RecentGameIDs)
}

func (s *PlayerSuite) TestHistoryKeepsMostRecentGames() {
	p := &model.Player{ID: "p1"}
	for i := 1; i <= model.RecentGamesCapacity+2; i++ {
		p = p.RecordWin(model.GameID(fmt.Sprintf("g%d", i)))
	}

	s.Len(p.RecentGameIDs, model.RecentGamesCapacity)
	s.Equal(model.GameID("g3"), p.RecentGameIDs[0])
	s.Equal(model.GameID("g12"), p.RecentGameIDs[model.RecentGamesCapacity-1])
	s.Equal(model.RecentGamesCapacity+2, p.GamesWon)
	s.False(p.HasRecordedGame("g1"))
}

func (s *PlayerSuite) TestRenamedCopiesHistory() {
	p := (&model.Player{ID: "p1", Name: "Alice"}).RecordWin("g1")
	renamed := p.Renamed("Alicia")

	renamed.RecentGameIDs[0] = "changed"
	s.Equal("Alice", p.Name)
	s.Equal(model.GameID("g1"), p.RecentGameIDs[0])
}
