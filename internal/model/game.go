package model

// GameID uniquely identifies a game
type GameID string

// WinningScore is the number of round wins that decides a game
const WinningScore = 2

// Game is the state of one match, rebuilt by folding its event log.
// A nil *Game means the game does not exist yet.
type Game struct {
	ID                GameID
	FirstPlayerID     PlayerID
	SecondPlayerID    PlayerID // empty until the game is started
	FirstPlayerMoves  []Move
	SecondPlayerMoves []Move

	// Version is the number of events folded into this state
	Version int
}

// Started returns true once both players are known
func (g *Game) Started() bool {
	return g.SecondPlayerID != ""
}

// HasPlayer returns true if the player is one of the game's participants
func (g *Game) HasPlayer(id PlayerID) bool {
	return id != "" && (id == g.FirstPlayerID || id == g.SecondPlayerID)
}

// CompletedRounds returns the number of rounds in which both players have moved
func (g *Game) CompletedRounds() int {
	return min(len(g.FirstPlayerMoves), len(g.SecondPlayerMoves))
}

// Scores counts round wins for each side across every completed round
func (g *Game) Scores() (first, second int) {
	if !g.Started() {
		return 0, 0
	}
	for i := range g.CompletedRounds() {
		a, b := g.FirstPlayerMoves[i], g.SecondPlayerMoves[i]
		switch {
		case a.Beats(b):
			first++
		case b.Beats(a):
			second++
		}
	}
	return first, second
}

// Outcome describes whether a game has been decided
type Outcome string

const (
	OutcomeInProgress       Outcome = "in_progress"
	OutcomeFirstPlayerWins  Outcome = "first_player_wins"
	OutcomeSecondPlayerWins Outcome = "second_player_wins"
)

// Result is the outcome of evaluating a game
type Result struct {
	Outcome  Outcome
	WinnerID PlayerID // empty while in progress
	LoserID  PlayerID
}

// IsOver returns true if a winner has been decided
func (r Result) IsOver() bool {
	return r.Outcome != OutcomeInProgress
}

// Evaluate walks the completed rounds in order and stops at the first side
// to reach WinningScore. Moves persisted after that round do not change the result.
func (g *Game) Evaluate() Result {
	if !g.Started() {
		return Result{Outcome: OutcomeInProgress}
	}

	var first, second int
	for i := range g.CompletedRounds() {
		a, b := g.FirstPlayerMoves[i], g.SecondPlayerMoves[i]
		if a.Beats(b) {
			first++
		} else if b.Beats(a) {
			second++
		}

		if first == WinningScore {
			return Result{Outcome: OutcomeFirstPlayerWins, WinnerID: g.FirstPlayerID, LoserID: g.SecondPlayerID}
		}
		if second == WinningScore {
			return Result{Outcome: OutcomeSecondPlayerWins, WinnerID: g.SecondPlayerID, LoserID: g.FirstPlayerID}
		}
	}
	return Result{Outcome: OutcomeInProgress}
}

// clone returns a deep copy so folded states never share move slices
func (g *Game) clone() *Game {
	c := *g
	c.FirstPlayerMoves = append([]Move(nil), g.FirstPlayerMoves...)
	c.SecondPlayerMoves = append([]Move(nil), g.SecondPlayerMoves...)
	return &c
}

// withMove returns a copy of the game with the move appended to the player's sequence
func (g *Game) withMove(playerID PlayerID, move Move) *Game {
	c := g.clone()
	switch playerID {
	case g.FirstPlayerID:
		c.FirstPlayerMoves = append(c.FirstPlayerMoves, move)
	case g.SecondPlayerID:
		c.SecondPlayerMoves = append(c.SecondPlayerMoves, move)
	}
	return c
}

// moveCounts returns the number of moves made by playerID and by their opponent
func (g *Game) moveCounts(playerID PlayerID) (mine, theirs int) {
	if playerID == g.FirstPlayerID {
		return len(g.FirstPlayerMoves), len(g.SecondPlayerMoves)
	}
	return len(g.SecondPlayerMoves), len(g.FirstPlayerMoves)
}

// DecideCreateGame validates a create command against the current state.
// A nil event slice with a nil error means the command was already applied.
func DecideCreateGame(g *Game, player1 PlayerID) ([]GameEvent, error) {
	if player1 == "" {
		return nil, ErrInvalidID
	}
	if g != nil {
		if g.FirstPlayerID == player1 {
			return nil, nil
		}
		return nil, ErrGameAlreadyStarted
	}
	return []GameEvent{GameCreated{Player1ID: player1}}, nil
}

// DecideStartGame validates a start command against the current state.
// Starting a created game upgrades it; the first player must match.
func DecideStartGame(g *Game, player1, player2 PlayerID) ([]GameEvent, error) {
	if player1 == "" || player2 == "" {
		return nil, ErrInvalidID
	}
	if player1 == player2 {
		return nil, ErrSamePlayers
	}
	if g != nil {
		if g.FirstPlayerID == player1 && g.SecondPlayerID == player2 {
			return nil, nil
		}
		if g.Started() || g.FirstPlayerID != player1 {
			return nil, ErrGameAlreadyStarted
		}
	}
	return []GameEvent{GameStarted{Player1ID: player1, Player2ID: player2}}, nil
}

// DecideMakeMove validates a move and returns MoveMade, followed by GameOver
// when the move decides the game.
func DecideMakeMove(g *Game, playerID PlayerID, move Move) ([]GameEvent, error) {
	if g == nil {
		return nil, ErrGameNotFound
	}
	if !g.Started() {
		return nil, ErrSecondPlayerNotJoined
	}
	if !g.HasPlayer(playerID) {
		return nil, ErrNotInGame
	}
	if !move.Valid() {
		return nil, ErrInvalidMove
	}
	if g.Evaluate().IsOver() {
		return nil, ErrGameOver
	}
	if mine, theirs := g.moveCounts(playerID); mine > theirs {
		return nil, ErrInvalidMoveOrder
	}

	events := []GameEvent{MoveMade{PlayerID: playerID, Move: move}}
	if result := g.withMove(playerID, move).Evaluate(); result.IsOver() {
		events = append(events, GameOver{WinnerID: result.WinnerID, LoserID: result.LoserID})
	}
	return events, nil
}
