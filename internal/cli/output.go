package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mcoot/rpsleague/internal/api/response"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter
func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.Player:
		o.printPlayer(v)
	case response.Lobby:
		o.printLobby(v)
	case response.Game:
		o.printGame(v)
	case []GameEvent:
		o.printEvents(v)
	case response.Leaderboard:
		o.printLeaderboard(v)
	case response.LeaderboardEntry:
		o.printLeaderboardEntry(v)
	case response.Health:
		_, _ = fmt.Fprintf(o.w, "Status: %s\n", v.Status)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// GameEvent is a game event log entry as returned by the API. The payload is
// kept raw since its shape depends on the type.
type GameEvent struct {
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (o *Output) printPlayer(p response.Player) {
	_, _ = fmt.Fprintf(o.w, "Player: %s (%s)\n", p.Name, p.ID)
	_, _ = fmt.Fprintf(o.w, "Record: %d won, %d lost\n", p.GamesWon, p.GamesLost)
	if len(p.RecentGames) > 0 {
		_, _ = fmt.Fprintf(o.w, "Recent games: %s\n", strings.Join(p.RecentGames, ", "))
	}
}

func (o *Output) printLobby(l response.Lobby) {
	_, _ = fmt.Fprintf(o.w, "Lobby: %s\n", l.ID)
	_, _ = fmt.Fprintf(o.w, "Game: %s\n", l.GameID)
	_, _ = fmt.Fprintf(o.w, "Slot 1: %s\n", orDash(l.Slot1))
	_, _ = fmt.Fprintf(o.w, "Slot 2: %s\n", orDash(l.Slot2))
	if l.Full {
		_, _ = fmt.Fprintln(o.w, "Lobby is full, the game is starting")
	}
}

func (o *Output) printGame(g response.Game) {
	_, _ = fmt.Fprintf(o.w, "Game: %s\n", g.ID)
	if !g.Started {
		_, _ = fmt.Fprintf(o.w, "Waiting for an opponent to join %s\n", orDash(g.FirstPlayer.PlayerID))
		return
	}
	_, _ = fmt.Fprintf(o.w, "Rounds played: %d\n", g.CompletedRounds)
	for _, side := range []response.GameSide{g.FirstPlayer, g.SecondPlayer} {
		_, _ = fmt.Fprintf(o.w, "  %s: %d points [%s]", side.PlayerID, side.Score, strings.Join(side.Moves, " "))
		if side.MoveCount > len(side.Moves) {
			_, _ = fmt.Fprint(o.w, " (move pending)")
		}
		_, _ = fmt.Fprintln(o.w)
	}
	if g.WinnerID != "" {
		_, _ = fmt.Fprintf(o.w, "Winner: %s\n", g.WinnerID)
	}
}

func (o *Output) printEvents(events []GameEvent) {
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SEQ\tTYPE\tAT\tDATA")
	for _, e := range events {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Seq, e.Type, e.OccurredAt.Format(time.RFC3339), string(e.Data))
	}
	_ = tw.Flush()
}

func (o *Output) printLeaderboard(l response.Leaderboard) {
	if len(l.Entries) == 0 {
		_, _ = fmt.Fprintln(o.w, "No players ranked yet")
		return
	}
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RANK\tPLAYER\tNAME\tWON\tLOST\tSCORE")
	for _, e := range l.Entries {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%.1f\n", e.Rank, e.PlayerID, e.PlayerName, e.GamesWon, e.GamesLost, e.Score)
	}
	_ = tw.Flush()
}

func (o *Output) printLeaderboardEntry(e response.LeaderboardEntry) {
	_, _ = fmt.Fprintf(o.w, "Player: %s (%s)\n", e.PlayerName, e.PlayerID)
	_, _ = fmt.Fprintf(o.w, "Record: %d won, %d lost\n", e.GamesWon, e.GamesLost)
	_, _ = fmt.Fprintf(o.w, "Score: %.1f\n", e.Score)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
