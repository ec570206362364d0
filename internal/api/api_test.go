package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/rpsleague/internal/api"
	"github.com/mcoot/rpsleague/internal/api/apierr"
	"github.com/mcoot/rpsleague/internal/api/response"
	"github.com/mcoot/rpsleague/internal/factory"
)

// testServer creates a test server with all dependencies
type testServer struct {
	handler http.Handler
	app     *factory.TestApp
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	app := factory.NewTestApp()
	require.NoError(t, app.Start(context.Background()))
	t.Cleanup(func() { _ = app.Close() })

	router := api.NewRouter(api.RouterConfig{
		Logger:          logger,
		Metrics:         app.Metrics,
		PlayerService:   app.PlayerService,
		LobbyController: app.LobbyController,
		GameController:  app.GameController,
		Leaderboard:     app.Leaderboard,
		Streams:         app.Streams,
	})

	return &testServer{handler: router, app: app}
}

func (ts *testServer) request(method, path string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		b, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.app.WaitIdle(ctx))
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[apierr.ErrorResponse](t, rr).Error.Code
}

func createPlayer(t *testing.T, ts *testServer, id, name string) {
	t.Helper()
	rr := ts.request(http.MethodPost, "/api/v1/players", map[string]string{"id": id, "name": name})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func move(ts *testServer, gameID, playerID, m string) *httptest.ResponseRecorder {
	return ts.request(http.MethodPost, "/api/v1/games/"+gameID+"/moves", map[string]string{"player_id": playerID, "move": m})
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[response.Health](t, rr).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	createPlayer(t, ts, "p1", "Alice")

	rr := ts.request(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "rpsleague_commands_total")
}

func TestCreateAndGetPlayer(t *testing.T) {
	ts := newTestServer(t)
	createPlayer(t, ts, "p1", "Alice")

	rr := ts.request(http.MethodGet, "/api/v1/players/p1", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	p := decode[response.Player](t, rr)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "Alice", p.Name)
	assert.Zero(t, p.GamesWon)
	assert.Empty(t, p.RecentGames)
}

func TestCreatePlayerValidation(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodPost, "/api/v1/players", map[string]string{"id": "p1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInvalidName, errorCode(t, rr))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/players", bytes.NewBufferString("{"))
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInvalidRequest, errorCode(t, rr))
}

func TestRenamePlayer(t *testing.T) {
	ts := newTestServer(t)
	createPlayer(t, ts, "p1", "Alice")

	rr := ts.request(http.MethodPatch, "/api/v1/players/p1", map[string]string{"name": "Alicia"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Alicia", decode[response.Player](t, rr).Name)

	rr = ts.request(http.MethodPatch, "/api/v1/players/ghost", map[string]string{"name": "Boo"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apierr.CodePlayerNotFound, errorCode(t, rr))
}

func TestGetLobbyAutoInitializes(t *testing.T) {
	ts := newTestServer(t)
	ts.app.MockIDs.QueueGameIDs("G")

	rr := ts.request(http.MethodGet, "/api/v1/lobbies/L", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	l := decode[response.Lobby](t, rr)
	assert.Equal(t, "L", l.ID)
	assert.Equal(t, "G", l.GameID)
	assert.Empty(t, l.Slot1)
	assert.False(t, l.Full)
}

func TestJoinLobbyUnknownPlayer(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodPost, "/api/v1/lobbies/L/join", map[string]string{"player_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apierr.CodePlayerNotFound, errorCode(t, rr))
}

func TestGetUnknownGame(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/games/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apierr.CodeGameNotFound, errorCode(t, rr))
}

func TestFullMatchOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.app.MockIDs.QueueGameIDs("G")
	createPlayer(t, ts, "p1", "Alice")
	createPlayer(t, ts, "p2", "Bob")

	// Both players join the lobby
	rr := ts.request(http.MethodPost, "/api/v1/lobbies/L/join", map[string]string{"player_id": "p1"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ts.request(http.MethodPost, "/api/v1/lobbies/L/join", map[string]string{"player_id": "p2"})
	require.Equal(t, http.StatusOK, rr.Code)
	l := decode[response.Lobby](t, rr)
	assert.True(t, l.Full)
	assert.Equal(t, "G", l.GameID)
	ts.settle(t)

	// p1 moves; the pending throw is hidden from the view
	rr = move(ts, "G", "p1", "rock")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	g := decode[response.Game](t, rr)
	assert.True(t, g.Started)
	assert.Empty(t, g.FirstPlayer.Moves)
	assert.Equal(t, 1, g.FirstPlayer.MoveCount)

	// p1 cannot move twice in a row
	rr = move(ts, "G", "p1", "PAPER")
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
	assert.Equal(t, apierr.CodeInvalidMoveOrder, errorCode(t, rr))

	rr = move(ts, "G", "p2", "lizard")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInvalidMove, errorCode(t, rr))

	require.Equal(t, http.StatusOK, move(ts, "G", "p2", "SCISSORS").Code)
	require.Equal(t, http.StatusOK, move(ts, "G", "p1", "ROCK").Code)
	rr = move(ts, "G", "p2", "SCISSORS")
	require.Equal(t, http.StatusOK, rr.Code)

	g = decode[response.Game](t, rr)
	assert.Equal(t, 2, g.CompletedRounds)
	assert.Equal(t, []string{"ROCK", "ROCK"}, g.FirstPlayer.Moves)
	assert.Equal(t, 2, g.FirstPlayer.Score)
	assert.Equal(t, "p1", g.WinnerID)

	rr = move(ts, "G", "p1", "ROCK")
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
	assert.Equal(t, apierr.CodeGameOver, errorCode(t, rr))

	// Event log: created, started, four moves, then the result
	rr = ts.request(http.MethodGet, "/api/v1/games/G/events", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	events := decode[[]map[string]any](t, rr)
	require.Len(t, events, 7)
	assert.Equal(t, "game-over", events[6]["type"])

	// The result reaches the leaderboard
	ts.settle(t)
	rr = ts.request(http.MethodGet, "/api/v1/leaderboard?limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	board := decode[response.Leaderboard](t, rr)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, 1, board.Entries[0].Rank)
	assert.Equal(t, "p1", board.Entries[0].PlayerID)
	assert.InDelta(t, 10.0, board.Entries[0].Score, 1e-9)

	rr = ts.request(http.MethodGet, "/api/v1/leaderboard/players/p2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[response.LeaderboardEntry](t, rr).GamesLost)
}

func TestLeaderboardLimitValidation(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/leaderboard?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apierr.CodeInvalidLimit, errorCode(t, rr))

	rr = ts.request(http.MethodGet, "/api/v1/leaderboard?limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.request(http.MethodGet, "/api/v1/leaderboard/players/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStreamFinishedGameReplaysLog(t *testing.T) {
	ts := newTestServer(t)
	createPlayer(t, ts, "p1", "Alice")
	createPlayer(t, ts, "p2", "Bob")
	_, err := ts.app.GameController.StartGame(context.Background(), "G", "p1", "p2")
	require.NoError(t, err)
	for _, m := range [][2]string{{"p1", "PAPER"}, {"p2", "ROCK"}, {"p1", "PAPER"}, {"p2", "ROCK"}} {
		require.Equal(t, http.StatusOK, move(ts, "G", m[0], m[1]).Code)
	}

	// the stream ends by itself once the log holds the result
	rr := ts.request(http.MethodGet, "/api/v1/games/G/stream", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	assert.Equal(t, 6, strings.Count(body, "\nevent: "))
	assert.True(t, strings.HasPrefix(body, "id: 1\nevent: game-started\n"))
	assert.Contains(t, body, "id: 6\nevent: game-over\n")
}

func TestStreamUnknownGame(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/games/nope/stream", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apierr.CodeGameNotFound, errorCode(t, rr))
}

func TestStreamFollowsLiveMoves(t *testing.T) {
	ts := newTestServer(t)
	server := httptest.NewServer(ts.handler)
	defer server.Close()

	createPlayer(t, ts, "p1", "Alice")
	createPlayer(t, ts, "p2", "Bob")
	_, err := ts.app.GameController.StartGame(context.Background(), "G", "p1", "p2")
	require.NoError(t, err)
	ts.settle(t)

	resp, err := http.Get(server.URL + "/api/v1/games/G/stream")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan string, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				events <- name
			}
		}
	}()

	next := func() string {
		t.Helper()
		select {
		case name := <-events:
			return name
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for stream event")
			return ""
		}
	}

	// backlog first
	assert.Equal(t, "game-started", next())

	require.Equal(t, http.StatusOK, move(ts, "G", "p1", "ROCK").Code)
	assert.Equal(t, "move-made", next())

	require.Equal(t, http.StatusOK, move(ts, "G", "p2", "PAPER").Code)
	require.Equal(t, http.StatusOK, move(ts, "G", "p1", "ROCK").Code)
	require.Equal(t, http.StatusOK, move(ts, "G", "p2", "PAPER").Code)

	var rest []string
	for name := range events {
		rest = append(rest, name)
	}
	// the stream closes after the result; a redelivered event may repeat
	require.NotEmpty(t, rest)
	assert.Equal(t, "game-over", rest[len(rest)-1])
	assert.Contains(t, rest, "move-made")
}
