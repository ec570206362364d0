package redisbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/rpsleague/internal/bus"
	"github.com/mcoot/rpsleague/internal/testutil"
)

type BusSuite struct {
	suite.Suite
	mini   *miniredis.Miniredis
	client *redis.Client
	bus    *Bus
	ctx    context.Context
}

func TestBusSuite(t *testing.T) {
	suite.Run(t, new(BusSuite))
}

func (s *BusSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mini.Addr()})
	s.bus = New(s.client, testConfig(), testutil.NopLogger())
	s.ctx = context.Background()
}

func (s *BusSuite) TearDownTest() {
	_ = s.bus.Close()
	_ = s.client.Close()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Block = 20 * time.Millisecond
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 5 * time.Millisecond
	return cfg
}

// collector records delivered messages and signals each one on a channel
type collector struct {
	mu   sync.Mutex
	msgs []bus.Message
	ch   chan bus.Message
}

func newCollector() *collector {
	return &collector{ch: make(chan bus.Message, 64)}
}

func (c *collector) handle(_ context.Context, msg bus.Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	c.ch <- msg
	return nil
}

func (s *BusSuite) receive(c *collector) bus.Message {
	select {
	case msg := <-c.ch:
		return msg
	case <-time.After(5 * time.Second):
		s.FailNow("timed out waiting for delivery")
		return bus.Message{}
	}
}

func (s *BusSuite) TestPublishAndDeliver() {
	c := newCollector()
	s.Require().NoError(s.bus.Subscribe(bus.TopicLobbyState, "lobby-saga", c.handle))
	s.Require().NoError(s.bus.Start(s.ctx))

	s.Require().NoError(s.bus.Publish(s.ctx, bus.Message{Topic: bus.TopicLobbyState, Key: "L", Payload: []byte(`{"id":"L"}`)}))

	msg := s.receive(c)
	s.Equal(bus.TopicLobbyState, msg.Topic)
	s.Equal("L", msg.Key)
	s.JSONEq(`{"id":"L"}`, string(msg.Payload))
}

func (s *BusSuite) TestDeliversInStreamOrder() {
	c := newCollector()
	s.Require().NoError(s.bus.Subscribe(bus.TopicGameEvents, "game-saga", c.handle))
	s.Require().NoError(s.bus.Start(s.ctx))

	for _, p := range []string{"1", "2", "3", "4"} {
		s.Require().NoError(s.bus.Publish(s.ctx, bus.Message{Topic: bus.TopicGameEvents, Key: "g", Payload: []byte(p)}))
	}

	var got []string
	for range 4 {
		got = append(got, string(s.receive(c).Payload))
	}
	s.Equal([]string{"1", "2", "3", "4"}, got)
}

func (s *BusSuite) TestBacklogPublishedBeforeStartIsDelivered() {
	s.Require().NoError(s.bus.Publish(s.ctx, bus.Message{Topic: bus.TopicPlayerState, Key: "p1", Payload: []byte("early")}))

	c := newCollector()
	s.Require().NoError(s.bus.Subscribe(bus.TopicPlayerState, "leaderboard", c.handle))
	s.Require().NoError(s.bus.Start(s.ctx))

	s.Equal("early", string(s.receive(c).Payload))
}

func (s *BusSuite) TestFailedHandlerIsRetriedThenAcked() {
	var (
		mu       sync.Mutex
		attempts int
	)
	done := make(chan struct{})
	handler := func(context.Context, bus.Message) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("downstream unavailable")
		}
		close(done)
		return nil
	}
	s.Require().NoError(s.bus.Subscribe(bus.TopicPlayerState, "leaderboard", handler))
	s.Require().NoError(s.bus.Start(s.ctx))
	s.Require().NoError(s.bus.Publish(s.ctx, bus.Message{Topic: bus.TopicPlayerState, Key: "p1"}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.FailNow("handler never succeeded")
	}

	s.Eventually(func() bool {
		pending, err := s.client.XPending(s.ctx, streamKey(bus.TopicPlayerState), "leaderboard").Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func (s *BusSuite) TestPendingEntriesAreReplayedOnStart() {
	stream := streamKey(bus.TopicLobbyState)
	s.Require().NoError(s.client.XGroupCreateMkStream(s.ctx, stream, "lobby-saga", "0").Err())
	s.Require().NoError(s.bus.Publish(s.ctx, bus.Message{Topic: bus.TopicLobbyState, Key: "L", Payload: []byte("orphan")}))

	// a crashed consumer read the entry but never acknowledged it
	_, err := s.client.XReadGroup(s.ctx, &redis.XReadGroupArgs{
		Group:    "lobby-saga",
		Consumer: testConfig().Consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	s.Require().NoError(err)

	c := newCollector()
	s.Require().NoError(s.bus.Subscribe(bus.TopicLobbyState, "lobby-saga", c.handle))
	s.Require().NoError(s.bus.Start(s.ctx))

	s.Equal("orphan", string(s.receive(c).Payload))
}

func (s *BusSuite) TestSubscribeAfterStartFails() {
	s.Require().NoError(s.bus.Start(s.ctx))
	err := s.bus.Subscribe(bus.TopicLobbyState, "late", newCollector().handle)
	s.ErrorIs(err, bus.ErrStarted)
}

func (s *BusSuite) TestPublishAfterCloseFails() {
	s.Require().NoError(s.bus.Close())
	err := s.bus.Publish(s.ctx, bus.Message{Topic: bus.TopicLobbyState, Key: "L"})
	s.ErrorIs(err, bus.ErrClosed)
}
