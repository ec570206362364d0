// Package memory provides an in-process bus. Each consumer group splits its
// messages across a fixed set of shards by key hash, and each shard delivers
// sequentially, so per-key order holds while different keys run in parallel.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"

	"github.com/mcoot/rpsleague/internal/bus"
)

// Config holds memory bus settings
type Config struct {
	// Shards is the number of sequential delivery lanes per consumer group.
	// A handler is retried until it succeeds, so a message whose handler keeps
	// failing holds its lane: later messages for every key hashed to that lane
	// wait behind it, while other lanes keep delivering. More shards narrow
	// what one stuck key can delay.
	Shards int

	// Redelivery backoff for failed handlers
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// DefaultConfig returns sensible defaults for the memory bus
func DefaultConfig() Config {
	return Config{
		Shards:               8,
		RetryInitialInterval: 50 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
	}
}

// Bus is an in-memory implementation of bus.Bus
type Bus struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	subs    map[bus.Topic][]*subscription
	started bool
	closed  bool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pending atomic.Int64
}

type subscription struct {
	topic    bus.Topic
	consumer string
	handler  bus.Handler
	shards   []*shard
}

// shard is an unbounded FIFO drained by a single worker
type shard struct {
	mu     sync.Mutex
	queue  []bus.Message
	notify chan struct{}
}

// New creates a new memory bus
func New(cfg Config, logger *slog.Logger) *Bus {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	return &Bus{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "bus")),
		subs:   make(map[bus.Topic][]*subscription),
	}
}

// Ensure Bus implements the interface
var _ bus.Bus = (*Bus)(nil)

// Subscribe registers a consumer group for a topic
func (b *Bus) Subscribe(topic bus.Topic, consumer string, handler bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return bus.ErrClosed
	}
	if b.started {
		return bus.ErrStarted
	}

	sub := &subscription{topic: topic, consumer: consumer, handler: handler}
	for range b.cfg.Shards {
		sub.shards = append(sub.shards, &shard{notify: make(chan struct{}, 1)})
	}
	b.subs[topic] = append(b.subs[topic], sub)
	return nil
}

// Publish enqueues the message for every consumer group on its topic.
// Messages published before Start are held until delivery begins.
func (b *Bus) Publish(ctx context.Context, msg bus.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return bus.ErrClosed
	}

	idx := xxhash.Sum64String(msg.Key) % uint64(b.cfg.Shards)
	for _, sub := range b.subs[msg.Topic] {
		b.pending.Add(1)
		sub.shards[idx].push(msg)
	}
	return nil
}

// Start launches one worker per shard per consumer group
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return bus.ErrClosed
	}
	if b.started {
		return bus.ErrStarted
	}
	b.started = true

	ctx, b.cancel = context.WithCancel(ctx)
	for _, subs := range b.subs {
		for _, sub := range subs {
			for i, sh := range sub.shards {
				b.wg.Add(1)
				go b.run(ctx, sub, i, sh)
			}
		}
	}
	b.logger.Info("bus started", slog.Int("shards", b.cfg.Shards))
	return nil
}

// Close stops delivery and waits for in-flight handlers to return.
// Undelivered messages are discarded.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	b.logger.Info("bus stopped", slog.Int64("undelivered", b.pending.Load()))
	return nil
}

// WaitIdle blocks until every published message has been handled
func (b *Bus) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for b.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (b *Bus) run(ctx context.Context, sub *subscription, idx int, sh *shard) {
	defer b.wg.Done()
	logger := b.logger.With(
		slog.String("topic", string(sub.topic)),
		slog.String("consumer", sub.consumer),
		slog.Int("shard", idx),
	)

	for {
		msg, ok := sh.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-sh.notify:
				continue
			}
		}

		if err := b.deliver(ctx, logger, sub.handler, msg); err != nil {
			return
		}
		b.pending.Add(-1)
	}
}

// deliver calls the handler until it succeeds. It only fails when ctx is done.
// Retries are uncapped: dropping the message would break at-least-once
// delivery, so the shard stays blocked instead.
func (b *Bus) deliver(ctx context.Context, logger *slog.Logger, handler bus.Handler, msg bus.Message) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.cfg.RetryInitialInterval
	policy.MaxInterval = b.cfg.RetryMaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, handler(ctx, msg)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("handler failed, redelivering",
				slog.String("key", msg.Key),
				slog.Duration("retry_in", next),
				slog.String("error", err.Error()))
		}),
	)
	return err
}

func (s *shard) push(msg bus.Message) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *shard) pop() (bus.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return bus.Message{}, false
	}
	msg := s.queue[0]
	s.queue[0] = bus.Message{}
	s.queue = s.queue[1:]
	return msg, true
}
