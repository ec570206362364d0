// Package redisbus provides a bus backed by Redis Streams. Each topic is one
// stream and each consumer is a consumer group. Within one process a group
// reads its stream sequentially, so per-key order follows stream order.
// Processes sharing a group split its entries between them, so that order only
// holds while a single process runs each group. Entries are acknowledged only
// after the handler succeeds; entries left pending by a crashed process are
// replayed on the next start.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/mcoot/rpsleague/internal/bus"
)

const (
	streamPrefix = "rps:bus"
	fieldKey     = "key"
	fieldPayload = "payload"
)

// Config holds Redis stream bus settings
type Config struct {
	// Consumer names this process within each consumer group. A second
	// process with another name shares the group's entries and gives up
	// per-key ordering.
	Consumer string

	// Block is how long a read waits for new entries before polling again
	Block     time.Duration
	BatchSize int64

	// MaxLen caps each stream (approximate trimming). Zero disables trimming.
	MaxLen int64

	// Redelivery backoff for failed handlers
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// DefaultConfig returns sensible defaults for the Redis bus
func DefaultConfig() Config {
	return Config{
		Consumer:             "rps-1",
		Block:                time.Second,
		BatchSize:            32,
		MaxLen:               100_000,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     10 * time.Second,
	}
}

// Bus is a Redis Streams implementation of bus.Bus
type Bus struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	subs    []*subscription
	started bool
	closed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type subscription struct {
	topic   bus.Topic
	group   string
	handler bus.Handler
}

// New creates a Redis bus on an existing client. The client is not closed by Close.
func New(client *redis.Client, cfg Config, logger *slog.Logger) *Bus {
	return &Bus{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "redisbus")),
	}
}

// Ensure Bus implements the interface
var _ bus.Bus = (*Bus)(nil)

func streamKey(topic bus.Topic) string {
	return fmt.Sprintf("%s:%s", streamPrefix, topic)
}

// Publish appends the message to its topic's stream
func (b *Bus) Publish(ctx context.Context, msg bus.Message) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return bus.ErrClosed
	}

	args := &redis.XAddArgs{
		Stream: streamKey(msg.Topic),
		Values: map[string]any{fieldKey: msg.Key, fieldPayload: string(msg.Payload)},
	}
	if b.cfg.MaxLen > 0 {
		args.MaxLen = b.cfg.MaxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Topic, err)
	}
	return nil
}

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
	b.subs = append(b.subs, &subscription{topic: topic, group: consumer, handler: handler})
	return nil
}

// Start creates the consumer groups and launches one reader per group.
// A new group starts from the beginning of the stream.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return bus.ErrClosed
	}
	if b.started {
		return bus.ErrStarted
	}

	for _, sub := range b.subs {
		err := b.client.XGroupCreateMkStream(ctx, streamKey(sub.topic), sub.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create consumer group %s on %s: %w", sub.group, sub.topic, err)
		}
	}

	b.started = true
	ctx, b.cancel = context.WithCancel(ctx)
	for _, sub := range b.subs {
		b.wg.Add(1)
		go b.run(ctx, sub)
	}
	b.logger.Info("bus started", slog.Int("subscriptions", len(b.subs)))
	return nil
}

// Close stops the readers and waits for in-flight handlers to return
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
	b.logger.Info("bus stopped")
	return nil
}

func (b *Bus) run(ctx context.Context, sub *subscription) {
	defer b.wg.Done()
	logger := b.logger.With(
		slog.String("topic", string(sub.topic)),
		slog.String("consumer", sub.group),
	)

	// "0" replays this consumer's unacknowledged entries, ">" reads new ones
	cursor := "0"
	for ctx.Err() == nil {
		args := &redis.XReadGroupArgs{
			Group:    sub.group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{streamKey(sub.topic), cursor},
			Count:    b.cfg.BatchSize,
			Block:    b.cfg.Block,
		}
		if cursor == "0" {
			args.Block = -1
		}

		streams, err := b.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				cursor = ">"
				continue
			}
			if ctx.Err() != nil {
				return
			}
			logger.Error("stream read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.cfg.RetryInitialInterval):
			}
			continue
		}

		var read int
		for _, stream := range streams {
			for _, entry := range stream.Messages {
				read++
				if err := b.deliver(ctx, logger, sub, entry); err != nil {
					return
				}
			}
		}
		if cursor == "0" && read == 0 {
			cursor = ">"
		}
	}
}

// deliver calls the handler until it succeeds, then acknowledges the entry
func (b *Bus) deliver(ctx context.Context, logger *slog.Logger, sub *subscription, entry redis.XMessage) error {
	msg := bus.Message{Topic: sub.topic}
	msg.Key, _ = entry.Values[fieldKey].(string)
	if payload, ok := entry.Values[fieldPayload].(string); ok {
		msg.Payload = []byte(payload)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.cfg.RetryInitialInterval
	policy.MaxInterval = b.cfg.RetryMaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, sub.handler(ctx, msg)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("handler failed, redelivering",
				slog.String("entry_id", entry.ID),
				slog.String("key", msg.Key),
				slog.Duration("retry_in", next),
				slog.String("error", err.Error()))
		}),
	)
	if err != nil {
		return err
	}

	if err := b.client.XAck(ctx, streamKey(sub.topic), sub.group, entry.ID).Err(); err != nil {
		// the entry stays pending and is replayed on restart
		logger.Error("ack failed", slog.String("entry_id", entry.ID), slog.String("error", err.Error()))
	}
	return nil
}
