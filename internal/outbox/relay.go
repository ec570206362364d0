// Package outbox publishes the notifications that services write to the
// store together with their state changes. A notification leaves the outbox
// only after the bus has accepted it, so a failed publish is retried rather
// than lost.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/rpsleague/internal/bus"
	"github.com/mcoot/rpsleague/internal/metrics"
	"github.com/mcoot/rpsleague/internal/storage"
)

// Config holds relay settings
type Config struct {
	// Interval between background flushes
	Interval time.Duration
	// BatchSize is how many notifications are read per store query
	BatchSize int
}

// DefaultConfig returns sensible defaults for the relay
func DefaultConfig() Config {
	return Config{
		Interval:  time.Second,
		BatchSize: 100,
	}
}

// Flusher publishes whatever is pending in the outbox
type Flusher interface {
	Flush(ctx context.Context) error
}

// Relay moves notifications from the store's outbox onto the bus in write order
type Relay struct {
	store     storage.OutboxStore
	publisher bus.Publisher
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// one flush at a time, so notifications for a key are published in order
	mu sync.Mutex
}

// Ensure Relay implements Flusher
var _ Flusher = (*Relay)(nil)

// New creates a new Relay
func New(store storage.OutboxStore, publisher bus.Publisher, cfg Config, metrics *metrics.Metrics, logger *slog.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "outbox")),
	}
}

// Notification converts a bus message into an outbox entry
func Notification(msg bus.Message) storage.Notification {
	return storage.Notification{Topic: string(msg.Topic), Key: msg.Key, Payload: msg.Payload}
}

func message(n storage.Notification) bus.Message {
	return bus.Message{Topic: bus.Topic(n.Topic), Key: n.Key, Payload: n.Payload}
}

// Flush publishes pending notifications until the outbox is empty or a
// publish fails. Notifications published before a failure are acknowledged;
// the failed one and everything after it stay pending.
func (r *Relay) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		pending, err := r.store.PendingNotifications(ctx, r.cfg.BatchSize)
		if err != nil {
			r.metrics.OutboxFailures.Inc()
			return fmt.Errorf("load outbox: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		sent := make([]string, 0, len(pending))
		var publishErr error
		for _, n := range pending {
			if publishErr = r.publisher.Publish(ctx, message(n)); publishErr != nil {
				publishErr = fmt.Errorf("publish %s notification for %s: %w", n.Topic, n.Key, publishErr)
				break
			}
			sent = append(sent, n.ID)
		}

		if len(sent) > 0 {
			// a failed ack republishes these on the next flush
			if err := r.store.AckNotifications(ctx, sent); err != nil {
				r.metrics.OutboxFailures.Inc()
				return fmt.Errorf("ack outbox: %w", err)
			}
			r.metrics.OutboxPublished.Add(float64(len(sent)))
		}
		if publishErr != nil {
			r.metrics.OutboxFailures.Inc()
			return publishErr
		}
		if len(pending) < r.cfg.BatchSize {
			return nil
		}
	}
}

// Run flushes immediately, then every Interval until ctx is done. The first
// flush delivers anything a previous process stored but did not publish.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("outbox flush failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
