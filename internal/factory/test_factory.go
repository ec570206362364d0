package factory

import (
	"context"
	"time"

	memorybus "github.com/mcoot/rpsleague/internal/bus/memory"
	"github.com/mcoot/rpsleague/internal/dependencies/mocks"
	"github.com/mcoot/rpsleague/internal/metrics"
	"github.com/mcoot/rpsleague/internal/outbox"
	"github.com/mcoot/rpsleague/internal/services/retry"
	"github.com/mcoot/rpsleague/internal/sse"
	"github.com/mcoot/rpsleague/internal/storage/memory"
	"github.com/mcoot/rpsleague/internal/telemetry"
	"github.com/mcoot/rpsleague/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock *mocks.MockClock
	MockIDs   *mocks.MockIDs
	MemoryBus *memorybus.Bus
}

// NewTestApp creates an App configured for testing with mocked dependencies,
// in-memory storage and an in-memory bus with fast redelivery. The bus is
// not started.
func NewTestApp() *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockIDs := mocks.NewMockIDs()

	busCfg := memorybus.DefaultConfig()
	busCfg.Shards = 4
	busCfg.RetryInitialInterval = time.Millisecond
	busCfg.RetryMaxInterval = 10 * time.Millisecond
	logger := testutil.NopLogger()
	b := memorybus.New(busCfg, logger)

	retryCfg := retry.Config{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, MaxTries: 20}
	outboxCfg := outbox.Config{Interval: 10 * time.Millisecond, BatchSize: 100}
	app, err := newWithDependencies(store, b, mockClock, mockIDs, metrics.New(), telemetry.NoopTracer(), retryCfg, outboxCfg, sse.Consumer, logger)
	if err != nil {
		// subscribing to a fresh bus cannot fail
		panic(err)
	}

	return &TestApp{
		App:       app,
		MockClock: mockClock,
		MockIDs:   mockIDs,
		MemoryBus: b,
	}
}

// WaitIdle blocks until the outbox is empty and every notification,
// including the ones the handlers cause, has been handled
func (t *TestApp) WaitIdle(ctx context.Context) error {
	for {
		if err := t.Outbox.Flush(ctx); err != nil {
			return err
		}
		if err := t.MemoryBus.WaitIdle(ctx); err != nil {
			return err
		}
		pending, err := t.Storage.PendingNotifications(ctx, 1)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
	}
}
