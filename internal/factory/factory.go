package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcoot/rpsleague/internal/bus"
	memorybus "github.com/mcoot/rpsleague/internal/bus/memory"
	"github.com/mcoot/rpsleague/internal/bus/redisbus"
	"github.com/mcoot/rpsleague/internal/dependencies/clock"
	"github.com/mcoot/rpsleague/internal/dependencies/ids"
	"github.com/mcoot/rpsleague/internal/metrics"
	"github.com/mcoot/rpsleague/internal/outbox"
	"github.com/mcoot/rpsleague/internal/services/game"
	"github.com/mcoot/rpsleague/internal/services/leaderboard"
	"github.com/mcoot/rpsleague/internal/services/lobby"
	"github.com/mcoot/rpsleague/internal/services/player"
	"github.com/mcoot/rpsleague/internal/services/retry"
	"github.com/mcoot/rpsleague/internal/services/saga"
	"github.com/mcoot/rpsleague/internal/sse"
	"github.com/mcoot/rpsleague/internal/storage"
	"github.com/mcoot/rpsleague/internal/storage/memory"
	redisstorage "github.com/mcoot/rpsleague/internal/storage/redis"
	"github.com/mcoot/rpsleague/internal/storage/sqlite"
	"github.com/mcoot/rpsleague/internal/telemetry"
)

// Backend type constants
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
	StorageTypeSQLite = "sqlite"

	BusTypeMemory = "memory"
	BusTypeRedis  = "redis"
)

// hubJanitorInterval is how often stream hubs without clients are closed
const hubJanitorInterval = time.Minute

// drainTimeout bounds how long Close waits for an in-process bus to deliver
// what it has already accepted
const drainTimeout = 5 * time.Second

// drainer is implemented by buses that hold accepted messages in memory
type drainer interface {
	WaitIdle(ctx context.Context) error
}

// App contains all wired application components
type App struct {
	// Infrastructure
	Storage storage.Storage
	Bus     bus.Bus
	Outbox  *outbox.Relay
	Metrics *metrics.Metrics

	// External dependencies
	Clock clock.Clock
	IDs   ids.Generator

	// Aggregates
	GameController  *game.Controller
	LobbyController *lobby.Controller
	PlayerService   *player.Service

	// Sagas and projections
	LobbyOrchestrator *saga.LobbyOrchestrator
	GameOrchestrator  *saga.GameOrchestrator
	Leaderboard       *leaderboard.Projection

	// Live game event streams
	Streams *sse.HubManager

	logger     *slog.Logger
	closers    []func() error
	stop       context.CancelFunc
	background sync.WaitGroup
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// Tracer is used for command and saga spans (optional)
	// If nil, a no-op tracer is used
	Tracer trace.Tracer

	// StorageType selects the storage backend ("memory", "redis" or "sqlite")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType or BusType is "redis")
	RedisConfig *redisstorage.Config
	// SQLitePath is the database file (required if StorageType is "sqlite")
	SQLitePath string

	// BusType selects the notification bus ("memory" or "redis")
	// If empty, defaults to "memory"
	BusType string
	// MemoryBusConfig overrides memorybus.DefaultConfig() when Shards is set
	MemoryBusConfig memorybus.Config
	// RedisBusConfig overrides redisbus.DefaultConfig() when Consumer is set
	RedisBusConfig redisbus.Config

	// StreamConsumer is the consumer group feeding live game streams.
	// With a shared bus every server instance needs a distinct group.
	// If empty, defaults to sse.Consumer
	StreamConsumer string

	// Retry bounds version-conflict retries; zero value uses retry.DefaultConfig()
	Retry retry.Config

	// Outbox configures the relay; zero fields use outbox.DefaultConfig()
	Outbox outbox.Config
}

// New creates a new application with all dependencies wired. The bus is
// not started; call Start once the process is ready to consume.
func New(cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.NoopTracer()
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxTries == 0 {
		retryCfg = retry.DefaultConfig()
	}

	var closers []func() error
	fail := func(err error) (*App, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	// Create storage based on type
	var (
		store       storage.Storage
		redisClient *redis.Client
	)
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		store = memory.New()
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		redisStore, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, fmt.Errorf("connect redis storage: %w", err)
		}
		store, redisClient = redisStore, redisStore.Client()
	case StorageTypeSQLite:
		if cfg.SQLitePath == "" {
			return nil, errors.New("SQLitePath required when StorageType is sqlite")
		}
		sqliteStore, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = sqliteStore
	default:
		return nil, errors.New("invalid StorageType: must be 'memory', 'redis' or 'sqlite'")
	}
	closers = append(closers, store.Close)

	// Create bus based on type
	var b bus.Bus
	busType := cfg.BusType
	if busType == "" {
		busType = BusTypeMemory
	}

	switch busType {
	case BusTypeMemory:
		busCfg := cfg.MemoryBusConfig
		if busCfg.Shards == 0 {
			busCfg = memorybus.DefaultConfig()
		}
		b = memorybus.New(busCfg, logger)
	case BusTypeRedis:
		if redisClient == nil {
			if cfg.RedisConfig == nil {
				return fail(errors.New("RedisConfig required when BusType is redis"))
			}
			opts, err := redis.ParseURL(cfg.RedisConfig.URL)
			if err != nil {
				return fail(fmt.Errorf("parse redis url: %w", err))
			}
			redisClient = redis.NewClient(opts)
			closers = append(closers, redisClient.Close)
		}
		busCfg := cfg.RedisBusConfig
		if busCfg.Consumer == "" {
			busCfg = redisbus.DefaultConfig()
		}
		b = redisbus.New(redisClient, busCfg, logger)
	default:
		return fail(errors.New("invalid BusType: must be 'memory' or 'redis'"))
	}

	streamConsumer := cfg.StreamConsumer
	if streamConsumer == "" {
		streamConsumer = sse.Consumer
	}

	app, err := newWithDependencies(store, b, clock.New(), ids.New(), metrics.New(), tracer, retryCfg, cfg.Outbox, streamConsumer, logger)
	if err != nil {
		_ = b.Close()
		return fail(err)
	}
	app.closers = closers
	return app, nil
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(
	store storage.Storage,
	b bus.Bus,
	clk clock.Clock,
	idGen ids.Generator,
	m *metrics.Metrics,
	tracer trace.Tracer,
	retryCfg retry.Config,
	outboxCfg outbox.Config,
	streamConsumer string,
	logger *slog.Logger,
) (*App, error) {
	relay := outbox.New(store, b, outboxCfg, m, logger)

	// Create aggregates
	gameController := game.NewController(store, relay, clk, m, tracer, retryCfg, logger)
	lobbyController := lobby.NewController(store, relay, clk, idGen, m, tracer, retryCfg, logger)
	playerService := player.New(store, relay, clk, m, tracer, retryCfg, logger)

	// Create sagas and projections
	lobbyOrchestrator := saga.NewLobbyOrchestrator(gameController, m, tracer, logger)
	gameOrchestrator := saga.NewGameOrchestrator(playerService, m, tracer, logger)
	projection := leaderboard.New(store, m, tracer, logger)

	// Create live streams
	hubs := sse.NewHubManager(logger)
	broadcaster := sse.NewBroadcaster(hubs, logger)

	subscriptions := []struct {
		topic    bus.Topic
		consumer string
		handler  bus.Handler
	}{
		{bus.TopicLobbyState, saga.LobbyConsumer, lobbyOrchestrator.Handle},
		{bus.TopicGameEvents, saga.GameConsumer, gameOrchestrator.Handle},
		{bus.TopicPlayerState, leaderboard.Consumer, projection.Handle},
		{bus.TopicGameEvents, streamConsumer, broadcaster.Handle},
	}
	for _, sub := range subscriptions {
		if err := b.Subscribe(sub.topic, sub.consumer, sub.handler); err != nil {
			return nil, fmt.Errorf("subscribe %s to %s: %w", sub.consumer, sub.topic, err)
		}
	}

	return &App{
		Storage:           store,
		Bus:               b,
		Outbox:            relay,
		Metrics:           m,
		Clock:             clk,
		IDs:               idGen,
		GameController:    gameController,
		LobbyController:   lobbyController,
		PlayerService:     playerService,
		LobbyOrchestrator: lobbyOrchestrator,
		GameOrchestrator:  gameOrchestrator,
		Leaderboard:       projection,
		Streams:           hubs,
		logger:            logger,
		closers:           []func() error{store.Close},
	}, nil
}

// Start begins consuming notifications, relaying the outbox and closing
// idle stream hubs. The relay's first flush publishes notifications a
// previous process stored but did not publish.
func (a *App) Start(ctx context.Context) error {
	if err := a.Bus.Start(ctx); err != nil {
		return err
	}
	bgCtx, cancel := context.WithCancel(context.Background())
	a.stop = cancel
	a.background.Add(2)
	go func() {
		defer a.background.Done()
		a.Outbox.Run(bgCtx)
	}()
	go func() {
		defer a.background.Done()
		a.Streams.RunJanitor(bgCtx, hubJanitorInterval)
	}()
	return nil
}

// Close disconnects stream clients, stops the relay, lets an in-process bus
// deliver what it holds, then stops the bus and releases storage and
// connections. Notifications still in the outbox are kept for the next start.
func (a *App) Close() error {
	if a.stop != nil {
		a.stop()
		a.background.Wait()
	}
	a.Streams.Close()

	if d, ok := a.Bus.(drainer); ok && a.stop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := d.WaitIdle(ctx); err != nil {
			a.logger.Warn("bus closed with undelivered messages", slog.String("error", err.Error()))
		}
		cancel()
	}

	errs := []error{a.Bus.Close()}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("application close failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}
