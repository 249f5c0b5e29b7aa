// -----------------------------------------------------------------------
// Last Modified: Friday, 28th August 2026 7:19:46 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/handlers"
	"github.com/ternarybob/specto/internal/interfaces"
	"github.com/ternarybob/specto/internal/jobs"
	"github.com/ternarybob/specto/internal/logapi"
	"github.com/ternarybob/specto/internal/queueapi"
	"github.com/ternarybob/specto/internal/services/events"
	"github.com/ternarybob/specto/internal/services/scheduler"
	"github.com/ternarybob/specto/internal/services/status"
	"github.com/ternarybob/specto/internal/stream"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	// External API clients
	QueueClient *queueapi.Client
	LogClient   *logapi.Client

	// Event-driven services
	EventService     interfaces.EventService
	StatusService    *status.Service
	SchedulerService *scheduler.Service

	// Job tracking and log streaming
	JobService *jobs.Service
	Relay      *stream.Relay

	// HTTP handlers
	WSHandler     *handlers.WebSocketHandler
	JobHandler    *handlers.JobHandler
	StatusHandler *handlers.StatusHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	app.EventService = events.NewService(logger)

	if err := app.initClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize API clients: %w", err)
	}

	app.initServices()
	app.initHandlers()

	app.startDepthBroadcaster()

	if len(cfg.Schedules) > 0 {
		if err := app.SchedulerService.Register(cfg.Schedules); err != nil {
			return nil, fmt.Errorf("failed to register schedules: %w", err)
		}
		app.SchedulerService.Start()
	}

	logger.Info().
		Str("queue_url", cfg.Queue.BaseURL).
		Str("log_source_url", cfg.LogSource.BaseURL).
		Int("schedules", len(cfg.Schedules)).
		Msg("Application initialization complete")

	return app, nil
}

// initClients builds the remote queue and log source clients from config
func (a *App) initClients() error {
	cfg := a.Config

	a.QueueClient = queueapi.NewClient(
		cfg.Queue.BaseURL,
		cfg.Queue.APIKey,
		queueapi.WithLogger(a.Logger),
		queueapi.WithTimeout(common.Duration(cfg.Queue.RequestTimeout, 0)),
	)

	a.LogClient = logapi.NewClient(
		cfg.LogSource.BaseURL,
		cfg.LogSource.APIKey,
		logapi.WithLogger(a.Logger),
		logapi.WithRateLimit(cfg.LogSource.RateLimit),
		logapi.WithTimeout(common.Duration(cfg.LogSource.RequestTimeout, 0)),
	)

	return nil
}

func (a *App) initServices() {
	cfg := a.Config

	a.JobService = jobs.NewService(a.QueueClient, a.EventService, a.Logger, cfg.Slots.Groups, jobs.HandleOptions{
		PollInterval: common.Duration(cfg.Queue.PollInterval, 0),
		ElapsedTick:  common.Duration(cfg.Queue.ElapsedTick, 0),
	})

	a.Relay = stream.NewRelay(a.LogClient, a.Logger, stream.RelayOptions{
		PollInterval: common.Duration(cfg.LogSource.PollInterval, 0),
		LiveWindow:   common.Duration(cfg.LogSource.LiveWindow, 0),
		BatchLimit:   cfg.LogSource.BatchLimit,
		DedupMax:     cfg.Stream.DedupMax,
		DedupTrim:    cfg.Stream.DedupTrim,
		OnStatus:     a.publishStreamStatus,
	})

	a.StatusService = status.NewService(a.EventService, a.Logger)
	a.StatusService.SubscribeToJobEvents()

	a.SchedulerService = scheduler.NewService(a.JobService, a.Logger)
}

func (a *App) initHandlers() {
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Relay, a.Logger, &a.Config.WebSocket)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StatusService, a.Logger)
}

// publishStreamStatus surfaces relay subscription lifecycle notices on the
// event bus so dashboard clients can show per-stream health.
func (a *App) publishStreamStatus(status stream.StreamStatus) {
	if err := a.EventService.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventStreamStatus,
		Payload: status,
	}); err != nil {
		a.Logger.Warn().
			Err(err).
			Str("subscription_id", status.SubscriptionID).
			Msg("Failed to publish stream status event")
	}
}

// startDepthBroadcaster periodically samples queue depth so connected
// websocket clients see counts change without issuing their own requests.
// QueueDepth publishes the result through the event service as a side effect.
func (a *App) startDepthBroadcaster() {
	interval := common.Duration(a.Config.Queue.DepthInterval, 5*time.Second)

	common.SafeGoWithContext(a.ctx, a.Logger, "queue-depth-broadcast", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-a.ctx.Done():
				return
			case <-ticker.C:
				if _, err := a.JobService.QueueDepth(a.ctx); err != nil {
					a.Logger.Debug().Err(err).Msg("Queue depth sample failed")
				}
			}
		}
	})
}

// Close shuts down services in reverse dependency order
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}

	if a.Relay != nil {
		a.Relay.Shutdown()
		a.Logger.Info().Msg("Log stream relay stopped")
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
