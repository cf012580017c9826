package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	alerts "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Alerts"
	client "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Client"
	config "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Config"
	"gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Dashboard/health"
	"gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Dashboard/live"
	"gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Dashboard/middleware"
	logger "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Logger"
	poller "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Poller"
	publisher "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Publisher"
	implementation "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Repository/Implementation"
	session "gitlab.com/maplesense1/iot.dashboard/src/production/IOT.Session"
)

// Container manages dependencies and their lifecycle
type Container struct {
	config *config.Config
	logger *logger.Logger

	sessions *session.Store
	api      *client.Client
	poller   *poller.Poller
	hub      *live.Hub
	health   *health.HealthChecker

	// Optional components, nil when disabled in configuration
	publisher *publisher.Publisher
	archive   *implementation.MongoReadingArchive
	writer    *implementation.ArchiveWriter
	monitor   *alerts.BatteryMonitor

	// Mutex for thread-safe access
	mu sync.Mutex

	cancel       context.CancelFunc
	started      bool
	shutdown     bool
	cleanupFuncs []func(ctx context.Context) error
}

// NewContainer loads configuration and builds every component
func NewContainer() (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging)
	return Build(cfg, log)
}

// Build wires the components described by cfg. Nothing runs until Start.
func Build(cfg *config.Config, log *logger.Logger) (*Container, error) {
	rate, err := poller.ParseRefreshRate(cfg.Poller.RefreshRateMs)
	if err != nil {
		return nil, err
	}

	c := &Container{
		config: cfg,
		logger: log,
		hub:    live.NewHub(log),
		health: health.NewHealthChecker(),
	}

	repo := implementation.NewFileSessionRepository(cfg.Session.FilePath)
	c.sessions = session.NewStore(repo, log)

	c.api = client.New(cfg.API, c.sessions, log, client.WithUnauthorizedHandler(c.onUnauthorized))

	c.poller = poller.New(c.api, log, poller.Options{CriticalBattery: cfg.Alerts.BatteryCriticalPercent})
	if err := c.poller.SetRefreshRate(rate); err != nil {
		return nil, err
	}
	c.poller.AddObserver(c.hub)

	// Every logout, whether the user asked for it or the backend rejected
	// the token, unmounts the live view and sends open pages to the login page.
	c.sessions.Subscribe(func(ev session.Event) {
		if ev.Kind != session.EventLogout {
			return
		}
		c.poller.Stop()
		c.hub.BroadcastLogout(middleware.LoginPath)
	})

	c.health.Register("backend", c.api.Health)

	notifiers := []alerts.Notifier{alerts.NewLogNotifier(log)}

	if cfg.MQTTEnabled() {
		c.publisher = publisher.New(cfg, log)
		c.poller.AddObserver(c.publisher)
		notifiers = append(notifiers, c.publisher)
		c.health.RegisterOptional("mqtt", func(context.Context) error {
			if !c.publisher.IsConnected() {
				return errors.New("not connected to broker")
			}
			return nil
		})
	}

	if cfg.TelegramEnabled() {
		tg, err := alerts.NewTelegramNotifier(cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatIDs)
		if err != nil {
			log.ErrorWithError(err, "Telegram alerts disabled")
		} else {
			notifiers = append(notifiers, tg)
		}
	}

	c.monitor = alerts.NewBatteryMonitor(cfg.Alerts.BatteryCriticalPercent, log, notifiers...)
	c.poller.AddObserver(c.monitor)

	return c, nil
}

// Start connects the optional backends and starts the background loops
func (c *Container) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.started = true

	go c.hub.Run(ctx)
	c.addCleanupLocked(func(context.Context) error {
		cancel()
		return nil
	})

	if c.publisher != nil {
		if err := c.publisher.Start(); err != nil {
			return fmt.Errorf("failed to start MQTT publisher: %w", err)
		}
		c.addCleanupLocked(func(context.Context) error {
			c.publisher.Stop()
			return nil
		})
	}

	if c.config.ArchiveEnabled() {
		archive, err := implementation.ConnectMongoReadingArchive(c.config.Archive, 20*time.Second)
		if err != nil {
			return fmt.Errorf("failed to connect telemetry archive: %w", err)
		}
		c.archive = archive
		c.addCleanupLocked(archive.Close)
		c.health.RegisterOptional("mongo", archive.Ping)

		c.writer = implementation.NewArchiveWriter(archive, c.config.Archive.BatchSize, c.config.Archive.BatchWindow, c.logger)
		c.writer.Start(ctx)
		c.addCleanupLocked(func(context.Context) error {
			c.writer.Stop()
			return nil
		})
		c.poller.AddObserver(poller.ObserverFunc(func(s poller.Snapshot) {
			c.writer.Enqueue(s.Series)
		}))
	}

	c.addCleanupLocked(c.poller.Shutdown)

	c.logger.Info("Container started")
	return nil
}

func (c *Container) onUnauthorized() {
	c.logger.Warn("backend rejected the session token")
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

func (c *Container) GetSessionStore() *session.Store {
	return c.sessions
}

func (c *Container) GetClient() *client.Client {
	return c.api
}

func (c *Container) GetPoller() *poller.Poller {
	return c.poller
}

func (c *Container) GetHub() *live.Hub {
	return c.hub
}

func (c *Container) GetHealthChecker() *health.HealthChecker {
	return c.health
}

// GetPublisher returns the MQTT publisher, or nil when it is disabled
func (c *Container) GetPublisher() *publisher.Publisher {
	return c.publisher
}

// DefaultRefreshRate is the configured rate live views mount with
func (c *Container) DefaultRefreshRate() poller.RefreshRate {
	rate, err := poller.ParseRefreshRate(c.config.Poller.RefreshRateMs)
	if err != nil {
		return poller.DefaultRate
	}
	return rate
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	c.logger.Info("Shutting down container...")

	var errs []error
	// Execute cleanup functions in reverse order
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
			errs = append(errs, err)
		}
	}

	c.logger.Info("Container shutdown complete")
	return errors.Join(errs...)
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addCleanupLocked(fn)
}

func (c *Container) addCleanupLocked(fn func(ctx context.Context) error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
