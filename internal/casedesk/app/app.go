package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/gateway"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/metrics"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/service"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/store"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/store/drivers/filekv"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/store/drivers/sqlite"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/store/natsfeed"
	"github.com/aussiebroadwan/casedesk/pkg/cryptox"
	"github.com/aussiebroadwan/casedesk/pkg/idx"
	"github.com/aussiebroadwan/casedesk/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags "-X".
var BuildVersion = "v0.1.0"

const shutdownGracePeriod = 5 * time.Second

// Option customises an Application.
type Option func(*Application)

// WithNavigator sets where forced and remote logouts send the user.
func WithNavigator(n service.Navigator) Option {
	return func(a *Application) { a.nav = n }
}

// WithHooks sets the monitor's user interface callbacks.
func WithHooks(h service.Hooks) Option {
	return func(a *Application) { a.hooks = h }
}

// WithLogOutput redirects the application log.
func WithLogOutput(w io.Writer) Option {
	return func(a *Application) { a.logOutput = w }
}

// Application is one execution context: a credential store over the durable
// record, the gateway client, the session monitor and the synchronizers
// keeping it consistent with other contexts.
// recordWatcher is the change feed a driver offers over its own storage.
type recordWatcher interface {
	store.ChangeFeed
	Close() error
}

type Application struct {
	cfg    Config
	logger *slog.Logger
	origin idx.ID

	nav       service.Navigator
	hooks     service.Hooks
	logOutput io.Writer

	// Durable record and change feeds
	record  store.Record
	watcher recordWatcher
	feed    *natsfeed.Feed
	nc      *nats.Conn

	// Services
	metrics   *metrics.Metrics
	session   *service.CredentialStore
	client    *gateway.Client
	monitor   *service.Monitor
	keepAlive *service.KeepAlive
	syncers   []*service.Synchronizer

	server      *http.Server
	unsubscribe []func()
	started     bool
}

// New opens the durable record, restores any session in it and wires every
// component. Nothing runs until Start.
func New(cfg Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg:    cfg,
		origin: idx.New(),
	}
	for _, opt := range opts {
		opt(app)
	}

	app.logger = slogx.New(slogx.Config{
		Service: "casedesk",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  app.logOutput,
	}).With("origin", app.origin.String())

	if err := app.initRecord(); err != nil {
		return nil, err
	}
	app.initServices()

	return app, nil
}

func (app *Application) Config() Config                    { return app.cfg }
func (app *Application) Logger() *slog.Logger              { return app.logger }
func (app *Application) Origin() idx.ID                    { return app.origin }
func (app *Application) Session() *service.CredentialStore { return app.session }
func (app *Application) Client() *gateway.Client           { return app.client }
func (app *Application) Monitor() *service.Monitor         { return app.monitor }
func (app *Application) Metrics() *metrics.Metrics         { return app.metrics }

// ExtendSession pings the backend; the response rotates the credential.
func (app *Application) ExtendSession(ctx context.Context) error {
	_, err := app.client.Ping(ctx)
	return err
}

// Start begins monitoring the session and listening for changes made by
// other execution contexts. One-shot commands never call it.
func (app *Application) Start() {
	if app.started {
		return
	}
	app.started = true

	app.unsubscribe = append(app.unsubscribe,
		app.session.Subscribe(app.handleAuthChange),
		app.client.OnRotate(func(ev gateway.CredentialRotated) {
			app.monitor.Restart(ev.ExpiresAt)
		}),
	)

	app.monitor.Start()
	app.recordSession()

	for _, s := range app.syncers {
		s.Start()
	}
	if app.keepAlive != nil {
		app.keepAlive.Start()
	}

	app.logger.Info("session coordinator started",
		"driver", app.cfg.StoreDriver,
		"authenticated", app.session.IsAuthenticated(),
		"nats", app.feed != nil,
	)
}

// Run starts the application and blocks until ctx is done or a shutdown
// signal arrives. If a metrics address is configured it is served meanwhile.
func (app *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Start()

	serverErrors := make(chan error, 1)
	if app.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.metrics.Handler())
		app.server = &http.Server{
			Addr:              app.cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 3 * time.Second,
		}
		go func() {
			serverErrors <- app.server.ListenAndServe()
		}()
		app.logger.Info("metrics listening", "addr", app.cfg.MetricsAddr)
	}

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("metrics server failed: %w", err)
		}
	case <-ctx.Done():
		app.logger.Info("shutdown requested")
	}

	return app.Shutdown()
}

// Shutdown stops every component and closes the durable record.
func (app *Application) Shutdown() error {
	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("metrics server shutdown failed", "error", err)
			_ = app.server.Close()
		}
		app.server = nil
	}

	if app.keepAlive != nil && app.started {
		app.keepAlive.Stop()
	}
	for _, s := range app.syncers {
		s.Close()
	}
	for _, unsubscribe := range app.unsubscribe {
		unsubscribe()
	}
	app.unsubscribe = nil
	app.monitor.Close()
	app.session.Close()

	var errs []error
	if app.watcher != nil {
		errs = append(errs, app.watcher.Close())
	}
	if app.feed != nil {
		errs = append(errs, app.feed.Close())
	}
	if app.nc != nil {
		errs = append(errs, app.nc.Drain())
	}
	errs = append(errs, app.record.Close())
	app.started = false

	if err := errors.Join(errs...); err != nil {
		app.logger.Error("error closing durable record", "error", err)
		return err
	}
	app.logger.Info("session coordinator stopped")
	return nil
}

// initRecord opens the configured driver, applies sealing and attaches the
// change feeds.
func (app *Application) initRecord() error {
	if err := os.MkdirAll(app.cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	var base store.Record
	switch app.cfg.StoreDriver {
	case DriverSQLite:
		db, err := sqlite.NewStore(sqlite.DSN(app.cfg.DatabasePath()))
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.ApplyMigrations(); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply database migrations: %w", err)
		}
		watcher, err := sqlite.NewWatcher(db, app.logger, sqlite.DefaultPollInterval)
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to watch database: %w", err)
		}
		app.watcher = watcher
		base = db

	default:
		files, err := filekv.NewStore(app.cfg.StateDir)
		if err != nil {
			return fmt.Errorf("failed to open state directory: %w", err)
		}
		watcher, err := filekv.NewWatcher(files, app.logger)
		if err != nil {
			return fmt.Errorf("failed to watch state directory: %w", err)
		}
		app.watcher = watcher
		base = files
	}

	record := base
	if app.cfg.NATSURL != "" {
		feed, nc, err := natsfeed.Connect(app.cfg.NATSURL, app.cfg.NATSSubject, app.origin.String(), app.logger)
		if err != nil {
			app.closeRecord(base)
			return err
		}
		app.feed, app.nc = feed, nc
		record = feed.Wrap(record)
	}

	// Sealing wraps the feed so only sealed values are broadcast.
	var sealer cryptox.Sealer
	if app.cfg.RecordKeyFile != "" {
		s, err := cryptox.LoadRecordSealer(app.cfg.RecordKeyFile)
		if err != nil {
			app.closeRecord(base)
			return fmt.Errorf("failed to load record key: %w", err)
		}
		sealer = s
	}
	app.record = store.Sealed(record, sealer)

	app.logger.Debug("durable record opened", "driver", app.cfg.StoreDriver, "sealed", sealer != nil)
	return nil
}

func (app *Application) closeRecord(base store.Record) {
	if app.feed != nil {
		_ = app.feed.Close()
		app.nc.Close()
	}
	if app.watcher != nil {
		_ = app.watcher.Close()
	}
	_ = base.Close()
}

// initServices builds the credential store, gateway client and session
// components on top of the record.
func (app *Application) initServices() {
	app.metrics = metrics.New()

	app.session = service.NewCredentialStore(app.record, app.logger, nil)
	app.session.Init(context.Background())

	app.client = gateway.NewClient(app.cfg.APIURL, app.session)
	app.client.HTTPClient = gateway.NewHTTPClient(app.cfg.RequestTimeout, app.cfg.GatewayLimit, app.logger)
	app.client.Logger = app.logger.With("component", "gateway")
	app.client.Metrics = app.metrics

	app.monitor = service.NewMonitor(service.MonitorConfig{
		Store:            app.session,
		Extender:         app,
		Navigator:        app.nav,
		Logger:           app.logger,
		Hooks:            app.monitorHooks(),
		Metrics:          app.metrics,
		WarningThreshold: app.cfg.WarningThreshold,
	})

	if app.watcher != nil {
		app.syncers = append(app.syncers, service.NewSynchronizer(app.watcher, app.session, app.monitor, app.logger))
	}
	if app.feed != nil {
		app.syncers = append(app.syncers, service.NewSynchronizer(app.feed, app.session, app.monitor, app.logger))
	}

	if app.cfg.RefreshInterval > 0 {
		app.keepAlive = service.NewKeepAlive(app.session, app, app.logger, app.cfg.RefreshInterval, app.cfg.RefreshWindow)
	}
}

// monitorHooks adds the session gauges to the configured hooks.
func (app *Application) monitorHooks() service.Hooks {
	h := app.hooks
	onTick := h.OnTick
	h.OnTick = func(remaining time.Duration) {
		app.metrics.SetSession(true, remaining)
		if onTick != nil {
			onTick(remaining)
		}
	}
	return h
}

func (app *Application) handleAuthChange(change service.AuthChange) {
	app.monitor.HandleAuthChange(change)
	app.recordSession()
}

func (app *Application) recordSession() {
	snap := app.session.Snapshot()
	app.metrics.SetSession(snap.Authenticated, snap.Remaining)
}
