// Package app wires the Dasma service runtime: config, logging, storage, the
// messaging session, notification fan-out and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dasma/cmd/internal/inbox"
	"dasma/cmd/internal/invite"
	"dasma/cmd/internal/messaging"
	messagingapi "dasma/cmd/internal/messaging/api"
	"dasma/cmd/internal/notify"
	notifyapi "dasma/cmd/internal/notify/api"
	"dasma/cmd/security/apikey"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// notifyBackend is what both notify stores provide.
type notifyBackend interface {
	notify.Store
	notify.Directory
}

// App is the service runtime. It owns every long-lived resource.
type App struct {
	cfg      Config
	log      Logger
	verifier apikey.Verifier
	throttle *failureThrottle
	registry *prometheus.Registry

	pool *pgxpool.Pool

	manager    *messaging.Manager
	dispatcher *notify.Dispatcher
	hub        *inbox.Hub
	inbox      *inbox.Gateway

	messagingAPI *messagingapi.Handler
	notifyAPI    *notifyapi.Handler

	factory messaging.DriverFactory
}

// Option customizes App construction.
type Option func(*App)

// WithDriverFactory replaces the production messaging driver.
func WithDriverFactory(f messaging.DriverFactory) Option {
	return func(a *App) { a.factory = f }
}

// New constructs a fully wired App. With no database URL every store is in memory.
func New(ctx context.Context, cfg Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	a := &App{
		cfg:      cfg,
		log:      log,
		verifier: apikey.NewVerifier(cfg.APIKey),
		throttle: newFailureThrottle(cfg.APIKeyMaxFailures, cfg.APIKeyFailureWindow),
		registry: newRegistry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.factory == nil {
		a.factory = messaging.NewWhatsmeowFactory(log, cfg.WADeviceName)
	}
	if cfg.WABrowserPath != "" {
		log.Info("messaging.browser_path.ignored", "reason", "native protocol driver")
	}

	notifyStore, inviteStore, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.wire(notifyStore, inviteStore); err != nil {
		a.closePool()
		return nil, err
	}

	log.Info("app.ready",
		"db_enabled", a.pool != nil,
		"api_key", a.verifier.Fingerprint(),
		"email", a.cfg.ResendAPIKey != "" || a.cfg.SMTPHost != "",
		"push", a.cfg.VAPIDPublicKey != "",
	)
	return a, nil
}

func (a *App) openStores(ctx context.Context) (notifyBackend, invite.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return notify.NewInMemoryStore(), invite.NewInMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	a.pool = pool
	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)

	ns, err := notify.NewPostgresStore(pool, notify.WithSchema(a.cfg.DBSchema))
	if err != nil {
		a.closePool()
		return nil, nil, err
	}
	is, err := invite.NewPostgresStore(pool, invite.WithSchema(a.cfg.DBSchema))
	if err != nil {
		a.closePool()
		return nil, nil, err
	}
	return ns, is, nil
}

func (a *App) wire(ns notifyBackend, is invite.Store) error {
	cfg, log := a.cfg, a.log

	manager, err := messaging.NewManager(a.factory,
		messaging.WithSessionDir(cfg.WASessionPath),
		messaging.WithDefaultCountryCode(cfg.WADefaultCountryCode),
		messaging.WithSendTimeout(cfg.WASendTimeout),
		messaging.WithLogger(log),
		messaging.WithMetrics(messaging.NewMetrics(a.registry)),
	)
	if err != nil {
		return err
	}
	a.manager = manager
	sender := messaging.NewSender(manager, cfg.Locale, log)

	var invitations messagingapi.Invitations
	if cfg.AppBaseURL != "" {
		svc, err := invite.NewService(is, sender, cfg.AppBaseURL, invite.WithLogger(log))
		if err != nil {
			return err
		}
		invitations = svc
	} else {
		log.Info("invite.disabled", "reason", "DASMA_APP_BASE_URL is not set")
	}

	a.messagingAPI, err = messagingapi.NewHandler(log, manager, sender, invitations)
	if err != nil {
		return err
	}

	a.hub = inbox.NewHub(log)
	a.inbox, err = inbox.NewGateway(log, a.hub, ns, inbox.GatewayConfig{
		AllowedOrigins: cfg.InboxAllowedOrigins,
		OriginRequired: cfg.InboxOriginRequired,
	})
	if err != nil {
		return err
	}

	opts := []notify.Option{
		notify.WithLogger(log),
		notify.WithMetrics(notify.NewMetrics(a.registry)),
		notify.WithPublisher(a.hub),
		notify.WithLocale(cfg.Locale),
		notify.WithExtraEmails(cfg.ExtraEmails...),
		notify.WithFallbackEmail(cfg.FallbackEmail),
		notify.WithDeepLink(cfg.DeepLink()),
		notify.WithDedupWindow(cfg.DedupWindow),
		notify.WithTimeout(cfg.NotifyTimeout),
	}
	if p := notify.NewEmailProvider(notify.EmailConfig{
		ResendAPIKey: cfg.ResendAPIKey,
		SMTPHost:     cfg.SMTPHost,
		SMTPPort:     cfg.SMTPPort,
		SMTPUser:     cfg.SMTPUser,
		SMTPPassword: cfg.SMTPPassword,
		From:         cfg.EmailFrom,
	}); p != nil {
		opts = append(opts, notify.WithEmail(p))
	}
	if p := notify.NewWebPushSender(notify.VAPIDConfig{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subject:    cfg.VAPIDSubject,
	}); p != nil {
		opts = append(opts, notify.WithPush(p))
	}

	a.dispatcher, err = notify.NewDispatcher(ns, ns, opts...)
	if err != nil {
		return err
	}
	a.notifyAPI, err = notifyapi.NewHandler(log, a.dispatcher, ns, cfg.VAPIDPublicKey)
	return err
}

// Manager exposes the messaging session (used by tests and the CLI).
func (a *App) Manager() *messaging.Manager { return a.manager }

// Run starts the HTTP server and blocks until ctx is cancelled or the server fails.
// Shutdown order: HTTP, background dispatches, messaging session, pool.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 60*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", srv.Addr, "db_enabled", a.pool != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	a.Close()

	a.log.Info("server.stopped")
	return runErr
}

// Close drains background work and releases resources. It is safe to call once
// after Run returns, or instead of Run in tests.
func (a *App) Close() {
	a.dispatcher.Wait()
	if err := a.manager.Close(); err != nil && !errors.Is(err, messaging.ErrClosed) {
		a.log.Error("messaging.close.fail", "err", err)
	}
	a.closePool()
}

func (a *App) closePool() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
