/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/timegate/internal/api"
	"github.com/friendsincode/timegate/internal/availability"
	"github.com/friendsincode/timegate/internal/booking"
	"github.com/friendsincode/timegate/internal/cache"
	"github.com/friendsincode/timegate/internal/clock"
	"github.com/friendsincode/timegate/internal/config"
	"github.com/friendsincode/timegate/internal/content"
	"github.com/friendsincode/timegate/internal/datelock"
	"github.com/friendsincode/timegate/internal/db"
	"github.com/friendsincode/timegate/internal/eventbus"
	"github.com/friendsincode/timegate/internal/events"
	"github.com/friendsincode/timegate/internal/publishing"
	"github.com/friendsincode/timegate/internal/telemetry"
	"github.com/friendsincode/timegate/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db     *gorm.DB
	cache  *cache.Cache
	bus    *events.Bus
	tracer *telemetry.TracerProvider

	services  *Services
	api       *api.API
	sweeper   *cron.Cron
	forwarder *eventbus.Forwarder

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server with all dependencies wired and background
// workers running.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warning := range cfg.LegacyEnvWarnings {
		logger.Warn().Str("config", "legacy_env").Msg(warning)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	// The event stream is long lived; everything else gets a request timeout.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	if err := srv.startBackgroundWorkers(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		// WebSocket handlers manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	tp, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "timegate",
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	s.tracer = tp
	s.DeferClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	})

	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		c, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
			c = cache.Disabled(s.logger)
		}
		s.cache = c
	} else {
		s.cache = cache.Disabled(s.logger)
	}
	s.DeferClose(func() error { return s.cache.Close() })

	var mirrors []content.Writer
	if s.cfg.S3Bucket != "" {
		mirror, err := content.NewS3Mirror(context.Background(), content.S3Config{
			Bucket:          s.cfg.S3Bucket,
			Region:          s.cfg.S3Region,
			Endpoint:        s.cfg.S3Endpoint,
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			UsePathStyle:    s.cfg.S3UsePathStyle,
			Prefix:          s.cfg.S3Prefix,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("init s3 mirror: %w", err)
		}
		mirrors = append(mirrors, mirror)
		s.logger.Info().Str("bucket", s.cfg.S3Bucket).Msg("content mirrored to s3")
	}

	svc, err := BuildServices(database, s.cfg, ServiceDeps{
		Clock:   clock.System{},
		Bus:     s.bus,
		Cache:   s.cache,
		Mirrors: mirrors,
	}, s.logger)
	if err != nil {
		return err
	}
	s.services = svc

	s.api = api.New(api.Services{
		Availability: svc.Availability,
		Ledger:       svc.Ledger,
		Catalog:      svc.Catalog,
		Queue:        svc.Queue,
		Scheduler:    svc.Scheduler,
		Content:      svc.Content,
		Bus:          s.bus,
	}, []byte(s.cfg.JWTSigningKey), s.logger)

	return nil
}

// Services groups the domain components shared by the HTTP server and the
// command line.
type Services struct {
	Availability *availability.Store
	Ledger       *booking.Ledger
	Catalog      *booking.Catalog
	Queue        *publishing.Queue
	Scheduler    *publishing.Scheduler
	Content      *content.DBStore
}

// ServiceDeps carries the collaborators BuildServices does not create itself.
type ServiceDeps struct {
	Clock   clock.Clock
	Bus     events.Publisher
	Cache   *cache.Cache
	Mirrors []content.Writer
}

// BuildServices wires the domain components over an open database.
func BuildServices(database *gorm.DB, cfg *config.Config, deps ServiceDeps, logger zerolog.Logger) (*Services, error) {
	policy, err := availability.ParseRemovalPolicy(cfg.SlotRemovalPolicy)
	if err != nil {
		return nil, err
	}

	// Slot edits and bookings for a date must serialise on the same lock.
	locks := datelock.New()

	store := availability.NewStore(database, availability.Options{
		Locker: locks,
		Clock:  deps.Clock,
		Bus:    deps.Bus,
		Cache:  deps.Cache,
		Policy: policy,
	}, logger)

	ledger := booking.NewLedger(database, booking.Options{
		Locker:     locks,
		Clock:      deps.Clock,
		Bus:        deps.Bus,
		Cache:      deps.Cache,
		PendingTTL: cfg.PendingBookingTTL,
	}, logger).WithPayment(booking.PaymentConfig{
		Secret:       []byte(cfg.JWTSigningKey),
		ReturnSecret: []byte(cfg.PaymentReturnSecret),
		TokenTTL:     cfg.PaymentTokenTTL,
		CheckoutURL:  cfg.CheckoutURL,
	})

	catalog := booking.NewCatalog(database, deps.Bus, deps.Cache, logger)

	dbStore := content.NewDBStore(database, logger)
	var writer content.Writer = dbStore
	if len(deps.Mirrors) > 0 {
		writer = content.NewMulti(dbStore, logger, deps.Mirrors...)
	}

	queue := publishing.NewQueue(database, cfg.Location, deps.Clock, deps.Bus, logger)
	scheduler := publishing.NewScheduler(database, queue, writer, deps.Clock, deps.Bus, publishing.Config{
		Interval:      cfg.PublishInterval,
		RetryDelay:    cfg.PublishRetryDelay,
		ExcerptLength: cfg.ExcerptLength,
	}, logger)

	return &Services{
		Availability: store,
		Ledger:       ledger,
		Catalog:      catalog,
		Queue:        queue,
		Scheduler:    scheduler,
		Content:      dbStore,
	}, nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.services.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("publish scheduler exited")
		}
	}()

	sweeper, err := newSweeper(s.cfg.ExpirySweepSpec, s.services.Ledger, s.logger)
	if err != nil {
		return err
	}
	s.sweeper = sweeper
	sweeper.Start()

	if sink, err := s.eventSink(); err != nil {
		s.logger.Warn().Err(err).Msg("event fan-out unavailable, continuing with in-process events only")
	} else if sink != nil {
		s.DeferClose(sink.Close)
		s.forwarder = eventbus.NewForwarder(s.bus, sink, s.cfg.NATSSubjectPrefix, s.logger)
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.forwarder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("event forwarder exited")
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	return nil
}

// eventSink picks the external event transport. NATS wins over Redis.
func (s *Server) eventSink() (eventbus.Sink, error) {
	switch {
	case s.cfg.NATSURL != "":
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		sink, err := eventbus.DialNATS(natsCfg, s.logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case s.cfg.EventsViaRedis:
		return eventbus.NewRedisSink(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB), nil
	}
	return nil, nil
}

func (s *Server) stopBackgroundWorkers() {
	if s.sweeper != nil {
		<-s.sweeper.Stop().Done()
		s.sweeper = nil
	}
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(r.Context(), s.db); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded","database":false}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","database":true}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
