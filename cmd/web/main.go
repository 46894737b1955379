package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-portal/config"
	"github.com/jwalitptl/clinic-portal/internal/apiclient"
	"github.com/jwalitptl/clinic-portal/internal/audit"
	"github.com/jwalitptl/clinic-portal/internal/email"
	"github.com/jwalitptl/clinic-portal/internal/handler/admin"
	"github.com/jwalitptl/clinic-portal/internal/handler/auth"
	"github.com/jwalitptl/clinic-portal/internal/handler/doctor"
	"github.com/jwalitptl/clinic-portal/internal/handler/health"
	"github.com/jwalitptl/clinic-portal/internal/handler/patient"
	promhandler "github.com/jwalitptl/clinic-portal/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-portal/internal/middleware"
	"github.com/jwalitptl/clinic-portal/internal/repository/memory"
	"github.com/jwalitptl/clinic-portal/internal/repository/postgres"
	redisrepo "github.com/jwalitptl/clinic-portal/internal/repository/redis"
	"github.com/jwalitptl/clinic-portal/internal/router"
	"github.com/jwalitptl/clinic-portal/internal/search"
	"github.com/jwalitptl/clinic-portal/internal/session"
	"github.com/jwalitptl/clinic-portal/internal/worker"
	"github.com/jwalitptl/clinic-portal/pkg/circuitbreaker"
	"github.com/jwalitptl/clinic-portal/pkg/logger"
	"github.com/jwalitptl/clinic-portal/pkg/metrics"
	"github.com/jwalitptl/clinic-portal/pkg/security"
)

// backends holds the lazily opened shared connections.
type backends struct {
	cfg   *config.Config
	redis *goredis.Client
	db    *sqlx.DB
}

func (b *backends) redisClient(ctx context.Context) (*goredis.Client, error) {
	if b.redis != nil {
		return b.redis, nil
	}
	client, err := redisrepo.NewClient(ctx, redisrepo.Config{
		URL:          b.cfg.Redis.URL,
		PoolSize:     b.cfg.Redis.PoolSize,
		MinIdleConns: b.cfg.Redis.MinIdleConns,
		MaxRetries:   b.cfg.Redis.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	b.redis = client
	return client, nil
}

func (b *backends) database(ctx context.Context) (*sqlx.DB, error) {
	if b.db != nil {
		return b.db, nil
	}
	db, err := postgres.NewDB(b.cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	b.db = db
	return db, nil
}

func (b *backends) Close() {
	if b.redis != nil {
		b.redis.Close()
	}
	if b.db != nil {
		b.db.Close()
	}
}

// sessionStore opens the configured backend. The returned cleaner is nil when
// the backend expires entries on its own.
func sessionStore(ctx context.Context, b *backends) (session.Store, worker.SessionCleaner, error) {
	switch b.cfg.Session.Backend {
	case "redis":
		client, err := b.redisClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		return redisrepo.NewSessionStore(client), nil, nil
	case "postgres":
		db, err := b.database(ctx)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewSessionStore(db)
		return store, store, nil
	default:
		return memory.NewSessionStore(b.cfg.Session.TTL, b.cfg.Session.CleanupInterval), nil, nil
	}
}

func apiCache(ctx context.Context, b *backends) (apiclient.Cache, error) {
	switch b.cfg.API.Cache {
	case "memory":
		return apiclient.NewMemoryCache(b.cfg.API.CacheTTL), nil
	case "redis":
		client, err := b.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return apiclient.NewRedisCache(client), nil
	default:
		return nil, nil
	}
}

func sealingKey(cfg config.SessionConfig, l zerolog.Logger) ([]byte, error) {
	if cfg.Key != "" {
		return security.ParseKey(cfg.Key)
	}
	if cfg.Backend != "memory" {
		return nil, errors.New("session.key is required for shared session backends")
	}
	l.Warn().Msg("session.key not set, using an ephemeral key; sessions will not survive a restart")
	return security.GenerateKey()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	l := logger.Setup(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	gin.SetMode(cfg.Server.Mode)
	if err := middleware.RegisterValidators(); err != nil {
		l.Fatal().Err(err).Msg("failed to register validators")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New("portal", reg)

	b := &backends{cfg: cfg}
	defer b.Close()

	store, cleaner, err := sessionStore(ctx, b)
	if err != nil {
		l.Fatal().Err(err).Str("backend", cfg.Session.Backend).Msg("failed to open session store")
	}
	if cleaner != nil {
		go worker.NewSessionCleanupWorker(cleaner, cfg.Session.CleanupInterval, logger.Component(l, "session-cleanup")).Start(ctx)
	}

	key, err := sealingKey(cfg.Session, l)
	if err != nil {
		l.Fatal().Err(err).Msg("invalid session key")
	}
	sealer, err := security.NewXChaChaEncryptor(key)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to create session sealer")
	}

	trail, err := audit.New(cfg.Audit)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to open audit trail")
	}
	defer trail.Sync()

	sessions := session.NewManager(store, sealer,
		session.WithTTL(cfg.Session.TTL),
		session.WithBackendName(cfg.Session.Backend),
		session.WithMetrics(m),
		session.WithLogger(logger.Component(l, "session")),
		session.WithExpireHook(trail.ForcedLogout),
	)

	cache, err := apiCache(ctx, b)
	if err != nil {
		l.Fatal().Err(err).Str("cache", cfg.API.Cache).Msg("failed to open API cache")
	}
	clientOpts := []apiclient.Option{
		apiclient.WithMetrics(m),
		apiclient.WithLogger(logger.Component(l, "apiclient")),
	}
	if cache != nil {
		clientOpts = append(clientOpts, apiclient.WithCache(cache))
	}
	if cfg.API.BreakerFailures > 0 {
		clientOpts = append(clientOpts, apiclient.WithBreaker(circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "clinic-api",
			MaxFailures: cfg.API.BreakerFailures,
			Timeout:     cfg.API.BreakerCooldown,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				l.Warn().Str("breaker", name).Str("from", string(from)).Str("to", string(to)).Msg("circuit breaker state changed")
			},
		})))
	}
	client := apiclient.New(apiclient.Config{
		BaseURL:  cfg.API.BaseURL,
		Timeout:  cfg.API.Timeout,
		CacheTTL: cfg.API.CacheTTL,
	}, clientOpts...)

	mailer := email.New(cfg.Email, logger.Component(l, "email"))
	searcher := search.NewService(client, search.NewDebouncer(cfg.Booking.SearchDebounce, m), logger.Component(l, "search"))

	authHandler := auth.NewHandler(client, sessions, trail, logger.Component(l, "auth"))
	patientHandler := patient.NewHandler(client, searcher, sessions, mailer, patient.Config{
		WindowDays:        cfg.Booking.WindowDays,
		AppointmentLength: cfg.Booking.AppointmentLength,
		MaxUploadBytes:    cfg.Booking.MaxUploadBytes,
	}, logger.Component(l, "patient"))
	doctorHandler := doctor.NewHandler(client, sessions, trail, mailer, cfg.Booking.AppointmentLength, logger.Component(l, "doctor"))
	adminHandler := admin.NewHandler(client, trail, logger.Component(l, "admin"))
	healthHandler := health.NewHandler(map[string]health.Checker{
		"sessions": sessions,
	})

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimit.Rate),
			Burst: cfg.RateLimit.Burst,
		})
	}

	r, err := router.NewRouter(router.Config{
		Logger:         logger.Component(l, "http"),
		Metrics:        m,
		Sessions:       sessions,
		Cookie:         middleware.CookieConfig{Name: cfg.Session.CookieName, Secure: cfg.Session.CookieSecure},
		Security:       middleware.DefaultSecurityConfig(cfg.Session.CookieSecure),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
		RateLimiter:    limiter,
	},
		authHandler,
		patientHandler,
		doctorHandler,
		adminHandler,
		healthHandler,
		promhandler.New(reg).Handler(),
	)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to build router")
	}
	r.Setup()

	srv := r.Server(fmt.Sprintf(":%d", cfg.Server.Port), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, 2*cfg.Server.WriteTimeout)

	go func() {
		l.Info().Int("port", cfg.Server.Port).Str("api", cfg.API.BaseURL).Str("sessions", cfg.Session.Backend).Msg("starting portal")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	l.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("server forced to shutdown")
	}

	if w, ok := mailer.(interface{ Wait() }); ok {
		waitOrTimeout(w.Wait, cfg.Server.ShutdownTimeout, l)
	}
	l.Info().Msg("server exited")
}

func waitOrTimeout(wait func(), timeout time.Duration, l zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		l.Warn().Msg("gave up waiting for pending emails")
	}
}
