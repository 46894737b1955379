package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-portal/internal/handler"
	"github.com/jwalitptl/clinic-portal/internal/middleware"
	"github.com/jwalitptl/clinic-portal/internal/model"
	"github.com/jwalitptl/clinic-portal/internal/session"
	"github.com/jwalitptl/clinic-portal/internal/web"
	"github.com/jwalitptl/clinic-portal/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// PublicHandler serves the pages reachable without a session. limit
// throttles its form posts.
type PublicHandler interface {
	RegisterRoutes(r gin.IRouter, limit gin.HandlerFunc)
}

type OpsHandler interface {
	RegisterRoutes(r gin.IRouter)
}

type Config struct {
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	Sessions       *session.Manager
	Cookie         middleware.CookieConfig
	Security       middleware.SecurityConfig
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	// RateLimiter throttles login and registration posts. Nil disables it.
	RateLimiter *middleware.RateLimiter
}

type Router struct {
	engine   *gin.Engine
	cfg      Config
	authH    PublicHandler
	patientH Handler
	doctorH  Handler
	adminH   Handler
	healthH  OpsHandler
	metricsH gin.HandlerFunc
}

func NewRouter(
	cfg Config,
	authH PublicHandler,
	patientH Handler,
	doctorH Handler,
	adminH Handler,
	healthH OpsHandler,
	metricsH gin.HandlerFunc,
) (*Router, error) {
	renderer, err := web.NewRenderer()
	if err != nil {
		return nil, err
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}

	engine := gin.New()
	engine.HTMLRender = renderer

	engine.Use(
		middleware.RequestID(),
		middleware.Logger(cfg.Logger, "/health", "/metrics", "/static"),
		middleware.Recovery(cfg.Logger),
		middleware.SecurityHeaders(cfg.Security),
		middleware.Metrics(cfg.Metrics),
	)

	return &Router{
		engine:   engine,
		cfg:      cfg,
		authH:    authH,
		patientH: patientH,
		doctorH:  doctorH,
		adminH:   adminH,
		healthH:  healthH,
		metricsH: metricsH,
	}, nil
}

// pageChain runs in front of every HTML page and form post.
func (r *Router) pageChain() []gin.HandlerFunc {
	chain := []gin.HandlerFunc{}
	if r.cfg.MaxBodyBytes > 0 {
		chain = append(chain, middleware.SizeLimit(r.cfg.MaxBodyBytes))
	}
	if r.cfg.RequestTimeout > 0 {
		chain = append(chain, middleware.Timeout(r.cfg.RequestTimeout))
	}
	return append(chain,
		middleware.ErrorHandler(r.cfg.Logger),
		middleware.LoadSession(r.cfg.Sessions, r.cfg.Cookie, r.cfg.Logger),
	)
}

func (r *Router) Setup() {
	// Operational endpoints never touch the session store.
	if r.healthH != nil {
		r.healthH.RegisterRoutes(r.engine)
	}
	if r.metricsH != nil {
		r.engine.GET("/metrics", r.metricsH)
	}
	r.engine.StaticFS("/static", web.Static())

	pages := r.engine.Group("", r.pageChain()...)

	limit := func(c *gin.Context) { c.Next() }
	if r.cfg.RateLimiter != nil {
		limit = r.cfg.RateLimiter.RateLimit()
	}
	r.authH.RegisterRoutes(pages, limit)

	r.patientH.RegisterRoutes(pages.Group("/patient", middleware.RequireRole(model.RolePatient)))
	r.doctorH.RegisterRoutes(pages.Group("/doctor", middleware.RequireRole(model.RoleDoctor)))
	r.adminH.RegisterRoutes(pages.Group("/admin", middleware.RequireRole(model.RoleAdmin)))

	notFound := append(r.pageChain(), func(c *gin.Context) {
		handler.NotFound(c, "")
	})
	r.engine.NoRoute(notFound...)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Server wraps the engine with the timeouts the page server runs under.
func (r *Router) Server(addr string, readTimeout, writeTimeout, idleTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.engine,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}
