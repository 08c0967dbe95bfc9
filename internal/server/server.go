// Package server composes the HTTP gateway: global middleware, per-group rate
// limiting, authentication gates and handlers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"entornos-api-go/internal/auth"
	"entornos-api-go/internal/config"
	"entornos-api-go/internal/handlers"
	"entornos-api-go/internal/metrics"
	"entornos-api-go/internal/push"
	"entornos-api-go/internal/ratelimit"
	"entornos-api-go/internal/store"
)

const (
	loginLimitMessage   = "Demasiados intentos de login. Intenta de nuevo en 15 minutos."
	generalLimitMessage = "Demasiadas solicitudes. Intenta de nuevo en 5 minutos."

	shutdownTimeout = 10 * time.Second
)

// EventBus carries dispatch events: the dispatcher publishes, the admin
// stream subscribes.
type EventBus interface {
	push.EventPublisher
	handlers.EventSource
}

// Deps are the collaborators the gateway does not build itself.
type Deps struct {
	Store  store.Store
	Sender push.Sender
	// Events is optional.
	Events EventBus
	// Registry defaults to a fresh registry.
	Registry *prometheus.Registry
	// Now defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	cfg     *config.Config
	router  *gin.Engine
	handler *handlers.Handler
	metrics *metrics.Metrics

	loginLimiter   *ratelimit.Limiter
	generalLimiter *ratelimit.Limiter
}

func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Sender == nil {
		return nil, errors.New("server: store and sender are required")
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	codec, err := auth.NewCodec(cfg.JWTSecret, cfg.JWTIssuer,
		auth.WithLifetimes(cfg.TokenTTLTemporal, cfg.TokenTTLExtendido),
		auth.WithClock(deps.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	m := metrics.New(deps.Registry)

	opts := []push.Option{
		push.WithWorkers(cfg.PushWorkers),
		push.WithSendTimeout(cfg.PushSendTimeout),
		push.WithMetrics(m),
		push.WithClock(deps.Now),
	}
	if deps.Events != nil {
		opts = append(opts, push.WithEvents(deps.Events))
	}
	dispatcher := push.NewDispatcher(deps.Store, deps.Store, deps.Sender, opts...)

	h := handlers.NewHandler(deps.Store, codec, dispatcher, cfg.VAPIDPublicKey)
	h.Metrics = m
	h.Now = deps.Now
	if deps.Events != nil {
		h.Events = deps.Events
	}

	router := gin.New()
	// With no trusted proxies ClientIP is the socket address, so a client
	// cannot pick its own rate-limit key through X-Forwarded-For.
	if err := router.SetTrustedProxies(cfg.TrustedProxyList()); err != nil {
		return nil, fmt.Errorf("server: TRUSTED_PROXIES: %w", err)
	}
	router.Use(handlers.Recovery())
	router.Use(gin.Logger())
	router.Use(handlers.CORS(cfg.FrontendURL))
	router.Use(handlers.SecurityHeaders())
	router.Use(handlers.BodyLimit(cfg.MaxBodyBytes))
	router.Use(handlers.RequestMetrics(m))

	s := &Server{
		cfg:            cfg,
		router:         router,
		handler:        h,
		metrics:        m,
		loginLimiter:   ratelimit.New("login", cfg.LoginRateWindow, cfg.LoginRateLimit, ratelimit.WithClock(deps.Now)),
		generalLimiter: ratelimit.New("general", cfg.GeneralRateWindow, cfg.GeneralRateLimit, ratelimit.WithClock(deps.Now)),
	}
	s.setupRoutes(deps.Registry)
	return s, nil
}

func (s *Server) setupRoutes(reg *prometheus.Registry) {
	h := s.handler
	r := s.router

	strict := handlers.RateLimit(s.loginLimiter, loginLimitMessage, s.metrics)
	lenient := handlers.RateLimit(s.generalLimiter, generalLimitMessage, s.metrics)
	required := h.RequireAuth()
	admin := handlers.RequireAdmin()

	// Health checks and the Prometheus scrape share the general budget.
	r.GET("/health", lenient, h.HealthHandler)
	r.GET("/metrics", lenient, gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	r.POST("/login", strict, h.LoginHandler)

	users := r.Group("/users", lenient)
	{
		users.POST("/registro", h.RegisterHandler)
	}

	authGroup := r.Group("/auth", lenient, required)
	{
		authGroup.GET("/me", h.MeHandler)
		authGroup.POST("/2fa/setup", h.Setup2FAHandler)
		authGroup.POST("/2fa/enable", h.Enable2FAHandler)
		authGroup.POST("/2fa/disable", h.Disable2FAHandler)
		authGroup.POST("/2fa/disable/:userId", admin, h.AdminDisable2FAHandler)
	}

	entornos := r.Group("/entornos", lenient)
	{
		owner := handlers.RequireOwnerOrAdmin(h.EntornoOwners(), "id")

		entornos.GET("", h.OptionalAuth(), h.ListEntornosHandler)
		entornos.POST("/crear-entornos", required, h.CreateEntornoHandler)
		entornos.PATCH("/cambiar-estado/:id", required, h.CambiarEstadoHandler)
		entornos.PUT("/editar/:id", required, owner, h.EditarEntornoHandler)
		entornos.DELETE("/eliminar/:id", required, owner, h.EliminarEntornoHandler)
	}

	pushGroup := r.Group("/push", lenient)
	{
		pushGroup.GET("/vapid-key", h.GetVAPIDKeyHandler)

		pushGroup.POST("/subscribe", required, h.SubscribePushHandler)
		pushGroup.POST("/unsubscribe", required, h.UnsubscribePushHandler)
		pushGroup.GET("/subscriptions", required, h.GetSubscriptionsHandler)
		pushGroup.POST("/send", required, h.SendPushHandler)

		pushGroup.POST("/send-to-all", required, admin, h.SendPushToAllHandler)
		pushGroup.POST("/send-to-user/:userId", required, admin, h.SendPushToUserHandler)
		pushGroup.GET("/subscriptions/:userId", required, admin, h.GetUserSubscriptionsHandler)
		pushGroup.GET("/events", required, admin, h.PushEventsHandler)
	}
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SeedAdmin creates the configured default administrator, if any.
func (s *Server) SeedAdmin(ctx context.Context) error {
	if !s.cfg.SeedAdmin() {
		return nil
	}
	return s.handler.InitAdmin(ctx, s.cfg.AdminEmail, s.cfg.AdminPassword)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Println("Listening on " + srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
