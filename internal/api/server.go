// Package api serves the read-only inspection surface: health, portfolio
// status, per-symbol strategy snapshots, Prometheus metrics and a websocket
// feed of engine events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"cryptoblade/internal/auth"
	"cryptoblade/internal/events"
	"cryptoblade/internal/logging"
	"cryptoblade/internal/orchestrator"
	"cryptoblade/internal/strategy"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Orchestrator is what the HTTP surface reads from the engine
type Orchestrator interface {
	Status() orchestrator.Status
	Healthy() bool
	Strategies() []strategy.Snapshot
	Strategy(symbol string) (strategy.Snapshot, bool)
}

// RateLimiter allows at most limit requests per key within window
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Middleware rejects clients over the limit with 429
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.ClientIP()) {
			errorResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	ProductionMode bool
	// RequestsPerMinute bounds /api requests per client IP; zero disables the limit
	RequestsPerMinute int
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	orch        Orchestrator
	jwtManager  *auth.JWTManager
	metrics     http.Handler
	hub         *WSHub
	rateLimiter *RateLimiter
	config      ServerConfig
	logger      zerolog.Logger
}

// NewServer builds the router. jwtManager, metrics and bus may be nil to leave
// the API open, drop /metrics and drop the event feed respectively.
func NewServer(
	config ServerConfig,
	orch Orchestrator,
	jwtManager *auth.JWTManager, // nil when auth is disabled
	metrics http.Handler, // nil when metrics are disabled
	bus *events.EventBus, // nil disables /api/events
	logger zerolog.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware(logger))
	router.Use(cors.New(corsConfig(config.AllowedOrigins)))

	s := &Server{
		router:     router,
		orch:       orch,
		jwtManager: jwtManager,
		metrics:    metrics,
		config:     config,
		logger:     logger.With().Str("component", "api").Logger(),
	}
	if config.RequestsPerMinute > 0 {
		s.rateLimiter = NewRateLimiter(config.RequestsPerMinute, time.Minute)
	}
	if bus != nil {
		s.hub = NewWSHub(s.logger)
		s.hub.Attach(bus)
	}

	s.setupRoutes()
	return s
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	cfg.ExposeHeaders = []string{"Content-Length"}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := s.router.Group("/api")
	if s.rateLimiter != nil {
		api.Use(s.rateLimiter.Middleware())
	}
	if s.jwtManager != nil {
		api.Use(auth.Middleware(s.jwtManager))
	}
	{
		api.GET("/status", s.handleStatus)
		api.GET("/strategies", s.handleStrategies)
		api.GET("/strategies/:symbol", s.handleStrategy)
		if s.hub != nil {
			api.GET("/events", s.handleEvents)
		}
	}
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It also runs the event hub.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if s.hub != nil {
		go s.hub.Run(ctx)
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
