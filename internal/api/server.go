package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"nifty-insight-server/config"
	"nifty-insight-server/internal/activity"
	"nifty-insight-server/internal/auth"
	"nifty-insight-server/internal/backtest"
	"nifty-insight-server/internal/database"
	"nifty-insight-server/internal/events"
	"nifty-insight-server/internal/kv"
	"nifty-insight-server/internal/logging"
	"nifty-insight-server/internal/market"
	"nifty-insight-server/internal/settings"
	"nifty-insight-server/internal/signal"
	"nifty-insight-server/internal/vault"
)

// ============================================================================
// RATE LIMITING
// ============================================================================

// RateLimiter implements a simple sliding-window rate limiter keyed by
// client IP and endpoint.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow reports whether a request identified by key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	valid := rl.requests[key][:0]
	for _, t := range rl.requests[key] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP and WebSocket surface of the insight service.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     config.ServerConfig

	settings    *settings.Manager
	provider    market.Provider
	signals     *signal.Generator
	backtests   *backtest.Runner
	recorder    *activity.Recorder
	repo        *database.Repository // nil when the database is disabled
	redisKV     *kv.Redis            // nil when Redis is disabled
	vaultClient *vault.Client
	authService *auth.Service // nil when auth is disabled

	eventBus    *events.EventBus
	logger      *logging.Logger
	rateLimiter *RateLimiter

	startTime time.Time
}

// NewServer wires the REST and WebSocket routes around the given services.
func NewServer(
	cfg config.ServerConfig,
	manager *settings.Manager,
	provider market.Provider,
	signals *signal.Generator,
	backtests *backtest.Runner,
	recorder *activity.Recorder,
	repo *database.Repository,
	redisKV *kv.Redis,
	vaultClient *vault.Client,
	authService *auth.Service,
	eventBus *events.EventBus,
	logger *logging.Logger,
) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:      gin.New(),
		config:      cfg,
		settings:    manager,
		provider:    provider,
		signals:     signals,
		backtests:   backtests,
		recorder:    recorder,
		repo:        repo,
		redisKV:     redisKV,
		vaultClient: vaultClient,
		authService: authService,
		eventBus:    eventBus,
		logger:      logger.WithComponent("api"),
		rateLimiter: NewRateLimiter(120, time.Minute),
		startTime:   time.Now(),
	}

	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(traceMiddleware())
	s.router.Use(cors.New(s.corsConfig()))

	s.setupRoutes()

	return s
}

// traceMiddleware stamps every request with a trace ID so handler logs
// correlate, and echoes the ID back to the client.
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, _ := logging.WithTraceContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-ID", logging.TraceIDFromContext(ctx))
		c.Next()
	}
}

func (s *Server) corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}

	origins := strings.Split(s.config.AllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	if len(origins) == 1 && origins[0] == "*" {
		// gin-contrib/cors rejects credentials together with a wildcard origin.
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}

	return corsConfig
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	if s.authService != nil {
		authHandlers := auth.NewHandlers(s.authService)
		authHandlers.RegisterRoutes(s.router.Group("/api/auth"))
	}

	api := s.router.Group("/api")
	if s.authService != nil {
		api.Use(auth.Middleware(s.authService.GetJWTManager()))
	}
	api.Use(s.rateLimitMiddleware())

	// Settings
	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handleUpdateSettings)
	api.POST("/settings/reset", s.handleResetSettings)
	api.PUT("/settings/value", s.handleUpdateSettingValue)
	api.GET("/settings/presets", s.handleGetPresets)
	api.POST("/settings/presets", s.handleSavePreset)
	api.POST("/settings/presets/:id/load", s.handleLoadPreset)
	api.DELETE("/settings/presets/:id", s.handleDeletePreset)

	// Market data
	api.GET("/price/current", s.handleCurrentPrice)
	api.GET("/candles", s.handleGetCandles)

	// Analysis
	api.GET("/levels/:period", s.handleGetLevels)
	api.GET("/indicators", s.handleGetIndicators)
	api.GET("/signal/current", s.handleCurrentSignal)
	api.GET("/greeks", s.handleGetGreeks)

	// Backtesting
	api.POST("/backtest", s.handleRunBacktest)

	// Activity log
	api.GET("/logs/recent", s.handleRecentLogs)

	// Broker credentials
	api.GET("/broker/credentials", s.handleGetBrokerCredentials)
	api.POST("/broker/credentials", s.handleStoreBrokerCredentials)
	api.DELETE("/broker/credentials", s.handleDeleteBrokerCredentials)

	// WebSocket feed. Kept outside the auth group so the dashboard can
	// connect before logging in; a bearer token still scopes the client
	// to its user for settings pushes.
	ws := s.router.Group("/ws")
	if s.authService != nil {
		ws.Use(auth.OptionalMiddleware(s.authService.GetJWTManager()))
	}
	ws.GET("", s.handleWebSocket)
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	// Endpoints that only touch in-process state are exempt; the limiter
	// protects the market provider's upstream quota.
	exempt := map[string]bool{
		"/api/settings":                  true,
		"/api/settings/reset":            true,
		"/api/settings/value":            true,
		"/api/settings/presets":          true,
		"/api/settings/presets/:id/load": true,
		"/api/settings/presets/:id":      true,
		"/api/logs/recent":               true,
	}

	return func(c *gin.Context) {
		if exempt[c.FullPath()] {
			c.Next()
			return
		}

		key := c.ClientIP() + ":" + c.FullPath()
		if !s.rateLimiter.Allow(key) {
			errorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded, try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server listening on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// ============================================================================
// HEALTH
// ============================================================================

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	healthy := true
	checks := gin.H{}

	if s.repo != nil {
		if err := s.repo.HealthCheck(ctx); err != nil {
			checks["database"] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "disabled"
	}

	if s.redisKV != nil {
		if s.redisKV.Healthy() {
			checks["redis"] = "healthy"
		} else {
			checks["redis"] = "unhealthy: circuit open"
			healthy = false
		}
	} else {
		checks["redis"] = "disabled"
	}

	if s.vaultClient != nil && s.vaultClient.IsEnabled() {
		if err := s.vaultClient.Health(ctx); err != nil {
			checks["vault"] = "unhealthy: " + err.Error()
			healthy = false
		} else {
			checks["vault"] = "healthy"
		}
	} else {
		checks["vault"] = "disabled"
	}

	if wsHub != nil {
		checks["ws_clients"] = wsHub.ClientCount()
	}

	status := http.StatusOK
	body := gin.H{
		"status":    "healthy",
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}
	c.JSON(status, body)
}

// ============================================================================
// HELPERS
// ============================================================================

// getUserID resolves the authenticated user, falling back to the default
// single-tenant user when auth is disabled.
func (s *Server) getUserID(c *gin.Context) string {
	return auth.GetUserID(c)
}

// store returns the per-user settings store for the request.
func (s *Server) store(c *gin.Context) *settings.Store {
	return s.settings.ForUser(s.getUserID(c))
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error":   true,
		"message": message,
	})
}
