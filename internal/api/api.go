// Package api provides REST API functionality using Gin framework.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"playtimetracker/internal/config"
	"playtimetracker/internal/errs"
	"playtimetracker/internal/logger"
	"playtimetracker/internal/monitor"
	"playtimetracker/internal/session"
	"playtimetracker/internal/tracker"
)

// APIServer exposes the tracker to the host proxy and to operators.
type APIServer struct {
	router      *gin.Engine
	server      *http.Server
	addr        net.Addr
	apiKey      string
	tracker     *tracker.Coordinator
	monitor     *monitor.Monitor
	promMetrics *monitor.PrometheusMetrics
}

// NewAPIServer creates a new API server instance. mon and promMetrics may be nil.
func NewAPIServer(
	cfg config.APIConfig,
	coord *tracker.Coordinator,
	mon *monitor.Monitor,
	promMetrics *monitor.PrometheusMetrics,
) *APIServer {
	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	api := &APIServer{
		router:      gin.New(),
		apiKey:      cfg.APIKey,
		tracker:     coord,
		monitor:     mon,
		promMetrics: promMetrics,
	}

	// ClientIP must come from the socket, the loopback check depends on it.
	_ = api.router.SetTrustedProxies(nil)

	api.setupRoutes()
	return api
}

// setupRoutes configures all API routes.
func (a *APIServer) setupRoutes() {
	a.router.Use(gin.Recovery())
	a.router.Use(requestLogger(logger.Zap()))

	a.router.GET("/api/health", a.getHealth)

	api := a.router.Group("/api")
	{
		api.Use(a.authMiddleware())

		api.GET("/metrics", a.getMetrics)
		api.GET("/stats/system", a.getSystemStats)

		// Lifecycle events pushed by the host proxy
		events := api.Group("/events")
		{
			events.POST("/connect", a.postConnect)
			events.POST("/server", a.postServerSwitch)
			events.POST("/disconnect", a.postDisconnect)
		}

		api.GET("/players/:id/playtime", a.getPlaytime)
		api.GET("/players/:id/sessions", a.getPlayerSessions)
		api.GET("/sessions/:id", a.getSession)
		api.GET("/leaderboard", a.getLeaderboard)
		api.GET("/online", a.getOnline)

		admin := api.Group("/admin")
		{
			admin.POST("/reload", a.postReload)
			admin.POST("/sweep", a.postSweep)
		}
	}
}

// Start starts the API server on the specified address.
func (a *APIServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	a.addr = ln.Addr()
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("API server error: %v", err)
		}
	}()

	logger.Info("API listening on %s", ln.Addr())
	return nil
}

// Stop gracefully stops the API server.
func (a *APIServer) Stop() error {
	if a.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return a.server.Shutdown(ctx)
}

// Addr returns the bound address once Start has succeeded.
func (a *APIServer) Addr() net.Addr {
	return a.addr
}

// GetRouter returns the Gin router for testing purposes.
func (a *APIServer) GetRouter() *gin.Engine {
	return a.router
}

// APIResponse represents a unified API response format.
type APIResponse struct {
	Success bool        `json:"success"`
	Msg     string      `json:"msg"`
	Data    interface{} `json:"data,omitempty"`
}

// respondError sends an error response with unified format.
func respondError(c *gin.Context, code int, message string, details string) {
	msg := message
	if details != "" {
		msg = message + ": " + details
	}
	c.JSON(code, APIResponse{
		Success: false,
		Msg:     msg,
		Data:    nil,
	})
}

// respondTrackerError picks the status from the error kind.
func respondTrackerError(c *gin.Context, message string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, errs.ErrConfiguration):
		code = http.StatusBadRequest
	case errors.Is(err, errs.ErrStoreUnavailable),
		errors.Is(err, session.ErrDispatcherClosed),
		errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	if code >= http.StatusInternalServerError {
		logger.Warn("%s: %v", message, err)
	}
	respondError(c, code, message, err.Error())
}

// respondSuccess sends a success response with unified format.
func respondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Msg:     "ok",
		Data:    data,
	})
}

// respondSuccessWithMsg sends a success response with custom message.
func respondSuccessWithMsg(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Msg:     msg,
		Data:    data,
	})
}

// authMiddleware validates the X-API-Key header against the configured key.
// Without a configured key only loopback clients are served.
func (a *APIServer) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.apiKey == "" {
			if !isLocalRequest(c) {
				respondError(c, http.StatusUnauthorized, "API key not configured, remote access disabled", "")
				c.Abort()
				return
			}
			c.Next()
			return
		}

		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			respondError(c, http.StatusUnauthorized, "API key required", "missing X-API-Key header")
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(a.apiKey)) != 1 {
			respondError(c, http.StatusUnauthorized, "Invalid API key", "")
			c.Abort()
			return
		}
		c.Next()
	}
}

func isLocalRequest(c *gin.Context) bool {
	ip := net.ParseIP(c.ClientIP())
	return ip != nil && ip.IsLoopback()
}

// getHealth reports liveness and whether the sweep is scheduled.
// GET /api/health
func (a *APIServer) getHealth(c *gin.Context) {
	data := gin.H{"status": "ok"}
	if a.tracker != nil {
		data["sweep_running"] = a.tracker.Running()
		data["online"] = a.tracker.OnlineCount()
	}
	respondSuccess(c, data)
}

// getSystemStats returns host and process statistics.
// GET /api/stats/system
func (a *APIServer) getSystemStats(c *gin.Context) {
	if a.monitor == nil {
		respondError(c, http.StatusInternalServerError, "Monitor not initialized", "System monitoring is not available")
		return
	}

	stats, err := a.monitor.GetSystemStats()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to get system stats", err.Error())
		return
	}

	respondSuccess(c, stats)
}

// getMetrics returns Prometheus metrics.
// GET /api/metrics
func (a *APIServer) getMetrics(c *gin.Context) {
	if a.promMetrics != nil {
		a.promMetrics.Update()
		promhttp.HandlerFor(a.promMetrics.Registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
	} else {
		promhttp.Handler().ServeHTTP(c.Writer, c.Request)
	}
}

// GetPrometheusMetrics returns the Prometheus metrics instance.
func (a *APIServer) GetPrometheusMetrics() *monitor.PrometheusMetrics {
	return a.promMetrics
}
