package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rfidattendance/internal/attendance"
	"rfidattendance/internal/auth"
	"rfidattendance/internal/httpmiddleware"
	"rfidattendance/internal/live"
	"rfidattendance/internal/metrics"
)

// Checker reports the health of a dependency.
type Checker interface {
	Healthy(ctx context.Context) bool
}

// Config is the HTTP-facing part of the application config.
type Config struct {
	JWTIssuer        string
	JWTSigningKey    string
	DeviceAccessTTL  time.Duration
	DeviceRefreshTTL time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
	PingInterval     time.Duration
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Service  *attendance.Service
	Hub      *live.Hub
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Checks   map[string]Checker
}

// Server holds the HTTP handlers.
type Server struct {
	cfg      Config
	svc      *attendance.Service
	hub      *live.Hub
	log      *slog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	checks   map[string]Checker
	upgrader websocket.Upgrader
}

// New creates a server.
func New(cfg Config, deps Deps) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 600
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	registerValidators()
	s := &Server{
		cfg:      cfg,
		svc:      deps.Service,
		hub:      deps.Hub,
		log:      deps.Logger,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		checks:   deps.Checks,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(s.corsConfig()))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(s.cfg.RateLimitPerMin, s.cfg.RateLimitPerMin, s.metrics).GinMiddleware(nil))

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", s.health)

	bearer := auth.Bearer(s.cfg.JWTSigningKey, s.cfg.JWTIssuer)
	dashboard := auth.RequireRoles(auth.RoleTeacher, auth.RolePCoord, auth.RoleAdmin)

	v1 := r.Group("/v1")
	v1.POST("/devices/token", s.deviceToken)
	v1.POST("/devices/refresh", s.refreshDeviceToken)

	admin := v1.Group("/devices", bearer, auth.RequireRoles(auth.RoleAdmin))
	admin.POST("/register", s.registerDevice)
	admin.GET("", s.listDevices)

	perDevice := httpmiddleware.NewSimpleTokenBucket(s.cfg.RateLimitPerMin, s.cfg.RateLimitPerMin, s.metrics)
	device := v1.Group("/device", bearer, auth.RequireRoles(auth.RoleDevice), perDevice.GinMiddleware(deviceKey))
	device.POST("/heartbeat", s.deviceHeartbeat)
	device.POST("/teacher-auth", s.teacherAuth)
	device.POST("/scans", s.recordScan)
	device.GET("/teachers/:teacherId/sessions", s.deviceTeacherSessions)

	sessions := v1.Group("", bearer, dashboard)
	sessions.POST("/sessions", s.openSession)
	sessions.GET("/sessions/active", auth.RequireRoles(auth.RoleAdmin, auth.RolePCoord), s.activeSessions)
	sessions.GET("/sessions/:id", s.getSession)
	sessions.POST("/sessions/:id/close", s.closeSession)
	sessions.GET("/sessions/:id/snapshot", s.snapshot)
	sessions.GET("/sessions/:id/auth-status", s.authStatus)
	sessions.GET("/teachers/:teacherId/sessions", s.teacherSessions)
	sessions.GET("/events/attendance", s.streamAttendance)

	r.GET("/ws/sessions/:id", bearer, dashboard, s.sessionSocket)
	return r
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.checks {
		ok := check.Healthy(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Cache-Control"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
	if len(s.cfg.CORSOrigins) == 0 || containsWildcard(s.cfg.CORSOrigins) {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	cfg.AllowOrigins = s.cfg.CORSOrigins
	return cfg
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.CORSOrigins) == 0 || containsWildcard(s.cfg.CORSOrigins) {
		return true
	}
	for _, o := range s.cfg.CORSOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func deviceKey(c *gin.Context) string {
	if claims, ok := auth.ClaimsFrom(c); ok && claims.Subject != "" {
		return "device:" + claims.Subject
	}
	return httpmiddleware.ClientIP(c)
}
