package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AaronLay10/SentientDrill/internal/advisor"
	"github.com/AaronLay10/SentientDrill/internal/events"
	"github.com/AaronLay10/SentientDrill/internal/logger"
	"github.com/AaronLay10/SentientDrill/internal/orchestrator"
	"github.com/AaronLay10/SentientDrill/internal/profile"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
	"github.com/AaronLay10/SentientDrill/internal/storage"
	"github.com/AaronLay10/SentientDrill/internal/storage/postgres"
	"github.com/AaronLay10/SentientDrill/internal/version"
)

// Deps are the components the HTTP surface calls into.
type Deps struct {
	Engine    *orchestrator.Engine
	Scenarios storage.ScenarioRepository
	Profiles  *profile.Service
	Advisor   *advisor.Advisor
	Generator *scenario.FallbackGenerator
	Bus       *events.Bus
	Auth      *Auth
	Metrics   *Metrics
	Readiness *Readiness
	Audit     AuditLog
	Log       *logger.Logger

	// AllowedOrigins enables CORS for browser clients. Empty disables it.
	AllowedOrigins []string
}

// AuditLog reads persisted events for one session.
type AuditLog interface {
	Query(ctx context.Context, sessionID string, limit int) ([]postgres.EventRow, error)
}

// Server is the HTTP/WebSocket API.
type Server struct {
	Deps
	upgrader websocket.Upgrader
	tls      *TLSConfig
}

// NewServer creates a server. Nil optional deps get inert defaults.
func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	d.Log = d.Log.With("component", "api")
	if d.Bus == nil {
		d.Bus = d.Engine.Bus()
	}
	if d.Advisor == nil {
		d.Advisor = advisor.New(advisor.DefaultThresholds())
	}
	if d.Generator == nil {
		d.Generator = scenario.NewFallbackGenerator(nil)
	}
	if d.Auth == nil {
		d.Auth = &Auth{}
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(d.Bus)
	}
	if d.Readiness == nil {
		d.Readiness = NewReadiness()
	}

	s := &Server{Deps: d}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetTLS enables HTTPS on ListenAndServe.
func (s *Server) SetTLS(cfg *TLSConfig) {
	s.tls = cfg
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Routes builds the gin router.
func (s *Server) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if len(s.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", s.Auth.Require(RoleAdmin), s.Metrics.Handler)
	r.GET("/ws/events", s.Auth.Require(RoleAdmin), s.handleEventsWS)

	api := r.Group("/api")
	{
		anyone := s.Auth.Require(RoleAdmin, RoleTrainee)
		admin := s.Auth.Require(RoleAdmin)

		api.POST("/sessions", anyone, s.handleStartSession)
		api.GET("/sessions/:id", anyone, s.handleGetSession)
		api.POST("/sessions/:id/actions", anyone, s.handleSubmitAction)
		api.POST("/sessions/:id/cancel", anyone, s.handleCancelSession)
		api.GET("/sessions/:id/replay", admin, s.handleReplaySession)
		api.GET("/sessions/:id/audit", admin, s.handleSessionAudit)

		api.GET("/users/:id/profile", anyone, s.handleGetProfile)
		api.GET("/users/:id/recommendation", anyone, s.handleGetRecommendation)
		api.GET("/users/:id/insights", anyone, s.handleGetInsights)

		api.GET("/scenarios", anyone, s.handleListScenarios)
		api.GET("/scenarios/:id", anyone, s.handleGetScenario)
		api.POST("/scenarios", admin, s.handlePutScenario)
		api.POST("/scenarios/validate", admin, s.handleValidateScenario)
		api.POST("/scenarios/generate", admin, s.handleGenerateScenario)

		api.GET("/events", admin, s.handleRecentEvents)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status    string          `json:"status"`
	Service   string          `json:"service"`
	Version   string          `json:"version"`
	Hostname  string          `json:"hostname"`
	Timestamp string          `json:"ts"`
	Checks    map[string]bool `json:"checks"`
}

func (s *Server) handleHealth(c *gin.Context) {
	host, _ := os.Hostname()
	checks := s.Readiness.Snapshot()
	status := "ok"
	for _, ok := range checks {
		if !ok {
			status = "degraded"
		}
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:    status,
		Service:   "drilld",
		Version:   version.Version,
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Checks:    checks,
	})
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tc, lerr := s.tls.Load(); lerr != nil {
			err = lerr
		} else if tc != nil {
			srv.TLSConfig = tc
			s.Log.Info("API listening (TLS)", "addr", addr)
			err = srv.ListenAndServeTLS("", "")
		} else {
			s.Log.Info("API listening", "addr", addr)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
