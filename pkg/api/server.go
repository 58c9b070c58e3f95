// Package api is the HTTP and WebSocket front end of the gateway. It binds
// requests, delegates to the dispatcher and workflow engine, and maps fault
// kinds onto HTTP status codes; no gateway policy lives here.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/switchyard-ai/switchyard/pkg/alert"
	"github.com/switchyard-ai/switchyard/pkg/breaker"
	"github.com/switchyard-ai/switchyard/pkg/budget"
	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/dispatch"
	"github.com/switchyard-ai/switchyard/pkg/events"
	"github.com/switchyard-ai/switchyard/pkg/heartbeat"
	"github.com/switchyard-ai/switchyard/pkg/ledger"
	"github.com/switchyard-ai/switchyard/pkg/quota"
	"github.com/switchyard-ai/switchyard/pkg/router"
	"github.com/switchyard-ai/switchyard/pkg/workflow"
)

// wsWriteTimeout bounds a single event write to one WebSocket client.
const wsWriteTimeout = 5 * time.Second

// Deps bundles the gateway components the HTTP layer serves. Bus may be nil,
// which disables the WebSocket endpoint.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Engine     *workflow.Engine
	Breaker    *breaker.Breaker
	Router     *router.Router
	Quota      *quota.Gate
	Budget     *budget.Gate
	Ledger     *ledger.Ledger
	Alerts     *alert.Store
	Monitor    *heartbeat.Monitor
	Bus        *events.Bus
}

// Server is the HTTP server. Construct with NewServer, run with Start, and
// stop with Shutdown.
type Server struct {
	cfg     *config.ServerConfig
	storage *config.StorageConfig
	echo    *echo.Echo
	http    *http.Server

	dispatcher  *dispatch.Dispatcher
	engine      *workflow.Engine
	breaker     *breaker.Breaker
	router      *router.Router
	quota       *quota.Gate
	budget      *budget.Gate
	ledger      *ledger.Ledger
	alerts      *alert.Store
	monitor     *heartbeat.Monitor
	connManager *events.ConnectionManager

	logger    *slog.Logger
	startedAt time.Time
}

// NewServer wires routes and middleware. The bearer token is read from the
// environment variable named in cfg.AuthTokenEnv at construction time.
func NewServer(cfg *config.ServerConfig, storage *config.StorageConfig, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		storage:    storage,
		dispatcher: deps.Dispatcher,
		engine:     deps.Engine,
		breaker:    deps.Breaker,
		router:     deps.Router,
		quota:      deps.Quota,
		budget:     deps.Budget,
		ledger:     deps.Ledger,
		alerts:     deps.Alerts,
		monitor:    deps.Monitor,
		logger:     logger.With("component", "api"),
		startedAt:  time.Now(),
	}
	if deps.Bus != nil {
		s.connManager = events.NewConnectionManager(deps.Bus, wsWriteTimeout)
	}

	token := ""
	if cfg.AuthTokenEnv != "" {
		token = os.Getenv(cfg.AuthTokenEnv)
	}

	e := echo.New()
	e.Use(requestLogger(s.logger), securityHeaders(), bearerAuth(token))
	s.echo = e
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.POST("/api/chat", s.chatHandler)
	e.POST("/api/route", s.routeHandler)

	e.POST("/api/workflows/execute", s.workflowExecuteHandler)
	e.GET("/api/workflows/:id/status", s.workflowStatusHandler)
	e.GET("/api/workflows/:id/logs", s.workflowLogsHandler)
	e.DELETE("/api/workflows/:id", s.workflowCancelHandler)

	e.GET("/api/health", s.healthHandler)
	e.GET("/api/health/detailed", s.detailedHealthHandler)
	e.GET("/api/health/circuit-breakers", s.breakersHandler)
	e.POST("/api/health/circuit-breakers/:agent/reset", s.breakerResetHandler)
	e.GET("/api/health/alerts", s.alertsHandler)

	e.GET("/api/quotas/status/:project", s.quotaStatusHandler)
	e.GET("/api/costs/summary", s.costSummaryHandler)

	e.GET("/api/ws", s.wsHandler)
}

// Start begins serving and blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes WebSocket connections, then drains in-flight HTTP
// requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.connManager != nil {
		s.connManager.Close()
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
