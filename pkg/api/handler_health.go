package api

import (
	"net/http"
	"runtime"
	"strconv"
	"syscall"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/switchyard-ai/switchyard/pkg/alert"
	"github.com/switchyard-ai/switchyard/pkg/breaker"
	"github.com/switchyard-ai/switchyard/pkg/fault"
	"github.com/switchyard-ai/switchyard/pkg/version"
)

// defaultAlertLimit is how many alerts GET /api/health/alerts returns when
// the caller does not say.
const defaultAlertLimit = 50

// HealthResponse is the liveness body for GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// healthHandler handles GET /api/health. It is served without
// authentication and reports nothing beyond process liveness, so an
// orchestrator probe can never leak gateway state.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{Status: "ok", Version: version.GitCommit})
}

// DiskStatus reports filesystem headroom under the data directory.
type DiskStatus struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
	Error       string  `json:"error,omitempty"`
}

// MemoryStatus reports process heap usage.
type MemoryStatus struct {
	AllocBytes uint64 `json:"alloc_bytes"`
	SysBytes   uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
}

// WorkflowHealth reports engine occupancy.
type WorkflowHealth struct {
	Running     int      `json:"running"`
	Definitions []string `json:"definitions"`
}

// DetailedHealthResponse is the body for GET /api/health/detailed.
type DetailedHealthResponse struct {
	Status        string                      `json:"status"`
	Version       string                      `json:"version"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Disk          DiskStatus                  `json:"disk"`
	Memory        MemoryStatus                `json:"memory"`
	Goroutines    int                         `json:"goroutines"`
	Breakers      map[string]breaker.Snapshot `json:"circuit_breakers"`
	ActiveCalls   int                         `json:"active_agent_calls"`
	ActiveByAgent map[string]int              `json:"active_by_agent,omitempty"`
	Workflows     WorkflowHealth              `json:"workflows"`
	WebSockets    int                         `json:"websocket_connections"`
}

// detailedHealthHandler handles GET /api/health/detailed. Status degrades to
// "degraded" while any circuit is open; the gateway itself is still serving.
func (s *Server) detailedHealthHandler(c *echo.Context) error {
	states := s.breaker.GetAllStates()

	status := "ok"
	for _, snap := range states {
		if snap.State == breaker.StateOpen {
			status = "degraded"
			break
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := &DetailedHealthResponse{
		Status:        status,
		Version:       version.GitCommit,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Disk:          diskUsage(s.storage.DataDir),
		Memory: MemoryStatus{
			AllocBytes: mem.Alloc,
			SysBytes:   mem.Sys,
			NumGC:      mem.NumGC,
		},
		Goroutines:  runtime.NumGoroutine(),
		Breakers:    states,
		ActiveCalls: s.monitor.ActiveCount(),
		Workflows: WorkflowHealth{
			Running:     s.engine.Running(),
			Definitions: s.engine.Definitions(),
		},
	}
	if byAgent := s.monitor.ActiveByAgent(); len(byAgent) > 0 {
		resp.ActiveByAgent = byAgent
	}
	if s.connManager != nil {
		resp.WebSockets = s.connManager.ActiveConnections()
	}
	return c.JSON(http.StatusOK, resp)
}

// diskUsage measures the filesystem holding path. A failed statfs is
// reported inline rather than failing the whole health check.
func diskUsage(path string) DiskStatus {
	ds := DiskStatus{Path: path}

	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		ds.Error = err.Error()
		return ds
	}

	ds.TotalBytes = st.Blocks * uint64(st.Bsize)
	ds.FreeBytes = st.Bavail * uint64(st.Bsize)
	if ds.TotalBytes > 0 {
		ds.UsedPercent = 100 * float64(ds.TotalBytes-ds.FreeBytes) / float64(ds.TotalBytes)
	}
	return ds
}

// breakersHandler handles GET /api/health/circuit-breakers.
func (s *Server) breakersHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.breaker.GetAllStates())
}

// breakerResetHandler handles POST /api/health/circuit-breakers/:agent/reset.
// It forces the agent's circuit closed and returns the resulting snapshot.
// Cached routing decisions are purged so the recovered agent is routable
// immediately rather than after the cache TTL.
func (s *Server) breakerResetHandler(c *echo.Context) error {
	agentID := c.Param("agent")
	if agentID == "" {
		return mapFault(c, fault.New(fault.InvalidInput, "agent id is required"))
	}
	s.breaker.Reset(agentID)
	if s.router != nil {
		s.router.PurgeCache()
	}
	return c.JSON(http.StatusOK, s.breaker.GetState(agentID))
}

// AlertsResponse is the body for GET /api/health/alerts.
type AlertsResponse struct {
	Alerts []alert.Alert `json:"alerts"`
}

// alertsHandler handles GET /api/health/alerts?limit=N, newest first.
func (s *Server) alertsHandler(c *echo.Context) error {
	limit := defaultAlertLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return mapFault(c, fault.New(fault.InvalidInput, "limit must be a positive integer"))
		}
		limit = n
	}
	return c.JSON(http.StatusOK, &AlertsResponse{Alerts: s.alerts.Recent(limit)})
}
