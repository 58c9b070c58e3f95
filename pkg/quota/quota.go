// Package quota enforces concurrency and request-rate caps before any money
// is spent.
//
// Four dimensions are checked on admission: total in-flight work against the
// queue cap, per-project and per-agent concurrency, and a per-project
// request rate. A violation rejects immediately; the gate never queues or
// retries on the caller's behalf.
package quota

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/fault"
)

// Reject dimension names carried in fault details.
const (
	DimensionQueue   = "queue"
	DimensionProject = "project_concurrency"
	DimensionAgent   = "agent_concurrency"
	DimensionRate    = "rate"
)

// Status is a live snapshot of the gate's counters.
type Status struct {
	Active       int            `json:"active"`
	MaxQueueSize int            `json:"max_queue_size"`
	ByProject    map[string]int `json:"by_project"`
	ByAgent      map[string]int `json:"by_agent"`
}

// Gate tracks in-flight admissions. All counters live behind one mutex;
// admission and its counter increments are a single critical section.
type Gate struct {
	cfg      *config.QuotaConfig
	projects *config.ProjectRegistry
	logger   *slog.Logger

	mu        sync.Mutex
	active    int
	byProject map[string]int
	byAgent   map[string]int
	limiters  map[string]*rate.Limiter
}

// NewGate creates a quota gate.
func NewGate(cfg *config.QuotaConfig, projects *config.ProjectRegistry, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:       cfg,
		projects:  projects,
		logger:    logger.With("component", "quota_gate"),
		byProject: make(map[string]int),
		byAgent:   make(map[string]int),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Admit reserves a slot for one request. On success the returned release
// function must be called exactly once when the request leaves the system;
// calling it more than once is harmless.
func (g *Gate) Admit(projectID, agentID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active >= g.cfg.MaxQueueSize {
		return nil, g.reject(projectID, DimensionQueue, g.active, g.cfg.MaxQueueSize, 0)
	}

	projectMax := g.cfg.PerProjectMax
	if p, err := g.projects.Get(projectID); err == nil && p.MaxConcurrent != nil {
		projectMax = *p.MaxConcurrent
	}
	if g.byProject[projectID] >= projectMax {
		return nil, g.reject(projectID, DimensionProject, g.byProject[projectID], projectMax, 0)
	}

	if agentID != "" && g.byAgent[agentID] >= g.cfg.PerAgentMax {
		return nil, g.reject(projectID, DimensionAgent, g.byAgent[agentID], g.cfg.PerAgentMax, 0)
	}

	// Rate check last, so a rejected admission never burns a token.
	limiter := g.limiterFor(projectID)
	reservation := limiter.Reserve()
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return nil, g.reject(projectID, DimensionRate, 0, g.rpmFor(projectID), delay)
	}

	g.active++
	g.byProject[projectID]++
	if agentID != "" {
		g.byAgent[agentID]++
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.release(projectID, agentID) })
	}, nil
}

func (g *Gate) release(projectID, agentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.active--
	if g.byProject[projectID] <= 1 {
		delete(g.byProject, projectID)
	} else {
		g.byProject[projectID]--
	}
	if agentID != "" {
		if g.byAgent[agentID] <= 1 {
			delete(g.byAgent, agentID)
		} else {
			g.byAgent[agentID]--
		}
	}
}

// Status returns a copy of the live counters.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	byProject := make(map[string]int, len(g.byProject))
	for k, v := range g.byProject {
		byProject[k] = v
	}
	byAgent := make(map[string]int, len(g.byAgent))
	for k, v := range g.byAgent {
		byAgent[k] = v
	}
	return Status{
		Active:       g.active,
		MaxQueueSize: g.cfg.MaxQueueSize,
		ByProject:    byProject,
		ByAgent:      byAgent,
	}
}

// limiterFor returns the project's request-rate limiter, creating it on
// first use. Callers hold g.mu.
func (g *Gate) limiterFor(projectID string) *rate.Limiter {
	if lim, ok := g.limiters[projectID]; ok {
		return lim
	}
	rpm := g.rpmFor(projectID)
	lim := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	g.limiters[projectID] = lim
	return lim
}

func (g *Gate) rpmFor(projectID string) int {
	if p, err := g.projects.Get(projectID); err == nil && p.RequestsPerMinute != nil {
		return *p.RequestsPerMinute
	}
	return g.cfg.RequestsPerMinute
}

func (g *Gate) reject(projectID, dimension string, current, limit int, retryAfter time.Duration) error {
	g.logger.Info("Quota rejected request",
		"project_id", projectID, "dimension", dimension,
		"current", current, "limit", limit)

	f := fault.Newf(fault.QuotaReject, "quota exceeded: %s", dimension).
		WithDetail("dimension", dimension).
		WithDetail("current", current).
		WithDetail("limit", limit)
	if retryAfter > 0 {
		f = f.WithRetryAfter(retryAfter)
	}
	return f
}
