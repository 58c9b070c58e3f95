// Package heartbeat tracks in-flight agent invocations and flags the ones
// that stop making progress.
//
// Every invocation registers an activity and refreshes it as the call
// produces signs of life. A single periodic actor scans the table: an
// activity quiet past the stale threshold raises one warning per episode;
// one older than the timeout threshold raises a critical alert and is
// forcibly unregistered, cancelling the invocation it belongs to.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/switchyard-ai/switchyard/pkg/alert"
	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/events"
)

type activity struct {
	id           string
	agentID      string
	requestID    string
	startedAt    time.Time
	lastActivity time.Time
	staleWarned  bool
	cancel       context.CancelFunc
}

// ActivityView is the externally visible state of one tracked invocation.
type ActivityView struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agent_id"`
	RequestID    string    `json:"request_id"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity_at"`
	Stale        bool      `json:"stale,omitempty"`
}

// Monitor is the liveness actor. The activity table lives only in memory;
// a crash loses it, and startup recovery belongs to the workflow store.
type Monitor struct {
	cfg    *config.HeartbeatConfig
	logger *slog.Logger
	bus    *events.Bus
	alerts *alert.Store

	mu         sync.Mutex
	activities map[string]*activity

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time
}

// NewMonitor creates a monitor. Call Start to begin periodic checks.
func NewMonitor(cfg *config.HeartbeatConfig, bus *events.Bus, alerts *alert.Store, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:        cfg,
		logger:     logger.With("component", "heartbeat_monitor"),
		bus:        bus,
		alerts:     alerts,
		activities: make(map[string]*activity),
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
}

// Start launches the periodic check loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
	m.logger.Info("Heartbeat monitor started",
		"check_interval", m.cfg.CheckInterval,
		"stale_after", m.cfg.StaleAfter,
		"timeout_after", m.cfg.TimeoutAfter)
}

// Stop halts the check loop and waits for it to exit. Registered
// activities are left untouched; their invocations own their lifetimes.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
	m.logger.Info("Heartbeat monitor stopped")
}

func (m *Monitor) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-time.After(m.cfg.CheckInterval):
			m.checkOnce()
		}
	}
}

// Register tracks a new invocation and returns its activity ID. cancel is
// invoked if the activity later times out.
func (m *Monitor) Register(agentID, requestID string, cancel context.CancelFunc) string {
	now := m.now()
	a := &activity{
		id:           uuid.New().String(),
		agentID:      agentID,
		requestID:    requestID,
		startedAt:    now,
		lastActivity: now,
		cancel:       cancel,
	}

	m.mu.Lock()
	m.activities[a.id] = a
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.PublishAgent(events.EventTypeAgentRegistered, events.AgentPayload{
			AgentID:  agentID,
			LastSeen: now,
			Detail:   requestID,
		})
	}
	return a.id
}

// Touch refreshes an activity's liveness and ends any stale episode.
func (m *Monitor) Touch(activityID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.activities[activityID]
	if !ok {
		return
	}
	a.lastActivity = m.now()
	a.staleWarned = false
}

// Unregister removes an activity after its invocation completes.
func (m *Monitor) Unregister(activityID string) {
	m.mu.Lock()
	a, ok := m.activities[activityID]
	if ok {
		delete(m.activities, activityID)
	}
	m.mu.Unlock()

	if ok && m.bus != nil {
		m.bus.PublishAgent(events.EventTypeAgentUnregistered, events.AgentPayload{
			AgentID: a.agentID,
			Detail:  a.requestID,
		})
	}
}

// ActiveCount returns the number of tracked invocations.
func (m *Monitor) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activities)
}

// ActiveByAgent returns in-flight invocation counts per agent.
func (m *Monitor) ActiveByAgent() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int, len(m.activities))
	for _, a := range m.activities {
		counts[a.agentID]++
	}
	return counts
}

// Activities returns a snapshot of the activity table for the health API.
func (m *Monitor) Activities() []ActivityView {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]ActivityView, 0, len(m.activities))
	for _, a := range m.activities {
		views = append(views, ActivityView{
			ID:           a.id,
			AgentID:      a.agentID,
			RequestID:    a.requestID,
			StartedAt:    a.startedAt,
			LastActivity: a.lastActivity,
			Stale:        now.Sub(a.lastActivity) >= m.cfg.StaleAfter,
		})
	}
	return views
}

// checkOnce scans the activity table and applies the two thresholds.
func (m *Monitor) checkOnce() {
	now := m.now()

	m.mu.Lock()
	var stale, timedOut []*activity
	for id, a := range m.activities {
		if now.Sub(a.startedAt) >= m.cfg.TimeoutAfter {
			timedOut = append(timedOut, a)
			delete(m.activities, id)
			continue
		}
		if now.Sub(a.lastActivity) >= m.cfg.StaleAfter && !a.staleWarned {
			a.staleWarned = true
			stale = append(stale, a)
		}
	}
	m.mu.Unlock()

	// Alerts, events, and cancellations run outside the lock.
	for _, a := range stale {
		m.logger.Warn("Agent activity stale",
			"agent_id", a.agentID, "request_id", a.requestID,
			"last_activity_at", a.lastActivity)
		if m.alerts != nil {
			m.alerts.Warn("heartbeat_monitor", "agent activity stale", map[string]any{
				"agent_id":         a.agentID,
				"request_id":       a.requestID,
				"last_activity_at": a.lastActivity,
			})
		}
		if m.bus != nil {
			m.bus.PublishAgent(events.EventTypeAgentStale, events.AgentPayload{
				AgentID:  a.agentID,
				LastSeen: a.lastActivity,
				Detail:   a.requestID,
			})
		}
	}

	for _, a := range timedOut {
		m.logger.Error("Agent activity timed out, cancelling",
			"agent_id", a.agentID, "request_id", a.requestID,
			"started_at", a.startedAt)
		if m.alerts != nil {
			m.alerts.Critical("heartbeat_monitor", "agent activity timed out", map[string]any{
				"agent_id":   a.agentID,
				"request_id": a.requestID,
				"started_at": a.startedAt,
			})
		}
		if m.bus != nil {
			m.bus.PublishAgent(events.EventTypeAgentTimeout, events.AgentPayload{
				AgentID:  a.agentID,
				LastSeen: a.lastActivity,
				Detail:   a.requestID,
			})
		}
		if a.cancel != nil {
			a.cancel()
		}
	}
}
