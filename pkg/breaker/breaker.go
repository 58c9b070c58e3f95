// Package breaker guards each agent with a circuit breaker so repeated
// doomed calls fail fast instead of burning retry budget and money.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/switchyard-ai/switchyard/pkg/alert"
	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/events"
	"github.com/switchyard-ai/switchyard/pkg/fault"
)

// State is a circuit's position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Snapshot is the externally visible view of one agent's circuit.
type Snapshot struct {
	AgentID        string     `json:"agent_id"`
	State          State      `json:"state"`
	WindowFailures int        `json:"window_failures"`
	OpenedAt       *time.Time `json:"opened_at,omitempty"`
}

type circuit struct {
	state    State
	failures []time.Time
	openedAt time.Time
	probing  bool
}

// Breaker tracks per-agent circuits. All transitions happen under one lock,
// which also makes the half-open probe claim atomic: an admission check and
// its probe reservation cannot interleave with another caller's.
type Breaker struct {
	cfg    *config.BreakerConfig
	logger *slog.Logger
	bus    *events.Bus
	alerts *alert.Store

	mu       sync.Mutex
	circuits map[string]*circuit

	now func() time.Time
}

// New creates a breaker. bus and alerts may be nil, in which case
// transitions are only logged.
func New(cfg *config.BreakerConfig, bus *events.Bus, alerts *alert.Store, logger *slog.Logger) *Breaker {
	return &Breaker{
		cfg:      cfg,
		logger:   logger.With("component", "circuit_breaker"),
		bus:      bus,
		alerts:   alerts,
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

// Allow performs the admission check for one invocation. It returns
// probe=true when the caller holds the single half-open probe slot and must
// report the outcome via RecordSuccess or RecordFailure.
func (b *Breaker) Allow(agentID string) (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(agentID)
	now := b.now()

	switch c.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		if now.Sub(c.openedAt) < b.cfg.HalfOpenAfter {
			return false, fault.Newf(fault.CircuitOpen,
				"agent %s circuit open", agentID)
		}
		// Cooldown elapsed: move to half-open and hand this caller the
		// probe slot in the same critical section.
		c.state = StateHalfOpen
		c.probing = true
		b.transition(agentID, c, StateOpen, StateHalfOpen, "half-open probe window")
		return true, nil

	case StateHalfOpen:
		if c.probing {
			return false, fault.Newf(fault.CircuitOpen,
				"agent %s circuit half-open, probe in flight", agentID)
		}
		c.probing = true
		return true, nil
	}

	return false, nil
}

// RecordSuccess reports a completed invocation. A successful half-open
// probe closes the circuit and clears the failure window.
func (b *Breaker) RecordSuccess(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(agentID)
	if c.state == StateHalfOpen {
		c.state = StateClosed
		c.failures = nil
		c.probing = false
		c.openedAt = time.Time{}
		b.transition(agentID, c, StateHalfOpen, StateClosed, "probe succeeded")
	}
}

// RecordFailure reports a failed invocation. In CLOSED it feeds the sliding
// window and may trip the circuit; in HALF_OPEN it reopens immediately.
func (b *Breaker) RecordFailure(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(agentID)
	now := b.now()

	switch c.state {
	case StateClosed:
		c.failures = append(c.failures, now)
		b.prune(c, now)
		if len(c.failures) >= b.cfg.FailureThreshold {
			c.state = StateOpen
			c.openedAt = now
			b.transition(agentID, c, StateClosed, StateOpen, "failure threshold reached")
			b.alertOpen(agentID, c)
		}

	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = now
		c.probing = false
		b.transition(agentID, c, StateHalfOpen, StateOpen, "probe failed")

	case StateOpen:
		// Late completion from a call admitted before the trip.
	}
}

// ReleaseProbe returns the half-open probe slot without recording an
// outcome. Used when a probe invocation is cancelled before the upstream
// responds: the circuit stays HALF_OPEN and the next caller may probe.
func (b *Breaker) ReleaseProbe(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(agentID)
	if c.state == StateHalfOpen && c.probing {
		c.probing = false
		b.logger.Info("Half-open probe released without outcome", "agent_id", agentID)
	}
}

// Reset forces an agent's circuit to CLOSED, clearing its window.
func (b *Breaker) Reset(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(agentID)
	from := c.state
	c.state = StateClosed
	c.failures = nil
	c.probing = false
	c.openedAt = time.Time{}
	if from != StateClosed {
		b.transition(agentID, c, from, StateClosed, "operator reset")
	}
}

// GetState returns the snapshot for one agent. Agents never seen report a
// closed circuit.
func (b *Breaker) GetState(agentID string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[agentID]
	if !ok {
		return Snapshot{AgentID: agentID, State: StateClosed}
	}
	return b.snapshot(agentID, c)
}

// GetAllStates returns snapshots for every agent the breaker has seen.
func (b *Breaker) GetAllStates() map[string]Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]Snapshot, len(b.circuits))
	for agentID, c := range b.circuits {
		out[agentID] = b.snapshot(agentID, c)
	}
	return out
}

// circuit returns the tracked circuit, creating it in CLOSED on first use.
// Callers hold b.mu.
func (b *Breaker) circuit(agentID string) *circuit {
	c, ok := b.circuits[agentID]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[agentID] = c
	}
	return c
}

// prune drops window entries older than the failure window. Callers hold b.mu.
func (b *Breaker) prune(c *circuit, now time.Time) {
	cutoff := now.Add(-b.cfg.FailureWindow)
	kept := c.failures[:0]
	for _, ts := range c.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.failures = kept
}

func (b *Breaker) snapshot(agentID string, c *circuit) Snapshot {
	snap := Snapshot{
		AgentID:        agentID,
		State:          c.state,
		WindowFailures: len(c.failures),
	}
	if !c.openedAt.IsZero() {
		openedAt := c.openedAt
		snap.OpenedAt = &openedAt
	}
	return snap
}

func (b *Breaker) transition(agentID string, c *circuit, from, to State, reason string) {
	b.logger.Info("Circuit state changed",
		"agent_id", agentID, "from", from, "to", to, "reason", reason)
	if b.bus != nil {
		b.bus.PublishBreaker(events.BreakerPayload{
			AgentID:  agentID,
			From:     string(from),
			To:       string(to),
			Failures: len(c.failures),
			Reason:   reason,
		})
	}
}

func (b *Breaker) alertOpen(agentID string, c *circuit) {
	if b.alerts == nil {
		return
	}
	b.alerts.Warn("circuit_breaker", "circuit opened for agent", map[string]any{
		"agent_id":        agentID,
		"window_failures": len(c.failures),
		"half_open_after": b.cfg.HalfOpenAfter.String(),
	})
}
