// Package budget implements the pre-admission spending gate and its
// post-call reconciliation.
//
// The gate answers from the ledger's in-memory aggregates, so a check never
// blocks on I/O. Three tiers are evaluated in order (per-task, daily,
// monthly); the first violated tier rejects. Crossing a tier's warning
// threshold never blocks but raises an alert, at most once per project per
// period. Reconciliation runs after actual costs land and trips a per-project
// HALT flag once real spend exceeds a daily or monthly limit; halted projects
// are rejected outright until an operator clears the flag.
package budget

import (
	"log/slog"
	"sync"
	"time"

	"github.com/switchyard-ai/switchyard/pkg/alert"
	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/events"
	"github.com/switchyard-ai/switchyard/pkg/ledger"
)

// Verdict is the gate's answer for one pending request.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictWarn    Verdict = "warn"
	VerdictReject  Verdict = "reject"
)

// Gate tier names, reported in decisions and reject responses.
const (
	GatePerTask = "per_task"
	GateDaily   = "daily"
	GateMonthly = "monthly"
	GateHalt    = "halt"
)

// Decision is the full outcome of one admission check.
type Decision struct {
	Verdict       Verdict `json:"verdict"`
	Gate          string  `json:"gate,omitempty"`
	EstimatedCost float64 `json:"estimated_cost"`
	CurrentSpend  float64 `json:"current_spend"`
	Limit         float64 `json:"limit"`
	Remaining     float64 `json:"remaining_budget"`
}

// Halt records why a project was halted, for the status API.
type Halt struct {
	ProjectID string    `json:"project_id"`
	Gate      string    `json:"gate"`
	Spend     float64   `json:"spend"`
	Limit     float64   `json:"limit"`
	HaltedAt  time.Time `json:"halted_at"`
}

// limits is the resolved set of tier limits for one project.
type limits struct {
	perTask float64
	daily   float64
	monthly float64
}

// Gate decides APPROVE / WARN / REJECT for pending requests.
type Gate struct {
	cfg      *config.BudgetConfig
	models   *config.ModelRegistry
	projects *config.ProjectRegistry
	ledger   *ledger.Ledger
	alerts   *alert.Store
	bus      *events.Bus
	logger   *slog.Logger

	mu     sync.Mutex
	halted map[string]Halt
	// warnedDaily/warnedMonthly map project to the last period bucket that
	// produced a warning alert, so each tier warns once per period.
	warnedDaily   map[string]string
	warnedMonthly map[string]string

	now func() time.Time
}

// NewGate creates a budget gate over the given ledger and registries.
func NewGate(cfg *config.BudgetConfig, models *config.ModelRegistry, projects *config.ProjectRegistry, led *ledger.Ledger, bus *events.Bus, alerts *alert.Store, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:           cfg,
		models:        models,
		projects:      projects,
		ledger:        led,
		alerts:        alerts,
		bus:           bus,
		logger:        logger.With("component", "budget_gate"),
		halted:        make(map[string]Halt),
		warnedDaily:   make(map[string]string),
		warnedMonthly: make(map[string]string),
		now:           time.Now,
	}
}

// EstimateTokens resolves the caller's token estimate. An explicit estimate
// wins; otherwise input is approximated from prompt length and output from
// the configured default.
func (g *Gate) EstimateTokens(prompt string, tokensIn, tokensOut int) (int, int) {
	if tokensIn <= 0 {
		tokensIn = len(prompt) / 4
		if tokensIn < 1 {
			tokensIn = 1
		}
	}
	if tokensOut <= 0 {
		tokensOut = g.cfg.DefaultOutputTokens
	}
	return tokensIn, tokensOut
}

// EstimateCost prices a call. Models without a pricing entry are charged at
// the configured safe-medium rate.
func (g *Gate) EstimateCost(model string, tokensIn, tokensOut int) float64 {
	pricing := g.cfg.UnknownModelPricing
	if mc, err := g.models.Get(model); err == nil {
		pricing = mc.Pricing
	}
	return float64(tokensIn)/1000*pricing.InputUSDPer1K +
		float64(tokensOut)/1000*pricing.OutputUSDPer1K
}

// Check evaluates the three tiers in order for one pending request. The
// returned decision always carries the numbers of the tier that decided it.
func (g *Gate) Check(projectID, model string, tokensIn, tokensOut int) Decision {
	now := g.now()

	// A halted project rejects before any estimation.
	if halt, ok := g.haltFor(projectID); ok {
		d := Decision{
			Verdict:      VerdictReject,
			Gate:         GateHalt,
			CurrentSpend: halt.Spend,
			Limit:        halt.Limit,
		}
		g.publishReject(projectID, d)
		return d
	}

	est := g.EstimateCost(model, tokensIn, tokensOut)
	lim := g.limitsFor(projectID)
	daily, monthly := g.ledger.ProjectSpend(projectID, now)

	// 1. Per-task: can this single call ever be affordable?
	if est > lim.perTask {
		d := Decision{
			Verdict:       VerdictReject,
			Gate:          GatePerTask,
			EstimatedCost: est,
			Limit:         lim.perTask,
			Remaining:     lim.perTask,
		}
		g.publishReject(projectID, d)
		return d
	}

	// 2. Daily window.
	if daily+est > lim.daily {
		d := Decision{
			Verdict:       VerdictReject,
			Gate:          GateDaily,
			EstimatedCost: est,
			CurrentSpend:  daily,
			Limit:         lim.daily,
			Remaining:     lim.daily - daily,
		}
		g.publishReject(projectID, d)
		return d
	}

	// 3. Monthly window.
	if monthly+est > lim.monthly {
		d := Decision{
			Verdict:       VerdictReject,
			Gate:          GateMonthly,
			EstimatedCost: est,
			CurrentSpend:  monthly,
			Limit:         lim.monthly,
			Remaining:     lim.monthly - monthly,
		}
		g.publishReject(projectID, d)
		return d
	}

	// Warning thresholds, same order. The request still passes.
	warnAt := g.cfg.WarnThreshold
	switch {
	case est > warnAt*lim.perTask:
		g.logger.Warn("Estimated cost near per-task limit",
			"project_id", projectID, "estimated_cost", est, "limit", lim.perTask)
		return Decision{
			Verdict:       VerdictWarn,
			Gate:          GatePerTask,
			EstimatedCost: est,
			Limit:         lim.perTask,
			Remaining:     lim.perTask,
		}
	case daily+est > warnAt*lim.daily:
		g.warnOnce(projectID, GateDaily, now.UTC().Format(time.DateOnly), daily, lim.daily)
		return Decision{
			Verdict:       VerdictWarn,
			Gate:          GateDaily,
			EstimatedCost: est,
			CurrentSpend:  daily,
			Limit:         lim.daily,
			Remaining:     lim.daily - daily,
		}
	case monthly+est > warnAt*lim.monthly:
		g.warnOnce(projectID, GateMonthly, now.UTC().Format("2006-01"), monthly, lim.monthly)
		return Decision{
			Verdict:       VerdictWarn,
			Gate:          GateMonthly,
			EstimatedCost: est,
			CurrentSpend:  monthly,
			Limit:         lim.monthly,
			Remaining:     lim.monthly - monthly,
		}
	}

	return Decision{
		Verdict:       VerdictApprove,
		EstimatedCost: est,
		CurrentSpend:  daily,
		Limit:         lim.daily,
		Remaining:     lim.daily - daily,
	}
}

// Reconcile re-derives actual spend after a cost event lands and halts the
// project once a daily or monthly limit is genuinely exceeded.
func (g *Gate) Reconcile(projectID string) {
	now := g.now()
	daily, monthly := g.ledger.ProjectSpend(projectID, now)
	lim := g.limitsFor(projectID)

	switch {
	case monthly > lim.monthly:
		g.halt(projectID, GateMonthly, monthly, lim.monthly, now)
	case daily > lim.daily:
		g.halt(projectID, GateDaily, daily, lim.daily, now)
	}
}

// ClearHalt lifts a project's halt flag. Returns false if it was not halted.
func (g *Gate) ClearHalt(projectID string) bool {
	g.mu.Lock()
	_, ok := g.halted[projectID]
	delete(g.halted, projectID)
	g.mu.Unlock()

	if ok {
		g.logger.Info("Project halt cleared", "project_id", projectID)
	}
	return ok
}

// Halted returns the currently halted projects.
func (g *Gate) Halted() []Halt {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Halt, 0, len(g.halted))
	for _, h := range g.halted {
		out = append(out, h)
	}
	return out
}

// ProjectStatus is a project's spend measured against its effective limits,
// as served by the quota status API.
type ProjectStatus struct {
	ProjectID    string  `json:"project_id"`
	DailySpend   float64 `json:"daily_spend_usd"`
	DailyLimit   float64 `json:"daily_limit_usd"`
	MonthlySpend float64 `json:"monthly_spend_usd"`
	MonthlyLimit float64 `json:"monthly_limit_usd"`
	PerTaskLimit float64 `json:"per_task_limit_usd"`
	Halted       bool    `json:"halted"`
	HaltGate     string  `json:"halt_gate,omitempty"`
}

// Status reports a project's current spend against its resolved limits.
func (g *Gate) Status(projectID string) ProjectStatus {
	now := g.now()
	daily, monthly := g.ledger.ProjectSpend(projectID, now)
	lim := g.limitsFor(projectID)

	st := ProjectStatus{
		ProjectID:    projectID,
		DailySpend:   daily,
		DailyLimit:   lim.daily,
		MonthlySpend: monthly,
		MonthlyLimit: lim.monthly,
		PerTaskLimit: lim.perTask,
	}
	if h, ok := g.haltFor(projectID); ok {
		st.Halted = true
		st.HaltGate = h.Gate
	}
	return st
}

func (g *Gate) haltFor(projectID string) (Halt, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.halted[projectID]
	return h, ok
}

func (g *Gate) halt(projectID, gate string, spend, limit float64, now time.Time) {
	g.mu.Lock()
	if _, already := g.halted[projectID]; already {
		g.mu.Unlock()
		return
	}
	h := Halt{ProjectID: projectID, Gate: gate, Spend: spend, Limit: limit, HaltedAt: now}
	g.halted[projectID] = h
	g.mu.Unlock()

	g.logger.Error("Project halted, spend exceeds limit",
		"project_id", projectID, "gate", gate, "spend", spend, "limit", limit)
	if g.alerts != nil {
		g.alerts.Critical("budget_gate", "project halted", map[string]any{
			"project_id": projectID,
			"gate":       gate,
			"spend":      spend,
			"limit":      limit,
		})
	}
	if g.bus != nil {
		g.bus.PublishBudget(events.EventTypeBudgetHalted, events.BudgetPayload{
			ProjectID:    projectID,
			Gate:         gate,
			CurrentSpend: spend,
			Limit:        limit,
		})
	}
}

// warnOnce raises the periodic warning alert at most once per project per
// period bucket per tier.
func (g *Gate) warnOnce(projectID, gate, bucket string, spend, limit float64) {
	warned := g.warnedDaily
	if gate == GateMonthly {
		warned = g.warnedMonthly
	}

	g.mu.Lock()
	if warned[projectID] == bucket {
		g.mu.Unlock()
		return
	}
	warned[projectID] = bucket
	g.mu.Unlock()

	g.logger.Warn("Project spend past warning threshold",
		"project_id", projectID, "gate", gate, "spend", spend, "limit", limit)
	if g.alerts != nil {
		g.alerts.Warn("budget_gate", "spend past warning threshold", map[string]any{
			"project_id": projectID,
			"gate":       gate,
			"spend":      spend,
			"limit":      limit,
		})
	}
	if g.bus != nil {
		g.bus.PublishBudget(events.EventTypeBudgetWarning, events.BudgetPayload{
			ProjectID:    projectID,
			Gate:         gate,
			CurrentSpend: spend,
			Limit:        limit,
			Remaining:    limit - spend,
		})
	}
}

func (g *Gate) publishReject(projectID string, d Decision) {
	g.logger.Info("Budget rejected request",
		"project_id", projectID, "gate", d.Gate,
		"estimated_cost", d.EstimatedCost, "current_spend", d.CurrentSpend,
		"limit", d.Limit)
	if g.bus != nil {
		g.bus.PublishBudget(events.EventTypeBudgetRejected, events.BudgetPayload{
			ProjectID:    projectID,
			Gate:         d.Gate,
			CurrentSpend: d.CurrentSpend,
			Limit:        d.Limit,
			Remaining:    d.Remaining,
		})
	}
}

// limitsFor resolves per-project overrides against the global defaults.
func (g *Gate) limitsFor(projectID string) limits {
	lim := limits{
		perTask: g.cfg.PerTaskLimitUSD,
		daily:   g.cfg.DailyLimitUSD,
		monthly: g.cfg.MonthlyLimitUSD,
	}
	project, err := g.projects.Get(projectID)
	if err != nil {
		return lim
	}
	if project.PerTaskLimitUSD != nil {
		lim.perTask = *project.PerTaskLimitUSD
	}
	if project.DailyLimitUSD != nil {
		lim.daily = *project.DailyLimitUSD
	}
	if project.MonthlyLimitUSD != nil {
		lim.monthly = *project.MonthlyLimitUSD
	}
	return lim
}
