// Package router picks the agent that should handle a query.
//
// Routing is a pure function of the query text, the agent registry snapshot,
// and two conversation signals (length and which agent answered last), so
// decisions are deterministic and cacheable. A decision names the chosen
// agent, its model, a ranked fallback, and the classification that produced
// the choice.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/fault"
	"github.com/switchyard-ai/switchyard/pkg/session"
)

// cacheSize bounds the decision cache; entries also expire after the
// configured TTL.
const cacheSize = 2048

// AvailabilityFunc reports an agent's availability in [0,1]. The dispatcher
// wires this to circuit breaker state so the router never holds a breaker
// reference itself.
type AvailabilityFunc func(agentID string) float64

// Decision is the router's complete answer for one query.
type Decision struct {
	Agent          string             `json:"agent"`
	Model          string             `json:"model"`
	Fallback       string             `json:"fallback,omitempty"`
	Confidence     float64            `json:"confidence"`
	Intent         string             `json:"intent"`
	Complexity     Complexity         `json:"complexity"`
	RequiredSkills []string           `json:"required_skills,omitempty"`
	Reason         string             `json:"reason"`
	Scores         map[string]float64 `json:"scores,omitempty"`
}

// Router scores agents against classified queries.
type Router struct {
	cfg      *config.RouterConfig
	agents   *config.AgentRegistry
	models   *config.ModelRegistry
	sessions *session.Store
	avail    AvailabilityFunc
	logger   *slog.Logger

	cache *expirable.LRU[string, Decision]

	now func() time.Time
}

// New creates a router. sessions and avail may be nil; history signals and
// availability weighting then default to empty and fully-available.
func New(cfg *config.RouterConfig, agents *config.AgentRegistry, models *config.ModelRegistry, sessions *session.Store, avail AvailabilityFunc, logger *slog.Logger) *Router {
	return &Router{
		cfg:      cfg,
		agents:   agents,
		models:   models,
		sessions: sessions,
		avail:    avail,
		logger:   logger.With("component", "router"),
		cache:    expirable.NewLRU[string, Decision](cacheSize, nil, cfg.CacheTTL),
		now:      time.Now,
	}
}

// Route picks the best agent for the query. Identical (sessionKey, query)
// pairs within the cache TTL return the identical decision.
func (r *Router) Route(ctx context.Context, sessionKey, query string) (Decision, error) {
	if strings.TrimSpace(query) == "" {
		return Decision{}, fault.New(fault.InvalidInput, "empty query")
	}

	key := cacheKey(sessionKey, query)
	if d, ok := r.cache.Get(key); ok {
		r.logger.Debug("Routing cache hit", "session_key", sessionKey, "agent", d.Agent)
		return d, nil
	}

	// Conversation signals. Failures here degrade routing quality, not
	// correctness, so they only log.
	historyTurns := 0
	var lastAgent string
	var lastAt time.Time
	if r.sessions != nil && sessionKey != "" {
		if n, err := r.sessions.TurnCount(ctx, sessionKey); err == nil {
			historyTurns = n
		} else {
			r.logger.Warn("Session turn count unavailable", "session_key", sessionKey, "error", err)
		}
		if id, at, ok, err := r.sessions.LastAgent(ctx, sessionKey); err == nil && ok {
			lastAgent, lastAt = id, at
		}
	}

	complexity := r.ScoreComplexity(query, historyTurns)
	intent := r.ClassifyIntent(query)

	agents := r.agents.GetAll()
	if len(agents) == 0 {
		return Decision{}, fault.New(fault.NoAgentAvailable, "no agents registered")
	}

	lowerQuery := strings.ToLower(query)
	scores := make(map[string]float64, len(agents))
	required := make(map[string]struct{})
	for id, agent := range agents {
		matched := matchedSkills(lowerQuery, agent.Skills)
		for _, skill := range matched {
			required[skill] = struct{}{}
		}
		ratio := 0.0
		if len(agent.Skills) > 0 {
			ratio = float64(len(matched)) / float64(len(agent.Skills))
		}
		s := r.cfg.IntentWeight*kindAffinity(agent.Kind, intent) +
			r.cfg.SkillWeight*ratio +
			r.cfg.AvailabilityWeight*r.availability(id)
		if id == lastAgent && r.now().Sub(lastAt) < r.cfg.RecencyWindow {
			s *= r.cfg.RecencyPenalty
		}
		scores[id] = s
	}

	// Rank by score, then cheaper model, then ID, so the order is total.
	ranked := make([]string, 0, len(agents))
	for id := range agents {
		ranked = append(ranked, id)
	}
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i]], scores[ranked[j]]
		if si != sj {
			return si > sj
		}
		pi, pj := r.inputPrice(agents[ranked[i]].Model), r.inputPrice(agents[ranked[j]].Model)
		if pi != pj {
			return pi < pj
		}
		return ranked[i] < ranked[j]
	})

	floor := r.floorFor(complexity.Bucket)
	eligible := ranked[:0:len(ranked)]
	for _, id := range ranked {
		if scores[id] >= floor {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return Decision{}, fault.Newf(fault.NoAgentAvailable,
			"no agent meets the %.2f confidence floor for a %s query", floor, complexity.Bucket)
	}

	d := Decision{
		Agent:      eligible[0],
		Model:      agents[eligible[0]].Model,
		Confidence: scores[eligible[0]],
		Intent:     intent,
		Complexity: complexity,
		Scores:     scores,
	}
	if len(eligible) > 1 {
		d.Fallback = eligible[1]
	}
	if len(required) > 0 {
		d.RequiredSkills = make([]string, 0, len(required))
		for skill := range required {
			d.RequiredSkills = append(d.RequiredSkills, skill)
		}
		sort.Strings(d.RequiredSkills)
	}
	d.Reason = fmt.Sprintf("%s intent, %s complexity; %s scored %.2f against a %.2f floor",
		intent, complexity.Bucket, d.Agent, d.Confidence, floor)

	r.cache.Add(key, d)
	r.logger.Info("Routed query",
		"session_key", sessionKey, "agent", d.Agent, "fallback", d.Fallback,
		"intent", intent, "complexity_score", complexity.Score,
		"complexity_bucket", complexity.Bucket, "confidence", d.Confidence)
	return d, nil
}

// PurgeCache drops all cached decisions so the next identical query is
// rescored; cached availability scores go stale when a circuit is manually
// reset.
func (r *Router) PurgeCache() {
	r.cache.Purge()
}

func (r *Router) availability(agentID string) float64 {
	if r.avail == nil {
		return 1
	}
	return r.avail(agentID)
}

func (r *Router) floorFor(bucket string) float64 {
	switch bucket {
	case BucketHigh:
		return r.cfg.FloorHigh
	case BucketMedium:
		return r.cfg.FloorMedium
	default:
		return r.cfg.FloorLow
	}
}

// inputPrice is the cost tiebreaker: within an equal score band the cheaper
// model wins. Unpriced models lose ties.
func (r *Router) inputPrice(model string) float64 {
	mc, err := r.models.Get(model)
	if err != nil {
		return math.MaxFloat64
	}
	return mc.Pricing.InputUSDPer1K
}

// intentKind maps each intent class to the agent kind that owns it.
var intentKind = map[string]config.AgentKind{
	IntentSecurity:    config.AgentKindSecurity,
	IntentDevelopment: config.AgentKindDeveloper,
	IntentPlanning:    config.AgentKindCoordinator,
	IntentDatabase:    config.AgentKindData,
	IntentGeneral:     config.AgentKindCoordinator,
}

func kindAffinity(kind config.AgentKind, intent string) float64 {
	if intentKind[intent] == kind {
		return 1
	}
	if kind == config.AgentKindGeneric {
		return 0.5
	}
	return 0
}

// matchedSkills returns the skills the query mentions, lowercased. A skill
// matches when all of its words appear in the query.
func matchedSkills(lowerQuery string, skills []string) []string {
	normalizer := strings.NewReplacer("-", " ", "_", " ")
	var matched []string
	for _, skill := range skills {
		lower := strings.ToLower(skill)
		words := strings.Fields(normalizer.Replace(lower))
		if len(words) == 0 {
			continue
		}
		all := true
		for _, w := range words {
			if !strings.Contains(lowerQuery, w) {
				all = false
				break
			}
		}
		if all {
			matched = append(matched, lower)
		}
	}
	return matched
}

func cacheKey(sessionKey, query string) string {
	h := sha256.New()
	h.Write([]byte(sessionKey))
	h.Write([]byte{0})
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}
