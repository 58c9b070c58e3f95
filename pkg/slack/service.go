// Package slack posts operational notifications to a Slack channel:
// budget warnings and halts, circuit openings, and agent timeouts.
//
// The service subscribes to the event bus and delivers from its own
// worker goroutine so posting latency never reaches bus dispatch.
// Delivery is fail-open and best-effort: errors are logged, repeat
// notifications inside the dedupe window are suppressed, and when Slack
// is unreachable the gateway keeps serving.
package slack

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/events"
)

// postTimeout bounds a single chat.postMessage call.
const postTimeout = 10 * time.Second

// queueSize bounds notifications waiting for delivery. Bus handlers run
// on the dispatch goroutine, so enqueueing must never block; when the
// queue is full the notification is dropped.
const queueSize = 64

type notification struct {
	fallback string
	blocks   []goslack.Block
}

// Service watches the event bus and posts operational alerts to Slack.
// Nil-safe: NewService returns nil when notifications are disabled or
// unconfigured, and Stop on a nil service is a no-op.
type Service struct {
	client *Client
	window time.Duration
	logger *slog.Logger

	queue   chan notification
	cancels []func()

	mu   sync.Mutex
	seen map[string]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	now func() time.Time
}

// NewService wires a notifier onto the bus. Returns nil when disabled,
// when no channel is configured, or when the token environment variable
// is empty.
func NewService(cfg *config.SlackConfig, bus *events.Bus, logger *slog.Logger) *Service {
	if cfg == nil || !cfg.Enabled || cfg.Channel == "" {
		return nil
	}
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		logger.Warn("Slack notifications enabled but token is unset; disabling",
			"token_env", cfg.TokenEnv)
		return nil
	}
	return startService(NewClient(token, cfg.Channel), cfg.DedupeWindow, bus, logger)
}

// NewServiceWithClient wires a notifier backed by a pre-built client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dedupeWindow time.Duration, bus *events.Bus, logger *slog.Logger) *Service {
	return startService(client, dedupeWindow, bus, logger)
}

func startService(client *Client, window time.Duration, bus *events.Bus, logger *slog.Logger) *Service {
	s := &Service{
		client: client,
		window: window,
		logger: logger.With("component", "slack_notifier"),
		queue:  make(chan notification, queueSize),
		seen:   make(map[string]time.Time),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	s.cancels = append(s.cancels,
		bus.Subscribe(events.GlobalBudgetChannel, s.observe),
		bus.Subscribe(events.GlobalAgentsChannel, s.observe),
	)
	s.wg.Add(1)
	go s.postLoop()
	s.logger.Info("Slack notifications enabled", "dedupe_window", window.String())
	return s
}

// Stop detaches from the bus and waits for the in-flight post, if any, to
// finish. Notifications still queued are dropped.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		for _, cancel := range s.cancels {
			cancel()
		}
		close(s.stopCh)
		s.wg.Wait()
	})
}

// observe runs on the bus dispatch goroutine and must not block: it
// builds the message, dedupes, and hands off to the posting worker.
func (s *Service) observe(evt events.Event) {
	var fallback string
	var blocks []goslack.Block

	switch evt.Type {
	case events.EventTypeBudgetHalted, events.EventTypeBudgetWarning:
		p, ok := evt.Payload.(events.BudgetPayload)
		if !ok {
			return
		}
		fallback, blocks = BuildBudgetMessage(evt.Type, p)
	case events.EventTypeBreakerState:
		p, ok := evt.Payload.(events.BreakerPayload)
		if !ok || p.To != "open" {
			return
		}
		fallback, blocks = BuildBreakerMessage(p)
	case events.EventTypeAgentTimeout:
		p, ok := evt.Payload.(events.AgentPayload)
		if !ok {
			return
		}
		fallback, blocks = BuildAgentMessage(p)
	default:
		return
	}

	if s.suppress(fallback) {
		return
	}

	select {
	case s.queue <- notification{fallback: fallback, blocks: blocks}:
	default:
		s.logger.Warn("Slack queue full; dropping notification", "text", fallback)
	}
}

// suppress reports whether an identical notification was already queued
// within the dedupe window, recording this one either way.
func (s *Service) suppress(fallback string) bool {
	if s.window <= 0 {
		return false
	}
	key := fingerprint(fallback)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.seen[key]; ok && now.Sub(last) < s.window {
		return true
	}
	for k, at := range s.seen {
		if now.Sub(at) >= s.window {
			delete(s.seen, k)
		}
	}
	s.seen[key] = now
	return false
}

// postLoop delivers queued notifications. Fail-open: errors are logged,
// never propagated.
func (s *Service) postLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case n := <-s.queue:
			if err := s.client.PostMessage(context.Background(), n.fallback, n.blocks, postTimeout); err != nil {
				s.logger.Error("Failed to post Slack notification", "text", n.fallback, "error", err)
			}
		}
	}
}
