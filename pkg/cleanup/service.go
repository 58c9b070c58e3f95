// Package cleanup provides the data retention sweeper.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/switchyard-ai/switchyard/pkg/config"
	"github.com/switchyard-ai/switchyard/pkg/session"
	"github.com/switchyard-ai/switchyard/pkg/workflow"
)

// sweepTimeout bounds one database sweep.
const sweepTimeout = 30 * time.Second

// Service periodically enforces retention policies:
//   - Removes finished workflow executions past their maximum age
//   - Deletes conversation turns past theirs
//
// All sweeps are idempotent. Nil-safe: NewService returns nil when
// retention is disabled, and Start and Stop on a nil service are no-ops.
type Service struct {
	cfg        *config.RetentionConfig
	executions *workflow.Store
	sessions   *session.Store
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

// NewService creates the retention sweeper. Returns nil when disabled.
func NewService(cfg *config.RetentionConfig, executions *workflow.Store, sessions *session.Store, logger *slog.Logger) *Service {
	if cfg == nil || cfg.Disabled() {
		return nil
	}
	return &Service{
		cfg:        cfg,
		executions: executions,
		sessions:   sessions,
		logger:     logger.With("component", "retention"),
		now:        time.Now,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s == nil || s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Retention sweeper started",
		"sweep_interval", s.cfg.SweepInterval.String(),
		"execution_max_age", s.cfg.ExecutionMaxAge.String(),
		"session_turn_max_age", s.cfg.SessionTurnMaxAge.String())
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Retention sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	s.pruneExecutions()
	s.pruneSessionTurns(ctx)
}

func (s *Service) pruneExecutions() {
	cutoff := s.now().Add(-s.cfg.ExecutionMaxAge)
	count, err := s.executions.Prune(cutoff)
	if err != nil {
		s.logger.Error("Retention: execution prune failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: pruned old executions", "count", count)
	}
}

func (s *Service) pruneSessionTurns(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.cfg.SessionTurnMaxAge)
	count, err := s.sessions.PruneTurns(ctx, cutoff)
	if err != nil {
		s.logger.Error("Retention: session turn prune failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: pruned old session turns", "count", count)
	}
}
