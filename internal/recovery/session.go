package recovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
	"github.com/JakeFAU/news-archive-harvester/internal/metrics"
)

// SessionGuard restarts a worker's fetch session after challenges recur
// across consecutive units, within a per-worker restart budget.
type SessionGuard struct {
	source      string
	threshold   int
	maxRestarts int
	session     crawler.SessionRestarter
	rotator     crawler.IdentityRotator
	logger      *zap.Logger

	streak   int
	restarts int
}

// NewSessionGuard builds a guard. A threshold below 1 disables restarts.
func NewSessionGuard(
	source string,
	threshold, maxRestarts int,
	session crawler.SessionRestarter,
	rotator crawler.IdentityRotator,
	logger *zap.Logger,
) *SessionGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRestarts < 0 {
		maxRestarts = 0
	}
	return &SessionGuard{
		source:      source,
		threshold:   threshold,
		maxRestarts: maxRestarts,
		session:     session,
		rotator:     rotator,
		logger:      logger,
	}
}

// UnitDone records whether the finished unit saw a challenge. It restarts
// the session when the streak reaches the threshold and returns
// crawler.ErrSessionBudgetExhausted once the budget is spent.
func (g *SessionGuard) UnitDone(ctx context.Context, challenged bool) error {
	if !challenged {
		g.streak = 0
		return nil
	}
	g.streak++
	if g.threshold < 1 || g.streak < g.threshold {
		return nil
	}
	if g.restarts >= g.maxRestarts {
		return fmt.Errorf("%w: %d restarts used", crawler.ErrSessionBudgetExhausted, g.restarts)
	}
	g.restarts++
	g.streak = 0
	g.logger.Warn("challenges persisted across units, restarting session",
		zap.Int("restart", g.restarts),
		zap.Int("max_restarts", g.maxRestarts),
	)
	metrics.ObserveRestart(g.source)
	if g.session != nil {
		if err := g.session.Restart(ctx); err != nil {
			return fmt.Errorf("restart session: %w", err)
		}
	}
	if g.rotator != nil {
		if err := g.rotator.Rotate(ctx); err != nil {
			g.logger.Error("identity rotation after restart failed", zap.Error(err))
		}
	}
	return nil
}

// Restarts reports how many restarts have been performed.
func (g *SessionGuard) Restarts() int { return g.restarts }

// Streak reports the current run of consecutive challenged units.
func (g *SessionGuard) Streak() int { return g.streak }
