package recovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
	"github.com/JakeFAU/news-archive-harvester/internal/metrics"
)

// Status is the terminal result of a recovered operation.
type Status int

// Terminal statuses.
const (
	// StatusSuccess means an attempt succeeded.
	StatusSuccess Status = iota
	// StatusSkip means the candidate is non-retryable (structural).
	StatusSkip
	// StatusFatalSkip means every retry, including after rotation, failed.
	StatusFatalSkip
	// StatusAborted means the parent context ended.
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSkip:
		return "skip"
	case StatusFatalSkip:
		return "fatal_skip"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome describes how an operation ended.
type Outcome struct {
	Status   Status
	Attempts int
	// Challenged is set when any attempt was classified as a challenge or
	// transient retries escalated to challenge handling.
	Challenged bool
	Rotated    bool
	// Err is a *crawler.FailureError for skips, or the context error when aborted.
	Err error
}

// OK reports whether the operation succeeded.
func (o Outcome) OK() bool { return o.Status == StatusSuccess }

// Event identifies what is being attempted, for logs and metrics.
type Event struct {
	Source string
	Unit   crawler.WorkUnit
	URL    string
}

// Config bounds the retry policy.
type Config struct {
	// TransientRetries is how many times a transient failure is retried
	// before escalating to challenge handling.
	TransientRetries int
	// ChallengeRetries is how many attempts follow an identity rotation.
	ChallengeRetries int
	// AttemptTimeout bounds each attempt; zero leaves it to the caller.
	AttemptTimeout time.Duration
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

// Controller runs operations under the retry and rotation policy. It is
// owned by a single worker.
type Controller struct {
	cfg     Config
	rotator crawler.IdentityRotator
	backoff Backoff
	pauser  Pauser
	logger  *zap.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithPauser replaces the timer used between attempts.
func WithPauser(p Pauser) Option {
	return func(c *Controller) { c.pauser = p }
}

// NewController builds a Controller. rotator may be nil, in which case
// challenge handling only retries.
func NewController(cfg Config, rotator crawler.IdentityRotator, logger *zap.Logger, opts ...Option) *Controller {
	if cfg.TransientRetries < 0 {
		cfg.TransientRetries = 0
	}
	if cfg.ChallengeRetries < 0 {
		cfg.ChallengeRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		cfg:     cfg,
		rotator: rotator,
		backoff: NewBackoff(cfg.BaseDelay, cfg.MaxDelay),
		pauser:  TimerPause{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do calls fn until it succeeds or the policy gives up.
//
// Transient failures are retried TransientRetries times and then treated as
// a challenge. The first challenge rotates the identity once; after that
// ChallengeRetries further attempts are made regardless of how they fail,
// unless a failure is structural.
func (c *Controller) Do(ctx context.Context, event Event, fn func(ctx context.Context) error) Outcome {
	var (
		out            Outcome
		transientTries int
		challengeTries int
		inChallenge    bool
	)
	for {
		out.Attempts++
		err := c.attempt(ctx, fn)
		if err == nil {
			out.Status = StatusSuccess
			out.Err = nil
			return out
		}
		if ctx.Err() != nil {
			return c.aborted(out, ctx.Err())
		}

		kind := Classify(err)
		failure := &crawler.FailureError{Kind: kind, Unit: event.Unit, URL: event.URL, Attempt: out.Attempts, Err: err}
		out.Err = failure
		metrics.ObserveFailure(event.Source, kind.String())
		logger := c.logger.With(
			zap.String("unit", event.Unit.Key()),
			zap.String("url", event.URL),
			zap.Int("attempt", out.Attempts),
			zap.Stringer("kind", kind),
		)

		if kind == crawler.KindStructural {
			logger.Info("structural failure, skipping", zap.Error(err))
			out.Status = StatusSkip
			return out
		}

		if !inChallenge && kind == crawler.KindTransient && transientTries < c.cfg.TransientRetries {
			transientTries++
			logger.Debug("transient failure, retrying", zap.Error(err))
			if perr := c.pauser.Pause(ctx, c.backoff.Delay(transientTries-1)); perr != nil {
				return c.aborted(out, ctx.Err())
			}
			continue
		}

		if !inChallenge {
			inChallenge = true
			out.Challenged = true
			if kind == crawler.KindTransient {
				logger.Warn("transient retries exhausted, escalating", zap.Error(err))
			} else {
				logger.Warn("challenge detected", zap.Error(err))
			}
			if c.rotate(ctx, event, logger) {
				out.Rotated = true
			}
			if ctx.Err() != nil {
				return c.aborted(out, ctx.Err())
			}
		}

		if challengeTries >= c.cfg.ChallengeRetries {
			logger.Warn("challenge retries exhausted, skipping candidate", zap.Error(err))
			out.Status = StatusFatalSkip
			return out
		}
		challengeTries++
		if perr := c.pauser.Pause(ctx, c.backoff.Delay(challengeTries-1)); perr != nil {
			return c.aborted(out, ctx.Err())
		}
	}
}

func (c *Controller) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.cfg.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()
	err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && attemptCtx.Err() != nil {
		return fmt.Errorf("%w: %v", crawler.ErrTimeout, err)
	}
	return err
}

func (c *Controller) rotate(ctx context.Context, event Event, logger *zap.Logger) bool {
	if c.rotator == nil {
		return false
	}
	if err := c.rotator.Rotate(ctx); err != nil {
		logger.Error("identity rotation failed", zap.Error(err))
		return false
	}
	metrics.ObserveRotation(event.Source)
	return true
}

func (c *Controller) aborted(out Outcome, err error) Outcome {
	out.Status = StatusAborted
	out.Err = err
	return out
}
