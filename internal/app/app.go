// Package app wires configuration into the long-lived crawl services and
// runs the dispatcher. It is the only place that knows about every
// concrete implementation.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/adapter"
	"github.com/JakeFAU/news-archive-harvester/internal/api"
	"github.com/JakeFAU/news-archive-harvester/internal/clock/system"
	"github.com/JakeFAU/news-archive-harvester/internal/config"
	"github.com/JakeFAU/news-archive-harvester/internal/coordination"
	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
	"github.com/JakeFAU/news-archive-harvester/internal/detector"
	"github.com/JakeFAU/news-archive-harvester/internal/dispatcher"
	"github.com/JakeFAU/news-archive-harvester/internal/fetcher"
	collyfetcher "github.com/JakeFAU/news-archive-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/news-archive-harvester/internal/fetcher/headless"
	uuidgen "github.com/JakeFAU/news-archive-harvester/internal/id/uuid"
	"github.com/JakeFAU/news-archive-harvester/internal/identity"
	"github.com/JakeFAU/news-archive-harvester/internal/lister"
	"github.com/JakeFAU/news-archive-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/news-archive-harvester/internal/policy/robots"
	"github.com/JakeFAU/news-archive-harvester/internal/progress"
	"github.com/JakeFAU/news-archive-harvester/internal/progress/sinks"
	"github.com/JakeFAU/news-archive-harvester/internal/recovery"
	"github.com/JakeFAU/news-archive-harvester/internal/schedule"
	"github.com/JakeFAU/news-archive-harvester/internal/sink"
	"github.com/JakeFAU/news-archive-harvester/internal/sink/csvfile"
	pgsink "github.com/JakeFAU/news-archive-harvester/internal/sink/postgres"
	"github.com/JakeFAU/news-archive-harvester/internal/status"
	"github.com/JakeFAU/news-archive-harvester/internal/storage/checkpoint"
	"github.com/JakeFAU/news-archive-harvester/internal/storage/local"
	"github.com/JakeFAU/news-archive-harvester/internal/storage/postgres"
	"github.com/JakeFAU/news-archive-harvester/internal/storage/quota"
	"github.com/JakeFAU/news-archive-harvester/internal/store"
	"github.com/JakeFAU/news-archive-harvester/internal/worker"
)

// SessionFactory builds the fetch session for worker index, fetching as
// the identities of rotator.
type SessionFactory func(ctx context.Context, index int, rotator *identity.Rotator) (crawler.Session, error)

// Option customizes App construction.
type Option func(*App)

// WithSessionFactory replaces the colly/chromedp session builder.
func WithSessionFactory(f SessionFactory) Option {
	return func(a *App) { a.newSession = f }
}

// WithRunRepository replaces the configured run ledger.
func WithRunRepository(repo store.RunRepository) Option {
	return func(a *App) { a.runs = repo }
}

// WithRedis supplies the client used for the cross-process state lease,
// overriding coordination.redis_addr.
func WithRedis(client redis.Cmdable) Option {
	return func(a *App) { a.redis = client }
}

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(a *App) { a.clock = c }
}

// App holds the shared, long-lived services of one crawl.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	adapter     crawler.Adapter
	scheduler   *schedule.Scheduler
	files       *local.Store
	checkpoints *checkpoint.FileStore
	quota       *quota.Tracker
	guard       *coordination.Guard
	sink        crawler.OutputSink
	limiter     *ratelimit.Limiter
	robots      crawler.RobotsPolicy
	runs        store.RunRepository
	redis       redis.Cmdable
	clock       crawler.Clock
	ids         *uuidgen.Generator
	newSession  SessionFactory

	running atomic.Bool
	closers []func() error
}

// New opens the state directory and output sinks for cfg.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New(), ids: uuidgen.New()}
	for _, opt := range opts {
		opt(a)
	}
	if a.newSession == nil {
		a.newSession = a.defaultSession
	}
	if err := a.open(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	src, err := adapter.Lookup(a.cfg.Crawl.Source)
	if err != nil {
		return err
	}
	a.adapter = src

	rng, err := a.cfg.Crawl.Range(src.Granularity())
	if err != nil {
		return err
	}
	files, err := local.New(local.Config{BaseDir: a.cfg.Crawl.StateDir})
	if err != nil {
		return fmt.Errorf("open state dir: %w", err)
	}
	a.files = files
	if a.checkpoints, err = checkpoint.NewFileStore(files, src.Key(), checkpoint.WithGranularity(src.Granularity())); err != nil {
		return err
	}
	if a.quota, err = quota.NewFileTracker(files, src.Key(), a.cfg.Crawl.Cap); err != nil {
		return err
	}
	if a.scheduler, err = schedule.New(rng, a.checkpoints); err != nil {
		return err
	}
	if err := a.openSinks(ctx); err != nil {
		return err
	}
	if err := a.openLedger(ctx); err != nil {
		return err
	}
	if a.redis == nil && a.cfg.Coordination.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Coordination.RedisAddr,
			Password: a.cfg.Coordination.RedisPassword,
			DB:       a.cfg.Coordination.RedisDB,
		})
		a.redis = client
		a.closers = append(a.closers, client.Close)
	}

	a.limiter = ratelimit.New(ratelimit.Config{RPS: a.cfg.RateLimit.RPS, Burst: a.cfg.RateLimit.Burst})
	a.robots = robots.New(a.cfg.Crawl.RespectRobots, identity.DefaultUserAgents[0], a.logger.Named("robots"))
	return nil
}

func (a *App) openSinks(ctx context.Context) error {
	csv, err := csvfile.Open(a.cfg.Output.CSVPath, csvfile.Options{NoSync: a.cfg.Output.NoSync, Logger: a.logger.Named("csv")})
	if err != nil {
		return err
	}
	var mirrors []crawler.OutputSink
	if pg := a.cfg.Output.Postgres; pg.DSN != "" {
		db, err := pgsink.New(ctx, pgsink.Config{
			DSN:             pg.DSN,
			Table:           pg.Table,
			MaxConns:        pg.MaxConns,
			MaxConnLifetime: pg.MaxConnLifetime,
			CreateTable:     pg.CreateTable,
		})
		if err != nil {
			_ = csv.Close()
			return err
		}
		mirrors = append(mirrors, db)
	}
	a.guard = coordination.NewGuard()
	a.sink = a.guard.Sink(sink.NewMulti(a.logger.Named("sink"), csv, mirrors...))
	a.closers = append(a.closers, a.sink.Close)
	return nil
}

func (a *App) openLedger(ctx context.Context) error {
	if a.runs != nil {
		return nil
	}
	pg := a.cfg.Output.Postgres
	if pg.DSN == "" {
		a.runs = store.NewMemory()
		return nil
	}
	runs, err := postgres.NewRunStore(ctx, pg.DSN, pg.CreateTable)
	if err != nil {
		return err
	}
	a.runs = runs
	a.closers = append(a.closers, func() error { runs.Close(); return nil })
	return nil
}

// Source returns the selected adapter.
func (a *App) Source() crawler.Adapter {
	return a.adapter
}

// Runs returns the run ledger.
func (a *App) Runs() store.RunRepository {
	return a.runs
}

// Status summarizes checkpoints and quota counts.
func (a *App) Status(ctx context.Context) (status.Report, error) {
	return status.Build(ctx, a.adapter.Key(), a.scheduler, a.cfg.Crawl.Workers, a.quota)
}

// Run walks every partition once, resuming from the persisted checkpoints.
// The returned report carries per-partition results; the error is the
// joined failure of every partition that did not finish. The state directory
// is locked for the duration of the run; with Redis configured the lease also
// guards processes on other hosts.
func (a *App) Run(ctx context.Context) (dispatcher.Report, error) {
	unlock, err := a.files.Lock()
	if err != nil {
		return dispatcher.Report{}, err
	}
	defer func() {
		if err := unlock(); err != nil {
			a.logger.Warn("unlock state dir failed", zap.Error(err))
		}
	}()

	if a.redis != nil {
		leaseCtx, release, err := a.acquireLease(ctx)
		if err != nil {
			return dispatcher.Report{}, err
		}
		defer release()
		ctx = leaseCtx
	}

	runID, err := a.newRunID()
	if err != nil {
		return dispatcher.Report{}, err
	}
	logger := a.logger.With(zap.String("run_id", runID.String()), zap.String("source", a.adapter.Key()))

	hub := progress.NewHub(progress.Config{Logger: logger.Named("ledger")},
		sinks.NewLogSink(logger.Named("ledger")),
		sinks.NewStoreSink(a.runs, logger.Named("ledger")),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("ledger close failed", zap.Error(err))
		}
	}()
	hub.Emit(progress.Event{RunID: runID, TS: a.clock.Now(), Stage: progress.StageRunStart, Source: a.adapter.Key()})

	serverCtx, stopServer := context.WithCancel(ctx)
	serverDone := a.startServer(serverCtx, logger)
	defer func() {
		stopServer()
		<-serverDone
	}()

	d, err := dispatcher.New(
		dispatcher.Config{Workers: a.cfg.Crawl.Workers},
		a.workerFactory(runID, hub, logger),
		a.scheduler,
		logger.Named("dispatcher"),
	)
	if err != nil {
		return dispatcher.Report{}, err
	}

	a.running.Store(true)
	report, err := d.Run(ctx)
	a.running.Store(false)
	if err == nil {
		err = report.Err()
	}

	done := progress.Event{RunID: runID, TS: a.clock.Now(), Stage: progress.StageRunDone, Source: a.adapter.Key()}
	switch {
	case err != nil:
		done.Stage = progress.StageRunError
		done.Note = err.Error()
	case ctx.Err() != nil:
		done.Stage = progress.StageRunError
		done.Note = "interrupted"
	}
	hub.Emit(done)

	totals := report.Totals()
	logger.Info("run finished",
		zap.Int("units", totals.Units),
		zap.Int("items", totals.Items),
		zap.Int("partial_units", totals.Partial),
		zap.Int("skipped", totals.Skipped),
		zap.Error(err),
	)
	return report, err
}

func (a *App) newRunID() (uuid.UUID, error) {
	raw, err := a.ids.NewID()
	if err != nil {
		return uuid.UUID{}, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("parse run id: %w", err)
	}
	return id, nil
}

func (a *App) acquireLease(ctx context.Context) (context.Context, func(), error) {
	token, err := a.ids.NewToken()
	if err != nil {
		return nil, nil, err
	}
	key := a.cfg.Coordination.LockKey + ":" + a.adapter.Key()
	lock := coordination.NewDistributedLock(a.redis, key, token, coordination.LockConfig{TTL: a.cfg.Coordination.LockTTL})
	lease := coordination.NewLease(lock, a.logger.Named("lease"))
	leaseCtx, err := lease.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire state lease %s: %w", key, err)
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			a.logger.Warn("release state lease failed", zap.Error(err))
		}
	}
	return leaseCtx, release, nil
}

func (a *App) startServer(ctx context.Context, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	if a.cfg.Server.Port <= 0 {
		close(done)
		return done
	}
	srv := api.NewServer(api.Options{
		Runs:   a.runs,
		Status: a.Status,
		Ready: func() error {
			if !a.running.Load() {
				return errors.New("crawl not running")
			}
			return nil
		},
		Logger: logger.Named("api"),
	})
	go func() {
		defer close(done)
		if err := srv.ListenAndServe(ctx, ":"+strconv.Itoa(a.cfg.Server.Port)); err != nil {
			logger.Error("operator server stopped", zap.Error(err))
		}
	}()
	return done
}

func (a *App) workerFactory(runID uuid.UUID, hub progress.Emitter, logger *zap.Logger) dispatcher.WorkerFactory {
	quotaView := a.guard.Quota(a.quota)
	return func(ctx context.Context, p schedule.Partition) (dispatcher.Runner, error) {
		wlog := logger.Named("worker").With(zap.String("partition", p.ID))
		rotator, err := identity.New(identity.Config{
			Proxies:    a.cfg.Identity.Proxies,
			UserAgents: a.cfg.Identity.UserAgents,
			Command:    strings.Fields(a.cfg.Identity.Command),
		}, p.Index, wlog)
		if err != nil {
			return nil, err
		}
		session, err := a.newSession(ctx, p.Index, rotator)
		if err != nil {
			return nil, err
		}
		rc := a.cfg.Recovery
		controller := recovery.NewController(recovery.Config{
			TransientRetries: rc.TransientRetries,
			ChallengeRetries: rc.ChallengeRetries,
			AttemptTimeout:   a.cfg.HTTP.Timeout + a.cfg.Headless.NavTimeout,
			BaseDelay:        rc.BaseDelay,
			MaxDelay:         rc.MaxDelay,
		}, rotator, wlog)
		challenge := detector.NewChallenge(detector.DefaultConfig())
		l, err := lister.New(session, a.adapter, quotaView, a.robots, wlog,
			lister.WithController(controller), lister.WithDetector(challenge))
		if err != nil {
			_ = session.Close()
			return nil, err
		}
		w, err := worker.New(worker.Deps{
			Adapter:    a.adapter,
			Session:    session,
			Lister:     l,
			Controller: controller,
			Guard: recovery.NewSessionGuard(a.adapter.Key(),
				rc.ChallengeUnitStreak, rc.MaxSessionRestarts, session, rotator, wlog),
			Detector: challenge,
			Quota:    quotaView,
			Sink:     a.sink,
			Clock:    a.clock,
			Progress: hub,
			RunID:    runID,
		}, worker.Config{UnitDelay: a.cfg.Crawl.UnitDelay}, wlog)
		if err != nil {
			_ = session.Close()
			return nil, err
		}
		return w, nil
	}
}

// defaultSession fetches over colly and, when enabled, promotes to chromedp.
func (a *App) defaultSession(_ context.Context, _ int, rotator *identity.Rotator) (crawler.Session, error) {
	logger := a.logger.Named("fetch")
	httpSession := collyfetcher.New(collyfetcher.Config{
		Timeout:      a.cfg.HTTP.Timeout,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	}, rotator, a.limiter, logger)

	hc := a.cfg.Headless
	if !hc.Enabled {
		return fetcher.NewPromoting(httpSession, nil, fetcher.Options{Logger: logger})
	}
	browser, err := headless.NewChromedp(headless.Config{
		MaxParallel:       hc.MaxParallel,
		NavigationTimeout: hc.NavTimeout,
		SettleDelay:       hc.SettleDelay,
		ExecPath:          hc.ExecPath,
	}, rotator, logger)
	if err != nil {
		_ = httpSession.Close()
		return nil, fmt.Errorf("start headless fetcher: %w", err)
	}
	return fetcher.NewPromoting(httpSession, browser, fetcher.Options{
		AlwaysHeadless: hc.Always || adapter.PrefersHeadless(a.adapter),
		Promoter:       detector.NewPromotion(hc.PromotionThreshold),
		Logger:         logger,
	})
}

// Close flushes and closes sinks, the ledger and the Redis client.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
