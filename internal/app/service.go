// Package service hosts the session orchestrator behind a single actor
// goroutine and wires it to persistence, the leaderboard and the live feed.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/pulse/internal/adapters/mq/queue"
	"github.com/okian/pulse/internal/adapters/mq/worker"
	"github.com/okian/pulse/internal/adapters/repository"
	"github.com/okian/pulse/internal/clock"
	"github.com/okian/pulse/internal/domain/dedupe"
	"github.com/okian/pulse/internal/domain/identity"
	"github.com/okian/pulse/internal/domain/session"
	"github.com/okian/pulse/internal/domain/summary"
	"github.com/okian/pulse/internal/domain/zone"
	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

// Queue names reported in metrics.
const (
	sessionQueue = "session"
	saveQueue    = "save"
)

// Live frame types.
const (
	FrameTick         = "tick"
	FrameSessionEnded = "session_ended"
)

// Broadcaster fans frames out to live subscribers. Broadcast must not block.
type Broadcaster interface {
	Broadcast(frameType string, data any)
}

// task is one unit of work executed by the session actor.
type task struct {
	run  func(ctx context.Context, o *session.Orchestrator)
	done chan struct{}
}

type saveJob struct {
	payload summary.Payload
	final   bool
}

// Service owns the orchestrator. Every call reaches it through the task
// queue, so the orchestrator only ever runs on the actor goroutine.
type Service struct {
	mu sync.RWMutex

	// Configuration
	sessionCfg    session.Config
	zones         []zone.Zone
	users         []identity.User
	queueSize     int
	saveQueueSize int
	dedupeSize    int
	historyLimit  int
	manualTicks   bool

	// Collaborators
	clock       clock.Clock
	store       repository.Store
	board       *repository.Leaderboard
	broadcaster Broadcaster
	orch        *session.Orchestrator
	ticker      *ticker

	tasks *queue.InMemoryQueue[task]
	saves *queue.InMemoryQueue[saveJob]
	actor *worker.Worker[task]
	saver *worker.Worker[saveJob]

	// State
	started       atomic.Bool
	cancel        context.CancelFunc
	lastAnnounced string // actor goroutine only

	logger logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		sessionCfg:    session.DefaultConfig(),
		queueSize:     4096,
		saveQueueSize: 64,
		dedupeSize:    4096,
		historyLimit:  1000,
		clock:         clock.Real{},
		board:         repository.NewLeaderboard(),
		logger:        logger.GetOrNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	s.logger = s.logger.Named("service")
	return s
}

// Start builds the orchestrator, seeds the leaderboard from the store and
// launches the actor and persistence workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.Load() {
		return nil
	}
	s.logger.Info(ctx, "starting session service...")

	zones, err := zone.NewTable(s.zones)
	if err != nil {
		return fmt.Errorf("build zone table: %w", err)
	}
	directory, err := identity.NewDirectory(s.users)
	if err != nil {
		return fmt.Errorf("build directory: %w", err)
	}
	for _, u := range directory.Users() {
		if len(u.ZoneOverrides) > 0 {
			zones.SetOverrides(u.ID, u.ZoneOverrides)
		}
	}
	if err := s.board.Rebuild(ctx, s.store, s.historyLimit); err != nil {
		return err
	}

	s.tasks = queue.NewInMemoryQueue[task](queue.WithName(sessionQueue), queue.WithCapacity(s.queueSize))
	s.saves = queue.NewInMemoryQueue[saveJob](queue.WithName(saveQueue), queue.WithCapacity(s.saveQueueSize))
	s.ticker = newTicker(s, s.manualTicks)

	s.orch, err = session.New(
		session.WithConfig(s.sessionCfg),
		session.WithClock(s.clock),
		session.WithLogger(s.logger),
		session.WithZones(zones),
		session.WithDirectory(directory),
		session.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))),
		session.WithPersister(&persister{saves: s.saves, logger: s.logger}),
		session.WithScheduler(s.ticker),
		session.WithTickObserver(s.publishTick),
	)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	// Workers outlive the Start context; Stop cancels them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.actor = worker.New[task](s.tasks, worker.HandlerFunc[task](s.runTask),
		worker.WithName("session-actor"), worker.WithLogger(s.logger))
	s.saver = worker.New[saveJob](s.saves, worker.HandlerFunc[saveJob](s.save),
		worker.WithName("session-saver"), worker.WithLogger(s.logger))
	go s.actor.Run(runCtx)
	go s.saver.Run(runCtx)

	s.started.Store(true)
	s.logger.Info(ctx, "session service started",
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("ranked", s.board.Count()),
		logger.Bool("manualTicks", s.manualTicks),
	)
	return nil
}

// Stop ends any running session, drains both queues and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.do(ctx, func(ctx context.Context, o *session.Orchestrator) {
		if o.State() == session.StateIdle {
			return
		}
		if _, err := o.End(ctx, session.ReasonShutdown); err != nil {
			s.logger.Warn(ctx, "failed to end session on shutdown", logger.Error(err))
		}
	}); err != nil && !errors.Is(err, ErrNotStarted) {
		s.logger.Warn(ctx, "could not end session before shutdown", logger.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started.Load() {
		return nil
	}
	s.logger.Info(ctx, "stopping session service...")
	s.started.Store(false)

	var errs []error
	s.ticker.Stop()
	_ = s.tasks.Close()
	if err := s.actor.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session actor: %w", err))
	}
	// A drained task may have restarted the ticker.
	s.ticker.Stop()
	_ = s.saves.Close()
	if err := s.saver.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session saver: %w", err))
	}
	s.cancel()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.logger.Info(ctx, "session service stopped")
	return errors.Join(errs...)
}

// do runs fn on the actor and waits for it to finish.
func (s *Service) do(ctx context.Context, fn func(ctx context.Context, o *session.Orchestrator)) error {
	t := task{run: fn, done: make(chan struct{})}
	if err := s.submit(ctx, t); err != nil {
		return err
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit enqueues t without waiting for it. It never takes s.mu, so the
// ticker can submit while Stop holds the lock.
func (s *Service) submit(ctx context.Context, t task) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	if err := s.tasks.Enqueue(ctx, t); err != nil {
		switch {
		case errors.Is(err, queue.ErrFull):
			return fmt.Errorf("%w: %w", ErrBusy, err)
		case errors.Is(err, queue.ErrClosed):
			return ErrNotStarted
		}
		return err
	}
	return nil
}

func (s *Service) runTask(ctx context.Context, t task) error {
	defer func() {
		if t.done != nil {
			close(t.done)
		}
	}()
	t.run(ctx, s.orch)
	return nil
}

// save writes one summary and refreshes the leaderboard from it.
func (s *Service) save(ctx context.Context, j saveJob) error {
	began := time.Now()
	err := s.store.Save(ctx, j.payload)
	metrics.RecordPersist(float64(time.Since(began).Microseconds())/1000, err)
	if err != nil {
		return fmt.Errorf("save session %s: %w", j.payload.SessionID, err)
	}
	rec, err := repository.RecordFor(j.payload, s.clock.Now())
	if err != nil {
		return err
	}
	s.board.Apply(rec.SessionID, rec.Coins)
	s.logger.Debug(ctx, "session saved",
		logger.String("session", rec.SessionID),
		logger.Bool("final", j.final),
		logger.Int("coins", rec.TotalCoins),
	)
	return nil
}

func (s *Service) publishTick(r session.TickReport) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(FrameTick, r)
	}
}

// persister hands summaries to the save worker without blocking the actor.
type persister struct {
	saves  *queue.InMemoryQueue[saveJob]
	logger logger.Logger
}

func (p *persister) Persist(ctx context.Context, pl summary.Payload, final bool) {
	if err := p.saves.Enqueue(ctx, saveJob{payload: pl, final: final}); err != nil {
		metrics.RecordPersist(0, err)
		p.logger.Warn(ctx, "dropped session save",
			logger.String("session", pl.SessionID),
			logger.Bool("final", final),
			logger.Error(err),
		)
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	started := s.started.Load()
	stats := map[string]interface{}{
		"started":     started,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"manualTicks": s.manualTicks,
	}
	if started {
		stats["queueLength"] = s.tasks.Len()
		stats["saveQueueLength"] = s.saves.Len()
		stats["rankedParticipants"] = s.board.Count()
		metrics.UpdateQueueSize(sessionQueue, s.tasks.Len())
		metrics.UpdateQueueSize(saveQueue, s.saves.Len())
	}
	return stats
}
