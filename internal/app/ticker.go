package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/okian/pulse/internal/domain/session"
	"github.com/okian/pulse/pkg/logger"
)

// ticker drives Pump and Autosave on the actor while a session is active.
// Ticks that find the task queue full are dropped; the next Pump catches up.
type ticker struct {
	svc    *Service
	manual bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func newTicker(svc *Service, manual bool) *ticker {
	return &ticker{svc: svc, manual: manual}
}

// Start implements session.Scheduler.
func (t *ticker) Start(tick, autosave time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.manual || t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop(tick, autosave, t.stop, t.done)
}

// Stop implements session.Scheduler. It returns once the loop has exited.
func (t *ticker) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (t *ticker) loop(tick, autosave time.Duration, stop, done chan struct{}) {
	defer close(done)

	pump := time.NewTicker(tick)
	defer pump.Stop()
	var save <-chan time.Time
	if autosave > 0 {
		st := time.NewTicker(autosave)
		defer st.Stop()
		save = st.C
	}

	for {
		select {
		case <-stop:
			return
		case <-pump.C:
			t.fire("pump", t.svc.pumpTask())
		case <-save:
			t.fire("autosave", t.svc.autosaveTask())
		}
	}
}

func (t *ticker) fire(kind string, tk task) {
	if err := t.svc.submit(context.Background(), tk); err != nil {
		t.svc.logger.Warn(context.Background(), "dropped scheduled task",
			logger.String("kind", kind),
			logger.Error(err),
		)
	}
}

func (s *Service) pumpTask() task {
	return task{run: func(ctx context.Context, o *session.Orchestrator) {
		if _, err := o.Pump(ctx); err != nil && !errors.Is(err, session.ErrNotActive) {
			s.logger.Error(ctx, "pump failed", logger.Error(err))
		}
		s.afterEnd(o)
	}}
}

func (s *Service) autosaveTask() task {
	return task{run: func(ctx context.Context, o *session.Orchestrator) {
		if _, err := o.Autosave(ctx); err != nil && !errors.Is(err, session.ErrNotActive) {
			s.logger.Error(ctx, "autosave failed", logger.Error(err))
		}
	}}
}

// afterEnd announces a session that a pump just ended automatically.
func (s *Service) afterEnd(o *session.Orchestrator) {
	if o.State() != session.StateIdle {
		return
	}
	if st := o.Status(); st.LastEnd != nil && st.LastEnd.SessionID != s.lastAnnounced {
		s.lastAnnounced = st.LastEnd.SessionID
		if s.broadcaster != nil {
			s.broadcaster.Broadcast(FrameSessionEnded, st.LastEnd)
		}
	}
}
