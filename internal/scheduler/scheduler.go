package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/aalhour/rockyardhost/internal/logging"
)

// ErrStopped is returned by Run after Stop and by Drain when the loop is gone.
var ErrStopped = errors.New("scheduler: stopped")

// Options configures a Scheduler.
type Options struct {
	// Workers bounds the number of execute phases running at once.
	// Default: runtime.GOMAXPROCS(0).
	Workers int

	// Logger receives debug traces of queue/complete events.
	Logger logging.Logger
}

// Scheduler owns the request loop and the worker pool.
//
// Run must be called exactly once, typically on its own goroutine. Queue must
// only be called from the loop. Post may be called from anywhere.
type Scheduler struct {
	logger logging.Logger
	sem    *semaphore.Weighted

	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}

	// completed is signalled after every completion; Drain waits on it.
	completed chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once

	inflight atomic.Int64
	onLoop   atomic.Bool
	running  atomic.Bool
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Scheduler{
		logger:    logging.OrDefault(opts.Logger),
		sem:       semaphore.NewWeighted(int64(workers)),
		wake:      make(chan struct{}, 1),
		completed: make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// Post schedules fn to run on the request loop. It never blocks.
func (s *Scheduler) Post(fn func()) {
	s.mu.Lock()
	s.tasks = append(s.tasks, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Queue starts w's execute phase on the worker pool. The completion phase is
// posted back to the loop when execution finishes.
//
// Queueing the same item twice is a programming error.
func (s *Scheduler) Queue(w *WorkItem) {
	if w.queued {
		msg := fmt.Sprintf("work item %q queued twice", w.Name)
		s.logger.Fatalf(logging.NSSched+"%s", msg)
		panic(fmt.Errorf("%w: %s", logging.ErrFatal, msg))
	}
	w.queued = true
	s.inflight.Add(1)
	s.logger.Debugf(logging.NSSched+"queue %s", w.Name)

	go func() {
		// Background context: queued work is never cancelled mid-flight.
		_ = s.sem.Acquire(context.Background(), 1)
		err := w.run()
		s.sem.Release(1)
		s.Post(func() { s.complete(w, err) })
	}()
}

func (s *Scheduler) complete(w *WorkItem, err error) {
	if err != nil {
		s.logger.Debugf(logging.NSSched+"complete %s: %v", w.Name, err)
	} else {
		s.logger.Debugf(logging.NSSched+"complete %s", w.Name)
	}
	w.complete(err)
	s.inflight.Add(-1)
	select {
	case s.completed <- struct{}{}:
	default:
	}
}

// Inflight returns the number of queued items whose completion has not run.
func (s *Scheduler) Inflight() int64 {
	return s.inflight.Load()
}

// OnLoop reports whether a loop task is currently executing. It is a
// best-effort check used to catch handle methods called off the loop.
func (s *Scheduler) OnLoop() bool {
	return s.onLoop.Load()
}

// Run executes posted tasks until Stop is called or ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler: Run called twice")
	}
	for {
		s.mu.Lock()
		batch := s.tasks
		s.tasks = nil
		s.mu.Unlock()

		if len(batch) == 0 {
			select {
			case <-s.wake:
				continue
			case <-s.stop:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, fn := range batch {
			s.onLoop.Store(true)
			fn()
			s.onLoop.Store(false)
		}
	}
}

// Stop terminates Run. Tasks still queued are dropped.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Stopped returns a channel closed by Stop.
func (s *Scheduler) Stopped() <-chan struct{} {
	return s.stop
}

// Drain blocks until no queued work remains. It must not be called from
// the loop.
func (s *Scheduler) Drain(ctx context.Context) error {
	for {
		check := make(chan bool, 1)
		s.Post(func() { check <- s.inflight.Load() == 0 })

		select {
		case idle := <-check:
			if idle {
				return nil
			}
		case <-s.stop:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case <-s.completed:
		case <-s.stop:
			return ErrStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
