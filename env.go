package rockyardhost

// env.go implements the host environment: the request loop every handle is
// confined to, the worker pool, and the shutdown hook.

import (
	"context"
	"errors"
	"sync"

	"github.com/aalhour/rockyardhost/internal/engine"
	"github.com/aalhour/rockyardhost/internal/lifecycle"
	"github.com/aalhour/rockyardhost/internal/logging"
	"github.com/aalhour/rockyardhost/internal/scheduler"
)

// ErrEnvStopped is returned by Invoke and Await when the request loop stops
// before the completion arrives.
var ErrEnvStopped = errors.New("rockyardhost: env stopped")

// Env owns a request loop and a bounded worker pool.
//
// Every handle method must be called on the loop: from inside Do, Invoke,
// Await, or a completion callback. Completions are always delivered on the
// loop, never from inside the call that requested them.
type Env struct {
	sched  *scheduler.Scheduler
	logger logging.Logger

	open    opener
	destroy func(location string, opts engine.Options) error
	repair  func(location string, opts engine.Options) error

	// Loop-confined.
	databases    *lifecycle.Registry[*Database]
	shuttingDown bool
	drained      chan struct{}
	drainedOnce  sync.Once

	done chan struct{}
}

// NewEnv starts a request loop on its own goroutine.
func NewEnv(opts *EnvOptions) *Env {
	if opts == nil {
		opts = &EnvOptions{}
	}
	logger := logging.OrDefault(opts.Logger)
	e := &Env{
		sched:     scheduler.New(scheduler.Options{Workers: opts.Workers, Logger: logger}),
		logger:    logger,
		open:      openEngine,
		destroy:   engine.Destroy,
		repair:    engine.Repair,
		databases: lifecycle.NewRegistry[*Database]("env.databases", nil, logger),
		drained:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go func() {
		defer close(e.done)
		if err := e.sched.Run(context.Background()); err != nil {
			e.logger.Errorf(logging.NSEnv+"request loop: %v", err)
		}
	}()
	return e
}

// Do runs fn on the request loop. It never blocks.
func (e *Env) Do(fn func()) {
	e.sched.Post(fn)
}

// Await runs fn on the request loop and blocks until fn calls done. It must
// not be called from the loop.
func Await[T any](e *Env, fn func(done func(T, error))) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	e.sched.Post(func() {
		fn(func(v T, err error) {
			select {
			case ch <- result{v, err}:
			default:
				e.logger.Warnf(logging.NSEnv + "completion delivered twice")
			}
		})
	})
	select {
	case r := <-ch:
		return r.v, r.err
	case <-e.sched.Stopped():
		select {
		case r := <-ch:
			return r.v, r.err
		default:
			var zero T
			return zero, ErrEnvStopped
		}
	}
}

// Invoke is Await for completions that carry only an error.
func (e *Env) Invoke(fn func(done func(error))) error {
	_, err := Await(e, func(done func(struct{}, error)) {
		fn(func(err error) { done(struct{}{}, err) })
	})
	return err
}

// NewDatabase creates an unopened database handle for location and
// registers it for shutdown. Call Open on it before use.
func (e *Env) NewDatabase(location string) *Database {
	e.assertLoop("env.newDatabase")
	d := newDatabase(e, location)
	if e.shuttingDown {
		d.hasClosed = true
		d.tracker.MarkTerminal()
		return d
	}
	d.id = e.databases.NextID()
	e.databases.Attach(d.id, d)
	e.logger.Debugf(logging.NSEnv+"database %d registered: %s", d.id, location)
	return d
}

// Destroy removes the database files at location. It fails when the
// database is open elsewhere.
func (e *Env) Destroy(location string, cb func(error)) {
	e.assertLoop("env.destroy")
	w := scheduler.NewWorkItem("env.destroy", func() error {
		return e.destroy(location, e.maintenanceOptions())
	})
	complete(w, cb)
	e.sched.Queue(w)
}

// Repair rebuilds the database at location from the files it can read.
func (e *Env) Repair(location string, cb func(error)) {
	e.assertLoop("env.repair")
	w := scheduler.NewWorkItem("env.repair", func() error {
		return e.repair(location, e.maintenanceOptions())
	})
	complete(w, cb)
	e.sched.Queue(w)
}

func (e *Env) maintenanceOptions() engine.Options {
	opts := engine.DefaultOptions()
	opts.Logger = e.logger
	return opts
}

// Shutdown closes every live database through the regular close cascade,
// waits for their completions and any remaining work, then stops the loop.
// It returns the close errors joined. Shutdown must not be called from the
// loop.
func (e *Env) Shutdown(ctx context.Context) error {
	var mu sync.Mutex
	var errs []error
	e.sched.Post(func() {
		if e.shuttingDown {
			return
		}
		e.shuttingDown = true
		live := e.databases.Snapshot()
		e.logger.Infof(logging.NSEnv+"shutdown: closing %d databases", len(live))
		for _, d := range live {
			if d.isClosing || d.hasClosed {
				continue
			}
			d.Close(func(err error) {
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			})
		}
		e.checkDrained()
	})

	select {
	case <-e.drained:
	case <-e.sched.Stopped():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := e.sched.Drain(ctx); err != nil && !errors.Is(err, scheduler.ErrStopped) {
		return err
	}
	e.sched.Stop()
	<-e.done

	mu.Lock()
	defer mu.Unlock()
	return errors.Join(errs...)
}

// detach deregisters a database that reached its terminal state.
func (e *Env) detach(d *Database) {
	if e.databases.Detach(d.id) {
		e.logger.Debugf(logging.NSEnv+"database %d deregistered", d.id)
	}
	e.checkDrained()
}

func (e *Env) checkDrained() {
	if e.shuttingDown && e.databases.Len() == 0 {
		e.drainedOnce.Do(func() { close(e.drained) })
	}
}

func (e *Env) assertLoop(op string) {
	lifecycle.Assertf(e.logger, e.sched.OnLoop(), "%s called off the request loop", op)
}

// reject delivers a request-time failure on a later loop turn.
func (e *Env) reject(cb func(error), err error) {
	cb = orNoop(cb)
	e.sched.Post(func() { cb(err) })
}

// complete routes w's outcome to cb, mapping engine errors.
func complete(w *scheduler.WorkItem, cb func(error)) {
	cb = orNoop(cb)
	w.OK = func() { cb(nil) }
	w.Fail = func(err error) { cb(fromEngine(err)) }
}

func orNoop(cb func(error)) func(error) {
	if cb == nil {
		return func(error) {}
	}
	return cb
}
