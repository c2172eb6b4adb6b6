package blocking

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxThreads is the default upper bound on concurrently live
// worker goroutines in an Executor.
const DefaultMaxThreads = 500

// DefaultIdleTimeout is how long an idle worker goroutine waits for
// new work before exiting.
const DefaultIdleTimeout = 500 * time.Millisecond

// Runnable is a unit of work submitted to an Executor. Panics raised
// while running a Runnable are recovered by the worker loop and do not
// take the worker goroutine down with them.
type Runnable func()

// Executor is an elastic pool of goroutines dedicated to running
// blocking work off whatever cooperative scheduler submitted it. It
// grows on backlog and shrinks on idleness, exactly mirroring the
// growth policy of the original Rust blocking-thread-pool this package
// bridges into: new workers are spawned while the queue backlog
// exceeds five times the number of idle workers, up to MaxThreads, and
// an idle worker older than IdleTimeout exits if there's still nothing
// to do.
type Executor struct {
	maxThreads  int
	idleTimeout time.Duration
	logger      Logger
	name        string
	metrics     *Metrics

	mu          sync.Mutex
	cond        *sync.Cond
	idleCount   int
	threadCount int
	queue       []Runnable

	sem *semaphore.Weighted
}

// NewExecutor constructs an independent Executor. Most callers should
// prefer the package-level Spawn/Do, which use a lazily-constructed
// shared default executor; NewExecutor exists for callers (tests, or
// programs wanting isolated pools with their own limits) that need
// their own.
func NewExecutor(opts ...Option) *Executor {
	o := resolveOptions(opts)
	e := &Executor{
		maxThreads:  o.maxThreads,
		idleTimeout: o.idleTimeout,
		logger:      o.logger,
		name:        o.name,
	}
	if o.metricsEnabled {
		e.metrics = &Metrics{}
	}
	e.cond = sync.NewCond(&e.mu)
	e.sem = semaphore.NewWeighted(int64(e.maxThreads))
	return e
}

var defaultExecutor = sync.OnceValue(func() *Executor {
	return NewExecutor()
})

// DefaultExecutor returns the shared package-level Executor used by
// Spawn and Do.
func DefaultExecutor() *Executor {
	return defaultExecutor()
}

// schedule enqueues r for execution, waking an idle worker (or growing
// the pool) as needed.
func (e *Executor) schedule(r Runnable) {
	e.mu.Lock()
	e.queue = append(e.queue, r)
	e.cond.Signal()
	e.growPool()
	e.mu.Unlock()
}

// growPool spawns additional worker goroutines while the backlog
// outpaces idle capacity. Must be called with e.mu held.
func (e *Executor) growPool() {
	for len(e.queue) > e.idleCount*5 && e.threadCount < e.maxThreads {
		if !e.sem.TryAcquire(1) {
			break
		}
		e.idleCount++
		e.threadCount++
		e.cond.Broadcast()
		go e.mainLoop()
	}
}

// mainLoop is the body of a single worker goroutine: it repeatedly
// drains the queue, running a growth check before each task (the
// backlog may have grown while this worker was busy), and exits after
// sitting idle for longer than idleTimeout with nothing queued.
func (e *Executor) mainLoop() {
	defer e.sem.Release(1)

	e.mu.Lock()
	for {
		for len(e.queue) == 0 {
			if !e.waitIdle() {
				e.idleCount--
				e.threadCount--
				e.mu.Unlock()
				return
			}
		}

		e.idleCount--
		r := e.queue[0]
		e.queue = e.queue[1:]
		e.growPool()
		e.mu.Unlock()

		e.run(r)

		e.mu.Lock()
		e.idleCount++
	}
}

// waitIdle blocks on the condition variable for up to idleTimeout,
// reporting whether work arrived in the queue (true) or the worker
// should exit (false, on timeout with nothing queued). Must be called with e.mu
// held; re-acquires it before returning.
func (e *Executor) waitIdle() bool {
	done := make(chan struct{})
	timer := time.AfterFunc(e.idleTimeout, func() {
		e.mu.Lock()
		close(done)
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer timer.Stop()

	for len(e.queue) == 0 {
		select {
		case <-done:
			return false
		default:
		}
		e.cond.Wait()
	}
	return true
}

// run executes r, recovering and logging any panic so one failed task
// can never take a worker goroutine down with it.
func (e *Executor) run(r Runnable) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Record(time.Since(start))
		}
		if rec := recover(); rec != nil {
			e.logger.Log(LogEntry{
				Level:    LevelError,
				Category: "executor",
				Executor: e.name,
				Message:  "runnable panicked",
				Context:  map[string]any{"recovered": rec},
			})
		}
	}()
	r()
}

// Metrics returns the Executor's latency metrics, or nil if it was
// constructed without WithMetrics(true).
func (e *Executor) Metrics() *Metrics {
	return e.metrics
}

// Stats is a point-in-time snapshot of an Executor's pool state.
type Stats struct {
	ThreadCount int
	IdleCount   int
	QueueLength int
}

// Stats returns a snapshot of the executor's current pool state.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		ThreadCount: e.threadCount,
		IdleCount:   e.idleCount,
		QueueLength: len(e.queue),
	}
}

// spawn submits fn to the executor and returns a Task tracking it. Both
// ctx and an explicit Task.Cancel govern cancellation before fn has
// started only: once the goroutine backing it has begun running, it
// runs to completion (or panic) regardless, matching the original's
// cancel-before-run semantics (cancelling a running blocking syscall
// isn't possible in general).
func spawn[T any](e *Executor, ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	t := newTask[T]()
	e.schedule(func() {
		if t.cancelled() {
			return
		}
		if ctx.Err() != nil {
			t.reject(ctx.Err())
			return
		}
		defer func() {
			if rec := recover(); rec != nil {
				t.reject(&PanicError{Value: rec})
			}
		}()
		v, err := fn(ctx)
		if err != nil {
			t.reject(err)
			return
		}
		t.resolve(v)
	})
	return t
}

// Spawn submits fn to the shared default Executor.
func Spawn[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	return spawn(DefaultExecutor(), ctx, fn)
}
