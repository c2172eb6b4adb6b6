package blocking

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrTaskCancelled is returned by Task.Wait/Poll when the task was
// cancelled before it produced a result.
var ErrTaskCancelled = errors.New("blocking: task cancelled")

// PanicError wraps a value recovered from a panic inside spawned
// blocking work, surfacing it as an error instead of crashing the
// worker goroutine. Its message mirrors the original's "task has
// failed" join-handle panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("blocking: task has failed: %v", e.Value)
}

// Task is a single-await join handle over a func spawned onto an
// Executor. It mirrors the original async_task::Task<T>: exactly one
// caller is expected to Wait on (or Poll) it, and Cancel is safe to
// call any number of times, from any goroutine.
type Task[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	value    T
	err      error
	settled  bool
	cancelCh chan struct{}
}

func newTask[T any]() *Task[T] {
	return &Task[T]{
		done:     make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
}

func (t *Task[T]) resolve(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settled {
		return
	}
	t.settled = true
	t.value = v
	close(t.done)
}

func (t *Task[T]) reject(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settled {
		return
	}
	t.settled = true
	t.err = err
	close(t.done)
}

// Cancel requests that the task not run. If its func hasn't yet been
// picked up by an Executor worker, the worker skips it entirely when
// it does get there. If the func is already running, it runs to
// completion regardless (there is no way to forcibly interrupt a
// synchronous call); Cancel instead settles the task immediately with
// ErrTaskCancelled, so a concurrent Wait/Poll need not wait for it,
// and the func's own eventual result (if it arrives after Cancel) is
// discarded. Cancel has no effect on a task that has already settled,
// and is safe to call more than once, from any goroutine.
func (t *Task[T]) Cancel() {
	t.mu.Lock()
	select {
	case <-t.cancelCh:
	default:
		close(t.cancelCh)
	}
	t.mu.Unlock()
	t.reject(ErrTaskCancelled)
}

// cancelled reports whether Cancel has been called, so a scheduled
// Runnable can skip running its func entirely for a task that was
// cancelled before an Executor worker got to it.
func (t *Task[T]) cancelled() bool {
	select {
	case <-t.cancelCh:
		return true
	default:
		return false
	}
}

// Poll reports whether the task has settled yet, without blocking. If
// it hasn't, cx.Waker is registered to be woken on settlement.
func (t *Task[T]) Poll(cx *Context) (value T, ready bool, err error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.value, true, t.err
	default:
	}
	if cx.Waker != nil {
		go func() {
			<-t.done
			cx.Waker.Wake()
		}()
	}
	var zero T
	return zero, false, nil
}

// Wait blocks until the task settles or ctx is cancelled, whichever
// comes first.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
