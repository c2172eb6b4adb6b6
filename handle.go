package blocking

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
)

// handleTag names the five states a Handle can be in. Exactly one of
// the state-specific fields on Handle is meaningful for a given tag.
type handleTag uint8

const (
	tagIdle handleTag = iota
	tagTask
	tagStreaming
	tagReading
	tagWriting
)

// ioResult carries the outcome of a background Reading/Writing pump
// goroutine: the error it stopped with (nil on a clean close) plus the
// synchronous value T it's handing back to Idle.
type ioResult[T any] struct {
	err   error
	value T
}

// Handle wraps a synchronous value of type T (an iterator, an
// io.Reader, an io.Writer, or nothing in particular) so it can be
// driven, one poll at a time, by a cooperative caller while the actual
// blocking work happens on an Executor goroutine.
//
// A Handle is always in exactly one of five states: Idle (holding T,
// or nothing, directly accessible), Task (a plain spawned operation is
// running), Streaming, Reading, or Writing (a capability-specific pump
// goroutine owns T while it drives it). PollStop is the universal
// operation that drains whichever active state back to Idle.
type Handle[T any] struct {
	mu  sync.Mutex
	tag handleTag

	value    T
	hasValue bool

	task *Task[T]

	items     any // chan Item, boxed; see PollNext
	itemsStop chan struct{}

	reader   *pipeReader
	readTask *Task[ioResult[T]]

	writer    *pipeWriter
	writeTask *Task[ioResult[T]]

	seqCapacity  int
	ringCapacity int
}

// DefaultSequenceCapacity is the number of items buffered between a
// Streaming handle's pump goroutine and its consumer.
const DefaultSequenceCapacity = 8 * 1024

// DefaultRingCapacity is the byte capacity of the pipe backing a
// Reading or Writing handle.
const DefaultRingCapacity = 8 * 1024 * 1024

// HandleOption configures capacities used by a Handle's capability
// methods (PollNext, PollRead, PollWrite). Unset options keep the
// package defaults (DefaultSequenceCapacity, DefaultRingCapacity).
type HandleOption interface{ applyHandle(*handleOptions) }

type handleOptions struct {
	seqCapacity  int
	ringCapacity int
}

type handleOptionFunc func(*handleOptions)

func (f handleOptionFunc) applyHandle(o *handleOptions) { f(o) }

// WithSequenceCapacity overrides the item-buffer capacity used when a
// Handle enters the Streaming state.
func WithSequenceCapacity(n int) HandleOption {
	return handleOptionFunc(func(o *handleOptions) { o.seqCapacity = n })
}

// WithRingCapacity overrides the byte capacity of the pipe used when a
// Handle enters the Reading or Writing state.
func WithRingCapacity(n int) HandleOption {
	return handleOptionFunc(func(o *handleOptions) { o.ringCapacity = n })
}

func resolveHandleOptions(opts []HandleOption) handleOptions {
	o := handleOptions{seqCapacity: DefaultSequenceCapacity, ringCapacity: DefaultRingCapacity}
	for _, opt := range opts {
		opt.applyHandle(&o)
	}
	return o
}

// NewHandle wraps value in a Handle, starting in the Idle state.
func NewHandle[T any](value T, opts ...HandleOption) *Handle[T] {
	o := resolveHandleOptions(opts)
	return &Handle[T]{tag: tagIdle, value: value, hasValue: true, seqCapacity: o.seqCapacity, ringCapacity: o.ringCapacity}
}

// SpawnHandle submits fn to e and returns a Handle that starts
// directly in the Task state, settling to Idle (holding fn's result)
// once fn completes. ctx governs cancellation before fn starts.
//
// If the returned Handle is abandoned (never driven to Idle via
// PollStop/GetMut/IntoInner/Await) and becomes unreachable while still
// in the Task state, a best-effort cleanup cancels its Task, matching
// the original's Drop impl for a Blocking<T> left holding a running
// task. This is harmless for a Handle that was properly awaited: Cancel
// is a no-op once a task has already settled.
func SpawnHandle[T any](e *Executor, ctx context.Context, fn func(ctx context.Context) (T, error), opts ...HandleOption) *Handle[T] {
	o := resolveHandleOptions(opts)
	task := spawn(e, ctx, fn)
	h := &Handle[T]{tag: tagTask, task: task, seqCapacity: o.seqCapacity, ringCapacity: o.ringCapacity}
	runtime.AddCleanup(h, func(task *Task[T]) { task.Cancel() }, task)
	return h
}

// ErrValueTaken is returned (as a panic value, mirroring the original,
// which treats it as a programmer error) when GetMut/IntoInner/Await is
// called on a Handle whose Idle value has already been taken by a
// prior IntoInner/Await.
var ErrValueTaken = errors.New("blocking: inner value was already taken")

// PollStop drives whichever state the handle is currently in towards
// Idle, without blocking: it returns ready=false if the active state's
// background work hasn't settled yet, having registered cx.Waker to be
// woken when it has. It is always safe to call, in any state,
// including Idle (a no-op, immediately ready).
func (h *Handle[T]) PollStop(cx *Context) (ready bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pollStopLocked(cx)
}

func (h *Handle[T]) pollStopLocked(cx *Context) (ready bool, err error) {
	switch h.tag {
	case tagIdle:
		return true, nil

	case tagTask:
		v, ready, taskErr := h.task.Poll(cx)
		if !ready {
			return false, nil
		}
		h.tag = tagIdle
		h.task = nil
		if taskErr != nil {
			var zero T
			h.value, h.hasValue = zero, false
			return true, taskErr
		}
		h.value, h.hasValue = v, true
		return true, nil

	case tagStreaming:
		closeStopOnce(h.itemsStop)
		v, ready, taskErr := h.task.Poll(cx)
		if !ready {
			return false, nil
		}
		h.tag = tagIdle
		h.task = nil
		h.items = nil
		h.itemsStop = nil
		if taskErr != nil {
			var zero T
			h.value, h.hasValue = zero, false
			return true, taskErr
		}
		h.value, h.hasValue = v, true
		return true, nil

	case tagReading:
		h.reader.Close()
		res, ready, taskErr := h.readTask.Poll(cx)
		if !ready {
			return false, nil
		}
		h.tag = tagIdle
		h.readTask = nil
		h.reader = nil
		if taskErr != nil {
			var zero T
			h.value, h.hasValue = zero, false
			return true, taskErr
		}
		h.value, h.hasValue = res.value, true
		return true, surfaceIOError(res.err)

	case tagWriting:
		h.writer.Close()
		res, ready, taskErr := h.writeTask.Poll(cx)
		if !ready {
			return false, nil
		}
		h.tag = tagIdle
		h.writeTask = nil
		h.writer = nil
		if taskErr != nil {
			var zero T
			h.value, h.hasValue = zero, false
			return true, taskErr
		}
		h.value, h.hasValue = res.value, true
		return true, surfaceIOError(res.err)

	default:
		panic("blocking: unreachable handle state")
	}
}

// surfaceIOError hides the ring's own closed-on-purpose signal (which
// PollStop triggers deliberately, by calling Close) from the caller:
// only a genuine I/O failure from the underlying synchronous value is
// worth surfacing.
func surfaceIOError(err error) error {
	if errors.Is(err, ErrRingClosed) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func closeStopOnce(ch chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// GetMut blocks (bounded by ctx) until any in-flight state settles,
// then returns a pointer to the handle's Idle value for the caller to
// mutate in place. It panics with ErrValueTaken if the value was
// already removed by a prior IntoInner/Await.
func (h *Handle[T]) GetMut(ctx context.Context) (*T, error) {
	if err := h.awaitStop(ctx); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.hasValue {
		panic(ErrValueTaken)
	}
	return &h.value, nil
}

// IntoInner blocks (bounded by ctx) until any in-flight state settles,
// then takes and returns the handle's Idle value, leaving the handle
// empty. It panics with ErrValueTaken if called twice.
func (h *Handle[T]) IntoInner(ctx context.Context) (T, error) {
	if err := h.awaitStop(ctx); err != nil {
		var zero T
		return zero, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.hasValue {
		panic(ErrValueTaken)
	}
	v := h.value
	var zero T
	h.value, h.hasValue = zero, false
	return v, nil
}

// Await blocks (bounded by ctx) until a Handle started via SpawnHandle
// settles, then consumes and returns its result. It is IntoInner under
// another name, matching the original's impl Future for Blocking<T>,
// which is exactly "drive poll_stop, then take the Idle value."
func (h *Handle[T]) Await(ctx context.Context) (T, error) {
	return h.IntoInner(ctx)
}

// awaitStop repeatedly polls PollStop using a channel-backed default
// waker until it reports ready or ctx is done.
func (h *Handle[T]) awaitStop(ctx context.Context) error {
	for {
		w := newChanWaker()
		ready, err := h.PollStop(&Context{Waker: w})
		if ready {
			return err
		}
		select {
		case <-w:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
