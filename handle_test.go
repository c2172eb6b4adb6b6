package blocking

import (
	"context"
	"io"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleIdlePollStopIsNoop(t *testing.T) {
	h := NewHandle(42)
	ready, err := h.PollStop(&Context{})
	assert.True(t, ready)
	assert.NoError(t, err)
}

func TestHandleGetMutAndIntoInner(t *testing.T) {
	h := NewHandle([]int{1, 2, 3})
	ctx := context.Background()

	v, err := h.GetMut(ctx)
	require.NoError(t, err)
	*v = append(*v, 4)

	out, err := h.IntoInner(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, out)
}

func TestHandleIntoInnerTwicePanics(t *testing.T) {
	h := NewHandle("x")
	ctx := context.Background()

	_, err := h.IntoInner(ctx)
	require.NoError(t, err)

	assert.PanicsWithValue(t, ErrValueTaken, func() {
		_, _ = h.IntoInner(ctx)
	})
}

func TestSpawnHandleAwait(t *testing.T) {
	e := NewExecutor(WithMaxThreads(4))
	h := SpawnHandle(e, context.Background(), func(context.Context) (int, error) {
		return 7, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v, err := h.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestSpawnHandleSurfacesPanicAsError(t *testing.T) {
	e := NewExecutor(WithMaxThreads(4))
	h := SpawnHandle(e, context.Background(), func(context.Context) (int, error) {
		panic("boom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := h.Await(ctx)
	require.Error(t, err)
	var perr *PanicError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "boom", perr.Value)
}

// TestSpawnHandleAbandonedInTaskStateCancelsTask exercises testable
// property 8 (cancellation safety) at the Handle level: a Handle
// abandoned while still in the Task state, with its func not yet
// picked up by a worker, has its underlying Task cancelled once it
// becomes unreachable, so the func never runs.
func TestSpawnHandleAbandonedInTaskStateCancelsTask(t *testing.T) {
	e := NewExecutor(WithMaxThreads(1))

	blockerStarted := make(chan struct{})
	blocker := make(chan struct{})
	defer close(blocker)
	spawn(e, context.Background(), func(context.Context) (int, error) {
		close(blockerStarted)
		<-blocker
		return 0, nil
	})
	<-blockerStarted

	ran := make(chan struct{})
	h := SpawnHandle(e, context.Background(), func(context.Context) (int, error) {
		close(ran)
		return 1, nil
	})
	// Keep the Task reachable independent of h, so it can be observed
	// without reviving h itself.
	task := h.task
	h = nil // abandon the handle while its task is still queued

	waitDone := make(chan struct{})
	var waitErr error
	go func() {
		_, waitErr = task.Wait(context.Background())
		close(waitDone)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case <-waitDone:
			goto settled
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("handle's task was never cancelled after the handle became unreachable")
		}
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
settled:
	assert.ErrorIs(t, waitErr, ErrTaskCancelled)

	select {
	case <-ran:
		t.Fatal("task backing an abandoned handle should have been cancelled before it ran")
	default:
	}
}

// trackingWriter is a goroutine-safe io.Writer used to observe exactly
// how many bytes a Writing handle's pump goroutine has flushed.
type trackingWriter struct {
	mu  sync.Mutex
	buf []byte
}

func (w *trackingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *trackingWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// TestPollWriteDropMidStreamNoPanicSurfacesPrefix exercises scenario
// S6: writing into a Handle wrapping a sink, then abandoning it
// mid-stream (bypassing the orderly PollStop quiesce, the closest Go
// analogue of dropping it) must not panic, and the sink ends up
// holding a prefix of what was written, bounded by the ring capacity.
func TestPollWriteDropMidStreamNoPanicSurfacesPrefix(t *testing.T) {
	const ringCapacity = 16 * 1024
	const target = 96 * 1024

	sink := &trackingWriter{}
	h := NewHandle[io.Writer](sink, WithRingCapacity(ringCapacity))

	payload := make([]byte, target)
	for i := range payload {
		payload[i] = byte(i)
	}

	written := 0
	for written < target {
		w := newChanWaker()
		n, state, err := PollWrite[io.Writer](h, &Context{Waker: w}, payload[written:])
		require.NoError(t, err)
		switch state {
		case PollPending:
			<-w
		case PollReady:
			written += n
		}
	}

	assert.NotPanics(t, func() {
		h.mu.Lock()
		writer := h.writer
		task := h.writeTask
		h.mu.Unlock()
		writer.Close() // abrupt drop: bypass PollStop's orderly quiesce
		_, _ = task.Wait(context.Background())
	})

	got := sink.Len()
	assert.LessOrEqual(t, got, written)
	assert.GreaterOrEqual(t, got, written-ringCapacity)

	// The Executor backing the abandoned pump must remain usable.
	task2 := spawn(DefaultExecutor(), context.Background(), func(context.Context) (int, error) {
		return 9, nil
	})
	v, err := task2.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, v)
}
