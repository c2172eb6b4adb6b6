package blocking

import (
	"context"
	"io"
)

// PollRead advances a Handle wrapping an io.Reader, without blocking.
// On first call from Idle it spawns a pump goroutine that repeatedly
// calls the reader's Read and feeds the bytes into an internal ring
// buffer; subsequent calls drain that ring into buf. Once the reader
// returns io.EOF (or any error), the Handle is drained back to Idle,
// handing the reader back, and the error (if not io.EOF) is surfaced.
//
// If h is in a state incompatible with reading (already Streaming or
// Writing, or mid-Task), PollRead first drives it back to Idle via
// poll_stop (discarding whatever error that quiesce surfaces, exactly
// as the original's impl<T: Read> AsyncRead for Blocking<T> does: `let
// _ = futures::ready!(self.poll_stop(cx));`) before starting reading.
// PollRead panics only if its Idle value was already taken.
func PollRead[T io.Reader](h *Handle[T], cx *Context, buf []byte) (n int, state PollState, err error) {
	h.mu.Lock()
	switch h.tag {
	case tagIdle:
		if !h.hasValue {
			h.mu.Unlock()
			panic(ErrValueTaken)
		}
		src := h.value
		var zero T
		h.value, h.hasValue = zero, false

		reader, writer := newPipe(h.ringCapacity)
		t := spawn(DefaultExecutor(), context.Background(), func(context.Context) (ioResult[T], error) {
			defer writer.Close()
			buf := make([]byte, maxTransferPerPoll)
			for {
				rn, rerr := src.Read(buf)
				pending := buf[:rn]
				for len(pending) > 0 {
					wn, werr := blockingPipeWrite(writer, pending)
					pending = pending[wn:]
					if werr != nil {
						return ioResult[T]{err: rerr, value: src}, nil
					}
				}
				if rerr != nil {
					if rerr == io.EOF {
						rerr = nil
					}
					return ioResult[T]{err: rerr, value: src}, nil
				}
			}
		})

		h.tag = tagReading
		h.reader = reader
		h.readTask = t
		h.mu.Unlock()
		return PollRead[T](h, cx, buf)

	case tagReading:
		reader := h.reader
		h.mu.Unlock()

		rn, ready, rerr := reader.PollRead(cx, buf)
		if !ready {
			return 0, PollPending, nil
		}
		if rn > 0 {
			return rn, PollReady, nil
		}

		h.mu.Lock()
		ready2, err2 := h.pollStopLocked(cx)
		h.mu.Unlock()
		if !ready2 {
			return 0, PollPending, nil
		}
		if rerr != nil && rerr != ErrRingClosed {
			return 0, PollDone, rerr
		}
		return 0, PollDone, err2

	default:
		ready, _ := h.pollStopLocked(cx)
		h.mu.Unlock()
		if !ready {
			return 0, PollPending, nil
		}
		return PollRead[T](h, cx, buf)
	}
}

// blockingPipeWrite repeatedly polls writer.PollWrite using a
// throwaway channel waker until some bytes are written or the pipe is
// closed; it is the pump goroutine's uncomplicated way of turning the
// non-blocking ring API into a blocking call, since the pump itself
// runs on an Executor worker where blocking is exactly the point.
//
// A closed ring reports (0, true, nil) indefinitely (spec §7: pipe
// closed is not an error), which blockingPipeWrite turns into
// ErrRingClosed so its caller's "keep writing until pending is empty"
// loop has a way to notice there is nobody left to write to, instead of
// spinning forever feeding zero bytes at a time into a dead ring.
func blockingPipeWrite(writer *pipeWriter, buf []byte) (int, error) {
	for {
		w := newChanWaker()
		n, ready, err := writer.PollWrite(&Context{Waker: w}, buf)
		if ready {
			if n == 0 && err == nil && len(buf) > 0 {
				return 0, ErrRingClosed
			}
			return n, err
		}
		<-w
	}
}
