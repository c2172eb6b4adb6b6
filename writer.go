package blocking

import (
	"context"
	"errors"
	"io"
)

// PollWrite advances a Handle wrapping an io.Writer, without blocking.
// On first call from Idle it spawns a pump goroutine that repeatedly
// calls the writer's Write with whatever bytes PollWrite has fed into
// an internal ring buffer; subsequent calls copy buf into that ring.
//
// If h is in a state incompatible with writing (already Streaming or
// Reading, or mid-Task), PollWrite first drives it back to Idle via
// poll_stop (discarding whatever error that quiesce surfaces, exactly
// as the original's impl<T: Write> AsyncWrite for Blocking<T> does: `let
// _ = futures::ready!(self.poll_stop(cx));`) before starting writing.
// PollWrite panics only if its Idle value was already taken.
func PollWrite[T io.Writer](h *Handle[T], cx *Context, buf []byte) (n int, state PollState, err error) {
	h.mu.Lock()
	switch h.tag {
	case tagIdle:
		if !h.hasValue {
			h.mu.Unlock()
			panic(ErrValueTaken)
		}
		dst := h.value
		var zero T
		h.value, h.hasValue = zero, false

		reader, writer := newPipe(h.ringCapacity)
		t := spawn(DefaultExecutor(), context.Background(), func(context.Context) (ioResult[T], error) {
			// Closing our side of the pipe as soon as we stop reading it
			// (on either exit path below) lets a caller-side PollWrite
			// observe the closure promptly, instead of filling the ring
			// with nobody left to drain it.
			defer reader.Close()
			chunk := make([]byte, maxTransferPerPoll)
			for {
				rn, rerr := blockingPipeRead(reader, chunk)
				if rn > 0 {
					if _, werr := dst.Write(chunk[:rn]); werr != nil {
						// The sink has failed: stop draining the ring
						// immediately rather than continuing to accept
						// and silently discard bytes into a dead
						// writer. Attempt a flush anyway (its own error
						// is secondary to the write failure that caused
						// it) and surface werr.
						flushPipeWriter(dst)
						return ioResult[T]{err: werr, value: dst}, nil
					}
				}
				if rerr != nil {
					return ioResult[T]{err: flushPipeWriter(dst), value: dst}, nil
				}
			}
		})

		h.tag = tagWriting
		h.writer = writer
		h.writeTask = t
		h.mu.Unlock()
		return PollWrite[T](h, cx, buf)

	case tagWriting:
		writer := h.writer
		h.mu.Unlock()
		n, ready, werr := writer.PollWrite(cx, buf)
		if !ready {
			return 0, PollPending, nil
		}
		// Pipe closed is not an error (spec §7): the ring reports it as a
		// plain zero-byte write, never ErrRingClosed, but filter it here
		// too (mirroring reader.go's rerr != ErrRingClosed guard) so a
		// caller never has to special-case a sentinel that only this
		// package's internals should ever see.
		if errors.Is(werr, ErrRingClosed) {
			werr = nil
		}
		return n, PollReady, werr

	default:
		ready, _ := h.pollStopLocked(cx)
		h.mu.Unlock()
		if !ready {
			return 0, PollPending, nil
		}
		return PollWrite[T](h, cx, buf)
	}
}

// PollFlush drains whatever has been buffered for a Writing handle
// down to the underlying io.Writer and back to Idle, surfacing any
// write error encountered along the way. It is PollStop under another
// name: flushing and quiescing a Writing handle are the same
// operation, since the pump goroutine only returns once it has
// observed the pipe close and (if the writer supports it) flushed.
func PollFlush[T io.Writer](h *Handle[T], cx *Context) (ready bool, err error) {
	return h.PollStop(cx)
}

// PollClose flushes h (as PollFlush) and then discards its Idle value,
// matching the original's poll_close: flush, then drop the sink.
func PollClose[T io.Writer](h *Handle[T], cx *Context) (ready bool, err error) {
	ready, err = h.PollStop(cx)
	if !ready {
		return false, nil
	}
	h.mu.Lock()
	var zero T
	h.value, h.hasValue = zero, false
	h.mu.Unlock()
	return true, err
}

// flushPipeWriter flushes dst if it implements an optional Flush()
// error method (common among buffered writers), a no-op otherwise.
func flushPipeWriter(dst any) error {
	if f, ok := dst.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// blockingPipeRead mirrors blockingPipeWrite for the reading side of a
// Writing handle's pump goroutine.
func blockingPipeRead(reader *pipeReader, buf []byte) (int, error) {
	for {
		w := newChanWaker()
		n, ready, err := reader.PollRead(&Context{Waker: w}, buf)
		if ready {
			if n == 0 && err == nil {
				return 0, io.EOF
			}
			return n, err
		}
		<-w
	}
}
