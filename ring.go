package blocking

import (
	"errors"
	"sync/atomic"
)

// ErrRingClosed is returned by a Reading handle's pump helper
// (blockingPipeWrite) once the ring has been closed and no further
// bytes can be written. The ring endpoints' own Poll methods never
// return it: they report a closed ring as a ready zero-byte result.
var ErrRingClosed = errors.New("blocking: ring endpoint closed")

// maxTransferPerPoll bounds how many bytes a single PollRead/PollWrite
// call will move, so a handle never monopolises the calling goroutine
// copying a large buffer in one shot.
const maxTransferPerPoll = 128 * 1024

// pipe is the shared state of a lock-free SPSC byte ring buffer. head
// and tail range over [0, 2*cap) rather than [0, cap) so that the two
// can be compared directly to tell a full buffer apart from an empty
// one (a plain head==tail test can't).
type pipe struct {
	_ [sizeOfCacheLine]byte

	head atomic.Uint64
	_    [sizeOfCacheLine - sizeOfAtomicUint64]byte

	tail atomic.Uint64
	_    [sizeOfCacheLine - sizeOfAtomicUint64]byte

	reader atomicWaker
	writer atomicWaker

	closed atomic.Bool

	buf []byte
	cap uint64
}

// newPipe allocates a ring buffer of the given byte capacity and
// returns its reader and writer halves.
func newPipe(capacity int) (*pipeReader, *pipeWriter) {
	if capacity <= 0 {
		panic("blocking: ring capacity must be positive")
	}
	if uint64(capacity)*2 < uint64(capacity) {
		panic("blocking: ring capacity too large")
	}
	p := &pipe{
		buf: make([]byte, capacity),
		cap: uint64(capacity),
	}
	return &pipeReader{p: p}, &pipeWriter{p: p}
}

// distance returns how many readable bytes lie between a (head) and b
// (tail), both taken from the [0, 2*cap) domain.
func (p *pipe) distance(a, b uint64) uint64 {
	if a <= b {
		return b - a
	}
	return 2*p.cap - (a - b)
}

func (p *pipe) realIndex(idx uint64) uint64 {
	if idx >= p.cap {
		return idx - p.cap
	}
	return idx
}

func (p *pipe) advance(idx, n uint64) uint64 {
	idx += n
	if idx >= 2*p.cap {
		idx -= 2 * p.cap
	}
	return idx
}

// pipeReader is the consuming half of a ring buffer.
type pipeReader struct {
	p    *pipe
	head uint64 // authoritative local copy, mirrors p.head
	tail uint64 // cached view of p.tail, reloaded on demand
}

// Close marks this endpoint closed and wakes the writer, mirroring the
// original's Drop impl (which has no direct Go equivalent without a
// finalizer, so it is made explicit here).
func (r *pipeReader) Close() {
	r.p.closed.Store(true)
	r.p.writer.wake()
}

// PollRead copies up to len(buf) bytes out of the ring into buf.
// It returns ready=false (with n==0) if the ring is currently empty
// and open: the caller must have installed cx.Waker, which will be
// invoked once a writer makes progress or closes its side. A ready
// result of (0, true, nil) means the writer closed with no more data
// pending: end of stream.
func (r *pipeReader) PollRead(cx *Context, buf []byte) (n int, ready bool, err error) {
	if len(buf) == 0 {
		return 0, true, nil
	}

	head := r.head
	tail := r.tail
	avail := r.p.distance(head, tail)
	if avail == 0 {
		tail = r.p.tail.Load() // Acquire
		avail = r.p.distance(head, tail)
		if avail == 0 {
			r.p.reader.register(cx.Waker)
			// The store above must be visible to a concurrent writer
			// checking for a registered reader waker before it decides
			// there's nothing to wake; re-load tail to close the race
			// where the writer published data and checked for a waker
			// strictly between our empty-check and our register call.
			tail = r.p.tail.Load()
			avail = r.p.distance(head, tail)
			if avail == 0 {
				if r.p.closed.Load() {
					return 0, true, nil
				}
				return 0, false, nil
			}
			r.p.reader.take()
		}
		r.tail = tail
	}

	toCopy := avail
	if toCopy > maxTransferPerPoll {
		toCopy = maxTransferPerPoll
	}
	if remaining := r.p.cap - r.p.realIndex(head); toCopy > remaining {
		toCopy = remaining
	}
	if toCopy > uint64(len(buf)) {
		toCopy = uint64(len(buf))
	}

	start := r.p.realIndex(head)
	n = copy(buf, r.p.buf[start:start+toCopy])

	r.head = r.p.advance(head, uint64(n))
	r.p.head.Store(r.head) // Release
	r.p.writer.wake()

	return n, true, nil
}

// pipeWriter is the producing half of a ring buffer.
type pipeWriter struct {
	p    *pipe
	head uint64 // cached view of p.head, reloaded on demand
	tail uint64 // authoritative local copy, mirrors p.tail

	// zeroedUntil bounds how far past the current tail a single
	// PollWrite call will advance in one step, amortising the cost of
	// bringing new buffer region into use. Go slices start zeroed, so
	// this ledger doesn't defend memory safety the way it does in the
	// original (whose backing buffer is allocated uninitialized); it
	// is kept because it is one of the caps PollWrite's transfer size
	// is computed from.
	zeroedUntil uint64
}

// Close marks this endpoint closed and wakes the reader.
func (w *pipeWriter) Close() {
	w.p.closed.Store(true)
	w.p.reader.wake()
}

// PollWrite copies up to len(buf) bytes from buf into the ring. It
// returns ready=false (with n==0) if the ring is currently full and
// open: the caller must have installed cx.Waker. A ready result of
// (0, true, nil) means the reader closed its side: pipe closed is not
// an error (spec §7), so this mirrors PollRead's own closed-ring
// result rather than constructing an error for it.
func (w *pipeWriter) PollWrite(cx *Context, buf []byte) (n int, ready bool, err error) {
	if w.p.closed.Load() {
		return 0, true, nil
	}
	if len(buf) == 0 {
		return 0, true, nil
	}

	head := w.head
	tail := w.tail
	used := w.p.distance(head, tail)
	if used == w.p.cap {
		head = w.p.head.Load() // Acquire
		used = w.p.distance(head, tail)
		if used == w.p.cap {
			w.p.writer.register(cx.Waker)
			head = w.p.head.Load()
			used = w.p.distance(head, tail)
			if used == w.p.cap {
				if w.p.closed.Load() {
					return 0, true, nil
				}
				return 0, false, nil
			}
			w.p.writer.take()
		}
		w.head = head
	}

	free := w.p.cap - used
	toCopy := free
	if toCopy > maxTransferPerPoll {
		toCopy = maxTransferPerPoll
	}
	if budget := w.zeroedUntil*2 + 4096; toCopy > budget {
		toCopy = budget
	}
	if remaining := w.p.cap - w.p.realIndex(tail); toCopy > remaining {
		toCopy = remaining
	}
	if toCopy > uint64(len(buf)) {
		toCopy = uint64(len(buf))
	}

	start := w.p.realIndex(tail)
	to := start + toCopy
	if w.zeroedUntil < to {
		w.zeroedUntil = to
	}
	n = copy(w.p.buf[start:to], buf)

	w.tail = w.p.advance(tail, uint64(n))
	w.p.tail.Store(w.tail) // Release
	w.p.reader.wake()

	return n, true, nil
}
