package blocking

import "sync/atomic"

// Waker is notified when a pending poll operation may make progress.
// Implementations must be safe to call Wake from any goroutine,
// including concurrently and after the originating poll has returned.
type Waker interface {
	Wake()
}

// WakerFunc adapts a plain function to a Waker.
type WakerFunc func()

// Wake implements Waker.
func (f WakerFunc) Wake() {
	if f != nil {
		f()
	}
}

// Context carries the Waker a poll operation must register before
// returning pending, so the caller is re-invoked once progress is
// possible. It is the Go-side analogue of a Rust std::task::Context.
type Context struct {
	Waker Waker
}

// chanWaker is the default Waker used by this package's own blocking
// loops (Handle's GetMut/IntoInner/Await, All, and the Reading/Writing
// pump helpers): it just signals a channel.
type chanWaker chan struct{}

func newChanWaker() chanWaker {
	return make(chanWaker, 1)
}

// Wake implements Waker. Non-blocking: a waker fired while nobody is
// listening just primes the channel for the next receive.
func (c chanWaker) Wake() {
	select {
	case c <- struct{}{}:
	default:
	}
}

// atomicWaker is a single-slot, thread-safe waker cell, used by the
// ring's reader/writer sides to hand a Waker across goroutines without
// losing a wakeup.
//
// The register/take/wake protocol and its ordering requirements mirror
// futures-util's AtomicWaker (and, transitively, the original pipe's
// use of it): a waker stored via register is guaranteed to be observed
// by a concurrent wake call that happens after the store, even though
// neither side holds a lock while doing so. Go's sync/atomic Load/Store
// operations already carry the acquire/release semantics the original
// obtains via an explicit SeqCst fence, so the fence itself has no
// separate representation here — it is subsumed by the atomic pointer
// swap below.
type atomicWaker struct {
	_ [sizeOfCacheLine]byte
	// slot holds a *wakerBox or nil. Boxing lets us store an interface
	// value behind a single atomic.Pointer.
	slot atomic.Pointer[wakerBox]
	_    [sizeOfCacheLine - sizeOfAtomicUint64]byte
}

type wakerBox struct{ w Waker }

// register stores w, replacing whatever was previously registered.
func (a *atomicWaker) register(w Waker) {
	if w == nil {
		return
	}
	a.slot.Store(&wakerBox{w: w})
}

// take removes and returns the currently registered waker, if any.
func (a *atomicWaker) take() Waker {
	box := a.slot.Swap(nil)
	if box == nil {
		return nil
	}
	return box.w
}

// wake fires and clears the currently registered waker, if any.
func (a *atomicWaker) wake() {
	if w := a.take(); w != nil {
		w.Wake()
	}
}
