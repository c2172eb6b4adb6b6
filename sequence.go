package blocking

import (
	"context"
	"iter"
	"sync"
)

// Iterator is a synchronous pull-based sequence: the Go-idiomatic
// shape a Rust Iterator bridges to. Implementations need not be safe
// for concurrent use; a Handle only ever touches one from a single
// goroutine at a time.
type Iterator[Item any] interface {
	// Next returns the next item, or ok=false once the sequence is
	// exhausted. Once it returns ok=false it must keep doing so.
	Next() (item Item, ok bool)
}

// sliceIterator adapts a plain slice to Iterator.
type sliceIterator[Item any] struct {
	items []Item
	pos   int
}

// FromSlice returns an Iterator walking s in order.
func FromSlice[Item any](s []Item) Iterator[Item] {
	return &sliceIterator[Item]{items: s}
}

func (s *sliceIterator[Item]) Next() (Item, bool) {
	if s.pos >= len(s.items) {
		var zero Item
		return zero, false
	}
	v := s.items[s.pos]
	s.pos++
	return v, true
}

// pullIterator adapts a Go 1.23 push iterator (iter.Seq) to Iterator,
// via iter.Pull, so both idioms can be bridged through the same
// Streaming state machine.
type pullIterator[Item any] struct {
	next func() (Item, bool)
	stop func()
	once sync.Once
}

// FromSeq adapts a push iterator (as produced by range-over-func
// producers, e.g. maps.Keys) into an Iterator. The returned Iterator's
// stop function is invoked automatically once Next reports ok=false,
// and should also be invoked (via a runtime.AddCleanup or an explicit
// call) if a caller abandons iteration early. PollStop does not invoke
// it: closing a Streaming pump early only stops further Next calls, so
// a caller that stops a Handle before the sequence is exhausted should
// call Stop on the recovered Iterator itself.
func FromSeq[Item any](seq iter.Seq[Item]) *pullIterator[Item] {
	next, stop := iter.Pull(seq)
	return &pullIterator[Item]{next: next, stop: stop}
}

func (p *pullIterator[Item]) Next() (Item, bool) {
	item, ok := p.next()
	if !ok {
		p.Stop()
	}
	return item, ok
}

// Stop releases resources held by the underlying push iterator. Safe
// to call more than once.
func (p *pullIterator[Item]) Stop() {
	p.once.Do(p.stop)
}

// PollState is the outcome of a non-blocking poll operation: whether
// it completed (Ready/Done) or must be retried once cx.Waker fires
// (Pending).
type PollState uint8

const (
	// PollPending means the operation has not completed: the caller's
	// Waker has been registered and will be woken when it might.
	PollPending PollState = iota
	// PollReady means a value was produced.
	PollReady
	// PollDone means the underlying sequence is exhausted; no further
	// values will be produced.
	PollDone
)

// itemPump bridges a goroutine-driven Iterator[Item] into a
// non-blocking poll operation: a dedicated goroutine performs the
// (potentially blocking) channel receive, stashing the result and
// waking the caller, rather than the caller spinning on a channel
// select with a default case (which cannot itself register a waker).
type itemPump[Item any] struct {
	ch   chan Item
	stop chan struct{}

	mu        sync.Mutex
	waker     Waker
	receiving bool
	pending   bool
	item      Item
	ok        bool
}

func newItemPump[Item any](capacity int) *itemPump[Item] {
	return &itemPump[Item]{ch: make(chan Item, capacity), stop: make(chan struct{})}
}

func (p *itemPump[Item]) poll(cx *Context) (item Item, ready bool, done bool) {
	p.mu.Lock()
	if p.pending {
		item, ok := p.item, p.ok
		p.pending = false
		p.mu.Unlock()
		if !ok {
			var zero Item
			return zero, true, true
		}
		return item, true, false
	}
	p.waker = cx.Waker
	if !p.receiving {
		p.receiving = true
		go p.receive()
	}
	p.mu.Unlock()
	var zero Item
	return zero, false, false
}

func (p *itemPump[Item]) receive() {
	item, ok := <-p.ch
	p.mu.Lock()
	p.pending, p.item, p.ok, p.receiving = true, item, ok, false
	w := p.waker
	p.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}

// PollNext advances a Handle wrapping an Iterator[Item], one item at a
// time, without blocking. On first call from Idle it spawns a pump
// goroutine (capped at the Handle's sequence capacity) that drains the
// iterator into a channel; subsequent calls drain that channel. Once
// the iterator is exhausted the Handle is drained back to Idle and the
// iterator handed back, exactly as the original's impl<T: Iterator>
// Stream for Blocking<T> recovers the iterator after the stream ends.
//
// If h is in a state incompatible with streaming (already Reading or
// Writing, or mid-Task), PollNext first drives it back to Idle via
// poll_stop (discarding whatever error that quiesce surfaces, exactly
// as the original's impl<T: Iterator> Stream for Blocking<T> does: `let
// _ = futures::ready!(self.poll_stop(cx));`) before starting streaming.
// PollNext panics only if its Idle value was already taken.
func PollNext[Item any, T Iterator[Item]](h *Handle[T], cx *Context) (item Item, state PollState, err error) {
	h.mu.Lock()
	switch h.tag {
	case tagIdle:
		if !h.hasValue {
			h.mu.Unlock()
			panic(ErrValueTaken)
		}
		it := h.value
		var zero T
		h.value, h.hasValue = zero, false

		pump := newItemPump[Item](h.seqCapacity)
		t := spawn(DefaultExecutor(), context.Background(), func(context.Context) (T, error) {
			defer close(pump.ch)
			cur := it
			for {
				v, ok := cur.Next()
				if !ok {
					return cur, nil
				}
				select {
				case pump.ch <- v:
				case <-pump.stop:
					return cur, nil
				}
			}
		})

		h.tag = tagStreaming
		h.items = pump
		h.itemsStop = pump.stop
		h.task = t
		h.mu.Unlock()
		return PollNext[Item, T](h, cx)

	case tagStreaming:
		pump, _ := h.items.(*itemPump[Item])
		h.mu.Unlock()

		v, ready, done := pump.poll(cx)
		if !ready {
			return v, PollPending, nil
		}
		if !done {
			return v, PollReady, nil
		}

		h.mu.Lock()
		ready2, err2 := h.pollStopLocked(cx)
		h.mu.Unlock()
		if !ready2 {
			return v, PollPending, nil
		}
		return v, PollDone, err2

	default:
		ready, _ := h.pollStopLocked(cx)
		h.mu.Unlock()
		if !ready {
			var zero Item
			return zero, PollPending, nil
		}
		return PollNext[Item, T](h, cx)
	}
}

// All ranges over h's items as a Go 1.23 push iterator, draining the
// Handle's Streaming state one item at a time. Stopping iteration
// early (break, or the loop body returning false) drives the Handle
// back to Idle via PollStop before All returns.
func All[Item any, T Iterator[Item]](ctx context.Context, h *Handle[T]) iter.Seq[Item] {
	return func(yield func(Item) bool) {
		for {
			w := newChanWaker()
			item, state, err := PollNext[Item, T](h, &Context{Waker: w})
			switch state {
			case PollPending:
				select {
				case <-w:
					continue
				case <-ctx.Done():
					return
				}
			case PollDone:
				_ = err
				return
			case PollReady:
				if !yield(item) {
					// Drain the handle back to Idle before returning.
					for {
						ready, _ := h.PollStop(&Context{Waker: w})
						if ready {
							return
						}
						select {
						case <-w:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
	}
}
