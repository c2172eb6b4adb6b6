package blocking

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainNext[Item any, T Iterator[Item]](t *testing.T, h *Handle[T]) []Item {
	t.Helper()
	var out []Item
	for {
		w := newChanWaker()
		item, state, err := PollNext[Item, T](h, &Context{Waker: w})
		switch state {
		case PollPending:
			select {
			case <-w:
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for PollNext")
			}
		case PollReady:
			out = append(out, item)
		case PollDone:
			require.NoError(t, err)
			return out
		}
	}
}

func TestPollNextDrainsSlice(t *testing.T) {
	want := []int{10, 20, 30, 40}
	h := NewHandle[Iterator[int]](FromSlice(want))

	got := drainNext[int, Iterator[int]](t, h)
	assert.Equal(t, want, got)

	// The iterator is handed back to Idle once exhausted.
	it, err := h.IntoInner(context.Background())
	require.NoError(t, err)
	_, ok := it.Next()
	assert.False(t, ok)
}

func TestAllRangesOverHandle(t *testing.T) {
	want := []string{"a", "b", "c"}
	h := NewHandle[Iterator[string]](FromSlice(want))

	var got []string
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for v := range All[string, Iterator[string]](ctx, h) {
		got = append(got, v)
	}
	assert.Equal(t, want, got)
}

func TestAllStopsEarlyDrainsHandle(t *testing.T) {
	want := []int{1, 2, 3, 4, 5}
	h := NewHandle[Iterator[int]](FromSlice(want))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []int
	for v := range All[int, Iterator[int]](ctx, h) {
		got = append(got, v)
		if v == 2 {
			break
		}
	}
	assert.Equal(t, []int{1, 2}, got)

	// The handle must have settled back to Idle (not wedged mid-stream).
	ready, err := h.PollStop(&Context{})
	assert.True(t, ready)
	assert.NoError(t, err)
}

// dualIter implements both Iterator[int] and io.Writer over the same
// value, so a single Handle can be driven through PollNext and
// PollWrite in the same test.
type dualIter struct {
	items []int
	pos   int
	buf   bytes.Buffer
}

func (d *dualIter) Next() (int, bool) {
	if d.pos >= len(d.items) {
		return 0, false
	}
	v := d.items[d.pos]
	d.pos++
	return v, true
}

func (d *dualIter) Write(p []byte) (int, error) {
	return d.buf.Write(p)
}

// TestPollNextQuiescesPriorWritingState exercises spec §4.3's
// quiesce-then-transition rule from the Streaming adapter's side:
// calling PollNext on a handle currently Writing must drive the Writing
// state back to Idle first (recovering the wrapped value) instead of
// panicking, then stream normally.
func TestPollNextQuiescesPriorWritingState(t *testing.T) {
	d := &dualIter{items: []int{7, 8, 9}}
	h := NewHandle[*dualIter](d)

	pending := []byte("hi")
	for len(pending) > 0 {
		w := newChanWaker()
		n, state, err := PollWrite[*dualIter](h, &Context{Waker: w}, pending)
		require.NoError(t, err)
		if state == PollPending {
			<-w
			continue
		}
		pending = pending[n:]
	}

	got := drainNext[int, *dualIter](t, h)
	assert.Equal(t, []int{7, 8, 9}, got)
	assert.Equal(t, "hi", d.buf.String())
}
