package blocking

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRead drives PollRead to completion using a channel waker,
// returning once n bytes have been copied into buf or the ring
// reports an error/close.
func blockingRead(t *testing.T, r *pipeReader, buf []byte) (int, error) {
	t.Helper()
	for {
		w := newChanWaker()
		n, ready, err := r.PollRead(&Context{Waker: w}, buf)
		if ready {
			return n, err
		}
		<-w
	}
}

func blockingWrite(t *testing.T, w *pipeWriter, buf []byte) (int, error) {
	t.Helper()
	for {
		waker := newChanWaker()
		n, ready, err := w.PollWrite(&Context{Waker: waker}, buf)
		if ready {
			return n, err
		}
		<-waker
	}
}

func TestPipeRoundTrip(t *testing.T) {
	for _, capacity := range []int{1, 7, 8, 4096, 8 * 1024 * 1024} {
		capacity := capacity
		t.Run("", func(t *testing.T) {
			r, w := newPipe(capacity)
			payload := make([]byte, capacity*3+17)
			_, _ = rand.New(rand.NewSource(int64(capacity))).Read(payload)

			received := make([]byte, 0, len(payload))
			done := make(chan struct{})
			go func() {
				defer close(done)
				buf := make([]byte, 4096)
				for len(received) < len(payload) {
					n, err := blockingRead(t, r, buf)
					require.NoError(t, err)
					received = append(received, buf[:n]...)
				}
			}()

			pending := payload
			for len(pending) > 0 {
				n, err := blockingWrite(t, w, pending)
				require.NoError(t, err)
				pending = pending[n:]
			}

			<-done
			assert.Equal(t, payload, received)
		})
	}
}

func TestPipeEmptyIsPending(t *testing.T) {
	r, _ := newPipe(8)
	buf := make([]byte, 4)
	w := newChanWaker()
	n, ready, err := r.PollRead(&Context{Waker: w}, buf)
	assert.False(t, ready)
	assert.Equal(t, 0, n)
	assert.NoError(t, err)
}

func TestPipeFullIsPending(t *testing.T) {
	_, w := newPipe(4)
	// Fill it.
	n, err := blockingWrite(t, w, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, 4, n)

	waker := newChanWaker()
	n, ready, err := w.PollWrite(&Context{Waker: waker}, []byte{5})
	assert.False(t, ready)
	assert.Equal(t, 0, n)
	assert.NoError(t, err)
}

func TestPipeCloseWakesOppositeSide(t *testing.T) {
	r, w := newPipe(4)

	waker := newChanWaker()
	buf := make([]byte, 1)
	_, ready, _ := r.PollRead(&Context{Waker: waker}, buf)
	require.False(t, ready)

	w.Close()

	<-waker
	n, ready, err := r.PollRead(&Context{Waker: waker}, buf)
	assert.True(t, ready)
	assert.Equal(t, 0, n)
	assert.NoError(t, err)
}

func TestPipeWriteAfterReaderClosed(t *testing.T) {
	r, w := newPipe(4)
	r.Close()

	n, ready, err := w.PollWrite(&Context{}, []byte{1})
	assert.True(t, ready)
	assert.Equal(t, 0, n)
	assert.NoError(t, err)
}

// TestPipeLostWakeupFreedom exercises the register-fence-reload-recheck
// path under concurrent load: a slow reader and a fast writer racing to
// fill/drain a small ring many times over must never leave the reader
// parked forever.
func TestPipeLostWakeupFreedom(t *testing.T) {
	const total = 1 << 20
	r, w := newPipe(1)

	payload := make([]byte, total)
	for i := range payload {
		payload[i] = byte(i)
	}

	received := make([]byte, 0, total)
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 3)
		for len(received) < total {
			n, err := blockingRead(t, r, buf)
			require.NoError(t, err)
			received = append(received, buf[:n]...)
		}
	}()

	pending := payload
	for len(pending) > 0 {
		n, err := blockingWrite(t, w, pending[:min(len(pending), 5)])
		require.NoError(t, err)
		pending = pending[n:]
	}

	<-done
	assert.Equal(t, payload, received)
}
