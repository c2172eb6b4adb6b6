// Package blocking bridges cooperatively-scheduled code to operations
// that must block an OS thread: filesystem calls, DNS lookups, or any
// synchronous API with no non-blocking equivalent. It does this with
// two pieces:
//
//   - An [Executor]: an elastic pool of OS-thread-backed goroutines
//     that grows under backlog and shrinks on idleness, so blocking
//     work never starves or indefinitely occupies a cooperative
//     scheduler's own goroutines.
//   - A [Handle]: a small state machine wrapping a synchronous value
//     (an [Iterator], an [io.Reader], or an [io.Writer]) so that it can
//     be driven one non-blocking poll at a time, with the actual
//     blocking work happening on the Executor in the background.
//
// # Architecture
//
// A [Handle] is always in exactly one of five states: Idle (holding
// its wrapped value directly), Task (a plain spawned operation is
// running), Streaming, Reading, or Writing (a capability-specific pump
// goroutine owns the value while driving it). [Handle.PollStop] is the
// universal operation that quiesces whichever state is active back to
// Idle, recovering the wrapped value and surfacing any error the pump
// encountered.
//
// Capability-specific operations are free functions, not methods,
// because Go cannot add method-set constraints conditionally: see
// [PollNext], [PollRead], [PollWrite].
//
// # Usage
//
// Run one blocking call and get its result:
//
//	result, err := blocking.Do(ctx, func() (string, error) {
//		data, err := os.ReadFile("config.json")
//		return string(data), err
//	})
//
// Bridge a blocking [io.Reader] (e.g. a [os.File]) into a cooperative
// consumer, copying it to stdout one poll at a time:
//
//	f, _ := os.Open("large.log")
//	h := blocking.NewHandle[io.Reader](f)
//	buf := make([]byte, 4096)
//	for {
//		w := make(chan struct{}, 1)
//		n, state, _ := blocking.PollRead[io.Reader](h, &blocking.Context{
//			Waker: blocking.WakerFunc(func() { select { case w <- struct{}{}: default: } }),
//		}, buf)
//		if state == blocking.PollPending {
//			<-w
//			continue
//		}
//		os.Stdout.Write(buf[:n])
//		if state == blocking.PollDone {
//			break
//		}
//	}
//
// Bridge a blocking directory read as a sequence:
//
//	entries, _ := os.ReadDir(".")
//	h := blocking.NewHandle[blocking.Iterator[os.DirEntry]](blocking.FromSlice(entries))
//	for entry := range blocking.All[os.DirEntry](ctx, h) {
//		fmt.Println(entry.Name())
//	}
//
// # Thread Safety
//
//   - [Executor.Stats] and [Handle.PollStop] are safe to call from any
//     goroutine.
//   - A given [Handle] must not be polled concurrently from more than
//     one goroutine; it is not a fan-out primitive, it is a
//     single-consumer bridge.
//   - The SPSC ring buffer backing Reading/Writing handles
//     (unexported, see ring.go) assumes exactly one reader goroutine
//     and one writer goroutine, matching the Handle contract above.
//
// # Non-goals
//
// This package does not schedule cooperative tasks and is not itself
// an async runtime: it assumes one already exists (goroutines plus
// whatever polling loop the caller's application uses) and only
// provides the bridge into blocking work. It does not provide
// cross-process transport or a custom allocator.
//
// # Error Types
//
//   - [PanicError]: wraps a value recovered from a panic inside
//     spawned blocking work.
//   - [ErrTaskCancelled]: returned by an awaited [Task] that was
//     cancelled before it produced a result.
//   - [ErrRingClosed]: a closed ring reports end-of-data as a plain
//     zero-byte result rather than an error (pipe closed is not a
//     failure); this sentinel exists only for a pump goroutine's own
//     internal loop control when it must tell "ring closed" apart from
//     "nothing to do yet", and never reaches an external caller.
//   - [ErrValueTaken]: panics from [Handle.GetMut]/[Handle.IntoInner]/
//     [Handle.Await] when the Idle value was already removed.
package blocking
