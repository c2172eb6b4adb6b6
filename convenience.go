package blocking

import "context"

// Do runs fn on the shared default Executor and blocks (bounded by
// ctx) until it completes, returning its result directly. It is the
// shorthand for the common "run one blocking call and get the result"
// case — the equivalent of the original's blocking! macro — without
// the caller constructing a Task or Handle by hand.
//
// If ctx is done before fn completes, Do returns ctx.Err() without
// waiting further, and cancels the underlying Task so that fn never
// runs at all if an Executor worker hasn't yet picked it up.
func Do[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	t := Spawn(ctx, func(context.Context) (T, error) { return fn() })
	v, err := t.Wait(ctx)
	if ctx.Err() != nil {
		t.Cancel()
	}
	return v, err
}
