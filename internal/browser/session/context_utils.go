package session

import (
	"context"
	"time"
)

// CombineContext returns a context that carries the values (and deadline) of
// session but is also canceled as soon as op is done. chromedp looks up the
// target in the context values, so session must be the value parent.
func CombineContext(session, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(session)
	stop := context.AfterFunc(op, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// detached keeps the values of its parent and drops its cancellation.
type detached struct {
	context.Context
}

func (detached) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detached) Done() <-chan struct{}       { return nil }
func (detached) Err() error                  { return nil }

// Detach returns a context with ctx's values that is never canceled by ctx.
// Cleanup calls (removing bindings, closing targets) use it so they still run
// after the operation that created them has been canceled.
func Detach(ctx context.Context) context.Context {
	return detached{ctx}
}
