package session

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// networkWatcher tracks in-flight requests so callers can wait for the page
// to go quiet. It lives as long as the tab context.
type networkWatcher struct {
	mu           sync.Mutex
	pending      map[network.RequestID]struct{}
	lastActivity time.Time
}

func newNetworkWatcher(tabCtx context.Context) *networkWatcher {
	w := &networkWatcher{
		pending:      make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
	}
	chromedp.ListenTarget(tabCtx, w.handle)
	return w
}

func (w *networkWatcher) handle(ev interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		w.pending[e.RequestID] = struct{}{}
	case *network.EventLoadingFinished:
		delete(w.pending, e.RequestID)
	case *network.EventLoadingFailed:
		delete(w.pending, e.RequestID)
	case *page.EventFrameNavigated:
		// A new top-level document abandons whatever the old one had pending.
		if e.Frame != nil && e.Frame.ParentID == "" {
			w.pending = make(map[network.RequestID]struct{})
		}
	default:
		return
	}
	w.lastActivity = time.Now()
}

func (w *networkWatcher) inflight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// waitIdle returns once nothing has been in flight for quiet, or ctx ends.
func (w *networkWatcher) waitIdle(ctx context.Context, quiet time.Duration) error {
	poll := quiet / 4
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		w.mu.Lock()
		idle := len(w.pending) == 0 && time.Since(w.lastActivity) >= quiet
		w.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
