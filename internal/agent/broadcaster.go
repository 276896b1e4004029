package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

// defaultNotifyTimeout bounds how long one observer may hold up a broadcast.
const defaultNotifyTimeout = 2 * time.Second

// Broadcaster fans events out to observers. Each observer is notified on its
// own goroutine; a failing, slow or panicking observer affects nobody else.
type Broadcaster struct {
	logger  *zap.Logger
	timeout time.Duration

	mu        sync.RWMutex
	observers map[int]schemas.Observer
	next      int
}

var _ schemas.Observer = (*Broadcaster)(nil)

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		logger:    logger.Named("broadcaster"),
		timeout:   defaultNotifyTimeout,
		observers: make(map[int]schemas.Observer),
	}
}

// Subscribe registers o and returns a function that removes it.
func (b *Broadcaster) Subscribe(o schemas.Observer) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.observers[id] = o
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.observers, id)
			b.mu.Unlock()
		})
	}
}

// Len returns the number of subscribed observers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Notify delivers ev to every observer and waits for all of them. Observer
// errors are logged, never returned.
func (b *Broadcaster) Notify(ctx context.Context, ev schemas.Event) error {
	b.mu.RLock()
	targets := make([]schemas.Observer, 0, len(b.observers))
	for _, o := range b.observers {
		targets = append(targets, o)
	}
	b.mu.RUnlock()

	var g errgroup.Group
	for _, o := range targets {
		o := o
		g.Go(func() error {
			if err := b.deliver(ctx, o, ev); err != nil {
				b.logger.Warn("Observer notification failed.", zap.String("event", string(ev.Type)), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *Broadcaster) deliver(ctx context.Context, o schemas.Observer, ev schemas.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return o.Notify(ctx, ev)
}
