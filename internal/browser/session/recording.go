package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// AddBinding exposes window[name](payload) to the page. Calls are delivered to
// fn on the CDP event goroutine, so fn must not block or call back into the
// session. The returned function detaches the listener and removes the binding.
func (s *Session) AddBinding(ctx context.Context, name string, fn func(payload string)) (func(), error) {
	if err := s.runActions(ctx, runtime.AddBinding(name)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to add binding '%s': %w", name, err)
	}

	listenCtx, stopListening := context.WithCancel(s.ctx)
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		e, ok := ev.(*runtime.EventBindingCalled)
		if !ok || e.Name != name {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Panic in binding handler.", zap.String("name", name), zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		fn(e.Payload)
	})

	return func() {
		stopListening()
		s.cleanup(func(c context.Context) error { return runtime.RemoveBinding(name).Do(c) }, "remove binding")
	}, nil
}

// InjectScript runs source in the current document and registers it for
// every future document of the tab.
func (s *Session) InjectScript(ctx context.Context, source string) (func(), error) {
	var id page.ScriptIdentifier
	err := s.runActions(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		id, err = page.AddScriptToEvaluateOnNewDocument(source).Do(c)
		return err
	}))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("could not register persistent script: %w", err)
	}

	if err := s.runActions(ctx, chromedp.Evaluate(source, nil)); err != nil {
		// The next document will still get it.
		s.logger.Warn("Could not run script in the current document.", zap.Error(err))
	}
	s.logger.Debug("Injected persistent script.", zap.String("script_id", string(id)))

	return func() {
		s.cleanup(func(c context.Context) error { return page.RemoveScriptToEvaluateOnNewDocument(id).Do(c) }, "remove script")
	}, nil
}

// OnTopLevelNavigation reports main-frame navigations. Child frame
// navigations are ignored.
func (s *Session) OnTopLevelNavigation(fn func(url string)) func() {
	listenCtx, stop := context.WithCancel(s.ctx)
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		e, ok := ev.(*page.EventFrameNavigated)
		if !ok || e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		fn(e.Frame.URL + e.Frame.URLFragment)
	})
	return stop
}

// cleanup runs a best-effort teardown call that must survive cancellation of
// the operation that set it up.
func (s *Session) cleanup(do func(context.Context) error, what string) {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(Detach(s.ctx), 5*time.Second)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.ActionFunc(do)); err != nil {
		s.logger.Debug("Cleanup call failed.", zap.String("what", what), zap.Error(err))
	}
}
