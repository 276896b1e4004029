// Package session drives a single Chrome tab over the DevTools protocol and
// exposes it as a schemas.Driver and schemas.RecordingSurface.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
)

// Session is one browser tab. Operations must not be issued concurrently;
// the service layer guarantees a single active task per session.
type Session struct {
	id      string
	ctx     context.Context // Tab context; carries the chromedp target.
	cancel  context.CancelFunc
	release context.CancelFunc // Tears down the allocator (browser process).
	logger  *zap.Logger
	netCfg  config.NetworkConfig

	watcher *networkWatcher

	closeOnce sync.Once
}

var (
	_ schemas.Driver           = (*Session)(nil)
	_ schemas.RecordingSurface = (*Session)(nil)
)

// Launch starts (or attaches to) a browser according to cfg and opens a tab.
func Launch(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Session, error) {
	browserCfg := cfg.Browser()

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if browserCfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, browserCfg.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, execOptions(browserCfg)...)
	}

	log := logger.Named("browser")
	ctxOpts := []chromedp.ContextOption{chromedp.WithErrorf(log.Sugar().Debugf)}
	if browserCfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(log.Sugar().Debugf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	s, err := attach(tabCtx, tabCancel, cfg.Network(), log)
	if err != nil {
		tabCancel()
		allocCancel()
		return nil, err
	}
	s.release = allocCancel
	return s, nil
}

// attach wraps an existing chromedp tab context.
func attach(tabCtx context.Context, cancel context.CancelFunc, netCfg config.NetworkConfig, logger *zap.Logger) (*Session, error) {
	id := uuid.New().String()
	s := &Session{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		logger: logger.With(zap.String("session_id", id)),
		netCfg: netCfg,
	}

	// The first Run allocates the browser and the target.
	if err := chromedp.Run(tabCtx, network.Enable(), runtime.Enable()); err != nil {
		return nil, fmt.Errorf("failed to start browser tab: %w", err)
	}
	s.watcher = newNetworkWatcher(tabCtx)
	s.logger.Info("Browser session ready.")
	return s, nil
}

// execOptions builds the allocator flags. Defaults are chromedp's, plus the
// sandbox and shm flags needed in containers.
func execOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	for _, arg := range cfg.Args {
		key, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if hasValue {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string { return s.id }

// Close closes the tab and, when the session launched it, the browser.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing browser session.")
		s.cancel()
		if s.release != nil {
			s.release()
		}
	})
	return nil
}

// runActions runs actions bounded by both the session lifetime and ctx.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	if s == nil || s.ctx.Err() != nil {
		return schemas.ErrNotInitialized
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// withTimeout runs actions under their own deadline and classifies the error.
func (s *Session) withTimeout(ctx context.Context, timeout time.Duration, what string, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := s.runActions(opCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, schemas.ErrNotInitialized) {
		return err
	}
	if opCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s timed out after %s: %w", what, timeout, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s failed: %w", what, err)
}

// Navigate loads url. The load event is always awaited; WaitNetworkIdle
// additionally waits for quiescence within the remaining budget, and running
// out of that budget is not an error.
func (s *Session) Navigate(ctx context.Context, url string, policy schemas.WaitPolicy, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.netCfg.NavigationTimeout
	}
	s.logger.Debug("Navigating.", zap.String("url", url), zap.String("wait", string(policy)))

	started := time.Now()
	if err := s.withTimeout(ctx, timeout, "navigation", chromedp.Navigate(url)); err != nil {
		return err
	}

	if policy == schemas.WaitNetworkIdle {
		remaining := timeout - time.Since(started)
		if remaining <= 0 {
			return nil
		}
		if err := s.WaitForQuiescence(ctx, remaining); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// WaitForQuiescence waits for a quiet period with no in-flight requests. A
// timeout is logged and returned, callers treat it as advisory.
func (s *Session) WaitForQuiescence(ctx context.Context, timeout time.Duration) error {
	if s.ctx.Err() != nil {
		return schemas.ErrNotInitialized
	}
	if timeout <= 0 {
		timeout = s.netCfg.QuiescenceTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	quiet := s.netCfg.QuietPeriod
	if quiet <= 0 {
		quiet = 500 * time.Millisecond
	}
	if err := s.watcher.waitIdle(waitCtx, quiet); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("Network did not go idle in time.",
			zap.Duration("timeout", timeout), zap.Int("inflight", s.watcher.inflight()))
		return fmt.Errorf("quiescence wait timed out after %s: %w", timeout, context.DeadlineExceeded)
	}
	return nil
}

// Screenshot captures the visible viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.withTimeout(ctx, 15*time.Second, "screenshot", chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Evaluate runs script in the page, awaiting promises, and decodes the
// result into res when res is non-nil.
func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	return s.runActions(ctx, chromedp.Evaluate(script, res, awaitPromise))
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// CurrentURL returns the location of the top-level document.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := s.withTimeout(ctx, 5*time.Second, "read location", chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// Title returns the document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.withTimeout(ctx, 5*time.Second, "read title", chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

// Content returns the outer HTML of the document element.
func (s *Session) Content(ctx context.Context) (string, error) {
	var doc string
	if err := s.withTimeout(ctx, 10*time.Second, "read content", chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ""`, &doc)); err != nil {
		return "", err
	}
	return doc, nil
}
