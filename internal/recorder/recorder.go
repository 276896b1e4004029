// Package recorder captures what a user does in the browser as a replayable
// workflow.
package recorder

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/metrics"
)

// BindingName is the page function the capture script reports events through.
const BindingName = "__browserUseRecord"

// bufferExpr reads the page-side copy of the events of the current document.
const bufferExpr = `window.__workflowActions || []`

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
)

//go:embed capture.js
var captureSource string

type captureConfig struct {
	Binding          string `json:"binding"`
	ClickTextLimit   int    `json:"clickTextLimit"`
	ContextTextLimit int    `json:"contextTextLimit"`
	MaxDepth         int    `json:"maxDepth"`
	CaptureScroll    bool   `json:"captureScroll"`
}

// captureScript renders the page-side capture script for cfg.
func captureScript(cfg config.RecorderConfig) (string, error) {
	b, err := json.Marshal(captureConfig{
		Binding:          BindingName,
		ClickTextLimit:   cfg.ClickTextLimit,
		ContextTextLimit: cfg.ContextTextLimit,
		MaxDepth:         cfg.MaxPathDepth,
		CaptureScroll:    cfg.CaptureScroll,
	})
	if err != nil {
		return "", err
	}
	return strings.Replace(captureSource, "__CONFIG__", string(b), 1), nil
}

// pageEvent is the raw record the capture script produces.
type pageEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp int64                  `json:"timestamp"`
	Element   ElementAttributes      `json:"element"`
	Path      []PathSegment          `json:"path"`
	Value     string                 `json:"value"`
	Text      string                 `json:"text"`
	X         int                    `json:"x"`
	Y         int                    `json:"y"`
	Context   *schemas.ActionContext `json:"context"`
}

// Recorder owns the in-progress capture of one page. A Recorder may be
// started again after Stop.
type Recorder struct {
	surface   schemas.RecordingSurface
	cfg       config.RecorderConfig
	selectors SelectorOptions
	logger    *zap.Logger
	metrics   *metrics.Collector
	now       func() time.Time

	mu        sync.Mutex
	recording bool
	startURL  string
	startedAt time.Time
	seen      map[string]struct{}
	events    []pageEvent
	navs      []schemas.Action
	teardown  []func()
}

// New creates a recorder for surface. m may be nil.
func New(surface schemas.RecordingSurface, cfg config.RecorderConfig, logger *zap.Logger, m *metrics.Collector) *Recorder {
	return &Recorder{
		surface:   surface,
		cfg:       cfg,
		selectors: SelectorOptions{ClassLimit: cfg.ClassSelectorLimit, MaxDepth: cfg.MaxPathDepth},
		logger:    logger.Named("recorder"),
		metrics:   m,
		now:       time.Now,
	}
}

// IsRecording reports whether a capture is in progress.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start installs the capture hooks and, when startURL is set, loads it. With
// an empty startURL the page's current location is the start.
func (r *Recorder) Start(ctx context.Context, startURL string) error {
	if r.surface == nil {
		return schemas.ErrNotInitialized
	}

	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.recording = true
	r.startedAt = r.now()
	r.seen = make(map[string]struct{})
	r.events = nil
	r.navs = nil
	r.teardown = nil
	r.mu.Unlock()

	if err := r.install(ctx); err != nil {
		r.abort()
		return err
	}

	if startURL != "" {
		if err := r.surface.Navigate(ctx, startURL, schemas.WaitLoad, 0); err != nil {
			r.abort()
			return fmt.Errorf("failed to open start url: %w", err)
		}
	} else {
		current, err := r.surface.CurrentURL(ctx)
		if err != nil {
			r.logger.Warn("Could not read the current url, recording without a start url.", zap.Error(err))
		}
		startURL = current
	}

	r.mu.Lock()
	r.startURL = startURL
	r.mu.Unlock()

	r.logger.Info("Recording started.", zap.String("start_url", startURL))
	return nil
}

func (r *Recorder) install(ctx context.Context) error {
	script, err := captureScript(r.cfg)
	if err != nil {
		return fmt.Errorf("failed to render capture script: %w", err)
	}

	removeBinding, err := r.surface.AddBinding(ctx, BindingName, r.onEvent)
	if err != nil {
		return err
	}
	r.addTeardown(removeBinding)
	r.addTeardown(r.surface.OnTopLevelNavigation(r.onNavigate))

	uninject, err := r.surface.InjectScript(ctx, script)
	if err != nil {
		return err
	}
	r.addTeardown(uninject)
	return nil
}

func (r *Recorder) addTeardown(fn func()) {
	r.mu.Lock()
	r.teardown = append(r.teardown, fn)
	r.mu.Unlock()
}

// abort undoes a partial Start.
func (r *Recorder) abort() {
	r.mu.Lock()
	r.recording = false
	teardown := r.teardown
	r.teardown = nil
	r.mu.Unlock()
	runTeardown(teardown)
}

func runTeardown(fns []func()) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// onEvent receives binding calls. It runs on the browser event goroutine.
func (r *Recorder) onEvent(payload string) {
	var ev pageEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.logger.Debug("Dropping undecodable page event.", zap.Error(err))
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		r.addEventLocked(ev)
	}
}

func (r *Recorder) addEventLocked(ev pageEvent) {
	if ev.ID != "" {
		if _, dup := r.seen[ev.ID]; dup {
			return
		}
		r.seen[ev.ID] = struct{}{}
	}
	r.events = append(r.events, ev)
}

func (r *Recorder) onNavigate(url string) {
	if url == "" || url == "about:blank" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	if n := len(r.navs); n > 0 && r.navs[n-1].URL == url {
		return
	}
	nav := schemas.NewNavigate(url)
	nav.Timestamp = r.now().UnixMilli()
	r.navs = append(r.navs, nav)
}

// Stop ends the capture and returns the workflow. A failure to read the
// page-side buffer is logged and the workflow keeps whatever was streamed
// plus the navigations.
func (r *Recorder) Stop(ctx context.Context) (*schemas.RecordedWorkflow, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.recording = false
	teardown := r.teardown
	r.teardown = nil
	r.mu.Unlock()

	var buffered []pageEvent
	if err := r.surface.Evaluate(ctx, bufferExpr, &buffered); err != nil {
		r.logger.Warn("Could not read the page-side action buffer, unsent page events are lost.", zap.Error(err))
		buffered = nil
	}
	runTeardown(teardown)

	r.mu.Lock()
	for _, ev := range buffered {
		r.addEventLocked(ev)
	}
	events, navs := r.events, r.navs
	startURL, startedAt := r.startURL, r.startedAt
	r.events, r.navs, r.seen = nil, nil, nil
	r.mu.Unlock()

	actions := make([]schemas.Action, 0, len(events)+len(navs)+1)
	actions = append(actions, navs...)
	for _, ev := range events {
		if a, ok := r.toAction(ev); ok {
			actions = append(actions, a)
		}
	}
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Timestamp < actions[j].Timestamp })
	actions = dedupFills(actions)

	// Replays begin where the recording began.
	if startURL != "" && (len(actions) == 0 || actions[0].Type != schemas.ActionNavigate || actions[0].URL != startURL) {
		nav := schemas.NewNavigate(startURL)
		nav.Timestamp = startedAt.UnixMilli()
		actions = append([]schemas.Action{nav}, actions...)
	}

	stoppedAt := r.now()
	wf := &schemas.RecordedWorkflow{
		Name:      fmt.Sprintf("Workflow %d", stoppedAt.Unix()),
		CreatedAt: stoppedAt,
		StartURL:  startURL,
		Actions:   actions,
		Duration:  stoppedAt.Sub(startedAt).Seconds(),
	}

	counts := make(map[string]int)
	for _, a := range actions {
		counts[string(a.Type)]++
	}
	r.metrics.RecordRecordedActions(counts)

	r.logger.Info("Recording stopped.",
		zap.Int("actions", len(actions)),
		zap.Int("page_events", len(events)),
		zap.Int("navigations", len(navs)),
		zap.Float64("duration_s", wf.Duration))
	return wf, nil
}

func (r *Recorder) toAction(ev pageEvent) (schemas.Action, bool) {
	var a schemas.Action
	switch ev.Type {
	case "click":
		a = schemas.NewClick(r.selectors.Selector(ev.Element, ev.Path), contextOrNil(ev.Context))
		a.Text = truncate(strings.TrimSpace(ev.Text), r.cfg.ClickTextLimit)
	case "fill":
		a = schemas.NewFill(r.selectors.Selector(ev.Element, ev.Path), ev.Value, contextOrNil(ev.Context))
	case "scroll":
		a = schemas.NewScroll(ev.X, ev.Y)
	default:
		r.logger.Debug("Ignoring page event of unknown type.", zap.String("type", ev.Type))
		return a, false
	}
	a.Timestamp = ev.Timestamp
	return a, true
}

// dedupFills collapses repeated fills of one selector into the last one,
// kept at its own position.
func dedupFills(actions []schemas.Action) []schemas.Action {
	last := make(map[string]int)
	for i, a := range actions {
		if a.Type == schemas.ActionFill {
			last[a.Selector] = i
		}
	}
	out := make([]schemas.Action, 0, len(actions))
	for i, a := range actions {
		if a.Type == schemas.ActionFill && last[a.Selector] != i {
			continue
		}
		out = append(out, a)
	}
	return out
}

func contextOrNil(c *schemas.ActionContext) *schemas.ActionContext {
	if c == nil || (c.Text == "" && c.Href == "" && c.AriaLabel == "" && c.Role == "" && c.Index == nil) {
		return nil
	}
	return c
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
