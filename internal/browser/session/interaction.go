package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/observability"
)

// maxQueryResults caps how many elements Query reports.
const maxQueryResults = 500

const queryScript = `(function(selector, limit) {
	const out = [];
	const nodes = document.querySelectorAll(selector);
	for (let i = 0; i < nodes.length && i < limit; i++) {
		const el = nodes[i];
		const r = el.getBoundingClientRect();
		const st = window.getComputedStyle(el);
		const attrs = {};
		for (const a of el.attributes) { attrs[a.name] = a.value; }
		out.push({
			index: i,
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.value || '').replace(/\s+/g, ' ').trim().slice(0, 200),
			href: typeof el.href === 'string' ? el.href : (el.getAttribute('href') || ''),
			ariaLabel: el.getAttribute('aria-label') || '',
			role: el.getAttribute('role') || '',
			visible: r.width > 0 && r.height > 0 && st.visibility !== 'hidden' && st.display !== 'none',
			center: {x: r.left + r.width / 2, y: r.top + r.height / 2},
			attrs: attrs,
		});
	}
	return out;
})`

// locateScript scrolls the index-th match into view and reports its box.
const locateScript = `(function(selector, index) {
	const el = document.querySelectorAll(selector)[index];
	if (!el) { return {found: false}; }
	el.scrollIntoView({block: 'center', inline: 'center'});
	const r = el.getBoundingClientRect();
	return {found: true, x: r.left + r.width / 2, y: r.top + r.height / 2, w: r.width, h: r.height};
})`

// prepareFillScript focuses the field and clears it, firing input so
// framework-controlled fields notice.
const prepareFillScript = `(function(selector) {
	const el = document.querySelector(selector);
	if (!el) { return {found: false}; }
	el.scrollIntoView({block: 'center'});
	const r = el.getBoundingClientRect();
	el.focus();
	if ('value' in el) {
		el.value = '';
		el.dispatchEvent(new Event('input', {bubbles: true}));
	} else if (el.isContentEditable) {
		el.textContent = '';
	}
	return {found: true, w: r.width, h: r.height};
})`

const commitFillScript = `(function(selector) {
	const el = document.querySelector(selector);
	if (el) { el.dispatchEvent(new Event('change', {bubbles: true})); }
})`

const focusScript = `(function(selector) {
	const el = document.querySelector(selector);
	if (!el) { return {found: false}; }
	el.focus();
	return {found: true, w: 1, h: 1};
})`

type elementBox struct {
	Found bool    `json:"found"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w"`
	H     float64 `json:"h"`
}

// call renders a call expression of fn with JSON-encoded arguments.
func call(fn string, args ...interface{}) string {
	encoded := make([]byte, 0, 64)
	for i, a := range args {
		if i > 0 {
			encoded = append(encoded, ',')
		}
		b, _ := json.Marshal(a)
		encoded = append(encoded, b...)
	}
	return fmt.Sprintf("(%s)(%s)", fn, encoded)
}

// Query returns the elements matching selector in document order. An invalid
// selector is reported as an error.
func (s *Session) Query(ctx context.Context, selector string) ([]schemas.ElementInfo, error) {
	var out []schemas.ElementInfo
	if err := s.withTimeout(ctx, 10*time.Second, "query", chromedp.Evaluate(call(queryScript, selector, maxQueryResults), &out)); err != nil {
		return nil, err
	}
	return out, nil
}

// waitForBox polls script until it reports a visible element or timeout.
func (s *Session) waitForBox(ctx context.Context, script, selector string, timeout time.Duration) (elementBox, error) {
	deadline := time.Now().Add(timeout)
	for {
		var box elementBox
		if err := s.runActions(ctx, chromedp.Evaluate(script, &box)); err != nil {
			if ctx.Err() != nil {
				return box, ctx.Err()
			}
			return box, fmt.Errorf("evaluating %q: %w", selector, err)
		}
		if box.Found && box.W > 0 && box.H > 0 {
			return box, nil
		}
		if time.Now().After(deadline) {
			if box.Found {
				return box, fmt.Errorf("element %q is not visible after %s: %w", selector, timeout, schemas.ErrElementNotFound)
			}
			return box, fmt.Errorf("no element matches %q after %s: %w", selector, timeout, schemas.ErrElementNotFound)
		}
		select {
		case <-ctx.Done():
			return box, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Click clicks the center of the index-th element matching selector, waiting
// up to timeout for it to become visible.
func (s *Session) Click(ctx context.Context, selector string, index int, timeout time.Duration) error {
	s.logger.Debug("Clicking element.", zap.String("selector", selector), zap.Int("index", index))
	box, err := s.waitForBox(ctx, call(locateScript, selector, index), selector, timeout)
	if err != nil {
		return err
	}
	return s.ClickAt(ctx, schemas.Point{X: box.X, Y: box.Y})
}

// ClickAt dispatches a left click at viewport coordinates.
func (s *Session) ClickAt(ctx context.Context, p schemas.Point) error {
	return s.withTimeout(ctx, 10*time.Second, "click",
		input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y),
		input.DispatchMouseEvent(input.MousePressed, p.X, p.Y).WithButton(input.Left).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseReleased, p.X, p.Y).WithButton(input.Left).WithClickCount(1),
	)
}

// Fill clears the field matching selector and inserts value.
func (s *Session) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	s.logger.Debug("Filling element.", zap.String("selector", selector), observability.ValueField(selector, value))
	if _, err := s.waitForBox(ctx, call(prepareFillScript, selector), selector, timeout); err != nil {
		return err
	}
	return s.withTimeout(ctx, timeout, "fill",
		input.InsertText(value),
		chromedp.Evaluate(call(commitFillScript, selector), nil),
	)
}

// namedKeys maps key names used by callers to chromedp key sequences.
var namedKeys = map[string]string{
	"Enter":     kb.Enter,
	"Tab":       kb.Tab,
	"Escape":    kb.Escape,
	"Backspace": kb.Backspace,
}

// Press focuses the element matching selector and sends a named key.
func (s *Session) Press(ctx context.Context, selector, key string, timeout time.Duration) error {
	seq, ok := namedKeys[key]
	if !ok {
		seq = key
	}
	if _, err := s.waitForBox(ctx, call(focusScript, selector), selector, timeout); err != nil {
		return err
	}
	return s.withTimeout(ctx, timeout, "key press", chromedp.KeyEvent(seq))
}

// TypeText types text into the focused element.
func (s *Session) TypeText(ctx context.Context, text string) error {
	timeout := 10*time.Second + time.Duration(len(text))*50*time.Millisecond
	return s.withTimeout(ctx, timeout, "typing", chromedp.KeyEvent(text))
}

// ScrollTo sets the absolute scroll offset of the window.
func (s *Session) ScrollTo(ctx context.Context, x, y int) error {
	return s.withTimeout(ctx, 5*time.Second, "scroll",
		chromedp.Evaluate(fmt.Sprintf("window.scrollTo(%d, %d)", x, y), nil))
}
