package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/observability"
)

// Strategy names, in cascade order.
const (
	StrategySmartLink  = "smart_link"
	StrategySelector   = "selector"
	StrategyHref       = "href"
	StrategyAriaLabel  = "aria_label"
	StrategyTextExact  = "text_exact"
	StrategyTextPrefix = "text_prefix"
	StrategyRoleIndex  = "role_index"
	StrategyTagIndex   = "tag_index"
	StrategyVision     = "vision"
)

const (
	linkQuery      = `a[href], [role="link"]`
	clickableQuery = `a, button, [role="button"], [role="link"], [role="menuitem"], [role="tab"], input[type="submit"], input[type="button"], label, summary, [onclick]`
)

// errSkipped marks a strategy that does not apply to the action.
var errSkipped = errors.New("not applicable")

type strategy struct {
	name string
	run  func(ctx context.Context, a schemas.Action) error
}

// attempt records one tried strategy for the exhaustion message.
type attempt struct {
	name string
	err  error
}

func (p *Player) clickCascade() []strategy {
	return []strategy{
		{StrategySmartLink, p.clickSmartLink},
		{StrategySelector, p.clickSelector},
		{StrategyHref, p.clickHref},
		{StrategyAriaLabel, p.clickAriaLabel},
		{StrategyTextExact, p.clickTextExact},
		{StrategyTextPrefix, p.clickTextPrefix},
		{StrategyRoleIndex, p.clickRoleIndex},
		{StrategyTagIndex, p.clickTagIndex},
		{StrategyVision, p.clickVision},
	}
}

func (p *Player) fillCascade() []strategy {
	return []strategy{
		{StrategySelector, p.fillSelector},
		{StrategyVision, p.fillVision},
	}
}

// resolve runs strategies until one succeeds and returns its name.
func (p *Player) resolve(ctx context.Context, a schemas.Action, cascade []strategy) (string, error) {
	var tried []attempt
	for _, s := range cascade {
		started := time.Now()
		err := s.run(ctx, a)
		if errors.Is(err, errSkipped) {
			continue
		}
		p.metrics.RecordStrategy(string(a.Type), s.name, err == nil, time.Since(started), "player")
		if err == nil {
			if len(tried) > 0 {
				p.logger.Info("Resolved through fallback strategy.",
					zap.String("strategy", s.name), zap.Int("failed_before", len(tried)))
			}
			return s.name, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		p.logger.Debug("Strategy failed.", zap.String("strategy", s.name), zap.Error(err))
		tried = append(tried, attempt{s.name, err})
	}
	return "", exhausted(tried)
}

func exhausted(tried []attempt) error {
	if len(tried) == 0 {
		return fmt.Errorf("%w: no strategy applies", schemas.ErrResolutionExhausted)
	}
	parts := make([]string, len(tried))
	for i, t := range tried {
		parts[i] = t.name + ": " + t.err.Error()
	}
	return fmt.Errorf("%w (%s)", schemas.ErrResolutionExhausted, strings.Join(parts, "; "))
}

// hintText is the text a click is best identified by.
func hintText(a schemas.Action) string {
	if a.Context != nil && a.Context.Text != "" {
		return a.Context.Text
	}
	return a.Text
}

// -- click strategies --

func (p *Player) clickSmartLink(ctx context.Context, a schemas.Action) error {
	target := LinkTarget{Text: hintText(a)}
	if a.Context != nil {
		target.Href = a.Context.Href
	}
	if target.Href == "" && target.Text == "" {
		return errSkipped
	}
	candidates, err := p.driver.Query(ctx, linkQuery)
	if err != nil {
		return err
	}
	best, score, ok := p.weights.Best(target, candidates, p.threshold)
	if !ok {
		return fmt.Errorf("best link scored %d, below %d", score, p.threshold)
	}
	p.logger.Debug("Smart link match.", zap.Int("score", score), zap.String("text", best.Text), zap.String("href", best.Href))
	return p.driver.Click(ctx, linkQuery, best.Index, p.cfg.ActionTimeout)
}

func (p *Player) clickSelector(ctx context.Context, a schemas.Action) error {
	if strings.TrimSpace(a.Selector) == "" {
		return errSkipped
	}
	matches, err := p.driver.Query(ctx, a.Selector)
	if err != nil {
		return err
	}
	index := 0
	if idx := a.Context.IndexOr(-1); len(matches) > 1 && idx >= 0 && idx < len(matches) {
		index = idx
	}
	return p.driver.Click(ctx, a.Selector, index, p.cfg.ActionTimeout)
}

func (p *Player) clickHref(ctx context.Context, a schemas.Action) error {
	if a.Context == nil || a.Context.Href == "" {
		return errSkipped
	}
	return p.clickFirst(ctx, `a[href]`, func(el schemas.ElementInfo) bool {
		return el.Href == a.Context.Href || el.Attrs["href"] == a.Context.Href
	})
}

func (p *Player) clickAriaLabel(ctx context.Context, a schemas.Action) error {
	if a.Context == nil || a.Context.AriaLabel == "" {
		return errSkipped
	}
	return p.clickFirst(ctx, `[aria-label]`, func(el schemas.ElementInfo) bool {
		return el.AriaLabel == a.Context.AriaLabel
	})
}

func (p *Player) clickTextExact(ctx context.Context, a schemas.Action) error {
	want := normalizeText(hintText(a))
	if want == "" {
		return errSkipped
	}
	return p.clickFirst(ctx, clickableQuery, func(el schemas.ElementInfo) bool {
		return normalizeText(el.Text) == want
	})
}

func (p *Player) clickTextPrefix(ctx context.Context, a schemas.Action) error {
	want := []rune(normalizeText(hintText(a)))
	if len(want) == 0 {
		return errSkipped
	}
	if n := p.cfg.TextPrefixLength; n > 0 && len(want) > n {
		want = want[:n]
	}
	prefix := string(want)
	return p.clickFirst(ctx, clickableQuery, func(el schemas.ElementInfo) bool {
		return strings.Contains(normalizeText(el.Text), prefix)
	})
}

func (p *Player) clickRoleIndex(ctx context.Context, a schemas.Action) error {
	if a.Context == nil || a.Context.Role == "" || a.Context.Index == nil {
		return errSkipped
	}
	return p.clickNth(ctx, fmt.Sprintf(`[role="%s"]`, escapeAttr(a.Context.Role)), *a.Context.Index)
}

func (p *Player) clickTagIndex(ctx context.Context, a schemas.Action) error {
	tag := BareTag(a.Selector)
	if tag == "" || a.Context == nil || a.Context.Index == nil {
		return errSkipped
	}
	return p.clickNth(ctx, tag, *a.Context.Index)
}

func (p *Player) clickVision(ctx context.Context, a schemas.Action) error {
	pt, err := p.locate(ctx, a)
	if err != nil {
		return err
	}
	return p.driver.ClickAt(ctx, pt)
}

// clickFirst clicks the first visible element of query accepted by match.
func (p *Player) clickFirst(ctx context.Context, query string, match func(schemas.ElementInfo) bool) error {
	elements, err := p.driver.Query(ctx, query)
	if err != nil {
		return err
	}
	for _, el := range elements {
		if el.Visible && match(el) {
			return p.driver.Click(ctx, query, el.Index, p.cfg.ActionTimeout)
		}
	}
	return fmt.Errorf("no visible match among %d candidates", len(elements))
}

func (p *Player) clickNth(ctx context.Context, query string, index int) error {
	elements, err := p.driver.Query(ctx, query)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(elements) {
		return fmt.Errorf("index %d out of range, %d elements match %q", index, len(elements), query)
	}
	return p.driver.Click(ctx, query, index, p.cfg.ActionTimeout)
}

// -- fill strategies --

func (p *Player) fillSelector(ctx context.Context, a schemas.Action) error {
	if err := p.driver.Fill(ctx, a.Selector, a.Value, p.cfg.ActionTimeout); err != nil {
		return err
	}
	p.logger.Info("Filled field.", zap.String("selector", a.Selector), observability.ValueField(a.Selector, a.Value))
	return nil
}

func (p *Player) fillVision(ctx context.Context, a schemas.Action) error {
	pt, err := p.locate(ctx, a)
	if err != nil {
		return err
	}
	if err := p.driver.ClickAt(ctx, pt); err != nil {
		return err
	}
	if err := p.driver.TypeText(ctx, a.Value); err != nil {
		return err
	}
	p.logger.Info("Filled field by coordinates.", zap.Float64("x", pt.X), zap.Float64("y", pt.Y), observability.ValueField(a.Selector, a.Value))
	return nil
}

// -- vision grounding --

func (p *Player) locate(ctx context.Context, a schemas.Action) (schemas.Point, error) {
	if p.grounder == nil || !p.cfg.VisionFallback {
		return schemas.Point{}, errSkipped
	}
	shot, err := p.driver.Screenshot(ctx)
	if err != nil {
		return schemas.Point{}, fmt.Errorf("screenshot for grounding: %w", err)
	}
	desc := Describe(a)
	pt, found, err := p.grounder.Locate(ctx, shot, desc)
	if err != nil {
		return schemas.Point{}, err
	}
	if !found {
		return schemas.Point{}, fmt.Errorf("grounding service could not find %q", desc)
	}
	p.logger.Info("Grounding service located element.", zap.String("description", desc), zap.Float64("x", pt.X), zap.Float64("y", pt.Y))
	return pt, nil
}

// Describe builds the textual description a grounding service receives for
// an action's target.
func Describe(a schemas.Action) string {
	var parts []string
	switch a.Type {
	case schemas.ActionFill:
		parts = append(parts, "the input field")
	default:
		parts = append(parts, "the clickable element")
	}
	if t := hintText(a); t != "" {
		parts = append(parts, fmt.Sprintf("with text %q", t))
	}
	if c := a.Context; c != nil {
		if c.AriaLabel != "" {
			parts = append(parts, fmt.Sprintf("labelled %q", c.AriaLabel))
		}
		if c.Role != "" {
			parts = append(parts, fmt.Sprintf("with role %q", c.Role))
		}
		if c.Href != "" {
			parts = append(parts, fmt.Sprintf("linking to %s", c.Href))
		}
	}
	if a.Selector != "" {
		parts = append(parts, fmt.Sprintf("(CSS selector %s)", a.Selector))
	}
	return strings.Join(parts, " ")
}

// BareTag reduces a selector to the tag name of its last compound, or "" if
// the selector does not start that compound with a tag.
func BareTag(selector string) string {
	s := strings.TrimSpace(selector)
	if i := strings.LastIndexAny(s, " >+~"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexAny(s, "#.[:"); i >= 0 {
		s = s[:i]
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return ""
		}
	}
	return strings.ToLower(s)
}

func escapeAttr(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}
