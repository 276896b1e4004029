package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/observability"
)

const (
	textQuery   = `a, button, [role], label, summary, span, div, p, li, td, th, h1, h2, h3, h4, h5, h6, input[type="submit"], input[type="button"]`
	buttonQuery = `button, [role="button"], input[type="submit"], input[type="button"]`
	fieldQuery  = `input, textarea`
)

// resolution says how an element was found. It ends up in the history so
// the planner can learn which descriptions work.
type resolution struct {
	how      string
	selector string
	pressed  bool
}

// click resolves a planner's element description with a lighter cascade than
// replay: planner targets are either CSS or a few words of visible text.
func (a *Agent) click(ctx context.Context, target string) (resolution, error) {
	var tried []string

	// 1. CSS selector
	if n := a.count(ctx, target); n > 0 {
		if err := a.driver.Click(ctx, target, 0, a.playerCfg.ActionTimeout); err != nil {
			return resolution{}, err
		}
		return resolution{how: "selector", selector: target}, nil
	}
	tried = append(tried, "selector")

	// 2. Visible text, exact before partial
	want := strings.ToLower(normalize(target))
	if idx, ok := a.firstVisible(ctx, textQuery, func(el schemas.ElementInfo) bool {
		return want != "" && strings.ToLower(normalize(el.Text)) == want
	}, func(el schemas.ElementInfo) bool {
		return want != "" && strings.Contains(strings.ToLower(normalize(el.Text)), want)
	}); ok {
		return resolution{how: "text", selector: textQuery}, a.driver.Click(ctx, textQuery, idx, a.playerCfg.ActionTimeout)
	}
	tried = append(tried, "text")

	// 3. Button by accessible name
	name := namePattern(target)
	if idx, ok := a.firstVisible(ctx, buttonQuery, func(el schemas.ElementInfo) bool {
		return want != "" && (name.MatchString(el.Text) || name.MatchString(el.AriaLabel) || name.MatchString(el.Attrs["value"]))
	}); ok {
		return resolution{how: "button", selector: buttonQuery}, a.driver.Click(ctx, buttonQuery, idx, a.playerCfg.ActionTimeout)
	}
	tried = append(tried, "button")

	// 4. aria-label contains
	if idx, ok := a.firstVisible(ctx, `[aria-label]`, func(el schemas.ElementInfo) bool {
		return want != "" && strings.Contains(strings.ToLower(el.AriaLabel), want)
	}); ok {
		return resolution{how: "aria-label", selector: `[aria-label]`}, a.driver.Click(ctx, `[aria-label]`, idx, a.playerCfg.ActionTimeout)
	}
	tried = append(tried, "aria-label")

	// 5. Vision
	if pt, ok, err := a.locate(ctx, fmt.Sprintf("the clickable element %q", target)); err != nil {
		a.logger.Warn("Vision grounding failed.", zap.Error(err))
	} else if ok {
		return resolution{how: "vision"}, a.driver.ClickAt(ctx, pt)
	} else if a.grounder != nil {
		tried = append(tried, "vision")
	}

	return resolution{}, fmt.Errorf("could not find clickable element %q (tried %s): %w",
		target, strings.Join(tried, ", "), schemas.ErrElementNotFound)
}

func (a *Agent) fill(ctx context.Context, target, value string) (resolution, error) {
	var tried []string

	// 1. CSS selector
	if n := a.count(ctx, target); n > 0 {
		if err := a.driver.Fill(ctx, target, value, a.playerCfg.ActionTimeout); err != nil {
			return resolution{}, err
		}
		return a.maybeSubmit(ctx, resolution{how: "selector", selector: target}), nil
	}
	tried = append(tried, "selector")

	// 2. Generic [name="…"] when the selector named one
	if m := nameAttr.FindStringSubmatch(target); m != nil {
		sel := fmt.Sprintf(`[name="%s"]`, m[1])
		if a.count(ctx, sel) > 0 {
			if err := a.driver.Fill(ctx, sel, value, a.playerCfg.ActionTimeout); err != nil {
				return resolution{}, err
			}
			return a.maybeSubmit(ctx, resolution{how: "name", selector: sel}), nil
		}
		tried = append(tried, "name")
	}

	// 3. placeholder, name, then aria-label containing the description
	want := strings.ToLower(normalize(target))
	fields, err := a.driver.Query(ctx, fieldQuery)
	if err != nil || want == "" {
		fields = nil
	}
	for _, attr := range []string{"placeholder", "name", "aria-label"} {
		for _, el := range fields {
			v, ok := el.Attrs[attr]
			if !ok || !el.Visible || !strings.Contains(strings.ToLower(v), want) {
				continue
			}
			sel := fmt.Sprintf(`%s[%s="%s"]`, el.Tag, attr, escapeAttr(v))
			if err := a.driver.Fill(ctx, sel, value, a.playerCfg.ActionTimeout); err != nil {
				return resolution{}, err
			}
			return a.maybeSubmit(ctx, resolution{how: attr, selector: sel}), nil
		}
		tried = append(tried, attr)
	}

	// 4. Vision
	if pt, ok, err := a.locate(ctx, fmt.Sprintf("the input field %q", target)); err != nil {
		a.logger.Warn("Vision grounding failed.", zap.Error(err))
	} else if ok {
		if err := a.driver.ClickAt(ctx, pt); err != nil {
			return resolution{}, err
		}
		return resolution{how: "vision"}, a.driver.TypeText(ctx, value)
	} else if a.grounder != nil {
		tried = append(tried, "vision")
	}

	return resolution{}, fmt.Errorf("could not find field %q (tried %s): %w",
		target, strings.Join(tried, ", "), schemas.ErrElementNotFound)
}

// maybeSubmit presses Enter on search-like fields. A failed press does not
// undo the fill.
func (a *Agent) maybeSubmit(ctx context.Context, r resolution) resolution {
	fields, err := a.driver.Query(ctx, r.selector)
	if err != nil || len(fields) == 0 || !searchLike(fields[0]) {
		return r
	}
	if err := a.driver.Press(ctx, r.selector, "Enter", a.playerCfg.ActionTimeout); err != nil {
		a.logger.Debug("Could not submit search field.", zap.String("selector", r.selector), zap.Error(err))
		return r
	}
	r.pressed = true
	return r
}

func searchLike(el schemas.ElementInfo) bool {
	if el.Attrs["type"] == "search" || el.Role == "searchbox" || el.Role == "combobox" {
		return true
	}
	switch strings.ToLower(el.Attrs["name"]) {
	case "q", "query", "search", "s", "k", "keywords", "search_query":
		return true
	}
	for _, attr := range []string{"id", "name", "placeholder", "aria-label", "class"} {
		v := strings.ToLower(el.Attrs[attr])
		if strings.Contains(v, "search") || strings.Contains(v, "recherche") {
			return true
		}
	}
	return false
}

// count returns how many elements match selector; invalid CSS counts as none.
func (a *Agent) count(ctx context.Context, selector string) int {
	if strings.TrimSpace(selector) == "" {
		return 0
	}
	els, err := a.driver.Query(ctx, selector)
	if err != nil {
		return 0
	}
	return len(els)
}

// firstVisible returns the index of the first visible element accepted by
// the earliest predicate that accepts any.
func (a *Agent) firstVisible(ctx context.Context, query string, preds ...func(schemas.ElementInfo) bool) (int, bool) {
	els, err := a.driver.Query(ctx, query)
	if err != nil {
		return 0, false
	}
	for _, pred := range preds {
		for _, el := range els {
			if el.Visible && pred(el) {
				return el.Index, true
			}
		}
	}
	return 0, false
}

func (a *Agent) locate(ctx context.Context, desc string) (schemas.Point, bool, error) {
	if a.grounder == nil || !a.playerCfg.VisionFallback {
		return schemas.Point{}, false, nil
	}
	shot, err := a.driver.Screenshot(ctx)
	if err != nil {
		return schemas.Point{}, false, err
	}
	return a.grounder.Locate(ctx, shot, desc)
}

var nameAttr = regexp.MustCompile(`name\s*=\s*["']?([\w-]+)["']?`)

// namePattern matches an accessible name case-insensitively. Planner text is
// quoted so it never acts as a pattern.
func namePattern(s string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(strings.TrimSpace(s)))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func escapeAttr(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}

func fillResult(r resolution, target, value string) string {
	msg := fmt.Sprintf("Filled %s with '%s'", describeHow(r, target), observability.SafeValue(target, value))
	if r.pressed {
		msg += " and pressed Enter"
	}
	return msg
}

func describeHow(r resolution, target string) string {
	switch r.how {
	case "selector":
		return fmt.Sprintf("'%s'", target)
	case "vision":
		return fmt.Sprintf("'%s' (located visually)", target)
	}
	return fmt.Sprintf("'%s' (by %s)", target, r.how)
}
