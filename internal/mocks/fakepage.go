package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

// FakeElement is one element of a FakePage.
type FakeElement struct {
	Tag     string
	ID      string
	Classes []string
	Attrs   map[string]string
	Text    string
	Hidden  bool
	Center  schemas.Point
	Value   string

	// Aliases are extra selectors, typically ones with combinators, that the
	// fake matcher cannot evaluate on its own.
	Aliases []string

	// OnClick runs after a successful click, under the page lock.
	OnClick func(p *FakePage)
}

func (e *FakeElement) info(index int) schemas.ElementInfo {
	attrs := make(map[string]string, len(e.Attrs)+1)
	for k, v := range e.Attrs {
		attrs[k] = v
	}
	if e.ID != "" {
		attrs["id"] = e.ID
	}
	return schemas.ElementInfo{
		Index:     index,
		Tag:       e.Tag,
		Text:      e.Text,
		Href:      e.Attrs["href"],
		AriaLabel: e.Attrs["aria-label"],
		Role:      e.Attrs["role"],
		Visible:   !e.Hidden,
		Center:    e.Center,
		Attrs:     attrs,
	}
}

// FakePage is an in-memory schemas.RecordingSurface. It understands compound
// CSS selectors without combinators (tag, #id, .class, [attr], [attr="v"],
// [attr*="v"], [attr^="v"]) joined by commas; anything else only matches
// element aliases. Every operation is appended to a call log.
type FakePage struct {
	mu sync.Mutex

	URL       string
	TitleText string
	HTML      string
	Elements  []*FakeElement

	// Fail injects an error for an operation name: navigate, quiescence,
	// click, click_at, fill, press, type, scroll, screenshot, evaluate,
	// content, binding, inject.
	Fail map[string]error

	// Buffer is what the page-side recorder buffer evaluates to.
	Buffer []map[string]interface{}

	// EvaluateFunc overrides Evaluate when set.
	EvaluateFunc func(script string, res interface{}) error

	// Pages maps a URL to the elements a navigation to it installs.
	Pages map[string][]*FakeElement

	calls      []string
	typed      []string
	scroll     [2]int
	bindings   map[string]func(string)
	navs       map[int]func(string)
	nextNav    int
	scripts    []string
	quiescence int
}

var _ schemas.RecordingSurface = (*FakePage)(nil)

// NewFakePage returns a page at url holding elements.
func NewFakePage(url string, elements ...*FakeElement) *FakePage {
	return &FakePage{
		URL:      url,
		Elements: elements,
		Fail:     make(map[string]error),
		Pages:    make(map[string][]*FakeElement),
		bindings: make(map[string]func(string)),
		navs:     make(map[int]func(string)),
	}
}

// SetFail injects err for op.
func (p *FakePage) SetFail(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Fail[op] = err
}

// Calls returns a copy of the operation log.
func (p *FakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// CallsWith returns logged operations starting with prefix.
func (p *FakePage) CallsWith(prefix string) []string {
	var out []string
	for _, c := range p.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Typed returns the text sent through TypeText.
func (p *FakePage) Typed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.typed...)
}

// ScrollPosition returns the last ScrollTo offset.
func (p *FakePage) ScrollPosition() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scroll[0], p.scroll[1]
}

// QuiescenceWaits counts WaitForQuiescence calls.
func (p *FakePage) QuiescenceWaits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quiescence
}

// Scripts returns the injected scripts.
func (p *FakePage) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}

// ValueOf returns the value of the first element matching selector.
func (p *FakePage) ValueOf(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	matches, _ := p.match(selector)
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Value
}

// Emit calls a page binding as the page script would.
func (p *FakePage) Emit(name, payload string) bool {
	p.mu.Lock()
	fn := p.bindings[name]
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(payload)
	return true
}

// SimulateNavigation reports a main-frame navigation without changing elements.
func (p *FakePage) SimulateNavigation(url string) {
	p.mu.Lock()
	p.URL = url
	listeners := p.navListeners()
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(url)
	}
}

func (p *FakePage) navListeners() []func(string) {
	out := make([]func(string), 0, len(p.navs))
	for i := 0; i < p.nextNav; i++ {
		if fn, ok := p.navs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (p *FakePage) log(format string, args ...interface{}) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *FakePage) fail(op string) error {
	return p.Fail[op]
}

// -- Driver --

func (p *FakePage) Navigate(ctx context.Context, url string, policy schemas.WaitPolicy, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.log("navigate %s", url)
	if err := p.fail("navigate"); err != nil {
		p.mu.Unlock()
		return err
	}
	p.URL = url
	if els, ok := p.Pages[url]; ok {
		p.Elements = els
	}
	listeners := p.navListeners()
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(url)
	}
	return nil
}

func (p *FakePage) WaitForQuiescence(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quiescence++
	return p.fail("quiescence")
}

func (p *FakePage) Query(ctx context.Context, selector string) ([]schemas.ElementInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log("query %s", selector)
	matches, err := p.match(selector)
	if err != nil {
		return nil, err
	}
	out := make([]schemas.ElementInfo, len(matches))
	for i, el := range matches {
		out[i] = el.info(i)
	}
	return out, nil
}

func (p *FakePage) Click(ctx context.Context, selector string, index int, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("click"); err != nil {
		return err
	}
	matches, err := p.match(selector)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(matches) || matches[index].Hidden {
		return fmt.Errorf("no visible element %q[%d]: %w", selector, index, schemas.ErrElementNotFound)
	}
	p.log("click %s[%d]", selector, index)
	if fn := matches[index].OnClick; fn != nil {
		fn(p)
	}
	return nil
}

func (p *FakePage) ClickAt(ctx context.Context, pt schemas.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("click_at"); err != nil {
		return err
	}
	p.log("click_at %.0f,%.0f", pt.X, pt.Y)
	return nil
}

func (p *FakePage) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("fill"); err != nil {
		return err
	}
	matches, err := p.match(selector)
	if err != nil {
		return err
	}
	if len(matches) == 0 || matches[0].Hidden {
		return fmt.Errorf("no visible element %q: %w", selector, schemas.ErrElementNotFound)
	}
	switch matches[0].Tag {
	case "input", "textarea", "select":
	default:
		return fmt.Errorf("element %q is not fillable", selector)
	}
	matches[0].Value = value
	p.log("fill %s", selector)
	return nil
}

func (p *FakePage) Press(ctx context.Context, selector, key string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("press"); err != nil {
		return err
	}
	p.log("press %s %s", selector, key)
	return nil
}

func (p *FakePage) TypeText(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("type"); err != nil {
		return err
	}
	p.typed = append(p.typed, text)
	p.log("type %d", len(text))
	return nil
}

func (p *FakePage) ScrollTo(ctx context.Context, x, y int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("scroll"); err != nil {
		return err
	}
	p.scroll = [2]int{x, y}
	p.log("scroll %d,%d", x, y)
	return nil
}

func (p *FakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log("screenshot")
	if err := p.fail("screenshot"); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake"), nil
}

func (p *FakePage) Evaluate(ctx context.Context, script string, res interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	fn := p.EvaluateFunc
	if err := p.fail("evaluate"); err != nil {
		p.mu.Unlock()
		return err
	}
	buffer := p.Buffer
	p.mu.Unlock()

	if fn != nil {
		return fn(script, res)
	}
	if res == nil {
		return nil
	}
	var value interface{}
	if strings.Contains(script, "__workflowActions") {
		value = buffer
		if buffer == nil {
			value = []interface{}{}
		}
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, res)
}

func (p *FakePage) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.URL, nil
}

func (p *FakePage) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TitleText, nil
}

func (p *FakePage) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("content"); err != nil {
		return "", err
	}
	return p.HTML, nil
}

// -- Recording hooks --

func (p *FakePage) AddBinding(ctx context.Context, name string, fn func(payload string)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("binding"); err != nil {
		return nil, err
	}
	p.bindings[name] = fn
	p.log("binding %s", name)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.bindings, name)
		p.log("unbinding %s", name)
	}, nil
}

func (p *FakePage) InjectScript(ctx context.Context, source string) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail("inject"); err != nil {
		return nil, err
	}
	p.scripts = append(p.scripts, source)
	p.log("inject")
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.log("uninject")
	}, nil
}

func (p *FakePage) OnTopLevelNavigation(fn func(url string)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextNav
	p.nextNav++
	p.navs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.navs, id)
	}
}

// -- Selector matching --

func (p *FakePage) match(selector string) ([]*FakeElement, error) {
	var out []*FakeElement
	for _, el := range p.Elements {
		ok, err := matchesAny(el, selector)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, el)
		}
	}
	return out, nil
}

func matchesAny(el *FakeElement, selector string) (bool, error) {
	for _, alias := range el.Aliases {
		if alias == selector {
			return true, nil
		}
	}
	for _, part := range splitOutsideBrackets(selector, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			return false, fmt.Errorf("invalid selector %q", selector)
		}
		ok, err := matchCompound(el, part)
		if err != nil {
			return false, fmt.Errorf("invalid selector %q: %w", selector, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func splitOutsideBrackets(s string, sep rune) []string {
	var (
		out   []string
		depth int
		quote rune
		start int
	)
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[' || r == '(':
			depth++
		case r == ']' || r == ')':
			depth--
		case r == sep && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func matchCompound(el *FakeElement, sel string) (bool, error) {
	if strings.ContainsAny(sel, " >~+") && !strings.Contains(sel, "[") {
		return false, nil
	}
	rest := sel
	tagEnd := strings.IndexAny(rest, "#.[:")
	if tagEnd < 0 {
		tagEnd = len(rest)
	}
	tag := rest[:tagEnd]
	rest = rest[tagEnd:]
	if tag != "" && tag != "*" && !strings.EqualFold(tag, el.Tag) {
		return false, nil
	}

	for rest != "" {
		switch rest[0] {
		case '#':
			name, tail := readName(rest[1:])
			if name == "" {
				return false, fmt.Errorf("empty id")
			}
			if el.ID != name {
				return false, nil
			}
			rest = tail
		case '.':
			name, tail := readName(rest[1:])
			if name == "" {
				return false, fmt.Errorf("empty class")
			}
			if !hasClass(el, name) {
				return false, nil
			}
			rest = tail
		case '[':
			end := closingBracket(rest)
			if end < 0 {
				return false, fmt.Errorf("unterminated attribute selector")
			}
			if !matchAttr(el, rest[1:end]) {
				return false, nil
			}
			rest = rest[end+1:]
		case ':':
			// Pseudo-classes are not modelled.
			return false, nil
		default:
			return false, nil
		}
	}
	return true, nil
}

func readName(s string) (string, string) {
	i := 0
	for i < len(s) && !strings.ContainsRune("#.[: >~+", rune(s[i])) {
		i++
	}
	return s[:i], s[i:]
}

func closingBracket(s string) int {
	var quote byte
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ']':
			return i
		}
	}
	return -1
}

func hasClass(el *FakeElement, name string) bool {
	for _, c := range el.Classes {
		if c == name {
			return true
		}
	}
	return false
}

func matchAttr(el *FakeElement, expr string) bool {
	ops := []string{"*=", "^=", "="}
	for _, op := range ops {
		if i := strings.Index(expr, op); i > 0 {
			name := strings.TrimSpace(expr[:i])
			want := unquote(strings.TrimSpace(expr[i+len(op):]))
			got, ok := attr(el, name)
			if !ok {
				return false
			}
			switch op {
			case "*=":
				return strings.Contains(got, want)
			case "^=":
				return strings.HasPrefix(got, want)
			default:
				return got == want
			}
		}
	}
	_, ok := attr(el, strings.TrimSpace(expr))
	return ok
}

func attr(el *FakeElement, name string) (string, bool) {
	if name == "id" {
		return el.ID, el.ID != ""
	}
	if name == "class" {
		return strings.Join(el.Classes, " "), len(el.Classes) > 0
	}
	v, ok := el.Attrs[name]
	return v, ok
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(s)
}
