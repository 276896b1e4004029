package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/observability"
)

// Kind classifies a planned step.
type Kind string

const (
	KindNavigate Kind = "navigate"
	KindFill     Kind = "fill"
	KindClick    Kind = "click"
	KindScroll   Kind = "scroll"
	KindMessage  Kind = "message"
	KindDone     Kind = "done"
	KindRead     Kind = "read"
	KindUnknown  Kind = "unknown"
)

// Command is a planned step after classification. Target is a CSS selector
// or a human description of the element; the resolver tries both readings.
type Command struct {
	Kind   Kind
	URL    string
	Target string
	Value  string
	Text   string
	Raw    string

	// ParseErr is set when the step named a known action whose arguments
	// could not be read.
	ParseErr error
}

// Describe renders the command the way it is kept in history. Two identical
// commands always describe identically.
func (c Command) Describe() string {
	if c.Raw != "" {
		return c.Raw
	}
	switch c.Kind {
	case KindNavigate:
		return fmt.Sprintf("goto('%s')", c.URL)
	case KindFill:
		return fmt.Sprintf("fill('%s', '%s')", c.Target, c.Value)
	case KindClick:
		return fmt.Sprintf("click('%s')", c.Target)
	case KindScroll:
		return fmt.Sprintf("scroll('%s')", c.Value)
	case KindMessage:
		return fmt.Sprintf("send_msg_to_user('%s')", c.Text)
	case KindDone:
		return fmt.Sprintf("done('%s')", c.Text)
	case KindRead:
		return fmt.Sprintf("read('%s')", c.Target)
	}
	return string(c.Kind)
}

// Redacted is Describe with the fill value masked or shortened. It is what
// goes into logs, history and planner notes.
func (c Command) Redacted() string {
	if c.Kind != KindFill {
		return c.Describe()
	}
	if c.ParseErr != nil {
		return "fill(...)"
	}
	return fmt.Sprintf("fill('%s', '%s')", c.Target, observability.SafeValue(c.Target, c.Value))
}

// Action converts browser commands to the shared action model.
func (c Command) Action() schemas.Action {
	switch c.Kind {
	case KindNavigate:
		return schemas.NewNavigate(c.URL)
	case KindFill:
		return schemas.NewFill(c.Target, c.Value, nil)
	case KindClick:
		return schemas.NewClick(c.Target, nil)
	case KindMessage:
		return schemas.NewMessage(c.Text)
	case KindDone:
		return schemas.NewDone(c.Text)
	}
	return schemas.NewUnknown(c.Describe())
}

var (
	gotoPattern  = regexp.MustCompile(`(?i)goto\(\s*["']?([^"')\s]+)["']?\s*\)`)
	fillPattern  = regexp.MustCompile(`(?i)fill\(\s*["'](.+?)["']\s*,\s*["'](.*?)["']\s*\)`)
	clickPattern = regexp.MustCompile(`(?i)click\(\s*["'](.+?)["']\s*\)`)
	quoted       = regexp.MustCompile(`["'](.+?)["']`)
)

// ParseStep classifies a planned step. Structured fields win when the step
// carries a known type; otherwise the free-text action is matched against
// goto/fill/click/send_msg_to_user/done/read in that order.
func ParseStep(step schemas.PlannedStep) Command {
	if cmd, ok := parseStructured(step); ok {
		return cmd
	}
	return ParseText(step.ActionText)
}

func parseStructured(step schemas.PlannedStep) (Command, bool) {
	kind := Kind(strings.ToLower(strings.TrimSpace(step.Type)))
	cmd := Command{Kind: kind}
	switch kind {
	case KindNavigate, "goto":
		cmd.Kind = KindNavigate
		cmd.URL = firstNonEmpty(step.URL, step.Value, step.Text)
		if cmd.URL == "" {
			cmd.ParseErr = fmt.Errorf("%w: navigate without url", schemas.ErrActionParse)
		}
	case KindClick:
		cmd.Target = firstNonEmpty(step.Selector, step.Text)
		if cmd.Target == "" {
			cmd.ParseErr = fmt.Errorf("%w: click without target", schemas.ErrActionParse)
		}
	case KindFill:
		cmd.Target = firstNonEmpty(step.Selector, step.Text)
		cmd.Value = step.Value
		if cmd.Target == "" {
			cmd.ParseErr = fmt.Errorf("%w: fill without target", schemas.ErrActionParse)
		}
	case KindScroll:
		cmd.Value = firstNonEmpty(step.Value, step.Text)
	case KindMessage, "send_msg_to_user":
		cmd.Kind = KindMessage
		cmd.Text = firstNonEmpty(step.Text, step.Value)
	case KindDone:
		cmd.Text = firstNonEmpty(step.Text, step.Value)
	case KindRead, "extract":
		cmd.Kind = KindRead
		cmd.Target = firstNonEmpty(step.Selector, step.Text)
	default:
		return Command{}, false
	}
	return cmd, true
}

// verbs maps the call names the planner may use onto kinds.
var verbs = map[string]Kind{
	"goto":             KindNavigate,
	"navigate":         KindNavigate,
	"fill":             KindFill,
	"click":            KindClick,
	"scroll":           KindScroll,
	"send_msg_to_user": KindMessage,
	"message":          KindMessage,
	"done":             KindDone,
	"read":             KindRead,
	"extract":          KindRead,
}

// keywordOrder is consulted when the text does not start with a known call.
var keywordOrder = []struct {
	word string
	kind Kind
}{
	{"goto", KindNavigate},
	{"fill", KindFill},
	{"click", KindClick},
	{"send_msg_to_user", KindMessage},
	{"done", KindDone},
	{"read", KindRead},
	{"extract", KindRead},
	{"scroll", KindScroll},
}

var leadingCall = regexp.MustCompile(`^\s*([A-Za-z_]+)\s*\(`)

func kindOf(raw string) Kind {
	if m := leadingCall.FindStringSubmatch(raw); m != nil {
		if k, ok := verbs[strings.ToLower(m[1])]; ok {
			return k
		}
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "message") {
		return KindMessage
	}
	for _, kw := range keywordOrder {
		if strings.Contains(lower, kw.word) {
			return kw.kind
		}
	}
	return KindUnknown
}

// ParseText classifies a free-form action such as "fill('#q', 'golang')".
// A leading call name decides the kind; otherwise the first keyword found
// does.
func ParseText(action string) Command {
	raw := strings.TrimSpace(action)
	cmd := Command{Kind: kindOf(raw), Raw: raw}

	switch cmd.Kind {
	case KindNavigate:
		if m := gotoPattern.FindStringSubmatch(raw); m != nil {
			cmd.URL = m[1]
		} else if m := quoted.FindStringSubmatch(raw); m != nil {
			cmd.URL = m[1]
		} else {
			cmd.ParseErr = fmt.Errorf("%w: could not parse URL from %q", schemas.ErrActionParse, raw)
		}
	case KindFill:
		if m := fillPattern.FindStringSubmatch(raw); m != nil {
			cmd.Target, cmd.Value = m[1], m[2]
		} else {
			cmd.ParseErr = fmt.Errorf("%w: could not parse fill action", schemas.ErrActionParse)
		}
	case KindClick:
		if m := clickPattern.FindStringSubmatch(raw); m != nil {
			cmd.Target = m[1]
		} else {
			cmd.ParseErr = fmt.Errorf("%w: could not parse click action from %q", schemas.ErrActionParse, raw)
		}
	case KindMessage, KindDone:
		if m := quoted.FindStringSubmatch(raw); m != nil {
			cmd.Text = m[1]
		}
	case KindRead:
		if m := quoted.FindStringSubmatch(raw); m != nil {
			cmd.Target = m[1]
		}
	case KindScroll:
		if m := quoted.FindStringSubmatch(raw); m != nil {
			cmd.Value = m[1]
		}
	}
	return cmd
}

// scrollDelta turns a scroll argument into a vertical offset in pixels.
func scrollDelta(v string) int {
	const page = 600
	switch s := strings.ToLower(strings.TrimSpace(v)); s {
	case "", "down":
		return page
	case "up":
		return -page
	case "top":
		return -1 << 20
	case "bottom":
		return 1 << 20
	default:
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return page
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
