package schemas

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// -- Action Model --

// ActionType discriminates the variants of an Action.
type ActionType string

const (
	ActionNavigate ActionType = "navigate"
	ActionClick    ActionType = "click"
	ActionFill     ActionType = "fill"
	ActionScroll   ActionType = "scroll"
	ActionMessage  ActionType = "message"
	ActionDone     ActionType = "done"
	ActionUnknown  ActionType = "unknown"
)

// legacyNavigate is the verb older recordings used for navigation.
const legacyNavigate = "goto"

// ActionContext is an optional bag of resolution hints captured alongside a
// selector. Hints are advisory: replay consults them only when the cheaper
// strategies fail, except for link-like clicks which try smart matching first.
type ActionContext struct {
	Text          string `json:"text,omitempty" yaml:"text,omitempty"`                   // Visible text of the element (truncated at capture time).
	Href          string `json:"href,omitempty" yaml:"href,omitempty"`                   // Absolute href for anchors.
	AriaLabel     string `json:"ariaLabel,omitempty" yaml:"ariaLabel,omitempty"`         // aria-label attribute.
	Role          string `json:"role,omitempty" yaml:"role,omitempty"`                   // role attribute.
	Index         *int   `json:"index,omitempty" yaml:"index,omitempty"`                 // Position among the parent's children.
	TotalSiblings int    `json:"totalSiblings,omitempty" yaml:"totalSiblings,omitempty"` // Number of children of the parent.
}

// HasLinkHints reports whether the context carries enough signal for smart link matching.
func (c *ActionContext) HasLinkHints() bool {
	return c != nil && (c.Href != "" || c.Text != "")
}

// IndexOr returns the recorded index, or def when none was captured.
func (c *ActionContext) IndexOr(def int) int {
	if c == nil || c.Index == nil {
		return def
	}
	return *c.Index
}

// Action is a single atomic browser operation. It is a tagged variant: Type
// decides which of the remaining fields are meaningful.
//
//	navigate: URL
//	click:    Selector, Text (snippet of the clicked element), Context
//	fill:     Selector, Value, Context
//	scroll:   X, Y
//	message:  Text
//	done:     Text (summary)
//	unknown:  Text (raw input that could not be classified)
type Action struct {
	Type      ActionType     `json:"type" yaml:"type"`
	URL       string         `json:"url,omitempty" yaml:"url,omitempty"`
	Selector  string         `json:"selector,omitempty" yaml:"selector,omitempty"`
	Value     string         `json:"value,omitempty" yaml:"value,omitempty"`
	X         int            `json:"x,omitempty" yaml:"x,omitempty"`
	Y         int            `json:"y,omitempty" yaml:"y,omitempty"`
	Text      string         `json:"text,omitempty" yaml:"text,omitempty"`
	Context   *ActionContext `json:"context,omitempty" yaml:"context,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty" yaml:"timestamp,omitempty"` // Capture time in milliseconds since the Unix epoch.
}

// UnmarshalJSON accepts the legacy "goto" verb as navigate.
func (a *Action) UnmarshalJSON(data []byte) error {
	type plain Action
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if strings.EqualFold(string(p.Type), legacyNavigate) {
		p.Type = ActionNavigate
	}
	*a = Action(p)
	return nil
}

func NewNavigate(url string) Action { return Action{Type: ActionNavigate, URL: url} }

func NewClick(selector string, ctx *ActionContext) Action {
	return Action{Type: ActionClick, Selector: selector, Context: ctx}
}

func NewFill(selector, value string, ctx *ActionContext) Action {
	return Action{Type: ActionFill, Selector: selector, Value: value, Context: ctx}
}

func NewScroll(x, y int) Action { return Action{Type: ActionScroll, X: x, Y: y} }
func NewMessage(text string) Action { return Action{Type: ActionMessage, Text: text} }
func NewDone(summary string) Action { return Action{Type: ActionDone, Text: summary} }
func NewUnknown(raw string) Action { return Action{Type: ActionUnknown, Text: raw} }

// Validate checks that the fields required by the variant are present.
// Failures wrap ErrActionParse.
func (a Action) Validate() error {
	switch a.Type {
	case ActionNavigate:
		if strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("%w: navigate requires a url", ErrActionParse)
		}
	case ActionClick:
		if strings.TrimSpace(a.Selector) == "" && !a.Context.HasLinkHints() && (a.Context == nil || a.Context.AriaLabel == "") {
			return fmt.Errorf("%w: click requires a selector or context hints", ErrActionParse)
		}
	case ActionFill:
		if strings.TrimSpace(a.Selector) == "" {
			return fmt.Errorf("%w: fill requires a selector", ErrActionParse)
		}
	case ActionScroll, ActionMessage, ActionDone, ActionUnknown:
	default:
		return fmt.Errorf("%w: unsupported action type %q", ErrActionParse, a.Type)
	}
	return nil
}

// Describe renders a compact, stable description of the action. It is used
// for logs, history entries and stuck-loop comparison, so it must not
// include timestamps.
func (a Action) Describe() string {
	switch a.Type {
	case ActionNavigate:
		return fmt.Sprintf("navigate(%q)", a.URL)
	case ActionClick:
		return fmt.Sprintf("click(%q)", a.Selector)
	case ActionFill:
		return fmt.Sprintf("fill(%q, %q)", a.Selector, a.Value)
	case ActionScroll:
		return fmt.Sprintf("scroll(%d, %d)", a.X, a.Y)
	case ActionMessage:
		return fmt.Sprintf("message(%q)", a.Text)
	case ActionDone:
		return fmt.Sprintf("done(%q)", a.Text)
	default:
		return fmt.Sprintf("unknown(%q)", a.Text)
	}
}

// -- Recorded Workflow --

// RecordedWorkflow is the immutable product of a recording session. Only Name
// and Description may change after it is persisted.
type RecordedWorkflow struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	StartURL    string    `json:"start_url" yaml:"start_url"`
	Actions     []Action  `json:"actions" yaml:"actions"`
	Duration    float64   `json:"duration" yaml:"duration"` // Recording length in seconds.
}

// Summary projects the workflow onto its listing form.
func (w *RecordedWorkflow) Summary() WorkflowSummary {
	return WorkflowSummary{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		CreatedAt:   w.CreatedAt,
		ActionCount: len(w.Actions),
		Duration:    w.Duration,
		StartURL:    w.StartURL,
	}
}

// WorkflowSummary is the listing view of a stored workflow (no actions).
type WorkflowSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	ActionCount int       `json:"action_count"`
	Duration    float64   `json:"duration"`
	StartURL    string    `json:"start_url"`
}

// -- Run Report --

// ActionError records one failed action during replay.
type ActionError struct {
	Index  int    `json:"action_index"`
	Action Action `json:"action"`
	Error  string `json:"error"`
}

// StepOutcome records how a single action was resolved.
type StepOutcome struct {
	Index    int           `json:"index"`
	Type     ActionType    `json:"type"`
	Strategy string        `json:"strategy,omitempty"` // Name of the cascade strategy that succeeded.
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
}

// RunReport aggregates the outcome of replaying a workflow.
type RunReport struct {
	WorkflowID      string        `json:"workflow_id,omitempty"`
	Success         bool          `json:"success"`
	ActionsExecuted int           `json:"actions_executed"`
	ActionsFailed   int           `json:"actions_failed"`
	Errors          []ActionError `json:"errors"`
	Steps           []StepOutcome `json:"steps,omitempty"`
	Aborted         bool          `json:"aborted,omitempty"`
	AbortReason     string        `json:"abort_reason,omitempty"`
}
