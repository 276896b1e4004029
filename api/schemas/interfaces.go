package schemas

import (
	"context"
	"time"
)

// -- Browser Driver Interfaces --

// Driver is the capability set the recorder, player and agent need from a
// live page. Implementations own the page exclusively; callers must not issue
// concurrent operations. Every method is blocking with its own bounded wait.
type Driver interface {
	// Navigate loads url and waits according to policy, bounded by timeout.
	Navigate(ctx context.Context, url string, policy WaitPolicy, timeout time.Duration) error
	// WaitForQuiescence waits until no network requests are in flight, bounded by timeout.
	WaitForQuiescence(ctx context.Context, timeout time.Duration) error
	// Query returns the elements currently matching a CSS selector, in document order.
	Query(ctx context.Context, selector string) ([]ElementInfo, error)
	// Click clicks the index-th element matching selector.
	Click(ctx context.Context, selector string, index int, timeout time.Duration) error
	// ClickAt dispatches a synthetic left click at viewport coordinates.
	ClickAt(ctx context.Context, p Point) error
	// Fill clears the field matching selector and sets its value.
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	// Press sends a named key (e.g. "Enter") to the element matching selector.
	Press(ctx context.Context, selector, key string, timeout time.Duration) error
	// TypeText types text into whatever element currently has focus.
	TypeText(ctx context.Context, text string) error
	// ScrollTo sets the absolute viewport scroll offset.
	ScrollTo(ctx context.Context, x, y int) error
	// Screenshot captures the viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Evaluate runs a script and decodes its JSON result into res (may be nil).
	Evaluate(ctx context.Context, script string, res interface{}) error
	// CurrentURL returns the URL of the top-level document.
	CurrentURL(ctx context.Context) (string, error)
	// Title returns the document title.
	Title(ctx context.Context) (string, error)
	// Content returns the serialized outer HTML of the document.
	Content(ctx context.Context) (string, error)
}

// RecordingSurface extends a Driver with the hooks the recorder needs.
type RecordingSurface interface {
	Driver
	// AddBinding exposes a page function that forwards its string payload to fn.
	// The returned function removes the binding listener.
	AddBinding(ctx context.Context, name string, fn func(payload string)) (func(), error)
	// InjectScript evaluates source now and on every new document.
	InjectScript(ctx context.Context, source string) (func(), error)
	// OnTopLevelNavigation calls fn for navigations of the main frame only.
	// The returned function stops delivery.
	OnTopLevelNavigation(fn func(url string)) func()
}

// -- LLM Client Schemas & Interface --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, potentially less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, potentially slower model.
)

// GenerationOptions tunes a single generation call.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"` // Ask the provider for a JSON mime type.
	MaxTokens       int     `json:"max_tokens,omitempty"`
}

// ImagePart is an inline image attached to a prompt.
type ImagePart struct {
	MIMEType string
	Data     []byte
}

// GenerationRequest encapsulates a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Images       []ImagePart       `json:"-"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient abstracts the text generation provider.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	Close() error
}

// -- Planning & Vision Services --

// Planner is the planning/validation service consulted by the agent loop.
// Implementations never return an error for service trouble; they degrade to
// a fallback plan or a Degraded validation result instead.
type Planner interface {
	CreatePlan(ctx context.Context, req PlanRequest) *ExecutionPlan
	ValidateProgress(ctx context.Context, task string, obs *RichObservation) ValidationResult
}

// Grounder maps a screenshot and a textual description to pixel coordinates.
type Grounder interface {
	// Locate returns the element center, or found=false when the model reports
	// the element is not visible. err wraps ErrServiceUnavailable on transport trouble.
	Locate(ctx context.Context, screenshot []byte, description string) (p Point, found bool, err error)
	// Verify asks whether the screenshot satisfies the expectation.
	Verify(ctx context.Context, screenshot []byte, expectation string) (bool, error)
}

// -- Persistence --

// WorkflowStore persists recorded workflows.
type WorkflowStore interface {
	// Save stores wf, generating an id when wf.ID is empty, and returns the id.
	Save(ctx context.Context, wf *RecordedWorkflow) (string, error)
	// Load returns the workflow or an error wrapping ErrWorkflowNotFound.
	Load(ctx context.Context, id string) (*RecordedWorkflow, error)
	// List returns summaries, newest first.
	List(ctx context.Context) ([]WorkflowSummary, error)
	// Delete removes a workflow and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// UpdateMetadata changes name and/or description; empty values are left alone.
	UpdateMetadata(ctx context.Context, id, name, description string) error
	Close() error
}

// CheckpointStore keeps pause checkpoints. Take removes what it returns.
type CheckpointStore interface {
	Put(ctx context.Context, cp *Checkpoint) error
	Take(ctx context.Context, taskID string) (*Checkpoint, error)
}

// -- Observers --

// EventType names an agent notification.
type EventType string

const (
	EventPlanCreated  EventType = "plan_created"
	EventActionResult EventType = "action_result"
	EventStateChanged EventType = "state_changed"
	EventValidation   EventType = "validation"
	EventPaused       EventType = "agent_paused"
	EventResumed      EventType = "agent_resumed"
	EventTurnComplete EventType = "turn_complete"
)

// Event is a best-effort notification sent to observers.
type Event struct {
	Type    EventType   `json:"type"`
	TaskID  string      `json:"task_id,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	At      time.Time   `json:"at"`
}

// Observer receives agent events. Errors are logged by the caller and never
// stop the loop.
type Observer interface {
	Notify(ctx context.Context, ev Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event) error

func (f ObserverFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }
