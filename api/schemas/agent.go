package schemas

import "time"

// -- Agent Loop Schemas --

// PlannedStep is one entry of a plan's action queue. The planner may return
// either a structured action (Type and friends) or free-form ActionText; the
// agent prefers the structured form and falls back to parsing the text.
type PlannedStep struct {
	ActionText string `json:"action,omitempty"`
	Reasoning  string `json:"reasoning"`

	// Structured form.
	Type     string `json:"type,omitempty"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	URL      string `json:"url,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ExecutionPlan is the planner's answer for one planning round. The agent
// owns it for the duration of a task and replaces it wholesale on replan.
type ExecutionPlan struct {
	UserTask                string        `json:"user_task"`
	ExecutionHistorySummary string        `json:"execution_history"`
	CurrentStateSummary     string        `json:"current_state"`
	Challenges              string        `json:"challenges_identified"`
	Reasoning               string        `json:"step_by_step_reasoning"`
	ProposedActions         []PlannedStep `json:"proposed_actions"`
	TaskComplete            bool          `json:"task_complete"`
	FinalAnswer             string        `json:"final_answer"`

	// Fallback is set when the plan was synthesized locally because the
	// planning service failed.
	Fallback bool `json:"fallback,omitempty"`
}

// Empty reports whether the plan has no queued actions.
func (p *ExecutionPlan) Empty() bool {
	return p == nil || len(p.ProposedActions) == 0
}

// Pop removes and returns the head of the action queue.
func (p *ExecutionPlan) Pop() (PlannedStep, bool) {
	if p.Empty() {
		return PlannedStep{}, false
	}
	step := p.ProposedActions[0]
	p.ProposedActions = p.ProposedActions[1:]
	return step, true
}

// Clone returns a deep copy so a checkpoint can't be mutated by the live loop.
func (p *ExecutionPlan) Clone() *ExecutionPlan {
	if p == nil {
		return nil
	}
	c := *p
	c.ProposedActions = append([]PlannedStep(nil), p.ProposedActions...)
	return &c
}

// ActionHistoryEntry is appended after every executed step.
type ActionHistoryEntry struct {
	Action    string    `json:"action"`
	Reasoning string    `json:"reasoning"`
	Result    string    `json:"result"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"` // Structured error code when Error is set.
	At        time.Time `json:"at"`
}

// Failed reports whether the entry denotes a failure.
func (e ActionHistoryEntry) Failed() bool { return e.Error != "" }

// Checkpoint captures the loop state at pause. It is consumed exactly once
// by resume and then discarded.
type Checkpoint struct {
	TaskID         string               `json:"task_id"`
	UserTask       string               `json:"user_task"`
	URL            string               `json:"url"`
	CurrentPlan    *ExecutionPlan       `json:"current_plan,omitempty"`
	History        []ActionHistoryEntry `json:"history"`
	IterationCount int                  `json:"iteration_count"`
	CreatedAt      time.Time            `json:"created_at"`
}

// RichObservation is a fresh snapshot of the page taken before every planning
// decision. It is never persisted or shared across tasks.
type RichObservation struct {
	Screenshot      []byte `json:"-"`
	URL             string `json:"url"`
	Title           string `json:"title"`
	PageSummary     string `json:"page_summary,omitempty"` // Bounded markdown rendering of the page.
	LastAction      string `json:"last_action,omitempty"`
	LastActionError string `json:"last_action_error,omitempty"`
}

// HasScreenshot reports whether a screenshot was captured.
func (o *RichObservation) HasScreenshot() bool { return o != nil && len(o.Screenshot) > 0 }

// ValidationResult is the validation service's view on task completion.
type ValidationResult struct {
	IsComplete         bool   `json:"is_complete"`
	ProgressPercentage int    `json:"progress_percentage"`
	NextNeeded         string `json:"next_needed"`

	// Degraded is set when the service could not be reached and the result is
	// a locally decided fallback.
	Degraded bool `json:"-"`
}

// PlanRequest carries everything the planning service needs to build a plan.
type PlanRequest struct {
	Task        string
	History     []string // Bounded window of recent execution history, oldest first.
	Observation *RichObservation
	Challenges  []string
	Structured  bool // Ask for the structured action schema instead of free text.
}
