package schemas

import "errors"

// Error taxonomy shared by the recorder, player, agent and storage layers.
// Callers classify failures with errors.Is; concrete errors wrap one of these.
var (
	// ErrNotInitialized means there is no active page to operate on.
	ErrNotInitialized = errors.New("browser session not initialized")
	// ErrActionParse means a recorded or planned action is malformed.
	ErrActionParse = errors.New("malformed action")
	// ErrResolutionExhausted means every resolution strategy failed for an action.
	ErrResolutionExhausted = errors.New("all resolution strategies exhausted")
	// ErrServiceUnavailable means the planning or vision service was unreachable
	// or returned something unusable.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrWorkflowNotFound is returned by stores when an id has no workflow.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrTooManyFailures marks a replay aborted after the failure threshold.
	ErrTooManyFailures = errors.New("too many failed actions")
	// ErrAgentBusy is returned when a second task is started while one is active.
	ErrAgentBusy = errors.New("a task is already running on this session")
	// ErrNotPaused is returned by Resume when there is no pause checkpoint.
	ErrNotPaused = errors.New("agent is not paused")
	// ErrElementNotFound is returned by drivers when no element matches within the timeout.
	ErrElementNotFound = errors.New("element not found")
	// ErrCheckpointNotFound is returned by checkpoint stores on a miss.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
