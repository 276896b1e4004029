package agent

import (
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

// AgentState is a position in the plan/execute/validate loop.
type AgentState string

const (
	StateIdle       AgentState = "IDLE"
	StatePlanning   AgentState = "PLANNING"
	StateExecuting  AgentState = "EXECUTING"
	StateValidating AgentState = "VALIDATING"
	StateReplanning AgentState = "REPLANNING"
	StatePaused     AgentState = "PAUSED"
	StateDone       AgentState = "DONE"
	StateFailed     AgentState = "FAILED"
)

// Terminal reports whether the state ends a turn for good.
func (s AgentState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// StateChange is the payload of a state_changed event.
type StateChange struct {
	From AgentState `json:"from"`
	To   AgentState `json:"to"`
}

// transition moves the agent to next and reports whether it moved. Terminal
// states cannot be left until the next turn resets the machine.
func (a *Agent) transition(next AgentState) bool {
	a.mu.Lock()
	prev := a.state
	switch {
	case prev == next:
		a.mu.Unlock()
		return false
	case prev.Terminal():
		a.mu.Unlock()
		a.logger.Warn("Attempted to transition out of a terminal state. Ignoring.",
			zap.String("current_state", string(prev)),
			zap.String("attempted_state", string(next)))
		return false
	}
	a.state = next
	taskID := a.taskIDLocked()
	a.mu.Unlock()

	a.logger.Debug("Agent state transition", zap.String("from", string(prev)), zap.String("to", string(next)))
	a.metrics.RecordStateTransition(string(prev), string(next))
	a.emit(schemas.EventStateChanged, taskID, "", StateChange{From: prev, To: next})
	return true
}

// reset returns the machine to IDLE at the start of a turn, leaving any
// terminal state from the previous turn behind.
func (a *Agent) reset() {
	a.mu.Lock()
	prev := a.state
	a.state = StateIdle
	a.mu.Unlock()
	if prev != StateIdle {
		a.metrics.RecordStateTransition(string(prev), string(StateIdle))
	}
}
