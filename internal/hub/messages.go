package hub

import (
	"time"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

// Inbound message types.
const (
	TypeUserMessage    = "user_message"
	TypeStartRecording = "start_recording"
	TypeStopRecording  = "stop_recording"
	TypeListWorkflows  = "list_workflows"
	TypeGetWorkflow    = "get_workflow"
	TypePlayWorkflow   = "play_workflow"
	TypeDeleteWorkflow = "delete_workflow"
	TypeUpdateWorkflow = "update_workflow"
	TypePauseAgent     = "pause_agent"
	TypeResumeAgent    = "resume_agent"
)

// Outbound message types.
const (
	TypeAgentMessage     = "agent_message"
	TypeAgentThinking    = "agent_thinking"
	TypeAgentPaused      = "agent_paused"
	TypeAgentResumed     = "agent_resumed"
	TypeRecordingStarted = "recording_started"
	TypeRecordingStopped = "recording_stopped"
	TypeWorkflowList     = "workflow_list"
	TypeWorkflow         = "workflow"
	TypeWorkflowResult   = "workflow_result"
	TypeError            = "error"
)

// Inbound is a command sent by a UI client. Only the fields relevant to Type
// are set.
type Inbound struct {
	Type        string            `json:"type"`
	RequestID   string            `json:"request_id,omitempty"`
	Content     string            `json:"content,omitempty"`
	WorkflowID  string            `json:"workflow_id,omitempty"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	StartURL    string            `json:"start_url,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
}

// Outbound is sent to UI clients, either as a reply or as a broadcast.
type Outbound struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	TaskID    string      `json:"task_id,omitempty"`
	Content   string      `json:"content,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	At        time.Time   `json:"at"`
}

// FromEvent maps an agent event to the message a UI renders.
func FromEvent(ev schemas.Event) Outbound {
	out := Outbound{TaskID: ev.TaskID, Content: ev.Message, Data: ev.Data, At: ev.At}
	switch ev.Type {
	case schemas.EventPaused:
		out.Type = TypeAgentPaused
	case schemas.EventResumed:
		out.Type = TypeAgentResumed
	case schemas.EventActionResult, schemas.EventTurnComplete:
		out.Type = TypeAgentMessage
	default:
		out.Type = TypeAgentThinking
	}
	if out.At.IsZero() {
		out.At = time.Now()
	}
	return out
}
