// File: internal/service/router.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/hub"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMissingField is returned when a command lacks a required field.
var ErrMissingField = errors.New("missing required field")

// Router turns UI commands into controller calls.
type Router struct {
	ctl    *Controller
	logger *zap.Logger
	now    func() time.Time
}

var _ hub.Handler = (*Router)(nil)

// NewRouter creates the command router for the serve command.
func NewRouter(ctl *Controller, logger *zap.Logger) *Router {
	return &Router{ctl: ctl, logger: logger.Named("router"), now: time.Now}
}

// HandleMessage dispatches one inbound command. Errors are turned into an
// error reply by the hub.
func (r *Router) HandleMessage(ctx context.Context, msg hub.Inbound, reply func(hub.Outbound)) error {
	if msg.Type == hub.TypeUserMessage {
		msg = unwrapCommand(msg)
	}
	r.logger.Debug("Handling command.", zap.String("type", msg.Type), zap.String("request_id", msg.RequestID))

	send := func(typ, content string, data interface{}) {
		reply(hub.Outbound{Type: typ, RequestID: msg.RequestID, Content: content, Data: data, At: r.now()})
	}

	switch msg.Type {
	case hub.TypeUserMessage:
		task := strings.TrimSpace(msg.Content)
		if task == "" {
			return fmt.Errorf("%w: content", ErrMissingField)
		}
		res, err := r.ctl.RunTask(ctx, task)
		if err != nil {
			return err
		}
		reply(hub.Outbound{Type: hub.TypeAgentMessage, RequestID: msg.RequestID, TaskID: res.TaskID, Content: res.Summary, Data: res, At: r.now()})

	case hub.TypePauseAgent:
		cp, err := r.ctl.Pause(ctx)
		if err != nil {
			return err
		}
		reply(hub.Outbound{Type: hub.TypeAgentPaused, RequestID: msg.RequestID, TaskID: cp.TaskID,
			Content: "Agent paused - you have manual control", Data: cp, At: r.now()})

	case hub.TypeResumeAgent:
		plan, res, err := r.ctl.Resume(ctx)
		if plan != nil {
			send(hub.TypeAgentResumed, fmt.Sprintf("Agent resumed. New plan: %d actions to execute.", len(plan.ProposedActions)), plan)
		}
		if err != nil {
			return err
		}
		reply(hub.Outbound{Type: hub.TypeAgentMessage, RequestID: msg.RequestID, TaskID: res.TaskID, Content: res.Summary, Data: res, At: r.now()})

	case hub.TypeStartRecording:
		if err := r.ctl.StartRecording(ctx, msg.StartURL); err != nil {
			return err
		}
		send(hub.TypeRecordingStarted, "Recording started", nil)

	case hub.TypeStopRecording:
		wf, err := r.ctl.StopRecording(ctx, msg.Name, msg.Description)
		if err != nil {
			return err
		}
		send(hub.TypeRecordingStopped, fmt.Sprintf("Saved %q with %d actions", wf.Name, len(wf.Actions)), wf.Summary())

	case hub.TypeListWorkflows:
		list, err := r.ctl.ListWorkflows(ctx)
		if err != nil {
			return err
		}
		send(hub.TypeWorkflowList, "", list)

	case hub.TypeGetWorkflow:
		if msg.WorkflowID == "" {
			return fmt.Errorf("%w: workflow_id", ErrMissingField)
		}
		wf, err := r.ctl.GetWorkflow(ctx, msg.WorkflowID)
		if err != nil {
			return err
		}
		send(hub.TypeWorkflow, "", wf)

	case hub.TypePlayWorkflow:
		if msg.WorkflowID == "" {
			return fmt.Errorf("%w: workflow_id", ErrMissingField)
		}
		report, err := r.ctl.PlayWorkflow(ctx, msg.WorkflowID, msg.Variables)
		if err != nil && report == nil {
			return err
		}
		send(hub.TypeWorkflowResult, playSummary(report), report)

	case hub.TypeDeleteWorkflow:
		if msg.WorkflowID == "" {
			return fmt.Errorf("%w: workflow_id", ErrMissingField)
		}
		if err := r.ctl.DeleteWorkflow(ctx, msg.WorkflowID); err != nil {
			return err
		}
		list, err := r.ctl.ListWorkflows(ctx)
		if err != nil {
			return err
		}
		send(hub.TypeWorkflowList, "Deleted "+msg.WorkflowID, list)

	case hub.TypeUpdateWorkflow:
		if msg.WorkflowID == "" {
			return fmt.Errorf("%w: workflow_id", ErrMissingField)
		}
		wf, err := r.ctl.UpdateWorkflow(ctx, msg.WorkflowID, msg.Name, msg.Description)
		if err != nil {
			return err
		}
		send(hub.TypeWorkflow, "Updated "+msg.WorkflowID, wf)

	default:
		return fmt.Errorf("unknown message type: %q", msg.Type)
	}
	return nil
}

// unwrapCommand lets a chat client send a structured command as the text of
// a user message.
func unwrapCommand(msg hub.Inbound) hub.Inbound {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "{") {
		return msg
	}
	var inner hub.Inbound
	if err := json.Unmarshal([]byte(content), &inner); err != nil || inner.Type == "" || inner.Type == hub.TypeUserMessage {
		return msg
	}
	if inner.RequestID == "" {
		inner.RequestID = msg.RequestID
	}
	return inner
}

func playSummary(r *schemas.RunReport) string {
	switch {
	case r.Aborted:
		return "Workflow aborted: " + r.AbortReason
	case r.Success:
		return fmt.Sprintf("Workflow completed: %d actions executed", r.ActionsExecuted)
	default:
		return fmt.Sprintf("Workflow finished with %d failed actions", r.ActionsFailed)
	}
}
