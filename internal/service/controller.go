// File: internal/service/controller.go
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/agent"
	"github.com/KASPER94/browser-use-llm/internal/recorder"
)

// Activity names what currently owns the browser.
type Activity string

const (
	ActivityNone      Activity = ""
	ActivityRecording Activity = "recording"
	ActivityPlayback  Activity = "playback"
	ActivityAgent     Activity = "agent"
)

// Controller serializes use of one browser session: a recording, a replay
// and an agent turn never overlap. Workflow management calls only touch the
// store and may run at any time.
type Controller struct {
	c      *Components
	logger *zap.Logger

	mu     sync.Mutex
	active Activity
}

// NewController wraps built components.
func NewController(c *Components, logger *zap.Logger) *Controller {
	return &Controller{c: c, logger: logger.Named("controller")}
}

// Active reports what currently holds the browser.
func (s *Controller) Active() Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Controller) begin(a Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != ActivityNone {
		return fmt.Errorf("%w: %s in progress", schemas.ErrAgentBusy, s.active)
	}
	s.active = a
	return nil
}

func (s *Controller) end() {
	s.mu.Lock()
	s.active = ActivityNone
	s.mu.Unlock()
}

// StartRecording begins capturing user actions. The browser stays reserved
// until StopRecording.
func (s *Controller) StartRecording(ctx context.Context, startURL string) error {
	if s.c.Recorder == nil {
		return schemas.ErrNotInitialized
	}
	if err := s.begin(ActivityRecording); err != nil {
		return err
	}
	if err := s.c.Recorder.Start(ctx, startURL); err != nil {
		s.end()
		return err
	}
	return nil
}

// StopRecording ends the capture, applies the optional name and description
// and persists the workflow.
func (s *Controller) StopRecording(ctx context.Context, name, description string) (*schemas.RecordedWorkflow, error) {
	if s.c.Recorder == nil {
		return nil, schemas.ErrNotInitialized
	}
	if s.Active() != ActivityRecording {
		return nil, recorder.ErrNotRecording
	}
	wf, err := s.c.Recorder.Stop(ctx)
	s.end()
	if err != nil {
		return nil, err
	}

	if name = strings.TrimSpace(name); name != "" {
		wf.Name = name
	}
	if description != "" {
		wf.Description = description
	}
	id, err := s.c.Workflows.Save(ctx, wf)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}
	wf.ID = id
	s.logger.Info("Workflow saved.", zap.String("workflow_id", id), zap.Int("actions", len(wf.Actions)))
	return wf, nil
}

// PlayWorkflow loads and replays a stored workflow.
func (s *Controller) PlayWorkflow(ctx context.Context, id string, vars map[string]string) (*schemas.RunReport, error) {
	if s.c.Player == nil {
		return nil, schemas.ErrNotInitialized
	}
	wf, err := s.c.Workflows.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.begin(ActivityPlayback); err != nil {
		return nil, err
	}
	defer s.end()
	return s.c.Player.Play(ctx, wf, vars)
}

// RunTask starts a new agent task and runs its first turn.
func (s *Controller) RunTask(ctx context.Context, task string) (*agent.TurnResult, error) {
	if s.c.Agent == nil {
		return nil, schemas.ErrNotInitialized
	}
	if err := s.begin(ActivityAgent); err != nil {
		return nil, err
	}
	defer s.end()
	return s.c.Agent.Run(ctx, task)
}

// ContinueTask runs another turn of the current agent task.
func (s *Controller) ContinueTask(ctx context.Context) (*agent.TurnResult, error) {
	if s.c.Agent == nil {
		return nil, schemas.ErrNotInitialized
	}
	if err := s.begin(ActivityAgent); err != nil {
		return nil, err
	}
	defer s.end()
	return s.c.Agent.Continue(ctx)
}

// Pause interrupts the running agent turn. It does not reserve the browser;
// the running turn holds it and hands it over between actions.
func (s *Controller) Pause(ctx context.Context) (*schemas.Checkpoint, error) {
	if s.c.Agent == nil {
		return nil, schemas.ErrNotInitialized
	}
	return s.c.Agent.Pause(ctx)
}

// Resume re-plans the paused task from the current page and then runs a
// turn of the new plan. The plan is returned even when the turn fails.
func (s *Controller) Resume(ctx context.Context) (*schemas.ExecutionPlan, *agent.TurnResult, error) {
	if s.c.Agent == nil {
		return nil, nil, schemas.ErrNotInitialized
	}
	if err := s.begin(ActivityAgent); err != nil {
		return nil, nil, err
	}
	defer s.end()

	plan, err := s.c.Agent.Resume(ctx)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.c.Agent.Continue(ctx)
	return plan, res, err
}

// ListWorkflows returns stored workflow summaries, newest first.
func (s *Controller) ListWorkflows(ctx context.Context) ([]schemas.WorkflowSummary, error) {
	return s.c.Workflows.List(ctx)
}

// GetWorkflow loads one workflow.
func (s *Controller) GetWorkflow(ctx context.Context, id string) (*schemas.RecordedWorkflow, error) {
	return s.c.Workflows.Load(ctx, id)
}

// DeleteWorkflow removes a workflow; a missing id is ErrWorkflowNotFound.
func (s *Controller) DeleteWorkflow(ctx context.Context, id string) error {
	existed, err := s.c.Workflows.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("%w: %s", schemas.ErrWorkflowNotFound, id)
	}
	return nil
}

// UpdateWorkflow renames or re-describes a workflow and returns it.
func (s *Controller) UpdateWorkflow(ctx context.Context, id, name, description string) (*schemas.RecordedWorkflow, error) {
	if err := s.c.Workflows.UpdateMetadata(ctx, id, name, description); err != nil {
		return nil, err
	}
	return s.c.Workflows.Load(ctx, id)
}
