package agent

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
)

// Pause asks the running turn to stop before its next action, waits for it
// to let go of the driver and snapshots the task. The user may then drive
// the page by hand until Resume.
func (a *Agent) Pause(ctx context.Context) (*schemas.Checkpoint, error) {
	a.mu.Lock()
	if a.task == nil {
		a.mu.Unlock()
		return nil, ErrNoTask
	}
	a.paused = true
	a.mu.Unlock()

	if err := a.acquire(ctx); err != nil {
		return nil, fmt.Errorf("waiting for the running turn to stop: %w", err)
	}
	defer a.release()

	url, err := a.driver.CurrentURL(ctx)
	if err != nil {
		a.logger.Warn("Could not read URL for checkpoint.", zap.Error(err))
	}

	a.mu.Lock()
	t := a.task
	cp := &schemas.Checkpoint{
		TaskID:         t.ID,
		UserTask:       t.UserTask,
		URL:            url,
		CurrentPlan:    t.Plan.Clone(),
		History:        tail(t.History, a.cfg.CheckpointHistory),
		IterationCount: t.Iteration,
		CreatedAt:      a.now(),
	}
	a.checkpoint = cp
	a.mu.Unlock()

	if a.checkpoints != nil {
		if err := a.checkpoints.Put(ctx, cp); err != nil {
			a.logger.Warn("Could not persist checkpoint, keeping it in memory.", zap.Error(err))
		}
	}

	a.transition(StatePaused)
	a.logger.Info("Agent paused.", zap.String("url", url), zap.Int("iteration", cp.IterationCount))
	a.emit(schemas.EventPaused, cp.TaskID, "Agent paused. You can now interact with the browser.", cp)
	return cp, nil
}

// Resume restores the paused task against whatever page the user left and
// always plans afresh, since the page may have changed under the old plan.
func (a *Agent) Resume(ctx context.Context) (*schemas.ExecutionPlan, error) {
	a.mu.Lock()
	if !a.paused {
		a.mu.Unlock()
		return nil, schemas.ErrNotPaused
	}
	mem := a.checkpoint
	a.mu.Unlock()

	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	defer a.release()

	cp := mem
	if a.checkpoints != nil && mem != nil {
		stored, err := a.checkpoints.Take(ctx, mem.TaskID)
		switch {
		case err == nil:
			cp = stored
		case errors.Is(err, schemas.ErrCheckpointNotFound):
			a.logger.Debug("No stored checkpoint, using the in-memory copy.", zap.String("task_id", mem.TaskID))
		default:
			a.logger.Warn("Could not load checkpoint, using the in-memory copy.", zap.Error(err))
		}
	}
	if cp == nil {
		return nil, schemas.ErrNotPaused
	}

	userTask := cp.UserTask
	if userTask == "" && cp.CurrentPlan != nil {
		userTask = cp.CurrentPlan.UserTask
	}
	if userTask == "" {
		userTask = continueTask
	}

	a.mu.Lock()
	t := a.task
	if t == nil || t.ID != cp.TaskID {
		t = &Task{ID: cp.TaskID}
		a.task = t
	}
	t.UserTask = userTask
	t.Plan = nil
	t.History = append([]schemas.ActionHistoryEntry(nil), cp.History...)
	t.Iteration = cp.IterationCount
	a.paused = false
	a.checkpoint = nil
	a.mu.Unlock()

	a.reset()
	obs := a.observe(ctx, t)
	a.mu.Lock()
	t.Notes = append(t.Notes, fmt.Sprintf("[PAUSE] User took manual control. Resumed at %s", obs.URL))
	a.mu.Unlock()

	plan, err := a.plan(ctx, t, obs, "resume")
	if err != nil {
		a.transition(StateFailed)
		return nil, err
	}
	a.transition(StateIdle)

	msg := fmt.Sprintf("Agent resumed. New plan: %d actions to execute.", len(plan.ProposedActions))
	a.logger.Info(msg, zap.String("url", obs.URL))
	a.emit(schemas.EventResumed, t.ID, msg, plan)
	return plan, nil
}

func tail(h []schemas.ActionHistoryEntry, n int) []schemas.ActionHistoryEntry {
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]schemas.ActionHistoryEntry(nil), h...)
}
