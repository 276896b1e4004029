package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/browser/pagetext"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/metrics"
)

var (
	// ErrNoTask is returned by Continue when no task was ever started.
	ErrNoTask = errors.New("no task to continue")
	// ErrPaused is returned by Continue while the agent waits for Resume.
	ErrPaused = errors.New("agent is paused")
)

const continueTask = "Continue the task"

// Task is the mutable control-loop state of one user task. The loop passes
// it by reference; a Checkpoint is a trimmed copy of it.
type Task struct {
	ID        string
	UserTask  string
	Plan      *schemas.ExecutionPlan
	History   []schemas.ActionHistoryEntry
	Notes     []string // "action → result" lines fed back to the planner.
	Iteration int
}

func (t *Task) lastEntry() *schemas.ActionHistoryEntry {
	if len(t.History) == 0 {
		return nil
	}
	return &t.History[len(t.History)-1]
}

// ReplanReason says why the task needs a new plan, or "" when the current
// plan can go on. Checked in order: last action failed, stuck loop, periodic
// replan, exhausted plan.
func (t *Task) ReplanReason(interval, loopThreshold int) string {
	if last := t.lastEntry(); last != nil && last.Failed() {
		return "last action failed"
	}
	if IsStuck(t.History, loopThreshold) {
		return "stuck loop"
	}
	if interval > 0 && t.Iteration%interval == 0 {
		return "periodic replan"
	}
	if t.Plan.Empty() {
		return "plan exhausted"
	}
	return ""
}

// IsStuck reports whether the last n history entries repeat the same action.
func IsStuck(history []schemas.ActionHistoryEntry, n int) bool {
	if n < 2 || len(history) < n {
		return false
	}
	tail := history[len(history)-n:]
	for _, e := range tail[1:] {
		if e.Action != tail[0].Action {
			return false
		}
	}
	return true
}

// TurnResult summarizes one call to Run or Continue.
type TurnResult struct {
	TaskID          string     `json:"task_id"`
	State           AgentState `json:"state"`
	ActionsExecuted int        `json:"actions_executed"`
	Messages        []string   `json:"messages"`
	Reasoning       string     `json:"reasoning,omitempty"`
	Completed       bool       `json:"completed"`
	FinalAnswer     string     `json:"final_answer,omitempty"`
	Progress        int        `json:"progress,omitempty"`
	Summary         string     `json:"summary"`
	Error           string     `json:"error,omitempty"`
}

// PlanCreated is the payload of a plan_created event.
type PlanCreated struct {
	Reasoning      string `json:"reasoning"`
	ActionsPlanned int    `json:"actions_planned"`
	Fallback       bool   `json:"fallback"`
	Trigger        string `json:"trigger"`
}

// Agent drives a browser towards a natural-language goal with a
// plan / execute / validate / replan loop. One task runs at a time; the
// driver is owned by whichever turn is running.
type Agent struct {
	driver      schemas.Driver
	planner     schemas.Planner
	grounder    schemas.Grounder
	checkpoints schemas.CheckpointStore
	cfg         config.AgentConfig
	playerCfg   config.PlayerConfig
	netCfg      config.NetworkConfig
	logger      *zap.Logger
	metrics     *metrics.Collector
	observers   *Broadcaster
	now         func() time.Time

	// owner is a one-slot semaphore held by whoever is using the driver.
	owner chan struct{}

	mu         sync.Mutex
	state      AgentState
	task       *Task
	paused     bool
	checkpoint *schemas.Checkpoint
}

// Option configures an Agent.
type Option func(*Agent)

// WithCheckpointStore persists pause checkpoints outside the process.
func WithCheckpointStore(s schemas.CheckpointStore) Option {
	return func(a *Agent) { a.checkpoints = s }
}

// WithGrounder enables visual grounding as the last resolution step.
func WithGrounder(g schemas.Grounder) Option {
	return func(a *Agent) { a.grounder = g }
}

// WithMetrics records loop metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates an idle agent.
func New(driver schemas.Driver, planner schemas.Planner, cfg config.Interface, logger *zap.Logger, opts ...Option) *Agent {
	logger = logger.Named("agent")
	a := &Agent{
		driver:    driver,
		planner:   planner,
		cfg:       cfg.Agent(),
		playerCfg: cfg.Player(),
		netCfg:    cfg.Network(),
		logger:    logger,
		observers: NewBroadcaster(logger),
		now:       time.Now,
		owner:     make(chan struct{}, 1),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Observers returns the broadcaster events are sent through.
func (a *Agent) Observers() *Broadcaster { return a.observers }

// State returns the current loop state.
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Paused reports whether the agent waits for Resume.
func (a *Agent) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

// Run starts a new task and executes one turn of it. A paused task is
// discarded. Returns ErrAgentBusy while another turn is running.
func (a *Agent) Run(ctx context.Context, userTask string) (*TurnResult, error) {
	if strings.TrimSpace(userTask) == "" {
		return nil, fmt.Errorf("%w: empty task", schemas.ErrActionParse)
	}
	if a.driver == nil || a.planner == nil {
		return nil, schemas.ErrNotInitialized
	}
	if !a.tryAcquire() {
		return nil, schemas.ErrAgentBusy
	}
	defer a.release()

	a.mu.Lock()
	if a.paused {
		a.logger.Info("New task supersedes the paused one.")
		a.paused = false
		a.checkpoint = nil
	}
	a.task = &Task{ID: uuid.NewString(), UserTask: userTask}
	a.mu.Unlock()

	a.logger.Info("Agent received task.", zap.String("task", userTask))
	return a.turn(ctx)
}

// Continue executes another turn of the current task, typically right after
// Resume.
func (a *Agent) Continue(ctx context.Context) (*TurnResult, error) {
	if !a.tryAcquire() {
		return nil, schemas.ErrAgentBusy
	}
	defer a.release()

	a.mu.Lock()
	task, paused := a.task, a.paused
	a.mu.Unlock()
	switch {
	case task == nil:
		return nil, ErrNoTask
	case paused:
		return nil, ErrPaused
	}
	return a.turn(ctx)
}

func (a *Agent) turn(ctx context.Context) (*TurnResult, error) {
	a.reset()
	t := a.currentTask()
	res := &TurnResult{TaskID: t.ID, Messages: []string{}}

	maxActions := a.cfg.MaxActionsPerTurn
	if maxActions <= 0 {
		maxActions = 10
	}
	for res.ActionsExecuted < maxActions {
		if res.ActionsExecuted > 0 {
			if err := pause(ctx, a.cfg.ActionDelay); err != nil {
				return a.fail(res, t, err)
			}
		}
		if a.Paused() {
			a.transition(StatePaused)
			a.logger.Info("Pause honoured between actions.", zap.Int("executed", res.ActionsExecuted))
			break
		}
		if err := ctx.Err(); err != nil {
			return a.fail(res, t, err)
		}

		obs := a.observe(ctx, t)
		if reason := t.ReplanReason(a.cfg.ReplanInterval, a.cfg.LoopThreshold); reason != "" {
			plan, err := a.plan(ctx, t, obs, reason)
			if err != nil {
				return a.fail(res, t, err)
			}
			if res.Reasoning == "" {
				res.Reasoning = plan.Reasoning
			}
		}

		if t.Plan.Empty() {
			if t.Plan != nil && t.Plan.TaskComplete {
				a.complete(res, t.Plan.FinalAnswer)
			} else if res.ActionsExecuted == 0 {
				res.Messages = append(res.Messages, "No actions to execute, task might be complete.")
			}
			break
		}

		step, _ := t.Plan.Pop()
		a.transition(StateExecuting)
		cmd, entry, execErr := a.execute(ctx, step, res.ActionsExecuted+1)
		a.record(t, entry)
		res.ActionsExecuted++
		res.Messages = append(res.Messages, entry.Result)
		a.metrics.RecordAgentIteration(!entry.Failed())
		a.emit(schemas.EventActionResult, t.ID, entry.Result, entry)

		if execErr != nil && fatal(execErr) {
			return a.fail(res, t, execErr)
		}
		if cmd.Kind == KindDone && !entry.Failed() {
			a.complete(res, firstNonEmpty(t.Plan.FinalAnswer, cmd.Text, "Task completed"))
			break
		}
		if a.cfg.ValidateInterval > 0 && t.Iteration%a.cfg.ValidateInterval == 0 {
			if a.validate(ctx, t, res) {
				break
			}
		}
	}

	if s := a.State(); !s.Terminal() && s != StatePaused {
		a.transition(StateIdle)
	}
	return a.finish(res), nil
}

func (a *Agent) finish(res *TurnResult) *TurnResult {
	res.State = a.State()
	res.Summary = summarize(res)
	a.logger.Info("Agent turn finished.", zap.String("state", string(res.State)), zap.Int("executed", res.ActionsExecuted))
	a.emit(schemas.EventTurnComplete, res.TaskID, res.Summary, res)
	return res
}

// fail ends the turn in FAILED and annotates the last attempted action so a
// later plan sees what went wrong.
func (a *Agent) fail(res *TurnResult, t *Task, err error) (*TurnResult, error) {
	a.mu.Lock()
	if last := t.lastEntry(); last != nil {
		last.Error = err.Error()
		if last.Code == "" {
			last.Code = string(ErrCodeExecutionFailure)
		}
	}
	a.mu.Unlock()
	a.logger.Error("Agent turn failed.", zap.Error(err))
	a.transition(StateFailed)
	res.Error = err.Error()
	return a.finish(res), err
}

func (a *Agent) complete(res *TurnResult, answer string) {
	a.transition(StateDone)
	res.Completed = true
	res.FinalAnswer = answer
}

func (a *Agent) record(t *Task, e schemas.ActionHistoryEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t.History = append(t.History, e)
	t.Notes = append(t.Notes, fmt.Sprintf("%s → %s", e.Action, truncate(e.Result, 100)))
	t.Iteration++
}

// observe takes a fresh snapshot. Every part is optional; failures are
// logged and leave the field empty.
func (a *Agent) observe(ctx context.Context, t *Task) *schemas.RichObservation {
	obs := &schemas.RichObservation{}
	var err error
	if obs.Screenshot, err = a.driver.Screenshot(ctx); err != nil {
		a.logger.Debug("Observation without screenshot.", zap.Error(err))
	}
	if obs.URL, err = a.driver.CurrentURL(ctx); err != nil {
		a.logger.Debug("Observation without URL.", zap.Error(err))
	}
	if obs.Title, err = a.driver.Title(ctx); err != nil {
		a.logger.Debug("Observation without title.", zap.Error(err))
	}
	if html, err := a.driver.Content(ctx); err == nil && html != "" {
		if obs.PageSummary, err = pagetext.Summarize(html, a.cfg.PageSummaryLimit); err != nil {
			a.logger.Debug("Could not summarize page.", zap.Error(err))
		}
	}
	a.mu.Lock()
	if last := t.lastEntry(); last != nil {
		obs.LastAction = last.Action
		obs.LastActionError = last.Error
	}
	a.mu.Unlock()
	return obs
}

func (a *Agent) plan(ctx context.Context, t *Task, obs *schemas.RichObservation, trigger string) (*schemas.ExecutionPlan, error) {
	if t.Plan == nil {
		a.transition(StatePlanning)
	} else {
		a.transition(StateReplanning)
	}
	a.logger.Info("Creating plan.", zap.String("trigger", trigger), zap.Int("iteration", t.Iteration))

	var challenges []string
	if obs.LastActionError != "" {
		challenges = append(challenges, "Last action failed: "+obs.LastActionError)
	}
	if trigger == "stuck loop" {
		challenges = append(challenges, fmt.Sprintf("The action %q was repeated %d times without progress, try something else", obs.LastAction, a.cfg.LoopThreshold))
	}
	if a.cfg.IterationWarning > 0 && t.Iteration > a.cfg.IterationWarning {
		challenges = append(challenges, fmt.Sprintf("Already %d iterations, need to be efficient", t.Iteration))
	}

	plan := a.planner.CreatePlan(ctx, schemas.PlanRequest{
		Task:        t.UserTask,
		History:     window(t.Notes, a.cfg.HistoryWindow),
		Observation: obs,
		Challenges:  challenges,
		Structured:  a.cfg.StructuredActions,
	})
	if plan == nil {
		return nil, fmt.Errorf("%w: planner returned no plan", schemas.ErrServiceUnavailable)
	}

	a.mu.Lock()
	t.Plan = plan
	a.mu.Unlock()

	a.logger.Info("Plan created.", zap.Int("actions", len(plan.ProposedActions)), zap.Bool("fallback", plan.Fallback))
	a.emit(schemas.EventPlanCreated, t.ID, plan.Reasoning, PlanCreated{
		Reasoning:      plan.Reasoning,
		ActionsPlanned: len(plan.ProposedActions),
		Fallback:       plan.Fallback,
		Trigger:        trigger,
	})
	return plan, nil
}

// validate asks whether the task is complete and reports whether the turn
// should end. A degraded answer is decided by the configured policy.
func (a *Agent) validate(ctx context.Context, t *Task, res *TurnResult) bool {
	a.transition(StateValidating)
	v := a.planner.ValidateProgress(ctx, t.UserTask, a.observe(ctx, t))
	complete := v.IsComplete
	if v.Degraded {
		complete = a.cfg.ValidationFailurePolicy != config.FailClosed
		a.logger.Warn("Validation service unavailable, applying policy.",
			zap.String("policy", string(a.cfg.ValidationFailurePolicy)), zap.Bool("complete", complete))
	}
	res.Progress = v.ProgressPercentage
	a.logger.Info("Progress validated.", zap.Int("progress", v.ProgressPercentage), zap.Bool("complete", complete))
	a.emit(schemas.EventValidation, t.ID, v.NextNeeded, v)

	if !complete {
		return false
	}
	res.Messages = append(res.Messages, "Task validated as complete!")
	a.mu.Lock()
	answer := ""
	if t.Plan != nil {
		answer = t.Plan.FinalAnswer
	}
	a.mu.Unlock()
	a.complete(res, answer)
	return true
}

// execute runs one planned step. The returned error is non-nil when the
// step failed; the entry always describes the outcome.
func (a *Agent) execute(ctx context.Context, step schemas.PlannedStep, n int) (cmd Command, entry schemas.ActionHistoryEntry, err error) {
	cmd = ParseStep(step)
	entry = schemas.ActionHistoryEntry{Action: cmd.Redacted(), Reasoning: step.Reasoning, At: a.now()}
	a.logger.Info(fmt.Sprintf("[%d] Executing planned action.", n),
		zap.String("action", entry.Action), zap.String("reasoning", step.Reasoning))

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Panic recovered while executing action.", zap.Any("panic_value", r), zap.Stack("stack"))
			err = fmt.Errorf("panic while executing %s: %v", cmd.Kind, r)
			entry.Code = string(ErrCodeExecutorPanic)
		}
		if err != nil {
			entry.Error = err.Error()
			if entry.Code == "" {
				entry.Code = string(ErrCodeExecutionFailure)
			}
			entry.Result = fmt.Sprintf("[%d] %s", n, entry.Error)
		}
	}()

	if cmd.ParseErr != nil {
		entry.Code = string(ErrCodeParseError)
		return cmd, entry, cmd.ParseErr
	}

	switch cmd.Kind {
	case KindNavigate:
		if err := a.driver.Navigate(ctx, cmd.URL, schemas.WaitNetworkIdle, a.netCfg.NavigationTimeout); err != nil {
			entry.Code = string(classify(err, ErrCodeNavigationError))
			return cmd, entry, fmt.Errorf("navigation to %s failed: %w", cmd.URL, err)
		}
		entry.Result = fmt.Sprintf("[%d] Navigated to %s", n, cmd.URL)
	case KindClick:
		r, err := a.click(ctx, cmd.Target)
		if err != nil {
			entry.Code = string(classify(err, ErrCodeExecutionFailure))
			return cmd, entry, err
		}
		entry.Result = fmt.Sprintf("[%d] Clicked %s", n, describeHow(r, cmd.Target))
	case KindFill:
		r, err := a.fill(ctx, cmd.Target, cmd.Value)
		if err != nil {
			entry.Code = string(classify(err, ErrCodeExecutionFailure))
			return cmd, entry, err
		}
		entry.Result = fmt.Sprintf("[%d] %s", n, fillResult(r, cmd.Target, cmd.Value))
	case KindScroll:
		dy := scrollDelta(cmd.Value)
		if err := a.driver.Evaluate(ctx, fmt.Sprintf("window.scrollBy(0, %d)", dy), nil); err != nil {
			entry.Code = string(classify(err, ErrCodeExecutionFailure))
			return cmd, entry, err
		}
		entry.Result = fmt.Sprintf("[%d] Scrolled by %d pixels", n, dy)
	case KindMessage:
		entry.Result = fmt.Sprintf("[%d] %s", n, firstNonEmpty(cmd.Text, "Message action"))
	case KindDone:
		entry.Result = "Task complete!"
	case KindRead:
		entry.Code = string(ErrCodeNotImplemented)
		return cmd, entry, fmt.Errorf("action %q requires page scraping, which is not supported", cmd.Describe())
	default:
		entry.Code = string(ErrCodeUnknownAction)
		return cmd, entry, fmt.Errorf("unknown action type: %q", cmd.Describe())
	}
	return cmd, entry, nil
}

func (a *Agent) emit(typ schemas.EventType, taskID, msg string, data interface{}) {
	_ = a.observers.Notify(context.Background(), schemas.Event{
		Type:    typ,
		TaskID:  taskID,
		Message: msg,
		Data:    data,
		At:      a.now(),
	})
}

func (a *Agent) currentTask() *Task {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.task
}

func (a *Agent) taskIDLocked() string {
	if a.task == nil {
		return ""
	}
	return a.task.ID
}

func (a *Agent) tryAcquire() bool {
	select {
	case a.owner <- struct{}{}:
		return true
	default:
		return false
	}
}

func (a *Agent) acquire(ctx context.Context) error {
	select {
	case a.owner <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) release() { <-a.owner }

// pause waits d after an action or until ctx ends.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func window(lines []string, n int) []string {
	if n <= 0 || len(lines) <= n {
		return append([]string(nil), lines...)
	}
	return append([]string(nil), lines[len(lines)-n:]...)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func summarize(res *TurnResult) string {
	var parts []string
	if res.ActionsExecuted > 0 {
		parts = append(parts, fmt.Sprintf("Executed %d actions.", res.ActionsExecuted))
		tail := res.Messages
		if len(tail) > 3 {
			tail = tail[len(tail)-3:]
		}
		parts = append(parts, tail...)
	} else if len(res.Messages) > 0 {
		parts = append(parts, res.Messages...)
	} else {
		parts = append(parts, "No actions executed.")
	}
	if res.Completed && res.FinalAnswer != "" {
		parts = append(parts, res.FinalAnswer)
	}
	if res.Error != "" {
		parts = append(parts, "Error: "+res.Error)
	}
	return strings.Join(parts, "\n\n")
}
