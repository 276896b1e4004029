package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/llmutil"
	"github.com/KASPER94/browser-use-llm/internal/metrics"
)

// PlanningService turns observations into plans and progress verdicts. It
// never fails: model trouble degrades to a fallback plan or a Degraded
// validation result.
type PlanningService struct {
	client  schemas.LLMClient
	logger  *zap.Logger
	metrics *metrics.Collector
}

var _ schemas.Planner = (*PlanningService)(nil)

// NewPlanningService wraps an LLM client. m may be nil.
func NewPlanningService(client schemas.LLMClient, logger *zap.Logger, m *metrics.Collector) *PlanningService {
	return &PlanningService{client: client, logger: logger.Named("planner"), metrics: m}
}

// CreatePlan asks the powerful tier for a multi-step plan.
func (s *PlanningService) CreatePlan(ctx context.Context, req schemas.PlanRequest) *schemas.ExecutionPlan {
	obs := req.Observation
	if obs == nil {
		obs = &schemas.RichObservation{}
	}

	system := planSystemPromptHead + planTextActions
	if req.Structured {
		system = planSystemPromptHead + planStructuredActions
	}
	genReq := schemas.GenerationRequest{
		SystemPrompt: system,
		UserPrompt:   planUserPrompt(req, obs),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.3, ForceJSONFormat: true, MaxTokens: 1500},
	}
	if obs.HasScreenshot() {
		genReq.Images = []schemas.ImagePart{{MIMEType: "image/png", Data: obs.Screenshot}}
	}

	start := time.Now()
	raw, err := s.client.Generate(ctx, genReq)
	var plan *schemas.ExecutionPlan
	if err == nil {
		plan, err = llmutil.ParseJSONResponse[schemas.ExecutionPlan](raw)
	}
	s.metrics.RecordLLMRequest("plan", err, time.Since(start))
	if err != nil {
		s.logger.Error("Planning failed, using fallback plan.", zap.Error(err))
		return fallbackPlan(req.Task, obs.URL, err)
	}

	if plan.UserTask == "" {
		plan.UserTask = req.Task
	}
	plan.ProposedActions = dropEmptySteps(plan.ProposedActions)
	s.logger.Info("Plan created.",
		zap.Int("actions", len(plan.ProposedActions)),
		zap.String("reasoning", llmutil.Truncate(plan.Reasoning, 200)))
	return plan
}

// ValidateProgress asks the fast tier whether the task is done.
func (s *PlanningService) ValidateProgress(ctx context.Context, task string, obs *schemas.RichObservation) schemas.ValidationResult {
	if obs == nil {
		obs = &schemas.RichObservation{}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nCurrent State:\n- URL: %s\n- Title: %s\n", task, obs.URL, obs.Title)
	if obs.PageSummary != "" {
		fmt.Fprintf(&b, "\nPage content:\n%s\n", obs.PageSummary)
	}
	b.WriteString("\nIs the task complete?")

	start := time.Now()
	raw, err := s.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: validateSystemPrompt,
		UserPrompt:   b.String(),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true, MaxTokens: 200},
	})
	var v *schemas.ValidationResult
	if err == nil {
		v, err = llmutil.ParseJSONResponse[schemas.ValidationResult](raw)
	}
	s.metrics.RecordLLMRequest("validate", err, time.Since(start))
	if err != nil {
		s.logger.Warn("Validation failed, reporting degraded result.", zap.Error(err))
		return schemas.ValidationResult{NextNeeded: "Continue", Degraded: true}
	}
	v.ProgressPercentage = clamp(v.ProgressPercentage, 0, 100)
	s.logger.Info("Progress validated.", zap.Int("progress", v.ProgressPercentage), zap.Bool("complete", v.IsComplete))
	return *v
}

func planUserPrompt(req schemas.PlanRequest, obs *schemas.RichObservation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nCurrent State:\n- URL: %s\n- Title: %s\n- Has screenshot: %t\n", req.Task, obs.URL, obs.Title, obs.HasScreenshot())
	if obs.PageSummary != "" {
		fmt.Fprintf(&b, "\nPage content:\n%s\n", obs.PageSummary)
	}

	b.WriteString("\nExecution History:\n")
	if len(req.History) == 0 {
		b.WriteString("No previous actions\n")
	} else {
		b.WriteString(strings.Join(req.History, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\nChallenges:\n")
	if len(req.Challenges) == 0 {
		b.WriteString("No major challenges identified\n")
	} else {
		b.WriteString(strings.Join(req.Challenges, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\nCreate a detailed plan to accomplish this task.")
	return b.String()
}

// fallbackPlan re-anchors on the current page so the next round starts from
// a known state.
func fallbackPlan(task, url string, cause error) *schemas.ExecutionPlan {
	p := &schemas.ExecutionPlan{
		UserTask:            task,
		CurrentStateSummary: "At " + url,
		Challenges:          cause.Error(),
		Reasoning:           "Fallback: simple navigation",
		Fallback:            true,
	}
	if url != "" && url != "about:blank" {
		p.ProposedActions = []schemas.PlannedStep{{
			ActionText: fmt.Sprintf("goto('%s')", url),
			Type:       "navigate",
			URL:        url,
			Reasoning:  "Fallback action",
		}}
	}
	return p
}

func dropEmptySteps(steps []schemas.PlannedStep) []schemas.PlannedStep {
	out := steps[:0]
	for _, s := range steps {
		if strings.TrimSpace(s.ActionText) == "" && strings.TrimSpace(s.Type) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func clamp(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
