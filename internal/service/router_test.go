package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/agent"
	"github.com/KASPER94/browser-use-llm/internal/hub"
	"github.com/KASPER94/browser-use-llm/internal/mocks"
)

// replies collects what the router sends back.
type replies []hub.Outbound

func (r *replies) add(out hub.Outbound) { *r = append(*r, out) }

func (r replies) types() []string {
	out := make([]string, len(r))
	for i, o := range r {
		out[i] = o.Type
	}
	return out
}

func newTestRouter(t *testing.T, planner schemas.Planner) (*Router, *Components) {
	t.Helper()
	ctl, c := newTestController(t, shopPage(), planner)
	return NewRouter(ctl, zaptest.NewLogger(t)), c
}

func TestRouter_RecordingRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter(t, nil)
	var got replies

	require.NoError(t, r.HandleMessage(ctx, hub.Inbound{Type: hub.TypeStartRecording, RequestID: "1", StartURL: "https://shop.test/"}, got.add))
	require.NoError(t, r.HandleMessage(ctx, hub.Inbound{Type: hub.TypeStopRecording, RequestID: "2", Name: "Books"}, got.add))
	require.NoError(t, r.HandleMessage(ctx, hub.Inbound{Type: hub.TypeListWorkflows, RequestID: "3"}, got.add))

	require.Equal(t, []string{hub.TypeRecordingStarted, hub.TypeRecordingStopped, hub.TypeWorkflowList}, got.types())
	assert.Equal(t, "2", got[1].RequestID)
	summary, ok := got[1].Data.(schemas.WorkflowSummary)
	require.True(t, ok)
	assert.Equal(t, "Books", summary.Name)
	assert.NotEmpty(t, summary.ID)

	list, ok := got[2].Data.([]schemas.WorkflowSummary)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, summary.ID, list[0].ID)
}

func TestRouter_WorkflowCommands(t *testing.T) {
	ctx := context.Background()
	r, c := newTestRouter(t, nil)
	id, err := c.Workflows.Save(ctx, &schemas.RecordedWorkflow{
		Name:    "go",
		Actions: []schemas.Action{schemas.NewNavigate("https://shop.test/"), schemas.NewClick("#go", nil)},
	})
	require.NoError(t, err)

	var got replies
	require.NoError(t, r.HandleMessage(ctx, hub.Inbound{Type: hub.TypeGetWorkflow, WorkflowID: id}, got.add))
	require.NoError(t, r.HandleMessage(ctx, hub.Inbound{Type: hub.TypePlayWorkflow, WorkflowID: id}, got.add))
	require.NoError(t, r.HandleMessage(ctx, hub.Inbound{Type: hub.TypeUpdateWorkflow, WorkflowID: id, Name: "renamed"}, got.add))
	require.NoError(t, r.HandleMessage(ctx, hub.Inbound{Type: hub.TypeDeleteWorkflow, WorkflowID: id}, got.add))

	require.Equal(t, []string{hub.TypeWorkflow, hub.TypeWorkflowResult, hub.TypeWorkflow, hub.TypeWorkflowList}, got.types())

	report, ok := got[1].Data.(*schemas.RunReport)
	require.True(t, ok)
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.ActionsExecuted)
	assert.Equal(t, "Workflow completed: 2 actions executed", got[1].Content)

	assert.Equal(t, "renamed", got[2].Data.(*schemas.RecordedWorkflow).Name)
	assert.Empty(t, got[3].Data)
}

func TestRouter_Errors(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter(t, nil)
	noReply := func(out hub.Outbound) { t.Fatalf("unexpected reply %+v", out) }

	tests := []struct {
		name string
		msg  hub.Inbound
		want error
		text string
	}{
		{name: "EmptyTask", msg: hub.Inbound{Type: hub.TypeUserMessage, Content: "  "}, want: ErrMissingField},
		{name: "GetWithoutID", msg: hub.Inbound{Type: hub.TypeGetWorkflow}, want: ErrMissingField},
		{name: "PlayWithoutID", msg: hub.Inbound{Type: hub.TypePlayWorkflow}, want: ErrMissingField},
		{name: "DeleteMissing", msg: hub.Inbound{Type: hub.TypeDeleteWorkflow, WorkflowID: "wf_deadbeef"}, want: schemas.ErrWorkflowNotFound},
		{name: "PlayMissing", msg: hub.Inbound{Type: hub.TypePlayWorkflow, WorkflowID: "wf_deadbeef"}, want: schemas.ErrWorkflowNotFound},
		{name: "NoAgent", msg: hub.Inbound{Type: hub.TypeUserMessage, Content: "do it"}, want: schemas.ErrNotInitialized},
		{name: "Unknown", msg: hub.Inbound{Type: "reset"}, text: `unknown message type: "reset"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.HandleMessage(ctx, tt.msg, noReply)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			if tt.text != "" {
				assert.EqualError(t, err, tt.text)
			}
		})
	}
}

func TestRouter_UserMessageRunsAgent(t *testing.T) {
	planner := new(mocks.MockPlanner)
	planner.On("CreatePlan", mock.Anything, mock.MatchedBy(func(req schemas.PlanRequest) bool {
		return req.Task == "press go"
	})).Return(samplePlan(`click('#go')`, `done('pressed')`)).Once()
	r, _ := newTestRouter(t, planner)

	var got replies
	require.NoError(t, r.HandleMessage(context.Background(), hub.Inbound{Type: hub.TypeUserMessage, RequestID: "r1", Content: "press go"}, got.add))

	require.Equal(t, []string{hub.TypeAgentMessage}, got.types())
	res, ok := got[0].Data.(*agent.TurnResult)
	require.True(t, ok)
	assert.True(t, res.Completed)
	assert.Equal(t, res.TaskID, got[0].TaskID)
	assert.Equal(t, "r1", got[0].RequestID)
	planner.AssertExpectations(t)
}

func TestRouter_StructuredCommandInsideUserMessage(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	var got replies

	msg := hub.Inbound{Type: hub.TypeUserMessage, RequestID: "outer", Content: `{"type":"list_workflows"}`}
	require.NoError(t, r.HandleMessage(context.Background(), msg, got.add))

	require.Equal(t, []string{hub.TypeWorkflowList}, got.types())
	assert.Equal(t, "outer", got[0].RequestID)
}

func TestUnwrapCommand(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "PlainText", content: "book a flight", want: hub.TypeUserMessage},
		{name: "Command", content: `{"type":"play_workflow","workflow_id":"wf_1"}`, want: hub.TypePlayWorkflow},
		{name: "JSONWithoutType", content: `{"task":"x"}`, want: hub.TypeUserMessage},
		{name: "Broken", content: `{"type":`, want: hub.TypeUserMessage},
		{name: "NestedUserMessage", content: `{"type":"user_message","content":"hi"}`, want: hub.TypeUserMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := unwrapCommand(hub.Inbound{Type: hub.TypeUserMessage, Content: tt.content})
			assert.Equal(t, tt.want, got.Type)
		})
	}

	got := unwrapCommand(hub.Inbound{Type: hub.TypeUserMessage, Content: `{"type":"get_workflow","workflow_id":"wf_1"}`})
	assert.Equal(t, "wf_1", got.WorkflowID)
}

func TestPlaySummary(t *testing.T) {
	assert.Equal(t, "Workflow aborted: too many", playSummary(&schemas.RunReport{Aborted: true, AbortReason: "too many"}))
	assert.Equal(t, "Workflow finished with 1 failed actions", playSummary(&schemas.RunReport{ActionsFailed: 1}))
}
