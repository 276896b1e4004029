package cmd

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/agent"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/mocks"
	"github.com/KASPER94/browser-use-llm/internal/service"
)

func TestRunRecord(t *testing.T) {
	t.Run("stops on enter and saves", func(t *testing.T) {
		ctl, c := newTestController(t, searchPage())
		out := new(bytes.Buffer)

		err := runRecord(context.Background(), ctl, "https://books.test/", " Search ", "looks things up", strings.NewReader("\n"), out)
		require.NoError(t, err)
		assert.Contains(t, out.String(), "Recording.")
		assert.Contains(t, out.String(), `Saved workflow wf_`)
		assert.Contains(t, out.String(), `"Search"`)

		list, err := c.Workflows.List(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "looks things up", list[0].Description)
		assert.Equal(t, "https://books.test/", list[0].StartURL)
	})

	t.Run("cancellation still saves", func(t *testing.T) {
		ctl, c := newTestController(t, searchPage())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		time.AfterFunc(50*time.Millisecond, cancel)

		// A reader that never yields a line.
		blocked, w := io.Pipe()
		defer w.Close()

		err := runRecord(ctx, ctl, "", "interrupted", "", blocked, new(bytes.Buffer))
		require.NoError(t, err)

		list, err := c.Workflows.List(context.Background())
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "interrupted", list[0].Name)
	})

	t.Run("start failure", func(t *testing.T) {
		page := searchPage()
		page.SetFail("navigate", assert.AnError)
		ctl, _ := newTestController(t, page)

		err := runRecord(context.Background(), ctl, "https://books.test/", "", "", strings.NewReader("\n"), new(bytes.Buffer))
		assert.Error(t, err)
		assert.Equal(t, service.ActivityNone, ctl.Active())
	})
}

func TestRunPlay(t *testing.T) {
	t.Run("completed run", func(t *testing.T) {
		page := searchPage()
		ctl, c := newTestController(t, page)
		id, err := c.Workflows.Save(context.Background(), &schemas.RecordedWorkflow{Name: "search", Actions: []schemas.Action{
			schemas.NewNavigate("https://books.test/"),
			schemas.NewFill("#q", "${title}", nil),
		}})
		require.NoError(t, err)

		out := new(bytes.Buffer)
		err = runPlay(context.Background(), ctl, id, &playOptions{vars: map[string]string{"title": "Dune"}}, out)
		require.NoError(t, err)
		assert.Contains(t, out.String(), "Completed: 2 actions executed")
		assert.Equal(t, "Dune", page.ValueOf("#q"))
	})

	t.Run("json report", func(t *testing.T) {
		ctl, c := newTestController(t, searchPage())
		id, err := c.Workflows.Save(context.Background(), &schemas.RecordedWorkflow{Name: "nav", Actions: []schemas.Action{
			schemas.NewNavigate("https://books.test/"),
		}})
		require.NoError(t, err)

		out := new(bytes.Buffer)
		require.NoError(t, runPlay(context.Background(), ctl, id, &playOptions{asJSON: true}, out))
		var report schemas.RunReport
		require.NoError(t, json.Unmarshal(out.Bytes(), &report))
		assert.True(t, report.Success)
		assert.Equal(t, id, report.WorkflowID)
		assert.Equal(t, 1, report.ActionsExecuted)
	})

	t.Run("aborted run is an error", func(t *testing.T) {
		ctl, c := newTestController(t, searchPage())
		id, err := c.Workflows.Save(context.Background(), &schemas.RecordedWorkflow{Name: "broken", Actions: []schemas.Action{
			schemas.NewClick("#a", nil),
			schemas.NewClick("#b", nil),
			schemas.NewClick("#c", nil),
		}})
		require.NoError(t, err)

		out := new(bytes.Buffer)
		err = runPlay(context.Background(), ctl, id, &playOptions{}, out)
		assert.ErrorIs(t, err, schemas.ErrTooManyFailures)
		assert.Contains(t, out.String(), "Aborted:")
		assert.Contains(t, out.String(), "FAILED")
	})

	t.Run("unknown workflow", func(t *testing.T) {
		ctl, _ := newTestController(t, searchPage())
		err := runPlay(context.Background(), ctl, "wf_missing", &playOptions{}, new(bytes.Buffer))
		assert.ErrorIs(t, err, schemas.ErrWorkflowNotFound)
	})
}

func TestPlayCommand(t *testing.T) {
	wfDir := setupEnv(t)
	page := searchPage()
	useFakeBrowser(t, page)
	id := seedWorkflow(t, wfDir, "search",
		schemas.NewNavigate("https://books.test/"),
		schemas.NewFill("#q", "${title}", nil),
	)

	out, err := executeCommand(t, "play", id, "--var", "title=Neuromancer", "--headless")
	require.NoError(t, err)
	assert.Contains(t, out, "Completed: 2 actions executed")
	assert.Equal(t, "Neuromancer", page.ValueOf("#q"))
}

// newAgentController wires an agent around page and planner without an LLM.
func newAgentController(t *testing.T, page *mocks.FakePage, planner schemas.Planner, tweak ...func(*config.Config)) *service.Controller {
	t.Helper()
	cfg := testConfig(t)
	cfg.AgentCfg.ActionDelay = 0
	for _, fn := range tweak {
		fn(cfg)
	}
	logger := zaptest.NewLogger(t)
	c := &service.Components{
		Browser: page,
		Agent:   agent.New(page, planner, cfg, logger),
	}
	return service.NewController(c, logger)
}

func TestRunTask(t *testing.T) {
	t.Run("completes in one turn", func(t *testing.T) {
		planner := new(mocks.MockPlanner)
		planner.On("CreatePlan", mock.Anything, mock.Anything).
			Return(&schemas.ExecutionPlan{Reasoning: "press it", ProposedActions: []schemas.PlannedStep{
				{ActionText: `click('#go')`},
				{ActionText: `done('pressed go')`},
			}}).Once()
		planner.On("ValidateProgress", mock.Anything, mock.Anything, mock.Anything).
			Return(schemas.ValidationResult{}).Maybe()
		ctl := newAgentController(t, searchPage(), planner)

		out := new(bytes.Buffer)
		require.NoError(t, runTask(context.Background(), ctl, "press go", 3, out))
		assert.Contains(t, out.String(), "Turn 1 [DONE]")
		assert.Contains(t, out.String(), "Answer: pressed go")
		planner.AssertExpectations(t)
	})

	t.Run("turn limit", func(t *testing.T) {
		planner := new(mocks.MockPlanner)
		planner.On("CreatePlan", mock.Anything, mock.Anything).
			Return(&schemas.ExecutionPlan{Reasoning: "scroll", ProposedActions: []schemas.PlannedStep{
				{ActionText: `scroll('down')`},
			}})
		planner.On("ValidateProgress", mock.Anything, mock.Anything, mock.Anything).
			Return(schemas.ValidationResult{ProgressPercentage: 10, NextNeeded: "keep going"}).Maybe()
		ctl := newAgentController(t, searchPage(), planner, func(cfg *config.Config) {
			cfg.AgentCfg.MaxActionsPerTurn = 1
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := runTask(ctx, ctl, "scroll forever", 1, new(bytes.Buffer))
		assert.ErrorIs(t, err, ErrTurnLimit)
	})

	t.Run("planner unavailable", func(t *testing.T) {
		planner := new(mocks.MockPlanner)
		planner.On("CreatePlan", mock.Anything, mock.Anything).
			Return(nil)
		ctl := newAgentController(t, searchPage(), planner)

		err := runTask(context.Background(), ctl, "anything", 2, new(bytes.Buffer))
		assert.Error(t, err)
	})
}
