// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/internal/agent"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/service"
)

// ErrTurnLimit is returned when a task is still open after --max-turns turns.
var ErrTurnLimit = errors.New("turn limit reached before the task completed")

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var maxTurns int

	cmd := &cobra.Command{
		Use:   "run <task...>",
		Short: "Let the agent carry out a task in the browser",
		Long: `Plans, executes and validates the task described in plain language, replanning
from fresh observations until the task is done, fails or --max-turns is
reached.`,
		Example: `  browser-use-llm run "search for go books on books.test and open the first result"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.Join(args, " ")
			return withComponents(cmd, service.NeedAgent, func(ctx context.Context, _ *config.Config, c *service.Components, logger *zap.Logger) error {
				ctl := service.NewController(c, logger)
				return runTask(ctx, ctl, task, maxTurns, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().IntVar(&maxTurns, "max-turns", 10, "Maximum number of agent turns")
	addBrowserFlags(cmd)
	return cmd
}

// runTask drives turns until the task completes, reaches a terminal state or
// runs out of turns.
func runTask(ctx context.Context, ctl *service.Controller, task string, maxTurns int, out io.Writer) error {
	if maxTurns < 1 {
		maxTurns = 1
	}

	res, err := ctl.RunTask(ctx, task)
	for turn := 1; ; turn++ {
		if err != nil {
			return err
		}
		printTurn(out, turn, res)

		if res.Completed {
			return nil
		}
		if res.State.Terminal() {
			if res.Error != "" {
				return fmt.Errorf("task %s: %s", res.State, res.Error)
			}
			return fmt.Errorf("task ended in state %s", res.State)
		}
		if turn >= maxTurns {
			return fmt.Errorf("%w (%d turns)", ErrTurnLimit, maxTurns)
		}
		res, err = ctl.ContinueTask(ctx)
	}
}

func printTurn(out io.Writer, turn int, res *agent.TurnResult) {
	fmt.Fprintf(out, "Turn %d [%s] %s\n", turn, res.State, res.Summary)
	for _, m := range res.Messages {
		fmt.Fprintf(out, "  > %s\n", m)
	}
	if res.FinalAnswer != "" {
		fmt.Fprintf(out, "Answer: %s\n", res.FinalAnswer)
	}
}
