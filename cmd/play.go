// File: cmd/play.go
package cmd

import (
	"context"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/api/schemas"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type playOptions struct {
	vars   map[string]string
	asJSON bool
}

// newPlayCmd creates and configures the `play` command.
func newPlayCmd() *cobra.Command {
	opts := &playOptions{}

	cmd := &cobra.Command{
		Use:   "play <workflow-id>",
		Short: "Replay a recorded workflow",
		Long: `Replays a stored workflow action by action. Each element is resolved through
the fallback cascade (selector, text, aria-label, role and position, smart
link matching and, when enabled, vision grounding). Fill values may contain
${name} placeholders, substituted from --var name=value.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, service.NeedBrowser, func(ctx context.Context, _ *config.Config, c *service.Components, logger *zap.Logger) error {
				ctl := service.NewController(c, logger)
				return runPlay(ctx, ctl, args[0], opts, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringToStringVar(&opts.vars, "var", nil, "Variable substituted into ${name} placeholders (repeatable)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the run report as JSON")
	cmd.Flags().Bool("vision", false, "Use the vision model as the last resolution strategy. (Overrides config/env)")
	addBrowserFlags(cmd)
	return cmd
}

// runPlay replays one workflow and prints the report. An aborted run is an
// error; individual failed actions are not.
func runPlay(ctx context.Context, ctl *service.Controller, id string, opts *playOptions, out io.Writer) error {
	report, err := ctl.PlayWorkflow(ctx, id, opts.vars)
	if err != nil {
		return fmt.Errorf("failed to play workflow %s: %w", id, err)
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if report.Aborted {
		return fmt.Errorf("%w: %s", schemas.ErrTooManyFailures, report.AbortReason)
	}
	return nil
}

func printReport(out io.Writer, r *schemas.RunReport) {
	for _, s := range r.Steps {
		mark := "ok"
		if !s.Success {
			mark = "FAILED"
		}
		strategy := s.Strategy
		if strategy == "" {
			strategy = "-"
		}
		fmt.Fprintf(out, "  %3d  %-9s %-14s %-7s %s\n", s.Index+1, s.Type, strategy, mark, s.Duration.Round(1e6))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  action %d %s: %s\n", e.Index+1, e.Action.Describe(), e.Error)
	}
	switch {
	case r.Aborted:
		fmt.Fprintf(out, "Aborted: %s\n", r.AbortReason)
	case r.Success:
		fmt.Fprintf(out, "Completed: %d actions executed\n", r.ActionsExecuted)
	default:
		fmt.Fprintf(out, "Finished: %d executed, %d failed\n", r.ActionsExecuted, r.ActionsFailed)
	}
}
