// File: cmd/record.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/internal/browser/session"
	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/service"
)

const stopTimeout = 30 * time.Second

// newRecordCmd creates and configures the `record` command.
func newRecordCmd() *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:   "record [start-url]",
		Short: "Record what you do in the browser as a reusable workflow",
		Long: `Opens a browser (at start-url when given) and records clicks, form input,
navigation and scrolling until you press Enter. The workflow is then saved
to the configured store and can be replayed with 'play'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startURL := ""
			if len(args) == 1 {
				startURL = normalizeURL(args[0])
			}
			return withComponents(cmd, service.NeedBrowser, func(ctx context.Context, _ *config.Config, c *service.Components, logger *zap.Logger) error {
				ctl := service.NewController(c, logger)
				return runRecord(ctx, ctl, startURL, name, description, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Name of the workflow (default: a timestamped name)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description of the workflow")
	addBrowserFlags(cmd)
	return cmd
}

// runRecord records until a line is read from in or ctx is cancelled. An
// interrupted recording is still saved.
func runRecord(ctx context.Context, ctl *service.Controller, startURL, name, description string, in io.Reader, out io.Writer) error {
	if err := ctl.StartRecording(ctx, startURL); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	fmt.Fprintln(out, "Recording. Use the browser, then press Enter here to stop.")

	waitForLine(ctx, in)

	stopCtx, cancel := context.WithTimeout(session.Detach(ctx), stopTimeout)
	defer cancel()
	wf, err := ctl.StopRecording(stopCtx, name, description)
	if err != nil {
		return fmt.Errorf("failed to stop recording: %w", err)
	}

	fmt.Fprintf(out, "Saved workflow %s (%q, %d actions, %.1fs)\n", wf.ID, wf.Name, len(wf.Actions), wf.Duration)
	return nil
}

// waitForLine returns after one line of input, EOF or cancellation.
func waitForLine(ctx context.Context, in io.Reader) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bufio.NewReader(in).ReadString('\n')
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// normalizeURL adds https:// to bare hosts.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "://") || strings.HasPrefix(raw, "about:") {
		return raw
	}
	return "https://" + raw
}
