// File: cmd/logs.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

// newLogsCmd creates and configures the `logs` command.
func newLogsCmd() *cobra.Command {
	var (
		file   string
		lines  int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print (and optionally follow) the rotating log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				cfg, err := getConfigFromContext(cmd.Context())
				if err != nil {
					return err
				}
				file = cfg.Logger().LogFile
			}
			if file == "" {
				return errors.New("file logging is disabled; set logger.log_file or pass --file")
			}
			return showLogs(cmd.Context(), file, lines, follow, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Log file to read (default from config: logger.log_file)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print (0 for all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing lines as they are written")
	return cmd
}

// showLogs prints the last n lines of path, then keeps following it across
// rotations when follow is set.
func showLogs(ctx context.Context, path string, n int, follow bool, out io.Writer) error {
	last, err := lastLines(path, n)
	if err != nil {
		return err
	}
	for _, l := range last {
		fmt.Fprintln(out, l)
	}
	if !follow {
		return nil
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow log file: %w", err)
	}
	defer func() {
		t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			fmt.Fprintln(out, line.Text)
		}
	}
}

// lastLines reads path to the end keeping the final n lines in a ring.
func lastLines(path string, n int) ([]string, error) {
	t, err := tail.TailFile(path, tail.Config{
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer t.Cleanup()

	var ring []string
	next := 0
	for line := range t.Lines {
		if line.Err != nil {
			return nil, line.Err
		}
		switch {
		case n <= 0 || len(ring) < n:
			ring = append(ring, line.Text)
		default:
			ring[next] = line.Text
			next = (next + 1) % n
		}
	}
	if n > 0 && len(ring) == n {
		ring = append(ring[next:], ring[:next]...)
	}
	return ring, nil
}
