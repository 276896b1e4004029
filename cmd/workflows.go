// File: cmd/workflows.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KASPER94/browser-use-llm/internal/config"
	"github.com/KASPER94/browser-use-llm/internal/service"
	"github.com/KASPER94/browser-use-llm/internal/store"
)

// newWorkflowsCmd groups the commands that manage stored workflows. None of
// them start a browser.
func newWorkflowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflows",
		Aliases: []string{"wf"},
		Short:   "List, inspect, rename, delete, export and import recorded workflows",
	}
	cmd.AddCommand(
		newWorkflowsListCmd(),
		newWorkflowsShowCmd(),
		newWorkflowsRenameCmd(),
		newWorkflowsDeleteCmd(),
		newWorkflowsExportCmd(),
		newWorkflowsImportCmd(),
	)
	return cmd
}

// withStore runs fn with a controller that only has the workflow store.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, ctl *service.Controller, c *service.Components) error) error {
	return withComponents(cmd, 0, func(ctx context.Context, _ *config.Config, c *service.Components, logger *zap.Logger) error {
		return fn(ctx, service.NewController(c, logger), c)
	})
}

func newWorkflowsListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored workflows, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, ctl *service.Controller, _ *service.Components) error {
				list, err := ctl.ListWorkflows(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(list)
				}
				if len(list) == 0 {
					fmt.Fprintln(out, "No workflows recorded yet.")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tACTIONS\tDURATION\tCREATED\tSTART URL")
				for _, s := range list {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%.1fs\t%s\t%s\n",
						s.ID, s.Name, s.ActionCount, s.Duration, s.CreatedAt.Local().Format("2006-01-02 15:04"), s.StartURL)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the list as JSON")
	return cmd
}

func newWorkflowsShowCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Print a workflow with all of its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := store.ParseFormat(format)
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, ctl *service.Controller, _ *service.Components) error {
				wf, err := ctl.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}
				return store.Encode(cmd.OutOrStdout(), wf, f)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	return cmd
}

func newWorkflowsRenameCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "rename <workflow-id> <name>",
		Short: "Change the name (and optionally the description) of a workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[1])
			if name == "" && description == "" {
				return fmt.Errorf("nothing to update: name is empty and no --description given")
			}
			return withStore(cmd, func(ctx context.Context, ctl *service.Controller, _ *service.Components) error {
				wf, err := ctl.UpdateWorkflow(ctx, args[0], name, description)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s: %q\n", wf.ID, wf.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "New description")
	return cmd
}

func newWorkflowsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <workflow-id>...",
		Aliases: []string{"rm"},
		Short:   "Delete one or more workflows",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, ctl *service.Controller, _ *service.Components) error {
				for _, id := range args {
					if err := ctl.DeleteWorkflow(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
				}
				return nil
			})
		},
	}
}

func newWorkflowsExportCmd() *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <workflow-id>",
		Short: "Write a workflow to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" && output != "" {
				format = strings.TrimPrefix(filepath.Ext(output), ".")
			}
			f, err := store.ParseFormat(format)
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, ctl *service.Controller, _ *service.Components) error {
				wf, err := ctl.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					return store.Encode(cmd.OutOrStdout(), wf, f)
				}
				return writeFile(output, func(w io.Writer) error { return store.Encode(w, wf, f) })
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: json or yaml (default: from the file extension, else json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func newWorkflowsImportCmd() *cobra.Command {
	var format string
	var keepID bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a workflow exported as JSON or YAML",
		Long: `Reads a workflow file, validates every action and stores it. Legacy "goto"
actions are accepted as navigate. A new id is assigned unless --keep-id is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if format == "" {
				format = strings.TrimPrefix(filepath.Ext(path), ".")
			}
			f, err := store.ParseFormat(format)
			if err != nil {
				return err
			}
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer file.Close()

			wf, err := store.Decode(file, f)
			if err != nil {
				return fmt.Errorf("invalid workflow file %s: %w", path, err)
			}
			if !keepID {
				wf.ID = ""
			}
			return withStore(cmd, func(ctx context.Context, _ *service.Controller, c *service.Components) error {
				id, err := c.Workflows.Save(ctx, wf)
				if err != nil {
					return fmt.Errorf("failed to save workflow: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%q, %d actions)\n", id, wf.Name, len(wf.Actions))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Input format: json or yaml (default: from the file extension)")
	cmd.Flags().BoolVar(&keepID, "keep-id", false, "Keep the id stored in the file, overwriting a workflow with the same id")
	return cmd
}

// writeFile writes through a temp file and renames it into place.
func writeFile(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
