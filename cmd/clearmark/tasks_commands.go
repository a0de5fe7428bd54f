package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"clearmark/internal/queue"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage queued tasks",
	}

	tasksCmd.AddCommand(newTasksListCommand(ctx))
	tasksCmd.AddCommand(newTasksShowCommand(ctx))
	tasksCmd.AddCommand(newTasksSubmitCommand(ctx))
	tasksCmd.AddCommand(newTasksCancelCommand(ctx))
	tasksCmd.AddCommand(newTasksClearCommand(ctx))

	return tasksCmd
}

func newTasksListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				tasks, err := client.listTasks(cmd.Context(), statusFilter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(tasks) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}

				title := cases.Title(language.English)
				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					rows = append(rows, []string{
						task.ID,
						title.String(task.Status),
						fmt.Sprintf("%.0f%%", task.ProgressPercent),
						task.SourcePath,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Status", "Progress", "Source"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&statusFilter, "status", "s", "", "Comma-separated status filter (queued, running, succeeded, failed, cancelled)")
	return cmd
}

func newTasksShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show TASK_ID",
		Short: "Show the full record for one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				task, err := client.task(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printTask(cmd, task)
				return nil
			})
		},
	}
}

func newTasksSubmitCommand(ctx *commandContext) *cobra.Command {
	var outputPath string
	var wait bool

	cmd := &cobra.Command{
		Use:   "submit INPUT",
		Short: "Submit a file to the daemon for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := strings.TrimSpace(outputPath)
			if output == "" {
				return fmt.Errorf("--output is required")
			}
			return ctx.withClient(func(client *apiClient) error {
				id, err := client.submit(cmd.Context(), args[0], output)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted task %s\n", id)
				if !wait {
					return nil
				}
				task, err := waitTerminal(cmd, client, id)
				if err != nil {
					return err
				}
				printTask(cmd, task)
				if task.Status != string(queue.StatusSucceeded) {
					return &exitError{code: 2}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path on the daemon host")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the task reaches a terminal state")
	return cmd
}

func newTasksCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Request cancellation of a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				if err := client.cancel(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
				return nil
			})
		},
	}
}

func newTasksClearCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished tasks from the queue database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open task store: %w", err)
			}
			defer store.Close()

			var removed int64
			if all {
				removed, err = store.Clear(cmd.Context())
			} else {
				removed, err = store.ClearTerminal(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d tasks\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every task, not just finished ones")
	return cmd
}

func printTask(cmd *cobra.Command, task taskRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task:     %s\n", task.ID)
	fmt.Fprintf(out, "Status:   %s\n", task.Status)
	fmt.Fprintf(out, "Source:   %s\n", task.SourcePath)
	fmt.Fprintf(out, "Output:   %s\n", task.OutputPath)
	fmt.Fprintf(out, "Progress: %.0f%% %s\n", task.ProgressPercent, task.ProgressMessage)
	if task.TotalFrames > 0 {
		fmt.Fprintf(out, "Frames:   %d total, %d inpainted, %d detector errors, %d inpaint errors\n",
			task.TotalFrames, task.InpaintedFrames, task.DetectorErrors, task.InpaintErrors)
	}
	if task.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", task.Error)
	}
	if task.StartedAt != "" {
		fmt.Fprintf(out, "Started:  %s\n", task.StartedAt)
	}
	if task.FinishedAt != "" {
		fmt.Fprintf(out, "Finished: %s\n", task.FinishedAt)
	}
}

func waitTerminal(cmd *cobra.Command, client *apiClient, id string) (taskRecord, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		task, err := client.task(cmd.Context(), id)
		if err != nil {
			return taskRecord{}, err
		}
		if status, ok := queue.ParseStatus(task.Status); ok && queue.IsTerminal(status) {
			return task, nil
		}
		select {
		case <-cmd.Context().Done():
			return taskRecord{}, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}
