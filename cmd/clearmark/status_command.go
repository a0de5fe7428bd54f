package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				status, err := client.status(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Daemon running: %s\n", yesNo(status.Running))
				fmt.Fprintf(out, "Queue database: %s\n", status.QueueDBPath)
				fmt.Fprintln(out, renderTable(
					[]string{"Total", "Queued", "Running", "Succeeded", "Failed", "Cancelled"},
					[][]string{{
						fmt.Sprint(status.Queue.Total),
						fmt.Sprint(status.Queue.Queued),
						fmt.Sprint(status.Queue.Running),
						fmt.Sprint(status.Queue.Succeeded),
						fmt.Sprint(status.Queue.Failed),
						fmt.Sprint(status.Queue.Cancelled),
					}},
					[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
