package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newJobsCommand(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control queued automation jobs",
	}
	cmd.AddCommand(newJobsStatusCommand(client), newJobsCancelCommand(client))
	return cmd
}

func newJobsStatusCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show a job's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/automation/queue/jobs/%s", args[0])
			resp, err := client.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			var job map[string]interface{}
			if err := client.decode(resp, &job); err != nil {
				return err
			}
			return prettyPrint(job)
		},
	}
}

func newJobsCancelCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job_id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/automation/queue/jobs/%s/cancel", args[0])
			resp, err := client.do(cmd.Context(), http.MethodPost, path, nil)
			if err != nil {
				return err
			}
			var result map[string]interface{}
			if err := client.decode(resp, &result); err != nil {
				return err
			}
			return prettyPrint(result)
		},
	}
}
