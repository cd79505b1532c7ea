package main

import (
	"net/http"

	"github.com/spf13/cobra"
)

func newQueueCommand(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the job queue",
	}
	cmd.AddCommand(newQueueStatusCommand(client))
	return cmd
}

func newQueueStatusCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, resource utilization, and browser pool usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.do(cmd.Context(), http.MethodGet, "/automation/queue/status", nil)
			if err != nil {
				return err
			}
			var status map[string]interface{}
			if err := client.decode(resp, &status); err != nil {
				return err
			}
			return prettyPrint(status)
		},
	}
}
