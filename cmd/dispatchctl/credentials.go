package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newCredentialsCommand(client *apiClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored target-site credentials",
	}
	cmd.AddCommand(newCredentialsTestCommand(client))
	return cmd
}

func newCredentialsTestCommand(client *apiClient) *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "test <user_id>",
		Short: "Verify a user's stored credential still logs into the target site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			path := fmt.Sprintf("/credentials/%s/test?user_id=%s", service, userID)
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
	cmd.Flags().StringVar(&service, "service", "targetsite", "target service name the credential is stored under")
	return cmd
}
