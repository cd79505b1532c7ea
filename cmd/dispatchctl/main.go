// Command dispatchctl is a thin operator CLI over the dispatcher HTTP
// API, grounded on the pack's spf13/cobra command-tree idiom (one
// newXCommand() per subcommand, registered onto a root command).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	client := &apiClient{}

	root := &cobra.Command{
		Use:           "dispatchctl",
		Short:         "Operate the dispenser-calibration automation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&client.baseURL, "server", "http://localhost:8080", "dispatcher server base URL")
	root.PersistentFlags().StringVar(&client.token, "token", os.Getenv("DISPATCHER_TOKEN"), "bearer token (defaults to $DISPATCHER_TOKEN)")

	root.AddCommand(
		newQueueCommand(client),
		newCredentialsCommand(client),
		newJobsCommand(client),
	)
	return root
}
