package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/loykin/nodesup/pkg/client"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "nodesup",
		Short: "Supervise a local node daemon",
		Long: `nodesup starts, stops and watches a local node daemon and reclaims
nodes left running by an earlier session.

Run 'nodesup serve' to start the supervisor; the other commands talk to it.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to config TOML file")
	root.PersistentFlags().StringVar(&globalFlags.APIUrl, "api-url", client.DefaultBaseURL, "nodesup API base URL")
	root.PersistentFlags().DurationVar(&globalFlags.APITimeout, "api-timeout", client.DefaultTimeout, "nodesup API request timeout")

	root.AddCommand(
		createServeCommand(globalFlags),
		createStartCommand(globalFlags),
		createStopCommand(globalFlags),
		createKillGhostsCommand(globalFlags),
		createStatusCommand(globalFlags),
		createProbeCommand(),
		createConfigCommand(globalFlags),
		createVersionCommand(),
	)
	return root
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the nodesup version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "nodesup %s (%s/%s, %s)\n", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
			return err
		},
	}
}
