package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/nodesup/internal/node"
	"github.com/loykin/nodesup/internal/tequilapi"
	"github.com/loykin/nodesup/pkg/client"
)

// apiClient returns a client for the daemon and fails fast when it is down.
func apiClient(ctx context.Context, f *GlobalFlags) (*client.Client, error) {
	c := client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
	if !c.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'nodesup serve'", f.APIUrl)
	}
	return c, nil
}

func createStartCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the node through the daemon",
		Example: `  nodesup start
  nodesup start --port 4449`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context(), globalFlags)
			if err != nil {
				return err
			}
			resp, err := c.StartNode(cmd.Context(), flags.Port)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.Port, "port", 0, "control-plane port (default: daemon's node.port)")
	return cmd
}

func createStopCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the node through the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context(), globalFlags)
			if err != nil {
				return err
			}
			resp, err := c.StopNode(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func createKillGhostsCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "kill-ghosts",
		Short: "Stop nodes left running on the known ports by an earlier session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context(), globalFlags)
			if err != nil {
				return err
			}
			resp, err := c.KillGhosts(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func createStatusCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the supervised node's state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd.Context(), globalFlags)
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

// probeResult is what probe prints for one port.
type probeResult struct {
	Port      int               `json:"port"`
	Reachable bool              `json:"reachable"`
	Health    *tequilapi.Health `json:"health,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func createProbeCommand() *cobra.Command {
	flags := &ProbeFlags{}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Query a node's health endpoint directly, without the daemon",
		Long: `Probe calls GET /healthcheck on a node's control plane and prints the
payload. It never stops anything; use kill-ghosts for that.`,
		Example: `  nodesup probe
  nodesup probe --port 4050 --timeout 500ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printJSON(cmd.OutOrStdout(), runProbe(cmd.Context(), *flags))
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.Port, "port", node.DefaultPort, "control-plane port")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", time.Second, "health check timeout")
	return cmd
}

func runProbe(ctx context.Context, f ProbeFlags) probeResult {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	res := probeResult{Port: f.Port}
	h, err := tequilapi.ForPort(f.Port, f.Timeout, nil).HealthCheck(ctx)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Reachable = true
	res.Health = &h
	return res
}
