package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/nodesup/internal/config"
)

const defaultConfigFile = "nodesup.toml"

func createConfigCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration file helpers",
	}
	cmd.AddCommand(createConfigInitCommand(globalFlags), createConfigShowCommand(globalFlags))
	return cmd
}

func createConfigInitCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &ConfigInitFlags{}
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default config file",
		Example: `  nodesup config init
  nodesup config init /etc/nodesup/nodesup.toml --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPathFrom(globalFlags, args)
			if err := config.WriteDefault(path, flags.Force); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return err
		},
	}
	cmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing file")
	return cmd
}

func createConfigShowCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show [path]",
		Short: "Print the effective configuration, including environment overrides",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			out, err := cfg.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func configPathFrom(globalFlags *GlobalFlags, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if globalFlags.ConfigPath != "" {
		return globalFlags.ConfigPath
	}
	return defaultConfigFile
}
