// Package config prints and initializes the configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/coughdetect/internal/conf"
)

// Command creates the config command. configFile is the --config flag value.
func Command(settings *conf.Settings, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or save the configuration",
	}
	cmd.AddCommand(printCommand(settings), saveCommand(settings, configFile))
	return cmd
}

func printCommand(settings *conf.Settings) *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after defaults, config file, environment and flags are merged.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if defaults {
				data, err := conf.DefaultConfigYAML()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			// secrets are written as set, the output may be redirected into a config file
			data, err := yaml.Marshal(settings)
			if err != nil {
				return fmt.Errorf("error marshaling settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&defaults, "defaults", false, "Print the commented default configuration")
	return cmd
}

func saveCommand(settings *conf.Settings, configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "save [path]",
		Short: "Write the effective configuration to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no config file given; pass a path or --config")
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
				return fmt.Errorf("error creating config directory: %w", err)
			}
			if err := conf.SaveYAMLConfig(path, settings); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}
}
