package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/coughdetect/cmd/classify"
	configcmd "github.com/tphakala/coughdetect/cmd/config"
	"github.com/tphakala/coughdetect/cmd/devices"
	"github.com/tphakala/coughdetect/cmd/realtime"
	"github.com/tphakala/coughdetect/cmd/records"
	"github.com/tphakala/coughdetect/internal/buildinfo"
	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/telemetry"
)

// RootCommand creates and returns the root command. settings is filled from
// the configuration before any subcommand runs.
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "coughdetect",
		Short:        "Cough and snore detection from a microphone",
		SilenceUsage: true,
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), build.String())
		},
	}

	rootCmd.AddCommand(
		realtime.Command(settings, build),
		devices.Command(),
		classify.Command(settings),
		records.Command(settings),
		configcmd.Command(settings, &configFile),
		versionCmd,
	)

	var central *logger.CentralLogger
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded

		if settings.Debug {
			settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
			if settings.Logging.Console != nil {
				settings.Logging.Console.Level = string(logger.LogLevelDebug)
			}
		}
		central, err = logger.NewCentralLogger(&settings.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logger.SetGlobal(central)

		if err := telemetry.InitSentry(settings, build.GetVersion()); err != nil {
			logger.Global().Module("main").Warn("sentry telemetry unavailable", logger.Error(err))
		}
		return nil
	}

	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		telemetry.Flush()
		if central != nil {
			return central.Close()
		}
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to the config file (default: search the standard locations)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
