package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/fieldpin/cmd/annotations"
	"github.com/tphakala/fieldpin/cmd/blob"
	"github.com/tphakala/fieldpin/cmd/notify"
	"github.com/tphakala/fieldpin/cmd/procedures"
	"github.com/tphakala/fieldpin/cmd/serve"
	"github.com/tphakala/fieldpin/cmd/session"
	synccmd "github.com/tphakala/fieldpin/cmd/sync"
	"github.com/tphakala/fieldpin/internal/buildinfo"
	"github.com/tphakala/fieldpin/internal/conf"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/telemetry"
)

// Execute builds the root command, runs it and releases what initialize set up.
func Execute(settings *conf.Settings, info *buildinfo.Info) error {
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	rootCmd := RootCommand(settings, info, func(fn func()) { cleanup = append(cleanup, fn) })
	return rootCmd.Execute()
}

// RootCommand creates and returns the root command. onExit receives the
// teardown of the logger and telemetry set up before a subcommand runs.
func RootCommand(settings *conf.Settings, info *buildinfo.Info, onExit func(func())) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fieldpin",
		Short:         "FieldPin annotation service CLI",
		Version:       fmt.Sprintf("%s (built %s)", info.GetVersion(), info.GetBuildDate()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings, info),
		annotations.Command(settings),
		procedures.Command(settings),
		blob.Command(settings),
		session.Command(settings),
		notify.Command(settings),
		synccmd.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(settings, info, onExit)
	}

	return rootCmd
}

// initialize sets up logging and error reporting once flags are parsed.
func initialize(settings *conf.Settings, info *buildinfo.Info, onExit func(func())) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	onExit(func() { _ = central.Close() })

	log := central.Module("main")
	shutdown, err := telemetry.Init(&settings.Telemetry, info, log)
	if err != nil {
		// reporting is optional, the command still runs
		log.Warn("error reporting disabled", logger.Error(err))
		return nil
	}
	onExit(shutdown)
	return nil
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Main.Name, "name", viper.GetString("main.name"), "Installation name shown in notifications")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
