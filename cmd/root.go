package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/wildwatch/cmd/normalize"
	"github.com/tphakala/wildwatch/cmd/serve"
	"github.com/tphakala/wildwatch/cmd/stream"
	"github.com/tphakala/wildwatch/internal/conf"
	"github.com/tphakala/wildwatch/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "wildwatch",
		Short:        "Wildlife sighting ingestion service",
		SilenceUsage: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	normalizeCmd := normalize.Command(settings)

	rootCmd.AddCommand(
		serve.Command(settings),
		stream.Command(settings),
		normalizeCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// normalize is an offline tool and keeps the default console logger
		if cmd.Name() == normalizeCmd.Name() {
			return nil
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize sets up the central logger after flags have been applied
func initialize(settings *conf.Settings) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().Float64VarP(&settings.Pipeline.Threshold, "threshold", "t", viper.GetFloat64("pipeline.threshold"), "Minimum model probability for a report, between 0.0 and 1.0")
	rootCmd.PersistentFlags().DurationVar(&settings.Pipeline.Cooldown, "cooldown", viper.GetDuration("pipeline.cooldown"), "Minimum spacing between reports of one species per device")
	rootCmd.PersistentFlags().StringVar(&settings.Pipeline.CooldownBackend, "cooldown-backend", viper.GetString("pipeline.cooldownbackend"), "Cooldown state backend (\"memory\" or \"database\")")
	rootCmd.PersistentFlags().BoolVar(&settings.Pipeline.Grouped, "grouped", viper.GetBool("pipeline.grouped"), "Classify images into ambiguity groups and report the top group")
	rootCmd.PersistentFlags().StringVar(&settings.Taxonomy.Path, "taxonomy", viper.GetString("taxonomy.path"), "Path to a taxonomy YAML file replacing the built-in tables")
	rootCmd.PersistentFlags().StringVar(&settings.Database.Driver, "db-driver", viper.GetString("database.driver"), "Database driver (\"sqlite\" or \"mysql\")")
	rootCmd.PersistentFlags().StringVar(&settings.Database.SQLite.Path, "sqlite-path", viper.GetString("database.sqlite.path"), "Path to the SQLite database")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
