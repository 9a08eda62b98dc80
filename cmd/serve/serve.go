package serve

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/wildwatch/internal/app"
	"github.com/tphakala/wildwatch/internal/conf"
)

// Command creates the command that runs the ingestion API
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion API",
		Long:  "Start the HTTP ingestion API, the live event feed and any configured CCTV stream workers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(context.Background())
		},
	}

	// Set up flags specific to the 'serve' command
	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Listen, "listen", viper.GetString("webserver.listen"), "Listen address and port of the API")
	cmd.Flags().StringVar(&settings.WebServer.APIKey, "api-key", viper.GetString("webserver.apikey"), "Shared secret required in the X-API-Key header")
	cmd.Flags().Float64Var(&settings.WebServer.RateLimit, "ratelimit", viper.GetFloat64("webserver.ratelimit"), "Requests per second per client, 0 disables")
	cmd.Flags().BoolVar(&settings.Metrics.Enabled, "metrics", viper.GetBool("metrics.enabled"), "Enable Prometheus metrics endpoint")
	cmd.Flags().BoolVar(&settings.Classifier.Enabled, "classifier", viper.GetBool("classifier.enabled"), "Classify images with the remote model")
	cmd.Flags().StringVar(&settings.Classifier.URL, "classifier-url", viper.GetString("classifier.url"), "URL of the image classifier")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
