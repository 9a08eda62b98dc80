package stream

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/wildwatch/internal/app"
	"github.com/tphakala/wildwatch/internal/conf"
)

// Command creates the command that runs CCTV stream workers without the API
func Command(settings *conf.Settings) *cobra.Command {
	var (
		urls     []string
		devices  []string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Run CCTV stream workers",
		Long:  "Pull frames from camera endpoints and submit them to the ingestion pipeline. Without --url the streams from the config file are used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			streams, err := streamSettings(settings.Streams, devices, urls, interval)
			if err != nil {
				return err
			}

			a, err := app.New(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.RunStreams(ctx, streams)
		},
	}

	cmd.Flags().StringSliceVar(&urls, "url", nil, "Camera snapshot or MJPEG URL, repeatable")
	cmd.Flags().StringSliceVar(&devices, "device", nil, "Device id for each --url, in order")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Minimum time between frames")

	return cmd
}

// streamSettings pairs --device with --url, falling back to configured streams
func streamSettings(configured []conf.StreamSettings, devices, urls []string, interval time.Duration) ([]conf.StreamSettings, error) {
	if len(urls) == 0 {
		if len(configured) == 0 {
			fmt.Fprintln(os.Stderr, "no streams configured")
		}
		return configured, nil
	}
	if len(devices) != len(urls) {
		return nil, fmt.Errorf("got %d --device values for %d --url values", len(devices), len(urls))
	}

	streams := make([]conf.StreamSettings, 0, len(urls))
	for i, u := range urls {
		streams = append(streams, conf.StreamSettings{
			Enabled:      true,
			DeviceID:     devices[i],
			URL:          u,
			PollInterval: interval,
		})
	}
	return streams, nil
}
