package main

import (
	"fmt"
	"os"

	"github.com/tphakala/wildwatch/cmd"
	"github.com/tphakala/wildwatch/internal/app"
	"github.com/tphakala/wildwatch/internal/conf"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	app.Version = version

	// Load the configuration; an empty path searches the default locations
	settings, err := conf.Load(os.Getenv("WILDWATCH_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
