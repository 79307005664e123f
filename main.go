package main

import (
	"fmt"
	"os"

	"github.com/tphakala/birdtag/cmd"
	"github.com/tphakala/birdtag/internal/conf"
	"github.com/tphakala/birdtag/internal/logging"
)

// version and buildDate are overridden at build time via ldflags.
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	settings.Version = version
	settings.BuildDate = buildDate

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
