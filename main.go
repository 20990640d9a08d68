package main

import (
	"fmt"
	"os"

	"github.com/tphakala/fieldpin/cmd"
	"github.com/tphakala/fieldpin/internal/buildinfo"
	"github.com/tphakala/fieldpin/internal/conf"
)

// buildDate and version are set at build time with -ldflags.
var (
	buildDate string
	version   string
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}

	info := &buildinfo.Info{
		Version:   version,
		BuildDate: buildDate,
		DeviceID:  settings.Main.DeviceID,
	}

	if err := cmd.Execute(settings, info); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
