//go:generate go run ../winres/cmd -arch amd64 -out rsrc_windows_amd64.syso

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/blarehq/blare/pkg/blare"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose bool
)

func init() {
	flag.BoolVar(&verbose, "verbose", false, "show verbose logs (useful for debugging device negotiation)")
	flag.BoolVar(&verbose, "v", false, "shorthand for --verbose")
	flag.Parse()
}

func main() {
	// first we need a logger
	logger, err := blare.NewLogger(buildType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	b, err := blare.NewBlare(logger, verbose)
	if err != nil {
		named.Fatalw("Failed to create blare object", "error", err)
	}

	// if we have version information, propagate it to the tray
	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := gitCommit
		if versionTag != "" {
			identifier = versionTag
		}

		b.SetVersion(fmt.Sprintf("Version %s-%s", buildType, identifier))
	}

	if err := b.Initialize(); err != nil {
		named.Fatalw("Failed to initialize blare", "error", err)
	}
}
