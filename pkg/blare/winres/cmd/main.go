// Command winres writes the blare Windows resource object. It runs from
// go:generate in the main package.
package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/blarehq/blare/pkg/blare/winres"
)

func main() {
	arch := flag.String("arch", "amd64", "target architecture")
	out := flag.String("out", "rsrc_windows_amd64.syso", "output .syso path")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		os.Exit(1)
	}
	named := logger.Sugar().Named("winres")

	if err := winres.Embed(*out, *arch); err != nil {
		named.Fatalw("Failed to write resource object", "arch", *arch, "out", *out, "error", err)
	}
	named.Infow("Wrote resource object", "arch", *arch, "out", *out)
}
