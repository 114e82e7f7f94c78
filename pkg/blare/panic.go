package blare

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/blarehq/blare/pkg/blare/util"
)

const (
	crashlogFilename        = "blare-crash-%s.log"
	crashlogTimestampFormat = "2006.01.02-15.04.05"

	crashMessage = `-----------------------------------------------------------------
                        blare crashlog
-----------------------------------------------------------------
blare has crashed outside of a playback unit. Please attach this
file when reporting the problem.
-----------------------------------------------------------------
Time: %s
Panic occurred: %s
Stack trace:
%s
-----------------------------------------------------------------
`
)

func (b *Blare) recoverFromPanic() {
	r := recover()
	if r == nil {
		return
	}

	now := time.Now()
	crashlogPath := filepath.Join(LogDirectory, fmt.Sprintf(crashlogFilename, now.Format(crashlogTimestampFormat)))
	content := crashLogContent(now, r, debug.Stack())

	if err := util.EnsureDirExists(LogDirectory); err != nil {
		panic(fmt.Errorf("ensure crashlog dir exists: %w", err))
	}

	if err := os.WriteFile(crashlogPath, content, 0o644); err != nil {
		panic(fmt.Errorf("can't even write the crashlog file contents: %w", err))
	}

	b.logger.Errorw("Encountered and logged panic, crashing",
		"crashlogPath", crashlogPath,
		"error", r)

	b.notifier.Notify("Unexpected crash occurred...",
		fmt.Sprintf("More details in %s", crashlogPath))

	b.logger.Errorw("Quitting", "exitCode", 1)
	b.logger.Sync()
	os.Exit(1)
}

func crashLogContent(timestamp time.Time, recovered any, stack []byte) []byte {
	return fmt.Appendf(nil, crashMessage,
		timestamp.Format(crashlogTimestampFormat),
		recovered,
		stack)
}
