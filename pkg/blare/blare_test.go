package blare

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blarehq/blare/pkg/blare/source"
)

// recordingNotifier keeps every notification instead of showing it.
type recordingNotifier struct {
	lock   sync.Mutex
	titles []string
}

func (n *recordingNotifier) Notify(title string, message string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.titles = append(n.titles, title)
}

func (n *recordingNotifier) Titles() []string {
	n.lock.Lock()
	defer n.lock.Unlock()
	return append([]string(nil), n.titles...)
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func testTone() *source.Buffer {
	return source.Tone(48000, 100*time.Millisecond, 440)
}

func testPlaybackSettings() PlaybackSettings {
	return PlaybackSettings{
		WaitTimeout:     5 * time.Millisecond,
		NotifyOnFailure: true,
	}
}
