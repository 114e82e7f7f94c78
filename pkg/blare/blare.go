// Package blare plays one decoded track on every active audio output device
// of the machine at the same time, looping until stopped.
package blare

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/blarehq/blare/pkg/blare/source"
	"github.com/blarehq/blare/pkg/blare/util"
	"github.com/blarehq/blare/pkg/blare/wasapi"
)

const (
	// EnvNoTray disables the tray icon when set.
	EnvNoTray = "BLARE_NO_TRAY_ICON"

	// toneSampleRate is the rate the fallback tone is synthesized at.
	toneSampleRate = 48000
)

// Blare is the main entity managing access to all sub-components.
type Blare struct {
	logger   *zap.SugaredLogger
	notifier Notifier
	config   *CanonicalConfig
	fanout   *fanOut

	stopChannel chan bool
	version     string

	playbackLock   sync.Mutex
	buffer         *source.Buffer
	bufferSource   SourceSettings
	cancelPlayback context.CancelFunc
	playbackDone   chan struct{}
}

// NewBlare creates a Blare instance.
func NewBlare(logger *zap.SugaredLogger, verbose bool) (*Blare, error) {
	logger = logger.Named("blare")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	host, err := wasapi.NewHost()
	if err != nil {
		logger.Errorw("Failed to create audio host", "error", err)
		return nil, fmt.Errorf("create audio host: %w", err)
	}

	b := &Blare{
		logger:      logger,
		notifier:    notifier,
		config:      config,
		fanout:      newFanOut(logger, host, notifier),
		stopChannel: make(chan bool),
	}

	b.fanout.verbose = verbose

	logger.Debug("Created blare instance")
	return b, nil
}

// Initialize loads the config and the source, then runs until stopped.
// A source that fails to decode aborts here, before any device is touched.
func (b *Blare) Initialize() error {
	b.logger.Debug("Initializing")

	if err := b.config.Load(); err != nil {
		b.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	if _, err := b.loadSource(b.config.Current().Source); err != nil {
		b.logger.Errorw("Failed to load audio source during initialization", "error", err)
		return fmt.Errorf("load audio source during init: %w", err)
	}

	b.setupOnConfigReload()

	if os.Getenv(EnvNoTray) != "" {
		b.logger.Debugw("Running without tray icon", "reason", "envvar set")

		b.setupInterruptHandler()
		b.run()
	} else {
		b.setupInterruptHandler()
		b.initializeTray(b.run)
	}

	return nil
}

// SetVersion causes blare to add a version string to its tray menu if called before Initialize.
func (b *Blare) SetVersion(version string) {
	b.version = version
}

func (b *Blare) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		b.logger.Debugw("Interrupted", "signal", signal)
		b.signalStop()
	}()
}

func (b *Blare) setupOnConfigReload() {
	configReloadedChannel := b.config.SubscribeToChanges()

	go func() {
		for range configReloadedChannel {
			b.logger.Info("Config reloaded, restarting playback")
			b.restartPlayback()
		}
	}()
}

func (b *Blare) run() {
	b.logger.Info("Run loop starting")

	go b.config.WatchConfigFileChanges()

	b.startPlayback()

	<-b.stopChannel
	b.logger.Debug("Stop channel signaled, terminating")

	if err := b.stop(); err != nil {
		b.logger.Warnw("Failed to stop blare", "error", err)
		os.Exit(1)
	}

	// exit with 0
	os.Exit(0)
}

func (b *Blare) signalStop() {
	b.logger.Debug("Signalling stop channel")
	b.stopChannel <- true
}

func (b *Blare) stop() error {
	b.logger.Info("Stopping")

	b.config.StopWatchingConfigFile()
	b.stopPlayback()
	b.stopTray()

	// attempt to sync on exit - this will error on some platforms when logging to stderr
	_ = b.logger.Sync()
	return nil
}

// startPlayback launches a fan-out over the current settings. It returns
// once the fan-out goroutine is running.
func (b *Blare) startPlayback() {
	b.playbackLock.Lock()
	defer b.playbackLock.Unlock()

	settings := b.config.Current()

	buffer, err := b.loadSource(settings.Source)
	if err != nil {
		b.logger.Warnw("Failed to load audio source, not starting playback", "error", err)
		b.notifier.Notify("Can't load audio source!", err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.cancelPlayback = cancel
	b.playbackDone = done

	go func() {
		defer close(done)
		defer b.recoverFromPanic()

		err := b.fanout.run(ctx, buffer, settings.Playback)
		switch {
		case errors.Is(err, errNoDevices):
			b.notifier.Notify("No audio devices!", "Connect or enable an output device and restart playback.")
		case err != nil:
			b.logger.Warnw("Playback fan-out failed", "error", err)
			b.notifier.Notify("Playback failed!", "Please check blare's logs for more details.")
		}
	}()
}

// stopPlayback cancels the running fan-out and waits for every unit to
// release its device.
func (b *Blare) stopPlayback() {
	b.playbackLock.Lock()
	defer b.playbackLock.Unlock()

	if b.cancelPlayback == nil {
		return
	}

	b.cancelPlayback()
	<-b.playbackDone

	b.cancelPlayback = nil
	b.playbackDone = nil
	b.logger.Debug("Playback stopped")
}

func (b *Blare) restartPlayback() {
	b.stopPlayback()
	b.startPlayback()
}

// loadSource decodes the configured file, or synthesizes the tone when no
// file is set. The last result is reused while the settings don't change.
func (b *Blare) loadSource(settings SourceSettings) (*source.Buffer, error) {
	if b.buffer != nil && b.bufferSource == settings {
		return b.buffer, nil
	}

	var buffer *source.Buffer
	if settings.Path == "" {
		b.logger.Infow("No source configured, playing tone",
			"frequency", settings.ToneFrequency, "duration", settings.ToneDuration)
		buffer = source.Tone(toneSampleRate, settings.ToneDuration, settings.ToneFrequency)
	} else {
		var err error
		if buffer, err = source.Load(settings.Path); err != nil {
			b.logger.Warnw("Failed to decode source", "path", settings.Path, "error", err)
			return nil, fmt.Errorf("decode %s: %w", settings.Path, err)
		}
		b.logger.Infow("Decoded source",
			"path", settings.Path, "spec", buffer.Spec, "duration", buffer.Duration())
	}

	b.buffer = buffer
	b.bufferSource = settings
	return buffer, nil
}
