package blare

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/blarehq/blare/pkg/blare/util"
	"github.com/blarehq/blare/pkg/blare/wasapi"
)

// CanonicalConfig provides application-wide access to configuration fields,
// as well as loading/file watching logic for blare's configuration file.
type CanonicalConfig struct {
	logger   *zap.SugaredLogger
	notifier Notifier

	dir      string
	lock     sync.Mutex
	settings Settings

	stopWatcherChannel chan bool
	reloadConsumers    []chan bool

	userConfig *viper.Viper
}

// Settings is one consistent view of the configuration.
type Settings struct {
	Source   SourceSettings
	Playback PlaybackSettings
}

// SourceSettings selects what gets played.
type SourceSettings struct {
	// Path to an mp3 or flac file. Empty plays a tone.
	Path          string
	ToneFrequency float64
	ToneDuration  time.Duration
}

// PlaybackSettings controls how each device session is set up.
type PlaybackSettings struct {
	ShareMode wasapi.ShareMode

	// Zero means the device's minimum period.
	BufferDuration time.Duration
	PeriodDuration time.Duration

	WaitTimeout     time.Duration
	ExcludeDevices  []string
	NotifyOnFailure bool
}

const (
	userConfigFilename = "config.yaml"
	userConfigName     = "config"
	userConfigPath     = "."
	configType         = "yaml"

	configKeySource          = "source"
	configKeyToneFrequency   = "tone_frequency"
	configKeyToneDuration    = "tone_duration"
	configKeyShareMode       = "share_mode"
	configKeyBufferDuration  = "buffer_duration"
	configKeyPeriodDuration  = "period_duration"
	configKeyWaitTimeout     = "wait_timeout"
	configKeyExcludeDevices  = "exclude_devices"
	configKeyNotifyOnFailure = "notify_on_failure"

	defaultToneFrequency = 440.0
	defaultToneDuration  = 2 * time.Second
	defaultShareMode     = "shared"
	defaultWaitTimeout   = 2 * time.Second

	// the tone has to stay below nyquist of the lowest common device rate
	maxToneFrequency = 20000.0
)

// NewConfig creates a config instance reading config.yaml from the working
// directory.
func NewConfig(logger *zap.SugaredLogger, notifier Notifier) (*CanonicalConfig, error) {
	return newConfig(logger, notifier, userConfigPath), nil
}

func newConfig(logger *zap.SugaredLogger, notifier Notifier, dir string) *CanonicalConfig {
	logger = logger.Named("config")

	cc := &CanonicalConfig{
		logger:             logger,
		notifier:           notifier,
		dir:                dir,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
	}

	cc.userConfig = viper.New()
	cc.userConfig.SetConfigName(userConfigName)
	cc.userConfig.SetConfigType(configType)
	cc.userConfig.AddConfigPath(dir)

	cc.userConfig.SetDefault(configKeySource, "")
	cc.userConfig.SetDefault(configKeyToneFrequency, defaultToneFrequency)
	cc.userConfig.SetDefault(configKeyToneDuration, defaultToneDuration)
	cc.userConfig.SetDefault(configKeyShareMode, defaultShareMode)
	cc.userConfig.SetDefault(configKeyBufferDuration, time.Duration(0))
	cc.userConfig.SetDefault(configKeyPeriodDuration, time.Duration(0))
	cc.userConfig.SetDefault(configKeyWaitTimeout, defaultWaitTimeout)
	cc.userConfig.SetDefault(configKeyExcludeDevices, []string{})
	cc.userConfig.SetDefault(configKeyNotifyOnFailure, true)

	cc.settings = cc.populateFromVipers()

	logger.Debug("Created config instance")
	return cc
}

// Path returns the location of the user config file.
func (cc *CanonicalConfig) Path() string {
	return filepath.Join(cc.dir, userConfigFilename)
}

// Current returns the settings from the most recent successful load.
func (cc *CanonicalConfig) Current() Settings {
	cc.lock.Lock()
	defer cc.lock.Unlock()

	s := cc.settings
	s.Playback.ExcludeDevices = slices.Clone(s.Playback.ExcludeDevices)
	return s
}

// Load reads the config file. A missing file leaves every setting at its
// default, a malformed one is an error.
func (cc *CanonicalConfig) Load() error {
	cc.logger.Debugw("Loading config", "path", cc.Path())

	if !util.FileExists(cc.Path()) {
		cc.logger.Warnw("Config file not found, using defaults", "path", cc.Path())
	} else if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)

		if strings.Contains(err.Error(), "yaml:") {
			cc.notifier.Notify("Invalid configuration!",
				fmt.Sprintf("Please make sure %s is in a valid YAML format.", cc.Path()))
		} else {
			cc.notifier.Notify("Error loading configuration!", "Please check blare's logs for more details.")
		}

		return fmt.Errorf("read user config: %w", err)
	}

	settings := cc.populateFromVipers()

	cc.lock.Lock()
	cc.settings = settings
	cc.lock.Unlock()

	cc.logger.Infow("Loaded config successfully", "settings", settings)
	return nil
}

// WatchConfigFileChanges reloads the config whenever the file is written and
// tells every subscriber. It blocks until StopWatchingConfigFile is called.
func (cc *CanonicalConfig) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", cc.Path())

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}

		now := time.Now()

		// many editors write the file twice
		if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).After(now) {
			return
		}
		lastAttemptedReload = now

		cc.logger.Debugw("Config file modified, attempting reload", "event", event)

		// let the editor flush the new contents
		<-time.After(delayBetweenEventAndReload)

		if err := cc.Load(); err != nil {
			cc.logger.Warnw("Failed to reload config file", "error", err)
			return
		}

		cc.logger.Info("Reloaded config successfully")
		cc.notifier.Notify("Configuration reloaded!", "Playback restarts with your changes.")
		cc.onConfigReloaded()
	})
	cc.userConfig.WatchConfig()

	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(func(fsnotify.Event) {})
}

// StopWatchingConfigFile signals our filesystem watcher to stop.
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- true
}

// SubscribeToChanges allows external components to receive updates when the
// config is reloaded.
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	c := make(chan bool)
	cc.reloadConsumers = append(cc.reloadConsumers, c)
	return c
}

func (cc *CanonicalConfig) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		consumer <- true
	}
}

func (cc *CanonicalConfig) populateFromVipers() Settings {
	v := cc.userConfig

	return Settings{
		Source: SourceSettings{
			Path:          strings.TrimSpace(v.GetString(configKeySource)),
			ToneFrequency: cc.toneFrequency(v.GetFloat64(configKeyToneFrequency)),
			ToneDuration:  cc.positiveDuration(configKeyToneDuration, defaultToneDuration),
		},
		Playback: PlaybackSettings{
			ShareMode:       cc.shareMode(v.GetString(configKeyShareMode)),
			BufferDuration:  cc.optionalDuration(configKeyBufferDuration),
			PeriodDuration:  cc.optionalDuration(configKeyPeriodDuration),
			WaitTimeout:     cc.positiveDuration(configKeyWaitTimeout, defaultWaitTimeout),
			ExcludeDevices:  v.GetStringSlice(configKeyExcludeDevices),
			NotifyOnFailure: v.GetBool(configKeyNotifyOnFailure),
		},
	}
}

func (cc *CanonicalConfig) shareMode(value string) wasapi.ShareMode {
	mode, err := wasapi.ParseShareMode(value)
	if err != nil {
		cc.logger.Warnw("Invalid share mode, using default",
			"key", configKeyShareMode, "value", value, "default", defaultShareMode)
		return wasapi.ShareModeShared
	}
	return mode
}

func (cc *CanonicalConfig) toneFrequency(value float64) float64 {
	if value <= 0 || value > maxToneFrequency {
		cc.logger.Warnw("Invalid tone frequency, using default",
			"key", configKeyToneFrequency, "value", value, "default", defaultToneFrequency)
		return defaultToneFrequency
	}
	return value
}

// positiveDuration reads key, falling back to def for values that don't
// parse or are not above zero.
func (cc *CanonicalConfig) positiveDuration(key string, def time.Duration) time.Duration {
	d, ok := cc.duration(key)
	if !ok || d <= 0 {
		cc.logger.Warnw("Invalid duration, using default",
			"key", key, "value", cc.userConfig.Get(key), "default", def)
		return def
	}
	return d
}

// optionalDuration reads key where zero means "device minimum".
func (cc *CanonicalConfig) optionalDuration(key string) time.Duration {
	d, ok := cc.duration(key)
	if !ok || d < 0 {
		cc.logger.Warnw("Invalid duration, using device minimum",
			"key", key, "value", cc.userConfig.Get(key))
		return 0
	}
	return d
}

func (cc *CanonicalConfig) duration(key string) (time.Duration, bool) {
	switch raw := cc.userConfig.Get(key).(type) {
	case time.Duration:
		return raw, true
	case int:
		// bare numbers are milliseconds
		return time.Duration(raw) * time.Millisecond, true
	case float64:
		return time.Duration(raw * float64(time.Millisecond)), true
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		return d, err == nil
	}
	return 0, false
}
