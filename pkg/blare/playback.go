package blare

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/blarehq/blare/pkg/blare/render"
	"github.com/blarehq/blare/pkg/blare/resample"
	"github.com/blarehq/blare/pkg/blare/wasapi"
)

// errNoUsableFormat is returned when a device accepts none of the formats
// blare can render.
var errNoUsableFormat = errors.New("device accepts no usable format")

// playback is one device's unit: it owns the device, its audio client and
// render session for as long as play runs.
type playback struct {
	logger   *zap.SugaredLogger
	host     wasapi.Host
	device   wasapi.DeviceInfo
	settings PlaybackSettings
	verbose  bool
}

func newPlayback(logger *zap.SugaredLogger, host wasapi.Host, device wasapi.DeviceInfo, settings PlaybackSettings) *playback {
	return &playback{
		logger:   logger,
		host:     host,
		device:   device,
		settings: settings,
	}
}

// play renders the cached source until ctx is cancelled. started is called
// once the stream is about to run.
func (p *playback) play(ctx context.Context, cache *bufferCache, started func()) error {
	// COM objects belong to the apartment of the thread that created them
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	apartment, err := p.host.EnterApartment()
	if err != nil {
		return fmt.Errorf("enter apartment: %w", err)
	}
	defer apartment.Release()

	directory, err := wasapi.NewDirectory(p.logger, p.host)
	if err != nil {
		return fmt.Errorf("create device directory: %w", err)
	}
	defer directory.Close()

	device, err := directory.Open(wasapi.FlowRender, wasapi.DeviceStateActive, p.device.Index)
	if err != nil {
		p.logger.Warnw("Failed to open device", "index", p.device.Index, "error", err)
		return fmt.Errorf("open device: %w", err)
	}
	defer device.Release()

	if info, err := directory.Describe(device); err == nil && info.ID != p.device.ID {
		p.logger.Warnw("Device list changed since enumeration",
			"expected", p.device.ID, "actual", info.ID)
	}

	if p.verbose {
		p.dumpProperties(directory, device)
	}

	client, err := device.ActivateAudioClient()
	if err != nil {
		p.logger.Warnw("Failed to activate audio client", "error", err)
		return fmt.Errorf("activate audio client: %w", err)
	}

	session := render.NewSession(p.logger, client, render.Options{WaitTimeout: p.settings.WaitTimeout})
	defer func() {
		if err := session.Close(); err != nil {
			p.logger.Warnw("Failed to close session", "error", err)
		}
	}()

	_, minimumPeriod, err := client.DevicePeriod()
	if err != nil {
		return fmt.Errorf("get device period: %w", err)
	}

	mix, err := client.MixFormat()
	if err != nil {
		return fmt.Errorf("get mix format: %w", err)
	}

	format, err := negotiateFormat(client, p.settings.ShareMode, mix)
	if err != nil {
		p.logger.Warnw("Failed to negotiate format", "mix", mix, "error", err)
		return err
	}

	samples, err := cache.get(format.SampleRate, int(format.Channels))
	if err != nil {
		return err
	}

	bufferDuration := orDefault(p.settings.BufferDuration, minimumPeriod)
	periodDuration := orDefault(p.settings.PeriodDuration, minimumPeriod)
	if err := session.Initialize(p.settings.ShareMode, bufferDuration, periodDuration, format); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}

	event, err := p.host.NewEvent()
	if err != nil {
		return fmt.Errorf("create buffer event: %w", err)
	}
	if err := session.SetEventHandle(event); err != nil {
		_ = event.Close()
		return fmt.Errorf("set event handle: %w", err)
	}

	size, err := session.BufferSize()
	if err != nil {
		return fmt.Errorf("get buffer size: %w", err)
	}

	p.logger.Infow("Playing",
		"device", p.device.Label(),
		"format", format,
		"mode", p.settings.ShareMode,
		"buffer", bufferDuration,
		"period", periodDuration,
		"bufferFrames", size)

	started()
	return session.Run(ctx, render.NewCursor(samples, int(format.Channels)))
}

// negotiateFormat picks the format to initialize with. Shared mode takes the
// mix format when blare can render it. Otherwise the mix format, float32
// stereo and PCM16 stereo are offered in that order, and a closest match
// proposed by the device is taken when it is usable.
func negotiateFormat(client wasapi.AudioClient, mode wasapi.ShareMode, mix wasapi.WaveFormat) (wasapi.WaveFormat, error) {
	if mode == wasapi.ShareModeShared && usableFormat(mix) {
		return mix, nil
	}

	candidates := []wasapi.WaveFormat{
		mix,
		wasapi.NewWaveFormat(wasapi.EncodingFloat32, 2, mix.SampleRate, true),
		wasapi.NewWaveFormat(wasapi.EncodingPCM16, 2, mix.SampleRate, true),
	}

	for _, candidate := range candidates {
		if !usableFormat(candidate) {
			continue
		}

		ok, closest, err := client.IsFormatSupported(mode, candidate)
		if err != nil {
			return wasapi.WaveFormat{}, fmt.Errorf("check format support: %w", err)
		}
		if ok {
			return candidate, nil
		}
		if closest != nil && usableFormat(*closest) {
			return *closest, nil
		}
	}

	return wasapi.WaveFormat{}, fmt.Errorf("%w: mix format %s", errNoUsableFormat, mix)
}

func usableFormat(f wasapi.WaveFormat) bool {
	if _, err := f.Encoding(); err != nil {
		return false
	}
	return f.SampleRate > 0 && f.Channels >= 1 && int(f.Channels) <= resample.MaxChannels
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func (p *playback) dumpProperties(directory *wasapi.Directory, device wasapi.Device) {
	properties, err := directory.Properties(device)
	if err != nil {
		p.logger.Debugw("Failed to read device properties", "error", err)
		return
	}

	for key, value := range properties {
		p.logger.Debugw("Device property", "key", key, "value", value)
	}
}
