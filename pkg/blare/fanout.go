package blare

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/blarehq/blare/pkg/blare/source"
	"github.com/blarehq/blare/pkg/blare/wasapi"
)

// errNoDevices is returned when nothing is left to play on.
var errNoDevices = errors.New("no active render devices")

// unitError tags a unit failure with the device it happened on.
type unitError struct {
	Device wasapi.DeviceInfo
	Err    error
}

func (e *unitError) Error() string {
	return fmt.Sprintf("device %d (%s): %v", e.Device.Index, e.Device.Label(), e.Err)
}

func (e *unitError) Unwrap() error {
	return e.Err
}

// fanOut plays one source on every active render device, one independent
// unit per device.
type fanOut struct {
	logger   *zap.SugaredLogger
	host     wasapi.Host
	notifier Notifier
	units    *unitTable

	// verbose makes every unit dump its device's property store
	verbose bool
}

func newFanOut(logger *zap.SugaredLogger, host wasapi.Host, notifier Notifier) *fanOut {
	logger = logger.Named("fanout")

	return &fanOut{
		logger:   logger,
		host:     host,
		notifier: notifier,
		units:    newUnitTable(logger),
	}
}

// run blocks until every unit has returned, which normally happens when ctx
// is cancelled. Unit failures are logged and never returned: only a failure
// to look up the devices in the first place is.
func (f *fanOut) run(ctx context.Context, buffer *source.Buffer, settings PlaybackSettings) error {
	devices, err := f.activeDevices(settings.ExcludeDevices)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		f.logger.Warn("No render devices to play on")
		return errNoDevices
	}

	cache := newBufferCache(f.logger, buffer)
	f.units.reset(devices)

	f.logger.Infow("Starting playback units",
		"devices", len(devices), "source", buffer.Spec, "shareMode", settings.ShareMode)

	p := pool.New().WithContext(ctx)
	for _, device := range devices {
		p.Go(func(ctx context.Context) error {
			return f.runUnit(ctx, device, cache, settings)
		})
	}

	// unit errors were already logged as they happened
	_ = p.Wait()

	f.logger.Infow("All playback units returned",
		"stopped", f.units.count(unitStopped),
		"failed", f.units.count(unitFailed),
		"conversions", cache.conversions.Load())
	return nil
}

// activeDevices snapshots the active render endpoints from a short-lived
// apartment of its own. A panic in the binding fails this fan-out only.
func (f *fanOut) activeDevices(exclude []string) ([]wasapi.DeviceInfo, error) {
	var devices []wasapi.DeviceInfo
	var err error

	var catcher panics.Catcher
	catcher.Try(func() {
		devices, err = f.snapshotDevices(exclude)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		f.logger.Errorw("Device snapshot panicked", "panic", recovered.Value, "stack", string(recovered.Stack))
		return nil, fmt.Errorf("snapshot render devices: %w", recovered.AsError())
	}
	return devices, err
}

func (f *fanOut) snapshotDevices(exclude []string) ([]wasapi.DeviceInfo, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	apartment, err := f.host.EnterApartment()
	if err != nil {
		f.logger.Warnw("Failed to enter COM apartment", "error", err)
		return nil, fmt.Errorf("enter apartment: %w", err)
	}
	defer apartment.Release()

	directory, err := wasapi.NewDirectory(f.logger, f.host)
	if err != nil {
		return nil, fmt.Errorf("create device directory: %w", err)
	}
	defer directory.Close()

	devices, err := directory.Devices(wasapi.FlowRender, wasapi.DeviceStateActive)
	if err != nil {
		f.logger.Warnw("Failed to list render devices", "error", err)
		return nil, fmt.Errorf("list render devices: %w", err)
	}

	kept := make([]wasapi.DeviceInfo, 0, len(devices))
	for _, device := range devices {
		if funk.ContainsString(exclude, device.ID) || funk.ContainsString(exclude, device.FriendlyName) {
			f.logger.Infow("Skipping excluded device", "index", device.Index, "device", device.Label())
			continue
		}

		f.logger.Debugw("Found render device",
			"index", device.Index, "id", device.ID, "name", device.FriendlyName, "description", device.Description)
		kept = append(kept, device)
	}
	return kept, nil
}

// runUnit plays on one device. A panic inside the unit is turned into its
// error so it cannot take the other units down.
func (f *fanOut) runUnit(ctx context.Context, device wasapi.DeviceInfo, cache *bufferCache, settings PlaybackSettings) error {
	logger := f.logger.Named(fmt.Sprintf("device.%d", device.Index))

	var err error
	var catcher panics.Catcher
	catcher.Try(func() {
		unit := newPlayback(logger, f.host, device, settings)
		unit.verbose = f.verbose

		err = unit.play(ctx, cache, func() {
			f.units.set(device.Index, unitPlaying)
		})
	})
	if recovered := catcher.Recovered(); recovered != nil {
		logger.Errorw("Playback unit panicked", "panic", recovered.Value, "stack", string(recovered.Stack))
		err = recovered.AsError()
	}

	f.units.finish(device.Index, err)
	if err == nil {
		logger.Debug("Playback unit stopped")
		return nil
	}

	logger.Warnw("Playback unit failed", "device", device.Label(), "error", err)
	if settings.NotifyOnFailure {
		f.notifier.Notify("Playback failed on "+device.Label(), err.Error())
	}
	return &unitError{Device: device, Err: err}
}
