package blare

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blarehq/blare/pkg/blare/wasapi"
	"github.com/blarehq/blare/pkg/blare/wasapi/wasapitest"
)

// startFanOut runs f in the background and returns a function that cancels
// it and waits for run to return.
func startFanOut(t *testing.T, f *fanOut, settings PlaybackSettings) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg  sync.WaitGroup
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err = f.run(ctx, testTone(), settings)
	}()

	stopped := false
	stop := func() error {
		if !stopped {
			stopped = true
			cancel()
			wg.Wait()
		}
		return err
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func waitForUnits(t *testing.T, f *fanOut, settled int) {
	t.Helper()

	require.Eventually(t, func() bool {
		units := f.units.snapshot()
		done := 0
		for _, u := range units {
			if u.Status != unitStarting {
				done++
			}
		}
		return len(units) == settled && done == settled
	}, 2*time.Second, 5*time.Millisecond)
}

func waitForStream(t *testing.T, devices ...*wasapitest.Device) {
	t.Helper()

	for _, device := range devices {
		require.Eventually(t, device.Client.Started, 2*time.Second, 5*time.Millisecond, device.DeviceID)
	}
}

func TestFanOutPlaysOnEveryActiveDevice(t *testing.T) {
	speakers := wasapitest.NewDevice("{0.0.0.00000000}.{a}", wasapi.DeviceStateActive, "Speakers (Realtek Audio)")
	headphones := wasapitest.NewDevice("{0.0.0.00000000}.{b}", wasapi.DeviceStateActive, "Headphones (USB Audio)")
	hdmi := wasapitest.NewDevice("{0.0.0.00000000}.{c}", wasapi.DeviceStateActive, "LG TV (HDMI)")
	disabled := wasapitest.NewDevice("{0.0.0.00000000}.{d}", wasapi.DeviceStateDisabled, "Line Out")
	host := wasapitest.NewHost(speakers, disabled, headphones, hdmi)

	f := newFanOut(testLogger(), host, &recordingNotifier{})
	stop := startFanOut(t, f, testPlaybackSettings())

	waitForUnits(t, f, 3)
	units := f.units.snapshot()
	for _, u := range units {
		assert.Equal(t, unitPlaying, u.Status, u.Device.Label())
	}
	assert.Equal(t, "Playing on 3 of 3 devices", f.units.summary())

	waitForStream(t, speakers, headphones, hdmi)
	opened, _ := disabled.Handles()
	assert.Zero(t, opened, "disabled device must not be opened")

	require.NoError(t, stop())

	for _, device := range []*wasapitest.Device{speakers, headphones, hdmi} {
		assert.False(t, device.Client.Started(), device.DeviceID)
		assert.True(t, device.Client.Released(), device.DeviceID)

		opened, released := device.Handles()
		assert.Equal(t, opened, released, "every handle of %s released", device.DeviceID)
	}

	assert.Zero(t, host.OpenApartments())
	assert.Equal(t, 4, host.EnteredApartments(), "one for the snapshot plus one per unit")
	assert.Equal(t, 3, f.units.count(unitStopped))
}

func TestFanOutInitializesWithDeviceMinimumPeriod(t *testing.T) {
	device := wasapitest.NewDevice("{a}", wasapi.DeviceStateActive, "Speakers")
	f := newFanOut(testLogger(), wasapitest.NewHost(device), &recordingNotifier{})
	f.verbose = true

	stop := startFanOut(t, f, testPlaybackSettings())
	waitForUnits(t, f, 1)
	waitForStream(t, device)

	mode, buffer, period, format, ok := device.Client.Initialized()
	require.True(t, ok)
	assert.Equal(t, wasapi.ShareModeShared, mode)
	assert.Equal(t, device.Client.MinimumPeriod, buffer)
	assert.Equal(t, device.Client.MinimumPeriod, period)
	assert.Equal(t, device.Client.Mix, format)

	// the whole buffer is pre-filled before the stream starts
	leases := device.Client.Leases()
	require.NotEmpty(t, leases)
	assert.Equal(t, wasapi.FramesForDuration(buffer, format.SampleRate), leases[0])

	require.NoError(t, stop())
}

func TestFanOutIsolatesFailingUnits(t *testing.T) {
	good := wasapitest.NewDevice("{good}", wasapi.DeviceStateActive, "Speakers")

	broken := wasapitest.NewDevice("{broken}", wasapi.DeviceStateActive, "Broken Headset")
	broken.ActivateErr = wasapi.NewError("IMMDevice.Activate", wasapi.AUDCLNT_E_DEVICE_INVALIDATED)

	panicking := wasapitest.NewDevice("{panicking}", wasapi.DeviceStateActive, "Flaky DAC")
	panicking.Client.Supports = func(wasapi.ShareMode, wasapi.WaveFormat) (bool, *wasapi.WaveFormat) {
		panic("driver returned a nil closest match")
	}

	host := wasapitest.NewHost(broken, good, panicking)
	notifier := &recordingNotifier{}
	f := newFanOut(testLogger(), host, notifier)

	settings := testPlaybackSettings()
	settings.ShareMode = wasapi.ShareModeExclusive
	stop := startFanOut(t, f, settings)

	waitForUnits(t, f, 3)
	units := f.units.snapshot()
	require.Len(t, units, 3)

	assert.Equal(t, unitFailed, units[0].Status)
	assert.True(t, wasapi.HasStatus(units[0].Err, wasapi.AUDCLNT_E_DEVICE_INVALIDATED))

	assert.Equal(t, unitPlaying, units[1].Status)
	waitForStream(t, good)

	assert.Equal(t, unitFailed, units[2].Status)
	assert.ErrorContains(t, units[2].Err, "driver returned a nil closest match")

	assert.Equal(t, "Playing on 1 of 3 devices (2 failed)", f.units.summary())
	assert.ElementsMatch(t, []string{
		"Playback failed on Broken Headset",
		"Playback failed on Flaky DAC",
	}, notifier.Titles())

	// failures never reach the caller
	require.NoError(t, stop())
	assert.Zero(t, host.OpenApartments(), "panicking unit must still leave its apartment")
	assert.True(t, good.Client.Released())
}

func TestFanOutSkipsExcludedDevices(t *testing.T) {
	speakers := wasapitest.NewDevice("{speakers}", wasapi.DeviceStateActive, "Speakers")
	headphones := wasapitest.NewDevice("{headphones}", wasapi.DeviceStateActive, "Headphones")
	monitor := wasapitest.NewDevice("{monitor}", wasapi.DeviceStateActive, "DELL U2720Q")
	f := newFanOut(testLogger(), wasapitest.NewHost(speakers, headphones, monitor), &recordingNotifier{})

	settings := testPlaybackSettings()
	settings.ExcludeDevices = []string{"Headphones", "{monitor}"}
	stop := startFanOut(t, f, settings)

	waitForUnits(t, f, 1)
	units := f.units.snapshot()
	require.Len(t, units, 1)
	assert.Equal(t, "{speakers}", units[0].Device.ID)
	assert.False(t, headphones.Client.Started())
	assert.False(t, monitor.Client.Started())

	require.NoError(t, stop())
}

func TestFanOutNoDevices(t *testing.T) {
	host := wasapitest.NewHost(wasapitest.NewDevice("{off}", wasapi.DeviceStateUnplugged, "Speakers"))
	f := newFanOut(testLogger(), host, &recordingNotifier{})

	err := f.run(context.Background(), testTone(), testPlaybackSettings())
	assert.ErrorIs(t, err, errNoDevices)
	assert.Zero(t, host.OpenApartments())
}

func TestFanOutEnumerationFailure(t *testing.T) {
	host := wasapitest.NewHost()
	host.EnumerateErr = wasapi.NewError("IMMDeviceEnumerator.EnumAudioEndpoints", wasapi.E_OUTOFMEMORY)
	f := newFanOut(testLogger(), host, &recordingNotifier{})

	err := f.run(context.Background(), testTone(), testPlaybackSettings())
	assert.True(t, wasapi.HasStatus(err, wasapi.E_OUTOFMEMORY))
	assert.Zero(t, host.OpenApartments())
}

// brokenHost hands out an enumerator the way a binding that ignores a nil
// interface pointer would: by panicking.
type brokenHost struct {
	*wasapitest.Host
}

func (h brokenHost) NewDeviceEnumerator() (wasapi.DeviceEnumerator, error) {
	panic("nil IMMDeviceEnumerator")
}

func TestFanOutSnapshotPanicFailsRun(t *testing.T) {
	host := wasapitest.NewHost(wasapitest.NewDevice("{a}", wasapi.DeviceStateActive, "Speakers"))
	f := newFanOut(testLogger(), brokenHost{host}, &recordingNotifier{})

	var err error
	require.NotPanics(t, func() {
		err = f.run(context.Background(), testTone(), testPlaybackSettings())
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil IMMDeviceEnumerator")
	assert.Zero(t, host.OpenApartments(), "apartment released while unwinding")
	assert.Empty(t, f.units.snapshot())
}

func TestUnitErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := &unitError{Device: wasapi.DeviceInfo{Index: 2, FriendlyName: "Speakers"}, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "device 2 (Speakers): boom", err.Error())
}
