package wasapi

import "time"

// Host is the entry point into the OS audio stack.
type Host interface {
	// EnterApartment binds the calling OS thread to COM. The caller must keep
	// the goroutine locked to its thread until the apartment is released.
	EnterApartment() (Apartment, error)

	// NewDeviceEnumerator creates a device enumerator on the current apartment.
	NewDeviceEnumerator() (DeviceEnumerator, error)

	// NewEvent creates an auto-reset kernel event for buffer notifications.
	NewEvent() (Event, error)
}

// Apartment is a per-thread COM initialization guard.
type Apartment interface {
	Release()
}

// DeviceEnumerator discovers audio endpoints.
type DeviceEnumerator interface {
	EnumAudioEndpoints(flow DataFlow, mask DeviceState) (DeviceCollection, error)
	Release()
}

// DeviceCollection is a snapshot of endpoints taken at enumeration time.
type DeviceCollection interface {
	Count() (uint32, error)

	// Item returns the device at index. It fails when the index is out of
	// range or the device disappeared since enumeration.
	Item(index uint32) (Device, error)

	Release()
}

// Device is one audio endpoint.
type Device interface {
	ID() (string, error)
	State() (DeviceState, error)
	OpenPropertyStore(mode StorageAccessMode) (PropertyStore, error)
	ActivateAudioClient() (AudioClient, error)
	Release()
}

// PropertyStore exposes the property bag of a device.
type PropertyStore interface {
	Count() (uint32, error)
	At(index uint32) (PropertyKey, error)
	Value(key PropertyKey) (PropValue, error)
	Release()
}

// AudioClient is one stream connection to an endpoint.
type AudioClient interface {
	// DevicePeriod returns the default and minimum scheduling periods.
	DevicePeriod() (defaultPeriod, minimumPeriod time.Duration, err error)

	// MixFormat returns the endpoint's shared-mode format. It can be called
	// before Initialize.
	MixFormat() (WaveFormat, error)

	// IsFormatSupported reports whether candidate can be used in mode. In
	// shared mode the OS may propose a closest match.
	IsFormatSupported(mode ShareMode, candidate WaveFormat) (bool, *WaveFormat, error)

	// Initialize opens the stream in event-callback mode.
	Initialize(mode ShareMode, bufferDuration, periodDuration time.Duration, format WaveFormat) error

	SetEventHandle(event Event) error
	BufferSize() (uint32, error)
	CurrentPadding() (uint32, error)
	RenderClient() (RenderClient, error)
	Start() error
	Stop() error
	Release()
}

// RenderClient leases regions of the endpoint buffer.
type RenderClient interface {
	// GetBuffer leases frames frames. The returned region may be empty on
	// success, in which case nothing can be written.
	GetBuffer(frames uint32) ([]byte, error)

	// ReleaseBuffer commits frames frames of the current lease.
	ReleaseBuffer(frames uint32) error

	Release()
}

// Event is an auto-reset kernel event.
type Event interface {
	Handle() uintptr

	// Wait blocks until the event is signaled or timeout elapses. A
	// non-positive timeout waits forever. It reports whether the event fired.
	Wait(timeout time.Duration) (bool, error)

	// Signal sets the event, waking one waiter.
	Signal() error

	Close() error
}
