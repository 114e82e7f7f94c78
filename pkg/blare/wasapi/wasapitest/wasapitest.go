// Package wasapitest provides in-memory implementations of the wasapi
// interfaces: a host with scripted devices, audio clients that simulate a
// hardware ring buffer, and channel-backed events.
package wasapitest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blarehq/blare/pkg/blare/wasapi"
)

// Host is a fake wasapi.Host over a fixed device list.
type Host struct {
	mu      sync.Mutex
	devices []*Device

	// EnumerateErr, when set, fails every enumeration.
	EnumerateErr error

	apartments atomic.Int64
	entered    atomic.Int64
}

var _ wasapi.Host = (*Host)(nil)

// NewHost returns a host exposing devices in order.
func NewHost(devices ...*Device) *Host {
	return &Host{devices: devices}
}

// AddDevice appends a device to the host.
func (h *Host) AddDevice(d *Device) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices = append(h.devices, d)
}

// OpenApartments returns how many apartments are entered and not released.
func (h *Host) OpenApartments() int {
	return int(h.apartments.Load())
}

// EnteredApartments returns how many apartments were entered in total.
func (h *Host) EnteredApartments() int {
	return int(h.entered.Load())
}

func (h *Host) EnterApartment() (wasapi.Apartment, error) {
	h.apartments.Add(1)
	h.entered.Add(1)
	return &apartment{host: h}, nil
}

func (h *Host) NewDeviceEnumerator() (wasapi.DeviceEnumerator, error) {
	return &enumerator{host: h}, nil
}

func (h *Host) NewEvent() (wasapi.Event, error) {
	return NewEvent(), nil
}

type apartment struct {
	host     *Host
	released bool
}

func (a *apartment) Release() {
	if a.released {
		return
	}
	a.released = true
	a.host.apartments.Add(-1)
}

type enumerator struct {
	host *Host
}

func (e *enumerator) EnumAudioEndpoints(flow wasapi.DataFlow, mask wasapi.DeviceState) (wasapi.DeviceCollection, error) {
	e.host.mu.Lock()
	defer e.host.mu.Unlock()

	if e.host.EnumerateErr != nil {
		return nil, e.host.EnumerateErr
	}

	matched := []*Device{}
	for _, d := range e.host.devices {
		if flow != wasapi.FlowAll && d.Flow != flow {
			continue
		}
		if !d.StateValue.Matches(mask) {
			continue
		}
		matched = append(matched, d)
	}
	return &collection{devices: matched}, nil
}

func (e *enumerator) Release() {}

type collection struct {
	devices []*Device
}

func (c *collection) Count() (uint32, error) {
	return uint32(len(c.devices)), nil
}

func (c *collection) Item(index uint32) (wasapi.Device, error) {
	if int(index) >= len(c.devices) {
		return nil, wasapi.NewError("IMMDeviceCollection.Item", wasapi.E_INVALIDARG)
	}

	d := c.devices[index]
	if d.Gone {
		return nil, wasapi.NewError("IMMDeviceCollection.Item", wasapi.E_NOTFOUND)
	}
	d.opened.Add(1)
	return &deviceHandle{Device: d}, nil
}

func (c *collection) Release() {}

// Device is a scripted endpoint.
type Device struct {
	DeviceID   string
	StateValue wasapi.DeviceState
	Flow       wasapi.DataFlow
	Properties []Property

	// Client is returned by every activation.
	Client *AudioClient

	// Gone makes Item fail as if the device disappeared after enumeration.
	Gone bool

	ActivateErr error

	opened   atomic.Int64
	released atomic.Int64
}

// Property is one entry of a device property store.
type Property struct {
	Key   wasapi.PropertyKey
	Value wasapi.PropValue
}

// NewDevice returns a render device in state with a friendly name and a
// default float32 stereo 48kHz client.
func NewDevice(id string, state wasapi.DeviceState, name string) *Device {
	return &Device{
		DeviceID:   id,
		StateValue: state,
		Flow:       wasapi.FlowRender,
		Properties: []Property{
			{Key: wasapi.PKeyDeviceFriendlyName, Value: wasapi.StringValue(name)},
			{Key: wasapi.PKeyDeviceDesc, Value: wasapi.StringValue("Speakers")},
		},
		Client: NewAudioClient(wasapi.NewWaveFormat(wasapi.EncodingFloat32, 2, 48000, true)),
	}
}

// Handles returns how many handles were opened and released.
func (d *Device) Handles() (opened, released int) {
	return int(d.opened.Load()), int(d.released.Load())
}

type deviceHandle struct {
	*Device
	done bool
}

func (h *deviceHandle) ID() (string, error) {
	return h.DeviceID, nil
}

func (h *deviceHandle) State() (wasapi.DeviceState, error) {
	if !h.StateValue.Valid() {
		return 0, fmt.Errorf("%w: 0x%x", wasapi.ErrUnknownDeviceState, uint32(h.StateValue))
	}
	return h.StateValue, nil
}

func (h *deviceHandle) OpenPropertyStore(mode wasapi.StorageAccessMode) (wasapi.PropertyStore, error) {
	return &propertyStore{props: h.Properties}, nil
}

func (h *deviceHandle) ActivateAudioClient() (wasapi.AudioClient, error) {
	if h.ActivateErr != nil {
		return nil, h.ActivateErr
	}
	if h.Client == nil {
		return nil, wasapi.NewError("IMMDevice.Activate", wasapi.AUDCLNT_E_DEVICE_INVALIDATED)
	}
	return h.Client, nil
}

func (h *deviceHandle) Release() {
	if h.done {
		return
	}
	h.done = true
	h.released.Add(1)
}

type propertyStore struct {
	props []Property
}

func (s *propertyStore) Count() (uint32, error) {
	return uint32(len(s.props)), nil
}

func (s *propertyStore) At(index uint32) (wasapi.PropertyKey, error) {
	if int(index) >= len(s.props) {
		return wasapi.PropertyKey{}, wasapi.NewError("IPropertyStore.GetAt", wasapi.E_INVALIDARG)
	}
	return s.props[index].Key, nil
}

func (s *propertyStore) Value(key wasapi.PropertyKey) (wasapi.PropValue, error) {
	for _, p := range s.props {
		if p.Key == key {
			return p.Value, nil
		}
	}
	return wasapi.PropValue{VT: wasapi.VTEmpty}, nil
}

func (s *propertyStore) Release() {}

// Event is a channel-backed auto-reset event.
type Event struct {
	ch     chan struct{}
	handle uintptr
	closed atomic.Bool
}

var nextHandle atomic.Uintptr

// NewEvent returns an unsignaled event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{}, 1), handle: nextHandle.Add(1)}
}

func (e *Event) Handle() uintptr {
	return e.handle
}

func (e *Event) Wait(timeout time.Duration) (bool, error) {
	if e.closed.Load() {
		return false, wasapi.ErrReleased
	}

	if timeout <= 0 {
		<-e.ch
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.ch:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func (e *Event) Signal() error {
	if e.closed.Load() {
		return wasapi.ErrReleased
	}
	select {
	case e.ch <- struct{}{}:
	default:
	}
	return nil
}

func (e *Event) Close() error {
	e.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (e *Event) Closed() bool {
	return e.closed.Load()
}
