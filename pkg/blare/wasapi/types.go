// Package wasapi wraps the Windows Core Audio (MMDevice + WASAPI) objects that
// blare needs to render audio: the device enumerator and collections, devices
// and their property stores, audio clients and render clients.
//
// The OS objects are exposed through small interfaces so the render path can
// be exercised without a sound card. The COM implementation lives in the
// *_windows.go files and is built on go-ole and go-wca.
package wasapi

import (
	"fmt"
	"strings"
	"time"
)

// DataFlow selects the direction of the endpoints to enumerate.
type DataFlow uint32

// Data flow values, matching EDataFlow.
const (
	FlowRender DataFlow = iota
	FlowCapture
	FlowAll
)

func (f DataFlow) String() string {
	switch f {
	case FlowRender:
		return "render"
	case FlowCapture:
		return "capture"
	case FlowAll:
		return "all"
	}
	return fmt.Sprintf("flow(%d)", uint32(f))
}

// DeviceState is both a single endpoint state and a state mask for enumeration.
type DeviceState uint32

// Device states, matching DEVICE_STATE_XXX.
const (
	DeviceStateActive     DeviceState = 0x1
	DeviceStateDisabled   DeviceState = 0x2
	DeviceStateNotPresent DeviceState = 0x4
	DeviceStateUnplugged  DeviceState = 0x8

	DeviceStateMaskAll DeviceState = 0xF
)

// Valid reports whether s is exactly one of the four defined states.
func (s DeviceState) Valid() bool {
	switch s {
	case DeviceStateActive, DeviceStateDisabled, DeviceStateNotPresent, DeviceStateUnplugged:
		return true
	}
	return false
}

// Matches reports whether a single state is selected by the mask.
func (s DeviceState) Matches(mask DeviceState) bool {
	return s&mask != 0
}

func (s DeviceState) String() string {
	if s == DeviceStateMaskAll {
		return "all"
	}

	names := []string{}
	for _, st := range []struct {
		state DeviceState
		name  string
	}{
		{DeviceStateActive, "active"},
		{DeviceStateDisabled, "disabled"},
		{DeviceStateNotPresent, "not-present"},
		{DeviceStateUnplugged, "unplugged"},
	} {
		if s&st.state != 0 {
			names = append(names, st.name)
		}
	}

	if len(names) == 0 || s&^DeviceStateMaskAll != 0 {
		return fmt.Sprintf("state(0x%x)", uint32(s))
	}
	return strings.Join(names, "|")
}

// ShareMode selects shared or exclusive access to the endpoint.
type ShareMode uint32

// Share modes, matching AUDCLNT_SHAREMODE.
const (
	ShareModeShared ShareMode = iota
	ShareModeExclusive
)

func (m ShareMode) String() string {
	if m == ShareModeExclusive {
		return "exclusive"
	}
	return "shared"
}

// ParseShareMode maps a config value onto a ShareMode.
func ParseShareMode(s string) (ShareMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shared":
		return ShareModeShared, nil
	case "exclusive":
		return ShareModeExclusive, nil
	}
	return ShareModeShared, fmt.Errorf("unknown share mode %q", s)
}

// StorageAccessMode is the access requested when opening a property store.
type StorageAccessMode uint32

// Storage access modes, matching STGM_XXX.
const (
	StorageRead      StorageAccessMode = 0x0
	StorageWrite     StorageAccessMode = 0x1
	StorageReadWrite StorageAccessMode = 0x2
)

// REFERENCE_TIME is expressed in 100ns units.
const referenceTimeUnit = 100 * time.Nanosecond

// ToReferenceTime converts d to 100ns units. Negative durations are a caller
// bug and panic.
func ToReferenceTime(d time.Duration) int64 {
	if d < 0 {
		panic(fmt.Sprintf("wasapi: negative duration %s", d))
	}
	return int64(d / referenceTimeUnit)
}

// FromReferenceTime converts 100ns units to a duration.
func FromReferenceTime(hns int64) time.Duration {
	if hns < 0 {
		panic(fmt.Sprintf("wasapi: negative reference time %d", hns))
	}
	return time.Duration(hns) * referenceTimeUnit
}

// FramesForDuration returns how many frames at rate fit in d, rounded up.
func FramesForDuration(d time.Duration, rate uint32) uint32 {
	if d <= 0 || rate == 0 {
		return 0
	}
	ns := uint64(d) * uint64(rate)
	return uint32((ns + uint64(time.Second) - 1) / uint64(time.Second))
}
