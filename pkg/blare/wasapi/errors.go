package wasapi

import (
	"errors"
	"fmt"
)

// HRESULT values surfaced by the audio stack.
const (
	S_OK    uint32 = 0x00000000
	S_FALSE uint32 = 0x00000001

	E_POINTER     uint32 = 0x80004003
	E_NOTIMPL     uint32 = 0x80004001
	E_INVALIDARG  uint32 = 0x80070057
	E_NOTFOUND    uint32 = 0x80070490
	E_OUTOFMEMORY uint32 = 0x8007000E

	RPC_E_CHANGED_MODE uint32 = 0x80010106

	AUDCLNT_E_NOT_INITIALIZED          uint32 = 0x88890001
	AUDCLNT_E_ALREADY_INITIALIZED      uint32 = 0x88890002
	AUDCLNT_E_WRONG_ENDPOINT_TYPE      uint32 = 0x88890003
	AUDCLNT_E_DEVICE_INVALIDATED       uint32 = 0x88890004
	AUDCLNT_E_NOT_STOPPED              uint32 = 0x88890005
	AUDCLNT_E_BUFFER_TOO_LARGE         uint32 = 0x88890006
	AUDCLNT_E_OUT_OF_ORDER             uint32 = 0x88890007
	AUDCLNT_E_UNSUPPORTED_FORMAT       uint32 = 0x88890008
	AUDCLNT_E_INVALID_SIZE             uint32 = 0x88890009
	AUDCLNT_E_DEVICE_IN_USE            uint32 = 0x8889000A
	AUDCLNT_E_EVENTHANDLE_NOT_SET      uint32 = 0x88890014
	AUDCLNT_E_BUFFER_SIZE_ERROR        uint32 = 0x88890016
	AUDCLNT_E_BUFFER_ERROR             uint32 = 0x88890018
	AUDCLNT_E_INVALID_DEVICE_PERIOD    uint32 = 0x88890020
	AUDCLNT_E_BUFFER_OPERATION_PENDING uint32 = 0x8889000B
)

// Error is a failed OS call. Code carries the raw HRESULT.
type Error struct {
	Op   string
	Code uint32
}

// NewError builds an Error for op with the given status.
func NewError(op string, code uint32) *Error {
	return &Error{Op: op, Code: code}
}

func (e *Error) Error() string {
	if name, ok := hresultNames[e.Code]; ok {
		return fmt.Sprintf("wasapi: %s: %s (0x%08X)", e.Op, name, e.Code)
	}
	return fmt.Sprintf("wasapi: %s: HRESULT 0x%08X", e.Op, e.Code)
}

// Is matches another *Error with the same code. A target with an empty Op
// matches any operation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && (t.Op == "" || t.Op == e.Op)
}

// Status extracts the HRESULT from err, if it carries one.
func Status(err error) (uint32, bool) {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Code, true
	}
	return 0, false
}

// HasStatus reports whether err carries the given HRESULT.
func HasStatus(err error, code uint32) bool {
	got, ok := Status(err)
	return ok && got == code
}

var hresultNames = map[uint32]string{
	E_POINTER:                          "E_POINTER",
	E_NOTIMPL:                          "E_NOTIMPL",
	E_INVALIDARG:                       "E_INVALIDARG",
	E_NOTFOUND:                         "E_NOTFOUND",
	E_OUTOFMEMORY:                      "E_OUTOFMEMORY",
	RPC_E_CHANGED_MODE:                 "RPC_E_CHANGED_MODE",
	AUDCLNT_E_NOT_INITIALIZED:          "AUDCLNT_E_NOT_INITIALIZED",
	AUDCLNT_E_ALREADY_INITIALIZED:      "AUDCLNT_E_ALREADY_INITIALIZED",
	AUDCLNT_E_WRONG_ENDPOINT_TYPE:      "AUDCLNT_E_WRONG_ENDPOINT_TYPE",
	AUDCLNT_E_DEVICE_INVALIDATED:       "AUDCLNT_E_DEVICE_INVALIDATED",
	AUDCLNT_E_NOT_STOPPED:              "AUDCLNT_E_NOT_STOPPED",
	AUDCLNT_E_BUFFER_TOO_LARGE:         "AUDCLNT_E_BUFFER_TOO_LARGE",
	AUDCLNT_E_OUT_OF_ORDER:             "AUDCLNT_E_OUT_OF_ORDER",
	AUDCLNT_E_UNSUPPORTED_FORMAT:       "AUDCLNT_E_UNSUPPORTED_FORMAT",
	AUDCLNT_E_INVALID_SIZE:             "AUDCLNT_E_INVALID_SIZE",
	AUDCLNT_E_DEVICE_IN_USE:            "AUDCLNT_E_DEVICE_IN_USE",
	AUDCLNT_E_EVENTHANDLE_NOT_SET:      "AUDCLNT_E_EVENTHANDLE_NOT_SET",
	AUDCLNT_E_BUFFER_SIZE_ERROR:        "AUDCLNT_E_BUFFER_SIZE_ERROR",
	AUDCLNT_E_BUFFER_ERROR:             "AUDCLNT_E_BUFFER_ERROR",
	AUDCLNT_E_INVALID_DEVICE_PERIOD:    "AUDCLNT_E_INVALID_DEVICE_PERIOD",
	AUDCLNT_E_BUFFER_OPERATION_PENDING: "AUDCLNT_E_BUFFER_OPERATION_PENDING",
}

var (
	// ErrUnknownDeviceState is returned when the OS reports a state outside
	// the four defined values.
	ErrUnknownDeviceState = errors.New("wasapi: unknown device state")

	// ErrZeroFrameLease is returned when a lease of zero frames is requested.
	ErrZeroFrameLease = errors.New("wasapi: zero-frame buffer lease requested")

	// ErrReleased is returned by calls on an object that was already released.
	ErrReleased = errors.New("wasapi: object already released")

	// ErrUnsupportedPlatform is returned by NewHost outside Windows.
	ErrUnsupportedPlatform = errors.New("wasapi: core audio is only available on windows")
)
