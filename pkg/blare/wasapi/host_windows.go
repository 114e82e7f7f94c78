//go:build windows

package wasapi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	ole "github.com/go-ole/go-ole"
	wca "github.com/moutend/go-wca"
	"golang.org/x/sys/windows"
)

type comHost struct{}

// NewHost returns the Core Audio host.
func NewHost() (Host, error) {
	return comHost{}, nil
}

type comApartment struct {
	released bool
}

func (comHost) EnterApartment() (Apartment, error) {
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		// S_FALSE: already initialized on this thread, still needs a matching uninitialize
		if oleErr, ok := err.(*ole.OleError); !ok || oleErr.Code() != uintptr(S_FALSE) {
			return nil, oleError("CoInitializeEx", err)
		}
	}
	return &comApartment{}, nil
}

func (a *comApartment) Release() {
	if a.released {
		return
	}
	a.released = true
	ole.CoUninitialize()
}

func (comHost) NewDeviceEnumerator() (DeviceEnumerator, error) {
	var enum *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(
		wca.CLSID_MMDeviceEnumerator,
		0,
		wca.CLSCTX_ALL,
		wca.IID_IMMDeviceEnumerator,
		&enum,
	); err != nil {
		return nil, oleError("CoCreateInstance", err)
	}
	if enum == nil {
		panic("wasapi: CoCreateInstance succeeded without an enumerator")
	}
	return &comEnumerator{enum: enum}, nil
}

func (comHost) NewEvent() (Event, error) {
	h, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("wasapi: CreateEvent: %w", err)
	}
	return &kernelEvent{handle: h}, nil
}

// oleError converts a go-ole failure into an *Error carrying its HRESULT.
func oleError(op string, err error) error {
	if err == nil {
		return nil
	}
	var oleErr *ole.OleError
	if errors.As(err, &oleErr) {
		return NewError(op, uint32(oleErr.Code()))
	}
	return fmt.Errorf("wasapi: %s: %w", op, err)
}

const waitTimeout = 0x00000102

// kernelEvent may be signaled from another goroutine while its owner waits.
type kernelEvent struct {
	handle windows.Handle

	mu     sync.Mutex
	closed bool
}

func (e *kernelEvent) Handle() uintptr {
	return uintptr(e.handle)
}

func (e *kernelEvent) Wait(timeout time.Duration) (bool, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return false, ErrReleased
	}

	ms := uint32(windows.INFINITE)
	if timeout > 0 {
		ms = uint32(timeout / time.Millisecond)
	}

	ret, err := windows.WaitForSingleObject(e.handle, ms)
	switch ret {
	case windows.WAIT_OBJECT_0:
		return true, nil
	case waitTimeout:
		return false, nil
	}
	return false, fmt.Errorf("wasapi: WaitForSingleObject returned 0x%x: %w", ret, err)
}

func (e *kernelEvent) Signal() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrReleased
	}
	return windows.SetEvent(e.handle)
}

func (e *kernelEvent) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return windows.CloseHandle(e.handle)
}
