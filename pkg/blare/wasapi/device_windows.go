//go:build windows

package wasapi

import (
	"fmt"
	"unsafe"

	wca "github.com/moutend/go-wca"
	"golang.org/x/sys/windows"
)

var procPropVariantClear = windows.NewLazySystemDLL("ole32.dll").NewProc("PropVariantClear")

type comEnumerator struct {
	enum     *wca.IMMDeviceEnumerator
	released bool
}

func (e *comEnumerator) EnumAudioEndpoints(flow DataFlow, mask DeviceState) (DeviceCollection, error) {
	if e.released {
		return nil, ErrReleased
	}

	var coll *wca.IMMDeviceCollection
	if err := e.enum.EnumAudioEndpoints(uint32(flow), uint32(mask), &coll); err != nil {
		return nil, oleError("EnumAudioEndpoints", err)
	}
	if coll == nil {
		panic("wasapi: EnumAudioEndpoints succeeded without a collection")
	}
	return &comCollection{coll: coll}, nil
}

func (e *comEnumerator) Release() {
	if e.released {
		return
	}
	e.released = true
	e.enum.Release()
}

type comCollection struct {
	coll     *wca.IMMDeviceCollection
	released bool
}

func (c *comCollection) Count() (uint32, error) {
	if c.released {
		return 0, ErrReleased
	}

	var count uint32
	if err := c.coll.GetCount(&count); err != nil {
		return 0, oleError("IMMDeviceCollection.GetCount", err)
	}
	return count, nil
}

func (c *comCollection) Item(index uint32) (Device, error) {
	if c.released {
		return nil, ErrReleased
	}

	var dev *wca.IMMDevice
	if err := c.coll.Item(index, &dev); err != nil {
		return nil, oleError("IMMDeviceCollection.Item", err)
	}
	if dev == nil {
		panic(fmt.Sprintf("wasapi: IMMDeviceCollection.Item(%d) succeeded without a device", index))
	}
	return &comDevice{dev: dev}, nil
}

func (c *comCollection) Release() {
	if c.released {
		return
	}
	c.released = true
	c.coll.Release()
}

type comDevice struct {
	dev      *wca.IMMDevice
	released bool
}

func (d *comDevice) ID() (string, error) {
	if d.released {
		return "", ErrReleased
	}

	var id string
	if err := d.dev.GetId(&id); err != nil {
		return "", oleError("IMMDevice.GetId", err)
	}
	return id, nil
}

func (d *comDevice) State() (DeviceState, error) {
	if d.released {
		return 0, ErrReleased
	}

	var raw uint32
	if err := d.dev.GetState(&raw); err != nil {
		return 0, oleError("IMMDevice.GetState", err)
	}

	state := DeviceState(raw)
	if !state.Valid() {
		return 0, fmt.Errorf("%w: 0x%x", ErrUnknownDeviceState, raw)
	}
	return state, nil
}

func (d *comDevice) OpenPropertyStore(mode StorageAccessMode) (PropertyStore, error) {
	if d.released {
		return nil, ErrReleased
	}

	var store *wca.IPropertyStore
	if err := d.dev.OpenPropertyStore(uint32(mode), &store); err != nil {
		return nil, oleError("IMMDevice.OpenPropertyStore", err)
	}
	if store == nil {
		panic("wasapi: OpenPropertyStore succeeded without a store")
	}
	return &comPropertyStore{store: store}, nil
}

func (d *comDevice) ActivateAudioClient() (AudioClient, error) {
	if d.released {
		return nil, ErrReleased
	}

	var client *wca.IAudioClient
	if err := d.dev.Activate(wca.IID_IAudioClient, wca.CLSCTX_ALL, nil, &client); err != nil {
		return nil, oleError("IMMDevice.Activate", err)
	}
	if client == nil {
		panic("wasapi: Activate succeeded without an audio client")
	}
	return &comAudioClient{client: client}, nil
}

func (d *comDevice) Release() {
	if d.released {
		return
	}
	d.released = true
	d.dev.Release()
}

type comPropertyStore struct {
	store    *wca.IPropertyStore
	released bool
}

func (s *comPropertyStore) Count() (uint32, error) {
	if s.released {
		return 0, ErrReleased
	}

	var count uint32
	if err := s.store.GetCount(&count); err != nil {
		return 0, oleError("IPropertyStore.GetCount", err)
	}
	return count, nil
}

func (s *comPropertyStore) At(index uint32) (PropertyKey, error) {
	if s.released {
		return PropertyKey{}, ErrReleased
	}

	var key wca.PROPERTYKEY
	if err := s.store.GetAt(index, &key); err != nil {
		return PropertyKey{}, oleError("IPropertyStore.GetAt", err)
	}
	return *(*PropertyKey)(unsafe.Pointer(&key)), nil
}

func (s *comPropertyStore) Value(key PropertyKey) (PropValue, error) {
	if s.released {
		return PropValue{}, ErrReleased
	}

	var pv wca.PROPVARIANT
	if err := s.store.GetValue((*wca.PROPERTYKEY)(unsafe.Pointer(&key)), &pv); err != nil {
		return PropValue{}, oleError("IPropertyStore.GetValue", err)
	}
	defer procPropVariantClear.Call(uintptr(unsafe.Pointer(&pv)))

	// vt is the leading field of PROPVARIANT
	vt := *(*uint16)(unsafe.Pointer(&pv))
	if vt != VTLPWStr {
		return PropValue{VT: vt}, nil
	}
	return StringValue(pv.String()), nil
}

func (s *comPropertyStore) Release() {
	if s.released {
		return
	}
	s.released = true
	s.store.Release()
}
