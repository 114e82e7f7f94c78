//go:build windows

package wasapi

import (
	"fmt"
	"time"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	wca "github.com/moutend/go-wca"
)

type comAudioClient struct {
	client    *wca.IAudioClient
	frameSize int
	released  bool
}

func (c *comAudioClient) DevicePeriod() (time.Duration, time.Duration, error) {
	if c.released {
		return 0, 0, ErrReleased
	}

	var def, minimum wca.REFERENCE_TIME
	if err := c.client.GetDevicePeriod(&def, &minimum); err != nil {
		return 0, 0, oleError("IAudioClient.GetDevicePeriod", err)
	}
	return FromReferenceTime(int64(def)), FromReferenceTime(int64(minimum)), nil
}

func (c *comAudioClient) MixFormat() (WaveFormat, error) {
	if c.released {
		return WaveFormat{}, ErrReleased
	}

	var wfx *wca.WAVEFORMATEX
	if err := c.client.GetMixFormat(&wfx); err != nil {
		return WaveFormat{}, oleError("IAudioClient.GetMixFormat", err)
	}
	if wfx == nil {
		panic("wasapi: GetMixFormat succeeded without a format")
	}
	defer ole.CoTaskMemFree(uintptr(unsafe.Pointer(wfx)))

	return copyWaveFormat(wfx)
}

func (c *comAudioClient) IsFormatSupported(mode ShareMode, candidate WaveFormat) (bool, *WaveFormat, error) {
	if c.released {
		return false, nil, ErrReleased
	}

	raw, err := candidate.MarshalBinary()
	if err != nil {
		return false, nil, err
	}

	// exclusive mode must not ask for a closest match
	var closest *wca.WAVEFORMATEX
	var closestOut **wca.WAVEFORMATEX
	if mode == ShareModeShared {
		closestOut = &closest
	}

	err = c.client.IsFormatSupported(uint32(mode), (*wca.WAVEFORMATEX)(unsafe.Pointer(&raw[0])), closestOut)
	if closest != nil {
		defer ole.CoTaskMemFree(uintptr(unsafe.Pointer(closest)))
	}

	status := S_OK
	if err != nil {
		oerr := oleError("IAudioClient.IsFormatSupported", err)
		code, ok := Status(oerr)
		if !ok {
			return false, nil, oerr
		}
		status = code
	}

	switch status {
	case S_OK:
		return true, nil, nil
	case S_FALSE:
		if closest == nil {
			return false, nil, nil
		}
		match, err := copyWaveFormat(closest)
		if err != nil {
			return false, nil, err
		}
		return false, &match, nil
	case AUDCLNT_E_UNSUPPORTED_FORMAT:
		return false, nil, nil
	}
	return false, nil, NewError("IAudioClient.IsFormatSupported", status)
}

func (c *comAudioClient) Initialize(mode ShareMode, bufferDuration, periodDuration time.Duration, format WaveFormat) error {
	if c.released {
		return ErrReleased
	}

	raw, err := format.MarshalBinary()
	if err != nil {
		return err
	}

	if err := c.client.Initialize(
		uint32(mode),
		wca.AUDCLNT_STREAMFLAGS_EVENTCALLBACK,
		wca.REFERENCE_TIME(ToReferenceTime(bufferDuration)),
		wca.REFERENCE_TIME(ToReferenceTime(periodDuration)),
		(*wca.WAVEFORMATEX)(unsafe.Pointer(&raw[0])),
		nil,
	); err != nil {
		return oleError("IAudioClient.Initialize", err)
	}

	c.frameSize = format.FrameSize()
	return nil
}

func (c *comAudioClient) SetEventHandle(event Event) error {
	if c.released {
		return ErrReleased
	}
	return oleError("IAudioClient.SetEventHandle", c.client.SetEventHandle(event.Handle()))
}

func (c *comAudioClient) BufferSize() (uint32, error) {
	if c.released {
		return 0, ErrReleased
	}

	var frames uint32
	if err := c.client.GetBufferSize(&frames); err != nil {
		return 0, oleError("IAudioClient.GetBufferSize", err)
	}
	return frames, nil
}

func (c *comAudioClient) CurrentPadding() (uint32, error) {
	if c.released {
		return 0, ErrReleased
	}

	var frames uint32
	if err := c.client.GetCurrentPadding(&frames); err != nil {
		return 0, oleError("IAudioClient.GetCurrentPadding", err)
	}
	return frames, nil
}

func (c *comAudioClient) RenderClient() (RenderClient, error) {
	if c.released {
		return nil, ErrReleased
	}
	if c.frameSize == 0 {
		return nil, NewError("IAudioClient.GetService", AUDCLNT_E_NOT_INITIALIZED)
	}

	var rc *wca.IAudioRenderClient
	if err := c.client.GetService(wca.IID_IAudioRenderClient, &rc); err != nil {
		return nil, oleError("IAudioClient.GetService", err)
	}
	if rc == nil {
		panic("wasapi: GetService succeeded without a render client")
	}
	return &comRenderClient{rc: rc, frameSize: c.frameSize}, nil
}

func (c *comAudioClient) Start() error {
	if c.released {
		return ErrReleased
	}
	return oleError("IAudioClient.Start", c.client.Start())
}

func (c *comAudioClient) Stop() error {
	if c.released {
		return ErrReleased
	}
	return oleError("IAudioClient.Stop", c.client.Stop())
}

func (c *comAudioClient) Release() {
	if c.released {
		return
	}
	c.released = true
	c.client.Release()
}

type comRenderClient struct {
	rc        *wca.IAudioRenderClient
	frameSize int
	released  bool
}

func (r *comRenderClient) GetBuffer(frames uint32) ([]byte, error) {
	if r.released {
		return nil, ErrReleased
	}
	if frames == 0 {
		return nil, ErrZeroFrameLease
	}

	var data *byte
	if err := r.rc.GetBuffer(frames, &data); err != nil {
		return nil, oleError("IAudioRenderClient.GetBuffer", err)
	}
	if data == nil {
		return nil, nil
	}
	return unsafe.Slice(data, int(frames)*r.frameSize), nil
}

func (r *comRenderClient) ReleaseBuffer(frames uint32) error {
	if r.released {
		return ErrReleased
	}
	return oleError("IAudioRenderClient.ReleaseBuffer", r.rc.ReleaseBuffer(frames, 0))
}

func (r *comRenderClient) Release() {
	if r.released {
		return
	}
	r.released = true
	r.rc.Release()
}

// copyWaveFormat copies an OS-owned descriptor, including its cbSize tail.
func copyWaveFormat(wfx *wca.WAVEFORMATEX) (WaveFormat, error) {
	cbSize := *(*uint16)(unsafe.Add(unsafe.Pointer(wfx), 16))
	size := waveFormatExSize + int(cbSize)

	f, err := ParseWaveFormat(unsafe.Slice((*byte)(unsafe.Pointer(wfx)), size))
	if err != nil {
		return WaveFormat{}, fmt.Errorf("copy wave format: %w", err)
	}
	return f, nil
}
