package wasapitest

import (
	"sync"
	"time"

	"github.com/blarehq/blare/pkg/blare/wasapi"
)

// AudioClient simulates one endpoint stream. Padding grows when frames are
// committed and shrinks when Tick plays a period.
type AudioClient struct {
	mu sync.Mutex

	Mix           wasapi.WaveFormat
	DefaultPeriod time.Duration
	MinimumPeriod time.Duration

	// Supports decides IsFormatSupported. By default only the mix format is
	// accepted and shared mode proposes it as the closest match.
	Supports func(mode wasapi.ShareMode, f wasapi.WaveFormat) (bool, *wasapi.WaveFormat)

	// BufferFrames overrides the buffer size derived at Initialize.
	BufferFrames uint32

	// EmptyLease makes GetBuffer succeed without a region.
	EmptyLease bool

	// ShortLease makes GetBuffer return a region one frame shorter than
	// asked for.
	ShortLease bool

	InitializeErr    error
	StartErr         error
	PaddingErr       error
	GetBufferErr     error
	ReleaseBufferErr error

	initialized bool
	started     bool
	released    bool
	mode        wasapi.ShareMode
	format      wasapi.WaveFormat
	bufferDur   time.Duration
	periodDur   time.Duration
	size        uint32
	padding     uint32
	event       wasapi.Event

	leased  uint32
	leasing bool
	leases  []uint32
	written []byte
	starts  int
	stops   int
}

var _ wasapi.AudioClient = (*AudioClient)(nil)

// NewAudioClient returns a client with the given mix format and a 10ms
// default, 3ms minimum period.
func NewAudioClient(mix wasapi.WaveFormat) *AudioClient {
	return &AudioClient{
		Mix:           mix,
		DefaultPeriod: 10 * time.Millisecond,
		MinimumPeriod: 3 * time.Millisecond,
	}
}

func (c *AudioClient) DevicePeriod() (time.Duration, time.Duration, error) {
	return c.DefaultPeriod, c.MinimumPeriod, nil
}

func (c *AudioClient) MixFormat() (wasapi.WaveFormat, error) {
	return c.Mix, nil
}

func (c *AudioClient) IsFormatSupported(mode wasapi.ShareMode, candidate wasapi.WaveFormat) (bool, *wasapi.WaveFormat, error) {
	if c.Supports != nil {
		ok, closest := c.Supports(mode, candidate)
		return ok, closest, nil
	}

	if candidate == c.Mix {
		return true, nil, nil
	}
	if mode == wasapi.ShareModeShared {
		mix := c.Mix
		return false, &mix, nil
	}
	return false, nil, nil
}

func (c *AudioClient) Initialize(mode wasapi.ShareMode, bufferDuration, periodDuration time.Duration, format wasapi.WaveFormat) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.InitializeErr != nil {
		return c.InitializeErr
	}
	if c.initialized {
		return wasapi.NewError("IAudioClient.Initialize", wasapi.AUDCLNT_E_ALREADY_INITIALIZED)
	}

	c.initialized = true
	c.mode = mode
	c.format = format
	c.bufferDur = bufferDuration
	c.periodDur = periodDuration
	c.size = wasapi.FramesForDuration(bufferDuration, format.SampleRate)
	if c.BufferFrames != 0 {
		c.size = c.BufferFrames
	}
	return nil
}

func (c *AudioClient) SetEventHandle(event wasapi.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return wasapi.NewError("IAudioClient.SetEventHandle", wasapi.AUDCLNT_E_NOT_INITIALIZED)
	}
	c.event = event
	return nil
}

func (c *AudioClient) BufferSize() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return 0, wasapi.NewError("IAudioClient.GetBufferSize", wasapi.AUDCLNT_E_NOT_INITIALIZED)
	}
	return c.size, nil
}

func (c *AudioClient) CurrentPadding() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.PaddingErr != nil {
		return 0, c.PaddingErr
	}
	if !c.initialized {
		return 0, wasapi.NewError("IAudioClient.GetCurrentPadding", wasapi.AUDCLNT_E_NOT_INITIALIZED)
	}
	return c.padding, nil
}

func (c *AudioClient) RenderClient() (wasapi.RenderClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return nil, wasapi.NewError("IAudioClient.GetService", wasapi.AUDCLNT_E_NOT_INITIALIZED)
	}
	return &renderClient{client: c}, nil
}

func (c *AudioClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.StartErr != nil {
		return c.StartErr
	}
	if !c.initialized {
		return wasapi.NewError("IAudioClient.Start", wasapi.AUDCLNT_E_NOT_INITIALIZED)
	}
	if c.event == nil {
		return wasapi.NewError("IAudioClient.Start", wasapi.AUDCLNT_E_EVENTHANDLE_NOT_SET)
	}
	if c.started {
		return wasapi.NewError("IAudioClient.Start", wasapi.AUDCLNT_E_NOT_STOPPED)
	}
	c.started = true
	c.starts++
	return nil
}

func (c *AudioClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.started = false
	c.stops++
	return nil
}

func (c *AudioClient) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
}

// SetPaddingErr makes CurrentPadding fail from now on. It is safe to call
// while a session runs.
func (c *AudioClient) SetPaddingErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PaddingErr = err
}

// Tick plays up to one period of queued frames and signals the event, the
// way the audio engine does once per device period. It returns the frames
// played.
func (c *AudioClient) Tick() uint32 {
	c.mu.Lock()
	frames := wasapi.FramesForDuration(c.periodDur, c.format.SampleRate)
	if frames > c.padding {
		frames = c.padding
	}
	c.padding -= frames
	event := c.event
	c.mu.Unlock()

	if event != nil {
		_ = event.Signal()
	}
	return frames
}

// Play removes frames from the queue without signaling.
func (c *AudioClient) Play(frames uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if frames > c.padding {
		frames = c.padding
	}
	c.padding -= frames
}

// Initialized returns the parameters passed to Initialize.
func (c *AudioClient) Initialized() (mode wasapi.ShareMode, buffer, period time.Duration, format wasapi.WaveFormat, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode, c.bufferDur, c.periodDur, c.format, c.initialized
}

// Started reports whether the stream is running.
func (c *AudioClient) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Transitions returns how many times the stream was started and stopped.
func (c *AudioClient) Transitions() (starts, stops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops
}

// Released reports whether Release was called.
func (c *AudioClient) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Leases returns the frame count of every lease granted so far.
func (c *AudioClient) Leases() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint32(nil), c.leases...)
}

// Written returns a copy of every committed byte, in order.
func (c *AudioClient) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written...)
}

type renderClient struct {
	client *AudioClient
	region []byte
}

func (r *renderClient) GetBuffer(frames uint32) ([]byte, error) {
	c := r.client
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.GetBufferErr != nil:
		return nil, c.GetBufferErr
	case frames == 0:
		return nil, wasapi.ErrZeroFrameLease
	case c.leasing:
		return nil, wasapi.NewError("IAudioRenderClient.GetBuffer", wasapi.AUDCLNT_E_OUT_OF_ORDER)
	case frames > c.size-c.padding:
		return nil, wasapi.NewError("IAudioRenderClient.GetBuffer", wasapi.AUDCLNT_E_BUFFER_TOO_LARGE)
	}

	c.leasing = true
	c.leases = append(c.leases, frames)
	if c.EmptyLease {
		c.leased = 0
		r.region = nil
		return nil, nil
	}

	c.leased = frames
	r.region = make([]byte, int(frames)*c.format.FrameSize())
	if c.ShortLease {
		return r.region[c.format.FrameSize():], nil
	}
	return r.region, nil
}

func (r *renderClient) ReleaseBuffer(frames uint32) error {
	c := r.client
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ReleaseBufferErr != nil {
		return c.ReleaseBufferErr
	}
	if !c.leasing {
		return wasapi.NewError("IAudioRenderClient.ReleaseBuffer", wasapi.AUDCLNT_E_OUT_OF_ORDER)
	}
	if frames > c.leased {
		return wasapi.NewError("IAudioRenderClient.ReleaseBuffer", wasapi.AUDCLNT_E_INVALID_SIZE)
	}

	c.leasing = false
	c.written = append(c.written, r.region[:int(frames)*c.format.FrameSize()]...)
	c.padding += frames
	r.region = nil
	return nil
}

func (r *renderClient) Release() {}
