// Package render drives one audio client through its lifecycle and keeps its
// hardware buffer supplied from a looping cursor.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/blarehq/blare/pkg/blare/wasapi"
)

// State is the lifecycle state of a Session.
type State int

// Session states. Initialized is entered at most once; Started and Stopped
// may alternate afterwards.
const (
	StateUninitialized State = iota
	StateInitialized
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("render: session already initialized")

	// ErrInvalidTransition is returned when an operation is not valid in the
	// current state.
	ErrInvalidTransition = errors.New("render: invalid session state transition")

	// ErrNoEventHandle is returned when starting without a registered event.
	ErrNoEventHandle = errors.New("render: no event handle registered")

	// ErrNoRenderClient is returned when filling before OpenRenderClient.
	ErrNoRenderClient = errors.New("render: render client not opened")

	// ErrPaddingOverflow is returned when the device reports more queued
	// frames than its buffer holds.
	ErrPaddingOverflow = errors.New("render: padding exceeds buffer size")

	// ErrChannelMismatch is returned when the cursor and the device format
	// disagree on the frame layout.
	ErrChannelMismatch = errors.New("render: cursor channels do not match device format")

	// ErrClosed is returned by calls on a closed session.
	ErrClosed = errors.New("render: session closed")
)

// Options tune the fill loop.
type Options struct {
	// WaitTimeout bounds each wait for the buffer event. A timed-out wait is
	// counted as a stall and the loop keeps waiting. Zero waits without bound.
	WaitTimeout time.Duration
}

// Session owns one audio client, its render client and its buffer event.
// It must only be used from the goroutine that created it.
type Session struct {
	logger *zap.SugaredLogger
	client wasapi.AudioClient
	opts   Options

	state    State
	closed   bool
	format   wasapi.WaveFormat
	encoding wasapi.SampleEncoding
	event    wasapi.Event
	render   wasapi.RenderClient

	scratch []float32
	stalls  int
	wraps   int
}

// NewSession wraps client. The session owns client from now on and releases
// it on Close.
func NewSession(logger *zap.SugaredLogger, client wasapi.AudioClient, opts Options) *Session {
	return &Session{
		logger: logger.Named("session"),
		client: client,
		opts:   opts,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Format returns the format the session was initialized with.
func (s *Session) Format() wasapi.WaveFormat {
	return s.format
}

// Stalls returns how many waits timed out without a buffer event.
func (s *Session) Stalls() int {
	return s.stalls
}

// Initialize opens the stream in event-callback mode. periodDuration must not
// exceed bufferDuration and neither may be below the device minimum period;
// violations fail without clamping. Negative durations are a programming
// error and panic.
func (s *Session) Initialize(mode wasapi.ShareMode, bufferDuration, periodDuration time.Duration, format wasapi.WaveFormat) error {
	if bufferDuration < 0 || periodDuration < 0 {
		panic(fmt.Sprintf("render: negative duration (buffer %s, period %s)", bufferDuration, periodDuration))
	}
	if s.closed {
		return ErrClosed
	}
	if s.state != StateUninitialized {
		return ErrAlreadyInitialized
	}

	enc, err := format.Encoding()
	if err != nil {
		s.logger.Warnw("Unsupported device format", "format", format, "error", err)
		return fmt.Errorf("initialize session: %w", err)
	}

	_, minimum, err := s.client.DevicePeriod()
	if err != nil {
		return fmt.Errorf("get device period: %w", err)
	}

	if periodDuration > bufferDuration {
		s.logger.Warnw("Period exceeds buffer duration", "period", periodDuration, "buffer", bufferDuration)
		return wasapi.NewError("IAudioClient.Initialize", wasapi.E_INVALIDARG)
	}
	if bufferDuration < minimum || periodDuration < minimum {
		s.logger.Warnw("Duration below device minimum period",
			"period", periodDuration,
			"buffer", bufferDuration,
			"minimum", minimum)
		return wasapi.NewError("IAudioClient.Initialize", wasapi.AUDCLNT_E_INVALID_DEVICE_PERIOD)
	}

	if err := s.client.Initialize(mode, bufferDuration, periodDuration, format); err != nil {
		s.logger.Warnw("Failed to initialize audio client", "mode", mode, "format", format, "error", err)
		return fmt.Errorf("initialize audio client: %w", err)
	}

	s.state = StateInitialized
	s.format = format
	s.encoding = enc

	s.logger.Debugw("Initialized session",
		"mode", mode,
		"format", format,
		"buffer", bufferDuration,
		"period", periodDuration)

	return nil
}

// SetEventHandle registers the event signaled once per device period. The
// session owns the event afterwards. Registering the same event again is a
// no-op.
func (s *Session) SetEventHandle(event wasapi.Event) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	if s.event == event {
		return nil
	}

	if err := s.client.SetEventHandle(event); err != nil {
		return fmt.Errorf("set event handle: %w", err)
	}

	if s.event != nil {
		if err := s.event.Close(); err != nil {
			s.logger.Debugw("Failed to close replaced event", "error", err)
		}
	}
	s.event = event
	return nil
}

// OpenRenderClient obtains the buffer writer of the stream.
func (s *Session) OpenRenderClient() error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	if s.render != nil {
		return nil
	}

	rc, err := s.client.RenderClient()
	if err != nil {
		return fmt.Errorf("get render client: %w", err)
	}
	s.render = rc
	return nil
}

// Start begins playback from Initialized or Stopped.
func (s *Session) Start() error {
	if s.closed {
		return ErrClosed
	}
	if s.state != StateInitialized && s.state != StateStopped {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, s.state)
	}
	if s.event == nil {
		return ErrNoEventHandle
	}

	if err := s.client.Start(); err != nil {
		return fmt.Errorf("start audio client: %w", err)
	}
	s.state = StateStarted
	return nil
}

// Stop halts playback. Queued frames stay in the buffer.
func (s *Session) Stop() error {
	if s.closed {
		return ErrClosed
	}
	if s.state != StateStarted {
		return fmt.Errorf("%w: stop from %s", ErrInvalidTransition, s.state)
	}

	if err := s.client.Stop(); err != nil {
		return fmt.Errorf("stop audio client: %w", err)
	}
	s.state = StateStopped
	return nil
}

// BufferSize returns the endpoint buffer size in frames.
func (s *Session) BufferSize() (uint32, error) {
	return s.client.BufferSize()
}

// CurrentPadding returns the frames queued and not yet played.
func (s *Session) CurrentPadding() (uint32, error) {
	return s.client.CurrentPadding()
}

// Available returns the free capacity of the buffer in frames.
func (s *Session) Available() (uint32, error) {
	size, err := s.client.BufferSize()
	if err != nil {
		return 0, fmt.Errorf("get buffer size: %w", err)
	}

	padding, err := s.client.CurrentPadding()
	if err != nil {
		return 0, fmt.Errorf("get current padding: %w", err)
	}

	if padding > size {
		return 0, fmt.Errorf("%w: padding %d, size %d", ErrPaddingOverflow, padding, size)
	}
	return size - padding, nil
}

// Fill writes every free frame of the buffer from cursor and commits them in
// one lease. It returns the number of frames committed, which is zero when
// the buffer is full or the device granted an empty lease.
func (s *Session) Fill(cursor *Cursor) (uint32, error) {
	if err := s.requireInitialized(); err != nil {
		return 0, err
	}
	if s.render == nil {
		return 0, ErrNoRenderClient
	}
	if cursor.Channels() != int(s.format.Channels) {
		return 0, fmt.Errorf("%w: cursor %d, device %d", ErrChannelMismatch, cursor.Channels(), s.format.Channels)
	}

	available, err := s.Available()
	if err != nil {
		return 0, err
	}
	if available == 0 {
		return 0, nil
	}

	region, err := s.render.GetBuffer(available)
	if err != nil {
		return 0, fmt.Errorf("get buffer: %w", err)
	}

	if len(region) == 0 {
		if err := s.render.ReleaseBuffer(0); err != nil {
			return 0, fmt.Errorf("release buffer: %w", err)
		}
		return 0, nil
	}

	frameSize := s.format.FrameSize()
	if len(region) < int(available)*frameSize {
		s.dropLease()
		return 0, fmt.Errorf("get buffer: region of %d bytes for %d frames", len(region), available)
	}

	n := int(available) * cursor.Channels()
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	samples := s.scratch[:n]
	cursor.Read(samples)

	if err := encode(s.encoding, region, samples); err != nil {
		s.dropLease()
		return 0, err
	}

	if err := s.render.ReleaseBuffer(available); err != nil {
		return 0, fmt.Errorf("release buffer: %w", err)
	}

	if cursor.Wraps() != s.wraps {
		s.wraps = cursor.Wraps()
		s.logger.Debugw("Source looped", "wraps", s.wraps)
	}
	return available, nil
}

// dropLease hands an unwritten lease back so the next Fill can take one. The
// fill error is what gets reported.
func (s *Session) dropLease() {
	if err := s.render.ReleaseBuffer(0); err != nil {
		s.logger.Debugw("Failed to drop buffer lease", "error", err)
	}
}

// Run pre-fills the buffer, starts the stream and keeps it supplied until ctx
// is cancelled, at which point the stream is stopped and Run returns nil.
// Any OS failure ends the loop with that error.
func (s *Session) Run(ctx context.Context, cursor *Cursor) error {
	if s.event == nil {
		return ErrNoEventHandle
	}
	if err := s.OpenRenderClient(); err != nil {
		return err
	}

	if _, err := s.Fill(cursor); err != nil {
		s.logger.Warnw("Failed to pre-fill buffer", "error", err)
		return fmt.Errorf("pre-fill buffer: %w", err)
	}

	if err := s.Start(); err != nil {
		s.logger.Warnw("Failed to start session", "error", err)
		return err
	}

	// wake the wait below as soon as ctx is done
	event := s.event
	stopWake := context.AfterFunc(ctx, func() {
		_ = event.Signal()
	})
	defer stopWake()

	s.logger.Debugw("Entering fill loop", "timeout", s.opts.WaitTimeout)

	for {
		fired, err := s.event.Wait(s.opts.WaitTimeout)
		if err != nil {
			return fmt.Errorf("wait for buffer event: %w", err)
		}

		if ctx.Err() != nil {
			s.logger.Debugw("Leaving fill loop", "wraps", s.wraps, "stalls", s.stalls)
			if err := s.Stop(); err != nil {
				return err
			}
			return nil
		}

		if !fired {
			s.stalls++
			s.logger.Debugw("Timed out waiting for buffer event", "stalls", s.stalls)
			continue
		}

		if _, err := s.Fill(cursor); err != nil {
			s.logger.Warnw("Failed to fill buffer", "error", err)
			return err
		}
	}
}

// Close stops a running stream and releases the render client, the audio
// client and the event. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.state == StateStarted {
		err = multierr.Append(err, s.client.Stop())
		s.state = StateStopped
	}

	if s.render != nil {
		s.render.Release()
	}
	s.client.Release()

	if s.event != nil {
		err = multierr.Append(err, s.event.Close())
	}

	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

func (s *Session) requireInitialized() error {
	if s.closed {
		return ErrClosed
	}
	if s.state == StateUninitialized {
		return fmt.Errorf("%w: session not initialized", ErrInvalidTransition)
	}
	return nil
}
