package render

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/blarehq/blare/pkg/blare/wasapi"
	"github.com/blarehq/blare/pkg/blare/wasapi/wasapitest"
)

var stereoFloat = wasapi.NewWaveFormat(wasapi.EncodingFloat32, 2, 48000, true)

func newClient(minimum time.Duration) *wasapitest.AudioClient {
	client := wasapitest.NewAudioClient(stereoFloat)
	client.MinimumPeriod = minimum
	return client
}

// newReadySession returns an initialized session with an event and a render
// client.
func newReadySession(t *testing.T, client *wasapitest.AudioClient, buffer, period time.Duration) (*Session, *wasapitest.Event) {
	t.Helper()

	s := NewSession(zap.NewNop().Sugar(), client, Options{WaitTimeout: time.Second})
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Initialize(wasapi.ShareModeShared, buffer, period, client.Mix))

	event := wasapitest.NewEvent()
	require.NoError(t, s.SetEventHandle(event))
	require.NoError(t, s.OpenRenderClient())
	return s, event
}

func decodeFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func TestInitializePeriodValidation(t *testing.T) {
	tests := []struct {
		name   string
		buffer time.Duration
		period time.Duration
		status uint32
	}{
		{name: "period within buffer", buffer: 100 * time.Millisecond, period: 10 * time.Millisecond},
		{name: "period equals buffer", buffer: 10 * time.Millisecond, period: 10 * time.Millisecond},
		{name: "period below minimum", buffer: 100 * time.Millisecond, period: 5 * time.Millisecond, status: wasapi.AUDCLNT_E_INVALID_DEVICE_PERIOD},
		{name: "buffer below minimum", buffer: 5 * time.Millisecond, period: 5 * time.Millisecond, status: wasapi.AUDCLNT_E_INVALID_DEVICE_PERIOD},
		{name: "period above buffer", buffer: 10 * time.Millisecond, period: 100 * time.Millisecond, status: wasapi.E_INVALIDARG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newClient(10 * time.Millisecond)
			s := NewSession(zap.NewNop().Sugar(), client, Options{})

			err := s.Initialize(wasapi.ShareModeShared, tt.buffer, tt.period, client.Mix)
			if tt.status == 0 {
				require.NoError(t, err)
				assert.Equal(t, StateInitialized, s.State())

				_, buffer, period, _, ok := client.Initialized()
				assert.True(t, ok)
				assert.Equal(t, tt.buffer, buffer, "no clamping")
				assert.Equal(t, tt.period, period, "no clamping")
				return
			}

			require.Error(t, err)
			assert.True(t, wasapi.HasStatus(err, tt.status), "got %v", err)
			assert.Equal(t, StateUninitialized, s.State())

			_, _, _, _, ok := client.Initialized()
			assert.False(t, ok, "OS must not be called")
		})
	}
}

func TestInitializeNegativeDurationPanics(t *testing.T) {
	s := NewSession(zap.NewNop().Sugar(), newClient(time.Millisecond), Options{})

	assert.Panics(t, func() {
		_ = s.Initialize(wasapi.ShareModeShared, -time.Millisecond, 0, stereoFloat)
	})
}

func TestInitializeOnce(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	s := NewSession(zap.NewNop().Sugar(), client, Options{})

	require.NoError(t, s.Initialize(wasapi.ShareModeShared, 10*time.Millisecond, 10*time.Millisecond, client.Mix))
	err := s.Initialize(wasapi.ShareModeShared, 10*time.Millisecond, 10*time.Millisecond, client.Mix)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitializeRejectsUnsupportedEncoding(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	s := NewSession(zap.NewNop().Sugar(), client, Options{})

	f := wasapi.NewWaveFormat(wasapi.EncodingPCM16, 2, 48000, false)
	f.BitsPerSample = 24

	err := s.Initialize(wasapi.ShareModeShared, 10*time.Millisecond, 10*time.Millisecond, f)
	assert.ErrorIs(t, err, wasapi.ErrUnsupportedEncoding)
}

func TestLifecycleTransitions(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	s := NewSession(zap.NewNop().Sugar(), client, Options{})
	defer s.Close()

	assert.ErrorIs(t, s.Start(), ErrInvalidTransition, "start before initialize")
	assert.ErrorIs(t, s.SetEventHandle(wasapitest.NewEvent()), ErrInvalidTransition)

	require.NoError(t, s.Initialize(wasapi.ShareModeShared, 10*time.Millisecond, 10*time.Millisecond, client.Mix))
	assert.ErrorIs(t, s.Stop(), ErrInvalidTransition, "stop before start")
	assert.ErrorIs(t, s.Start(), ErrNoEventHandle)

	event := wasapitest.NewEvent()
	require.NoError(t, s.SetEventHandle(event))
	require.NoError(t, s.SetEventHandle(event), "same event again")

	require.NoError(t, s.Start())
	assert.Equal(t, StateStarted, s.State())
	assert.ErrorIs(t, s.Start(), ErrInvalidTransition)

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())

	require.NoError(t, s.Start(), "resume")
	assert.Equal(t, StateStarted, s.State())

	starts, stops := client.Transitions()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, stops)
}

func TestCloseReleasesOnce(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	s, event := newReadySession(t, client, 10*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, s.Start())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.True(t, client.Released())
	assert.True(t, event.Closed())
	assert.False(t, client.Started())
	assert.ErrorIs(t, s.Start(), ErrClosed)
}

func TestFillAccounting(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	s, _ := newReadySession(t, client, 100*time.Millisecond, 10*time.Millisecond)
	cursor := NewCursor(ramp(1000, 2), 2)

	size, err := s.BufferSize()
	require.NoError(t, err)
	require.Equal(t, uint32(4800), size)

	n, err := s.Fill(cursor)
	require.NoError(t, err)
	assert.Equal(t, size, n, "pre-start fill writes the whole buffer")

	n, err = s.Fill(cursor)
	require.NoError(t, err)
	assert.Zero(t, n, "full buffer skips the write")
	assert.Len(t, client.Leases(), 1, "no lease for a full buffer")

	require.NoError(t, s.Start())
	for _, played := range []uint32{480, 1, 4800, 0, 1234} {
		client.Play(played)

		available, err := s.Available()
		require.NoError(t, err)
		assert.LessOrEqual(t, available, size)

		n, err := s.Fill(cursor)
		require.NoError(t, err)
		assert.Equal(t, available, n)

		padding, err := s.CurrentPadding()
		require.NoError(t, err)
		assert.Equal(t, size, padding)
	}

	for _, lease := range client.Leases() {
		assert.NotZero(t, lease, "zero-frame leases are never requested")
		assert.LessOrEqual(t, lease, size)
	}
}

func TestFillWritesLoopedSource(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	client.BufferFrames = 7
	s, _ := newReadySession(t, client, 10*time.Millisecond, 10*time.Millisecond)

	source := ramp(5, 2)
	cursor := NewCursor(source, 2)

	_, err := s.Fill(cursor)
	require.NoError(t, err)
	client.Play(7)
	_, err = s.Fill(cursor)
	require.NoError(t, err)

	written := decodeFloats(client.Written())
	require.Len(t, written, 14*2)
	for i, v := range written {
		assert.Equal(t, source[i%len(source)], v, "sample %d", i)
	}
	assert.Equal(t, 2, cursor.Wraps())
	assert.Equal(t, 4, cursor.Position())
}

func TestFillEmptyLeaseIsNoop(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	client.EmptyLease = true
	s, _ := newReadySession(t, client, 10*time.Millisecond, 10*time.Millisecond)
	cursor := NewCursor(ramp(10, 2), 2)

	n, err := s.Fill(cursor)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, cursor.Position(), "cursor does not advance")

	padding, err := s.CurrentPadding()
	require.NoError(t, err)
	assert.Zero(t, padding)
}

func TestFillShortRegionDropsLease(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	s, _ := newReadySession(t, client, 10*time.Millisecond, 10*time.Millisecond)
	cursor := NewCursor(ramp(10, 2), 2)

	client.ShortLease = true
	_, err := s.Fill(cursor)
	require.ErrorContains(t, err, "region of")
	assert.Zero(t, cursor.Position())

	// the dropped lease leaves the buffer free for the next fill
	client.ShortLease = false
	n, err := s.Fill(cursor)
	require.NoError(t, err)
	assert.NotZero(t, n)
}

func TestFillLogsFailedLeaseDrop(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	client := newClient(3 * time.Millisecond)

	s := NewSession(zap.New(core).Sugar(), client, Options{WaitTimeout: time.Second})
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Initialize(wasapi.ShareModeShared, 10*time.Millisecond, 10*time.Millisecond, client.Mix))
	require.NoError(t, s.SetEventHandle(wasapitest.NewEvent()))
	require.NoError(t, s.OpenRenderClient())

	client.ShortLease = true
	client.ReleaseBufferErr = wasapi.NewError("IAudioRenderClient.ReleaseBuffer", wasapi.AUDCLNT_E_DEVICE_INVALIDATED)

	_, err := s.Fill(NewCursor(ramp(10, 2), 2))
	require.ErrorContains(t, err, "region of")
	assert.False(t, wasapi.HasStatus(err, wasapi.AUDCLNT_E_DEVICE_INVALIDATED), "fill error wins")

	dropped := logs.FilterMessage("Failed to drop buffer lease").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, zapcore.DebugLevel, dropped[0].Level)
	assert.Contains(t, dropped[0].ContextMap()["error"], "AUDCLNT_E_DEVICE_INVALIDATED")
}

func TestFillPCM16Device(t *testing.T) {
	client := wasapitest.NewAudioClient(wasapi.NewWaveFormat(wasapi.EncodingPCM16, 2, 44100, false))
	client.BufferFrames = 2
	s, _ := newReadySession(t, client, 10*time.Millisecond, 10*time.Millisecond)

	_, err := s.Fill(NewCursor([]float32{1, -1, 0.5, 0}, 2))
	require.NoError(t, err)

	written := client.Written()
	require.Len(t, written, 8)
	assert.Equal(t, int16(32767), int16(binary.LittleEndian.Uint16(written[0:])))
	assert.Equal(t, int16(-32767), int16(binary.LittleEndian.Uint16(written[2:])))
	assert.Equal(t, int16(16383), int16(binary.LittleEndian.Uint16(written[4:])))
}

func TestFillChannelMismatch(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	s, _ := newReadySession(t, client, 10*time.Millisecond, 10*time.Millisecond)

	_, err := s.Fill(NewCursor(ramp(10, 1), 1))
	assert.ErrorIs(t, err, ErrChannelMismatch)
}

func TestFillSurfacesOSFailure(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	s, _ := newReadySession(t, client, 10*time.Millisecond, 10*time.Millisecond)
	client.GetBufferErr = wasapi.NewError("IAudioRenderClient.GetBuffer", wasapi.AUDCLNT_E_DEVICE_INVALIDATED)

	_, err := s.Fill(NewCursor(ramp(10, 2), 2))
	assert.True(t, wasapi.HasStatus(err, wasapi.AUDCLNT_E_DEVICE_INVALIDATED))
}

func TestTwoSecondSourceWrapsTwiceInFiveSeconds(t *testing.T) {
	const rate = 48000
	client := newClient(10 * time.Millisecond)
	s, _ := newReadySession(t, client, 500*time.Millisecond, 10*time.Millisecond)

	cursor := NewCursor(make([]float32, 2*rate*2), 2)

	_, err := s.Fill(cursor)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	period := wasapi.FramesForDuration(10*time.Millisecond, rate)
	for elapsed := time.Duration(0); elapsed < 5*time.Second; elapsed += 10 * time.Millisecond {
		require.Equal(t, period, client.Tick())
		_, err := s.Fill(cursor)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, cursor.Wraps())
}

func TestRunStopsOnCancel(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	s, _ := newReadySession(t, client, 20*time.Millisecond, 10*time.Millisecond)
	cursor := NewCursor(ramp(100, 2), 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, cursor) }()

	require.Eventually(t, func() bool {
		client.Tick()
		return len(client.Leases()) >= 5
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, StateStopped, s.State())
	assert.False(t, client.Started())
	assert.NotEmpty(t, client.Written())
}

func TestRunCountsStalls(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	s := NewSession(zap.NewNop().Sugar(), client, Options{WaitTimeout: time.Millisecond})
	defer s.Close()

	require.NoError(t, s.Initialize(wasapi.ShareModeShared, 10*time.Millisecond, 10*time.Millisecond, client.Mix))
	require.NoError(t, s.SetEventHandle(wasapitest.NewEvent()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, s.Run(ctx, NewCursor(ramp(10, 2), 2)))
	assert.Positive(t, s.Stalls())
}

func TestRunFailsWithOSError(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	s, _ := newReadySession(t, client, 20*time.Millisecond, 10*time.Millisecond)
	cursor := NewCursor(ramp(100, 2), 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, cursor) }()

	require.Eventually(t, client.Started, 2*time.Second, time.Millisecond)
	client.SetPaddingErr(wasapi.NewError("IAudioClient.GetCurrentPadding", wasapi.AUDCLNT_E_DEVICE_INVALIDATED))
	client.Tick()

	select {
	case err := <-done:
		assert.True(t, wasapi.HasStatus(err, wasapi.AUDCLNT_E_DEVICE_INVALIDATED), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not fail")
	}
}

func TestRunWithoutEvent(t *testing.T) {
	client := newClient(3 * time.Millisecond)
	s := NewSession(zap.NewNop().Sugar(), client, Options{})
	defer s.Close()

	require.NoError(t, s.Initialize(wasapi.ShareModeShared, 10*time.Millisecond, 10*time.Millisecond, client.Mix))
	assert.ErrorIs(t, s.Run(context.Background(), NewCursor(nil, 2)), ErrNoEventHandle)
}
