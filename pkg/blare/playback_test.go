package blare

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blarehq/blare/pkg/blare/wasapi"
	"github.com/blarehq/blare/pkg/blare/wasapi/wasapitest"
)

func TestNegotiateFormat(t *testing.T) {
	floatMix := wasapi.NewWaveFormat(wasapi.EncodingFloat32, 2, 48000, true)
	surround := wasapi.NewWaveFormat(wasapi.EncodingFloat32, 6, 48000, true)
	floatStereo := wasapi.NewWaveFormat(wasapi.EncodingFloat32, 2, 48000, true)
	pcmStereo := wasapi.NewWaveFormat(wasapi.EncodingPCM16, 2, 48000, true)
	pcmMono := wasapi.NewWaveFormat(wasapi.EncodingPCM16, 1, 44100, false)

	only := func(accepted wasapi.WaveFormat) func(wasapi.ShareMode, wasapi.WaveFormat) (bool, *wasapi.WaveFormat) {
		return func(_ wasapi.ShareMode, f wasapi.WaveFormat) (bool, *wasapi.WaveFormat) {
			return f == accepted, nil
		}
	}

	tests := []struct {
		name     string
		mode     wasapi.ShareMode
		mix      wasapi.WaveFormat
		supports func(wasapi.ShareMode, wasapi.WaveFormat) (bool, *wasapi.WaveFormat)
		want     wasapi.WaveFormat
		wantErr  bool
	}{
		{
			name: "shared takes the mix format",
			mode: wasapi.ShareModeShared,
			mix:  floatMix,
			want: floatMix,
		},
		{
			name: "shared surround falls back to stereo",
			mode: wasapi.ShareModeShared,
			mix:  surround,
			supports: func(_ wasapi.ShareMode, f wasapi.WaveFormat) (bool, *wasapi.WaveFormat) {
				return f == floatStereo, nil
			},
			want: floatStereo,
		},
		{
			name: "shared takes a usable closest match",
			mode: wasapi.ShareModeShared,
			mix:  surround,
			supports: func(_ wasapi.ShareMode, f wasapi.WaveFormat) (bool, *wasapi.WaveFormat) {
				closest := pcmMono
				return false, &closest
			},
			want: pcmMono,
		},
		{
			name:     "exclusive accepts the mix format",
			mode:     wasapi.ShareModeExclusive,
			mix:      pcmMono,
			supports: only(pcmMono),
			want:     pcmMono,
		},
		{
			name:     "exclusive falls back to pcm16 stereo",
			mode:     wasapi.ShareModeExclusive,
			mix:      floatMix,
			supports: only(pcmStereo),
			want:     pcmStereo,
		},
		{
			name: "exclusive rejects everything",
			mode: wasapi.ShareModeExclusive,
			mix:  floatMix,
			supports: func(wasapi.ShareMode, wasapi.WaveFormat) (bool, *wasapi.WaveFormat) {
				return false, nil
			},
			wantErr: true,
		},
		{
			name: "unusable closest match is ignored",
			mode: wasapi.ShareModeShared,
			mix:  surround,
			supports: func(wasapi.ShareMode, wasapi.WaveFormat) (bool, *wasapi.WaveFormat) {
				closest := surround
				return false, &closest
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := wasapitest.NewAudioClient(tt.mix)
			client.Supports = tt.supports

			got, err := negotiateFormat(client, tt.mode, tt.mix)
			if tt.wantErr {
				assert.ErrorIs(t, err, errNoUsableFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUsableFormat(t *testing.T) {
	assert.True(t, usableFormat(wasapi.NewWaveFormat(wasapi.EncodingFloat32, 2, 48000, false)))
	assert.True(t, usableFormat(wasapi.NewWaveFormat(wasapi.EncodingPCM16, 1, 8000, true)))
	assert.False(t, usableFormat(wasapi.NewWaveFormat(wasapi.EncodingFloat32, 8, 48000, true)))

	pcm24 := wasapi.NewWaveFormat(wasapi.EncodingPCM16, 2, 48000, true)
	pcm24.BitsPerSample = 24
	assert.False(t, usableFormat(pcm24))
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, 3*time.Millisecond, orDefault(0, 3*time.Millisecond))
	assert.Equal(t, 20*time.Millisecond, orDefault(20*time.Millisecond, 3*time.Millisecond))
}
