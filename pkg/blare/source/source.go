// Package source decodes an audio file once into an immutable interleaved
// stereo float buffer that every render session reads from.
package source

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// Channels is the layout of every decoded buffer.
const Channels = 2

// maxPreallocFrames caps the capacity taken from an untrusted stream header.
const maxPreallocFrames = 1 << 24

var (
	// ErrUnknownFormat is returned for files that are neither mp3 nor flac.
	ErrUnknownFormat = errors.New("source: unknown audio format")

	// ErrNoAudio is returned when a stream decodes to zero frames.
	ErrNoAudio = errors.New("source: stream contains no audio")

	// ErrUnsupportedLayout is returned for streams with more than two channels
	// or an unusable bit depth.
	ErrUnsupportedLayout = errors.New("source: unsupported sample layout")
)

// Spec describes a decoded buffer.
type Spec struct {
	SampleRate uint32
	Channels   int
}

func (s Spec) String() string {
	return fmt.Sprintf("%dHz/%dch", s.SampleRate, s.Channels)
}

// Buffer is decoded audio. It must not be modified once returned.
type Buffer struct {
	Spec    Spec
	Samples []float32
}

// Frames returns the length of the buffer in frames.
func (b *Buffer) Frames() int {
	return len(b.Samples) / b.Spec.Channels
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.Spec.SampleRate)
}

// Load opens and decodes the file at path.
func Load(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	return Decode(f, filepath.Base(path))
}

// Decode reads r to the end and decodes it according to the extension of
// name.
func Decode(r io.Reader, name string) (*Buffer, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp3":
		return DecodeMP3(r)
	case ".flac":
		return DecodeFLAC(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// DecodeMP3 decodes an mp3 stream. The decoder always yields 16-bit stereo.
func DecodeMP3(r io.Reader) (*Buffer, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("create mp3 decoder: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	samples := pcm16ToFloat(raw)
	if len(samples) < Channels {
		return nil, ErrNoAudio
	}

	return &Buffer{
		Spec:    Spec{SampleRate: uint32(dec.SampleRate()), Channels: Channels},
		Samples: samples[:len(samples)/Channels*Channels],
	}, nil
}

// DecodeFLAC decodes a flac stream. Mono is duplicated into both channels.
func DecodeFLAC(r io.Reader) (*Buffer, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("create flac decoder: %w", err)
	}

	info := stream.Info
	channels := int(info.NChannels)
	if channels < 1 || channels > Channels {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedLayout, channels)
	}
	if info.BitsPerSample < 4 || info.BitsPerSample > 32 {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedLayout, info.BitsPerSample)
	}
	scale := float32(math.Ldexp(1, int(info.BitsPerSample)-1))

	samples := make([]float32, 0, min(info.NSamples, maxPreallocFrames)*Channels)
	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode flac frame: %w", err)
		}

		if len(frame.Subframes) != channels {
			return nil, fmt.Errorf("%w: frame with %d channels in %d-channel stream",
				ErrUnsupportedLayout, len(frame.Subframes), channels)
		}

		for i := 0; i < int(frame.BlockSize); i++ {
			left := float32(frame.Subframes[0].Samples[i]) / scale
			right := left
			if channels == 2 {
				right = float32(frame.Subframes[1].Samples[i]) / scale
			}
			samples = append(samples, left, right)
		}
	}

	if len(samples) == 0 {
		return nil, ErrNoAudio
	}

	return &Buffer{
		Spec:    Spec{SampleRate: info.SampleRate, Channels: Channels},
		Samples: samples,
	}, nil
}

// Tone synthesizes a stereo sine at half amplitude, used when no source file
// is configured.
func Tone(rate uint32, duration time.Duration, freq float64) *Buffer {
	frames := int(time.Duration(rate) * duration / time.Second)
	samples := make([]float32, frames*Channels)

	step := 2 * math.Pi * freq / float64(rate)
	for i := 0; i < frames; i++ {
		v := float32(0.5 * math.Sin(step*float64(i)))
		samples[i*Channels] = v
		samples[i*Channels+1] = v
	}

	return &Buffer{
		Spec:    Spec{SampleRate: rate, Channels: Channels},
		Samples: samples,
	}
}

func pcm16ToFloat(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		s := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		out[i] = float32(s) / 32768
	}
	return out
}
