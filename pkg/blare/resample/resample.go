// Package resample converts interleaved float PCM between sample rates and
// between mono and stereo layouts.
package resample

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// MaxChannels is the widest layout Convert accepts.
const MaxChannels = 2

// ConversionError reports a conversion that cannot be performed.
type ConversionError struct {
	SrcRate     uint32
	SrcChannels int
	DstRate     uint32
	DstChannels int

	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("resample: %dHz/%dch -> %dHz/%dch: %s",
		e.SrcRate, e.SrcChannels, e.DstRate, e.DstChannels, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Convert returns samples resampled from srcRate to dstRate and remapped from
// srcChannels to dstChannels. Mono is duplicated into both stereo channels and
// stereo is averaged into mono. Equal rates and layouts yield an exact copy.
// The input is never modified.
func Convert(srcRate uint32, srcChannels int, dstRate uint32, dstChannels int, samples []float32) ([]float32, error) {
	fail := func(reason string, err error) error {
		return &ConversionError{
			SrcRate:     srcRate,
			SrcChannels: srcChannels,
			DstRate:     dstRate,
			DstChannels: dstChannels,
			Reason:      reason,
			Err:         err,
		}
	}

	if srcRate == 0 || dstRate == 0 {
		return nil, fail("sample rate must be positive", nil)
	}
	if srcChannels < 1 || srcChannels > MaxChannels || dstChannels < 1 || dstChannels > MaxChannels {
		return nil, fail("only mono and stereo are supported", nil)
	}

	frames := len(samples) / srcChannels
	samples = samples[:frames*srcChannels]

	// remap on the narrower side so the filter runs over fewer channels
	if dstChannels < srcChannels {
		samples = remap(samples, srcChannels, dstChannels)
	}
	channels := min(srcChannels, dstChannels)

	out := samples
	if srcRate == dstRate {
		out = append([]float32(nil), samples...)
	} else {
		var err error
		out, err = convertRate(srcRate, dstRate, channels, samples)
		if err != nil {
			return nil, fail("resampler failed", err)
		}
	}

	if dstChannels > srcChannels {
		out = remap(out, srcChannels, dstChannels)
	}
	return out, nil
}

// OutputFrames returns how many frames Convert produces for frames input
// frames.
func OutputFrames(frames int, srcRate, dstRate uint32) int {
	if srcRate == dstRate {
		return frames
	}
	return int((uint64(frames)*uint64(dstRate) + uint64(srcRate)/2) / uint64(srcRate))
}

// convertRate runs each channel through its own resampler. Flush only drains
// the first channel of a multi-channel resampler, so stereo is split into two
// mono streams and joined again afterwards.
func convertRate(srcRate, dstRate uint32, channels int, samples []float32) ([]float32, error) {
	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}

	var planes [][]float64
	if channels == 2 {
		left, right := resampling.DeinterleaveFromStereo(input)
		planes = [][]float64{left, right}
	} else {
		planes = [][]float64{input}
	}

	want := OutputFrames(len(samples)/channels, srcRate, dstRate)
	for i, plane := range planes {
		out, err := convertPlane(srcRate, dstRate, plane)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		planes[i] = fitLength(out, want)
	}

	var joined []float64
	if channels == 2 {
		joined = resampling.InterleaveToStereo(planes[0], planes[1])
	} else {
		joined = planes[0]
	}

	out := make([]float32, len(joined))
	for i, s := range joined {
		out[i] = float32(s)
	}
	return out, nil
}

func convertPlane(srcRate, dstRate uint32, plane []float64) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	out, err := r.Process(plane)
	if err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}
	rest, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	return append(out, rest...), nil
}

// fitLength trims the filter tail, or pads with silence when the filter held
// back more than it flushed.
func fitLength(plane []float64, frames int) []float64 {
	if len(plane) >= frames {
		return plane[:frames]
	}
	return append(plane, make([]float64, frames-len(plane))...)
}

// remap converts between mono and stereo. Other layouts are rejected before
// this is reached.
func remap(samples []float32, from, to int) []float32 {
	frames := len(samples) / from
	out := make([]float32, frames*to)

	switch {
	case from == 1 && to == 2:
		for i, s := range samples {
			out[2*i] = s
			out[2*i+1] = s
		}
	case from == 2 && to == 1:
		for i := range out {
			out[i] = (samples[2*i] + samples[2*i+1]) / 2
		}
	default:
		copy(out, samples)
	}
	return out
}
