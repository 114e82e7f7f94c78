package wasapi

import (
	"encoding/binary"
	"errors"
	"fmt"

	ole "github.com/go-ole/go-ole"
)

// FormatType is the wFormatTag of a wave format descriptor.
type FormatType uint16

// Recognized format tags.
const (
	FormatPCM        FormatType = 0x0001
	FormatIEEEFloat  FormatType = 0x0003
	FormatExtensible FormatType = 0xFFFE
)

func (t FormatType) String() string {
	switch t {
	case FormatPCM:
		return "pcm"
	case FormatIEEEFloat:
		return "float"
	case FormatExtensible:
		return "extensible"
	}
	return fmt.Sprintf("tag(0x%04x)", uint16(t))
}

// SubFormat is the KSDATAFORMAT sub-type of an extensible descriptor.
type SubFormat int

// Recognized sub-formats.
const (
	SubFormatPCM SubFormat = iota + 1
	SubFormatIEEEFloat
)

func (s SubFormat) String() string {
	switch s {
	case SubFormatPCM:
		return "pcm"
	case SubFormatIEEEFloat:
		return "float"
	}
	return "unknown"
}

// Sub-format identifiers.
var (
	KSDataFormatSubtypePCM       = ole.NewGUID("{00000001-0000-0010-8000-00AA00389B71}")
	KSDataFormatSubtypeIEEEFloat = ole.NewGUID("{00000003-0000-0010-8000-00AA00389B71}")
)

var knownSubFormats = []struct {
	guid *ole.GUID
	kind SubFormat
}{
	{KSDataFormatSubtypePCM, SubFormatPCM},
	{KSDataFormatSubtypeIEEEFloat, SubFormatIEEEFloat},
}

// SampleEncoding is the in-memory encoding of one sample in the render buffer.
type SampleEncoding int

// Supported sample encodings.
const (
	EncodingFloat32 SampleEncoding = iota + 1
	EncodingPCM16
)

func (e SampleEncoding) String() string {
	switch e {
	case EncodingFloat32:
		return "f32"
	case EncodingPCM16:
		return "s16"
	}
	return "unknown"
}

// BitsPerSample returns the container size of one sample.
func (e SampleEncoding) BitsPerSample() uint16 {
	switch e {
	case EncodingFloat32:
		return 32
	case EncodingPCM16:
		return 16
	}
	return 0
}

// Speaker masks used when building extensible descriptors.
const (
	speakerFrontLeft   uint32 = 0x1
	speakerFrontRight  uint32 = 0x2
	speakerFrontCenter uint32 = 0x4
)

const (
	waveFormatExSize         = 18
	waveFormatExtensibleSize = 40
	extensibleExtraSize      = waveFormatExtensibleSize - waveFormatExSize
)

// UnrecognizedFormatTagError carries a wFormatTag outside the known set.
type UnrecognizedFormatTagError struct {
	Tag uint16
}

func (e *UnrecognizedFormatTagError) Error() string {
	return fmt.Sprintf("wasapi: unrecognized wave format tag 0x%04x", e.Tag)
}

// UnrecognizedSubFormatError carries a sub-format GUID outside the known set.
type UnrecognizedSubFormatError struct {
	GUID ole.GUID
}

func (e *UnrecognizedSubFormatError) Error() string {
	return fmt.Sprintf("wasapi: unrecognized sub-format %s", e.GUID.String())
}

// ErrUnsupportedEncoding is returned for descriptors blare cannot render to.
var ErrUnsupportedEncoding = errors.New("wasapi: unsupported sample encoding")

// WaveFormat is a decoded WAVEFORMATEX, plus the WAVEFORMATEXTENSIBLE fields
// when Tag is FormatExtensible.
type WaveFormat struct {
	Tag            uint16
	Channels       uint16
	SampleRate     uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16

	ValidBitsPerSample uint16
	ChannelMask        uint32
	SubFormatGUID      ole.GUID
}

// NewWaveFormat builds a consistent descriptor for the given encoding.
func NewWaveFormat(enc SampleEncoding, channels uint16, rate uint32, extensible bool) WaveFormat {
	bits := enc.BitsPerSample()
	blockAlign := channels * bits / 8

	f := WaveFormat{
		Channels:       channels,
		SampleRate:     rate,
		AvgBytesPerSec: rate * uint32(blockAlign),
		BlockAlign:     blockAlign,
		BitsPerSample:  bits,
	}

	if !extensible {
		if enc == EncodingFloat32 {
			f.Tag = uint16(FormatIEEEFloat)
		} else {
			f.Tag = uint16(FormatPCM)
		}
		return f
	}

	f.Tag = uint16(FormatExtensible)
	f.ValidBitsPerSample = bits
	f.ChannelMask = speakerFrontLeft | speakerFrontRight
	if channels == 1 {
		f.ChannelMask = speakerFrontCenter
	}
	if enc == EncodingFloat32 {
		f.SubFormatGUID = *KSDataFormatSubtypeIEEEFloat
	} else {
		f.SubFormatGUID = *KSDataFormatSubtypePCM
	}
	return f
}

// ParseWaveFormat decodes a little-endian WAVEFORMATEX or WAVEFORMATEXTENSIBLE.
// A bare 16-byte PCMWAVEFORMAT is accepted as well.
func ParseWaveFormat(b []byte) (WaveFormat, error) {
	if len(b) < 16 {
		return WaveFormat{}, fmt.Errorf("wasapi: wave format too short (%d bytes)", len(b))
	}

	le := binary.LittleEndian
	f := WaveFormat{
		Tag:            le.Uint16(b[0:]),
		Channels:       le.Uint16(b[2:]),
		SampleRate:     le.Uint32(b[4:]),
		AvgBytesPerSec: le.Uint32(b[8:]),
		BlockAlign:     le.Uint16(b[12:]),
		BitsPerSample:  le.Uint16(b[14:]),
	}

	if FormatType(f.Tag) != FormatExtensible {
		return f, nil
	}

	if len(b) < waveFormatExSize {
		return WaveFormat{}, errors.New("wasapi: extensible wave format without cbSize")
	}
	if cb := le.Uint16(b[16:]); cb < extensibleExtraSize || len(b) < waveFormatExtensibleSize {
		return WaveFormat{}, fmt.Errorf("wasapi: extensible wave format truncated (cbSize %d, %d bytes)", cb, len(b))
	}

	f.ValidBitsPerSample = le.Uint16(b[18:])
	f.ChannelMask = le.Uint32(b[20:])
	f.SubFormatGUID = ole.GUID{
		Data1: le.Uint32(b[24:]),
		Data2: le.Uint16(b[28:]),
		Data3: le.Uint16(b[30:]),
	}
	copy(f.SubFormatGUID.Data4[:], b[32:40])
	return f, nil
}

// MarshalBinary encodes the descriptor in the layout expected by the OS.
func (f WaveFormat) MarshalBinary() ([]byte, error) {
	size := waveFormatExSize
	if f.IsExtensible() {
		size = waveFormatExtensibleSize
	}

	le := binary.LittleEndian
	b := make([]byte, size)
	le.PutUint16(b[0:], f.Tag)
	le.PutUint16(b[2:], f.Channels)
	le.PutUint32(b[4:], f.SampleRate)
	le.PutUint32(b[8:], f.AvgBytesPerSec)
	le.PutUint16(b[12:], f.BlockAlign)
	le.PutUint16(b[14:], f.BitsPerSample)

	if !f.IsExtensible() {
		return b, nil
	}

	le.PutUint16(b[16:], extensibleExtraSize)
	le.PutUint16(b[18:], f.ValidBitsPerSample)
	le.PutUint32(b[20:], f.ChannelMask)
	le.PutUint32(b[24:], f.SubFormatGUID.Data1)
	le.PutUint16(b[28:], f.SubFormatGUID.Data2)
	le.PutUint16(b[30:], f.SubFormatGUID.Data3)
	copy(b[32:40], f.SubFormatGUID.Data4[:])
	return b, nil
}

// FormatType classifies the format tag.
func (f WaveFormat) FormatType() (FormatType, error) {
	switch t := FormatType(f.Tag); t {
	case FormatPCM, FormatIEEEFloat, FormatExtensible:
		return t, nil
	}
	return 0, &UnrecognizedFormatTagError{Tag: f.Tag}
}

// IsExtensible reports whether the descriptor carries the extensible fields.
func (f WaveFormat) IsExtensible() bool {
	return FormatType(f.Tag) == FormatExtensible
}

// SubFormat classifies the sub-format GUID. ok is false when the descriptor
// is not extensible.
func (f WaveFormat) SubFormat() (sub SubFormat, ok bool, err error) {
	if !f.IsExtensible() {
		return 0, false, nil
	}

	for _, known := range knownSubFormats {
		if ole.IsEqualGUID(known.guid, &f.SubFormatGUID) {
			return known.kind, true, nil
		}
	}
	return 0, true, &UnrecognizedSubFormatError{GUID: f.SubFormatGUID}
}

// Encoding derives the render-buffer sample encoding.
func (f WaveFormat) Encoding() (SampleEncoding, error) {
	t, err := f.FormatType()
	if err != nil {
		return 0, err
	}

	float := t == FormatIEEEFloat
	if t == FormatExtensible {
		sub, _, err := f.SubFormat()
		if err != nil {
			return 0, err
		}
		float = sub == SubFormatIEEEFloat
	}

	switch {
	case float && f.BitsPerSample == 32:
		return EncodingFloat32, nil
	case !float && f.BitsPerSample == 16:
		return EncodingPCM16, nil
	}
	return 0, fmt.Errorf("%w: %s with %d bits per sample", ErrUnsupportedEncoding, f.describeType(), f.BitsPerSample)
}

// FrameSize returns the byte size of one frame.
func (f WaveFormat) FrameSize() int {
	if f.BlockAlign != 0 {
		return int(f.BlockAlign)
	}
	return int(f.Channels) * int(f.BitsPerSample) / 8
}

func (f WaveFormat) describeType() string {
	if !f.IsExtensible() {
		return FormatType(f.Tag).String()
	}
	sub, _, err := f.SubFormat()
	if err != nil {
		return "extensible/" + f.SubFormatGUID.String()
	}
	return "extensible/" + sub.String()
}

func (f WaveFormat) String() string {
	return fmt.Sprintf("<%s %dch %dHz %dbit>", f.describeType(), f.Channels, f.SampleRate, f.BitsPerSample)
}
