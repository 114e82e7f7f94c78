package render

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/blarehq/blare/pkg/blare/wasapi"
)

// encode writes samples into dst in the device encoding. dst must hold at
// least len(samples) encoded samples.
func encode(enc wasapi.SampleEncoding, dst []byte, samples []float32) error {
	le := binary.LittleEndian

	switch enc {
	case wasapi.EncodingFloat32:
		for i, s := range samples {
			le.PutUint32(dst[i*4:], math.Float32bits(s))
		}
	case wasapi.EncodingPCM16:
		for i, s := range samples {
			le.PutUint16(dst[i*2:], uint16(toPCM16(s)))
		}
	default:
		return fmt.Errorf("%w: %s", wasapi.ErrUnsupportedEncoding, enc)
	}
	return nil
}

func toPCM16(s float32) int16 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return -math.MaxInt16
	}
	return int16(s * math.MaxInt16)
}
