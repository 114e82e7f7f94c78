// Package icon draws the blare logo used by the tray and by notifications.
package icon

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"math"
)

// Size is the edge length of the logo in pixels.
const Size = 32

var (
	// PNG is the logo as a PNG image.
	PNG []byte

	// Logo is the logo as a single-entry .ico file with a PNG payload.
	Logo []byte
)

var (
	foreground = color.NRGBA{R: 0xf2, G: 0x6b, B: 0x1d, A: 0xff}
	background = color.NRGBA{}
)

func init() {
	var err error
	if PNG, err = encodePNG(draw(Size)); err != nil {
		panic(err)
	}
	Logo = wrapICO(PNG, Size)
}

// draw renders a dot with two rings around it, like a speaker radiating.
func draw(size int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	center := float64(size-1) / 2

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r := math.Hypot(float64(x)-center, float64(y)-center) / center

			c := background
			switch {
			case r <= 0.35,
				r > 0.55 && r <= 0.7,
				r > 0.85 && r <= 1:
				c = foreground
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type icoDir struct {
	Reserved, Type, Count uint16
}

type icoEntry struct {
	Width, Height, Colors, Reserved uint8
	Planes, BitCount                uint16
	Size, Offset                    uint32
}

func wrapICO(payload []byte, size int) []byte {
	var buf bytes.Buffer
	dir := icoDir{Type: 1, Count: 1}
	entry := icoEntry{
		Width:    uint8(size),
		Height:   uint8(size),
		Planes:   1,
		BitCount: 32,
		Size:     uint32(len(payload)),
		Offset:   uint32(binary.Size(dir) + binary.Size(icoEntry{})),
	}

	// writes to a bytes.Buffer cannot fail
	_ = binary.Write(&buf, binary.LittleEndian, dir)
	_ = binary.Write(&buf, binary.LittleEndian, entry)
	buf.Write(payload)
	return buf.Bytes()
}
