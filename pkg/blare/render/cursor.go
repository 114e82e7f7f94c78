package render

// Cursor is a looping read position over an interleaved sample buffer. It is
// owned by one session and never shared.
type Cursor struct {
	samples  []float32
	channels int
	frames   int

	pos   int
	wraps int
}

// NewCursor returns a cursor at frame 0. Trailing samples that do not fill a
// whole frame are ignored.
func NewCursor(samples []float32, channels int) *Cursor {
	if channels <= 0 {
		panic("render: cursor needs at least one channel")
	}
	return &Cursor{
		samples:  samples,
		channels: channels,
		frames:   len(samples) / channels,
	}
}

// Read fills dst with whole frames, wrapping to the start of the buffer when
// it is exhausted. An empty buffer reads as silence. It returns the number of
// frames read.
func (c *Cursor) Read(dst []float32) int {
	n := len(dst) / c.channels
	if c.frames == 0 {
		clear(dst[:n*c.channels])
		return n
	}

	for done := 0; done < n; {
		chunk := min(n-done, c.frames-c.pos)
		copy(dst[done*c.channels:(done+chunk)*c.channels], c.samples[c.pos*c.channels:])

		done += chunk
		c.pos += chunk
		if c.pos == c.frames {
			c.pos = 0
			c.wraps++
		}
	}
	return n
}

// Channels returns the number of samples per frame.
func (c *Cursor) Channels() int {
	return c.channels
}

// Frames returns the length of the buffer in frames.
func (c *Cursor) Frames() int {
	return c.frames
}

// Position returns the next frame to be read.
func (c *Cursor) Position() int {
	return c.pos
}

// Wraps returns how many times the cursor returned to frame 0.
func (c *Cursor) Wraps() int {
	return c.wraps
}
