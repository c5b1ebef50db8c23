package camera

import (
	"fmt"
	"image"
	"image/color"
)

// testPatternCapturer is the stand-in Capturer used when no real
// device binding is linked in: a moving gradient bar, large enough to
// exercise the JPEG encode and clock-overlay paths end to end.
type testPatternCapturer struct {
	index  int
	opened bool
	frame  int
}

// NewTestPatternCapturer returns a Capturer that synthesizes frames
// instead of reading a real device, standing in for the out-of-scope
// capture-library binding (spec §1, §4.C).
func NewTestPatternCapturer() Capturer {
	return &testPatternCapturer{}
}

func (c *testPatternCapturer) Open(index int) error {
	if index < 0 {
		return fmt.Errorf("camera: invalid device index %d", index)
	}
	c.index = index
	c.opened = true
	return nil
}

func (c *testPatternCapturer) Close() error {
	c.opened = false
	return nil
}

func (c *testPatternCapturer) Capture() (image.Image, error) {
	if !c.opened {
		return nil, fmt.Errorf("camera: device %d not open", c.index)
	}
	const w, h = 640, 480
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	offset := c.frame
	c.frame++
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + offset) % 256),
				G: uint8((y + offset) % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img, nil
}
