// Package camera adapts a device-capture library to the stream.Source
// contract, JPEG-encoding each captured frame and optionally
// overlaying a clock.
//
// The capture library binding itself is out of this package's scope
// (spec treats "camera-library bindings" as an external collaborator
// reached only through the Capturer interface below); Capturer is
// implemented here by a synthetic pattern generator suitable for
// development and tests, standing in for a real device binding.
package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/warpcomdev/mjpegd/internal/stream"
)

// Capturer grabs one raw frame at a time from a device. Open/Close
// bracket the device's lifetime; Capture blocks until a frame is
// available.
type Capturer interface {
	Open(index int) error
	Close() error
	Capture() (image.Image, error)
}

// jpegQuality is the quality used when encoding captured frames.
const jpegQuality = 90

// Buffer holds the JPEG bytes produced by the most recent capture.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// View implements stream.Buffer.
func (b *Buffer) View() []byte {
	return b.buf.Bytes()
}

// Adapter wraps a Capturer as a stream.Source: each Read grabs one
// frame, draws a clock overlay over it when overlay is enabled, and
// JPEG-encodes the result.
type Adapter struct {
	capturer Capturer
	index    int
	overlay  bool
}

// New opens the camera at index via capturer. overlay controls
// whether a clock is burned into each frame (spec §4.C).
func New(capturer Capturer, index int, overlay bool) (*Adapter, error) {
	if err := capturer.Open(index); err != nil {
		return nil, fmt.Errorf("camera: failed to open device %d: %w", index, err)
	}
	return &Adapter{capturer: capturer, index: index, overlay: overlay}, nil
}

// Close releases the underlying device.
func (a *Adapter) Close() error {
	return a.capturer.Close()
}

// NewBuffer implements stream.Source.
func (a *Adapter) NewBuffer() stream.Buffer {
	return &Buffer{}
}

// Read implements stream.Source. Capture and JPEG encode failures are
// swallowed (spec §4.C/§7: a single bad frame must not kill the
// stream): both yield a 0-length, nil-error read, the
// transient-failure signal.
func (a *Adapter) Read(ctx context.Context, buffer stream.Buffer) (int, error) {
	buf := buffer.(*Buffer)
	buf.mu.Lock()
	defer buf.mu.Unlock()

	img, err := a.capturer.Capture()
	if err != nil {
		return 0, nil
	}

	buf.buf.Reset()

	if a.overlay {
		img = overlayClock(img, time.Now())
	}

	if err := jpeg.Encode(&buf.buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		buf.buf.Reset()
		return 0, nil
	}
	return buf.buf.Len(), nil
}

// overlayClock draws "HH:MM SS" at (50, 50) in green over a mutable
// copy of src. Drawing with basicfont cannot fail, so there is no
// error path.
func overlayClock(src image.Image, now time.Time) image.Image {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)

	label := fmt.Sprintf("%02d:%02d %02d", now.Hour(), now.Minute(), now.Second())
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.RGBA{R: 0, G: 255, B: 0, A: 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(50, 50),
	}
	drawer.DrawString(label)
	return dst
}
