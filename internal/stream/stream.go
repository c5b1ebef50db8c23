// Package stream defines the frame source contract shared by every
// frame producer (camera, raw byte reframer, TCP feed) and the
// reframing logic common to byte-oriented sources.
package stream

import "context"

// Buffer is an opaque, reusable frame container. Each Source defines
// its own Buffer shape; nothing outside the Source that created it
// mutates it directly. View returns the bytes of the most recently
// captured complete JPEG.
type Buffer interface {
	View() []byte
}

// Source produces one JPEG frame at a time into a Buffer of its own
// design. Read blocks until the next complete frame is available (or
// a transient failure occurs) and reports how many bytes of buf's
// view are now valid.
//
// A length of 0 with a nil error signals a transient failure (a
// capture glitch, an empty read): the caller should treat the tick as
// empty rather than abort. A non-nil error means the source is
// permanently lost and the caller must stop calling Read.
type Source interface {
	NewBuffer() Buffer
	Read(ctx context.Context, buf Buffer) (int, error)
}
