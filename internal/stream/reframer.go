package stream

import (
	"bytes"
	"context"
	"io"
)

const (
	// readChunk is how much the reframer pulls from the underlying
	// reader per attempt.
	readChunk = 1024
	// maxAccumulator bounds the reframer's internal buffer so a
	// malformed stream that never produces an EOI cannot grow it
	// without limit.
	maxAccumulator = 4 << 20 // 4 MiB
	// maxEmptyReads bounds how many consecutive zero-byte reads the
	// reframer tolerates before treating the stream as exhausted.
	maxEmptyReads = 8
)

var soi = []byte{0xFF, 0xD8}
var eoi = []byte{0xFF, 0xD9}

// ReframerBuffer accumulates bytes from the underlying reader and
// tracks the [start, end] span of the most recently completed frame.
type ReframerBuffer struct {
	acc   []byte
	start int
	end   int
}

// View returns the bytes of the last complete frame found by Read.
func (b *ReframerBuffer) View() []byte {
	if b.end == 0 && b.start == 0 && len(b.acc) == 0 {
		return nil
	}
	return b.acc[b.start : b.end+1]
}

// shrink discards everything up to and including the previous frame's
// EOI, keeping any carry-over bytes toward the next one.
func (b *ReframerBuffer) shrink() {
	if b.end == 0 {
		return
	}
	b.acc = append(b.acc[:0], b.acc[b.end+1:]...)
	b.start, b.end = 0, 0
}

// Reframer wraps any blocking byte reader (stdin, a TCP socket) and
// turns it into a Source that yields one complete JPEG per Read,
// delimited by the first SOI/EOI pair found in the stream.
type Reframer struct {
	r          io.Reader
	emptyReads int
}

// NewReframer wraps r. r is read from synchronously inside Read.
func NewReframer(r io.Reader) *Reframer {
	return &Reframer{r: r}
}

// NewBuffer implements Source.
func (rf *Reframer) NewBuffer() Buffer {
	return &ReframerBuffer{}
}

// Read implements Source. It blocks, reading up to readChunk bytes at
// a time, until a complete SOI..EOI frame is found in the
// accumulator, then reports its length.
func (rf *Reframer) Read(ctx context.Context, buffer Buffer) (int, error) {
	buf := buffer.(*ReframerBuffer)
	buf.shrink()

	chunk := make([]byte, readChunk)
	for {
		// The carry-over may already hold a complete frame, so scan
		// before reading more.
		start, end, ok := findFrame(buf.acc)
		if ok {
			buf.start, buf.end = start, end
			return end - start + 1, nil
		}

		if len(buf.acc) > maxAccumulator {
			// Malformed or unbounded input: keep only the bytes from
			// the last SOI seen so far (everything, when the only SOI
			// is at the very start or there is none) and keep waiting.
			if last := bytes.LastIndex(buf.acc, soi); last > 0 {
				buf.acc = append(buf.acc[:0], buf.acc[last:]...)
			} else {
				buf.acc = buf.acc[:0]
			}
		}

		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		n, err := rf.r.Read(chunk)
		if n > 0 {
			rf.emptyReads = 0
			buf.acc = append(buf.acc, chunk[:n]...)
		} else {
			rf.emptyReads++
		}
		if err != nil {
			if err == io.EOF {
				return 0, io.EOF
			}
			return 0, err
		}
		if n == 0 && rf.emptyReads >= maxEmptyReads {
			return 0, io.ErrUnexpectedEOF
		}
	}
}

// findFrame locates the first complete SOI..EOI span in data. It
// never restarts the scan from a point past a found SOI that has no
// subsequent EOI yet — the caller is expected to read more bytes and
// retry.
func findFrame(data []byte) (start, end int, ok bool) {
	if len(data) < 2 {
		return 0, 0, false
	}
	start = bytes.Index(data, soi)
	if start < 0 {
		return 0, 0, false
	}
	tail := start + 2
	if tail >= len(data) {
		return 0, 0, false
	}
	rel := bytes.Index(data[tail:], eoi)
	if rel < 0 {
		return 0, 0, false
	}
	end = tail + rel + 1
	return start, end, true
}
